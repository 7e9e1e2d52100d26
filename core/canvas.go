package core

import (
	"context"
	"errors"
	"time"
)

// ErrBoardNotFound is returned by board stores for unknown ids.
var ErrBoardNotFound = errors.New("board not found")

type (
	// Board is a user-owned, persisted canvas.
	Board struct {
		ID        string    `json:"id"`
		UserID    string    `json:"-"` // Not exposed in JSON responses, used internally.
		Name      string    `json:"name"`
		Data      []byte    `json:"data,omitempty"` // Encoded BoardSnapshot, not included in list views.
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// BoardSnapshot is the persisted form of a live host canvas.
	BoardSnapshot struct {
		Entities []Entity  `json:"entities"`
		Bindings []Binding `json:"bindings"`
		Camera   Camera    `json:"camera"`
	}

	// BoardStore defines the persistence layer for user-owned boards.
	// All operations are scoped to a specific user.
	BoardStore interface {
		// List returns metadata for all boards owned by a user, without Data.
		List(ctx context.Context, userID string) ([]*Board, error)

		// Get returns a single board by its ID, ensuring it belongs to the user.
		Get(ctx context.Context, userID, id string) (*Board, error)

		// Save creates or updates a board for a user.
		Save(ctx context.Context, board *Board) error

		// Delete removes a board, ensuring it belongs to the user.
		Delete(ctx context.Context, userID, id string) error
	}
)
