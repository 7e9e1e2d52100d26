package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"genui-canvas/core"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type boardStore struct {
	db *sql.DB
}

// NewStore opens (or creates) a SQLite database and makes sure the boards
// table exists.
func NewStore(dataSourceName string) (core.BoardStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	boardTableStmt := `
	CREATE TABLE IF NOT EXISTS boards (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		name TEXT,
		data BLOB,
		created_at DATETIME,
		updated_at DATETIME,
		PRIMARY KEY (user_id, id)
	);`
	if _, err = db.Exec(boardTableStmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create boards table: %w", err)
	}

	return &boardStore{db}, nil
}

func (s *boardStore) List(ctx context.Context, userID string) ([]*core.Board, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, created_at, updated_at FROM boards WHERE user_id = ? ORDER BY updated_at DESC", userID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to list boards")
		return nil, err
	}
	defer rows.Close()

	boards := []*core.Board{}
	for rows.Next() {
		board := core.Board{UserID: userID}
		var name sql.NullString
		if err := rows.Scan(&board.ID, &name, &board.CreatedAt, &board.UpdatedAt); err != nil {
			return nil, err
		}
		board.Name = name.String
		boards = append(boards, &board)
	}
	return boards, rows.Err()
}

func (s *boardStore) Get(ctx context.Context, userID, id string) (*core.Board, error) {
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "board_id": id})

	board := core.Board{UserID: userID, ID: id}
	var name sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT name, data, created_at, updated_at FROM boards WHERE user_id = ? AND id = ?", userID, id).
		Scan(&name, &board.Data, &board.CreatedAt, &board.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn("Board not found for user")
			return nil, fmt.Errorf("board %s for user %s: %w", id, userID, core.ErrBoardNotFound)
		}
		log.WithError(err).Error("Failed to retrieve board")
		return nil, err
	}
	board.Name = name.String
	log.Debug("Board retrieved successfully")
	return &board, nil
}

func (s *boardStore) Save(ctx context.Context, board *core.Board) error {
	if board.UserID == "" {
		return fmt.Errorf("UserID cannot be empty")
	}
	if board.ID == "" {
		return fmt.Errorf("board ID cannot be empty for save operation")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // Rollback on any error

	var createdAt time.Time
	err = tx.QueryRowContext(ctx,
		"SELECT created_at FROM boards WHERE user_id = ? AND id = ?", board.UserID, board.ID).Scan(&createdAt)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	now := time.Now().UTC()
	if exists {
		_, err = tx.ExecContext(ctx,
			"UPDATE boards SET name = ?, data = ?, updated_at = ? WHERE user_id = ? AND id = ?",
			board.Name, board.Data, now, board.UserID, board.ID)
		board.CreatedAt = createdAt
	} else {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO boards (id, user_id, name, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			board.ID, board.UserID, board.Name, board.Data, now, now)
		board.CreatedAt = now
	}
	if err != nil {
		return err
	}
	board.UpdatedAt = now

	if err := tx.Commit(); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"user_id":     board.UserID,
		"board_id":    board.ID,
		"data_length": len(board.Data),
	}).Info("Board saved successfully")
	return nil
}

func (s *boardStore) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM boards WHERE user_id = ? AND id = ?", userID, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("board %s for user %s: %w", id, userID, core.ErrBoardNotFound)
	}
	logrus.WithFields(logrus.Fields{"user_id": userID, "board_id": id}).Info("Board deleted successfully")
	return nil
}

// Close releases the database handle.
func (s *boardStore) Close() error {
	return s.db.Close()
}
