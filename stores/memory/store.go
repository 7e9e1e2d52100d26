package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"genui-canvas/core"

	"github.com/sirupsen/logrus"
)

// boardStore implements core.BoardStore in memory. Boards are keyed by user,
// then by board id.
type boardStore struct {
	mu     sync.RWMutex
	boards map[string]map[string]*core.Board
}

// NewStore creates a new in-memory board store.
func NewStore() core.BoardStore {
	return &boardStore{
		boards: make(map[string]map[string]*core.Board),
	}
}

// List returns metadata for all boards owned by a user, newest first.
func (s *boardStore) List(ctx context.Context, userID string) ([]*core.Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userBoards, ok := s.boards[userID]
	if !ok {
		return []*core.Board{}, nil
	}

	boards := make([]*core.Board, 0, len(userBoards))
	for _, board := range userBoards {
		// List views never carry the snapshot.
		boards = append(boards, &core.Board{
			ID:        board.ID,
			UserID:    board.UserID,
			Name:      board.Name,
			CreatedAt: board.CreatedAt,
			UpdatedAt: board.UpdatedAt,
		})
	}
	sort.Slice(boards, func(i, j int) bool {
		return boards[i].UpdatedAt.After(boards[j].UpdatedAt)
	})

	logrus.WithField("user_id", userID).Infof("Listed %d boards", len(boards))
	return boards, nil
}

func (s *boardStore) Get(ctx context.Context, userID, id string) (*core.Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := logrus.WithFields(logrus.Fields{"user_id": userID, "board_id": id})

	board, ok := s.boards[userID][id]
	if !ok {
		log.Warn("Board not found for user")
		return nil, fmt.Errorf("board %s for user %s: %w", id, userID, core.ErrBoardNotFound)
	}

	cp := *board
	cp.Data = append([]byte(nil), board.Data...)
	log.Debug("Board retrieved successfully")
	return &cp, nil
}

func (s *boardStore) Save(ctx context.Context, board *core.Board) error {
	if board.UserID == "" {
		return fmt.Errorf("UserID cannot be empty")
	}
	if board.ID == "" {
		return fmt.Errorf("board ID cannot be empty for save operation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userBoards, ok := s.boards[board.UserID]
	if !ok {
		userBoards = make(map[string]*core.Board)
		s.boards[board.UserID] = userBoards
	}

	now := time.Now()
	if existing, exists := userBoards[board.ID]; exists {
		board.CreatedAt = existing.CreatedAt
	} else {
		board.CreatedAt = now
	}
	board.UpdatedAt = now

	stored := *board
	stored.Data = append([]byte(nil), board.Data...)
	userBoards[board.ID] = &stored

	logrus.WithFields(logrus.Fields{
		"user_id":     board.UserID,
		"board_id":    board.ID,
		"data_length": len(board.Data),
	}).Info("Board saved successfully")
	return nil
}

func (s *boardStore) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{"user_id": userID, "board_id": id})

	if _, ok := s.boards[userID][id]; !ok {
		log.Warn("Board not found for deletion")
		return fmt.Errorf("board %s for user %s: %w", id, userID, core.ErrBoardNotFound)
	}

	delete(s.boards[userID], id)
	log.Info("Board deleted successfully")
	return nil
}
