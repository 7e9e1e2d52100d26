package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"genui-canvas/core"

	"github.com/sirupsen/logrus"
)

type fsStore struct {
	basePath string
}

// boardFile is the on-disk form of a board. The owner is implied by the
// directory it lives in.
type boardFile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewStore creates a new filesystem-based store rooted at basePath.
func NewStore(basePath string) (core.BoardStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &fsStore{basePath: basePath}, nil
}

// boardPath resolves the file for a board and refuses anything that would
// escape the user's directory.
func (s *fsStore) boardPath(userID, id string) (string, error) {
	if userID == "" || filepath.Base(userID) != userID || userID == "." || userID == ".." {
		return "", fmt.Errorf("invalid user id %q", userID)
	}
	if id == "" || filepath.Base(id) != id || id == "." || id == ".." {
		return "", fmt.Errorf("invalid board id %q: must not be a path", id)
	}
	return filepath.Join(s.basePath, userID, id+".json"), nil
}

func (s *fsStore) List(ctx context.Context, userID string) ([]*core.Board, error) {
	userPath := filepath.Join(s.basePath, filepath.Base(userID))
	log := logrus.WithField("user_id", userID).WithField("path", userPath)

	files, err := os.ReadDir(userPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Info("User directory does not exist, returning empty list.")
			return []*core.Board{}, nil
		}
		log.WithError(err).Error("Failed to read user directory")
		return nil, err
	}

	boards := make([]*core.Board, 0, len(files))
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		rec, err := readBoardFile(filepath.Join(userPath, file.Name()))
		if err != nil {
			log.WithError(err).Warnf("Failed to read board file %s, skipping", file.Name())
			continue
		}
		boards = append(boards, &core.Board{
			ID:        rec.ID,
			UserID:    userID,
			Name:      rec.Name,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	sort.Slice(boards, func(i, j int) bool {
		return boards[i].UpdatedAt.After(boards[j].UpdatedAt)
	})

	log.Infof("Listed %d boards", len(boards))
	return boards, nil
}

func (s *fsStore) Get(ctx context.Context, userID, id string) (*core.Board, error) {
	filePath, err := s.boardPath(userID, id)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "board_id": id, "path": filePath})

	rec, err := readBoardFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn("Board file not found")
			return nil, fmt.Errorf("board %s for user %s: %w", id, userID, core.ErrBoardNotFound)
		}
		log.WithError(err).Error("Failed to read board file")
		return nil, err
	}

	log.Debug("Board retrieved successfully")
	return &core.Board{
		ID:        rec.ID,
		UserID:    userID,
		Name:      rec.Name,
		Data:      rec.Data,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

func (s *fsStore) Save(ctx context.Context, board *core.Board) error {
	filePath, err := s.boardPath(board.UserID, board.ID)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"user_id": board.UserID, "board_id": board.ID, "path": filePath})

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		log.WithError(err).Error("Failed to create user directory")
		return err
	}

	now := time.Now()
	board.CreatedAt = now
	if existing, err := readBoardFile(filePath); err == nil {
		board.CreatedAt = existing.CreatedAt
	}
	board.UpdatedAt = now

	data, err := json.Marshal(boardFile{
		ID:        board.ID,
		Name:      board.Name,
		Data:      board.Data,
		CreatedAt: board.CreatedAt,
		UpdatedAt: board.UpdatedAt,
	})
	if err != nil {
		log.WithError(err).Error("Failed to marshal board for saving")
		return err
	}

	// Write then rename so a crash never leaves a half-written board.
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.WithError(err).Error("Failed to write board file")
		return err
	}
	if err := os.Rename(tmp, filePath); err != nil {
		log.WithError(err).Error("Failed to replace board file")
		return err
	}

	log.WithField("data_length", len(board.Data)).Info("Board saved successfully")
	return nil
}

func (s *fsStore) Delete(ctx context.Context, userID, id string) error {
	filePath, err := s.boardPath(userID, id)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "board_id": id, "path": filePath})

	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn("Board file not found for deletion")
			return fmt.Errorf("board %s for user %s: %w", id, userID, core.ErrBoardNotFound)
		}
		log.WithError(err).Error("Failed to delete board file")
		return err
	}

	log.Info("Board deleted successfully")
	return nil
}

func readBoardFile(path string) (*boardFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec boardFile
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}
