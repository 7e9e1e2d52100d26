package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"time"

	"genui-canvas/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// objectAPI is the part of the S3 client the store uses.
type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type s3Store struct {
	client objectAPI
	bucket string
}

// boardObject is the stored form of a board. The owner is the key prefix.
type boardObject struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewStore creates a new S3-based store using the default AWS credential
// chain.
func NewStore(ctx context.Context, bucketName string) (core.BoardStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return newStore(s3.NewFromConfig(cfg), bucketName), nil
}

func newStore(client objectAPI, bucket string) *s3Store {
	return &s3Store{client: client, bucket: bucket}
}

func (s *s3Store) boardKey(userID, boardID string) (string, error) {
	// Board ids are simple names, never paths.
	if boardID == "" || boardID == "." || boardID == ".." || path.Base(boardID) != boardID {
		return "", fmt.Errorf("invalid board id %q: must not be a path", boardID)
	}
	if userID == "" || path.Base(userID) != userID {
		return "", fmt.Errorf("invalid user id %q", userID)
	}
	return path.Join(userID, boardID+".json"), nil
}

func (s *s3Store) List(ctx context.Context, userID string) ([]*core.Board, error) {
	log := logrus.WithField("user_id", userID)
	prefix := userID + "/"

	boards := []*core.Board{}
	var token *string
	for {
		output, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list boards for user %s: %w", userID, err)
		}

		for _, object := range output.Contents {
			obj, err := s.read(ctx, aws.ToString(object.Key))
			if err != nil {
				log.WithError(err).Warnf("Failed to read board object %s, skipping", aws.ToString(object.Key))
				continue
			}
			boards = append(boards, &core.Board{
				ID:        obj.ID,
				UserID:    userID,
				Name:      obj.Name,
				CreatedAt: obj.CreatedAt,
				UpdatedAt: obj.UpdatedAt,
			})
		}

		if !aws.ToBool(output.IsTruncated) {
			break
		}
		token = output.NextContinuationToken
	}

	sort.Slice(boards, func(i, j int) bool {
		return boards[i].UpdatedAt.After(boards[j].UpdatedAt)
	})
	log.Infof("Listed %d boards", len(boards))
	return boards, nil
}

func (s *s3Store) Get(ctx context.Context, userID, id string) (*core.Board, error) {
	key, err := s.boardKey(userID, id)
	if err != nil {
		return nil, err
	}
	obj, err := s.read(ctx, key)
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("board %s for user %s: %w", id, userID, core.ErrBoardNotFound)
		}
		return nil, fmt.Errorf("failed to get board %s: %w", id, err)
	}
	return &core.Board{
		ID:        obj.ID,
		UserID:    userID,
		Name:      obj.Name,
		Data:      obj.Data,
		CreatedAt: obj.CreatedAt,
		UpdatedAt: obj.UpdatedAt,
	}, nil
}

func (s *s3Store) Save(ctx context.Context, board *core.Board) error {
	key, err := s.boardKey(board.UserID, board.ID)
	if err != nil {
		return err
	}

	now := time.Now()
	board.CreatedAt = now
	if existing, err := s.read(ctx, key); err == nil {
		board.CreatedAt = existing.CreatedAt
	}
	board.UpdatedAt = now

	data, err := json.Marshal(boardObject{
		ID:        board.ID,
		Name:      board.Name,
		Data:      board.Data,
		CreatedAt: board.CreatedAt,
		UpdatedAt: board.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal board: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to save board %s: %w", board.ID, err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id":     board.UserID,
		"board_id":    board.ID,
		"data_length": len(board.Data),
	}).Info("Board saved successfully")
	return nil
}

func (s *s3Store) Delete(ctx context.Context, userID, id string) error {
	key, err := s.boardKey(userID, id)
	if err != nil {
		return err
	}
	// S3 deletes are idempotent, so existence is checked first.
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete board %s: %w", id, err)
	}
	return nil
}

func (s *s3Store) read(ctx context.Context, key string) (*boardObject, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read board data: %w", err)
	}
	var obj boardObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to unmarshal board data: %w", err)
	}
	return &obj, nil
}
