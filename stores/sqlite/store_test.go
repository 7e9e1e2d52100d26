package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"genui-canvas/core"
)

func setupTestDB(t *testing.T) *boardStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	bs := store.(*boardStore)
	t.Cleanup(func() { bs.Close() })
	return bs
}

func TestNewStore_CreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "boards.db")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	defer store.(*boardStore).Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("NewStore() did not create database file")
	}

	var tableName string
	err = store.(*boardStore).db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='boards'").Scan(&tableName)
	if err != nil {
		t.Fatalf("boards table not created: %v", err)
	}
}

func TestSave_InsertThenUpdate(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	board := &core.Board{ID: "b1", UserID: "u", Name: "first", Data: []byte(`{"entities":[]}`)}
	if err := store.Save(ctx, board); err != nil {
		t.Fatalf("Save() insert failed: %v", err)
	}
	created := board.CreatedAt

	time.Sleep(5 * time.Millisecond)
	board = &core.Board{ID: "b1", UserID: "u", Name: "second", Data: []byte(`{"entities":[{}]}`)}
	if err := store.Save(ctx, board); err != nil {
		t.Fatalf("Save() update failed: %v", err)
	}

	got, err := store.Get(ctx, "u", "b1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Name != "second" || string(got.Data) != `{"entities":[{}]}` {
		t.Errorf("Get() = %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if !got.UpdatedAt.After(created) {
		t.Errorf("UpdatedAt = %v, want after %v", got.UpdatedAt, created)
	}
}

func TestSave_Validation(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if err := store.Save(ctx, &core.Board{ID: "b1"}); err == nil {
		t.Error("Save() without UserID should fail")
	}
	if err := store.Save(ctx, &core.Board{UserID: "u"}); err == nil {
		t.Error("Save() without ID should fail")
	}
}

func TestGet_NotFoundAndScoped(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "u", "missing"); !errors.Is(err, core.ErrBoardNotFound) {
		t.Errorf("Get() error = %v, want ErrBoardNotFound", err)
	}

	if err := store.Save(ctx, &core.Board{ID: "b1", UserID: "alice"}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := store.Get(ctx, "bob", "b1"); !errors.Is(err, core.ErrBoardNotFound) {
		t.Errorf("Get() for another user error = %v, want ErrBoardNotFound", err)
	}
}

func TestList_NewestFirst(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"old", "new"} {
		if err := store.Save(ctx, &core.Board{ID: id, UserID: "u", Name: id, Data: []byte("x")}); err != nil {
			t.Fatalf("Save(%s) failed: %v", id, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := store.Save(ctx, &core.Board{ID: "elsewhere", UserID: "other"}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	boards, err := store.List(ctx, "u")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(boards) != 2 {
		t.Fatalf("List() returned %d boards, want 2", len(boards))
	}
	if boards[0].ID != "new" || boards[1].ID != "old" {
		t.Errorf("List() order = %s, %s", boards[0].ID, boards[1].ID)
	}
	if boards[0].Data != nil {
		t.Error("List() should not load board data")
	}

	empty, err := store.List(ctx, "nobody")
	if err != nil || len(empty) != 0 {
		t.Errorf("List() for unknown user = %v, %v", empty, err)
	}
}

func TestDelete(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if err := store.Save(ctx, &core.Board{ID: "b1", UserID: "u"}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := store.Delete(ctx, "other", "b1"); !errors.Is(err, core.ErrBoardNotFound) {
		t.Errorf("Delete() by another user error = %v", err)
	}
	if err := store.Delete(ctx, "u", "b1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.Get(ctx, "u", "b1"); !errors.Is(err, core.ErrBoardNotFound) {
		t.Errorf("Get() after delete error = %v", err)
	}
}
