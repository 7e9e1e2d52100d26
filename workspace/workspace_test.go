package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"genui-canvas/canvas"
	"genui-canvas/core"
	"genui-canvas/stores/memory"
)

// scriptedSource emits fixed fragments and ends, or blocks until cancelled.
type scriptedSource struct {
	chunks []string
	block  bool
}

func (s scriptedSource) Stream(ctx context.Context, req core.GenerationRequest, cb core.StreamCallbacks) error {
	acc := ""
	for _, c := range s.chunks {
		acc += c
		cb.OnResponseUpdate(acc)
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	cb.OnStreamEnd()
	return nil
}

// failingStore fails every save.
type failingStore struct {
	core.BoardStore
}

func (failingStore) Save(context.Context, *core.Board) error { return errors.New("disk full") }

var flat = canvas.Config{Measurer: canvas.MeasureFunc(func(*core.CardProps) float64 { return 0 })}

func newTestWorkspace(t *testing.T, store core.BoardStore, source core.ContentSource) *Workspace {
	t.Helper()
	ws := New(context.Background(), store, source, Config{Screen: core.Vec{X: 1000, Y: 800}, Canvas: flat})
	t.Cleanup(func() { ws.Close(context.Background()) })
	return ws
}

func waitDone(t *testing.T, s *canvas.Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := s.Wait(ctx); err != nil {
		t.Fatalf("session did not finish: %v", err)
	}
}

func TestOpen_NewBoardIsEmptyAndCached(t *testing.T) {
	ws := newTestWorkspace(t, memory.NewStore(), scriptedSource{})
	ref := Ref{UserID: "u", BoardID: "b1"}

	b, err := ws.Open(context.Background(), ref)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if n := len(b.Editor.CurrentPageEntities()); n != 0 {
		t.Errorf("new board has %d entities", n)
	}

	again, err := ws.Open(context.Background(), ref)
	if err != nil || again != b {
		t.Errorf("second Open() = %p, %v, want the same board", again, err)
	}
	if _, ok := ws.Lookup(Ref{UserID: "u", BoardID: "other"}); ok {
		t.Error("Lookup() found a board that was never opened")
	}
}

func TestOpen_RequiresIDs(t *testing.T) {
	ws := newTestWorkspace(t, memory.NewStore(), scriptedSource{})
	if _, err := ws.Open(context.Background(), Ref{UserID: "u"}); err == nil {
		t.Error("Open() without a board id should fail")
	}
}

func TestOpen_RejectsCorruptBoard(t *testing.T) {
	store := memory.NewStore()
	if err := store.Save(context.Background(), &core.Board{ID: "b1", UserID: "u", Data: []byte("{broken")}); err != nil {
		t.Fatal(err)
	}
	ws := newTestWorkspace(t, store, scriptedSource{})

	if _, err := ws.Open(context.Background(), Ref{UserID: "u", BoardID: "b1"}); err == nil {
		t.Error("Open() should fail on undecodable board data")
	}
}

func TestCreateCard_SaveAndReload(t *testing.T) {
	store := memory.NewStore()
	ws := newTestWorkspace(t, store, scriptedSource{chunks: []string{"hello"}})
	ref := Ref{UserID: "u", BoardID: "b1"}

	b, err := ws.Open(context.Background(), ref)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	s, err := b.CreateCard(canvas.CreateOptions{Prompt: "p"})
	if err != nil {
		t.Fatalf("CreateCard() failed: %v", err)
	}
	waitDone(t, s)
	b.Controller.Wait()

	if !b.Dirty() {
		t.Error("board not dirty after a card was generated")
	}
	if err := ws.Save(context.Background(), b); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if b.Dirty() {
		t.Error("board still dirty after save")
	}

	stored, err := store.Get(context.Background(), "u", "b1")
	if err != nil {
		t.Fatalf("store.Get() failed: %v", err)
	}
	var snap core.BoardSnapshot
	if err := json.Unmarshal(stored.Data, &snap); err != nil {
		t.Fatalf("stored data not a snapshot: %v", err)
	}
	if len(snap.Entities) != 1 || snap.Entities[0].Card().ContentString() != "hello" {
		t.Errorf("stored snapshot = %+v", snap)
	}

	fresh := newTestWorkspace(t, store, scriptedSource{})
	reloaded, err := fresh.Open(context.Background(), ref)
	if err != nil {
		t.Fatalf("Open() from store failed: %v", err)
	}
	ents := reloaded.Editor.CurrentPageEntities()
	if len(ents) != 1 || ents[0].ID != s.CardID() {
		t.Errorf("reloaded entities = %+v", ents)
	}
}

func TestWatch_FansOutChanges(t *testing.T) {
	ws := newTestWorkspace(t, memory.NewStore(), scriptedSource{chunks: []string{"x"}})

	var (
		mu   sync.Mutex
		seen = map[Ref]int{}
	)
	unwatch := ws.Watch(func(ref Ref, c core.Change) {
		mu.Lock()
		seen[ref]++
		mu.Unlock()
	})

	refs := []Ref{{UserID: "u", BoardID: "one"}, {UserID: "u", BoardID: "two"}}
	for _, ref := range refs {
		b, err := ws.Open(context.Background(), ref)
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		s, err := b.CreateCard(canvas.CreateOptions{Prompt: "p", KeepCamera: true})
		if err != nil {
			t.Fatalf("CreateCard() failed: %v", err)
		}
		waitDone(t, s)
		b.Controller.Wait()
	}
	unwatch()

	mu.Lock()
	defer mu.Unlock()
	for _, ref := range refs {
		if seen[ref] == 0 {
			t.Errorf("no changes seen for %+v", ref)
		}
	}
}

func TestPersistAll_OnlyDirtyBoards(t *testing.T) {
	store := memory.NewStore()
	ws := newTestWorkspace(t, store, scriptedSource{})

	if _, err := ws.Open(context.Background(), Ref{UserID: "u", BoardID: "clean"}); err != nil {
		t.Fatal(err)
	}
	dirty, _ := ws.Open(context.Background(), Ref{UserID: "u", BoardID: "dirty"})
	if err := dirty.Editor.Run(func(tx core.Tx) error {
		return tx.CreateEntity(core.Entity{ID: "c", Props: &core.CardProps{W: 10, H: 10}})
	}); err != nil {
		t.Fatal(err)
	}

	if err := ws.PersistAll(context.Background()); err != nil {
		t.Fatalf("PersistAll() failed: %v", err)
	}

	boards, _ := store.List(context.Background(), "u")
	if len(boards) != 1 || boards[0].ID != "dirty" {
		t.Errorf("persisted boards = %+v, want only dirty", boards)
	}
}

func TestSave_FailureKeepsBoardDirty(t *testing.T) {
	ws := newTestWorkspace(t, failingStore{memory.NewStore()}, scriptedSource{})
	b, _ := ws.Open(context.Background(), Ref{UserID: "u", BoardID: "b"})
	b.dirty.Store(true)

	if err := ws.PersistAll(context.Background()); err == nil {
		t.Fatal("PersistAll() should report the store failure")
	}
	if !b.Dirty() {
		t.Error("board marked clean after a failed save")
	}
}

func TestClose_CancelsStreamsAndPersists(t *testing.T) {
	store := memory.NewStore()
	ws := New(context.Background(), store, scriptedSource{chunks: []string{"partial"}, block: true},
		Config{Screen: core.Vec{X: 1000, Y: 800}, Canvas: flat})

	b, err := ws.Open(context.Background(), Ref{UserID: "u", BoardID: "b"})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	s, err := b.CreateCard(canvas.CreateOptions{Prompt: "p"})
	if err != nil {
		t.Fatalf("CreateCard() failed: %v", err)
	}

	if err := ws.Close(context.Background()); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if s.State() != canvas.StateCancelled {
		t.Errorf("session = %s, want cancelled", s.State())
	}
	if _, err := store.Get(context.Background(), "u", "b"); err != nil {
		t.Errorf("board not persisted on close: %v", err)
	}
	if _, err := ws.Open(context.Background(), Ref{UserID: "u", BoardID: "b"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Open() after Close() error = %v, want ErrClosed", err)
	}
	if err := ws.Close(context.Background()); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestDrop_UnloadsWithoutSaving(t *testing.T) {
	store := memory.NewStore()
	ws := newTestWorkspace(t, store, scriptedSource{block: true})
	ref := Ref{UserID: "u", BoardID: "b"}

	b, _ := ws.Open(context.Background(), ref)
	b.Rename("scratch")
	s, err := b.CreateCard(canvas.CreateOptions{Prompt: "p"})
	if err != nil {
		t.Fatal(err)
	}

	if !ws.Drop(ref) {
		t.Fatal("Drop() = false for a live board")
	}
	if s.State() != canvas.StateCancelled {
		t.Errorf("session = %s, want cancelled", s.State())
	}
	if _, ok := ws.Lookup(ref); ok {
		t.Error("board still live after Drop()")
	}
	if _, err := store.Get(context.Background(), "u", "b"); !errors.Is(err, core.ErrBoardNotFound) {
		t.Errorf("dropped board was saved: %v", err)
	}
	if ws.Drop(ref) {
		t.Error("second Drop() = true")
	}
}
