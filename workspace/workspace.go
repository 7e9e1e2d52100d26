// Package workspace keeps the live boards of a running server: one host
// canvas and one card controller per board, loaded from and persisted to a
// core.BoardStore.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"genui-canvas/canvas"
	"genui-canvas/core"
	"genui-canvas/stores/memory"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// persistConcurrency caps parallel writes to the board store.
const persistConcurrency = 4

var ErrClosed = errors.New("workspace is closed")

type (
	Config struct {
		// Screen is the viewport size, in pixels, of every board's canvas.
		Screen core.Vec
		Canvas canvas.Config
	}

	// Ref names one board.
	Ref struct {
		UserID  string
		BoardID string
	}

	// Watcher receives every committed change on every live board.
	Watcher func(ref Ref, c core.Change)

	Workspace struct {
		store  core.BoardStore
		source core.ContentSource
		cfg    Config

		// ctx outlives any request; card streams run under it.
		ctx    context.Context
		cancel context.CancelFunc

		mu       sync.Mutex
		boards   map[Ref]*Board
		watchers map[int]Watcher
		nextID   int
		closed   bool
	}

	// Board is one live canvas.
	Board struct {
		Ref
		Editor     *memory.Editor
		Controller *canvas.Controller

		ws          *Workspace
		mu          sync.Mutex
		name        string
		dirty       atomic.Bool
		unsubscribe func()
	}
)

func New(ctx context.Context, store core.BoardStore, source core.ContentSource, cfg Config) *Workspace {
	if cfg.Screen == (core.Vec{}) {
		cfg.Screen = core.Vec{X: 1920, Y: 1080}
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Workspace{
		store:    store,
		source:   source,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		boards:   make(map[Ref]*Board),
		watchers: make(map[int]Watcher),
	}
}

// Watch registers fn for changes on all boards, current and future.
func (w *Workspace) Watch(fn Watcher) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.watchers[id] = fn
	return func() {
		w.mu.Lock()
		delete(w.watchers, id)
		w.mu.Unlock()
	}
}

// Open returns the live board, loading it from the store on first use. A
// board the store does not know starts empty and is created on first save.
func (w *Workspace) Open(ctx context.Context, ref Ref) (*Board, error) {
	if ref.UserID == "" || ref.BoardID == "" {
		return nil, errors.New("user and board id are required")
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	if b, ok := w.boards[ref]; ok {
		w.mu.Unlock()
		return b, nil
	}
	w.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{"user_id": ref.UserID, "board_id": ref.BoardID})

	ed := memory.NewEditor(w.cfg.Screen)
	name := ""
	stored, err := w.store.Get(ctx, ref.UserID, ref.BoardID)
	switch {
	case errors.Is(err, core.ErrBoardNotFound):
		log.Info("Starting new board")
	case err != nil:
		return nil, fmt.Errorf("loading board %s: %w", ref.BoardID, err)
	default:
		name = stored.Name
		if len(stored.Data) > 0 {
			var snap core.BoardSnapshot
			if err := json.Unmarshal(stored.Data, &snap); err != nil {
				return nil, fmt.Errorf("decoding board %s: %w", ref.BoardID, err)
			}
			if err := ed.Import(snap); err != nil {
				return nil, fmt.Errorf("importing board %s: %w", ref.BoardID, err)
			}
		}
		log.WithField("entities", len(ed.CurrentPageEntities())).Info("Board loaded")
	}

	b := &Board{
		Ref:        ref,
		name:       name,
		Editor:     ed,
		Controller: canvas.NewController(ed, w.source, w.cfg.Canvas),
		ws:         w,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	// Lost a race with a concurrent Open.
	if existing, ok := w.boards[ref]; ok {
		return existing, nil
	}
	b.unsubscribe = ed.Subscribe(func(c core.Change) {
		b.dirty.Store(true)
		w.notify(ref, c)
	})
	w.boards[ref] = b
	return b, nil
}

// Lookup returns a board only if it is already live.
func (w *Workspace) Lookup(ref Ref) (*Board, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.boards[ref]
	return b, ok
}

// Live lists the boards currently loaded.
func (w *Workspace) Live() []*Board {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Board, 0, len(w.boards))
	for _, b := range w.boards {
		out = append(out, b)
	}
	return out
}

func (w *Workspace) notify(ref Ref, c core.Change) {
	w.mu.Lock()
	fns := make([]Watcher, 0, len(w.watchers))
	for _, fn := range w.watchers {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn(ref, c)
	}
}

// CreateCard starts generating a card on b. The stream runs under the
// workspace lifetime, not the caller's.
func (b *Board) CreateCard(opts canvas.CreateOptions) (*canvas.Session, error) {
	return b.Controller.Create(b.ws.ctx, opts)
}

func (b *Board) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.name
}

// Rename sets the stored board name; it is written on the next save.
func (b *Board) Rename(name string) {
	b.mu.Lock()
	b.name = name
	b.mu.Unlock()
	b.dirty.Store(true)
}

// Dirty reports whether the board changed since it was last saved.
func (b *Board) Dirty() bool { return b.dirty.Load() }

// Save writes the board to the store.
func (w *Workspace) Save(ctx context.Context, b *Board) error {
	// Cleared first so changes racing with the write mark it again.
	b.dirty.Store(false)

	data, err := json.Marshal(b.Editor.Export())
	if err != nil {
		b.dirty.Store(true)
		return fmt.Errorf("encoding board %s: %w", b.BoardID, err)
	}
	board := &core.Board{
		ID:     b.BoardID,
		UserID: b.UserID,
		Name:   b.Name(),
		Data:   data,
	}
	if err := w.store.Save(ctx, board); err != nil {
		b.dirty.Store(true)
		return fmt.Errorf("saving board %s: %w", b.BoardID, err)
	}
	return nil
}

// PersistAll saves every dirty board concurrently.
func (w *Workspace) PersistAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(persistConcurrency)

	saved := 0
	for _, b := range w.Live() {
		if !b.Dirty() {
			continue
		}
		saved++
		g.Go(func() error {
			return w.Save(ctx, b)
		})
	}
	if err := g.Wait(); err != nil {
		logrus.WithError(err).Error("Failed to persist live boards")
		return err
	}
	if saved > 0 {
		logrus.WithField("boards", saved).Info("Persisted live boards")
	}
	return nil
}

// Drop unloads a live board without saving it, cancelling its streams.
// It reports whether the board was live.
func (w *Workspace) Drop(ref Ref) bool {
	w.mu.Lock()
	b, ok := w.boards[ref]
	delete(w.boards, ref)
	w.mu.Unlock()
	if !ok {
		return false
	}

	b.Controller.CancelAll()
	b.Controller.Wait()
	b.unsubscribe()
	return true
}

// Close stops accepting boards, cancels every open card stream, waits for
// the streams to settle and persists what changed.
func (w *Workspace) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	boards := w.Live()
	for _, b := range boards {
		b.Controller.CancelAll()
	}
	w.cancel()
	for _, b := range boards {
		b.Controller.Wait()
	}

	err := w.PersistAll(ctx)
	for _, b := range boards {
		b.unsubscribe()
	}
	return err
}
