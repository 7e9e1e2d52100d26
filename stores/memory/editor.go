package memory

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"genui-canvas/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	// maxNesting guards PageTransform against parent cycles in imported data.
	maxNesting = 64

	zoomInset = 64
	minZoom   = 0.1
	maxZoom   = 1
)

type (
	// Editor is an in-memory host canvas. It serializes every mutation behind
	// one mutex and publishes a core.Change per committed mutation.
	Editor struct {
		mu    sync.Mutex
		state *editorState

		listenMu  sync.RWMutex
		listeners map[int]func(core.Change)
		nextToken int
	}

	editorState struct {
		entities map[core.EntityID]*core.Entity
		order    []core.EntityID
		bindings map[core.BindingID]core.Binding
		selected []core.EntityID
		camera   core.Camera
		screen   core.Vec
		history  []historyMark
		pending  []core.Change
	}

	historyMark struct {
		id   string
		name string
		snap *editorState
	}

	// tx exposes the locked editor state to a Run callback.
	tx struct {
		st *editorState
	}
)

// NewEditor returns an empty canvas whose viewport covers screen pixels at
// zoom 1 from the page origin.
func NewEditor(screen core.Vec) *Editor {
	return &Editor{
		state: &editorState{
			entities: make(map[core.EntityID]*core.Entity),
			bindings: make(map[core.BindingID]core.Binding),
			camera:   core.Camera{Zoom: 1},
			screen:   screen,
		},
		listeners: make(map[int]func(core.Change)),
	}
}

// Subscribe registers fn for every committed change and returns a function
// removing it. Listeners run after the store lock is released, in commit
// order.
func (e *Editor) Subscribe(fn func(core.Change)) func() {
	e.listenMu.Lock()
	defer e.listenMu.Unlock()
	token := e.nextToken
	e.nextToken++
	e.listeners[token] = fn
	return func() {
		e.listenMu.Lock()
		delete(e.listeners, token)
		e.listenMu.Unlock()
	}
}

func (e *Editor) publish(changes []core.Change) {
	if len(changes) == 0 {
		return
	}
	e.listenMu.RLock()
	fns := make([]func(core.Change), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.listenMu.RUnlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

// Run executes fn as one grouped transaction. The store stays locked for
// the whole callback, so fn must only touch the canvas through tx.
func (e *Editor) Run(fn func(tx core.Tx) error) error {
	e.mu.Lock()
	before := e.state.clone()
	e.state.pending = nil
	if err := fn(&tx{st: e.state}); err != nil {
		e.state = before
		e.mu.Unlock()
		logrus.WithError(err).Debug("Canvas transaction rolled back")
		return err
	}
	changes := e.state.pending
	e.state.pending = nil
	e.mu.Unlock()

	e.publish(changes)
	return nil
}

func (e *Editor) read(fn func(st *editorState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state)
}

func (e *Editor) GetEntity(id core.EntityID) (ent core.Entity, ok bool) {
	e.read(func(st *editorState) { ent, ok = st.getEntity(id) })
	return ent, ok
}

func (e *Editor) CurrentPageEntities() (out []core.Entity) {
	e.read(func(st *editorState) { out = st.currentPageEntities() })
	return out
}

func (e *Editor) PageBounds(id core.EntityID) (b core.Bounds, ok bool) {
	e.read(func(st *editorState) { b, ok = st.pageBounds(id) })
	return b, ok
}

func (e *Editor) PageTransform(id core.EntityID) (t core.Transform, ok bool) {
	e.read(func(st *editorState) { t, ok = st.pageTransform(id, 0) })
	return t, ok
}

func (e *Editor) ViewportBounds() (b core.Bounds) {
	e.read(func(st *editorState) { b = st.viewportBounds() })
	return b
}

func (e *Editor) PageToView(p core.Vec) (v core.Vec) {
	e.read(func(st *editorState) { v = st.pageToView(p) })
	return v
}

func (e *Editor) SelectedIDs() (ids []core.EntityID) {
	e.read(func(st *editorState) { ids = append([]core.EntityID(nil), st.selected...) })
	return ids
}

// Bindings returns every binding whose connector is fromID, or all bindings
// when fromID is empty.
func (e *Editor) Bindings(fromID core.EntityID) (out []core.Binding) {
	e.read(func(st *editorState) {
		for _, b := range st.sortedBindings() {
			if fromID == "" || b.FromID == fromID {
				out = append(out, b)
			}
		}
	})
	return out
}

func (e *Editor) Camera() (c core.Camera) {
	e.read(func(st *editorState) { c = st.camera })
	return c
}

// SetCamera moves the view without animation.
func (e *Editor) SetCamera(c core.Camera) {
	if c.Zoom <= 0 {
		c.Zoom = 1
	}
	e.mu.Lock()
	e.state.camera = c
	e.mu.Unlock()
	e.publish([]core.Change{{Type: core.ChangeCamera, Camera: &c}})
}

// Undo restores the canvas to the most recent history stopping point and
// drops that point. It reports false when there is nothing to undo.
func (e *Editor) Undo() bool {
	e.mu.Lock()
	n := len(e.state.history)
	if n == 0 {
		e.mu.Unlock()
		return false
	}
	mark := e.state.history[n-1]
	restored := mark.snap.clone()
	restored.history = append([]historyMark(nil), e.state.history[:n-1]...)
	restored.camera = e.state.camera
	restored.screen = e.state.screen
	e.state = restored
	e.mu.Unlock()

	logrus.WithField("mark", mark.name).Info("Canvas restored to stopping point")
	e.publish([]core.Change{{Type: core.ChangeReset}})
	return true
}

// Export captures the canvas for persistence.
func (e *Editor) Export() core.BoardSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return core.BoardSnapshot{
		Entities: e.state.currentPageEntities(),
		Bindings: e.state.sortedBindings(),
		Camera:   e.state.camera,
	}
}

// Import replaces the canvas content with snap and clears history.
func (e *Editor) Import(snap core.BoardSnapshot) error {
	st := &editorState{
		entities: make(map[core.EntityID]*core.Entity, len(snap.Entities)),
		bindings: make(map[core.BindingID]core.Binding, len(snap.Bindings)),
		camera:   snap.Camera,
	}
	if st.camera.Zoom <= 0 {
		st.camera.Zoom = 1
	}
	for _, ent := range snap.Entities {
		if ent.ID == "" || ent.Props == nil {
			return fmt.Errorf("snapshot entity %q has no id or props", ent.ID)
		}
		c := ent.Clone()
		st.entities[c.ID] = &c
		st.order = append(st.order, c.ID)
	}
	for _, b := range snap.Bindings {
		st.bindings[b.ID] = b
	}

	e.mu.Lock()
	st.screen = e.state.screen
	e.state = st
	e.mu.Unlock()

	e.publish([]core.Change{{Type: core.ChangeReset}})
	return nil
}

func (s *editorState) clone() *editorState {
	c := &editorState{
		entities: make(map[core.EntityID]*core.Entity, len(s.entities)),
		order:    append([]core.EntityID(nil), s.order...),
		bindings: make(map[core.BindingID]core.Binding, len(s.bindings)),
		selected: append([]core.EntityID(nil), s.selected...),
		camera:   s.camera,
		screen:   s.screen,
		history:  append([]historyMark(nil), s.history...),
	}
	for id, ent := range s.entities {
		cp := ent.Clone()
		c.entities[id] = &cp
	}
	for id, b := range s.bindings {
		c.bindings[id] = b
	}
	return c
}

func (s *editorState) getEntity(id core.EntityID) (core.Entity, bool) {
	ent, ok := s.entities[id]
	if !ok {
		return core.Entity{}, false
	}
	return ent.Clone(), true
}

func (s *editorState) currentPageEntities() []core.Entity {
	out := make([]core.Entity, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entities[id].Clone())
	}
	return out
}

func (s *editorState) sortedBindings() []core.Binding {
	out := make([]core.Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		out = append(out, b)
	}
	// ulids sort by creation time.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *editorState) pageTransform(id core.EntityID, depth int) (core.Transform, bool) {
	if depth > maxNesting {
		return core.Transform{}, false
	}
	ent, ok := s.entities[id]
	if !ok {
		return core.Transform{}, false
	}
	local := ent.LocalTransform()
	if ent.ParentID == "" {
		return local, true
	}
	parent, ok := s.pageTransform(ent.ParentID, depth+1)
	if !ok {
		return core.Transform{}, false
	}
	return parent.Then(local), true
}

func (s *editorState) pageBounds(id core.EntityID) (core.Bounds, bool) {
	ent, ok := s.entities[id]
	if !ok || ent.Props == nil {
		return core.Bounds{}, false
	}
	t, ok := s.pageTransform(id, 0)
	if !ok {
		return core.Bounds{}, false
	}
	return t.ApplyBounds(ent.Props.LocalBounds()), true
}

func (s *editorState) viewportBounds() core.Bounds {
	z := s.camera.Zoom
	topLeft := core.Vec{X: -s.camera.X, Y: -s.camera.Y}
	return core.BoundsAt(topLeft, s.screen.X/z, s.screen.Y/z)
}

func (s *editorState) pageToView(p core.Vec) core.Vec {
	return p.Add(core.Vec{X: s.camera.X, Y: s.camera.Y}).Mul(s.camera.Zoom)
}

func (s *editorState) record(c core.Change) {
	s.pending = append(s.pending, c)
}

func (t *tx) GetEntity(id core.EntityID) (core.Entity, bool) { return t.st.getEntity(id) }
func (t *tx) CurrentPageEntities() []core.Entity               { return t.st.currentPageEntities() }
func (t *tx) PageBounds(id core.EntityID) (core.Bounds, bool)  { return t.st.pageBounds(id) }
func (t *tx) ViewportBounds() core.Bounds                      { return t.st.viewportBounds() }
func (t *tx) PageToView(p core.Vec) core.Vec                   { return t.st.pageToView(p) }

func (t *tx) PageTransform(id core.EntityID) (core.Transform, bool) {
	return t.st.pageTransform(id, 0)
}

func (t *tx) SelectedIDs() []core.EntityID {
	return append([]core.EntityID(nil), t.st.selected...)
}

func (t *tx) CreateEntity(ent core.Entity) error {
	if ent.ID == "" {
		ent.ID = core.EntityID(ulid.Make().String())
	}
	if ent.Props == nil {
		return fmt.Errorf("entity %s has no props", ent.ID)
	}
	if ent.Kind == "" {
		ent.Kind = ent.Props.Kind()
	}
	if ent.Kind != ent.Props.Kind() {
		return fmt.Errorf("entity %s kind %s does not match %s props", ent.ID, ent.Kind, ent.Props.Kind())
	}
	if _, exists := t.st.entities[ent.ID]; exists {
		return fmt.Errorf("entity %s already exists", ent.ID)
	}
	if ent.ParentID != "" {
		if _, ok := t.st.entities[ent.ParentID]; !ok {
			return fmt.Errorf("parent %s: %w", ent.ParentID, core.ErrEntityNotFound)
		}
	}

	stored := ent.Clone()
	t.st.entities[ent.ID] = &stored
	t.st.order = append(t.st.order, ent.ID)

	published := stored.Clone()
	t.st.record(core.Change{Type: core.ChangeCreated, Entity: &published, EntityID: ent.ID})
	return nil
}

func (t *tx) UpdateEntity(id core.EntityID, patch core.Patch) error {
	ent, ok := t.st.entities[id]
	if !ok {
		return fmt.Errorf("entity %s: %w", id, core.ErrEntityNotFound)
	}
	next := ent.Clone()
	if err := patch.Apply(&next); err != nil {
		return err
	}
	t.st.entities[id] = &next

	published := next.Clone()
	t.st.record(core.Change{Type: core.ChangeUpdated, Entity: &published, EntityID: id})
	return nil
}

func (t *tx) DeleteEntity(id core.EntityID) error {
	if _, ok := t.st.entities[id]; !ok {
		return fmt.Errorf("entity %s: %w", id, core.ErrEntityNotFound)
	}
	// Children go with their container.
	for _, childID := range append([]core.EntityID(nil), t.st.order...) {
		if child, ok := t.st.entities[childID]; ok && child.ParentID == id {
			if err := t.DeleteEntity(childID); err != nil {
				return err
			}
		}
	}

	delete(t.st.entities, id)
	for i, oid := range t.st.order {
		if oid == id {
			t.st.order = append(t.st.order[:i], t.st.order[i+1:]...)
			break
		}
	}
	// A connector whose target disappears keeps existing, unbound.
	for bid, b := range t.st.bindings {
		if b.ToID == id || b.FromID == id {
			delete(t.st.bindings, bid)
		}
	}
	t.Deselect(id)

	t.st.record(core.Change{Type: core.ChangeDeleted, EntityID: id})
	return nil
}

func (t *tx) CreateBindings(bindings []core.Binding) error {
	created := make([]core.Binding, 0, len(bindings))
	for _, b := range bindings {
		from, ok := t.st.entities[b.FromID]
		if !ok {
			return fmt.Errorf("binding source %s: %w", b.FromID, core.ErrEntityNotFound)
		}
		if from.Kind != core.KindConnector {
			return fmt.Errorf("binding source %s is a %s, not a connector", b.FromID, from.Kind)
		}
		if _, ok := t.st.entities[b.ToID]; !ok {
			return fmt.Errorf("binding target %s: %w", b.ToID, core.ErrEntityNotFound)
		}
		if b.Terminal != core.TerminalStart && b.Terminal != core.TerminalEnd {
			return fmt.Errorf("invalid terminal %q", b.Terminal)
		}
		if b.ID == "" {
			b.ID = core.BindingID(ulid.Make().String())
		}
		t.st.bindings[b.ID] = b
		created = append(created, b)
	}
	t.st.record(core.Change{Type: core.ChangeBindings, Bindings: created})
	return nil
}

func (t *tx) MarkHistoryStoppingPoint(name string) string {
	id := name + ":" + ulid.Make().String()
	snap := t.st.clone()
	snap.history = nil
	snap.pending = nil
	t.st.history = append(t.st.history, historyMark{id: id, name: name, snap: snap})
	return id
}

func (t *tx) Select(ids ...core.EntityID) {
	for _, id := range ids {
		if _, ok := t.st.entities[id]; !ok {
			continue
		}
		if !t.isSelected(id) {
			t.st.selected = append(t.st.selected, id)
		}
	}
}

func (t *tx) Deselect(ids ...core.EntityID) {
	keep := t.st.selected[:0]
	for _, sel := range t.st.selected {
		drop := false
		for _, id := range ids {
			if sel == id {
				drop = true
				break
			}
		}
		if !drop {
			keep = append(keep, sel)
		}
	}
	t.st.selected = keep
}

func (t *tx) isSelected(id core.EntityID) bool {
	for _, sel := range t.st.selected {
		if sel == id {
			return true
		}
	}
	return false
}

// ZoomToSelection centres the selection on screen and zooms out until it
// fits, never zooming past 100%. The host has no renderer, so the animation
// is reported with the camera change and applied immediately.
func (t *tx) ZoomToSelection(anim core.Animation) {
	var (
		sel   core.Bounds
		found bool
	)
	for _, id := range t.st.selected {
		b, ok := t.st.pageBounds(id)
		if !ok {
			continue
		}
		if !found {
			sel, found = b, true
			continue
		}
		sel = sel.Union(b)
	}
	if !found {
		return
	}

	screen := t.st.screen
	zoom := float64(maxZoom)
	if w := sel.Width(); w > 0 {
		zoom = math.Min(zoom, (screen.X-2*zoomInset)/w)
	}
	if h := sel.Height(); h > 0 {
		zoom = math.Min(zoom, (screen.Y-2*zoomInset)/h)
	}
	zoom = math.Max(zoom, minZoom)

	center := sel.Center()
	cam := core.Camera{
		X:    screen.X/(2*zoom) - center.X,
		Y:    screen.Y/(2*zoom) - center.Y,
		Zoom: zoom,
	}
	t.st.camera = cam

	logrus.WithFields(logrus.Fields{
		"zoom":     zoom,
		"duration": anim.Duration,
	}).Debug("Camera moved to selection")
	t.st.record(core.Change{Type: core.ChangeCamera, Camera: &cam})
}
