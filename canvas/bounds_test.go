package canvas

import (
	"math"
	"testing"

	"genui-canvas/core"
	"genui-canvas/stores/memory"
)

func newTestEditor(t *testing.T) *memory.Editor {
	t.Helper()
	return memory.NewEditor(core.Vec{X: 1000, Y: 800})
}

func addCard(t *testing.T, ed *memory.Editor, id core.EntityID, x, y, w, h float64) {
	t.Helper()
	err := ed.Run(func(tx core.Tx) error {
		return tx.CreateEntity(core.Entity{
			ID:    id,
			Kind:  core.KindCard,
			X:     x,
			Y:     y,
			Props: &core.CardProps{W: w, H: h},
		})
	})
	if err != nil {
		t.Fatalf("CreateEntity(%s) failed: %v", id, err)
	}
}

func TestSnapshot_EmptyCanvas(t *testing.T) {
	ed := newTestEditor(t)
	if got := Snapshot(ed); len(got) != 0 {
		t.Errorf("Snapshot() returned %d bounds, want 0", len(got))
	}
}

func TestSnapshot_ReflectsCurrentShapes(t *testing.T) {
	ed := newTestEditor(t)
	addCard(t, ed, "a", 0, 0, 300, 150)

	first := Snapshot(ed)
	if len(first) != 1 {
		t.Fatalf("Snapshot() returned %d bounds, want 1", len(first))
	}

	err := ed.Run(func(tx core.Tx) error {
		return tx.UpdateEntity("a", core.PlacementPatch{X: core.Ptr(100.0)})
	})
	if err != nil {
		t.Fatalf("UpdateEntity() failed: %v", err)
	}

	second := Snapshot(ed)
	if second[0].MinX != 100 {
		t.Errorf("Snapshot() after move MinX = %v, want 100", second[0].MinX)
	}
	if first[0].MinX != 0 {
		t.Errorf("earlier snapshot changed: MinX = %v, want 0", first[0].MinX)
	}
}

func TestSnapshotEntities_DropsUnmeasurable(t *testing.T) {
	entities := []core.Entity{
		{ID: "ok", Kind: core.KindCard, Props: &core.CardProps{W: 10, H: 10}},
		{ID: "no-props", Kind: core.KindCard},
		{ID: "mismatch", Kind: core.KindFrame, Props: &core.CardProps{W: 10, H: 10}},
		{ID: "unknown", Kind: "sticker", Props: &core.CardProps{W: 10, H: 10}},
		{ID: "unresolved", Kind: core.KindCard, Props: &core.CardProps{W: 10, H: 10}},
		{ID: "nan", Kind: core.KindCard, Props: &core.CardProps{W: 10, H: 10}},
		{ID: "inverted", Kind: core.KindCard, Props: &core.CardProps{W: 10, H: 10}},
		{ID: "point", Kind: core.KindCard, Props: &core.CardProps{}},
	}
	resolve := func(id core.EntityID) (core.Bounds, bool) {
		switch id {
		case "unresolved":
			return core.Bounds{}, false
		case "nan":
			return core.Bounds{MinX: math.NaN(), MaxX: 10, MaxY: 10}, true
		case "inverted":
			return core.Bounds{MinX: 10, MaxX: 0, MaxY: 10}, true
		case "point":
			return core.Bounds{MinX: 5, MinY: 5, MaxX: 5, MaxY: 5}, true
		default:
			return core.Bounds{MaxX: 10, MaxY: 10}, true
		}
	}

	got := SnapshotEntities(entities, resolve)

	if len(got) != 2 {
		t.Fatalf("SnapshotEntities() returned %d bounds, want 2: %+v", len(got), got)
	}
	if got[1] != (core.Bounds{MinX: 5, MinY: 5, MaxX: 5, MaxY: 5}) {
		t.Errorf("zero-size bounds = %+v, want the point kept", got[1])
	}
}

func TestSnapshot_RotatedAndNested(t *testing.T) {
	ed := newTestEditor(t)
	err := ed.Run(func(tx core.Tx) error {
		if err := tx.CreateEntity(core.Entity{
			ID: "frame", Kind: core.KindFrame, X: 1000, Y: 1000,
			Props: &core.FrameProps{W: 500, H: 500},
		}); err != nil {
			return err
		}
		return tx.CreateEntity(core.Entity{
			ID: "child", Kind: core.KindCard, ParentID: "frame", X: 100, Y: 0,
			Rotation: math.Pi / 2,
			Props:    &core.CardProps{W: 200, H: 100},
		})
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	b, ok := ed.PageBounds("child")
	if !ok {
		t.Fatal("PageBounds(child) not resolved")
	}
	// Rotated a quarter turn about its own origin at (1100, 1000): the box
	// swings to the left of that point.
	want := core.Bounds{MinX: 1000, MinY: 1000, MaxX: 1100, MaxY: 1200}
	if !boundsNear(b, want) {
		t.Errorf("PageBounds(child) = %+v, want %+v", b, want)
	}
	if got := Snapshot(ed); len(got) != 2 {
		t.Errorf("Snapshot() returned %d bounds, want 2", len(got))
	}
}

func boundsNear(a, b core.Bounds) bool {
	const eps = 1e-9
	return math.Abs(a.MinX-b.MinX) < eps && math.Abs(a.MinY-b.MinY) < eps &&
		math.Abs(a.MaxX-b.MaxX) < eps && math.Abs(a.MaxY-b.MaxY) < eps
}

func vecNear(a, b core.Vec) bool {
	const eps = 1e-9
	return math.Abs(a.X-b.X) < eps && math.Abs(a.Y-b.Y) < eps
}
