package memory

import (
	"errors"
	"math"
	"testing"

	"genui-canvas/core"
)

func newEditor() *Editor {
	return NewEditor(core.Vec{X: 1000, Y: 800})
}

func card(id core.EntityID, x, y float64) core.Entity {
	return core.Entity{ID: id, Kind: core.KindCard, X: x, Y: y, Props: &core.CardProps{W: 100, H: 50}}
}

func TestEditor_CreateAndGet(t *testing.T) {
	ed := newEditor()
	if err := ed.Run(func(tx core.Tx) error { return tx.CreateEntity(card("a", 10, 20)) }); err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}

	got, ok := ed.GetEntity("a")
	if !ok || got.X != 10 || got.Card().W != 100 {
		t.Errorf("GetEntity() = %+v, %v", got, ok)
	}

	got.Card().W = 999
	again, _ := ed.GetEntity("a")
	if again.Card().W != 100 {
		t.Error("GetEntity() returned props aliasing the store")
	}
}

func TestEditor_CreateAssignsID(t *testing.T) {
	ed := newEditor()
	err := ed.Run(func(tx core.Tx) error {
		return tx.CreateEntity(core.Entity{Props: &core.FrameProps{W: 1, H: 1}})
	})
	if err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}
	ents := ed.CurrentPageEntities()
	if len(ents) != 1 || len(ents[0].ID) != 26 || ents[0].Kind != core.KindFrame {
		t.Errorf("entities = %+v", ents)
	}
}

func TestEditor_CreateValidates(t *testing.T) {
	ed := newEditor()
	tests := []struct {
		name string
		ent  core.Entity
	}{
		{"no props", core.Entity{ID: "x", Kind: core.KindCard}},
		{"kind mismatch", core.Entity{ID: "x", Kind: core.KindFrame, Props: &core.CardProps{}}},
		{"missing parent", core.Entity{ID: "x", ParentID: "ghost", Props: &core.CardProps{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ed.Run(func(tx core.Tx) error { return tx.CreateEntity(tt.ent) }); err == nil {
				t.Error("CreateEntity() should fail")
			}
		})
	}

	if err := ed.Run(func(tx core.Tx) error { return tx.CreateEntity(card("a", 0, 0)) }); err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}
	if err := ed.Run(func(tx core.Tx) error { return tx.CreateEntity(card("a", 0, 0)) }); err == nil {
		t.Error("duplicate id should fail")
	}
}

func TestEditor_RunRollsBackOnError(t *testing.T) {
	ed := newEditor()
	var changes int
	ed.Subscribe(func(core.Change) { changes++ })

	boom := errors.New("boom")
	err := ed.Run(func(tx core.Tx) error {
		if err := tx.CreateEntity(card("a", 0, 0)); err != nil {
			return err
		}
		tx.Select("a")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want boom", err)
	}
	if _, ok := ed.GetEntity("a"); ok {
		t.Error("entity survived rollback")
	}
	if len(ed.SelectedIDs()) != 0 {
		t.Error("selection survived rollback")
	}
	if changes != 0 {
		t.Errorf("rolled-back transaction published %d changes", changes)
	}
}

func TestEditor_SubscribeAndUnsubscribe(t *testing.T) {
	ed := newEditor()
	var got []core.ChangeType
	unsubscribe := ed.Subscribe(func(c core.Change) { got = append(got, c.Type) })

	_ = ed.Run(func(tx core.Tx) error {
		if err := tx.CreateEntity(card("a", 0, 0)); err != nil {
			return err
		}
		return tx.UpdateEntity("a", core.PlacementPatch{X: core.Ptr(5.0)})
	})
	unsubscribe()
	_ = ed.Run(func(tx core.Tx) error { return tx.DeleteEntity("a") })

	if len(got) != 2 || got[0] != core.ChangeCreated || got[1] != core.ChangeUpdated {
		t.Errorf("changes = %v, want [created updated]", got)
	}
}

func TestEditor_DeleteCascadesToChildren(t *testing.T) {
	ed := newEditor()
	err := ed.Run(func(tx core.Tx) error {
		if err := tx.CreateEntity(core.Entity{ID: "f", Props: &core.FrameProps{W: 500, H: 500}}); err != nil {
			return err
		}
		child := card("c", 10, 10)
		child.ParentID = "f"
		if err := tx.CreateEntity(child); err != nil {
			return err
		}
		tx.Select("c")
		return tx.CreateEntity(card("other", 900, 0))
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	if err := ed.Run(func(tx core.Tx) error { return tx.DeleteEntity("f") }); err != nil {
		t.Fatalf("DeleteEntity() failed: %v", err)
	}

	ents := ed.CurrentPageEntities()
	if len(ents) != 1 || ents[0].ID != "other" {
		t.Errorf("entities after delete = %+v", ents)
	}
	if len(ed.SelectedIDs()) != 0 {
		t.Errorf("deleted child still selected: %v", ed.SelectedIDs())
	}
	if err := ed.Run(func(tx core.Tx) error { return tx.DeleteEntity("f") }); !errors.Is(err, core.ErrEntityNotFound) {
		t.Errorf("second delete error = %v, want ErrEntityNotFound", err)
	}
}

func TestEditor_CreateBindingsValidates(t *testing.T) {
	ed := newEditor()
	err := ed.Run(func(tx core.Tx) error {
		if err := tx.CreateEntity(card("a", 0, 0)); err != nil {
			return err
		}
		return tx.CreateEntity(core.Entity{ID: "k", Props: &core.ConnectorProps{}})
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	tests := []struct {
		name    string
		binding core.Binding
	}{
		{"source not a connector", core.Binding{FromID: "a", ToID: "a", Terminal: core.TerminalStart}},
		{"missing target", core.Binding{FromID: "k", ToID: "ghost", Terminal: core.TerminalStart}},
		{"bad terminal", core.Binding{FromID: "k", ToID: "a", Terminal: "middle"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ed.Run(func(tx core.Tx) error { return tx.CreateBindings([]core.Binding{tt.binding}) })
			if err == nil {
				t.Error("CreateBindings() should fail")
			}
		})
	}

	err = ed.Run(func(tx core.Tx) error {
		return tx.CreateBindings([]core.Binding{{FromID: "k", ToID: "a", Terminal: core.TerminalEnd}})
	})
	if err != nil {
		t.Fatalf("CreateBindings() failed: %v", err)
	}
	if b := ed.Bindings("k"); len(b) != 1 || b[0].ID == "" {
		t.Errorf("Bindings() = %+v", b)
	}
}

func TestEditor_PageTransformNested(t *testing.T) {
	ed := newEditor()
	err := ed.Run(func(tx core.Tx) error {
		if err := tx.CreateEntity(core.Entity{ID: "f", X: 100, Y: 100, Rotation: math.Pi, Props: &core.FrameProps{W: 10, H: 10}}); err != nil {
			return err
		}
		child := card("c", 10, 0)
		child.ParentID = "f"
		return tx.CreateEntity(child)
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	tr, ok := ed.PageTransform("c")
	if !ok {
		t.Fatal("PageTransform() not resolved")
	}
	if math.Abs(tr.Origin.X-90) > 1e-9 || math.Abs(tr.Origin.Y-100) > 1e-9 {
		t.Errorf("child origin = %+v, want (90, 100)", tr.Origin)
	}
	if math.Abs(tr.Rotation-math.Pi) > 1e-9 {
		t.Errorf("child rotation = %v, want pi", tr.Rotation)
	}
}

func TestEditor_ImportRejectsParentCycles(t *testing.T) {
	ed := newEditor()
	err := ed.Import(core.BoardSnapshot{Entities: []core.Entity{
		{ID: "a", Kind: core.KindFrame, ParentID: "b", Props: &core.FrameProps{W: 1, H: 1}},
		{ID: "b", Kind: core.KindFrame, ParentID: "a", Props: &core.FrameProps{W: 1, H: 1}},
	}})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if _, ok := ed.PageBounds("a"); ok {
		t.Error("PageBounds() resolved through a parent cycle")
	}
}

func TestEditor_ViewportFollowsCamera(t *testing.T) {
	ed := newEditor()
	if vp := ed.ViewportBounds(); vp != (core.Bounds{MaxX: 1000, MaxY: 800}) {
		t.Errorf("initial viewport = %+v", vp)
	}

	ed.SetCamera(core.Camera{X: -200, Y: 100, Zoom: 2})
	if vp := ed.ViewportBounds(); vp != (core.Bounds{MinX: 200, MinY: -100, MaxX: 700, MaxY: 300}) {
		t.Errorf("viewport = %+v", vp)
	}
	if v := ed.PageToView(core.Vec{X: 200, Y: -100}); v != (core.Vec{}) {
		t.Errorf("PageToView(top-left) = %+v, want screen origin", v)
	}
}

func TestEditor_ZoomToSelectionFitsLargeSelection(t *testing.T) {
	ed := newEditor()
	err := ed.Run(func(tx core.Tx) error {
		if err := tx.CreateEntity(core.Entity{ID: "big", Props: &core.CardProps{W: 3000, H: 400}}); err != nil {
			return err
		}
		tx.Select("big")
		tx.ZoomToSelection(core.Animation{})
		return nil
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	cam := ed.Camera()
	if want := (1000.0 - 128) / 3000; math.Abs(cam.Zoom-want) > 1e-9 {
		t.Errorf("zoom = %v, want %v", cam.Zoom, want)
	}
	vp := ed.ViewportBounds()
	if c := vp.Center(); math.Abs(c.X-1500) > 1e-6 || math.Abs(c.Y-200) > 1e-6 {
		t.Errorf("viewport centre = %+v, want (1500, 200)", c)
	}
}

func TestEditor_UndoRestoresStoppingPoint(t *testing.T) {
	ed := newEditor()
	if ed.Undo() {
		t.Error("Undo() on fresh editor should report false")
	}

	_ = ed.Run(func(tx core.Tx) error { return tx.CreateEntity(card("a", 0, 0)) })
	_ = ed.Run(func(tx core.Tx) error {
		tx.MarkHistoryStoppingPoint("adding_b")
		return tx.CreateEntity(card("b", 200, 0))
	})

	var reset bool
	ed.Subscribe(func(c core.Change) { reset = reset || c.Type == core.ChangeReset })

	if !ed.Undo() {
		t.Fatal("Undo() found no stopping point")
	}
	if _, ok := ed.GetEntity("b"); ok {
		t.Error("b survived undo")
	}
	if _, ok := ed.GetEntity("a"); !ok {
		t.Error("a lost on undo")
	}
	if !reset {
		t.Error("Undo() did not publish a reset")
	}
	if ed.Undo() {
		t.Error("second Undo() should find nothing")
	}
}

func TestEditor_ExportImport(t *testing.T) {
	src := newEditor()
	err := src.Run(func(tx core.Tx) error {
		if err := tx.CreateEntity(card("a", 0, 0)); err != nil {
			return err
		}
		if err := tx.CreateEntity(card("b", 300, 0)); err != nil {
			return err
		}
		if err := tx.CreateEntity(core.Entity{ID: "k", Props: &core.ConnectorProps{End: core.Vec{X: 300}}}); err != nil {
			return err
		}
		return tx.CreateBindings([]core.Binding{
			{FromID: "k", ToID: "a", Terminal: core.TerminalStart},
			{FromID: "k", ToID: "b", Terminal: core.TerminalEnd},
		})
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	src.SetCamera(core.Camera{X: 5, Y: 6, Zoom: 0.5})

	snap := src.Export()
	dst := newEditor()
	if err := dst.Import(snap); err != nil {
		t.Fatalf("Import() failed: %v", err)
	}

	if n := len(dst.CurrentPageEntities()); n != 3 {
		t.Errorf("imported %d entities, want 3", n)
	}
	if n := len(dst.Bindings("k")); n != 2 {
		t.Errorf("imported %d bindings, want 2", n)
	}
	if dst.Camera() != src.Camera() {
		t.Errorf("camera = %+v, want %+v", dst.Camera(), src.Camera())
	}
	if ents := dst.CurrentPageEntities(); ents[0].ID != "a" || ents[2].ID != "k" {
		t.Error("Import() did not keep entity order")
	}

	if err := dst.Import(core.BoardSnapshot{Entities: []core.Entity{{ID: "x"}}}); err == nil {
		t.Error("Import() should reject entities without props")
	}
}
