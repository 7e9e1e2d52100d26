package core

import "time"

type (
	// Camera is the host's view onto page space. A page point p appears at
	// (p + {X, Y}) * Zoom on screen.
	Camera struct {
		X    float64 `json:"x"`
		Y    float64 `json:"y"`
		Zoom float64 `json:"zoom"`
	}

	// Animation describes a camera move.
	Animation struct {
		Duration time.Duration
	}

	// CanvasReader is the read side of the host canvas. Every call reflects
	// the store as it is now; nothing returned may be cached across
	// mutations.
	CanvasReader interface {
		GetEntity(id EntityID) (Entity, bool)
		CurrentPageEntities() []Entity
		// PageBounds is the axis-aligned page-space box of an entity after
		// all ancestor transforms.
		PageBounds(id EntityID) (Bounds, bool)
		PageTransform(id EntityID) (Transform, bool)
		ViewportBounds() Bounds
		PageToView(p Vec) Vec
		SelectedIDs() []EntityID
	}

	// Tx is the mutation side of the host canvas, only reachable inside Run.
	Tx interface {
		CanvasReader
		CreateEntity(e Entity) error
		UpdateEntity(id EntityID, patch Patch) error
		DeleteEntity(id EntityID) error
		CreateBindings(bindings []Binding) error
		// MarkHistoryStoppingPoint records a named point the host's undo
		// returns to.
		MarkHistoryStoppingPoint(name string) string
		Select(ids ...EntityID)
		Deselect(ids ...EntityID)
		ZoomToSelection(anim Animation)
	}

	// EntityStore is the host canvas as the placement, connector and
	// streaming code sees it. Run executes fn as one grouped transaction:
	// no other mutation interleaves with it, and an error rolls every change
	// back.
	EntityStore interface {
		CanvasReader
		Run(fn func(tx Tx) error) error
	}

	ChangeType string

	// Change is published by a host store after each committed mutation.
	Change struct {
		Type     ChangeType `json:"type"`
		Entity   *Entity    `json:"entity,omitempty"`
		EntityID EntityID   `json:"entityId,omitempty"`
		Bindings []Binding  `json:"bindings,omitempty"`
		Camera   *Camera    `json:"camera,omitempty"`
	}
)

const (
	ChangeCreated  ChangeType = "created"
	ChangeUpdated  ChangeType = "updated"
	ChangeDeleted  ChangeType = "deleted"
	ChangeBindings ChangeType = "bindings"
	ChangeCamera   ChangeType = "camera"
	// ChangeReset means the whole canvas was replaced (undo, import).
	ChangeReset ChangeType = "reset"
)
