package core

import "fmt"

// Patch is a partial update applied to one entity inside a transaction.
type Patch interface {
	Apply(e *Entity) error
}

// CardPatch updates the fields that are set and leaves the rest alone.
type CardPatch struct {
	W         *float64
	H         *float64
	Content   *string
	Streaming *bool
}

func (p CardPatch) Apply(e *Entity) error {
	card := e.Card()
	if card == nil {
		return fmt.Errorf("entity %s is a %s, not a card", e.ID, e.Kind)
	}
	if p.W != nil {
		card.W = *p.W
	}
	if p.H != nil {
		card.H = *p.H
	}
	if p.Content != nil {
		content := *p.Content
		card.Content = &content
	}
	if p.Streaming != nil {
		card.Streaming = *p.Streaming
	}
	return nil
}

// PlacementPatch moves or rotates any entity within its parent's frame.
type PlacementPatch struct {
	X        *float64
	Y        *float64
	Rotation *float64
}

func (p PlacementPatch) Apply(e *Entity) error {
	if p.X != nil {
		e.X = *p.X
	}
	if p.Y != nil {
		e.Y = *p.Y
	}
	if p.Rotation != nil {
		e.Rotation = *p.Rotation
	}
	return nil
}

// Ptr is a small helper for building patches from literals.
func Ptr[T any](v T) *T { return &v }
