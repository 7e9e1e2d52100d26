package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEntityNotFound is returned by host stores when an id does not resolve.
var ErrEntityNotFound = errors.New("entity not found")

type (
	EntityID  string
	BindingID string

	// EntityKind tags the payload carried in Entity.Props.
	EntityKind string

	// Entity is one shape on the host canvas. X/Y/Rotation are expressed in
	// the parent's frame, or in page space when ParentID is empty.
	Entity struct {
		ID       EntityID   `json:"id"`
		Kind     EntityKind `json:"kind"`
		ParentID EntityID   `json:"parentId,omitempty"`
		X        float64    `json:"x"`
		Y        float64    `json:"y"`
		Rotation float64    `json:"rotation"`
		Props    Props      `json:"props"`
	}

	// Props is the kind-specific payload of an entity.
	Props interface {
		Kind() EntityKind
		// LocalBounds is the entity's box in its own unrotated frame.
		LocalBounds() Bounds
		Clone() Props
	}

	// CardProps holds a generated content card. Content stays nil until the
	// first stream fragment lands, which is what the renderer keys its
	// placeholder on.
	CardProps struct {
		W         float64 `json:"w"`
		H         float64 `json:"h"`
		Content   *string `json:"content,omitempty"`
		Streaming bool    `json:"streaming"`
		Prompt    string  `json:"prompt,omitempty"`
	}

	// ConnectorProps holds a directional link. Start and End are offsets from
	// the connector's own origin.
	ConnectorProps struct {
		Start Vec    `json:"start"`
		End   Vec    `json:"end"`
		Color string `json:"color,omitempty"`
	}

	// FrameProps holds a container other entities can be nested under.
	FrameProps struct {
		W    float64 `json:"w"`
		H    float64 `json:"h"`
		Name string  `json:"name,omitempty"`
	}

	Terminal string

	// Binding attaches one end of a connector to a target entity.
	Binding struct {
		ID               BindingID `json:"id"`
		FromID           EntityID  `json:"fromId"`
		ToID             EntityID  `json:"toId"`
		Terminal         Terminal  `json:"terminal"`
		NormalizedAnchor Vec       `json:"normalizedAnchor"`
		// IsExact keeps the host from re-optimising the anchor.
		IsExact bool `json:"isExact"`
		// IsPrecise marks the anchor as a literal point rather than an edge
		// region.
		IsPrecise bool `json:"isPrecise"`
	}
)

const (
	KindCard      EntityKind = "card"
	KindConnector EntityKind = "connector"
	KindFrame     EntityKind = "frame"

	TerminalStart Terminal = "start"
	TerminalEnd   Terminal = "end"
)

func (p *CardProps) Kind() EntityKind     { return KindCard }
func (p *CardProps) LocalBounds() Bounds  { return Bounds{MaxX: p.W, MaxY: p.H} }
func (p *FrameProps) Kind() EntityKind    { return KindFrame }
func (p *FrameProps) LocalBounds() Bounds { return Bounds{MaxX: p.W, MaxY: p.H} }

func (p *ConnectorProps) Kind() EntityKind { return KindConnector }

func (p *ConnectorProps) LocalBounds() Bounds {
	return BoundsFromPoints(p.Start, p.End)
}

func (p *CardProps) Clone() Props {
	c := *p
	if p.Content != nil {
		content := *p.Content
		c.Content = &content
	}
	return &c
}

func (p *ConnectorProps) Clone() Props { c := *p; return &c }
func (p *FrameProps) Clone() Props     { c := *p; return &c }

// Clone returns a deep copy so callers can never alias store state.
func (e Entity) Clone() Entity {
	if e.Props != nil {
		e.Props = e.Props.Clone()
	}
	return e
}

// Card returns the card payload, or nil when e is not a card.
func (e Entity) Card() *CardProps {
	p, _ := e.Props.(*CardProps)
	return p
}

// Connector returns the connector payload, or nil when e is not a connector.
func (e Entity) Connector() *ConnectorProps {
	p, _ := e.Props.(*ConnectorProps)
	return p
}

// LocalTransform places the entity inside its parent's frame.
func (e Entity) LocalTransform() Transform {
	return Transform{Origin: Vec{e.X, e.Y}, Rotation: e.Rotation}
}

// ContentString returns the card content or "" when there is none yet.
func (p *CardProps) ContentString() string {
	if p == nil || p.Content == nil {
		return ""
	}
	return *p.Content
}

func (e *Entity) UnmarshalJSON(data []byte) error {
	type plain Entity
	var raw struct {
		plain
		Props json.RawMessage `json:"props"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Entity(raw.plain)

	var props Props
	switch e.Kind {
	case KindCard:
		props = &CardProps{}
	case KindConnector:
		props = &ConnectorProps{}
	case KindFrame:
		props = &FrameProps{}
	default:
		return fmt.Errorf("unknown entity kind %q", e.Kind)
	}
	if len(raw.Props) > 0 && string(raw.Props) != "null" {
		if err := json.Unmarshal(raw.Props, props); err != nil {
			return fmt.Errorf("decoding %s props: %w", e.Kind, err)
		}
	}
	e.Props = props
	return nil
}
