package canvas

import (
	"errors"
	"fmt"

	"genui-canvas/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	connectorHistoryMark  = "creating_arrow"
	defaultConnectorColor = "grey"
)

var (
	ErrSameEndpoint   = errors.New("connector endpoints must be distinct")
	ErrParentNotFound = errors.New("connector parent not found")
)

type (
	// TerminalOptions configures one end of a connector.
	TerminalOptions struct {
		// NormalizedAnchor locates the attachment inside the target's local
		// box, (0,0) top-left to (1,1) bottom-right. Nil means the centre.
		NormalizedAnchor *core.Vec
		IsExact          bool
		IsPrecise        bool
	}

	BindOptions struct {
		// ParentID nests the connector under a container entity.
		ParentID core.EntityID
		Start    TerminalOptions
		End      TerminalOptions
		Color    string
	}
)

func (o TerminalOptions) anchor() core.Vec {
	if o.NormalizedAnchor == nil {
		return core.Vec{X: 0.5, Y: 0.5}
	}
	return *o.NormalizedAnchor
}

// Bind draws a connector from startID to endID and binds both ends. When
// either card cannot be resolved it does nothing and returns an empty id: the
// card may have been deleted while the caller was working, and that race is
// not an error.
func Bind(store core.EntityStore, startID, endID core.EntityID, opts BindOptions) (core.EntityID, error) {
	if startID == endID {
		return "", ErrSameEndpoint
	}
	log := logrus.WithFields(logrus.Fields{"start_id": startID, "end_id": endID})

	var created core.EntityID
	err := store.Run(func(tx core.Tx) error {
		parent := core.Identity
		if opts.ParentID != "" {
			t, ok := tx.PageTransform(opts.ParentID)
			if !ok {
				return fmt.Errorf("%w: %s", ErrParentNotFound, opts.ParentID)
			}
			parent = t
		}

		startPage, ok := TerminalPagePoint(tx, startID, opts.Start.anchor())
		if !ok {
			return nil
		}
		endPage, ok := TerminalPagePoint(tx, endID, opts.End.anchor())
		if !ok {
			return nil
		}

		start := parent.ApplyInverse(startPage)
		end := parent.ApplyInverse(endPage)
		origin := core.MinVec(start, end)

		color := opts.Color
		if color == "" {
			color = defaultConnectorColor
		}

		id := core.EntityID(ulid.Make().String())
		tx.MarkHistoryStoppingPoint(connectorHistoryMark)
		if err := tx.CreateEntity(core.Entity{
			ID:       id,
			Kind:     core.KindConnector,
			ParentID: opts.ParentID,
			X:        origin.X,
			Y:        origin.Y,
			Props: &core.ConnectorProps{
				Start: start.Sub(origin),
				End:   end.Sub(origin),
				Color: color,
			},
		}); err != nil {
			return err
		}

		if err := tx.CreateBindings([]core.Binding{
			terminalBinding(id, startID, core.TerminalStart, opts.Start),
			terminalBinding(id, endID, core.TerminalEnd, opts.End),
		}); err != nil {
			return err
		}
		created = id
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to create connector")
		return "", err
	}
	if created == "" {
		log.Debug("Connector endpoints not resolvable, skipped")
		return "", nil
	}

	log.WithField("connector_id", created).Info("Connector created")
	return created, nil
}

// TerminalPagePoint maps a normalized anchor on an entity to page space,
// following the entity's rotation and every ancestor transform. A zero-size
// entity maps every anchor to its origin.
func TerminalPagePoint(r core.CanvasReader, id core.EntityID, anchor core.Vec) (core.Vec, bool) {
	ent, ok := r.GetEntity(id)
	if !ok || ent.Props == nil {
		return core.Vec{}, false
	}
	if _, ok := r.PageBounds(id); !ok {
		return core.Vec{}, false
	}
	t, ok := r.PageTransform(id)
	if !ok {
		return core.Vec{}, false
	}

	local := ent.Props.LocalBounds()
	p := local.Point().Add(anchor.MulV(local.Size()))
	return t.Apply(p), true
}

func terminalBinding(connectorID, targetID core.EntityID, terminal core.Terminal, opts TerminalOptions) core.Binding {
	return core.Binding{
		FromID:           connectorID,
		ToID:             targetID,
		Terminal:         terminal,
		NormalizedAnchor: opts.anchor(),
		IsExact:          opts.IsExact,
		IsPrecise:        opts.IsPrecise,
	}
}
