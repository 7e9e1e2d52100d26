// Package canvas places generated cards on a host canvas, links them to the
// card they came from, and keeps each card in step with its content stream.
//
// Nothing here holds shape state. Every decision is taken against what the
// host store reports at the moment it is asked, and every multi-step
// mutation goes through core.EntityStore.Run.
package canvas

import "genui-canvas/core"

// Snapshot returns the page bounds of every measurable entity on the current
// page. The result can be shorter than the entity list: entities of an
// unknown kind, without props, or whose bounds are missing or degenerate are
// left out.
func Snapshot(r core.CanvasReader) []core.Bounds {
	return SnapshotEntities(r.CurrentPageEntities(), r.PageBounds)
}

// SnapshotEntities is Snapshot over an explicit entity list and bounds
// resolver.
func SnapshotEntities(entities []core.Entity, resolve func(core.EntityID) (core.Bounds, bool)) []core.Bounds {
	out := make([]core.Bounds, 0, len(entities))
	for _, ent := range entities {
		if !measurable(ent) {
			continue
		}
		b, ok := resolve(ent.ID)
		if !ok || !b.Valid() {
			continue
		}
		out = append(out, b)
	}
	return out
}

func measurable(ent core.Entity) bool {
	if ent.Props == nil {
		return false
	}
	switch ent.Kind {
	case core.KindCard, core.KindConnector, core.KindFrame:
		return ent.Props.Kind() == ent.Kind
	default:
		return false
	}
}
