package canvas

import (
	"time"

	"genui-canvas/core"
)

const DefaultCameraDuration = 200 * time.Millisecond

// CenterCamera animates the view onto one entity. The host zooms to the
// selection, so the entity is selected for the move and the user's own
// selection is put back afterwards.
func CenterCamera(store core.EntityStore, id core.EntityID, duration time.Duration) {
	_ = store.Run(func(tx core.Tx) error {
		centerInTx(tx, id, duration)
		return nil
	})
}

func centerInTx(tx core.Tx, id core.EntityID, duration time.Duration) {
	if _, ok := tx.GetEntity(id); !ok {
		return
	}
	prior := tx.SelectedIDs()
	tx.Deselect(prior...)
	tx.Select(id)
	tx.ZoomToSelection(core.Animation{Duration: duration})
	tx.Deselect(id)
	tx.Select(prior...)
}
