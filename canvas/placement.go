package canvas

import (
	"math"

	"genui-canvas/core"
)

const (
	DefaultPadding     = 50
	DefaultMaxAttempts = 20

	gridColumns = 4
)

// PlacementRequest describes the card that needs a spot.
type PlacementRequest struct {
	Width  float64
	Height float64
	// Padding is the minimum gap kept to existing bounds. Zero means
	// DefaultPadding.
	Padding float64
	// MaxAttempts bounds the grid search. Zero means DefaultMaxAttempts.
	MaxAttempts int
}

// WithDefaults fills unset fields.
func (r PlacementRequest) WithDefaults() PlacementRequest {
	if r.Padding == 0 {
		r.Padding = DefaultPadding
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = DefaultMaxAttempts
	}
	return r
}

// Overlaps reports whether a and b come closer than padding on both axes.
// Rectangles exactly padding apart on either axis do not overlap.
func Overlaps(a, b core.Bounds, padding float64) bool {
	return !(a.MinX >= b.MaxX+padding ||
		a.MaxX <= b.MinX-padding ||
		a.MinY >= b.MaxY+padding ||
		a.MaxY <= b.MinY-padding)
}

// Plan returns the top-left corner for a new card. It continues the row to
// the right of everything on the page, then starts a new row below, then
// scans a grid anchored at the viewport, and finally settles for the
// viewport centre. It never fails.
func Plan(existing []core.Bounds, viewport core.Bounds, req PlacementRequest) core.Vec {
	req = req.WithDefaults()
	w, h, pad := req.Width, req.Height, req.Padding

	centered := viewport.Center().Sub(core.Vec{X: w / 2, Y: h / 2})
	if len(existing) == 0 {
		return centered
	}

	free := func(p core.Vec) bool {
		candidate := core.BoundsAt(p, w, h)
		for _, b := range existing {
			if Overlaps(candidate, b, pad) {
				return false
			}
		}
		return true
	}

	start := centered
	rightmost, bottommost := math.Inf(-1), math.Inf(-1)
	for _, b := range existing {
		rightmost = math.Max(rightmost, b.MaxX)
		bottommost = math.Max(bottommost, b.MaxY)
	}

	if p := (core.Vec{X: rightmost + pad, Y: start.Y}); free(p) {
		return p
	}
	if p := (core.Vec{X: start.X, Y: bottommost + pad}); free(p) {
		return p
	}
	if p, ok := gridSearch(free, viewport, math.Max(w, h)+pad, req.MaxAttempts); ok {
		return p
	}

	// Visible beats non-overlapping.
	return centered
}

// gridSearch scans cells of a fixed-width grid anchored at the viewport's
// top-left corner, row by row, and returns the first free one.
func gridSearch(free func(core.Vec) bool, viewport core.Bounds, cell float64, attempts int) (core.Vec, bool) {
	for attempt := 0; attempt < attempts; attempt++ {
		row, col := attempt/gridColumns, attempt%gridColumns
		p := core.Vec{
			X: viewport.MinX + float64(col)*cell,
			Y: viewport.MinY + float64(row)*cell,
		}
		if free(p) {
			return p, true
		}
	}
	return core.Vec{}, false
}

// PlaceCard plans against a fresh snapshot of r.
func PlaceCard(r core.CanvasReader, req PlacementRequest) core.Vec {
	return Plan(Snapshot(r), r.ViewportBounds(), req)
}
