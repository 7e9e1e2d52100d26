package core

import "math"

type (
	// Vec is a point or a size in page space.
	Vec struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}

	// Bounds is an axis-aligned rectangle in page space.
	Bounds struct {
		MinX float64 `json:"minX"`
		MinY float64 `json:"minY"`
		MaxX float64 `json:"maxX"`
		MaxY float64 `json:"maxY"`
	}

	// Transform is a rigid transform: rotate about the local origin, then
	// translate to Origin. Entities never scale, so this is all the host needs
	// to map local points into page space.
	Transform struct {
		Origin   Vec     `json:"origin"`
		Rotation float64 `json:"rotation"`
	}
)

func (v Vec) Add(o Vec) Vec { return Vec{v.X + o.X, v.Y + o.Y} }

func (v Vec) Sub(o Vec) Vec { return Vec{v.X - o.X, v.Y - o.Y} }

func (v Vec) Mul(s float64) Vec { return Vec{v.X * s, v.Y * s} }

// MulV multiplies component-wise.
func (v Vec) MulV(o Vec) Vec { return Vec{v.X * o.X, v.Y * o.Y} }

// Rot rotates v about the origin by r radians.
func (v Vec) Rot(r float64) Vec {
	if r == 0 {
		return v
	}
	sin, cos := math.Sincos(r)
	return Vec{v.X*cos - v.Y*sin, v.X*sin + v.Y*cos}
}

// MinVec returns the component-wise minimum of a and b.
func MinVec(a, b Vec) Vec {
	return Vec{math.Min(a.X, b.X), math.Min(a.Y, b.Y)}
}

func (b Bounds) Width() float64  { return b.MaxX - b.MinX }
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

// Point is the top-left corner.
func (b Bounds) Point() Vec { return Vec{b.MinX, b.MinY} }

func (b Bounds) Size() Vec { return Vec{b.Width(), b.Height()} }

func (b Bounds) Center() Vec {
	return Vec{(b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2}
}

// Valid reports whether every coordinate is finite and the extent is not
// negative. Zero-size bounds are valid.
func (b Bounds) Valid() bool {
	for _, f := range [...]float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return b.MaxX >= b.MinX && b.MaxY >= b.MinY
}

// Union returns the smallest bounds covering b and o.
func (b Bounds) Union(o Bounds) Bounds {
	return Bounds{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// BoundsAt builds bounds from a top-left point and a size.
func BoundsAt(p Vec, w, h float64) Bounds {
	return Bounds{MinX: p.X, MinY: p.Y, MaxX: p.X + w, MaxY: p.Y + h}
}

// BoundsFromPoints returns the axis-aligned box around pts. It panics on an
// empty slice, callers always have at least one point.
func BoundsFromPoints(pts ...Vec) Bounds {
	b := Bounds{MinX: pts[0].X, MinY: pts[0].Y, MaxX: pts[0].X, MaxY: pts[0].Y}
	for _, p := range pts[1:] {
		b.MinX = math.Min(b.MinX, p.X)
		b.MinY = math.Min(b.MinY, p.Y)
		b.MaxX = math.Max(b.MaxX, p.X)
		b.MaxY = math.Max(b.MaxY, p.Y)
	}
	return b
}

// Identity leaves every point where it is.
var Identity = Transform{}

// Apply maps a local point into the transform's target space.
func (t Transform) Apply(p Vec) Vec {
	return t.Origin.Add(p.Rot(t.Rotation))
}

// ApplyInverse maps a point from the target space back into local space.
func (t Transform) ApplyInverse(p Vec) Vec {
	return p.Sub(t.Origin).Rot(-t.Rotation)
}

// Then composes a child transform expressed in t's local space, giving the
// child's transform in t's target space.
func (t Transform) Then(child Transform) Transform {
	return Transform{
		Origin:   t.Apply(child.Origin),
		Rotation: t.Rotation + child.Rotation,
	}
}

// Inverse returns the transform that undoes t.
func (t Transform) Inverse() Transform {
	return Transform{
		Origin:   t.Origin.Mul(-1).Rot(-t.Rotation),
		Rotation: -t.Rotation,
	}
}

// ApplyBounds transforms the four corners of local and returns their
// axis-aligned box.
func (t Transform) ApplyBounds(local Bounds) Bounds {
	return BoundsFromPoints(
		t.Apply(Vec{local.MinX, local.MinY}),
		t.Apply(Vec{local.MaxX, local.MinY}),
		t.Apply(Vec{local.MaxX, local.MaxY}),
		t.Apply(Vec{local.MinX, local.MaxY}),
	)
}
