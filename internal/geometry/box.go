// Package geometry provides the axis-aligned bounding volume math used by
// clash detection. All types are immutable values; every operation is pure.
package geometry

import "math"

// Point3 is a point in project coordinates. Units are whatever the model
// loader delivered — the engine assumes one consistent unit system.
type Point3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Box is an axis-aligned bounding volume. Invariant: Min <= Max on every
// axis. Degenerate boxes (zero extent on an axis) are legal; an empty box
// never intersects anything when queried with zero tolerance.
type Box struct {
	Min Point3 `json:"min"`
	Max Point3 `json:"max"`
}

// NewBox builds a box from two opposite corners in any order.
func NewBox(a, b Point3) Box {
	return Box{
		Min: Point3{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y), Z: math.Min(a.Z, b.Z)},
		Max: Point3{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y), Z: math.Max(a.Z, b.Z)},
	}
}

// Intersects reports whether b and other overlap when both are inflated by
// tol. Touching faces count as intersecting. The check is symmetric in its
// arguments for any tol >= 0.
func (b Box) Intersects(other Box, tol float64) bool {
	return b.Min.X-tol <= other.Max.X && b.Max.X+tol >= other.Min.X &&
		b.Min.Y-tol <= other.Max.Y && b.Max.Y+tol >= other.Min.Y &&
		b.Min.Z-tol <= other.Max.Z && b.Max.Z+tol >= other.Min.Z
}

// Expand returns a copy grown by d on every axis in both directions.
// Negative d shrinks the box; callers are responsible for not inverting it.
func (b Box) Expand(d float64) Box {
	return Box{
		Min: Point3{X: b.Min.X - d, Y: b.Min.Y - d, Z: b.Min.Z - d},
		Max: Point3{X: b.Max.X + d, Y: b.Max.Y + d, Z: b.Max.Z + d},
	}
}

// Center returns the box midpoint.
func (b Box) Center() Point3 {
	return Point3{
		X: (b.Min.X + b.Max.X) / 2,
		Y: (b.Min.Y + b.Max.Y) / 2,
		Z: (b.Min.Z + b.Max.Z) / 2,
	}
}

// Contains reports whether p lies inside or on the boundary of b.
func (b Box) Contains(p Point3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Overlap returns the intersection region of b and other. ok is false when
// the overlap extent is not strictly positive on every axis — touching faces
// produce no overlap volume and report false.
func (b Box) Overlap(other Box) (Box, bool) {
	o := Box{
		Min: Point3{
			X: math.Max(b.Min.X, other.Min.X),
			Y: math.Max(b.Min.Y, other.Min.Y),
			Z: math.Max(b.Min.Z, other.Min.Z),
		},
		Max: Point3{
			X: math.Min(b.Max.X, other.Max.X),
			Y: math.Min(b.Max.Y, other.Max.Y),
			Z: math.Min(b.Max.Z, other.Max.Z),
		},
	}
	if o.Max.X-o.Min.X <= 0 || o.Max.Y-o.Min.Y <= 0 || o.Max.Z-o.Min.Z <= 0 {
		return Box{}, false
	}
	return o, true
}

// Volume returns the box volume in cubic project units.
// Degenerate boxes have zero volume.
func (b Box) Volume() float64 {
	dx := b.Max.X - b.Min.X
	dy := b.Max.Y - b.Min.Y
	dz := b.Max.Z - b.Min.Z
	if dx < 0 || dy < 0 || dz < 0 {
		return 0
	}
	return dx * dy * dz
}

// Distance returns the Euclidean distance between the closest points of the
// two boxes, or 0 when they overlap or touch.
func (b Box) Distance(other Box) float64 {
	gx := axisGap(b.Min.X, b.Max.X, other.Min.X, other.Max.X)
	gy := axisGap(b.Min.Y, b.Max.Y, other.Min.Y, other.Max.Y)
	gz := axisGap(b.Min.Z, b.Max.Z, other.Min.Z, other.Max.Z)
	return math.Sqrt(gx*gx + gy*gy + gz*gz)
}

// NearEqual reports whether both corners of the two boxes coincide within
// tol on every axis. Used by duplicate detection.
func (b Box) NearEqual(other Box, tol float64) bool {
	return math.Abs(b.Min.X-other.Min.X) <= tol && math.Abs(b.Max.X-other.Max.X) <= tol &&
		math.Abs(b.Min.Y-other.Min.Y) <= tol && math.Abs(b.Max.Y-other.Max.Y) <= tol &&
		math.Abs(b.Min.Z-other.Min.Z) <= tol && math.Abs(b.Max.Z-other.Max.Z) <= tol
}

// IsDegenerate reports whether the box has zero (or negative) extent on any axis.
func (b Box) IsDegenerate() bool {
	return b.Max.X-b.Min.X <= 0 || b.Max.Y-b.Min.Y <= 0 || b.Max.Z-b.Min.Z <= 0
}

// MaxExtent returns the largest axis extent of the box.
func (b Box) MaxExtent() float64 {
	return math.Max(b.Max.X-b.Min.X, math.Max(b.Max.Y-b.Min.Y, b.Max.Z-b.Min.Z))
}

// axisGap is the separation between intervals [aMin,aMax] and [bMin,bMax],
// 0 when they overlap.
func axisGap(aMin, aMax, bMin, bMax float64) float64 {
	if aMax < bMin {
		return bMin - aMax
	}
	if bMax < aMin {
		return aMin - bMax
	}
	return 0
}

// Midpoint returns the point halfway between the closest points of the two
// boxes. For overlapping boxes this is the center of the overlap region.
func Midpoint(a, b Box) Point3 {
	if o, ok := a.Overlap(b); ok {
		return o.Center()
	}
	return Point3{
		X: axisMid(a.Min.X, a.Max.X, b.Min.X, b.Max.X),
		Y: axisMid(a.Min.Y, a.Max.Y, b.Min.Y, b.Max.Y),
		Z: axisMid(a.Min.Z, a.Max.Z, b.Min.Z, b.Max.Z),
	}
}

func axisMid(aMin, aMax, bMin, bMax float64) float64 {
	if aMax < bMin {
		return (aMax + bMin) / 2
	}
	if bMax < aMin {
		return (bMax + aMin) / 2
	}
	// Overlapping interval: midpoint of the shared range.
	return (math.Max(aMin, bMin) + math.Min(aMax, bMax)) / 2
}
