package geometry

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(x1, y1, z1, x2, y2, z2 float64) Box {
	return NewBox(Point3{X: x1, Y: y1, Z: z1}, Point3{X: x2, Y: y2, Z: z2})
}

func TestNewBoxNormalizesCorners(t *testing.T) {
	b := NewBox(Point3{X: 10, Y: -2, Z: 5}, Point3{X: 0, Y: 3, Z: -5})
	assert.Equal(t, Point3{X: 0, Y: -2, Z: -5}, b.Min)
	assert.Equal(t, Point3{X: 10, Y: 3, Z: 5}, b.Max)
}

func TestIntersects(t *testing.T) {
	tests := []struct {
		name string
		a, b Box
		tol  float64
		want bool
	}{
		{"overlapping", box(0, 0, 0, 10, 10, 10), box(5, 5, 5, 15, 15, 15), 0, true},
		{"identical", box(0, 0, 0, 1, 1, 1), box(0, 0, 0, 1, 1, 1), 0, true},
		{"contained", box(0, 0, 0, 10, 10, 10), box(2, 2, 2, 3, 3, 3), 0, true},
		{"separated x", box(0, 0, 0, 1, 1, 1), box(2, 0, 0, 3, 1, 1), 0, false},
		{"separated y", box(0, 0, 0, 1, 1, 1), box(0, 2, 0, 1, 3, 1), 0, false},
		{"separated z", box(0, 0, 0, 1, 1, 1), box(0, 0, 2, 1, 1, 3), 0, false},
		{"touching faces", box(0, 0, 0, 1, 1, 1), box(1, 0, 0, 2, 1, 1), 0, true},
		{"gap closed by tolerance", box(0, 0, 0, 1, 1, 1), box(1.5, 0, 0, 2, 1, 1), 0.5, true},
		{"gap wider than tolerance", box(0, 0, 0, 1, 1, 1), box(1.5, 0, 0, 2, 1, 1), 0.4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Intersects(tt.b, tt.tol))
			// Symmetry must hold for every pair.
			assert.Equal(t, tt.want, tt.b.Intersects(tt.a, tt.tol))
		})
	}
}

func TestIntersectsToleranceMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		a := NewBox(randPoint(rng), randPoint(rng))
		b := NewBox(randPoint(rng), randPoint(rng))
		t1 := rng.Float64() * 2
		t2 := t1 + rng.Float64()*2
		if a.Intersects(b, t1) {
			assert.True(t, a.Intersects(b, t2),
				"intersecting at tol %v must intersect at larger tol %v", t1, t2)
		}
	}
}

func TestOverlap(t *testing.T) {
	a := box(0, 0, 0, 10, 10, 10)
	b := box(5, 5, 5, 15, 15, 15)

	o, ok := a.Overlap(b)
	require.True(t, ok)
	assert.Equal(t, box(5, 5, 5, 10, 10, 10), o)
	assert.InDelta(t, 125.0, o.Volume(), 1e-9)
	assert.Equal(t, Point3{X: 7.5, Y: 7.5, Z: 7.5}, o.Center())

	// Touching faces share no volume.
	_, ok = a.Overlap(box(10, 0, 0, 20, 10, 10))
	assert.False(t, ok)

	// Fully separated.
	_, ok = a.Overlap(box(20, 20, 20, 30, 30, 30))
	assert.False(t, ok)
}

func TestDistance(t *testing.T) {
	a := box(0, 0, 0, 10, 10, 10)

	// Gap of 1 along x only.
	assert.InDelta(t, 1.0, a.Distance(box(11, 0, 0, 20, 10, 10)), 1e-9)
	// Overlapping boxes have distance 0.
	assert.Zero(t, a.Distance(box(5, 5, 5, 15, 15, 15)))
	// Touching boxes have distance 0.
	assert.Zero(t, a.Distance(box(10, 0, 0, 20, 10, 10)))
	// Diagonal gap combines axes.
	d := a.Distance(box(13, 14, 0, 20, 20, 10))
	assert.InDelta(t, 5.0, d, 1e-9) // sqrt(3^2 + 4^2)
}

func TestExpandAndContains(t *testing.T) {
	b := box(0, 0, 0, 2, 2, 2)
	e := b.Expand(1)
	assert.Equal(t, box(-1, -1, -1, 3, 3, 3), e)
	assert.True(t, e.Contains(Point3{X: -1, Y: 0, Z: 3}))
	assert.False(t, e.Contains(Point3{X: -1.01, Y: 0, Z: 0}))
}

func TestDegenerateBoxes(t *testing.T) {
	flat := box(0, 0, 0, 10, 10, 0) // zero z extent
	assert.True(t, flat.IsDegenerate())
	assert.Zero(t, flat.Volume())

	// A degenerate box can still intersect per the tolerance contract,
	// but it never produces overlap volume.
	_, ok := flat.Overlap(box(0, 0, -1, 10, 10, 1))
	assert.False(t, ok)
}

func TestNearEqual(t *testing.T) {
	a := box(0, 0, 0, 5, 5, 5)
	assert.True(t, a.NearEqual(box(0.01, -0.01, 0, 5.01, 5, 4.99), 0.011))
	assert.False(t, a.NearEqual(box(0.5, 0, 0, 5.5, 5, 5), 0.1))
}

func TestMidpoint(t *testing.T) {
	a := box(0, 0, 0, 10, 10, 10)
	// Overlapping: center of the shared region.
	assert.Equal(t, Point3{X: 7.5, Y: 7.5, Z: 7.5}, Midpoint(a, box(5, 5, 5, 15, 15, 15)))
	// Separated along x: halfway across the gap, shared range elsewhere.
	m := Midpoint(a, box(12, 0, 0, 20, 10, 10))
	assert.InDelta(t, 11.0, m.X, 1e-9)
	assert.InDelta(t, 5.0, m.Y, 1e-9)
}

func randPoint(rng *rand.Rand) Point3 {
	return Point3{
		X: rng.Float64()*20 - 10,
		Y: rng.Float64()*20 - 10,
		Z: rng.Float64()*20 - 10,
	}
}

func TestVolumeNeverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		b := NewBox(randPoint(rng), randPoint(rng))
		require.False(t, math.Signbit(b.Volume()))
	}
}
