// Package index provides the per-model spatial index used by broad-phase
// clash detection.
//
// The index is a uniform grid hash: each element is registered in every cell
// its bounding volume touches, and a query visits the cells the query box
// touches. The contract is conservative — Query returns a superset of the
// true geometric intersectors and never misses one. Callers pre-expand the
// query box by their tolerance; no tolerance is baked in here.
package index

import (
	"math"
	"sort"

	"github.com/fedra-bim/fedra/internal/geometry"
	"github.com/fedra-bim/fedra/internal/model"
)

// Cell size bounds. A cell far smaller than the median element explodes the
// bucket count; one far larger degrades toward a linear scan.
const (
	minCellSize     = 0.25
	maxCellSize     = 64.0
	defaultCellSize = 4.0
)

type cellKey struct {
	x, y, z int32
}

// Grid is an immutable uniform-grid spatial index over one model's elements.
// Build once, query concurrently; Grid is never mutated after Build returns.
type Grid struct {
	cellSize float64
	cells    map[cellKey][]int
	elements []model.Element
}

// Build constructs a grid over elements. The cell size is derived from the
// median element extent so dense mechanical models and sparse structural
// grids both hash reasonably.
func Build(elements []model.Element) *Grid {
	g := &Grid{
		cellSize: pickCellSize(elements),
		cells:    make(map[cellKey][]int),
		elements: elements,
	}
	for i, e := range elements {
		g.eachCell(e.Box, func(k cellKey) {
			g.cells[k] = append(g.cells[k], i)
		})
	}
	return g
}

// Len returns the number of indexed elements.
func (g *Grid) Len() int {
	return len(g.elements)
}

// Query visits every indexed element whose box intersects box (zero
// tolerance), plus possible false positives from shared cells that fail the
// exact check and are filtered out here. Each element is visited at most
// once per query. Returning false from fn stops the scan.
func (g *Grid) Query(box geometry.Box, fn func(model.Element) bool) {
	if len(g.elements) == 0 {
		return
	}
	seen := make(map[int]struct{})
	stop := false
	g.eachCell(box, func(k cellKey) {
		if stop {
			return
		}
		for _, i := range g.cells[k] {
			if _, ok := seen[i]; ok {
				continue
			}
			seen[i] = struct{}{}
			e := g.elements[i]
			if !e.Box.Intersects(box, 0) {
				continue
			}
			if !fn(e) {
				stop = true
				return
			}
		}
	})
}

// QueryAll collects every element intersecting box.
func (g *Grid) QueryAll(box geometry.Box) []model.Element {
	var out []model.Element
	g.Query(box, func(e model.Element) bool {
		out = append(out, e)
		return true
	})
	return out
}

// eachCell invokes fn for every grid cell the box touches. Degenerate boxes
// still cover at least the cell holding their min corner.
func (g *Grid) eachCell(box geometry.Box, fn func(cellKey)) {
	x0, x1 := g.cellRange(box.Min.X, box.Max.X)
	y0, y1 := g.cellRange(box.Min.Y, box.Max.Y)
	z0, z1 := g.cellRange(box.Min.Z, box.Max.Z)
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			for z := z0; z <= z1; z++ {
				fn(cellKey{x: x, y: y, z: z})
			}
		}
	}
}

func (g *Grid) cellRange(lo, hi float64) (int32, int32) {
	a := int32(math.Floor(lo / g.cellSize))
	b := int32(math.Floor(hi / g.cellSize))
	if b < a {
		b = a
	}
	return a, b
}

func pickCellSize(elements []model.Element) float64 {
	if len(elements) == 0 {
		return defaultCellSize
	}
	extents := make([]float64, 0, len(elements))
	for _, e := range elements {
		if ext := e.Box.MaxExtent(); ext > 0 {
			extents = append(extents, ext)
		}
	}
	if len(extents) == 0 {
		return defaultCellSize
	}
	sort.Float64s(extents)
	// Twice the median extent keeps a typical element inside a handful of cells.
	size := 2 * extents[len(extents)/2]
	if size < minCellSize {
		return minCellSize
	}
	if size > maxCellSize {
		return maxCellSize
	}
	return size
}
