// Package planning implements the grid and route planner (C3):
// occupancy grid construction from a boundary polygon, boustrophedon
// coverage path generation, and A* point-to-point planning.
package planning

import (
	"math"

	"github.com/yusuftiryaki/mower/internal/errs"
	"github.com/yusuftiryaki/mower/internal/geo"
)

// Cell classifies one occupancy grid cell.
type Cell int

const (
	Free Cell = iota
	Obstacle
	Unknown
	Inflated
)

// InflationMetric selects how padding is grown around Obstacle cells.
type InflationMetric int

const (
	Chebyshev InflationMetric = iota
	Euclidean
)

// Grid is a finite 2D raster anchored at OriginX/OriginY in the local
// frame, matching the wider navigation stack's terrain-grid shape
// (origin, cell size, width, height) generalized to occupancy
// classification instead of elevation.
type Grid struct {
	OriginX, OriginY float64
	Resolution       float64 // meters per cell
	Width, Height    int
	cells            []Cell
}

// NewGrid allocates a width x height grid, all cells Unknown.
func NewGrid(originX, originY, resolution float64, width, height int) *Grid {
	cells := make([]Cell, width*height)
	for i := range cells {
		cells[i] = Unknown
	}
	return &Grid{OriginX: originX, OriginY: originY, Resolution: resolution, Width: width, Height: height, cells: cells}
}

func (g *Grid) index(cx, cy int) int { return cy*g.Width + cx }

// InBounds reports whether the cell coordinate is within the grid.
func (g *Grid) InBounds(cx, cy int) bool {
	return cx >= 0 && cx < g.Width && cy >= 0 && cy < g.Height
}

// At returns the cell classification; cells outside the grid are
// treated as Obstacle so planners never escape the raster.
func (g *Grid) At(cx, cy int) Cell {
	if !g.InBounds(cx, cy) {
		return Obstacle
	}
	return g.cells[g.index(cx, cy)]
}

// Set classifies a cell.
func (g *Grid) Set(cx, cy int, c Cell) {
	if g.InBounds(cx, cy) {
		g.cells[g.index(cx, cy)] = c
	}
}

// ToCell converts a local-frame point to grid coordinates.
func (g *Grid) ToCell(x, y float64) (int, int) {
	return int(math.Floor((x - g.OriginX) / g.Resolution)), int(math.Floor((y - g.OriginY) / g.Resolution))
}

// ToLocal returns the local-frame coordinate of a cell's center.
func (g *Grid) ToLocal(cx, cy int) (float64, float64) {
	return g.OriginX + (float64(cx)+0.5)*g.Resolution, g.OriginY + (float64(cy)+0.5)*g.Resolution
}

// BuildFromPolygon rasterizes a closed polygon (already projected to
// the local frame) into a grid sized to its bounding box plus margin,
// marking the interior Free and the exterior Obstacle, then inflates
// Obstacle cells by paddingMeters using the given metric.
func BuildFromPolygon(polygon []geo.Local, resolution, marginMeters, paddingMeters float64, metric InflationMetric) (*Grid, error) {
	if len(polygon) < 3 {
		return nil, errs.ErrEmptyPolygon
	}

	minX, minY := polygon[0].X, polygon[0].Y
	maxX, maxY := polygon[0].X, polygon[0].Y
	for _, p := range polygon {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	originX := minX - marginMeters
	originY := minY - marginMeters
	width := int(math.Ceil((maxX-minX+2*marginMeters)/resolution)) + 1
	height := int(math.Ceil((maxY-minY+2*marginMeters)/resolution)) + 1

	grid := NewGrid(originX, originY, resolution, width, height)

	for cy := 0; cy < height; cy++ {
		for cx := 0; cx < width; cx++ {
			lx, ly := grid.ToLocal(cx, cy)
			if pointInPolygon(lx, ly, polygon) {
				grid.Set(cx, cy, Free)
			} else {
				grid.Set(cx, cy, Obstacle)
			}
		}
	}

	inflate(grid, paddingMeters, metric)

	return grid, nil
}

// pointInPolygon is the standard even-odd ray-casting test.
func pointInPolygon(x, y float64, polygon []geo.Local) bool {
	inside := false
	n := len(polygon)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := polygon[i], polygon[j]
		if (pi.Y > y) != (pj.Y > y) {
			xIntersect := pj.X + (y-pj.Y)/(pi.Y-pj.Y)*(pi.X-pj.X)
			if x < xIntersect {
				inside = !inside
			}
		}
	}
	return inside
}

// inflate marks Free cells within paddingMeters of any Obstacle cell
// as Inflated, using the given distance metric.
func inflate(grid *Grid, paddingMeters float64, metric InflationMetric) {
	if paddingMeters <= 0 {
		return
	}
	radiusCells := int(math.Ceil(paddingMeters / grid.Resolution))

	obstacles := make([][2]int, 0)
	for cy := 0; cy < grid.Height; cy++ {
		for cx := 0; cx < grid.Width; cx++ {
			if grid.At(cx, cy) == Obstacle {
				obstacles = append(obstacles, [2]int{cx, cy})
			}
		}
	}

	toInflate := make(map[[2]int]bool)
	for _, o := range obstacles {
		for dy := -radiusCells; dy <= radiusCells; dy++ {
			for dx := -radiusCells; dx <= radiusCells; dx++ {
				var dist float64
				switch metric {
				case Chebyshev:
					dist = math.Max(math.Abs(float64(dx)), math.Abs(float64(dy))) * grid.Resolution
				default:
					dist = math.Hypot(float64(dx), float64(dy)) * grid.Resolution
				}
				if dist > paddingMeters {
					continue
				}
				cx, cy := o[0]+dx, o[1]+dy
				if grid.InBounds(cx, cy) && grid.At(cx, cy) == Free {
					toInflate[[2]int{cx, cy}] = true
				}
			}
		}
	}
	for c := range toInflate {
		grid.Set(c[0], c[1], Inflated)
	}
}
