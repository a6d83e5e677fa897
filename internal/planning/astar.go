package planning

import (
	"container/heap"
	"math"

	"github.com/yusuftiryaki/mower/internal/errs"
	"github.com/yusuftiryaki/mower/internal/types"
)

// InflatedPenalty multiplies the step cost of entering an Inflated
// cell, discouraging the path from hugging obstacles.
const InflatedPenalty = 3.0

type cellCoord struct{ x, y int }

var eightNeighbors = []cellCoord{
	{1, 0}, {-1, 0}, {0, 1}, {0, -1},
	{1, 1}, {1, -1}, {-1, 1}, {-1, -1},
}

type openItem struct {
	cell  cellCoord
	g, f  float64
	h     float64
	index int
}

type openQueue []*openItem

func (q openQueue) Len() int { return len(q) }
func (q openQueue) Less(i, j int) bool {
	// Ties broken by lower heuristic, then LIFO (most recently pushed
	// wins), per the tie-breaking rule in spec.md §4.2.
	if q[i].f != q[j].f {
		return q[i].f < q[j].f
	}
	if q[i].h != q[j].h {
		return q[i].h < q[j].h
	}
	return q[i].index > q[j].index
}
func (q openQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *openQueue) Push(x any)   { *q = append(*q, x.(*openItem)) }
func (q *openQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

func heuristic(a, b cellCoord) float64 {
	return math.Hypot(float64(a.x-b.x), float64(a.y-b.y))
}

// AStar finds a path from start to goal over the grid's 8-connected
// free space. Obstacle cells are impassable; Inflated cells cost
// InflatedPenalty times as much as Free cells. The returned path is
// smoothed by iterative line-of-sight pruning.
func AStar(grid *Grid, startX, startY, goalX, goalY float64) (*types.Path, error) {
	sx, sy := grid.ToCell(startX, startY)
	gx, gy := grid.ToCell(goalX, goalY)
	start := cellCoord{sx, sy}
	goal := cellCoord{gx, gy}

	if grid.At(goal.x, goal.y) == Obstacle {
		return nil, errs.ErrTargetObstructed
	}
	if grid.At(start.x, start.y) == Obstacle {
		return nil, errs.ErrTargetObstructed
	}

	gScore := map[cellCoord]float64{start: 0}
	cameFrom := map[cellCoord]cellCoord{}
	visited := map[cellCoord]bool{}

	pq := &openQueue{}
	heap.Init(pq)
	seq := 0
	heap.Push(pq, &openItem{cell: start, g: 0, f: heuristic(start, goal), h: heuristic(start, goal), index: seq})

	for pq.Len() > 0 {
		current := heap.Pop(pq).(*openItem)
		if visited[current.cell] {
			continue
		}
		visited[current.cell] = true

		if current.cell == goal {
			return buildPath(grid, cameFrom, start, goal)
		}

		for _, d := range eightNeighbors {
			next := cellCoord{current.cell.x + d.x, current.cell.y + d.y}
			if !grid.InBounds(next.x, next.y) {
				continue
			}
			cell := grid.At(next.x, next.y)
			if cell == Obstacle {
				continue
			}
			step := math.Hypot(float64(d.x), float64(d.y))
			if cell == Inflated {
				step *= InflatedPenalty
			}
			tentativeG := current.g + step
			if existing, ok := gScore[next]; !ok || tentativeG < existing {
				gScore[next] = tentativeG
				cameFrom[next] = current.cell
				seq++
				h := heuristic(next, goal)
				heap.Push(pq, &openItem{cell: next, g: tentativeG, f: tentativeG + h, h: h, index: seq})
			}
		}
	}

	return nil, errs.ErrPathNotFound
}

func buildPath(grid *Grid, cameFrom map[cellCoord]cellCoord, start, goal cellCoord) (*types.Path, error) {
	cells := []cellCoord{goal}
	for cells[len(cells)-1] != start {
		prev, ok := cameFrom[cells[len(cells)-1]]
		if !ok {
			return nil, errs.ErrPathNotFound
		}
		cells = append(cells, prev)
	}
	// Reverse into start->goal order.
	for i, j := 0, len(cells)-1; i < j; i, j = i+1, j-1 {
		cells[i], cells[j] = cells[j], cells[i]
	}

	smoothed := smoothCells(grid, cells)

	waypoints := make([]types.Waypoint, 0, len(smoothed))
	for _, c := range smoothed {
		x, y := grid.ToLocal(c.x, c.y)
		waypoints = append(waypoints, types.Waypoint{X: x, Y: y, Tolerance: grid.Resolution})
	}
	return &types.Path{Waypoints: waypoints}, nil
}

// smoothCells removes intermediate waypoints whose connecting segment
// is collision-free, by iterative line-of-sight pruning. Idempotent:
// smoothing an already-smoothed path is a no-op, since every remaining
// segment is by construction collision-free and no further
// intermediate point can be dropped.
func smoothCells(grid *Grid, cells []cellCoord) []cellCoord {
	if len(cells) <= 2 {
		return cells
	}
	result := []cellCoord{cells[0]}
	anchor := 0
	for i := 1; i < len(cells); i++ {
		if i == len(cells)-1 {
			result = append(result, cells[i])
			continue
		}
		if !lineOfSight(grid, cells[anchor], cells[i+1]) {
			result = append(result, cells[i])
			anchor = i
		}
	}
	return result
}

// lineOfSight walks a Bresenham line between a and b, reporting
// whether every traversed cell is Free or Inflated.
func lineOfSight(grid *Grid, a, b cellCoord) bool {
	x0, y0 := a.x, a.y
	x1, y1 := b.x, b.y
	dx := int(math.Abs(float64(x1 - x0)))
	dy := -int(math.Abs(float64(y1 - y0)))
	sx, sy := 1, 1
	if x0 >= x1 {
		sx = -1
	}
	if y0 >= y1 {
		sy = -1
	}
	err := dx + dy

	for {
		if grid.At(x0, y0) == Obstacle {
			return false
		}
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
	return true
}
