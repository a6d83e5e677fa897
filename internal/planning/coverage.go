package planning

import (
	"math"
	"sort"

	"github.com/yusuftiryaki/mower/internal/errs"
	"github.com/yusuftiryaki/mower/internal/geo"
	"github.com/yusuftiryaki/mower/internal/types"
)

// CoverageParams parameterizes boustrophedon generation.
type CoverageParams struct {
	BrushWidth     float64
	Overlap        float64
	MaxWaypointStep float64
}

// stripWidth is the boustrophedon's scanline spacing.
func (p CoverageParams) stripWidth() float64 {
	return p.BrushWidth - p.Overlap
}

// Coverage generates a back-and-forth path over the polygon interior,
// oriented along the polygon's major axis (by PCA on the boundary
// points), clipped to the interior on each scanline, with successive
// scanlines joined by minimal connectors.
func Coverage(polygon []geo.Local, params CoverageParams) (*types.Path, error) {
	if len(polygon) < 3 {
		return nil, errs.ErrEmptyPolygon
	}
	if params.stripWidth() <= 0 {
		return nil, errs.New(errs.KindPlanning, "planning.Coverage", "brush_width - overlap must be > 0")
	}

	axis, perp, centroid := majorAxis(polygon)

	// Project the polygon into the (axis, perp) frame to find the
	// scan range along the minor axis.
	minPerp, maxPerp := math.Inf(1), math.Inf(-1)
	minAxis, maxAxis := math.Inf(1), math.Inf(-1)
	for _, v := range polygon {
		dx, dy := v.X-centroid.X, v.Y-centroid.Y
		a := dx*axis.X + dy*axis.Y
		p := dx*perp.X + dy*perp.Y
		minAxis, maxAxis = math.Min(minAxis, a), math.Max(maxAxis, a)
		minPerp, maxPerp = math.Min(minPerp, p), math.Max(maxPerp, p)
	}

	strip := params.stripWidth()
	numStrips := int(math.Ceil((maxPerp - minPerp) / strip))

	var waypoints []types.Waypoint
	forward := true
	for i := 0; i < numStrips; i++ {
		perpOffset := minPerp + (float64(i)+0.5)*strip
		if perpOffset > maxPerp {
			perpOffset = maxPerp - 1e-9
		}
		p0 := geo.Local{
			X: centroid.X + axis.X*minAxis + perp.X*perpOffset,
			Y: centroid.Y + axis.Y*minAxis + perp.Y*perpOffset,
		}
		p1 := geo.Local{
			X: centroid.X + axis.X*maxAxis + perp.X*perpOffset,
			Y: centroid.Y + axis.Y*maxAxis + perp.Y*perpOffset,
		}

		segment := clipSegmentToPolygon(p0, p1, polygon)
		if segment == nil {
			continue
		}
		a, b := segment[0], segment[1]
		if !forward {
			a, b = b, a
		}
		waypoints = append(waypoints, subdivide(a, b, params.MaxWaypointStep)...)
		forward = !forward
	}

	if len(waypoints) == 0 {
		return nil, errs.ErrPathNotFound
	}

	return &types.Path{Waypoints: waypoints}, nil
}

// majorAxis returns the polygon's principal axis (via PCA on the
// boundary vertices), its perpendicular, and the vertex centroid.
func majorAxis(polygon []geo.Local) (axis, perp, centroid geo.Local) {
	var cx, cy float64
	for _, v := range polygon {
		cx += v.X
		cy += v.Y
	}
	n := float64(len(polygon))
	cx, cy = cx/n, cy/n
	centroid = geo.Local{X: cx, Y: cy}

	var sxx, sxy, syy float64
	for _, v := range polygon {
		dx, dy := v.X-cx, v.Y-cy
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	sxx, sxy, syy = sxx/n, sxy/n, syy/n

	// Principal eigenvector of the 2x2 covariance [[sxx, sxy],[sxy, syy]].
	theta := 0.5 * math.Atan2(2*sxy, sxx-syy)
	axis = geo.Local{X: math.Cos(theta), Y: math.Sin(theta)}
	perp = geo.Local{X: -axis.Y, Y: axis.X}
	return axis, perp, centroid
}

// clipSegmentToPolygon intersects the infinite scanline through p0-p1
// with the polygon boundary and returns the entry/exit points of the
// longest interior span, or nil if the scanline misses the polygon.
func clipSegmentToPolygon(p0, p1 geo.Local, polygon []geo.Local) []geo.Local {
	dirX, dirY := p1.X-p0.X, p1.Y-p0.Y
	length := math.Hypot(dirX, dirY)
	if length == 0 {
		return nil
	}
	dirX, dirY = dirX/length, dirY/length

	var ts []float64
	n := len(polygon)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := polygon[j], polygon[i]
		t, hit := lineSegmentIntersectParam(p0, geo.Local{X: dirX, Y: dirY}, a, b)
		if hit {
			ts = append(ts, t)
		}
	}
	if len(ts) < 2 {
		return nil
	}
	sort.Float64s(ts)
	tMin, tMax := ts[0], ts[len(ts)-1]

	return []geo.Local{
		{X: p0.X + dirX*tMin, Y: p0.Y + dirY*tMin},
		{X: p0.X + dirX*tMax, Y: p0.Y + dirY*tMax},
	}
}

// lineSegmentIntersectParam intersects the ray origin+t*dir with
// segment a-b, returning the ray parameter t and whether the
// intersection lies within the segment.
func lineSegmentIntersectParam(origin, dir, a, b geo.Local) (float64, bool) {
	ex, ey := b.X-a.X, b.Y-a.Y
	denom := dir.X*ey - dir.Y*ex
	if math.Abs(denom) < 1e-12 {
		return 0, false
	}
	diffX, diffY := a.X-origin.X, a.Y-origin.Y
	t := (diffX*ey - diffY*ex) / denom
	u := (diffX*dir.Y - diffY*dir.X) / denom
	if u < 0 || u > 1 {
		return 0, false
	}
	return t, true
}

// subdivide splits segment a-b into waypoints no farther apart than
// maxStep.
func subdivide(a, b geo.Local, maxStep float64) []types.Waypoint {
	length := math.Hypot(b.X-a.X, b.Y-a.Y)
	if maxStep <= 0 || length <= maxStep {
		return []types.Waypoint{{X: a.X, Y: a.Y, Tolerance: 0.1}, {X: b.X, Y: b.Y, Tolerance: 0.1}}
	}
	n := int(math.Ceil(length / maxStep))
	waypoints := make([]types.Waypoint, 0, n+1)
	for i := 0; i <= n; i++ {
		t := float64(i) / float64(n)
		waypoints = append(waypoints, types.Waypoint{
			X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t, Tolerance: 0.1,
		})
	}
	return waypoints
}
