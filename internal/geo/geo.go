// Package geo converts between WGS84 geodetic coordinates and the local
// planar Cartesian frame the rest of the control stack operates in, and
// provides the range/bearing helpers used for dock approach and coverage
// planning. Range and bearing go through github.com/kellydunn/golang-geo,
// the same great-circle library the wider fleet's navigation layers use;
// the local-frame projection itself has no off-the-shelf equivalent in the
// example pack, so it is implemented directly against the formulas named
// in the spec (equirectangular approximation anchored at first fix).
package geo

import (
	"fmt"
	"math"

	geolib "github.com/kellydunn/golang-geo"
)

const earthRadiusMeters = 6371000.0

// Point is a decimal-degree geodetic coordinate.
type Point struct {
	Latitude  float64 // degrees, [-90, 90]
	Longitude float64 // degrees, (-180, 180]
}

// Valid reports whether p satisfies the data-model invariant in the spec.
func (p Point) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude > -180 && p.Longitude <= 180
}

// Local is a planar Cartesian coordinate in the anchor frame, meters.
type Local struct {
	X float64
	Y float64
}

// Anchor pins the local Cartesian frame's origin to the first accepted
// GNSS fix, per the spec's "anchor frame" definition. It is not safe for
// concurrent mutation; callers own exactly one Anchor and treat it as
// immutable once Fixed() is true.
type Anchor struct {
	origin Point
	fixed  bool
	// cosLat0 caches the anchor latitude's cosine for the equirectangular
	// scale factor so repeated projections don't recompute it.
	cosLat0 float64
}

// NewAnchor returns an unfixed anchor; the first call to Fix establishes
// the origin.
func NewAnchor() *Anchor {
	return &Anchor{}
}

// Fix sets the anchor origin. Subsequent calls are no-ops: the anchor
// frame's origin is fixed for the lifetime of a mission.
func (a *Anchor) Fix(origin Point) {
	if a.fixed {
		return
	}
	a.origin = origin
	a.cosLat0 = math.Cos(origin.Latitude * math.Pi / 180)
	a.fixed = true
}

// Fixed reports whether the anchor has been established.
func (a *Anchor) Fixed() bool { return a.fixed }

// Origin returns the anchor's geodetic origin. Only valid once Fixed().
func (a *Anchor) Origin() Point { return a.origin }

// ToLocal projects a geodetic point into the anchor frame using an
// equirectangular approximation, valid to sub-millimeter error within the
// few-kilometer scale a mowing robot operates at.
func (a *Anchor) ToLocal(p Point) (Local, error) {
	if !a.fixed {
		return Local{}, fmt.Errorf("geo: anchor not fixed")
	}
	dLat := (p.Latitude - a.origin.Latitude) * math.Pi / 180
	dLon := (p.Longitude - a.origin.Longitude) * math.Pi / 180
	return Local{
		X: dLon * a.cosLat0 * earthRadiusMeters,
		Y: dLat * earthRadiusMeters,
	}, nil
}

// ToGeodetic is the inverse of ToLocal.
func (a *Anchor) ToGeodetic(l Local) (Point, error) {
	if !a.fixed {
		return Point{}, fmt.Errorf("geo: anchor not fixed")
	}
	dLat := l.Y / earthRadiusMeters
	dLon := l.X / (a.cosLat0 * earthRadiusMeters)
	return Point{
		Latitude:  a.origin.Latitude + dLat*180/math.Pi,
		Longitude: a.origin.Longitude + dLon*180/math.Pi,
	}, nil
}

// HaversineDistance returns the great-circle distance between two
// geodetic points in meters.
func HaversineDistance(a, b Point) float64 {
	pa := geolib.NewPoint(a.Latitude, a.Longitude)
	pb := geolib.NewPoint(b.Latitude, b.Longitude)
	return pa.GreatCircleDistance(pb) * 1000.0 // km -> m
}

// InitialBearing returns the initial bearing from a to b, in radians,
// normalized to (-pi, pi] to match the rest of the stack's angle
// convention (the underlying library reports degrees in [0, 360)).
func InitialBearing(a, b Point) float64 {
	pa := geolib.NewPoint(a.Latitude, a.Longitude)
	pb := geolib.NewPoint(b.Latitude, b.Longitude)
	deg := pa.BearingTo(pb)
	rad := deg * math.Pi / 180
	return NormalizeAngle(rad)
}

// NormalizeAngle wraps theta into (-pi, pi], the invariant every Pose
// heading in the stack must satisfy.
func NormalizeAngle(theta float64) float64 {
	for theta > math.Pi {
		theta -= 2 * math.Pi
	}
	for theta <= -math.Pi {
		theta += 2 * math.Pi
	}
	return theta
}
