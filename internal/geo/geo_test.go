package geo

import (
	"math"
	"testing"
)

func TestAnchor_RoundTrip(t *testing.T) {
	origin := Point{Latitude: 41.015137, Longitude: 28.979530}
	anchor := NewAnchor()
	anchor.Fix(origin)

	// Points within a 1 km square of the anchor, per the round-trip
	// property's stated bound.
	offsets := []Point{
		{Latitude: 41.015137, Longitude: 28.979530},
		{Latitude: 41.019, Longitude: 28.982},
		{Latitude: 41.011, Longitude: 28.975},
		{Latitude: 41.0160, Longitude: 28.9840},
	}

	for _, p := range offsets {
		local, err := anchor.ToLocal(p)
		if err != nil {
			t.Fatalf("ToLocal: %v", err)
		}
		back, err := anchor.ToGeodetic(local)
		if err != nil {
			t.Fatalf("ToGeodetic: %v", err)
		}
		if math.Abs(back.Latitude-p.Latitude) > 1e-6 {
			t.Errorf("latitude round trip: got %v, want %v", back.Latitude, p.Latitude)
		}
		if math.Abs(back.Longitude-p.Longitude) > 1e-6 {
			t.Errorf("longitude round trip: got %v, want %v", back.Longitude, p.Longitude)
		}
	}
}

func TestAnchor_FixIsSticky(t *testing.T) {
	anchor := NewAnchor()
	first := Point{Latitude: 41.0, Longitude: 29.0}
	anchor.Fix(first)
	anchor.Fix(Point{Latitude: 50.0, Longitude: 10.0})

	if anchor.Origin() != first {
		t.Errorf("second Fix call mutated origin: got %v, want %v", anchor.Origin(), first)
	}
}

func TestNormalizeAngle(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{0, 0},
		{math.Pi, math.Pi},
		{-math.Pi, math.Pi},
		{3 * math.Pi, math.Pi},
		{-3 * math.Pi, math.Pi},
		{math.Pi / 2, math.Pi / 2},
	}
	for _, c := range cases {
		got := NormalizeAngle(c.in)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("NormalizeAngle(%v) = %v, want %v", c.in, got, c.want)
		}
		if got <= -math.Pi || got > math.Pi {
			t.Errorf("NormalizeAngle(%v) = %v out of (-pi, pi] range", c.in, got)
		}
	}
}

func TestHaversineDistance_ZeroForSamePoint(t *testing.T) {
	p := Point{Latitude: 41.0, Longitude: 29.0}
	d := HaversineDistance(p, p)
	if math.Abs(d) > 1e-6 {
		t.Errorf("distance between identical points = %v, want ~0", d)
	}
}

func TestHaversineDistance_KnownSeparation(t *testing.T) {
	// Roughly 1 degree of latitude is about 111 km.
	a := Point{Latitude: 41.0, Longitude: 29.0}
	b := Point{Latitude: 42.0, Longitude: 29.0}
	d := HaversineDistance(a, b)
	if d < 100000 || d > 120000 {
		t.Errorf("distance for 1 degree latitude = %v, want ~111000", d)
	}
}

func TestInitialBearing_Northward(t *testing.T) {
	a := Point{Latitude: 41.0, Longitude: 29.0}
	b := Point{Latitude: 42.0, Longitude: 29.0}
	bearing := InitialBearing(a, b)
	if math.Abs(bearing) > 0.05 {
		t.Errorf("bearing due north = %v rad, want ~0", bearing)
	}
}

func TestPoint_Valid(t *testing.T) {
	valid := Point{Latitude: 41.0, Longitude: 29.0}
	if !valid.Valid() {
		t.Error("expected valid point to pass Valid()")
	}
	invalid := Point{Latitude: 91.0, Longitude: 29.0}
	if invalid.Valid() {
		t.Error("expected out-of-range latitude to fail Valid()")
	}
}
