package types

import (
	"math"
	"testing"
)

func TestPath_AdvanceWithinTolerance(t *testing.T) {
	p := &Path{
		Waypoints: []Waypoint{
			{X: 0, Y: 0, Tolerance: 0.1},
			{X: 1, Y: 0, Tolerance: 0.1},
		},
	}

	if p.Advance(0.5, 0.5) {
		t.Fatal("advanced on a pose far outside tolerance")
	}
	if !p.Advance(0.05, 0.0) {
		t.Fatal("expected advance within tolerance")
	}
	if p.Cursor != 1 {
		t.Fatalf("cursor = %d, want 1", p.Cursor)
	}
	if p.Done() {
		t.Fatal("path reported done with one waypoint remaining")
	}
	if !p.Advance(1.0, 0.0) {
		t.Fatal("expected second advance")
	}
	if !p.Done() {
		t.Fatal("expected path done after consuming all waypoints")
	}
}

func TestPath_CurrentOnExhaustedPath(t *testing.T) {
	p := &Path{Waypoints: []Waypoint{{X: 0, Y: 0, Tolerance: 0.1}}, Cursor: 1}
	if _, ok := p.Current(); ok {
		t.Fatal("expected Current to report false on exhausted path")
	}
}

func TestMotionCommand_Expired(t *testing.T) {
	cmd := MotionCommand{DeadlineMono: 1000}
	if cmd.Expired(999) {
		t.Fatal("command reported expired before its deadline")
	}
	if !cmd.Expired(1001) {
		t.Fatal("command reported not expired after its deadline")
	}
}

func TestPose_NormalizeTheta(t *testing.T) {
	p := &Pose{Theta: 3 * math.Pi}
	p.NormalizeTheta()
	if p.Theta <= -math.Pi || p.Theta > math.Pi {
		t.Fatalf("theta = %v, out of (-pi, pi]", p.Theta)
	}
}

func TestSafetyEvent_String(t *testing.T) {
	e := SafetyEvent{Kind: BumperHit, Which: "front"}
	if got, want := e.String(), "bumper_hit(front)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
