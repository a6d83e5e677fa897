// Package types holds the shared entities every control-stack component
// reads or writes: poses, paths, commands, detections, and the
// tagged-union state machines for safety events and mission state.
package types

import (
	"fmt"
	"time"

	"github.com/yusuftiryaki/mower/internal/geo"
)

// Pose is the fused planar estimate: position and heading in the
// anchor frame, plus the velocities and the uncertainty over
// (x, y, theta). Theta must stay in (-pi, pi] and Cov must stay
// symmetric positive-definite; internal/fusion is the sole writer.
type Pose struct {
	X, Y         float64
	Theta        float64
	Linear       float64 // m/s
	Angular      float64 // rad/s
	Cov          [3][3]float64
	UpdatedAtMono int64 // monotonic nanoseconds
}

// NormalizeTheta wraps p.Theta into (-pi, pi], the invariant every
// published Pose must satisfy.
func (p *Pose) NormalizeTheta() {
	p.Theta = geo.NormalizeAngle(p.Theta)
}

// Waypoint is one stop along a Path.
type Waypoint struct {
	X, Y      float64
	Heading   *float64 // nil when heading is unconstrained
	Tolerance float64
}

// Path is an ordered, linearly-consumed sequence of waypoints. Cursor
// is the index of the next unvisited waypoint; it only increases.
type Path struct {
	Waypoints []Waypoint
	Cursor    int
}

// Current returns the waypoint the cursor currently targets, and false
// once the path is exhausted.
func (p *Path) Current() (Waypoint, bool) {
	if p.Cursor >= len(p.Waypoints) {
		return Waypoint{}, false
	}
	return p.Waypoints[p.Cursor], true
}

// Advance moves the cursor to the next waypoint if the pose is within
// the current waypoint's tolerance, returning whether it advanced.
func (p *Path) Advance(x, y float64) bool {
	wp, ok := p.Current()
	if !ok {
		return false
	}
	dx, dy := x-wp.X, y-wp.Y
	if dx*dx+dy*dy <= wp.Tolerance*wp.Tolerance {
		p.Cursor++
		return true
	}
	return false
}

// Done reports whether every waypoint has been consumed.
func (p *Path) Done() bool {
	return p.Cursor >= len(p.Waypoints)
}

// MotionCommand is what C4 produces and C7 gates: a velocity command
// with a monotonic deadline past which it must not be actuated.
type MotionCommand struct {
	LinearVelocity  float64
	AngularVelocity float64
	DeadlineMono    int64
}

// Expired reports whether nowMono is past the command's deadline.
func (c MotionCommand) Expired(nowMono int64) bool {
	return nowMono > c.DeadlineMono
}

// FiducialDetection is a single frame's marker observation. Unsmoothed
// is set when the tracking history didn't have enough agreeing
// readings and the pipeline fell back to the latest raw detection.
type FiducialDetection struct {
	MarkerID       int
	RangeM         float64
	BearingRad     float64
	YawOffsetRad   float64
	Confidence     float64
	FrameTimestamp time.Time
	Unsmoothed     bool
}

// BatteryState carries a power-bus voltage and current. cmd/mowerd
// fills it from the battery-bus sensor only; no dock-contact-bus
// reading goes into it.
type BatteryState struct {
	Voltage       float64
	Current       float64
	StateOfCharge float64 // 0..1
	Charging      bool
}

// SafetyEventKind discriminates the SafetyEvent tagged union.
type SafetyEventKind string

const (
	EStopPressed      SafetyEventKind = "estop_pressed"
	BumperHit         SafetyEventKind = "bumper_hit"
	TiltExceeded      SafetyEventKind = "tilt_exceeded"
	WatchdogStarved   SafetyEventKind = "watchdog_starved"
	BatteryCritical   SafetyEventKind = "battery_critical"
	CollisionImminent SafetyEventKind = "collision_imminent"
)

// SafetyEvent is immutable once created. Which, Angle, and Distance are
// only meaningful for the variants that carry them (BumperHit,
// TiltExceeded, CollisionImminent respectively).
type SafetyEvent struct {
	Kind      SafetyEventKind
	Which     string  // bumper identifier, for BumperHit
	Angle     float64 // radians, for TiltExceeded
	Distance  float64 // meters, for CollisionImminent
	OccurredAtMono int64
}

func (e SafetyEvent) String() string {
	switch e.Kind {
	case BumperHit:
		return fmt.Sprintf("bumper_hit(%s)", e.Which)
	case TiltExceeded:
		return fmt.Sprintf("tilt_exceeded(%.3frad)", e.Angle)
	case CollisionImminent:
		return fmt.Sprintf("collision_imminent(%.2fm)", e.Distance)
	default:
		return string(e.Kind)
	}
}

// MissionStateKind discriminates the MissionState variant.
type MissionStateKind string

const (
	Idle      MissionStateKind = "idle"
	Mowing    MissionStateKind = "mowing"
	PointGoto MissionStateKind = "point_goto"
	Returning MissionStateKind = "returning"
	Charging  MissionStateKind = "charging"
	ErrorState MissionStateKind = "error"
)

// ReturningPhase discriminates the Returning variant's sub-phase,
// matching the docking state machine's phases.
type ReturningPhase string

const (
	PhaseGNSSTraverse   ReturningPhase = "gnss_traverse"
	PhaseSearch         ReturningPhase = "search"
	PhaseCoarseApproach ReturningPhase = "coarse_approach"
	PhasePrecision      ReturningPhase = "precision"
	PhaseContact        ReturningPhase = "contact"
)

// MissionState is C8's single owned piece of state; transitions are
// serialized through the orchestrator alone.
type MissionState struct {
	Kind          MissionStateKind
	CoveragePath  *Path            // set when Kind == Mowing
	Target        geo.Point        // set when Kind == PointGoto
	ReturnPhase   ReturningPhase   // set when Kind == Returning
	ErrorKind     string           // set when Kind == ErrorState
}
