// Package docking implements the precision-docking state machine
// (C6): a GNSS-guided traverse to the dock's vicinity, a fiducial
// search, a two-stage vision-guided approach, and a current/voltage
// gated contact confirmation.
package docking

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/yusuftiryaki/mower/internal/geo"
	"github.com/yusuftiryaki/mower/internal/types"
)

// Phase enumerates the docking FSM's states. BEGIN, DOCKED and FAILED
// have no equivalent in types.ReturningPhase (which only tracks the
// phases visible to the mission layer while actively returning);
// those map onto the shared phases via Result.Phase.
type Phase string

const (
	PhaseBegin          Phase = "begin"
	PhaseGNSSTraverse    Phase = Phase(types.PhaseGNSSTraverse)
	PhaseSearch          Phase = Phase(types.PhaseSearch)
	PhaseCoarseApproach  Phase = Phase(types.PhaseCoarseApproach)
	PhasePrecision       Phase = Phase(types.PhasePrecision)
	PhaseContact         Phase = Phase(types.PhaseContact)
	PhaseDocked          Phase = "docked"
	PhaseFailed          Phase = "failed"
)

// PlanFunc requests a point-to-point path from the grid/route planner
// (C3); docking only calls this once, on entry, per spec.md §4.5's
// contract that C6 owns the C4 target queue afterward.
type PlanFunc func(fromX, fromY, toX, toY float64) (*types.Path, error)

// ApproachSpeeds are the step-down speeds used as the dock is neared.
type ApproachSpeeds struct {
	Normal    float64
	Slow      float64
	VerySlow  float64
	UltraSlow float64
	Precise   float64
}

// Config bundles every tunable the state machine needs.
type Config struct {
	DockLocal               geo.Local
	TagID                   int
	MinConfidence           float64
	PreciseApproachDistance float64 // GNSS_TRAVERSE -> SEARCH distance gate
	ApriltagDetectionRange  float64 // GNSS_TRAVERSE -> SEARCH early-exit range gate
	PreciseThreshold        float64 // COARSE_APPROACH -> PRECISION range gate
	HassasMesafe            float64 // PRECISION -> CONTACT range gate
	AngleToleranceRad       float64 // PRECISION bearing window (forward motion holds outside it) and PRECISION -> CONTACT yaw gate
	ApproachSpeeds          ApproachSpeeds
	RotationSpeed           float64
	SearchTimeoutSec        float64
	LostTimeoutSec          float64
	ContactCurrentThreshold float64
	ContactVoltageThreshold float64
	ContactConsecutiveGoal  int
	ContactTimeoutSec       float64
	RetryBudget             int
	Plan                    PlanFunc
}

// Result is one tick's output for C4: a multi-waypoint Path during
// GNSS_TRAVERSE (the one path C3 is consulted for, per spec.md §4.5),
// a single micro-goal Target during the vision-guided phases, or a
// direct rotation command for SEARCH's in-place spin. ApproachSpeed
// caps the linear speed C4 should use while tracking Target or Path;
// it is only meaningful when one of those is set.
type Result struct {
	Phase         Phase
	Path          *types.Path
	Target        *types.Waypoint
	ApproachSpeed float64
	DirectCommand *types.MotionCommand
	Docked        bool
	Failed        bool
}

// Docker runs the state machine across ticks.
type Docker struct {
	cfg Config
	log *logrus.Entry

	phase          Phase
	phaseEnteredAt int64
	lastRangeSeen  float64
	lastSeenAt     int64
	contactStreak  int
	searchTurning  float64 // accumulated rotation since the last direction flip, radians
	searchSign     float64
	attemptsUsed   int
	path           *types.Path
}

// NewDocker builds a Docker parked at BEGIN.
func NewDocker(cfg Config, log *logrus.Entry) *Docker {
	return &Docker{cfg: cfg, log: log, phase: PhaseBegin, searchSign: 1}
}

// Phase reports the current state.
func (d *Docker) Phase() Phase { return d.phase }

// TryRestart re-enters BEGIN if the retry budget allows it; reports
// whether a restart was granted. Only meaningful from FAILED.
// RetryBudget counts retries after the first attempt, so the docker
// gets RetryBudget+1 total attempts before TryRestart starts refusing.
func (d *Docker) TryRestart() bool {
	if d.phase != PhaseFailed {
		return false
	}
	if d.attemptsUsed > d.cfg.RetryBudget {
		return false
	}
	d.phase = PhaseBegin
	d.path = nil
	return true
}

func (d *Docker) enter(phase Phase, nowMono int64) {
	d.log.WithField("phase", string(phase)).Info("docking phase transition")
	d.phase = phase
	d.phaseEnteredAt = nowMono
}

func (d *Docker) fail(nowMono int64, reason string) Result {
	d.log.WithField("reason", reason).Warn("docking attempt failed")
	d.attemptsUsed++
	d.enter(PhaseFailed, nowMono)
	return Result{Phase: PhaseFailed, Failed: true}
}

// Tick advances the state machine by one control cycle.
func (d *Docker) Tick(pose types.Pose, detections []types.FiducialDetection, battery types.BatteryState, nowMono int64) Result {
	switch d.phase {
	case PhaseBegin:
		return d.tickBegin(pose, nowMono)
	case PhaseGNSSTraverse:
		return d.tickGNSSTraverse(pose, detections, nowMono)
	case PhaseSearch:
		return d.tickSearch(detections, nowMono)
	case PhaseCoarseApproach:
		return d.tickApproach(detections, nowMono, PhaseCoarseApproach)
	case PhasePrecision:
		return d.tickApproach(detections, nowMono, PhasePrecision)
	case PhaseContact:
		return d.tickContact(battery, nowMono)
	default:
		return Result{Phase: d.phase, Docked: d.phase == PhaseDocked, Failed: d.phase == PhaseFailed}
	}
}

func (d *Docker) tickBegin(pose types.Pose, nowMono int64) Result {
	path, err := d.cfg.Plan(pose.X, pose.Y, d.cfg.DockLocal.X, d.cfg.DockLocal.Y)
	if err != nil {
		return d.fail(nowMono, "no path to dock")
	}
	d.path = path
	d.enter(PhaseGNSSTraverse, nowMono)
	return Result{Phase: PhaseGNSSTraverse}
}

func (d *Docker) tickGNSSTraverse(pose types.Pose, detections []types.FiducialDetection, nowMono int64) Result {
	det, ok := bestDetection(detections, d.cfg.TagID, d.cfg.MinConfidence)
	remaining := math.Hypot(d.cfg.DockLocal.X-pose.X, d.cfg.DockLocal.Y-pose.Y)

	if remaining < d.cfg.PreciseApproachDistance || (ok && det.RangeM <= d.cfg.ApriltagDetectionRange) {
		d.lastRangeSeen = math.Inf(1)
		d.enter(PhaseSearch, nowMono)
		return Result{Phase: PhaseSearch}
	}

	return Result{
		Phase:         PhaseGNSSTraverse,
		Path:          d.path,
		ApproachSpeed: d.cfg.ApproachSpeeds.Normal,
	}
}

func (d *Docker) tickSearch(detections []types.FiducialDetection, nowMono int64) Result {
	if secondsSince(d.phaseEnteredAt, nowMono) > d.cfg.SearchTimeoutSec {
		return d.fail(nowMono, "search timeout")
	}

	if det, ok := bestDetection(detections, d.cfg.TagID, d.cfg.MinConfidence); ok {
		d.lastRangeSeen = det.RangeM
		d.lastSeenAt = nowMono
		d.enter(PhaseCoarseApproach, nowMono)
		return Result{Phase: PhaseCoarseApproach}
	}

	// Alternate rotation direction every half turn (pi radians).
	const dt = 0.1
	d.searchTurning += d.cfg.RotationSpeed * dt
	if d.searchTurning >= math.Pi {
		d.searchTurning = 0
		d.searchSign = -d.searchSign
	}

	return Result{
		Phase: PhaseSearch,
		DirectCommand: &types.MotionCommand{
			AngularVelocity: d.cfg.RotationSpeed * d.searchSign,
			DeadlineMono:    nowMono + int64(dt*1e9),
		},
	}
}

// tickApproach handles both COARSE_APPROACH and PRECISION: both
// close-loop on the marker's (range, bearing, yaw_offset), differing
// only in speed, acceptance gate, and the exit phase. The range
// monotonicity invariant is shared across both, since they're one
// continuous approach segment per spec.md §4.5.
func (d *Docker) tickApproach(detections []types.FiducialDetection, nowMono int64, phase Phase) Result {
	det, ok := bestDetection(detections, d.cfg.TagID, d.cfg.MinConfidence)
	if !ok {
		if secondsSince(d.lastSeenAt, nowMono) > d.cfg.LostTimeoutSec {
			d.lastRangeSeen = math.Inf(1)
			d.enter(PhaseSearch, nowMono)
			return Result{Phase: PhaseSearch}
		}
		return Result{Phase: phase}
	}

	if det.RangeM > d.lastRangeSeen {
		d.log.WithField("range", det.RangeM).Warn("docking range regressed, returning to search")
		d.lastRangeSeen = math.Inf(1)
		d.enter(PhaseSearch, nowMono)
		return Result{Phase: PhaseSearch}
	}
	d.lastRangeSeen = det.RangeM
	d.lastSeenAt = nowMono

	speed := d.cfg.ApproachSpeeds.Normal
	if phase == PhasePrecision {
		speed = d.cfg.ApproachSpeeds.Precise
		if math.Abs(det.BearingRad) > d.cfg.AngleToleranceRad {
			speed = 0 // hold forward motion until the bearing is back in the window
		}
	}

	if phase == PhaseCoarseApproach && det.RangeM <= d.cfg.PreciseThreshold {
		d.enter(PhasePrecision, nowMono)
		return Result{Phase: PhasePrecision}
	}
	if phase == PhasePrecision && det.RangeM <= d.cfg.HassasMesafe && math.Abs(det.YawOffsetRad) <= d.cfg.AngleToleranceRad {
		d.contactStreak = 0
		d.enter(PhaseContact, nowMono)
		return Result{Phase: PhaseContact}
	}

	target := waypointAlongLineOfSight(det)
	return Result{Phase: phase, Target: &target, ApproachSpeed: speed}
}

func (d *Docker) tickContact(battery types.BatteryState, nowMono int64) Result {
	if secondsSince(d.phaseEnteredAt, nowMono) > d.cfg.ContactTimeoutSec {
		return d.fail(nowMono, "contact timeout")
	}

	if battery.Current > d.cfg.ContactCurrentThreshold && battery.Voltage > d.cfg.ContactVoltageThreshold {
		d.contactStreak++
	} else {
		d.contactStreak = 0
	}

	if d.contactStreak >= d.cfg.ContactConsecutiveGoal {
		d.enter(PhaseDocked, nowMono)
		return Result{Phase: PhaseDocked, Docked: true}
	}

	return Result{
		Phase: PhaseContact,
		Target: &types.Waypoint{
			// CONTACT creeps straight ahead; the caller tracks this
			// relative to the robot's current heading, not an absolute
			// dock-frame coordinate, since by this phase the robot is
			// already aligned and only needs to close the last gap.
			X: d.cfg.HassasMesafe, Y: 0, Tolerance: 0.02,
		},
		ApproachSpeed: d.cfg.ApproachSpeeds.UltraSlow,
	}
}

// waypointAlongLineOfSight converts a fiducial detection's
// (range, bearing) into a robot-frame waypoint short of the marker
// itself, so the approach never overshoots into the dock structure.
func waypointAlongLineOfSight(det types.FiducialDetection) types.Waypoint {
	standoff := 0.2
	effectiveRange := det.RangeM - standoff
	if effectiveRange < 0 {
		effectiveRange = 0
	}
	return types.Waypoint{
		X:         effectiveRange * math.Cos(det.BearingRad),
		Y:         effectiveRange * math.Sin(det.BearingRad),
		Tolerance: 0.05,
	}
}

func bestDetection(detections []types.FiducialDetection, tagID int, minConfidence float64) (types.FiducialDetection, bool) {
	best := types.FiducialDetection{}
	found := false
	for _, det := range detections {
		if det.MarkerID != tagID || det.Confidence < minConfidence {
			continue
		}
		if !found || det.RangeM < best.RangeM {
			best = det
			found = true
		}
	}
	return best, found
}

func secondsSince(thenMono, nowMono int64) float64 {
	return float64(nowMono-thenMono) / 1e9
}
