package docking

import (
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/yusuftiryaki/mower/internal/geo"
	"github.com/yusuftiryaki/mower/internal/types"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("test", true)
}

func testConfig(plan PlanFunc) Config {
	return Config{
		DockLocal:               geo.Local{X: 10, Y: 0},
		TagID:                   7,
		MinConfidence:           0.6,
		PreciseApproachDistance: 2.0,
		ApriltagDetectionRange:  3.0,
		PreciseThreshold:        1.0,
		HassasMesafe:            0.15,
		AngleToleranceRad:       0.1,
		ApproachSpeeds: ApproachSpeeds{
			Normal: 0.3, Slow: 0.2, VerySlow: 0.1, UltraSlow: 0.05, Precise: 0.08,
		},
		RotationSpeed:           0.5,
		SearchTimeoutSec:        5.0,
		LostTimeoutSec:          2.0,
		ContactCurrentThreshold: 1.0,
		ContactVoltageThreshold: 12.0,
		ContactConsecutiveGoal:  3,
		ContactTimeoutSec:       10.0,
		RetryBudget:             2,
		Plan:                    plan,
	}
}

func fakePlan(path *types.Path, err error) PlanFunc {
	return func(fromX, fromY, toX, toY float64) (*types.Path, error) {
		return path, err
	}
}

func marker(rangeM, bearing, yaw, confidence float64) types.FiducialDetection {
	return types.FiducialDetection{MarkerID: 7, RangeM: rangeM, BearingRad: bearing, YawOffsetRad: yaw, Confidence: confidence}
}

func TestDocker_BeginTransitionsToGNSSTraverse(t *testing.T) {
	d := NewDocker(testConfig(fakePlan(&types.Path{Waypoints: []types.Waypoint{{X: 10, Y: 0, Tolerance: 0.3}}}, nil)), testLog())

	result := d.Tick(types.Pose{}, nil, types.BatteryState{}, 0)

	if result.Phase != PhaseGNSSTraverse {
		t.Fatalf("expected GNSS_TRAVERSE, got %v", result.Phase)
	}
	if d.Phase() != PhaseGNSSTraverse {
		t.Errorf("docker's own phase should also be GNSS_TRAVERSE, got %v", d.Phase())
	}
}

func TestDocker_BeginFailsWhenNoPath(t *testing.T) {
	d := NewDocker(testConfig(fakePlan(nil, errors.New("no route"))), testLog())

	result := d.Tick(types.Pose{}, nil, types.BatteryState{}, 0)

	if !result.Failed || result.Phase != PhaseFailed {
		t.Fatalf("expected FAILED when planning fails, got %+v", result)
	}
}

func TestDocker_GNSSTraverseEntersSearchWithinPreciseDistance(t *testing.T) {
	d := NewDocker(testConfig(fakePlan(&types.Path{}, nil)), testLog())
	d.Tick(types.Pose{}, nil, types.BatteryState{}, 0) // BEGIN -> GNSS_TRAVERSE

	pose := types.Pose{X: 8.5, Y: 0} // remaining = 1.5 < PreciseApproachDistance 2.0
	result := d.Tick(pose, nil, types.BatteryState{}, 1)

	if result.Phase != PhaseSearch {
		t.Fatalf("expected SEARCH once within precise_approach_distance, got %v", result.Phase)
	}
}

func TestDocker_GNSSTraverseEntersSearchOnEarlyDetection(t *testing.T) {
	d := NewDocker(testConfig(fakePlan(&types.Path{}, nil)), testLog())
	d.Tick(types.Pose{}, nil, types.BatteryState{}, 0)

	pose := types.Pose{X: 0, Y: 0} // far from dock
	dets := []types.FiducialDetection{marker(2.5, 0, 0, 0.9)}
	result := d.Tick(pose, dets, types.BatteryState{}, 1)

	if result.Phase != PhaseSearch {
		t.Fatalf("expected SEARCH on early in-range detection, got %v", result.Phase)
	}
}

func TestDocker_SearchRotatesAndAlternates(t *testing.T) {
	d := NewDocker(testConfig(fakePlan(&types.Path{}, nil)), testLog())
	d.Tick(types.Pose{}, nil, types.BatteryState{}, 0)
	d.Tick(types.Pose{X: 9.5, Y: 0}, nil, types.BatteryState{}, 1) // within precise_approach_distance, forces SEARCH
	if d.Phase() != PhaseSearch {
		t.Fatalf("setup: expected SEARCH, got %v", d.Phase())
	}

	result := d.Tick(types.Pose{}, nil, types.BatteryState{}, 2)
	if result.DirectCommand == nil {
		t.Fatal("expected a direct rotation command while searching")
	}
	if result.DirectCommand.AngularVelocity == 0 {
		t.Error("expected a nonzero rotation rate")
	}

	// After a half turn the spin direction reverses.
	reversed := false
	for now := int64(3); now < 103; now++ {
		r := d.Tick(types.Pose{}, nil, types.BatteryState{}, now)
		if r.DirectCommand != nil && r.DirectCommand.AngularVelocity < 0 {
			reversed = true
			break
		}
	}
	if !reversed {
		t.Error("expected the rotation direction to reverse after a half turn")
	}
}

func TestDocker_SearchTimesOutToFailed(t *testing.T) {
	cfg := testConfig(fakePlan(&types.Path{}, nil))
	cfg.SearchTimeoutSec = 1.0
	d := NewDocker(cfg, testLog())
	d.Tick(types.Pose{}, nil, types.BatteryState{}, 0)
	d.Tick(types.Pose{X: 9.5, Y: 0}, nil, types.BatteryState{}, int64(1*1e9))

	result := d.Tick(types.Pose{}, nil, types.BatteryState{}, int64(3*1e9))

	if !result.Failed {
		t.Fatalf("expected search timeout to fail, got %+v", result)
	}
}

func TestDocker_SearchFindsMarkerEntersCoarseApproach(t *testing.T) {
	d := NewDocker(testConfig(fakePlan(&types.Path{}, nil)), testLog())
	d.Tick(types.Pose{}, nil, types.BatteryState{}, 0)
	d.Tick(types.Pose{X: 9.5, Y: 0}, nil, types.BatteryState{}, 1)

	dets := []types.FiducialDetection{marker(2.0, 0.1, 0, 0.8)}
	result := d.Tick(types.Pose{}, dets, types.BatteryState{}, 2)

	if result.Phase != PhaseCoarseApproach {
		t.Fatalf("expected COARSE_APPROACH, got %v", result.Phase)
	}
}

func advanceToCoarseApproach(t *testing.T, d *Docker) {
	t.Helper()
	d.Tick(types.Pose{}, nil, types.BatteryState{}, 0)
	d.Tick(types.Pose{X: 9.5, Y: 0}, nil, types.BatteryState{}, 1)
	dets := []types.FiducialDetection{marker(2.0, 0, 0, 0.8)}
	if got := d.Tick(types.Pose{}, dets, types.BatteryState{}, 2); got.Phase != PhaseCoarseApproach {
		t.Fatalf("setup: expected COARSE_APPROACH, got %v", got.Phase)
	}
}

func TestDocker_CoarseApproachMonotonicRangeProgressesToPrecision(t *testing.T) {
	d := NewDocker(testConfig(fakePlan(&types.Path{}, nil)), testLog())
	advanceToCoarseApproach(t, d)

	ranges := []float64{1.8, 1.4, 0.9}
	var last Phase
	for i, r := range ranges {
		dets := []types.FiducialDetection{marker(r, 0, 0, 0.8)}
		result := d.Tick(types.Pose{}, dets, types.BatteryState{}, int64(3+i))
		last = result.Phase
	}
	if last != PhasePrecision {
		t.Fatalf("expected PRECISION once range drops below precise_threshold, got %v", last)
	}
}

func TestDocker_RangeRegressionReturnsToSearch(t *testing.T) {
	d := NewDocker(testConfig(fakePlan(&types.Path{}, nil)), testLog())
	advanceToCoarseApproach(t, d)

	// First a good reading establishing a baseline, then a regression.
	d.Tick(types.Pose{}, []types.FiducialDetection{marker(1.8, 0, 0, 0.8)}, types.BatteryState{}, 3)
	result := d.Tick(types.Pose{}, []types.FiducialDetection{marker(2.2, 0, 0, 0.8)}, types.BatteryState{}, 4)

	if result.Phase != PhaseSearch {
		t.Fatalf("expected a range regression to send the docker back to SEARCH, got %v", result.Phase)
	}
}

func TestDocker_ApproachLostTimeoutReturnsToSearch(t *testing.T) {
	cfg := testConfig(fakePlan(&types.Path{}, nil))
	cfg.LostTimeoutSec = 1.0
	d := NewDocker(cfg, testLog())
	advanceToCoarseApproach(t, d)

	d.Tick(types.Pose{}, []types.FiducialDetection{marker(1.8, 0, 0, 0.8)}, types.BatteryState{}, 3)
	// No detections for longer than lost_timeout.
	result := d.Tick(types.Pose{}, nil, types.BatteryState{}, int64(3+2*1e9))

	if result.Phase != PhaseSearch {
		t.Fatalf("expected losing the marker past lost_timeout to return to SEARCH, got %v", result.Phase)
	}
}

func advanceToContact(t *testing.T, d *Docker) {
	t.Helper()
	advanceToCoarseApproach(t, d)
	ranges := []float64{1.8, 0.9, 0.14}
	for i, r := range ranges {
		dets := []types.FiducialDetection{marker(r, 0, 0, 0.8)}
		d.Tick(types.Pose{}, dets, types.BatteryState{}, int64(3+i))
	}
	if d.Phase() != PhaseContact {
		t.Fatalf("setup: expected CONTACT, got %v", d.Phase())
	}
}

func TestDocker_ContactConfirmsAfterConsecutiveSamples(t *testing.T) {
	d := NewDocker(testConfig(fakePlan(&types.Path{}, nil)), testLog())
	advanceToContact(t, d)

	battery := types.BatteryState{Current: 2.0, Voltage: 13.0}
	var last Result
	for i := 0; i < 3; i++ {
		last = d.Tick(types.Pose{}, nil, battery, int64(10+i))
	}

	if !last.Docked || last.Phase != PhaseDocked {
		t.Fatalf("expected DOCKED after enough consecutive contact samples, got %+v", last)
	}
}

func TestDocker_ContactStreakResetsOnDrop(t *testing.T) {
	d := NewDocker(testConfig(fakePlan(&types.Path{}, nil)), testLog())
	advanceToContact(t, d)

	good := types.BatteryState{Current: 2.0, Voltage: 13.0}
	bad := types.BatteryState{Current: 0.0, Voltage: 11.0}

	d.Tick(types.Pose{}, nil, good, 10)
	d.Tick(types.Pose{}, nil, good, 11)
	d.Tick(types.Pose{}, nil, bad, 12) // streak resets
	last := d.Tick(types.Pose{}, nil, good, 13)

	if last.Docked {
		t.Fatal("expected the streak reset to prevent premature DOCKED")
	}
}

func TestDocker_ContactTimesOutToFailed(t *testing.T) {
	cfg := testConfig(fakePlan(&types.Path{}, nil))
	cfg.ContactTimeoutSec = 1.0
	d := NewDocker(cfg, testLog())
	advanceToContact(t, d)

	result := d.Tick(types.Pose{}, nil, types.BatteryState{}, int64(2*1e9))

	if !result.Failed {
		t.Fatalf("expected contact timeout to fail, got %+v", result)
	}
}

func TestDocker_TryRestartRespectsRetryBudget(t *testing.T) {
	cfg := testConfig(fakePlan(nil, errors.New("no route")))
	cfg.RetryBudget = 1
	d := NewDocker(cfg, testLog())

	d.Tick(types.Pose{}, nil, types.BatteryState{}, 0) // BEGIN fails, attemptsUsed=1

	if !d.TryRestart() {
		t.Fatal("expected the first restart to be granted within budget")
	}
	d.Tick(types.Pose{}, nil, types.BatteryState{}, 1) // fails again, attemptsUsed=2

	if d.TryRestart() {
		t.Fatal("expected the retry budget to be exhausted after the configured attempts")
	}
}
