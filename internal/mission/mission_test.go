package mission

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/yusuftiryaki/mower/internal/docking"
	"github.com/yusuftiryaki/mower/internal/geo"
	"github.com/yusuftiryaki/mower/internal/localplan"
	"github.com/yusuftiryaki/mower/internal/planning"
	"github.com/yusuftiryaki/mower/internal/types"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("test", true)
}

func square(side float64) []geo.Local {
	return []geo.Local{
		{X: 0, Y: 0}, {X: side, Y: 0}, {X: side, Y: side}, {X: 0, Y: side},
	}
}

func testLocalPlanConfig() localplan.Config {
	return localplan.Config{
		VelocityResolution: 0.05,
		AngularResolution:  0.1,
		TimeHorizon:        1.5,
		Dt:                 0.2,
		Weights:            localplan.Weights{Heading: 1.0, Obstacle: 1.0, Velocity: 0.3, Smoothness: 0.2},
		Limits:             localplan.Limits{MaxLinearSpeed: 0.5, MaxAngularSpeed: 1.0, MaxLinearAccel: 0.5, MaxAngularAccel: 1.0, Radius: 0.3},
		Profiles: map[localplan.Mode]localplan.Profile{
			localplan.ModeNormal:       {SpeedFactor: 1.0, SafetyFactor: 1.0},
			localplan.ModeConservative: {SpeedFactor: 0.5, SafetyFactor: 1.5},
			localplan.ModeAggressive:   {SpeedFactor: 1.2, SafetyFactor: 0.7},
		},
		WaypointTolerance: 0.2,
		StuckLimit:        5,
	}
}

func testConfig() Config {
	return Config{
		Boundary:        square(20),
		Coverage:        planning.CoverageParams{BrushWidth: 0.5, Overlap: 0.1, MaxWaypointStep: 1.0},
		GridResolution:  0.5,
		GridMargin:      1.0,
		ObstaclePadding: 0.3,
		InflationMetric: planning.Euclidean,
		LocalPlan:       testLocalPlanConfig(),
		Dock: docking.Config{
			DockLocal:               geo.Local{X: 10, Y: 10},
			TagID:                   7,
			MinConfidence:           0.6,
			PreciseApproachDistance: 2.0,
			ApriltagDetectionRange:  3.0,
			PreciseThreshold:        1.0,
			HassasMesafe:            0.15,
			AngleToleranceRad:       0.1,
			ApproachSpeeds:          docking.ApproachSpeeds{Normal: 0.3, Slow: 0.2, VerySlow: 0.1, UltraSlow: 0.05, Precise: 0.08},
			RotationSpeed:           0.5,
			SearchTimeoutSec:        5.0,
			LostTimeoutSec:          2.0,
			ContactCurrentThreshold: 1.0,
			ContactVoltageThreshold: 12.0,
			ContactConsecutiveGoal:  3,
			ContactTimeoutSec:       10.0,
			RetryBudget:             2,
		},
	}
}

func testAnchor() *geo.Anchor {
	a := geo.NewAnchor()
	a.Fix(geo.Point{Latitude: 40.0, Longitude: 29.0})
	return a
}

func TestOrchestrator_StartsIdle(t *testing.T) {
	o, err := New(testConfig(), testLog())
	if err != nil {
		t.Fatalf("unexpected error building orchestrator: %v", err)
	}
	if o.State().Kind != types.Idle {
		t.Fatalf("expected Idle, got %v", o.State().Kind)
	}
}

func TestOrchestrator_StartMowingBuildsPathAndMoves(t *testing.T) {
	o, err := New(testConfig(), testLog())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.Submit(OperatorCommand{Kind: CmdStartMowing}, testAnchor()); err != nil {
		t.Fatalf("unexpected error starting mowing: %v", err)
	}
	if o.State().Kind != types.Mowing || o.State().CoveragePath == nil {
		t.Fatalf("expected Mowing with a coverage path, got %+v", o.State())
	}

	pose := types.Pose{X: 1, Y: 1, Theta: 0}
	cmd, state := o.Tick(pose, types.BatteryState{Voltage: 12}, nil, nil, nil, 0)
	if state.Kind != types.Mowing {
		t.Fatalf("expected to remain Mowing, got %v", state.Kind)
	}
	if cmd.LinearVelocity == 0 && cmd.AngularVelocity == 0 {
		t.Error("expected a nonzero proposed command while mowing toward the first waypoint")
	}
}

func TestOrchestrator_CannotStartMowingWhileBusy(t *testing.T) {
	o, _ := New(testConfig(), testLog())
	_ = o.Submit(OperatorCommand{Kind: CmdStartMowing}, testAnchor())

	if err := o.Submit(OperatorCommand{Kind: CmdStartMowing}, testAnchor()); err == nil {
		t.Fatal("expected an error starting mowing while already mowing")
	}
}

func TestOrchestrator_PointGotoProjectsTargetAndPlans(t *testing.T) {
	o, err := New(testConfig(), testLog())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	anchor := testAnchor()
	targetLocal := geo.Local{X: 15, Y: 15}
	targetPoint, _ := anchor.ToGeodetic(targetLocal)

	if err := o.Submit(OperatorCommand{Kind: CmdStartPointGoto, Target: targetPoint}, anchor); err != nil {
		t.Fatalf("unexpected error starting point-goto: %v", err)
	}
	if o.State().Kind != types.PointGoto {
		t.Fatalf("expected PointGoto, got %v", o.State().Kind)
	}

	pose := types.Pose{X: 2, Y: 2, Theta: 0}
	cmd, state := o.Tick(pose, types.BatteryState{Voltage: 12}, nil, nil, nil, 0)
	if state.Kind != types.PointGoto {
		t.Fatalf("expected to remain PointGoto after first tick, got %v", state.Kind)
	}
	if cmd.LinearVelocity == 0 && cmd.AngularVelocity == 0 {
		t.Error("expected motion toward the projected point-goto target")
	}
}

func TestOrchestrator_ReturnToDockEntersGNSSTraverse(t *testing.T) {
	o, _ := New(testConfig(), testLog())

	if err := o.Submit(OperatorCommand{Kind: CmdReturnToDock}, testAnchor()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.State().Kind != types.Returning {
		t.Fatalf("expected Returning, got %v", o.State().Kind)
	}

	pose := types.Pose{X: 0, Y: 0}
	_, state := o.Tick(pose, types.BatteryState{Voltage: 12}, nil, nil, nil, 0)
	if state.Kind != types.Returning {
		t.Fatalf("expected to remain Returning, got %v", state.Kind)
	}
	if state.ReturnPhase != types.PhaseGNSSTraverse {
		t.Fatalf("expected GNSS_TRAVERSE sub-phase, got %v", state.ReturnPhase)
	}
}

func TestOrchestrator_EStopAbortsActiveMissionToError(t *testing.T) {
	o, _ := New(testConfig(), testLog())
	_ = o.Submit(OperatorCommand{Kind: CmdStartMowing}, testAnchor())

	events := []types.SafetyEvent{{Kind: types.EStopPressed}}
	_, state := o.Tick(types.Pose{X: 1, Y: 1}, types.BatteryState{Voltage: 12}, nil, nil, events, 0)

	if state.Kind != types.ErrorState || state.ErrorKind != "estop" {
		t.Fatalf("expected ErrorState(estop), got %+v", state)
	}
}

func TestOrchestrator_RetryReturnRejectedOutsideDockFailure(t *testing.T) {
	o, _ := New(testConfig(), testLog())

	if err := o.Submit(OperatorCommand{Kind: CmdRetryReturn}, testAnchor()); err == nil {
		t.Fatal("expected retry to be rejected when there's no failed dock attempt")
	}
}
