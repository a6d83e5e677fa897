// Package mission implements the top-level orchestrator (C8): the
// single-writer FSM across {Idle, Mowing, PointGoto, Returning,
// Charging, Error}, driven by operator commands, goal-reached/FAILED
// signals from the local planner and docking state machine, and
// safety events. It owns no actuation itself — every command it
// proposes still passes through the safety supervisor.
package mission

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/yusuftiryaki/mower/internal/docking"
	"github.com/yusuftiryaki/mower/internal/errs"
	"github.com/yusuftiryaki/mower/internal/geo"
	"github.com/yusuftiryaki/mower/internal/localplan"
	"github.com/yusuftiryaki/mower/internal/planning"
	"github.com/yusuftiryaki/mower/internal/types"
)

// CommandKind enumerates the operator commands the boundary accepts.
type CommandKind string

const (
	CmdStartMowing    CommandKind = "start_mowing"
	CmdStartPointGoto CommandKind = "start_point_goto"
	CmdReturnToDock   CommandKind = "return_to_dock"
	CmdRetryReturn    CommandKind = "retry_return"
)

// OperatorCommand is one boundary request; Target is only meaningful
// for CmdStartPointGoto.
type OperatorCommand struct {
	Kind   CommandKind
	Target geo.Point
}

// Config bundles every Orchestrator dependency's configuration.
type Config struct {
	Boundary         []geo.Local
	Coverage         planning.CoverageParams
	GridResolution   float64
	GridMargin       float64
	ObstaclePadding  float64
	InflationMetric  planning.InflationMetric
	LocalPlan        localplan.Config
	Dock             docking.Config
}

// Orchestrator runs the mission FSM. It is not safe for concurrent
// Tick/Submit calls from multiple goroutines; per spec.md §5 it is the
// sole writer of MissionState and expects a single control loop to
// drive it.
type Orchestrator struct {
	cfg   Config
	grid  *planning.Grid
	local *localplan.Planner
	dock  *docking.Docker
	log   *logrus.Entry

	state         types.MissionState
	targetLocal   geo.Local
	pointGotoPath *types.Path
}

// New builds an Orchestrator parked at Idle, constructing the
// occupancy grid from cfg.Boundary and wiring cfg.Dock's one-shot path
// request to the grid's own A* planner.
func New(cfg Config, log *logrus.Entry) (*Orchestrator, error) {
	grid, err := planning.BuildFromPolygon(cfg.Boundary, cfg.GridResolution, cfg.GridMargin, cfg.ObstaclePadding, cfg.InflationMetric)
	if err != nil {
		return nil, errs.Wrap(errs.KindPlanning, "mission.New", "building occupancy grid", err)
	}

	o := &Orchestrator{
		cfg:   cfg,
		grid:  grid,
		local: localplan.NewPlanner(cfg.LocalPlan),
		log:   log,
		state: types.MissionState{Kind: types.Idle},
	}

	dockCfg := cfg.Dock
	dockCfg.Plan = func(fromX, fromY, toX, toY float64) (*types.Path, error) {
		return planning.AStar(grid, fromX, fromY, toX, toY)
	}
	o.dock = docking.NewDocker(dockCfg, log.WithField("component", "docking"))

	return o, nil
}

// State reports the current mission state snapshot.
func (o *Orchestrator) State() types.MissionState {
	return o.state
}

// Submit applies an operator command, rejecting it if the mission
// isn't in a state that accepts it.
func (o *Orchestrator) Submit(cmd OperatorCommand, anchor *geo.Anchor) error {
	switch cmd.Kind {
	case CmdStartMowing:
		if o.state.Kind != types.Idle {
			return errs.New(errs.KindPlanning, "mission.Submit", "cannot start mowing: mission not idle")
		}
		path, err := planning.Coverage(o.cfg.Boundary, o.cfg.Coverage)
		if err != nil {
			return errs.Wrap(errs.KindPlanning, "mission.Submit", "generating coverage path", err)
		}
		o.state = types.MissionState{Kind: types.Mowing, CoveragePath: path}
		return nil

	case CmdStartPointGoto:
		if o.state.Kind != types.Idle {
			return errs.New(errs.KindPlanning, "mission.Submit", "cannot start point-goto: mission not idle")
		}
		local, err := anchor.ToLocal(cmd.Target)
		if err != nil {
			return errs.Wrap(errs.KindPlanning, "mission.Submit", "projecting point-goto target", err)
		}
		o.targetLocal = local
		o.pointGotoPath = nil
		o.state = types.MissionState{Kind: types.PointGoto, Target: cmd.Target}
		return nil

	case CmdReturnToDock:
		if o.state.Kind == types.Returning || o.state.Kind == types.Charging {
			return errs.New(errs.KindPlanning, "mission.Submit", "already returning or charging")
		}
		o.state = types.MissionState{Kind: types.Returning, ReturnPhase: types.PhaseGNSSTraverse}
		return nil

	case CmdRetryReturn:
		if o.state.Kind != types.ErrorState || o.state.ErrorKind != "dock_failed" {
			return errs.New(errs.KindPlanning, "mission.Submit", "no failed dock attempt to retry")
		}
		if !o.dock.TryRestart() {
			return errs.New(errs.KindDocking, "mission.Submit", "docking retry budget exhausted")
		}
		o.state = types.MissionState{Kind: types.Returning}
		return nil

	default:
		return errs.New(errs.KindPlanning, "mission.Submit", "unknown operator command")
	}
}

// Tick advances the active mission one control cycle and proposes a
// motion command. The caller must still route the result through the
// safety supervisor before actuating it.
func (o *Orchestrator) Tick(pose types.Pose, battery types.BatteryState, detections []types.FiducialDetection, obstacles []localplan.Obstacle, events []types.SafetyEvent, nowMono int64) (types.MotionCommand, types.MissionState) {
	if hasEStop(events) && (o.state.Kind == types.Mowing || o.state.Kind == types.PointGoto || o.state.Kind == types.Returning) {
		o.state = types.MissionState{Kind: types.ErrorState, ErrorKind: "estop"}
		return zero(nowMono), o.state
	}

	switch o.state.Kind {
	case types.Mowing:
		return o.tickMowing(pose, obstacles, events, nowMono)
	case types.PointGoto:
		return o.tickPointGoto(pose, obstacles, events, nowMono)
	case types.Returning:
		return o.tickReturning(pose, battery, detections, obstacles, nowMono)
	default:
		return zero(nowMono), o.state
	}
}

func (o *Orchestrator) tickMowing(pose types.Pose, obstacles []localplan.Obstacle, events []types.SafetyEvent, nowMono int64) (types.MotionCommand, types.MissionState) {
	result := o.local.Tick(pose, o.state.CoveragePath, obstacles, navMode(events), nowMono)
	if result.GoalReached {
		o.state = types.MissionState{Kind: types.Idle}
	}
	return result.Command, o.state
}

func (o *Orchestrator) tickPointGoto(pose types.Pose, obstacles []localplan.Obstacle, events []types.SafetyEvent, nowMono int64) (types.MotionCommand, types.MissionState) {
	if o.pointGotoPath == nil {
		path, err := planning.AStar(o.grid, pose.X, pose.Y, o.targetLocal.X, o.targetLocal.Y)
		if err != nil {
			o.log.WithError(err).Warn("point-goto planning failed")
			o.state = types.MissionState{Kind: types.ErrorState, ErrorKind: "path_not_found"}
			return zero(nowMono), o.state
		}
		o.pointGotoPath = path
	}

	result := o.local.Tick(pose, o.pointGotoPath, obstacles, navMode(events), nowMono)
	if result.GoalReached {
		o.pointGotoPath = nil
		o.state = types.MissionState{Kind: types.Idle}
	}
	return result.Command, o.state
}

func (o *Orchestrator) tickReturning(pose types.Pose, battery types.BatteryState, detections []types.FiducialDetection, obstacles []localplan.Obstacle, nowMono int64) (types.MotionCommand, types.MissionState) {
	dres := o.dock.Tick(pose, detections, battery, nowMono)
	o.state.ReturnPhase = toReturningPhase(dres.Phase)

	switch {
	case dres.Docked:
		o.state = types.MissionState{Kind: types.Charging}
		return zero(nowMono), o.state
	case dres.Failed:
		o.state = types.MissionState{Kind: types.ErrorState, ErrorKind: "dock_failed"}
		return zero(nowMono), o.state
	case dres.DirectCommand != nil:
		return *dres.DirectCommand, o.state
	case dres.Path != nil:
		result := o.local.Tick(pose, dres.Path, obstacles, localplan.ModeNormal, nowMono)
		return capLinear(result.Command, dres.ApproachSpeed), o.state
	case dres.Target != nil:
		// Docking targets are robot-frame; place this one in the local frame.
		sin, cos := math.Sincos(pose.Theta)
		wp := *dres.Target
		wp.X = pose.X + cos*dres.Target.X - sin*dres.Target.Y
		wp.Y = pose.Y + sin*dres.Target.X + cos*dres.Target.Y
		microPath := &types.Path{Waypoints: []types.Waypoint{wp}}
		result := o.local.Tick(pose, microPath, obstacles, localplan.ModeConservative, nowMono)
		return capLinear(result.Command, dres.ApproachSpeed), o.state
	default:
		return zero(nowMono), o.state
	}
}

func toReturningPhase(p docking.Phase) types.ReturningPhase {
	switch p {
	case docking.PhaseGNSSTraverse:
		return types.PhaseGNSSTraverse
	case docking.PhaseSearch:
		return types.PhaseSearch
	case docking.PhaseCoarseApproach:
		return types.PhaseCoarseApproach
	case docking.PhasePrecision:
		return types.PhasePrecision
	case docking.PhaseContact:
		return types.PhaseContact
	default:
		return ""
	}
}

func navMode(events []types.SafetyEvent) localplan.Mode {
	for _, e := range events {
		if e.Kind == types.CollisionImminent {
			return localplan.ModeConservative
		}
	}
	return localplan.ModeNormal
}

func hasEStop(events []types.SafetyEvent) bool {
	for _, e := range events {
		if e.Kind == types.EStopPressed {
			return true
		}
	}
	return false
}

// capLinear limits cmd's forward speed to a docking phase's approach speed.
func capLinear(cmd types.MotionCommand, limit float64) types.MotionCommand {
	if cmd.LinearVelocity > limit {
		cmd.LinearVelocity = limit
	}
	return cmd
}

func zero(nowMono int64) types.MotionCommand {
	return types.MotionCommand{DeadlineMono: nowMono}
}
