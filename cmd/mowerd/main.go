// Command mowerd is the autonomous mower's control-stack daemon: it
// wires the hardware ports, the fusion/planning/docking/safety
// pipeline, and the operator boundary together, then runs each
// cooperating task until a shutdown signal arrives. Initialize/Start/
// Shutdown split follows the wider fleet's daemon lifecycle convention;
// the HTTP API that convention also includes is intentionally absent
// here, since spec.md §6 leaves transport unspecified.
package main

import (
	"context"
	"flag"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yusuftiryaki/mower/internal/boundary"
	"github.com/yusuftiryaki/mower/internal/config"
	"github.com/yusuftiryaki/mower/internal/docking"
	"github.com/yusuftiryaki/mower/internal/errs"
	"github.com/yusuftiryaki/mower/internal/fusion"
	"github.com/yusuftiryaki/mower/internal/geo"
	"github.com/yusuftiryaki/mower/internal/hal"
	"github.com/yusuftiryaki/mower/internal/hal/simhal"
	"github.com/yusuftiryaki/mower/internal/localplan"
	"github.com/yusuftiryaki/mower/internal/logging"
	"github.com/yusuftiryaki/mower/internal/mission"
	"github.com/yusuftiryaki/mower/internal/planning"
	"github.com/yusuftiryaki/mower/internal/safety"
	"github.com/yusuftiryaki/mower/internal/telemetry"
	"github.com/yusuftiryaki/mower/internal/types"
	"github.com/yusuftiryaki/mower/internal/vision"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "base configuration file")
	envOverlay = flag.String("env-config", "", "environment-specific overlay, merged over -config")
	logLevel   = flag.String("log-level", "info", "debug, info, warn, or error")
	logOutput  = flag.String("log-output", "stdout", "stdout or a file path")
)

// Tuning constants the external-interfaces section leaves
// implementation-defined: not a recognized config key, so fixed here
// rather than invented as a new one.
const (
	gridMarginMeters = 2.0
	fusionRate       = 20 * time.Millisecond // 50 Hz predict
	gnssEveryNTicks  = 50                    // ~1 Hz GNSS ingestion at a 20ms fusion tick
	controlRate      = 50 * time.Millisecond // 20 Hz, within the local planner's 10-25 Hz band
	visionRate       = 100 * time.Millisecond // 10 Hz, under the 15 Hz vision budget
)

func main() {
	flag.Parse()

	logger := logging.New(*logLevel, *logOutput)
	log := logging.Named(logger, "mowerd")

	cfg, err := config.Load(*configPath, *envOverlay)
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}

	d, err := newDaemon(cfg, logger)
	if err != nil {
		log.WithError(err).Fatal("initializing control stack")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	d.Start(ctx, &wg)

	log.WithFields(logrus.Fields{"robot": cfg.Robot.Name, "version": cfg.Robot.Version}).Info("mowerd operational")

	<-sigCh
	log.Info("shutdown signal received")

	d.Shutdown(cancel, &wg)
	log.Info("mowerd shutdown complete")
}

// daemon bundles the running instance: every wired subsystem plus the
// mutable cross-tick bookkeeping the control loop needs (last observed
// mission kind, to emit stream_events() only on actual transitions
// rather than every tick).
type daemon struct {
	log    *logrus.Logger
	ports  hal.Ports
	anchor *geo.Anchor

	ekf          *fusion.EKF
	visionPipeline *vision.Pipeline
	orchestrator *mission.Orchestrator
	supervisor   *safety.Supervisor
	heartbeats   *safety.HeartbeatRegistry
	hub          *telemetry.Hub
	boundary     *boundary.Boundary

	lastMissionKind types.MissionStateKind
}

func newDaemon(cfg *config.Config, logger *logrus.Logger) (*daemon, error) {
	if !cfg.Simulation.Enabled {
		return nil, errs.New(errs.KindConfiguration, "mowerd.newDaemon",
			"only simulation.enabled: true is supported; no real hardware port binding ships in this module")
	}
	ports := simhal.NewPorts()

	if len(cfg.Navigation.BoundaryCoords) == 0 {
		return nil, errs.New(errs.KindConfiguration, "mowerd.newDaemon", "navigation.boundary_coordinates is empty")
	}
	anchor := geo.NewAnchor()
	anchor.Fix(cfg.Navigation.BoundaryCoords[0])

	boundaryLocal := make([]geo.Local, len(cfg.Navigation.BoundaryCoords))
	for i, p := range cfg.Navigation.BoundaryCoords {
		local, err := anchor.ToLocal(p)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, "mowerd.newDaemon", "projecting boundary vertex", err)
		}
		boundaryLocal[i] = local
	}

	ekf := fusion.NewEKF(buildFusionConfig(cfg), logging.Named(logger, "fusion"))

	missionCfg := mission.Config{
		Boundary: boundaryLocal,
		Coverage: planning.CoverageParams{
			BrushWidth:      cfg.Navigation.Missions.Mowing.BrushWidth,
			Overlap:         cfg.Navigation.Missions.Mowing.Overlap,
			MaxWaypointStep: cfg.Navigation.PathPlanning.GridResolution * 2,
		},
		GridResolution:  cfg.Navigation.PathPlanning.GridResolution,
		GridMargin:      gridMarginMeters,
		ObstaclePadding: cfg.Navigation.PathPlanning.ObstaclePadding,
		InflationMetric: planning.Euclidean,
		LocalPlan:       buildLocalPlanConfig(cfg),
		Dock:            buildDockingConfig(cfg, anchor),
	}
	orchestrator, err := mission.New(missionCfg, logging.Named(logger, "mission"))
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "mowerd.newDaemon", "building mission orchestrator", err)
	}

	heartbeats := safety.NewHeartbeatRegistry()
	heartbeats.Register("fusion", nowMono())
	heartbeats.Register("orchestrator", nowMono())

	supervisor := safety.NewSupervisor(buildSafetyConfig(cfg), heartbeats, logging.Named(logger, "safety"))

	hub := telemetry.NewHub()

	var visionPipeline *vision.Pipeline
	if ports.Camera != nil {
		// No concrete hal.CameraSource/vision.Decoder ships with this
		// module (see DESIGN.md); simhal.NewPorts leaves Camera nil, so
		// this branch is unreachable with the bundled simulated ports
		// but the pipeline is still wired for a binding that supplies one.
		visionPipeline = vision.NewPipeline(buildVisionConfig(cfg), nil, logging.Named(logger, "vision"))
	}

	b := boundary.New(orchestrator, supervisor, hub, anchor, logging.Named(logger, "boundary"))

	return &daemon{
		log:            logger,
		ports:          ports,
		anchor:         anchor,
		ekf:            ekf,
		visionPipeline: visionPipeline,
		orchestrator:   orchestrator,
		supervisor:     supervisor,
		heartbeats:     heartbeats,
		hub:            hub,
		boundary:       b,
	}, nil
}

// Start launches every cooperating task as its own goroutine, mirroring
// the wider fleet daemon's Start() shape: one goroutine per subsystem,
// each stopping on ctx cancellation, tracked by wg for a clean Shutdown.
func (d *daemon) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.runFusionLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.runControlLoop(ctx)
	}()

	if d.visionPipeline != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.runVisionLoop(ctx)
		}()
	}
}

// Shutdown cancels every task's context and waits for them to drain.
// runControlLoop's deferred haltDrive leaves the actuator at zero on
// its way out; that zero velocity is written straight to the drive
// port and does not pass through the supervisor.
func (d *daemon) Shutdown(cancel context.CancelFunc, wg *sync.WaitGroup) {
	cancel()
	wg.Wait()
}

func nowMono() int64 { return time.Now().UnixNano() }

// runFusionLoop predicts from encoders/IMU every tick and ingests a
// GNSS fix roughly once a second, publishing the fused pose and
// quality snapshots the rest of the stack reads.
func (d *daemon) runFusionLoop(ctx context.Context) {
	ticker := time.NewTicker(fusionRate)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			now := nowMono()

			enc, err := d.ports.Encoders.Read(ctx)
			if err != nil {
				d.log.WithError(err).Warn("reading encoders")
				continue
			}
			imu, err := d.ports.Imu.Read(ctx)
			if err != nil {
				d.log.WithError(err).Warn("reading imu")
				continue
			}
			if err := d.ekf.Predict(ctx, enc, imu, fusionRate.Seconds(), now); err != nil {
				d.log.WithError(err).Warn("fusion predict")
			}

			if tick%gnssEveryNTicks == 0 {
				fix, err := d.ports.Gnss.Read(ctx)
				if err == nil {
					if err := d.ekf.UpdateGNSS(fix); err != nil {
						d.log.WithError(err).Debug("gnss fix rejected")
					}
				}
			}

			pose := d.ekf.Snapshot(now)
			d.hub.Pose.Publish(pose)
			d.hub.Quality.Publish(d.ekf.Quality())
			d.heartbeats.Beat("fusion", now)
		}
	}
}

// runVisionLoop runs the fiducial pipeline against camera frames and
// publishes the latest detection set for the control loop to read.
func (d *daemon) runVisionLoop(ctx context.Context) {
	ticker := time.NewTicker(visionRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := d.ports.Camera.Read(ctx)
			if err != nil {
				d.log.WithError(err).Warn("reading camera frame")
				continue
			}
			detections, err := d.visionPipeline.Process(frame)
			if err != nil {
				d.log.WithError(err).Debug("vision pipeline")
				continue
			}
			d.hub.Detections.Publish(detections)
		}
	}
}

// runControlLoop is the hard-real-time-adjacent path: it reads the
// fused pose and safety-relevant sensors, advances the mission
// orchestrator, arbitrates the proposed command through the safety
// supervisor, and actuates the result. Every exit path publishes a
// zero command first, satisfying the cooperative-shutdown contract.
func (d *daemon) runControlLoop(ctx context.Context) {
	ticker := time.NewTicker(controlRate)
	defer ticker.Stop()
	defer d.haltDrive(context.Background())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.controlTick(ctx)
		}
	}
}

func (d *daemon) controlTick(ctx context.Context) {
	now := nowMono()

	pose, _ := d.hub.Pose.Load()
	battery := d.readBattery(ctx)
	events := d.readSafetyEvents(ctx, now)
	events = append(events, d.boundary.Drain(now)...)

	var detections []types.FiducialDetection
	if d.visionPipeline != nil {
		detections, _ = d.hub.Detections.Load()
	}

	cmd, state := d.orchestrator.Tick(pose, battery, detections, nil, events, now)
	d.noteMissionTransition(state, now)

	tiltRad := d.readTiltAngle(ctx)
	result := d.supervisor.Decide(events, tiltRad, battery, cmd, now)
	d.heartbeats.Beat("orchestrator", now)

	if err := d.ports.Drive.SetVelocity(ctx, result.Command.LinearVelocity, result.Command.AngularVelocity); err != nil {
		d.log.WithError(err).Warn("actuating drive command")
	}

	d.hub.Battery.Publish(battery)

	if result.Diagnostics.RequestDock && (state.Kind == types.Mowing || state.Kind == types.PointGoto) {
		if err := d.orchestrator.Submit(mission.OperatorCommand{Kind: mission.CmdReturnToDock}, d.anchor); err != nil {
			d.log.WithError(err).Warn("auto-requesting return to dock on low battery")
		}
	}
}

func (d *daemon) noteMissionTransition(state types.MissionState, now int64) {
	if state.Kind == d.lastMissionKind {
		return
	}
	d.lastMissionKind = state.Kind
	d.hub.PublishMissionTransition(state, now)
	if state.Kind == types.ErrorState {
		d.hub.PublishFault(state.ErrorKind, now)
	}
}

func (d *daemon) readBattery(ctx context.Context) types.BatteryState {
	reading, err := d.ports.Battery.Read(ctx)
	if err != nil {
		d.log.WithError(err).Warn("reading battery sensor")
		return types.BatteryState{}
	}
	return types.BatteryState{
		Voltage: reading.Voltage,
		Current: reading.Current,
	}
}

func (d *daemon) readTiltAngle(ctx context.Context) float64 {
	imu, err := d.ports.Imu.Read(ctx)
	if err != nil {
		return 0
	}
	return math.Max(math.Abs(imu.Roll), math.Abs(imu.Pitch))
}

func (d *daemon) readSafetyEvents(ctx context.Context, now int64) []types.SafetyEvent {
	state, err := d.ports.Digital.Read(ctx)
	if err != nil {
		d.log.WithError(err).Warn("reading digital safety inputs")
		return nil
	}
	var events []types.SafetyEvent
	if state.EStop {
		events = append(events, types.SafetyEvent{Kind: types.EStopPressed, OccurredAtMono: now})
	}
	if state.BumperFront {
		events = append(events, types.SafetyEvent{Kind: types.BumperHit, Which: "front", OccurredAtMono: now})
	}
	if state.BumperRear {
		events = append(events, types.SafetyEvent{Kind: types.BumperHit, Which: "rear", OccurredAtMono: now})
	}
	return events
}

func (d *daemon) haltDrive(ctx context.Context) {
	if err := d.ports.Drive.SetVelocity(ctx, 0, 0); err != nil {
		d.log.WithError(err).Warn("halting drive on shutdown")
	}
}

func buildFusionConfig(cfg *config.Config) fusion.FusionConfig {
	fc := fusion.DefaultFusionConfig()
	fc.WheelDiameter = cfg.Navigation.WheelDiameter
	fc.WheelBase = cfg.Navigation.WheelBase
	fc.PulsesPerRevolution = 1.0
	fc.ProcessNoise = cfg.Navigation.Kalman.ProcessNoise
	fc.MeasurementNoise = cfg.Navigation.Kalman.MeasurementNoise
	return fc
}

func buildSafetyConfig(cfg *config.Config) safety.Config {
	maxTiltRad := cfg.Safety.TiltControl.MaxTiltAngle * math.Pi / 180
	return safety.Config{
		MaxTiltAngleRad:       maxTiltRad,
		TiltWarningFraction:   cfg.Safety.TiltControl.WarningThreshold,
		TiltDebounce:          time.Duration(cfg.Safety.TiltControl.DebounceTime * float64(time.Second)),
		BumperHoldTime:        time.Duration(cfg.Safety.Bumper.HoldTime * float64(time.Second)),
		WatchdogTimeout:       time.Duration(cfg.Safety.Watchdog.Timeout * float64(time.Second)),
		MinBatteryVoltage:     cfg.Safety.BatterySafety.MinBatteryVoltage,
		MaxCurrentDraw:        cfg.Safety.BatterySafety.MaxCurrentDraw,
		EmergencyAngularLimit: cfg.Safety.CollisionDetection.EmergencyAngularLimit,
		Limits: safety.Limits{
			MaxLinearSpeed:  cfg.DynamicObstacleAvoidance.RobotPhysics.MaxLinearSpeed,
			MaxAngularSpeed: cfg.DynamicObstacleAvoidance.RobotPhysics.MaxAngularSpeed,
		},
	}
}

func buildLocalPlanConfig(cfg *config.Config) localplan.Config {
	dwa := cfg.DynamicObstacleAvoidance.DWA
	phys := cfg.DynamicObstacleAvoidance.RobotPhysics
	modes := cfg.DynamicObstacleAvoidance.NavigationModes
	return localplan.Config{
		VelocityResolution: dwa.VelocityResolution,
		AngularResolution:  dwa.AngularResolution,
		TimeHorizon:        dwa.TimeHorizon,
		Dt:                 dwa.Dt,
		Weights: localplan.Weights{
			Heading:    dwa.Weights.Heading,
			Obstacle:   dwa.Weights.Obstacle,
			Velocity:   dwa.Weights.Velocity,
			Smoothness: dwa.Weights.Smoothness,
		},
		Limits: localplan.Limits{
			MaxLinearSpeed:  phys.MaxLinearSpeed,
			MaxAngularSpeed: phys.MaxAngularSpeed,
			MaxLinearAccel:  phys.MaxLinearAccel,
			MaxAngularAccel: phys.MaxAngularAccel,
			Radius:          phys.Radius,
		},
		Profiles: map[localplan.Mode]localplan.Profile{
			localplan.ModeNormal:       {SpeedFactor: modes.Normal.SpeedFactor, SafetyFactor: modes.Normal.SafetyFactor},
			localplan.ModeConservative: {SpeedFactor: modes.Conservative.SpeedFactor, SafetyFactor: modes.Conservative.SafetyFactor},
			localplan.ModeAggressive:   {SpeedFactor: modes.Aggressive.SpeedFactor, SafetyFactor: modes.Aggressive.SafetyFactor},
			localplan.ModeEmergency:    {SpeedFactor: modes.Emergency.SpeedFactor, SafetyFactor: modes.Emergency.SafetyFactor},
		},
		WaypointTolerance: cfg.DynamicObstacleAvoidance.Performance.WaypointTolerance,
		StuckLimit:        int(cfg.DynamicObstacleAvoidance.Performance.StuckDetectionLimit),
		BrakingDistance:   dwa.EmergencyBrakeDistance,
	}
}

func buildDockingConfig(cfg *config.Config, anchor *geo.Anchor) docking.Config {
	dock := cfg.Charging.GpsDock
	apriltag := cfg.Charging.Apriltag
	power := cfg.Charging.PowerSensor
	dk := cfg.Charging.Docking

	dockLocal, _ := anchor.ToLocal(geo.Point{Latitude: dock.RawLatitude, Longitude: dock.RawLongitude})

	return docking.Config{
		DockLocal:               dockLocal,
		TagID:                   apriltag.SarjIstasyonuTagID,
		MinConfidence:           apriltag.Detection.MinConfidence,
		PreciseApproachDistance: dock.PreciseApproachDistance,
		ApriltagDetectionRange:  dock.ApriltagDetectionRange,
		PreciseThreshold:        dk.PreciseThreshold,
		HassasMesafe:            apriltag.Tolerances.HassasMesafe,
		AngleToleranceRad:       apriltag.Tolerances.AciToleransi * math.Pi / 180,
		ApproachSpeeds: docking.ApproachSpeeds{
			Normal:    dock.ApproachSpeeds.Normal,
			Slow:      dock.ApproachSpeeds.Slow,
			VerySlow:  dock.ApproachSpeeds.VerySlow,
			UltraSlow: dock.ApproachSpeeds.UltraSlow,
			Precise:   dock.ApproachSpeeds.Precise,
		},
		RotationSpeed:           dk.RotationSpeed,
		SearchTimeoutSec:        dk.SearchTimeout,
		LostTimeoutSec:          dk.LostTimeout,
		ContactCurrentThreshold: power.SarjAkimiEsigi,
		ContactVoltageThreshold: power.BaglantiVoltajEsigi,
		ContactConsecutiveGoal:  dk.ContactConsecutiveSamples,
		ContactTimeoutSec:       dk.ContactTimeout,
		RetryBudget:             dk.RetryBudget,
	}
}

func buildVisionConfig(cfg *config.Config) vision.Config {
	apriltag := cfg.Charging.Apriltag
	return vision.Config{
		Intrinsics: vision.Intrinsics{
			K:           apriltag.KameraMatrix,
			Distortion:  apriltag.DistortionCoeffs,
			MarkerSideM: apriltag.TagBoyutu,
		},
		Gate: vision.DetectionGate{
			MinConfidence:          apriltag.Detection.MinConfidence,
			MinMarkerPerimeterRate: apriltag.Detection.MinMarkerPerimeterRate,
			MaxMarkerPerimeterRate: apriltag.Detection.MaxMarkerPerimeterRate,
			MaxDetectionDistance:   apriltag.Detection.MaxDetectionDistance,
		},
		TrackingHistory: 5,
		AgreeTolerance:  0.15,
		ObstacleTimeout: 2 * time.Second,
	}
}
