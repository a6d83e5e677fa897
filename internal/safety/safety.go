// Package safety implements the hard-real-time safety supervisor (C7):
// a pure decision function arbitrating every proposed motion command
// against the current safety events, plus the watchdog heartbeat
// registry and the per-tick authorization token that makes it the
// sole actuation sink.
package safety

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yusuftiryaki/mower/internal/errs"
	"github.com/yusuftiryaki/mower/internal/types"
)

// Hold is the supervisor's own sub-state, distinct from the EMERGENCY
// latch: a transient brake that releases on its own once its
// condition clears, versus EMERGENCY which requires an explicit reset.
type Hold string

const (
	HoldNone    Hold = "none"
	HoldBumper  Hold = "bumper_hold"
	HoldTilt    Hold = "tilt_hold"
	HoldEmergency Hold = "emergency"
)

// Limits bounds the pass-through case to the active mode's kinodynamic
// envelope.
type Limits struct {
	MaxLinearSpeed  float64
	MaxAngularSpeed float64
}

// Config bundles every threshold the decision function consults.
type Config struct {
	MaxTiltAngleRad       float64
	TiltWarningFraction   float64 // fraction of MaxTiltAngleRad the tilt must drop below to start the debounce
	TiltDebounce          time.Duration
	BumperHoldTime        time.Duration
	WatchdogTimeout       time.Duration
	MinBatteryVoltage     float64
	MaxCurrentDraw        float64
	EmergencyAngularLimit float64
	Limits                Limits
}

// Token authorizes one decision tick's gated command. Actuator drivers
// accept a command only alongside the current token, so a stale
// producer replaying an old command is structurally rejected.
type Token struct {
	Seq uint64
	ID  uuid.UUID
}

// Diagnostics explains why a command was gated the way it was.
type Diagnostics struct {
	Hold          Hold
	TriggeredBy   types.SafetyEventKind // zero value if nothing triggered
	RequestDock   bool                  // set on BatteryCritical, per spec: continues controlled motion toward the dock
	WatchdogStarved []string
}

// Result is one tick's output.
type Result struct {
	Command     types.MotionCommand
	Token       Token
	Diagnostics Diagnostics
}

// Supervisor runs the decision function across ticks, carrying the
// hysteresis state (bumper hold timer, tilt debounce timer, and the
// latched-emergency flag) that a pure per-tick function alone can't
// express.
type Supervisor struct {
	cfg Config
	log *logrus.Entry

	heartbeats *HeartbeatRegistry

	emergencyLatched bool
	bumperHoldUntil  int64 // monotonic nanoseconds; zero means not holding
	tiltBelowSince   int64 // monotonic nanoseconds tilt first dropped below the warning gate; zero means not yet
	inTiltHold       bool

	seq uint64
}

// NewSupervisor builds a Supervisor bound to a heartbeat registry.
func NewSupervisor(cfg Config, heartbeats *HeartbeatRegistry, log *logrus.Entry) *Supervisor {
	return &Supervisor{cfg: cfg, log: log, heartbeats: heartbeats}
}

// ResetEmergency clears the EMERGENCY latch; per spec.md §4.6 this is
// the only way out of it once entered.
func (s *Supervisor) ResetEmergency() error {
	if !s.emergencyLatched {
		return errs.New(errs.KindSafety, "safety.ResetEmergency", "no emergency latched")
	}
	s.emergencyLatched = false
	s.log.Info("emergency latch reset")
	return nil
}

// Decide is the ordered, first-trigger-wins arbitration described in
// spec.md §4.6: EStop/watchdog -> bumper -> tilt -> battery ->
// collision -> pass-through+clamp.
func (s *Supervisor) Decide(events []types.SafetyEvent, tiltAngleRad float64, battery types.BatteryState, proposed types.MotionCommand, nowMono int64) Result {
	s.seq++
	token := Token{Seq: s.seq, ID: uuid.New()}

	starved := s.watchdogStarved(nowMono)

	if s.emergencyLatched || hasEvent(events, types.EStopPressed) || len(starved) > 0 {
		s.emergencyLatched = true
		kind := types.EStopPressed
		if len(starved) > 0 && !hasEvent(events, types.EStopPressed) {
			kind = types.WatchdogStarved
		}
		s.log.WithField("starved", starved).Warn("emergency latch active")
		return Result{
			Command: zero(nowMono),
			Token:   token,
			Diagnostics: Diagnostics{Hold: HoldEmergency, TriggeredBy: kind, WatchdogStarved: starved},
		}
	}

	if hasEvent(events, types.BumperHit) {
		s.bumperHoldUntil = nowMono + s.cfg.BumperHoldTime.Nanoseconds()
	}
	if s.bumperHoldUntil > 0 {
		if nowMono < s.bumperHoldUntil || hasEvent(events, types.BumperHit) {
			return Result{
				Command:     zero(nowMono),
				Token:       token,
				Diagnostics: Diagnostics{Hold: HoldBumper, TriggeredBy: types.BumperHit},
			}
		}
		s.bumperHoldUntil = 0
	}

	warningGate := s.cfg.MaxTiltAngleRad * s.cfg.TiltWarningFraction
	if hasEvent(events, types.TiltExceeded) || tiltAngleRad > s.cfg.MaxTiltAngleRad {
		s.inTiltHold = true
		s.tiltBelowSince = 0
	}
	if s.inTiltHold {
		if tiltAngleRad < warningGate {
			if s.tiltBelowSince == 0 {
				s.tiltBelowSince = nowMono
			}
			if time.Duration(nowMono-s.tiltBelowSince) >= s.cfg.TiltDebounce {
				s.inTiltHold = false
				s.tiltBelowSince = 0
			}
		} else {
			s.tiltBelowSince = 0
		}
	}
	if s.inTiltHold {
		return Result{
			Command:     zero(nowMono),
			Token:       token,
			Diagnostics: Diagnostics{Hold: HoldTilt, TriggeredBy: types.TiltExceeded},
		}
	}

	batteryCritical := hasEvent(events, types.BatteryCritical) ||
		battery.Voltage < s.cfg.MinBatteryVoltage || battery.Current > s.cfg.MaxCurrentDraw
	if batteryCritical {
		return Result{
			Command:     clamp(proposed, s.cfg.Limits, nowMono),
			Token:       token,
			Diagnostics: Diagnostics{Hold: HoldNone, TriggeredBy: types.BatteryCritical, RequestDock: true},
		}
	}

	if hasEvent(events, types.CollisionImminent) {
		return Result{
			Command:     emergencyProfile(proposed, s.cfg.EmergencyAngularLimit, nowMono),
			Token:       token,
			Diagnostics: Diagnostics{Hold: HoldNone, TriggeredBy: types.CollisionImminent},
		}
	}

	return Result{
		Command:     clamp(proposed, s.cfg.Limits, nowMono),
		Token:       token,
		Diagnostics: Diagnostics{Hold: HoldNone},
	}
}

func (s *Supervisor) watchdogStarved(nowMono int64) []string {
	if s.heartbeats == nil {
		return nil
	}
	return s.heartbeats.Starved(nowMono, s.cfg.WatchdogTimeout)
}

func hasEvent(events []types.SafetyEvent, kind types.SafetyEventKind) bool {
	for _, e := range events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func zero(nowMono int64) types.MotionCommand {
	return types.MotionCommand{LinearVelocity: 0, AngularVelocity: 0, DeadlineMono: nowMono}
}

func clamp(cmd types.MotionCommand, lim Limits, nowMono int64) types.MotionCommand {
	cmd.LinearVelocity = clampAbs(cmd.LinearVelocity, lim.MaxLinearSpeed)
	cmd.AngularVelocity = clampAbs(cmd.AngularVelocity, lim.MaxAngularSpeed)
	if cmd.DeadlineMono == 0 {
		cmd.DeadlineMono = nowMono
	}
	return cmd
}

func emergencyProfile(cmd types.MotionCommand, angularLimit float64, nowMono int64) types.MotionCommand {
	return types.MotionCommand{
		LinearVelocity:  0,
		AngularVelocity: clampAbs(cmd.AngularVelocity, angularLimit),
		DeadlineMono:    nowMono,
	}
}

func clampAbs(v, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
