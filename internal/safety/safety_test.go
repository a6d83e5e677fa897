package safety

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yusuftiryaki/mower/internal/types"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("test", true)
}

func testConfig() Config {
	return Config{
		MaxTiltAngleRad:       0.3,
		TiltWarningFraction:   0.8,
		TiltDebounce:          2 * time.Second,
		BumperHoldTime:        1 * time.Second,
		WatchdogTimeout:       500 * time.Millisecond,
		MinBatteryVoltage:     10.5,
		MaxCurrentDraw:        8.0,
		EmergencyAngularLimit: 0.5,
		Limits:                Limits{MaxLinearSpeed: 1.0, MaxAngularSpeed: 2.0},
	}
}

func event(kind types.SafetyEventKind) types.SafetyEvent {
	return types.SafetyEvent{Kind: kind}
}

func TestDecide_PassThroughClampsToLimits(t *testing.T) {
	s := NewSupervisor(testConfig(), NewHeartbeatRegistry(), testLog())
	proposed := types.MotionCommand{LinearVelocity: 5.0, AngularVelocity: -5.0}

	result := s.Decide(nil, 0, types.BatteryState{Voltage: 12.0, Current: 1.0}, proposed, 0)

	if result.Command.LinearVelocity != 1.0 {
		t.Errorf("expected linear velocity clamped to 1.0, got %v", result.Command.LinearVelocity)
	}
	if result.Command.AngularVelocity != -2.0 {
		t.Errorf("expected angular velocity clamped to -2.0, got %v", result.Command.AngularVelocity)
	}
	if result.Diagnostics.Hold != HoldNone {
		t.Errorf("expected no hold, got %v", result.Diagnostics.Hold)
	}
}

func TestDecide_EStopLatchesEmergencyUntilReset(t *testing.T) {
	s := NewSupervisor(testConfig(), NewHeartbeatRegistry(), testLog())
	proposed := types.MotionCommand{LinearVelocity: 0.5}

	result := s.Decide([]types.SafetyEvent{event(types.EStopPressed)}, 0, types.BatteryState{}, proposed, 0)
	if result.Command.LinearVelocity != 0 || result.Command.AngularVelocity != 0 {
		t.Fatalf("expected zero output on estop, got %+v", result.Command)
	}
	if result.Diagnostics.Hold != HoldEmergency {
		t.Fatalf("expected HoldEmergency, got %v", result.Diagnostics.Hold)
	}

	// Even with the event gone, the latch persists until reset.
	again := s.Decide(nil, 0, types.BatteryState{}, proposed, int64(1*time.Second))
	if again.Diagnostics.Hold != HoldEmergency {
		t.Fatalf("expected emergency latch to persist without reset, got %v", again.Diagnostics.Hold)
	}

	if err := s.ResetEmergency(); err != nil {
		t.Fatalf("unexpected error resetting emergency: %v", err)
	}
	after := s.Decide(nil, 0, types.BatteryState{Voltage: 12.0}, proposed, int64(2*time.Second))
	if after.Diagnostics.Hold == HoldEmergency {
		t.Fatal("expected emergency latch cleared after reset")
	}
}

func TestDecide_WatchdogStarvationLatchesEmergency(t *testing.T) {
	reg := NewHeartbeatRegistry()
	reg.Register("c4", 0)
	s := NewSupervisor(testConfig(), reg, testLog())

	result := s.Decide(nil, 0, types.BatteryState{}, types.MotionCommand{}, int64(1*time.Second))

	if result.Diagnostics.Hold != HoldEmergency {
		t.Fatalf("expected watchdog starvation to latch emergency, got %v", result.Diagnostics.Hold)
	}
	if result.Diagnostics.TriggeredBy != types.WatchdogStarved {
		t.Errorf("expected TriggeredBy watchdog_starved, got %v", result.Diagnostics.TriggeredBy)
	}
	if len(result.Diagnostics.WatchdogStarved) != 1 || result.Diagnostics.WatchdogStarved[0] != "c4" {
		t.Errorf("expected c4 listed as starved, got %v", result.Diagnostics.WatchdogStarved)
	}
}

func TestDecide_BumperBrakesAndHoldsThenReleases(t *testing.T) {
	s := NewSupervisor(testConfig(), NewHeartbeatRegistry(), testLog())
	proposed := types.MotionCommand{LinearVelocity: 0.4}

	result := s.Decide([]types.SafetyEvent{event(types.BumperHit)}, 0, types.BatteryState{Voltage: 12}, proposed, 0)
	if result.Command.LinearVelocity != 0 || result.Diagnostics.Hold != HoldBumper {
		t.Fatalf("expected zero output and HoldBumper, got %+v", result)
	}

	// Still within hold window, bumper cleared: output stays zero.
	stillHeld := s.Decide(nil, 0, types.BatteryState{Voltage: 12}, proposed, int64(500*time.Millisecond))
	if stillHeld.Command.LinearVelocity != 0 {
		t.Fatalf("expected bumper hold to keep output zero mid-window, got %+v", stillHeld.Command)
	}

	// Past the hold window with bumper cleared: passes through again.
	released := s.Decide(nil, 0, types.BatteryState{Voltage: 12}, proposed, int64(2*time.Second))
	if released.Command.LinearVelocity != proposed.LinearVelocity {
		t.Fatalf("expected command to pass through after bumper hold elapsed, got %+v", released.Command)
	}
}

func TestDecide_TiltBrakesUntilDebounceSustained(t *testing.T) {
	cfg := testConfig()
	s := NewSupervisor(cfg, NewHeartbeatRegistry(), testLog())
	proposed := types.MotionCommand{LinearVelocity: 0.3}

	tilted := s.Decide(nil, 0.4, types.BatteryState{Voltage: 12}, proposed, 0)
	if tilted.Diagnostics.Hold != HoldTilt {
		t.Fatalf("expected HoldTilt when tilt exceeds max, got %v", tilted.Diagnostics.Hold)
	}

	// Below the warning gate but not sustained long enough yet.
	recovering := s.Decide(nil, 0.1, types.BatteryState{Voltage: 12}, proposed, int64(500*time.Millisecond))
	if recovering.Diagnostics.Hold != HoldTilt {
		t.Fatalf("expected hold to persist before debounce elapses, got %v", recovering.Diagnostics.Hold)
	}

	released := s.Decide(nil, 0.1, types.BatteryState{Voltage: 12}, proposed, int64(3*time.Second))
	if released.Diagnostics.Hold == HoldTilt {
		t.Fatal("expected tilt hold to release once debounce is sustained")
	}
}

func TestDecide_BatteryCriticalRequestsDockButAllowsMotion(t *testing.T) {
	s := NewSupervisor(testConfig(), NewHeartbeatRegistry(), testLog())
	proposed := types.MotionCommand{LinearVelocity: 0.3}

	result := s.Decide(nil, 0, types.BatteryState{Voltage: 9.0}, proposed, 0)

	if !result.Diagnostics.RequestDock {
		t.Fatal("expected low voltage to request dock")
	}
	if result.Command.LinearVelocity != proposed.LinearVelocity {
		t.Fatalf("expected controlled motion to continue toward dock, got %+v", result.Command)
	}
}

func TestDecide_CollisionImminentZeroesLinearBoundsAngular(t *testing.T) {
	s := NewSupervisor(testConfig(), NewHeartbeatRegistry(), testLog())
	proposed := types.MotionCommand{LinearVelocity: 0.5, AngularVelocity: 10.0}

	result := s.Decide([]types.SafetyEvent{event(types.CollisionImminent)}, 0, types.BatteryState{Voltage: 12}, proposed, 0)

	if result.Command.LinearVelocity != 0 {
		t.Errorf("expected zero linear velocity under collision imminent, got %v", result.Command.LinearVelocity)
	}
	if result.Command.AngularVelocity != 0.5 {
		t.Errorf("expected angular velocity bounded to EmergencyAngularLimit, got %v", result.Command.AngularVelocity)
	}
}

func TestDecide_EStopOutranksBumper(t *testing.T) {
	s := NewSupervisor(testConfig(), NewHeartbeatRegistry(), testLog())
	events := []types.SafetyEvent{event(types.BumperHit), event(types.EStopPressed)}

	result := s.Decide(events, 0, types.BatteryState{Voltage: 12}, types.MotionCommand{}, 0)

	if result.Diagnostics.Hold != HoldEmergency {
		t.Fatalf("expected EStop to win over bumper per first-trigger-wins ordering, got %v", result.Diagnostics.Hold)
	}
}

func TestDecide_TokensAreUniquePerTick(t *testing.T) {
	s := NewSupervisor(testConfig(), NewHeartbeatRegistry(), testLog())

	a := s.Decide(nil, 0, types.BatteryState{Voltage: 12}, types.MotionCommand{}, 0)
	b := s.Decide(nil, 0, types.BatteryState{Voltage: 12}, types.MotionCommand{}, 1)

	if a.Token.Seq == b.Token.Seq || a.Token.ID == b.Token.ID {
		t.Fatalf("expected distinct tokens across ticks, got %+v and %+v", a.Token, b.Token)
	}
}
