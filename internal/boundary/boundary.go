// Package boundary implements the operator-facing surface spec.md §6
// describes: get_status, start_mowing, start_point_goto, return_to_dock,
// emergency_stop, reset_emergency, and stream_events. Transport
// (HTTP/WebSocket/gRPC) is explicitly out of scope; this package is the
// operations themselves, callable directly by whatever transport a
// deployment chooses to put in front of them.
package boundary

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yusuftiryaki/mower/internal/errs"
	"github.com/yusuftiryaki/mower/internal/geo"
	"github.com/yusuftiryaki/mower/internal/mission"
	"github.com/yusuftiryaki/mower/internal/safety"
	"github.com/yusuftiryaki/mower/internal/telemetry"
	"github.com/yusuftiryaki/mower/internal/types"
)

// Boundary is the operator interface. It never actuates directly: it
// submits intent to the mission orchestrator, requests a reset from
// the safety supervisor, and reads published telemetry snapshots. An
// operator-requested emergency stop is latched here and must be
// merged into the control loop's safety events by the caller (see
// Drain) because only the control loop may compose the event set the
// supervisor arbitrates over.
type Boundary struct {
	mission *mission.Orchestrator
	safety  *safety.Supervisor
	hub     *telemetry.Hub
	anchor  *geo.Anchor
	log     *logrus.Entry

	operatorEStop atomic.Bool
}

// New wires a Boundary to the running orchestrator, safety supervisor,
// telemetry hub, and the anchor used to project geodetic point-goto
// targets into the local frame.
func New(m *mission.Orchestrator, s *safety.Supervisor, hub *telemetry.Hub, anchor *geo.Anchor, log *logrus.Entry) *Boundary {
	return &Boundary{mission: m, safety: s, hub: hub, anchor: anchor, log: log}
}

// GetStatus returns the latest assembled status snapshot.
func (b *Boundary) GetStatus() telemetry.Status {
	return b.hub.Status()
}

// StartMowing requests the orchestrator begin a coverage mission.
func (b *Boundary) StartMowing() error {
	return b.mission.Submit(mission.OperatorCommand{Kind: mission.CmdStartMowing}, b.anchor)
}

// StartPointGoto requests the orchestrator drive to a geodetic target.
func (b *Boundary) StartPointGoto(target geo.Point) error {
	return b.mission.Submit(mission.OperatorCommand{Kind: mission.CmdStartPointGoto, Target: target}, b.anchor)
}

// ReturnToDock requests the orchestrator begin the return-to-dock
// sequence.
func (b *Boundary) ReturnToDock() error {
	return b.mission.Submit(mission.OperatorCommand{Kind: mission.CmdReturnToDock}, b.anchor)
}

// RetryReturn requests the orchestrator retry a previously failed dock
// attempt, subject to the docking retry budget.
func (b *Boundary) RetryReturn() error {
	return b.mission.Submit(mission.OperatorCommand{Kind: mission.CmdRetryReturn}, b.anchor)
}

// EmergencyStop latches an operator-requested stop. It takes effect on
// the control loop's next Drain call, which folds it into that tick's
// safety events ahead of the supervisor's Decide.
func (b *Boundary) EmergencyStop() {
	b.operatorEStop.Store(true)
	b.log.Warn("operator emergency stop requested")
}

// ResetEmergency asks the safety supervisor to clear its latched
// emergency hold, and clears any still-pending operator stop request.
// Clearing a pending operator request counts as a reset even when the
// supervisor had not latched it yet.
func (b *Boundary) ResetEmergency() error {
	pending := b.operatorEStop.Swap(false)
	if err := b.safety.ResetEmergency(); err != nil && !pending {
		return errs.Wrap(errs.KindSafety, "boundary.ResetEmergency", "clearing latched emergency", err)
	}
	return nil
}

// Drain reports a pending operator e-stop as a SafetyEvent the caller
// should append to the tick's event set before calling the
// supervisor's Decide. The request stays pending, and is reported on
// every call, until ResetEmergency clears it.
func (b *Boundary) Drain(nowMono int64) []types.SafetyEvent {
	if !b.operatorEStop.Swap(false) {
		return nil
	}
	// Re-latch: the supervisor's own hold is sticky until
	// ResetEmergency, but the operator request itself is edge-
	// triggered, so it's restored here and only cleared by a reset.
	b.operatorEStop.Store(true)
	return []types.SafetyEvent{{Kind: types.EStopPressed, OccurredAtMono: nowMono}}
}

// StreamEvents subscribes a new listener to the mission-transition and
// fault event feed, returning its id (for Unsubscribe) and the channel
// to range over.
func (b *Boundary) StreamEvents() (uuid.UUID, <-chan telemetry.Event) {
	return b.hub.Events.Subscribe()
}

// Unsubscribe ends a StreamEvents subscription.
func (b *Boundary) Unsubscribe(id uuid.UUID) {
	b.hub.Events.Unsubscribe(id)
}
