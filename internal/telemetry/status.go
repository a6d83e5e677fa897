package telemetry

import "github.com/yusuftiryaki/mower/internal/types"

// Status is the boundary's get_status() response: a consistent
// read-only view assembled from the published snapshot cells at call
// time, never from a lock shared with the control loop.
type Status struct {
	Mission             types.MissionState
	Pose                types.Pose
	Battery             types.BatteryState
	LocalizationQuality float64
	LastFault           string
}

// Hub bundles every published snapshot cell and the event bus, giving
// the boundary one place to assemble Status and to serve
// stream_events() from. Each task publishes into its own cell; Hub
// holds no lock of its own.
type Hub struct {
	Mission    SnapshotCell[types.MissionState]
	Pose       SnapshotCell[types.Pose]
	Battery    SnapshotCell[types.BatteryState]
	Quality    SnapshotCell[float64]
	Fault      SnapshotCell[string]
	Detections SnapshotCell[[]types.FiducialDetection]

	Events *EventBus
}

// NewHub returns a Hub with its event bus ready and every cell
// unpublished; Status() reads zero values until each task's first
// Publish.
func NewHub() *Hub {
	return &Hub{Events: NewEventBus()}
}

// Status assembles a consistent-enough snapshot across the published
// cells. Because each cell swaps independently, the fields are each
// individually fresh but not transactionally joined; that's acceptable
// for an operator status read, which spec.md does not require to be
// atomic across fields.
func (h *Hub) Status() Status {
	mission, _ := h.Mission.Load()
	pose, _ := h.Pose.Load()
	battery, _ := h.Battery.Load()
	quality, _ := h.Quality.Load()
	fault, _ := h.Fault.Load()

	return Status{
		Mission:             mission,
		Pose:                pose,
		Battery:             battery,
		LocalizationQuality: quality,
		LastFault:           fault,
	}
}

// PublishMissionTransition records a Status.Mission update and emits a
// stream_events() entry for it.
func (h *Hub) PublishMissionTransition(state types.MissionState, nowMono int64) {
	h.Mission.Publish(state)
	h.Events.Publish(Event{Kind: EventMissionTransition, Mission: state.Kind, AtMono: nowMono})
}

// PublishFault records the latest fault and emits a stream_events()
// entry for it. faultKind is the mission's ErrorState kind, e.g.
// "dock_failed" or "estop".
func (h *Hub) PublishFault(faultKind string, nowMono int64) {
	h.Fault.Publish(faultKind)
	h.Events.Publish(Event{Kind: EventFault, FaultKind: faultKind, AtMono: nowMono})
}
