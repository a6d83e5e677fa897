package telemetry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/yusuftiryaki/mower/internal/types"
)

// EventKind discriminates the Event tagged union published on the
// stream_events() feed: mission transitions and faults, the two
// classes of thing an operator watching the boundary cares about.
type EventKind string

const (
	EventMissionTransition EventKind = "mission_transition"
	EventFault             EventKind = "fault"
)

// Event is one entry on the stream_events() feed.
type Event struct {
	Kind      EventKind
	Mission   types.MissionStateKind
	FaultKind string
	AtMono    int64
}

// subscriberBacklog bounds how many unread events a slow subscriber can
// accumulate before Publish starts dropping its oldest.
const subscriberBacklog = 64

// subscriber is one stream_events() caller's inbox. Adapted from the
// broadcast-manager's per-subscriber channel pattern, pared down to a
// single feed type: the operator boundary has one event kind, not a
// clearance-gated set of video/telemetry/map/alert streams.
type subscriber struct {
	id uuid.UUID
	ch chan Event
}

// EventBus fans a single stream of Events out to every current
// subscriber. A slow or absent reader never blocks the publisher: its
// channel is bounded and Publish drops the oldest buffered event rather
// than stall the control loop.
type EventBus struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*subscriber
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[uuid.UUID]*subscriber)}
}

// Subscribe registers a new listener and returns its id (for
// Unsubscribe) and the channel it should range over.
func (b *EventBus) Subscribe() (uuid.UUID, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New()
	s := &subscriber{id: id, ch: make(chan Event, subscriberBacklog)}
	b.subs[id] = s
	return id, s.ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *EventBus) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.subs[id]; ok {
		close(s.ch)
		delete(b.subs, id)
	}
}

// Publish delivers ev to every current subscriber, non-blocking: a
// subscriber whose inbox is full loses its oldest buffered event to
// make room rather than stall this call.
func (b *EventBus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- ev:
			default:
			}
		}
	}
}

// Close unsubscribes every listener, closing their channels.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
