package safety

import (
	"testing"
	"time"
)

func TestHeartbeatRegistry_NotStarvedBeforeTimeout(t *testing.T) {
	r := NewHeartbeatRegistry()
	r.Register("c2", 0)
	r.Beat("c2", int64(200*time.Millisecond))

	starved := r.Starved(int64(400*time.Millisecond), 500*time.Millisecond)
	if len(starved) != 0 {
		t.Fatalf("expected no starved tasks, got %v", starved)
	}
}

func TestHeartbeatRegistry_StarvedAfterTimeout(t *testing.T) {
	r := NewHeartbeatRegistry()
	r.Register("c5", 0)

	starved := r.Starved(int64(1*time.Second), 500*time.Millisecond)
	if len(starved) != 1 || starved[0] != "c5" {
		t.Fatalf("expected c5 starved, got %v", starved)
	}
}

func TestHeartbeatRegistry_MultipleTasksIndependent(t *testing.T) {
	r := NewHeartbeatRegistry()
	r.Register("c4", 0)
	r.Register("c6", 0)
	r.Beat("c4", int64(900*time.Millisecond))

	starved := r.Starved(int64(1*time.Second), 500*time.Millisecond)
	if len(starved) != 1 || starved[0] != "c6" {
		t.Fatalf("expected only c6 starved, got %v", starved)
	}
}
