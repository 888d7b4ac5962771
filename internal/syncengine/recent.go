package syncengine

import (
	"sync"
	"time"
)

// TransitionEvent is one entry in the operational ring of recent
// transitions. Debug surface only; nothing reads it for control flow.
type TransitionEvent struct {
	Time     time.Time `json:"time"`
	Trigger  string    `json:"trigger"`
	Entity   string    `json:"entity"`
	EntityID string    `json:"entity_id"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	ActorID  string    `json:"actor_id"`
	Reversal bool      `json:"reversal,omitempty"`
}

// RecentLog is a bounded, mutex-owned ring buffer of the most recent
// transition events. When full, the oldest entry is evicted.
type RecentLog struct {
	mu   sync.Mutex
	buf  []TransitionEvent
	next int
	full bool
}

// NewRecentLog creates a ring with the given capacity (minimum 1).
func NewRecentLog(capacity int) *RecentLog {
	if capacity < 1 {
		capacity = 1
	}
	return &RecentLog{buf: make([]TransitionEvent, capacity)}
}

// Append records an event, evicting the oldest when the ring is full.
func (r *RecentLog) Append(evt TransitionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = evt
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// Snapshot returns the buffered events, oldest first.
func (r *RecentLog) Snapshot() []TransitionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]TransitionEvent, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]TransitionEvent, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

// Len returns the number of buffered events.
func (r *RecentLog) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}
