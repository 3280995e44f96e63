// Package state holds the process-wide scheduler state: per-event cursors
// ("last minute considered") and per-event round-robin windows.
//
// The state object is created once at process start and passed by reference
// to the components that need it; it is mutated only through the named
// operations below, never directly.
package state

import (
	"sync"
	"time"
)

// TickInterval is the scheduler's evaluation period. Cursors are always
// aligned to this boundary.
const TickInterval = 60 * time.Second

// Scheduler is the shared mutable scheduler state. Safe for concurrent use.
type Scheduler struct {
	mu sync.RWMutex

	// cursors maps event id to the last minute (epoch seconds, sec=0) the
	// scheduler considered for that event. A missing entry means "never
	// considered".
	cursors map[string]int64

	// robins maps event id to its round-robin window position, used by
	// multiplexed events that rotate across target group members.
	robins map[string]int
}

func New() *Scheduler {
	return &Scheduler{
		cursors: map[string]int64{},
		robins:  map[string]int{},
	}
}

// truncMinute floors an epoch timestamp to its minute boundary.
func truncMinute(ts int64) int64 {
	step := int64(TickInterval / time.Second)
	return (ts / step) * step
}

// OnCreate marks a freshly created event as "not retroactively due": its
// cursor starts at the current minute, so the scheduler never backfills
// minutes that predate the event.
func (s *Scheduler) OnCreate(id string, now time.Time) {
	s.mu.Lock()
	s.cursors[id] = truncMinute(now.Unix())
	s.mu.Unlock()
}

// ResetCursor rewinds an event's cursor to the minute before the requested
// timestamp. Backing up one tick makes the next scheduler pass treat the
// target minute itself as due again.
func (s *Scheduler) ResetCursor(id string, requested int64) int64 {
	cur := truncMinute(requested - int64(TickInterval/time.Second))
	s.mu.Lock()
	s.cursors[id] = cur
	s.mu.Unlock()
	return cur
}

// Cursor returns the event's cursor, if one exists.
func (s *Scheduler) Cursor(id string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.cursors[id]
	return ts, ok
}

// AdvanceRobin rotates an event's round-robin window over n members and
// returns the position to use. n <= 0 always yields 0.
func (s *Scheduler) AdvanceRobin(id string, n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := s.robins[id] % n
	s.robins[id] = pos + 1
	return pos
}

// RemoveEvent drops all state for a deleted event: its cursor and any
// round-robin window. Called exactly once, from the registry's delete path.
func (s *Scheduler) RemoveEvent(id string) {
	s.mu.Lock()
	delete(s.cursors, id)
	delete(s.robins, id)
	s.mu.Unlock()
}

// Snapshot returns a copy of all cursors, for diagnostics and client pushes.
func (s *Scheduler) Snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.cursors))
	for k, v := range s.cursors {
		out[k] = v
	}
	return out
}
