package scheduler

import (
	"sync"
	"time"
)

// Snapshot is a copy of the scheduling state for status output.
type Snapshot struct {
	NextRunAt   time.Time     `json:"next_run_at"`
	Running     bool          `json:"running"`
	Interval    time.Duration `json:"interval"`
	Cycles      int           `json:"cycles"`
	LastStarted time.Time     `json:"last_started,omitempty"`
	LastEnded   time.Time     `json:"last_ended,omitempty"`
}

// Until returns the time left before the next cycle, never negative.
func (s Snapshot) Until(now time.Time) time.Duration {
	return max(s.NextRunAt.Sub(now), 0)
}

// State is the scheduler's Idle/Running state machine. Only the owning
// Scheduler begins and ends cycles; anything may read a Snapshot.
type State struct {
	mu          sync.Mutex
	interval    time.Duration
	nextRunAt   time.Time
	running     bool
	cycles      int
	lastStarted time.Time
	lastEnded   time.Time
}

// NewState returns an idle state whose first cycle is due at now.
func NewState(now time.Time, interval time.Duration) *State {
	return &State{nextRunAt: now, interval: interval}
}

// TryBegin moves Idle to Running if a cycle is due. If a cycle is already
// running the due time is pushed one interval out instead, so a late
// observer can never start an overlapping cycle.
func (s *State) TryBegin(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		if !now.Before(s.nextRunAt) {
			s.nextRunAt = now.Add(s.interval)
		}
		return false
	}
	if now.Before(s.nextRunAt) {
		return false
	}
	s.running = true
	s.cycles++
	s.lastStarted = now
	return true
}

// End moves Running to Idle and schedules the next cycle one interval from
// now.
func (s *State) End(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.lastEnded = now
	s.nextRunAt = now.Add(s.interval)
}

// RequestNow makes the next cycle due immediately. It has no effect while a
// cycle is running and reports whether it took effect.
func (s *State) RequestNow(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}
	s.nextRunAt = now
	return true
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		NextRunAt:   s.nextRunAt,
		Running:     s.running,
		Interval:    s.interval,
		Cycles:      s.cycles,
		LastStarted: s.lastStarted,
		LastEnded:   s.lastEnded,
	}
}
