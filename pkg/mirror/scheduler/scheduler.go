// Package scheduler runs the sync cycle on a fixed interval, one cycle at a
// time, until its context is cancelled.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
)

// DefaultQuantum is how often the loop checks whether a cycle is due.
const DefaultQuantum = time.Second

// CycleFunc runs one sync cycle. Its context is never cancelled by
// shutdown; a started cycle runs to completion.
type CycleFunc func(ctx context.Context)

// Scheduler drives a CycleFunc.
type Scheduler struct {
	clock   clockwork.Clock
	quantum time.Duration
	state   *State
	cycle   CycleFunc
	wake    chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock. Tests pass a clockwork.FakeClock.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithQuantum sets the polling period.
func WithQuantum(d time.Duration) Option {
	return func(s *Scheduler) { s.quantum = d }
}

// New returns a Scheduler whose first cycle is due immediately.
func New(interval time.Duration, cycle CycleFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:   clockwork.NewRealClock(),
		quantum: DefaultQuantum,
		cycle:   cycle,
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state = NewState(s.clock.Now(), interval)
	return s
}

// State exposes the state for status reporting.
func (s *Scheduler) State() *State { return s.state }

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() clockwork.Clock { return s.clock }

// Trigger asks for a cycle now. It is ignored while a cycle is running.
func (s *Scheduler) Trigger() bool {
	if !s.state.RequestNow(s.clock.Now()) {
		return false
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Run loops until ctx is cancelled. A cycle in progress when ctx is
// cancelled finishes before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.quantum)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		s.poll(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		case <-s.wake:
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	if !s.state.TryBegin(s.clock.Now()) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Get("scheduler").Error("cycle panicked", "error", fmt.Sprint(r))
		}
		s.state.End(s.clock.Now())
	}()
	s.cycle(context.WithoutCancel(ctx))
}
