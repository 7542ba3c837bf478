package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const interval = 10 * time.Second

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func TestStateFirstCycleIsDue(t *testing.T) {
	s := NewState(t0, interval)

	assert.True(t, s.TryBegin(t0))
	snap := s.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, 1, snap.Cycles)
	assert.Equal(t, t0, snap.LastStarted)
}

func TestStateEndSchedulesNext(t *testing.T) {
	s := NewState(t0, interval)
	require.True(t, s.TryBegin(t0))

	end := t0.Add(3 * time.Second)
	s.End(end)

	snap := s.Snapshot()
	assert.False(t, snap.Running)
	assert.Equal(t, end.Add(interval), snap.NextRunAt)
	assert.False(t, s.TryBegin(end.Add(interval-time.Nanosecond)))
	assert.True(t, s.TryBegin(end.Add(interval)))
}

func TestStateNoReentry(t *testing.T) {
	s := NewState(t0, interval)
	require.True(t, s.TryBegin(t0))

	late := t0.Add(time.Minute)
	assert.False(t, s.TryBegin(late))
	assert.Equal(t, late.Add(interval), s.Snapshot().NextRunAt)
	assert.Equal(t, 1, s.Snapshot().Cycles)
}

func TestStateRequestNow(t *testing.T) {
	s := NewState(t0, interval)
	require.True(t, s.TryBegin(t0))
	assert.False(t, s.RequestNow(t0), "ignored while running")

	s.End(t0)
	later := t0.Add(time.Second)
	assert.True(t, s.RequestNow(later))
	assert.True(t, s.TryBegin(later))
}

func TestSnapshotUntil(t *testing.T) {
	snap := Snapshot{NextRunAt: t0.Add(5 * time.Second)}
	assert.Equal(t, 5*time.Second, snap.Until(t0))
	assert.Zero(t, snap.Until(t0.Add(time.Minute)))
}

// gate is a cycle that blocks until released and tracks overlap.
type gate struct {
	started chan struct{}
	release chan struct{}
	active  atomic.Int32
	maxSeen atomic.Int32
	runs    atomic.Int32
}

func newGate() *gate {
	return &gate{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gate) cycle(ctx context.Context) {
	n := g.active.Add(1)
	for {
		m := g.maxSeen.Load()
		if n <= m || g.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	g.runs.Add(1)
	g.started <- struct{}{}
	<-g.release
	g.active.Add(-1)
}

func TestSchedulerNoOverlapUnderSlowCycle(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	g := newGate()
	s := New(interval, g.cycle, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// First cycle starts immediately and hangs.
	<-g.started
	assert.True(t, s.State().Snapshot().Running)

	// Time passes well beyond the interval while the cycle is stuck. The
	// loop is blocked inside the cycle, so a late check from outside must
	// push the due time rather than start a second cycle.
	clock.Advance(3 * interval)
	assert.False(t, s.State().TryBegin(clock.Now()))
	assert.Equal(t, clock.Now().Add(interval), s.State().Snapshot().NextRunAt)
	assert.False(t, s.Trigger())

	close(g.release)
	require.Eventually(t, func() bool { return !s.State().Snapshot().Running }, time.Second, time.Millisecond)
	assert.Equal(t, clock.Now().Add(interval), s.State().Snapshot().NextRunAt)

	// The next cycle waits for the interval.
	clock.Advance(interval)
	<-g.started
	require.Eventually(t, func() bool { return !s.State().Snapshot().Running }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(2), g.runs.Load())
	assert.Equal(t, int32(1), g.maxSeen.Load())
}

func TestSchedulerTriggerRunsImmediately(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	var runs atomic.Int32
	ran := make(chan struct{}, 4)
	s := New(time.Hour, func(context.Context) {
		runs.Add(1)
		ran <- struct{}{}
	}, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	<-ran
	require.Eventually(t, func() bool { return !s.State().Snapshot().Running }, time.Second, time.Millisecond)

	assert.True(t, s.Trigger())
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("triggered cycle did not run")
	}
	assert.Equal(t, int32(2), runs.Load())
}

func TestSchedulerShutdownLetsCycleFinish(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	g := newGate()
	var cycleCtxErr error
	var mu sync.Mutex
	s := New(interval, func(ctx context.Context) {
		g.cycle(ctx)
		mu.Lock()
		cycleCtxErr = ctx.Err()
		mu.Unlock()
	}, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-g.started
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a cycle was in progress")
	case <-time.After(20 * time.Millisecond):
	}

	close(g.release)
	require.NoError(t, <-done)
	mu.Lock()
	defer mu.Unlock()
	assert.NoError(t, cycleCtxErr)
	assert.False(t, s.State().Snapshot().Running)
}

func TestSchedulerRecoversFromPanic(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	s := New(interval, func(context.Context) { panic("boom") }, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		snap := s.State().Snapshot()
		return snap.Cycles == 1 && !snap.Running
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
