// Package mirror composes one sync cycle: list the remote, pick what to
// fetch, download it and enforce the storage budget.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/antjowie/syncsftp/pkg/mirror/eligibility"
	"github.com/antjowie/syncsftp/pkg/mirror/eviction"
	"github.com/antjowie/syncsftp/pkg/mirror/ledger"
	"github.com/antjowie/syncsftp/pkg/mirror/localstore"
	"github.com/antjowie/syncsftp/pkg/mirror/transfer"
	"github.com/antjowie/syncsftp/pkg/remote"
	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
	"github.com/antjowie/syncsftp/pkg/syncsftp/types"
)

// Options wires an Engine. Remote, Store, Ledger and Remover are required.
type Options struct {
	Remote    remote.Remote
	RemoteDir string

	Store  *localstore.Store
	Ledger *ledger.Ledger

	// Budget is the local size limit in bytes. Zero disables eviction.
	Budget  int64
	Remover eviction.Remover

	Include []string
	Exclude []string

	Sink       transfer.Sink
	Clock      clockwork.Clock
	BufferSize int

	// Observers are told about every finished cycle, in order.
	Observers []Observer
}

// Observer receives cycle reports. It runs on the scheduler goroutine and
// should return quickly.
type Observer interface {
	CycleFinished(CycleReport)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(CycleReport)

func (f ObserverFunc) CycleFinished(r CycleReport) { f(r) }

// CycleReport describes one cycle.
type CycleReport struct {
	ID      string
	Target  string
	Started time.Time
	Ended   time.Time

	// Listed counts regular files and directories in the remote listing.
	Listed   int
	Skipped  map[eligibility.Reason]int
	Eligible int

	Transfers transfer.Result
	Eviction  eviction.Report

	// Err is set when the cycle could not complete its steps, for example
	// when the remote listing failed. Per-file problems live in Transfers
	// and Eviction.
	Err error
}

// Duration is how long the cycle took.
func (r CycleReport) Duration() time.Duration { return r.Ended.Sub(r.Started) }

// OK reports whether every step and every file succeeded.
func (r CycleReport) OK() bool {
	return r.Err == nil && len(r.Transfers.Failed) == 0 && r.Eviction.Err() == nil
}

// Engine runs sync cycles. RunCycle must not be called concurrently; the
// scheduler guarantees this.
type Engine struct {
	opts   Options
	policy *eviction.Policy
	fetch  *transfer.Orchestrator

	mu   sync.RWMutex
	last *CycleReport
}

// New validates opts and returns an Engine.
func New(opts Options) (*Engine, error) {
	var errs []error
	if opts.Remote == nil {
		errs = append(errs, errors.New("remote is required"))
	}
	if opts.Store == nil {
		errs = append(errs, errors.New("local store is required"))
	}
	if opts.Ledger == nil {
		errs = append(errs, errors.New("ledger is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("configuring engine: %w", err)
	}

	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Remover == nil {
		opts.Remover = opts.Store
	}

	topts := []transfer.Option{transfer.WithClock(opts.Clock)}
	if opts.Sink != nil {
		topts = append(topts, transfer.WithSink(opts.Sink))
	}
	if opts.BufferSize > 0 {
		topts = append(topts, transfer.WithBufferSize(opts.BufferSize))
	}

	return &Engine{
		opts:   opts,
		policy: eviction.New(opts.Budget, opts.Store, opts.Remover, opts.Ledger),
		fetch:  transfer.New(opts.Remote, opts.Store, topts...),
	}, nil
}

// Policy returns the eviction policy, for previews.
func (e *Engine) Policy() *eviction.Policy { return e.policy }

// Target identifies the remote.
func (e *Engine) Target() string { return e.opts.Remote.Target() }

// Last returns the most recent cycle report.
func (e *Engine) Last() (CycleReport, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return CycleReport{}, false
	}
	return *e.last, true
}

// RunCycle performs one full cycle and returns its report. It returns only
// after every download has settled and eviction has finished.
func (e *Engine) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{
		ID:      uuid.NewString(),
		Target:  e.opts.Remote.Target(),
		Started: e.opts.Clock.Now(),
	}
	log := logging.Get("mirror").With("cycle", report.ID[:8])
	log.Info("cycle started", "target", report.Target)

	report.Err = e.run(ctx, &report)
	report.Ended = e.opts.Clock.Now()

	if report.Err != nil {
		log.Error("cycle failed", "error", report.Err, "duration", report.Duration())
	} else {
		log.Info("cycle finished",
			"fetched", len(report.Transfers.Completed),
			"failed", len(report.Transfers.Failed),
			"evicted", len(report.Eviction.Evicted),
			"bytes", types.FormatSize(report.Transfers.Bytes()),
			"duration", report.Duration())
	}

	e.mu.Lock()
	e.last = &report
	e.mu.Unlock()

	for _, o := range e.opts.Observers {
		o.CycleFinished(report)
	}
	return report
}

func (e *Engine) run(ctx context.Context, report *CycleReport) error {
	entries, err := e.opts.Remote.List(ctx, e.opts.RemoteDir)
	if err != nil {
		return fmt.Errorf("listing remote: %w", err)
	}
	report.Listed = len(entries)

	local, err := e.opts.Store.Names()
	if err != nil {
		return fmt.Errorf("reading local directory: %w", err)
	}

	filter := eligibility.New(
		eligibility.WithLocal(local),
		eligibility.WithPurged(e.opts.Ledger.Snapshot()),
		eligibility.WithReserved(e.opts.Store.IsReserved),
		eligibility.WithInclude(e.opts.Include...),
		eligibility.WithExclude(e.opts.Exclude...),
	)
	selected := filter.Select(entries)
	report.Eligible = len(selected)
	report.Skipped = filter.Tally(entries)
	delete(report.Skipped, eligibility.Eligible)

	if len(selected) == 0 {
		logging.Get("mirror").Debug("no new files", "listed", len(entries))
	} else {
		report.Transfers = e.fetch.Run(ctx, selected)
	}

	ev, err := e.policy.Enforce()
	report.Eviction = ev
	if err != nil {
		return fmt.Errorf("enforcing budget: %w", err)
	}
	return nil
}
