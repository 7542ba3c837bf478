// Package transfer downloads a set of remote files into the local mirror
// concurrently. Every file is independent: one failing download never
// cancels the others, and Run returns only after all of them have settled.
package transfer

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/antjowie/syncsftp/pkg/mirror/localstore"
	"github.com/antjowie/syncsftp/pkg/remote"
	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
	"github.com/antjowie/syncsftp/pkg/syncsftp/tuner"
)

// Outcome is the result of one download.
type Outcome struct {
	Name     string
	Bytes    int64
	Duration time.Duration
	Err      error
}

// Result groups outcomes by success. Both slices are sorted by name.
type Result struct {
	Completed []Outcome
	Failed    []Outcome
}

// Bytes is the total size of completed downloads.
func (r Result) Bytes() int64 {
	var n int64
	for _, o := range r.Completed {
		n += o.Bytes
	}
	return n
}

// Orchestrator runs downloads from one remote into one store.
type Orchestrator struct {
	remote   remote.Remote
	store    *localstore.Store
	sink     Sink
	clock    clockwork.Clock
	interval time.Duration
	bufSize  int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSink sets where progress is reported.
func WithSink(s Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithClock sets the clock used for throttling and throughput.
func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithReportInterval sets the per-file progress throttle.
func WithReportInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.interval = d }
}

// WithBufferSize sets the copy buffer size for each download.
func WithBufferSize(n int) Option {
	return func(o *Orchestrator) { o.bufSize = n }
}

// New returns an Orchestrator.
func New(r remote.Remote, store *localstore.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		remote:   r,
		store:    store,
		sink:     discard{},
		clock:    clockwork.NewRealClock(),
		interval: DefaultReportInterval,
		bufSize:  tuner.MaxCopyBuffer,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.bufSize < tuner.MinCopyBuffer {
		o.bufSize = tuner.MinCopyBuffer
	}
	return o
}

// Run downloads every entry and waits for all of them. Cancelling ctx
// aborts downloads in flight; they are reported as failed.
func (o *Orchestrator) Run(ctx context.Context, entries []remote.Entry) Result {
	var (
		mu     sync.Mutex
		result Result
		g      errgroup.Group
	)

	for _, e := range entries {
		g.Go(func() error {
			out := o.fetch(ctx, e)
			mu.Lock()
			defer mu.Unlock()
			if out.Err != nil {
				result.Failed = append(result.Failed, out)
			} else {
				result.Completed = append(result.Completed, out)
			}
			return nil
		})
	}
	_ = g.Wait()

	byName := func(s []Outcome) func(i, j int) bool {
		return func(i, j int) bool { return s[i].Name < s[j].Name }
	}
	sort.Slice(result.Completed, byName(result.Completed))
	sort.Slice(result.Failed, byName(result.Failed))
	return result
}

func (o *Orchestrator) fetch(ctx context.Context, e remote.Entry) Outcome {
	log := logging.Get("transfer")
	start := o.clock.Now()
	out := Outcome{Name: e.Name}

	pending, err := o.store.Create(e.Name)
	if err != nil {
		out.Err = err
		o.sink.Report(Progress{Name: e.Name, Total: int64(e.Size), Done: true, Err: err})
		log.Error("download failed", "file", e.Name, "error", err)
		return out
	}
	m := newMeter(pending, o.sink, o.clock, o.interval, e.Name, int64(e.Size))

	out.Bytes, out.Err = o.copy(ctx, e, m)
	if out.Err == nil {
		out.Err = pending.Commit()
	} else {
		pending.Abort()
	}
	out.Duration = o.clock.Since(start)
	m.finish(out.Err)

	if out.Err != nil {
		log.Error("download failed", "file", e.Name, "bytes", out.Bytes, "error", out.Err)
		return out
	}
	log.Info("download complete", "file", e.Name, "bytes", out.Bytes, "duration", out.Duration)
	return out
}

func (o *Orchestrator) copy(ctx context.Context, e remote.Entry, dst io.Writer) (int64, error) {
	src, err := o.remote.Open(ctx, e.FullPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	n, err := io.CopyBuffer(dst, onlyReader{src}, make([]byte, o.bufSize))
	if err != nil {
		return n, fmt.Errorf("downloading %s: %w", e.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return n, fmt.Errorf("downloading %s: %w", e.Name, err)
	}
	return n, nil
}

// onlyReader hides WriterTo so copies go through the sized buffer and the
// meter sees every chunk.
type onlyReader struct{ io.Reader }
