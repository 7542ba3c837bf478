package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/antjowie/syncsftp/pkg/daemon/broadcaster"
	"github.com/antjowie/syncsftp/pkg/daemon/journal"
	"github.com/antjowie/syncsftp/pkg/daemon/watcher"
	"github.com/antjowie/syncsftp/pkg/mirror"
	"github.com/antjowie/syncsftp/pkg/mirror/eviction"
	"github.com/antjowie/syncsftp/pkg/mirror/ledger"
	"github.com/antjowie/syncsftp/pkg/mirror/localstore"
	"github.com/antjowie/syncsftp/pkg/mirror/scheduler"
	"github.com/antjowie/syncsftp/pkg/mirror/transfer"
	"github.com/antjowie/syncsftp/pkg/remote"
	"github.com/antjowie/syncsftp/pkg/syncsftp/config"
	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
	"github.com/antjowie/syncsftp/pkg/syncsftp/manifest"
	"github.com/antjowie/syncsftp/pkg/syncsftp/trash"
	"github.com/antjowie/syncsftp/pkg/syncsftp/tuner"
)

// journalPruneEvery is how often old journal records are dropped.
const journalPruneEvery = 24 * time.Hour

// Options overrides the collaborators NewAgent would otherwise build from
// the configuration.
type Options struct {
	// Remote replaces remote.Dial. The agent closes it.
	Remote remote.Remote
	// Clock drives the scheduler, progress throttling and the status writer.
	Clock clockwork.Clock
	// Quantum is the scheduler and status-file period.
	Quantum time.Duration
	// InMemoryJournal keeps the journal out of the filesystem.
	InMemoryJournal bool
	// WriteStatus enables the status file at cfg.StatusPath.
	WriteStatus bool
}

// Agent is a running mirror: one remote, one local directory, one schedule.
type Agent struct {
	cfg   config.Config
	opts  Options
	clock clockwork.Clock

	remote   remote.Remote
	store    *localstore.Store
	ledger   *ledger.Ledger
	engine   *mirror.Engine
	sched    *scheduler.Scheduler
	events   *broadcaster.Broadcaster
	journal  *journal.Journal
	manifest *manifest.Manifest
	watcher  *watcher.Watcher

	mu         sync.Mutex
	active     map[string]transfer.Progress
	lastPruned time.Time
}

// NewAgent prepares the local directory, loads the ledger and connects to
// the remote. A remote that cannot be reached is an error: the agent does
// not start half-configured.
func NewAgent(ctx context.Context, cfg config.Config, opts Options) (_ *Agent, err error) {
	log := logging.Get("daemon")

	a := &Agent{
		cfg:    cfg,
		opts:   opts,
		clock:  opts.Clock,
		active: make(map[string]transfer.Progress),
	}
	if a.clock == nil {
		a.clock = clockwork.NewRealClock()
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	fs := afero.NewOsFs()
	a.store = LocalStore(fs, cfg)
	if err := a.store.Ensure(); err != nil {
		return nil, fmt.Errorf("preparing local directory: %w", err)
	}
	if n, err := a.store.CleanTemp(); err != nil {
		log.Warn("could not remove partial downloads", "error", err)
	} else if n > 0 {
		log.Info("removed partial downloads", "count", n)
	}

	if a.ledger, err = ledger.Load(fs, cfg.LedgerPath); err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}

	a.remote = opts.Remote
	if a.remote == nil {
		if a.remote, err = remote.Dial(ctx, cfg.Remote); err != nil {
			return nil, fmt.Errorf("connecting to remote: %w", err)
		}
	}

	resources, err := tuner.Detect()
	if err != nil {
		log.Debug("resource detection failed, using defaults", "error", err)
	}
	tuned := tuner.Calculate(resources)
	log.Debug("tuned", "copy_buffer", tuned.CopyBuffer, "event_buffer", tuned.EventBuffer)

	a.events = broadcaster.New(tuned.EventBuffer)
	observers := []mirror.Observer{a.events}

	if cfg.JournalEnabled {
		if opts.InMemoryJournal {
			a.journal, err = journal.OpenInMemory()
		} else {
			a.journal, err = journal.Open(cfg.JournalPath)
		}
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		a.pruneJournal()
		observers = append(observers, a.journal)
	}

	mode := manifest.ModeDelete
	var remover eviction.Remover = a.store
	if cfg.EvictionMode == config.EvictTrash {
		mode = manifest.ModeTrash
		remover = trash.New(cfg.LocalDir)
	}
	if a.manifest, err = manifest.New(cfg.ManifestDir, mode); err != nil {
		return nil, err
	}
	observers = append(observers, a.manifest, mirror.ObserverFunc(a.cycleFinished))

	a.engine, err = mirror.New(mirror.Options{
		Remote:     a.remote,
		RemoteDir:  cfg.Remote.Dir,
		Store:      a.store,
		Ledger:     a.ledger,
		Budget:     cfg.MaxBackupSize,
		Remover:    remover,
		Include:    cfg.Include,
		Exclude:    cfg.Exclude,
		Sink:       transfer.SinkFunc(a.report),
		Clock:      a.clock,
		BufferSize: tuned.CopyBuffer,
		Observers:  observers,
	})
	if err != nil {
		return nil, err
	}

	sopts := []scheduler.Option{scheduler.WithClock(a.clock)}
	if opts.Quantum > 0 {
		sopts = append(sopts, scheduler.WithQuantum(opts.Quantum))
	}
	a.sched = scheduler.New(cfg.SyncInterval, func(ctx context.Context) {
		a.engine.RunCycle(ctx)
	}, sopts...)

	if w, werr := watcher.New(cfg.LocalDir, a.store); werr != nil {
		log.Warn("not watching local directory, stats will be listed on demand", "error", werr)
	} else {
		a.watcher = w
	}

	log.Info("agent ready",
		"target", a.remote.Target(),
		"local_dir", cfg.LocalDir,
		"interval", cfg.SyncInterval,
		"ledger", a.ledger.Len())
	return a, nil
}

// LocalStore returns the mirror directory of cfg. The ledger file is
// reserved when it lives inside the directory.
func LocalStore(fs afero.Fs, cfg config.Config) *localstore.Store {
	var reserved []string
	for _, p := range []string{cfg.LedgerPath, cfg.JournalPath} {
		if p != "" && filepath.Clean(filepath.Dir(p)) == filepath.Clean(cfg.LocalDir) {
			reserved = append(reserved, filepath.Base(p))
		}
	}
	return localstore.New(fs, cfg.LocalDir, localstore.WithReserved(reserved...))
}

// Run starts the scheduler and returns when ctx is cancelled and the
// current cycle, if any, has finished.
func (a *Agent) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.watcher != nil {
		g.Go(func() error {
			a.watcher.Run(gctx, func(name string, op fsnotify.Op) {
				logging.Get("watcher").Debug("local change", "name", name, "op", op.String())
			})
			return nil
		})
	}
	if a.opts.WriteStatus {
		g.Go(func() error {
			a.writeStatusLoop(gctx)
			return nil
		})
	}
	g.Go(func() error {
		return a.sched.Run(gctx)
	})

	err := g.Wait()
	if a.opts.WriteStatus {
		status := a.Status()
		status.State = StateStopped
		if werr := WriteStatus(a.cfg.StatusPath, &status); werr != nil {
			logging.Get("daemon").Warn("could not write final status", "error", werr)
		}
	}
	return err
}

func (a *Agent) writeStatusLoop(ctx context.Context) {
	quantum := a.opts.Quantum
	if quantum <= 0 {
		quantum = scheduler.DefaultQuantum
	}
	ticker := a.clock.NewTicker(quantum)
	defer ticker.Stop()

	for {
		status := a.Status()
		if err := WriteStatus(a.cfg.StatusPath, &status); err != nil {
			logging.Get("daemon").Warn("could not write status", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

// Status reports the agent's current state.
func (a *Agent) Status() Status {
	s := Status{
		State:      StateReady,
		PID:        os.Getpid(),
		UpdatedAt:  a.clock.Now(),
		Target:     a.remote.Target(),
		LocalDir:   a.cfg.LocalDir,
		Budget:     a.cfg.MaxBackupSize,
		LedgerSize: a.ledger.Len(),
		Scheduler:  a.sched.State().Snapshot(),
		Transfers:  a.Transfers(),
	}

	stats, err := a.LocalStats()
	if err != nil {
		s.Error = err.Error()
	}
	s.Local = stats

	if last, ok := a.engine.Last(); ok {
		s.LastCycle = summarize(last)
	}
	return s
}

func summarize(r mirror.CycleReport) *CycleSummary {
	c := &CycleSummary{
		ID:       r.ID,
		Started:  r.Started,
		Duration: r.Duration(),
		Fetched:  len(r.Transfers.Completed),
		Failed:   len(r.Transfers.Failed),
		Evicted:  len(r.Eviction.Evicted),
		Bytes:    r.Transfers.Bytes(),
	}
	if err := errors.Join(r.Err, r.Eviction.Err()); err != nil {
		c.Error = err.Error()
	}
	return c
}

// LocalStats summarizes the mirror directory.
func (a *Agent) LocalStats() (watcher.Stats, error) {
	if a.watcher != nil {
		return a.watcher.Stats()
	}
	files, err := a.store.List()
	if err != nil {
		return watcher.Stats{}, err
	}
	var s watcher.Stats
	s.Files = len(files)
	for _, f := range files {
		s.Bytes += f.Size
	}
	if len(files) > 0 {
		s.Newest, s.Oldest = files[0].Created, files[len(files)-1].Created
	}
	return s, nil
}

// Transfers returns the downloads in flight, by name.
func (a *Agent) Transfers() []Transfer {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Transfer, 0, len(a.active))
	for _, p := range a.active {
		out = append(out, FromProgress(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (a *Agent) report(p transfer.Progress) {
	a.mu.Lock()
	if p.Done {
		delete(a.active, p.Name)
	} else {
		a.active[p.Name] = p
	}
	a.mu.Unlock()

	a.events.Report(p)
}

func (a *Agent) cycleFinished(r mirror.CycleReport) {
	if a.watcher != nil {
		a.watcher.Invalidate()
	}
	if a.journal != nil && a.clock.Since(a.lastPruned) >= journalPruneEvery {
		a.pruneJournal()
	}
}

func (a *Agent) pruneJournal() {
	a.lastPruned = a.clock.Now()
	if a.cfg.JournalRetention <= 0 {
		return
	}
	n, err := a.journal.Prune(a.lastPruned.Add(-a.cfg.JournalRetention))
	if err != nil {
		logging.Get("daemon").Warn("could not prune journal", "error", err)
		return
	}
	if n > 0 {
		logging.Get("daemon").Info("pruned journal", "cycles", n)
	}
}

// Trigger requests a cycle now. It reports false while a cycle runs.
func (a *Agent) Trigger() bool { return a.sched.Trigger() }

// Subscribe returns a subscription to progress and cycle events.
func (a *Agent) Subscribe(kinds ...broadcaster.Kind) *broadcaster.Subscriber {
	return a.events.Subscribe(kinds...)
}

// Unsubscribe ends a subscription.
func (a *Agent) Unsubscribe(id string) { a.events.Unsubscribe(id) }

// Engine exposes the cycle engine.
func (a *Agent) Engine() *mirror.Engine { return a.engine }

// Journal returns the transfer journal, or nil when disabled.
func (a *Agent) Journal() *journal.Journal { return a.journal }

// Config returns the configuration the agent was built with.
func (a *Agent) Config() config.Config { return a.cfg }

// Close releases every resource. Call it after Run has returned.
func (a *Agent) Close() error {
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
	}
	if a.events != nil {
		a.events.Close()
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.remote != nil {
		errs = append(errs, a.remote.Close())
	}
	return errors.Join(errs...)
}
