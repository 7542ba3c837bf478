// Package watcher tracks changes to the local mirror directory so the agent
// can report file and byte counts every second without listing the
// directory every second.
package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/antjowie/syncsftp/pkg/mirror/localstore"
	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
)

// Stats summarizes the mirror directory.
type Stats struct {
	Files  int       `json:"files"`
	Bytes  int64     `json:"bytes"`
	Newest time.Time `json:"newest,omitempty"`
	Oldest time.Time `json:"oldest,omitempty"`
}

// Lister reads the mirror contents.
type Lister interface {
	List() ([]localstore.File, error)
}

// Watcher caches Stats for a directory and drops the cache whenever the
// directory changes.
type Watcher struct {
	lister  Lister
	dir     string
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	stats   Stats
	valid   bool
	closed  bool
	changes int

	// epoch counts invalidations, so a listing that raced with one is not
	// cached as current.
	epoch uint64
}

// New watches dir, which must exist.
func New(dir string, lister Lister) (*Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(abs); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	return &Watcher{
		lister:  lister,
		dir:     abs,
		watcher: fsw,
	}, nil
}

// Stats returns the cached summary, listing the directory if anything has
// changed since the last call.
func (w *Watcher) Stats() (Stats, error) {
	w.mu.RLock()
	if w.valid {
		s := w.stats
		w.mu.RUnlock()
		return s, nil
	}
	epoch := w.epoch
	w.mu.RUnlock()

	files, err := w.lister.List()
	if err != nil {
		return Stats{}, err
	}
	s := summarize(files)

	w.mu.Lock()
	if w.epoch == epoch {
		w.stats = s
		w.valid = true
	}
	w.mu.Unlock()
	return s, nil
}

func summarize(files []localstore.File) Stats {
	s := Stats{Files: len(files)}
	for i, f := range files {
		s.Bytes += f.Size
		if i == 0 || f.Created.After(s.Newest) {
			s.Newest = f.Created
		}
		if i == 0 || f.Created.Before(s.Oldest) {
			s.Oldest = f.Created
		}
	}
	return s
}

// Invalidate drops the cached stats.
func (w *Watcher) Invalidate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.valid = false
	w.epoch++
}

// Changes returns how many relevant events have been seen.
func (w *Watcher) Changes() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.changes
}

// Run processes events until ctx is cancelled or the watcher is closed.
// onChange, if not nil, is called with the base name of every relevant
// change.
func (w *Watcher) Run(ctx context.Context, onChange func(name string, op fsnotify.Op)) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event, onChange)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Events may have been lost; do not trust the cache.
			w.Invalidate()
			logging.Get("watcher").Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, onChange func(name string, op fsnotify.Op)) {
	name := filepath.Base(event.Name)
	// In-flight downloads are written many times per second and are not
	// counted until renamed, which arrives as a Create of the final name.
	if strings.HasPrefix(name, localstore.TempPrefix) {
		return
	}
	if event.Op == fsnotify.Chmod {
		return
	}

	w.mu.Lock()
	w.valid = false
	w.epoch++
	w.changes++
	w.mu.Unlock()

	if onChange != nil {
		onChange(name, event.Op)
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.watcher.Close()
}
