// Package ledger persists the names of files the agent evicted so they are
// never downloaded again.
//
// On disk the ledger is a small JSON document:
//
//	{
//	  "purgedFiles": [
//	    "2024-01-01.tar.gz"
//	  ]
//	}
package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/afero"

	"github.com/antjowie/syncsftp/pkg/mirror/localstore"
	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
)

// ErrCorrupt is logged when the ledger file exists but cannot be decoded.
// Load recovers from it by starting empty.
var ErrCorrupt = errors.New("ledger file is corrupt")

type document struct {
	PurgedFiles []string `json:"purgedFiles"`
}

// Ledger is the set of purged names. It is safe for concurrent use.
type Ledger struct {
	fs   afero.Fs
	path string

	mu    sync.RWMutex
	names map[string]struct{}
}

// Load reads the ledger at path. A missing or undecodable file yields an
// empty ledger that is written back immediately. If that write fails the
// ledger is still returned; the next Save reports the problem. Only read
// failures are returned.
func Load(fs afero.Fs, path string) (*Ledger, error) {
	l := &Ledger{fs: fs, path: path, names: make(map[string]struct{})}
	log := logging.Get("ledger")

	data, err := afero.ReadFile(fs, path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Info("no ledger found, starting empty", "path", path)
		l.rewrite(log)
		return l, nil
	case err != nil:
		return nil, fmt.Errorf("reading ledger %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warn("ledger unreadable, starting empty", "path", path, "error", fmt.Errorf("%w: %v", ErrCorrupt, err))
		l.rewrite(log)
		return l, nil
	}
	for _, name := range doc.PurgedFiles {
		if name != "" {
			l.names[name] = struct{}{}
		}
	}
	log.Debug("ledger loaded", "path", path, "entries", len(l.names))
	return l, nil
}

func (l *Ledger) rewrite(log *logging.Logger) {
	if err := l.Save(); err != nil {
		log.Warn("could not write ledger, continuing with it in memory", "path", l.path, "error", err)
	}
}

// Read loads the ledger without ever writing it. A missing file is an
// empty ledger; an undecodable one returns ErrCorrupt.
func Read(fs afero.Fs, path string) (*Ledger, error) {
	l := &Ledger{fs: fs, path: path, names: make(map[string]struct{})}

	data, err := afero.ReadFile(fs, path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return l, nil
	case err != nil:
		return nil, fmt.Errorf("reading ledger %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	for _, name := range doc.PurgedFiles {
		if name != "" {
			l.names[name] = struct{}{}
		}
	}
	return l, nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// Contains reports whether name was purged.
func (l *Ledger) Contains(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.names[name]
	return ok
}

// Len returns the number of purged names.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.names)
}

// Add records names as purged and returns how many were new. It does not
// persist; call Save once the batch is complete.
func (l *Ledger) Add(names ...string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	added := 0
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := l.names[n]; !ok {
			l.names[n] = struct{}{}
			added++
		}
	}
	return added
}

// Forget removes names and returns how many were present. Only operator
// commands call this; the agent itself never shrinks the ledger.
func (l *Ledger) Forget(names ...string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for _, n := range names {
		if _, ok := l.names[n]; ok {
			delete(l.names, n)
			removed++
		}
	}
	return removed
}

// Names returns the purged names, sorted.
func (l *Ledger) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sorted()
}

func (l *Ledger) sorted() []string {
	out := make([]string, 0, len(l.names))
	for n := range l.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a copy of the set, for callers that need a consistent
// view across many lookups.
func (l *Ledger) Snapshot() map[string]struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]struct{}, len(l.names))
	for n := range l.names {
		out[n] = struct{}{}
	}
	return out
}

// Save writes the ledger through a temp file and rename, so a crash leaves
// either the old or the new document in place.
func (l *Ledger) Save() error {
	l.mu.RLock()
	doc := document{PurgedFiles: l.sorted()}
	l.mu.RUnlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := l.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	tmp, err := afero.TempFile(l.fs, dir, localstore.TempPrefix+"ledger-*")
	if err != nil {
		return fmt.Errorf("creating temp ledger: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = l.fs.Remove(tmpName)
		return fmt.Errorf("writing temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = l.fs.Remove(tmpName)
		return fmt.Errorf("syncing temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = l.fs.Remove(tmpName)
		return fmt.Errorf("closing temp ledger: %w", err)
	}
	if err := l.fs.Rename(tmpName, l.path); err != nil {
		_ = l.fs.Remove(tmpName)
		return fmt.Errorf("replacing ledger: %w", err)
	}
	return nil
}
