package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antjowie/syncsftp/pkg/mirror"
	"github.com/antjowie/syncsftp/pkg/mirror/eviction"
	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
)

// ErrNotFound is returned by Get for an unknown ID.
var ErrNotFound = errors.New("manifest entry not found")

// Manifest stores entries as one JSON file each in a directory.
type Manifest struct {
	dir  string
	mode Mode
	now  func() time.Time
	mu   sync.Mutex
}

// New returns a Manifest for dir. The directory is created on first write.
func New(dir string, mode Mode) (*Manifest, error) {
	if dir == "" {
		return nil, errors.New("manifest directory cannot be empty")
	}
	if mode == "" {
		mode = ModeDelete
	}
	return &Manifest{dir: dir, mode: mode, now: time.Now}, nil
}

// Dir returns the manifest directory.
func (m *Manifest) Dir() string { return m.dir }

// EnsureDir creates the manifest directory if it does not exist.
func (m *Manifest) EnsureDir() error {
	return os.MkdirAll(m.dir, 0o755)
}

// LogEviction records a report. Passes that neither removed nor failed to
// remove anything are not recorded and return nil.
func (m *Manifest) LogEviction(cycleID string, report eviction.Report) (*Entry, error) {
	if len(report.Evicted) == 0 && len(report.Failures) == 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	entry := &Entry{
		ID:        generateID(now),
		Timestamp: now,
		CycleID:   cycleID,
		Mode:      m.mode,
		Budget:    report.Plan.Budget,
		Files:     make([]FileRecord, 0, len(report.Evicted)),
		Summary: Summary{
			TotalFiles: int64(len(report.Evicted)),
			TotalBytes: report.EvictedBytes(),
			KeptBytes:  report.Plan.KeptBytes,
		},
	}
	for _, f := range report.Evicted {
		entry.Files = append(entry.Files, FileRecord{Name: f.Name, Size: f.Size, Created: f.Created})
	}
	for _, f := range report.Failures {
		entry.Failures = append(entry.Failures, FailureRecord{Name: f.Name, Error: f.Err.Error()})
	}

	if err := m.EnsureDir(); err != nil {
		return nil, fmt.Errorf("creating manifest directory: %w", err)
	}
	if err := m.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("writing manifest entry: %w", err)
	}
	return entry, nil
}

// CycleFinished records the cycle's eviction pass. It satisfies
// mirror.Observer.
func (m *Manifest) CycleFinished(r mirror.CycleReport) {
	if _, err := m.LogEviction(r.ID, r.Eviction); err != nil {
		logging.Get("manifest").Error("could not record eviction", "cycle", r.ID, "error", err)
	}
}

func (m *Manifest) writeEntry(entry *Entry) error {
	path := filepath.Join(m.dir, entry.ID+".json")

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// List returns entries newest first. A limit of zero or less returns all.
// Unreadable files are skipped.
func (m *Manifest) List(limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names, err := m.entryFiles()
	if err != nil {
		return nil, err
	}

	entries := []Entry{}
	for _, name := range names {
		entry, err := m.readEntryFile(name)
		if err != nil {
			continue
		}
		entries = append(entries, *entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Get returns the entry whose ID equals id or, if exactly one does, starts
// with it.
func (m *Manifest) Get(id string) (*Entry, error) {
	if id == "" {
		return nil, errors.New("entry ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	names, err := m.entryFiles()
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, name := range names {
		entryID := strings.TrimSuffix(name, ".json")
		if entryID == id {
			return m.readEntryFile(name)
		}
		if strings.HasPrefix(entryID, id) {
			matches = append(matches, name)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return m.readEntryFile(matches[0])
	}
	return nil, fmt.Errorf("ambiguous entry ID %q matches %d entries", id, len(matches))
}

// Cleanup removes entries older than retentionDays and returns how many
// were removed. A retention of zero removes everything.
func (m *Manifest) Cleanup(retentionDays int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names, err := m.entryFiles()
	if err != nil {
		return 0, err
	}

	cutoff := m.now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, name := range names {
		entry, err := m.readEntryFile(name)
		if err == nil && !entry.Timestamp.Before(cutoff) && retentionDays > 0 {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, name)); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}

func (m *Manifest) entryFiles() ([]string, error) {
	files, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading manifest directory: %w", err)
	}

	var names []string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		names = append(names, f.Name())
	}
	return names, nil
}

func (m *Manifest) readEntryFile(name string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	return &entry, nil
}

// generateID creates an ID like "evict-2024-06-15T10-30-00-1a2b3c4d".
func generateID(ts time.Time) string {
	return fmt.Sprintf("evict-%s-%s", ts.Format("2006-01-02T15-04-05"), uuid.NewString()[:8])
}
