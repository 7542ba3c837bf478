package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/antjowie/syncsftp/pkg/mirror"
	"github.com/antjowie/syncsftp/pkg/mirror/eviction"
	"github.com/antjowie/syncsftp/pkg/mirror/localstore"
)

var created = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func sampleReport() eviction.Report {
	return eviction.Report{
		Plan: eviction.Plan{Budget: 100, KeptBytes: 90},
		Evicted: []localstore.File{
			{Name: "old-1.tar", Size: 40, Created: created},
			{Name: "old-2.tar", Size: 60, Created: created.Add(-time.Hour)},
		},
		Failures: []eviction.Failure{{Name: "locked.tar", Err: errors.New("permission denied")}},
	}
}

func newAt(t *testing.T, dir string, now time.Time) *Manifest {
	t.Helper()
	m, err := New(dir, ModeTrash)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m.now = func() time.Time { return now }
	return m
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("defaults mode to delete", func(t *testing.T) {
		t.Parallel()
		m, err := New(t.TempDir(), "")
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if m.mode != ModeDelete {
			t.Errorf("mode = %q, want %q", m.mode, ModeDelete)
		}
	})

	t.Run("returns error for empty directory", func(t *testing.T) {
		t.Parallel()
		if _, err := New("", ModeDelete); err == nil {
			t.Fatal("New() error = nil, want error for empty directory")
		}
	})
}

func TestManifest_LogEviction(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "manifests")
	m := newAt(t, dir, created.Add(24*time.Hour))

	entry, err := m.LogEviction("cycle-1", sampleReport())
	if err != nil {
		t.Fatalf("LogEviction() error = %v", err)
	}
	if !strings.HasPrefix(entry.ID, "evict-2024-02-02T00-00-00-") {
		t.Errorf("ID = %q, want evict-<timestamp>-<suffix>", entry.ID)
	}
	if entry.Mode != ModeTrash || entry.CycleID != "cycle-1" || entry.Budget != 100 {
		t.Errorf("unexpected entry header: %+v", entry)
	}
	if entry.Summary.TotalFiles != 2 || entry.Summary.TotalBytes != 100 || entry.Summary.KeptBytes != 90 {
		t.Errorf("unexpected summary: %+v", entry.Summary)
	}
	if len(entry.Failures) != 1 || entry.Failures[0].Error != "permission denied" {
		t.Errorf("unexpected failures: %+v", entry.Failures)
	}

	if _, err := os.Stat(filepath.Join(dir, entry.ID+".json")); err != nil {
		t.Errorf("manifest file not written: %v", err)
	}
}

func TestManifest_LogEvictionSkipsEmptyPass(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "manifests")
	m := newAt(t, dir, created)

	entry, err := m.LogEviction("cycle-1", eviction.Report{})
	if err != nil || entry != nil {
		t.Fatalf("LogEviction() = %v, %v; want nil, nil", entry, err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("directory should not be created for an empty pass")
	}
}

func TestManifest_ListAndGet(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	first, err := newAt(t, dir, created).LogEviction("c1", sampleReport())
	if err != nil {
		t.Fatalf("LogEviction() error = %v", err)
	}
	second, err := newAt(t, dir, created.Add(time.Hour)).LogEviction("c2", sampleReport())
	if err != nil {
		t.Fatalf("LogEviction() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "garbage.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := newAt(t, dir, created)
	entries, err := m.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(entries))
	}
	if entries[0].ID != second.ID {
		t.Errorf("List()[0] = %s, want newest %s", entries[0].ID, second.ID)
	}

	limited, _ := m.List(1)
	if len(limited) != 1 {
		t.Errorf("List(1) returned %d entries", len(limited))
	}

	got, err := m.Get(first.ID)
	if err != nil || got.CycleID != "c1" {
		t.Errorf("Get(%s) = %+v, %v", first.ID, got, err)
	}

	// The unique date prefix is enough.
	got, err = m.Get("evict-2024-02-01T01")
	if err != nil || got.ID != second.ID {
		t.Errorf("Get(prefix) = %+v, %v", got, err)
	}

	if _, err := m.Get("evict-2024-02-01"); err == nil {
		t.Error("Get() with ambiguous prefix should fail")
	}
	if _, err := m.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestManifest_ListMissingDir(t *testing.T) {
	t.Parallel()
	m := newAt(t, filepath.Join(t.TempDir(), "absent"), created)

	entries, err := m.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("List() = %#v, want empty slice", entries)
	}
}

func TestManifest_Cleanup(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	if _, err := newAt(t, dir, created).LogEviction("old", sampleReport()); err != nil {
		t.Fatal(err)
	}
	if _, err := newAt(t, dir, created.AddDate(0, 0, 40)).LogEviction("new", sampleReport()); err != nil {
		t.Fatal(err)
	}

	m := newAt(t, dir, created.AddDate(0, 0, 41))
	removed, err := m.Cleanup(30)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}

	removed, err = m.Cleanup(0)
	if err != nil || removed != 1 {
		t.Errorf("Cleanup(0) = %d, %v; want 1, nil", removed, err)
	}
}

func TestManifest_CycleFinished(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	m := newAt(t, dir, created)

	m.CycleFinished(mirror.CycleReport{ID: "c9", Eviction: sampleReport()})
	m.CycleFinished(mirror.CycleReport{ID: "c10"})

	entries, err := m.List(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].CycleID != "c9" {
		t.Errorf("expected one entry for c9, got %+v", entries)
	}
}
