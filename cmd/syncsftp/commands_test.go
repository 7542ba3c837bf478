package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antjowie/syncsftp/pkg/daemon"
	"github.com/antjowie/syncsftp/pkg/daemon/journal"
	"github.com/antjowie/syncsftp/pkg/mirror/ledger"
	"github.com/antjowie/syncsftp/pkg/mirror/scheduler"
	"github.com/antjowie/syncsftp/pkg/syncsftp/config"
	"github.com/antjowie/syncsftp/pkg/syncsftp/manifest"
)

func TestCommandsRegistered(t *testing.T) {
	want := []string{
		"run", "start", "stop", "restart", "status", "sync",
		"journal", "history", "ls", "ledger", "config", "logs", "version",
	}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd == rootCmd {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestSelectFormatter(t *testing.T) {
	for _, name := range []string{"pretty", "plain", "names", "evict", "json", "yaml", "csv", "tsv", "markdown"} {
		_, err := selectFormatter(name, "")
		assert.NoError(t, err, name)
	}

	_, err := selectFormatter("xml", "")
	assert.ErrorContains(t, err, `unknown output format "xml"`)

	_, err = selectFormatter("template", "")
	assert.ErrorContains(t, err, "--template is required")

	_, err = selectFormatter("template", "{{len .Files}}")
	assert.NoError(t, err)
}

func inventoryFixture(t *testing.T) (afero.Fs, config.Config) {
	t.Helper()
	fs := afero.NewMemMapFs()
	cfg := config.Config{
		LocalDir:      "/mirror",
		LedgerPath:    "/mirror/" + config.LedgerFileName,
		MaxBackupSize: 300,
	}

	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"day1.tar", "day2.tar", "day3.tar", "day4.tar"} {
		path := filepath.Join(cfg.LocalDir, name)
		require.NoError(t, afero.WriteFile(fs, path, make([]byte, 100), 0o644))
		ts := base.Add(time.Duration(i) * 24 * time.Hour)
		require.NoError(t, fs.Chtimes(path, ts, ts))
	}
	require.NoError(t, afero.WriteFile(fs, cfg.LedgerPath, []byte(`{"purgedFiles": ["day0.tar"]}`), 0o644))
	return fs, cfg
}

func TestBuildInventory(t *testing.T) {
	fs, cfg := inventoryFixture(t)

	result, err := buildInventory(fs, cfg, time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Len(t, result.Files, 4, "the ledger file is not content")
	assert.Equal(t, "day4.tar", result.Files[0].Name)
	assert.Equal(t, 1, result.LedgerSize)

	// Three files fill the 300 byte budget exactly; day1 would cross it.
	var evict []string
	for _, f := range result.Files {
		if f.Evict {
			evict = append(evict, f.Name)
		}
	}
	assert.Equal(t, []string{"day1.tar"}, evict)
	assert.NotEmpty(t, result.Warnings)
}

func TestBuildInventory_NoBudget(t *testing.T) {
	fs, cfg := inventoryFixture(t)
	cfg.MaxBackupSize = 0

	result, err := buildInventory(fs, cfg, time.Now())
	require.NoError(t, err)
	for _, f := range result.Files {
		assert.False(t, f.Evict, f.Name)
	}
	assert.Empty(t, result.Warnings)
}

func TestForgetNames(t *testing.T) {
	fs, cfg := inventoryFixture(t)

	removed, err := forgetNames(fs, cfg, []string{"day0.tar", "never-seen.tar"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	l, err := ledger.Read(fs, cfg.LedgerPath)
	require.NoError(t, err)
	assert.Zero(t, l.Len())
}

func TestForgetNames_CorruptLedgerIsLeftAlone(t *testing.T) {
	fs, cfg := inventoryFixture(t)
	require.NoError(t, afero.WriteFile(fs, cfg.LedgerPath, []byte("garbage"), 0o644))

	_, err := forgetNames(fs, cfg, []string{"x"})
	assert.ErrorIs(t, err, ledger.ErrCorrupt)

	data, err := afero.ReadFile(fs, cfg.LedgerPath)
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(data))
}

func TestPrintStatus(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	s := &daemon.Status{
		State:      daemon.StateReady,
		PID:        4242,
		Target:     "sftp://backup@nas:22/backups",
		LocalDir:   "/srv/mirror",
		Budget:     10 << 30,
		LedgerSize: 3,
		Scheduler:  scheduler.Snapshot{NextRunAt: now.Add(42 * time.Second)},
		LastCycle:  &daemon.CycleSummary{Started: now.Add(-time.Minute), Fetched: 2, Failed: 1},
		Transfers:  []daemon.Transfer{{Name: "big.tar", Transferred: 50, Total: 200}},
	}
	s.Local.Files = 7

	var buf bytes.Buffer
	printStatus(&buf, s, now)
	out := buf.String()

	assert.Contains(t, out, "ready (pid 4242)")
	assert.Contains(t, out, "sftp://backup@nas:22/backups")
	assert.Contains(t, out, "7 files")
	assert.Contains(t, out, "10 GiB")
	assert.Contains(t, out, "next sync in")
	assert.Contains(t, out, "2 fetched, 1 failed")
	assert.Contains(t, out, "big.tar")
	assert.Contains(t, out, "25.0%")
}

func TestPrintStatus_Error(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, &daemon.Status{State: daemon.StateError, Error: "connecting to remote: refused"}, time.Now())
	assert.Contains(t, buf.String(), "connecting to remote: refused")
	assert.NotContains(t, buf.String(), "Remote:")
}

func TestJournalOutput(t *testing.T) {
	cfg := config.Config{JournalPath: t.TempDir()}
	j, err := openJournalAt(cfg)
	require.NoError(t, err)
	defer func() { _ = j.Close() }()

	start := time.Date(2026, 10, 17, 3, 0, 0, 0, time.UTC)
	require.NoError(t, j.Record(
		journal.Cycle{ID: "c1", Started: start, Ended: start.Add(2 * time.Second), Listed: 5, Fetched: 1, Bytes: 4096},
		[]journal.File{{Name: "nightly.tar", Size: 4096, FetchedAt: start.Add(time.Second), CycleID: "c1"}},
	))

	cycles, err := j.Cycles(10)
	require.NoError(t, err)
	var buf bytes.Buffer
	printCycles(&buf, cycles)
	assert.Contains(t, buf.String(), "4.0 KiB")

	files, err := j.Files("nightly.tar")
	require.NoError(t, err)
	buf.Reset()
	printFileAttempts(&buf, files)
	assert.Contains(t, buf.String(), "c1")
	assert.Contains(t, buf.String(), "ok")
}

func TestPrintHistoryEntry(t *testing.T) {
	e := &manifest.Entry{
		ID:        "20261017-030000-abcd",
		Timestamp: time.Date(2026, 10, 17, 3, 0, 0, 0, time.UTC),
		Mode:      manifest.ModeTrash,
		Budget:    1 << 30,
		Files:     []manifest.FileRecord{{Name: "old.tar", Size: 2048}},
		Failures:  []manifest.FailureRecord{{Name: "locked.tar", Error: "permission denied"}},
		Summary:   manifest.Summary{TotalFiles: 1, TotalBytes: 2048},
	}

	var buf bytes.Buffer
	printHistoryEntry(&buf, e)
	out := buf.String()
	assert.Contains(t, out, "trash")
	assert.Contains(t, out, "old.tar")
	assert.Contains(t, out, "locked.tar: permission denied")

	buf.Reset()
	printHistory(&buf, []manifest.Entry{*e})
	assert.Contains(t, buf.String(), "20261017-030000-abcd")
}

func TestTailLines(t *testing.T) {
	input := "one\ntwo\nthree\nfour\n"

	lines, err := tailLines(strings.NewReader(input), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "four"}, lines)

	lines, err = tailLines(strings.NewReader(input), 10)
	require.NoError(t, err)
	assert.Len(t, lines, 4)

	lines, err = tailLines(strings.NewReader(input), 0)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestCopyFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncsftp.log")
	require.NoError(t, os.WriteFile(path, []byte("first\nsecond\n"), 0o644))

	var buf bytes.Buffer
	offset, err := copyFrom(path, 6, &buf)
	require.NoError(t, err)
	assert.Equal(t, "second\n", buf.String())
	assert.Equal(t, int64(13), offset)

	// Truncated by rotation: read again from the start.
	require.NoError(t, os.WriteFile(path, []byte("new\n"), 0o644))
	buf.Reset()
	offset, err = copyFrom(path, offset, &buf)
	require.NoError(t, err)
	assert.Equal(t, "new\n", buf.String())
	assert.Equal(t, int64(4), offset)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFollowFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncsftp.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- followFile(ctx, path, 4, out) }()

	require.Eventually(t, func() bool {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return false
		}
		_, _ = f.WriteString("x")
		_ = f.Close()
		return strings.Contains(out.String(), "x")
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.NotContains(t, out.String(), "old")
}
