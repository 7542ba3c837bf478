package logging_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antjowie/syncsftp/pkg/syncsftp/logging"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logging.Level
	}{
		{"debug", logging.LevelDebug},
		{"INFO", logging.LevelInfo},
		{"", logging.LevelInfo},
		{"warning", logging.LevelWarn},
		{"error", logging.LevelError},
	}
	for _, tt := range tests {
		got, err := logging.ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := logging.ParseLevel("loud")
	assert.True(t, errors.Is(err, logging.ErrInvalidLevel))
}

// Tests below share the package-level registry and must not run in parallel.

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	require.NoError(t, logging.Init(logging.Config{Level: "debug", Path: path}))
	t.Cleanup(func() { _ = logging.Close() })

	logging.Get("ledger").Info("ledger saved", "entries", 3)
	require.NoError(t, logging.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ledger saved")
	assert.Contains(t, string(data), "entries=3")
	assert.Contains(t, string(data), "ledger")
}

func TestInitRejectsBadLevel(t *testing.T) {
	err := logging.Init(logging.Config{Level: "chatty", Path: filepath.Join(t.TempDir(), "x.log")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, logging.ErrInvalidLevel))
}

func TestGetBeforeInitIsSilentAndRebuilt(t *testing.T) {
	l := logging.Get("early")
	l.Info("dropped")

	path := filepath.Join(t.TempDir(), "late.log")
	require.NoError(t, logging.Init(logging.Config{Level: "info", Path: path}))
	t.Cleanup(func() { _ = logging.Close() })

	// The same pointer now writes to the configured file.
	l.Info("kept")
	require.NoError(t, logging.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kept")
	assert.NotContains(t, string(data), "dropped")
}

func TestSubscribeReceivesEntries(t *testing.T) {
	require.NoError(t, logging.Init(logging.Config{
		Level:   "info",
		Path:    filepath.Join(t.TempDir(), "sub.log"),
		TUIMode: true,
	}))
	t.Cleanup(func() { _ = logging.Close() })

	ch := logging.Subscribe()
	logging.Get("transfer").With("file", "a.zip").Warn("fetch failed", "attempt", 1)

	select {
	case e := <-ch:
		assert.Equal(t, logging.LevelWarn, e.Level)
		assert.Equal(t, "transfer", e.Component)
		assert.Equal(t, "fetch failed", e.Message)
		assert.Equal(t, "file=a.zip attempt=1", e.Fields)
	case <-time.After(time.Second):
		t.Fatal("no entry delivered")
	}

	logging.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestDebugNotPublishedAtInfo(t *testing.T) {
	require.NoError(t, logging.Init(logging.Config{Level: "info", Path: filepath.Join(t.TempDir(), "lvl.log")}))
	t.Cleanup(func() { _ = logging.Close() })

	ch := logging.Subscribe()
	defer logging.Unsubscribe(ch)

	logging.Get("scheduler").Debug("tick")
	select {
	case e := <-ch:
		t.Fatalf("unexpected entry %q", e.Message)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecent(t *testing.T) {
	require.NoError(t, logging.Init(logging.Config{Level: "info", Path: filepath.Join(t.TempDir(), "recent.log")}))
	t.Cleanup(func() { _ = logging.Close() })

	marker := "recent-" + time.Now().Format("150405.000000")
	logging.Get("eviction").Info(marker)

	entries := logging.Recent(5)
	require.NotEmpty(t, entries)
	assert.True(t, strings.HasPrefix(entries[len(entries)-1].Message, "recent-"))
}

func TestDefaultLogPath(t *testing.T) {
	assert.Equal(t, "syncsftp.log", filepath.Base(logging.DefaultLogPath()))
}
