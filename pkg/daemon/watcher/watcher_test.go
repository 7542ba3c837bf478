package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antjowie/syncsftp/pkg/mirror/localstore"
)

// countingLister records how often the directory is listed.
type countingLister struct {
	*localstore.Store
	calls atomic.Int32
}

func (c *countingLister) List() ([]localstore.File, error) {
	c.calls.Add(1)
	return c.Store.List()
}

func setup(t *testing.T) (string, *countingLister, *Watcher) {
	t.Helper()
	dir := t.TempDir()
	lister := &countingLister{Store: localstore.New(afero.NewOsFs(), dir)}
	w, err := New(dir, lister)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return dir, lister, w
}

func TestNewMissingDir(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent"), nil)
	assert.Error(t, err)
}

func TestStatsAreCached(t *testing.T) {
	dir, lister, w := setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tar"), make([]byte, 10), 0o644))

	s, err := w.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, s.Files)
	assert.Equal(t, int64(10), s.Bytes)

	_, err = w.Stats()
	require.NoError(t, err)
	assert.Equal(t, int32(1), lister.calls.Load())

	w.Invalidate()
	_, err = w.Stats()
	require.NoError(t, err)
	assert.Equal(t, int32(2), lister.calls.Load())
}

// changingLister reports a directory change while it is listing.
type changingLister struct {
	countingLister
	during func()
}

func (c *changingLister) List() ([]localstore.File, error) {
	files, err := c.countingLister.List()
	if c.during != nil {
		c.during()
		c.during = nil
	}
	return files, err
}

func TestStatsNotCachedWhenChangedDuringList(t *testing.T) {
	dir := t.TempDir()
	lister := &changingLister{countingLister: countingLister{Store: localstore.New(afero.NewOsFs(), dir)}}
	w, err := New(dir, lister)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	lister.during = func() {
		w.handleEvent(fsnotify.Event{Name: filepath.Join(dir, "late.tar"), Op: fsnotify.Create}, nil)
	}
	_, err = w.Stats()
	require.NoError(t, err)

	_, err = w.Stats()
	require.NoError(t, err)
	assert.Equal(t, int32(2), lister.calls.Load(), "a listing that raced with a change must not be reused")

	_, err = w.Stats()
	require.NoError(t, err)
	assert.Equal(t, int32(2), lister.calls.Load())
}

func TestRunInvalidatesOnChange(t *testing.T) {
	dir, _, w := setup(t)

	s, err := w.Stats()
	require.NoError(t, err)
	assert.Zero(t, s.Files)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var seen atomic.Int32
	go w.Run(ctx, func(string, fsnotify.Op) { seen.Add(1) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.tar"), make([]byte, 25), 0o644))

	require.Eventually(t, func() bool {
		s, err := w.Stats()
		return err == nil && s.Files == 1 && s.Bytes == 25
	}, 2*time.Second, 10*time.Millisecond)
	assert.Positive(t, seen.Load())
}

func TestHandleEventIgnoresTempFiles(t *testing.T) {
	_, _, w := setup(t)
	_, err := w.Stats()
	require.NoError(t, err)

	w.handleEvent(fsnotify.Event{Name: "/m/" + localstore.TempPrefix + "a.tar.1.part", Op: fsnotify.Write}, nil)
	w.handleEvent(fsnotify.Event{Name: "/m/a.tar", Op: fsnotify.Chmod}, nil)
	assert.Zero(t, w.Changes())

	w.handleEvent(fsnotify.Event{Name: "/m/a.tar", Op: fsnotify.Create}, nil)
	assert.Equal(t, 1, w.Changes())

	w.mu.RLock()
	defer w.mu.RUnlock()
	assert.False(t, w.valid)
}

func TestSummarize(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := summarize([]localstore.File{
		{Name: "b", Size: 5, Created: t0.Add(time.Hour)},
		{Name: "a", Size: 7, Created: t0},
	})
	assert.Equal(t, 2, s.Files)
	assert.Equal(t, int64(12), s.Bytes)
	assert.Equal(t, t0.Add(time.Hour), s.Newest)
	assert.Equal(t, t0, s.Oldest)

	assert.Equal(t, Stats{}, summarize(nil))
}

func TestCloseIsIdempotent(t *testing.T) {
	_, _, w := setup(t)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
