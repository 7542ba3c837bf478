package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antjowie/syncsftp/pkg/mirror/eligibility"
	"github.com/antjowie/syncsftp/pkg/mirror/ledger"
	"github.com/antjowie/syncsftp/pkg/mirror/localstore"
	"github.com/antjowie/syncsftp/pkg/remote"
)

const (
	remoteDir  = "/srv/backups"
	localDir   = "/mirror"
	ledgerName = "purged_files.json"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// faultyRemote wraps a remote.Local with injectable failures.
type faultyRemote struct {
	*remote.Local
	mu       sync.Mutex
	listErr  error
	openFail map[string]bool
	opened   []string
}

func (f *faultyRemote) List(ctx context.Context, dir string) ([]remote.Entry, error) {
	f.mu.Lock()
	err := f.listErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Local.List(ctx, dir)
}

func (f *faultyRemote) Open(ctx context.Context, fullPath string) (io.ReadCloser, error) {
	name := filepath.Base(fullPath)
	f.mu.Lock()
	f.opened = append(f.opened, name)
	fail := f.openFail[name]
	f.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("opening %s: %w", name, io.ErrUnexpectedEOF)
	}
	return f.Local.Open(ctx, fullPath)
}

func (f *faultyRemote) openedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

type harness struct {
	fs     afero.Fs
	remote *faultyRemote
	store  *localstore.Store
	ledger *ledger.Ledger
}

// newHarness serves files named day-NN.tar from the remote. A file's local
// creation time is derived from NN, so eviction order follows the day.
func newHarness(t *testing.T, sizes ...int) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	for i, size := range sizes {
		name := fmt.Sprintf("day-%02d.tar", i+1)
		require.NoError(t, afero.WriteFile(fs, filepath.Join(remoteDir, name), make([]byte, size), 0o644))
	}

	store := localstore.New(fs, localDir,
		localstore.WithReserved(ledgerName),
		localstore.WithBirthTime(func(path string, _ os.FileInfo) (time.Time, bool) {
			var day int
			if _, err := fmt.Sscanf(filepath.Base(path), "day-%02d.tar", &day); err != nil {
				return time.Time{}, false
			}
			return epoch.AddDate(0, 0, day), true
		}))
	require.NoError(t, store.Ensure())

	l, err := ledger.Load(fs, filepath.Join(localDir, ledgerName))
	require.NoError(t, err)

	return &harness{
		fs:     fs,
		remote: &faultyRemote{Local: remote.NewLocal(fs, remoteDir), openFail: map[string]bool{}},
		store:  store,
		ledger: l,
	}
}

func (h *harness) engine(t *testing.T, budget int64, opts ...func(*Options)) *Engine {
	t.Helper()
	o := Options{
		Remote:    h.remote,
		RemoteDir: remoteDir,
		Store:     h.store,
		Ledger:    h.ledger,
		Budget:    budget,
	}
	for _, fn := range opts {
		fn(&o)
	}
	e, err := New(o)
	require.NoError(t, err)
	return e
}

func (h *harness) local(t *testing.T) []string {
	t.Helper()
	files, err := h.store.List()
	require.NoError(t, err)
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Name)
	}
	return out
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote is required")
	assert.Contains(t, err.Error(), "ledger is required")
}

func TestRunCycleFetchesEverything(t *testing.T) {
	h := newHarness(t, 10, 20, 30)
	e := h.engine(t, 0)

	report := e.RunCycle(context.Background())

	require.NoError(t, report.Err)
	assert.True(t, report.OK())
	assert.Equal(t, 3, report.Listed)
	assert.Equal(t, 3, report.Eligible)
	assert.Len(t, report.Transfers.Completed, 3)
	assert.Equal(t, int64(60), report.Transfers.Bytes())
	assert.ElementsMatch(t, []string{"day-01.tar", "day-02.tar", "day-03.tar"}, h.local(t))
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "local:"+remoteDir, report.Target)

	last, ok := e.Last()
	require.True(t, ok)
	assert.Equal(t, report.ID, last.ID)
}

func TestRunCycleIsIdempotent(t *testing.T) {
	h := newHarness(t, 10, 20, 30)
	e := h.engine(t, 0)

	first := e.RunCycle(context.Background())
	require.Len(t, first.Transfers.Completed, 3)
	opened := h.remote.openedCount()

	second := e.RunCycle(context.Background())
	require.NoError(t, second.Err)
	assert.Zero(t, second.Eligible)
	assert.Empty(t, second.Transfers.Completed)
	assert.Equal(t, 3, second.Skipped[eligibility.SkipPresent])
	assert.Equal(t, opened, h.remote.openedCount())
	assert.Len(t, h.local(t), 3)
}

func TestEvictedFilesAreNeverRefetched(t *testing.T) {
	h := newHarness(t, 40, 40, 40, 40)
	e := h.engine(t, 80)

	first := e.RunCycle(context.Background())
	require.NoError(t, first.Err)
	assert.Equal(t, []string{"day-04.tar", "day-03.tar"}, h.local(t))
	assert.Len(t, first.Eviction.Evicted, 2)
	assert.ElementsMatch(t, []string{"day-01.tar", "day-02.tar"}, h.ledger.Names())

	// The evicted files are still on the remote.
	for i := 0; i < 3; i++ {
		report := e.RunCycle(context.Background())
		require.NoError(t, report.Err)
		assert.Zero(t, report.Eligible)
		assert.Equal(t, 2, report.Skipped[eligibility.SkipPurged])
		assert.Empty(t, report.Eviction.Evicted)
	}

	// And the ledger survives a restart.
	reloaded, err := ledger.Load(h.fs, h.ledger.Path())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"day-01.tar", "day-02.tar"}, reloaded.Names())
}

func TestFailedTransferIsIsolated(t *testing.T) {
	h := newHarness(t, 10, 10, 10, 10, 10)
	h.remote.openFail["day-03.tar"] = true
	e := h.engine(t, 30)

	report := e.RunCycle(context.Background())

	require.NoError(t, report.Err)
	assert.False(t, report.OK())
	assert.Len(t, report.Transfers.Completed, 4)
	require.Len(t, report.Transfers.Failed, 1)
	assert.Equal(t, "day-03.tar", report.Transfers.Failed[0].Name)

	// Eviction still ran over the four files that arrived.
	assert.Equal(t, []string{"day-05.tar", "day-04.tar", "day-02.tar"}, h.local(t))
	assert.Equal(t, []string{"day-01.tar"}, h.ledger.Names())

	// The failed file is retried once the remote recovers.
	delete(h.remote.openFail, "day-03.tar")
	retry := e.RunCycle(context.Background())
	require.NoError(t, retry.Err)
	require.Len(t, retry.Transfers.Completed, 1)
	assert.Equal(t, "day-03.tar", retry.Transfers.Completed[0].Name)
}

func TestListingFailureFailsCycle(t *testing.T) {
	h := newHarness(t, 10)
	h.remote.listErr = errors.New("connection refused")
	var seen []CycleReport
	e := h.engine(t, 0, func(o *Options) {
		o.Observers = append(o.Observers, ObserverFunc(func(r CycleReport) { seen = append(seen, r) }))
	})

	report := e.RunCycle(context.Background())
	require.Error(t, report.Err)
	assert.False(t, report.OK())
	assert.Empty(t, h.local(t))
	require.Len(t, seen, 1)
	assert.Equal(t, report.ID, seen[0].ID)

	h.remote.listErr = nil
	report = e.RunCycle(context.Background())
	require.NoError(t, report.Err)
	assert.Len(t, h.local(t), 1)
}

func TestReservedRemoteNamesAreIgnored(t *testing.T) {
	h := newHarness(t, 10)
	require.NoError(t, afero.WriteFile(h.fs, filepath.Join(remoteDir, ledgerName), []byte("{}"), 0o644))
	require.NoError(t, afero.WriteFile(h.fs, filepath.Join(remoteDir, localstore.TempPrefix+"x"), []byte("x"), 0o644))
	require.NoError(t, h.fs.MkdirAll(filepath.Join(remoteDir, "nested"), 0o755))

	report := h.engine(t, 0).RunCycle(context.Background())
	require.NoError(t, report.Err)
	assert.Equal(t, 1, report.Eligible)
	assert.Equal(t, 2, report.Skipped[eligibility.SkipReserved])
	assert.Equal(t, 1, report.Skipped[eligibility.SkipDirectory])
	assert.Equal(t, []string{"day-01.tar"}, h.local(t))
}

func TestFilterPatterns(t *testing.T) {
	h := newHarness(t, 10, 10)
	require.NoError(t, afero.WriteFile(h.fs, filepath.Join(remoteDir, "notes.txt"), []byte("x"), 0o644))

	report := h.engine(t, 0, func(o *Options) {
		o.Include = []string{"*.tar"}
		o.Exclude = []string{"day-02.*"}
	}).RunCycle(context.Background())

	require.NoError(t, report.Err)
	assert.Equal(t, []string{"day-01.tar"}, h.local(t))
	assert.Equal(t, 2, report.Skipped[eligibility.SkipFiltered])
}
