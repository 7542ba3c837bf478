package eviction

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antjowie/syncsftp/pkg/mirror/ledger"
	"github.com/antjowie/syncsftp/pkg/mirror/localstore"
	"github.com/antjowie/syncsftp/pkg/syncsftp/types"
)

const ledgerName = "purged_files.json"

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// day returns a file created n days after epoch.
func day(n int, size int64) localstore.File {
	return localstore.File{
		Name:    fmt.Sprintf("backup-%02d.tar", n),
		Size:    size,
		Created: epoch.AddDate(0, 0, n),
	}
}

func names(files []localstore.File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Name)
	}
	return out
}

func TestSelectTwentyIntoTen(t *testing.T) {
	// Twenty 1 GiB backups, one per day, against a 10 GiB budget.
	var files []localstore.File
	for i := 1; i <= 20; i++ {
		files = append(files, day(i, types.GiB))
	}

	plan := Select(files, 10*types.GiB)

	// The ten newest fill the budget exactly; the eleventh would cross it.
	require.Len(t, plan.Keep, 10)
	require.Len(t, plan.Evict, 10)
	assert.Equal(t, "backup-20.tar", plan.Keep[0].Name)
	assert.Equal(t, "backup-11.tar", plan.Keep[9].Name)
	assert.Equal(t, "backup-10.tar", plan.Evict[0].Name)
	assert.Equal(t, "backup-01.tar", plan.Evict[9].Name)
	assert.Equal(t, 10*types.GiB, plan.KeptBytes)
	assert.Equal(t, 10*types.GiB, plan.EvictBytes)
}

func TestSelectEvictsOldestFirst(t *testing.T) {
	files := []localstore.File{day(3, 40), day(1, 40), day(2, 40), day(4, 40)}

	plan := Select(files, 90)

	assert.Equal(t, []string{"backup-04.tar", "backup-03.tar"}, names(plan.Keep))
	assert.Equal(t, []string{"backup-02.tar", "backup-01.tar"}, names(plan.Evict))
}

func TestSelectExactBudgetKeepsAll(t *testing.T) {
	files := []localstore.File{day(1, 50), day(2, 50)}

	plan := Select(files, 100)
	assert.Len(t, plan.Keep, 2)
	assert.Empty(t, plan.Evict)
}

func TestSelectSingleOversizedFile(t *testing.T) {
	files := []localstore.File{day(1, 10), day(2, 500), day(3, 10)}

	plan := Select(files, 100)

	// day 3 fits, day 2 crosses and goes with everything older.
	assert.Equal(t, []string{"backup-03.tar"}, names(plan.Keep))
	assert.Equal(t, []string{"backup-02.tar", "backup-01.tar"}, names(plan.Evict))

	// A newest file over budget on its own is the only one left.
	plan = Select([]localstore.File{day(1, 10), day(2, 500)}, 100)
	assert.Equal(t, []string{"backup-02.tar"}, names(plan.Keep))
	assert.Equal(t, []string{"backup-01.tar"}, names(plan.Evict))

	plan = Select([]localstore.File{day(1, 20*types.GiB)}, 10*types.GiB)
	assert.Equal(t, []string{"backup-01.tar"}, names(plan.Keep))
	assert.Empty(t, plan.Evict)
}

func TestSelectRemainingTotalWithinBudget(t *testing.T) {
	tests := []struct {
		name   string
		sizes  []int64
		budget int64
	}{
		{"two halves over", []int64{60, 60}, 100},
		{"large middle", []int64{10, 500, 10}, 100},
		{"small newest large old", []int64{500, 10}, 100},
		{"many small", []int64{7, 13, 21, 3, 40, 9, 30}, 50},
		{"all fit", []int64{10, 20, 30}, 60},
		{"newest oversized", []int64{5, 5, 300}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var files []localstore.File
			for i, size := range tt.sizes {
				files = append(files, day(i+1, size))
			}

			plan := Select(files, tt.budget)

			require.NotEmpty(t, plan.Keep)
			if plan.KeptBytes > tt.budget {
				require.Len(t, plan.Keep, 1, "only a lone oversized newest file may exceed the budget")
				assert.Greater(t, plan.Keep[0].Size, tt.budget)
			}
			assert.Equal(t, len(files), len(plan.Keep)+len(plan.Evict))
			assert.Equal(t, lo.SumBy(files, func(f localstore.File) int64 { return f.Size }), plan.KeptBytes+plan.EvictBytes)

			// Everything kept is newer than everything evicted.
			if len(plan.Evict) > 0 {
				oldestKept := plan.Keep[len(plan.Keep)-1]
				assert.True(t, oldestKept.Created.After(plan.Evict[0].Created))
			}
		})
	}
}

func TestSelectZeroBudgetDisables(t *testing.T) {
	files := []localstore.File{day(1, 1<<40), day(2, 1<<40)}

	plan := Select(files, 0)
	assert.True(t, plan.Disabled())
	assert.Len(t, plan.Keep, 2)
	assert.Empty(t, plan.Evict)
}

func TestSelectTiesAreDeterministic(t *testing.T) {
	a := localstore.File{Name: "a", Size: 60, Created: epoch}
	b := localstore.File{Name: "b", Size: 60, Created: epoch}

	for _, in := range [][]localstore.File{{a, b}, {b, a}} {
		plan := Select(in, 50)
		assert.Equal(t, []string{"b"}, names(plan.Keep))
		assert.Equal(t, []string{"a"}, names(plan.Evict))
	}
}

func TestSelectDoesNotReorderInput(t *testing.T) {
	files := []localstore.File{day(1, 1), day(2, 1)}
	Select(files, 1)
	assert.Equal(t, "backup-01.tar", files[0].Name)
}

type env struct {
	fs     afero.Fs
	store  *localstore.Store
	ledger *ledger.Ledger
}

func newEnv(t *testing.T, fs afero.Fs, files ...localstore.File) *env {
	t.Helper()
	created := make(map[string]time.Time)
	for _, f := range files {
		require.NoError(t, afero.WriteFile(fs, "/mirror/"+f.Name, make([]byte, f.Size), 0o644))
		created[f.Name] = f.Created
	}
	store := localstore.New(fs, "/mirror",
		localstore.WithReserved(ledgerName),
		localstore.WithBirthTime(func(path string, _ os.FileInfo) (time.Time, bool) {
			t, ok := created[filepath.Base(path)]
			return t, ok
		}))
	l, err := ledger.Load(fs, "/mirror/"+ledgerName)
	require.NoError(t, err)
	return &env{fs: fs, store: store, ledger: l}
}

func TestEnforceRemovesAndRecords(t *testing.T) {
	e := newEnv(t, afero.NewMemMapFs(), day(1, 40), day(2, 40), day(3, 40))

	report, err := New(90, e.store, e.store, e.ledger).Enforce()
	require.NoError(t, err)
	require.NoError(t, report.Err())

	assert.Equal(t, []string{"backup-01.tar"}, names(report.Evicted))
	assert.Equal(t, int64(40), report.EvictedBytes())
	assert.Equal(t, 1, report.Recorded)
	assert.True(t, e.ledger.Contains("backup-01.tar"))

	present, err := e.store.Names()
	require.NoError(t, err)
	assert.NotContains(t, present, "backup-01.tar")
	assert.NotContains(t, present, ledgerName)

	reloaded, err := ledger.Load(e.fs, e.ledger.Path())
	require.NoError(t, err)
	assert.True(t, reloaded.Contains("backup-01.tar"))
}

func TestEnforceUnderBudgetLeavesLedgerAlone(t *testing.T) {
	e := newEnv(t, afero.NewMemMapFs(), day(1, 10))
	before, err := afero.ReadFile(e.fs, e.ledger.Path())
	require.NoError(t, err)

	report, err := New(100, e.store, e.store, e.ledger).Enforce()
	require.NoError(t, err)
	assert.Empty(t, report.Evicted)
	assert.Zero(t, report.Recorded)

	after, err := afero.ReadFile(e.fs, e.ledger.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEnforceDisabled(t *testing.T) {
	e := newEnv(t, afero.NewMemMapFs(), day(1, 1000), day(2, 1000))

	report, err := New(0, e.store, e.store, e.ledger).Enforce()
	require.NoError(t, err)
	assert.True(t, report.Plan.Disabled())
	assert.Empty(t, report.Evicted)
}

type flakyRemover struct {
	Remover
	fail map[string]bool
}

func (f flakyRemover) Remove(name string) error {
	if f.fail[name] {
		return errors.New("permission denied")
	}
	return f.Remover.Remove(name)
}

func TestApplyContinuesPastFailures(t *testing.T) {
	e := newEnv(t, afero.NewMemMapFs(), day(1, 40), day(2, 40), day(3, 40), day(4, 40))
	remover := flakyRemover{Remover: e.store, fail: map[string]bool{"backup-02.tar": true}}

	report, err := New(90, e.store, remover, e.ledger).Enforce()
	require.NoError(t, err)

	assert.Equal(t, []string{"backup-01.tar"}, names(report.Evicted))
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "backup-02.tar", report.Failures[0].Name)
	assert.Error(t, report.Err())

	assert.True(t, e.ledger.Contains("backup-01.tar"))
	assert.False(t, e.ledger.Contains("backup-02.tar"))
}

func TestApplyReportsLedgerFailure(t *testing.T) {
	base := afero.NewMemMapFs()
	e := newEnv(t, base, day(1, 40), day(2, 40))
	l, err := ledger.Load(afero.NewReadOnlyFs(base), e.ledger.Path())
	require.NoError(t, err)

	report, err := New(50, e.store, e.store, l).Enforce()
	require.NoError(t, err)

	assert.Len(t, report.Evicted, 1)
	assert.Error(t, report.LedgerErr)
	assert.ErrorIs(t, report.Err(), report.LedgerErr)
}

func TestPreviewDoesNotRemove(t *testing.T) {
	e := newEnv(t, afero.NewMemMapFs(), day(1, 40), day(2, 40), day(3, 40))

	plan, err := New(90, e.store, e.store, e.ledger).Preview()
	require.NoError(t, err)
	assert.Len(t, plan.Evict, 1)

	present, err := e.store.Names()
	require.NoError(t, err)
	assert.Len(t, present, 3)
}
