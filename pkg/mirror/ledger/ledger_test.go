package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPath = "/mirror/purged_files.json"

func readDoc(t *testing.T, fs afero.Fs) document {
	t.Helper()
	data, err := afero.ReadFile(fs, testPath)
	require.NoError(t, err)
	var doc document
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestLoadMissingWritesEmptyLedger(t *testing.T) {
	fs := afero.NewMemMapFs()

	l, err := Load(fs, testPath)
	require.NoError(t, err)
	assert.Zero(t, l.Len())

	data, err := afero.ReadFile(fs, testPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"purgedFiles": []}`, string(data))
}

func TestLoadCorruptRecoversEmpty(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, testPath, []byte("{not json"), 0o644))

	l, err := Load(fs, testPath)
	require.NoError(t, err)
	assert.Zero(t, l.Len())
	assert.Empty(t, readDoc(t, fs).PurgedFiles)
}

func TestRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()

	l, err := Load(fs, testPath)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Add("b.zip", "a.zip"))
	require.NoError(t, l.Save())

	reloaded, err := Load(fs, testPath)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.zip", "b.zip"}, reloaded.Names())
	require.NoError(t, reloaded.Save())

	assert.ElementsMatch(t, []string{"a.zip", "b.zip"}, readDoc(t, fs).PurgedFiles)
}

func TestDocumentFormat(t *testing.T) {
	fs := afero.NewMemMapFs()
	l, err := Load(fs, testPath)
	require.NoError(t, err)
	l.Add("z.bak", "a.bak")
	require.NoError(t, l.Save())

	data, err := afero.ReadFile(fs, testPath)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"purgedFiles\": [\n    \"a.bak\",\n    \"z.bak\"\n  ]\n}\n", string(data))
}

func TestAddIsIdempotent(t *testing.T) {
	l, err := Load(afero.NewMemMapFs(), testPath)
	require.NoError(t, err)

	assert.Equal(t, 1, l.Add("a.zip"))
	assert.Equal(t, 0, l.Add("a.zip", ""))
	assert.True(t, l.Contains("a.zip"))
	assert.False(t, l.Contains("b.zip"))
	assert.Equal(t, 1, l.Len())
}

func TestForget(t *testing.T) {
	l, err := Load(afero.NewMemMapFs(), testPath)
	require.NoError(t, err)
	l.Add("a.zip", "b.zip")

	assert.Equal(t, 1, l.Forget("a.zip", "missing.zip"))
	assert.Equal(t, []string{"b.zip"}, l.Names())
}

func TestSnapshotIsDetached(t *testing.T) {
	l, err := Load(afero.NewMemMapFs(), testPath)
	require.NoError(t, err)
	l.Add("a.zip")

	snap := l.Snapshot()
	l.Add("b.zip")
	assert.Len(t, snap, 1)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	l, err := Load(fs, testPath)
	require.NoError(t, err)
	l.Add("a.zip")
	require.NoError(t, l.Save())

	infos, err := afero.ReadDir(fs, "/mirror")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "purged_files.json", infos[0].Name())
}

func TestSaveFailsOnReadOnlyFs(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(base, testPath, []byte(`{"purgedFiles":["x"]}`), 0o644))

	l, err := Load(afero.NewReadOnlyFs(base), testPath)
	require.NoError(t, err)
	assert.True(t, l.Contains("x"))

	l.Add("y")
	assert.Error(t, l.Save())
}

func TestLoadRecoversWhenRewriteFails(t *testing.T) {
	base := afero.NewMemMapFs()
	ro := afero.NewReadOnlyFs(base)

	l, err := Load(ro, testPath)
	require.NoError(t, err, "a missing ledger that cannot be written is not fatal")
	assert.Zero(t, l.Len())

	require.NoError(t, afero.WriteFile(base, testPath, []byte("{broken"), 0o644))
	l, err = Load(ro, testPath)
	require.NoError(t, err, "a corrupt ledger that cannot be rewritten is not fatal")
	assert.Zero(t, l.Len())

	// The failure surfaces on the next save instead.
	l.Add("a.tar")
	assert.Error(t, l.Save())
}

func TestLoadOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "purged_files.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"purgedFiles":["old.tar"]}`), 0o644))

	l, err := Load(afero.NewOsFs(), path)
	require.NoError(t, err)
	assert.True(t, l.Contains("old.tar"))
}

func TestReadNeverWrites(t *testing.T) {
	fs := afero.NewMemMapFs()

	l, err := Read(fs, testPath)
	require.NoError(t, err)
	assert.Zero(t, l.Len())
	exists, err := afero.Exists(fs, testPath)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, afero.WriteFile(fs, testPath, []byte("{not json"), 0o644))
	_, err = Read(fs, testPath)
	assert.ErrorIs(t, err, ErrCorrupt)
	data, err := afero.ReadFile(fs, testPath)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))

	require.NoError(t, afero.WriteFile(fs, testPath, []byte(`{"purgedFiles": ["a.zip", "b.zip"]}`), 0o644))
	l, err = Read(fs, testPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.zip", "b.zip"}, l.Names())
}
