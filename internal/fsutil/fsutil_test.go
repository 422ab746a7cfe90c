package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "payees.yaml")

	require.NoError(t, WriteFileAtomic(path, []byte("rules: []\n")))
	require.NoError(t, WriteFileAtomic(path, []byte("rules:\n  - pattern: x\n")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "rules:\n  - pattern: x\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp file should remain")
}

func TestWriteTemp_Hidden(t *testing.T) {
	target := filepath.Join(t.TempDir(), "citi.journal")
	tmp, err := WriteTemp(target, []byte("data"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Dir(target), filepath.Dir(tmp))
	assert.True(t, IsTemp(filepath.Base(tmp)), "temp name %s", filepath.Base(tmp))
	assert.NoFileExists(t, target)
}

func TestIsTemp(t *testing.T) {
	assert.True(t, IsTemp(".citi.journal.tmp-12345"))
	assert.False(t, IsTemp("citi.journal"))
	assert.False(t, IsTemp(".post.lock"))
	assert.False(t, IsTemp(".post-intent.json"))
	assert.False(t, IsTemp("citi.tmp-1"))
}

func TestSweepTemps(t *testing.T) {
	root := t.TempDir()
	keep := filepath.Join(root, "postings", "2026", "2026-02", "citi.journal")
	require.NoError(t, os.MkdirAll(filepath.Dir(keep), 0o755))
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".post.lock"), nil, 0o644))

	stale, err := WriteTemp(keep, []byte("partial"))
	require.NoError(t, err)

	removed, err := SweepTemps(root)
	require.NoError(t, err)
	assert.Equal(t, []string{stale}, removed)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, keep)
	assert.FileExists(t, filepath.Join(root, ".post.lock"))

	removed, err = SweepTemps(filepath.Join(root, "missing"))
	require.NoError(t, err)
	assert.Empty(t, removed)
}
