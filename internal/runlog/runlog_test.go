package runlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)

func testEntry() Entry {
	return Entry{
		Timestamp: testTime,
		RunID:     "6f1c2a9e-3b7d-4f0a-9c1e-2d5b8a7f4e10",
		Command:   "ingest",
		Action:    ActionStage,
		Details:   "citi_2026-02.journal",
		Count:     12,
	}
}

func TestAppend_NewFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, Append(dir, []Entry{testEntry()}))

	entries, err := Read(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, testEntry(), entries[0])

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), Header+"\n"))
}

func TestAppend_ExistingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Append(dir, []Entry{testEntry()}))

	e2 := testEntry()
	e2.Command = "post"
	e2.Action = ActionPost
	e2.Details = "posted, details with, commas"
	require.NoError(t, Append(dir, []Entry{e2}))
	require.NoError(t, Append(dir, nil))

	entries, err := Read(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "ingest", entries[0].Command)
	assert.Equal(t, "posted, details with, commas", entries[1].Details)
}

func TestRead_NoFile(t *testing.T) {
	entries, err := Read(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestUnmarshalEntry_Errors(t *testing.T) {
	_, err := UnmarshalEntry([]string{"a"})
	assert.Error(t, err)

	row := MarshalEntry(testEntry())
	row[colTimestamp] = "yesterday"
	_, err = UnmarshalEntry(row)
	assert.Error(t, err)

	row = MarshalEntry(testEntry())
	row[colCount] = "many"
	_, err = UnmarshalEntry(row)
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder("run-1", "ingest")
	r.now = func() time.Time { return testTime }
	r.Add(ActionIngest, "chase.csv", 3)
	r.Add(ActionDedup, "duplicates", 1)
	assert.Len(t, r.Entries(), 2)

	require.NoError(t, r.Flush(dir))
	assert.Empty(t, r.Entries())

	entries, err := Read(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "run-1", entries[1].RunID)
	assert.Equal(t, 1, entries[1].Count)
}
