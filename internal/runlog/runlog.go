// Package runlog appends one CSV row per pipeline action to logs/run-log.csv.
// The log is an audit trail; it is never rewritten.
package runlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileName is the log file inside the logs directory.
const FileName = "run-log.csv"

// Actions recorded by the pipeline.
const (
	ActionIngest = "ingest"
	ActionStage  = "stage"
	ActionSkip   = "skip_rows"
	ActionDedup  = "dedup"
	ActionPost   = "post"
	ActionRules  = "rules"
)

// Entry is one row in the run log.
type Entry struct {
	Timestamp time.Time
	RunID     string
	Command   string
	Action    string
	Details   string
	Count     int
}

// Header is the CSV header for run-log.csv.
const Header = "timestamp,run_id,command,action,details,count"

const (
	numFields    = 6
	colTimestamp = 0
	colRunID     = 1
	colCommand   = 2
	colAction    = 3
	colDetails   = 4
	colCount     = 5
)

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTimestamp] = e.Timestamp.UTC().Format(time.RFC3339)
	row[colRunID] = e.RunID
	row[colCommand] = e.Command
	row[colAction] = e.Action
	row[colDetails] = e.Details
	row[colCount] = strconv.Itoa(e.Count)
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[colTimestamp])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}
	count, err := strconv.Atoi(record[colCount])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing count %q: %w", record[colCount], err)
	}

	return Entry{
		Timestamp: ts,
		RunID:     record[colRunID],
		Command:   record[colCommand],
		Action:    record[colAction],
		Details:   record[colDetails],
		Count:     count,
	}, nil
}

// Append writes entries to <logsDir>/run-log.csv, creating the file and
// header if needed.
func Append(logsDir string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	path := filepath.Join(logsDir, FileName)
	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening run log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing run log: %w", err)
	}
	return f.Sync()
}

// Read returns all entries from <logsDir>/run-log.csv. Returns nil if the
// file does not exist.
func Read(logsDir string) ([]Entry, error) {
	f, err := os.Open(filepath.Join(logsDir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	defer f.Close()

	return readEntries(f)
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading run log CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Recorder accumulates entries for one run and stamps them with its id.
type Recorder struct {
	RunID   string
	Command string
	now     func() time.Time
	entries []Entry
}

// NewRecorder creates a Recorder for a run of command.
func NewRecorder(runID, command string) *Recorder {
	return &Recorder{RunID: runID, Command: command, now: time.Now}
}

// Add queues an entry.
func (r *Recorder) Add(action, details string, count int) {
	r.entries = append(r.entries, Entry{
		Timestamp: r.now(),
		RunID:     r.RunID,
		Command:   r.Command,
		Action:    action,
		Details:   details,
		Count:     count,
	})
}

// Entries returns the queued entries.
func (r *Recorder) Entries() []Entry {
	return r.entries
}

// Flush appends queued entries to the log in logsDir and clears the queue.
func (r *Recorder) Flush(logsDir string) error {
	if err := Append(logsDir, r.entries); err != nil {
		return err
	}
	r.entries = nil
	return nil
}
