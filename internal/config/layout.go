package config

import (
	"path/filepath"
	"time"
)

// Layout centralizes every path of a project tree.
type Layout struct {
	Root string
}

// NewLayout returns the layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// ConfigFile is finledger.yaml.
func (l Layout) ConfigFile() string { return filepath.Join(l.Root, FileName) }

// JournalDir holds main.journal, staging/ and postings/.
func (l Layout) JournalDir() string { return filepath.Join(l.Root, "journal") }

// MainJournal is the master ledger read by the accounting engine.
func (l Layout) MainJournal() string { return filepath.Join(l.JournalDir(), "main.journal") }

// StagingDir holds staged entries awaiting review.
func (l Layout) StagingDir() string { return filepath.Join(l.JournalDir(), "staging") }

// PostingsDir holds the permanent, dated ledger files.
func (l Layout) PostingsDir() string { return filepath.Join(l.JournalDir(), "postings") }

// LockFile guards post operations.
func (l Layout) LockFile() string { return filepath.Join(l.JournalDir(), ".post.lock") }

// IntentFile records a post batch whose renames are in progress.
func (l Layout) IntentFile() string { return filepath.Join(l.JournalDir(), ".post-intent.json") }

// ImportDir is the root of import data.
func (l Layout) ImportDir() string { return filepath.Join(l.Root, "import") }

// InboxDir holds exports waiting to be ingested.
func (l Layout) InboxDir() string { return filepath.Join(l.ImportDir(), "inbox") }

// ProcessedDir holds exports already ingested.
func (l Layout) ProcessedDir() string { return filepath.Join(l.ImportDir(), "processed") }

// RulesDir holds payees.yaml and accounts.yaml.
func (l Layout) RulesDir() string { return filepath.Join(l.ImportDir(), "rules") }

// ProfilesDir holds one YAML profile per institution.
func (l Layout) ProfilesDir() string { return filepath.Join(l.RulesDir(), "csv_profiles") }

// StateDir holds the dedup store.
func (l Layout) StateDir() string { return filepath.Join(l.ImportDir(), "state") }

// DedupPath returns the store file for a backend.
func (l Layout) DedupPath(backend string) string {
	if backend == "bolt" {
		return filepath.Join(l.StateDir(), "seen_transactions.bolt")
	}
	return filepath.Join(l.StateDir(), "seen_transactions.sqlite")
}

// RawArchiveDir is where a raw export received at t is archived.
func (l Layout) RawArchiveDir(institution string, t time.Time) string {
	return filepath.Join(l.ImportDir(), "raw", institution, t.Format("2006-01"))
}

// CanonicalFile is the JSONL audit file for an institution's run at t.
func (l Layout) CanonicalFile(institution string, t time.Time) string {
	return filepath.Join(l.ImportDir(), "canonical", t.Format("2006-01"), institution+".jsonl")
}

// LogsDir holds run-log.csv.
func (l Layout) LogsDir() string { return filepath.Join(l.Root, "logs") }

// Dirs lists the directories `finledger init` creates.
func (l Layout) Dirs() []string {
	return []string{
		l.StagingDir(),
		l.PostingsDir(),
		l.InboxDir(),
		l.ProcessedDir(),
		l.ProfilesDir(),
		l.StateDir(),
		l.LogsDir(),
	}
}
