// Package pipeline runs one ingest: a raw export through normalization,
// fingerprinting, deduplication and classification into staging.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finledger-dev/finledger/internal/config"
	"github.com/finledger-dev/finledger/internal/dedup"
	"github.com/finledger-dev/finledger/internal/fingerprint"
	"github.com/finledger-dev/finledger/internal/journal"
	"github.com/finledger-dev/finledger/internal/logger"
	"github.com/finledger-dev/finledger/internal/model"
	"github.com/finledger-dev/finledger/internal/normalize"
	"github.com/finledger-dev/finledger/internal/posting"
	"github.com/finledger-dev/finledger/internal/profile"
	"github.com/finledger-dev/finledger/internal/rules"
	"github.com/finledger-dev/finledger/internal/runlog"
)

// Options configures one ingest run. Profile, Rules and Store are loaded by
// the caller, so configuration errors surface before any side effect.
type Options struct {
	Layout    config.Layout
	Profile   *profile.Profile
	Rules     *rules.Engine
	Store     dedup.Store
	Commodity string
	File      string // source name recorded in the dedup store and logs
	Data      []byte

	// Now and RunID default to the wall clock and a random UUID.
	Now   func() time.Time
	RunID string
}

// RunReport summarizes an ingest run.
type RunReport struct {
	RunID         string
	Institution   string
	File          string
	Archive       string
	Rows          int
	Parsed        int
	Skipped       int
	RowErrors     []normalize.RowError
	Duplicates    int
	Staged        int
	Uncategorized int
	StagedFiles   []string
	Total         decimal.Decimal // sum of staged canonical amounts
}

// Ingest runs the pipeline. Transactions are handled sequentially in source
// order. Row errors are reported, not returned; any returned error is a
// *StageError.
func Ingest(ctx context.Context, opts Options) (*RunReport, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	inst := opts.Profile.Institution
	runAt := now()

	log := logger.FromContext(ctx).With().Str("run_id", runID).Str("institution", inst).Str("file", opts.File).Logger()
	rec := runlog.NewRecorder(runID, "ingest")
	report := &RunReport{RunID: runID, Institution: inst, File: opts.File, Total: decimal.Zero}

	archive, created, err := normalize.Archive(opts.Layout.RawArchiveDir(inst, runAt), opts.Data)
	if err != nil {
		return nil, stageErr(StageWrite, opts.File, err)
	}
	report.Archive = archive
	if created {
		log.Debug().Str("stage", StageWrite).Str("archive", archive).Msg("archived raw export")
	}

	txns, nreport, err := normalize.New(opts.Profile).Normalize(opts.Data)
	if err != nil {
		return nil, stageErr(StageNormalize, opts.File, err)
	}
	report.Rows = nreport.Rows
	report.Parsed = nreport.Parsed
	report.Skipped = nreport.Skipped
	report.RowErrors = nreport.Errors
	for _, re := range nreport.Errors {
		log.Debug().Str("stage", StageNormalize).Int("line", re.Line).Str("reason", re.Reason).Msg("skipped row")
	}
	rec.Add(runlog.ActionIngest, filepath.Base(opts.File), nreport.Parsed)
	if nreport.Skipped > 0 {
		rec.Add(runlog.ActionSkip, filepath.Base(opts.File), nreport.Skipped)
	}

	if err := normalize.WriteCanonical(opts.Layout.CanonicalFile(inst, runAt), txns); err != nil {
		return nil, stageErr(StageWrite, opts.File, err)
	}

	fps := make([]model.Fingerprint, len(txns))
	byFP := make(map[model.Fingerprint]int, len(txns))
	for i, tx := range txns {
		fps[i] = fingerprint.Compute(tx)
		if _, dup := byFP[fps[i]]; !dup {
			byFP[fps[i]] = i
		}
	}
	if n := len(txns) - len(byFP); n > 0 {
		log.Debug().Str("stage", StageFingerprint).Int("repeated", n).Msg("export repeats transactions")
	}

	// Staging writes and posts must not interleave: a post removes the
	// staging files it consumed.
	lock, err := posting.AcquireLock(ctx, opts.Layout.LockFile(), true)
	if err != nil {
		return nil, stageErr(StageWrite, opts.File, err)
	}
	defer lock.Release()

	staged, err := stagedFingerprints(opts.Layout.StagingDir())
	if err != nil {
		return nil, stageErr(StageDedup, opts.File, err)
	}

	var candidates []model.Fingerprint
	for _, fp := range fps {
		if !staged[fp] {
			candidates = append(candidates, fp)
			continue
		}
		// Staged by a run that crashed before its claim committed.
		if _, err := opts.Store.MarkSeen(ctx, fp, opts.File); err != nil {
			return nil, &StageError{Stage: StageDedup, File: opts.File, Fingerprint: fp, Err: err}
		}
	}

	stager := journal.NewStager(opts.Layout.StagingDir())
	var writeErr error
	err = opts.Store.Claim(ctx, candidates, opts.File, func(claimed []model.Fingerprint) error {
		entries := make([]journal.Entry, 0, len(claimed))
		for _, fp := range claimed {
			tx := txns[byFP[fp]]
			c := opts.Rules.Apply(tx.Payee)
			if c.Account == "" {
				writeErr = &StageError{Stage: StageClassify, File: opts.File, Fingerprint: fp, Err: errors.New("no account")}
				return writeErr
			}
			entries = append(entries, journal.Entry{
				Date:          tx.Date,
				Payee:         c.Payee,
				Account:       c.Account,
				SourceAccount: tx.Account,
				Amount:        tx.Amount,
				Commodity:     opts.Commodity,
				Fingerprint:   fp,
				Institution:   inst,
			})
			if c.Fallback {
				report.Uncategorized++
			}
			report.Total = report.Total.Add(tx.Amount)
		}
		files, err := stager.Append(entries)
		if err != nil {
			writeErr = stageErr(StageWrite, opts.File, err)
			return writeErr
		}
		report.Staged = len(entries)
		report.StagedFiles = files
		return nil
	})
	if err != nil {
		if writeErr != nil {
			return nil, writeErr
		}
		return nil, stageErr(StageDedup, opts.File, err)
	}

	report.Duplicates = len(txns) - report.Staged
	if report.Duplicates > 0 {
		rec.Add(runlog.ActionDedup, filepath.Base(opts.File), report.Duplicates)
	}
	for _, f := range report.StagedFiles {
		rec.Add(runlog.ActionStage, f, 0)
	}
	if err := rec.Flush(opts.Layout.LogsDir()); err != nil {
		log.Warn().Err(err).Msg("writing run log")
	}

	log.Info().
		Int("rows", report.Rows).
		Int("skipped", report.Skipped).
		Int("duplicates", report.Duplicates).
		Int("staged", report.Staged).
		Int("uncategorized", report.Uncategorized).
		Msg("ingest complete")
	return report, nil
}

func stagedFingerprints(dir string) (map[model.Fingerprint]bool, error) {
	names, err := journal.StagingFiles(dir)
	if err != nil {
		return nil, err
	}
	set := make(map[model.Fingerprint]bool)
	for _, name := range names {
		fps, err := journal.Fingerprints(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", name, err)
		}
		for _, fp := range fps {
			set[fp] = true
		}
	}
	return set, nil
}
