package posting

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/finledger-dev/finledger/internal/config"
	"github.com/finledger-dev/finledger/internal/fsutil"
	"github.com/finledger-dev/finledger/internal/journal"
	"github.com/finledger-dev/finledger/internal/logger"
)

var (
	// ErrInvalidStaging is returned when staged entries fail validation.
	ErrInvalidStaging = errors.New("staging has invalid entries")
	// ErrStagingChanged is returned when a staging file changed after the
	// plan was built.
	ErrStagingChanged = errors.New("staging changed since plan was built")
)

// entryHook, when set, runs before each entry is added to a batch's
// content. n counts entries within the batch from 1.
var entryHook func(n int) error

// Result reports what Apply did.
type Result struct {
	Posted        int
	Skipped       int
	Files         []string // posting files written
	Created       []string // posting files created
	Removed       []string // staging files consumed
	Includes      []string
	IncludesAdded []string
	Recovered     bool
}

type intent struct {
	Staging string   `json:"staging"`
	Renames []rename `json:"renames"`
}

type rename struct {
	Temp   string `json:"temp"`
	Target string `json:"target"`
}

// Apply executes plan under the journal lock. Each batch is all or nothing:
// a failure before its renames start leaves staging and the posting files
// untouched, and an interruption during them is completed by the next
// Apply. Batches completed before a failure stay posted, and main.journal
// is reconciled either way.
func Apply(ctx context.Context, plan *Plan) (*Result, error) {
	layout := plan.Layout
	log := logger.FromContext(ctx)

	if len(plan.Invalid) > 0 {
		return nil, fmt.Errorf("%w: %d problems", ErrInvalidStaging, len(plan.Invalid))
	}

	lock, err := AcquireLock(ctx, layout.LockFile(), false)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	res := &Result{}
	recovered, err := recoverIntent(layout)
	if err != nil {
		return nil, fmt.Errorf("recovering interrupted post: %w", err)
	}
	if recovered {
		log.Warn().Msg("completed interrupted post")
		res.Recovered = true
		plan, err = BuildPlan(layout)
		if err != nil {
			return nil, err
		}
		if len(plan.Invalid) > 0 {
			return nil, fmt.Errorf("%w: %d problems", ErrInvalidStaging, len(plan.Invalid))
		}
	}

	// Temps not named by an intent belong to a post that died before
	// recording one. Nothing else writes them while the lock is held.
	swept, err := fsutil.SweepTemps(layout.JournalDir())
	if err != nil {
		return nil, err
	}
	for _, p := range swept {
		log.Warn().Str("path", p).Msg("removed stale temp file")
	}

	var batchErr error
	for _, b := range plan.Batches {
		if err := ctx.Err(); err != nil {
			batchErr = err
			break
		}
		if err := applyBatch(layout, b); err != nil {
			batchErr = fmt.Errorf("posting %s: %w", b.Name, err)
			log.Error().Err(err).Str("staging", b.Name).Msg("batch failed")
			break
		}
		log.Info().Str("staging", b.Name).Int("posted", b.Posted()).Int("skipped", len(b.Skipped)).Msg("batch posted")

		res.Posted += b.Posted()
		res.Skipped += len(b.Skipped)
		res.Removed = append(res.Removed, b.Name)
		for _, t := range b.Targets {
			res.Files = append(res.Files, t.Rel)
			if t.Create {
				res.Created = append(res.Created, t.Rel)
			}
		}
	}
	res.Files = dedupSorted(res.Files)
	res.Created = dedupSorted(res.Created)

	includes, added, err := ReconcileMaster(layout)
	if err != nil {
		return res, errors.Join(batchErr, err)
	}
	res.Includes = includes
	res.IncludesAdded = added
	return res, batchErr
}

func applyBatch(layout config.Layout, b *Batch) error {
	data, err := os.ReadFile(b.Path)
	if err != nil {
		return fmt.Errorf("reading staging file: %w", err)
	}
	if sha256.Sum256(data) != b.digest {
		return ErrStagingChanged
	}

	var renames []rename
	cleanup := func() {
		for _, r := range renames {
			os.Remove(r.Temp)
		}
	}

	n := 0
	for _, t := range b.Targets {
		existing, err := os.ReadFile(t.Path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			cleanup()
			return fmt.Errorf("reading %s: %w", t.Rel, err)
		}
		existingBlocks, err := journal.ParseBlocks(bytes.NewReader(existing))
		if err != nil {
			cleanup()
			return err
		}

		var buf bytes.Buffer
		buf.Write(existing)
		if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n\n")) {
			if !bytes.HasSuffix(existing, []byte("\n")) {
				buf.WriteString("\n")
			}
			buf.WriteString("\n")
		}
		for _, blk := range t.Blocks {
			n++
			if entryHook != nil {
				if err := entryHook(n); err != nil {
					cleanup()
					return err
				}
			}
			buf.WriteString(blk.Text)
			buf.WriteString("\n")
		}

		tmp, err := fsutil.WriteTemp(t.Path, buf.Bytes())
		if err != nil {
			cleanup()
			return err
		}
		renames = append(renames, rename{Temp: tmp, Target: t.Path})

		if err := verify(tmp, len(existingBlocks)+len(t.Blocks)); err != nil {
			cleanup()
			return fmt.Errorf("verifying %s: %w", t.Rel, err)
		}
	}

	if err := writeIntent(layout, b, renames); err != nil {
		cleanup()
		return err
	}
	return finishBatch(layout, intentFor(layout, b.Path, renames))
}

// verify re-reads a written file and checks it is well formed, holds want
// blocks, and repeats no fingerprint.
func verify(path string, want int) error {
	blocks, verrs, err := journal.ValidateFile(path)
	if err != nil {
		return err
	}
	if len(verrs) > 0 {
		return verrs[0]
	}
	if len(blocks) != want {
		return fmt.Errorf("expected %d entries, found %d", want, len(blocks))
	}
	seen := make(map[string]bool, len(blocks))
	for _, blk := range blocks {
		if seen[string(blk.Fingerprint)] {
			return fmt.Errorf("fingerprint %s appears twice", blk.Fingerprint.Short())
		}
		seen[string(blk.Fingerprint)] = true
	}
	return nil
}

func intentFor(layout config.Layout, staging string, renames []rename) intent {
	rel := func(p string) string {
		r, err := filepath.Rel(layout.JournalDir(), p)
		if err != nil {
			return p
		}
		return filepath.ToSlash(r)
	}
	in := intent{Staging: rel(staging)}
	for _, r := range renames {
		in.Renames = append(in.Renames, rename{Temp: rel(r.Temp), Target: rel(r.Target)})
	}
	return in
}

func writeIntent(layout config.Layout, b *Batch, renames []rename) error {
	data, err := json.MarshalIndent(intentFor(layout, b.Path, renames), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding intent: %w", err)
	}
	if err := fsutil.WriteFileAtomic(layout.IntentFile(), data); err != nil {
		return fmt.Errorf("writing intent: %w", err)
	}
	return nil
}

// finishBatch performs the renames of a recorded intent, removes the
// staging file and then the intent. It is idempotent so recovery can rerun
// it after a crash at any point.
func finishBatch(layout config.Layout, in intent) error {
	abs := func(rel string) string { return intentPath(layout, rel) }

	dirs := make(map[string]bool)
	for _, r := range in.Renames {
		tmp, target := abs(r.Temp), abs(r.Target)
		if _, err := os.Stat(tmp); errors.Is(err, os.ErrNotExist) {
			if _, err := os.Stat(target); err != nil {
				return fmt.Errorf("intent target %s missing and its temp is gone", r.Target)
			}
			continue
		}
		if err := os.Rename(tmp, target); err != nil {
			return fmt.Errorf("renaming into %s: %w", r.Target, err)
		}
		dirs[filepath.Dir(target)] = true
	}
	for dir := range dirs {
		fsutil.SyncDir(dir)
	}

	if err := os.Remove(abs(in.Staging)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing staging file: %w", err)
	}
	fsutil.SyncDir(layout.StagingDir())

	if err := os.Remove(layout.IntentFile()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing intent: %w", err)
	}
	return nil
}

// intentPath resolves a path recorded in an intent against the journal
// directory.
func intentPath(layout config.Layout, rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(layout.JournalDir(), filepath.FromSlash(rel))
}

// readIntent loads the intent of an interrupted post, or nil when there is
// none.
func readIntent(layout config.Layout) (*intent, error) {
	data, err := os.ReadFile(layout.IntentFile())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading intent: %w", err)
	}
	var in intent
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decoding intent: %w", err)
	}
	if in.Staging == "" || strings.Contains(in.Staging, "..") {
		return nil, fmt.Errorf("intent names invalid staging file %q", in.Staging)
	}
	return &in, nil
}

// recoverIntent completes a batch whose intent was recorded but not
// cleared. Reports whether there was one.
func recoverIntent(layout config.Layout) (bool, error) {
	in, err := readIntent(layout)
	if err != nil || in == nil {
		return false, err
	}
	if err := finishBatch(layout, *in); err != nil {
		return false, err
	}
	return true, nil
}

// Post builds a plan and applies it. With dryRun it only returns the plan.
func Post(ctx context.Context, layout config.Layout, dryRun bool) (*Plan, *Result, error) {
	plan, err := BuildPlan(layout)
	if err != nil {
		return nil, nil, err
	}
	if dryRun {
		return plan, nil, nil
	}
	res, err := Apply(ctx, plan)
	return plan, res, err
}
