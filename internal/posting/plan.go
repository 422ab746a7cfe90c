package posting

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/finledger-dev/finledger/internal/config"
	"github.com/finledger-dev/finledger/internal/journal"
	"github.com/finledger-dev/finledger/internal/model"
	"github.com/finledger-dev/finledger/internal/period"
)

// Skip reasons.
const (
	SkipAlreadyPosted = "already posted"
	SkipDuplicate     = "duplicate in staging"
)

// Skipped is a staged entry that will not be posted.
type Skipped struct {
	Fingerprint model.Fingerprint
	Target      string
	Reason      string
}

// Target is one permanent file receiving entries.
type Target struct {
	Rel    string // relative to the journal dir, forward slashes
	Path   string
	Create bool
	Blocks []journal.Block
}

// Batch promotes one staging file.
type Batch struct {
	Name        string // staging file name
	Path        string
	Institution string
	Targets     []*Target // sorted by Rel
	Skipped     []Skipped

	digest [sha256.Size]byte
}

// Posted returns the number of entries the batch writes.
func (b *Batch) Posted() int {
	n := 0
	for _, t := range b.Targets {
		n += len(t.Blocks)
	}
	return n
}

// Plan is the complete set of effects of a post. Dry-run prints it; Apply
// executes it.
type Plan struct {
	Layout        config.Layout
	Batches       []*Batch
	Includes      []string // posting includes of main.journal afterwards
	IncludesAdded []string
	Invalid       []journal.ValidationError
	// Recover is set when an interrupted post will be completed first.
	Recover bool
}

// Posted returns the number of entries the plan writes.
func (p *Plan) Posted() int {
	n := 0
	for _, b := range p.Batches {
		n += b.Posted()
	}
	return n
}

// SkippedCount returns the number of staged entries that will be dropped.
func (p *Plan) SkippedCount() int {
	n := 0
	for _, b := range p.Batches {
		n += len(b.Skipped)
	}
	return n
}

// Files returns the posting files the plan writes, sorted.
func (p *Plan) Files() []string {
	var files []string
	for _, b := range p.Batches {
		for _, t := range b.Targets {
			files = append(files, t.Rel)
		}
	}
	return dedupSorted(files)
}

// Created returns the posting files the plan creates, sorted.
func (p *Plan) Created() []string {
	var files []string
	for _, b := range p.Batches {
		for _, t := range b.Targets {
			if t.Create {
				files = append(files, t.Rel)
			}
		}
	}
	return dedupSorted(files)
}

// Empty reports whether there is nothing to do.
func (p *Plan) Empty() bool {
	return len(p.Batches) == 0 && len(p.IncludesAdded) == 0 && !p.Recover
}

// Changes lists the filesystem effects in the order Apply performs them.
func (p *Plan) Changes() []string {
	var out []string
	if p.Recover {
		out = append(out, "complete interrupted post")
	}
	for _, b := range p.Batches {
		for _, t := range b.Targets {
			verb := "append"
			if t.Create {
				verb = "create"
			}
			out = append(out, fmt.Sprintf("%s %s (+%d)", verb, t.Rel, len(t.Blocks)))
		}
		for _, s := range b.Skipped {
			out = append(out, fmt.Sprintf("skip %s (%s)", s.Fingerprint.Short(), s.Reason))
		}
		out = append(out, "remove staging/"+b.Name)
	}
	for _, inc := range p.IncludesAdded {
		out = append(out, "include "+inc)
	}
	return out
}

// BuildPlan reads the staging area and the posting tree and computes what a
// post would do. It does not modify anything.
func BuildPlan(layout config.Layout) (*Plan, error) {
	plan := &Plan{Layout: layout}
	pending, err := readIntent(layout)
	if err != nil {
		return nil, err
	}
	plan.Recover = pending != nil
	v := newView(layout, pending)

	names, err := journal.StagingFiles(layout.StagingDir())
	if err != nil {
		return nil, err
	}

	// Fingerprints already in each target, including earlier batches.
	targetFPs := make(map[string]map[model.Fingerprint]bool)
	created := make(map[string]bool)
	var planned []string

	for _, name := range names {
		if v.consumed(name) {
			continue
		}
		b, err := planBatch(layout, v, name, targetFPs, created)
		if err != nil {
			var verrs validationErrors
			if errors.As(err, &verrs) {
				plan.Invalid = append(plan.Invalid, verrs...)
				continue
			}
			return nil, err
		}
		plan.Batches = append(plan.Batches, b)
		for _, t := range b.Targets {
			planned = append(planned, t.Rel)
		}
	}

	onDisk, err := PostingFiles(layout)
	if err != nil {
		return nil, err
	}
	master, err := readMaster(layout)
	if err != nil {
		return nil, err
	}
	plan.Includes = dedupSorted(append(append(onDisk, v.recovered()...), planned...))
	plan.IncludesAdded = missing(ParseIncludes(master), plan.Includes)
	return plan, nil
}

type validationErrors []journal.ValidationError

func (v validationErrors) Error() string {
	return fmt.Sprintf("%d validation errors", len(v))
}

func planBatch(layout config.Layout, v *view, name string, targetFPs map[string]map[model.Fingerprint]bool, created map[string]bool) (*Batch, error) {
	institution, _, err := period.ParseStagingName(name)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(layout.StagingDir(), name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading staging file: %w", err)
	}
	blocks, verrs, err := journal.ValidateFile(path)
	if err != nil {
		return nil, err
	}
	if len(verrs) > 0 {
		for i := range verrs {
			verrs[i].File = filepath.Join("staging", name)
		}
		return nil, validationErrors(verrs)
	}

	b := &Batch{Name: name, Path: path, Institution: institution, digest: sha256.Sum256(data)}
	byRel := make(map[string]*Target)
	for _, blk := range blocks {
		rel := filepath.ToSlash(period.PostingRel(blk.Date, institution))

		seen, ok := targetFPs[rel]
		if !ok {
			src := v.source(filepath.Join(layout.JournalDir(), filepath.FromSlash(rel)))
			fps, err := journal.Fingerprints(src)
			if err != nil {
				return nil, err
			}
			seen = make(map[model.Fingerprint]bool, len(fps))
			for _, fp := range fps {
				seen[fp] = true
			}
			targetFPs[rel] = seen
			if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
				created[rel] = true
			}
		}

		t, ok := byRel[rel]
		if !ok {
			t = &Target{
				Rel:    rel,
				Path:   filepath.Join(layout.JournalDir(), filepath.FromSlash(rel)),
				Create: created[rel],
			}
			byRel[rel] = t
		}

		if seen[blk.Fingerprint] {
			reason := SkipAlreadyPosted
			for _, queued := range t.Blocks {
				if queued.Fingerprint == blk.Fingerprint {
					reason = SkipDuplicate
					break
				}
			}
			b.Skipped = append(b.Skipped, Skipped{Fingerprint: blk.Fingerprint, Target: rel, Reason: reason})
			continue
		}
		seen[blk.Fingerprint] = true
		t.Blocks = append(t.Blocks, blk)
	}

	for rel, t := range byRel {
		if len(t.Blocks) == 0 {
			continue
		}
		b.Targets = append(b.Targets, t)
		// Later batches append to a file this batch creates.
		created[rel] = false
	}
	sort.Slice(b.Targets, func(i, j int) bool { return b.Targets[i].Rel < b.Targets[j].Rel })
	return b, nil
}

// view is the tree as it will be once a pending intent is completed: its
// staging file is gone and each target holds its temp's content. Planning
// against it keeps a dry run equal to the post that recovers first.
type view struct {
	layout  config.Layout
	staging string
	temps   map[string]string
	targets []string
}

func newView(layout config.Layout, in *intent) *view {
	v := &view{layout: layout, temps: make(map[string]string)}
	if in == nil {
		return v
	}
	v.staging = intentPath(layout, in.Staging)
	for _, r := range in.Renames {
		target := intentPath(layout, r.Target)
		if _, err := os.Stat(intentPath(layout, r.Temp)); err == nil {
			v.temps[target] = intentPath(layout, r.Temp)
		}
		if rel, err := filepath.Rel(layout.JournalDir(), target); err == nil {
			v.targets = append(v.targets, filepath.ToSlash(rel))
		}
	}
	return v
}

// consumed reports whether recovery removes the named staging file.
func (v *view) consumed(name string) bool {
	return v.staging != "" && filepath.Join(v.layout.StagingDir(), name) == v.staging
}

// source returns the file holding target's post-recovery content.
func (v *view) source(target string) string {
	if tmp, ok := v.temps[target]; ok {
		return tmp
	}
	return target
}

// recovered lists the posting files recovery leaves in place.
func (v *view) recovered() []string {
	var out []string
	for _, rel := range v.targets {
		if _, err := os.Stat(v.source(intentPath(v.layout, rel))); err == nil {
			out = append(out, rel)
		}
	}
	return out
}
