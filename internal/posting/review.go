// Package posting reviews staged entries and promotes them atomically into
// the permanent ledger.
package posting

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/finledger-dev/finledger/internal/config"
	"github.com/finledger-dev/finledger/internal/journal"
	"github.com/finledger-dev/finledger/internal/model"
)

// Report is the read-only view of the staging area.
type Report struct {
	Files         []string
	Entries       []model.StagedEntry
	Total         int // entries before the uncategorized filter
	Uncategorized int
	Problems      []journal.ValidationError
	Duplicates    []model.Fingerprint // fingerprints staged more than once
}

// Review reads every staging file. It never modifies the tree. With
// onlyUncategorized, Entries holds only entries classified to the
// uncategorized account.
func Review(layout config.Layout, uncategorized string, onlyUncategorized bool) (*Report, error) {
	files, err := journal.StagingFiles(layout.StagingDir())
	if err != nil {
		return nil, err
	}

	r := &Report{Files: files}
	counts := make(map[model.Fingerprint]int)
	for _, name := range files {
		path := filepath.Join(layout.StagingDir(), name)
		blocks, verrs, err := journal.ValidateFile(path)
		if err != nil {
			return nil, err
		}
		for i := range verrs {
			verrs[i].File = filepath.Join("staging", name)
		}
		r.Problems = append(r.Problems, verrs...)

		for _, b := range blocks {
			entry := stagedEntry(name, b, uncategorized)
			if b.Fingerprint != "" {
				counts[b.Fingerprint]++
			}
			r.Total++
			if entry.Uncategorized {
				r.Uncategorized++
			}
			if onlyUncategorized && !entry.Uncategorized {
				continue
			}
			r.Entries = append(r.Entries, entry)
		}
	}

	for fp, n := range counts {
		if n > 1 {
			r.Duplicates = append(r.Duplicates, fp)
		}
	}
	sort.Slice(r.Duplicates, func(i, j int) bool { return r.Duplicates[i] < r.Duplicates[j] })
	return r, nil
}

// OK reports whether the staging area can be posted.
func (r *Report) OK() bool {
	return len(r.Problems) == 0 && len(r.Duplicates) == 0
}

func stagedEntry(file string, b journal.Block, uncategorized string) model.StagedEntry {
	e := model.StagedEntry{
		Date:        b.Date,
		Payee:       b.Payee,
		Fingerprint: b.Fingerprint,
		File:        file,
		Text:        b.Text,
	}
	e.Account = b.Account()
	if len(b.Postings) > 0 {
		e.Amount = b.Postings[0].Amount
	}
	if len(b.Postings) > 1 {
		e.SourceAccount = b.Postings[len(b.Postings)-1].Account
	}
	e.Uncategorized = e.Account == uncategorized
	return e
}

// String summarizes the report on one line.
func (r *Report) String() string {
	return fmt.Sprintf("%d staged entries in %d files, %d uncategorized, %d problems, %d duplicates",
		r.Total, len(r.Files), r.Uncategorized, len(r.Problems), len(r.Duplicates))
}
