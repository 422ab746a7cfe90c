package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/finledger-dev/finledger/internal/posting"
	"github.com/finledger-dev/finledger/internal/runlog"
)

func newStatsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show import and journal statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(cmd, opts)
			if err != nil {
				return err
			}
			return runStats(cmd, p)
		},
	}
}

func runStats(cmd *cobra.Command, p *project) error {
	store, err := p.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	seen, err := store.Count(cmd.Context())
	if err != nil {
		return err
	}
	rules, err := p.loadRules()
	if err != nil {
		return err
	}
	review, err := posting.Review(p.layout, rules.Uncategorized(), false)
	if err != nil {
		return err
	}
	postings, err := posting.PostingFiles(p.layout)
	if err != nil {
		return err
	}
	entries, err := runlog.Read(p.layout.LogsDir())
	if err != nil {
		return err
	}

	runs := make(map[string]bool)
	var last time.Time
	for _, e := range entries {
		runs[e.RunID] = true
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Seen transactions:  %d (%s)\n", seen, p.cfg.Dedup.Backend)
	fmt.Fprintf(out, "Staged entries:     %d in %d files (%d uncategorized)\n", review.Total, len(review.Files), review.Uncategorized)
	fmt.Fprintf(out, "Posting files:      %d\n", len(postings))
	fmt.Fprintf(out, "Logged runs:        %d\n", len(runs))
	if !last.IsZero() {
		fmt.Fprintf(out, "Last run:           %s\n", last.Local().Format(time.RFC3339))
	}
	return nil
}
