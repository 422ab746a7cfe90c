package commands

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/finledger-dev/finledger/internal/engine"
	"github.com/finledger-dev/finledger/internal/journal"
	"github.com/finledger-dev/finledger/internal/logger"
	"github.com/finledger-dev/finledger/internal/posting"
)

// ErrStagingProblems is returned by review when staging cannot be posted.
var ErrStagingProblems = errors.New("staging has problems")

func newReviewCommand(opts *globalOptions) *cobra.Command {
	var uncategorized bool
	var check bool

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review staged transactions before posting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(cmd, opts)
			if err != nil {
				return err
			}
			return runReview(cmd, p, uncategorized, check)
		},
	}

	cmd.Flags().BoolVarP(&uncategorized, "uncategorized", "u", false, "show only uncategorized transactions")
	cmd.Flags().BoolVar(&check, "check", false, "also check staging with the accounting engine")

	return cmd
}

func runReview(cmd *cobra.Command, p *project, onlyUncategorized, check bool) error {
	out := cmd.OutOrStdout()
	rules, err := p.loadRules()
	if err != nil {
		return err
	}

	report, err := posting.Review(p.layout, rules.Uncategorized(), onlyUncategorized)
	if err != nil {
		return err
	}
	if len(report.Files) == 0 {
		color.New(color.FgGreen).Fprintln(out, "No staged transactions to review.")
		return nil
	}

	bold := color.New(color.Bold)
	warn := color.New(color.FgYellow)
	bad := color.New(color.FgRed)

	fmt.Fprintln(out)
	bold.Fprintf(out, "Staged transactions: %d\n", report.Total)
	warn.Fprintf(out, "Uncategorized: %d\n\n", report.Uncategorized)

	color.New(color.FgCyan, color.Bold).Fprintln(out, reviewRow("Date", "Payee", "Amount", "Account", "File"))
	for _, e := range report.Entries {
		row := reviewRow(
			e.Date.Format("2006-01-02"),
			e.Payee,
			journal.FormatAmount(p.cfg.Ledger.Commodity, e.Amount),
			e.Account,
			e.File,
		)
		if e.Uncategorized {
			warn.Fprintln(out, row)
			continue
		}
		fmt.Fprintln(out, row)
	}

	if report.Uncategorized > 0 {
		fmt.Fprintln(out)
		warn.Fprintf(out, "%d uncategorized transactions.", report.Uncategorized)
		fmt.Fprintln(out, " Add rules with 'finledger rules', then re-stage or edit staging/.")
	}

	for _, prob := range report.Problems {
		bad.Fprintf(out, "problem: %s\n", prob.Error())
	}
	for _, fp := range report.Duplicates {
		bad.Fprintf(out, "duplicate: fingerprint %s is staged more than once\n", fp.Short())
	}

	if check || p.cfg.Review.CheckWithEngine {
		if err := checkStaging(cmd, p, report.Files, check, out); err != nil {
			return err
		}
	}

	if !report.OK() {
		return fmt.Errorf("%w: %d problems, %d duplicates", ErrStagingProblems, len(report.Problems), len(report.Duplicates))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Run 'finledger post' to finalize staged transactions into the journal.")
	return nil
}

func reviewRow(date, payee, amount, account, file string) string {
	return fmt.Sprintf("%-12s %-30s %12s  %-30s %s", date, truncate(payee, 30), amount, truncate(account, 30), file)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "~"
}

// checkStaging runs the accounting engine over main.journal plus staging.
// When the check was not asked for explicitly, a missing engine is only
// logged.
func checkStaging(cmd *cobra.Command, p *project, files []string, explicit bool, out io.Writer) error {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = filepath.Join(p.layout.StagingDir(), f)
	}

	res, err := engine.CheckWithStaging(cmd.Context(), p.cfg.Engine.Command, p.layout.MainJournal(), paths)
	if errors.Is(err, engine.ErrNotInstalled) && !explicit {
		log := logger.FromContext(cmd.Context())
		log.Warn().Str("engine", p.cfg.Engine.Command).Msg("engine not installed, skipping check")
		return nil
	}
	if err != nil {
		return err
	}
	if !res.OK {
		color.New(color.FgRed).Fprintf(out, "%s check failed:\n", p.cfg.Engine.Command)
		fmt.Fprintln(out, res.Output)
		return fmt.Errorf("%w: %s check failed", ErrStagingProblems, p.cfg.Engine.Command)
	}
	color.New(color.FgGreen).Fprintf(out, "%s check passed\n", p.cfg.Engine.Command)
	return nil
}
