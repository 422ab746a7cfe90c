package commands

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/finledger-dev/finledger/internal/gitops"
	"github.com/finledger-dev/finledger/internal/logger"
	"github.com/finledger-dev/finledger/internal/pipeline"
	"github.com/finledger-dev/finledger/internal/posting"
	"github.com/finledger-dev/finledger/internal/runlog"
)

func newPostCommand(opts *globalOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "post",
		Short: "Move staged transactions into the permanent journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(cmd, opts)
			if err != nil {
				return err
			}
			return runPost(cmd, p, dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be posted without changing anything")

	return cmd
}

func runPost(cmd *cobra.Command, p *project, dryRun bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	runID := uuid.NewString()
	log := logger.FromContext(ctx).With().Str("run_id", runID).Logger()

	plan, err := posting.BuildPlan(p.layout)
	if err != nil {
		return postErr(err)
	}

	if dryRun {
		printPlan(out, plan)
		if len(plan.Invalid) > 0 {
			return postErr(fmt.Errorf("%w: %d problems", posting.ErrInvalidStaging, len(plan.Invalid)))
		}
		return nil
	}

	if plan.Empty() && len(plan.Invalid) == 0 {
		fmt.Fprintln(out, "No staged transactions to post.")
		return nil
	}
	for _, v := range plan.Invalid {
		color.New(color.FgRed).Fprintf(out, "problem: %s\n", v.Error())
	}

	res, applyErr := posting.Apply(ctx, plan)
	if res != nil {
		printResult(out, res)
		if err := recordPost(p, runID, res); err != nil {
			log.Warn().Err(err).Msg("writing run log")
		}
		if res.Posted > 0 || len(res.IncludesAdded) > 0 {
			commitPost(cmd, p, res)
		}
	}
	if applyErr != nil {
		return postErr(applyErr)
	}
	return nil
}

func postErr(err error) error {
	return &pipeline.StageError{Stage: pipeline.StagePost, Err: err}
}

func printPlan(out io.Writer, plan *posting.Plan) {
	for _, v := range plan.Invalid {
		color.New(color.FgRed).Fprintf(out, "problem: %s\n", v.Error())
	}
	if plan.Empty() {
		fmt.Fprintln(out, "No staged transactions to post.")
		return
	}
	fmt.Fprintln(out, "Dry run. Would:")
	for _, c := range plan.Changes() {
		fmt.Fprintf(out, "  %s\n", c)
	}
	fmt.Fprintf(out, "%d to post, %d to skip\n", plan.Posted(), plan.SkippedCount())
}

func printResult(out io.Writer, res *posting.Result) {
	if res.Recovered {
		color.New(color.FgYellow).Fprintln(out, "Completed an interrupted post.")
	}
	for _, f := range res.Files {
		fmt.Fprintf(out, "  wrote %s\n", f)
	}
	for _, inc := range res.IncludesAdded {
		fmt.Fprintf(out, "  include %s\n", inc)
	}
	color.New(color.FgGreen).Fprintf(out, "Posted %d transactions", res.Posted)
	if res.Skipped > 0 {
		fmt.Fprintf(out, ", skipped %d already posted", res.Skipped)
	}
	fmt.Fprintln(out)
}

func recordPost(p *project, runID string, res *posting.Result) error {
	rec := runlog.NewRecorder(runID, "post")
	for _, name := range res.Removed {
		rec.Add(runlog.ActionPost, name, 0)
	}
	if res.Posted > 0 || res.Skipped > 0 {
		rec.Add(runlog.ActionPost, "total", res.Posted)
	}
	if res.Skipped > 0 {
		rec.Add(runlog.ActionDedup, "already posted", res.Skipped)
	}
	return rec.Flush(p.layout.LogsDir())
}

// commitPost commits the journal tree when auto_commit is on. Failures are
// logged: the post itself already succeeded.
func commitPost(cmd *cobra.Command, p *project, res *posting.Result) {
	if !p.cfg.Git.AutoCommit {
		return
	}
	log := logger.FromContext(cmd.Context())
	if !gitops.Available() || !gitops.IsRepo(p.layout.Root) {
		log.Warn().Msg("git.auto_commit is set but the project is not a git repository")
		return
	}
	msg := fmt.Sprintf("post: %d transactions", res.Posted)
	hash, err := gitops.CommitPaths(cmd.Context(), p.layout.Root, msg, p.author(), "journal", "logs")
	if err != nil {
		log.Warn().Err(err).Msg("committing posted journal")
		return
	}
	if hash != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Committed %s\n", hash)
	}
}
