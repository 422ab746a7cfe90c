package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/finledger-dev/finledger/internal/dedup"
	"github.com/finledger-dev/finledger/internal/normalize"
	"github.com/finledger-dev/finledger/internal/pipeline"
	"github.com/finledger-dev/finledger/internal/profile"
	"github.com/finledger-dev/finledger/internal/rules"
)

func newIngestCommand(opts *globalOptions) *cobra.Command {
	var profileName string
	var file string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Import a bank export into the staging journal",
		Long: "Import a bank CSV export into journal/staging/. Without --file, every\n" +
			".csv in import/inbox/ is ingested with the profile and moved to\n" +
			"import/processed/.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(cmd, opts)
			if err != nil {
				return err
			}
			return runIngest(cmd, p, profileName, file)
		},
	}

	cmd.Flags().StringVarP(&profileName, "profile", "p", "", "institution profile name (required)")
	_ = cmd.MarkFlagRequired("profile")
	cmd.Flags().StringVarP(&file, "file", "f", "", "export to import (default: scan import/inbox)")

	return cmd
}

type ingester struct {
	project *project
	profile *profile.Profile
	rules   *rules.Engine
	store   dedup.Store
	out     io.Writer
}

func runIngest(cmd *cobra.Command, p *project, profileName, file string) error {
	// Configuration errors surface before anything is written.
	prof, err := profile.LoadNamed(p.layout.ProfilesDir(), profileName)
	if err != nil {
		return err
	}
	engine, err := p.loadRules()
	if err != nil {
		return err
	}

	var files []string
	if file != "" {
		files = []string{file}
	} else {
		inbox, err := normalize.Scan(p.layout.InboxDir())
		if err != nil {
			return err
		}
		if len(inbox) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No exports in import/inbox.")
			return nil
		}
		for _, fi := range inbox {
			files = append(files, fi.Path)
		}
	}

	store, err := p.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	in := &ingester{project: p, profile: prof, rules: engine, store: store, out: cmd.OutOrStdout()}
	for _, f := range files {
		if err := in.ingestFile(cmd, f); err != nil {
			return err
		}
		if file != "" {
			continue
		}
		dest, err := normalize.MarkProcessed(f, p.layout.ProcessedDir(), time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(in.out, "  Moved to %s\n", in.rel(dest))
	}

	fmt.Fprintln(in.out, "Done. Run 'finledger review' to review staged transactions.")
	return nil
}

func (in *ingester) ingestFile(cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading export: %w", err)
	}
	fmt.Fprintf(in.out, "Importing %s with profile '%s'...\n", filepath.Base(path), in.profile.Institution)

	report, err := pipeline.Ingest(cmd.Context(), pipeline.Options{
		Layout:    in.project.layout,
		Profile:   in.profile,
		Rules:     in.rules,
		Store:     in.store,
		Commodity: in.project.cfg.Ledger.Commodity,
		File:      path,
		Data:      data,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(in.out, "  Archived to %s\n", in.rel(report.Archive))
	fmt.Fprintf(in.out, "  Parsed %d transactions", report.Parsed)
	if report.Skipped > 0 {
		fmt.Fprintf(in.out, " (%d rows skipped)", report.Skipped)
	}
	fmt.Fprintln(in.out)
	for _, re := range report.RowErrors {
		fmt.Fprintf(in.out, "    %s\n", re.Error())
	}

	if report.Staged == 0 {
		fmt.Fprintln(in.out, "  No new transactions (all duplicates)")
		return nil
	}
	fmt.Fprintf(in.out, "  Wrote %d new transactions to staging/", report.Staged)
	if report.Duplicates > 0 {
		fmt.Fprintf(in.out, ", %d duplicates skipped", report.Duplicates)
	}
	fmt.Fprintln(in.out)
	for _, f := range report.StagedFiles {
		fmt.Fprintf(in.out, "    %s\n", f)
	}
	if report.Uncategorized > 0 {
		fmt.Fprintf(in.out, "  %d uncategorized\n", report.Uncategorized)
	}
	return nil
}

func (in *ingester) rel(path string) string {
	if r, err := filepath.Rel(in.project.layout.Root, path); err == nil {
		return r
	}
	return path
}
