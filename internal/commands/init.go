package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/finledger-dev/finledger/internal/config"
	"github.com/finledger-dev/finledger/internal/gitops"
	"github.com/finledger-dev/finledger/internal/logger"
	"github.com/finledger-dev/finledger/internal/posting"
	"github.com/finledger-dev/finledger/internal/rules"
)

const gitignore = `.env
import/inbox/
import/state/
journal/.post.lock
.*.tmp-*
`

const sampleProfile = `# Copy to <institution>.yaml and adjust to the bank's export.
institution: mybank
name: My Bank Checking
csv:
  encoding: utf-8
  delimiter: ","
  skip_rows: 0
  has_header: true
columns:
  date: Date
  description: Description
  amount: Amount
  reference: Reference
date_format: "%m/%d/%Y"
amount_invert: false
default_account: Assets:Checking:MyBank
`

func newInitCommand(opts *globalOptions) *cobra.Command {
	var noGit bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new finledger project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.root
			if len(args) > 0 {
				dir = args[0]
			}
			if dir == "" {
				dir = "."
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			return runInit(cmd, absDir, !noGit)
		},
	}

	cmd.Flags().BoolVar(&noGit, "no-git", false, "do not create a git repository")

	return cmd
}

func runInit(cmd *cobra.Command, dir string, useGit bool) error {
	ctx := cmd.Context()
	log := logger.FromContext(ctx)
	layout := config.NewLayout(dir)

	if _, err := os.Stat(layout.ConfigFile()); err == nil {
		return fmt.Errorf("%s already exists", layout.ConfigFile())
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config: %w", err)
	}

	// Create directory structure.
	for _, d := range layout.Dirs() {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	// Write finledger.yaml.
	cfg := config.Default()
	if err := config.Save(layout.ConfigFile(), cfg); err != nil {
		return err
	}

	if err := writeIfMissing(layout.MainJournal(), posting.MasterHeader); err != nil {
		return err
	}

	// Empty rule files, so users have something to edit.
	if err := rules.New(layout.RulesDir(), cfg.Ledger.UncategorizedAccount).Save(); err != nil {
		return fmt.Errorf("writing rules: %w", err)
	}
	if err := writeIfMissing(filepath.Join(layout.ProfilesDir(), "example.yaml.sample"), sampleProfile); err != nil {
		return err
	}

	if err := writeIfMissing(filepath.Join(dir, ".gitignore"), gitignore); err != nil {
		return err
	}

	// Empty directories are not tracked by git.
	for _, d := range []string{layout.StagingDir(), layout.PostingsDir(), layout.ProcessedDir(), layout.LogsDir()} {
		if err := writeIfMissing(filepath.Join(d, ".gitkeep"), ""); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if !useGit {
		fmt.Fprintf(out, "Initialized finledger project at %s\n", dir)
		return nil
	}
	if !gitops.Available() {
		log.Warn().Msg("git not found, skipping repository setup")
		fmt.Fprintf(out, "Initialized finledger project at %s\n", dir)
		return nil
	}

	if !gitops.IsRepo(dir) {
		if err := gitops.Init(ctx, dir); err != nil {
			return fmt.Errorf("git init: %w", err)
		}
	}
	author := gitops.Author{Name: cfg.Git.AuthorName, Email: cfg.Git.AuthorEmail}
	hash, err := gitops.CommitPaths(ctx, dir, "init: finledger project", author, ".")
	if err != nil {
		return fmt.Errorf("initial commit: %w", err)
	}

	fmt.Fprintf(out, "Initialized finledger project at %s (%s)\n", dir, hash)
	return nil
}

func writeIfMissing(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
