package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/finledger-dev/finledger/internal/buildinfo"
	"github.com/finledger-dev/finledger/internal/config"
	"github.com/finledger-dev/finledger/internal/logger"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	root      string
	logLevel  string
	logFormat string
}

// NewRootCommand creates the root cobra command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:     "finledger",
		Short:   "Bank export ingestion into a plain-text ledger",
		Version: buildinfo.String(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := opts.logLevel
			if level == "" {
				level = os.Getenv(config.EnvLogLevel)
			}
			return setLogger(cmd, level, opts.logFormat)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.root, "root", "", "project root (default $"+config.EnvRoot+" or the current directory)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "console", "log format: console or json")

	rootCmd.AddCommand(newInitCommand(opts))
	rootCmd.AddCommand(newIngestCommand(opts))
	rootCmd.AddCommand(newReviewCommand(opts))
	rootCmd.AddCommand(newPostCommand(opts))
	rootCmd.AddCommand(newRulesCommand(opts))
	rootCmd.AddCommand(newStatsCommand(opts))

	return rootCmd
}

func setLogger(cmd *cobra.Command, level, format string) error {
	log, err := logger.New(logger.Options{Level: level, Format: format, Out: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logger.WithContext(ctx, log))
	return nil
}
