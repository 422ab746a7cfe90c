package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/finledger-dev/finledger/internal/logger"
	"github.com/finledger-dev/finledger/internal/rules"
	"github.com/finledger-dev/finledger/internal/runlog"
)

func newRulesCommand(opts *globalOptions) *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage payee and account rules",
	}
	rulesCmd.AddCommand(newRulesAddPayeeCommand(opts))
	rulesCmd.AddCommand(newRulesAddAccountCommand(opts))
	rulesCmd.AddCommand(newRulesTestCommand(opts))
	rulesCmd.AddCommand(newRulesListCommand(opts))
	return rulesCmd
}

func newRulesAddPayeeCommand(opts *globalOptions) *cobra.Command {
	var ignoreCase bool

	cmd := &cobra.Command{
		Use:   "add-payee <pattern> <name>",
		Short: "Map payees matching a regular expression to a canonical name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editRules(cmd, opts, func(e *rules.Engine) (string, error) {
				r := rules.PayeeRule{Pattern: args[0], Name: args[1], IgnoreCase: ignoreCase}
				if err := e.AddPayeeRule(r); err != nil {
					return "", err
				}
				return fmt.Sprintf("payee %q -> %s", r.Pattern, r.Name), nil
			})
		},
	}

	cmd.Flags().BoolVarP(&ignoreCase, "ignore-case", "i", false, "match case-insensitively")

	return cmd
}

func newRulesAddAccountCommand(opts *globalOptions) *cobra.Command {
	var regex bool
	var ignoreCase bool

	cmd := &cobra.Command{
		Use:   "add-account <payee> <account>",
		Short: "Classify a canonical payee into an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editRules(cmd, opts, func(e *rules.Engine) (string, error) {
				r := rules.AccountRule{Account: args[1], IgnoreCase: ignoreCase}
				if regex {
					r.Pattern = args[0]
				} else {
					r.Payee = args[0]
				}
				if err := e.AddAccountRule(r); err != nil {
					return "", err
				}
				return fmt.Sprintf("account %q -> %s", args[0], r.Account), nil
			})
		},
	}

	cmd.Flags().BoolVar(&regex, "regex", false, "treat <payee> as a regular expression")
	cmd.Flags().BoolVarP(&ignoreCase, "ignore-case", "i", false, "match case-insensitively")

	return cmd
}

// editRules loads the rules, applies edit, saves them and records the change
// in the run log.
func editRules(cmd *cobra.Command, opts *globalOptions, edit func(*rules.Engine) (string, error)) error {
	p, err := openProject(cmd, opts)
	if err != nil {
		return err
	}
	e, err := p.loadRules()
	if err != nil {
		return err
	}
	desc, err := edit(e)
	if err != nil {
		return err
	}
	if err := e.Save(); err != nil {
		return err
	}

	rec := runlog.NewRecorder(uuid.NewString(), "rules")
	rec.Add(runlog.ActionRules, desc, 1)
	if err := rec.Flush(p.layout.LogsDir()); err != nil {
		log := logger.FromContext(cmd.Context())
		log.Warn().Err(err).Msg("writing run log")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", desc)
	return nil
}

func newRulesTestCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test <payee>",
		Short: "Show how a raw payee would be classified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(cmd, opts)
			if err != nil {
				return err
			}
			e, err := p.loadRules()
			if err != nil {
				return err
			}
			c := e.Apply(args[0])
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "payee:   %s\n", c.Payee)
			fmt.Fprintf(out, "account: %s", c.Account)
			if c.Fallback {
				fmt.Fprint(out, " (no rule matched)")
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}

func newRulesListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rules in match order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(cmd, opts)
			if err != nil {
				return err
			}
			e, err := p.loadRules()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Payee rules:")
			for i, r := range e.PayeeRules() {
				fmt.Fprintf(out, "  %d. /%s/ -> %s\n", i+1, r.Pattern, r.Name)
			}
			fmt.Fprintln(out, "Account rules:")
			for i, r := range e.AccountRules() {
				match := fmt.Sprintf("%q", r.Payee)
				if r.Pattern != "" {
					match = "/" + r.Pattern + "/"
				}
				fmt.Fprintf(out, "  %d. %s -> %s\n", i+1, match, r.Account)
			}
			fmt.Fprintf(out, "Uncategorized: %s\n", e.Uncategorized())
			return nil
		},
	}
}
