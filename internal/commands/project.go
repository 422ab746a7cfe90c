package commands

import (
	"github.com/spf13/cobra"

	"github.com/finledger-dev/finledger/internal/config"
	"github.com/finledger-dev/finledger/internal/dedup"
	"github.com/finledger-dev/finledger/internal/gitops"
	"github.com/finledger-dev/finledger/internal/rules"
)

// project is an initialized finledger tree with its loaded config.
type project struct {
	layout config.Layout
	cfg    *config.Config
}

// openProject resolves the root and loads its config. Without --log-level,
// the logger is rebuilt at the configured level.
func openProject(cmd *cobra.Command, opts *globalOptions) (*project, error) {
	root, err := config.ResolveRoot(opts.root)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadProject(root)
	if err != nil {
		return nil, err
	}
	if opts.logLevel == "" {
		if err := setLogger(cmd, cfg.Log.Level, opts.logFormat); err != nil {
			return nil, err
		}
	}
	return &project{layout: config.NewLayout(root), cfg: cfg}, nil
}

func (p *project) openStore() (dedup.Store, error) {
	return dedup.Open(p.cfg.Dedup.Backend, p.layout.DedupPath(p.cfg.Dedup.Backend))
}

func (p *project) loadRules() (*rules.Engine, error) {
	return rules.Load(p.layout.RulesDir(), p.cfg.Ledger.UncategorizedAccount)
}

func (p *project) author() gitops.Author {
	return gitops.Author{Name: p.cfg.Git.AuthorName, Email: p.cfg.Git.AuthorEmail}
}
