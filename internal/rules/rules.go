// Package rules classifies transactions by payee and account using
// declarative first-match rules loaded from YAML.
package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/finledger-dev/finledger/internal/fsutil"
)

const (
	// PayeesFile holds payee normalization rules.
	PayeesFile = "payees.yaml"
	// AccountsFile holds account classification rules.
	AccountsFile = "accounts.yaml"

	// DefaultUncategorized is the fallback account when no rule matches.
	DefaultUncategorized = "Expenses:Uncategorized"
)

// PayeeRule maps payees matching Pattern to the canonical Name.
type PayeeRule struct {
	Pattern    string `yaml:"pattern"`
	Name       string `yaml:"name"`
	IgnoreCase bool   `yaml:"ignore_case,omitempty"`

	re *regexp.Regexp
}

// AccountRule maps a canonical payee to an Account. Exactly one of Payee (an
// exact match) or Pattern (a regexp) is set.
type AccountRule struct {
	Payee      string `yaml:"payee,omitempty"`
	Pattern    string `yaml:"pattern,omitempty"`
	Account    string `yaml:"account"`
	IgnoreCase bool   `yaml:"ignore_case,omitempty"`

	re *regexp.Regexp
}

type payeesFile struct {
	Rules []PayeeRule `yaml:"rules"`
}

type accountsFile struct {
	Uncategorized string        `yaml:"uncategorized,omitempty"`
	Rules         []AccountRule `yaml:"rules"`
}

// Classification is the outcome of applying the rules to one raw payee.
type Classification struct {
	Payee   string
	Account string
	// Fallback is true when no account rule matched.
	Fallback bool
}

// Engine holds ordered rule lists. Rule order is significant: the first
// matching rule wins.
type Engine struct {
	dir           string
	payees        []PayeeRule
	accounts      []AccountRule
	uncategorized string
	// override is the fallback set by accounts.yaml itself, if any.
	override      string
}

// New creates an empty engine that saves to dir.
func New(dir, uncategorized string) *Engine {
	if uncategorized == "" {
		uncategorized = DefaultUncategorized
	}
	return &Engine{dir: dir, uncategorized: uncategorized}
}

// Load reads payees.yaml and accounts.yaml from dir. A missing file means no
// rules of that kind. uncategorized is used unless accounts.yaml overrides it.
func Load(dir, uncategorized string) (*Engine, error) {
	e := New(dir, uncategorized)

	var pf payeesFile
	if err := readYAML(filepath.Join(dir, PayeesFile), &pf); err != nil {
		return nil, err
	}
	for i := range pf.Rules {
		if err := pf.Rules[i].compile(); err != nil {
			return nil, fmt.Errorf("%s rule %d: %w", PayeesFile, i+1, err)
		}
	}
	e.payees = pf.Rules

	var af accountsFile
	if err := readYAML(filepath.Join(dir, AccountsFile), &af); err != nil {
		return nil, err
	}
	for i := range af.Rules {
		if err := af.Rules[i].compile(); err != nil {
			return nil, fmt.Errorf("%s rule %d: %w", AccountsFile, i+1, err)
		}
	}
	e.accounts = af.Rules
	if af.Uncategorized != "" {
		e.uncategorized = af.Uncategorized
		e.override = af.Uncategorized
	}

	return e, nil
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func compilePattern(pattern string, ignoreCase bool) (*regexp.Regexp, error) {
	if ignoreCase {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return re, nil
}

func (r *PayeeRule) compile() error {
	if r.Pattern == "" {
		return errors.New("pattern is required")
	}
	if r.Name == "" {
		return errors.New("name is required")
	}
	re, err := compilePattern(r.Pattern, r.IgnoreCase)
	if err != nil {
		return err
	}
	r.re = re
	return nil
}

func (r *AccountRule) compile() error {
	if r.Account == "" {
		return errors.New("account is required")
	}
	switch {
	case r.Payee != "" && r.Pattern != "":
		return errors.New("payee and pattern are mutually exclusive")
	case r.Payee == "" && r.Pattern == "":
		return errors.New("payee or pattern is required")
	case r.Pattern != "":
		re, err := compilePattern(r.Pattern, r.IgnoreCase)
		if err != nil {
			return err
		}
		r.re = re
	}
	return nil
}

func (r *AccountRule) matches(name string) bool {
	if r.re != nil {
		return r.re.MatchString(name)
	}
	if r.IgnoreCase {
		return strings.EqualFold(r.Payee, name)
	}
	return r.Payee == name
}

// NormalizePayee returns the Name of the first payee rule matching raw. With
// no match it returns raw trimmed with internal whitespace collapsed.
func (e *Engine) NormalizePayee(raw string) string {
	for _, r := range e.payees {
		if r.re.MatchString(raw) {
			return r.Name
		}
	}
	return strings.Join(strings.Fields(raw), " ")
}

// ClassifyAccount returns the account of the first account rule matching the
// canonical payee name, or the uncategorized account.
func (e *Engine) ClassifyAccount(name string) (account string, fallback bool) {
	for i := range e.accounts {
		if e.accounts[i].matches(name) {
			return e.accounts[i].Account, false
		}
	}
	return e.uncategorized, true
}

// Apply normalizes the payee and classifies its account.
func (e *Engine) Apply(raw string) Classification {
	payee := e.NormalizePayee(raw)
	account, fallback := e.ClassifyAccount(payee)
	return Classification{Payee: payee, Account: account, Fallback: fallback}
}

// Uncategorized returns the fallback account.
func (e *Engine) Uncategorized() string {
	return e.uncategorized
}

// PayeeRules returns a copy of the payee rules in match order.
func (e *Engine) PayeeRules() []PayeeRule {
	return append([]PayeeRule(nil), e.payees...)
}

// AccountRules returns a copy of the account rules in match order.
func (e *Engine) AccountRules() []AccountRule {
	return append([]AccountRule(nil), e.accounts...)
}

// AddPayeeRule appends a payee rule. It only takes effect ahead of rules
// added later.
func (e *Engine) AddPayeeRule(r PayeeRule) error {
	if err := r.compile(); err != nil {
		return err
	}
	e.payees = append(e.payees, r)
	return nil
}

// AddAccountRule appends an account rule.
func (e *Engine) AddAccountRule(r AccountRule) error {
	if err := r.compile(); err != nil {
		return err
	}
	e.accounts = append(e.accounts, r)
	return nil
}

// Save writes both rule files to the engine's directory. The fallback
// account is written only when accounts.yaml already set it.
func (e *Engine) Save() error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("creating rules dir: %w", err)
	}
	if err := writeYAML(filepath.Join(e.dir, PayeesFile), payeesFile{Rules: e.payees}); err != nil {
		return err
	}
	af := accountsFile{Uncategorized: e.override, Rules: e.accounts}
	return writeYAML(filepath.Join(e.dir, AccountsFile), af)
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	return fsutil.WriteFileAtomic(path, data)
}
