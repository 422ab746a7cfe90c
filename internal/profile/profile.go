// Package profile loads institution profiles: the declarative description of
// one bank's CSV export format.
package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a named profile has no file.
var ErrNotFound = errors.New("profile not found")

const fileExt = ".yaml"

// Profile describes one institution's export format. It is immutable after
// Load.
type Profile struct {
	Institution    string     `yaml:"institution"`
	Name           string     `yaml:"name"`
	CSV            CSVOptions `yaml:"csv"`
	Columns        Columns    `yaml:"columns"`
	DateFormat     string     `yaml:"date_format"`
	AmountInvert   bool       `yaml:"amount_invert"`
	DefaultAccount string     `yaml:"default_account"`

	layout   string
	encoding encoding.Encoding
}

// CSVOptions describes the file's physical format.
type CSVOptions struct {
	Encoding  string `yaml:"encoding"`
	Delimiter string `yaml:"delimiter"`
	SkipRows  int    `yaml:"skip_rows"`
	Header    *bool  `yaml:"has_header"`
}

// Columns maps canonical fields to column headers. When the export has no
// header row, values are zero-based column indexes.
type Columns struct {
	Date        string `yaml:"date"`
	Description string `yaml:"description"`
	Amount      string `yaml:"amount"`
	Memo        string `yaml:"memo,omitempty"`
	Reference   string `yaml:"reference,omitempty"`
}

// encodingAliases covers spellings common in Python-era profiles that the
// WHATWG index does not list.
var encodingAliases = map[string]string{
	"utf-8-sig": "utf-8",
	"utf8-sig":  "utf-8",
	"latin-1":   "iso-8859-1",
	"latin_1":   "iso-8859-1",
}

// Load reads and validates a profile file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	return Parse(data, path)
}

// LoadNamed loads <dir>/<name>.yaml.
func LoadNamed(dir, name string) (*Profile, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid profile name %q", name)
	}
	return Load(filepath.Join(dir, name+fileExt))
}

// Parse decodes and validates profile YAML. source names the origin in errors.
func Parse(data []byte, source string) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", source, err)
	}
	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", source, err)
	}
	return &p, nil
}

// List returns the profile names available in dir, sorted.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading profiles dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(names)
	return names, nil
}

func (p *Profile) applyDefaults() {
	if p.CSV.Encoding == "" {
		p.CSV.Encoding = "utf-8"
	}
	if p.CSV.Delimiter == "" {
		p.CSV.Delimiter = ","
	}
	if p.Name == "" {
		p.Name = p.Institution
	}
}

// Validate checks the profile and compiles its date layout and encoding.
func (p *Profile) Validate() error {
	if p.Institution == "" {
		return errors.New("institution is required")
	}
	if strings.ContainsAny(p.Institution, `/\ `) {
		return fmt.Errorf("institution %q must not contain slashes or spaces", p.Institution)
	}
	if p.DefaultAccount == "" {
		return errors.New("default_account is required")
	}
	if utf8.RuneCountInString(p.CSV.Delimiter) != 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", p.CSV.Delimiter)
	}
	if p.CSV.SkipRows < 0 {
		return fmt.Errorf("skip_rows must not be negative, got %d", p.CSV.SkipRows)
	}

	required := map[string]string{
		"date":        p.Columns.Date,
		"description": p.Columns.Description,
		"amount":      p.Columns.Amount,
	}
	for _, field := range []string{"date", "description", "amount"} {
		if required[field] == "" {
			return fmt.Errorf("columns.%s is required", field)
		}
	}
	if !p.HasHeader() {
		for field, ref := range p.columnRefs() {
			if ref == "" {
				continue
			}
			if n, err := strconv.Atoi(ref); err != nil || n < 0 {
				return fmt.Errorf("columns.%s must be a column index when has_header is false, got %q", field, ref)
			}
		}
	}

	if p.DateFormat == "" {
		return errors.New("date_format is required")
	}
	layout, err := TranslateDateFormat(p.DateFormat)
	if err != nil {
		return fmt.Errorf("date_format: %w", err)
	}
	p.layout = layout

	name := strings.ToLower(strings.TrimSpace(p.CSV.Encoding))
	if alias, ok := encodingAliases[name]; ok {
		name = alias
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return fmt.Errorf("unknown encoding %q: %w", p.CSV.Encoding, err)
	}
	p.encoding = enc
	return nil
}

func (p *Profile) columnRefs() map[string]string {
	return map[string]string{
		"date":        p.Columns.Date,
		"description": p.Columns.Description,
		"amount":      p.Columns.Amount,
		"memo":        p.Columns.Memo,
		"reference":   p.Columns.Reference,
	}
}

// HasHeader reports whether the first (non-skipped) row names the columns.
// Defaults to true.
func (p *Profile) HasHeader() bool {
	return p.CSV.Header == nil || *p.CSV.Header
}

// Delimiter returns the field separator rune.
func (p *Profile) Delimiter() rune {
	r, _ := utf8.DecodeRuneInString(p.CSV.Delimiter)
	return r
}

// Layout returns the Go time layout for date_format.
func (p *Profile) Layout() string {
	return p.layout
}

// Encoding returns the text encoding of the export.
func (p *Profile) Encoding() encoding.Encoding {
	return p.encoding
}
