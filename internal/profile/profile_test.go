package profile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const citiYAML = `institution: citi
name: Citi Double Cash
csv:
  encoding: utf-8
  delimiter: ","
columns:
  date: Date
  description: Description
  amount: Amount
  reference: Reference
date_format: "%m/%d/%Y"
amount_invert: false
default_account: Liabilities:CreditCard:Citi
`

func writeProfile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p, err := Load(writeProfile(t, dir, "citi", citiYAML))
	require.NoError(t, err)

	assert.Equal(t, "citi", p.Institution)
	assert.Equal(t, "Citi Double Cash", p.Name)
	assert.Equal(t, ',', p.Delimiter())
	assert.True(t, p.HasHeader())
	assert.False(t, p.AmountInvert)
	assert.Equal(t, "Liabilities:CreditCard:Citi", p.DefaultAccount)
	assert.Equal(t, "1/2/2006", p.Layout())
	assert.NotNil(t, p.Encoding())
	assert.Equal(t, "Reference", p.Columns.Reference)
}

func TestLoadNamed(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "citi", citiYAML)

	p, err := LoadNamed(dir, "citi")
	require.NoError(t, err)
	assert.Equal(t, "citi", p.Institution)

	_, err = LoadNamed(dir, "amex")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = LoadNamed(dir, "../citi")
	assert.Error(t, err)
}

func TestParse_Defaults(t *testing.T) {
	p, err := Parse([]byte(`institution: chase
columns: {date: Posting Date, description: Description, amount: Amount}
date_format: "2006-01-02"
default_account: Assets:Checking:Chase
`), "inline")
	require.NoError(t, err)
	assert.Equal(t, "chase", p.Name)
	assert.Equal(t, ',', p.Delimiter())
	assert.Equal(t, "2006-01-02", p.Layout())
	assert.Equal(t, "utf-8", p.CSV.Encoding)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no institution", "columns: {date: D, description: X, amount: A}\ndate_format: \"%Y\"\ndefault_account: A", "institution"},
		{"no default account", "institution: x\ncolumns: {date: D, description: X, amount: A}\ndate_format: \"%Y\"", "default_account"},
		{"no amount column", "institution: x\ncolumns: {date: D, description: X}\ndate_format: \"%Y\"\ndefault_account: A", "columns.amount"},
		{"bad delimiter", "institution: x\ncsv: {delimiter: \";;\"}\ncolumns: {date: D, description: X, amount: A}\ndate_format: \"%Y\"\ndefault_account: A", "delimiter"},
		{"bad directive", "institution: x\ncolumns: {date: D, description: X, amount: A}\ndate_format: \"%Q\"\ndefault_account: A", "unsupported directive"},
		{"bad encoding", "institution: x\ncsv: {encoding: klingon}\ncolumns: {date: D, description: X, amount: A}\ndate_format: \"%Y\"\ndefault_account: A", "unknown encoding"},
		{"headerless names", "institution: x\ncsv: {has_header: false}\ncolumns: {date: Date, description: X, amount: A}\ndate_format: \"%Y\"\ndefault_account: A", "column index"},
		{"bad yaml", "institution: [", "parsing profile"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "inline")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_HeaderlessIndexes(t *testing.T) {
	p, err := Parse([]byte(`institution: wf
csv: {has_header: false, encoding: latin-1}
columns: {date: "0", amount: "1", description: "4"}
date_format: "%m/%d/%Y"
default_account: Assets:Checking:WellsFargo
`), "inline")
	require.NoError(t, err)
	assert.False(t, p.HasHeader())
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "citi", citiYAML)
	writeProfile(t, dir, "amex", citiYAML)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))

	names, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"amex", "citi"}, names)

	names, err = List(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Nil(t, names)
}

func TestTranslateDateFormat(t *testing.T) {
	tests := []struct {
		format string
		input  string
		want   time.Time
	}{
		{"%m/%d/%Y", "02/15/2026", time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)},
		{"%m/%d/%Y", "2/5/2026", time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)},
		{"%Y-%m-%d", "2026-02-15", time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)},
		{"%d.%m.%y", "15.02.26", time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)},
		{"%d %b %Y", "15 Feb 2026", time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)},
		{"01/02/2006", "02/15/2026", time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		layout, err := TranslateDateFormat(tt.format)
		require.NoError(t, err, "format %s", tt.format)
		got, err := time.Parse(layout, tt.input)
		require.NoError(t, err, "format %s input %s", tt.format, tt.input)
		assert.True(t, tt.want.Equal(got), "format %s: got %s", tt.format, got)
	}
}

func TestTranslateDateFormat_Errors(t *testing.T) {
	_, err := TranslateDateFormat("%Y-%")
	assert.Error(t, err)
	_, err = TranslateDateFormat("%Y-%q")
	assert.Error(t, err)
}
