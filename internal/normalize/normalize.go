// Package normalize turns raw bank exports into canonical transactions
// according to an institution profile.
package normalize

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/transform"

	"github.com/finledger-dev/finledger/internal/model"
	"github.com/finledger-dev/finledger/internal/profile"
)

// maxSamples caps the row errors kept in a Report.
const maxSamples = 20

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// RowError describes a skipped row. It is recoverable: the run continues.
type RowError struct {
	Line   int
	Reason string
	Record []string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Result is one row of output: either Txn is valid or Err is set. A non-nil
// Err that is not a *RowError is fatal and ends the sequence.
type Result struct {
	Line int
	Txn  model.CanonicalTransaction
	Err  error
}

// Report summarizes a normalization pass.
type Report struct {
	Rows    int
	Parsed  int
	Skipped int
	Errors  []RowError // first maxSamples skipped rows
}

func (r *Report) add(res Result) {
	r.Rows++
	var rowErr *RowError
	if errors.As(res.Err, &rowErr) {
		r.Skipped++
		if len(r.Errors) < maxSamples {
			r.Errors = append(r.Errors, *rowErr)
		}
		return
	}
	r.Parsed++
}

// Normalizer parses exports for one profile. It holds no per-file state.
type Normalizer struct {
	profile *profile.Profile
}

// New creates a Normalizer for p.
func New(p *profile.Profile) *Normalizer {
	return &Normalizer{profile: p}
}

// Normalize parses all of data, skipping and reporting bad rows.
func (n *Normalizer) Normalize(data []byte) ([]model.CanonicalTransaction, Report, error) {
	var txns []model.CanonicalTransaction
	var report Report
	for res := range n.Rows(data) {
		var rowErr *RowError
		if res.Err != nil && !errors.As(res.Err, &rowErr) {
			return nil, report, res.Err
		}
		report.add(res)
		if res.Err == nil {
			txns = append(txns, res.Txn)
		}
	}
	return txns, report, nil
}

// Rows returns a lazy sequence over the rows of data in source order. The
// sequence is restartable: each range starts again from the first byte.
func (n *Normalizer) Rows(data []byte) iter.Seq[Result] {
	return func(yield func(Result) bool) {
		decoded := transform.NewReader(bytes.NewReader(data), n.profile.Encoding().NewDecoder())
		br := bufio.NewReader(decoded)
		if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
			_, _ = br.Discard(len(utf8BOM))
		}

		skip := n.profile.CSV.SkipRows
		for i := 0; i < skip; i++ {
			if _, err := br.ReadString('\n'); err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				yield(Result{Err: fmt.Errorf("skipping preamble: %w", err)})
				return
			}
		}

		cr := csv.NewReader(br)
		cr.Comma = n.profile.Delimiter()
		cr.FieldsPerRecord = -1
		cr.LazyQuotes = true

		cols, err := n.resolveColumns(cr)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			yield(Result{Err: err})
			return
		}

		for {
			rec, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}

			var res Result
			var parseErr *csv.ParseError
			switch {
			case errors.As(err, &parseErr):
				line := parseErr.Line + skip
				res = Result{Line: line, Err: &RowError{Line: line, Reason: parseErr.Err.Error()}}
			case err != nil:
				yield(Result{Err: fmt.Errorf("reading export: %w", err)})
				return
			default:
				line, _ := cr.FieldPos(0)
				res = n.parseRow(line+skip, rec, cols)
			}
			if !yield(res) {
				return
			}
		}
	}
}

// columns holds resolved record indexes; -1 means absent.
type columns struct {
	date, description, amount, memo, reference int
}

func (n *Normalizer) resolveColumns(cr *csv.Reader) (columns, error) {
	cs := n.profile.Columns
	refs := []string{cs.Date, cs.Description, cs.Amount, cs.Memo, cs.Reference}
	idx := make([]int, len(refs))

	if !n.profile.HasHeader() {
		for i, ref := range refs {
			idx[i] = -1
			if ref == "" {
				continue
			}
			v, err := strconv.Atoi(ref)
			if err != nil {
				return columns{}, fmt.Errorf("column ref %q is not an index: %w", ref, err)
			}
			idx[i] = v
		}
	} else {
		header, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return columns{}, err
			}
			return columns{}, fmt.Errorf("reading header: %w", err)
		}
		pos := make(map[string]int, len(header))
		for i, h := range header {
			h = strings.TrimSpace(h)
			if _, dup := pos[h]; !dup {
				pos[h] = i
			}
		}
		for i, ref := range refs {
			idx[i] = -1
			if ref == "" {
				continue
			}
			if p, ok := pos[ref]; ok {
				idx[i] = p
			}
		}
	}

	return columns{
		date:        idx[0],
		description: idx[1],
		amount:      idx[2],
		memo:        idx[3],
		reference:   idx[4],
	}, nil
}

func (n *Normalizer) parseRow(line int, rec []string, cols columns) Result {
	skip := func(format string, args ...any) Result {
		return Result{Line: line, Err: &RowError{Line: line, Reason: fmt.Sprintf(format, args...), Record: rec}}
	}

	rawDate, ok := field(rec, cols.date)
	if !ok {
		return skip("missing date column %q", n.profile.Columns.Date)
	}
	rawDesc, ok := field(rec, cols.description)
	if !ok {
		return skip("missing description column %q", n.profile.Columns.Description)
	}
	rawAmount, ok := field(rec, cols.amount)
	if !ok {
		return skip("missing amount column %q", n.profile.Columns.Amount)
	}

	date, err := time.Parse(n.profile.Layout(), rawDate)
	if err != nil {
		return skip("parsing date %q: %v", rawDate, err)
	}

	amount, err := ParseAmount(rawAmount)
	if err != nil {
		return skip("parsing amount %q: %v", rawAmount, err)
	}
	if n.profile.AmountInvert {
		amount = amount.Neg()
	}

	memo, _ := field(rec, cols.memo)
	ref, _ := field(rec, cols.reference)

	return Result{
		Line: line,
		Txn: model.CanonicalTransaction{
			Date:        date,
			Amount:      amount,
			Payee:       rawDesc,
			Memo:        memo,
			Account:     n.profile.DefaultAccount,
			SourceID:    ref,
			Institution: n.profile.Institution,
		},
	}
}

// field returns the trimmed value at i; ok is false when the column is
// absent or the value is empty.
func field(rec []string, i int) (string, bool) {
	if i < 0 || i >= len(rec) {
		return "", false
	}
	v := strings.TrimSpace(rec[i])
	return v, v != ""
}

// ParseAmount parses a bank amount: currency symbols and thousands commas
// are ignored, and "(12.00)" is negative. More than two fractional digits
// is an error rather than a silent rounding.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer(",", "", "$", "", " ", "").Replace(s)
	if s == "" {
		return decimal.Zero, errors.New("empty amount")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.Equal(d.Round(model.AmountPlaces)) {
		return decimal.Zero, fmt.Errorf("more than %d decimal places", model.AmountPlaces)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}
