package journal

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/finledger-dev/finledger/internal/fingerprint"
	"github.com/finledger-dev/finledger/internal/model"
)

// ValidationError describes one malformed block.
type ValidationError struct {
	File        string
	Line        int
	Description string
}

func (e ValidationError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Description)
	}
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Description)
}

// Validate checks each block: the header parses, a fingerprint is present,
// there are at least two postings with at most one elided amount, amounts
// have at most two decimal places, and the postings sum to zero. With an
// elided posting the block balances by construction.
func Validate(file string, blocks []Block) []ValidationError {
	var errs []ValidationError
	add := func(b Block, format string, args ...any) {
		errs = append(errs, ValidationError{File: file, Line: b.Line, Description: fmt.Sprintf(format, args...)})
	}

	for _, b := range blocks {
		for _, p := range b.problems {
			add(b, "%s", p)
		}
		if b.Payee == "" {
			add(b, "missing payee")
		}
		if b.Fingerprint == "" {
			add(b, "missing fingerprint")
		} else if !fingerprint.Valid(string(b.Fingerprint)) {
			add(b, "malformed fingerprint %q", b.Fingerprint)
		}
		if len(b.Postings) < 2 {
			add(b, "expected at least 2 postings, got %d", len(b.Postings))
			continue
		}

		elided := 0
		sum := decimal.Zero
		for _, p := range b.Postings {
			if p.Account == "" {
				add(b, "posting without account")
			}
			if p.Elided {
				elided++
				continue
			}
			if !p.Amount.Equal(p.Amount.Round(model.AmountPlaces)) {
				add(b, "amount %s on %s has more than %d decimal places", p.Amount, p.Account, model.AmountPlaces)
			}
			sum = sum.Add(p.Amount)
		}
		switch {
		case elided > 1:
			add(b, "%d postings without amounts; at most 1 allowed", elided)
		case elided == 0 && !sum.IsZero():
			add(b, "postings sum to %s, expected 0", sum.StringFixed(model.AmountPlaces))
		}
	}
	return errs
}

// ValidateFile parses and validates the file at path.
func ValidateFile(path string) ([]Block, []ValidationError, error) {
	blocks, err := ParseFile(path)
	if err != nil {
		return nil, nil, err
	}
	return blocks, Validate(path, blocks), nil
}
