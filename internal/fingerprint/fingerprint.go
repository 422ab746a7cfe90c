// Package fingerprint computes the stable identity used to deduplicate
// transactions across imports.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/finledger-dev/finledger/internal/model"
)

const fieldSep = '|'

// Compute returns the fingerprint of tx. It depends only on account, date,
// amount, payee and source id, so reimporting the same export (or an
// overlapping one) yields the same identities.
func Compute(tx model.CanonicalTransaction) model.Fingerprint {
	fields := []string{
		tx.Account,
		tx.Date.Format(model.DateFormat),
		tx.Amount.StringFixed(model.AmountPlaces),
		NormalizePayee(tx.Payee),
		tx.SourceID,
	}

	h := sha256.New()
	var buf []byte
	for i, f := range fields {
		buf = buf[:0]
		if i > 0 {
			buf = append(buf, fieldSep)
		}
		buf = strconv.AppendInt(buf, int64(len(f)), 10)
		buf = append(buf, ':')
		buf = append(buf, f...)
		h.Write(buf)
	}
	return model.Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// NormalizePayee case-folds, trims and collapses whitespace. It also drops
// punctuation and symbols, so "TRADER JOE'S" and "Trader Joes" hash alike.
// Letters and digits are never removed: store numbers are kept, and
// "SHELL #1" and "SHELL #2" stay distinct.
func NormalizePayee(payee string) string {
	folded := cases.Fold().String(payee)
	kept := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, folded)
	return strings.Join(strings.Fields(kept), " ")
}

// Valid reports whether s looks like a fingerprint: 64 lowercase hex digits.
func Valid(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
