// Package journal renders, stages, parses and validates plain-text ledger
// blocks.
package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finledger-dev/finledger/internal/model"
)

// Indent prefixes every posting line.
const Indent = "    "

// amountGap separates an account from its amount. Two or more spaces are
// required because account names may contain single spaces.
const amountGap = "    "

// Entry is one transaction to be written as a ledger block.
type Entry struct {
	Date          time.Time
	Payee         string
	Account       string          // classified account
	SourceAccount string          // institution account, elided
	Amount        decimal.Decimal // canonical amount: negative leaves the owner
	Commodity     string
	Fingerprint   model.Fingerprint
	Institution   string
}

// Render formats e as a ledger block followed by a blank line:
//
//	2026-02-15 Trader Joe's  ; fingerprint:<hex>
//	    Expenses:Groceries    $42.50
//	    Liabilities:CreditCard:Citi
//
// The classified posting carries the negated canonical amount and the source
// posting is elided, so the block always balances.
func Render(e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  ; fingerprint:%s\n", e.Date.Format(model.DateFormat), cleanPayee(e.Payee), e.Fingerprint)
	fmt.Fprintf(&b, "%s%s%s%s\n", Indent, e.Account, amountGap, FormatAmount(e.Commodity, e.Amount.Neg()))
	fmt.Fprintf(&b, "%s%s\n", Indent, e.SourceAccount)
	b.WriteString("\n")
	return b.String()
}

// FormatAmount renders d with two decimals and the commodity. Symbol
// commodities prefix the number after the sign ("-$12.00"); alphabetic ones
// follow it ("12.00 EUR").
func FormatAmount(commodity string, d decimal.Decimal) string {
	num := d.Abs().StringFixed(model.AmountPlaces)
	sign := ""
	if d.IsNegative() {
		sign = "-"
	}
	switch {
	case commodity == "":
		return sign + num
	case isAlpha(commodity):
		return sign + num + " " + commodity
	default:
		return sign + commodity + num
	}
}

func isAlpha(s string) bool {
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// cleanPayee keeps the payee on one line and out of the comment.
func cleanPayee(p string) string {
	p = strings.ReplaceAll(p, ";", ",")
	return strings.Join(strings.Fields(p), " ")
}
