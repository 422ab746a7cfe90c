package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/finledger-dev/finledger/internal/model"
)

func baseTxn() model.CanonicalTransaction {
	return model.CanonicalTransaction{
		Date:        time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
		Amount:      decimal.RequireFromString("-42.50"),
		Payee:       "TRADER JOE'S #552",
		Memo:        "groceries",
		Account:     "Liabilities:CreditCard:Citi",
		SourceID:    "REF123",
		Institution: "citi",
	}
}

func TestCompute_Deterministic(t *testing.T) {
	fp := Compute(baseTxn())
	assert.Len(t, string(fp), 64)
	assert.True(t, Valid(string(fp)))
	assert.Equal(t, fp, Compute(baseTxn()))
}

func TestCompute_IgnoresNonIdentityFields(t *testing.T) {
	a := baseTxn()
	b := baseTxn()
	b.Memo = "something else"
	b.Institution = "other"
	b.Payee = "  trader joe's #552 "
	b.Amount = decimal.RequireFromString("-42.5")
	b.Date = time.Date(2026, 2, 15, 18, 30, 0, 0, time.UTC)
	assert.Equal(t, Compute(a), Compute(b))
}

func TestCompute_Sensitivity(t *testing.T) {
	base := Compute(baseTxn())
	mutations := map[string]func(*model.CanonicalTransaction){
		"account":   func(tx *model.CanonicalTransaction) { tx.Account = "Assets:Checking" },
		"date":      func(tx *model.CanonicalTransaction) { tx.Date = tx.Date.AddDate(0, 0, 1) },
		"amount":    func(tx *model.CanonicalTransaction) { tx.Amount = decimal.RequireFromString("-42.51") },
		"sign":      func(tx *model.CanonicalTransaction) { tx.Amount = tx.Amount.Neg() },
		"payee":     func(tx *model.CanonicalTransaction) { tx.Payee = "TRADER JOE'S #553" },
		"source id": func(tx *model.CanonicalTransaction) { tx.SourceID = "" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			tx := baseTxn()
			mutate(&tx)
			assert.NotEqual(t, base, Compute(tx))
		})
	}
}

func TestCompute_Encoding(t *testing.T) {
	tx := baseTxn()
	fields := []string{"Liabilities:CreditCard:Citi", "2026-02-15", "-42.50", "trader joes 552", "REF123"}
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('|')
		}
		fmt.Fprintf(&b, "%d:%s", len(f), f)
	}
	sum := sha256.Sum256([]byte(b.String()))
	assert.Equal(t, model.Fingerprint(hex.EncodeToString(sum[:])), Compute(tx))
}

func TestCompute_LengthPrefixSeparatesFields(t *testing.T) {
	a := baseTxn()
	a.Account = "A|B"
	a.SourceID = ""
	b := baseTxn()
	b.Account = "A"
	b.SourceID = ""
	assert.NotEqual(t, Compute(a), Compute(b))

	c := baseTxn()
	c.SourceID = "1:x"
	d := baseTxn()
	d.SourceID = "3:1:x"
	assert.NotEqual(t, Compute(c), Compute(d))
}

func TestNormalizePayee(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Whole Foods ", "whole foods"},
		{"TRADER JOE'S  #552", "trader joes 552"},
		{"Straße", "strasse"},
		{"SHELL #1", "shell 1"},
		{"Café\tCrème", "café crème"},
		{"***", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePayee(tt.in), "input %q", tt.in)
	}
}

func TestCompute_PayeeFolding(t *testing.T) {
	a := baseTxn()
	b := baseTxn()
	b.Payee = "  Trader Joes   #552 "
	assert.Equal(t, Compute(a), Compute(b), "case, spacing and punctuation are folded")

	c := baseTxn()
	c.Payee = "TRADER JOE'S #123"
	assert.NotEqual(t, Compute(a), Compute(c), "store numbers are kept")
}

func TestValid(t *testing.T) {
	assert.False(t, Valid("abc"))
	assert.False(t, Valid("Z"+string(Compute(baseTxn()))[1:]))
	assert.False(t, Valid(string(Compute(baseTxn()))[:63]+"A"))
}
