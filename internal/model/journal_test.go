package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintShort(t *testing.T) {
	assert.Equal(t, "0123456789ab", Fingerprint("0123456789abcdef").Short())
	assert.Equal(t, "abc", Fingerprint("abc").Short())
}

func TestCanonicalTransaction_JSONAmountIsString(t *testing.T) {
	txn := CanonicalTransaction{
		Date:        time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
		Amount:      decimal.RequireFromString("-42.5"),
		Payee:       "TRADER JOE'S #123",
		Account:     "Liabilities:CreditCard:Citi",
		Institution: "citi",
	}

	data, err := json.Marshal(txn)
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2026-02-15","amount":"-42.50","payee":"TRADER JOE'S #123","memo":"","account":"Liabilities:CreditCard:Citi","source_id":"","institution":"citi"}`, string(data))

	var got CanonicalTransaction
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, got.Amount.Equal(txn.Amount))
	assert.True(t, got.Date.Equal(txn.Date))
	assert.Equal(t, txn.Payee, got.Payee)
}

func TestCanonicalTransaction_UnmarshalBadAmount(t *testing.T) {
	var got CanonicalTransaction
	err := json.Unmarshal([]byte(`{"date":"2026-02-15","amount":"4x"}`), &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing amount")
}
