package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateFormat is the ledger and canonical date format.
const DateFormat = "2006-01-02"

// AmountPlaces is the number of fractional digits amounts carry.
const AmountPlaces = 2

// CanonicalTransaction is the institution-agnostic record produced by the
// normalizer. Amount is negative when money leaves the owner.
type CanonicalTransaction struct {
	Date        time.Time
	Amount      decimal.Decimal
	Payee       string
	Memo        string
	Account     string // the institution's own ledger account
	SourceID    string // institution reference id, may be empty
	Institution string // profile identifier
}

// canonicalJSON is the JSONL wire shape. Amount is a decimal string.
type canonicalJSON struct {
	Date        string `json:"date"`
	Amount      string `json:"amount"`
	Payee       string `json:"payee"`
	Memo        string `json:"memo"`
	Account     string `json:"account"`
	SourceID    string `json:"source_id"`
	Institution string `json:"institution"`
}

// MarshalJSON implements json.Marshaler.
func (t CanonicalTransaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(canonicalJSON{
		Date:        t.Date.Format(DateFormat),
		Amount:      t.Amount.StringFixed(AmountPlaces),
		Payee:       t.Payee,
		Memo:        t.Memo,
		Account:     t.Account,
		SourceID:    t.SourceID,
		Institution: t.Institution,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *CanonicalTransaction) UnmarshalJSON(data []byte) error {
	var w canonicalJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	date, err := time.Parse(DateFormat, w.Date)
	if err != nil {
		return fmt.Errorf("parsing date %q: %w", w.Date, err)
	}
	amount, err := decimal.NewFromString(w.Amount)
	if err != nil {
		return fmt.Errorf("parsing amount %q: %w", w.Amount, err)
	}
	*t = CanonicalTransaction{
		Date:        date,
		Amount:      amount,
		Payee:       w.Payee,
		Memo:        w.Memo,
		Account:     w.Account,
		SourceID:    w.SourceID,
		Institution: w.Institution,
	}
	return nil
}

// Fingerprint is the hex SHA-256 identity of a transaction.
type Fingerprint string

// Short returns the first 12 hex digits, for display.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// SeenRecord is one row of the dedup store.
type SeenRecord struct {
	Fingerprint Fingerprint
	Source      string
	FirstSeen   time.Time
}
