package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Posting is one account line of a ledger block. Elided postings carry no
// amount and balance the block.
type Posting struct {
	Account string
	Amount  decimal.Decimal
	Elided  bool
}

// StagedEntry is a rendered block awaiting review, as read back from a
// staging file.
type StagedEntry struct {
	Date          time.Time
	Payee         string
	Fingerprint   Fingerprint
	Account       string          // classified account (first posting)
	SourceAccount string          // balancing account (second posting)
	Amount        decimal.Decimal // amount on the classified posting
	Uncategorized bool
	File          string // staging file name
	Text          string // the block exactly as stored
}
