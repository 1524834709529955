package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single ledger entry inside a group.
//
// The payer's own share is implicit: it is whatever part of TotalAmount is not
// covered by the named splits, so the payer never appears in Splits.
type Transaction struct {
	// ID is the unique identifier for the transaction (UUID format).
	ID string

	// GroupID is the owning group.
	GroupID string

	// PayerID is the member who fronted the payment.
	PayerID string

	// CreatorID is the member who recorded the transaction.
	CreatorID string

	// Title and Memo are free text.
	Title string
	Memo  string

	// TotalAmount is the amount paid, in Currency, at the currency's minor-unit scale.
	TotalAmount decimal.Decimal

	// Currency is the transaction currency code.
	Currency string

	// ExchangeRate converts Currency amounts into the group's base currency.
	// Invalid means resolution was deferred.
	ExchangeRate decimal.NullDecimal

	// Splits are the debtors' shares, ordered as submitted.
	Splits []Split

	// CreatedAt is when the transaction was recorded.
	CreatedAt time.Time

	// UpdatedAt is when the transaction was last edited.
	UpdatedAt time.Time
}

// NeedsConversion reports whether amounts must be converted into base.
func (t *Transaction) NeedsConversion(base string) bool {
	return t.Currency != base
}

// Split is a named member's share of a transaction.
type Split struct {
	// ID is the unique identifier for the split (UUID format).
	ID string

	// TransactionID is the parent transaction.
	TransactionID string

	// MemberID is the member who owes this share to the payer.
	MemberID string

	// Amount is the share, in the transaction currency. Non-negative.
	Amount decimal.Decimal

	// Note is optional free text.
	Note string
}

// TransactionFilter narrows ListTransactions results.
type TransactionFilter struct {
	PayerID   string
	CreatorID string
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}
