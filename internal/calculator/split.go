package calculator

import (
	"github.com/shopspring/decimal"

	"github.com/mmynk/groupledger/internal/models"
	"github.com/mmynk/groupledger/internal/money"
)

// MemberSet is a set of member ids.
type MemberSet map[string]struct{}

// NewMemberSet builds a set from ids.
func NewMemberSet(ids ...string) MemberSet {
	s := make(MemberSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s MemberSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// ValidateSplits checks a complete (total, payer, splits) triple against the
// currently active members of the group.
//
// Rules, in order:
//  1. at least one split
//  2. total is a non-negative amount at the currency's minor unit and the
//     payer is active
//  3. every split member is active, is not the payer, and appears once
//  4. the sum of shares, rounded half-up at the currency's minor unit,
//     equals total exactly
func ValidateSplits(total decimal.Decimal, currency, payerID string, splits []models.Split, active MemberSet) error {
	if len(splits) == 0 {
		return invalid(ReasonEmpty, "", "at least one split is required")
	}
	if err := money.ValidateTotal(total, currency); err != nil {
		return invalid(ReasonInvalidAmount, "", "%v", err)
	}
	if !active.Has(payerID) {
		return invalid(ReasonInvalidPayer, payerID, "payer is not an active member")
	}

	seen := make(MemberSet, len(splits))
	sum := decimal.Zero
	for _, s := range splits {
		if s.Amount.IsNegative() {
			return invalid(ReasonInvalidAmount, s.MemberID, "share %s is negative", s.Amount)
		}
		if s.MemberID == payerID || !active.Has(s.MemberID) {
			return invalid(ReasonInvalidMember, s.MemberID, "split member must be an active member other than the payer")
		}
		if seen.Has(s.MemberID) {
			return invalid(ReasonDuplicateMember, s.MemberID, "member appears in more than one split")
		}
		seen[s.MemberID] = struct{}{}
		sum = sum.Add(s.Amount)
	}

	scale := money.Scale(currency)
	if rounded := money.RoundHalfUp(sum, scale); !rounded.Equal(total) {
		return invalid(ReasonSumMismatch, "", "splits sum to %s, total is %s",
			rounded.StringFixed(scale), total.StringFixed(scale))
	}
	return nil
}

// Change is a partial edit of a stored transaction. Nil pointers and
// ReplaceSplits == false mean "unchanged".
type Change struct {
	Total         *decimal.Decimal
	Currency      *string
	PayerID       *string
	ReplaceSplits bool
	Splits        []models.Split
}

// Touches reports whether the change affects the validated triple.
func (c Change) Touches() bool {
	return c.Total != nil || c.ReplaceSplits || c.PayerID != nil || c.Currency != nil
}

// ValidateChange re-validates an edit. When nothing in the triple changes the
// check is skipped; otherwise the untouched fields are taken from current so
// the sum check always compares a complete, self-consistent pair.
func ValidateChange(current *models.Transaction, c Change, active MemberSet) error {
	if !c.Touches() {
		return nil
	}
	total := current.TotalAmount
	if c.Total != nil {
		total = *c.Total
	}
	currency := current.Currency
	if c.Currency != nil {
		currency = *c.Currency
	}
	payer := current.PayerID
	if c.PayerID != nil {
		payer = *c.PayerID
	}
	splits := current.Splits
	if c.ReplaceSplits {
		splits = c.Splits
	}
	return ValidateSplits(total, currency, payer, splits, active)
}
