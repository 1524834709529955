package ledger

import (
	"errors"
	"fmt"

	"github.com/mmynk/groupledger/internal/calculator"
)

var (
	// ErrNotFound is returned for a missing or deleted group, transaction or member.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the requester lacks the needed role.
	ErrForbidden = errors.New("forbidden")

	// ErrGroupArchived is returned for mutations on an archived group.
	ErrGroupArchived = errors.New("group is archived")

	// ErrRateUnavailable matches every *RateUnavailableError.
	ErrRateUnavailable = errors.New("exchange rate unavailable")

	// ErrDataIntegrity is returned when stored data breaks a ledger invariant.
	ErrDataIntegrity = calculator.ErrDataIntegrity
)

// RateUnavailableError reports a transaction whose multiplier is still
// unknown when a balance needs it.
type RateUnavailableError struct {
	TransactionID string
	From, To      string
}

func (e *RateUnavailableError) Error() string {
	return fmt.Sprintf("no %s->%s rate for transaction %s", e.From, e.To, e.TransactionID)
}

func (e *RateUnavailableError) Is(target error) bool {
	return target == ErrRateUnavailable
}
