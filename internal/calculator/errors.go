package calculator

import (
	"errors"
	"fmt"
)

// Reason identifies which split rule a request broke.
type Reason string

const (
	ReasonEmpty           Reason = "empty"
	ReasonInvalidMember   Reason = "invalid_member"
	ReasonDuplicateMember Reason = "duplicate_member"
	ReasonSumMismatch     Reason = "sum_mismatch"
	ReasonInvalidAmount   Reason = "invalid_amount"
	ReasonInvalidPayer    Reason = "invalid_payer"
	ReasonInvalidCurrency Reason = "invalid_currency"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrDataIntegrity matches every *IntegrityError.
	ErrDataIntegrity = errors.New("ledger data integrity violation")
)

// ValidationError is a rejected transaction request.
type ValidationError struct {
	Reason   Reason
	MemberID string
	Detail   string
}

func (e *ValidationError) Error() string {
	msg := "invalid splits: " + string(e.Reason)
	if e.MemberID != "" {
		msg += " (member " + e.MemberID + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(reason Reason, memberID, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, MemberID: memberID, Detail: fmt.Sprintf(format, args...)}
}

// IsReason reports whether err is a ValidationError with the given reason.
func IsReason(err error, reason Reason) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Reason == reason
}

// IntegrityError is a stored ledger entry that should never have passed validation.
type IntegrityError struct {
	TransactionID string
	MemberID      string
	Problem       string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("transaction %s: %s (member %s)", e.TransactionID, e.Problem, e.MemberID)
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrDataIntegrity
}
