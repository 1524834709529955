package service

import (
	"errors"

	"connectrpc.com/connect"

	"github.com/mmynk/groupledger/internal/calculator"
	"github.com/mmynk/groupledger/internal/groups"
	"github.com/mmynk/groupledger/internal/ledger"
	"github.com/mmynk/groupledger/internal/money"
)

var errUnauthenticated = errors.New("no member on request")

// toConnectError maps engine errors onto Connect codes. Unknown errors
// become Internal.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return err
	}
	code := connect.CodeInternal
	switch {
	case errors.Is(err, calculator.ErrValidation),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrInvalidCurrency),
		errors.Is(err, groups.ErrInvalidGroup):
		code = connect.CodeInvalidArgument
	case errors.Is(err, ledger.ErrForbidden):
		code = connect.CodePermissionDenied
	case errors.Is(err, ledger.ErrNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, groups.ErrAlreadyMember):
		code = connect.CodeAlreadyExists
	case errors.Is(err, ledger.ErrGroupArchived):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, ledger.ErrRateUnavailable):
		code = connect.CodeUnavailable
	case errors.Is(err, ledger.ErrDataIntegrity):
		code = connect.CodeInternal
	}
	ce := connect.NewError(code, err)
	var ve *calculator.ValidationError
	if errors.As(err, &ve) {
		ce.Meta().Set("X-Validation-Reason", string(ve.Reason))
	}
	return ce
}

func invalidArgument(err error) error {
	return connect.NewError(connect.CodeInvalidArgument, err)
}
