package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmynk/groupledger/internal/calculator"
	"github.com/mmynk/groupledger/internal/models"
	"github.com/mmynk/groupledger/internal/money"
	"github.com/mmynk/groupledger/internal/storage"
)

const (
	DefaultListLimit = 10
	MaxListLimit     = 200
)

// CreateRequest describes a new transaction. PayerID defaults to the
// requester. A valid ExchangeRate overrides rate resolution.
type CreateRequest struct {
	GroupID      string
	PayerID      string
	Title        string
	Memo         string
	TotalAmount  decimal.Decimal
	Currency     string
	Splits       []models.Split
	ExchangeRate decimal.NullDecimal
}

// UpdateRequest is a partial edit. Nil fields and ReplaceSplits == false are
// left unchanged.
type UpdateRequest struct {
	TransactionID string
	Title         *string
	Memo          *string
	PayerID       *string
	TotalAmount   *decimal.Decimal
	Currency      *string
	ReplaceSplits bool
	Splits        []models.Split
	ExchangeRate  decimal.NullDecimal
}

// Empty reports whether the request changes nothing.
func (r UpdateRequest) Empty() bool {
	return r.Title == nil && r.Memo == nil && !r.change().Touches() && !r.ExchangeRate.Valid
}

func (r UpdateRequest) change() calculator.Change {
	return calculator.Change{
		Total:         r.TotalAmount,
		Currency:      r.Currency,
		PayerID:       r.PayerID,
		ReplaceSplits: r.ReplaceSplits,
		Splits:        r.Splits,
	}
}

func normalizeCurrency(code string) (string, error) {
	c, err := money.NormalizeCode(code)
	if err != nil {
		return "", &calculator.ValidationError{Reason: calculator.ReasonInvalidCurrency, Detail: err.Error()}
	}
	return c, nil
}

func checkExplicitRate(rate decimal.NullDecimal) error {
	if rate.Valid && !rate.Decimal.IsPositive() {
		return &calculator.ValidationError{
			Reason: calculator.ReasonInvalidAmount,
			Detail: fmt.Sprintf("exchange rate %s must be positive", rate.Decimal),
		}
	}
	return nil
}

func cleanSplits(splits []models.Split) []models.Split {
	out := make([]models.Split, len(splits))
	for i, s := range splits {
		out[i] = models.Split{MemberID: strings.TrimSpace(s.MemberID), Amount: s.Amount, Note: s.Note}
	}
	return out
}

// multiplierFor picks the multiplier to store for a transaction in currency
// committed against base. resolvedFor is the base a pre-commit lookup was
// made against; a lookup against another base is discarded.
func multiplierFor(currency, base string, explicit, resolved decimal.NullDecimal, resolvedFor string) decimal.NullDecimal {
	switch {
	case explicit.Valid:
		return explicit
	case currency == base:
		return decimal.NewNullDecimal(one)
	case resolvedFor == base:
		return resolved
	default:
		return decimal.NullDecimal{}
	}
}

// lookupRate resolves currency against the group's current base currency
// before any write transaction opens. It returns the base it used.
func (l *Ledger) lookupRate(ctx context.Context, groupID, currency string) (decimal.NullDecimal, string, error) {
	var base string
	err := l.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		g, err := liveGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		base = g.BaseCurrency
		return nil
	})
	if err != nil {
		return decimal.NullDecimal{}, "", err
	}
	if currency == base {
		return decimal.NewNullDecimal(one), base, nil
	}
	rate, err := l.resolver.Resolve(ctx, currency, base)
	if err != nil {
		return decimal.NullDecimal{}, "", fmt.Errorf("resolve %s->%s: %w", currency, base, err)
	}
	return rate, base, nil
}

// CreateTransaction validates and records a new transaction on behalf of
// requester. A multiplier that cannot be resolved is stored as null and
// announced to the Notifier; it never fails the write.
func (l *Ledger) CreateTransaction(ctx context.Context, requester string, req CreateRequest) (_ *models.Transaction, err error) {
	defer func() { l.metrics.observe("create", err) }()

	currency, err := normalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	if err := checkExplicitRate(req.ExchangeRate); err != nil {
		return nil, err
	}
	payer := strings.TrimSpace(req.PayerID)
	if payer == "" {
		payer = requester
	}

	var (
		resolved    decimal.NullDecimal
		resolvedFor string
	)
	if !req.ExchangeRate.Valid {
		resolved, resolvedFor, err = l.lookupRate(ctx, req.GroupID, currency)
		if err != nil {
			return nil, err
		}
	}

	now := l.now()
	txn := &models.Transaction{
		GroupID:     req.GroupID,
		PayerID:     payer,
		CreatorID:   requester,
		Title:       req.Title,
		Memo:        req.Memo,
		TotalAmount: req.TotalAmount,
		Currency:    currency,
		Splits:      cleanSplits(req.Splits),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var base string
	err = l.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		g, err := writableGroup(ctx, tx, req.GroupID)
		if err != nil {
			return err
		}
		if _, err := activeMember(ctx, tx, g.ID, requester); err != nil {
			return err
		}
		active, _, err := activeSet(ctx, tx, g.ID)
		if err != nil {
			return err
		}
		if err := calculator.ValidateSplits(txn.TotalAmount, txn.Currency, txn.PayerID, txn.Splits, active); err != nil {
			return err
		}

		base = g.BaseCurrency
		txn.ExchangeRate = multiplierFor(currency, base, req.ExchangeRate, resolved, resolvedFor)
		return tx.InsertTransaction(ctx, txn)
	})
	if err != nil {
		return nil, translate(err)
	}

	l.logger.Info("transaction created",
		"group_id", txn.GroupID,
		"transaction_id", txn.ID,
		"member_id", requester,
		"currency", txn.Currency,
	)
	if !txn.ExchangeRate.Valid {
		l.publishDeferred(ctx, txn, base)
	}
	return txn, nil
}

// canModify reports whether requester may edit or delete t.
func canModify(m *models.Membership, t *models.Transaction) bool {
	return m.IsAdmin || t.CreatorID == m.MemberID
}

// UpdateTransaction applies a partial edit. Any change to total, splits,
// payer or currency re-validates the complete resulting transaction against
// the current members. An empty request returns the stored transaction.
func (l *Ledger) UpdateTransaction(ctx context.Context, requester string, req UpdateRequest) (_ *models.Transaction, err error) {
	defer func() { l.metrics.observe("update", err) }()

	if req.Currency != nil {
		c, err := normalizeCurrency(*req.Currency)
		if err != nil {
			return nil, err
		}
		req.Currency = &c
	}
	if err := checkExplicitRate(req.ExchangeRate); err != nil {
		return nil, err
	}
	if req.PayerID != nil {
		p := strings.TrimSpace(*req.PayerID)
		req.PayerID = &p
	}
	if req.ReplaceSplits {
		req.Splits = cleanSplits(req.Splits)
	}

	if req.Empty() {
		return l.GetTransaction(ctx, requester, req.TransactionID)
	}

	var (
		resolved    decimal.NullDecimal
		resolvedFor string
	)
	if req.Currency != nil && !req.ExchangeRate.Valid {
		current, err := l.GetTransaction(ctx, requester, req.TransactionID)
		if err != nil {
			return nil, err
		}
		if current.Currency != *req.Currency {
			resolved, resolvedFor, err = l.lookupRate(ctx, current.GroupID, *req.Currency)
			if err != nil {
				return nil, err
			}
		}
	}

	var (
		txn  *models.Transaction
		base string
	)
	err = l.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		txn, err = tx.GetTransaction(ctx, req.TransactionID)
		if err != nil {
			return err
		}
		g, err := writableGroup(ctx, tx, txn.GroupID)
		if err != nil {
			return err
		}
		m, err := activeMember(ctx, tx, g.ID, requester)
		if err != nil {
			return err
		}
		if !canModify(m, txn) {
			return fmt.Errorf("member %s may not edit transaction %s: %w", requester, txn.ID, ErrForbidden)
		}
		active, _, err := activeSet(ctx, tx, g.ID)
		if err != nil {
			return err
		}
		if err := calculator.ValidateChange(txn, req.change(), active); err != nil {
			return err
		}

		base = g.BaseCurrency
		currencyChanged := req.Currency != nil && *req.Currency != txn.Currency
		if req.Title != nil {
			txn.Title = *req.Title
		}
		if req.Memo != nil {
			txn.Memo = *req.Memo
		}
		if req.PayerID != nil {
			txn.PayerID = *req.PayerID
		}
		if req.TotalAmount != nil {
			txn.TotalAmount = *req.TotalAmount
		}
		if req.Currency != nil {
			txn.Currency = *req.Currency
		}
		if req.ReplaceSplits {
			txn.Splits = req.Splits
		}
		if req.ExchangeRate.Valid || currencyChanged {
			txn.ExchangeRate = multiplierFor(txn.Currency, base, req.ExchangeRate, resolved, resolvedFor)
		}
		txn.UpdatedAt = l.now()
		return tx.UpdateTransaction(ctx, txn)
	})
	if err != nil {
		return nil, translate(err)
	}

	l.logger.Info("transaction updated",
		"group_id", txn.GroupID,
		"transaction_id", txn.ID,
		"member_id", requester,
	)
	if !txn.ExchangeRate.Valid {
		l.publishDeferred(ctx, txn, base)
	}
	return txn, nil
}

// DeleteTransaction permanently removes a transaction and its splits.
func (l *Ledger) DeleteTransaction(ctx context.Context, requester, transactionID string) (err error) {
	defer func() { l.metrics.observe("delete", err) }()

	var groupID string
	err = l.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		txn, err := tx.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		g, err := writableGroup(ctx, tx, txn.GroupID)
		if err != nil {
			return err
		}
		m, err := activeMember(ctx, tx, g.ID, requester)
		if err != nil {
			return err
		}
		if !canModify(m, txn) {
			return fmt.Errorf("member %s may not delete transaction %s: %w", requester, txn.ID, ErrForbidden)
		}
		groupID = g.ID
		return tx.DeleteTransaction(ctx, txn.ID)
	})
	if err != nil {
		return translate(err)
	}

	l.logger.Info("transaction deleted",
		"group_id", groupID,
		"transaction_id", transactionID,
		"member_id", requester,
	)
	return nil
}

// GetTransaction returns a transaction to a current member of its group.
// Archived groups remain readable.
func (l *Ledger) GetTransaction(ctx context.Context, requester, transactionID string) (*models.Transaction, error) {
	var txn *models.Transaction
	err := l.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		txn, err = tx.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if _, err := liveGroup(ctx, tx, txn.GroupID); err != nil {
			return err
		}
		_, err = activeMember(ctx, tx, txn.GroupID, requester)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}
	return txn, nil
}

// ListTransactions lists a group's transactions newest first.
func (l *Ledger) ListTransactions(ctx context.Context, requester, groupID string, f models.TransactionFilter) ([]models.Transaction, error) {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var out []models.Transaction
	err := l.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := liveGroup(ctx, tx, groupID); err != nil {
			return err
		}
		if _, err := activeMember(ctx, tx, groupID, requester); err != nil {
			return err
		}
		var err error
		out, err = tx.ListTransactions(ctx, groupID, f)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}
