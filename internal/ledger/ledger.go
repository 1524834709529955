// Package ledger records shared expenses and computes what group members owe
// each other.
//
// Every mutation runs inside one storage transaction: membership is read,
// the request is validated and the result is written without another writer
// interleaving. Exchange rates are looked up before that transaction opens so
// a slow rate source never holds the write lock.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/groupledger/internal/calculator"
	"github.com/mmynk/groupledger/internal/models"
	"github.com/mmynk/groupledger/internal/storage"
)

// Resolver supplies currency multipliers. An invalid result means the rate
// is temporarily unavailable.
type Resolver interface {
	Resolve(ctx context.Context, from, to string) (decimal.NullDecimal, error)
}

// DeferredRate announces a transaction committed without a multiplier.
type DeferredRate struct {
	GroupID       string `json:"group_id"`
	TransactionID string `json:"transaction_id"`
	Currency      string `json:"currency"`
	BaseCurrency  string `json:"base_currency"`
}

// Notifier is told about deferred multipliers after commit.
type Notifier interface {
	RateDeferred(ctx context.Context, d DeferredRate) error
}

// Ledger is the shared-expense engine.
type Ledger struct {
	store    storage.Store
	resolver Resolver
	notifier Notifier
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithNotifier publishes deferred-rate events through n.
func WithNotifier(n Notifier) Option { return func(l *Ledger) { l.notifier = n } }

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option { return func(l *Ledger) { l.logger = logger } }

// WithMetrics records operation metrics.
func WithMetrics(m *Metrics) Option { return func(l *Ledger) { l.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// New creates a Ledger.
func New(store storage.Store, resolver Resolver, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		resolver: resolver,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// liveGroup loads a group that has not been deleted.
func liveGroup(ctx context.Context, tx storage.Tx, groupID string) (*models.Group, error) {
	g, err := tx.GetGroup(ctx, groupID)
	if err != nil {
		return nil, translate(err)
	}
	if g.IsDeleted() {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}
	return g, nil
}

// writableGroup loads a group that accepts ledger mutations.
func writableGroup(ctx context.Context, tx storage.Tx, groupID string) (*models.Group, error) {
	g, err := liveGroup(ctx, tx, groupID)
	if err != nil {
		return nil, err
	}
	if g.Archived {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrGroupArchived)
	}
	return g, nil
}

// activeMember returns the requester's membership, or ErrForbidden when they
// are not a current member of the group.
func activeMember(ctx context.Context, tx storage.Tx, groupID, memberID string) (*models.Membership, error) {
	m, err := tx.GetMembership(ctx, groupID, memberID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("member %s is not in group %s: %w", memberID, groupID, ErrForbidden)
	}
	if err != nil {
		return nil, err
	}
	if !m.Active() {
		return nil, fmt.Errorf("member %s has left group %s: %w", memberID, groupID, ErrForbidden)
	}
	return m, nil
}

func activeSet(ctx context.Context, tx storage.Tx, groupID string) (calculator.MemberSet, []string, error) {
	ids, err := tx.ActiveMemberIDs(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	return calculator.NewMemberSet(ids...), ids, nil
}

func translate(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

// publishDeferred announces a deferred multiplier. Failures are logged; the
// repair job finds the transaction regardless.
func (l *Ledger) publishDeferred(ctx context.Context, t *models.Transaction, base string) {
	l.metrics.deferredRate()
	l.logger.Warn("exchange rate deferred",
		"group_id", t.GroupID,
		"transaction_id", t.ID,
		"currency", t.Currency,
		"base_currency", base,
	)
	if l.notifier == nil {
		return
	}
	err := l.notifier.RateDeferred(ctx, DeferredRate{
		GroupID:       t.GroupID,
		TransactionID: t.ID,
		Currency:      t.Currency,
		BaseCurrency:  base,
	})
	if err != nil {
		l.logger.Warn("failed to publish deferred rate", "transaction_id", t.ID, "error", err)
	}
}

var one = decimal.NewFromInt(1)
