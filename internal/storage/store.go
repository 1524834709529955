// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/mmynk/groupledger/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write would violate a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

// Store is a transactional data store handle.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, etc.)
// without changing the ledger.
type Store interface {
	// Update runs fn inside a read-write transaction. The transaction
	// commits if fn returns nil and rolls back otherwise.
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// View runs fn against a consistent snapshot.
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Close releases any resources held by the store.
	Close() error
}

// RateFill is a multiplier resolved for Currency against the group base Base.
type RateFill struct {
	TransactionID string
	Currency      string
	Base          string
	Rate          decimal.Decimal
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	InsertGroup(ctx context.Context, g *models.Group) error
	// GetGroup returns soft-deleted groups too; callers check IsDeleted.
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	UpdateGroup(ctx context.Context, g *models.Group) error
	// DeleteGroup removes the group and cascades to memberships,
	// transactions and splits.
	DeleteGroup(ctx context.Context, id string) error

	GetMembership(ctx context.Context, groupID, memberID string) (*models.Membership, error)
	// PutMembership inserts or replaces the single row for (group, member).
	PutMembership(ctx context.Context, m *models.Membership) error
	ListMemberships(ctx context.Context, groupID string, activeOnly bool) ([]models.Membership, error)
	ActiveMemberIDs(ctx context.Context, groupID string) ([]string, error)

	// InsertTransaction stores t and its splits, assigning missing ids.
	InsertTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	// UpdateTransaction rewrites t's row and replaces all of its splits.
	UpdateTransaction(ctx context.Context, t *models.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error
	// ListTransactions returns a group's transactions newest first. A zero
	// Limit means no limit.
	ListTransactions(ctx context.Context, groupID string, f models.TransactionFilter) ([]models.Transaction, error)
	// ListDeferred returns transactions whose multiplier is still null.
	// An empty groupID lists across all live groups.
	ListDeferred(ctx context.Context, groupID string) ([]models.Transaction, error)
	// FillExchangeRate sets the multiplier only if it is still null and the
	// transaction currency and group base still match the fill. It reports
	// whether a row changed.
	FillExchangeRate(ctx context.Context, f RateFill) (bool, error)
	// ResetExchangeRates re-derives multipliers after a base currency change:
	// 1 for transactions already in base, null for everything else.
	ResetExchangeRates(ctx context.Context, groupID, base string) (int64, error)
}
