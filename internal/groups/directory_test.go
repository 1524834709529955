package groups_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/groupledger/internal/groups"
	"github.com/mmynk/groupledger/internal/ledger"
	"github.com/mmynk/groupledger/internal/models"
	"github.com/mmynk/groupledger/internal/storage"
	"github.com/mmynk/groupledger/internal/storage/sqlite"
)

func newDirectory(t *testing.T, opts ...groups.Option) (*groups.Directory, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "groups.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return groups.NewDirectory(store, opts...), store
}

func TestCreateGroup(t *testing.T) {
	d, _ := newDirectory(t)
	ctx := context.Background()

	g, err := d.CreateGroup(ctx, "alice", "  Ski Trip ", "eur")
	require.NoError(t, err)
	assert.Equal(t, "Ski Trip", g.Name)
	assert.Equal(t, "EUR", g.BaseCurrency)

	members, err := d.ListMembers(ctx, "alice", g.ID, false)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.True(t, members[0].IsAdmin)

	_, err = d.CreateGroup(ctx, "alice", "", "EUR")
	assert.ErrorIs(t, err, groups.ErrInvalidGroup)
	_, err = d.CreateGroup(ctx, "alice", "Trip", "E")
	assert.ErrorIs(t, err, groups.ErrInvalidGroup)
}

func TestMembership(t *testing.T) {
	d, _ := newDirectory(t)
	ctx := context.Background()
	g, err := d.CreateGroup(ctx, "alice", "Flat", "USD")
	require.NoError(t, err)

	_, err = d.AddMember(ctx, "alice", g.ID, "bob", false)
	require.NoError(t, err)
	_, err = d.AddMember(ctx, "alice", g.ID, "bob", false)
	assert.ErrorIs(t, err, groups.ErrAlreadyMember)

	// Only admins add members.
	_, err = d.AddMember(ctx, "bob", g.ID, "carol", false)
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	// Members may leave; non-admins may not remove others.
	_, err = d.AddMember(ctx, "alice", g.ID, "carol", false)
	require.NoError(t, err)
	assert.ErrorIs(t, d.RemoveMember(ctx, "bob", g.ID, "carol"), ledger.ErrForbidden)
	require.NoError(t, d.RemoveMember(ctx, "bob", g.ID, "bob"))
	assert.ErrorIs(t, d.RemoveMember(ctx, "alice", g.ID, "bob"), ledger.ErrNotFound)

	_, err = d.GetGroup(ctx, "bob", g.ID)
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	active, err := d.ListMembers(ctx, "alice", g.ID, false)
	require.NoError(t, err)
	assert.Len(t, active, 2)
	all, err := d.ListMembers(ctx, "alice", g.ID, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// Re-joining reactivates the same row.
	m, err := d.AddMember(ctx, "alice", g.ID, "bob", true)
	require.NoError(t, err)
	assert.True(t, m.Active())
	assert.True(t, m.IsAdmin)
	all, err = d.ListMembers(ctx, "alice", g.ID, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLastMemberLeftSoftDeletes(t *testing.T) {
	d, store := newDirectory(t)
	ctx := context.Background()
	g, err := d.CreateGroup(ctx, "alice", "Solo", "USD")
	require.NoError(t, err)

	require.NoError(t, d.RemoveMember(ctx, "alice", g.ID, "alice"))

	require.NoError(t, store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.GetGroup(ctx, g.ID)
		require.NoError(t, err)
		assert.True(t, got.IsDeleted())
		return nil
	}))
}

func TestLastMemberLeftCustomHook(t *testing.T) {
	var fired []string
	d, _ := newDirectory(t, groups.WithLastMemberLeft(func(_ context.Context, _ storage.Tx, g *models.Group) error {
		fired = append(fired, g.ID)
		return nil
	}))
	ctx := context.Background()
	g, err := d.CreateGroup(ctx, "alice", "Solo", "USD")
	require.NoError(t, err)

	require.NoError(t, d.RemoveMember(ctx, "alice", g.ID, "alice"))
	assert.Equal(t, []string{g.ID}, fired)
}

func TestArchiveAndDelete(t *testing.T) {
	d, store := newDirectory(t)
	ctx := context.Background()
	g, err := d.CreateGroup(ctx, "alice", "Trip", "USD")
	require.NoError(t, err)
	_, err = d.AddMember(ctx, "alice", g.ID, "bob", false)
	require.NoError(t, err)

	_, err = d.SetArchived(ctx, "bob", g.ID, true)
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	for i := 0; i < 2; i++ {
		got, err := d.SetArchived(ctx, "alice", g.ID, true)
		require.NoError(t, err)
		assert.True(t, got.Archived)
	}
	_, err = d.AddMember(ctx, "alice", g.ID, "carol", false)
	assert.ErrorIs(t, err, ledger.ErrGroupArchived)

	got, err := d.SetArchived(ctx, "alice", g.ID, false)
	require.NoError(t, err)
	assert.False(t, got.Archived)

	require.NoError(t, d.DeleteGroup(ctx, "alice", g.ID, false))
	_, err = d.GetGroup(ctx, "alice", g.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	other, err := d.CreateGroup(ctx, "alice", "Other", "USD")
	require.NoError(t, err)
	require.NoError(t, d.DeleteGroup(ctx, "alice", other.ID, true))
	require.NoError(t, store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.GetGroup(ctx, other.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	}))
}

type noRates struct{}

func (noRates) Resolve(context.Context, string, string) (decimal.NullDecimal, error) {
	return decimal.NullDecimal{}, nil
}

func TestBaseCurrencyChangeResetsRates(t *testing.T) {
	d, store := newDirectory(t)
	l := ledger.New(store, noRates{})
	ctx := context.Background()

	g, err := d.CreateGroup(ctx, "alice", "Trip", "USD")
	require.NoError(t, err)
	_, err = d.AddMember(ctx, "alice", g.ID, "bob", false)
	require.NoError(t, err)

	usd, err := l.CreateTransaction(ctx, "alice", ledger.CreateRequest{
		GroupID: g.ID, TotalAmount: decimal.RequireFromString("10.00"), Currency: "USD",
		Splits: []models.Split{{MemberID: "bob", Amount: decimal.RequireFromString("10.00")}},
	})
	require.NoError(t, err)
	eur, err := l.CreateTransaction(ctx, "alice", ledger.CreateRequest{
		GroupID: g.ID, TotalAmount: decimal.RequireFromString("5.00"), Currency: "EUR",
		Splits:       []models.Split{{MemberID: "bob", Amount: decimal.RequireFromString("5.00")}},
		ExchangeRate: decimal.NewNullDecimal(decimal.RequireFromString("1.1")),
	})
	require.NoError(t, err)

	base := "EUR"
	updated, err := d.UpdateGroup(ctx, "alice", g.ID, nil, &base)
	require.NoError(t, err)
	assert.Equal(t, "EUR", updated.BaseCurrency)

	got, err := l.GetTransaction(ctx, "alice", eur.ID)
	require.NoError(t, err)
	require.True(t, got.ExchangeRate.Valid)
	assert.Equal(t, "1", got.ExchangeRate.Decimal.String())

	got, err = l.GetTransaction(ctx, "alice", usd.ID)
	require.NoError(t, err)
	assert.False(t, got.ExchangeRate.Valid)

	_, err = l.ComputeDues(ctx, g.ID, "alice")
	assert.ErrorIs(t, err, ledger.ErrRateUnavailable)
}
