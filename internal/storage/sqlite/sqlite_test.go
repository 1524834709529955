package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/groupledger/internal/models"
	"github.com/mmynk/groupledger/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedGroup(t *testing.T, store *Store, members ...string) *models.Group {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	g := &models.Group{ID: "g1", Name: "Trip", BaseCurrency: "USD", CreatedBy: members[0], CreatedAt: now}
	err := store.Update(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertGroup(ctx, g); err != nil {
			return err
		}
		for i, id := range members {
			if err := tx.PutMembership(ctx, &models.Membership{GroupID: g.ID, MemberID: id, IsAdmin: i == 0, JoinedAt: now}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return g
}

func newTxn(payer, total, currency string, splits ...string) *models.Transaction {
	txn := &models.Transaction{
		GroupID:     "g1",
		PayerID:     payer,
		CreatorID:   payer,
		Title:       "Dinner",
		TotalAmount: dec(total),
		Currency:    currency,
	}
	for i := 0; i+1 < len(splits); i += 2 {
		txn.Splits = append(txn.Splits, models.Split{MemberID: splits[i], Amount: dec(splits[i+1])})
	}
	return txn
}

func insert(t *testing.T, store *Store, txn *models.Transaction) {
	t.Helper()
	err := store.Update(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertTransaction(ctx, txn)
	})
	require.NoError(t, err)
}

func TestGroupsAndMemberships(t *testing.T) {
	store := newTestStore(t)
	g := seedGroup(t, store, "A", "B", "C")
	ctx := context.Background()

	err := store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.GetGroup(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, "USD", got.BaseCurrency)
		assert.True(t, g.CreatedAt.Equal(got.CreatedAt))
		assert.False(t, got.IsDeleted())

		_, err = tx.GetGroup(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		left := time.Now().UTC()
		m, err := tx.GetMembership(ctx, g.ID, "C")
		require.NoError(t, err)
		m.LeftAt = &left
		require.NoError(t, tx.PutMembership(ctx, m))

		ids, err := tx.ActiveMemberIDs(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B"}, ids)

		all, err := tx.ListMemberships(ctx, g.ID, false)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		// Re-joining reuses the row.
		m.LeftAt = nil
		require.NoError(t, tx.PutMembership(ctx, m))
		all, err = tx.ListMemberships(ctx, g.ID, true)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		admin, err := tx.GetMembership(ctx, g.ID, "A")
		require.NoError(t, err)
		assert.True(t, admin.IsAdmin)

		got.Archived = true
		require.NoError(t, tx.UpdateGroup(ctx, got))
		got, err = tx.GetGroup(ctx, g.ID)
		require.NoError(t, err)
		assert.True(t, got.Archived)
		return nil
	})
	require.NoError(t, err)
}

func TestTransactionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	seedGroup(t, store, "A", "B", "C")
	ctx := context.Background()

	txn := newTxn("A", "1000", "JPY", "B", "500", "C", "500")
	insert(t, store, txn)
	require.NotEmpty(t, txn.ID)
	require.NotEmpty(t, txn.Splits[0].ID)

	err := store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.GetTransaction(ctx, txn.ID)
		require.NoError(t, err)
		assert.True(t, got.TotalAmount.Equal(dec("1000")))
		assert.Equal(t, "JPY", got.Currency)
		assert.False(t, got.ExchangeRate.Valid)
		require.Len(t, got.Splits, 2)
		assert.Equal(t, "B", got.Splits[0].MemberID)
		assert.True(t, got.Splits[1].Amount.Equal(dec("500")))
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateTransactionReplacesSplits(t *testing.T) {
	store := newTestStore(t)
	seedGroup(t, store, "A", "B", "C")
	ctx := context.Background()

	txn := newTxn("A", "60.00", "USD", "B", "30.00", "C", "30.00")
	insert(t, store, txn)

	txn.TotalAmount = dec("25.50")
	txn.Splits = []models.Split{{MemberID: "C", Amount: dec("25.50"), Note: "all of it"}}
	txn.ExchangeRate = decimal.NewNullDecimal(decimal.NewFromInt(1))
	require.NoError(t, store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.UpdateTransaction(ctx, txn)
	}))

	require.NoError(t, store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.GetTransaction(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, "25.5", got.TotalAmount.String())
		require.True(t, got.ExchangeRate.Valid)
		require.Len(t, got.Splits, 1)
		assert.Equal(t, "all of it", got.Splits[0].Note)
		return nil
	}))
}

func TestDuplicateSplitRollsBack(t *testing.T) {
	store := newTestStore(t)
	seedGroup(t, store, "A", "B")
	ctx := context.Background()

	txn := newTxn("A", "10.00", "USD", "B", "5.00", "B", "5.00")
	err := store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertTransaction(ctx, txn)
	})
	require.ErrorIs(t, err, storage.ErrConflict)

	require.NoError(t, store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.GetTransaction(ctx, txn.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	}))
}

func TestListTransactions(t *testing.T) {
	store := newTestStore(t)
	seedGroup(t, store, "A", "B", "C")
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	for i, payer := range []string{"A", "B", "A", "C"} {
		txn := newTxn(payer, "10.00", "USD", "B", "10.00")
		if payer == "B" {
			txn.Splits[0].MemberID = "A"
		}
		txn.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		insert(t, store, txn)
	}

	require.NoError(t, store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		all, err := tx.ListTransactions(ctx, "g1", models.TransactionFilter{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, "C", all[0].PayerID)
		assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt))
		for _, txn := range all {
			assert.Len(t, txn.Splits, 1)
		}

		byA, err := tx.ListTransactions(ctx, "g1", models.TransactionFilter{PayerID: "A"})
		require.NoError(t, err)
		assert.Len(t, byA, 2)

		page, err := tx.ListTransactions(ctx, "g1", models.TransactionFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "A", page[0].PayerID)
		assert.Equal(t, "B", page[1].PayerID)

		window, err := tx.ListTransactions(ctx, "g1", models.TransactionFilter{
			Since: base.Add(time.Minute),
			Until: base.Add(3 * time.Minute),
		})
		require.NoError(t, err)
		assert.Len(t, window, 2)
		return nil
	}))
}

func TestListTransactionsAcrossSplitBatches(t *testing.T) {
	prev := splitBatchSize
	splitBatchSize = 2
	t.Cleanup(func() { splitBatchSize = prev })

	store := newTestStore(t)
	seedGroup(t, store, "A", "B", "C")
	ctx := context.Background()

	want := make(map[string]bool)
	for i := 0; i < 7; i++ {
		txn := newTxn("A", "30.00", "JPY", "B", "10.00", "C", "20.00")
		insert(t, store, txn)
		want[txn.ID] = true
	}

	require.NoError(t, store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		all, err := tx.ListTransactions(ctx, "g1", models.TransactionFilter{})
		require.NoError(t, err)
		require.Len(t, all, 7)
		for _, txn := range all {
			assert.True(t, want[txn.ID])
			require.Len(t, txn.Splits, 2, "transaction %s", txn.ID)
			assert.Equal(t, "B", txn.Splits[0].MemberID)
			assert.Equal(t, "C", txn.Splits[1].MemberID)
		}

		deferred, err := tx.ListDeferred(ctx, "g1")
		require.NoError(t, err)
		require.Len(t, deferred, 7)
		for _, txn := range deferred {
			assert.Len(t, txn.Splits, 2)
		}
		return nil
	}))
}

func TestDeferredRates(t *testing.T) {
	store := newTestStore(t)
	seedGroup(t, store, "A", "B")
	ctx := context.Background()

	deferred := newTxn("A", "1000", "JPY", "B", "1000")
	insert(t, store, deferred)
	resolved := newTxn("A", "10.00", "USD", "B", "10.00")
	resolved.ExchangeRate = decimal.NewNullDecimal(decimal.NewFromInt(1))
	insert(t, store, resolved)

	require.NoError(t, store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		pending, err := tx.ListDeferred(ctx, "")
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, deferred.ID, pending[0].ID)

		fill := storage.RateFill{TransactionID: deferred.ID, Currency: "JPY", Base: "USD", Rate: dec("0.0067")}

		wrongCurrency := fill
		wrongCurrency.Currency = "EUR"
		changed, err := tx.FillExchangeRate(ctx, wrongCurrency)
		require.NoError(t, err)
		assert.False(t, changed, "currency no longer matches")

		wrongBase := fill
		wrongBase.Base = "EUR"
		changed, err = tx.FillExchangeRate(ctx, wrongBase)
		require.NoError(t, err)
		assert.False(t, changed, "group base no longer matches")

		changed, err = tx.FillExchangeRate(ctx, fill)
		require.NoError(t, err)
		assert.True(t, changed)

		fill.Rate = dec("0.0070")
		changed, err = tx.FillExchangeRate(ctx, fill)
		require.NoError(t, err)
		assert.False(t, changed)

		got, err := tx.GetTransaction(ctx, deferred.ID)
		require.NoError(t, err)
		assert.Equal(t, "0.0067", got.ExchangeRate.Decimal.String())

		pending, err = tx.ListDeferred(ctx, "g1")
		require.NoError(t, err)
		assert.Empty(t, pending)
		return nil
	}))
}

func TestDeleteCascades(t *testing.T) {
	store := newTestStore(t)
	seedGroup(t, store, "A", "B")
	ctx := context.Background()

	first := newTxn("A", "10.00", "USD", "B", "10.00")
	insert(t, store, first)
	second := newTxn("A", "20.00", "USD", "B", "20.00")
	insert(t, store, second)

	require.NoError(t, store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, tx.DeleteTransaction(ctx, first.ID))
		assert.ErrorIs(t, tx.DeleteTransaction(ctx, first.ID), storage.ErrNotFound)
		return tx.DeleteGroup(ctx, "g1")
	}))

	var splitRows int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM splits").Scan(&splitRows))
	assert.Zero(t, splitRows)

	require.NoError(t, store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.GetTransaction(ctx, second.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		ids, err := tx.ActiveMemberIDs(ctx, "g1")
		require.NoError(t, err)
		assert.Empty(t, ids)
		return nil
	}))
}

func TestViewDiscardsWrites(t *testing.T) {
	store := newTestStore(t)
	seedGroup(t, store, "A", "B")
	ctx := context.Background()

	txn := newTxn("A", "10.00", "USD", "B", "10.00")
	require.NoError(t, store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertTransaction(ctx, txn)
	}))

	require.NoError(t, store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.GetTransaction(ctx, txn.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	}))
}

func TestRateCache(t *testing.T) {
	store := newTestStore(t)
	cache := store.RateCache()
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "USD")
	require.NoError(t, err)
	assert.False(t, ok)

	next := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
	require.NoError(t, cache.Put(ctx, &models.RateTable{
		Base:          "USD",
		AsOf:          time.Now().UTC(),
		NextRefreshAt: next,
		Rates:         map[string]decimal.Decimal{"JPY": dec("149.87")},
	}))
	require.NoError(t, cache.Put(ctx, &models.RateTable{
		Base:          "USD",
		AsOf:          time.Now().UTC(),
		NextRefreshAt: next,
		Rates:         map[string]decimal.Decimal{"JPY": dec("150.01")},
	}))

	got, ok, err := cache.Get(ctx, "USD")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, next.Equal(got.NextRefreshAt))
	jpy, ok := got.Rate("JPY")
	require.True(t, ok)
	assert.Equal(t, "150.01", jpy.String())
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	v, err := Migrate(path)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	v, err = Migrate(path)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
}
