package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/groupledger/internal/models"
	"github.com/mmynk/groupledger/internal/storage"
)

const transactionColumns = `
	id, group_id, payer_id, creator_id, title, memo, total_amount, currency,
	exchange_rate, created_at, updated_at
`

// InsertTransaction persists a transaction and its splits.
func (t *tx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	// Generate IDs if not set
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	if txn.UpdatedAt.IsZero() {
		txn.UpdatedAt = txn.CreatedAt
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.GroupID,
		txn.PayerID,
		txn.CreatorID,
		txn.Title,
		txn.Memo,
		txn.TotalAmount,
		txn.Currency,
		txn.ExchangeRate,
		toMillis(txn.CreatedAt),
		toMillis(txn.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	return t.insertSplits(ctx, txn)
}

func (t *tx) insertSplits(ctx context.Context, txn *models.Transaction) error {
	for i := range txn.Splits {
		s := &txn.Splits[i]
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		s.TransactionID = txn.ID

		_, err := t.tx.ExecContext(ctx,
			"INSERT INTO splits (id, transaction_id, member_id, amount, note, position) VALUES (?, ?, ?, ?, ?, ?)",
			s.ID, s.TransactionID, s.MemberID, s.Amount, s.Note, i,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("split for member %s: %w", s.MemberID, storage.ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("failed to insert split: %w", err)
		}
	}
	return nil
}

// GetTransaction retrieves a transaction with its splits.
func (t *tx) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	if err := t.loadSplits(ctx, []*models.Transaction{txn}); err != nil {
		return nil, err
	}
	return txn, nil
}

// UpdateTransaction overwrites the transaction row and replaces its splits.
func (t *tx) UpdateTransaction(ctx context.Context, txn *models.Transaction) error {
	if txn.UpdatedAt.IsZero() {
		txn.UpdatedAt = time.Now().UTC()
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE transactions
		SET payer_id = ?, title = ?, memo = ?, total_amount = ?, currency = ?,
			exchange_rate = ?, updated_at = ?
		WHERE id = ?`,
		txn.PayerID,
		txn.Title,
		txn.Memo,
		txn.TotalAmount,
		txn.Currency,
		txn.ExchangeRate,
		toMillis(txn.UpdatedAt),
		txn.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if err := expectRow(res, "transaction", txn.ID); err != nil {
		return err
	}

	if _, err := t.tx.ExecContext(ctx, "DELETE FROM splits WHERE transaction_id = ?", txn.ID); err != nil {
		return fmt.Errorf("failed to clear splits: %w", err)
	}
	for i := range txn.Splits {
		txn.Splits[i].ID = ""
	}
	return t.insertSplits(ctx, txn)
}

// DeleteTransaction removes a transaction; its splits cascade.
func (t *tx) DeleteTransaction(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return expectRow(res, "transaction", id)
}

// ListTransactions lists a group's transactions, newest first.
func (t *tx) ListTransactions(ctx context.Context, groupID string, f models.TransactionFilter) ([]models.Transaction, error) {
	var (
		where = []string{"group_id = ?"}
		args  = []any{groupID}
	)
	if f.PayerID != "" {
		where = append(where, "payer_id = ?")
		args = append(args, f.PayerID)
	}
	if f.CreatorID != "" {
		where = append(where, "creator_id = ?")
		args = append(args, f.CreatorID)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, toMillis(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, toMillis(f.Until))
	}

	query := "SELECT " + transactionColumns + " FROM transactions WHERE " +
		strings.Join(where, " AND ") + " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	return t.queryTransactions(ctx, query, args...)
}

// ListDeferred lists transactions with a null multiplier, oldest first.
func (t *tx) ListDeferred(ctx context.Context, groupID string) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE exchange_rate IS NULL
		  AND group_id IN (SELECT id FROM groups WHERE deleted_at IS NULL)`
	var args []any
	if groupID != "" {
		query += " AND group_id = ?"
		args = append(args, groupID)
	}
	query += " ORDER BY created_at, rowid"

	return t.queryTransactions(ctx, query, args...)
}

// FillExchangeRate stores a resolved multiplier. Rows edited to another
// currency, or whose group base changed, since the rate was resolved are left
// alone.
func (t *tx) FillExchangeRate(ctx context.Context, f storage.RateFill) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE transactions SET exchange_rate = ?
		WHERE id = ?
		  AND exchange_rate IS NULL
		  AND currency = ?
		  AND (SELECT base_currency FROM groups WHERE groups.id = transactions.group_id) = ?`,
		f.Rate, f.TransactionID, f.Currency, f.Base,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set exchange rate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return n > 0, nil
}

// ResetExchangeRates sets the multiplier to 1 for transactions in base and
// clears it for every other transaction in the group.
func (t *tx) ResetExchangeRates(ctx context.Context, groupID, base string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE transactions
		SET exchange_rate = CASE WHEN currency = ? THEN '1' ELSE NULL END
		WHERE group_id = ?`,
		base, groupID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset exchange rates: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return n, nil
}

func (t *tx) queryTransactions(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	var out []*models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, txn)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	rows.Close()

	if err := t.loadSplits(ctx, out); err != nil {
		return nil, err
	}

	result := make([]models.Transaction, len(out))
	for i, txn := range out {
		result[i] = *txn
	}
	return result, nil
}

// splitBatchSize caps the ids bound per splits query, well under SQLite's
// host parameter limit.
var splitBatchSize = 500

// loadSplits fills Splits for every transaction in txns, one query per
// splitBatchSize transactions.
func (t *tx) loadSplits(ctx context.Context, txns []*models.Transaction) error {
	byID := make(map[string]*models.Transaction, len(txns))
	for _, txn := range txns {
		byID[txn.ID] = txn
		txn.Splits = nil
	}

	for start := 0; start < len(txns); start += splitBatchSize {
		end := min(start+splitBatchSize, len(txns))
		if err := t.loadSplitBatch(ctx, byID, txns[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) loadSplitBatch(ctx context.Context, byID map[string]*models.Transaction, batch []*models.Transaction) error {
	args := make([]any, len(batch))
	for i, txn := range batch {
		args[i] = txn.ID
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, transaction_id, member_id, amount, note
		FROM splits
		WHERE transaction_id IN (`+repeatPlaceholder(len(batch))+`)
		ORDER BY transaction_id, position`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to get splits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.Split
		if err := rows.Scan(&s.ID, &s.TransactionID, &s.MemberID, &s.Amount, &s.Note); err != nil {
			return fmt.Errorf("failed to scan split: %w", err)
		}
		if txn, ok := byID[s.TransactionID]; ok {
			txn.Splits = append(txn.Splits, s)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate splits: %w", err)
	}
	return nil
}

func scanTransaction(row scanner) (*models.Transaction, error) {
	var (
		txn                  models.Transaction
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&txn.ID,
		&txn.GroupID,
		&txn.PayerID,
		&txn.CreatorID,
		&txn.Title,
		&txn.Memo,
		&txn.TotalAmount,
		&txn.Currency,
		&txn.ExchangeRate,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	txn.CreatedAt = fromMillis(createdAt)
	txn.UpdatedAt = fromMillis(updatedAt)
	return &txn, nil
}

// repeatPlaceholder returns "?, ?, ?" for n placeholders.
func repeatPlaceholder(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
