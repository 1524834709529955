package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mmynk/groupledger/internal/models"
	"github.com/mmynk/groupledger/internal/storage"
)

// InsertGroup inserts a new group.
func (t *tx) InsertGroup(ctx context.Context, g *models.Group) error {
	query := `
		INSERT INTO groups (id, name, base_currency, created_by, created_at, archived, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := t.tx.ExecContext(ctx, query,
		g.ID,
		g.Name,
		g.BaseCurrency,
		g.CreatedBy,
		toMillis(g.CreatedAt),
		g.Archived,
		nullMillis(g.DeletedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("group %s: %w", g.ID, storage.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}

	return nil
}

// GetGroup retrieves a group by ID.
func (t *tx) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	query := `
		SELECT id, name, base_currency, created_by, created_at, archived, deleted_at
		FROM groups
		WHERE id = ?
	`

	var (
		g         models.Group
		createdAt int64
		deletedAt sql.NullInt64
	)
	err := t.tx.QueryRowContext(ctx, query, id).Scan(
		&g.ID,
		&g.Name,
		&g.BaseCurrency,
		&g.CreatedBy,
		&createdAt,
		&g.Archived,
		&deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	g.CreatedAt = fromMillis(createdAt)
	g.DeletedAt = timePtr(deletedAt)
	return &g, nil
}

// UpdateGroup writes the mutable group fields.
func (t *tx) UpdateGroup(ctx context.Context, g *models.Group) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE groups SET name = ?, base_currency = ?, archived = ?, deleted_at = ? WHERE id = ?",
		g.Name, g.BaseCurrency, g.Archived, nullMillis(g.DeletedAt), g.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	return expectRow(res, "group", g.ID)
}

// DeleteGroup hard-deletes a group; foreign keys cascade to the rest.
func (t *tx) DeleteGroup(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM groups WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return expectRow(res, "group", id)
}

// GetMembership retrieves the membership row for (group, member), active or not.
func (t *tx) GetMembership(ctx context.Context, groupID, memberID string) (*models.Membership, error) {
	query := `
		SELECT group_id, member_id, is_admin, joined_at, left_at
		FROM memberships
		WHERE group_id = ? AND member_id = ?
	`

	m, err := scanMembership(t.tx.QueryRowContext(ctx, query, groupID, memberID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %s in group %s: %w", memberID, groupID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// PutMembership inserts the membership or overwrites the existing row.
func (t *tx) PutMembership(ctx context.Context, m *models.Membership) error {
	query := `
		INSERT INTO memberships (group_id, member_id, is_admin, joined_at, left_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (group_id, member_id) DO UPDATE SET
			is_admin = excluded.is_admin,
			joined_at = excluded.joined_at,
			left_at = excluded.left_at
	`

	_, err := t.tx.ExecContext(ctx, query,
		m.GroupID,
		m.MemberID,
		m.IsAdmin,
		toMillis(m.JoinedAt),
		nullMillis(m.LeftAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save membership: %w", err)
	}
	return nil
}

// ListMemberships lists a group's memberships ordered by join time.
func (t *tx) ListMemberships(ctx context.Context, groupID string, activeOnly bool) ([]models.Membership, error) {
	query := `
		SELECT group_id, member_id, is_admin, joined_at, left_at
		FROM memberships
		WHERE group_id = ?
	`
	if activeOnly {
		query += " AND left_at IS NULL"
	}
	query += " ORDER BY joined_at, member_id"

	rows, err := t.tx.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var out []models.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}
	return out, nil
}

// ActiveMemberIDs returns the ids of the group's current members.
func (t *tx) ActiveMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT member_id FROM memberships WHERE group_id = ? AND left_at IS NULL ORDER BY member_id",
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate active members: %w", err)
	}
	return ids, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMembership(row scanner) (*models.Membership, error) {
	var (
		m        models.Membership
		joinedAt int64
		leftAt   sql.NullInt64
	)
	if err := row.Scan(&m.GroupID, &m.MemberID, &m.IsAdmin, &joinedAt, &leftAt); err != nil {
		return nil, err
	}
	m.JoinedAt = fromMillis(joinedAt)
	m.LeftAt = timePtr(leftAt)
	return &m, nil
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	return nil
}
