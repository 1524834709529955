// Package groups is the group and membership directory the ledger reads
// from: who is in a group, who administers it, and the group lifecycle.
package groups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/groupledger/internal/ledger"
	"github.com/mmynk/groupledger/internal/models"
	"github.com/mmynk/groupledger/internal/money"
	"github.com/mmynk/groupledger/internal/storage"
)

var (
	// ErrInvalidGroup is returned for a malformed group name or currency.
	ErrInvalidGroup = errors.New("invalid group")

	// ErrAlreadyMember is returned when adding a member who is already active.
	ErrAlreadyMember = errors.New("already a member")
)

// LastMemberLeftHook runs inside the transaction that removed the group's
// last active member.
type LastMemberLeftHook func(ctx context.Context, tx storage.Tx, g *models.Group) error

// SoftDeleteWhenEmpty marks the group deleted.
func SoftDeleteWhenEmpty(ctx context.Context, tx storage.Tx, g *models.Group) error {
	now := time.Now().UTC()
	g.DeletedAt = &now
	return tx.UpdateGroup(ctx, g)
}

// Directory manages groups and memberships.
type Directory struct {
	store          storage.Store
	lastMemberLeft LastMemberLeftHook
	logger         *slog.Logger
	now            func() time.Time
}

// Option configures a Directory.
type Option func(*Directory)

// WithLastMemberLeft replaces the default soft-delete hook.
func WithLastMemberLeft(h LastMemberLeftHook) Option {
	return func(d *Directory) { d.lastMemberLeft = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Directory) { d.logger = l }
}

// NewDirectory creates a Directory.
func NewDirectory(store storage.Store, opts ...Option) *Directory {
	d := &Directory{
		store:          store,
		lastMemberLeft: SoftDeleteWhenEmpty,
		logger:         slog.Default(),
		now:            func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidGroup)
	}
	return name, nil
}

func validCurrency(code string) (string, error) {
	c, err := money.NormalizeCode(code)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidGroup, err)
	}
	return c, nil
}

// access loads a live group and the requester's active membership.
func access(ctx context.Context, tx storage.Tx, groupID, requester string) (*models.Group, *models.Membership, error) {
	g, err := tx.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && g.IsDeleted()) {
		return nil, nil, fmt.Errorf("group %s: %w", groupID, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, nil, err
	}
	m, err := tx.GetMembership(ctx, groupID, requester)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !m.Active()) {
		return nil, nil, fmt.Errorf("member %s is not in group %s: %w", requester, groupID, ledger.ErrForbidden)
	}
	if err != nil {
		return nil, nil, err
	}
	return g, m, nil
}

func adminAccess(ctx context.Context, tx storage.Tx, groupID, requester string) (*models.Group, error) {
	g, m, err := access(ctx, tx, groupID, requester)
	if err != nil {
		return nil, err
	}
	if !m.IsAdmin {
		return nil, fmt.Errorf("member %s is not an admin of group %s: %w", requester, groupID, ledger.ErrForbidden)
	}
	return g, nil
}

// CreateGroup creates a group with requester as its first admin.
func (d *Directory) CreateGroup(ctx context.Context, requester, name, baseCurrency string) (*models.Group, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}
	base, err := validCurrency(baseCurrency)
	if err != nil {
		return nil, err
	}

	now := d.now()
	g := &models.Group{
		ID:           uuid.New().String(),
		Name:         name,
		BaseCurrency: base,
		CreatedBy:    requester,
		CreatedAt:    now,
	}
	err = d.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertGroup(ctx, g); err != nil {
			return err
		}
		return tx.PutMembership(ctx, &models.Membership{GroupID: g.ID, MemberID: requester, IsAdmin: true, JoinedAt: now})
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("group created", "group_id", g.ID, "member_id", requester, "currency", base)
	return g, nil
}

// GetGroup returns a group to one of its current members.
func (d *Directory) GetGroup(ctx context.Context, requester, groupID string) (*models.Group, error) {
	var g *models.Group
	err := d.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		g, _, err = access(ctx, tx, groupID, requester)
		return err
	})
	return g, err
}

// UpdateGroup renames a group or changes its base currency. A base currency
// change re-derives every stored multiplier: transactions already in the new
// base get 1 and the rest are deferred until the next read or repair.
func (d *Directory) UpdateGroup(ctx context.Context, requester, groupID string, name, baseCurrency *string) (*models.Group, error) {
	var g *models.Group
	err := d.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if g, err = adminAccess(ctx, tx, groupID, requester); err != nil {
			return err
		}
		if g.Archived {
			return fmt.Errorf("group %s: %w", groupID, ledger.ErrGroupArchived)
		}
		if name != nil {
			if g.Name, err = validName(*name); err != nil {
				return err
			}
		}
		if baseCurrency != nil {
			base, err := validCurrency(*baseCurrency)
			if err != nil {
				return err
			}
			if base != g.BaseCurrency {
				g.BaseCurrency = base
				n, err := tx.ResetExchangeRates(ctx, g.ID, base)
				if err != nil {
					return err
				}
				d.logger.Info("group base currency changed", "group_id", g.ID, "currency", base, "transactions", n)
			}
		}
		return tx.UpdateGroup(ctx, g)
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// AddMember adds memberID to the group, or reactivates their earlier
// membership if they left.
func (d *Directory) AddMember(ctx context.Context, requester, groupID, memberID string, admin bool) (*models.Membership, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return nil, fmt.Errorf("%w: member id is required", ErrInvalidGroup)
	}

	var m *models.Membership
	err := d.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		g, err := adminAccess(ctx, tx, groupID, requester)
		if err != nil {
			return err
		}
		if g.Archived {
			return fmt.Errorf("group %s: %w", groupID, ledger.ErrGroupArchived)
		}

		m, err = tx.GetMembership(ctx, groupID, memberID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			m = &models.Membership{GroupID: groupID, MemberID: memberID}
		case err != nil:
			return err
		case m.Active():
			return fmt.Errorf("member %s in group %s: %w", memberID, groupID, ErrAlreadyMember)
		}
		m.IsAdmin = admin
		m.JoinedAt = d.now()
		m.LeftAt = nil
		return tx.PutMembership(ctx, m)
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("member added", "group_id", groupID, "member_id", memberID)
	return m, nil
}

// RemoveMember ends memberID's membership. Members may remove themselves;
// removing anyone else takes an admin. When the last active member goes, the
// LastMemberLeft hook runs in the same transaction.
func (d *Directory) RemoveMember(ctx context.Context, requester, groupID, memberID string) error {
	err := d.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		g, self, err := access(ctx, tx, groupID, requester)
		if err != nil {
			return err
		}
		if memberID != requester && !self.IsAdmin {
			return fmt.Errorf("member %s may not remove %s: %w", requester, memberID, ledger.ErrForbidden)
		}

		m, err := tx.GetMembership(ctx, groupID, memberID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && !m.Active()) {
			return fmt.Errorf("member %s in group %s: %w", memberID, groupID, ledger.ErrNotFound)
		}
		if err != nil {
			return err
		}
		left := d.now()
		m.LeftAt = &left
		if err := tx.PutMembership(ctx, m); err != nil {
			return err
		}

		remaining, err := tx.ActiveMemberIDs(ctx, groupID)
		if err != nil {
			return err
		}
		if len(remaining) == 0 && d.lastMemberLeft != nil {
			d.logger.Info("last member left group", "group_id", groupID)
			return d.lastMemberLeft(ctx, tx, g)
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.logger.Info("member removed", "group_id", groupID, "member_id", memberID)
	return nil
}

// SetArchived archives or unarchives a group. Setting the current state again
// is not an error.
func (d *Directory) SetArchived(ctx context.Context, requester, groupID string, archived bool) (*models.Group, error) {
	var g *models.Group
	err := d.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if g, err = adminAccess(ctx, tx, groupID, requester); err != nil {
			return err
		}
		if g.Archived == archived {
			return nil
		}
		g.Archived = archived
		return tx.UpdateGroup(ctx, g)
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// DeleteGroup soft-deletes a group, or with hard set removes it together
// with its memberships, transactions and splits.
func (d *Directory) DeleteGroup(ctx context.Context, requester, groupID string, hard bool) error {
	err := d.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		g, err := adminAccess(ctx, tx, groupID, requester)
		if err != nil {
			return err
		}
		if hard {
			return tx.DeleteGroup(ctx, g.ID)
		}
		now := d.now()
		g.DeletedAt = &now
		return tx.UpdateGroup(ctx, g)
	})
	if err != nil {
		return err
	}

	d.logger.Info("group deleted", "group_id", groupID, "member_id", requester, "hard", hard)
	return nil
}

// ListMembers lists the group's memberships; includeLeft adds former members.
func (d *Directory) ListMembers(ctx context.Context, requester, groupID string, includeLeft bool) ([]models.Membership, error) {
	var out []models.Membership
	err := d.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, _, err := access(ctx, tx, groupID, requester); err != nil {
			return err
		}
		var err error
		out, err = tx.ListMemberships(ctx, groupID, !includeLeft)
		return err
	})
	return out, err
}
