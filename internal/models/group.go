package models

import "time"

// Group is a shared-expense group. Every transaction in the group is settled in BaseCurrency.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string

	// Name is the display name of the group (e.g., "Roommates", "Ski Trip").
	Name string

	// BaseCurrency is the currency code dues are computed in (3-8 characters, upper case).
	BaseCurrency string

	// CreatedBy is the member id of the creator.
	CreatedBy string

	// CreatedAt is when the group was created.
	CreatedAt time.Time

	// Archived groups are read-only: no mutating ledger operations are accepted.
	Archived bool

	// DeletedAt is set when the group was soft-deleted. Deleted groups accept nothing.
	DeletedAt *time.Time
}

// IsDeleted reports whether the group has been soft-deleted.
func (g *Group) IsDeleted() bool {
	return g.DeletedAt != nil
}

// Membership is one member's participation in a group.
// There is exactly one row per (group, member) pair; leaving sets LeftAt and
// re-joining clears it.
type Membership struct {
	GroupID  string
	MemberID string
	IsAdmin  bool
	JoinedAt time.Time
	LeftAt   *time.Time
}

// Active reports whether the member currently belongs to the group.
func (m *Membership) Active() bool {
	return m.LeftAt == nil
}
