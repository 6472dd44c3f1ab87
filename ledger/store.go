/*
store.go - Persistence interfaces for ledger entries and balances

PURPOSE:
  Defines the interface between the engines and the database. Different
  implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:            Entry persistence plus the balance projection cache
  TxStore:          Transactional operations (atomic multi-write workflows)
  EligibilityStore: Per-member discount flags

ORDERING CONTRACT:
  List() returns entries ordered by DueDate ascending, ties broken by
  CreatedAt then ID. The payment allocator depends on this ordering for
  oldest-due-first distribution.

ATOMICITY:
  Multi-step workflows (issue fee + consume credit + refresh balance) run
  inside WithTx. Implementations must make the enclosed reads and writes
  atomic; the engines additionally serialize per member.

SEE ALSO:
  - store/memory.go: In-memory implementation for tests
  - store/sqlite (top-level): Production SQLite implementation
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// ENTRY FILTER
// =============================================================================

// EntryFilter narrows List queries. Nil/empty fields match everything.
type EntryFilter struct {
	MemberID     *MemberID
	Kinds        []EntryKind
	FeeType      *FeeType
	Statuses     []EntryStatus
	EventID      *EventID
	FixtureID    *FixtureID
	MatchEventID *MatchEventID
	Season       *string
	DueBefore    *time.Time
	DueAfter     *time.Time
}

// Matches reports whether an entry satisfies the filter.
// Shared by the memory store and tests; SQL stores translate to WHERE clauses.
func (f EntryFilter) Matches(e *LedgerEntry) bool {
	if f.MemberID != nil && e.MemberID != *f.MemberID {
		return false
	}
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, e.Kind) {
		return false
	}
	if f.FeeType != nil && e.FeeType != *f.FeeType {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, e.Status) {
		return false
	}
	if f.EventID != nil && e.EventID != *f.EventID {
		return false
	}
	if f.FixtureID != nil && e.FixtureID != *f.FixtureID {
		return false
	}
	if f.MatchEventID != nil && e.MatchEventID != *f.MatchEventID {
		return false
	}
	if f.Season != nil && e.Season != *f.Season {
		return false
	}
	if f.DueBefore != nil && !e.DueDate.Before(*f.DueBefore) {
		return false
	}
	if f.DueAfter != nil && !e.DueDate.After(*f.DueAfter) {
		return false
	}
	return true
}

func containsKind(ks []EntryKind, k EntryKind) bool {
	for _, c := range ks {
		if c == k {
			return true
		}
	}
	return false
}

func containsStatus(ss []EntryStatus, s EntryStatus) bool {
	for _, c := range ss {
		if c == s {
			return true
		}
	}
	return false
}

// OutstandingStatuses are the statuses that still need payment.
var OutstandingStatuses = []EntryStatus{StatusDue, StatusPartial, StatusOverdue}

// =============================================================================
// STORE - Entry persistence plus the balance projection cache
// =============================================================================

type Store interface {
	// Insert persists a new entry. Fails if the ID exists.
	Insert(ctx context.Context, e *LedgerEntry) error

	// Update replaces an existing entry. ErrEntryNotFound if absent.
	Update(ctx context.Context, e *LedgerEntry) error

	// Delete removes an entry. Used only by the refund handler.
	Delete(ctx context.Context, id EntryID) error

	// Get returns an entry by ID. ErrEntryNotFound if absent.
	Get(ctx context.Context, id EntryID) (*LedgerEntry, error)

	// List returns entries matching the filter, ordered by DueDate ascending
	// (ties: CreatedAt, then ID).
	List(ctx context.Context, filter EntryFilter) ([]*LedgerEntry, error)

	// GetBalance returns the cached balance projection for a member.
	// A member with no history has a zero balance, not an error.
	GetBalance(ctx context.Context, memberID MemberID) (BalanceProjection, error)

	// SaveBalance upserts the balance projection.
	SaveBalance(ctx context.Context, b BalanceProjection) error
}

// TxStore wraps Store with transaction support.
// If fn returns an error the transaction is rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// ELIGIBILITY STORE - Read-mostly dependency of the fee issuer
// =============================================================================

type EligibilityStore interface {
	// ActiveEligibility returns a discount flag applying at asOf, or nil.
	// Any active unexpired flag qualifies for the eligibility discount.
	ActiveEligibility(ctx context.Context, memberID MemberID, asOf time.Time) (*DiscountEligibility, error)

	// SaveEligibility persists a flag. Returns DuplicateEligibilityError when
	// an active flag of the same type already exists for the member.
	SaveEligibility(ctx context.Context, d DiscountEligibility) error

	// ListEligibility returns all flags for a member.
	ListEligibility(ctx context.Context, memberID MemberID) ([]DiscountEligibility, error)
}
