/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Engine and API packages wrap these with additional context.

ERROR CATEGORIES:
  1. NotFound     - referenced member/entry/event is absent
  2. Conflict     - duplicate active discount eligibility of the same type
  3. InvalidState - re-paying a PAID entry, negative final amount,
                    balance payment with nothing due
  4. Store errors - database-level failures

NOT ERRORS:
  Duplicate fee issuance for the same trigger is a silent idempotent no-op.

USAGE:
  if errors.Is(err, ledger.ErrAlreadyPaid) { ... }

SEE ALSO:
  - gateway/gateway.go: GatewayDeclined errors live with the gateway contract
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMemberNotFound is returned when a referenced member doesn't exist.
	ErrMemberNotFound = errors.New("member not found")

	// ErrEntryNotFound is returned when a referenced ledger entry doesn't exist.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrEventNotFound is returned when a referenced event doesn't exist.
	ErrEventNotFound = errors.New("event not found")

	// ErrDuplicateEligibility is returned when creating a second active
	// discount eligibility of the same type for a member.
	ErrDuplicateEligibility = errors.New("duplicate active discount eligibility")

	// ErrAlreadyPaid is returned when marking an already-PAID entry as paid.
	ErrAlreadyPaid = errors.New("entry already paid")

	// ErrNegativeFinal is returned when a discount would push a fee below zero.
	ErrNegativeFinal = errors.New("negative final amount")

	// ErrNothingDue is returned when a balance payment is requested and the
	// member has no outstanding fees.
	ErrNothingDue = errors.New("nothing due")

	// ErrInvalidAmount is returned for zero or negative payment amounts.
	ErrInvalidAmount = errors.New("invalid amount")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NegativeFinalError reports the amounts that violated the fee invariant.
type NegativeFinalError struct {
	Base     Money
	Discount Money
}

func (e *NegativeFinalError) Error() string {
	return fmt.Sprintf("negative final amount: base %s, discount %s", e.Base, e.Discount)
}

func (e *NegativeFinalError) Unwrap() error { return ErrNegativeFinal }

// AlreadyPaidError identifies the entry a caller tried to pay twice.
type AlreadyPaidError struct {
	EntryID EntryID
}

func (e *AlreadyPaidError) Error() string {
	return fmt.Sprintf("entry %s is already paid", e.EntryID)
}

func (e *AlreadyPaidError) Unwrap() error { return ErrAlreadyPaid }

// DuplicateEligibilityError identifies the conflicting discount flag.
type DuplicateEligibilityError struct {
	MemberID     MemberID
	DiscountType DiscountType
}

func (e *DuplicateEligibilityError) Error() string {
	return fmt.Sprintf("member %s already has an active %s eligibility", e.MemberID, e.DiscountType)
}

func (e *DuplicateEligibilityError) Unwrap() error { return ErrDuplicateEligibility }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMemberNotFound) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrEventNotFound)
}

// IsConflict returns true for uniqueness violations.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateEligibility)
}

// IsInvalidState returns true when the request contradicts current ledger state.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrAlreadyPaid) ||
		errors.Is(err, ErrNegativeFinal) ||
		errors.Is(err, ErrNothingDue) ||
		errors.Is(err, ErrInvalidAmount)
}
