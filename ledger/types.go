/*
Package ledger provides the core financial ledger for club member obligations.

PURPOSE:
  This package contains the domain types and bookkeeping rules for tracking
  what members owe (match fees, training fees, social events, card fines,
  yearly subscriptions), what they have paid, and any banked overpayment
  (credit) available to offset future fees.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal monetary amount (single currency)
  - LedgerEntry: One obligation or credit on a member's account
  - EntryKind: Explicit discriminant (FEE, CREDIT, ADJUSTMENT, REFUND)
  - EntryStatus: DUE, PARTIAL, PAID, OVERDUE - always derivable from amounts

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Derivability: Status is a pure function of paid/final/dueDate
  3. Type Safety: Strong typing for IDs prevents mixing member/entry/event IDs
  4. Conservation: For any member, sum(paid) - sum(final over FEE entries)
     only moves by externally supplied payment amounts

SEE ALSO:
  - balance.go: Balance projection and recomputation
  - store.go: Persistence interfaces
  - errors.go: Sentinel and structured errors
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal monetary amount (single currency)
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

// MustParseMoney parses a decimal string, returning zero on failure.
// Intended for configuration defaults and tests.
func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{Value: decimal.Zero}
	}
	return Money{Value: d}
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money           { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money           { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Value: m.Value.Mul(s)} }
func (m Money) IsNegative() bool            { return m.Value.IsNegative() }
func (m Money) IsZero() bool                { return m.Value.IsZero() }
func (m Money) IsPositive() bool            { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool          { return m.Value.Equal(o.Value) }
func (m Money) LessThan(o Money) bool       { return m.Value.LessThan(o.Value) }
func (m Money) GreaterOrEqual(o Money) bool { return !m.Value.LessThan(o.Value) }
func (m Money) String() string              { return m.Value.StringFixed(2) }

func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MemberID string
type EntryID string
type EventID string
type FixtureID string
type MatchEventID string

// =============================================================================
// ENTRY KIND - Explicit sum-type discriminant
// =============================================================================

type EntryKind string

const (
	KindFee        EntryKind = "FEE"        // Amount owed by a member
	KindCredit     EntryKind = "CREDIT"     // Banked overpayment, consumable against future fees
	KindAdjustment EntryKind = "ADJUSTMENT" // Manual admin correction with a reason
	KindRefund     EntryKind = "REFUND"     // Credit created by reversing a paid fee
)

// =============================================================================
// FEE TYPES
// =============================================================================

type FeeType string

const (
	FeeMatch       FeeType = "MATCH"
	FeeTraining    FeeType = "TRAINING"
	FeeSocialEvent FeeType = "SOCIAL_EVENT"
	FeeYellowCard  FeeType = "YELLOW_CARD"
	FeeRedCard     FeeType = "RED_CARD"
	FeeYearlySubs  FeeType = "YEARLY_SUBS"
)

// =============================================================================
// ENTRY STATUS - Always derivable from amounts and due date
// =============================================================================

type EntryStatus string

const (
	StatusDue     EntryStatus = "DUE"
	StatusPartial EntryStatus = "PARTIAL"
	StatusPaid    EntryStatus = "PAID"
	StatusOverdue EntryStatus = "OVERDUE"
)

// OverdueAfterDays is how long past the due date a fee may stay unpaid
// before the sweeper promotes it to OVERDUE.
const OverdueAfterDays = 30

// DeriveStatus computes the status of a fee entry from its amounts and due
// date. PAID if fully covered, PARTIAL if partly covered, OVERDUE if unpaid
// and more than OverdueAfterDays past due, otherwise DUE.
func DeriveStatus(paid, final Money, dueDate, now time.Time) EntryStatus {
	if paid.GreaterOrEqual(final) {
		return StatusPaid
	}
	if paid.IsPositive() {
		return StatusPartial
	}
	if now.After(dueDate.AddDate(0, 0, OverdueAfterDays)) {
		return StatusOverdue
	}
	return StatusDue
}

// =============================================================================
// PAYMENT METHODS
// =============================================================================

type PaymentMethod string

const (
	MethodCard             PaymentMethod = "CARD"
	MethodCash             PaymentMethod = "CASH"
	MethodBankTransfer     PaymentMethod = "BANK_TRANSFER"
	MethodCreditAllocation PaymentMethod = "CREDIT_ALLOCATION"
	MethodManual           PaymentMethod = "MANUAL"
)

// SelectionRole tags a match fee with how the member featured in the selection.
type SelectionRole string

const (
	RoleStarting   SelectionRole = "STARTING"
	RoleSubstitute SelectionRole = "SUBSTITUTE"
)

// =============================================================================
// LEDGER ENTRY - The central entity
// =============================================================================

// LedgerEntry is one record on a member's account.
//
// For KindFee: Final == Base - Discount (never negative), Paid accumulates
// allocations up to Final.
//
// For KindCredit/KindRefund: Base is zero, Final is the credited amount, and
// Paid is the portion of the credit still unconsumed. Status is always PAID.
//
// For KindAdjustment: Final carries the adjustment amount, Paid mirrors it
// when the adjustment is in the member's favour.
type LedgerEntry struct {
	ID       EntryID
	MemberID MemberID
	Kind     EntryKind
	FeeType  FeeType

	Base     Money
	Discount Money
	Final    Money
	Paid     Money

	Status   EntryStatus
	DueDate  time.Time
	PaidDate *time.Time

	// Links back to the triggering record, when one exists.
	EventID      EventID
	FixtureID    FixtureID
	MatchEventID MatchEventID

	// Match-fee bookkeeping.
	Role          SelectionRole
	MinutesPlayed *int

	// Season tag for yearly subscriptions (duplicate detection).
	Season string

	Method   PaymentMethod
	Notes    string
	MarkedBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewFee builds a fee entry and enforces the amount invariant:
// Final == Base - Discount and Final >= 0.
func NewFee(id EntryID, memberID MemberID, feeType FeeType, base, discount Money, dueDate, now time.Time) (*LedgerEntry, error) {
	final := base.Sub(discount)
	if final.IsNegative() {
		return nil, &NegativeFinalError{Base: base, Discount: discount}
	}
	return &LedgerEntry{
		ID:        id,
		MemberID:  memberID,
		Kind:      KindFee,
		FeeType:   feeType,
		Base:      base,
		Discount:  discount,
		Final:     final,
		Paid:      ZeroMoney(),
		Status:    DeriveStatus(ZeroMoney(), final, dueDate, now),
		DueDate:   dueDate,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NewCredit builds a credit entry of the given kind (KindCredit, KindRefund
// or KindAdjustment). Credits are born fully "paid": Paid tracks how much of
// the credit remains unconsumed.
func NewCredit(id EntryID, memberID MemberID, kind EntryKind, amount Money, notes string, now time.Time) *LedgerEntry {
	paidAt := now
	return &LedgerEntry{
		ID:        id,
		MemberID:  memberID,
		Kind:      kind,
		Base:      ZeroMoney(),
		Discount:  ZeroMoney(),
		Final:     amount,
		Paid:      amount,
		Status:    StatusPaid,
		DueDate:   now,
		PaidDate:  &paidAt,
		Notes:     notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Outstanding returns how much of a fee entry is still unpaid.
// Zero for non-fee kinds and for fully covered fees.
func (e *LedgerEntry) Outstanding() Money {
	if e.Kind != KindFee {
		return ZeroMoney()
	}
	out := e.Final.Sub(e.Paid)
	if out.IsNegative() {
		return ZeroMoney()
	}
	return out
}

// IsOutstanding reports whether the entry still needs payment.
func (e *LedgerEntry) IsOutstanding() bool {
	switch e.Status {
	case StatusDue, StatusPartial, StatusOverdue:
		return e.Kind == KindFee
	}
	return false
}

// BalanceContribution is the entry's share of the member balance:
// payments received minus obligations incurred. Fees contribute
// Paid - Final; credits and adjustments contribute their unconsumed Paid.
func (e *LedgerEntry) BalanceContribution() Money {
	if e.Kind == KindFee {
		return e.Paid.Sub(e.Final)
	}
	return e.Paid
}

// =============================================================================
// DISCOUNT ELIGIBILITY
// =============================================================================

type DiscountType string

const (
	DiscountUnemployed DiscountType = "UNEMPLOYED"
	DiscountStudent    DiscountType = "STUDENT"
)

// EligibilityRate is the fraction of the base amount discounted for members
// holding an active eligibility flag.
var EligibilityRate = decimal.NewFromFloat(0.5)

// DiscountEligibility is a per-member discount flag with a validity window.
// At most one active entry may exist per (member, discount type).
type DiscountEligibility struct {
	ID           string
	MemberID     MemberID
	DiscountType DiscountType
	IsActive     bool
	StartDate    time.Time
	EndDate      *time.Time
	VerifiedBy   string
	CreatedAt    time.Time
}

// AppliesAt reports whether the eligibility is active and unexpired at t.
func (d DiscountEligibility) AppliesAt(t time.Time) bool {
	if !d.IsActive || t.Before(d.StartDate) {
		return false
	}
	if d.EndDate != nil && t.After(*d.EndDate) {
		return false
	}
	return true
}
