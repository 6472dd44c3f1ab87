/*
allocate.go - Payment allocation across outstanding fees

PURPOSE:
  Takes a confirmed incoming payment and distributes it across the member's
  outstanding fee entries, banking any excess as a credit entry.

ALLOCATION RULES:
  1. totalDue = sum of (final - paid) over DUE/PARTIAL/OVERDUE fee entries
  2. debt = min(amount, totalDue); credit = amount - debt
  3. Entries absorb the debt pool oldest due date first (ties by creation
     order); each takes up to its own remaining balance
  4. A positive credit remainder becomes exactly one CREDIT entry (PAID
     immediately, Paid = unconsumed amount)

MONEY CONSERVATION:
  For any member, sum(paid) - sum(final over FEE entries) changes by exactly
  the externally supplied amount - never more, never less. The whole
  allocation runs in one transaction under the member's lock.

SEE ALSO:
  - issue.go: consumeCredit, the mirror path that spends banked credit
*/
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clubledger/finance-engine/ledger"
)

// AllocationResult reports how an incoming payment was applied.
type AllocationResult struct {
	DebtPaid    ledger.Money
	CreditAdded ledger.Money
	EntriesPaid []ledger.EntryID
	Balance     ledger.BalanceProjection
}

// AllocatePayment distributes a confirmed payment across the member's
// outstanding fees, oldest due first, and banks any excess as credit.
func (e *Engine) AllocatePayment(ctx context.Context, memberID ledger.MemberID, amount ledger.Money, externalPaymentID string, method ledger.PaymentMethod) (AllocationResult, error) {
	if !amount.IsPositive() {
		return AllocationResult{}, ledger.ErrInvalidAmount
	}
	if method == "" {
		method = ledger.MethodCard
	}

	now := e.now()
	unlock := e.locks.lock(memberID)
	defer unlock()

	var result AllocationResult
	err := e.store.WithTx(ctx, func(s ledger.Store) error {
		outstanding, err := s.List(ctx, ledger.EntryFilter{
			MemberID: &memberID,
			Kinds:    []ledger.EntryKind{ledger.KindFee},
			Statuses: ledger.OutstandingStatuses,
		})
		if err != nil {
			return err
		}

		totalDue := ledger.TotalDue(outstanding)
		debt := amount.Min(totalDue)
		creditAmount := amount.Sub(debt)

		pool := debt
		for _, entry := range outstanding {
			if !pool.IsPositive() {
				break
			}
			take := pool.Min(entry.Outstanding())
			if !take.IsPositive() {
				continue
			}
			entry.Paid = entry.Paid.Add(take)
			entry.Method = method
			entry.Status = ledger.DeriveStatus(entry.Paid, entry.Final, entry.DueDate, now)
			if entry.Status == ledger.StatusPaid {
				paidAt := now
				entry.PaidDate = &paidAt
			}
			entry.UpdatedAt = now
			if err := s.Update(ctx, entry); err != nil {
				return err
			}
			result.EntriesPaid = append(result.EntriesPaid, entry.ID)
			pool = pool.Sub(take)
		}

		if creditAmount.IsPositive() {
			notes := "overpayment"
			if externalPaymentID != "" {
				notes = fmt.Sprintf("overpayment (payment %s)", externalPaymentID)
			}
			credit := ledger.NewCredit(ledger.EntryID(uuid.NewString()), memberID, ledger.KindCredit, creditAmount, notes, now)
			credit.Method = method
			if err := s.Insert(ctx, credit); err != nil {
				return err
			}
		}

		balance, err := ledger.RefreshBalance(ctx, s, memberID, now)
		if err != nil {
			return err
		}

		result.DebtPaid = debt
		result.CreditAdded = creditAmount
		result.Balance = balance
		return nil
	})
	if err != nil {
		return AllocationResult{}, err
	}
	return result, nil
}

// TotalDue returns the member's outstanding obligation total. Used by the
// pay-balance flow, which rejects a payment request when nothing is due.
func (e *Engine) TotalDue(ctx context.Context, memberID ledger.MemberID) (ledger.Money, error) {
	outstanding, err := e.store.List(ctx, ledger.EntryFilter{
		MemberID: &memberID,
		Kinds:    []ledger.EntryKind{ledger.KindFee},
		Statuses: ledger.OutstandingStatuses,
	})
	if err != nil {
		return ledger.ZeroMoney(), err
	}
	return ledger.TotalDue(outstanding), nil
}

// Balance returns the member's cached balance projection.
func (e *Engine) Balance(ctx context.Context, memberID ledger.MemberID) (ledger.BalanceProjection, error) {
	return e.store.GetBalance(ctx, memberID)
}

// RecomputeBalance rebuilds the projection from the full entry history,
// repairing any cache drift.
func (e *Engine) RecomputeBalance(ctx context.Context, memberID ledger.MemberID) (ledger.BalanceProjection, error) {
	unlock := e.locks.lock(memberID)
	defer unlock()

	var balance ledger.BalanceProjection
	err := e.store.WithTx(ctx, func(s ledger.Store) error {
		var err error
		balance, err = ledger.RefreshBalance(ctx, s, memberID, e.now())
		return err
	})
	return balance, err
}

// =============================================================================
// MANUAL PAYMENT MARKS AND ADJUSTMENTS (admin surface)
// =============================================================================

// MarkPaid settles a single entry in full, recording who marked it.
// Marking an already-paid entry is an InvalidState error.
func (e *Engine) MarkPaid(ctx context.Context, entryID ledger.EntryID, method ledger.PaymentMethod, markedBy string) (*ledger.LedgerEntry, error) {
	now := e.now()

	entry, err := e.store.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.lock(entry.MemberID)
	defer unlock()

	err = e.store.WithTx(ctx, func(s ledger.Store) error {
		entry, err = s.Get(ctx, entryID)
		if err != nil {
			return err
		}
		if entry.Status == ledger.StatusPaid {
			return &ledger.AlreadyPaidError{EntryID: entryID}
		}
		entry.Paid = entry.Final
		entry.Status = ledger.StatusPaid
		paidAt := now
		entry.PaidDate = &paidAt
		entry.Method = method
		entry.MarkedBy = markedBy
		entry.UpdatedAt = now
		if err := s.Update(ctx, entry); err != nil {
			return err
		}
		_, err = ledger.RefreshBalance(ctx, s, entry.MemberID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// MarkPaidBulk settles many entries; failures are collected per entry so one
// already-paid record doesn't block the rest.
func (e *Engine) MarkPaidBulk(ctx context.Context, entryIDs []ledger.EntryID, method ledger.PaymentMethod, markedBy string) (paid []ledger.EntryID, failed map[ledger.EntryID]error) {
	failed = make(map[ledger.EntryID]error)
	for _, id := range entryIDs {
		if _, err := e.MarkPaid(ctx, id, method, markedBy); err != nil {
			failed[id] = err
			continue
		}
		paid = append(paid, id)
	}
	return paid, failed
}

// Adjust applies a manual balance correction with a reason. Positive amounts
// credit the member; negative amounts reduce their balance.
func (e *Engine) Adjust(ctx context.Context, memberID ledger.MemberID, amount ledger.Money, reason, markedBy string) (*ledger.LedgerEntry, error) {
	if amount.IsZero() {
		return nil, ledger.ErrInvalidAmount
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: adjustment requires a reason", ledger.ErrInvalidAmount)
	}

	now := e.now()
	unlock := e.locks.lock(memberID)
	defer unlock()

	adjustment := ledger.NewCredit(ledger.EntryID(uuid.NewString()), memberID, ledger.KindAdjustment, amount, reason, now)
	adjustment.Method = ledger.MethodManual
	adjustment.MarkedBy = markedBy

	err := e.store.WithTx(ctx, func(s ledger.Store) error {
		if err := s.Insert(ctx, adjustment); err != nil {
			return err
		}
		_, err := ledger.RefreshBalance(ctx, s, memberID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return adjustment, nil
}
