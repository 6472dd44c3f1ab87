/*
balance.go - Member balance projection

PURPOSE:
  The balance projection answers "where does this member stand?" It is a
  cached value equal to payments received minus obligations incurred:

    CurrentBalance = sum(Paid over all entries) - sum(Final over FEE entries)

  Negative means the member owes money; positive means banked credit.

SINGLE SOURCE OF TRUTH:
  The ledger entries are authoritative. The projection is a cache that the
  engines refresh inside the same store transaction as every ledger mutation,
  so it can never drift between operations. Recompute() rebuilds it from
  scratch for reconciliation and repair.

SEE ALSO:
  - types.go: LedgerEntry.BalanceContribution
  - store.go: GetBalance/SaveBalance
*/
package ledger

import (
	"context"
	"time"
)

// BalanceProjection is the cached running balance for one member.
type BalanceProjection struct {
	MemberID       MemberID
	CurrentBalance Money
	LastUpdated    time.Time
}

// Recompute derives the balance from a member's full entry history.
func Recompute(entries []*LedgerEntry) Money {
	total := ZeroMoney()
	for _, e := range entries {
		total = total.Add(e.BalanceContribution())
	}
	return total
}

// RefreshBalance recomputes a member's balance from the store and saves the
// projection. Must be called inside the same transaction as the mutation it
// follows.
func RefreshBalance(ctx context.Context, s Store, memberID MemberID, now time.Time) (BalanceProjection, error) {
	entries, err := s.List(ctx, EntryFilter{MemberID: &memberID})
	if err != nil {
		return BalanceProjection{}, err
	}
	b := BalanceProjection{
		MemberID:       memberID,
		CurrentBalance: Recompute(entries),
		LastUpdated:    now,
	}
	if err := s.SaveBalance(ctx, b); err != nil {
		return BalanceProjection{}, err
	}
	return b, nil
}

// TotalDue sums the outstanding portion of a member's unpaid fee entries.
func TotalDue(entries []*LedgerEntry) Money {
	total := ZeroMoney()
	for _, e := range entries {
		if e.IsOutstanding() {
			total = total.Add(e.Outstanding())
		}
	}
	return total
}

// AvailableCredit sums the unconsumed portion of credit-like entries.
func AvailableCredit(entries []*LedgerEntry) Money {
	total := ZeroMoney()
	for _, e := range entries {
		switch e.Kind {
		case KindCredit, KindRefund:
			total = total.Add(e.Paid)
		}
	}
	return total
}
