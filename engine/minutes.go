/*
minutes.go - Minutes-played discount for match fees

PURPOSE:
  Once a fixture's match events are finalized, every match fee tied to that
  fixture is revisited. Members who played under 60 minutes have their fee
  halved.

MINUTES CALCULATION:
  Default: 90 (played the whole match)
  Substituted off at minute M: played M
  Substituted on  at minute M: played 90 - M

DISCOUNT SEMANTICS:
  The minutes discount REPLACES any existing discount on the entry: it is
  recomputed from the original base amount, not compounded. A member with an
  eligibility discount who also played under 60 minutes ends up with a single
  50% discount either way.
*/
package engine

import (
	"context"
	"log"

	"github.com/clubledger/finance-engine/ledger"
)

// MinutesPlayed derives a member's appearance length from the fixture's
// substitution events.
func MinutesPlayed(memberID ledger.MemberID, events []MatchEvent) int {
	for _, ev := range events {
		if ev.Type != EventSubstitution {
			continue
		}
		if ev.SubstitutedForID == memberID {
			return ev.Minute
		}
	}
	for _, ev := range events {
		if ev.Type == EventSubstitution && ev.MemberID == memberID {
			return FullMatchMinutes - ev.Minute
		}
	}
	return FullMatchMinutes
}

// ApplyMinutesDiscounts revisits every match fee tied to a fixture and
// applies (or clears) the under-60-minutes discount. Returns how many
// entries were updated. Per-entry failures are logged and skipped.
func (e *Engine) ApplyMinutesDiscounts(ctx context.Context, fixtureID ledger.FixtureID, events []MatchEvent) int {
	feeType := ledger.FeeMatch
	entries, err := e.store.List(ctx, ledger.EntryFilter{
		Kinds:     []ledger.EntryKind{ledger.KindFee},
		FeeType:   &feeType,
		FixtureID: &fixtureID,
	})
	if err != nil {
		log.Printf("[Minutes] listing match fees for fixture %s failed: %v", fixtureID, err)
		return 0
	}

	updated := 0
	for _, entry := range entries {
		minutes := MinutesPlayed(entry.MemberID, events)
		if err := e.applyMinutes(ctx, entry.ID, entry.MemberID, minutes); err != nil {
			log.Printf("[Minutes] discount for entry %s failed: %v", entry.ID, err)
			continue
		}
		updated++
	}
	return updated
}

// applyMinutes rewrites one entry's discount from its minutes played.
// Runs under the member's lock in its own transaction; entries are
// independent so there is no cross-member ordering concern.
func (e *Engine) applyMinutes(ctx context.Context, entryID ledger.EntryID, memberID ledger.MemberID, minutes int) error {
	now := e.now()
	unlock := e.locks.lock(memberID)
	defer unlock()

	return e.store.WithTx(ctx, func(s ledger.Store) error {
		entry, err := s.Get(ctx, entryID)
		if err != nil {
			return err
		}

		// Under the threshold the minutes discount replaces whatever discount
		// the entry carries; at or above it, the existing (eligibility)
		// discount stands untouched.
		discount := entry.Discount
		if minutes < MinutesDiscountThreshold {
			discount = entry.Base.Mul(ledger.EligibilityRate)
		}

		final := entry.Base.Sub(discount)
		if final.IsNegative() {
			return &ledger.NegativeFinalError{Base: entry.Base, Discount: discount}
		}

		entry.MinutesPlayed = &minutes
		entry.Discount = discount
		entry.Final = final
		entry.Status = ledger.DeriveStatus(entry.Paid, entry.Final, entry.DueDate, now)
		if entry.Status == ledger.StatusPaid && entry.PaidDate == nil {
			paidAt := now
			entry.PaidDate = &paidAt
		}
		entry.UpdatedAt = now
		if err := s.Update(ctx, entry); err != nil {
			return err
		}

		_, err = ledger.RefreshBalance(ctx, s, memberID, now)
		return err
	})
}
