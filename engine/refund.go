/*
refund.go - Unified cancellation and refund handling

PURPOSE:
  Reverses fee entries when the triggering record goes away: a social event
  is cancelled, an admin deletes an entry directly, or a card match event is
  removed.

ONE MECHANISM:
  All three call sites funnel through refundEntry: if the entry has any paid
  amount, a REFUND credit entry for that amount is created first, then the
  original entry is deleted. The balance projection is refreshed in the same
  transaction, so the reversal is balance-neutral in aggregate: the member
  ends up exactly where they would be had the fee never been issued (with
  their payment banked as reusable credit).
*/
package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/clubledger/finance-engine/ledger"
)

// DeleteEntry removes a ledger entry, refunding any paid amount as credit.
// Returns the refund credit entry, or nil when nothing had been paid.
func (e *Engine) DeleteEntry(ctx context.Context, entryID ledger.EntryID, markedBy string) (*ledger.LedgerEntry, error) {
	entry, err := e.store.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.lock(entry.MemberID)
	defer unlock()

	var credit *ledger.LedgerEntry
	err = e.store.WithTx(ctx, func(s ledger.Store) error {
		credit, err = e.refundEntry(ctx, s, entryID, markedBy)
		return err
	})
	if err != nil {
		return nil, err
	}
	return credit, nil
}

// CancelEventFees reverses every fee entry linked to a cancelled event.
// Paid amounts come back as credit; unpaid entries simply disappear.
// Per-entry failures are logged and do not block the cancellation.
func (e *Engine) CancelEventFees(ctx context.Context, eventID ledger.EventID) int {
	entries, err := e.store.List(ctx, ledger.EntryFilter{
		Kinds:   []ledger.EntryKind{ledger.KindFee},
		EventID: &eventID,
	})
	if err != nil {
		log.Printf("[Refund] listing fees for event %s failed: %v", eventID, err)
		return 0
	}

	reversed := 0
	for _, entry := range entries {
		unlock := e.locks.lock(entry.MemberID)
		err := e.store.WithTx(ctx, func(s ledger.Store) error {
			_, err := e.refundEntry(ctx, s, entry.ID, "")
			return err
		})
		unlock()
		if err != nil {
			log.Printf("[Refund] reversing entry %s for event %s failed: %v", entry.ID, eventID, err)
			continue
		}
		reversed++
	}
	return reversed
}

// RemoveCardFee reverses the single fee tied to a removed card match event.
// A missing fee is not an error: the card may never have produced one.
func (e *Engine) RemoveCardFee(ctx context.Context, matchEventID ledger.MatchEventID) (*ledger.LedgerEntry, error) {
	entries, err := e.store.List(ctx, ledger.EntryFilter{
		Kinds:        []ledger.EntryKind{ledger.KindFee},
		MatchEventID: &matchEventID,
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	entry := entries[0]
	unlock := e.locks.lock(entry.MemberID)
	defer unlock()

	var credit *ledger.LedgerEntry
	err = e.store.WithTx(ctx, func(s ledger.Store) error {
		credit, err = e.refundEntry(ctx, s, entry.ID, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return credit, nil
}

// refundEntry is the single reversal mechanism: bank the paid portion as a
// REFUND credit, delete the original entry, refresh the balance. Must run
// inside a transaction under the member's lock.
func (e *Engine) refundEntry(ctx context.Context, s ledger.Store, entryID ledger.EntryID, markedBy string) (*ledger.LedgerEntry, error) {
	now := e.now()

	entry, err := s.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}

	var credit *ledger.LedgerEntry
	if entry.Kind == ledger.KindFee && entry.Paid.IsPositive() {
		notes := fmt.Sprintf("refund of %s fee %s", entry.FeeType, entry.ID)
		credit = ledger.NewCredit(ledger.EntryID(uuid.NewString()), entry.MemberID, ledger.KindRefund, entry.Paid, notes, now)
		credit.MarkedBy = markedBy
		if err := s.Insert(ctx, credit); err != nil {
			return nil, err
		}
	}

	if err := s.Delete(ctx, entryID); err != nil {
		return nil, err
	}

	if _, err := ledger.RefreshBalance(ctx, s, entry.MemberID, now); err != nil {
		return nil, err
	}
	return credit, nil
}
