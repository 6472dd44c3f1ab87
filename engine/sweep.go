/*
sweep.go - Overdue promotion

PURPOSE:
  Scheduled sweep promoting stale unpaid fee entries to OVERDUE. An entry
  qualifies once its due date is more than 30 days in the past and it is not
  fully paid. Both DUE and PARTIAL entries are swept; a part-paid fee is
  still late.

  The sweep never touches amounts, so balances are unaffected. Duplicate
  prevention for scheduled issuance lives in the issuer's existence checks,
  not here.
*/
package engine

import (
	"context"
	"time"

	"github.com/clubledger/finance-engine/ledger"
)

// SweepOverdue promotes unpaid fee entries more than OverdueAfterDays past
// due to OVERDUE. Returns how many entries were promoted.
func (e *Engine) SweepOverdue(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.AddDate(0, 0, -ledger.OverdueAfterDays)

	promoted := 0
	err := e.store.WithTx(ctx, func(s ledger.Store) error {
		stale, err := s.List(ctx, ledger.EntryFilter{
			Kinds:     []ledger.EntryKind{ledger.KindFee},
			Statuses:  []ledger.EntryStatus{ledger.StatusDue, ledger.StatusPartial},
			DueBefore: &cutoff,
		})
		if err != nil {
			return err
		}

		for _, entry := range stale {
			entry.Status = ledger.StatusOverdue
			entry.UpdatedAt = now
			if err := s.Update(ctx, entry); err != nil {
				return err
			}
			promoted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return promoted, nil
}
