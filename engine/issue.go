/*
issue.go - Fee issuance with discounts, idempotency, and credit consumption

PURPOSE:
  Creates fee entries in response to external triggers: attendance marks,
  team selections, card events, RSVPs, and subscription requests.

ISSUANCE PIPELINE (IssueFee):
  1. Resolve the base amount (explicit, or from fee configuration)
  2. Apply the eligibility discount (active UNEMPLOYED/STUDENT flag = 50%)
  3. Idempotency check: an entry already issued for the same trigger makes
     issuance a silent no-op that returns the existing entry
  4. Insert the new entry
  5. Consume available credit against it, oldest credit first
  6. Refresh the member's balance projection

  Steps 3-6 run inside one store transaction under the member's lock.

IDEMPOTENCY KEYS BY FEE TYPE:
  TRAINING, SOCIAL_EVENT: (member, event, feeType)
  MATCH:                  (member, fixture)
  YELLOW_CARD, RED_CARD:  (matchEvent)
  YEARLY_SUBS:            (member, season)

  This existence check is the sole duplicate-prevention guarantee; the
  scheduler's last-run timestamp is recorded for display only.

BEST-EFFORT SEMANTICS:
  Multi-member paths (team selections, RSVP lists, subscriptions) log and
  skip individual failures rather than aborting the batch - a fee creation
  failure must never fail the triggering workflow.
*/
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/clubledger/finance-engine/ledger"
)

// IssueInput describes one fee to issue.
type IssueInput struct {
	MemberID ledger.MemberID
	FeeType  ledger.FeeType

	// Base overrides the configured amount when non-nil.
	Base *ledger.Money

	DueDate      time.Time
	EventID      ledger.EventID
	FixtureID    ledger.FixtureID
	MatchEventID ledger.MatchEventID
	Season       string
	Role         ledger.SelectionRole
	Notes        string
	MarkedBy     string
}

// IssueFee creates a fee entry, applying the eligibility discount and
// consuming any banked credit. Re-issuing for the same trigger is a no-op
// that returns the existing entry.
func (e *Engine) IssueFee(ctx context.Context, in IssueInput) (*ledger.LedgerEntry, error) {
	base, err := e.resolveBase(in)
	if err != nil {
		return nil, err
	}

	now := e.now()
	discount := ledger.ZeroMoney()
	flag, err := e.elig.ActiveEligibility(ctx, in.MemberID, now)
	if err != nil {
		return nil, err
	}
	if flag != nil {
		discount = base.Mul(ledger.EligibilityRate)
	}

	unlock := e.locks.lock(in.MemberID)
	defer unlock()

	var entry *ledger.LedgerEntry
	err = e.store.WithTx(ctx, func(s ledger.Store) error {
		existing, err := findExisting(ctx, s, in)
		if err != nil {
			return err
		}
		if existing != nil {
			entry = existing
			return nil
		}

		entry, err = ledger.NewFee(ledger.EntryID(uuid.NewString()), in.MemberID, in.FeeType, base, discount, in.DueDate, now)
		if err != nil {
			return err
		}
		entry.EventID = in.EventID
		entry.FixtureID = in.FixtureID
		entry.MatchEventID = in.MatchEventID
		entry.Season = in.Season
		entry.Role = in.Role
		entry.Notes = in.Notes
		entry.MarkedBy = in.MarkedBy
		if err := s.Insert(ctx, entry); err != nil {
			return err
		}

		if err := consumeCredit(ctx, s, entry, now); err != nil {
			return err
		}

		_, err = ledger.RefreshBalance(ctx, s, in.MemberID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (e *Engine) resolveBase(in IssueInput) (ledger.Money, error) {
	if in.Base != nil {
		return *in.Base, nil
	}
	base, ok := e.fees.BaseAmount(in.FeeType)
	if !ok {
		return ledger.ZeroMoney(), fmt.Errorf("no active fee configuration for %s", in.FeeType)
	}
	return base, nil
}

// findExisting implements the per-trigger idempotency check.
// A nil result means no prior entry and issuance may proceed.
func findExisting(ctx context.Context, s ledger.Store, in IssueInput) (*ledger.LedgerEntry, error) {
	filter := ledger.EntryFilter{
		MemberID: &in.MemberID,
		Kinds:    []ledger.EntryKind{ledger.KindFee},
		FeeType:  &in.FeeType,
	}

	switch in.FeeType {
	case ledger.FeeTraining, ledger.FeeSocialEvent:
		if in.EventID == "" {
			return nil, nil
		}
		filter.EventID = &in.EventID
	case ledger.FeeMatch:
		if in.FixtureID == "" {
			return nil, nil
		}
		filter.FixtureID = &in.FixtureID
	case ledger.FeeYellowCard, ledger.FeeRedCard:
		if in.MatchEventID == "" {
			return nil, nil
		}
		filter.MatchEventID = &in.MatchEventID
	case ledger.FeeYearlySubs:
		if in.Season == "" {
			return nil, nil
		}
		filter.Season = &in.Season
	default:
		return nil, nil
	}

	matches, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

// =============================================================================
// CREDIT CONSUMPTION - Invoked immediately after fee creation
// =============================================================================

// consumeCredit applies the member's banked credit to a freshly issued fee,
// oldest credit first. Must run inside the issuing transaction.
func consumeCredit(ctx context.Context, s ledger.Store, entry *ledger.LedgerEntry, now time.Time) error {
	if !entry.IsOutstanding() {
		return nil
	}

	credits, err := s.List(ctx, ledger.EntryFilter{
		MemberID: &entry.MemberID,
		Kinds:    []ledger.EntryKind{ledger.KindCredit, ledger.KindRefund},
	})
	if err != nil {
		return err
	}

	available := ledger.AvailableCredit(credits)
	if !available.IsPositive() {
		return nil
	}

	consume := available.Min(entry.Outstanding())

	// Apply to the fee.
	entry.Paid = entry.Paid.Add(consume)
	entry.Method = ledger.MethodCreditAllocation
	entry.Status = ledger.DeriveStatus(entry.Paid, entry.Final, entry.DueDate, now)
	if entry.Status == ledger.StatusPaid {
		paidAt := now
		entry.PaidDate = &paidAt
	}
	entry.UpdatedAt = now
	if err := s.Update(ctx, entry); err != nil {
		return err
	}

	// Drain credit entries oldest-first by the consumed amount.
	remaining := consume
	for _, c := range credits {
		if !remaining.IsPositive() {
			break
		}
		if !c.Paid.IsPositive() {
			continue
		}
		take := c.Paid.Min(remaining)
		c.Paid = c.Paid.Sub(take)
		c.UpdatedAt = now
		if err := s.Update(ctx, c); err != nil {
			return err
		}
		remaining = remaining.Sub(take)
	}
	return nil
}

// =============================================================================
// SPECIALIZED ISSUANCE PATHS
// =============================================================================

// IssueTrainingFee issues one fee per attendance mark, keyed by event ID.
// Duplicate attendance marks never duplicate the fee.
func (e *Engine) IssueTrainingFee(ctx context.Context, a Attendance) (*ledger.LedgerEntry, error) {
	return e.IssueFee(ctx, IssueInput{
		MemberID: a.MemberID,
		FeeType:  ledger.FeeTraining,
		DueDate:  a.DueDate,
		EventID:  a.EventID,
	})
}

// IssueMatchFees issues one fee per selected member, tagged STARTING or
// SUBSTITUTE. Individual failures are logged and skipped so a bad member
// record never blocks the rest of the selection.
func (e *Engine) IssueMatchFees(ctx context.Context, sel TeamSelection) []*ledger.LedgerEntry {
	var issued []*ledger.LedgerEntry

	issue := func(memberID ledger.MemberID, role ledger.SelectionRole) {
		entry, err := e.IssueFee(ctx, IssueInput{
			MemberID:  memberID,
			FeeType:   ledger.FeeMatch,
			DueDate:   sel.DueDate,
			FixtureID: sel.FixtureID,
			Role:      role,
		})
		if err != nil {
			log.Printf("[Issuer] match fee for %s (fixture %s) failed: %v", memberID, sel.FixtureID, err)
			return
		}
		issued = append(issued, entry)
	}

	for _, m := range sel.Starting {
		issue(m, ledger.RoleStarting)
	}
	for _, m := range sel.Substitutes {
		issue(m, ledger.RoleSubstitute)
	}
	return issued
}

// IssueEventFees issues a social-event fee for every member whose RSVP is
// YES. Skipped entirely when the event is not social or has no cost.
func (e *Engine) IssueEventFees(ctx context.Context, ev Event, rsvps []RSVP) []*ledger.LedgerEntry {
	if ev.Kind != EventSocial || !ev.Cost.IsPositive() {
		return nil
	}

	var issued []*ledger.LedgerEntry
	for _, r := range rsvps {
		if r.Status != RSVPYes || r.EventID != ev.ID {
			continue
		}
		cost := ev.Cost
		entry, err := e.IssueFee(ctx, IssueInput{
			MemberID: r.MemberID,
			FeeType:  ledger.FeeSocialEvent,
			Base:     &cost,
			DueDate:  ev.StartsAt,
			EventID:  ev.ID,
		})
		if err != nil {
			log.Printf("[Issuer] event fee for %s (event %s) failed: %v", r.MemberID, ev.ID, err)
			continue
		}
		issued = append(issued, entry)
	}
	return issued
}

// IssueCardFee issues a fine for a yellow or red card match event.
func (e *Engine) IssueCardFee(ctx context.Context, me MatchEvent) (*ledger.LedgerEntry, error) {
	var feeType ledger.FeeType
	switch me.Type {
	case EventYellowCard:
		feeType = ledger.FeeYellowCard
	case EventRedCard:
		feeType = ledger.FeeRedCard
	default:
		return nil, nil
	}

	return e.IssueFee(ctx, IssueInput{
		MemberID:     me.MemberID,
		FeeType:      feeType,
		DueDate:      e.now(),
		FixtureID:    me.FixtureID,
		MatchEventID: me.ID,
	})
}

// IssueSubscriptions issues a yearly subscription fee for each member in the
// admin-supplied list, tagged with the season so duplicates are detected.
// The amount may be explicit or come from configuration.
func (e *Engine) IssueSubscriptions(ctx context.Context, memberIDs []ledger.MemberID, season string, amount *ledger.Money, dueDate time.Time) []*ledger.LedgerEntry {
	var issued []*ledger.LedgerEntry
	for _, m := range memberIDs {
		entry, err := e.IssueFee(ctx, IssueInput{
			MemberID: m,
			FeeType:  ledger.FeeYearlySubs,
			Base:     amount,
			DueDate:  dueDate,
			Season:   season,
		})
		if err != nil {
			log.Printf("[Issuer] subscription for %s (season %s) failed: %v", m, season, err)
			continue
		}
		issued = append(issued, entry)
	}
	return issued
}
