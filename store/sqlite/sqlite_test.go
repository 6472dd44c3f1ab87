package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubledger/finance-engine/ledger"
	"github.com/clubledger/finance-engine/store/sqlite"
)

var now = time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)

func money(s string) ledger.Money { return ledger.MustParseMoney(s) }

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// =============================================================================
// ENTRY ROUND-TRIP
// =============================================================================

func TestEntryRoundTrip_AllFields(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	paidAt := now.Add(2 * time.Hour)
	minutes := 45
	entry := &ledger.LedgerEntry{
		ID:            "e-1",
		MemberID:      "m-1",
		Kind:          ledger.KindFee,
		FeeType:       ledger.FeeMatch,
		Base:          money("5.00"),
		Discount:      money("2.50"),
		Final:         money("2.50"),
		Paid:          money("2.50"),
		Status:        ledger.StatusPaid,
		DueDate:       now.AddDate(0, 0, 7),
		PaidDate:      &paidAt,
		EventID:       "ev-1",
		FixtureID:     "fx-1",
		MatchEventID:  "me-1",
		Role:          ledger.RoleSubstitute,
		MinutesPlayed: &minutes,
		Season:        "2025/26",
		Method:        ledger.MethodCard,
		Notes:         "late sub appearance",
		MarkedBy:      "treasurer",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, s.Insert(ctx, entry))

	got, err := s.Get(ctx, "e-1")
	require.NoError(t, err)

	assert.Equal(t, entry.MemberID, got.MemberID)
	assert.Equal(t, entry.Kind, got.Kind)
	assert.Equal(t, entry.FeeType, got.FeeType)
	assert.True(t, got.Base.Equal(entry.Base))
	assert.True(t, got.Discount.Equal(entry.Discount))
	assert.True(t, got.Final.Equal(entry.Final))
	assert.True(t, got.Paid.Equal(entry.Paid))
	assert.Equal(t, entry.Status, got.Status)
	assert.True(t, got.DueDate.Equal(entry.DueDate))
	require.NotNil(t, got.PaidDate)
	assert.True(t, got.PaidDate.Equal(paidAt))
	assert.Equal(t, entry.EventID, got.EventID)
	assert.Equal(t, entry.FixtureID, got.FixtureID)
	assert.Equal(t, entry.MatchEventID, got.MatchEventID)
	assert.Equal(t, entry.Role, got.Role)
	require.NotNil(t, got.MinutesPlayed)
	assert.Equal(t, minutes, *got.MinutesPlayed)
	assert.Equal(t, entry.Season, got.Season)
	assert.Equal(t, entry.Method, got.Method)
	assert.Equal(t, entry.Notes, got.Notes)
	assert.Equal(t, entry.MarkedBy, got.MarkedBy)
}

func TestEntryRoundTrip_NullableFieldsAbsent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	credit := ledger.NewCredit("c-1", "m-1", ledger.KindCredit, money("7.00"), "overpayment", now)
	require.NoError(t, s.Insert(ctx, credit))

	got, err := s.Get(ctx, "c-1")
	require.NoError(t, err)

	assert.Equal(t, ledger.KindCredit, got.Kind)
	assert.Empty(t, got.FeeType)
	assert.Empty(t, got.EventID)
	assert.Nil(t, got.MinutesPlayed)
	assert.True(t, got.Paid.Equal(money("7.00")))
}

func TestGet_Unknown_NotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "no-such-entry")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestUpdateAndDelete_Unknown_NotFound(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ghost, err := ledger.NewFee("e-ghost", "m-1", ledger.FeeMatch, money("5.00"), ledger.ZeroMoney(), now, now)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Update(ctx, ghost), ledger.ErrEntryNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "e-ghost"), ledger.ErrEntryNotFound)
}

// =============================================================================
// LIST FILTERING AND ORDERING
// =============================================================================

func TestList_FiltersAndOrdering(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	insert := func(id ledger.EntryID, member ledger.MemberID, ft ledger.FeeType, due time.Time, status ledger.EntryStatus) {
		fee, err := ledger.NewFee(id, member, ft, money("5.00"), ledger.ZeroMoney(), due, now)
		require.NoError(t, err)
		fee.Status = status
		require.NoError(t, s.Insert(ctx, fee))
	}

	insert("e-1", "m-1", ledger.FeeMatch, now.AddDate(0, 0, 5), ledger.StatusDue)
	insert("e-2", "m-1", ledger.FeeTraining, now.AddDate(0, 0, 1), ledger.StatusPaid)
	insert("e-3", "m-1", ledger.FeeMatch, now.AddDate(0, 0, 3), ledger.StatusOverdue)
	insert("e-4", "m-2", ledger.FeeMatch, now.AddDate(0, 0, 2), ledger.StatusDue)

	m := ledger.MemberID("m-1")

	// Member filter with ordering: due_date ascending.
	got, err := s.List(ctx, ledger.EntryFilter{MemberID: &m})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, ledger.EntryID("e-2"), got[0].ID)
	assert.Equal(t, ledger.EntryID("e-3"), got[1].ID)
	assert.Equal(t, ledger.EntryID("e-1"), got[2].ID)

	// Status filter.
	got, err = s.List(ctx, ledger.EntryFilter{
		MemberID: &m,
		Statuses: []ledger.EntryStatus{ledger.StatusDue, ledger.StatusOverdue},
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Fee type filter.
	ft := ledger.FeeTraining
	got, err = s.List(ctx, ledger.EntryFilter{MemberID: &m, FeeType: &ft})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ledger.EntryID("e-2"), got[0].ID)

	// Due window.
	cutoff := now.AddDate(0, 0, 4)
	got, err = s.List(ctx, ledger.EntryFilter{MemberID: &m, DueBefore: &cutoff})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestList_SubsecondDueDatesKeepOldestFirst(t *testing.T) {
	// GIVEN: Two fees whose due dates differ only by a fraction of a second
	//        (card fees are due the moment they are issued, so subsecond
	//        due dates occur in normal operation)
	// THEN: List still returns the earlier one first, and a due-date cutoff
	//       between the two matches only the earlier one

	s := newStore(t)
	ctx := context.Background()

	onTheSecond := time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)
	halfLater := onTheSecond.Add(500 * time.Millisecond)

	later, err := ledger.NewFee("e-later", "m-1", ledger.FeeYellowCard, money("5.00"), ledger.ZeroMoney(), halfLater, now)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, later))
	earlier, err := ledger.NewFee("e-earlier", "m-1", ledger.FeeYellowCard, money("5.00"), ledger.ZeroMoney(), onTheSecond, now)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, earlier))

	m := ledger.MemberID("m-1")
	got, err := s.List(ctx, ledger.EntryFilter{MemberID: &m})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ledger.EntryID("e-earlier"), got[0].ID)
	assert.Equal(t, ledger.EntryID("e-later"), got[1].ID)

	cutoff := onTheSecond.Add(250 * time.Millisecond)
	got, err = s.List(ctx, ledger.EntryFilter{MemberID: &m, DueBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ledger.EntryID("e-earlier"), got[0].ID)

	// Subsecond times round-trip exactly.
	roundTrip, err := s.Get(ctx, "e-later")
	require.NoError(t, err)
	assert.True(t, roundTrip.DueDate.Equal(halfLater))
}

func TestList_TriggerLinkFilters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	fee, err := ledger.NewFee("e-1", "m-1", ledger.FeeYellowCard, money("5.00"), ledger.ZeroMoney(), now, now)
	require.NoError(t, err)
	fee.FixtureID = "fx-1"
	fee.MatchEventID = "me-1"
	require.NoError(t, s.Insert(ctx, fee))

	me := ledger.MatchEventID("me-1")
	got, err := s.List(ctx, ledger.EntryFilter{MatchEventID: &me})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ledger.EntryID("e-1"), got[0].ID)

	other := ledger.MatchEventID("me-other")
	got, err = s.List(ctx, ledger.EntryFilter{MatchEventID: &other})
	require.NoError(t, err)
	assert.Empty(t, got)
}

// =============================================================================
// BALANCE PROJECTION
// =============================================================================

func TestBalance_UpsertAndDefault(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// Unknown member reads as zero.
	b, err := s.GetBalance(ctx, "m-unknown")
	require.NoError(t, err)
	assert.True(t, b.CurrentBalance.IsZero())

	require.NoError(t, s.SaveBalance(ctx, ledger.BalanceProjection{
		MemberID: "m-1", CurrentBalance: money("-8.00"), LastUpdated: now,
	}))
	require.NoError(t, s.SaveBalance(ctx, ledger.BalanceProjection{
		MemberID: "m-1", CurrentBalance: money("2.00"), LastUpdated: now.Add(time.Hour),
	}))

	b, err = s.GetBalance(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, b.CurrentBalance.Equal(money("2.00")))
	assert.True(t, b.LastUpdated.Equal(now.Add(time.Hour)))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		fee, err := ledger.NewFee("e-1", "m-1", ledger.FeeMatch, money("5.00"), ledger.ZeroMoney(), now, now)
		if err != nil {
			return err
		}
		if err := tx.Insert(ctx, fee); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Get(ctx, "e-1")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		fee, err := ledger.NewFee("e-1", "m-1", ledger.FeeMatch, money("5.00"), ledger.ZeroMoney(), now, now)
		if err != nil {
			return err
		}
		if err := tx.Insert(ctx, fee); err != nil {
			return err
		}
		return tx.SaveBalance(ctx, ledger.BalanceProjection{
			MemberID: "m-1", CurrentBalance: money("-5.00"), LastUpdated: now,
		})
	})
	require.NoError(t, err)

	_, err = s.Get(ctx, "e-1")
	assert.NoError(t, err)
	b, err := s.GetBalance(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, b.CurrentBalance.Equal(money("-5.00")))
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

func TestEligibility_ActiveUniquePerType(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveEligibility(ctx, ledger.DiscountEligibility{
		ID: "elig-1", MemberID: "m-1", DiscountType: ledger.DiscountStudent,
		IsActive: true, StartDate: now.AddDate(0, -1, 0), CreatedAt: now,
	}))

	err := s.SaveEligibility(ctx, ledger.DiscountEligibility{
		ID: "elig-2", MemberID: "m-1", DiscountType: ledger.DiscountStudent,
		IsActive: true, StartDate: now, CreatedAt: now,
	})
	require.Error(t, err)

	var dup *ledger.DuplicateEligibilityError
	assert.ErrorAs(t, err, &dup)
	assert.True(t, ledger.IsConflict(err))

	// Inactive duplicates and other types are allowed.
	assert.NoError(t, s.SaveEligibility(ctx, ledger.DiscountEligibility{
		ID: "elig-3", MemberID: "m-1", DiscountType: ledger.DiscountStudent,
		IsActive: false, StartDate: now, CreatedAt: now,
	}))
	assert.NoError(t, s.SaveEligibility(ctx, ledger.DiscountEligibility{
		ID: "elig-4", MemberID: "m-1", DiscountType: ledger.DiscountUnemployed,
		IsActive: true, StartDate: now, CreatedAt: now,
	}))
}

func TestActiveEligibility_RespectsWindow(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ended := now.AddDate(0, -1, 0)
	require.NoError(t, s.SaveEligibility(ctx, ledger.DiscountEligibility{
		ID: "elig-1", MemberID: "m-1", DiscountType: ledger.DiscountStudent,
		IsActive: true, StartDate: now.AddDate(0, -6, 0), EndDate: &ended, CreatedAt: now,
	}))

	flag, err := s.ActiveEligibility(ctx, "m-1", now)
	require.NoError(t, err)
	assert.Nil(t, flag, "expired flag must not apply")

	flags, err := s.ListEligibility(ctx, "m-1")
	require.NoError(t, err)
	require.Len(t, flags, 1)
	require.NotNil(t, flags[0].EndDate)
	assert.True(t, flags[0].EndDate.Equal(ended))
}
