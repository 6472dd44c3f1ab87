package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubledger/finance-engine/ledger"
	"github.com/clubledger/finance-engine/ledger/store"
)

var now = time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)

func money(s string) ledger.Money { return ledger.MustParseMoney(s) }

func newFee(t *testing.T, id ledger.EntryID, member ledger.MemberID, due time.Time) *ledger.LedgerEntry {
	t.Helper()
	fee, err := ledger.NewFee(id, member, ledger.FeeMatch, money("5.00"), ledger.ZeroMoney(), due, now)
	require.NoError(t, err)
	return fee
}

// =============================================================================
// ORDERING CONTRACT
// =============================================================================

func TestMemory_ListOrdering(t *testing.T) {
	// List must return entries by DueDate ascending, ties by CreatedAt then ID.
	mem := store.NewMemory()
	ctx := context.Background()

	late := newFee(t, "e-late", "m-1", now.AddDate(0, 0, 10))
	early := newFee(t, "e-early", "m-1", now.AddDate(0, 0, 1))
	tieB := newFee(t, "e-tie-b", "m-1", now.AddDate(0, 0, 5))
	tieA := newFee(t, "e-tie-a", "m-1", now.AddDate(0, 0, 5))

	for _, e := range []*ledger.LedgerEntry{late, early, tieB, tieA} {
		require.NoError(t, mem.Insert(ctx, e))
	}

	m := ledger.MemberID("m-1")
	got, err := mem.List(ctx, ledger.EntryFilter{MemberID: &m})
	require.NoError(t, err)

	ids := make([]ledger.EntryID, len(got))
	for i, e := range got {
		ids[i] = e.ID
	}
	assert.Equal(t, []ledger.EntryID{"e-early", "e-tie-a", "e-tie-b", "e-late"}, ids)
}

// =============================================================================
// ISOLATION AND ROLLBACK
// =============================================================================

func TestMemory_GetReturnsCopy(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.Insert(ctx, newFee(t, "e-1", "m-1", now)))

	got, err := mem.Get(ctx, "e-1")
	require.NoError(t, err)
	got.Paid = money("99.00") // mutating the copy must not leak into the store

	again, err := mem.Get(ctx, "e-1")
	require.NoError(t, err)
	assert.True(t, again.Paid.IsZero())
}

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.Insert(ctx, newFee(t, "e-keep", "m-1", now)))

	boom := errors.New("boom")
	err := mem.WithTx(ctx, func(s ledger.Store) error {
		if err := s.Insert(ctx, newFee(t, "e-discard", "m-1", now)); err != nil {
			return err
		}
		if err := s.Delete(ctx, "e-keep"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = mem.Get(ctx, "e-keep")
	assert.NoError(t, err, "pre-existing entry restored")
	_, err = mem.Get(ctx, "e-discard")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound, "inserted entry rolled back")
}

func TestMemory_UpdateUnknown_NotFound(t *testing.T) {
	mem := store.NewMemory()
	err := mem.Update(context.Background(), newFee(t, "e-ghost", "m-1", now))
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

func TestMemory_SecondActiveEligibilityOfSameType_Conflict(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	first := ledger.DiscountEligibility{
		ID: "elig-1", MemberID: "m-1", DiscountType: ledger.DiscountStudent,
		IsActive: true, StartDate: now.AddDate(0, -1, 0),
	}
	require.NoError(t, mem.SaveEligibility(ctx, first))

	second := first
	second.ID = "elig-2"
	err := mem.SaveEligibility(ctx, second)
	require.Error(t, err)
	assert.True(t, ledger.IsConflict(err))

	// A different type is fine.
	other := first
	other.ID = "elig-3"
	other.DiscountType = ledger.DiscountUnemployed
	assert.NoError(t, mem.SaveEligibility(ctx, other))
}

func TestMemory_ActiveEligibility_HonoursWindow(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	ended := now.AddDate(0, -1, 0)
	require.NoError(t, mem.SaveEligibility(ctx, ledger.DiscountEligibility{
		ID: "elig-1", MemberID: "m-1", DiscountType: ledger.DiscountStudent,
		IsActive: true, StartDate: now.AddDate(0, -6, 0), EndDate: &ended,
	}))

	flag, err := mem.ActiveEligibility(ctx, "m-1", now)
	require.NoError(t, err)
	assert.Nil(t, flag, "expired flag must not apply")
}
