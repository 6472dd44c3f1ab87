package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubledger/finance-engine/api"
	"github.com/clubledger/finance-engine/config"
	"github.com/clubledger/finance-engine/engine"
	"github.com/clubledger/finance-engine/ledger"
	"github.com/clubledger/finance-engine/ledger/store"
)

// stubEvents serves a fixed upcoming event list to the scheduler.
type stubEvents struct {
	events []engine.Event
	rsvps  map[ledger.EventID][]engine.RSVP
}

func (s *stubEvents) EventsInWindow(_ context.Context, _, _ time.Time) ([]engine.Event, error) {
	return s.events, nil
}

func (s *stubEvents) RSVPs(_ context.Context, eventID ledger.EventID) ([]engine.RSVP, error) {
	return s.rsvps[eventID], nil
}

func TestScheduler_FirstRunSweepsAndIssuesEventFees(t *testing.T) {
	// GIVEN: An upcoming social event with a YES RSVP and no issued fee
	// WHEN: The scheduler starts
	// THEN: Its immediate first pass issues the fee

	mem := store.NewMemory()
	eng := engine.New(mem, mem, config.Default())

	events := &stubEvents{
		events: []engine.Event{{
			ID:       "ev-1",
			Kind:     engine.EventSocial,
			Cost:     ledger.MustParseMoney("10.00"),
			StartsAt: time.Now().Add(12 * time.Hour),
		}},
		rsvps: map[ledger.EventID][]engine.RSVP{
			"ev-1": {{EventID: "ev-1", MemberID: "m-1", Status: engine.RSVPYes}},
		},
	}

	s := api.NewScheduler(eng, events)
	s.CheckInterval = time.Hour
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return !s.LastRun().IsZero()
	}, 2*time.Second, 10*time.Millisecond, "first pass should run immediately")

	m := ledger.MemberID("m-1")
	entries, err := mem.List(context.Background(), ledger.EntryFilter{MemberID: &m})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.FeeSocialEvent, entries[0].FeeType)
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	mem := store.NewMemory()
	eng := engine.New(mem, mem, config.Default())

	s := api.NewScheduler(eng, nil)
	s.CheckInterval = time.Hour
	s.Start()

	s.Stop()
	s.Stop() // second call must not panic or block
}
