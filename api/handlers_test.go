package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubledger/finance-engine/api"
	"github.com/clubledger/finance-engine/config"
	"github.com/clubledger/finance-engine/engine"
	"github.com/clubledger/finance-engine/gateway"
	"github.com/clubledger/finance-engine/ledger"
	"github.com/clubledger/finance-engine/ledger/store"
)

// =============================================================================
// TEST SERVER
// =============================================================================

type testServer struct {
	srv *httptest.Server
	eng *engine.Engine
	mem *store.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	eng := engine.New(mem, mem, config.Default())
	handler := api.NewHandler(eng, gateway.NewFake(), "GBP")
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, eng: eng, mem: mem}
}

func (ts *testServer) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.srv.URL + path)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func issueMatchFee(t *testing.T, ts *testServer, member ledger.MemberID, fixture ledger.FixtureID) *ledger.LedgerEntry {
	t.Helper()
	entry, err := ts.eng.IssueFee(context.Background(), engine.IssueInput{
		MemberID:  member,
		FeeType:   ledger.FeeMatch,
		DueDate:   time.Now().AddDate(0, 0, 7),
		FixtureID: fixture,
	})
	require.NoError(t, err)
	return entry
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestSubmitPayment_CapturesAndAllocates(t *testing.T) {
	// GIVEN: A member owing 5.00
	// WHEN: They pay 8.00 by card
	// THEN: The fee settles, 3.00 is banked, and the receipt comes back

	ts := newTestServer(t)
	fee := issueMatchFee(t, ts, "m-1", "fx-1")

	resp := ts.post(t, "/api/members/m-1/payments", api.SubmitPaymentRequest{
		Token: "tok-visa", Amount: "8.00",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decode[api.PaymentResultDTO](t, resp)
	assert.Equal(t, "8.00", result.Amount)
	assert.Equal(t, "5.00", result.DebtPaid)
	assert.Equal(t, "3.00", result.CreditAdded)
	assert.Equal(t, []string{string(fee.ID)}, result.EntriesPaid)
	assert.Equal(t, "3.00", result.CurrentBalance)
	assert.NotEmpty(t, result.ReceiptURL)
}

func TestSubmitPayment_Declined_SafeMessageOnly(t *testing.T) {
	// GIVEN: A card the provider declines for insufficient funds
	// THEN: 402 with the user-safe message; the raw detail stays out of the body

	ts := newTestServer(t)
	issueMatchFee(t, ts, "m-1", "fx-1")

	resp := ts.post(t, "/api/members/m-1/payments", api.SubmitPaymentRequest{
		Token: "decline:insufficient_funds", Amount: "5.00",
	})
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	body := decode[map[string]string](t, resp)
	assert.Equal(t, "Your card has insufficient funds.", body["error"])
	assert.Equal(t, "insufficient_funds", body["code"])
	assert.NotContains(t, body["error"], "fake gateway")
}

func TestSubmitPayment_PayBalanceFlow(t *testing.T) {
	// GIVEN: A member owing 5.00 + 3.00
	// WHEN: They pay with no amount specified
	// THEN: Exactly the outstanding total is charged

	ts := newTestServer(t)
	ctx := context.Background()
	issueMatchFee(t, ts, "m-1", "fx-1")
	_, err := ts.eng.IssueTrainingFee(ctx, engine.Attendance{
		MemberID: "m-1", EventID: "ev-1", DueDate: time.Now().AddDate(0, 0, 3),
	})
	require.NoError(t, err)

	resp := ts.post(t, "/api/members/m-1/payments", api.SubmitPaymentRequest{Token: "tok-visa"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decode[api.PaymentResultDTO](t, resp)
	assert.Equal(t, "8.00", result.Amount)
	assert.Equal(t, "8.00", result.DebtPaid)
	assert.Equal(t, "0.00", result.CreditAdded)
}

func TestSubmitPayment_PayBalanceWithNothingDue_Rejected(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.post(t, "/api/members/m-1/payments", api.SubmitPaymentRequest{Token: "tok-visa"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitPayment_MissingToken_Rejected(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.post(t, "/api/members/m-1/payments", api.SubmitPaymentRequest{Amount: "5.00"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// BALANCE AND ENTRIES
// =============================================================================

func TestGetBalance(t *testing.T) {
	ts := newTestServer(t)
	issueMatchFee(t, ts, "m-1", "fx-1")

	resp := ts.get(t, "/api/members/m-1/balance")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	balance := decode[api.BalanceDTO](t, resp)
	assert.Equal(t, "m-1", balance.MemberID)
	assert.Equal(t, "-5.00", balance.CurrentBalance)
	assert.Equal(t, "5.00", balance.TotalDue)
}

func TestListEntries_StatusFilter(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	fee := issueMatchFee(t, ts, "m-1", "fx-1")
	issueMatchFee(t, ts, "m-1", "fx-2")
	_, err := ts.eng.MarkPaid(ctx, fee.ID, ledger.MethodCash, "treasurer")
	require.NoError(t, err)

	resp := ts.get(t, "/api/members/m-1/entries?status=PAID")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	entries := decode[[]api.EntryDTO](t, resp)
	require.Len(t, entries, 1)
	assert.Equal(t, string(fee.ID), entries[0].ID)
	assert.Equal(t, "PAID", entries[0].Status)
}

// =============================================================================
// ENTRY ADMINISTRATION
// =============================================================================

func TestMarkPaid_UnknownEntry_NotFound(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.post(t, "/api/entries/no-such-entry/mark-paid", api.MarkPaidRequest{MarkedBy: "treasurer"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMarkPaid_Twice_BadRequest(t *testing.T) {
	ts := newTestServer(t)
	fee := issueMatchFee(t, ts, "m-1", "fx-1")
	path := "/api/entries/" + string(fee.ID) + "/mark-paid"

	resp := ts.post(t, path, api.MarkPaidRequest{MarkedBy: "treasurer"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.post(t, path, api.MarkPaidRequest{MarkedBy: "treasurer"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteEntry_PaidFee_ReturnsRefund(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	fee := issueMatchFee(t, ts, "m-1", "fx-1")
	_, err := ts.eng.MarkPaid(ctx, fee.ID, ledger.MethodCash, "treasurer")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, ts.srv.URL+"/api/entries/"+string(fee.ID), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	refund := decode[api.EntryDTO](t, resp)
	assert.Equal(t, "REFUND", refund.Kind)
	assert.Equal(t, "5.00", refund.PaidAmount)
}

func TestDeleteEntry_UnpaidFee_NoContent(t *testing.T) {
	ts := newTestServer(t)
	fee := issueMatchFee(t, ts, "m-1", "fx-1")

	req, err := http.NewRequest(http.MethodDelete, ts.srv.URL+"/api/entries/"+string(fee.ID), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestCreateAdjustment(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.post(t, "/api/members/m-1/adjustments", api.AdjustmentRequest{
		Amount: "-2.50", Reason: "kit damage", MarkedBy: "treasurer",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	entry := decode[api.EntryDTO](t, resp)
	assert.Equal(t, "ADJUSTMENT", entry.Kind)
	assert.Equal(t, "kit damage", entry.Notes)
}

// =============================================================================
// TRIGGERS
// =============================================================================

func TestTriggerAttendance(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.post(t, "/api/triggers/attendance", api.AttendanceRequest{
		MemberID: "m-1", EventID: "ev-1", DueDate: "2025-04-01",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	issued := decode[api.IssuedDTO](t, resp)
	require.Len(t, issued.Issued, 1)
	assert.Equal(t, "TRAINING", issued.Issued[0].FeeType)
	assert.Equal(t, "3.00", issued.Issued[0].FinalAmount)
}

func TestTriggerTeamSelection(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.post(t, "/api/triggers/team-selection", api.TeamSelectionRequest{
		FixtureID:   "fx-1",
		Starting:    []string{"m-1", "m-2"},
		Substitutes: []string{"m-3"},
		DueDate:     "2025-04-01",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	issued := decode[api.IssuedDTO](t, resp)
	assert.Len(t, issued.Issued, 3)
}

func TestTriggerMatchEvents_CardFeesAndMinutes(t *testing.T) {
	// GIVEN: A fixture with match fees issued and events carrying a yellow
	//        card and a substitution at minute 40
	// WHEN: The match events trigger fires
	// THEN: A card fine is issued and the substituted player's fee is halved

	ts := newTestServer(t)
	ctx := context.Background()
	fee := issueMatchFee(t, ts, "m-1", "fx-1")

	resp := ts.post(t, "/api/triggers/match-events", api.MatchEventsRequest{
		FixtureID: "fx-1",
		Events: []api.MatchEventRequest{
			{ID: "me-1", Type: "YELLOW_CARD", Minute: 30, MemberID: "m-1"},
			{ID: "me-2", Type: "SUBSTITUTION", Minute: 40, MemberID: "m-9", SubstitutedForID: "m-1"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	issued := decode[api.IssuedDTO](t, resp)
	require.Len(t, issued.Issued, 1)
	assert.Equal(t, "YELLOW_CARD", issued.Issued[0].FeeType)

	after, err := ts.mem.Get(ctx, fee.ID)
	require.NoError(t, err)
	assert.Equal(t, "2.50", after.Final.String())
	require.NotNil(t, after.MinutesPlayed)
	assert.Equal(t, 40, *after.MinutesPlayed)
}

func TestTriggerEventFeesAndCancellation(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.post(t, "/api/triggers/event-fees", api.EventFeesRequest{
		EventID:  "ev-1",
		Kind:     "SOCIAL",
		Cost:     "10.00",
		StartsAt: time.Now().AddDate(0, 0, 3).Format(time.RFC3339),
		RSVPs: []api.RSVPRequest{
			{MemberID: "m-1", Status: "YES"},
			{MemberID: "m-2", Status: "NO"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	issued := decode[api.IssuedDTO](t, resp)
	require.Len(t, issued.Issued, 1)

	resp = ts.post(t, "/api/triggers/event-cancelled", api.EventCancelledRequest{EventID: "ev-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reversed := decode[map[string]int](t, resp)
	assert.Equal(t, 1, reversed["reversed"])
}

func TestTriggerSubscriptions(t *testing.T) {
	ts := newTestServer(t)

	req := api.SubscriptionsRequest{
		MemberIDs: []string{"m-1", "m-2"},
		Season:    "2025/26",
		DueDate:   "2025-09-01",
	}
	resp := ts.post(t, "/api/triggers/subscriptions", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	issued := decode[api.IssuedDTO](t, resp)
	require.Len(t, issued.Issued, 2)
	assert.Equal(t, "120.00", issued.Issued[0].FinalAmount)

	// Re-running the same season issues nothing new.
	resp = ts.post(t, "/api/triggers/subscriptions", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	m := ledger.MemberID("m-1")
	entries, err := ts.mem.List(context.Background(), ledger.EntryFilter{MemberID: &m})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.get(t, "/api/health")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
