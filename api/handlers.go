/*
handlers.go - HTTP API handlers for the club finance ledger

PURPOSE:
  Exposes the ledger and its engines via REST. Handles HTTP request/response,
  JSON serialization, and delegates to the engine package.

ENDPOINTS:
  Members:
    GET    /api/members/{id}/balance            Balance summary
    GET    /api/members/{id}/entries            Entry history with filters
    POST   /api/members/{id}/payments           Capture + allocate a payment
    POST   /api/members/{id}/adjustments        Manual balance adjustment
    POST   /api/members/{id}/balance/recompute  Rebuild projection from ledger

  Entries:
    POST   /api/entries/{id}/mark-paid          Settle one entry
    POST   /api/entries/mark-paid               Settle many entries
    DELETE /api/entries/{id}                    Delete with refund

  Triggers (consumed from the rest of the club system):
    POST   /api/triggers/attendance             Training fee
    POST   /api/triggers/team-selection         Match fees
    POST   /api/triggers/match-events           Card fees + minutes discounts
    POST   /api/triggers/event-fees             Social event fees from RSVPs
    POST   /api/triggers/event-cancelled        Reverse an event's fees
    POST   /api/triggers/subscriptions          Yearly subscriptions

  Admin:
    POST   /api/admin/sweep                     Run the overdue sweep now

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: InvalidState, malformed input
  - 402: Gateway declines (user-safe message only)
  - 404: NotFound
  - 409: Conflict
  - 500: Internal errors
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/clubledger/finance-engine/engine"
	"github.com/clubledger/finance-engine/gateway"
	"github.com/clubledger/finance-engine/ledger"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *engine.Engine
	Gateway  gateway.Gateway
	Currency string
}

func NewHandler(eng *engine.Engine, gw gateway.Gateway, currency string) *Handler {
	return &Handler{Engine: eng, Gateway: gw, Currency: currency}
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// GetBalance returns the cached balance projection plus the live total due.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	memberID := ledger.MemberID(chi.URLParam(r, "id"))

	balance, err := h.Engine.Balance(r.Context(), memberID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	totalDue, err := h.Engine.TotalDue(r.Context(), memberID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	dto := BalanceDTO{
		MemberID:       string(memberID),
		CurrentBalance: balance.CurrentBalance.String(),
		TotalDue:       totalDue.String(),
	}
	if !balance.LastUpdated.IsZero() {
		dto.LastUpdated = balance.LastUpdated.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, dto)
}

// RecomputeBalance rebuilds the projection from the full entry history.
func (h *Handler) RecomputeBalance(w http.ResponseWriter, r *http.Request) {
	memberID := ledger.MemberID(chi.URLParam(r, "id"))

	balance, err := h.Engine.RecomputeBalance(r.Context(), memberID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		MemberID:       string(memberID),
		CurrentBalance: balance.CurrentBalance.String(),
		TotalDue:       "",
		LastUpdated:    balance.LastUpdated.Format(time.RFC3339),
	})
}

// ListEntries returns a member's entries, optionally filtered by fee type,
// status, and due-date range.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	memberID := ledger.MemberID(chi.URLParam(r, "id"))
	q := r.URL.Query()

	filter := ledger.EntryFilter{MemberID: &memberID}
	if v := q.Get("fee_type"); v != "" {
		ft := ledger.FeeType(v)
		filter.FeeType = &ft
	}
	if v := q.Get("status"); v != "" {
		filter.Statuses = []ledger.EntryStatus{ledger.EntryStatus(v)}
	}
	if v := q.Get("kind"); v != "" {
		filter.Kinds = []ledger.EntryKind{ledger.EntryKind(v)}
	}
	if v := q.Get("due_from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeBadRequest(w, "invalid due_from (use YYYY-MM-DD)")
			return
		}
		after := t.AddDate(0, 0, -1)
		filter.DueAfter = &after
	}
	if v := q.Get("due_to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeBadRequest(w, "invalid due_to (use YYYY-MM-DD)")
			return
		}
		before := t.AddDate(0, 0, 1)
		filter.DueBefore = &before
	}

	entries, err := h.Engine.Store().List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// SubmitPayment captures a card payment through the gateway and, on
// completion, allocates it across the member's outstanding fees.
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	memberID := ledger.MemberID(chi.URLParam(r, "id"))

	var req SubmitPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Token == "" {
		writeBadRequest(w, "token is required")
		return
	}

	var amount ledger.Money
	if req.Amount == "" {
		// Pay-balance flow: charge exactly what's outstanding.
		totalDue, err := h.Engine.TotalDue(r.Context(), memberID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !totalDue.IsPositive() {
			writeError(w, r, ledger.ErrNothingDue)
			return
		}
		amount = totalDue
	} else {
		var err error
		amount, err = parseMoney(req.Amount)
		if err != nil {
			writeBadRequest(w, "invalid amount")
			return
		}
	}

	payment, err := h.Gateway.CreatePayment(r.Context(), req.Token, amount, h.Currency)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if payment.Status != gateway.StatusCompleted {
		writeJSON(w, http.StatusAccepted, PaymentResultDTO{
			PaymentID: payment.ID,
			Amount:    amount.String(),
		})
		return
	}

	method := ledger.PaymentMethod(req.Method)
	if method == "" {
		method = ledger.MethodCard
	}
	result, err := h.Engine.AllocatePayment(r.Context(), memberID, amount, payment.ID, method)
	if err != nil {
		// The capture succeeded but allocation failed; this needs an operator.
		log.Printf("[API] allocation of payment %s for %s failed: %v", payment.ID, memberID, err)
		writeError(w, r, err)
		return
	}
	paymentsAllocated.Inc()

	entriesPaid := make([]string, len(result.EntriesPaid))
	for i, id := range result.EntriesPaid {
		entriesPaid[i] = string(id)
	}
	writeJSON(w, http.StatusOK, PaymentResultDTO{
		PaymentID:      payment.ID,
		ReceiptURL:     payment.ReceiptURL,
		Amount:         amount.String(),
		DebtPaid:       result.DebtPaid.String(),
		CreditAdded:    result.CreditAdded.String(),
		EntriesPaid:    entriesPaid,
		CurrentBalance: result.Balance.CurrentBalance.String(),
	})
}

// CreateAdjustment applies a manual balance correction.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	memberID := ledger.MemberID(chi.URLParam(r, "id"))

	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	amount, err := parseSignedMoney(req.Amount)
	if err != nil {
		writeBadRequest(w, "invalid amount")
		return
	}

	entry, err := h.Engine.Adjust(r.Context(), memberID, amount, req.Reason, req.MarkedBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	entryID := ledger.EntryID(chi.URLParam(r, "id"))

	var req MarkPaidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	method := ledger.PaymentMethod(req.Method)
	if method == "" {
		method = ledger.MethodCash
	}

	entry, err := h.Engine.MarkPaid(r.Context(), entryID, method, req.MarkedBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

func (h *Handler) MarkPaidBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkMarkPaidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	method := ledger.PaymentMethod(req.Method)
	if method == "" {
		method = ledger.MethodCash
	}

	ids := make([]ledger.EntryID, len(req.EntryIDs))
	for i, id := range req.EntryIDs {
		ids[i] = ledger.EntryID(id)
	}
	paid, failed := h.Engine.MarkPaidBulk(r.Context(), ids, method, req.MarkedBy)

	dto := BulkMarkPaidDTO{Failed: make(map[string]string)}
	for _, id := range paid {
		dto.Paid = append(dto.Paid, string(id))
	}
	for id, err := range failed {
		dto.Failed[string(id)] = err.Error()
	}
	writeJSON(w, http.StatusOK, dto)
}

// DeleteEntry removes an entry, refunding any paid amount as credit.
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	entryID := ledger.EntryID(chi.URLParam(r, "id"))

	credit, err := h.Engine.DeleteEntry(r.Context(), entryID, r.URL.Query().Get("marked_by"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if credit != nil {
		refundsIssued.Inc()
		writeJSON(w, http.StatusOK, toEntryDTO(credit))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// TRIGGER HANDLERS
// =============================================================================

// TriggerAttendance issues a training fee for an attendance mark.
// Issuance failure is logged but reported as success: the attendance mark
// (the trigger's primary write) has already happened upstream.
func (h *Handler) TriggerAttendance(w http.ResponseWriter, r *http.Request) {
	var req AttendanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	dueDate, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		writeBadRequest(w, "invalid due_date (use YYYY-MM-DD)")
		return
	}

	entry, err := h.Engine.IssueTrainingFee(r.Context(), engine.Attendance{
		MemberID: ledger.MemberID(req.MemberID),
		EventID:  ledger.EventID(req.EventID),
		DueDate:  dueDate,
	})
	if err != nil {
		log.Printf("[API] training fee for %s (event %s) failed: %v", req.MemberID, req.EventID, err)
		writeJSON(w, http.StatusOK, IssuedDTO{})
		return
	}
	feesIssued.WithLabelValues(string(ledger.FeeTraining)).Inc()
	writeJSON(w, http.StatusOK, IssuedDTO{Issued: []EntryDTO{toEntryDTO(entry)}})
}

// TriggerTeamSelection issues match fees for a fixture's lineup.
func (h *Handler) TriggerTeamSelection(w http.ResponseWriter, r *http.Request) {
	var req TeamSelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	dueDate, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		writeBadRequest(w, "invalid due_date (use YYYY-MM-DD)")
		return
	}

	issued := h.Engine.IssueMatchFees(r.Context(), engine.TeamSelection{
		FixtureID:   ledger.FixtureID(req.FixtureID),
		Starting:    toMemberIDs(req.Starting),
		Substitutes: toMemberIDs(req.Substitutes),
		DueDate:     dueDate,
	})
	feesIssued.WithLabelValues(string(ledger.FeeMatch)).Add(float64(len(issued)))
	writeJSON(w, http.StatusOK, IssuedDTO{Issued: toEntryDTOs(issued)})
}

// TriggerMatchEvents issues card fees for the fixture's cards and then
// recomputes minutes-based discounts on its match fees. Card issuance is
// best-effort; the match result itself was saved upstream.
func (h *Handler) TriggerMatchEvents(w http.ResponseWriter, r *http.Request) {
	var req MatchEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	events := req.toMatchEvents()

	var issued []*ledger.LedgerEntry
	for _, ev := range events {
		if ev.Type != engine.EventYellowCard && ev.Type != engine.EventRedCard {
			continue
		}
		entry, err := h.Engine.IssueCardFee(r.Context(), ev)
		if err != nil {
			log.Printf("[API] card fee for %s (event %s) failed: %v", ev.MemberID, ev.ID, err)
			continue
		}
		if entry != nil {
			feesIssued.WithLabelValues(string(entry.FeeType)).Inc()
			issued = append(issued, entry)
		}
	}

	h.Engine.ApplyMinutesDiscounts(r.Context(), ledger.FixtureID(req.FixtureID), events)

	writeJSON(w, http.StatusOK, IssuedDTO{Issued: toEntryDTOs(issued)})
}

// TriggerEventFees issues social-event fees from an RSVP list.
func (h *Handler) TriggerEventFees(w http.ResponseWriter, r *http.Request) {
	var req EventFeesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	cost, err := parseMoney(req.Cost)
	if err != nil && req.Cost != "" {
		writeBadRequest(w, "invalid cost")
		return
	}
	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		writeBadRequest(w, "invalid starts_at (use RFC3339)")
		return
	}

	ev := engine.Event{
		ID:       ledger.EventID(req.EventID),
		Kind:     engine.EventKind(req.Kind),
		Cost:     cost,
		StartsAt: startsAt,
	}
	rsvps := make([]engine.RSVP, len(req.RSVPs))
	for i, rv := range req.RSVPs {
		rsvps[i] = engine.RSVP{
			EventID:  ev.ID,
			MemberID: ledger.MemberID(rv.MemberID),
			Status:   engine.RSVPStatus(rv.Status),
		}
	}

	issued := h.Engine.IssueEventFees(r.Context(), ev, rsvps)
	feesIssued.WithLabelValues(string(ledger.FeeSocialEvent)).Add(float64(len(issued)))
	writeJSON(w, http.StatusOK, IssuedDTO{Issued: toEntryDTOs(issued)})
}

// TriggerEventCancelled reverses every fee linked to a cancelled event.
func (h *Handler) TriggerEventCancelled(w http.ResponseWriter, r *http.Request) {
	var req EventCancelledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.EventID == "" {
		writeBadRequest(w, "event_id is required")
		return
	}

	reversed := h.Engine.CancelEventFees(r.Context(), ledger.EventID(req.EventID))
	refundsIssued.Add(float64(reversed))
	writeJSON(w, http.StatusOK, map[string]int{"reversed": reversed})
}

// TriggerSubscriptions issues season-tagged subscription fees.
func (h *Handler) TriggerSubscriptions(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Season == "" {
		writeBadRequest(w, "season is required")
		return
	}
	dueDate, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		writeBadRequest(w, "invalid due_date (use YYYY-MM-DD)")
		return
	}

	var amount *ledger.Money
	if req.Amount != "" {
		m, err := parseMoney(req.Amount)
		if err != nil {
			writeBadRequest(w, "invalid amount")
			return
		}
		amount = &m
	}

	issued := h.Engine.IssueSubscriptions(r.Context(), toMemberIDs(req.MemberIDs), req.Season, amount, dueDate)
	feesIssued.WithLabelValues(string(ledger.FeeYearlySubs)).Add(float64(len(issued)))
	writeJSON(w, http.StatusOK, IssuedDTO{Issued: toEntryDTOs(issued)})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs the overdue sweep immediately.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	promoted, err := h.Engine.SweepOverdue(r.Context(), time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	overdueSwept.Add(float64(promoted))
	writeJSON(w, http.StatusOK, map[string]int{"promoted": promoted})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func toMemberIDs(ids []string) []ledger.MemberID {
	out := make([]ledger.MemberID, len(ids))
	for i, id := range ids {
		out[i] = ledger.MemberID(id)
	}
	return out
}

func parseMoney(s string) (ledger.Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ledger.ZeroMoney(), err
	}
	if d.IsNegative() {
		return ledger.ZeroMoney(), ledger.ErrInvalidAmount
	}
	return ledger.Money{Value: d}, nil
}

// parseSignedMoney allows negative amounts (manual adjustments).
func parseSignedMoney(s string) (ledger.Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ledger.ZeroMoney(), err
	}
	return ledger.Money{Value: d}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] encoding response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// writeError maps domain errors to HTTP statuses. Gateway declines return
// only the user-safe message; the raw detail stays in the logs.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var de *gateway.DeclineError
	if errors.As(err, &de) {
		paymentsDeclined.WithLabelValues(de.Code).Inc()
		log.Printf("[API] %s %s: decline %s: %s", r.Method, r.URL.Path, de.Code, de.Detail)
		writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: de.Message, Code: de.Code})
		return
	}

	switch {
	case ledger.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case ledger.IsConflict(err):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case ledger.IsInvalidState(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		log.Printf("[API] %s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
