/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the internal domain
  model from the external contract. Amounts travel as decimal strings
  ("5.00"), never floats.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
*/
package api

import (
	"time"

	"github.com/clubledger/finance-engine/engine"
	"github.com/clubledger/finance-engine/ledger"
)

// =============================================================================
// RESPONSES
// =============================================================================

// EntryDTO represents a ledger entry in API responses.
type EntryDTO struct {
	ID             string  `json:"id"`
	MemberID       string  `json:"member_id"`
	Kind           string  `json:"kind"`
	FeeType        string  `json:"fee_type,omitempty"`
	BaseAmount     string  `json:"base_amount"`
	DiscountAmount string  `json:"discount_amount"`
	FinalAmount    string  `json:"final_amount"`
	PaidAmount     string  `json:"paid_amount"`
	Status         string  `json:"status"`
	DueDate        string  `json:"due_date"`
	PaidDate       *string `json:"paid_date,omitempty"`
	EventID        string  `json:"event_id,omitempty"`
	FixtureID      string  `json:"fixture_id,omitempty"`
	MatchEventID   string  `json:"match_event_id,omitempty"`
	Role           string  `json:"role,omitempty"`
	MinutesPlayed  *int    `json:"minutes_played,omitempty"`
	Season         string  `json:"season,omitempty"`
	Method         string  `json:"payment_method,omitempty"`
	Notes          string  `json:"notes,omitempty"`
	MarkedBy       string  `json:"marked_by,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

func toEntryDTO(e *ledger.LedgerEntry) EntryDTO {
	dto := EntryDTO{
		ID:             string(e.ID),
		MemberID:       string(e.MemberID),
		Kind:           string(e.Kind),
		FeeType:        string(e.FeeType),
		BaseAmount:     e.Base.String(),
		DiscountAmount: e.Discount.String(),
		FinalAmount:    e.Final.String(),
		PaidAmount:     e.Paid.String(),
		Status:         string(e.Status),
		DueDate:        e.DueDate.Format("2006-01-02"),
		EventID:        string(e.EventID),
		FixtureID:      string(e.FixtureID),
		MatchEventID:   string(e.MatchEventID),
		Role:           string(e.Role),
		MinutesPlayed:  e.MinutesPlayed,
		Season:         e.Season,
		Method:         string(e.Method),
		Notes:          e.Notes,
		MarkedBy:       e.MarkedBy,
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      e.UpdatedAt.Format(time.RFC3339),
	}
	if e.PaidDate != nil {
		s := e.PaidDate.Format(time.RFC3339)
		dto.PaidDate = &s
	}
	return dto
}

func toEntryDTOs(entries []*ledger.LedgerEntry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

// BalanceDTO is the member balance summary.
type BalanceDTO struct {
	MemberID       string `json:"member_id"`
	CurrentBalance string `json:"current_balance"`
	TotalDue       string `json:"total_due"`
	LastUpdated    string `json:"last_updated,omitempty"`
}

// PaymentResultDTO reports the outcome of a gateway payment + allocation.
type PaymentResultDTO struct {
	PaymentID      string   `json:"payment_id"`
	ReceiptURL     string   `json:"receipt_url,omitempty"`
	Amount         string   `json:"amount"`
	DebtPaid       string   `json:"debt_paid"`
	CreditAdded    string   `json:"credit_added"`
	EntriesPaid    []string `json:"entries_paid,omitempty"`
	CurrentBalance string   `json:"current_balance"`
}

// BulkMarkPaidDTO reports per-entry outcomes of a bulk mark-paid.
type BulkMarkPaidDTO struct {
	Paid   []string          `json:"paid"`
	Failed map[string]string `json:"failed,omitempty"`
}

// IssuedDTO reports a batch issuance outcome.
type IssuedDTO struct {
	Issued []EntryDTO `json:"issued"`
}

// =============================================================================
// REQUESTS
// =============================================================================

// SubmitPaymentRequest captures and allocates a card payment. When Amount is
// empty the member's full outstanding total is charged.
type SubmitPaymentRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount,omitempty"`
	Method string `json:"method,omitempty"`
}

type AdjustmentRequest struct {
	Amount   string `json:"amount"`
	Reason   string `json:"reason"`
	MarkedBy string `json:"marked_by"`
}

type MarkPaidRequest struct {
	Method   string `json:"method,omitempty"`
	MarkedBy string `json:"marked_by,omitempty"`
}

type BulkMarkPaidRequest struct {
	EntryIDs []string `json:"entry_ids"`
	Method   string   `json:"method,omitempty"`
	MarkedBy string   `json:"marked_by,omitempty"`
}

type AttendanceRequest struct {
	MemberID string `json:"member_id"`
	EventID  string `json:"event_id"`
	DueDate  string `json:"due_date"`
}

type TeamSelectionRequest struct {
	FixtureID   string   `json:"fixture_id"`
	Starting    []string `json:"starting"`
	Substitutes []string `json:"substitutes"`
	DueDate     string   `json:"due_date"`
}

type MatchEventRequest struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	Minute           int    `json:"minute"`
	MemberID         string `json:"member_id"`
	SubstitutedForID string `json:"substituted_for_id,omitempty"`
}

type MatchEventsRequest struct {
	FixtureID string              `json:"fixture_id"`
	Events    []MatchEventRequest `json:"events"`
}

type RSVPRequest struct {
	MemberID string `json:"member_id"`
	Status   string `json:"status"`
}

type EventFeesRequest struct {
	EventID  string        `json:"event_id"`
	Kind     string        `json:"kind"`
	Cost     string        `json:"cost"`
	StartsAt string        `json:"starts_at"`
	RSVPs    []RSVPRequest `json:"rsvps"`
}

type EventCancelledRequest struct {
	EventID string `json:"event_id"`
}

type SubscriptionsRequest struct {
	MemberIDs []string `json:"member_ids"`
	Season    string   `json:"season"`
	Amount    string   `json:"amount,omitempty"`
	DueDate   string   `json:"due_date"`
}

// toMatchEvents converts request events to engine inputs.
func (r MatchEventsRequest) toMatchEvents() []engine.MatchEvent {
	events := make([]engine.MatchEvent, len(r.Events))
	for i, ev := range r.Events {
		events[i] = engine.MatchEvent{
			ID:               ledger.MatchEventID(ev.ID),
			FixtureID:        ledger.FixtureID(r.FixtureID),
			Type:             engine.MatchEventType(ev.Type),
			Minute:           ev.Minute,
			MemberID:         ledger.MemberID(ev.MemberID),
			SubstitutedForID: ledger.MemberID(ev.SubstitutedForID),
		}
	}
	return events
}
