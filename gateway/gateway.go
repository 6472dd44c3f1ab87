/*
Package gateway defines the narrow contract with the external card-payment
provider and the decline-code taxonomy.

PURPOSE:
  The ledger never talks to a banking rail. It hands a tokenized card and an
  amount to the gateway and gets back a payment with a status. Only COMPLETED
  payments reach the allocation engine.

DECLINE TAXONOMY:
  Provider decline codes are mapped to a fixed, finite set of user-safe
  messages. Unmapped codes fall back to a generic message that carries the
  raw detail for operators, never for members.
*/
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/clubledger/finance-engine/ledger"
)

// =============================================================================
// CONTRACT
// =============================================================================

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "PENDING"
	StatusCompleted PaymentStatus = "COMPLETED"
	StatusFailed    PaymentStatus = "FAILED"
	StatusCanceled  PaymentStatus = "CANCELED"
)

// Payment is the gateway's view of a capture attempt.
type Payment struct {
	ID         string
	Status     PaymentStatus
	ReceiptURL string
}

// Gateway is the black-box payment provider.
type Gateway interface {
	// CreatePayment captures amount against a tokenized card. A declined
	// capture returns a *DeclineError.
	CreatePayment(ctx context.Context, token string, amount ledger.Money, currency string) (Payment, error)
}

// =============================================================================
// DECLINE ERRORS
// =============================================================================

// ErrGatewayDeclined is the sentinel for all mapped and unmapped declines.
var ErrGatewayDeclined = errors.New("payment declined")

// DeclineError carries the provider code, the user-safe message, and the raw
// provider detail (for logs only).
type DeclineError struct {
	Code    string
	Message string
	Detail  string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("payment declined (%s): %s", e.Code, e.Message)
}

func (e *DeclineError) Unwrap() error { return ErrGatewayDeclined }

// declineMessages is the fixed taxonomy of user-safe decline messages.
var declineMessages = map[string]string{
	"card_declined":      "Your card was declined. Please try a different card.",
	"insufficient_funds": "Your card has insufficient funds.",
	"expired_card":       "Your card has expired. Please use a different card.",
	"incorrect_cvc":      "The security code was incorrect. Please check and try again.",
	"incorrect_address":  "The billing address did not match. Please check and try again.",
	"fraud_decline":      "The payment could not be processed. Please contact your bank.",
	"rate_limit":         "Too many payment attempts. Please wait a moment and try again.",
	"temporary_error":    "A temporary error occurred. Please try again shortly.",
}

const genericDeclineMessage = "The payment could not be completed. Please try again or use a different card."

// Decline builds a DeclineError for a provider code, falling back to the
// generic message (carrying the raw detail) when the code is unmapped.
func Decline(code, detail string) *DeclineError {
	if msg, ok := declineMessages[code]; ok {
		return &DeclineError{Code: code, Message: msg, Detail: detail}
	}
	return &DeclineError{Code: code, Message: genericDeclineMessage, Detail: detail}
}

// UserMessage returns the safe message for any error from the gateway.
func UserMessage(err error) string {
	var de *DeclineError
	if errors.As(err, &de) {
		return de.Message
	}
	return genericDeclineMessage
}
