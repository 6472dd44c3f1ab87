package gateway

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/clubledger/finance-engine/ledger"
)

// Fake is an in-process gateway for tests and local development. Tokens
// prefixed "decline:<code>" are declined with that code; everything else
// completes immediately.
type Fake struct {
	mu       sync.Mutex
	seq      atomic.Int64
	payments map[string]Payment
}

func NewFake() *Fake {
	return &Fake{payments: make(map[string]Payment)}
}

func (f *Fake) CreatePayment(_ context.Context, token string, amount ledger.Money, currency string) (Payment, error) {
	if !amount.IsPositive() {
		return Payment{}, ledger.ErrInvalidAmount
	}

	if code, ok := strings.CutPrefix(token, "decline:"); ok {
		return Payment{Status: StatusFailed}, Decline(code, "fake gateway decline for token "+token)
	}

	id := "fake-pay-" + strconv.FormatInt(f.seq.Add(1), 10)
	p := Payment{
		ID:         id,
		Status:     StatusCompleted,
		ReceiptURL: "https://receipts.example.com/" + id,
	}
	f.mu.Lock()
	f.payments[id] = p
	f.mu.Unlock()
	return p, nil
}

// GetPayment returns a previously created payment, for test assertions.
func (f *Fake) GetPayment(id string) (Payment, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	return p, ok
}
