/*
Package engine implements the fee issuance, payment allocation, minutes-based
discount, refund, and overdue-sweep workflows on top of the ledger store.

PURPOSE:
  The ledger package knows how entries and balances are shaped; this package
  knows WHEN to create and mutate them. Every operation here is a multi-step
  read-then-write workflow, so two protections apply:

  1. Per-member serialization: a keyed mutex ensures two concurrent workflows
     for the same member never interleave (no double-spent credit, no
     mis-ordered allocation).
  2. Store transactions: every workflow runs inside WithTx, so a failure
     midway leaves no partial state.

  The balance projection is refreshed inside the same transaction as every
  mutation, keeping the cache exact at all times.

SEE ALSO:
  - issue.go:    fee creation with discounts, idempotency, credit consumption
  - allocate.go: oldest-due-first payment distribution and overpayment banking
  - minutes.go:  post-match recomputation of match-fee discounts
  - refund.go:   unified reversal for cancellations and deletions
  - sweep.go:    overdue promotion
*/
package engine

import (
	"sync"
	"time"

	"github.com/clubledger/finance-engine/ledger"
)

// FeeConfig resolves base amounts for fee types. The second return is false
// when the fee type is unknown or configured inactive.
type FeeConfig interface {
	BaseAmount(ft ledger.FeeType) (ledger.Money, bool)
}

// Engine coordinates all ledger mutations.
type Engine struct {
	store ledger.TxStore
	elig  ledger.EligibilityStore
	fees  FeeConfig
	now   func() time.Time

	locks memberLocks
}

type Option func(*Engine)

// WithClock overrides the engine's time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(store ledger.TxStore, elig ledger.EligibilityStore, fees FeeConfig, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		elig:  elig,
		fees:  fees,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the underlying store for read-only callers (API listing).
func (e *Engine) Store() ledger.TxStore { return e.store }

// =============================================================================
// PER-MEMBER SERIALIZATION
// =============================================================================

// memberLocks hands out one mutex per member so ledger workflows for the
// same member run strictly one at a time. Workflows for different members
// proceed in parallel.
type memberLocks struct {
	mu sync.Mutex
	m  map[ledger.MemberID]*sync.Mutex
}

func (l *memberLocks) lock(id ledger.MemberID) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[ledger.MemberID]*sync.Mutex)
	}
	mu, ok := l.m[id]
	if !ok {
		mu = &sync.Mutex{}
		l.m[id] = mu
	}
	l.mu.Unlock()

	mu.Lock()
	return mu.Unlock
}
