// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clubledger/finance-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	entries     map[ledger.EntryID]*ledger.LedgerEntry
	balances    map[ledger.MemberID]ledger.BalanceProjection
	eligibility map[ledger.MemberID][]ledger.DiscountEligibility
	seq         int64
}

func NewMemory() *Memory {
	return &Memory{
		entries:     make(map[ledger.EntryID]*ledger.LedgerEntry),
		balances:    make(map[ledger.MemberID]ledger.BalanceProjection),
		eligibility: make(map[ledger.MemberID][]ledger.DiscountEligibility),
	}
}

func (m *Memory) Insert(_ context.Context, e *ledger.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(e)
}

func (m *Memory) insertLocked(e *ledger.LedgerEntry) error {
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *Memory) Update(_ context.Context, e *ledger.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(e)
}

func (m *Memory) updateLocked(e *ledger.LedgerEntry) error {
	if _, ok := m.entries[e.ID]; !ok {
		return ledger.ErrEntryNotFound
	}
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *Memory) Delete(_ context.Context, id ledger.EntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id)
}

func (m *Memory) deleteLocked(id ledger.EntryID) error {
	if _, ok := m.entries[id]; !ok {
		return ledger.ErrEntryNotFound
	}
	delete(m.entries, id)
	return nil
}

func (m *Memory) Get(_ context.Context, id ledger.EntryID) (*ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) getLocked(id ledger.EntryID) (*ledger.LedgerEntry, error) {
	e, ok := m.entries[id]
	if !ok {
		return nil, ledger.ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) List(_ context.Context, filter ledger.EntryFilter) ([]*ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(filter)
}

func (m *Memory) listLocked(filter ledger.EntryFilter) ([]*ledger.LedgerEntry, error) {
	var result []*ledger.LedgerEntry
	for _, e := range m.entries {
		if filter.Matches(e) {
			cp := *e
			result = append(result, &cp)
		}
	}
	sortEntries(result)
	return result, nil
}

// sortEntries applies the Store ordering contract:
// DueDate ascending, ties broken by CreatedAt then ID.
func sortEntries(entries []*ledger.LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func (m *Memory) GetBalance(_ context.Context, memberID ledger.MemberID) (ledger.BalanceProjection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBalanceLocked(memberID)
}

func (m *Memory) getBalanceLocked(memberID ledger.MemberID) (ledger.BalanceProjection, error) {
	if b, ok := m.balances[memberID]; ok {
		return b, nil
	}
	return ledger.BalanceProjection{MemberID: memberID, CurrentBalance: ledger.ZeroMoney()}, nil
}

func (m *Memory) SaveBalance(_ context.Context, b ledger.BalanceProjection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[b.MemberID] = b
	return nil
}

// =============================================================================
// ELIGIBILITY STORE
// =============================================================================

func (m *Memory) ActiveEligibility(_ context.Context, memberID ledger.MemberID, asOf time.Time) (*ledger.DiscountEligibility, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.eligibility[memberID] {
		if d.AppliesAt(asOf) {
			cp := d
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) SaveEligibility(_ context.Context, d ledger.DiscountEligibility) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.IsActive {
		for _, existing := range m.eligibility[d.MemberID] {
			if existing.IsActive && existing.DiscountType == d.DiscountType && existing.ID != d.ID {
				return &ledger.DuplicateEligibilityError{MemberID: d.MemberID, DiscountType: d.DiscountType}
			}
		}
	}
	m.eligibility[d.MemberID] = append(m.eligibility[d.MemberID], d)
	return nil
}

func (m *Memory) ListEligibility(_ context.Context, memberID ledger.MemberID) ([]ledger.DiscountEligibility, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.DiscountEligibility(nil), m.eligibility[memberID]...), nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn atomically. For the memory store this is simulated
// with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()

	view := &txMemoryView{parent: m}
	if err := fn(view); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	entries  map[ledger.EntryID]*ledger.LedgerEntry
	balances map[ledger.MemberID]ledger.BalanceProjection
}

func (m *Memory) snapshot() memorySnapshot {
	entriesCopy := make(map[ledger.EntryID]*ledger.LedgerEntry, len(m.entries))
	for k, v := range m.entries {
		cp := *v
		entriesCopy[k] = &cp
	}
	balancesCopy := make(map[ledger.MemberID]ledger.BalanceProjection, len(m.balances))
	for k, v := range m.balances {
		balancesCopy[k] = v
	}
	return memorySnapshot{entries: entriesCopy, balances: balancesCopy}
}

func (m *Memory) restore(s memorySnapshot) {
	m.entries = s.entries
	m.balances = s.balances
}

// txMemoryView routes Store calls to the parent without re-locking.
// Only valid inside WithTx, where the parent mutex is already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) Insert(_ context.Context, e *ledger.LedgerEntry) error {
	return tv.parent.insertLocked(e)
}

func (tv *txMemoryView) Update(_ context.Context, e *ledger.LedgerEntry) error {
	return tv.parent.updateLocked(e)
}

func (tv *txMemoryView) Delete(_ context.Context, id ledger.EntryID) error {
	return tv.parent.deleteLocked(id)
}

func (tv *txMemoryView) Get(_ context.Context, id ledger.EntryID) (*ledger.LedgerEntry, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) List(_ context.Context, filter ledger.EntryFilter) ([]*ledger.LedgerEntry, error) {
	return tv.parent.listLocked(filter)
}

func (tv *txMemoryView) GetBalance(_ context.Context, memberID ledger.MemberID) (ledger.BalanceProjection, error) {
	return tv.parent.getBalanceLocked(memberID)
}

func (tv *txMemoryView) SaveBalance(_ context.Context, b ledger.BalanceProjection) error {
	tv.parent.balances[b.MemberID] = b
	return nil
}
