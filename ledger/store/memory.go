// Package store provides the in-memory ledger.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/leave-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps documents and entries in maps. Transactions run without
// holding the lock: writes are buffered and validated against committed
// versions at commit, so concurrent writers to one person really do race
// and the loser gets ErrConcurrentModification.
type Memory struct {
	mu          sync.RWMutex
	balances    map[ledger.PersonID]*ledger.Balance
	entries     map[ledger.PersonID][]ledger.Entry
	requests    map[ledger.RequestID]*ledger.Request
	idempotency map[string]bool
}

var _ ledger.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		balances:    make(map[ledger.PersonID]*ledger.Balance),
		entries:     make(map[ledger.PersonID][]ledger.Entry),
		requests:    make(map[ledger.RequestID]*ledger.Request),
		idempotency: make(map[string]bool),
	}
}

func (m *Memory) Balance(_ context.Context, personID ledger.PersonID) (*ledger.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.balances[personID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return b.Clone(), nil
}

func (m *Memory) Entries(_ context.Context, personID ledger.PersonID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedEntries(m.entries[personID], nil), nil
}

func (m *Memory) Request(_ context.Context, id ledger.RequestID) (*ledger.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return r.Clone(), nil
}

func (m *Memory) Requests(_ context.Context, personID ledger.PersonID) ([]ledger.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []ledger.Request
	for _, r := range m.requests {
		if r.PersonID == personID {
			result = append(result, *r.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a buffered view and commits if fn returns nil.
func (m *Memory) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx := &memoryTx{
		parent:   m,
		balances: make(map[ledger.PersonID]pendingBalance),
		requests: make(map[ledger.RequestID]pendingRequest),
	}
	if err := fn(tx); err != nil {
		// Rollback is free: nothing was written.
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.commit(tx)
}

type pendingBalance struct {
	base int64 // version the writer read
	doc  *ledger.Balance
}

type pendingRequest struct {
	base int64
	doc  *ledger.Request
}

type memoryTx struct {
	parent   *Memory
	balances map[ledger.PersonID]pendingBalance
	requests map[ledger.RequestID]pendingRequest
	entries  []ledger.Entry
}

func (tx *memoryTx) Balance(ctx context.Context, personID ledger.PersonID) (*ledger.Balance, error) {
	if p, ok := tx.balances[personID]; ok {
		return p.doc.Clone(), nil
	}
	return tx.parent.Balance(ctx, personID)
}

func (tx *memoryTx) Entries(_ context.Context, personID ledger.PersonID) ([]ledger.Entry, error) {
	tx.parent.mu.RLock()
	defer tx.parent.mu.RUnlock()
	return sortedEntries(tx.parent.entries[personID], tx.pendingFor(personID)), nil
}

func (tx *memoryTx) pendingFor(personID ledger.PersonID) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range tx.entries {
		if e.PersonID == personID {
			out = append(out, e)
		}
	}
	return out
}

func (tx *memoryTx) SaveBalance(_ context.Context, b *ledger.Balance) error {
	base := b.Version
	if p, ok := tx.balances[b.PersonID]; ok {
		// Saved twice in one transaction: keep the first base.
		if p.doc.Version != b.Version {
			return ledger.ErrConcurrentModification
		}
		base = p.base
	}
	b.Version++
	tx.balances[b.PersonID] = pendingBalance{base: base, doc: b.Clone()}
	return nil
}

func (tx *memoryTx) AppendEntries(_ context.Context, entries ...ledger.Entry) error {
	for _, e := range entries {
		if e.IdempotencyKey == "" {
			continue
		}
		for _, p := range tx.entries {
			if p.IdempotencyKey == e.IdempotencyKey {
				return ledger.ErrDuplicateEntry
			}
		}
	}
	tx.entries = append(tx.entries, entries...)
	return nil
}

func (tx *memoryTx) Request(ctx context.Context, id ledger.RequestID) (*ledger.Request, error) {
	if p, ok := tx.requests[id]; ok {
		return p.doc.Clone(), nil
	}
	return tx.parent.Request(ctx, id)
}

func (tx *memoryTx) SaveRequest(_ context.Context, r *ledger.Request) error {
	base := r.Version
	if p, ok := tx.requests[r.ID]; ok {
		if p.doc.Version != r.Version {
			return ledger.ErrConcurrentModification
		}
		base = p.base
	}
	r.Version++
	tx.requests[r.ID] = pendingRequest{base: base, doc: r.Clone()}
	return nil
}

// commit validates every buffered write against committed state, then
// applies all of them. Either everything lands or nothing does.
func (m *Memory) commit(tx *memoryTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range tx.balances {
		if committedVersion(m.balances[id]) != p.base {
			return ledger.ErrConcurrentModification
		}
	}
	for id, p := range tx.requests {
		var current int64
		if r, ok := m.requests[id]; ok {
			current = r.Version
		}
		if current != p.base {
			return ledger.ErrConcurrentModification
		}
	}
	for _, e := range tx.entries {
		if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
			return ledger.ErrDuplicateEntry
		}
	}

	for id, p := range tx.balances {
		m.balances[id] = p.doc
	}
	for id, p := range tx.requests {
		m.requests[id] = p.doc
	}
	for _, e := range tx.entries {
		m.entries[e.PersonID] = append(m.entries[e.PersonID], e)
		if e.IdempotencyKey != "" {
			m.idempotency[e.IdempotencyKey] = true
		}
	}
	return nil
}

func committedVersion(b *ledger.Balance) int64 {
	if b == nil {
		return 0
	}
	return b.Version
}

// sortedEntries merges committed and pending entries in CreatedAt order.
// Ties keep append order.
func sortedEntries(committed, pending []ledger.Entry) []ledger.Entry {
	result := make([]ledger.Entry, 0, len(committed)+len(pending))
	result = append(result, committed...)
	result = append(result, pending...)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}
