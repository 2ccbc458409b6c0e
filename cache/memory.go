package cache

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// MEMORY CACHE
// =============================================================================

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type Memory[V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry[V]
}

func NewMemory[V any](ttl time.Duration, opts ...Option) *Memory[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	o := buildOptions(opts)
	return &Memory[V]{
		ttl:     ttl,
		now:     o.now,
		entries: make(map[string]entry[V]),
	}
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		m.mu.Lock()
		// Only drop the entry we looked at; a concurrent Set may have replaced it.
		if cur, ok := m.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return zero, false, nil
	}
	return e.value, true, nil
}

func (m *Memory[V]) Set(_ context.Context, key string, value V) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry[V]{value: value, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *Memory[V]) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len reports stored entries, expired or not.
func (m *Memory[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
