/*
Package cache provides the read cache in front of ledger balance views.

PURPOSE:
  Balance reads recompute categories from the ledger. The cache keeps the
  last computed view per person for a short TTL so repeated screens do not
  hit the store.

CONTRACT:
  Get returns (value, true, nil) only when the entry is fresh. Expiry is
  checked lazily on Get; there are no background timers. Errors mean the
  backend failed and callers fall back to a fresh computation.

IMPLEMENTATIONS:
  - Memory: in-process, injectable clock (tests, single replica)
  - Redis:  shared across replicas, expiry delegated to Redis
*/
package cache

import (
	"context"
	"time"
)

// DefaultTTL bounds how stale a served view can be.
const DefaultTTL = 5 * time.Minute

type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, value V) error
	Invalidate(ctx context.Context, key string) error
}

type options struct {
	now    func() time.Time
	prefix string
}

// Option configures a cache implementation.
type Option func(*options)

// WithClock replaces time.Now. Only the memory cache consults the clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithPrefix namespaces keys. Only the Redis cache uses a prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, prefix: "leave"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
