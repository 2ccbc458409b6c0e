package ledger

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// READ PATH - Cached balance views
// =============================================================================

// View is what a balance read returns: ledger-derived categories, the most
// recent entries (newest first) and the drift found while computing it.
type View struct {
	PersonID   PersonID
	Categories []Category
	Recent     []Entry
	Drift      []CategoryReport
	ComputedAt time.Time
}

// Category returns the named category or nil.
func (v *View) Category(name string) *Category {
	name = NormalizeCategoryName(name)
	for i := range v.Categories {
		if v.Categories[i].Name == name {
			return &v.Categories[i]
		}
	}
	return nil
}

func cacheKey(personID PersonID) string { return "balance:" + string(personID) }

// Balance returns the person's view, from cache when fresh.
func (s *Service) Balance(ctx context.Context, actor Actor, personID PersonID) (*View, error) {
	if err := s.authorizeRead(actor, personID); err != nil {
		return nil, err
	}

	key := cacheKey(personID)
	cached, fresh, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn(s.log.WithError(s.log.WithField(ctx, "person_id", personID), err), "ledger.cache.degraded")
	}
	s.observer.CacheLookup(fresh)
	if fresh {
		return cached.clone(), nil
	}
	return s.load(ctx, personID)
}

// Refresh drops the cached view and recomputes it.
func (s *Service) Refresh(ctx context.Context, actor Actor, personID PersonID) (*View, error) {
	if err := s.authorizeRead(actor, personID); err != nil {
		return nil, err
	}
	s.invalidate(ctx, personID)
	return s.load(ctx, personID)
}

// load computes the view once per person no matter how many callers miss at
// the same time, then stores it in the cache. A view computed across an
// invalidation is returned to its callers but never cached.
func (s *Service) load(ctx context.Context, personID PersonID) (*View, error) {
	key := cacheKey(personID)
	v, err, _ := s.flights.Do(key, func() (any, error) {
		// Joined callers must not fail because the first one went away.
		ctx := context.WithoutCancel(ctx)

		gen := s.generation(personID)
		view, err := s.compute(ctx, personID)
		if err != nil {
			return nil, err
		}
		if s.generation(personID) != gen {
			return view, nil
		}
		if err := s.cache.Set(ctx, key, *view); err != nil {
			s.log.Warn(s.log.WithError(s.log.WithField(ctx, "person_id", personID), err), "ledger.cache.degraded")
		}
		// A write may have invalidated between the check and the Set.
		if s.generation(personID) != gen {
			if err := s.cache.Invalidate(ctx, key); err != nil {
				s.log.Warn(s.log.WithError(s.log.WithField(ctx, "person_id", personID), err), "ledger.cache.invalidate_failed")
			}
		}
		return view, nil
	})
	if err != nil {
		return nil, err
	}
	// Callers sharing a flight must not share slices.
	return v.(*View).clone(), nil
}

func (s *Service) compute(ctx context.Context, personID PersonID) (*View, error) {
	bal, entries, err := s.snapshot(ctx, personID)
	if err != nil {
		return nil, err
	}

	if bal == nil && len(entries) == 0 {
		if err := s.seed(ctx, personID); err != nil {
			return nil, err
		}
		if bal, entries, err = s.snapshot(ctx, personID); err != nil {
			return nil, err
		}
	}

	report := Reconcile(personID, bal, entries)
	s.noteDrift(ctx, report)
	if s.autoRepair && report.HasDrift() {
		if _, err := s.repair(ctx, personID); err != nil {
			return nil, err
		}
	}

	view := &View{
		PersonID:   personID,
		Categories: report.Derived(),
		Recent:     recent(entries, s.recentEntries),
		ComputedAt: s.timestamp(),
	}
	for _, c := range report.Categories {
		if c.Drift {
			view.Drift = append(view.Drift, c)
		}
	}
	return view, nil
}

func (s *Service) snapshot(ctx context.Context, personID PersonID) (*Balance, []Entry, error) {
	bal, err := s.store.Balance(ctx, personID)
	if errors.Is(err, ErrNotFound) {
		bal = nil
	} else if err != nil {
		return nil, nil, translateStoreError(err, "balance")
	}
	entries, err := s.store.Entries(ctx, personID)
	if err != nil {
		return nil, nil, translateStoreError(err, "balance")
	}
	return bal, entries, nil
}

// invalidate drops the cached view and detaches later readers from any load
// already in flight. Failures are logged; the TTL bounds how long a stale
// view can survive. Generations are per process, so across replicas sharing
// Redis only the TTL bounds a lost invalidation.
func (s *Service) invalidate(ctx context.Context, personID PersonID) {
	key := cacheKey(personID)
	s.genMu.Lock()
	s.gens[personID]++
	s.genMu.Unlock()
	s.flights.Forget(key)

	if err := s.cache.Invalidate(ctx, key); err != nil {
		s.log.Warn(s.log.WithError(s.log.WithField(ctx, "person_id", personID), err), "ledger.cache.invalidate_failed")
	}
}

func (s *Service) generation(personID PersonID) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gens[personID]
}

// recent returns up to n entries, newest first. entries is in append order.
func recent(entries []Entry, n int) []Entry {
	if n <= 0 || len(entries) == 0 {
		return nil
	}
	if n > len(entries) {
		n = len(entries)
	}
	out := make([]Entry, 0, n)
	for i := len(entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, entries[i])
	}
	return out
}

func (v *View) clone() *View {
	out := *v
	out.Categories = append([]Category(nil), v.Categories...)
	out.Recent = append([]Entry(nil), v.Recent...)
	out.Drift = append([]CategoryReport(nil), v.Drift...)
	return &out
}
