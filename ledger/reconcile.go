/*
reconcile.go - Reconciler

PURPOSE:
  The ledger is the source of truth; the balance document is a projection of
  it. Reconcile recomputes the projection from entries and compares it with
  what is stored.

DERIVATION (per category name):
  total     = sum(granted days)
  remaining = total - sum(used days)

REPORT FLAGS:
  Drift    stored values differ from ledger-derived values
  Missing  category exists in the ledger but not in the document
  Orphan   category exists in the document but has no entries

POLICY:
  - Read path never writes. Drift is logged and counted.
  - Repair (admin, or reads with auto-repair enabled) rewrites the document
    from the ledger inside a transaction.
  - Seeding: a person with neither document nor entries gets the default
    category and a matching granted entry, once.

Reconcile is a pure function: the same balance and entries always produce
the same report, regardless of entry order.
*/
package ledger

import (
	"context"
	"errors"
	"sort"
	"time"
)

// =============================================================================
// REPORT
// =============================================================================

type CategoryReport struct {
	CategoryID CategoryID
	Name       string

	LedgerTotal     int
	LedgerRemaining int
	StoredTotal     int
	StoredRemaining int

	Drift   bool
	Missing bool
	Orphan  bool
}

type Report struct {
	PersonID   PersonID
	Categories []CategoryReport // sorted by name
	derived    []Category
}

// Drifted counts categories whose stored values disagree with the ledger.
func (r Report) Drifted() int {
	n := 0
	for _, c := range r.Categories {
		if c.Drift {
			n++
		}
	}
	return n
}

func (r Report) HasDrift() bool { return r.Drifted() > 0 }

// Derived returns the ledger-derived categories, carrying stored identity
// (ID, IsDefault, CreatedAt) where the document has them.
func (r Report) Derived() []Category {
	return append([]Category(nil), r.derived...)
}

// =============================================================================
// PURE RECONCILIATION
// =============================================================================

type tally struct {
	id        CategoryID
	granted   int
	used      int
	firstSeen time.Time
	updated   time.Time
}

// Reconcile compares a stored balance (nil when absent) with the ledger.
func Reconcile(personID PersonID, balance *Balance, entries []Entry) Report {
	tallies := make(map[string]*tally)
	for _, e := range entries {
		name := NormalizeCategoryName(e.CategoryName)
		t, ok := tallies[name]
		if !ok {
			t = &tally{id: e.CategoryID, firstSeen: e.CreatedAt}
			tallies[name] = t
		}
		switch e.Kind {
		case EntryGranted:
			t.granted += e.Days
		case EntryUsed:
			t.used += e.Days
		}
		if e.CreatedAt.Before(t.firstSeen) {
			t.firstSeen = e.CreatedAt
			t.id = e.CategoryID
		}
		if e.CreatedAt.After(t.updated) {
			t.updated = e.CreatedAt
		}
	}

	stored := make(map[string]Category)
	if balance != nil {
		for _, c := range balance.Categories {
			stored[NormalizeCategoryName(c.Name)] = c
		}
	}

	names := make([]string, 0, len(tallies)+len(stored))
	for name := range tallies {
		names = append(names, name)
	}
	for name := range stored {
		if _, ok := tallies[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	report := Report{PersonID: personID}
	for _, name := range names {
		t, inLedger := tallies[name]
		c, inStore := stored[name]

		cr := CategoryReport{Name: name}
		if inLedger {
			cr.CategoryID = t.id
			cr.LedgerTotal = t.granted
			cr.LedgerRemaining = t.granted - t.used
		}
		if inStore {
			cr.CategoryID = c.ID
			cr.StoredTotal = c.TotalDays
			cr.StoredRemaining = c.RemainingDays
		}
		cr.Missing = inLedger && !inStore
		cr.Orphan = inStore && !inLedger
		cr.Drift = cr.LedgerTotal != cr.StoredTotal || cr.LedgerRemaining != cr.StoredRemaining
		report.Categories = append(report.Categories, cr)

		derived := Category{
			ID:            cr.CategoryID,
			Name:          name,
			TotalDays:     cr.LedgerTotal,
			RemainingDays: cr.LedgerRemaining,
		}
		if inStore {
			derived.IsDefault = c.IsDefault
			derived.CreatedAt = c.CreatedAt
			derived.UpdatedAt = c.UpdatedAt
		} else {
			derived.CreatedAt = t.firstSeen
			derived.UpdatedAt = t.updated
		}
		report.derived = append(report.derived, derived)
	}
	return report
}

// =============================================================================
// SERVICE OPERATIONS
// =============================================================================

// Reconcile reports drift for one person without writing anything.
func (s *Service) Reconcile(ctx context.Context, actor Actor, personID PersonID) (*Report, error) {
	if err := s.authorizeRead(actor, personID); err != nil {
		return nil, err
	}
	bal, err := s.store.Balance(ctx, personID)
	if errors.Is(err, ErrNotFound) {
		bal = nil
	} else if err != nil {
		return nil, translateStoreError(err, "reconcile")
	}
	entries, err := s.store.Entries(ctx, personID)
	if err != nil {
		return nil, translateStoreError(err, "reconcile")
	}
	report := Reconcile(personID, bal, entries)
	s.noteDrift(ctx, report)
	return &report, nil
}

// Repair rewrites the person's balance document from the ledger.
func (s *Service) Repair(ctx context.Context, actor Actor, personID PersonID) (report *Report, err error) {
	defer func() { s.record(ctx, "repair", err) }()

	if err := Authorize(actor, true, "repair balances"); err != nil {
		return nil, err
	}
	if personID == "" {
		return nil, invalidArgument("personId is required")
	}
	report, err = s.repair(ctx, personID)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, personID)
	return report, nil
}

// repair returns the report as it was before the rewrite.
func (s *Service) repair(ctx context.Context, personID PersonID) (*Report, error) {
	var report Report
	err := s.runTx(ctx, "repair", func(tx Tx) error {
		bal, err := tx.Balance(ctx, personID)
		if errors.Is(err, ErrNotFound) {
			bal = nil
		} else if err != nil {
			return err
		}
		entries, err := tx.Entries(ctx, personID)
		if err != nil {
			return err
		}
		report = Reconcile(personID, bal, entries)
		if !report.HasDrift() {
			return nil
		}
		if bal == nil {
			bal = NewBalance(personID)
		}
		now := s.timestamp()
		bal.Categories = report.Derived()
		for i := range bal.Categories {
			if bal.Categories[i].ID == "" {
				bal.Categories[i].ID = CategoryID(s.newID())
			}
			if bal.Categories[i].CreatedAt.IsZero() {
				bal.Categories[i].CreatedAt = now
			}
			bal.Categories[i].UpdatedAt = now
		}
		bal.UpdatedAt = now
		return tx.SaveBalance(ctx, bal)
	})
	if err != nil {
		return nil, err
	}
	if report.HasDrift() {
		s.log.Warn(s.log.WithFields(ctx, map[string]any{
			"person_id": personID,
			"drifted":   report.Drifted(),
		}), "ledger.repair.applied")
	}
	return &report, nil
}

// seed bootstraps the default category for a person with no history. It is a
// no-op when a document or any entry already exists.
func (s *Service) seed(ctx context.Context, personID PersonID) error {
	if s.defaults.Name == "" || s.defaults.Days <= 0 {
		return nil
	}
	seeded := false
	err := s.runTx(ctx, "seed", func(tx Tx) error {
		seeded = false
		if _, err := tx.Balance(ctx, personID); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		entries, err := tx.Entries(ctx, personID)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			return nil
		}

		now := s.timestamp()
		cat := Category{
			ID:            CategoryID(s.newID()),
			Name:          NormalizeCategoryName(s.defaults.Name),
			TotalDays:     s.defaults.Days,
			RemainingDays: s.defaults.Days,
			IsDefault:     true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		bal := NewBalance(personID)
		bal.Categories = []Category{cat}
		bal.UpdatedAt = now

		entry := Entry{
			ID:             EntryID(s.newID()),
			PersonID:       personID,
			Kind:           EntryGranted,
			CategoryID:     cat.ID,
			CategoryName:   cat.Name,
			Days:           cat.TotalDays,
			Date:           TruncateDay(now),
			Reason:         "default entitlement",
			IdempotencyKey: "seed:" + string(personID),
			CreatedBy:      "system",
			CreatedAt:      now,
		}
		if err := tx.AppendEntries(ctx, entry); err != nil {
			return err
		}
		if err := tx.SaveBalance(ctx, bal); err != nil {
			return err
		}
		seeded = true
		return nil
	})
	// Another reader seeded first.
	if IsKind(err, KindAlreadyExists) {
		return nil
	}
	if err == nil && seeded {
		s.log.Info(s.log.WithFields(ctx, map[string]any{
			"person_id": personID,
			"category":  s.defaults.Name,
			"days":      s.defaults.Days,
		}), "ledger.seed.created")
	}
	return err
}

func (s *Service) noteDrift(ctx context.Context, report Report) {
	n := report.Drifted()
	if n == 0 {
		return
	}
	s.observer.Drift(n)
	s.log.Warn(s.log.WithFields(ctx, map[string]any{
		"person_id": report.PersonID,
		"drifted":   n,
	}), "ledger.reconcile.drift")
}
