/*
grant.go - GrantProcessor

PURPOSE:
  Administrators grant whole days to a person's leave category. A grant
  raises both TotalDays and RemainingDays and appends a granted entry, in one
  transaction against the person's balance document.

FLOW:
  1. Authenticate + authorize (admin)         -> unauthenticated / permission-denied
  2. Validate input                           -> invalid-argument
  3. In a transaction:
     - load balance (absent: start an empty document)
     - find category by name (absent: create it)
     - total += days, remaining += days
     - append granted entry, save balance (version checked)
  4. Invalidate the person's cached view

CONCURRENCY:
  Two grants to the same person race on the balance Version. The loser's
  commit fails with ErrConcurrentModification and the whole closure re-runs
  on fresh state, so both grants land (1+1 = 2, never 1).
*/
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"
)

type GrantInput struct {
	PersonID     PersonID
	CategoryName string
	Days         int
	Reason       string

	// IdempotencyKey de-duplicates client retries. Optional.
	IdempotencyKey string
}

type GrantResult struct {
	Category Category
	Entry    Entry
}

// Grant applies an administrative grant.
func (s *Service) Grant(ctx context.Context, actor Actor, in GrantInput) (res *GrantResult, err error) {
	defer func() { s.record(ctx, "grant", err) }()

	if err := Authorize(actor, true, "grant leave"); err != nil {
		return nil, err
	}
	in.PersonID = PersonID(strings.TrimSpace(string(in.PersonID)))
	in.CategoryName = NormalizeCategoryName(in.CategoryName)
	if in.PersonID == "" {
		return nil, invalidArgument("personId is required")
	}
	if in.CategoryName == "" {
		return nil, invalidArgument("categoryName is required")
	}
	if in.Days <= 0 {
		return nil, invalidArgument("days must be positive, got %d", in.Days)
	}

	err = s.runTx(ctx, "grant", func(tx Tx) error {
		now := s.timestamp()

		bal, err := tx.Balance(ctx, in.PersonID)
		if errors.Is(err, ErrNotFound) {
			bal = NewBalance(in.PersonID)
		} else if err != nil {
			return err
		}

		cat := bal.CategoryByName(in.CategoryName)
		if cat == nil {
			bal.Categories = append(bal.Categories, Category{
				ID:        CategoryID(s.newID()),
				Name:      in.CategoryName,
				CreatedAt: now,
			})
			cat = &bal.Categories[len(bal.Categories)-1]
		}
		cat.TotalDays += in.Days
		cat.RemainingDays += in.Days
		cat.UpdatedAt = now
		bal.UpdatedAt = now

		entry := s.grantEntry(in, *cat, actor.ID, now)
		if err := tx.AppendEntries(ctx, entry); err != nil {
			return err
		}
		if err := tx.SaveBalance(ctx, bal); err != nil {
			return err
		}

		res = &GrantResult{Category: *cat, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, in.PersonID)
	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"person_id": in.PersonID,
		"category":  in.CategoryName,
		"days":      in.Days,
		"remaining": res.Category.RemainingDays,
	}), "ledger.grant.committed")
	return res, nil
}

func (s *Service) grantEntry(in GrantInput, cat Category, createdBy string, now time.Time) Entry {
	return Entry{
		ID:             EntryID(s.newID()),
		PersonID:       in.PersonID,
		Kind:           EntryGranted,
		CategoryID:     cat.ID,
		CategoryName:   cat.Name,
		Days:           in.Days,
		Date:           TruncateDay(now),
		Reason:         in.Reason,
		IdempotencyKey: in.IdempotencyKey,
		CreatedBy:      createdBy,
		CreatedAt:      now,
	}
}

// record reports the outcome of an operation to the observer.
func (s *Service) record(ctx context.Context, op string, err error) {
	kind := KindOf(err)
	if kind == "" {
		kind = "ok"
	}
	s.observer.Outcome(op, kind)
	if kind == KindInternal {
		s.log.Error(s.log.WithField(ctx, "op", op), "ledger.op.failed", err)
	}
}
