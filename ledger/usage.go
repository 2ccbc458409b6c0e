/*
usage.go - UsageProcessor (approval-time deduction)

PURPOSE:
  Approving a leave request deducts its days from one or more categories.
  This is the ledger's correctness boundary: no double-spend, no negative
  balance, no partial commit.

TRANSACTION (one atomic unit over the request and the balance document):
  1. Read request; missing -> not-found; status != pending -> already-exists
  2. Request must belong to PersonID; allocations must sum to DurationDays
  3. Read balance; missing -> not-found
  4. Validate EVERY allocation (cumulative per category):
       category missing          -> not-found
       remaining < requested     -> out-of-range "requested X, available Y"
  5. Only then: deduct all, save balance, append one used entry per
     allocation, mark request approved

WHY THE STATUS CHECK IS INSIDE THE TRANSACTION:
  Two approvals of the same request both read "pending". The first to commit
  advances the request Version; the second fails at commit, re-runs, now
  reads "approved" and returns already-exists. Balances move once.

IDEMPOTENCY KEYS:
  Used entries carry "used:<request>:<category>". A store-level unique index
  on the key is a second line of defense against a double deduction.
*/
package ledger

import (
	"context"
	"errors"
	"strings"
)

type UseInput struct {
	RequestID RequestID
	PersonID  PersonID

	// Allocations to deduct. Empty means "deduct the request's own
	// allocations as submitted".
	Allocations []Allocation
}

type UseResult struct {
	Request    Request
	Categories []Category // affected categories after deduction
	Entries    []Entry
}

// Use approves a pending request and deducts its allocations.
func (s *Service) Use(ctx context.Context, actor Actor, in UseInput) (res *UseResult, err error) {
	defer func() { s.record(ctx, "use", err) }()

	if err := Authorize(actor, true, "approve leave"); err != nil {
		return nil, err
	}
	in.RequestID = RequestID(strings.TrimSpace(string(in.RequestID)))
	in.PersonID = PersonID(strings.TrimSpace(string(in.PersonID)))
	if in.RequestID == "" {
		return nil, invalidArgument("requestId is required")
	}
	if in.PersonID == "" {
		return nil, invalidArgument("personId is required")
	}
	if err := validateAllocations(in.Allocations, true); err != nil {
		return nil, err
	}

	err = s.runTx(ctx, "use", func(tx Tx) error {
		now := s.timestamp()

		req, err := tx.Request(ctx, in.RequestID)
		if errors.Is(err, ErrNotFound) {
			return notFound("request %s not found", in.RequestID)
		} else if err != nil {
			return err
		}
		if req.Status != RequestPending {
			return alreadyExists("request %s already %s", req.ID, req.Status).
				with("status", string(req.Status))
		}
		if req.PersonID != in.PersonID {
			return invalidArgument("request %s does not belong to person %s", req.ID, in.PersonID)
		}

		allocs := in.Allocations
		if len(allocs) == 0 {
			allocs = req.Allocations
		}
		if sum := sumAllocations(allocs); sum != req.DurationDays {
			return invalidArgument("allocations sum to %d days, request spans %d", sum, req.DurationDays).
				with("allocated", sum).
				with("durationDays", req.DurationDays)
		}

		bal, err := tx.Balance(ctx, in.PersonID)
		if errors.Is(err, ErrNotFound) {
			return notFound("no leave balance for person %s", in.PersonID)
		} else if err != nil {
			return err
		}

		// Validate everything before touching anything.
		wanted := make(map[CategoryID]int, len(allocs))
		for _, a := range allocs {
			wanted[a.CategoryID] += a.Days
		}
		for _, a := range allocs {
			cat := bal.Category(a.CategoryID)
			if cat == nil {
				return notFound("category %s not found for person %s", a.CategoryID, in.PersonID)
			}
			if cat.RemainingDays < wanted[a.CategoryID] {
				return insufficientBalance(cat.Name, wanted[a.CategoryID], cat.RemainingDays)
			}
		}

		entries := make([]Entry, 0, len(allocs))
		affected := make([]Category, 0, len(allocs))
		for _, a := range allocs {
			cat := bal.Category(a.CategoryID)
			cat.RemainingDays -= a.Days
			cat.UpdatedAt = now
			entries = append(entries, Entry{
				ID:             EntryID(s.newID()),
				PersonID:       in.PersonID,
				Kind:           EntryUsed,
				CategoryID:     cat.ID,
				CategoryName:   cat.Name,
				Days:           a.Days,
				Date:           req.StartDate,
				Reason:         req.Reason,
				RequestID:      req.ID,
				IdempotencyKey: "used:" + string(req.ID) + ":" + string(cat.ID),
				CreatedBy:      actor.ID,
				CreatedAt:      now,
			})
		}
		for _, a := range allocs {
			affected = append(affected, *bal.Category(a.CategoryID))
		}
		bal.UpdatedAt = now

		processedAt := now
		req.Status = RequestApproved
		req.Allocations = append([]Allocation(nil), allocs...)
		req.ProcessedAt = &processedAt
		req.ProcessedBy = actor.ID
		req.UpdatedAt = now

		if err := tx.SaveBalance(ctx, bal); err != nil {
			return err
		}
		if err := tx.AppendEntries(ctx, entries...); err != nil {
			return err
		}
		if err := tx.SaveRequest(ctx, req); err != nil {
			return err
		}

		res = &UseResult{Request: *req, Categories: affected, Entries: entries}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, in.PersonID)
	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"person_id":  in.PersonID,
		"request_id": in.RequestID,
		"days":       res.Request.DurationDays,
	}), "ledger.use.committed")
	return res, nil
}

// validateAllocations checks shape only. Balance checks happen at approval.
func validateAllocations(allocs []Allocation, allowEmpty bool) error {
	if len(allocs) == 0 {
		if allowEmpty {
			return nil
		}
		return invalidArgument("at least one allocation is required")
	}
	seen := make(map[CategoryID]bool, len(allocs))
	for i, a := range allocs {
		if strings.TrimSpace(string(a.CategoryID)) == "" {
			return invalidArgument("allocations[%d].categoryId is required", i)
		}
		if a.Days <= 0 {
			return invalidArgument("allocations[%d] days must be positive, got %d", i, a.Days)
		}
		if seen[a.CategoryID] {
			return invalidArgument("category %s allocated more than once", a.CategoryID)
		}
		seen[a.CategoryID] = true
	}
	return nil
}
