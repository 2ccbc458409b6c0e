/*
request.go - RequestWorkflow

PURPOSE:
  Persons submit leave requests; administrators approve (usage.go) or reject
  them. A request moves pending -> approved|rejected exactly once.

RESERVE-LESS SUBMISSION:
  Submit never reads or writes the balance. Availability is checked only when
  the request is approved, so two pending requests may together exceed the
  remaining balance; the second approval then fails with out-of-range.

DURATION:
  DurationDays counts calendar days inclusively (Mar 1..Mar 9 = 9) and the
  allocations must sum to it exactly.
*/
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"
)

type SubmitInput struct {
	PersonID    PersonID // empty: the caller
	Allocations []Allocation
	StartDate   time.Time
	EndDate     time.Time
	Destination string
	Contact     string
	Reason      string
}

type RejectInput struct {
	RequestID RequestID
	Reason    string
}

// Submit creates a pending request. Members submit for themselves; admins may
// submit on behalf of anyone.
func (s *Service) Submit(ctx context.Context, actor Actor, in SubmitInput) (req *Request, err error) {
	defer func() { s.record(ctx, "submit", err) }()

	if !actor.Authenticated() {
		return nil, unauthenticated()
	}
	in.PersonID = PersonID(strings.TrimSpace(string(in.PersonID)))
	if in.PersonID == "" {
		in.PersonID = PersonID(actor.ID)
	}
	if !actor.IsAdmin() && PersonID(actor.ID) != in.PersonID {
		return nil, permissionDenied("submit leave for another person")
	}
	if err := validateAllocations(in.Allocations, false); err != nil {
		return nil, err
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return nil, invalidArgument("startDate and endDate are required")
	}
	start, end := TruncateDay(in.StartDate), TruncateDay(in.EndDate)
	if end.Before(start) {
		return nil, invalidArgument("endDate %s is before startDate %s", FormatDate(end), FormatDate(start))
	}
	duration := DurationDays(start, end)
	if sum := sumAllocations(in.Allocations); sum != duration {
		return nil, invalidArgument("allocations sum to %d days, request spans %d", sum, duration).
			with("allocated", sum).
			with("durationDays", duration)
	}

	now := s.timestamp()
	req = &Request{
		ID:           RequestID(s.newID()),
		PersonID:     in.PersonID,
		Allocations:  append([]Allocation(nil), in.Allocations...),
		StartDate:    start,
		EndDate:      end,
		DurationDays: duration,
		Status:       RequestPending,
		Destination:  strings.TrimSpace(in.Destination),
		Contact:      strings.TrimSpace(in.Contact),
		Reason:       strings.TrimSpace(in.Reason),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.runTx(ctx, "submit", func(tx Tx) error {
		// A re-run starts from an unsaved document again.
		req.Version = 0
		return tx.SaveRequest(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"person_id":  req.PersonID,
		"request_id": req.ID,
		"days":       req.DurationDays,
	}), "ledger.request.submitted")
	return req, nil
}

// Reject closes a pending request without touching any balance.
func (s *Service) Reject(ctx context.Context, actor Actor, in RejectInput) (res *Request, err error) {
	defer func() { s.record(ctx, "reject", err) }()

	if err := Authorize(actor, true, "reject leave"); err != nil {
		return nil, err
	}
	in.RequestID = RequestID(strings.TrimSpace(string(in.RequestID)))
	if in.RequestID == "" {
		return nil, invalidArgument("requestId is required")
	}

	err = s.runTx(ctx, "reject", func(tx Tx) error {
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

		now := s.timestamp()
		req.Status = RequestRejected
		req.ProcessedAt = &now
		req.ProcessedBy = actor.ID
		req.RejectionReason = strings.TrimSpace(in.Reason)
		req.UpdatedAt = now
		if err := tx.SaveRequest(ctx, req); err != nil {
			return err
		}
		res = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"person_id":  res.PersonID,
		"request_id": res.ID,
	}), "ledger.request.rejected")
	return res, nil
}

// Request returns one request. Members may only read their own.
func (s *Service) Request(ctx context.Context, actor Actor, id RequestID) (*Request, error) {
	if !actor.Authenticated() {
		return nil, unauthenticated()
	}
	id = RequestID(strings.TrimSpace(string(id)))
	if id == "" {
		return nil, invalidArgument("requestId is required")
	}
	req, err := s.store.Request(ctx, id)
	if err != nil {
		return nil, translateStoreError(err, "request")
	}
	if !actor.CanRead(req.PersonID) {
		// Do not reveal that someone else's request exists.
		return nil, notFound("request %s not found", id)
	}
	return req, nil
}

// Requests lists a person's requests, newest first.
func (s *Service) Requests(ctx context.Context, actor Actor, personID PersonID) ([]Request, error) {
	if err := s.authorizeRead(actor, personID); err != nil {
		return nil, err
	}
	reqs, err := s.store.Requests(ctx, personID)
	if err != nil {
		return nil, translateStoreError(err, "requests")
	}
	return reqs, nil
}

// Entries returns a person's full ledger in append order.
func (s *Service) Entries(ctx context.Context, actor Actor, personID PersonID) ([]Entry, error) {
	if err := s.authorizeRead(actor, personID); err != nil {
		return nil, err
	}
	entries, err := s.store.Entries(ctx, personID)
	if err != nil {
		return nil, translateStoreError(err, "entries")
	}
	return entries, nil
}

func (s *Service) authorizeRead(actor Actor, personID PersonID) error {
	if !actor.Authenticated() {
		return unauthenticated()
	}
	if !actor.CanRead(personID) {
		return newError(KindPermissionDenied, "cannot read leave of person %s", personID)
	}
	if strings.TrimSpace(string(personID)) == "" {
		return invalidArgument("personId is required")
	}
	return nil
}
