package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/ledger"
)

func TestSubmit_CreatesPendingWithoutTouchingBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	annual := f.grant(t, "alice", "annual", 5)
	before, err := f.store.Balance(ctx, "alice")
	require.NoError(t, err)

	// Over-asking is allowed at submission; approval decides.
	req, err := f.svc.Submit(ctx, alice, ledger.SubmitInput{
		Allocations: []ledger.Allocation{{CategoryID: annual.ID, Days: 9}},
		StartDate:   day(3, 1),
		EndDate:     day(3, 9),
		Destination: " Jeju ",
		Contact:     "010-0000-0000",
		Reason:      "family trip",
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.RequestPending, req.Status)
	assert.Equal(t, ledger.PersonID("alice"), req.PersonID)
	assert.Equal(t, 9, req.DurationDays)
	assert.Equal(t, "Jeju", req.Destination)
	assert.Nil(t, req.ProcessedAt)

	after, err := f.store.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)

	got, err := f.svc.Request(ctx, alice, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
}

func TestSubmit_DatesAreCalendarDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Time of day is ignored; one calendar day is one day.
	req, err := f.svc.Submit(ctx, alice, ledger.SubmitInput{
		Allocations: []ledger.Allocation{{CategoryID: "c", Days: 1}},
		StartDate:   time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, req.DurationDays)
	assert.Equal(t, day(3, 1), req.StartDate)
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	one := []ledger.Allocation{{CategoryID: "c", Days: 1}}

	tests := []struct {
		name  string
		actor ledger.Actor
		in    ledger.SubmitInput
		kind  ledger.Kind
	}{
		{"unauthenticated", nobody, ledger.SubmitInput{}, ledger.KindUnauthenticated},
		{"member for someone else", alice, ledger.SubmitInput{PersonID: "bob", Allocations: one, StartDate: day(3, 1), EndDate: day(3, 1)}, ledger.KindPermissionDenied},
		{"no allocations", alice, ledger.SubmitInput{StartDate: day(3, 1), EndDate: day(3, 1)}, ledger.KindInvalidArgument},
		{"zero days", alice, ledger.SubmitInput{Allocations: []ledger.Allocation{{CategoryID: "c", Days: 0}}, StartDate: day(3, 1), EndDate: day(3, 1)}, ledger.KindInvalidArgument},
		{"duplicate category", alice, ledger.SubmitInput{Allocations: []ledger.Allocation{{CategoryID: "c", Days: 1}, {CategoryID: "c", Days: 1}}, StartDate: day(3, 1), EndDate: day(3, 2)}, ledger.KindInvalidArgument},
		{"missing dates", alice, ledger.SubmitInput{Allocations: one}, ledger.KindInvalidArgument},
		{"end before start", alice, ledger.SubmitInput{Allocations: one, StartDate: day(3, 2), EndDate: day(3, 1)}, ledger.KindInvalidArgument},
		{"sum mismatch", alice, ledger.SubmitInput{Allocations: one, StartDate: day(3, 1), EndDate: day(3, 3)}, ledger.KindInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(ctx, tt.actor, tt.in)
			requireKind(t, err, tt.kind)
		})
	}
}

func TestSubmit_AdminOnBehalf(t *testing.T) {
	f := newFixture(t)
	req, err := f.svc.Submit(context.Background(), admin, ledger.SubmitInput{
		PersonID:    "bob",
		Allocations: []ledger.Allocation{{CategoryID: "c", Days: 2}},
		StartDate:   day(3, 1),
		EndDate:     day(3, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.PersonID("bob"), req.PersonID)
}

func TestReject_PendingOnlyAndNoBalanceEffect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	annual := f.grant(t, "alice", "annual", 24)
	req := f.submit(t, "alice", annual.ID, day(3, 1), day(3, 4))

	_, err := f.svc.Reject(ctx, alice, ledger.RejectInput{RequestID: req.ID})
	requireKind(t, err, ledger.KindPermissionDenied)

	rejected, err := f.svc.Reject(ctx, admin, ledger.RejectInput{RequestID: req.ID, Reason: "team offsite"})
	require.NoError(t, err)
	assert.Equal(t, ledger.RequestRejected, rejected.Status)
	assert.Equal(t, "team offsite", rejected.RejectionReason)
	assert.Equal(t, "admin-1", rejected.ProcessedBy)
	require.NotNil(t, rejected.ProcessedAt)

	// Terminal: neither reject nor approve applies again.
	_, err = f.svc.Reject(ctx, admin, ledger.RejectInput{RequestID: req.ID})
	requireKind(t, err, ledger.KindAlreadyExists)
	_, err = f.approve(req)
	requireKind(t, err, ledger.KindAlreadyExists)

	assert.Equal(t, 24, f.stored(t, "alice", "annual").RemainingDays)

	_, err = f.svc.Reject(ctx, admin, ledger.RejectInput{RequestID: "missing"})
	requireKind(t, err, ledger.KindNotFound)
}

func TestRequests_MembersReadOnlyTheirOwn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.submit(t, "alice", "c", day(3, 1), day(3, 1))
	f.clock.Advance(time.Minute)
	newer := f.submit(t, "alice", "c", day(4, 1), day(4, 1))

	list, err := f.svc.Requests(ctx, alice, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)

	_, err = f.svc.Requests(ctx, bob, "alice")
	requireKind(t, err, ledger.KindPermissionDenied)

	_, err = f.svc.Request(ctx, bob, req.ID)
	requireKind(t, err, ledger.KindNotFound)

	list, err = f.svc.Requests(ctx, admin, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
