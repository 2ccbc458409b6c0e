package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/ledger"
	"github.com/warp/leave-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	admin  = ledger.Actor{ID: "admin-1", Role: ledger.RoleAdmin}
	alice  = ledger.Actor{ID: "alice", Role: ledger.RoleMember}
	bob    = ledger.Actor{ID: "bob", Role: ledger.RoleMember}
	nobody = ledger.Actor{}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, time.February, 20, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc   *ledger.Service
	store *store.Memory
	clock *testClock
}

func newFixture(t *testing.T, opts ...ledger.Option) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemory(), clock: newTestClock()}
	opts = append([]ledger.Option{ledger.WithClock(f.clock.Now)}, opts...)
	f.svc = ledger.NewService(f.store, opts...)
	return f
}

// grant applies an admin grant and returns the category.
func (f *fixture) grant(t *testing.T, person ledger.PersonID, category string, days int) ledger.Category {
	t.Helper()
	res, err := f.svc.Grant(context.Background(), admin, ledger.GrantInput{
		PersonID:     person,
		CategoryName: category,
		Days:         days,
		Reason:       "test grant",
	})
	require.NoError(t, err)
	return res.Category
}

// submit creates a pending request for person covering [start, end] on one category.
func (f *fixture) submit(t *testing.T, person ledger.PersonID, cat ledger.CategoryID, start, end time.Time) *ledger.Request {
	t.Helper()
	req, err := f.svc.Submit(context.Background(), ledger.Actor{ID: string(person), Role: ledger.RoleMember}, ledger.SubmitInput{
		Allocations: []ledger.Allocation{{CategoryID: cat, Days: ledger.DurationDays(start, end)}},
		StartDate:   start,
		EndDate:     end,
		Reason:      "vacation",
	})
	require.NoError(t, err)
	return req
}

func (f *fixture) approve(req *ledger.Request) (*ledger.UseResult, error) {
	return f.svc.Use(context.Background(), admin, ledger.UseInput{
		RequestID: req.ID,
		PersonID:  req.PersonID,
	})
}

func (f *fixture) stored(t *testing.T, person ledger.PersonID, name string) ledger.Category {
	t.Helper()
	b, err := f.store.Balance(context.Background(), person)
	require.NoError(t, err)
	c := b.CategoryByName(name)
	require.NotNil(t, c, "category %s", name)
	return *c
}

func day(m time.Month, d int) time.Time {
	return ledger.Date(2024, m, d)
}

func requireKind(t *testing.T, err error, kind ledger.Kind) *ledger.Error {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, ledger.KindOf(err), "error: %v", err)
	return ledger.AsError(err)
}
