package ledger_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/ledger"
)

func entry(kind ledger.EntryKind, cat string, days int, at time.Time) ledger.Entry {
	return ledger.Entry{
		ID:           ledger.EntryID(cat + at.String()),
		PersonID:     "alice",
		Kind:         kind,
		CategoryID:   ledger.CategoryID("id-" + cat),
		CategoryName: cat,
		Days:         days,
		CreatedAt:    at,
	}
}

func TestReconcile_DerivesFromLedger(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []ledger.Entry{
		entry(ledger.EntryGranted, "annual", 24, base),
		entry(ledger.EntryUsed, "annual", 9, base.Add(time.Hour)),
		entry(ledger.EntryGranted, "reward", 2, base.Add(2*time.Hour)),
	}
	bal := &ledger.Balance{PersonID: "alice", Categories: []ledger.Category{
		{ID: "id-annual", Name: "annual", TotalDays: 24, RemainingDays: 15, IsDefault: true},
		{ID: "id-reward", Name: "reward", TotalDays: 2, RemainingDays: 2},
	}}

	report := ledger.Reconcile("alice", bal, entries)

	assert.False(t, report.HasDrift())
	require.Len(t, report.Categories, 2)
	assert.Equal(t, "annual", report.Categories[0].Name)
	assert.Equal(t, 24, report.Categories[0].LedgerTotal)
	assert.Equal(t, 15, report.Categories[0].LedgerRemaining)

	derived := report.Derived()
	assert.True(t, derived[0].IsDefault, "stored identity is carried over")
	assert.Equal(t, ledger.CategoryID("id-annual"), derived[0].ID)
}

func TestReconcile_FlagsDriftMissingAndOrphan(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []ledger.Entry{
		entry(ledger.EntryGranted, "annual", 24, base),
		entry(ledger.EntryUsed, "annual", 4, base.Add(time.Hour)),
		entry(ledger.EntryGranted, "medical", 3, base.Add(time.Hour)),
	}
	bal := &ledger.Balance{PersonID: "alice", Categories: []ledger.Category{
		{ID: "id-annual", Name: "annual", TotalDays: 24, RemainingDays: 24},
		{ID: "id-petition", Name: "petition", TotalDays: 1, RemainingDays: 1},
	}}

	report := ledger.Reconcile("alice", bal, entries)
	byName := map[string]ledger.CategoryReport{}
	for _, c := range report.Categories {
		byName[c.Name] = c
	}

	assert.True(t, byName["annual"].Drift)
	assert.Equal(t, 20, byName["annual"].LedgerRemaining)
	assert.Equal(t, 24, byName["annual"].StoredRemaining)

	assert.True(t, byName["medical"].Missing)
	assert.True(t, byName["medical"].Drift)

	assert.True(t, byName["petition"].Orphan)
	assert.True(t, byName["petition"].Drift)

	assert.Equal(t, 3, report.Drifted())
}

func TestReconcile_NoDocumentNoEntries(t *testing.T) {
	report := ledger.Reconcile("alice", nil, nil)
	assert.Empty(t, report.Categories)
	assert.False(t, report.HasDrift())
}

func TestReconcile_DeterministicUnderReordering(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var entries []ledger.Entry
	for i := 0; i < 30; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		cat := []string{"annual", "reward", "petition"}[i%3]
		entries = append(entries, entry(ledger.EntryGranted, cat, 2, at))
		if i%2 == 0 {
			entries = append(entries, entry(ledger.EntryUsed, cat, 1, at.Add(time.Second)))
		}
	}
	want := ledger.Reconcile("alice", nil, entries)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]ledger.Entry(nil), entries...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := ledger.Reconcile("alice", nil, shuffled)
		assert.Equal(t, want.Categories, got.Categories)
		assert.Equal(t, want.Derived(), got.Derived())
	}
}

func TestReconcile_ConsistentAfterInterleavedOperations(t *testing.T) {
	// GIVEN: a mix of grants, approvals and rejections
	f := newFixture(t)
	ctx := context.Background()
	annual := f.grant(t, "alice", "annual", 24)
	f.grant(t, "alice", "reward", 3)
	r1 := f.submit(t, "alice", annual.ID, day(3, 1), day(3, 5))
	r2 := f.submit(t, "alice", annual.ID, day(4, 1), day(4, 2))
	_, err := f.approve(r1)
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, admin, ledger.RejectInput{RequestID: r2.ID})
	require.NoError(t, err)
	f.grant(t, "alice", "annual", 2)

	// THEN: stored document equals the ledger projection
	report, err := f.svc.Reconcile(ctx, alice, "alice")
	require.NoError(t, err)
	assert.False(t, report.HasDrift(), "%+v", report.Categories)
	for _, c := range report.Categories {
		assert.GreaterOrEqual(t, c.StoredRemaining, 0)
		assert.LessOrEqual(t, c.StoredRemaining, c.StoredTotal)
	}
}

// =============================================================================
// DRIFT AND REPAIR
// =============================================================================

// corrupt overwrites a stored category without a matching ledger entry.
func corrupt(t *testing.T, f *fixture, person ledger.PersonID, name string, remaining int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.WithTx(ctx, func(tx ledger.Tx) error {
		b, err := tx.Balance(ctx, person)
		if err != nil {
			return err
		}
		b.CategoryByName(name).RemainingDays = remaining
		return tx.SaveBalance(ctx, b)
	}))
}

func TestReconcile_ReadPathReportsWithoutWriting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grant(t, "alice", "annual", 24)
	corrupt(t, f, "alice", "annual", 3)

	view, err := f.svc.Refresh(ctx, alice, "alice")
	require.NoError(t, err)

	// Served from the ledger, drift reported, document untouched.
	assert.Equal(t, 24, view.Category("annual").RemainingDays)
	require.Len(t, view.Drift, 1)
	assert.Equal(t, 3, view.Drift[0].StoredRemaining)
	assert.Equal(t, 3, f.stored(t, "alice", "annual").RemainingDays)
}

func TestRepair_RewritesDocumentFromLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grant(t, "alice", "annual", 24)
	corrupt(t, f, "alice", "annual", 3)

	_, err := f.svc.Repair(ctx, alice, "alice")
	requireKind(t, err, ledger.KindPermissionDenied)

	report, err := f.svc.Repair(ctx, admin, "alice")
	require.NoError(t, err)
	assert.True(t, report.HasDrift(), "report describes what was fixed")
	assert.Equal(t, 24, f.stored(t, "alice", "annual").RemainingDays)

	after, err := f.svc.Reconcile(ctx, admin, "alice")
	require.NoError(t, err)
	assert.False(t, after.HasDrift())
}

func TestRepair_AutoRepairOnRead(t *testing.T) {
	f := newFixture(t, ledger.WithAutoRepair(true))
	ctx := context.Background()
	f.grant(t, "alice", "annual", 24)
	corrupt(t, f, "alice", "annual", 3)

	_, err := f.svc.Refresh(ctx, alice, "alice")
	require.NoError(t, err)
	assert.Equal(t, 24, f.stored(t, "alice", "annual").RemainingDays)
}

// =============================================================================
// DEFAULT SEEDING
// =============================================================================

func TestSeed_FirstReadBootstrapsDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.svc.Balance(ctx, alice, "alice")
	require.NoError(t, err)

	annual := view.Category(ledger.CategoryAnnual)
	require.NotNil(t, annual)
	assert.Equal(t, 24, annual.TotalDays)
	assert.Equal(t, 24, annual.RemainingDays)
	assert.True(t, annual.IsDefault)
	require.Len(t, view.Recent, 1)
	assert.Equal(t, ledger.EntryGranted, view.Recent[0].Kind)

	// Stored document and ledger agree.
	report, err := f.svc.Reconcile(ctx, alice, "alice")
	require.NoError(t, err)
	assert.False(t, report.HasDrift())
}

func TestSeed_ConfigurableDefault(t *testing.T) {
	f := newFixture(t, ledger.WithDefaultCategory(ledger.DefaultCategory{Name: "vacation", Days: 15}))

	view, err := f.svc.Balance(context.Background(), alice, "alice")
	require.NoError(t, err)
	require.NotNil(t, view.Category("vacation"))
	assert.Equal(t, 15, view.Category("vacation").TotalDays)
}

func TestSeed_NotAppliedWhenHistoryExists(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "alice", "reward", 2)

	view, err := f.svc.Balance(context.Background(), alice, "alice")
	require.NoError(t, err)
	assert.Nil(t, view.Category(ledger.CategoryAnnual))
	assert.NotNil(t, view.Category("reward"))
}

func TestSeed_IdempotentAcrossReplicas(t *testing.T) {
	// GIVEN: two service instances sharing one store
	f := newFixture(t)
	other := ledger.NewService(f.store, ledger.WithClock(f.clock.Now))
	ctx := context.Background()

	done := make(chan error, 2)
	for _, svc := range []*ledger.Service{f.svc, other} {
		go func(svc *ledger.Service) {
			_, err := svc.Balance(ctx, alice, "alice")
			done <- err
		}(svc)
	}
	require.NoError(t, <-done)
	require.NoError(t, <-done)

	// THEN: exactly one seed entry
	entries, err := f.store.Entries(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 24, f.stored(t, "alice", "annual").TotalDays)
}
