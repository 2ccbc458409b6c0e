/*
Package ledger provides the leave-entitlement ledger.

PURPOSE:
  Every person holds a handful of leave categories (annual, reward, medical,
  petition, ...). Each category has a total entitlement and a remaining
  balance. Administrators grant days, approved requests consume them, and the
  balance must never go negative or be spent twice when two approvals race.

KEY CONCEPTS IN THIS FILE (types.go):
  - Category: One entitlement bucket with total/remaining whole days
  - Balance:  The per-person document holding all categories (BalanceStore)
  - Entry:    An immutable granted/used event (LedgerLog)
  - Request:  A leave request moving pending -> approved|rejected exactly once
  - Actor:    The authenticated caller performing an operation

DESIGN PRINCIPLES:
  1. Whole days: amounts are integers, fractional days are rejected at the edge
  2. Append-only: entries are never modified, the ledger is the audit trail
  3. Optimistic documents: Balance and Request carry a Version checked on save
  4. Explicit results: reads return errors, never synthetic placeholder data

USAGE:
  svc := ledger.NewService(store.NewMemory())
  _, err := svc.Grant(ctx, admin, ledger.GrantInput{
      PersonID:     "p-1",
      CategoryName: "annual",
      Days:         24,
  })

SEE ALSO:
  - store.go:     Persistence and transaction interfaces
  - grant.go:     GrantProcessor
  - usage.go:     UsageProcessor (approval-time deduction)
  - request.go:   RequestWorkflow
  - reconcile.go: Reconciler
  - reader.go:    ReadCache-backed balance reads
*/
package ledger

import (
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PersonID string
type CategoryID string
type RequestID string
type EntryID string

// =============================================================================
// CATEGORY - One leave entitlement bucket
// =============================================================================

// Category is owned by exactly one Balance document.
// INVARIANT: 0 <= RemainingDays <= TotalDays.
type Category struct {
	ID            CategoryID
	Name          string
	TotalDays     int
	RemainingDays int
	IsDefault     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UsedDays is what has been consumed from the category so far.
func (c Category) UsedDays() int { return c.TotalDays - c.RemainingDays }

// Valid reports whether the category satisfies its balance invariant.
func (c Category) Valid() bool {
	return c.TotalDays >= 0 && c.RemainingDays >= 0 && c.RemainingDays <= c.TotalDays
}

// Well-known category names used by the surrounding application.
const (
	CategoryAnnual   = "annual"
	CategoryReward   = "reward"
	CategoryMedical  = "medical"
	CategoryPetition = "petition"
)

// NormalizeCategoryName trims surrounding whitespace. Names are otherwise
// compared verbatim.
func NormalizeCategoryName(name string) string {
	return strings.TrimSpace(name)
}

// =============================================================================
// BALANCE - Per-person document (BalanceStore)
// =============================================================================

// Balance is the persisted per-person document. Version is the optimistic
// concurrency token: 0 means the document has never been saved.
type Balance struct {
	PersonID   PersonID
	Categories []Category
	Version    int64
	UpdatedAt  time.Time
}

// NewBalance returns an empty, unsaved document.
func NewBalance(personID PersonID) *Balance {
	return &Balance{PersonID: personID}
}

// Category returns a pointer into Categories so callers can mutate in place.
func (b *Balance) Category(id CategoryID) *Category {
	for i := range b.Categories {
		if b.Categories[i].ID == id {
			return &b.Categories[i]
		}
	}
	return nil
}

// CategoryByName looks a category up by its normalized name.
func (b *Balance) CategoryByName(name string) *Category {
	name = NormalizeCategoryName(name)
	for i := range b.Categories {
		if b.Categories[i].Name == name {
			return &b.Categories[i]
		}
	}
	return nil
}

// Clone returns a deep copy. Stores hand out clones so a caller mutating a
// document never touches committed state.
func (b *Balance) Clone() *Balance {
	if b == nil {
		return nil
	}
	out := *b
	out.Categories = append([]Category(nil), b.Categories...)
	return &out
}

// TotalRemaining sums remaining days across categories.
func (b *Balance) TotalRemaining() int {
	total := 0
	for _, c := range b.Categories {
		total += c.RemainingDays
	}
	return total
}

// =============================================================================
// ENTRY - Immutable ledger event (LedgerLog)
// =============================================================================

type EntryKind string

const (
	EntryGranted EntryKind = "granted" // Administrator grant
	EntryUsed    EntryKind = "used"    // Deduction from an approved request
)

// Entry is append-only. Days is always positive; Kind carries the sign.
type Entry struct {
	ID             EntryID
	PersonID       PersonID
	Kind           EntryKind
	CategoryID     CategoryID
	CategoryName   string
	Days           int
	Date           time.Time
	Reason         string
	RequestID      RequestID // set for EntryUsed
	IdempotencyKey string
	CreatedBy      string
	CreatedAt      time.Time
}

// Signed returns the balance effect of the entry.
func (e Entry) Signed() int {
	if e.Kind == EntryUsed {
		return -e.Days
	}
	return e.Days
}

// =============================================================================
// REQUEST - Leave request lifecycle (RequestWorkflow)
// =============================================================================

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// Allocation assigns part of a request's duration to one category.
type Allocation struct {
	CategoryID CategoryID
	Days       int
}

// Request is created pending and transitions to approved or rejected once.
type Request struct {
	ID              RequestID
	PersonID        PersonID
	Allocations     []Allocation
	StartDate       time.Time
	EndDate         time.Time
	DurationDays    int
	Status          RequestStatus
	Destination     string
	Contact         string
	Reason          string
	ProcessedAt     *time.Time
	ProcessedBy     string
	RejectionReason string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int64
}

// AllocatedDays sums the allocations.
func (r *Request) AllocatedDays() int {
	return sumAllocations(r.Allocations)
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	out.Allocations = append([]Allocation(nil), r.Allocations...)
	if r.ProcessedAt != nil {
		t := *r.ProcessedAt
		out.ProcessedAt = &t
	}
	return &out
}

func sumAllocations(allocs []Allocation) int {
	total := 0
	for _, a := range allocs {
		total += a.Days
	}
	return total
}

// =============================================================================
// ACTOR - Authenticated caller
// =============================================================================

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Actor identifies who is calling. A zero Actor is unauthenticated.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) Authenticated() bool { return a.ID != "" }
func (a Actor) IsAdmin() bool       { return a.Role == RoleAdmin }

// CanRead reports whether the actor may read a person's ledger.
func (a Actor) CanRead(personID PersonID) bool {
	return a.IsAdmin() || PersonID(a.ID) == personID
}
