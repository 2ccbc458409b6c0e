/*
store.go - Persistence interfaces for balances, entries and requests

PURPOSE:
  Defines the boundary between ledger logic and storage backends. The same
  ledger code runs on the in-memory store (tests, dev), SQLite and Postgres.

KEY INTERFACES:
  Reader: Non-transactional reads used by the Reconciler and ReadCache
  Tx:     Reads and writes inside one atomic unit
  Store:  Reader + WithTx

TRANSACTION CONTRACT:
  WithTx(ctx, fn) runs fn against a Tx. If fn returns an error nothing is
  written. If fn returns nil the store commits atomically, and:
  - SaveBalance/SaveRequest check the document Version read by the caller.
    A mismatch at save or commit time fails the whole unit with
    ErrConcurrentModification. The ledger retries the closure; stores never
    retry on their own.
  - AppendEntries fails with ErrDuplicateEntry if an IdempotencyKey exists.

APPEND-ONLY CONTRACT:
  There is no UpdateEntry or DeleteEntry. Ever.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, optimistic commit validation
  - store/sqlite/sqlite.go: SQLite via database/sql + mattn/go-sqlite3
  - store/postgres/postgres.go: Postgres via gorm

SEE ALSO:
  - tx.go: Retry loop used by Service
*/
package ledger

import "context"

// =============================================================================
// READER - Non-transactional reads
// =============================================================================

type Reader interface {
	// Balance returns the person's document or ErrNotFound.
	Balance(ctx context.Context, personID PersonID) (*Balance, error)

	// Entries returns all entries for the person ordered by CreatedAt ascending.
	Entries(ctx context.Context, personID PersonID) ([]Entry, error)

	// Request returns a request or ErrNotFound.
	Request(ctx context.Context, id RequestID) (*Request, error)

	// Requests returns the person's requests, newest first.
	Requests(ctx context.Context, personID PersonID) ([]Request, error)
}

// =============================================================================
// TX - Transactional view
// =============================================================================

type Tx interface {
	Balance(ctx context.Context, personID PersonID) (*Balance, error)

	// Entries sees entries appended earlier in the same transaction.
	Entries(ctx context.Context, personID PersonID) ([]Entry, error)

	// SaveBalance writes the document. b.Version must be the version that was
	// read (0 for a new document). On success b.Version is advanced.
	SaveBalance(ctx context.Context, b *Balance) error

	AppendEntries(ctx context.Context, entries ...Entry) error

	Request(ctx context.Context, id RequestID) (*Request, error)

	// SaveRequest follows the same version rules as SaveBalance.
	SaveRequest(ctx context.Context, r *Request) error
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	Reader

	// WithTx executes fn within one atomic unit.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
