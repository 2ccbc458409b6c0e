/*
Package sqlite provides a SQLite-backed ledger.Store.

PURPOSE:
  Persists balance documents, the append-only entry log and leave requests
  in a single SQLite file. Suited to single-node deployments and tests; the
  gorm store in store/postgres serves multi-replica deployments.

KEY TABLES:
  balances: One row per person. Categories are stored as a JSON document
            next to an integer version (optimistic concurrency token).
  entries:  Immutable ledger of grants and usages. No UPDATE, no DELETE.
  requests: Leave requests with their own version.

APPEND-ONLY ENFORCEMENT:
  - entries has no update path in this package
  - idempotency_key is UNIQUE; a violation maps to ledger.ErrDuplicateEntry

VERSION CHECKS:
  SaveBalance/SaveRequest insert when Version == 0 and otherwise run
  UPDATE ... WHERE version = ?. Zero affected rows (or a primary-key clash on
  insert) is ledger.ErrConcurrentModification.

CONCURRENCY:
  The pool is capped at one connection, so SQLite transactions serialize in
  process and every read inside WithTx goes through the open *sql.Tx. WAL
  mode and a busy timeout cover other processes sharing the file.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := ledger.NewService(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/leave-ledger/ledger"
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", dbPath+sep+"_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping is used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS balances (
		person_id TEXT PRIMARY KEY,
		categories_json TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Append-only ledger
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('granted', 'used')),
		category_id TEXT NOT NULL,
		category_name TEXT NOT NULL,
		days INTEGER NOT NULL CHECK (days > 0),
		date TEXT NOT NULL,
		reason TEXT,
		request_id TEXT,
		idempotency_key TEXT UNIQUE,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_person_created
		ON entries(person_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_entries_request
		ON entries(request_id) WHERE request_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		allocations_json TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		duration_days INTEGER NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
		destination TEXT,
		contact TEXT,
		reason TEXT,
		processed_at TEXT,
		processed_by TEXT,
		rejection_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_person_created
		ON requests(person_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// READER (ledger.Reader interface)
// =============================================================================

func (s *Store) Balance(ctx context.Context, personID ledger.PersonID) (*ledger.Balance, error) {
	return getBalance(ctx, s.db, personID)
}

func (s *Store) Entries(ctx context.Context, personID ledger.PersonID) ([]ledger.Entry, error) {
	return listEntries(ctx, s.db, personID)
}

func (s *Store) Request(ctx context.Context, id ledger.RequestID) (*ledger.Request, error) {
	return getRequest(ctx, s.db, id)
}

func (s *Store) Requests(ctx context.Context, personID ledger.PersonID) ([]ledger.Request, error) {
	rows, err := s.db.QueryContext(ctx, requestColumns+`
		FROM requests
		WHERE person_id = ?
		ORDER BY created_at DESC, id DESC
	`, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var requests []ledger.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

// =============================================================================
// TRANSACTIONS (ledger.Tx interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Balance(ctx context.Context, personID ledger.PersonID) (*ledger.Balance, error) {
	return getBalance(ctx, ts.tx, personID)
}

func (ts *txStore) Entries(ctx context.Context, personID ledger.PersonID) ([]ledger.Entry, error) {
	return listEntries(ctx, ts.tx, personID)
}

func (ts *txStore) Request(ctx context.Context, id ledger.RequestID) (*ledger.Request, error) {
	return getRequest(ctx, ts.tx, id)
}

func (ts *txStore) SaveBalance(ctx context.Context, b *ledger.Balance) error {
	categoriesJSON, err := json.Marshal(b.Categories)
	if err != nil {
		return fmt.Errorf("failed to encode categories: %w", err)
	}
	updatedAt := formatTime(b.UpdatedAt)

	if b.Version == 0 {
		_, err := ts.tx.ExecContext(ctx, `
			INSERT INTO balances (person_id, categories_json, version, updated_at)
			VALUES (?, ?, 1, ?)
		`, b.PersonID, string(categoriesJSON), updatedAt)
		if isUniqueConstraintError(err) {
			return ledger.ErrConcurrentModification
		}
		if err != nil {
			return fmt.Errorf("failed to insert balance: %w", err)
		}
		b.Version = 1
		return nil
	}

	res, err := ts.tx.ExecContext(ctx, `
		UPDATE balances
		SET categories_json = ?, version = version + 1, updated_at = ?
		WHERE person_id = ? AND version = ?
	`, string(categoriesJSON), updatedAt, b.PersonID, b.Version)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	b.Version++
	return nil
}

func (ts *txStore) AppendEntries(ctx context.Context, entries ...ledger.Entry) error {
	for _, e := range entries {
		if err := appendEntry(ctx, ts.tx, e); err != nil {
			return err
		}
	}
	return nil
}

func (ts *txStore) SaveRequest(ctx context.Context, r *ledger.Request) error {
	allocationsJSON, err := json.Marshal(r.Allocations)
	if err != nil {
		return fmt.Errorf("failed to encode allocations: %w", err)
	}
	var processedAt *string
	if r.ProcessedAt != nil {
		s := formatTime(*r.ProcessedAt)
		processedAt = &s
	}

	if r.Version == 0 {
		_, err := ts.tx.ExecContext(ctx, `
			INSERT INTO requests (id, person_id, allocations_json, start_date, end_date, duration_days,
				status, destination, contact, reason, processed_at, processed_by, rejection_reason,
				created_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		`, r.ID, r.PersonID, string(allocationsJSON),
			ledger.FormatDate(r.StartDate), ledger.FormatDate(r.EndDate), r.DurationDays,
			r.Status, r.Destination, r.Contact, r.Reason, processedAt, r.ProcessedBy, r.RejectionReason,
			formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
		)
		if isUniqueConstraintError(err) {
			return ledger.ErrConcurrentModification
		}
		if err != nil {
			return fmt.Errorf("failed to insert request: %w", err)
		}
		r.Version = 1
		return nil
	}

	res, err := ts.tx.ExecContext(ctx, `
		UPDATE requests
		SET allocations_json = ?, status = ?, processed_at = ?, processed_by = ?,
			rejection_reason = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, string(allocationsJSON), r.Status, processedAt, r.ProcessedBy,
		r.RejectionReason, formatTime(r.UpdatedAt), r.ID, r.Version)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	r.Version++
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

func getBalance(ctx context.Context, q querier, personID ledger.PersonID) (*ledger.Balance, error) {
	var (
		categoriesJSON string
		updatedAt      string
		b              = ledger.Balance{PersonID: personID}
	)
	err := q.QueryRowContext(ctx, `
		SELECT categories_json, version, updated_at FROM balances WHERE person_id = ?
	`, personID).Scan(&categoriesJSON, &b.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}
	if err := json.Unmarshal([]byte(categoriesJSON), &b.Categories); err != nil {
		return nil, fmt.Errorf("failed to decode categories: %w", err)
	}
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func appendEntry(ctx context.Context, q querier, e ledger.Entry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO entries
		(id, person_id, kind, category_id, category_name, days, date, reason,
		 request_id, idempotency_key, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.PersonID,
		e.Kind,
		e.CategoryID,
		e.CategoryName,
		e.Days,
		ledger.FormatDate(e.Date),
		e.Reason,
		nullString(string(e.RequestID)),
		nullString(e.IdempotencyKey),
		e.CreatedBy,
		formatTime(e.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return ledger.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func listEntries(ctx context.Context, q querier, personID ledger.PersonID) ([]ledger.Entry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, person_id, kind, category_id, category_name, days, date, reason,
		       request_id, idempotency_key, created_by, created_at
		FROM entries
		WHERE person_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			e                          ledger.Entry
			date, createdAt            string
			reason, requestID, idemKey sql.NullString
			createdBy                  sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.PersonID, &e.Kind, &e.CategoryID, &e.CategoryName, &e.Days, &date,
			&reason, &requestID, &idemKey, &createdBy, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Date, _ = ledger.ParseDate(date)
		e.Reason = reason.String
		e.RequestID = ledger.RequestID(requestID.String)
		e.IdempotencyKey = idemKey.String
		e.CreatedBy = createdBy.String
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const requestColumns = `
	SELECT id, person_id, allocations_json, start_date, end_date, duration_days, status,
		destination, contact, reason, processed_at, processed_by, rejection_reason,
		created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func getRequest(ctx context.Context, q querier, id ledger.RequestID) (*ledger.Request, error) {
	r, err := scanRequest(q.QueryRowContext(ctx, requestColumns+` FROM requests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	return r, err
}

func scanRequest(row rowScanner) (*ledger.Request, error) {
	var (
		r                                         ledger.Request
		allocationsJSON, startDate, endDate       string
		createdAt, updatedAt                      string
		destination, contact, reason              sql.NullString
		processedAt, processedBy, rejectionReason sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.PersonID, &allocationsJSON, &startDate, &endDate, &r.DurationDays, &r.Status,
		&destination, &contact, &reason, &processedAt, &processedBy, &rejectionReason,
		&createdAt, &updatedAt, &r.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}
	if err := json.Unmarshal([]byte(allocationsJSON), &r.Allocations); err != nil {
		return nil, fmt.Errorf("failed to decode allocations: %w", err)
	}
	r.StartDate, _ = ledger.ParseDate(startDate)
	r.EndDate, _ = ledger.ParseDate(endDate)
	r.Destination = destination.String
	r.Contact = contact.String
	r.Reason = reason.String
	r.ProcessedBy = processedBy.String
	r.RejectionReason = rejectionReason.String
	if processedAt.Valid {
		t := parseTime(processedAt.String)
		r.ProcessedAt = &t
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n != 1 {
		return ledger.ErrConcurrentModification
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
