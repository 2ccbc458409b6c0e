/*
Package postgres provides a gorm-backed ledger.Store for multi-replica
deployments.

PURPOSE:
  Same contract as store/sqlite, expressed through gorm models so the schema
  is managed by AutoMigrate. Any gorm dialector works; production uses
  PostgreSQL, tests use the gorm SQLite driver in memory.

VERSION CHECKS:
  Version 0 documents are INSERTed (duplicate key -> conflict). Saved documents
  are updated with WHERE version = ?; zero affected rows is
  ledger.ErrConcurrentModification. Under READ COMMITTED the losing UPDATE
  re-evaluates its WHERE after the winner commits, so the check holds without
  explicit row locks.

SEE ALSO:
  - store/sqlite: Hand-written SQL implementation
  - ledger/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/ledger"
	"github.com/warp/leave-ledger/logger"
)

// Store implements ledger.Store on gorm.
type Store struct {
	db *gorm.DB
}

var _ ledger.Store = (*Store)(nil)

// New connects to PostgreSQL using cfg.DSN and applies pool settings.
func New(ctx context.Context, cfg config.StoreConfig, logg *logger.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	dialector := pgdriver.New(pgdriver.Config{
		DSN:                  cfg.DSN,
		PreferSimpleProtocol: true,
	})

	s, err := Open(dialector, cfg.AutoMigrate)
	if err != nil {
		return nil, err
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	logg.Info(ctx, "database connection established")
	return s, nil
}

// Open builds a Store on any gorm dialector.
func Open(dialector gorm.Dialector, autoMigrate bool) (*Store, error) {
	gormLogger := gormlogger.New(
		log.New(io.Discard, "", log.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}

	s := &Store{db: db}
	if autoMigrate {
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate creates or updates the ledger tables.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&balanceModel{}, &entryModel{}, &requestModel{}); err != nil {
		return fmt.Errorf("migrating ledger tables: %w", err)
	}
	return nil
}

// Ping verifies the datasource is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close shuts down the pooled connections.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// =============================================================================
// READER
// =============================================================================

func (s *Store) Balance(ctx context.Context, personID ledger.PersonID) (*ledger.Balance, error) {
	return getBalance(s.db.WithContext(ctx), personID)
}

func (s *Store) Entries(ctx context.Context, personID ledger.PersonID) ([]ledger.Entry, error) {
	return listEntries(s.db.WithContext(ctx), personID)
}

func (s *Store) Request(ctx context.Context, id ledger.RequestID) (*ledger.Request, error) {
	return getRequest(s.db.WithContext(ctx), id)
}

func (s *Store) Requests(ctx context.Context, personID ledger.PersonID) ([]ledger.Request, error) {
	var rows []requestModel
	err := s.db.WithContext(ctx).
		Where("person_id = ?", string(personID)).
		Order("created_at DESC").
		Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	out := make([]ledger.Request, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn inside a database transaction, rolling back on error or
// panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&txStore{db: tx})
	})
}

type txStore struct {
	db *gorm.DB
}

func (ts *txStore) Balance(ctx context.Context, personID ledger.PersonID) (*ledger.Balance, error) {
	return getBalance(ts.db.WithContext(ctx), personID)
}

func (ts *txStore) Entries(ctx context.Context, personID ledger.PersonID) ([]ledger.Entry, error) {
	return listEntries(ts.db.WithContext(ctx), personID)
}

func (ts *txStore) Request(ctx context.Context, id ledger.RequestID) (*ledger.Request, error) {
	return getRequest(ts.db.WithContext(ctx), id)
}

func (ts *txStore) SaveBalance(ctx context.Context, b *ledger.Balance) error {
	m, err := toBalanceModel(b)
	if err != nil {
		return err
	}
	db := ts.db.WithContext(ctx)

	if b.Version == 0 {
		m.Version = 1
		if err := db.Create(m).Error; err != nil {
			if isUniqueViolation(err) {
				return ledger.ErrConcurrentModification
			}
			return fmt.Errorf("inserting balance: %w", err)
		}
		b.Version = 1
		return nil
	}

	res := db.Model(&balanceModel{}).
		Where("person_id = ? AND version = ?", m.PersonID, b.Version).
		Updates(map[string]any{
			"categories": m.Categories,
			"version":    gorm.Expr("version + 1"),
			"updated_at": m.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("updating balance: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return ledger.ErrConcurrentModification
	}
	b.Version++
	return nil
}

func (ts *txStore) AppendEntries(ctx context.Context, entries ...ledger.Entry) error {
	db := ts.db.WithContext(ctx)
	for _, e := range entries {
		if err := db.Create(toEntryModel(e)).Error; err != nil {
			if isUniqueViolation(err) {
				return ledger.ErrDuplicateEntry
			}
			return fmt.Errorf("appending entry: %w", err)
		}
	}
	return nil
}

func (ts *txStore) SaveRequest(ctx context.Context, r *ledger.Request) error {
	m, err := toRequestModel(r)
	if err != nil {
		return err
	}
	db := ts.db.WithContext(ctx)

	if r.Version == 0 {
		m.Version = 1
		if err := db.Create(m).Error; err != nil {
			if isUniqueViolation(err) {
				return ledger.ErrConcurrentModification
			}
			return fmt.Errorf("inserting request: %w", err)
		}
		r.Version = 1
		return nil
	}

	res := db.Model(&requestModel{}).
		Where("id = ? AND version = ?", m.ID, r.Version).
		Updates(map[string]any{
			"allocations":      m.Allocations,
			"status":           m.Status,
			"processed_at":     m.ProcessedAt,
			"processed_by":     m.ProcessedBy,
			"rejection_reason": m.RejectionReason,
			"updated_at":       m.UpdatedAt,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("updating request: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return ledger.ErrConcurrentModification
	}
	r.Version++
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

func getBalance(db *gorm.DB, personID ledger.PersonID) (*ledger.Balance, error) {
	var m balanceModel
	err := db.Where("person_id = ?", string(personID)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading balance: %w", err)
	}
	return m.toDomain()
}

func listEntries(db *gorm.DB, personID ledger.PersonID) ([]ledger.Entry, error) {
	var rows []entryModel
	err := db.Where("person_id = ?", string(personID)).
		Order("created_at ASC").
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	out := make([]ledger.Entry, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func getRequest(db *gorm.DB, id ledger.RequestID) (*ledger.Request, error) {
	var m requestModel
	err := db.Where("id = ?", string(id)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading request: %w", err)
	}
	return m.toDomain()
}

// isUniqueViolation accepts gorm's translated error and falls back to the
// driver messages for dialectors without a translator.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}
