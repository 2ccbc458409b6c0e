package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/leave-ledger/ledger"
)

// balanceModel holds one person's categories as a JSON document.
type balanceModel struct {
	PersonID   string    `gorm:"primaryKey"`
	Categories string    `gorm:"not null"`
	Version    int64     `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime:false"`
}

func (balanceModel) TableName() string { return "leave_balances" }

// entryModel rows are inserted and never updated. Seq preserves append order
// for entries sharing a timestamp.
type entryModel struct {
	Seq            int64     `gorm:"primaryKey;autoIncrement"`
	ID             string    `gorm:"uniqueIndex;not null"`
	PersonID       string    `gorm:"index:idx_leave_entries_person;not null"`
	Kind           string    `gorm:"not null"`
	CategoryID     string    `gorm:"not null"`
	CategoryName   string    `gorm:"not null"`
	Days           int       `gorm:"not null"`
	Date           time.Time `gorm:"not null"`
	Reason         string
	RequestID      *string `gorm:"index"`
	IdempotencyKey *string `gorm:"uniqueIndex"`
	CreatedBy      string
	CreatedAt      time.Time `gorm:"autoCreateTime:false"`
}

func (entryModel) TableName() string { return "leave_entries" }

type requestModel struct {
	ID              string `gorm:"primaryKey"`
	PersonID        string `gorm:"index:idx_leave_requests_person;not null"`
	Allocations     string `gorm:"not null"`
	StartDate       time.Time
	EndDate         time.Time
	DurationDays    int
	Status          string `gorm:"not null"`
	Destination     string
	Contact         string
	Reason          string
	ProcessedAt     *time.Time
	ProcessedBy     string
	RejectionReason string
	CreatedAt       time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime:false"`
	Version         int64     `gorm:"not null"`
}

func (requestModel) TableName() string { return "leave_requests" }

// =============================================================================
// MAPPING
// =============================================================================

func toBalanceModel(b *ledger.Balance) (*balanceModel, error) {
	categories, err := json.Marshal(b.Categories)
	if err != nil {
		return nil, fmt.Errorf("encoding categories: %w", err)
	}
	return &balanceModel{
		PersonID:   string(b.PersonID),
		Categories: string(categories),
		Version:    b.Version,
		UpdatedAt:  b.UpdatedAt.UTC(),
	}, nil
}

func (m *balanceModel) toDomain() (*ledger.Balance, error) {
	b := &ledger.Balance{
		PersonID:  ledger.PersonID(m.PersonID),
		Version:   m.Version,
		UpdatedAt: m.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(m.Categories), &b.Categories); err != nil {
		return nil, fmt.Errorf("decoding categories: %w", err)
	}
	return b, nil
}

func toEntryModel(e ledger.Entry) *entryModel {
	return &entryModel{
		ID:             string(e.ID),
		PersonID:       string(e.PersonID),
		Kind:           string(e.Kind),
		CategoryID:     string(e.CategoryID),
		CategoryName:   e.CategoryName,
		Days:           e.Days,
		Date:           ledger.TruncateDay(e.Date),
		Reason:         e.Reason,
		RequestID:      optional(string(e.RequestID)),
		IdempotencyKey: optional(e.IdempotencyKey),
		CreatedBy:      e.CreatedBy,
		CreatedAt:      e.CreatedAt.UTC(),
	}
}

func (m *entryModel) toDomain() ledger.Entry {
	return ledger.Entry{
		ID:             ledger.EntryID(m.ID),
		PersonID:       ledger.PersonID(m.PersonID),
		Kind:           ledger.EntryKind(m.Kind),
		CategoryID:     ledger.CategoryID(m.CategoryID),
		CategoryName:   m.CategoryName,
		Days:           m.Days,
		Date:           ledger.TruncateDay(m.Date),
		Reason:         m.Reason,
		RequestID:      ledger.RequestID(deref(m.RequestID)),
		IdempotencyKey: deref(m.IdempotencyKey),
		CreatedBy:      m.CreatedBy,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

func toRequestModel(r *ledger.Request) (*requestModel, error) {
	allocations, err := json.Marshal(r.Allocations)
	if err != nil {
		return nil, fmt.Errorf("encoding allocations: %w", err)
	}
	m := &requestModel{
		ID:              string(r.ID),
		PersonID:        string(r.PersonID),
		Allocations:     string(allocations),
		StartDate:       ledger.TruncateDay(r.StartDate),
		EndDate:         ledger.TruncateDay(r.EndDate),
		DurationDays:    r.DurationDays,
		Status:          string(r.Status),
		Destination:     r.Destination,
		Contact:         r.Contact,
		Reason:          r.Reason,
		ProcessedBy:     r.ProcessedBy,
		RejectionReason: r.RejectionReason,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
		Version:         r.Version,
	}
	if r.ProcessedAt != nil {
		t := r.ProcessedAt.UTC()
		m.ProcessedAt = &t
	}
	return m, nil
}

func (m *requestModel) toDomain() (*ledger.Request, error) {
	r := &ledger.Request{
		ID:              ledger.RequestID(m.ID),
		PersonID:        ledger.PersonID(m.PersonID),
		StartDate:       ledger.TruncateDay(m.StartDate),
		EndDate:         ledger.TruncateDay(m.EndDate),
		DurationDays:    m.DurationDays,
		Status:          ledger.RequestStatus(m.Status),
		Destination:     m.Destination,
		Contact:         m.Contact,
		Reason:          m.Reason,
		ProcessedBy:     m.ProcessedBy,
		RejectionReason: m.RejectionReason,
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
		Version:         m.Version,
	}
	if m.ProcessedAt != nil {
		t := m.ProcessedAt.UTC()
		r.ProcessedAt = &t
	}
	if err := json.Unmarshal([]byte(m.Allocations), &r.Allocations); err != nil {
		return nil, fmt.Errorf("decoding allocations: %w", err)
	}
	return r, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
