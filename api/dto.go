/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO:     Response types returned to clients

DAY AMOUNTS:
  Day fields are decimals so that 1.5 is decoded and rejected as a
  fractional amount instead of failing with an opaque type error.

VALIDATION:
  Struct tags are checked by go-playground/validator in decodeJSONBody;
  whole-day and date parsing happen in the handlers.

SEE ALSO:
  - handlers.go: Uses these types
  - validate.go: Decoding and validation
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/ledger"
)

// =============================================================================
// ENVELOPES
// =============================================================================

type successResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Data      any    `json:"data,omitempty"`
}

type errorResponse struct {
	Success bool     `json:"success"`
	Error   apiError `json:"error"`
}

type apiError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// =============================================================================
// REQUEST BODIES
// =============================================================================

// GrantLeaveRequest is the body of POST /api/grantLeave.
type GrantLeaveRequest struct {
	PersonID       string          `json:"personId" validate:"required"`
	CategoryName   string          `json:"categoryName" validate:"required,max=64"`
	Days           decimal.Decimal `json:"days" validate:"gt=0"`
	Reason         string          `json:"reason" validate:"max=500"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty" validate:"max=128"`
}

// RequestAllocation is one category share of a leave request.
type RequestAllocation struct {
	CategoryID    string          `json:"categoryId" validate:"required"`
	DaysRequested decimal.Decimal `json:"daysRequested" validate:"gt=0"`
}

// RequestLeaveRequest is the body of POST /api/requestLeave.
type RequestLeaveRequest struct {
	PersonID    string              `json:"personId,omitempty"`
	Allocations []RequestAllocation `json:"allocations" validate:"required,min=1,dive"`
	StartDate   string              `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate     string              `json:"endDate" validate:"required,datetime=2006-01-02"`
	Destination string              `json:"destination" validate:"max=200"`
	Contact     string              `json:"contact" validate:"max=200"`
	Reason      string              `json:"reason" validate:"max=500"`
}

// UsageAllocation is one category deduction when approving a request.
type UsageAllocation struct {
	CategoryID string          `json:"categoryId" validate:"required"`
	DaysUsed   decimal.Decimal `json:"daysUsed" validate:"gt=0"`
}

// UseLeaveRequest is the body of POST /api/useLeave. Allocations may be
// omitted to approve the request as submitted.
type UseLeaveRequest struct {
	RequestID   string            `json:"requestId" validate:"required"`
	PersonID    string            `json:"personId" validate:"required"`
	Allocations []UsageAllocation `json:"allocations" validate:"omitempty,dive"`
}

// RejectLeaveRequest is the body of POST /api/rejectLeave.
type RejectLeaveRequest struct {
	RequestID string `json:"requestId" validate:"required"`
	Reason    string `json:"reason" validate:"max=500"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type CategoryDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	TotalDays     int    `json:"totalDays"`
	RemainingDays int    `json:"remainingDays"`
	UsedDays      int    `json:"usedDays"`
	IsDefault     bool   `json:"isDefault"`
}

type EntryDTO struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	CategoryID   string `json:"categoryId"`
	CategoryName string `json:"categoryName"`
	Days         int    `json:"days"`
	Date         string `json:"date"`
	Reason       string `json:"reason,omitempty"`
	RequestID    string `json:"requestId,omitempty"`
	CreatedBy    string `json:"createdBy,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

type DriftDTO struct {
	CategoryID      string `json:"categoryId"`
	Name            string `json:"name"`
	LedgerTotal     int    `json:"ledgerTotal"`
	LedgerRemaining int    `json:"ledgerRemaining"`
	StoredTotal     int    `json:"storedTotal"`
	StoredRemaining int    `json:"storedRemaining"`
	Drift           bool   `json:"drift"`
	Missing         bool   `json:"missing,omitempty"`
	Orphan          bool   `json:"orphan,omitempty"`
}

type BalanceDTO struct {
	PersonID      string        `json:"personId"`
	Categories    []CategoryDTO `json:"categories"`
	RecentEntries []EntryDTO    `json:"recentEntries"`
	Drift         []DriftDTO    `json:"drift,omitempty"`
	ComputedAt    string        `json:"computedAt"`
}

type AllocationDTO struct {
	CategoryID string `json:"categoryId"`
	Days       int    `json:"days"`
}

type RequestDTO struct {
	ID              string          `json:"id"`
	PersonID        string          `json:"personId"`
	Allocations     []AllocationDTO `json:"allocations"`
	StartDate       string          `json:"startDate"`
	EndDate         string          `json:"endDate"`
	DurationDays    int             `json:"durationDays"`
	Status          string          `json:"status"`
	Destination     string          `json:"destination,omitempty"`
	Contact         string          `json:"contact,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	ProcessedAt     *string         `json:"processedAt,omitempty"`
	ProcessedBy     string          `json:"processedBy,omitempty"`
	RejectionReason string          `json:"rejectionReason,omitempty"`
	CreatedAt       string          `json:"createdAt"`
}

type ReconciliationDTO struct {
	PersonID   string     `json:"personId"`
	Drifted    int        `json:"drifted"`
	Categories []DriftDTO `json:"categories"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCategoryDTOs(cats []ledger.Category) []CategoryDTO {
	out := make([]CategoryDTO, len(cats))
	for i, c := range cats {
		out[i] = CategoryDTO{
			ID:            string(c.ID),
			Name:          c.Name,
			TotalDays:     c.TotalDays,
			RemainingDays: c.RemainingDays,
			UsedDays:      c.UsedDays(),
			IsDefault:     c.IsDefault,
		}
	}
	return out
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	out := make([]EntryDTO, len(entries))
	for i, e := range entries {
		out[i] = EntryDTO{
			ID:           string(e.ID),
			Type:         string(e.Kind),
			CategoryID:   string(e.CategoryID),
			CategoryName: e.CategoryName,
			Days:         e.Days,
			Date:         ledger.FormatDate(e.Date),
			Reason:       e.Reason,
			RequestID:    string(e.RequestID),
			CreatedBy:    e.CreatedBy,
			CreatedAt:    e.CreatedAt.Format(time.RFC3339),
		}
	}
	return out
}

func toDriftDTOs(reports []ledger.CategoryReport) []DriftDTO {
	out := make([]DriftDTO, len(reports))
	for i, c := range reports {
		out[i] = DriftDTO{
			CategoryID:      string(c.CategoryID),
			Name:            c.Name,
			LedgerTotal:     c.LedgerTotal,
			LedgerRemaining: c.LedgerRemaining,
			StoredTotal:     c.StoredTotal,
			StoredRemaining: c.StoredRemaining,
			Drift:           c.Drift,
			Missing:         c.Missing,
			Orphan:          c.Orphan,
		}
	}
	return out
}

func toBalanceDTO(v *ledger.View) BalanceDTO {
	dto := BalanceDTO{
		PersonID:      string(v.PersonID),
		Categories:    toCategoryDTOs(v.Categories),
		RecentEntries: toEntryDTOs(v.Recent),
		ComputedAt:    v.ComputedAt.Format(time.RFC3339),
	}
	if len(v.Drift) > 0 {
		dto.Drift = toDriftDTOs(v.Drift)
	}
	return dto
}

func toRequestDTO(r *ledger.Request) RequestDTO {
	dto := RequestDTO{
		ID:              string(r.ID),
		PersonID:        string(r.PersonID),
		Allocations:     make([]AllocationDTO, len(r.Allocations)),
		StartDate:       ledger.FormatDate(r.StartDate),
		EndDate:         ledger.FormatDate(r.EndDate),
		DurationDays:    r.DurationDays,
		Status:          string(r.Status),
		Destination:     r.Destination,
		Contact:         r.Contact,
		Reason:          r.Reason,
		ProcessedBy:     r.ProcessedBy,
		RejectionReason: r.RejectionReason,
		CreatedAt:       r.CreatedAt.Format(time.RFC3339),
	}
	for i, a := range r.Allocations {
		dto.Allocations[i] = AllocationDTO{CategoryID: string(a.CategoryID), Days: a.Days}
	}
	if r.ProcessedAt != nil {
		s := r.ProcessedAt.Format(time.RFC3339)
		dto.ProcessedAt = &s
	}
	return dto
}

func toReconciliationDTO(r *ledger.Report) ReconciliationDTO {
	return ReconciliationDTO{
		PersonID:   string(r.PersonID),
		Drifted:    r.Drifted(),
		Categories: toDriftDTOs(r.Categories),
	}
}
