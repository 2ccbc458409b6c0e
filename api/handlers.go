/*
handlers.go - HTTP API handlers for the leave ledger

PURPOSE:
  Exposes the ledger service via a JSON API. Handlers decode and validate
  bodies, convert day amounts to whole days and delegate to ledger.Service.
  Every failure leaves through writeError as a ledger error kind.

ENDPOINTS:
  Mutations:
    POST   /api/grantLeave                         Grant days (admin)
    POST   /api/requestLeave                       Submit a pending request
    POST   /api/useLeave                           Approve and deduct (admin)
    POST   /api/rejectLeave                        Reject a pending request (admin)

  Reads:
    GET    /api/persons/{id}/balance               Cached balance view (?refresh=true)
    POST   /api/persons/{id}/balance/refresh       Drop cache and recompute
    GET    /api/persons/{id}/requests              Requests, newest first
    GET    /api/persons/{id}/entries               Ledger entries in append order
    GET    /api/requests/{id}                      Single request

  Reconciliation:
    GET    /api/persons/{id}/reconciliation        Drift report
    POST   /api/persons/{id}/reconciliation/repair Rewrite balance from ledger (admin)

REQUEST FLOW:
  1. Caller checks (admin-only endpoints check before decoding the body)
  2. Decode + validate
  3. Call ledger.Service
  4. Serialize response

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Kind to status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/warp/leave-ledger/ledger"
	"github.com/warp/leave-ledger/logger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger exposes the health check surface of a store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger *ledger.Service
	Log    *logger.Logger
	DB     Pinger // optional
}

// NewHandler creates a handler over the ledger service.
func NewHandler(svc *ledger.Service, logg *logger.Logger, db Pinger) *Handler {
	return &Handler{Ledger: svc, Log: logg, DB: db}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(r.Context(), h.Log, w, err)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, payload any) {
	writeJSON(r.Context(), h.Log, w, status, payload)
}

// =============================================================================
// MUTATIONS
// =============================================================================

// GrantLeave adds days to a person's category.
func (h *Handler) GrantLeave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := ActorFromContext(ctx)
	if err := ledger.Authorize(actor, true, "grant leave"); err != nil {
		h.fail(w, r, err)
		return
	}

	var req GrantLeaveRequest
	if err := decodeJSONBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	days, err := wholeDays("days", req.Days)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	res, err := h.Ledger.Grant(ctx, actor, ledger.GrantInput{
		PersonID:       ledger.PersonID(req.PersonID),
		CategoryName:   req.CategoryName,
		Days:           days,
		Reason:         req.Reason,
		IdempotencyKey: key,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respond(w, r, http.StatusOK, successResponse{
		Success: true,
		Message: fmt.Sprintf("granted %d %s day(s) to %s", days, res.Category.Name, req.PersonID),
		Data:    toCategoryDTOs([]ledger.Category{res.Category})[0],
	})
}

// RequestLeave submits a pending request for the caller, or for personId
// when the caller is an administrator.
func (h *Handler) RequestLeave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := ActorFromContext(ctx)
	if err := ledger.Authorize(actor, false, "request leave"); err != nil {
		h.fail(w, r, err)
		return
	}

	var req RequestLeaveRequest
	if err := decodeJSONBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	allocations := make([]ledger.Allocation, len(req.Allocations))
	for i, a := range req.Allocations {
		days, err := wholeDays(fmt.Sprintf("allocations[%d].daysRequested", i), a.DaysRequested)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		allocations[i] = ledger.Allocation{CategoryID: ledger.CategoryID(a.CategoryID), Days: days}
	}
	start, err := ledger.ParseDate(req.StartDate)
	if err != nil {
		h.fail(w, r, ledger.Errorf(ledger.KindInvalidArgument, "startDate: %v", err))
		return
	}
	end, err := ledger.ParseDate(req.EndDate)
	if err != nil {
		h.fail(w, r, ledger.Errorf(ledger.KindInvalidArgument, "endDate: %v", err))
		return
	}

	created, err := h.Ledger.Submit(ctx, actor, ledger.SubmitInput{
		PersonID:    ledger.PersonID(req.PersonID),
		Allocations: allocations,
		StartDate:   start,
		EndDate:     end,
		Destination: req.Destination,
		Contact:     req.Contact,
		Reason:      req.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respond(w, r, http.StatusCreated, successResponse{
		Success:   true,
		RequestID: string(created.ID),
		Data:      toRequestDTO(created),
	})
}

// UseLeave approves a pending request and deducts its days.
func (h *Handler) UseLeave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := ActorFromContext(ctx)
	if err := ledger.Authorize(actor, true, "approve leave"); err != nil {
		h.fail(w, r, err)
		return
	}

	var req UseLeaveRequest
	if err := decodeJSONBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	var allocations []ledger.Allocation
	for i, a := range req.Allocations {
		days, err := wholeDays(fmt.Sprintf("allocations[%d].daysUsed", i), a.DaysUsed)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		allocations = append(allocations, ledger.Allocation{CategoryID: ledger.CategoryID(a.CategoryID), Days: days})
	}

	res, err := h.Ledger.Use(ctx, actor, ledger.UseInput{
		RequestID:   ledger.RequestID(req.RequestID),
		PersonID:    ledger.PersonID(req.PersonID),
		Allocations: allocations,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respond(w, r, http.StatusOK, successResponse{
		Success: true,
		Message: fmt.Sprintf("approved request %s: %d day(s) deducted", res.Request.ID, res.Request.DurationDays),
		Data:    toCategoryDTOs(res.Categories),
	})
}

// RejectLeave closes a pending request without touching balances.
func (h *Handler) RejectLeave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := ActorFromContext(ctx)
	if err := ledger.Authorize(actor, true, "reject leave"); err != nil {
		h.fail(w, r, err)
		return
	}

	var req RejectLeaveRequest
	if err := decodeJSONBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	rejected, err := h.Ledger.Reject(ctx, actor, ledger.RejectInput{
		RequestID: ledger.RequestID(req.RequestID),
		Reason:    req.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respond(w, r, http.StatusOK, successResponse{
		Success: true,
		Message: fmt.Sprintf("rejected request %s", rejected.ID),
		Data:    toRequestDTO(rejected),
	})
}

// =============================================================================
// READS
// =============================================================================

// GetBalance returns the person's balance view, bypassing the cache when
// refresh=true.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := ActorFromContext(ctx)
	personID := ledger.PersonID(chi.URLParam(r, "id"))

	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	var (
		view *ledger.View
		err  error
	)
	if refresh {
		view, err = h.Ledger.Refresh(ctx, actor, personID)
	} else {
		view, err = h.Ledger.Balance(ctx, actor, personID)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, successResponse{Success: true, Data: toBalanceDTO(view)})
}

// RefreshBalance is the pull-to-refresh endpoint.
func (h *Handler) RefreshBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.Ledger.Refresh(ctx, ActorFromContext(ctx), ledger.PersonID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, successResponse{Success: true, Data: toBalanceDTO(view)})
}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requests, err := h.Ledger.Requests(ctx, ActorFromContext(ctx), ledger.PersonID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]RequestDTO, len(requests))
	for i := range requests {
		dtos[i] = toRequestDTO(&requests[i])
	}
	h.respond(w, r, http.StatusOK, successResponse{Success: true, Data: dtos})
}

func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := h.Ledger.Entries(ctx, ActorFromContext(ctx), ledger.PersonID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, successResponse{Success: true, Data: toEntryDTOs(entries)})
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := h.Ledger.Request(ctx, ActorFromContext(ctx), ledger.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, successResponse{Success: true, Data: toRequestDTO(req)})
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.Ledger.Reconcile(ctx, ActorFromContext(ctx), ledger.PersonID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, successResponse{Success: true, Data: toReconciliationDTO(report)})
}

// RepairBalance rewrites the stored document from the ledger and returns the
// report as it was before the repair.
func (h *Handler) RepairBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.Ledger.Repair(ctx, ActorFromContext(ctx), ledger.PersonID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, successResponse{
		Success: true,
		Message: fmt.Sprintf("%d drifted categories repaired", report.Drifted()),
		Data:    toReconciliationDTO(report),
	})
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			h.Log.Warn(h.Log.WithError(r.Context(), err), "health.db.unavailable")
			h.respond(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	h.respond(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
