package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/warp/leave-ledger/ledger"
	"github.com/warp/leave-ledger/logger"
)

// statusFor maps a ledger error kind to its HTTP status.
func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindUnauthenticated:
		return http.StatusUnauthorized
	case ledger.KindPermissionDenied:
		return http.StatusForbidden
	case ledger.KindInvalidArgument:
		return http.StatusBadRequest
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindOutOfRange:
		return http.StatusUnprocessableEntity
	case ledger.KindAlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err in the error envelope. Internal causes are logged and
// replaced by a generic message.
func writeError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	typed := ledger.AsError(err)
	if typed == nil {
		typed = ledger.Errorf(ledger.KindInternal, "unknown error")
	}

	payload := errorResponse{
		Success: false,
		Error: apiError{
			Code:    string(typed.Kind),
			Message: typed.Message,
			Details: typed.Details,
		},
	}
	if typed.Kind == ledger.KindInternal {
		payload.Error.Message = "internal error"
		payload.Error.Details = nil
		logg.Error(logg.WithField(ctx, "error_code", string(typed.Kind)), "request.error", err)
	}

	writeJSON(ctx, logg, w, statusFor(typed.Kind), payload)
}

// writeJSON sends payload with status. The status line is already out when
// encoding fails, so the failure can only be logged.
func writeJSON(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logg.Error(logg.WithField(ctx, "status", status), "response.encode_failed", err)
	}
}
