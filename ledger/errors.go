/*
errors.go - Error kinds for the ledger

PURPOSE:
  Every failure surfaced by a ledger operation carries exactly one Kind.
  The transport layer maps kinds to status codes; callers branch on kinds
  with KindOf/IsKind rather than string matching.

ERROR KINDS:
  unauthenticated    no or invalid caller identity
  permission-denied  non-admin attempting grant/approval/rejection
  invalid-argument   malformed input, mismatched allocation sum
  not-found          unknown person balance, category or request
  out-of-range       insufficient remaining balance (requested vs available)
  already-exists     request already processed, duplicate idempotency key
  internal           unexpected store failure or exhausted retries

STORE SENTINELS:
  Stores return ErrNotFound, ErrConcurrentModification and ErrDuplicateEntry.
  The service translates them into kinds; ErrConcurrentModification is
  retried before it ever reaches a caller.

SEE ALSO:
  - tx.go: Retry loop around ErrConcurrentModification
  - api/errors.go: Kind to HTTP status mapping
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Returned by Store implementations
// =============================================================================

var (
	// ErrNotFound is returned when a balance document or request is absent.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is returned at commit when a document read in
	// the transaction was changed by another writer.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateEntry is returned when an entry's idempotency key exists.
	ErrDuplicateEntry = errors.New("duplicate ledger entry")
)

// =============================================================================
// KINDS
// =============================================================================

type Kind string

const (
	KindUnauthenticated  Kind = "unauthenticated"
	KindPermissionDenied Kind = "permission-denied"
	KindInvalidArgument  Kind = "invalid-argument"
	KindNotFound         Kind = "not-found"
	KindOutOfRange       Kind = "out-of-range"
	KindAlreadyExists    Kind = "already-exists"
	KindInternal         Kind = "internal"
)

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

// Error is the only error type ledger operations return to callers.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) with(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Errorf builds an Error of the given kind for layers outside the ledger,
// such as request decoding in the API.
func Errorf(kind Kind, format string, args ...any) *Error {
	return newError(kind, format, args...)
}

// WithDetails merges details into the error and returns it.
func (e *Error) WithDetails(details map[string]any) *Error {
	for k, v := range details {
		e.with(k, v)
	}
	return e
}

func unauthenticated() *Error {
	return newError(KindUnauthenticated, "caller identity required")
}

func permissionDenied(action string) *Error {
	return newError(KindPermissionDenied, "administrator privilege required to %s", action)
}

func invalidArgument(format string, args ...any) *Error {
	return newError(KindInvalidArgument, format, args...)
}

func notFound(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

func alreadyExists(format string, args ...any) *Error {
	return newError(KindAlreadyExists, format, args...)
}

// insufficientBalance builds the out-of-range error. The message format
// "requested X, available Y" is part of the external contract.
func insufficientBalance(category string, requested, available int) *Error {
	return newError(KindOutOfRange, "insufficient %s balance: requested %d, available %d",
		category, requested, available).
		with("category", category).
		with("requested", requested).
		with("available", available)
}

func internal(err error, message string) *Error {
	return &Error{Kind: KindInternal, Message: message, cause: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf classifies any error. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is a ledger error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// AsError returns err as *Error, wrapping unknown errors as internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return internal(err, "unexpected error")
}

// Authorize runs the caller checks every mutating operation starts with:
// identity first, then the administrator privilege when adminOnly is set.
func Authorize(actor Actor, adminOnly bool, action string) error {
	if !actor.Authenticated() {
		return unauthenticated()
	}
	if adminOnly && !actor.IsAdmin() {
		return permissionDenied(action)
	}
	return nil
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// translateStoreError maps store sentinels to kinds. *Error values produced
// inside a transaction closure pass through unchanged.
func translateStoreError(err error, op string) error {
	if err == nil {
		return nil
	}
	var e *Error
	switch {
	case errors.As(err, &e):
		return e
	case errors.Is(err, ErrDuplicateEntry):
		return &Error{Kind: KindAlreadyExists, Message: op + ": ledger entry already recorded", cause: err}
	case errors.Is(err, ErrNotFound):
		return &Error{Kind: KindNotFound, Message: op + ": not found", cause: err}
	default:
		return internal(err, op+" failed")
	}
}
