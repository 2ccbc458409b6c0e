package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/leave-ledger/auth"
	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/ledger"
	"github.com/warp/leave-ledger/logger"
	"github.com/warp/leave-ledger/metrics"
)

const requestIDHeader = "X-Request-Id"

type contextKey string

const ctxActor contextKey = "actor"

// ActorFromContext returns the authenticated caller, or the zero Actor.
func ActorFromContext(ctx context.Context) ledger.Actor {
	if ctx == nil {
		return ledger.Actor{}
	}
	if a, ok := ctx.Value(ctxActor).(ledger.Actor); ok {
		return a
	}
	return ledger.Actor{}
}

// WithActor injects the caller into the context.
func WithActor(ctx context.Context, actor ledger.Actor) context.Context {
	return context.WithValue(ctx, ctxActor, actor)
}

// RequestID propagates X-Request-Id, generating one when absent.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)
			ctx := logg.WithRequestID(r.Context(), reqID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

// Write without WriteHeader sends an implicit 200.
func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) wroteHeader() bool { return r.status != 0 }

// Logging logs each request and records its latency under the chi route
// pattern.
func Logging(logg *logger.Logger, observer *metrics.HTTP) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()

			next.ServeHTTP(rec, r.WithContext(ctx))

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			elapsed := time.Since(start)

			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			observer.Observe(r.Method, route, rec.status, elapsed)

			logg.Info(logg.WithFields(ctx, map[string]any{
				"status":      rec.status,
				"duration_ms": elapsed.Milliseconds(),
			}), "request.complete")
		})
	}
}

// Recoverer turns a panic into a 500 envelope. A response that has already
// started is left as is; the panic is only logged.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			defer func() {
				if p := recover(); p != nil {
					err := fmt.Errorf("panic: %v", p)
					ctx := logg.WithFields(r.Context(), map[string]any{
						"panic":        fmt.Sprint(p),
						"wrote_header": rec.wroteHeader(),
					})
					logg.Error(ctx, "panic.recovered", err)
					if !rec.wroteHeader() {
						writeError(ctx, logg, rec, err)
					}
				}
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

// Auth verifies the bearer token and seeds the context with the caller. A
// request without credentials continues as the zero Actor so the ledger
// answers unauthenticated; a bad token is rejected here.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			claims, err := auth.ParseAccessToken(cfg, token)
			if err != nil {
				logg.Warn(logg.WithError(r.Context(), err), "request.auth.rejected")
				writeError(r.Context(), logg, w, ledger.Errorf(ledger.KindUnauthenticated, "invalid token"))
				return
			}

			actor := claims.Actor()
			ctx := WithActor(r.Context(), actor)
			ctx = logg.WithUserID(ctx, actor.ID)
			ctx = logg.WithActorRole(ctx, string(actor.Role))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
