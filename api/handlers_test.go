package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/auth"
	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/ledger"
	"github.com/warp/leave-ledger/ledger/store"
	"github.com/warp/leave-ledger/logger"
	"github.com/warp/leave-ledger/metrics"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type envelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data"`
	Error     apiError        `json:"error"`
}

type testServer struct {
	t       *testing.T
	router  http.Handler
	jwt     config.JWTConfig
	handler *Handler
}

func newTestServer(t *testing.T, opts ...ledger.Option) *testServer {
	t.Helper()
	jwtCfg := config.JWTConfig{Secret: "test-secret", Issuer: "leave-ledger", ExpirationMinutes: 5}
	reg := prometheus.NewRegistry()

	opts = append([]ledger.Option{ledger.WithObserver(metrics.NewLedger(reg))}, opts...)
	h := NewHandler(ledger.NewService(store.NewMemory(), opts...), nil, nil)
	router := NewRouter(h, RouterOptions{
		JWT:            jwtCfg,
		HTTPMetrics:    metrics.NewHTTP(reg),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	return &testServer{t: t, router: router, jwt: jwtCfg, handler: h}
}

func (s *testServer) token(personID string, role ledger.Role) string {
	s.t.Helper()
	tok, err := auth.MintAccessToken(s.jwt, time.Now(), personID, role)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) admin() string { return s.token("admin-1", ledger.RoleAdmin) }

// do sends body (a string is sent verbatim) and decodes the envelope.
func (s *testServer) do(method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var reader io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (s *testServer) grant(person, category string, days int) CategoryDTO {
	s.t.Helper()
	rec, env := s.do(http.MethodPost, "/api/grantLeave", s.admin(), map[string]any{
		"personId": person, "categoryName": category, "days": days, "reason": "test",
	})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	var cat CategoryDTO
	require.NoError(s.t, json.Unmarshal(env.Data, &cat))
	return cat
}

func (s *testServer) requestLeave(person, categoryID, start, end string, days int) string {
	s.t.Helper()
	rec, env := s.do(http.MethodPost, "/api/requestLeave", s.token(person, ledger.RoleMember), map[string]any{
		"allocations": []map[string]any{{"categoryId": categoryID, "daysRequested": days}},
		"startDate":   start,
		"endDate":     end,
		"destination": "Lisbon",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotEmpty(s.t, env.RequestID)
	return env.RequestID
}

func (s *testServer) balance(person, token string) BalanceDTO {
	s.t.Helper()
	rec, env := s.do(http.MethodGet, "/api/persons/"+person+"/balance?refresh=true", token, nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	var dto BalanceDTO
	require.NoError(s.t, json.Unmarshal(env.Data, &dto))
	return dto
}

func category(b BalanceDTO, name string) *CategoryDTO {
	for i := range b.Categories {
		if b.Categories[i].Name == name {
			return &b.Categories[i]
		}
	}
	return nil
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestAPI_GrantRequestApproveScenario(t *testing.T) {
	s := newTestServer(t, ledger.WithDefaultCategory(ledger.DefaultCategory{}))

	// GIVEN: alice holds 24 annual days
	annual := s.grant("alice", "annual", 24)
	assert.Equal(t, 24, annual.RemainingDays)

	// WHEN: a nine day request is submitted and approved
	reqID := s.requestLeave("alice", annual.ID, "2024-03-01", "2024-03-09", 9)
	rec, env := s.do(http.MethodPost, "/api/useLeave", s.admin(), map[string]any{
		"requestId": reqID, "personId": "alice",
		"allocations": []map[string]any{{"categoryId": annual.ID, "daysUsed": 9}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, env.Success)

	// THEN: 15 of 24 remain and the ledger shows one used entry
	bal := s.balance("alice", s.token("alice", ledger.RoleMember))
	cat := category(bal, "annual")
	require.NotNil(t, cat)
	assert.Equal(t, 24, cat.TotalDays)
	assert.Equal(t, 15, cat.RemainingDays)
	require.NotEmpty(t, bal.RecentEntries)
	assert.Equal(t, "used", bal.RecentEntries[0].Type)
	assert.Equal(t, 9, bal.RecentEntries[0].Days)

	// AND: a 20 day request cannot be approved
	second := s.requestLeave("alice", annual.ID, "2024-06-01", "2024-06-20", 20)
	rec, env = s.do(http.MethodPost, "/api/useLeave", s.admin(), map[string]any{
		"requestId": second, "personId": "alice",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "out-of-range", env.Error.Code)
	assert.Contains(t, env.Error.Message, "requested 20, available 15")
	assert.EqualValues(t, 15, env.Error.Details["available"])
}

func TestAPI_SecondApprovalConflicts(t *testing.T) {
	s := newTestServer(t)
	annual := s.grant("bob", "annual", 10)
	reqID := s.requestLeave("bob", annual.ID, "2024-04-01", "2024-04-02", 2)

	body := map[string]any{"requestId": reqID, "personId": "bob"}
	rec, _ := s.do(http.MethodPost, "/api/useLeave", s.admin(), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env := s.do(http.MethodPost, "/api/useLeave", s.admin(), body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already-exists", env.Error.Code)
}

func TestAPI_RejectLeave(t *testing.T) {
	s := newTestServer(t)
	annual := s.grant("bob", "annual", 10)
	reqID := s.requestLeave("bob", annual.ID, "2024-04-01", "2024-04-03", 3)

	rec, env := s.do(http.MethodPost, "/api/rejectLeave", s.admin(), map[string]any{
		"requestId": reqID, "reason": "team offsite",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var dto RequestDTO
	require.NoError(t, json.Unmarshal(env.Data, &dto))
	assert.Equal(t, "rejected", dto.Status)
	assert.Equal(t, "team offsite", dto.RejectionReason)
	assert.NotNil(t, dto.ProcessedAt)

	// Reading it back as the owner.
	rec, env = s.do(http.MethodGet, "/api/requests/"+reqID, s.token("bob", ledger.RoleMember), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &dto))
	assert.Equal(t, "rejected", dto.Status)

	// Balance untouched.
	cat := category(s.balance("bob", s.admin()), "annual")
	require.NotNil(t, cat)
	assert.Equal(t, 10, cat.RemainingDays)
}

func TestAPI_ListingsAndReconciliation(t *testing.T) {
	s := newTestServer(t, ledger.WithDefaultCategory(ledger.DefaultCategory{}))
	annual := s.grant("carol", "annual", 5)
	s.requestLeave("carol", annual.ID, "2024-05-06", "2024-05-06", 1)
	carol := s.token("carol", ledger.RoleMember)

	rec, env := s.do(http.MethodGet, "/api/persons/carol/requests", carol, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var requests []RequestDTO
	require.NoError(t, json.Unmarshal(env.Data, &requests))
	assert.Len(t, requests, 1)

	rec, env = s.do(http.MethodGet, "/api/persons/carol/entries", carol, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []EntryDTO
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "granted", entries[0].Type)

	rec, env = s.do(http.MethodGet, "/api/persons/carol/reconciliation", carol, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report ReconciliationDTO
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Zero(t, report.Drifted)

	rec, _ = s.do(http.MethodPost, "/api/persons/carol/reconciliation/repair", carol, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = s.do(http.MethodPost, "/api/persons/carol/reconciliation/repair", s.admin(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(http.MethodPost, "/api/persons/carol/balance/refresh", carol, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_FirstReadSeedsDefaultCategory(t *testing.T) {
	s := newTestServer(t)
	bal := s.balance("dave", s.token("dave", ledger.RoleMember))
	cat := category(bal, "annual")
	require.NotNil(t, cat)
	assert.Equal(t, 24, cat.RemainingDays)
	assert.True(t, cat.IsDefault)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestAPI_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	member := s.token("alice", ledger.RoleMember)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		code   string
	}{
		{"no credentials", http.MethodPost, "/api/grantLeave", "", map[string]any{"personId": "p", "categoryName": "annual", "days": 1}, 401, "unauthenticated"},
		{"bad token", http.MethodGet, "/api/persons/alice/balance", "not-a-jwt", nil, 401, "unauthenticated"},
		{"member grants", http.MethodPost, "/api/grantLeave", member, map[string]any{"personId": "p", "categoryName": "annual", "days": 1}, 403, "permission-denied"},
		{"member grants malformed body", http.MethodPost, "/api/grantLeave", member, "{", 403, "permission-denied"},
		{"member approves", http.MethodPost, "/api/useLeave", member, map[string]any{"requestId": "r", "personId": "p"}, 403, "permission-denied"},
		{"malformed json", http.MethodPost, "/api/grantLeave", s.admin(), "{", 400, "invalid-argument"},
		{"unknown field", http.MethodPost, "/api/grantLeave", s.admin(), map[string]any{"personId": "p", "categoryName": "annual", "days": 1, "extra": true}, 400, "invalid-argument"},
		{"fractional days", http.MethodPost, "/api/grantLeave", s.admin(), `{"personId":"p","categoryName":"annual","days":1.5}`, 400, "invalid-argument"},
		{"zero days", http.MethodPost, "/api/grantLeave", s.admin(), map[string]any{"personId": "p", "categoryName": "annual", "days": 0}, 400, "invalid-argument"},
		{"missing person", http.MethodPost, "/api/grantLeave", s.admin(), map[string]any{"categoryName": "annual", "days": 1}, 400, "invalid-argument"},
		{"bad date", http.MethodPost, "/api/requestLeave", member, map[string]any{"allocations": []map[string]any{{"categoryId": "c", "daysRequested": 1}}, "startDate": "03/01/2024", "endDate": "2024-03-01"}, 400, "invalid-argument"},
		{"no allocations", http.MethodPost, "/api/requestLeave", member, map[string]any{"startDate": "2024-03-01", "endDate": "2024-03-01"}, 400, "invalid-argument"},
		{"unknown request", http.MethodPost, "/api/useLeave", s.admin(), map[string]any{"requestId": "missing", "personId": "p"}, 404, "not-found"},
		{"other person's balance", http.MethodGet, "/api/persons/bob/balance", member, nil, 403, "permission-denied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := s.do(tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestAPI_ValidationDetailsUseJSONNames(t *testing.T) {
	s := newTestServer(t)
	rec, env := s.do(http.MethodPost, "/api/requestLeave", s.token("alice", ledger.RoleMember), map[string]any{
		"allocations": []map[string]any{{"categoryId": "", "daysRequested": 1}},
		"startDate":   "2024-03-01",
		"endDate":     "2024-03-01",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "is required", env.Error.Details["allocations[0].categoryId"])
}

func TestWriteError_HidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(context.Background(), nil, rec, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "internal", env.Error.Code)
	assert.Equal(t, "internal error", env.Error.Message)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestWholeDays(t *testing.T) {
	_, err := wholeDays("days", mustDecimal(t, "2.5"))
	assert.True(t, ledger.IsKind(err, ledger.KindInvalidArgument))

	_, err = wholeDays("days", mustDecimal(t, "-1"))
	assert.True(t, ledger.IsKind(err, ledger.KindInvalidArgument))

	_, err = wholeDays("days", mustDecimal(t, "99999999999"))
	assert.True(t, ledger.IsKind(err, ledger.KindInvalidArgument))

	n, err := wholeDays("days", mustDecimal(t, "3.0"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

// =============================================================================
// INFRASTRUCTURE
// =============================================================================

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestAPI_Healthz(t *testing.T) {
	s := newTestServer(t)
	rec, _ := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.handler.DB = stubPinger{err: errors.New("down")}
	rec, _ = s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPI_RequestIDAndMetrics(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "trace-1")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, "trace-1", rec.Header().Get(requestIDHeader))

	rec, _ = s.do(http.MethodGet, "/healthz", "", nil)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	s.grant("erin", "annual", 1)

	rec, _ = s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `leave_ledger_http_request_duration_seconds_count{method="POST",route="/api/grantLeave",status="200"} 1`)
	assert.Contains(t, body, `leave_ledger_operations_total{kind="ok",op="grant"} 1`)
}

func TestRecoverer_ReturnsEnvelope(t *testing.T) {
	h := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"internal"`)
}

func TestRecoverer_LeavesStartedResponseAlone(t *testing.T) {
	var logs bytes.Buffer
	logg := logger.New(logger.Options{Output: &logs})
	h := Recoverer(logg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"partial":true}`))
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"partial":true}`, rec.Body.String())
	assert.Contains(t, logs.String(), "panic.recovered")
}

func TestWriteJSON_EncodeFailureIsLogged(t *testing.T) {
	var logs bytes.Buffer
	logg := logger.New(logger.Options{Output: &logs})
	rec := httptest.NewRecorder()

	writeJSON(context.Background(), logg, rec, http.StatusOK, map[string]any{"bad": make(chan int)})

	assert.Equal(t, http.StatusOK, rec.Code)
	out := logs.String()
	assert.Contains(t, out, "response.encode_failed")
	assert.Contains(t, out, `"level":"error"`)
}
