package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statflow/internal/domain"
	"statflow/internal/metadata"
	"statflow/internal/middleware"
	"statflow/internal/service/resolver"
	"statflow/internal/service/syncer"
)

// === Mocks ===

type mockQueryRunner struct {
	runFn     func(ctx context.Context, spec domain.QuerySpec) (*domain.ResultSet, error)
	resolveFn func(code string) (resolver.Plan, error)
}

func (m *mockQueryRunner) Run(ctx context.Context, spec domain.QuerySpec) (*domain.ResultSet, error) {
	if m.runFn == nil {
		panic("unexpected call to mockQueryRunner.Run")
	}
	return m.runFn(ctx, spec)
}

func (m *mockQueryRunner) Resolve(code string) (resolver.Plan, error) {
	if m.resolveFn == nil {
		panic("unexpected call to mockQueryRunner.Resolve")
	}
	return m.resolveFn(code)
}

type mockSyncer struct {
	syncFn func(ctx context.Context) (*syncer.Result, error)
	last   *syncer.Result
}

func (m *mockSyncer) Sync(ctx context.Context) (*syncer.Result, error) {
	if m.syncFn == nil {
		panic("unexpected call to mockSyncer.Sync")
	}
	return m.syncFn(ctx)
}

func (m *mockSyncer) LastResult() *syncer.Result { return m.last }

// === Helpers ===

func testRegistry(t *testing.T, loaded bool) *metadata.Registry {
	t.Helper()
	table, err := metadata.DefaultFallbackTable()
	require.NoError(t, err)
	if !loaded {
		return metadata.NewRegistry(metadata.EmptySnapshot(table))
	}
	snap, err := metadata.NewSnapshot(&domain.Catalog{
		Header: domain.SnapshotHeader{FormatVersion: domain.SnapshotFormatVersion, SyncID: "sync-9", SyncedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		Indicators: []domain.IndicatorMetadata{
			{Code: "CME_MRY0T4", DisplayName: "Under-five mortality rate", Category: "CME", Tier: domain.TierVerified},
			{Code: "CME_TMY0T4", DisplayName: "Under-five deaths", Category: "CME", Tier: domain.TierDefinedNoData},
			{Code: "NT_ANT_HAZ_NE2", DisplayName: "Stunting", Category: "Nutrition", Tier: domain.TierVerified},
		},
	}, table)
	require.NoError(t, err)
	return metadata.NewRegistry(snap)
}

func newTestServer(t *testing.T, q *mockQueryRunner, s *mockSyncer, loaded bool) http.Handler {
	t.Helper()
	if q == nil {
		q = &mockQueryRunner{}
	}
	if s == nil {
		s = &mockSyncer{}
	}
	logger := slog.New(slog.DiscardHandler)
	h := NewHandler(q, s, testRegistry(t, loaded), logger)
	return NewRouter(h, RouterOptions{Logger: logger})
}

func do(t *testing.T, srv http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func value(v float64) *float64 { return &v }

// === Tests ===

func TestQuery_StatusMapping(t *testing.T) {
	t.Parallel()
	rerr := &domain.RetrievalError{Indicator: "CME_MRY0T4", Err: errors.New("HTTP 503")}

	tests := []struct {
		name     string
		rs       *domain.ResultSet
		err      error
		wantCode int
	}{
		{
			name: "success",
			rs: &domain.ResultSet{
				Status:     domain.StatusSuccess,
				Provenance: map[string]string{"CME_MRY0T4": "CME"},
				Table:      &domain.Table{Columns: []string{"REF_AREA", "OBS_VALUE"}, Rows: [][]any{{"USA", 6.5}}},
			},
			wantCode: http.StatusOK,
		},
		{name: "not found", rs: &domain.ResultSet{Status: domain.StatusNotFound}, wantCode: http.StatusNotFound},
		{name: "retrieval", rs: &domain.ResultSet{Status: domain.StatusError}, err: rerr, wantCode: http.StatusBadGateway},
		{name: "validation", err: domain.ErrValidation("bad"), wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := &mockQueryRunner{runFn: func(_ context.Context, _ domain.QuerySpec) (*domain.ResultSet, error) {
				return tt.rs, tt.err
			}}
			rec, body := do(t, newTestServer(t, q, nil, true), http.MethodPost, "/v1/query", `{"indicators":["CME_MRY0T4"]}`)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.rs != nil {
				assert.Equal(t, tt.rs.Status.String(), body["status"])
			}
			if tt.err != nil {
				assert.NotEmpty(t, stringOr(body["message"])+stringOr(body["error"]))
			}
		})
	}
}

func stringOr(v any) string {
	s, _ := v.(string)
	return s
}

func TestQuery_DecodesSpec(t *testing.T) {
	t.Parallel()
	var got domain.QuerySpec
	q := &mockQueryRunner{runFn: func(_ context.Context, spec domain.QuerySpec) (*domain.ResultSet, error) {
		got = spec
		return &domain.ResultSet{
			Status: domain.StatusSuccess,
			Rows:   []domain.ObservationRow{{RefArea: "USA", Value: value(1)}},
		}, nil
	}}
	srv := newTestServer(t, q, nil, true)

	rec, body := do(t, srv, http.MethodPost, "/v1/query", `{
		"indicators": ["CME_MRY0T4"],
		"countries": ["USA", "BRA"],
		"years": "2015:2020",
		"disaggregations": {"SEX": ["F"]},
		"shape": "wide",
		"most_recent_n": 2
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.YearRangeOf(2015, 2020), got.Years)
	assert.Equal(t, domain.ShapeWide, got.Shape)
	assert.Equal(t, 2, got.MostRecentN)
	assert.Equal(t, []string{"F"}, got.Disaggregations["SEX"])
	assert.NotContains(t, body, "rows", "raw rows are not serialized")
}

func TestQuery_RejectsMalformedBody(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, nil, nil, true)

	for _, body := range []string{`{`, `{"indicators":["A"],"bogus":1}`, `{"years":"2020:2010"}`, `{"shape":"pivot"}`} {
		rec, out := do(t, srv, http.MethodPost, "/v1/query", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.InDelta(t, float64(http.StatusBadRequest), out["code"], 0.001)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	q := &mockQueryRunner{resolveFn: func(code string) (resolver.Plan, error) {
		if code != "CME_MRY0T4" {
			return resolver.Plan{}, domain.ErrNotFound("%s has no dataflow mapping", code)
		}
		return resolver.Plan{
			Code:      code,
			Primary:   domain.DataflowDescriptor{ID: "CME"},
			Fallbacks: []domain.DataflowDescriptor{{ID: "GLOBAL_DATAFLOW"}},
			Tier:      domain.TierVerified,
			Known:     true,
			Metadata:  domain.IndicatorMetadata{Code: code, DisplayName: "Under-five mortality rate", Tier: domain.TierVerified},
		}, nil
	}}
	srv := newTestServer(t, q, nil, true)

	rec, body := do(t, srv, http.MethodGet, "/v1/resolve/CME_MRY0T4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CME", body["primary"])
	assert.Equal(t, []any{"GLOBAL_DATAFLOW"}, body["fallbacks"])
	assert.Equal(t, "verified", body["tier"])

	rec, _ = do(t, srv, http.MethodGet, "/v1/resolve/ZZ_GHOST", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListIndicators(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, nil, nil, true)

	tests := []struct {
		query string
		want  float64
	}{
		{"", 3},
		{"?tier=verified", 2},
		{"?category=cme", 2},
		{"?q=stunt", 1},
		{"?q=cme&tier=defined_no_data", 1},
	}
	for _, tt := range tests {
		rec, body := do(t, srv, http.MethodGet, "/v1/indicators"+tt.query, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.InDelta(t, tt.want, body["count"], 0.001, tt.query)
	}

	rec, _ := do(t, srv, http.MethodGet, "/v1/indicators?tier=gold", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSync(t *testing.T) {
	t.Parallel()

	ok := &mockSyncer{syncFn: func(context.Context) (*syncer.Result, error) {
		return &syncer.Result{Header: domain.SnapshotHeader{SyncID: "sync-10"}}, nil
	}}
	rec, body := do(t, newTestServer(t, nil, ok, true), http.MethodPost, "/v1/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sync-10", body["header"].(map[string]any)["sync_id"])

	failing := &mockSyncer{syncFn: func(context.Context) (*syncer.Result, error) {
		return nil, domain.ErrSync(syncer.StageDataflows, errors.New("HTTP 500"))
	}}
	rec, body = do(t, newTestServer(t, nil, failing, true), http.MethodPost, "/v1/sync", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, body["message"], "dataflows")
}

func TestSnapshotAndHealth(t *testing.T) {
	t.Parallel()

	loaded := newTestServer(t, nil, &mockSyncer{last: &syncer.Result{Loaded: true}}, true)
	rec, body := do(t, loaded, http.MethodGet, "/v1/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sync-9", body["header"].(map[string]any)["sync_id"])
	assert.Equal(t, true, body["loaded_from_disk"])

	rec, body = do(t, loaded, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sync-9", body["snapshot"])

	empty := newTestServer(t, nil, nil, false)
	rec, _ = do(t, empty, http.MethodGet, "/v1/snapshot", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = do(t, empty, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_RateLimitsQueries(t *testing.T) {
	t.Parallel()
	q := &mockQueryRunner{runFn: func(context.Context, domain.QuerySpec) (*domain.ResultSet, error) {
		return &domain.ResultSet{Status: domain.StatusSuccess}, nil
	}}
	logger := slog.New(slog.DiscardHandler)
	h := NewHandler(q, &mockSyncer{}, testRegistry(t, true), logger)
	srv := NewRouter(h, RouterOptions{
		Logger:       logger,
		QueryLimiter: middleware.NewRateLimiter(middleware.RateLimitConfig{RequestsPerSecond: 0.1, Burst: 1}),
	})

	rec, _ := do(t, srv, http.MethodPost, "/v1/query", `{"indicators":["CME_MRY0T4"]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, srv, http.MethodPost, "/v1/query", `{"indicators":["CME_MRY0T4"]}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec, _ = do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code, "health is not rate limited")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouter_CORS(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.DiscardHandler)
	h := NewHandler(&mockQueryRunner{}, &mockSyncer{}, testRegistry(t, true), logger)
	srv := NewRouter(h, RouterOptions{Logger: logger, AllowedOrigins: []string{"https://dash.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/v1/query", nil)
	req.Header.Set("Origin", "https://dash.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	plain := newTestServer(t, nil, nil, true)
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://dash.example")
	rec = httptest.NewRecorder()
	plain.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), "CORS is off without origins")
}

func TestHTTPStatusFromDomainError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound("x"), http.StatusNotFound},
		{domain.ErrValidation("x"), http.StatusBadRequest},
		{&domain.RetrievalError{Indicator: "X"}, http.StatusBadGateway},
		{domain.ErrSync("persist", errors.New("disk full")), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, httpStatusFromDomainError(tt.err), "%v", tt.err)
	}
}
