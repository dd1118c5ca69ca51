package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statflow/internal/config"
	"statflow/internal/db/repository"
	"statflow/internal/domain"
	"statflow/internal/testutil"
)

func warehouse() *testutil.FakeWarehouse {
	cme := domain.DataflowDescriptor{
		ID: "CME", Agency: "UNICEF", Version: "1.0", Name: "Child mortality",
		Dimensions: []domain.Dimension{
			{ID: domain.DimRefArea, Position: 0},
			{ID: domain.DimIndicator, Position: 1},
			{ID: "SEX", Position: 2},
		},
	}
	global := domain.DataflowDescriptor{ID: "GLOBAL_DATAFLOW", Agency: "UNICEF", Version: "1.0", Dimensions: cme.Dimensions}

	var rows []domain.ObservationRow
	for _, sex := range []string{"_T", "F", "M"} {
		for year := 2015; year <= 2020; year++ {
			rows = append(rows, testutil.Obs("CME", "USA", "CME_MRY0T4", year, 6.5, map[string]string{"SEX": sex}))
		}
	}
	return &testutil.FakeWarehouse{
		Agency: "UNICEF",
		Flows: []testutil.FakeFlow{
			{Descriptor: cme, Available: []string{"CME_MRY0T4"}, Rows: rows},
			{Descriptor: global},
		},
		Codelists: map[string][]domain.CodeEntry{
			"CL_UNICEF_INDICATOR": {{ID: "CME_MRY0T4", Name: "Under-five mortality rate"}},
			"CL_COUNTRY":          {{ID: "USA", Name: "United States"}},
			"CL_WORLD_REGIONS":    {{ID: "UNICEF_EAP", Name: "East Asia and Pacific"}},
		},
	}
}

func testConfig(t *testing.T, baseURL, snapshot string) *config.Config {
	t.Helper()
	return &config.Config{
		SDMX:             config.SDMXConfig{BaseURL: baseURL, Agency: "UNICEF", RateLimit: 1000, RateBurst: 100},
		SnapshotPath:     snapshot,
		CatchAllDataflow: "GLOBAL_DATAFLOW",
		TotalCodes:       map[string]string{"SEX": "_T"},
		RateLimitRPS:     100,
		RateLimitBurst:   100,
	}
}

func newApp(t *testing.T, w *testutil.FakeWarehouse, snapshot string, mutate func(*config.Config)) *App {
	t.Helper()
	srv := httptest.NewServer(w)
	t.Cleanup(srv.Close)
	cfg := testConfig(t, srv.URL, snapshot)
	if mutate != nil {
		mutate(cfg)
	}
	a, err := New(Deps{Cfg: cfg, Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestApp_SyncThenServeQueries(t *testing.T) {
	t.Parallel()
	snapshot := filepath.Join(t.TempDir(), "meta", "snapshot.sqlite")
	a := newApp(t, warehouse(), snapshot, nil)

	require.NoError(t, a.Start(context.Background()))
	header := a.Registry.Current().Header()
	require.NotEmpty(t, header.SyncID)
	assert.Equal(t, 2, header.Counts[domain.CategoryDataflows])

	srv := a.Handler()
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(
		`{"indicators":["CME_MRY0T4"],"countries":["USA"],"years":"2018:2020"}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Status     string            `json:"status"`
		Provenance map[string]string `json:"provenance"`
		Table      domain.Table      `json:"table"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, "CME", body.Provenance["CME_MRY0T4"])
	assert.Len(t, body.Table.Rows, 3, "SEX defaults to the total")

	req = httptest.NewRequest(http.MethodGet, "/v1/resolve/CME_MRY0T4", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/ui/indicators/CME_MRY0T4", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Under-five mortality rate")
}

func TestApp_BootstrapLoadsPersistedSnapshot(t *testing.T) {
	t.Parallel()
	snapshot := filepath.Join(t.TempDir(), "snapshot.sqlite")

	first := newApp(t, warehouse(), snapshot, nil)
	synced, err := first.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.False(t, synced.Loaded)

	down := warehouse()
	down.FailStruct = true
	second := newApp(t, down, snapshot, nil)
	loaded, err := second.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.True(t, loaded.Loaded)
	assert.Equal(t, synced.Header.SyncID, second.Registry.Current().Header().SyncID)

	forced := newApp(t, down, snapshot, func(c *config.Config) { c.SyncOnStart = true })
	_, err = forced.Bootstrap(context.Background())
	var syncErr *domain.SyncError
	require.True(t, errors.As(err, &syncErr), "got %v", err)
	assert.Empty(t, forced.Registry.Current().Header().SyncID)
}

func TestApp_Scheduler(t *testing.T) {
	t.Parallel()
	snapshot := filepath.Join(t.TempDir(), "snapshot.sqlite")

	a := newApp(t, warehouse(), snapshot, func(c *config.Config) { c.SyncSchedule = "@every 1h" })
	require.NotNil(t, a.Scheduler)
	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, "@every 1h", a.Scheduler.Schedule())

	b := newApp(t, warehouse(), filepath.Join(t.TempDir(), "s.sqlite"), nil)
	assert.Nil(t, b.Scheduler)
}

func TestNew_RejectsBadFallbackFile(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, "http://127.0.0.1:1", filepath.Join(t.TempDir(), "s.sqlite"))
	cfg.FallbackFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(Deps{Cfg: cfg, Logger: slog.New(slog.DiscardHandler)})
	assert.Error(t, err)
}

func TestApp_ServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	a := newApp(t, warehouse(), filepath.Join(t.TempDir(), "s.sqlite"), nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "no snapshot installed yet")

	cancel()
	require.NoError(t, <-errc)
}

func TestNew_SnapshotMirror(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, "http://127.0.0.1:1", filepath.Join(t.TempDir(), "meta.sqlite"))

	cfg.Mirror = config.MirrorConfig{URL: "ftp://mirror/meta.sqlite"}
	_, err := New(Deps{Cfg: cfg, Logger: slog.New(slog.DiscardHandler)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot mirror")

	cfg.Mirror = config.MirrorConfig{URL: "s3://mirror/meta.sqlite", S3KeyID: "id", S3Secret: "secret"}
	a, err := New(Deps{Cfg: cfg, Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)
	assert.IsType(t, &repository.MirroredSnapshotRepo{}, a.Repo)
}
