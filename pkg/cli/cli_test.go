package cli

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
			rows = append(rows, testutil.Obs("CME", "USA", "CME_MRY0T4", year, float64(year-2000), map[string]string{"SEX": sex}))
		}
	}
	return &testutil.FakeWarehouse{
		Agency: "UNICEF",
		Flows: []testutil.FakeFlow{
			{Descriptor: cme, Available: []string{"CME_MRY0T4"}, Rows: rows},
			{Descriptor: global},
		},
		Codelists: map[string][]domain.CodeEntry{
			"CL_UNICEF_INDICATOR": {
				{ID: "CME_MRY0T4", Name: "Under-five mortality rate"},
				{ID: "ZZ_ORPHAN", Name: "Orphan"},
			},
			"CL_COUNTRY":       {{ID: "USA", Name: "United States"}},
			"CL_WORLD_REGIONS": {{ID: "UNICEF_EAP", Name: "East Asia and Pacific"}},
		},
	}
}

type harness struct {
	t        *testing.T
	wh       *testutil.FakeWarehouse
	baseURL  string
	snapshot string
}

// newHarness isolates HOME and the environment and starts a fake warehouse.
func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("HTTP_RATE_LIMIT_RPS", "1000")
	t.Setenv("HTTP_RATE_LIMIT_BURST", "100")
	t.Setenv("FETCH_BACKOFF_BASE", "1ms")
	t.Setenv("FETCH_BACKOFF_MAX", "2ms")
	for _, k := range []string{"SDMX_BASE_URL", "SNAPSHOT_PATH", "STATFLOW_BASE_URL", "STATFLOW_SNAPSHOT", "STATFLOW_OUTPUT", "STATFLOW_LOG_LEVEL", "SNAPSHOT_MIRROR_URL"} {
		t.Setenv(k, "")
	}

	wh := warehouse()
	srv := httptest.NewServer(wh)
	t.Cleanup(srv.Close)
	return &harness{t: t, wh: wh, baseURL: srv.URL, snapshot: filepath.Join(dir, "meta.sqlite")}
}

// run executes the CLI with the harness's warehouse and snapshot.
func (h *harness) run(args ...string) (code int, stdout, stderr string) {
	h.t.Helper()
	full := append([]string{"--base-url", h.baseURL, "--snapshot", h.snapshot, "--env-file", ""}, args...)
	var out, errOut bytes.Buffer
	code = run(full, &out, &errOut, nil)
	return code, out.String(), errOut.String()
}

func TestSyncThenQuery(t *testing.T) {
	h := newHarness(t)

	code, out, stderr := h.run("sync", "-o", "json")
	require.Equal(t, 0, code, stderr)
	var res struct {
		Header domain.SnapshotHeader `json:"header"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.NotEmpty(t, res.Header.SyncID)
	assert.Equal(t, 2, res.Header.Counts[domain.CategoryDataflows])

	code, out, stderr = h.run("query", "CME_MRY0T4", "--country", "usa", "--year", "2018:2020", "-o", "csv")
	require.Equal(t, 0, code, stderr)
	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4, "header plus one row per year, SEX narrowed to the total")
	assert.Equal(t, []string{"REF_AREA", "INDICATOR", "SEX"}, records[0][:3])
	assert.Equal(t, "USA", records[1][0])
	assert.Contains(t, stderr, "CME_MRY0T4: success from CME")
}

func TestQuery_ShapesAndSelectors(t *testing.T) {
	h := newHarness(t)

	code, out, stderr := h.run("query", "-i", "CME_MRY0T4", "--filter", "SEX=F+M", "--latest", "--shape", "wide", "-o", "csv")
	require.Equal(t, 0, code, stderr)
	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"REF_AREA", "INDICATOR", "SEX", "2020"}, records[0])
	require.Len(t, records, 3)
	assert.Equal(t, []string{"USA", "CME_MRY0T4", "F", "20"}, records[1])

	code, out, stderr = h.run("query", "CME_MRY0T4", "--circa", "2012", "-o", "json")
	require.Equal(t, 0, code, stderr)
	var body struct {
		Status     string            `json:"status"`
		Provenance map[string]string `json:"provenance"`
		Table      domain.Table      `json:"table"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, "CME", body.Provenance["CME_MRY0T4"])
	require.Len(t, body.Table.Rows, 1)

	exportPath := filepath.Join(t.TempDir(), "wide.csv")
	code, _, stderr = h.run("query", "CME_MRY0T4", "--filter", "SEX=F", "--shape", "wide", "--export", exportPath, "-o", "csv")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stderr, "exported 1 rows to "+exportPath)
	b, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "REF_AREA,INDICATOR,SEX,2015,2016"), string(b))
}

func TestQuery_InvalidSpecMakesNoRequests(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no indicators", []string{"query"}, "at least one indicator"},
		{"exclusive selectors", []string{"query", "X", "--latest", "--mrv", "2"}, "mutually exclusive"},
		{"bad years", []string{"query", "X", "--year", "2020:2015"}, "reversed"},
		{"bad shape", []string{"query", "X", "--shape", "pivot"}, "unknown output shape"},
		{"bad filter", []string{"query", "X", "--filter", "SEX"}, "malformed filter"},
		{"bad export", []string{"query", "X", "--export", "out.xlsx"}, "cannot infer export format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := h.run(tt.args...)
			assert.Equal(t, 1, code)
			assert.Contains(t, stderr, tt.wantErr)
		})
	}
	assert.Zero(t, h.wh.TotalDataHits())
	_, err := os.Stat(h.snapshot)
	assert.True(t, os.IsNotExist(err), "no metadata sync for an invalid query")
}

func TestQuery_NoDataExitsNonZero(t *testing.T) {
	h := newHarness(t)

	code, _, stderr := h.run("query", "CME_MRY0T4", "--country", "FRA")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "CME_MRY0T4: not_found")
	assert.Contains(t, stderr, "no observations found")
}

func TestResolve(t *testing.T) {
	h := newHarness(t)

	code, out, stderr := h.run("resolve", "CME_MRY0T4", "-o", "json")
	require.Equal(t, 0, code, stderr)
	var got []resolution
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "CME", got[0].Primary)
	assert.Equal(t, "verified", got[0].Tier)
	assert.Contains(t, got[0].Fallbacks, "GLOBAL_DATAFLOW")

	code, out, stderr = h.run("resolve", "CME_MRY0T4", "ZZ_ORPHAN", "-o", "csv")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "ZZ_ORPHAN")
	assert.Contains(t, stderr, "1 of 2 codes could not be resolved")
	assert.Zero(t, h.wh.TotalDataHits(), "resolution never fetches data")
}

func TestIndicators(t *testing.T) {
	h := newHarness(t)

	code, out, stderr := h.run("indicators", "--tier", "verified", "-o", "json")
	require.Equal(t, 0, code, stderr)
	var got []domain.IndicatorMetadata
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "CME_MRY0T4", got[0].Code)

	code, _, stderr = h.run("indicators", "--tier", "shiny")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unknown tier")
}

func TestSnapshot_LoadsPersistedSnapshot(t *testing.T) {
	h := newHarness(t)
	code, _, stderr := h.run("sync")
	require.Equal(t, 0, code, stderr)

	h.wh.FailStruct = true
	code, out, stderr := h.run("snapshot", "-o", "csv")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "loaded_from_disk,true")
	assert.Contains(t, out, "dataflows,2")
}

func TestSync_FailureKeepsExitCode(t *testing.T) {
	h := newHarness(t)
	h.wh.FailStruct = true

	code, out, _ := h.run("sync", "-o", "json")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, `"error"`)
}

func TestProfilePrecedence(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, SaveUserConfig(&UserConfig{
		CurrentProfile: "default",
		Profiles: map[string]Profile{
			"default": {BaseURL: h.baseURL, Snapshot: h.snapshot, Output: "json"},
		},
	}))

	runCLI := func(args ...string) (int, string, string) {
		var out, errOut bytes.Buffer
		code := run(append([]string{"--env-file", ""}, args...), &out, &errOut, nil)
		return code, out.String(), errOut.String()
	}

	// Base URL, snapshot and output all come from the profile.
	code, out, stderr := runCLI("sync")
	require.Equal(t, 0, code, stderr)
	assert.True(t, json.Valid([]byte(out)), out)

	// A flag beats the profile.
	code, out, _ = runCLI("snapshot", "-o", "csv")
	require.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(out, "FIELD,VALUE"))

	// The environment beats the profile.
	t.Setenv("STATFLOW_OUTPUT", "csv")
	code, out, _ = runCLI("snapshot")
	require.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(out, "FIELD,VALUE"))

	code, _, stderr = runCLI("--profile", "missing", "snapshot")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, `profile "missing" not found`)
}

func TestRootRejectsUnknownOutput(t *testing.T) {
	h := newHarness(t)
	code, _, stderr := h.run("version", "-o", "xml")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unsupported output format")
}

func TestVersion(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("STATFLOW_OUTPUT", "")
	var out bytes.Buffer
	code := run([]string{"version", "-o", "json", "--env-file", ""}, &out, &bytes.Buffer{}, nil)
	require.Equal(t, 0, code)
	assert.JSONEq(t, `{"version":"dev","commit":"none"}`, out.String())
}
