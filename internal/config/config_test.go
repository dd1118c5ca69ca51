package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"SDMX_BASE_URL", "SDMX_AGENCY", "HTTP_TIMEOUT", "HTTP_RATE_LIMIT_RPS", "HTTP_RATE_LIMIT_BURST",
	"PAGE_SIZE", "FETCH_MAX_RETRIES", "FETCH_BACKOFF_BASE", "FETCH_BACKOFF_MAX",
	"FETCH_ATTEMPT_TIMEOUT", "FETCH_CHAIN_TIMEOUT", "FETCH_WORKERS", "SNAPSHOT_PATH",
	"FALLBACK_FILE", "CATCH_ALL_DATAFLOW", "TOTAL_CODES", "SYNC_SCHEDULE", "SYNC_ON_START",
	"SYNC_CONCURRENCY", "LISTEN_ADDR", "TRUST_PROXY", "API_RATE_LIMIT_RPS",
	"API_RATE_LIMIT_BURST", "LOG_LEVEL", "CORS_ALLOWED_ORIGINS", "SNAPSHOT_MIRROR_URL",
	"SNAPSHOT_MIRROR_S3_ENDPOINT", "SNAPSHOT_MIRROR_S3_REGION", "SNAPSHOT_MIRROR_S3_KEY_ID",
	"SNAPSHOT_MIRROR_S3_SECRET", "SNAPSHOT_MIRROR_S3_PATH_STYLE", "SNAPSHOT_MIRROR_GCS_KEY_FILE",
	"SNAPSHOT_MIRROR_AZURE_ACCOUNT", "SNAPSHOT_MIRROR_AZURE_KEY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.SDMX.BaseURL)
	assert.Equal(t, "UNICEF", cfg.SDMX.Agency)
	assert.Equal(t, 60*time.Second, cfg.SDMX.Timeout)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, 4, cfg.Fetch.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Fetch.ChainTimeout)
	assert.Equal(t, "statflow_metadata.sqlite", cfg.SnapshotPath)
	assert.Equal(t, "GLOBAL_DATAFLOW", cfg.CatchAllDataflow)
	assert.Equal(t, "_T", cfg.TotalCodes["SEX"])
	assert.Empty(t, cfg.SyncSchedule)
	assert.False(t, cfg.SyncOnStart)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SDMX_BASE_URL", "http://localhost:9000/rest/")
	t.Setenv("SDMX_AGENCY", "ESTAT")
	t.Setenv("FETCH_MAX_RETRIES", "-1")
	t.Setenv("FETCH_ATTEMPT_TIMEOUT", "10s")
	t.Setenv("PAGE_SIZE", "500")
	t.Setenv("TOTAL_CODES", "sex=T, age = Y_T")
	t.Setenv("SYNC_SCHEDULE", "0 3 * * *")
	t.Setenv("SYNC_ON_START", "yes")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000/rest", cfg.SDMX.BaseURL)
	assert.Equal(t, "ESTAT", cfg.SDMX.Agency)
	assert.Equal(t, -1, cfg.Fetch.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Fetch.AttemptTimeout)
	assert.Equal(t, 500, cfg.SDMX.PageSize)
	assert.Equal(t, map[string]string{"SEX": "T", "AGE": "Y_T"}, cfg.TotalCodes)
	assert.Equal(t, "0 3 * * *", cfg.SyncSchedule)
	assert.True(t, cfg.SyncOnStart)
	assert.Contains(t, cfg.Warnings, "SDMX_BASE_URL uses plain http")
}

func TestLoadFromEnv_MirrorAndCORS(t *testing.T) {
	clearEnv(t)
	t.Setenv("SNAPSHOT_MIRROR_URL", "s3://statflow/meta.sqlite")
	t.Setenv("SNAPSHOT_MIRROR_S3_ENDPOINT", "fsn1.your-objectstorage.com")
	t.Setenv("SNAPSHOT_MIRROR_S3_KEY_ID", "id")
	t.Setenv("SNAPSHOT_MIRROR_S3_SECRET", "secret")
	t.Setenv("SNAPSHOT_MIRROR_S3_PATH_STYLE", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, MirrorConfig{
		URL:         "s3://statflow/meta.sqlite",
		S3Endpoint:  "fsn1.your-objectstorage.com",
		S3KeyID:     "id",
		S3Secret:    "secret",
		S3PathStyle: true,
	}, cfg.Mirror)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Empty(t, cfg.Warnings)

	t.Setenv("CORS_ALLOWED_ORIGINS", "*,https://a.example")
	cfg, err = LoadFromEnv()
	require.NoError(t, err)
	assert.Len(t, cfg.Warnings, 1)
}

func TestLoadFromEnv_MalformedValuesWarn(t *testing.T) {
	clearEnv(t)
	t.Setenv("FETCH_WORKERS", "many")
	t.Setenv("HTTP_TIMEOUT", "soon")
	t.Setenv("TRUST_PROXY", "maybe")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Fetch.Workers)
	assert.Equal(t, 60*time.Second, cfg.SDMX.Timeout)
	assert.False(t, cfg.TrustProxy)
	assert.Len(t, cfg.Warnings, 3)
}

func TestLoadFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "base url scheme", key: "SDMX_BASE_URL", value: "ftp://example.org"},
		{name: "negative page size", key: "PAGE_SIZE", value: "-5"},
		{name: "malformed totals", key: "TOTAL_CODES", value: "SEX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := LoadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{"debug": "DEBUG", "WARN": "WARN", "error": "ERROR", "": "INFO", "bogus": "INFO"} {
		assert.Equal(t, want, (&Config{LogLevel: in}).SlogLevel().String(), in)
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("STATFLOW_TEST_PRECEDENCE", "from_env")
	t.Setenv("STATFLOW_TEST_PLAIN", "")
	t.Setenv("STATFLOW_TEST_QUOTED", "")
	t.Setenv("STATFLOW_TEST_EXPORTED", "")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(`# comment
STATFLOW_TEST_PLAIN=plain
STATFLOW_TEST_QUOTED="quoted value"
export STATFLOW_TEST_EXPORTED=exported
STATFLOW_TEST_PRECEDENCE=from_file
not a pair
`), 0o600))

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "plain", os.Getenv("STATFLOW_TEST_PLAIN"))
	assert.Equal(t, "quoted value", os.Getenv("STATFLOW_TEST_QUOTED"))
	assert.Equal(t, "exported", os.Getenv("STATFLOW_TEST_EXPORTED"))
	assert.Equal(t, "from_env", os.Getenv("STATFLOW_TEST_PRECEDENCE"))
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	t.Parallel()
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}
