// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Defaults for the public UNICEF warehouse.
const (
	DefaultBaseURL      = "https://sdmx.data.unicef.org/ws/public/sdmxapi/rest"
	DefaultAgency       = "UNICEF"
	DefaultSnapshotPath = "statflow_metadata.sqlite"
	DefaultCatchAll     = "GLOBAL_DATAFLOW"
	DefaultTotalCodes   = "SEX=_T,AGE=_T,RESIDENCE=_T,WEALTH_QUINTILE=_T"
)

// SDMXConfig configures the warehouse client.
type SDMXConfig struct {
	BaseURL   string
	Agency    string
	Timeout   time.Duration // per HTTP exchange (default 60s)
	RateLimit float64       // outbound requests per second (default 5)
	RateBurst int           // (default 5)
	PageSize  int           // observations per data page, 0 disables paging
}

// FetchConfig tunes the fetch engine. Zero values take the engine defaults.
type FetchConfig struct {
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	AttemptTimeout time.Duration
	ChainTimeout   time.Duration
	Workers        int
}

// MirrorConfig configures the optional object storage copy of the snapshot.
type MirrorConfig struct {
	URL string // s3://, gs://, az://, abfss:// or https://*.blob.core.windows.net; empty disables

	S3Endpoint  string
	S3Region    string
	S3KeyID     string
	S3Secret    string
	S3PathStyle bool

	GCSKeyFile string

	AzureAccount    string
	AzureAccountKey string
}

// Config holds the configuration shared by the server and the CLI.
type Config struct {
	SDMX  SDMXConfig
	Fetch FetchConfig

	SnapshotPath     string // SQLite snapshot file
	FallbackFile     string // optional YAML override of the fallback table
	Mirror           MirrorConfig
	CatchAllDataflow string
	// TotalCodes maps a disaggregation dimension to its aggregate code.
	TotalCodes map[string]string

	SyncSchedule    string // cron spec; empty disables periodic refresh
	SyncOnStart     bool   // force a sync at startup even when a snapshot exists
	SyncConcurrency int

	ListenAddr     string  // HTTP listen address (default ":8080")
	TrustProxy     bool    // honour X-Forwarded-For / X-Real-IP
	RateLimitRPS   float64 // inbound query requests per second per client (default 2)
	RateLimitBurst int     // (default 10)
	LogLevel       string  // debug, info, warn, error (default "info")
	// CORSAllowedOrigins lists browser origins allowed to call the API.
	// Empty disables CORS headers.
	CORSAllowedOrigins []string

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// env reads typed variables and records malformed values as warnings.
type env struct {
	warnings []string
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.warnings = append(e.warnings, fmt.Sprintf("%s=%q is not an integer, using %d", key, v, def))
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		e.warnings = append(e.warnings, fmt.Sprintf("%s=%q is not a positive number, using %g", key, v, def))
		return def
	}
	return f
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		e.warnings = append(e.warnings, fmt.Sprintf("%s=%q is not a positive duration, using %s", key, v, def))
		return def
	}
	return d
}

func (e *env) bool(key string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch v {
	case "":
		return def
	case "0", "false", "no", "off":
		return false
	case "1", "true", "yes", "on":
		return true
	}
	e.warnings = append(e.warnings, fmt.Sprintf("%s=%q is not a boolean, using %t", key, v, def))
	return def
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	e := &env{}
	cfg := &Config{
		SDMX: SDMXConfig{
			BaseURL:   strings.TrimSuffix(e.str("SDMX_BASE_URL", DefaultBaseURL), "/"),
			Agency:    e.str("SDMX_AGENCY", DefaultAgency),
			Timeout:   e.duration("HTTP_TIMEOUT", 60*time.Second),
			RateLimit: e.float("HTTP_RATE_LIMIT_RPS", 5),
			RateBurst: e.int("HTTP_RATE_LIMIT_BURST", 5),
			PageSize:  e.int("PAGE_SIZE", 0),
		},
		Fetch: FetchConfig{
			MaxRetries:     e.int("FETCH_MAX_RETRIES", 3),
			BackoffBase:    e.duration("FETCH_BACKOFF_BASE", 500*time.Millisecond),
			BackoffMax:     e.duration("FETCH_BACKOFF_MAX", 8*time.Second),
			AttemptTimeout: e.duration("FETCH_ATTEMPT_TIMEOUT", 60*time.Second),
			ChainTimeout:   e.duration("FETCH_CHAIN_TIMEOUT", 5*time.Minute),
			Workers:        e.int("FETCH_WORKERS", 4),
		},
		SnapshotPath: e.str("SNAPSHOT_PATH", DefaultSnapshotPath),
		FallbackFile: e.str("FALLBACK_FILE", ""),
		Mirror: MirrorConfig{
			URL:             e.str("SNAPSHOT_MIRROR_URL", ""),
			S3Endpoint:      e.str("SNAPSHOT_MIRROR_S3_ENDPOINT", ""),
			S3Region:        e.str("SNAPSHOT_MIRROR_S3_REGION", ""),
			S3KeyID:         e.str("SNAPSHOT_MIRROR_S3_KEY_ID", ""),
			S3Secret:        e.str("SNAPSHOT_MIRROR_S3_SECRET", ""),
			S3PathStyle:     e.bool("SNAPSHOT_MIRROR_S3_PATH_STYLE", false),
			GCSKeyFile:      e.str("SNAPSHOT_MIRROR_GCS_KEY_FILE", ""),
			AzureAccount:    e.str("SNAPSHOT_MIRROR_AZURE_ACCOUNT", ""),
			AzureAccountKey: e.str("SNAPSHOT_MIRROR_AZURE_KEY", ""),
		},
		CatchAllDataflow: e.str("CATCH_ALL_DATAFLOW", DefaultCatchAll),
		SyncSchedule:     e.str("SYNC_SCHEDULE", ""),
		SyncOnStart:      e.bool("SYNC_ON_START", false),
		SyncConcurrency:  e.int("SYNC_CONCURRENCY", 8),
		ListenAddr:       e.str("LISTEN_ADDR", ":8080"),
		TrustProxy:       e.bool("TRUST_PROXY", false),
		RateLimitRPS:     e.float("API_RATE_LIMIT_RPS", 2),
		RateLimitBurst:   e.int("API_RATE_LIMIT_BURST", 10),
		LogLevel:         e.str("LOG_LEVEL", "info"),
	}
	cfg.CORSAllowedOrigins = splitList(e.str("CORS_ALLOWED_ORIGINS", ""))

	totals, err := ParseTotalCodes(e.str("TOTAL_CODES", DefaultTotalCodes))
	if err != nil {
		return nil, err
	}
	cfg.TotalCodes = totals

	if !strings.HasPrefix(cfg.SDMX.BaseURL, "http://") && !strings.HasPrefix(cfg.SDMX.BaseURL, "https://") {
		return nil, fmt.Errorf("SDMX_BASE_URL must be an http(s) URL, got %q", cfg.SDMX.BaseURL)
	}
	if cfg.SDMX.PageSize < 0 {
		return nil, fmt.Errorf("PAGE_SIZE must not be negative")
	}
	if cfg.Fetch.Workers <= 0 {
		e.warnings = append(e.warnings, "FETCH_WORKERS must be positive, using 4")
		cfg.Fetch.Workers = 4
	}
	if cfg.Fetch.BackoffMax < cfg.Fetch.BackoffBase {
		e.warnings = append(e.warnings, "FETCH_BACKOFF_MAX is below FETCH_BACKOFF_BASE; retries will not grow")
	}
	if cfg.Fetch.ChainTimeout < cfg.Fetch.AttemptTimeout {
		e.warnings = append(e.warnings, "FETCH_CHAIN_TIMEOUT is shorter than FETCH_ATTEMPT_TIMEOUT")
	}
	if slices.Contains(cfg.CORSAllowedOrigins, "*") && len(cfg.CORSAllowedOrigins) > 1 {
		e.warnings = append(e.warnings, "CORS_ALLOWED_ORIGINS contains \"*\"; other origins are redundant")
	}
	if strings.HasPrefix(cfg.SDMX.BaseURL, "http://") {
		e.warnings = append(e.warnings, "SDMX_BASE_URL uses plain http")
	}

	cfg.Warnings = e.warnings
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseTotalCodes parses "DIM=code,DIM=code".
func ParseTotalCodes(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		dim, code, ok := strings.Cut(pair, "=")
		dim, code = strings.ToUpper(strings.TrimSpace(dim)), strings.TrimSpace(code)
		if !ok || dim == "" || code == "" {
			return nil, fmt.Errorf("TOTAL_CODES: malformed entry %q, want DIM=code", pair)
		}
		out[dim] = code
	}
	return out, nil
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		if os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("setenv %s: %w", key, err)
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
