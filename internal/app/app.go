// Package app wires the statflow components together from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"statflow/internal/api"
	"statflow/internal/config"
	"statflow/internal/db/repository"
	"statflow/internal/domain"
	"statflow/internal/metadata"
	"statflow/internal/middleware"
	"statflow/internal/objectstore"
	"statflow/internal/sdmx"
	"statflow/internal/service/fetch"
	"statflow/internal/service/query"
	"statflow/internal/service/syncer"
	"statflow/internal/ui"
)

// Deps holds what the entrypoint provides.
type Deps struct {
	Cfg    *config.Config
	Logger *slog.Logger
	// Transport overrides the HTTP transport of the warehouse client.
	Transport http.RoundTripper
}

// App is the fully wired application.
type App struct {
	Cfg       *config.Config
	Registry  *metadata.Registry
	Client    *sdmx.Client
	Repo      domain.SnapshotRepository
	Syncer    *syncer.Service
	Queries   *query.Service
	Scheduler *syncer.Scheduler // nil when SYNC_SCHEDULE is empty

	logger *slog.Logger
}

// New builds every component. The registry starts with an empty snapshot;
// call Bootstrap to install real metadata.
func New(deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fallbacks, err := metadata.LoadFallbackTable(cfg.FallbackFile, cfg.CatchAllDataflow)
	if err != nil {
		return nil, fmt.Errorf("load fallback table: %w", err)
	}
	registry := metadata.NewRegistry(metadata.EmptySnapshot(fallbacks))

	client := sdmx.NewClient(sdmx.Config{
		BaseURL:   cfg.SDMX.BaseURL,
		Agency:    cfg.SDMX.Agency,
		Timeout:   cfg.SDMX.Timeout,
		RateLimit: cfg.SDMX.RateLimit,
		RateBurst: cfg.SDMX.RateBurst,
		PageSize:  cfg.SDMX.PageSize,
		Transport: deps.Transport,
		Logger:    logger.With("component", "sdmx"),
	})
	repo, err := newSnapshotRepo(cfg, logger)
	if err != nil {
		return nil, err
	}

	syncSvc := syncer.NewService(syncer.Deps{
		Source:      client,
		Repo:        repo,
		Registry:    registry,
		Fallbacks:   fallbacks,
		TotalCodes:  cfg.TotalCodes,
		Concurrency: cfg.SyncConcurrency,
		Logger:      logger.With("component", "syncer"),
	})

	engine := fetch.NewEngine(fetch.Deps{
		Source:         client,
		Logger:         logger.With("component", "fetch"),
		MaxRetries:     cfg.Fetch.MaxRetries,
		BackoffBase:    cfg.Fetch.BackoffBase,
		BackoffMax:     cfg.Fetch.BackoffMax,
		AttemptTimeout: cfg.Fetch.AttemptTimeout,
		ChainTimeout:   cfg.Fetch.ChainTimeout,
		Workers:        cfg.Fetch.Workers,
	})

	a := &App{
		Cfg:      cfg,
		Registry: registry,
		Client:   client,
		Repo:     repo,
		Syncer:   syncSvc,
		Queries:  query.NewService(query.Deps{Registry: registry, Engine: engine, Logger: logger.With("component", "query")}),
		logger:   logger,
	}
	if cfg.SyncSchedule != "" {
		a.Scheduler = syncer.NewScheduler(syncSvc, cfg.SyncSchedule, logger.With("component", "scheduler"))
	}
	return a, nil
}

// newSnapshotRepo returns the local snapshot file, mirrored to object storage
// when SNAPSHOT_MIRROR_URL is set.
func newSnapshotRepo(cfg *config.Config, logger *slog.Logger) (domain.SnapshotRepository, error) {
	local := repository.NewSnapshotRepo(cfg.SnapshotPath)
	if cfg.Mirror.URL == "" {
		return local, nil
	}
	m := cfg.Mirror
	obj, err := objectstore.Open(context.Background(), m.URL, objectstore.Credentials{
		S3Endpoint:      m.S3Endpoint,
		S3Region:        m.S3Region,
		S3KeyID:         m.S3KeyID,
		S3Secret:        m.S3Secret,
		S3PathStyle:     m.S3PathStyle,
		GCSKeyFile:      m.GCSKeyFile,
		AzureAccount:    m.AzureAccount,
		AzureAccountKey: m.AzureAccountKey,
	})
	if err != nil {
		return nil, fmt.Errorf("open snapshot mirror: %w", err)
	}
	return repository.NewMirroredSnapshotRepo(local, obj, logger.With("component", "mirror")), nil
}

// Bootstrap installs metadata: a fresh sync when SyncOnStart is set,
// otherwise the persisted snapshot, syncing only when none exists.
func (a *App) Bootstrap(ctx context.Context) (*syncer.Result, error) {
	if a.Cfg.SyncOnStart {
		return a.Syncer.Sync(ctx)
	}
	return a.Syncer.LoadOrSync(ctx)
}

// Start bootstraps metadata and starts the refresh scheduler, if any.
func (a *App) Start(ctx context.Context) error {
	if _, err := a.Bootstrap(ctx); err != nil {
		return err
	}
	if a.Scheduler != nil {
		if err := a.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start sync scheduler: %w", err)
		}
	}
	return nil
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	h := api.NewHandler(a.Queries, a.Syncer, a.Registry, a.logger.With("component", "api"))
	return api.NewRouter(h, api.RouterOptions{
		Logger:         a.logger.With("component", "http"),
		TrustProxy:     a.Cfg.TrustProxy,
		AllowedOrigins: a.Cfg.CORSAllowedOrigins,
		UI:             ui.NewHandler(a.Registry, a.Queries, a.Syncer).Routes(),
		QueryLimiter: middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: a.Cfg.RateLimitRPS,
			Burst:             a.Cfg.RateLimitBurst,
		}),
	})
}

// Serve answers HTTP on ln until ctx is done, then shuts down gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		a.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info("http api listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	<-done
	return nil
}

// Close stops background work.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
}
