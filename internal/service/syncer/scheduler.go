package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs Sync on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	svc      *Service
	logger   *slog.Logger
	mu       sync.Mutex
	schedule string
	ctx      context.Context
}

// NewScheduler creates a scheduler for the given cron spec. Standard five-field
// specs and descriptors such as "@every 6h" or "@daily" are accepted.
func NewScheduler(svc *Service, schedule string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		svc:      svc,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the schedule and starts the cron runner. Scheduled syncs
// run with ctx, so cancelling it aborts an in-progress scheduled refresh.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx = ctx
	if err := s.register(s.schedule); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("metadata sync scheduler started", "schedule", s.schedule)
	return nil
}

// Stop stops the cron runner and waits for a running sync to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("metadata sync scheduler stopped")
}

func (s *Scheduler) register(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := s.svc.Sync(ctx)
	if err != nil {
		s.logger.Warn("scheduled metadata sync failed", "error", err)
		return
	}
	s.logger.Info("scheduled metadata sync finished", "sync_id", res.Header.SyncID)
}
