// Package syncer rebuilds the metadata snapshot from the warehouse's
// structure endpoint, persists it, and installs it as the active snapshot.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"statflow/internal/domain"
	"statflow/internal/metadata"
)

// Default codelist identifiers.
const (
	DefaultIndicatorCodelist = "CL_UNICEF_INDICATOR"
	DefaultCountryCodelist   = "CL_COUNTRY"
	DefaultRegionCodelist    = "CL_WORLD_REGIONS"
)

// Sync stages reported in *domain.SyncError.
const (
	StageDataflows    = "dataflows"
	StageStructure    = "structure"
	StageAvailability = "availability"
	StageCodelists    = "codelists"
	StageIndex        = "index"
	StagePersist      = "persist"
)

// Codelists names the codelists read during a sync.
type Codelists struct {
	Indicators string
	Countries  string
	Regions    string
}

// Deps holds dependencies for Service.
type Deps struct {
	Source    domain.StructureSource
	Repo      domain.SnapshotRepository
	Registry  *metadata.Registry
	Fallbacks *metadata.FallbackTable
	// TotalCodes maps a dimension id to its aggregate code, e.g. SEX -> _T.
	TotalCodes  map[string]string
	Codelists   Codelists
	Concurrency int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service is the metadata syncer. Sync is single-flight: concurrent callers
// share one refresh and its result.
type Service struct {
	source      domain.StructureSource
	repo        domain.SnapshotRepository
	registry    *metadata.Registry
	fallbacks   *metadata.FallbackTable
	totals      map[string]string
	codelists   Codelists
	concurrency int
	logger      *slog.Logger
	now         func() time.Time

	flight singleflight.Group
	mu     sync.Mutex
	last   *Result
}

// Result describes a completed sync.
type Result struct {
	Header   domain.SnapshotHeader `json:"header"`
	Duration time.Duration         `json:"duration"`
	// Loaded is true when LoadOrSync installed a persisted snapshot instead
	// of contacting the warehouse.
	Loaded bool `json:"loaded,omitempty"`
}

// NewService creates a syncer.
func NewService(deps Deps) *Service {
	cl := deps.Codelists
	if cl.Indicators == "" {
		cl.Indicators = DefaultIndicatorCodelist
	}
	if cl.Countries == "" {
		cl.Countries = DefaultCountryCodelist
	}
	if cl.Regions == "" {
		cl.Regions = DefaultRegionCodelist
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = 8
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		source:      deps.Source,
		repo:        deps.Repo,
		registry:    deps.Registry,
		fallbacks:   deps.Fallbacks,
		totals:      deps.TotalCodes,
		codelists:   cl,
		concurrency: deps.Concurrency,
		logger:      deps.Logger,
		now:         deps.Now,
	}
}

// LastResult returns the most recent successful sync or load, or nil.
func (s *Service) LastResult() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Sync fetches every structural document, builds and persists a new snapshot,
// then swaps it in. On any failure it returns a *domain.SyncError and leaves
// both the persisted and the active snapshot untouched.
func (s *Service) Sync(ctx context.Context) (*Result, error) {
	v, err, shared := s.flight.Do("sync", func() (any, error) {
		return s.sync(ctx)
	})
	if shared {
		s.logger.Debug("joined in-flight metadata sync")
	}
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (s *Service) sync(ctx context.Context) (*Result, error) {
	start := s.now()
	s.logger.Info("metadata sync started", "source", s.source.SourceID())

	c, err := s.fetchCatalog(ctx)
	if err != nil {
		s.logger.Warn("metadata sync failed", "error", err)
		return nil, err
	}
	c.Header = domain.SnapshotHeader{
		FormatVersion: domain.SnapshotFormatVersion,
		SyncID:        domain.NewID(),
		SyncedAt:      start.UTC(),
		Source:        s.source.SourceID(),
	}
	c.RecountHeader()

	snap, err := metadata.NewSnapshot(c, s.fallbacks)
	if err != nil {
		err = domain.ErrSync(StageIndex, err)
		s.logger.Warn("metadata sync failed", "error", err)
		return nil, err
	}
	if err := s.repo.Save(ctx, c); err != nil {
		err = domain.ErrSync(StagePersist, err)
		s.logger.Warn("metadata sync failed", "error", err)
		return nil, err
	}
	s.registry.Swap(snap)

	res := &Result{Header: c.Header, Duration: s.now().Sub(start)}
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()

	s.logger.Info("metadata sync finished",
		"sync_id", c.Header.SyncID,
		"indicators", c.Header.Counts[domain.CategoryIndicators],
		"dataflows", c.Header.Counts[domain.CategoryDataflows],
		"countries", c.Header.Counts[domain.CategoryCountries],
		"regions", c.Header.Counts[domain.CategoryRegions],
		"duration", res.Duration,
	)
	return res, nil
}

// LoadOrSync installs the persisted snapshot when one exists, and syncs
// otherwise. An unreadable snapshot file is treated as absent.
func (s *Service) LoadOrSync(ctx context.Context) (*Result, error) {
	c, err := s.repo.Load(ctx)
	switch {
	case err == nil:
		snap, idxErr := metadata.NewSnapshot(c, s.fallbacks)
		if idxErr == nil {
			s.registry.Swap(snap)
			res := &Result{Header: c.Header, Loaded: true}
			s.mu.Lock()
			s.last = res
			s.mu.Unlock()
			s.logger.Info("metadata snapshot loaded", "sync_id", c.Header.SyncID, "synced_at", c.Header.SyncedAt)
			return res, nil
		}
		s.logger.Warn("persisted snapshot rejected, resyncing", "error", idxErr)
	case domain.IsNotFound(err):
		s.logger.Info("no persisted metadata snapshot, syncing")
	default:
		s.logger.Warn("persisted snapshot unreadable, resyncing", "error", err)
	}
	return s.Sync(ctx)
}

// flowInfo is the per-dataflow structural data gathered during a sync.
type flowInfo struct {
	descriptor domain.DataflowDescriptor
	available  []string
}

func (s *Service) fetchCatalog(ctx context.Context) (*domain.Catalog, error) {
	flows, err := s.source.Dataflows(ctx)
	if err != nil {
		return nil, domain.ErrSync(StageDataflows, err)
	}
	if len(flows) == 0 {
		return nil, domain.ErrSync(StageDataflows, errors.New("warehouse returned no dataflows"))
	}

	infos := make([]flowInfo, len(flows))
	var indicators, countries, regions []domain.CodeEntry

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := range flows {
		flow := flows[i]
		g.Go(func() error {
			desc, err := s.source.DataStructure(gctx, flow)
			if err != nil {
				return domain.ErrSync(StageStructure, fmt.Errorf("%s: %w", flow.ID, err))
			}
			avail, err := s.source.AvailableIndicators(gctx, desc)
			if err != nil {
				return domain.ErrSync(StageAvailability, fmt.Errorf("%s: %w", flow.ID, err))
			}
			infos[i] = flowInfo{descriptor: s.applyTotals(desc), available: avail}
			return nil
		})
	}
	for id, dst := range map[string]*[]domain.CodeEntry{
		s.codelists.Indicators: &indicators,
		s.codelists.Countries:  &countries,
		s.codelists.Regions:    &regions,
	} {
		g.Go(func() error {
			codes, err := s.source.Codelist(gctx, id)
			if err != nil {
				return domain.ErrSync(StageCodelists, fmt.Errorf("%s: %w", id, err))
			}
			*dst = codes
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrSync(StageDataflows, err)
	}

	c := &domain.Catalog{
		Indicators: s.inferIndicators(indicators, infos),
		Countries:  countries,
		Regions:    regions,
	}
	for _, info := range infos {
		c.Dataflows = append(c.Dataflows, info.descriptor)
	}
	sort.Slice(c.Dataflows, func(i, j int) bool { return c.Dataflows[i].ID < c.Dataflows[j].ID })
	return c, nil
}

func (s *Service) applyTotals(d domain.DataflowDescriptor) domain.DataflowDescriptor {
	dims := make([]domain.Dimension, len(d.Dimensions))
	for i, dim := range d.Dimensions {
		if dim.TotalCode == "" {
			dim.TotalCode = s.totals[dim.ID]
		}
		dims[i] = dim
	}
	d.Dimensions = dims
	return d
}
