// Package query runs a QuerySpec end to end: resolution against one pinned
// metadata snapshot, concurrent fetching, then transformation into the
// caller-facing ResultSet.
package query

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"statflow/internal/domain"
	"statflow/internal/metadata"
	"statflow/internal/service/fetch"
	"statflow/internal/service/resolver"
	"statflow/internal/service/transform"
)

// Deps holds the collaborators of Service.
type Deps struct {
	Registry *metadata.Registry
	Engine   *fetch.Engine
	Logger   *slog.Logger
}

// Service is the query facade.
type Service struct {
	registry *metadata.Registry
	engine   *fetch.Engine
	logger   *slog.Logger
}

// NewService creates a query service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{registry: deps.Registry, engine: deps.Engine, logger: logger}
}

// Resolve resolves one code against the active snapshot.
func (s *Service) Resolve(code string) (resolver.Plan, error) {
	return resolver.Resolve(s.registry.Current(), code)
}

// Run executes spec. The returned ResultSet is non-nil whenever the spec was
// valid. A NotFound result comes back with a nil error; an Error result also
// returns its *domain.RetrievalError.
func (s *Service) Run(ctx context.Context, spec domain.QuerySpec) (*domain.ResultSet, error) {
	spec = spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	// Everything below sees this snapshot even if a sync swaps it meanwhile.
	snap := s.registry.Current()
	started := time.Now()

	batch, err := resolver.ResolveBatch(snap, spec.Indicators, filterDimensions(spec.Disaggregations))
	if err != nil {
		return nil, err
	}

	var reqs []fetch.Request
	plans := make(map[string]resolver.Plan)
	for _, res := range batch.Resolutions {
		if res.Err != nil {
			continue
		}
		plans[res.Code] = res.Plan
		reqs = append(reqs, fetch.Request{
			Plan:      res.Plan,
			Countries: spec.Countries,
			Years:     spec.Years,
			Filters:   spec.Disaggregations,
		})
	}
	fetched := s.engine.FetchBatch(ctx, reqs)

	rs := &domain.ResultSet{
		SnapshotID: snap.Header().SyncID,
		Provenance: make(map[string]string),
	}
	var rows []domain.ObservationRow
	next := 0
	for _, res := range batch.Resolutions {
		if res.Err != nil {
			rs.Outcomes = append(rs.Outcomes, domain.IndicatorOutcome{
				Indicator: res.Code,
				Status:    domain.StatusNotFound,
				Err:       res.Err,
				Message:   res.Err.Error(),
			})
			continue
		}
		o := fetched[next]
		next++
		rs.Outcomes = append(rs.Outcomes, o)
		if o.Status == domain.StatusSuccess {
			rs.Provenance[o.Indicator] = o.Provenance
			rows = append(rows, o.Rows...)
		}
	}

	status, ferr := batchStatus(rs.Outcomes)
	rs.Status = status
	if status == domain.StatusSuccess {
		out, table, err := transform.Apply(rows, transform.Options{
			Years:           spec.Years,
			LatestOnly:      spec.LatestOnly,
			MostRecentN:     spec.MostRecentN,
			CircaYear:       spec.CircaYear,
			Disaggregations: spec.Disaggregations,
			TotalCodes:      batch.TotalCodes,
			Priority: func(indicator, dataflow string) int {
				return plans[indicator].Priority(dataflow)
			},
			Shape:          spec.Shape,
			Indicators:     spec.Indicators,
			DimensionOrder: batch.CommonDimensions,
		})
		if err != nil {
			return nil, err
		}
		rs.Rows, rs.Table = out, table
	}

	s.logger.Info("query finished",
		"indicators", len(spec.Indicators),
		"status", rs.Status.String(),
		"rows", len(rs.Rows),
		"snapshot", rs.SnapshotID,
		"duration", time.Since(started),
	)
	return rs, ferr
}

// batchStatus folds per-indicator outcomes: any success makes the batch a
// success, otherwise a retrieval failure makes it an error, otherwise it is
// not found.
func batchStatus(outcomes []domain.IndicatorOutcome) (domain.Status, error) {
	var retrieval error
	for _, o := range outcomes {
		switch o.Status {
		case domain.StatusSuccess:
			return domain.StatusSuccess, nil
		case domain.StatusError:
			var rerr *domain.RetrievalError
			if retrieval == nil && errors.As(o.Err, &rerr) {
				retrieval = rerr
			}
		}
	}
	if retrieval != nil {
		return domain.StatusError, retrieval
	}
	return domain.StatusNotFound, nil
}

func filterDimensions(filters map[string][]string) []string {
	out := make([]string, 0, len(filters))
	for dim := range filters {
		out = append(out, dim)
	}
	sort.Strings(out)
	return out
}
