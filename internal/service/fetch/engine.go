// Package fetch executes resolution plans against the data endpoint. Each
// indicator runs an independent state machine over its fallback chain:
//
//	Planned -> Attempting(dataflow i) -> Succeeded | NextAttempt | ExhaustedFailed
//
// Structural not-found moves to the next dataflow at once. Transient failures
// are retried with exponential backoff on the same dataflow first.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"statflow/internal/domain"
	"statflow/internal/service/resolver"
)

// Deps holds dependencies and tuning for Engine. Zero values take defaults.
type Deps struct {
	Source domain.DataSource
	Logger *slog.Logger

	MaxRetries     int           // retries of one dataflow after the first try (default 3, negative disables)
	BackoffBase    time.Duration // first retry delay (default 500ms)
	BackoffMax     time.Duration // cap on retry delay (default 8s)
	AttemptTimeout time.Duration // bound on one try, all pages included (default 60s)
	ChainTimeout   time.Duration // bound on a whole fallback chain (default 5m)
	Workers        int           // concurrent indicators in a batch (default 4)
	MaxPages       int           // guard against endless paging (default 1000)
}

// Engine runs fetch plans.
type Engine struct {
	source         domain.DataSource
	logger         *slog.Logger
	maxRetries     int
	backoffBase    time.Duration
	backoffMax     time.Duration
	attemptTimeout time.Duration
	chainTimeout   time.Duration
	workers        int
	maxPages       int
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an engine, applying defaults to unset fields.
func NewEngine(deps Deps) *Engine {
	e := &Engine{
		source:         deps.Source,
		logger:         deps.Logger,
		maxRetries:     deps.MaxRetries,
		backoffBase:    deps.BackoffBase,
		backoffMax:     deps.BackoffMax,
		attemptTimeout: deps.AttemptTimeout,
		chainTimeout:   deps.ChainTimeout,
		workers:        deps.Workers,
		maxPages:       deps.MaxPages,
		sleep:          sleepCtx,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.maxRetries < 0 {
		e.maxRetries = 0
	} else if e.maxRetries == 0 {
		e.maxRetries = 3
	}
	if e.backoffBase <= 0 {
		e.backoffBase = 500 * time.Millisecond
	}
	if e.backoffMax <= 0 {
		e.backoffMax = 8 * time.Second
	}
	if e.attemptTimeout <= 0 {
		e.attemptTimeout = 60 * time.Second
	}
	if e.chainTimeout <= 0 {
		e.chainTimeout = 5 * time.Minute
	}
	if e.workers <= 0 {
		e.workers = 4
	}
	if e.maxPages <= 0 {
		e.maxPages = 1000
	}
	return e
}

// Request is one indicator to fetch.
type Request struct {
	Plan      resolver.Plan
	Countries []string
	// Years is matched per row; the request sent to the warehouse only
	// carries its bounds.
	Years domain.YearFilter
	// Filters are disaggregation filters; each attempt keeps only the
	// dimensions its dataflow declares.
	Filters map[string][]string
}

// FetchBatch runs every request under a bounded worker pool and returns the
// outcomes in request order once all of them are terminal.
func (e *Engine) FetchBatch(ctx context.Context, reqs []Request) []domain.IndicatorOutcome {
	out := make([]domain.IndicatorOutcome, len(reqs))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := range reqs {
		g.Go(func() error {
			out[i] = e.Fetch(ctx, reqs[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Fetch walks the request's fallback chain until a dataflow serves at least
// one row. The outcome is Success with provenance, NotFound when every entry
// was definitively empty, or Error carrying a *domain.RetrievalError when the
// chain could not be completed.
func (e *Engine) Fetch(ctx context.Context, req Request) domain.IndicatorOutcome {
	code := req.Plan.Code
	logger := e.logger.With("indicator", code)
	outcome := domain.IndicatorOutcome{Indicator: code, Tier: req.Plan.Tier}

	chainCtx, cancel := context.WithTimeout(ctx, e.chainTimeout)
	defer cancel()

	chain := req.Plan.Chain()
	var lastErr error
	retrievalFailed := false

	for i, df := range chain {
		if err := chainCtx.Err(); err != nil {
			outcome.Attempts = append(outcome.Attempts, abandoned(chain[i:], err)...)
			lastErr, retrievalFailed = err, true
			break
		}

		att, rows, err := e.attempt(chainCtx, logger, req, df)
		outcome.Attempts = append(outcome.Attempts, att)

		switch att.Result {
		case domain.AttemptServed:
			outcome.Status = domain.StatusSuccess
			outcome.Provenance = df.ID
			outcome.Rows = rows
			logger.Info("indicator served", "dataflow", df.ID, "rows", len(rows), "attempts", len(outcome.Attempts))
			return outcome
		case domain.AttemptNotFound:
			retrievalFailed = false
			continue
		case domain.AttemptTransientExhausted, domain.AttemptFailed:
			lastErr = err
			retrievalFailed = i == len(chain)-1
			continue
		case domain.AttemptAbandoned:
			outcome.Attempts = append(outcome.Attempts, abandoned(chain[i+1:], err)...)
			lastErr, retrievalFailed = err, true
		}
		break
	}

	if retrievalFailed {
		rerr := &domain.RetrievalError{Indicator: code, Attempts: outcome.Attempts, Err: lastErr}
		outcome.Status = domain.StatusError
		outcome.Err = rerr
		outcome.Message = rerr.Error()
		logger.Warn("indicator retrieval failed", "error", rerr)
		return outcome
	}

	nf := domain.ErrNotFound("no dataflow in the chain for %s returned observations (tried %d)", code, len(outcome.Attempts))
	outcome.Status = domain.StatusNotFound
	outcome.Err = nf
	outcome.Message = nf.Error()
	logger.Info("indicator not found", "attempts", len(outcome.Attempts))
	return outcome
}

func abandoned(rest []domain.DataflowDescriptor, err error) []domain.Attempt {
	out := make([]domain.Attempt, 0, len(rest))
	for _, df := range rest {
		a := domain.Attempt{Dataflow: df.ID, Result: domain.AttemptAbandoned}
		if err != nil {
			a.Error = err.Error()
		}
		out = append(out, a)
	}
	return out
}

// attempt fetches every page from one dataflow, retrying transient failures.
func (e *Engine) attempt(ctx context.Context, logger *slog.Logger, req Request, df domain.DataflowDescriptor) (domain.Attempt, []domain.ObservationRow, error) {
	q, dropped := scopedQuery(req, df)
	if len(dropped) > 0 {
		logger.Debug("filters dropped for dataflow", "dataflow", df.ID, "dimensions", dropped)
	}

	att := domain.Attempt{Dataflow: df.ID}
	for {
		att.Tries++
		rows, pages, err := e.consumeAll(ctx, q)
		att.Pages = pages

		if err == nil {
			rows = postFilter(req, df.ID, rows)
			att.Rows = len(rows)
			if len(rows) == 0 {
				att.Result = domain.AttemptNotFound
				att.Error = "no matching observations"
				logger.Debug("attempt empty", "dataflow", df.ID, "pages", pages)
				return att, nil, domain.ErrNotFound("%s: no matching observations in %s", req.Plan.Code, df.ID)
			}
			att.Result = domain.AttemptServed
			att.Error = ""
			return att, rows, nil
		}

		att.Error = err.Error()
		switch {
		case domain.IsNotFound(err):
			att.Result = domain.AttemptNotFound
			logger.Debug("attempt not found", "dataflow", df.ID, "error", err)
			return att, nil, err
		case ctx.Err() != nil:
			att.Result = domain.AttemptAbandoned
			return att, nil, ctx.Err()
		case !domain.IsTransient(err):
			att.Result = domain.AttemptFailed
			logger.Warn("attempt failed", "dataflow", df.ID, "error", err)
			return att, nil, err
		case att.Tries > e.maxRetries:
			att.Result = domain.AttemptTransientExhausted
			logger.Warn("attempt retries exhausted", "dataflow", df.ID, "tries", att.Tries, "error", err)
			return att, nil, err
		}

		delay := e.backoff(att.Tries)
		logger.Info("attempt transient failure, retrying", "dataflow", df.ID, "try", att.Tries, "delay", delay, "error", err)
		if serr := e.sleep(ctx, delay); serr != nil {
			att.Result = domain.AttemptAbandoned
			att.Error = serr.Error()
			return att, nil, serr
		}
	}
}

// consumeAll reads every page of q under one attempt timeout. Any page
// failure fails the whole try; partial rows are discarded.
func (e *Engine) consumeAll(ctx context.Context, q domain.DataQuery) ([]domain.ObservationRow, int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	var rows []domain.ObservationRow
	page := domain.PageRange{}
	for pages := 1; ; pages++ {
		p, err := e.source.FetchPage(ctx, q, page)
		if err != nil {
			return nil, pages, err
		}
		rows = append(rows, p.Rows...)
		if p.Next == nil {
			return rows, pages, nil
		}
		if pages >= e.maxPages {
			return nil, pages, fmt.Errorf("%s: more than %d pages", q.Dataflow.ID, e.maxPages)
		}
		page = *p.Next
	}
}

func (e *Engine) backoff(try int) time.Duration {
	d := e.backoffBase
	for i := 1; i < try; i++ {
		d *= 2
		if d >= e.backoffMax {
			return e.backoffMax
		}
	}
	return min(d, e.backoffMax)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// scopedQuery builds the dataflow-scoped query, dropping filters on
// dimensions the dataflow does not declare.
func scopedQuery(req Request, df domain.DataflowDescriptor) (domain.DataQuery, []string) {
	q := domain.DataQuery{
		Dataflow:  df,
		Indicator: req.Plan.Code,
		Countries: req.Countries,
	}
	if from, to, ok := req.Years.Bounds(); ok {
		q.StartYear, q.EndYear = from, to
	}
	var dropped []string
	for dim, codes := range req.Filters {
		if !df.HasDimension(dim) {
			dropped = append(dropped, dim)
			continue
		}
		if q.Filters == nil {
			q.Filters = make(map[string][]string)
		}
		q.Filters[dim] = codes
	}
	return q, dropped
}

// postFilter drops rows the server returned outside the request, such as
// other indicators or areas when part of the key was ignored, or years a
// list filter skips inside its bounds. A dataflow is judged on what remains.
func postFilter(req Request, dataflow string, rows []domain.ObservationRow) []domain.ObservationRow {
	areas := make(map[string]bool, len(req.Countries))
	for _, c := range req.Countries {
		areas[c] = true
	}
	out := rows[:0:0]
	for _, r := range rows {
		if r.Indicator == "" {
			r.Indicator = req.Plan.Code
		}
		if r.Indicator != req.Plan.Code {
			continue
		}
		if len(areas) > 0 && !areas[r.RefArea] {
			continue
		}
		if !req.Years.Contains(r.Year()) {
			continue
		}
		r.Dataflow = dataflow
		out = append(out, r)
	}
	return out
}
