// Package api exposes the query, resolution and metadata operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"statflow/internal/domain"
	"statflow/internal/metadata"
	"statflow/internal/service/resolver"
	"statflow/internal/service/syncer"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// QueryRunner runs queries and single-code resolutions.
// Implemented by query.Service.
type QueryRunner interface {
	Run(ctx context.Context, spec domain.QuerySpec) (*domain.ResultSet, error)
	Resolve(code string) (resolver.Plan, error)
}

// Syncer refreshes metadata. Implemented by syncer.Service.
type Syncer interface {
	Sync(ctx context.Context) (*syncer.Result, error)
	LastResult() *syncer.Result
}

// Handler serves the HTTP API.
type Handler struct {
	queries  QueryRunner
	syncer   Syncer
	registry *metadata.Registry
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(queries QueryRunner, sync Syncer, registry *metadata.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{queries: queries, syncer: sync, registry: registry, logger: logger}
}

// Query handles POST /v1/query.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var spec domain.QuerySpec
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		writeError(w, domain.ErrValidation("invalid query body: %v", err))
		return
	}

	rs, err := h.queries.Run(r.Context(), spec)
	if rs == nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	switch rs.Status {
	case domain.StatusNotFound:
		status = http.StatusNotFound
	case domain.StatusError:
		status = httpStatusFromDomainError(err)
	}
	writeJSON(w, status, queryResponse{ResultSet: rs, Error: errMessage(err)})
}

type queryResponse struct {
	*domain.ResultSet
	Error string `json:"error,omitempty"`
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// planResponse is the JSON form of a resolved plan.
type planResponse struct {
	Code      string                    `json:"code"`
	Tier      domain.Tier               `json:"tier"`
	Known     bool                      `json:"known"`
	Primary   string                    `json:"primary"`
	Fallbacks []string                  `json:"fallbacks"`
	Metadata  *domain.IndicatorMetadata `json:"metadata,omitempty"`
}

func toPlanResponse(p resolver.Plan) planResponse {
	ids := p.ChainIDs()
	out := planResponse{
		Code:      p.Code,
		Tier:      p.Tier,
		Known:     p.Known,
		Primary:   ids[0],
		Fallbacks: ids[1:],
	}
	if p.Metadata.Code != "" {
		meta := p.Metadata
		out.Metadata = &meta
	}
	return out
}

// Resolve handles GET /v1/resolve/{code}.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	plan, err := h.queries.Resolve(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanResponse(plan))
}

// ListIndicators handles GET /v1/indicators?q=&tier=&category=.
func (h *Handler) ListIndicators(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	var tier domain.Tier
	if s := params.Get("tier"); s != "" {
		t, err := domain.ParseTier(s)
		if err != nil {
			writeError(w, domain.ErrValidation("%v", err))
			return
		}
		tier = t
	}
	needle := strings.ToLower(params.Get("q"))
	category := params.Get("category")

	out := []domain.IndicatorMetadata{}
	for _, m := range h.registry.Current().Indicators() {
		if tier != 0 && m.Tier != tier {
			continue
		}
		if category != "" && !strings.EqualFold(m.Category, category) {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(m.Code), needle) &&
			!strings.Contains(strings.ToLower(m.DisplayName), needle) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	writeJSON(w, http.StatusOK, map[string]any{"indicators": out, "count": len(out)})
}

// Sync handles POST /v1/sync.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	res, err := h.syncer.Sync(r.Context())
	if err != nil {
		var syncErr *domain.SyncError
		if !errors.As(err, &syncErr) {
			err = domain.ErrSync("unknown", err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Snapshot handles GET /v1/snapshot.
func (h *Handler) Snapshot(w http.ResponseWriter, _ *http.Request) {
	header := h.registry.Current().Header()
	if header.SyncID == "" {
		writeError(w, domain.ErrNotFound("no metadata snapshot is loaded"))
		return
	}
	body := map[string]any{"header": header}
	if last := h.syncer.LastResult(); last != nil {
		body["loaded_from_disk"] = last.Loaded
	}
	writeJSON(w, http.StatusOK, body)
}

// Health handles GET /healthz. The service is healthy once a snapshot is
// active.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	header := h.registry.Current().Header()
	if header.SyncID == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no_snapshot"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "snapshot": header.SyncID})
}
