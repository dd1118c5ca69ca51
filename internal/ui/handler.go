// Package ui serves a read-only HTML browser over the active metadata
// snapshot.
package ui

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	gomponents "maragu.dev/gomponents"

	"statflow/internal/metadata"
	"statflow/internal/service/resolver"
	"statflow/internal/service/syncer"
)

// Resolver explains how an indicator code would be fetched.
// Implemented by query.Service.
type Resolver interface {
	Resolve(code string) (resolver.Plan, error)
}

// SyncStatus reports the most recent metadata sync.
// Implemented by syncer.Service.
type SyncStatus interface {
	LastResult() *syncer.Result
}

type Handler struct {
	Registry *metadata.Registry
	Resolver Resolver
	Sync     SyncStatus
}

func NewHandler(registry *metadata.Registry, res Resolver, sync SyncStatus) *Handler {
	return &Handler{Registry: registry, Resolver: res, Sync: sync}
}

// Routes returns the UI router. Mount it under /ui.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.Home)
	r.Get("/indicators", h.IndicatorsList)
	r.Get("/indicators/{code}", h.IndicatorsDetail)
	r.Get("/dataflows", h.DataflowsList)
	r.Get("/dataflows/{dataflowID}", h.DataflowsDetail)
	return r
}

func renderHTML(w http.ResponseWriter, status int, node gomponents.Node) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = node.Render(w)
}
