package ui

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"statflow/internal/domain"
)

func (h *Handler) Home(w http.ResponseWriter, _ *http.Request) {
	snap := h.Registry.Current()
	d := overviewData{Header: snap.Header()}
	if h.Sync != nil {
		if last := h.Sync.LastResult(); last != nil {
			loaded := last.Loaded
			d.Loaded = &loaded
			if !loaded {
				d.Duration = last.Duration.Round(time.Millisecond).String()
			}
		}
	}
	if fb := snap.Fallbacks(); fb != nil {
		for _, prefix := range fb.Prefixes() {
			seq, _ := fb.Sequence(prefix)
			d.Fallbacks = append(d.Fallbacks, fallbackRow{Prefix: prefix, Chain: seq.Dataflows()})
		}
	}
	renderHTML(w, http.StatusOK, overviewPage(d))
}

func (h *Handler) IndicatorsList(w http.ResponseWriter, r *http.Request) {
	snap := h.Registry.Current()
	tierParam := strings.TrimSpace(r.URL.Query().Get("tier"))
	var tier domain.Tier
	if tierParam != "" {
		t, err := domain.ParseTier(tierParam)
		if err != nil {
			renderHTML(w, http.StatusBadRequest, errorPage("Bad request", err.Error()))
			return
		}
		tier = t
	}

	var rows []indicatorRow
	for _, m := range snap.Indicators() {
		if tier != 0 && m.Tier != tier {
			continue
		}
		rows = append(rows, toIndicatorRow(m))
	}
	renderHTML(w, http.StatusOK, indicatorsListPage(snap.Header(), rows, tierParam))
}

func (h *Handler) IndicatorsDetail(w http.ResponseWriter, r *http.Request) {
	snap := h.Registry.Current()
	code := chi.URLParam(r, "code")

	d := indicatorDetail{Code: code}
	plan, err := h.Resolver.Resolve(code)
	switch {
	case err == nil:
		d.Meta, d.Known, d.Tier, d.Chain = plan.Metadata, plan.Known, plan.Tier, plan.Chain()
	case domain.IsNotFound(err):
		meta, lookupErr := snap.Lookup(code)
		d.Meta, d.Known, d.Tier = meta, lookupErr == nil, meta.Tier
		d.ErrorMsg = err.Error()
	default:
		renderHTML(w, http.StatusBadRequest, errorPage("Bad request", err.Error()))
		return
	}
	renderHTML(w, http.StatusOK, indicatorDetailPage(snap.Header(), d))
}

func (h *Handler) DataflowsList(w http.ResponseWriter, _ *http.Request) {
	snap := h.Registry.Current()
	flows := append([]domain.DataflowDescriptor(nil), snap.Catalog().Dataflows...)
	sort.Slice(flows, func(i, j int) bool { return flows[i].ID < flows[j].ID })

	counts := map[string]int{}
	for _, m := range snap.Indicators() {
		if m.DataflowHint != "" {
			counts[m.DataflowHint]++
		}
	}
	renderHTML(w, http.StatusOK, dataflowsListPage(snap.Header(), flows, counts))
}

func (h *Handler) DataflowsDetail(w http.ResponseWriter, r *http.Request) {
	snap := h.Registry.Current()
	id := chi.URLParam(r, "dataflowID")
	df, ok := snap.Dataflow(id)
	if !ok {
		renderHTML(w, http.StatusNotFound, errorPage("Not found", "Dataflow "+id+" is not in the active snapshot."))
		return
	}

	var rows []indicatorRow
	for _, m := range snap.Indicators() {
		if m.DataflowHint == df.ID {
			rows = append(rows, toIndicatorRow(m))
		}
	}
	renderHTML(w, http.StatusOK, dataflowDetailPage(snap.Header(), df, rows))
}

func toIndicatorRow(m domain.IndicatorMetadata) indicatorRow {
	return indicatorRow{
		Code:     m.Code,
		Name:     m.DisplayName,
		Category: m.Category,
		Dataflow: m.DataflowHint,
		Tier:     m.Tier,
		URL:      "/ui/indicators/" + url.PathEscape(m.Code),
		Filter:   m.Code + " " + m.DisplayName + " " + m.Category,
	}
}
