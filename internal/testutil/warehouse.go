package testutil

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"statflow/internal/domain"
)

// FakeFlow is one dataflow served by FakeWarehouse.
type FakeFlow struct {
	Descriptor domain.DataflowDescriptor
	// Available lists the indicator codes reported by the availability endpoint.
	Available []string
	// Rows are the observations the data endpoint filters and serves.
	Rows []domain.ObservationRow
	// DataStatus, when set, is returned for every data request to this flow.
	DataStatus int
}

// FakeWarehouse is an http.Handler speaking the subset of the SDMX REST API
// the sdmx client uses. Mount it with httptest.NewServer.
type FakeWarehouse struct {
	Agency     string
	Flows      []FakeFlow
	Codelists  map[string][]domain.CodeEntry
	FailStruct bool // answer every structure request with 500

	mu   sync.Mutex
	hits map[string]int
}

// Hits returns how many data requests targeted dataflow.
func (w *FakeWarehouse) Hits(dataflow string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hits[dataflow]
}

// TotalDataHits returns the number of data requests served.
func (w *FakeWarehouse) TotalDataHits() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, v := range w.hits {
		n += v
	}
	return n
}

func (w *FakeWarehouse) flow(id string) (FakeFlow, bool) {
	for _, f := range w.Flows {
		if f.Descriptor.ID == id {
			return f, true
		}
	}
	return FakeFlow{}, false
}

func (w *FakeWarehouse) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) == 0 {
		http.NotFound(rw, r)
		return
	}
	if parts[0] != "data" && w.FailStruct {
		http.Error(rw, "structure service down", http.StatusInternalServerError)
		return
	}

	switch {
	case parts[0] == "dataflow" && len(parts) == 4 && parts[2] == "all":
		w.serveDataflows(rw)
	case parts[0] == "dataflow" && len(parts) == 4:
		w.serveStructure(rw, r, parts[2])
	case parts[0] == "codelist" && len(parts) == 4:
		w.serveCodelist(rw, r, parts[2])
	case parts[0] == "availableconstraint" && len(parts) >= 2:
		w.serveAvailability(rw, r, parts[1])
	case parts[0] == "data" && len(parts) == 3:
		w.serveData(rw, r, parts[1], parts[2])
	default:
		http.NotFound(rw, r)
	}
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}

func (w *FakeWarehouse) serveDataflows(rw http.ResponseWriter) {
	flows := make([]map[string]string, 0, len(w.Flows))
	for _, f := range w.Flows {
		flows = append(flows, map[string]string{
			"id": f.Descriptor.ID, "agencyID": w.Agency, "version": f.Descriptor.Version, "name": f.Descriptor.Name,
		})
	}
	writeJSON(rw, map[string]any{"data": map[string]any{"dataflows": flows}})
}

func (w *FakeWarehouse) serveStructure(rw http.ResponseWriter, r *http.Request, id string) {
	f, ok := w.flow(id)
	if !ok {
		http.NotFound(rw, r)
		return
	}
	dims := make([]map[string]any, 0, len(f.Descriptor.Dimensions))
	for _, d := range f.Descriptor.Dimensions {
		dims = append(dims, map[string]any{"id": d.ID, "position": d.Position})
	}
	attrs := make([]map[string]any, 0, len(f.Descriptor.Attributes))
	for _, a := range f.Descriptor.Attributes {
		attrs = append(attrs, map[string]any{"id": a})
	}
	writeJSON(rw, map[string]any{"data": map[string]any{"dataStructures": []any{map[string]any{
		"id": "DSD_" + id,
		"dataStructureComponents": map[string]any{
			"dimensionList": map[string]any{"dimensions": dims},
			"attributeList": map[string]any{"attributes": attrs},
		},
	}}}})
}

func (w *FakeWarehouse) serveCodelist(rw http.ResponseWriter, r *http.Request, id string) {
	codes, ok := w.Codelists[id]
	if !ok {
		http.NotFound(rw, r)
		return
	}
	writeJSON(rw, map[string]any{"data": map[string]any{"codelists": []any{map[string]any{
		"id": id, "codes": codes,
	}}}})
}

func (w *FakeWarehouse) serveAvailability(rw http.ResponseWriter, r *http.Request, ref string) {
	refParts := strings.Split(ref, ",")
	if len(refParts) < 2 {
		http.NotFound(rw, r)
		return
	}
	f, ok := w.flow(refParts[1])
	if !ok || len(f.Available) == 0 {
		http.Error(rw, "NoRecordsFound", http.StatusNotFound)
		return
	}
	writeJSON(rw, map[string]any{"data": map[string]any{"contentConstraints": []any{map[string]any{
		"cubeRegions": []any{map[string]any{"keyValues": []any{
			map[string]any{"id": domain.DimIndicator, "values": f.Available},
		}}},
	}}}})
}

func (w *FakeWarehouse) serveData(rw http.ResponseWriter, r *http.Request, ref, key string) {
	refParts := strings.Split(ref, ",")
	if len(refParts) < 2 {
		http.NotFound(rw, r)
		return
	}
	id := refParts[1]
	w.mu.Lock()
	if w.hits == nil {
		w.hits = make(map[string]int)
	}
	w.hits[id]++
	w.mu.Unlock()

	f, ok := w.flow(id)
	if !ok {
		http.Error(rw, "NoRecordsFound", http.StatusNotFound)
		return
	}
	if f.DataStatus != 0 {
		rw.WriteHeader(f.DataStatus)
		return
	}

	start, _ := strconv.Atoi(r.URL.Query().Get("startPeriod"))
	end, _ := strconv.Atoi(r.URL.Query().Get("endPeriod"))
	slots := strings.Split(key, ".")

	var dims []string
	for _, d := range f.Descriptor.Dimensions {
		if d.ID != domain.DimTimePeriod {
			dims = append(dims, d.ID)
		}
	}

	var matched []domain.ObservationRow
	for _, row := range f.Rows {
		if start > 0 && row.Year() < start || end > 0 && row.Year() > end {
			continue
		}
		if keyMatches(row, dims, slots) {
			matched = append(matched, row)
		}
	}
	if len(matched) == 0 {
		http.Error(rw, "NoRecordsFound", http.StatusNotFound)
		return
	}
	writeCSV(rw, f.Descriptor, dims, matched)
}

func keyMatches(row domain.ObservationRow, dims, slots []string) bool {
	for i, dim := range dims {
		if i >= len(slots) || slots[i] == "" {
			continue
		}
		var v string
		switch dim {
		case domain.DimRefArea:
			v = row.RefArea
		case domain.DimIndicator:
			v = row.Indicator
		default:
			v = row.Disaggregations[dim]
		}
		if !contains(strings.Split(slots[i], "+"), v) {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func writeCSV(rw http.ResponseWriter, df domain.DataflowDescriptor, dims []string, rows []domain.ObservationRow) {
	attrs := append([]string(nil), df.Attributes...)
	sort.Strings(attrs)

	rw.Header().Set("Content-Type", "application/vnd.sdmx.data+csv")
	cw := csv.NewWriter(rw)
	header := append([]string{"DATAFLOW"}, dims...)
	header = append(header, domain.DimTimePeriod, "OBS_VALUE")
	header = append(header, attrs...)
	_ = cw.Write(header)

	for _, row := range rows {
		rec := []string{df.Ref()}
		for _, dim := range dims {
			switch dim {
			case domain.DimRefArea:
				rec = append(rec, row.RefArea)
			case domain.DimIndicator:
				rec = append(rec, row.Indicator)
			default:
				rec = append(rec, row.Disaggregations[dim])
			}
		}
		value := ""
		if row.Value != nil {
			value = strconv.FormatFloat(*row.Value, 'f', -1, 64)
		}
		rec = append(rec, row.TimePeriod, value)
		for _, a := range attrs {
			rec = append(rec, row.Attributes[a])
		}
		_ = cw.Write(rec)
	}
	cw.Flush()
}

// Obs builds an observation row for tests.
func Obs(dataflow, area, indicator string, year int, value float64, disagg map[string]string) domain.ObservationRow {
	v := value
	return domain.ObservationRow{
		Dataflow:        dataflow,
		RefArea:         area,
		Indicator:       indicator,
		TimePeriod:      strconv.Itoa(year),
		Period:          float64(year),
		Value:           &v,
		Disaggregations: disagg,
	}
}
