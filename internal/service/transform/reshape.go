package transform

import (
	"sort"
	"strconv"

	"statflow/internal/domain"
)

// Fixed column names of the reshaped table.
const (
	ColRefArea    = "REF_AREA"
	ColIndicator  = "INDICATOR"
	ColDataflow   = "DATAFLOW"
	ColTimePeriod = "TIME_PERIOD"
	ColValue      = "OBS_VALUE"
)

// Layout pins column order for Reshape.
type Layout struct {
	Indicators     []string
	DimensionOrder []string
}

// Reshape lays rows out in the requested shape. Context columns come first
// in one order for every shape: REF_AREA, INDICATOR, TIME_PERIOD, then the
// disaggregation dimensions. A shape leaves out the context column it pivots
// into value columns. A cell claimed by two rows is a validation error.
func Reshape(rows []domain.ObservationRow, shape domain.OutputShape, layout Layout) (*domain.Table, error) {
	dims := dimensionColumns(rows, layout.DimensionOrder)
	switch shape {
	case domain.ShapeLong:
		return long(rows, dims)
	case domain.ShapeWide:
		return wideByPeriod(rows, dims)
	case domain.ShapeWideByIndicator:
		return wideByIndicator(rows, dims, layout.Indicators)
	default:
		return nil, domain.ErrValidation("unknown output shape %s", shape)
	}
}

// dimensionColumns returns the pinned dimensions first, then every other
// observed dimension sorted.
func dimensionColumns(rows []domain.ObservationRow, pinned []string) []string {
	observed := map[string]bool{}
	for _, r := range rows {
		for dim := range r.Disaggregations {
			observed[dim] = true
		}
	}
	out := make([]string, 0, len(observed))
	for _, dim := range pinned {
		if observed[dim] {
			out = append(out, dim)
			delete(observed, dim)
		}
	}
	rest := make([]string, 0, len(observed))
	for dim := range observed {
		rest = append(rest, dim)
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func attributeColumns(rows []domain.ObservationRow) []string {
	seen := map[string]bool{}
	for _, r := range rows {
		for a := range r.Attributes {
			seen[a] = true
		}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func cellValue(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func periodLabel(r domain.ObservationRow) string {
	if r.TimePeriod != "" {
		return r.TimePeriod
	}
	return strconv.FormatFloat(r.Period, 'f', -1, 64)
}

// dimCells appends the row's code for each dimension column, "" when absent.
func dimCells(cells []any, r domain.ObservationRow, dims []string) []any {
	for _, d := range dims {
		cells = append(cells, r.Disaggregations[d])
	}
	return cells
}

func long(rows []domain.ObservationRow, dims []string) (*domain.Table, error) {
	attrs := attributeColumns(rows)
	cols := append([]string{ColRefArea, ColIndicator, ColTimePeriod}, dims...)
	cols = append(cols, ColDataflow, ColValue)
	cols = append(cols, attrs...)

	seen := make(map[domain.RowKey]bool, len(rows))
	t := &domain.Table{Columns: cols, Rows: make([][]any, 0, len(rows))}
	for _, r := range rows {
		k := r.Key()
		if seen[k] {
			return nil, domain.ErrValidation("duplicate observation for %s %s at %s", r.RefArea, r.Indicator, periodLabel(r))
		}
		seen[k] = true
		cells := make([]any, 0, len(cols))
		cells = append(cells, r.RefArea, r.Indicator, periodLabel(r))
		cells = dimCells(cells, r, dims)
		cells = append(cells, r.Dataflow, cellValue(r.Value))
		for _, a := range attrs {
			cells = append(cells, r.Attributes[a])
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, nil
}

// pivot collects cells keyed by a row key and a column label.
type pivot struct {
	order  []string
	heads  map[string][]any
	cells  map[string]map[string]any
	labels map[string]bool
}

func newPivot() *pivot {
	return &pivot{
		heads:  map[string][]any{},
		cells:  map[string]map[string]any{},
		labels: map[string]bool{},
	}
}

func (p *pivot) put(key string, head []any, label string, value any) bool {
	row, ok := p.cells[key]
	if !ok {
		row = map[string]any{}
		p.cells[key] = row
		p.heads[key] = head
		p.order = append(p.order, key)
	}
	if _, taken := row[label]; taken {
		return false
	}
	row[label] = value
	p.labels[label] = true
	return true
}

func (p *pivot) table(headCols, labels []string) *domain.Table {
	t := &domain.Table{
		Columns: append(append([]string(nil), headCols...), labels...),
		Rows:    make([][]any, 0, len(p.order)),
	}
	for _, key := range p.order {
		cells := append([]any(nil), p.heads[key]...)
		for _, l := range labels {
			cells = append(cells, p.cells[key][l])
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

func wideByPeriod(rows []domain.ObservationRow, dims []string) (*domain.Table, error) {
	p := newPivot()
	periods := map[string]float64{}
	for _, r := range rows {
		head := dimCells([]any{r.RefArea, r.Indicator}, r, dims)
		key := r.RefArea + "\x00" + r.Indicator + "\x00" + domain.DisaggregationTuple(r.Disaggregations)
		label := periodLabel(r)
		if !p.put(key, head, label, cellValue(r.Value)) {
			return nil, domain.ErrValidation("wide layout: %s %s has more than one value for %s", r.RefArea, r.Indicator, label)
		}
		periods[label] = r.Period
	}

	labels := make([]string, 0, len(periods))
	for l := range periods {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		if periods[labels[i]] != periods[labels[j]] {
			return periods[labels[i]] < periods[labels[j]]
		}
		return labels[i] < labels[j]
	})
	return p.table(append([]string{ColRefArea, ColIndicator}, dims...), labels), nil
}

func wideByIndicator(rows []domain.ObservationRow, dims, indicators []string) (*domain.Table, error) {
	p := newPivot()
	for _, r := range rows {
		label := periodLabel(r)
		head := dimCells([]any{r.RefArea, label}, r, dims)
		key := r.RefArea + "\x00" + label + "\x00" + domain.DisaggregationTuple(r.Disaggregations)
		if !p.put(key, head, r.Indicator, cellValue(r.Value)) {
			return nil, domain.ErrValidation("wide_indicators layout: %s %s has more than one value for %s", r.RefArea, label, r.Indicator)
		}
	}

	labels := make([]string, 0, len(p.labels))
	for _, code := range indicators {
		if p.labels[code] {
			labels = append(labels, code)
			delete(p.labels, code)
		}
	}
	rest := make([]string, 0, len(p.labels))
	for code := range p.labels {
		rest = append(rest, code)
	}
	sort.Strings(rest)
	labels = append(labels, rest...)
	return p.table(append([]string{ColRefArea, ColTimePeriod}, dims...), labels), nil
}
