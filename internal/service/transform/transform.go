// Package transform turns raw observations into the caller-facing dataset:
// disaggregation defaults and filters, deduplication, year selection and
// reshaping.
package transform

import (
	"sort"

	"statflow/internal/domain"
)

// Options controls Apply.
type Options struct {
	Years       domain.YearFilter
	LatestOnly  bool
	MostRecentN int
	CircaYear   int // 0 disables

	// Disaggregations are explicit filters, dimension -> accepted codes.
	Disaggregations map[string][]string
	// TotalCodes maps a dimension to its aggregate code. An unfiltered
	// dimension keeps only its total when the total was observed.
	TotalCodes map[string]string

	// Priority ranks the dataflow a row came from for an indicator; lower
	// wins on duplicate keys. Nil ranks every row equally.
	Priority func(indicator, dataflow string) int

	Shape domain.OutputShape
	// Indicators orders the indicator columns of WideByIndicator.
	Indicators []string
	// DimensionOrder lists disaggregation columns that come first; any other
	// observed dimension follows in lexical order.
	DimensionOrder []string
}

// Apply runs the full pipeline and returns the surviving rows in canonical
// order together with the reshaped table.
func Apply(rows []domain.ObservationRow, opts Options) ([]domain.ObservationRow, *domain.Table, error) {
	rows = FilterDisaggregations(rows, opts.Disaggregations, opts.TotalCodes)
	rows = Dedupe(rows, opts.Priority)
	rows = FilterYears(rows, opts.Years)

	switch {
	case opts.LatestOnly:
		rows = MostRecent(rows, 1)
	case opts.MostRecentN > 0:
		rows = MostRecent(rows, opts.MostRecentN)
	case opts.CircaYear != 0:
		rows = Circa(rows, opts.CircaYear)
	}
	SortRows(rows)

	table, err := Reshape(rows, opts.Shape, Layout{Indicators: opts.Indicators, DimensionOrder: opts.DimensionOrder})
	if err != nil {
		return nil, nil, err
	}
	return rows, table, nil
}

// FilterDisaggregations applies explicit filters and total-code defaults.
// A filter on a dimension a row does not carry leaves that row alone. The
// total default is decided per indicator: only when some row of the
// indicator reports the total code does the dimension narrow to it.
func FilterDisaggregations(rows []domain.ObservationRow, filters map[string][]string, totals map[string]string) []domain.ObservationRow {
	accept := make(map[string]map[string]bool, len(filters))
	for dim, codes := range filters {
		set := make(map[string]bool, len(codes))
		for _, c := range codes {
			set[c] = true
		}
		accept[dim] = set
	}

	// indicator -> dimension -> total observed
	totalSeen := make(map[string]map[string]bool)
	for _, r := range rows {
		for dim, v := range r.Disaggregations {
			if _, filtered := accept[dim]; filtered {
				continue
			}
			if t, ok := totals[dim]; ok && t != "" && v == t {
				if totalSeen[r.Indicator] == nil {
					totalSeen[r.Indicator] = make(map[string]bool)
				}
				totalSeen[r.Indicator][dim] = true
			}
		}
	}

	out := make([]domain.ObservationRow, 0, len(rows))
	for _, r := range rows {
		keep := true
		for dim, v := range r.Disaggregations {
			if set, filtered := accept[dim]; filtered {
				if !set[v] {
					keep = false
					break
				}
				continue
			}
			if totalSeen[r.Indicator][dim] && v != totals[dim] {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, r)
		}
	}
	return out
}

// Dedupe collapses rows sharing a uniqueness key to one survivor: the row
// with the lowest priority, the earliest row on equal priority.
func Dedupe(rows []domain.ObservationRow, priority func(indicator, dataflow string) int) []domain.ObservationRow {
	ranked := append([]domain.ObservationRow(nil), rows...)
	if priority != nil {
		sort.SliceStable(ranked, func(i, j int) bool {
			return priority(ranked[i].Indicator, ranked[i].Dataflow) < priority(ranked[j].Indicator, ranked[j].Dataflow)
		})
	}

	seen := make(map[domain.RowKey]bool, len(ranked))
	out := make([]domain.ObservationRow, 0, len(ranked))
	for _, r := range ranked {
		k := r.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

// SortRows orders rows by indicator, reference area, disaggregation tuple
// and period.
func SortRows(rows []domain.ObservationRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Indicator != b.Indicator {
			return a.Indicator < b.Indicator
		}
		if a.RefArea != b.RefArea {
			return a.RefArea < b.RefArea
		}
		da, db := domain.DisaggregationTuple(a.Disaggregations), domain.DisaggregationTuple(b.Disaggregations)
		if da != db {
			return da < db
		}
		return a.Period < b.Period
	})
}
