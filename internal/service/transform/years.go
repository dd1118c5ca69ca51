package transform

import (
	"math"
	"sort"

	"statflow/internal/domain"
)

// groupKey identifies one (reference area, indicator) series.
type groupKey struct {
	area      string
	indicator string
}

// FilterYears keeps rows whose calendar year passes f.
func FilterYears(rows []domain.ObservationRow, f domain.YearFilter) []domain.ObservationRow {
	if f.Mode == domain.YearAll {
		return rows
	}
	out := make([]domain.ObservationRow, 0, len(rows))
	for _, r := range rows {
		if f.Contains(r.Year()) {
			out = append(out, r)
		}
	}
	return out
}

// periodsByGroup returns the distinct periods of each series.
func periodsByGroup(rows []domain.ObservationRow) map[groupKey][]float64 {
	seen := make(map[groupKey]map[float64]bool)
	for _, r := range rows {
		k := groupKey{r.RefArea, r.Indicator}
		if seen[k] == nil {
			seen[k] = make(map[float64]bool)
		}
		seen[k][r.Period] = true
	}
	out := make(map[groupKey][]float64, len(seen))
	for k, set := range seen {
		ps := make([]float64, 0, len(set))
		for p := range set {
			ps = append(ps, p)
		}
		sort.Float64s(ps)
		out[k] = ps
	}
	return out
}

func keepPeriods(rows []domain.ObservationRow, chosen map[groupKey]map[float64]bool) []domain.ObservationRow {
	out := make([]domain.ObservationRow, 0, len(rows))
	for _, r := range rows {
		if chosen[groupKey{r.RefArea, r.Indicator}][r.Period] {
			out = append(out, r)
		}
	}
	return out
}

// MostRecent keeps the n latest periods of each series. Every
// disaggregation row at a kept period survives.
func MostRecent(rows []domain.ObservationRow, n int) []domain.ObservationRow {
	chosen := make(map[groupKey]map[float64]bool)
	for k, ps := range periodsByGroup(rows) {
		set := make(map[float64]bool, n)
		for i := len(ps) - 1; i >= 0 && len(set) < n; i-- {
			set[ps[i]] = true
		}
		chosen[k] = set
	}
	return keepPeriods(rows, chosen)
}

// Circa keeps, per series, the period nearest to year. Equal distances
// prefer the earlier period.
func Circa(rows []domain.ObservationRow, year int) []domain.ObservationRow {
	target := float64(year)
	chosen := make(map[groupKey]map[float64]bool)
	for k, ps := range periodsByGroup(rows) {
		best, bestDist := ps[0], math.Abs(ps[0]-target)
		for _, p := range ps[1:] {
			if d := math.Abs(p - target); d < bestDist {
				best, bestDist = p, d
			}
		}
		chosen[k] = map[float64]bool{best: true}
	}
	return keepPeriods(rows, chosen)
}
