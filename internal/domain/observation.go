package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ObservationRow is one normalized observation from the data endpoint.
type ObservationRow struct {
	Dataflow        string            `json:"dataflow"`
	RefArea         string            `json:"ref_area"`
	Indicator       string            `json:"indicator"`
	TimePeriod      string            `json:"time_period"`
	Period          float64           `json:"period"`
	Value           *float64          `json:"value"` // nil when the observation is missing
	Disaggregations map[string]string `json:"disaggregations,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// Year returns the calendar year of the observation period.
func (r ObservationRow) Year() int {
	return int(math.Floor(r.Period))
}

// RowKey is the uniqueness key of an observation: reference area, indicator,
// period and the full disaggregation tuple. The period is keyed by its
// encoding and its raw TIME_PERIOD, so an annual 2015 and a monthly 2015-01
// (both 2015.0) stay distinct.
type RowKey struct {
	RefArea    string
	Indicator  string
	Period     float64
	TimePeriod string
	Disagg     string
}

// Key returns the row's uniqueness key.
func (r ObservationRow) Key() RowKey {
	return RowKey{
		RefArea:    r.RefArea,
		Indicator:  r.Indicator,
		Period:     r.Period,
		TimePeriod: r.TimePeriod,
		Disagg:     DisaggregationTuple(r.Disaggregations),
	}
}

// DisaggregationTuple renders a disaggregation map as a canonical "DIM=code|DIM=code" string.
func DisaggregationTuple(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, "|")
}

// Status is the terminal outcome of a query or of one indicator within it.
type Status int

const (
	StatusSuccess Status = iota + 1
	StatusNotFound
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNotFound:
		return "not_found"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// AttemptResult is how one dataflow attempt in a fallback chain ended.
type AttemptResult int

const (
	// AttemptServed means the dataflow returned at least one matching row.
	AttemptServed AttemptResult = iota + 1
	// AttemptNotFound means a definitive structural not-found; never retried.
	AttemptNotFound
	// AttemptTransientExhausted means every retry of a transient failure failed.
	AttemptTransientExhausted
	// AttemptFailed means a non-retryable, non-structural failure (for example 403).
	AttemptFailed
	// AttemptAbandoned means the chain deadline or caller cancellation stopped the attempt.
	AttemptAbandoned
)

func (r AttemptResult) String() string {
	switch r {
	case AttemptServed:
		return "served"
	case AttemptNotFound:
		return "not_found"
	case AttemptTransientExhausted:
		return "transient_exhausted"
	case AttemptFailed:
		return "failed"
	case AttemptAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("attempt(%d)", int(r))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r AttemptResult) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Attempt records one dataflow tried for an indicator.
type Attempt struct {
	Dataflow string        `json:"dataflow"`
	Result   AttemptResult `json:"result"`
	Tries    int           `json:"tries"`
	Pages    int           `json:"pages"`
	Rows     int           `json:"rows"`
	Error    string        `json:"error,omitempty"`
}

// IndicatorOutcome is the terminal state of one indicator's fetch.
type IndicatorOutcome struct {
	Indicator  string           `json:"indicator"`
	Status     Status           `json:"status"`
	Tier       Tier             `json:"tier,omitempty"`
	Provenance string           `json:"provenance,omitempty"`
	Attempts   []Attempt        `json:"attempts"`
	Rows       []ObservationRow `json:"-"`
	Err        error            `json:"-"`
	Message    string           `json:"message,omitempty"`
}

// Table is a reshaped, column-ordered view of a result.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// ResultSet is the caller-facing result of a query.
type ResultSet struct {
	Status     Status             `json:"status"`
	SnapshotID string             `json:"snapshot_id,omitempty"`
	Rows       []ObservationRow   `json:"-"`
	Table      *Table             `json:"table,omitempty"`
	Provenance map[string]string  `json:"provenance,omitempty"` // indicator -> serving dataflow
	Outcomes   []IndicatorOutcome `json:"outcomes"`
}

// ProvenanceFor returns the dataflow that served code, or "" if none did.
func (r *ResultSet) ProvenanceFor(code string) string {
	if r == nil {
		return ""
	}
	return r.Provenance[code]
}
