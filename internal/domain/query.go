package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// YearMode selects how a YearFilter matches periods.
type YearMode int

const (
	YearAll YearMode = iota
	YearSingle
	YearRange
	YearList
)

// YearFilter restricts observations by (integer) year.
type YearFilter struct {
	Mode  YearMode
	From  int   // Single uses From only
	To    int   // Range upper bound, inclusive
	Years []int // List members, sorted
}

// AllYears matches every period.
func AllYears() YearFilter { return YearFilter{Mode: YearAll} }

// SingleYear matches exactly one year.
func SingleYear(y int) YearFilter { return YearFilter{Mode: YearSingle, From: y, To: y} }

// YearRangeOf matches the inclusive interval [from, to].
func YearRangeOf(from, to int) YearFilter { return YearFilter{Mode: YearRange, From: from, To: to} }

// YearListOf matches an explicit set of years.
func YearListOf(years ...int) YearFilter {
	ys := append([]int(nil), years...)
	sort.Ints(ys)
	return YearFilter{Mode: YearList, Years: ys}
}

// ParseYearFilter parses "", "all", "2015", "2015:2020" or "2015,2017,2019".
func ParseYearFilter(s string) (YearFilter, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || strings.EqualFold(s, "all"):
		return AllYears(), nil
	case strings.Contains(s, ":"):
		lo, hi, _ := strings.Cut(s, ":")
		from, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return YearFilter{}, ErrValidation("invalid year range %q", s)
		}
		to, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return YearFilter{}, ErrValidation("invalid year range %q", s)
		}
		if from > to {
			return YearFilter{}, ErrValidation("year range %q is reversed", s)
		}
		return YearRangeOf(from, to), nil
	case strings.Contains(s, ","):
		var years []int
		for _, part := range strings.Split(s, ",") {
			y, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return YearFilter{}, ErrValidation("invalid year list %q", s)
			}
			years = append(years, y)
		}
		return YearListOf(years...), nil
	default:
		y, err := strconv.Atoi(s)
		if err != nil {
			return YearFilter{}, ErrValidation("invalid year %q", s)
		}
		return SingleYear(y), nil
	}
}

// Contains reports whether year passes the filter.
func (f YearFilter) Contains(year int) bool {
	switch f.Mode {
	case YearSingle:
		return year == f.From
	case YearRange:
		return year >= f.From && year <= f.To
	case YearList:
		i := sort.SearchInts(f.Years, year)
		return i < len(f.Years) && f.Years[i] == year
	default:
		return true
	}
}

// Bounds returns the smallest and largest year the filter can match.
// ok is false when the filter is unbounded.
func (f YearFilter) Bounds() (from, to int, ok bool) {
	switch f.Mode {
	case YearSingle, YearRange:
		return f.From, f.To, true
	case YearList:
		if len(f.Years) == 0 {
			return 0, 0, false
		}
		return f.Years[0], f.Years[len(f.Years)-1], true
	default:
		return 0, 0, false
	}
}

func (f YearFilter) String() string {
	switch f.Mode {
	case YearSingle:
		return strconv.Itoa(f.From)
	case YearRange:
		return fmt.Sprintf("%d:%d", f.From, f.To)
	case YearList:
		parts := make([]string, len(f.Years))
		for i, y := range f.Years {
			parts[i] = strconv.Itoa(y)
		}
		return strings.Join(parts, ",")
	default:
		return "all"
	}
}

// MarshalJSON encodes the filter in its string form.
func (f YearFilter) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON accepts the string form produced by MarshalJSON, or a bare year number.
func (f *YearFilter) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int
		if nerr := json.Unmarshal(b, &n); nerr != nil {
			return fmt.Errorf("year filter: %w", err)
		}
		s = strconv.Itoa(n)
	}
	parsed, err := ParseYearFilter(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// OutputShape selects the layout of the result table.
type OutputShape int

const (
	ShapeLong OutputShape = iota
	ShapeWide
	ShapeWideByIndicator
)

var shapeNames = map[OutputShape]string{
	ShapeLong:            "long",
	ShapeWide:            "wide",
	ShapeWideByIndicator: "wide_indicators",
}

func (s OutputShape) String() string {
	if n, ok := shapeNames[s]; ok {
		return n
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

// ParseOutputShape parses "long", "wide" or "wide_indicators". Empty means long.
func ParseOutputShape(s string) (OutputShape, error) {
	if s == "" {
		return ShapeLong, nil
	}
	for shape, name := range shapeNames {
		if strings.EqualFold(name, s) {
			return shape, nil
		}
	}
	return 0, ErrValidation("unknown output shape %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s OutputShape) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *OutputShape) UnmarshalText(b []byte) error {
	parsed, err := ParseOutputShape(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// QuerySpec is one caller request for observations.
type QuerySpec struct {
	Indicators      []string            `json:"indicators"`
	Countries       []string            `json:"countries,omitempty"`
	Years           YearFilter          `json:"years"`
	Disaggregations map[string][]string `json:"disaggregations,omitempty"`
	Shape           OutputShape         `json:"shape"`
	LatestOnly      bool                `json:"latest_only,omitempty"`
	MostRecentN     int                 `json:"most_recent_n,omitempty"`
	CircaYear       int                 `json:"circa_year,omitempty"` // 0 disables
}

// Normalize trims whitespace, upper-cases area codes and drops repeated
// indicators and countries. It returns a copy.
func (q QuerySpec) Normalize() QuerySpec {
	out := q
	out.Indicators = make([]string, 0, len(q.Indicators))
	for _, code := range q.Indicators {
		out.Indicators = append(out.Indicators, strings.TrimSpace(code))
	}
	out.Indicators = DedupeOrdered(out.Indicators)

	out.Countries = make([]string, 0, len(q.Countries))
	for _, c := range q.Countries {
		out.Countries = append(out.Countries, strings.ToUpper(strings.TrimSpace(c)))
	}
	out.Countries = DedupeOrdered(out.Countries)

	if len(q.Disaggregations) > 0 {
		out.Disaggregations = make(map[string][]string, len(q.Disaggregations))
		for dim, codes := range q.Disaggregations {
			dim = strings.ToUpper(strings.TrimSpace(dim))
			trimmed := make([]string, 0, len(codes))
			for _, c := range codes {
				trimmed = append(trimmed, strings.TrimSpace(c))
			}
			out.Disaggregations[dim] = DedupeOrdered(append(out.Disaggregations[dim], trimmed...))
		}
	}
	return out
}

// Validate checks the spec for internal consistency. It never consults metadata.
func (q QuerySpec) Validate() error {
	if len(q.Indicators) == 0 {
		return ErrValidation("at least one indicator code is required")
	}
	for _, code := range q.Indicators {
		if code == "" {
			return ErrValidation("indicator codes must not be blank")
		}
	}
	if q.MostRecentN < 0 {
		return ErrValidation("most_recent_n must not be negative")
	}
	selectors := 0
	if q.LatestOnly {
		selectors++
	}
	if q.MostRecentN > 0 {
		selectors++
	}
	if q.CircaYear != 0 {
		selectors++
	}
	if selectors > 1 {
		return ErrValidation("latest_only, most_recent_n and circa_year are mutually exclusive")
	}
	if q.Years.Mode == YearRange && q.Years.From > q.Years.To {
		return ErrValidation("year range %s is reversed", q.Years)
	}
	if _, ok := shapeNames[q.Shape]; !ok {
		return ErrValidation("unknown output shape %d", int(q.Shape))
	}
	for dim, codes := range q.Disaggregations {
		switch dim {
		case "":
			return ErrValidation("disaggregation dimension must not be blank")
		case DimRefArea, DimIndicator, DimTimePeriod:
			return ErrValidation("%s cannot be used as a disaggregation filter", dim)
		}
		if len(codes) == 0 {
			return ErrValidation("disaggregation filter %s has no codes", dim)
		}
	}
	return nil
}
