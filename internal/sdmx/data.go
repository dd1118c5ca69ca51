package sdmx

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"statflow/internal/domain"
)

const (
	colDataflow = "DATAFLOW"
	colObsValue = "OBS_VALUE"
)

// FetchPage requests one page of observations for q. The zero PageRange asks
// for the first page. A *domain.NotFoundError means the dataflow definitively
// has nothing for the key; every other error is classified by domain.IsTransient.
func (c *Client) FetchPage(ctx context.Context, q domain.DataQuery, page domain.PageRange) (*domain.DataPage, error) {
	if q.Dataflow.Agency == "" {
		q.Dataflow.Agency = c.cfg.Agency
	}
	query := url.Values{"format": {"csv"}, "labels": {"id"}}
	if q.StartYear > 0 {
		query.Set("startPeriod", strconv.Itoa(q.StartYear))
	}
	if q.EndYear > 0 {
		query.Set("endPeriod", strconv.Itoa(q.EndYear))
	}

	req := request{
		path:   fmt.Sprintf("data/%s/%s", q.Dataflow.Ref(), BuildKey(q)),
		query:  query,
		accept: dataMediaType,
	}
	if c.cfg.PageSize > 0 {
		if page.End == 0 {
			page = domain.PageRange{Start: page.Start, End: page.Start + c.cfg.PageSize - 1}
		}
		req.headers = map[string]string{"Range": fmt.Sprintf("values=%d-%d", page.Start, page.End)}
	}

	what := fmt.Sprintf("%s in %s", q.Indicator, q.Dataflow.ID)
	resp, err := c.doOnce(ctx, req)
	if nf := structuralNotFound(resp, err, what); nf != nil {
		return nil, nf
	}
	if err != nil {
		return nil, err
	}

	rows, skipped, err := parseCSV(resp.body, q.Dataflow.ID)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", what, err)
	}
	if len(skipped) > 0 {
		c.cfg.Logger.Warn("skipped observations with unreadable periods",
			"indicator", q.Indicator, "dataflow", q.Dataflow.ID, "count", len(skipped), "periods", skipped)
	}

	out := &domain.DataPage{Rows: rows}
	if resp.statusCode == http.StatusPartialContent {
		out.Next = nextPage(resp.headers.Get("Content-Range"))
	}
	return out, nil
}

// BuildKey renders the positional series key for q: one slot per declared
// dimension, codes joined with "+", empty slots as wildcards. A dataflow with
// no known dimensions gets the common REF_AREA.INDICATOR. layout.
func BuildKey(q domain.DataQuery) string {
	countries := strings.Join(q.Countries, "+")
	if len(q.Dataflow.Dimensions) == 0 {
		return countries + "." + q.Indicator + "."
	}

	parts := make([]string, 0, len(q.Dataflow.Dimensions))
	for _, dim := range q.Dataflow.Dimensions {
		switch dim.ID {
		case domain.DimTimePeriod:
			continue
		case domain.DimRefArea:
			parts = append(parts, countries)
		case domain.DimIndicator:
			parts = append(parts, q.Indicator)
		default:
			parts = append(parts, strings.Join(q.Filters[dim.ID], "+"))
		}
	}
	return strings.Join(parts, ".")
}

var contentRangeRe = regexp.MustCompile(`^\s*values\s+(\d+)-(\d+)/(\d+|\*)\s*$`)

// nextPage parses "values a-b/total" and returns the following range, or nil
// when b is the last value or the header is absent or unparseable.
func nextPage(header string) *domain.PageRange {
	m := contentRangeRe.FindStringSubmatch(header)
	if m == nil {
		return nil
	}
	start, _ := strconv.Atoi(m[1])
	end, _ := strconv.Atoi(m[2])
	if m[3] == "*" {
		return nil
	}
	total, _ := strconv.Atoi(m[3])
	if end+1 >= total || end < start {
		return nil
	}
	size := end - start + 1
	return &domain.PageRange{Start: end + 1, End: end + size}
}

// parseCSV decodes an SDMX-CSV body. Columns between DATAFLOW and TIME_PERIOD
// are dimensions; columns after OBS_VALUE are attributes. An empty body yields
// no rows. Rows whose TIME_PERIOD cannot be read are left out and their
// periods returned in skipped.
func parseCSV(body []byte, dataflow string) (rows []domain.ObservationRow, skipped []string, err error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil, nil
	}

	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	for i, h := range header {
		header[i] = columnID(h)
	}

	idx := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		return -1
	}
	timeCol, valueCol := idx(domain.DimTimePeriod), idx(colObsValue)
	if timeCol < 0 || valueCol < 0 {
		return nil, nil, fmt.Errorf("missing %s or %s column", domain.DimTimePeriod, colObsValue)
	}
	dimStart := idx(colDataflow) + 1

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read record: %w", err)
		}
		if len(rec) <= valueCol {
			continue
		}

		row := domain.ObservationRow{
			Dataflow:   dataflow,
			TimePeriod: rec[timeCol],
		}
		row.Period, err = ParsePeriod(rec[timeCol])
		if err != nil {
			skipped = append(skipped, rec[timeCol])
			continue
		}
		row.Value = parseValue(rec[valueCol])

		for i := dimStart; i < timeCol; i++ {
			switch header[i] {
			case domain.DimRefArea:
				row.RefArea = rec[i]
			case domain.DimIndicator:
				row.Indicator = rec[i]
			default:
				if row.Disaggregations == nil {
					row.Disaggregations = make(map[string]string)
				}
				row.Disaggregations[header[i]] = rec[i]
			}
		}
		for i := valueCol + 1; i < len(header) && i < len(rec); i++ {
			if rec[i] == "" {
				continue
			}
			if row.Attributes == nil {
				row.Attributes = make(map[string]string)
			}
			row.Attributes[header[i]] = rec[i]
		}
		rows = append(rows, row)
	}
	return rows, skipped, nil
}

// columnID strips the label half of a "ID: Label" header and any BOM.
func columnID(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	if id, _, ok := strings.Cut(h, ":"); ok {
		h = id
	}
	return strings.TrimSpace(h)
}

func parseValue(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "NaN") {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return nil
	}
	return &v
}

// ParsePeriod converts an SDMX TIME_PERIOD value to a fractional year whose
// integer part is always the calendar year:
//
//	2015        2015
//	2015-07     2015.5 (month)
//	2015-07-15  mid July
//	2015-Q3     2015.5 (also S1-S2, M01-M12, W01-W53, A1)
//	2015-2016   2015 (a span counts at its start year)
func ParsePeriod(s string) (float64, error) {
	s = strings.TrimSpace(s)
	yearPart, rest, hasRest := strings.Cut(s, "-")
	year, err := strconv.Atoi(yearPart)
	if err != nil || len(yearPart) != 4 {
		return 0, fmt.Errorf("invalid period %q", s)
	}
	if !hasRest {
		return float64(year), nil
	}

	frac, ok := periodFraction(rest)
	if !ok {
		return 0, fmt.Errorf("invalid period %q", s)
	}
	return float64(year) + frac, nil
}

// periodFraction reads the part after "YYYY-" as an offset into the year in [0, 1).
func periodFraction(rest string) (float64, bool) {
	if rest == "" {
		return 0, false
	}
	if c := rest[0]; c >= 'A' && c <= 'Z' {
		n, err := strconv.Atoi(rest[1:])
		if err != nil {
			return 0, false
		}
		per := map[byte]int{'A': 1, 'S': 2, 'T': 3, 'Q': 4, 'M': 12, 'W': 53}[c]
		if per == 0 || n < 1 || n > per {
			return 0, false
		}
		return float64(n-1) / float64(per), true
	}

	monthPart, dayPart, hasDay := strings.Cut(rest, "-")
	if !hasDay && len(monthPart) == 4 {
		if end, err := strconv.Atoi(monthPart); err == nil && end > 0 {
			return 0, true
		}
		return 0, false
	}
	month, err := strconv.Atoi(monthPart)
	if err != nil || month < 1 || month > 12 {
		return 0, false
	}
	frac := float64(month-1) / 12
	if hasDay {
		day, err := strconv.Atoi(dayPart)
		if err != nil || day < 1 || day > 31 {
			return 0, false
		}
		frac += float64(day-1) / (12 * 31)
	}
	return frac, true
}
