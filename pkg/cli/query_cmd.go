package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"statflow/internal/domain"
	"statflow/internal/export"
)

// shapeFlag parses --shape when flags are parsed.
type shapeFlag struct{ shape domain.OutputShape }

var _ pflag.Value = (*shapeFlag)(nil)

func (f *shapeFlag) String() string { return f.shape.String() }
func (f *shapeFlag) Type() string   { return "shape" }

func (f *shapeFlag) Set(s string) error {
	shape, err := domain.ParseOutputShape(s)
	if err != nil {
		return err
	}
	f.shape = shape
	return nil
}

type queryFlags struct {
	indicators []string
	countries  []string
	years      string
	shape      shapeFlag
	latest     bool
	mrv        int
	circa      int
	filters    []string
	exportPath string
}

// spec converts the flags into a query; positional args are extra indicator codes.
func (f queryFlags) spec(args []string) (domain.QuerySpec, error) {
	years, err := domain.ParseYearFilter(f.years)
	if err != nil {
		return domain.QuerySpec{}, err
	}
	filters, err := parseFilters(f.filters)
	if err != nil {
		return domain.QuerySpec{}, err
	}
	return domain.QuerySpec{
		Indicators:      append(append([]string(nil), f.indicators...), args...),
		Countries:       f.countries,
		Years:           years,
		Disaggregations: filters,
		Shape:           f.shape.shape,
		LatestOnly:      f.latest,
		MostRecentN:     f.mrv,
		CircaYear:       f.circa,
	}, nil
}

// parseFilters parses repeated "DIM=code" flags. Codes may be joined with
// "+" or ","; repeating a dimension adds codes.
func parseFilters(raw []string) (map[string][]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string][]string)
	for _, item := range raw {
		dim, codes, ok := strings.Cut(item, "=")
		dim = strings.ToUpper(strings.TrimSpace(dim))
		if !ok || dim == "" || strings.TrimSpace(codes) == "" {
			return nil, domain.ErrValidation("malformed filter %q, want DIM=code", item)
		}
		for _, c := range strings.FieldsFunc(codes, func(r rune) bool { return r == '+' || r == ',' }) {
			if c = strings.TrimSpace(c); c != "" {
				out[dim] = append(out[dim], c)
			}
		}
	}
	return out, nil
}

func newQueryCmd(s *settings) *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "query [CODE...]",
		Short: "Fetch observations for one or more indicators",
		Long: `Resolve each indicator to its dataflow chain, fetch observations with fallback,
then filter, select and reshape them.

Examples:
  statflow query CME_MRY0T4 --country USA,BRA --year 2015:2020
  statflow query -i CME_MRY0T4 -i NT_ANT_HAZ_NE2 --latest --shape wide_indicators
  statflow query CME_MRY0T4 --filter SEX=F+M --circa 2015 -o json
  statflow query CME_MRY0T4 --shape wide --export u5mr.parquet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := f.spec(args)
			if err != nil {
				return err
			}
			// Reject a bad spec before touching metadata.
			if err := spec.Normalize().Validate(); err != nil {
				return err
			}
			if f.exportPath != "" {
				if _, err := export.FormatForPath(f.exportPath); err != nil {
					return err
				}
			}

			a, err := s.newLoadedApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rs, runErr := a.Queries.Run(cmd.Context(), spec)
			if rs == nil {
				return runErr
			}
			if err := printResultSet(cmd.OutOrStdout(), cmd.ErrOrStderr(), s.output, rs, runErr); err != nil {
				return err
			}
			if f.exportPath != "" && rs.Table != nil {
				n, err := export.WriteFile(cmd.Context(), rs.Table, f.exportPath)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "exported %d rows to %s\n", n, f.exportPath)
			}
			if runErr != nil {
				return runErr
			}
			if rs.Status == domain.StatusNotFound {
				return errors.New("no observations found")
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringSliceVarP(&f.indicators, "indicator", "i", nil, "Indicator code (repeatable or comma-separated)")
	fl.StringSliceVarP(&f.countries, "country", "c", nil, "ISO3 country or region code (repeatable or comma-separated); default all")
	fl.StringVarP(&f.years, "year", "y", "", `Years: "2020", "2015:2020" or "2015,2017,2019"; default all`)
	fl.Var(&f.shape, "shape", "Table shape (long, wide, wide_indicators)")
	fl.BoolVar(&f.latest, "latest", false, "Keep only the latest period per country and indicator")
	fl.IntVar(&f.mrv, "mrv", 0, "Keep the N most recent periods per country and indicator")
	fl.IntVar(&f.circa, "circa", 0, "Keep the period closest to this year per country and indicator")
	fl.StringArrayVarP(&f.filters, "filter", "f", nil, "Disaggregation filter DIM=code[+code] (repeatable)")
	fl.StringVar(&f.exportPath, "export", "", "Also write the table to FILE (.parquet, .csv, .json or .ndjson)")
	return cmd
}

// printResultSet writes the table (or the whole result for JSON) to w and a
// per-indicator summary to summary.
func printResultSet(w, summary io.Writer, format string, rs *domain.ResultSet, runErr error) error {
	format = effectiveFormat(format, w)
	if format == formatJSON {
		body := struct {
			*domain.ResultSet
			Error string `json:"error,omitempty"`
		}{ResultSet: rs}
		if runErr != nil {
			body.Error = runErr.Error()
		}
		return PrintJSON(w, body)
	}

	for _, o := range rs.Outcomes {
		line := fmt.Sprintf("%s: %s", o.Indicator, o.Status)
		if o.Provenance != "" {
			line += " from " + o.Provenance
		}
		if o.Message != "" {
			line += " (" + o.Message + ")"
		}
		_, _ = fmt.Fprintln(summary, line)
	}
	if rs.Table == nil {
		return nil
	}
	return printRows(w, format, rs.Table.Columns, stringRows(rs.Table.Rows))
}
