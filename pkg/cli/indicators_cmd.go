package cli

import (
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"statflow/internal/domain"
)

type indicatorFilter struct {
	search   string
	tier     string
	category string
}

func (f indicatorFilter) apply(all []domain.IndicatorMetadata) ([]domain.IndicatorMetadata, error) {
	var tier domain.Tier
	if f.tier != "" {
		t, err := domain.ParseTier(f.tier)
		if err != nil {
			return nil, err
		}
		tier = t
	}
	needle := strings.ToLower(f.search)

	out := []domain.IndicatorMetadata{}
	for _, m := range all {
		if tier != 0 && m.Tier != tier {
			continue
		}
		if f.category != "" && !strings.EqualFold(m.Category, f.category) {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(m.Code), needle) &&
			!strings.Contains(strings.ToLower(m.DisplayName), needle) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func newIndicatorsCmd(s *settings) *cobra.Command {
	var f indicatorFilter
	cmd := &cobra.Command{
		Use:   "indicators",
		Short: "List indicators in the metadata snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.newLoadedApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := f.apply(a.Registry.Current().Indicators())
			if err != nil {
				return err
			}
			return printIndicators(cmd.OutOrStdout(), s.output, list)
		},
	}
	cmd.Flags().StringVar(&f.search, "search", "", "Case-insensitive substring of code or name")
	cmd.Flags().StringVar(&f.tier, "tier", "", "Only this tier (verified, defined_no_data, legacy_undocumented, orphan)")
	cmd.Flags().StringVar(&f.category, "category", "", "Only this category")
	return cmd
}

func printIndicators(w io.Writer, format string, list []domain.IndicatorMetadata) error {
	format = effectiveFormat(format, w)
	if format == formatJSON {
		return PrintJSON(w, list)
	}
	rows := make([][]string, len(list))
	for i, m := range list {
		rows[i] = []string{m.Code, m.Tier.String(), m.DataflowHint, m.Category, m.DisplayName}
	}
	return printRows(w, format, []string{"CODE", "TIER", "DATAFLOW", "CATEGORY", "NAME"}, rows)
}
