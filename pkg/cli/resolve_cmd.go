package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// resolution is the printable form of one code's plan.
type resolution struct {
	Code      string   `json:"code"`
	Tier      string   `json:"tier,omitempty"`
	Known     bool     `json:"known"`
	Primary   string   `json:"primary,omitempty"`
	Fallbacks []string `json:"fallbacks,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func newResolveCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve CODE...",
		Short: "Show the dataflow chain each indicator code resolves to",
		Long:  "Resolve indicator codes against the metadata snapshot without contacting the data endpoint. The command fails when any code cannot be resolved.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.newLoadedApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := make([]resolution, 0, len(args))
			failed := 0
			for _, code := range args {
				plan, err := a.Queries.Resolve(code)
				if err != nil {
					failed++
					out = append(out, resolution{Code: code, Error: err.Error()})
					continue
				}
				ids := plan.ChainIDs()
				out = append(out, resolution{
					Code:      plan.Code,
					Tier:      plan.Tier.String(),
					Known:     plan.Known,
					Primary:   ids[0],
					Fallbacks: ids[1:],
				})
			}
			if err := printResolutions(cmd.OutOrStdout(), s.output, out); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d codes could not be resolved", failed, len(args))
			}
			return nil
		},
	}
}

func printResolutions(w io.Writer, format string, list []resolution) error {
	format = effectiveFormat(format, w)
	if format == formatJSON {
		return PrintJSON(w, list)
	}
	rows := make([][]string, len(list))
	for i, r := range list {
		rows[i] = []string{r.Code, r.Tier, r.Primary, strings.Join(r.Fallbacks, ","), r.Error}
	}
	return printRows(w, format, []string{"CODE", "TIER", "PRIMARY", "FALLBACKS", "ERROR"}, rows)
}
