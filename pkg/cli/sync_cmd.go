package cli

import (
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"statflow/internal/service/syncer"
)

func newSyncCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Refresh the metadata snapshot from the warehouse",
		Long:  "Fetch dataflows, data structures, availability and codelists, then persist and install a new metadata snapshot. The existing snapshot is kept when any step fails.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Syncer.Sync(cmd.Context())
			if err != nil {
				return err
			}
			return printSyncResult(cmd.OutOrStdout(), s.output, res)
		},
	}
}

func newSnapshotCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Show the persisted metadata snapshot",
		Long:  "Load the persisted metadata snapshot and print its header. A sync runs first when no snapshot exists.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Syncer.LoadOrSync(cmd.Context())
			if err != nil {
				return err
			}
			return printSyncResult(cmd.OutOrStdout(), s.output, res)
		},
	}
}

func printSyncResult(w io.Writer, format string, res *syncer.Result) error {
	format = effectiveFormat(format, w)
	if format == formatJSON {
		return PrintJSON(w, res)
	}

	h := res.Header
	rows := [][]string{
		{"sync_id", h.SyncID},
		{"synced_at", h.SyncedAt.UTC().Format(time.RFC3339)},
		{"source", h.Source},
		{"format_version", strconv.Itoa(h.FormatVersion)},
		{"loaded_from_disk", strconv.FormatBool(res.Loaded)},
	}
	if !res.Loaded {
		rows = append(rows, []string{"duration", res.Duration.Round(time.Millisecond).String()})
	}
	categories := make([]string, 0, len(h.Counts))
	for c := range h.Counts {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, c := range categories {
		rows = append(rows, []string{c, strconv.Itoa(h.Counts[c])})
	}
	return printRows(w, format, []string{"FIELD", "VALUE"}, rows)
}
