package cmd

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/scan"
)

func newScanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scan [sources...]",
		Short: "Run one scan and print its summary",
		Long: `Run the full pipeline once. With no arguments every enabled source runs;
otherwise only the named sources are collected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			app, err := bootstrap.New(ctx, options())
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer app.Close()

			summary, err := app.Scans.RunScan(ctx, args)
			if summary != nil {
				renderScanSummary(cmd.OutOrStdout(), summary)
			}
			return err
		},
	}
}

func renderScanSummary(w io.Writer, s *scan.Summary) {
	fmt.Fprintf(w, "Scan %s %s: %d opportunities found\n\n", s.ScanID, s.Status, s.OpportunitiesFound)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Source", "Status", "Items", "Duration", "Message"})
	names := make([]string, 0, len(s.Sources))
	for name := range s.Sources {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		r := s.Sources[name]
		t.AppendRow(table.Row{name, r.Status, r.Count, (time.Duration(r.DurationMS) * time.Millisecond).String(), r.Message})
	}
	t.Render()

	st := s.Stats
	stats := table.NewWriter()
	stats.SetOutputMirror(w)
	stats.SetStyle(table.StyleLight)
	stats.AppendHeader(table.Row{"Stage", "Count"})
	stats.AppendRows([]table.Row{
		{"Collected", st.Collected},
		{"Duplicates", st.Duplicates},
		{"Filtered", st.Filtered},
		{"Analyzed", st.AIAnalyzed},
		{"Rejected", st.AIRejected},
		{"Staged", st.PendingAdded},
		{"Matched to existing", st.MatchedToExisting},
		{"New opportunities", st.NewOpportunities},
		{"Expired", st.Expired},
		{"Pending remaining", st.PendingRemaining},
		{"Scored", st.Scored},
	})
	stats.Render()

	if s.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", s.Error)
	}
}
