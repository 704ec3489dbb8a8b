package cmd

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/sources"
)

func newSourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List source adapters and validate their configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := bootstrap.LoadConfig(options())
			if err != nil {
				return err
			}
			log, err := bootstrap.NewLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			catalog := bootstrap.SetupCatalog(cfg, log)
			renderSources(cmd.OutOrStdout(), catalog.Infos(), cfg.Enabled)
			return nil
		},
	}
}

func renderSources(w io.Writer, infos []sources.Info, selected []string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Enabled", "Selected", "Config", "Rate Limit", "Timeout"})

	for _, info := range infos {
		state := "ok"
		switch {
		case info.Error != "":
			state = info.Error
		case !info.ConfigValid:
			state = "missing " + strings.Join(info.Missing, ", ")
		}
		isSelected := len(selected) == 0 || slices.Contains(selected, info.Name)
		t.AppendRow(table.Row{
			info.Name,
			info.Enabled,
			isSelected,
			state,
			fmt.Sprintf("%d/min", info.RateLimit),
			(time.Duration(info.TimeoutSecs * float64(time.Second))).String(),
		})
	}
	t.Render()
}
