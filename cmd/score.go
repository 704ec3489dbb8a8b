package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/scoring"
)

func newScoreCommand() *cobra.Command {
	var (
		id       string
		all      bool
		unscored bool
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score opportunities",
		Long:  `Score one opportunity (--id), every opportunity (--all) or only unscored ones (--unscored, the default).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			app, err := bootstrap.New(ctx, options())
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			switch {
			case id != "":
				result, scoreErr := app.Scoring.ScoreOpportunity(ctx, id)
				if scoreErr != nil {
					return scoreErr
				}
				renderScoreResult(out, id, result)
				return nil
			case all:
				summary, scoreErr := app.Scoring.RescoreAll(ctx)
				renderScoreSummary(out, summary)
				return scoreErr
			default:
				if limit <= 0 {
					limit = app.Config.Scan.ScoreBatchLimit
				}
				summary, scoreErr := app.Scoring.ScoreUnscored(ctx, limit)
				renderScoreSummary(out, summary)
				return scoreErr
			}
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "score a single opportunity")
	cmd.Flags().BoolVar(&all, "all", false, "rescore every opportunity")
	cmd.Flags().BoolVar(&unscored, "unscored", false, "score opportunities that were never scored")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum unscored opportunities to score (default score_batch_limit)")
	cmd.MarkFlagsMutuallyExclusive("id", "all", "unscored")

	return cmd
}

func renderScoreResult(w io.Writer, id string, r scoring.Result) {
	fmt.Fprintf(w, "Opportunity %s: score %d (validated: %t)\n", id, r.Score, r.IsValidated)
	fmt.Fprintf(w, "  demand %d, revenue %d, competition %d, complexity %d\n",
		r.Breakdown.Demand, r.Breakdown.Revenue, r.Breakdown.Competition, r.Breakdown.Complexity)
	fmt.Fprintf(w, "  %s\n", r.Recommendation)
}

func renderScoreSummary(w io.Writer, s scoring.Summary) {
	fmt.Fprintf(w, "Scored %d of %d opportunities, %d validated, average score %.2f\n",
		s.Rescored, s.Total, s.Validated, s.AvgScore)
}
