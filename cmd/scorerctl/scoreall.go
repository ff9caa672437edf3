package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/interaction-scorer/internal/app"
)

var scoreAllFilter queryFlags

var scoreAllCmd = &cobra.Command{
	Use:   "score-all",
	Short: "Score every matching interaction with the configured mode",
	Long: `Score every stored interaction matching the filters. Model calls are
paced by models.rate_limit and bounded by scoring.batch_concurrency.
Interactions that fail to score are reported and the run continues.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := scoreAllFilter.query()
		if err != nil {
			return err
		}
		return withCore(cmd.Context(), func(core *app.Core) error {
			summary, err := core.Interactions.ScoreAll(cmd.Context(), q)
			if err != nil {
				return err
			}
			if err := render(os.Stdout, summary, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "Total:\t%d\n", summary.Total)
				fmt.Fprintf(tw, "Scored:\t%d\n", summary.Scored)
				fmt.Fprintf(tw, "Failed:\t%d\n", len(summary.Failures))
				for _, f := range summary.Failures {
					fmt.Fprintf(tw, "  %s\t%s\n", f.CorrelationID, f.Error)
				}
			}); err != nil {
				return err
			}
			if len(summary.Failures) > 0 {
				return fmt.Errorf("%d of %d interactions failed to score", len(summary.Failures), summary.Total)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(scoreAllCmd)
	scoreAllFilter.register(scoreAllCmd)
}
