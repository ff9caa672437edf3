package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/interaction-scorer/internal/app"
)

var rescoreCmd = &cobra.Command{
	Use:   "rescore [correlation-id]",
	Short: "Evaluate an interaction against past samples of its source",
	Long: `Run a RESCORE evaluation of one stored interaction with the configured
strategy and append the resulting score. The per-sample report is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid correlation id %q: %w", args[0], err)
		}
		return withCore(cmd.Context(), func(core *app.Core) error {
			result, err := core.Interactions.Rescore(cmd.Context(), id)
			if err != nil {
				return err
			}
			return render(os.Stdout, result, func(tw *tabwriter.Writer) {
				r := result.Report
				fmt.Fprintf(tw, "Strategy:\t%s\n", r.Strategy)
				if r.Threshold > 0 {
					fmt.Fprintf(tw, "Threshold:\t%.0f\n", r.Threshold)
				}
				fmt.Fprintf(tw, "Score:\t%.2f\n", result.Score.Value)
				fmt.Fprintf(tw, "Passed:\t%t\n", r.Passed)
				fmt.Fprintln(tw)
				fmt.Fprintln(tw, "SAMPLE\tPASSED\tSCORE\tEXPECTED")
				for _, s := range r.Samples {
					fmt.Fprintf(tw, "%s\t%t\t%.2f\t%s\n", s.Name, s.Passed, s.Score, truncate(s.ExpectedOutput, 60))
				}
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(rescoreCmd)
}
