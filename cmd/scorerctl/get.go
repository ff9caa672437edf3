package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/interaction-scorer/internal/app"
)

var getCmd = &cobra.Command{
	Use:   "get [correlation-id]",
	Short: "Show one interaction and its scores",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid correlation id %q: %w", args[0], err)
		}
		return withCore(cmd.Context(), func(core *app.Core) error {
			i, err := core.Interactions.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return render(os.Stdout, i, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "Correlation ID:\t%s\n", i.CorrelationID)
				fmt.Fprintf(tw, "Source:\t%s\n", i.Source())
				fmt.Fprintf(tw, "Invoked At:\t%s\n", i.InvokedAt.Format(time.RFC3339))
				fmt.Fprintf(tw, "System:\t%s\n", truncate(i.SystemMessage, 80))
				fmt.Fprintf(tw, "User:\t%s\n", truncate(i.UserMessage, 80))
				fmt.Fprintf(tw, "Result:\t%s\n", truncate(i.Result, 80))
				for _, s := range i.Scores {
					fmt.Fprintf(tw, "Score:\t%.2f\t%s\t%s\n", s.Value, s.Mode, s.ScoredAt.Format(time.RFC3339))
				}
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}
