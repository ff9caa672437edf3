package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/interaction-scorer/internal/app"
	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the distinct sources of stored interactions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd.Context(), func(core *app.Core) error {
			sources, err := core.Interactions.ListSources(cmd.Context())
			if err != nil {
				return err
			}
			if sources == nil {
				sources = []domain.SourceKey{}
			}
			return render(os.Stdout, sources, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "APPLICATION\tINTERFACE\tMETHOD")
				for _, s := range sources {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Application, s.Interface, s.Method)
				}
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
