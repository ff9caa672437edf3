package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/interaction-scorer/internal/app"
	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
)

var (
	listFilter queryFlags
	listScored bool
	listSource string
)

// queryFlags are the interaction filter flags shared by list and score-all.
type queryFlags struct {
	application string
	iface       string
	method      string
	start       string
	end         string
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.application, "application", "", "filter by application")
	cmd.Flags().StringVar(&f.iface, "interface", "", "filter by interface")
	cmd.Flags().StringVar(&f.method, "method", "", "filter by method")
	cmd.Flags().StringVar(&f.start, "start", "", "earliest invocation time (RFC 3339, inclusive)")
	cmd.Flags().StringVar(&f.end, "end", "", "latest invocation time (RFC 3339, inclusive)")
}

func (f *queryFlags) query() (domain.InteractionQuery, error) {
	q := domain.InteractionQuery{
		Application: f.application,
		Interface:   f.iface,
		Method:      f.method,
	}
	for name, pair := range map[string]struct {
		raw string
		dst **time.Time
	}{"start": {f.start, &q.Start}, "end": {f.end, &q.End}} {
		if pair.raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, pair.raw)
		if err != nil {
			return q, fmt.Errorf("--%s must be RFC 3339: %w", name, err)
		}
		*pair.dst = &t
	}
	return q, q.Validate()
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored interactions",
	Long: `List stored interactions in invocation order. Filters combine with AND.
--scored lists only interactions with at least one score, and --source takes
a source key of the form application::interface::method.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := listFilter.query()
		if err != nil {
			return err
		}
		return withCore(cmd.Context(), func(core *app.Core) error {
			var (
				interactions []*domain.Interaction
				err          error
			)
			switch {
			case listSource != "":
				interactions, err = core.Interactions.FindBySource(cmd.Context(), listSource)
			case listScored:
				interactions, err = core.Interactions.FindScored(cmd.Context())
			default:
				interactions, err = core.Interactions.Find(cmd.Context(), q)
			}
			if err != nil {
				return err
			}
			if interactions == nil {
				interactions = []*domain.Interaction{}
			}
			return render(os.Stdout, interactions, interactionTable(interactions))
		})
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listFilter.register(listCmd)
	listCmd.Flags().BoolVar(&listScored, "scored", false, "only interactions with at least one score")
	listCmd.Flags().StringVar(&listSource, "source", "", "only interactions of application::interface::method")
	listCmd.MarkFlagsMutuallyExclusive("scored", "source")
}
