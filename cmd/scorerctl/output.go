package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
)

// render writes v as JSON or YAML, or calls table for the table format.
func render(w io.Writer, v any, table func(*tabwriter.Writer)) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// Go through JSON so YAML keys match the API field names.
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	}
}

func interactionTable(interactions []*domain.Interaction) func(*tabwriter.Writer) {
	return func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "CORRELATION ID\tSOURCE\tINVOKED AT\tSCORES\tLATEST")
		for _, i := range interactions {
			latest := "-"
			if s, ok := i.LatestScore(); ok {
				latest = fmt.Sprintf("%.2f (%s)", s.Value, s.Mode)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
				i.CorrelationID, i.Source(), i.InvokedAt.Format(time.RFC3339), len(i.Scores), latest)
		}
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
