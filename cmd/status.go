package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/hazmat-radar/internal/model"
	"github.com/sells-group/hazmat-radar/internal/store"
)

// statusReport is what status prints.
type statusReport struct {
	Discoveries int         `json:"discoveries" yaml:"discoveries"`
	Runs        []model.Run `json:"runs" yaml:"runs"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent stage runs and the discovery index size",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("status"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore(st)

		output, _ := cmd.Flags().GetString("output")
		stage, _ := cmd.Flags().GetString("stage")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{Stage: model.Stage(stage), Limit: limit})
		if err != nil {
			return eris.Wrap(err, "status: list runs")
		}
		count, err := st.CountDiscoveries(ctx)
		if err != nil {
			return eris.Wrap(err, "status: count discoveries")
		}

		return writeStatus(os.Stdout, output, statusReport{Discoveries: count, Runs: runs})
	},
}

func init() {
	statusCmd.Flags().StringP("output", "o", "table", "output format (table, json, yaml)")
	statusCmd.Flags().String("stage", "", "filter by stage (fetch, discover, filter, publish)")
	statusCmd.Flags().Int("limit", 20, "max number of runs to display")
	rootCmd.AddCommand(statusCmd)
}

func writeStatus(out io.Writer, format string, r statusReport) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return eris.Wrap(err, "status: encode yaml")
		}
		return enc.Close()
	case "table", "":
		_, _ = fmt.Fprintf(out, "Indexed discoveries: %d\n\n", r.Discoveries)
		if len(r.Runs) == 0 {
			_, _ = fmt.Fprintln(out, "No runs found.")
			return nil
		}
		formatRunsList(out, r.Runs)
		return nil
	default:
		return eris.Errorf("status: unknown output format %q", format)
	}
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTAGE\tMONTH\tSTATUS\tSTARTED\tDURATION\tRECORDS\tERROR")
	_, _ = fmt.Fprintln(w, "--\t-----\t-----\t------\t-------\t--------\t-------\t-----")

	for _, r := range runs {
		dur := ""
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		month := r.Month
		if month == "" {
			month = "-"
		}
		errMsg := r.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			truncateID(r.ID),
			r.Stage,
			month,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			r.Records,
			errMsg,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
