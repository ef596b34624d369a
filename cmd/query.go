package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hazmat-radar/internal/fetcher"
	"github.com/sells-group/hazmat-radar/pkg/portal"
)

var (
	queryDateFrom string
	queryDateTo   string
	queryExpand   bool
	queryOutfile  string
	queryDebug    bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a single portal query and write the export",
	Long:  "Runs one dashboard query for an arbitrary date range. Output goes to --outfile, or stdout when it is not set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, err := cfg.Portal.Client()
		if err != nil {
			return err
		}
		if queryDebug && pc.DebugDir == "" {
			pc.DebugDir = "data/debug"
		}
		client, err := portal.New(pc)
		if err != nil {
			return eris.Wrap(err, "query: create portal client")
		}

		body, err := client.Fetch(cmd.Context(), portal.Query{
			DateFrom: queryDateFrom,
			DateTo:   queryDateTo,
			Expand:   queryExpand,
		})
		if errors.Is(err, portal.ErrNoRows) {
			zap.L().Info("the query resulted in no rows")
			return nil
		}
		if err != nil {
			return err
		}

		if queryOutfile == "" {
			_, err := os.Stdout.Write(body)
			return err
		}
		if err := fetcher.WriteBytesAtomic(queryOutfile, body); err != nil {
			return eris.Wrapf(err, "query: write %s", queryOutfile)
		}
		fmt.Fprintf(os.Stderr, "wrote %d bytes to %s\n", len(body), queryOutfile)
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryDateFrom, "date-from", "", "first day of the range (YYYY-MM-DD)")
	queryCmd.Flags().StringVar(&queryDateTo, "date-to", "", "last day of the range (YYYY-MM-DD)")
	queryCmd.Flags().BoolVar(&queryExpand, "expand", false, "fetch the full set of fields")
	queryCmd.Flags().StringVar(&queryOutfile, "outfile", "", "write the export to this file instead of stdout")
	queryCmd.Flags().BoolVar(&queryDebug, "debug", false, "keep a copy of every portal response")
	_ = queryCmd.MarkFlagRequired("date-from")
	_ = queryCmd.MarkFlagRequired("date-to")
	rootCmd.AddCommand(queryCmd)
}
