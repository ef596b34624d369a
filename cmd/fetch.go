package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hazmat-radar/internal/snapshot"
	"github.com/sells-group/hazmat-radar/pkg/portal"
)

var (
	fetchMonths    monthFlags
	fetchOverwrite bool
	fetchExpand    bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download monthly incident exports from the PHMSA portal",
	Long:  "Downloads one CSV export per month into the fetched directory. Months already on disk are skipped unless --overwrite is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("fetch"); err != nil {
			return err
		}

		pc, err := cfg.Portal.Client()
		if err != nil {
			return err
		}
		client, err := portal.New(pc)
		if err != nil {
			return eris.Wrap(err, "fetch: create portal client")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore(st)

		archiver := snapshot.NewArchiver(client, st, cfg.Data.FetchedDir, time.Duration(cfg.Fetch.BetweenMonthsSecs)*time.Second)
		archiver.Retry = cfg.Fetch.Retry.Resilience()

		results, err := archiver.Run(ctx, snapshot.ArchiveOpts{
			Start:     fetchMonths.start(time.Now()),
			Count:     fetchMonths.count(cfg.Fetch.NumMonths),
			Forward:   fetchMonths.forward,
			Overwrite: fetchOverwrite,
			Expand:    fetchExpand,
		})
		if err != nil {
			return err
		}

		var fetched, skipped, empty int
		for _, r := range results {
			switch {
			case r.Skipped:
				skipped++
			case r.NoRows:
				empty++
			default:
				fetched++
			}
		}
		zap.L().Info("fetch complete",
			zap.Int("fetched", fetched),
			zap.Int("skipped", skipped),
			zap.Int("no_rows", empty),
		)
		return nil
	},
}

func init() {
	fetchMonths.register(fetchCmd, "fetching")
	fetchCmd.Flags().BoolVar(&fetchOverwrite, "overwrite", false, "refetch months that already exist on disk")
	fetchCmd.Flags().BoolVar(&fetchExpand, "expand", false, "fetch the full set of fields rather than the dashboard default")
	rootCmd.AddCommand(fetchCmd)
}
