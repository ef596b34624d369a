package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hazmat-radar/internal/feed"
)

var (
	publishNumMonths      int
	publishDiscoveredDays int
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Render RSS feeds of recently discovered reports",
	Long:  "Writes one global feed and one feed per state from the reports discovered in the last --discovered-days days.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if publishNumMonths > 0 {
			cfg.Feed.NumMonths = publishNumMonths
		}
		if publishDiscoveredDays > 0 {
			cfg.Feed.DiscoveredDays = publishDiscoveredDays
		}
		if err := cfg.Validate("publish"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore(st)

		pub := feed.NewPublisher(feed.Options{
			Load: feed.LoadOptions{
				DiscoveredDir:  cfg.Data.DiscoveredDir,
				SnapshotDir:    cfg.Data.FetchedDir,
				NumMonths:      cfg.Feed.NumMonths,
				DiscoveredDays: cfg.Feed.DiscoveredDays,
				IDColumn:       cfg.Discovery.IDColumn,
			},
			OutputDir: cfg.Data.FeedsDir,
			BaseID:    cfg.Feed.BaseID,
			Link:      cfg.Feed.Link,
			Author:    cfg.Feed.Author,
			Regions:   cfg.Feed.Regions,
		}, st)

		res, err := pub.Publish(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("publish complete", zap.Int("entries", res.Entries), zap.Int("files", len(res.Files)))
		return nil
	},
}

func init() {
	publishCmd.Flags().IntVar(&publishNumMonths, "num-months", 0, "number of most recent months to read (default from config)")
	publishCmd.Flags().IntVar(&publishDiscoveredDays, "discovered-days", 0, "include reports discovered within this many days (default from config)")
	rootCmd.AddCommand(publishCmd)
}
