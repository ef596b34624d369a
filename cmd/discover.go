package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hazmat-radar/internal/discovery"
	"github.com/sells-group/hazmat-radar/internal/history"
	"github.com/sells-group/hazmat-radar/internal/identity"
)

var (
	discoverMonths      monthFlags
	discoverConcurrency int
	discoverStrict      bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Derive first-seen dates for reports from the snapshot history",
	Long:  "Walks the git history of each monthly snapshot and appends every report number not yet in that month's discovery table, stamped with the commit that first contained it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if discoverConcurrency > 0 {
			cfg.Discovery.Concurrency = discoverConcurrency
		}
		if discoverStrict {
			cfg.Discovery.Policy = string(identity.PolicyStrict)
		}
		if err := cfg.Validate("discover"); err != nil {
			return err
		}
		policy, err := identity.ParsePolicy(cfg.Discovery.Policy)
		if err != nil {
			return err
		}

		reader, err := history.OpenGitReader(cfg.Repo.Path, cfg.Repo.Branch)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore(st)

		engine := discovery.NewEngine(reader, discovery.EngineOptions{
			Policy:   policy,
			IDColumn: cfg.Discovery.IDColumn,
		})
		runner := discovery.NewRunner(engine, st, st, discovery.RunnerOptions{
			SnapshotDir: cfg.Data.FetchedDir,
			OutputDir:   cfg.Data.DiscoveredDir,
		})

		results, err := runner.Run(ctx, discovery.RunOpts{
			Start:       discoverMonths.start(time.Now()),
			Count:       discoverMonths.count(cfg.Discovery.NumMonths),
			Forward:     discoverMonths.forward,
			Concurrency: cfg.Discovery.Concurrency,
		})
		if err != nil {
			return err
		}

		for _, r := range results {
			zap.L().Info("month discovered",
				zap.String("month", r.Month.String()),
				zap.Int("existing", r.Existing),
				zap.Int("total", r.Total),
				zap.Bool("written", r.Written),
			)
		}
		return nil
	},
}

func init() {
	discoverMonths.register(discoverCmd, "processing")
	discoverCmd.Flags().IntVar(&discoverConcurrency, "concurrency", 0, "months processed in parallel (default from config)")
	discoverCmd.Flags().BoolVar(&discoverStrict, "strict", false, "abort a month on an unparsable report number instead of skipping the row")
	rootCmd.AddCommand(discoverCmd)
}
