package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hazmat-radar/internal/severity"
)

var filterExpensiveMin int64

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Write the serious and serious-and-expensive incident tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if filterExpensiveMin > 0 {
			cfg.Filter.ExpensiveMin = filterExpensiveMin
		}
		if err := cfg.Validate("filter"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore(st)

		res, err := severity.Run(ctx, severity.Options{
			InputDir:     cfg.Data.FetchedDir,
			OutputDir:    cfg.Data.FilteredDir,
			ExpensiveMin: cfg.Filter.ExpensiveMin,
			IDColumn:     cfg.Discovery.IDColumn,
		}, st)
		if err != nil {
			return err
		}

		zap.L().Info("filter complete",
			zap.Int("files", res.Files),
			zap.Int("rows", res.Rows),
			zap.Int("serious", res.Serious),
			zap.Int("expensive", res.Expensive),
		)
		return nil
	},
}

func init() {
	filterCmd.Flags().Int64Var(&filterExpensiveMin, "expensive-min", 0, "minimum total damages for the expensive table (default from config)")
	rootCmd.AddCommand(filterCmd)
}
