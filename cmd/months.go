package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/hazmat-radar/internal/model"
)

// monthFlags are the --year/--month/--num-months/--forward flags shared by
// the per-month stages. Zero values fall back to the current month and the
// configured count.
type monthFlags struct {
	year      int
	month     int
	numMonths int
	forward   bool
}

func (f *monthFlags) register(cmd *cobra.Command, verb string) {
	cmd.Flags().IntVar(&f.year, "year", 0, "year of the month to start "+verb+" (default current year)")
	cmd.Flags().IntVar(&f.month, "month", 0, "month to start "+verb+" (default current month)")
	cmd.Flags().IntVar(&f.numMonths, "num-months", 0, "number of months to process (default from config)")
	cmd.Flags().BoolVar(&f.forward, "forward", false, "go num-months forward rather than backward")
}

func (f *monthFlags) start(now time.Time) model.Month {
	m := model.MonthOf(now)
	if f.year != 0 {
		m.Year = f.year
	}
	if f.month != 0 {
		m.Month = time.Month(f.month)
	}
	return m
}

func (f *monthFlags) count(fallback int) int {
	if f.numMonths > 0 {
		return f.numMonths
	}
	return fallback
}
