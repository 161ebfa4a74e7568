package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"twmarket_backend/models"
	"twmarket_backend/scheduler"
	"twmarket_backend/services/archive"

	"github.com/spf13/cobra"
)

var (
	checkDomain  string
	checkStocks  []string
	checkDays    int
	checkAutoFix bool
)

var checkCMD = &cobra.Command{
	Use:   "check",
	Short: "Run an integrity check over recent trading days",
	Long: `Compare stored coverage against the trading calendar and report gaps.
With --fix, daily gaps are repaired from stored minute bars where possible
and the remainder is re-fetched from the vendor.

Exit status is 0 when no gaps remain, 1 when unresolved gaps exist.`,
	Run: func(cmd *cobra.Command, args []string) {
		db := bootstrap()
		jobScheduler := scheduler.NewScheduler(db)

		// End at yesterday: today has no data before the close and would
		// always count as a gap.
		end := models.DateOnly(time.Now()).AddDate(0, 0, -1)
		start := end.AddDate(0, 0, -checkDays)

		reports, err := jobScheduler.Checker().Check(context.Background(), checkDomain, checkStocks, start, end, checkAutoFix)
		if err != nil {
			log.Fatalf("Integrity check failed: %v", err)
		}
		if archive.GlobalArchive != nil {
			archive.GlobalArchive.ArchiveReports(reports)
		}

		var gaps, fixed int
		for _, r := range reports {
			gaps += r.GapCount
			fixed += r.FixedCount
			if r.GapCount > 0 {
				fmt.Printf("%s: %d gap(s), %d fixed\n", r.StockID, r.GapCount, r.FixedCount)
			}
		}
		fmt.Printf("Checked %d instrument(s): %d gap(s), %d auto-fixed\n", len(reports), gaps, fixed)

		if gaps > fixed {
			os.Exit(1)
		}
	},
}

func init() {
	checkCMD.Flags().StringVar(&checkDomain, "domain", models.DomainDailyPrice, "data domain to check")
	checkCMD.Flags().StringSliceVar(&checkStocks, "stocks", nil, "restrict to these stock IDs (default: all active)")
	checkCMD.Flags().IntVar(&checkDays, "days", 30, "number of calendar days to look back")
	checkCMD.Flags().BoolVar(&checkAutoFix, "fix", false, "attempt auto-repair of detected gaps")
}
