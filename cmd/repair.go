package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"twmarket_backend/config"
	"twmarket_backend/models"
	"twmarket_backend/services/ingest"
	"twmarket_backend/services/marketstore"
	"twmarket_backend/services/vendor"

	"github.com/spf13/cobra"
)

var (
	repairStart string
	repairEnd   string
)

var repairCMD = &cobra.Command{
	Use:   "repair [stock-id]",
	Short: "Re-fetch and rewrite daily bars inside the compressed region",
	Long: `Re-fetch daily bars for one stock over a date range and rewrite them in
place. When the range lies behind the compression boundary the covering
chunks are decompressed, updated and compressed again. Intended for
vendor restatements of old history; the scheduled pipeline never touches
compressed chunks.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		stockID := args[0]
		start, err := time.Parse("2006-01-02", repairStart)
		if err != nil {
			log.Fatalf("Invalid --start date %q: %v", repairStart, err)
		}
		end, err := time.Parse("2006-01-02", repairEnd)
		if err != nil {
			log.Fatalf("Invalid --end date %q: %v", repairEnd, err)
		}
		if end.Before(start) {
			log.Fatalf("--end %s is before --start %s", repairEnd, repairStart)
		}

		db := bootstrap()
		store := marketstore.NewStore(db)
		client := vendor.NewClient(config.AppConfig.VendorBaseURL, config.AppConfig.VendorToken)

		ctx := context.Background()
		records, err := client.FetchDailyPrices(ctx, stockID, start, end)
		if err != nil {
			log.Fatalf("Vendor fetch for %s failed: %v", stockID, err)
		}
		if len(records) == 0 {
			log.Fatalf("Vendor returned no data for %s in %s..%s", stockID, repairStart, repairEnd)
		}
		bars, err := ingest.NormalizeDailyPrices(records)
		if err != nil {
			log.Fatalf("Normalize failed for %s: %v", stockID, err)
		}

		var result marketstore.UpsertResult
		if !start.Before(models.HotBoundary(time.Now())) {
			log.Printf("Range %s..%s is inside the uncompressed region, applying plain upsert", repairStart, repairEnd)
			result, err = store.UpsertBars(ctx, bars)
		} else {
			result, err = store.RepairCompressedBars(ctx, start, end, bars)
		}
		if err != nil {
			log.Fatalf("Repair for %s failed: %v", stockID, err)
		}
		fmt.Printf("Repaired %s %s..%s: inserted=%d updated=%d rejected=%d\n",
			stockID, repairStart, repairEnd, result.Inserted, result.Updated, result.Rejected)
	},
}

func init() {
	repairCMD.Flags().StringVar(&repairStart, "start", "", "start date YYYY-MM-DD (required)")
	repairCMD.Flags().StringVar(&repairEnd, "end", "", "end date YYYY-MM-DD (required)")
	repairCMD.MarkFlagRequired("start")
	repairCMD.MarkFlagRequired("end")
}
