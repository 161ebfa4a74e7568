package cmd

import (
	"context"
	"fmt"
	"log"

	"twmarket_backend/config"
	"twmarket_backend/services/futures"
	"twmarket_backend/services/ingest"
	"twmarket_backend/services/marketstore"
	"twmarket_backend/services/vendor"

	"github.com/spf13/cobra"
)

var stitchMethod string

var stitchCMD = &cobra.Command{
	Use:   "stitch [root]",
	Short: "Rebuild the back-adjusted continuous series for a futures root",
	Long: `Recompute the continuous contract series for a futures root (e.g. TXF)
from the stored per-contract bars and upsert the result. Useful after
changing the adjustment method or backfilling contract history.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root := args[0]
		db := bootstrap()

		method := config.AppConfig.StitchMethod
		if stitchMethod != "" {
			method = stitchMethod
		}

		store := marketstore.NewStore(db)
		client := vendor.NewClient(config.AppConfig.VendorBaseURL, config.AppConfig.VendorToken)
		stitcher := futures.NewStitcher(futures.Method(method))
		worker := ingest.NewFuturesWorker(store, client, stitcher)

		var summary ingest.Summary
		if err := worker.Restitch(context.Background(), root, &summary); err != nil {
			log.Fatalf("Restitch %s failed: %v", root, err)
		}
		fmt.Printf("Restitched %s (%s adjustment): %s\n", root, method, summary.String())
	},
}

func init() {
	stitchCMD.Flags().StringVar(&stitchMethod, "method", "", "adjustment method: difference or ratio (default: from config)")
}
