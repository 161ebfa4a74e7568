package cmd

import (
	"log"
	"os"

	"twmarket_backend/config"
	"twmarket_backend/models"
	"twmarket_backend/services/archive"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var rootCMD = &cobra.Command{
	Use:   "twmarket",
	Short: "Taiwan market data sync and integrity service",
	Long: `A service that keeps a time-series store of Taiwan market data in sync
with the upstream vendor: daily and minute bars, institutional order flow,
option factors and futures settlements, with nightly gap detection and
auto-repair, and back-adjusted continuous futures series.`,
}

func Execute() {
	err := rootCMD.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCMD.AddCommand(serveCMD)
	rootCMD.AddCommand(syncCMD)
	rootCMD.AddCommand(checkCMD)
	rootCMD.AddCommand(stitchCMD)
	rootCMD.AddCommand(repairCMD)
	rootCMD.AddCommand(tokenCMD)
}

// bootstrap loads configuration, connects the database and runs migrations.
// Shared by every subcommand that touches the store.
func bootstrap() *gorm.DB {
	if _, err := config.LoadConfig(); err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	db, err := config.InitDB()
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}

	if err := models.MigrateMarketModels(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	if err := models.MigrateJobModels(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	if err := models.SetupHypertables(db); err != nil {
		log.Printf("Warning: hypertable setup skipped: %v", err)
	}

	if err := archive.InitArchive(); err != nil {
		log.Printf("MongoDB mirror not configured or failed to connect: %v", err)
	}

	return db
}
