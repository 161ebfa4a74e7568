package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"twmarket_backend/models"
	"twmarket_backend/scheduler"

	"github.com/spf13/cobra"
)

var syncForce bool

var syncCMD = &cobra.Command{
	Use:   "sync [job-name]",
	Short: "Run a sync job once and exit",
	Long: `Run a named sync job once. The dedup guard still applies: a job that
already succeeded within its cooldown window is skipped unless --force is
given. With no argument, the available job names are listed.

Exit status is 0 on success or skip, 1 on failure.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db := bootstrap()
		jobScheduler := scheduler.NewScheduler(db)

		if len(args) == 0 {
			fmt.Println("Available jobs:")
			for _, name := range jobScheduler.JobNames() {
				fmt.Printf("  %s\n", name)
			}
			return
		}

		name := args[0]
		entry, err := jobScheduler.RunJob(context.Background(), name, syncForce)
		if err != nil {
			log.Fatalf("Job %s: %v", name, err)
		}

		switch entry.Status {
		case models.JobStatusSkipped:
			fmt.Printf("Job %s skipped: %s\n", name, entry.Summary)
		case models.JobStatusFailed:
			fmt.Printf("Job %s failed: %s\n", name, entry.ErrorDetail)
			os.Exit(1)
		default:
			fmt.Printf("Job %s finished: %s\n", name, entry.Summary)
		}
	},
}

func init() {
	syncCMD.Flags().BoolVar(&syncForce, "force", false, "bypass the dedup guard cooldown")
}
