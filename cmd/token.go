package cmd

import (
	"fmt"
	"log"
	"time"

	"twmarket_backend/config"
	"twmarket_backend/middleware"

	"github.com/spf13/cobra"
)

var tokenTTL time.Duration

var tokenCMD = &cobra.Command{
	Use:   "token [name]",
	Short: "Issue an operator token for the job control API",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := config.LoadConfig(); err != nil {
			log.Printf("Warning: Config load issue: %v", err)
		}

		token, err := middleware.IssueOperatorToken(args[0], tokenTTL)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
	},
}

func init() {
	tokenCMD.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
