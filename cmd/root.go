package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/revenue-digest/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "revenue-digest",
	Short: "Daily amoCRM revenue digest for Telegram",
	Long:  "Fetches yesterday's won leads from amoCRM, totals revenue per responsible manager, and posts the summary to a Telegram chat.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
