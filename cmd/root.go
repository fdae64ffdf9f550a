package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sertao-labs/sentinela/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sentinela",
	Short: "Remote-sensing change monitor for Brazilian municipalities",
	Long:  "Resolves municipal boundaries from IBGE, selects cloud-filtered satellite scenes, runs spectral change-detection lenses, and serves the results to the dashboard.",
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
