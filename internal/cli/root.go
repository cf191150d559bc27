// Package cli holds the guild-ledger commands
package cli

import (
	"fmt"
	"os"

	"github.com/rongwang/guild-ledger/internal/config"
	"github.com/rongwang/guild-ledger/internal/utils"
	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "guild-ledger",
	Short: "Guild economy ledger and activity aggregation service",
	Long: `guild-ledger keeps per-member coin and diamond balances with a
complete transaction history, and turns voice and message activity into
durable totals, daily voice records and levels.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "TOML config file (overrides CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration and builds the logger
func loadConfig() (*config.Config, *utils.Logger, error) {
	if configFile != "" {
		if err := os.Setenv("CONFIG_FILE", configFile); err != nil {
			return nil, nil, err
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, utils.NewLogger(cfg.LogLevel), nil
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
