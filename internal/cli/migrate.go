package cli

import (
	"github.com/rongwang/guild-ledger/internal/config"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if err := config.RunMigrations(cfg.Database.GetDSN()); err != nil {
			return err
		}
		logger.Info("migrations applied", "database", cfg.Database.DBName)
		return nil
	},
}
