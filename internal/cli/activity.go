package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(pruneCmd)
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Run one voice and one message flush cycle",
	Long: `Move pending voice seconds and message counters from the ephemeral
store into the database once. Scopes that fail keep their counters for the
next cycle.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := withTimeout(cfg.Activity.ShutdownTimeout)
		defer cancel()

		voice, messages := a.flushEngines(nil)
		vr, err := voice.RunCycle(ctx)
		if err != nil {
			return err
		}
		printf(cmd, "voice: %s\n", describe(vr))

		mr, err := messages.RunCycle(ctx)
		if err != nil {
			return err
		}
		printf(cmd, "message: %s\n", describe(mr))
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete daily voice records older than the retention window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := withTimeout(cfg.Activity.ShutdownTimeout)
		defer cancel()

		removed, err := a.scheduler(nil).PruneOnce(ctx)
		if err != nil {
			return err
		}
		printf(cmd, "removed %d daily records older than %d days\n", removed, cfg.Activity.RetentionDays)
		return nil
	},
}
