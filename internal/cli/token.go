package cli

import (
	"time"

	"github.com/rongwang/guild-ledger/internal/service"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().Bool("admin", false, "Grant the admin role (balance adjustments)")
	tokenCmd.Flags().Duration("ttl", service.DefaultTokenTTL, "Token validity")
}

var tokenCmd = &cobra.Command{
	Use:   "token CALLER",
	Short: "Issue a bearer token for an API caller",
	Long: `Sign a bearer token with the configured JWT secret. CALLER names the
collaborator (for example the chat bot) and is logged with every admin call.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		admin, _ := cmd.Flags().GetBool("admin")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		issuer, err := service.NewTokenIssuer(cfg.Auth.JWTSecret, ttl)
		if err != nil {
			return err
		}

		role := service.RoleService
		if admin {
			role = service.RoleAdmin
		}
		token, expiresAt, err := issuer.Issue(args[0], role)
		if err != nil {
			return err
		}

		printf(cmd, "%s\n", token)
		cmd.PrintErrf("role %s, expires %s\n", role, expiresAt.UTC().Format(time.RFC3339))
		return nil
	},
}
