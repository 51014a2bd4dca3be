package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/transferwave/identity-core/internal/config"
	"github.com/transferwave/identity-core/internal/repository"
	"github.com/transferwave/identity-core/internal/security"
	"github.com/transferwave/identity-core/internal/service"
)

// cleanup runs the maintenance sweeps once and exits, for cron-style
// deployments that do not want the in-process scheduler.
func newCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Revoke expired sessions and purge stale refresh tokens, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}

			sessions := service.NewSessionManager(
				repository.NewSessionRepository(db),
				security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTokenSecret),
				cfg.AccessTokenTTL,
			)
			tokens := service.NewRefreshTokenService(
				repository.NewRefreshTokenRepository(db),
				security.NewTokenHasher(cfg.TokenPepper),
				nil,
				cfg.NegativeCacheTTL,
				cfg.UsedTokenRetention,
			)

			revoked, err := sessions.RevokeExpired()
			if err != nil {
				return err
			}
			purged, err := tokens.Cleanup()
			if err != nil {
				return err
			}
			logger.Info("cleanup complete", "sessions_revoked", revoked, "tokens_purged", purged)
			return nil
		},
	}
}

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a hex-encoded vault key for VAULT_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := security.GenerateVaultKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
