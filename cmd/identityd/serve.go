package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/transferwave/identity-core/internal/app"
	"github.com/transferwave/identity-core/internal/config"
	"github.com/transferwave/identity-core/internal/domain"
	"github.com/transferwave/identity-core/internal/health"
	"github.com/transferwave/identity-core/internal/http/handler"
	"github.com/transferwave/identity-core/internal/http/router"
	"github.com/transferwave/identity-core/internal/observability"
	"github.com/transferwave/identity-core/internal/repository"
	"github.com/transferwave/identity-core/internal/security"
	"github.com/transferwave/identity-core/internal/service"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the identity daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	runtime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger = slog.Default()

	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	sessionRepo := repository.NewSessionRepository(db)
	tokenRepo := repository.NewRefreshTokenRepository(db)
	methodRepo := repository.NewMfaMethodRepository(db)
	mfaRepo := repository.NewMfaSessionRepository(db)
	backupRepo := repository.NewBackupCodeRepository(db)
	webauthnRepo := repository.NewWebAuthnCredentialRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	permRepo := repository.NewPermissionRepository(db)
	credRepo := repository.NewCredentialRepository(db)

	jwtMgr := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTokenSecret)
	hasher := security.NewTokenHasher(cfg.TokenPepper)
	keys, err := security.NewStaticKeyProviderHex(cfg.VaultKeyHex)
	if err != nil {
		return fmt.Errorf("load vault key: %w", err)
	}
	vault := security.NewVault(keys)
	totp := security.NewTOTPManager(security.TOTPConfig{Issuer: cfg.TOTPIssuer})

	sessions := service.NewSessionManager(sessionRepo, jwtMgr, cfg.AccessTokenTTL)
	tokens := service.NewRefreshTokenService(
		tokenRepo,
		hasher,
		service.NewRedisNegativeLookupCacheStore(redisClient, "neg_cache"),
		cfg.NegativeCacheTTL,
		cfg.UsedTokenRetention,
	)
	resolver := service.NewPermissionResolver(
		roleRepo,
		permRepo,
		service.NewRedisPermissionCacheStore(redisClient, "perm_cache"),
		cfg.PermissionCacheTTL,
	)
	credentials := service.NewCredentialService(credRepo, vault)
	throttle := service.NewAuthAbuseGuard(redisClient, "auth_abuse", service.AuthAbusePolicy{
		FreeAttempts: 3,
		BaseDelay:    2 * time.Second,
		Multiplier:   2,
		MaxDelay:     5 * time.Minute,
		ResetWindow:  time.Hour,
	})
	mfa := service.NewMfaCoordinator(
		methodRepo, mfaRepo, backupRepo, webauthnRepo,
		sessions, totp,
		loggingChallengeSender{logger: logger},
		nil,
		throttle,
	)

	probes := health.NewProbeRunner(15*time.Second, 3*time.Second,
		health.DatabaseProbe(db),
		health.RedisProbe(redisClient),
	)

	mux := router.NewRouter(router.Dependencies{
		JWTManager:     jwtMgr,
		Sessions:       sessions,
		Permissions:    resolver,
		MfaHandler:     handler.NewMfaHandler(mfa, cfg.MfaSessionTTL),
		Credentials:    handler.NewCredentialHandler(credentials),
		Readiness:      probes,
		EnableOTelHTTP: cfg.OTELTracesEnabled,
	})
	server := &http.Server{
		Addr:              cfg.OpsListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	maintCtx, stopMaintenance := context.WithCancel(context.Background())
	go app.RunMaintenance(maintCtx, logger, cfg.CleanupInterval,
		app.MaintenanceTask{Name: "revoke_expired_sessions", Run: func(context.Context) (int64, error) {
			return sessions.RevokeExpired()
		}},
		app.MaintenanceTask{Name: "cleanup_refresh_tokens", Run: func(context.Context) (int64, error) {
			return tokens.Cleanup()
		}},
	)

	application := app.New(cfg, logger, server, runtime, db, redisClient, probes, stopMaintenance)
	logger.Info("identityd listening", "addr", cfg.OpsListenAddr, "profile", cfg.Profile)
	return application.Run(ctx)
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&domain.Session{},
		&domain.RefreshToken{},
		&domain.MfaMethod{},
		&domain.MfaSession{},
		&domain.BackupCode{},
		&domain.WebAuthnCredential{},
		&domain.Role{},
		&domain.Permission{},
		&domain.UserRole{},
		&domain.OrganizationCloudCredential{},
	); err != nil {
		return nil, err
	}
	return db, nil
}

// loggingChallengeSender stands in until the SMS and email gateways are
// wired; it records that a challenge went out without logging the code.
type loggingChallengeSender struct {
	logger *slog.Logger
}

func (s loggingChallengeSender) SendSMS(ctx context.Context, phoneNumber, code string) error {
	s.logger.InfoContext(ctx, "mfa challenge dispatched", "channel", "sms", "digits", len(code))
	return nil
}

func (s loggingChallengeSender) SendEmail(ctx context.Context, userID, code string) error {
	s.logger.InfoContext(ctx, "mfa challenge dispatched", "channel", "email", "user_id", userID, "digits", len(code))
	return nil
}
