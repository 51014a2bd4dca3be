package config

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Profile string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TokenPepper       string
	AccessTokenSecret string
	JWTIssuer         string
	JWTAudience       string
	VaultKeyHex       string
	TOTPIssuer        string

	SessionTTL         time.Duration
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	MfaSessionTTL      time.Duration
	PermissionCacheTTL time.Duration
	NegativeCacheTTL   time.Duration
	UsedTokenRetention time.Duration
	CleanupInterval    time.Duration

	OpsListenAddr string

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracesEnabled         bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
}

// Load reads configuration from the environment, applies defaults, validates,
// and records a config-validation metric either way.
func Load(ctx context.Context) (*Config, error) {
	cfg, err := load()
	profile := "unknown"
	if cfg != nil {
		profile = cfg.Profile
	}
	if err != nil {
		recordConfigValidationEvent(ctx, profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(ctx, profile, "success", "none")
	return cfg, nil
}

func load() (*Config, error) {
	cfg := &Config{
		Profile:                  getEnv("APP_PROFILE", "dev"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisAddr:                getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		TokenPepper:              os.Getenv("TOKEN_PEPPER"),
		AccessTokenSecret:        os.Getenv("ACCESS_TOKEN_SECRET"),
		JWTIssuer:                getEnv("JWT_ISSUER", "identity-core"),
		JWTAudience:              getEnv("JWT_AUDIENCE", "transferwave"),
		VaultKeyHex:              os.Getenv("VAULT_KEY"),
		TOTPIssuer:               getEnv("TOTP_ISSUER", "TransferWave"),
		OpsListenAddr:            getEnv("OPS_LISTEN_ADDR", ":9090"),
		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "identity-core"),
		OTELEnvironment:          getEnv("OTEL_ENVIRONMENT", "dev"),
		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return cfg, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.AccessTokenTTL, err = getDuration("ACCESS_TOKEN_TTL", 15*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.RefreshTokenTTL, err = getDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.MfaSessionTTL, err = getDuration("MFA_SESSION_TTL", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.PermissionCacheTTL, err = getDuration("PERMISSION_CACHE_TTL", time.Minute); err != nil {
		return cfg, err
	}
	if cfg.NegativeCacheTTL, err = getDuration("NEGATIVE_CACHE_TTL", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.UsedTokenRetention, err = getDuration("USED_TOKEN_RETENTION", 7*24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.CleanupInterval, err = getDuration("CLEANUP_INTERVAL", 10*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ShutdownHTTPDrainTimeout, err = getDuration("SHUTDOWN_HTTP_DRAIN_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ShutdownObservabilityTimeout, err = getDuration("SHUTDOWN_OBSERVABILITY_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.OTELMetricsExportInterval, err = getDuration("OTEL_METRICS_EXPORT_INTERVAL", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.OTELExporterOTLPInsecure, err = getBool("OTEL_EXPORTER_OTLP_INSECURE", true); err != nil {
		return cfg, err
	}
	if cfg.OTELMetricsEnabled, err = getBool("OTEL_METRICS_ENABLED", false); err != nil {
		return cfg, err
	}
	if cfg.OTELTracesEnabled, err = getBool("OTEL_TRACES_ENABLED", false); err != nil {
		return cfg, err
	}
	if cfg.OTELLogsEnabled, err = getBool("OTEL_LOGS_ENABLED", false); err != nil {
		return cfg, err
	}

	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.TokenPepper == "" {
		return fmt.Errorf("TOKEN_PEPPER is required")
	}
	if c.AccessTokenSecret == "" {
		return fmt.Errorf("ACCESS_TOKEN_SECRET is required")
	}
	raw, err := hex.DecodeString(c.VaultKeyHex)
	if err != nil {
		return fmt.Errorf("VAULT_KEY must be hex encoded")
	}
	if len(raw) != 32 {
		return fmt.Errorf("VAULT_KEY must decode to 32 bytes, got %d", len(raw))
	}
	if c.SessionTTL <= 0 || c.RefreshTokenTTL <= 0 || c.MfaSessionTTL <= 0 {
		return fmt.Errorf("ttl values must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
