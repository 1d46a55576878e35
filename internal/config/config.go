package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Block-list drivers
const (
	BlockListMemory = "memory"
	BlockListRedis  = "redis"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	BlockList BlockListConfig
	Email     EmailConfig
	Sentry    SentryConfig
	Bootstrap BootstrapConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	StatementTimeout  time.Duration
	AutoMigrate       bool
}

type ServerConfig struct {
	Port               string
	Env                string
	LogLevel           string
	BaseURL            string   // Explicit externally reachable URL; wins over detection
	TrustedProxies     []string // CIDRs allowed to set X-Forwarded-* headers
	DefaultLandingPath string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
}

type AuthConfig struct {
	SessionSecret          string
	SessionExpiry          time.Duration
	LockoutThreshold       int
	LockoutDuration        time.Duration
	HighRiskBlockDuration  time.Duration
	CriticalBlockDuration  time.Duration
	RiskTimeout            time.Duration
	StoreTimeout           time.Duration
	RiskLookbackWindow     time.Duration
	TOTPEncryptionKey      []byte
	TOTPIssuer             string
	TimingDelayBaseMs      int
	TimingDelayRandomMs    int
	LoginRequestsPerMinute int
	CleanupInterval        time.Duration
	EventRetention         time.Duration
}

type BlockListConfig struct {
	Driver        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

type EmailConfig struct {
	AWSRegion      string
	FromAddress    string
	AlertRecipient string // Empty disables security alert mail
}

type SentryConfig struct {
	DSN string
}

// BootstrapConfig seeds the first admin account on an empty database
type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
	AdminName     string
}

// Bounds for the CRITICAL auto-block duration
const (
	MinCriticalBlockDuration = 30 * time.Minute
	MaxCriticalBlockDuration = 60 * time.Minute
)

func Load() (*Config, error) {
	_ = godotenv.Load()

	sessionSecret := getEnv("SESSION_SECRET", "")
	if sessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}

	env := getEnv("ENV", "development")

	totpKey, err := parseTOTPKey(getEnv("TOTP_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "gatekeeper"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			StatementTimeout:  getEnvAsDuration("DB_STATEMENT_TIMEOUT", 5*time.Second),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			Env:                env,
			LogLevel:           getEnv("LOG_LEVEL", "info"),
			BaseURL:            strings.TrimSpace(getEnv("BASE_URL", "")),
			TrustedProxies:     parseList(getEnv("TRUSTED_PROXIES", "")),
			DefaultLandingPath: getEnv("DEFAULT_LANDING_PATH", "/dashboard"),
			ReadTimeout:        getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:        getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			SessionSecret:          sessionSecret,
			SessionExpiry:          getEnvAsDuration("SESSION_EXPIRY", 12*time.Hour),
			LockoutThreshold:       getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			LockoutDuration:        getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),
			HighRiskBlockDuration:  getEnvAsDuration("HIGH_RISK_BLOCK_DURATION", 15*time.Minute),
			CriticalBlockDuration:  getEnvAsDuration("CRITICAL_RISK_BLOCK_DURATION", 30*time.Minute),
			RiskTimeout:            getEnvAsDuration("RISK_TIMEOUT", 2*time.Second),
			StoreTimeout:           getEnvAsDuration("STORE_TIMEOUT", 3*time.Second),
			RiskLookbackWindow:     getEnvAsDuration("RISK_LOOKBACK_WINDOW", 15*time.Minute),
			TOTPEncryptionKey:      totpKey,
			TOTPIssuer:             getEnv("TOTP_ISSUER", "Gatekeeper"),
			TimingDelayBaseMs:      getEnvAsInt("TIMING_DELAY_BASE_MS", 0),
			TimingDelayRandomMs:    getEnvAsInt("TIMING_DELAY_RANDOM_MS", 0),
			LoginRequestsPerMinute: getEnvAsInt("LOGIN_REQUESTS_PER_MINUTE", 20),
			CleanupInterval:        getEnvAsDuration("CLEANUP_INTERVAL", 10*time.Minute),
			EventRetention:         getEnvAsDuration("SECURITY_EVENT_RETENTION", 90*24*time.Hour),
		},
		BlockList: BlockListConfig{
			Driver:        getEnv("BLOCKLIST_DRIVER", BlockListMemory),
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			RedisPrefix:   getEnv("REDIS_PREFIX", "gatekeeper:ipblock:"),
		},
		Email: EmailConfig{
			AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
			FromAddress:    getEnv("EMAIL_FROM_ADDRESS", ""),
			AlertRecipient: getEnv("SECURITY_ALERT_EMAIL", ""),
		},
		Sentry: SentryConfig{
			DSN: getEnv("SENTRY_DSN", ""),
		},
		Bootstrap: BootstrapConfig{
			AdminEmail:    getEnv("ADMIN_EMAIL", ""),
			AdminPassword: getEnv("ADMIN_PASSWORD", ""),
			AdminName:     getEnv("ADMIN_NAME", "Administrator"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateSessionSecret(sessionSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks cross-field constraints that defaults alone cannot guarantee
func (c *Config) validate() error {
	if c.Auth.LockoutThreshold < 1 {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be at least 1 (got %d)", c.Auth.LockoutThreshold)
	}
	if c.Auth.LockoutDuration <= 0 {
		return fmt.Errorf("LOCKOUT_DURATION must be positive")
	}
	if c.Auth.CriticalBlockDuration < MinCriticalBlockDuration || c.Auth.CriticalBlockDuration > MaxCriticalBlockDuration {
		return fmt.Errorf("CRITICAL_RISK_BLOCK_DURATION must be between %s and %s (got %s)",
			MinCriticalBlockDuration, MaxCriticalBlockDuration, c.Auth.CriticalBlockDuration)
	}
	if c.Auth.HighRiskBlockDuration <= 0 {
		return fmt.Errorf("HIGH_RISK_BLOCK_DURATION must be positive")
	}

	switch c.BlockList.Driver {
	case BlockListMemory:
	case BlockListRedis:
		if c.BlockList.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when BLOCKLIST_DRIVER=redis")
		}
	default:
		return fmt.Errorf("unsupported BLOCKLIST_DRIVER: %s", c.BlockList.Driver)
	}

	if (c.Bootstrap.AdminEmail == "") != (c.Bootstrap.AdminPassword == "") {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}

	if c.Email.AlertRecipient != "" && c.Email.FromAddress == "" {
		return fmt.Errorf("EMAIL_FROM_ADDRESS is required when SECURITY_ALERT_EMAIL is set")
	}

	return nil
}

// validateSessionSecret enforces minimum security standards for the session signing secret
func validateSessionSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	// Check against common weak secrets
	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("SESSION_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// parseTOTPKey decodes the base64 AES-256 key used to encrypt second-factor secrets
func parseTOTPKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes (got %d)", len(key))
	}
	return key, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// parseList splits a comma-separated value, dropping empty entries
func parseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
