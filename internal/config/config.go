package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	pkgauth "github.com/hht-diary/authcore/pkg/auth"
	"github.com/joho/godotenv"
)

type Config struct {
	Database      DatabaseConfig
	Server        ServerConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Notifications NotificationConfig
	Observability ObservabilityConfig
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
	AutoMigrate       bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	TrustedProxies []string
}

type AuthConfig struct {
	TokenIssuer        string
	PrivateKeyPath     string
	PublicKeyPath      string
	LockoutThreshold   int
	LockoutDuration    time.Duration
	Argon2             pkgauth.Argon2Params
	FailureMinDuration time.Duration // Response time floor for failed logins
	FailureJitter      time.Duration
}

type RateLimitConfig struct {
	MaxAttempts     int
	Window          time.Duration
	CleanupInterval time.Duration
	IPPerMinute     int
}

// NotificationConfig enables lockout alerts over SES when both addresses are set
type NotificationConfig struct {
	AWSRegion           string
	LockoutAlertFrom    string
	LockoutAlertTo      string
	LockoutAlertTimeout time.Duration
}

func (c NotificationConfig) Enabled() bool {
	return c.LockoutAlertFrom != "" && c.LockoutAlertTo != ""
}

type ObservabilityConfig struct {
	SentryDSN string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	issuer := strings.TrimSpace(getEnv("TOKEN_ISSUER", ""))
	if issuer == "" {
		return nil, fmt.Errorf("TOKEN_ISSUER is required")
	}

	privateKeyPath := getEnv("TOKEN_PRIVATE_KEY_PATH", "")
	if privateKeyPath == "" {
		return nil, fmt.Errorf("TOKEN_PRIVATE_KEY_PATH is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "authcore"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", false),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
		},
		Auth: AuthConfig{
			TokenIssuer:      issuer,
			PrivateKeyPath:   privateKeyPath,
			PublicKeyPath:    getEnv("TOKEN_PUBLIC_KEY_PATH", ""),
			LockoutThreshold: getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			LockoutDuration:  getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),
			Argon2: pkgauth.Argon2Params{
				Memory:      uint32(getEnvAsInt("ARGON2_MEMORY_KIB", 64*1024)),
				Iterations:  uint32(getEnvAsInt("ARGON2_ITERATIONS", 3)),
				Parallelism: uint8(getEnvAsInt("ARGON2_PARALLELISM", 4)),
				KeyLength:   uint32(getEnvAsInt("ARGON2_KEY_LENGTH", 32)),
			},
			FailureMinDuration: getEnvAsDuration("AUTH_FAILURE_MIN_DURATION", 250*time.Millisecond),
			FailureJitter:      getEnvAsDuration("AUTH_FAILURE_JITTER", 50*time.Millisecond),
		},
		RateLimit: RateLimitConfig{
			MaxAttempts:     getEnvAsInt("RATE_LIMIT_MAX_ATTEMPTS", 5),
			Window:          getEnvAsDuration("RATE_LIMIT_WINDOW", 60*time.Second),
			CleanupInterval: getEnvAsDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
			IPPerMinute:     getEnvAsInt("IP_RATE_LIMIT_PER_MINUTE", 30),
		},
		Notifications: NotificationConfig{
			AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
			LockoutAlertFrom:    getEnv("LOCKOUT_ALERT_FROM", ""),
			LockoutAlertTo:      getEnv("LOCKOUT_ALERT_TO", ""),
			LockoutAlertTimeout: getEnvAsDuration("LOCKOUT_ALERT_TIMEOUT", 3*time.Second),
		},
		Observability: ObservabilityConfig{
			SentryDSN: getEnv("SENTRY_DSN", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.RateLimit.MaxAttempts <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_ATTEMPTS must be positive (got %d)", c.RateLimit.MaxAttempts)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive (got %s)", c.RateLimit.Window)
	}
	if c.RateLimit.CleanupInterval <= 0 {
		return fmt.Errorf("RATE_LIMIT_CLEANUP_INTERVAL must be positive (got %s)", c.RateLimit.CleanupInterval)
	}
	if c.RateLimit.IPPerMinute <= 0 {
		return fmt.Errorf("IP_RATE_LIMIT_PER_MINUTE must be positive (got %d)", c.RateLimit.IPPerMinute)
	}
	if c.Auth.LockoutThreshold <= 0 {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be positive (got %d)", c.Auth.LockoutThreshold)
	}
	if c.Auth.LockoutDuration <= 0 {
		return fmt.Errorf("LOCKOUT_DURATION must be positive (got %s)", c.Auth.LockoutDuration)
	}
	if c.Notifications.LockoutAlertTimeout <= 0 {
		return fmt.Errorf("LOCKOUT_ALERT_TIMEOUT must be positive (got %s)", c.Notifications.LockoutAlertTimeout)
	}
	if err := c.Auth.Argon2.Validate(); err != nil {
		return fmt.Errorf("invalid ARGON2_* settings: %w", err)
	}

	// Production never falls back to lighter hashing than the defaults
	if c.Server.Env == "production" {
		def := pkgauth.DefaultArgon2Params()
		if c.Auth.Argon2.Memory < def.Memory || c.Auth.Argon2.Iterations < def.Iterations {
			return fmt.Errorf("ARGON2_* settings below defaults are not allowed in production")
		}
	}

	return nil
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

// getEnvAsList splits a comma-separated variable, dropping empty entries
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}

	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
