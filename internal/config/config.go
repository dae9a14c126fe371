package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Tenant        TenantConfig
	Authority     AuthorityConfig
	Security      SecurityConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds the shared metadata store configuration
type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// TenantConfig holds tenant routing configuration, including the sizing
// policy applied to lazily constructed per-tenant pools.
type TenantConfig struct {
	SuperTenantCode string
	PoolInitialSize int
	PoolMinIdle     int
	PoolMaxIdle     int
	PoolMaxTotal    int
	PoolMaxWait     time.Duration
}

// AuthorityConfig holds authority index configuration
type AuthorityConfig struct {
	AppName string
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	// EncryptKey is the base64-encoded master secret tenant database
	// credentials are sealed with.
	EncryptKey string

	// JWTSecret signs and verifies session bearer tokens.
	JWTSecret string
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "tenantgate"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "tenantgate"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: parseInt("DB_MAX_IDLE_CONNS", 5),
		},
		Tenant: TenantConfig{
			SuperTenantCode: getEnv("SUPER_TENANT_CODE", "platform.super"),
			PoolInitialSize: parseInt("TENANT_POOL_INITIAL_SIZE", 1),
			PoolMinIdle:     parseInt("TENANT_POOL_MIN_IDLE", 1),
			PoolMaxIdle:     parseInt("TENANT_POOL_MAX_IDLE", 5),
			PoolMaxTotal:    parseInt("TENANT_POOL_MAX_TOTAL", 10),
			PoolMaxWait:     parseDuration("TENANT_POOL_MAX_WAIT", "60s"),
		},
		Authority: AuthorityConfig{
			AppName: getEnv("AUTHORITY_APP_NAME", "tenantgate"),
		},
		Security: SecurityConfig{
			EncryptKey: getEnv("CREDENTIAL_ENCRYPT_KEY", ""),
			JWTSecret:  getEnv("SESSION_JWT_SECRET", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "tenantgate"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: float64(parseInt("RATELIMIT_RPS", 10)),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Security.EncryptKey == "" {
		return fmt.Errorf("CREDENTIAL_ENCRYPT_KEY is required")
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("SESSION_JWT_SECRET is required")
	}
	if c.Tenant.PoolMaxTotal < c.Tenant.PoolMinIdle {
		return fmt.Errorf("TENANT_POOL_MAX_TOTAL must not be below TENANT_POOL_MIN_IDLE")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
