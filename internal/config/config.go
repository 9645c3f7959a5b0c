package config

import (
	"fmt"
	"strings"
	"time"
	// Zone data is compiled in so LAB_TIMEZONE resolves on minimal images.
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// minSecretLen is the shortest HS256 signing key accepted outside development.
const minSecretLen = 32

// devSecret signs tokens when ENV=development and JWT_SECRET is unset.
const devSecret = "lims-development-secret-do-not-use-in-prod"

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	DevAuth         bool          `mapstructure:"DEV_AUTH"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	DBLogQueries    bool          `mapstructure:"DB_LOG_QUERIES"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	JWTSecret       string        `mapstructure:"JWT_SECRET"`
	JWTIssuer       string        `mapstructure:"JWT_ISSUER"`
	JWTTTL          time.Duration `mapstructure:"JWT_TTL"`
	SessionCacheTTL time.Duration `mapstructure:"SESSION_CACHE_TTL"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	TLSEnabled      bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile     string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile      string        `mapstructure:"TLS_KEY_FILE"`
	MigrationsDir   string        `mapstructure:"MIGRATIONS_DIR"`
	LabName         string        `mapstructure:"LAB_NAME"`
	Currency        string        `mapstructure:"CURRENCY"`
	Timezone        string        `mapstructure:"LAB_TIMEZONE"`
}

var envKeys = []string{
	"PORT",
	"ENV",
	"DEV_AUTH",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"DB_LOG_QUERIES",
	"REDIS_URL",
	"JWT_SECRET",
	"JWT_ISSUER",
	"JWT_TTL",
	"SESSION_CACHE_TTL",
	"CORS_ORIGINS",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
	"TLS_ENABLED",
	"TLS_CERT_FILE",
	"TLS_KEY_FILE",
	"MIGRATIONS_DIR",
	"LAB_NAME",
	"CURRENCY",
	"LAB_TIMEZONE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DEV_AUTH", false)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("JWT_ISSUER", "lims")
	v.SetDefault("JWT_TTL", "12h")
	v.SetDefault("SESSION_CACHE_TTL", "5m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("LAB_NAME", "Medical Laboratory")
	v.SetDefault("CURRENCY", "USD")
	v.SetDefault("LAB_TIMEZONE", "UTC")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" && cfg.IsDev() {
		cfg.JWTSecret = devSecret
	}

	return cfg, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// DevAuthActive reports whether unauthenticated requests are treated as admin.
// It is only ever true in development.
func (c *Config) DevAuthActive() bool {
	return c.IsDev() && c.DevAuth
}

// Location is the lab's time zone. Calendar days for reports, queue tickets
// and expiry start at local midnight there. Unset or invalid means UTC;
// Validate reports the invalid case.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks that the configuration is safe to run. Outside development
// JWT_SECRET must be set and at least 32 bytes long.
func (c *Config) Validate() error {
	if c.DevAuth && !c.IsDev() {
		return fmt.Errorf("DEV_AUTH is only allowed with ENV=development (current ENV=%q)", c.Env)
	}

	if !c.IsDev() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
		}
		if len(c.JWTSecret) < minSecretLen {
			return fmt.Errorf("JWT_SECRET must be at least %d bytes, got %d", minSecretLen, len(c.JWTSecret))
		}
	}

	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive, got %s", c.JWTTTL)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("LAB_TIMEZONE %q is not a known time zone: %w", c.Timezone, err)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
