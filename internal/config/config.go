// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"clinicstock/internal/core/calendar"
)

// Config is shared by cmd/server, cmd/worker and cmd/stockctl.
type Config struct {
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	HTTPAddr string `mapstructure:"HTTP_ADDR"`

	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	StatementTimeout time.Duration `mapstructure:"DB_STATEMENT_TIMEOUT"`
	LockTimeout      time.Duration `mapstructure:"DB_LOCK_TIMEOUT"`

	JWTSecret          string        `mapstructure:"JWT_SECRET"`
	AccessTokenTTL     time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	RefreshTokenTTL    time.Duration `mapstructure:"JWT_REFRESH_TTL"`
	CORSAllowedOrigins []string      `mapstructure:"CORS_ALLOWED_ORIGINS"`

	RedisURL string `mapstructure:"REDIS_URL"`

	RollupInterval      time.Duration `mapstructure:"ROLLUP_INTERVAL"`
	OutboxInterval      time.Duration `mapstructure:"OUTBOX_INTERVAL"`
	OutboxBatchSize     int           `mapstructure:"OUTBOX_BATCH_SIZE"`
	IdempotencyInterval time.Duration `mapstructure:"IDEMPOTENCY_CLEANUP_INTERVAL"`
	AbsenceDays         int           `mapstructure:"ABSENCE_DAYS"`

	CriticalThreshold int64   `mapstructure:"ALERT_CRITICAL_THRESHOLD"`
	LowThreshold      int64   `mapstructure:"ALERT_LOW_THRESHOLD"`
	LowFraction       float64 `mapstructure:"ALERT_LOW_FRACTION"`

	// ClosedThrough is the last closed ledger period ("YYYY/MM"); empty keeps all periods open.
	ClosedThrough string `mapstructure:"LEDGER_CLOSED_THROUGH"`
	Timezone      string `mapstructure:"CALENDAR_TIMEZONE"`
}

var keys = []string{
	"APP_ENV", "LOG_LEVEL", "HTTP_ADDR",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_STATEMENT_TIMEOUT", "DB_LOCK_TIMEOUT",
	"JWT_SECRET", "JWT_ACCESS_TTL", "JWT_REFRESH_TTL", "CORS_ALLOWED_ORIGINS",
	"REDIS_URL",
	"ROLLUP_INTERVAL", "OUTBOX_INTERVAL", "OUTBOX_BATCH_SIZE", "IDEMPOTENCY_CLEANUP_INTERVAL", "ABSENCE_DAYS",
	"ALERT_CRITICAL_THRESHOLD", "ALERT_LOW_THRESHOLD", "ALERT_LOW_FRACTION",
	"LEDGER_CLOSED_THROUGH", "CALENDAR_TIMEZONE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_STATEMENT_TIMEOUT", "30s")
	v.SetDefault("DB_LOCK_TIMEOUT", "5s")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("ROLLUP_INTERVAL", "24h")
	v.SetDefault("OUTBOX_INTERVAL", "2s")
	v.SetDefault("OUTBOX_BATCH_SIZE", 100)
	v.SetDefault("IDEMPOTENCY_CLEANUP_INTERVAL", "1h")
	v.SetDefault("ABSENCE_DAYS", 14)
	v.SetDefault("ALERT_CRITICAL_THRESHOLD", 100)
	v.SetDefault("ALERT_LOW_THRESHOLD", 500)
	v.SetDefault("ALERT_LOW_FRACTION", 0.2)
	v.SetDefault("CALENDAR_TIMEZONE", "UTC")
}

// Load reads configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSAllowedOrigins) == 1 && strings.Contains(cfg.CORSAllowedOrigins[0], ",") {
		cfg.CORSAllowedOrigins = strings.Split(cfg.CORSAllowedOrigins[0], ",")
	}
	return cfg, nil
}

// IsDev returns true in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks settings every binary needs.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("DB_LOCK_TIMEOUT must be positive")
	}
	if c.LowThreshold < c.CriticalThreshold {
		return fmt.Errorf("ALERT_LOW_THRESHOLD (%d) is below ALERT_CRITICAL_THRESHOLD (%d)", c.LowThreshold, c.CriticalThreshold)
	}
	if c.LowFraction <= 0 || c.LowFraction >= 1 {
		return fmt.Errorf("ALERT_LOW_FRACTION must be between 0 and 1")
	}
	if _, err := c.ClosedPeriod(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// ValidateServer adds the checks of the HTTP server.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if !c.IsDev() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters outside development")
	}
	return nil
}

// ClosedPeriod parses LEDGER_CLOSED_THROUGH; the zero Period means open.
func (c *Config) ClosedPeriod() (calendar.Period, error) {
	if c.ClosedThrough == "" {
		return calendar.Period{}, nil
	}
	p, err := calendar.ParsePeriod(c.ClosedThrough)
	if err != nil {
		return calendar.Period{}, fmt.Errorf("LEDGER_CLOSED_THROUGH: %w", err)
	}
	return p, nil
}

// Location resolves CALENDAR_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("CALENDAR_TIMEZONE: %w", err)
	}
	return loc, nil
}
