// Package config loads process configuration from EARNINGS_* environment
// variables. Command-line flags in cmd/* override individual fields.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/warp/earnings-engine/earnings"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type App struct {
	// Storage
	Driver      string `envconfig:"DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./data/earnings.db"`
	PostgresDSN string `envconfig:"POSTGRES_DSN"`

	// HTTP
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Recalculation
	Workers       int           `envconfig:"WORKERS" default:"4"`
	RetryEnabled  bool          `envconfig:"RETRY_ENABLED" default:"false"`
	RetryInterval time.Duration `envconfig:"RETRY_INTERVAL" default:"15m"`

	// Rates
	PlatformUserID           string `envconfig:"PLATFORM_USER_ID" default:"platform"`
	CharityUserID            string `envconfig:"CHARITY_USER_ID" default:"charity"`
	ReferralLevel1Percentage string `envconfig:"REFERRAL_LEVEL1_PERCENTAGE" default:"10"`
	ReferralLevel2Percentage string `envconfig:"REFERRAL_LEVEL2_PERCENTAGE" default:"5"`

	// Audit sink, disabled when empty
	AMQPURL       string `envconfig:"AMQP_URL"`
	AuditExchange string `envconfig:"AUDIT_EXCHANGE" default:"earnings.audit"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// Load reads the EARNINGS_* environment. Callers apply flag overrides and
// then call Validate.
func Load() (App, error) {
	var c App
	err := envconfig.Process("earnings", &c)
	return c, err
}

func (c App) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("config: EARNINGS_SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("config: EARNINGS_POSTGRES_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown driver %q (want %s or %s)", c.Driver, DriverSQLite, DriverPostgres)
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: EARNINGS_WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.RetryEnabled && c.RetryInterval <= 0 {
		return fmt.Errorf("config: EARNINGS_RETRY_INTERVAL must be positive when retries are enabled")
	}
	if _, err := c.RateConfig(); err != nil {
		return err
	}
	return nil
}

// RateConfig builds the platform-wide rate settings.
func (c App) RateConfig() (earnings.RateConfig, error) {
	l1, err := decimal.NewFromString(c.ReferralLevel1Percentage)
	if err != nil {
		return earnings.RateConfig{}, fmt.Errorf("config: EARNINGS_REFERRAL_LEVEL1_PERCENTAGE: %w", err)
	}
	l2, err := decimal.NewFromString(c.ReferralLevel2Percentage)
	if err != nil {
		return earnings.RateConfig{}, fmt.Errorf("config: EARNINGS_REFERRAL_LEVEL2_PERCENTAGE: %w", err)
	}
	rc := earnings.RateConfig{
		PlatformUserID:           c.PlatformUserID,
		CharityUserID:            c.CharityUserID,
		ReferralLevel1Percentage: l1,
		ReferralLevel2Percentage: l2,
	}
	if err := rc.Validate(); err != nil {
		return earnings.RateConfig{}, fmt.Errorf("config: %w", err)
	}
	return rc, nil
}

// Logger builds the process logger from LogLevel and LogFormat.
func (c App) Logger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.LogFormat) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
