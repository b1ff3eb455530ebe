package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/earnings-engine/config"
	"github.com/warp/earnings-engine/earnings"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.DriverSQLite, cfg.Driver)
	assert.Equal(t, "./data/earnings.db", cfg.SQLitePath)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "earnings.audit", cfg.AuditExchange)
	assert.False(t, cfg.RetryEnabled)
	assert.Equal(t, 15*time.Minute, cfg.RetryInterval)
	require.NoError(t, cfg.Validate())

	rates, err := cfg.RateConfig()
	require.NoError(t, err)
	assert.True(t, rates.ReferralLevel1Percentage.Equal(earnings.DefaultRateConfig().ReferralLevel1Percentage))
	assert.True(t, rates.ReferralLevel2Percentage.Equal(earnings.DefaultRateConfig().ReferralLevel2Percentage))
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("EARNINGS_DRIVER", "postgres")
	t.Setenv("EARNINGS_POSTGRES_DSN", "postgres://localhost/earnings")
	t.Setenv("EARNINGS_WORKERS", "16")
	t.Setenv("EARNINGS_REFERRAL_LEVEL1_PERCENTAGE", "12.5")
	t.Setenv("EARNINGS_PLATFORM_USER_ID", "warp")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 16, cfg.Workers)

	rates, err := cfg.RateConfig()
	require.NoError(t, err)
	assert.Equal(t, "12.5", rates.ReferralLevel1Percentage.String())
	assert.Equal(t, "warp", rates.PlatformUserID)
}

func TestLoad_BadInteger(t *testing.T) {
	t.Setenv("EARNINGS_WORKERS", "many")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() config.App {
		cfg, err := config.Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*config.App)
		want   string
	}{
		{"unknown driver", func(c *config.App) { c.Driver = "mysql" }, "unknown driver"},
		{"sqlite without path", func(c *config.App) { c.SQLitePath = "" }, "SQLITE_PATH"},
		{"postgres without dsn", func(c *config.App) { c.Driver = config.DriverPostgres }, "POSTGRES_DSN"},
		{"no workers", func(c *config.App) { c.Workers = 0 }, "WORKERS"},
		{"bad referral percentage", func(c *config.App) { c.ReferralLevel2Percentage = "five" }, "LEVEL2"},
		{"referral levels above 100", func(c *config.App) { c.ReferralLevel1Percentage = "99" }, "above 100"},
		{"retry without interval", func(c *config.App) { c.RetryEnabled, c.RetryInterval = true, 0 }, "RETRY_INTERVAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLogger(t *testing.T) {
	cfg := config.App{LogLevel: "debug", LogFormat: "json"}
	assert.NotNil(t, cfg.Logger())
	assert.True(t, cfg.Logger().Handler().Enabled(context.Background(), -4))

	cfg = config.App{LogLevel: "error"}
	assert.False(t, cfg.Logger().Handler().Enabled(context.Background(), 0))
}
