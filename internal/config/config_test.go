package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	// Defaults ship without connection secrets, so fill the minimum.
	cfg.Database.DSN = "postgres://localhost/solsniper"

	require.NoError(t, cfg.Validate())
}

func TestDefaultTierLadder(t *testing.T) {
	cfg := Defaults()
	tiers := cfg.Exit.SortedTiers()

	require.Len(t, tiers, 4)
	assert.Equal(t, "1.8x", tiers[0].Name)
	assert.Equal(t, 0.50, tiers[0].SellFraction)
	assert.Equal(t, 1.4, tiers[0].StopFloorMultiple)
	assert.Equal(t, "10x", tiers[3].Name)

	total := 0.0
	for _, tier := range tiers {
		total += tier.SellFraction
	}
	assert.LessOrEqual(t, total, 1.0, "ladder must never sell more than the whole position")
}

func TestSortedTiersOrdersAscending(t *testing.T) {
	cfg := Defaults()
	cfg.Exit.Tiers = []Tier{
		{Name: "5x", Multiple: 5, SellFraction: 0.1},
		{Name: "2x", Multiple: 2, SellFraction: 0.1},
		{Name: "3x", Multiple: 3, SellFraction: 0.1},
	}

	tiers := cfg.Exit.SortedTiers()
	assert.Equal(t, []string{"2x", "3x", "5x"}, []string{tiers[0].Name, tiers[1].Name, tiers[2].Name})
}

func TestValidateRejectsBadExitParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero stop loss", func(c *Config) { c.Exit.HardStopLossFactor = 0 }},
		{"stop loss above entry", func(c *Config) { c.Exit.HardStopLossFactor = 1.2 }},
		{"trailing stop out of range", func(c *Config) { c.Exit.TrailingStopFraction = 1.5 }},
		{"no tiers", func(c *Config) { c.Exit.Tiers = nil }},
		{"tier multiple below entry", func(c *Config) { c.Exit.Tiers[0].Multiple = 0.9 }},
		{"tier fraction above one", func(c *Config) { c.Exit.Tiers[0].SellFraction = 1.5 }},
		{"duplicate tier names", func(c *Config) { c.Exit.Tiers[1].Name = c.Exit.Tiers[0].Name }},
		{"fractions oversell", func(c *Config) {
			c.Exit.Tiers = []Tier{
				{Name: "2x", Multiple: 2, SellFraction: 0.6},
				{Name: "3x", Multiple: 3, SellFraction: 0.6},
			}
		}},
		{"zero poll interval", func(c *Config) { c.Exit.PollIntervalMS = 0 }},
		{"zero sell attempts", func(c *Config) { c.Exit.SellMaxAttempts = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Database.DSN = "postgres://localhost/solsniper"
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
log_level = "debug"

[database]
dsn = "postgres://db.internal/solsniper"

[exit]
hard_stop_loss_factor = 0.65

[[exit.tiers]]
name = "2x"
multiple = 2.0
sell_fraction = 0.5
stop_floor_multiple = 1.5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres://db.internal/solsniper", cfg.Database.DSN)
	assert.Equal(t, 0.65, cfg.Exit.HardStopLossFactor)
	// A tiers array in the file replaces the default ladder.
	require.Len(t, cfg.Exit.Tiers, 1)
	assert.Equal(t, "2x", cfg.Exit.Tiers[0].Name)
	// Untouched sections keep their defaults.
	assert.Equal(t, 1500, cfg.Trading.SlippageBps)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("SNIPER_DATABASE_DSN", "postgres://env.internal/solsniper")
	t.Setenv("SNIPER_EXIT_SELL_MAX_ATTEMPTS", "3")
	t.Setenv("SNIPER_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SNIPER_TRADING_BUY_AMOUNT_SOL", "0.1")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://env.internal/solsniper", cfg.Database.DSN)
	assert.Equal(t, 3, cfg.Exit.SellMaxAttempts)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 0.1, cfg.Trading.BuyAmountSOL)
}

func TestDurationAccessors(t *testing.T) {
	cfg := Defaults()

	calm, fast := cfg.Exit.PollIntervals()
	assert.Equal(t, "500ms", calm.String())
	assert.Equal(t, "250ms", fast.String())
	assert.Equal(t, "6h0m0s", cfg.Exit.ZombieMaxHold().String())
	assert.Equal(t, "20s", cfg.Exit.SellCooldown().String())
	assert.Equal(t, "8s", cfg.Exit.ConfirmPollInterval().String())
}
