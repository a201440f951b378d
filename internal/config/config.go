// Package config defines the top-level configuration for the sniper bot and
// provides validation helpers.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SNIPER_* environment variables.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Market   MarketConfig   `toml:"market"`
	Trading  TradingConfig  `toml:"trading"`
	Exit     ExitConfig     `toml:"exit"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Archive  ArchiveConfig  `toml:"archive"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MarketConfig holds market-data feed endpoints and timeouts.
type MarketConfig struct {
	DexScreenerURL     string `toml:"dexscreener_url"`
	JupiterPriceURL    string `toml:"jupiter_price_url"`
	JupiterQuoteURL    string `toml:"jupiter_quote_url"`
	JupiterSwapURL     string `toml:"jupiter_swap_url"`
	PumpPortalURL      string `toml:"pumpportal_url"`
	FastPriceTimeoutMS int    `toml:"fast_price_timeout_ms"`
	DataTimeoutMS      int    `toml:"data_timeout_ms"`
	// RateLimitPerSec caps DexScreener lookups across all monitors.
	RateLimitPerSec int `toml:"rate_limit_per_sec"`
}

// TradingConfig holds buy sizing and entry-filter parameters.
type TradingConfig struct {
	RPCURL          string  `toml:"rpc_url"`
	WalletAddress   string  `toml:"wallet_address"`
	WalletSecretKey string  `toml:"wallet_secret_key"`
	BuyAmountSOL    float64 `toml:"buy_amount_sol"`
	ReserveSOL      float64 `toml:"reserve_sol"`
	SlippageBps     int     `toml:"slippage_bps"`
	PriorityFeeSOL  float64 `toml:"priority_fee_sol"`
	BuyMaxAttempts  int     `toml:"buy_max_attempts"`
	BuyFeeStep      float64 `toml:"buy_fee_step"`
	MaxEntryMC      float64 `toml:"max_entry_mc"`
	MinEntryMC      float64 `toml:"min_entry_mc"`
	MaxTokenAgeMins float64 `toml:"max_token_age_mins"`
	MinLiquidityUSD float64 `toml:"min_liquidity_usd"`
}

// Tier is one rung of the take-profit ladder: at Multiple times entry,
// sell SellFraction of the original position, and raise the stop loss to
// StopFloorMultiple times entry (0 leaves the stop untouched).
type Tier struct {
	Name              string  `toml:"name"`
	Multiple          float64 `toml:"multiple"`
	SellFraction      float64 `toml:"sell_fraction"`
	StopFloorMultiple float64 `toml:"stop_floor_multiple"`
}

// ExitConfig holds every parameter of the exit-strategy state machine.
type ExitConfig struct {
	Tiers []Tier `toml:"tiers"`

	HardStopLossFactor   float64 `toml:"hard_stop_loss_factor"`  // initial stop as a multiple of entry, e.g. 0.70
	TrailingStopFraction float64 `toml:"trailing_stop_fraction"` // trail distance below the high, e.g. 0.35
	BreakEvenAtPnL       float64 `toml:"break_even_at_pnl"`      // unrealized gain that arms the break-even lock

	ZombieMaxHoldMins int `toml:"zombie_max_hold_mins"`

	VolumeDecayMinPnL       float64 `toml:"volume_decay_min_pnl"`
	VolumeDecayPeakFloor    int     `toml:"volume_decay_peak_floor"`
	VolumeDecayDropFraction float64 `toml:"volume_decay_drop_fraction"`
	VolumeDecaySellFraction float64 `toml:"volume_decay_sell_fraction"`

	PollIntervalMS      int     `toml:"poll_interval_ms"`
	FastPollIntervalMS  int     `toml:"fast_poll_interval_ms"`
	VolatilityThreshold float64 `toml:"volatility_threshold"`

	DataRefreshCalmCycles     int `toml:"data_refresh_calm_cycles"`
	DataRefreshVolatileCycles int `toml:"data_refresh_volatile_cycles"`
	BalanceCheckCycles        int `toml:"balance_check_cycles"`
	SnapshotCycles            int `toml:"snapshot_cycles"`
	StatusLogCycles           int `toml:"status_log_cycles"`

	SellCooldownSec        int     `toml:"sell_cooldown_sec"`
	SellMaxAttempts        int     `toml:"sell_max_attempts"`
	SellBasePriorityFee    float64 `toml:"sell_base_priority_fee"`
	SellFeeStep            float64 `toml:"sell_fee_step"`
	ConfirmPolls           int     `toml:"confirm_polls"`
	ConfirmPollIntervalSec int     `toml:"confirm_poll_interval_sec"`
}

// ServerConfig holds the HTTP API server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimitPerMin caps API requests per client IP; zero disables it.
	RateLimitPerMin int `toml:"rate_limit_per_min"`
}

// NotifyConfig holds notification channel parameters.
type NotifyConfig struct {
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	Events            []string `toml:"events"`
}

// ArchiveConfig controls closed-position archival to object storage.
type ArchiveConfig struct {
	Enabled       bool `toml:"enabled"`
	IntervalHours int  `toml:"interval_hours"`
	RetainDays    int  `toml:"retain_days"`
}

// Defaults returns the built-in configuration, tuned to the live trading
// parameters the bot ships with. A TOML file and SNIPER_* env vars are
// decoded on top of this.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "solsniper",
			User:         "solsniper",
			SSLMode:      "disable",
			PoolMaxConns: 8,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Market: MarketConfig{
			DexScreenerURL:     "https://api.dexscreener.com/latest/dex/tokens",
			JupiterPriceURL:    "https://api.jup.ag/price/v2",
			JupiterQuoteURL:    "https://quote-api.jup.ag/v6/quote",
			JupiterSwapURL:     "https://quote-api.jup.ag/v6/swap",
			PumpPortalURL:      "https://pumpportal.fun/api/trade-local",
			FastPriceTimeoutMS: 2000,
			DataTimeoutMS:      3000,
			RateLimitPerSec:    10,
		},
		Trading: TradingConfig{
			RPCURL:          "https://api.mainnet-beta.solana.com",
			BuyAmountSOL:    0.05,
			ReserveSOL:      0.005,
			SlippageBps:     1500,
			PriorityFeeSOL:  0.0003,
			BuyMaxAttempts:  3,
			BuyFeeStep:      0.0001,
			MaxEntryMC:      60_000,
			MinEntryMC:      12_000,
			MaxTokenAgeMins: 45,
			MinLiquidityUSD: 12_500,
		},
		Exit: ExitConfig{
			Tiers: []Tier{
				{Name: "1.8x", Multiple: 1.8, SellFraction: 0.50, StopFloorMultiple: 1.4},
				{Name: "3x", Multiple: 3.0, SellFraction: 0.20, StopFloorMultiple: 2.0},
				{Name: "5x", Multiple: 5.0, SellFraction: 0.15, StopFloorMultiple: 3.0},
				{Name: "10x", Multiple: 10.0, SellFraction: 0.10},
			},
			HardStopLossFactor:   0.70,
			TrailingStopFraction: 0.35,
			BreakEvenAtPnL:       0.50,
			ZombieMaxHoldMins:    360,

			VolumeDecayMinPnL:       0.20,
			VolumeDecayPeakFloor:    50,
			VolumeDecayDropFraction: 0.50,
			VolumeDecaySellFraction: 0.25,

			PollIntervalMS:      500,
			FastPollIntervalMS:  250,
			VolatilityThreshold: 0.05,

			DataRefreshCalmCycles:     30,
			DataRefreshVolatileCycles: 5,
			BalanceCheckCycles:        60,
			SnapshotCycles:            10,
			StatusLogCycles:           60,

			SellCooldownSec:        20,
			SellMaxAttempts:        5,
			SellBasePriorityFee:    0.0003,
			SellFeeStep:            0.0001,
			ConfirmPolls:           3,
			ConfirmPollIntervalSec: 8,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			RateLimitPerMin: 120,
		},
		Archive: ArchiveConfig{
			IntervalHours: 6,
			RetainDays:    7,
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// Validate checks the configuration for internal consistency. It is called
// after Load and before wiring.
func (c *Config) Validate() error {
	var problems []string

	if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.Database == "" || c.Database.User == "") {
		problems = append(problems, "database: dsn or host/database/user required")
	}
	if c.Redis.Addr == "" {
		problems = append(problems, "redis: addr required")
	}
	if c.Trading.BuyAmountSOL <= 0 {
		problems = append(problems, "trading: buy_amount_sol must be positive")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, fmt.Sprintf("server: invalid port %d", c.Server.Port))
	}
	if err := c.Exit.validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Archive.Enabled && c.S3.Bucket == "" {
		problems = append(problems, "archive: s3 bucket required when archival is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (e *ExitConfig) validate() error {
	if e.HardStopLossFactor <= 0 || e.HardStopLossFactor >= 1 {
		return fmt.Errorf("exit: hard_stop_loss_factor must be in (0,1), got %v", e.HardStopLossFactor)
	}
	if e.TrailingStopFraction <= 0 || e.TrailingStopFraction >= 1 {
		return fmt.Errorf("exit: trailing_stop_fraction must be in (0,1), got %v", e.TrailingStopFraction)
	}
	if len(e.Tiers) == 0 {
		return fmt.Errorf("exit: at least one take-profit tier required")
	}

	totalFraction := 0.0
	seen := make(map[string]bool, len(e.Tiers))
	for _, t := range e.Tiers {
		if t.Name == "" {
			return fmt.Errorf("exit: tier with multiple %v has no name", t.Multiple)
		}
		if seen[t.Name] {
			return fmt.Errorf("exit: duplicate tier name %q", t.Name)
		}
		seen[t.Name] = true
		if t.Multiple <= 1 {
			return fmt.Errorf("exit: tier %q multiple must exceed 1, got %v", t.Name, t.Multiple)
		}
		if t.SellFraction <= 0 || t.SellFraction > 1 {
			return fmt.Errorf("exit: tier %q sell_fraction must be in (0,1], got %v", t.Name, t.SellFraction)
		}
		totalFraction += t.SellFraction
	}
	if totalFraction > 1.0+1e-9 {
		return fmt.Errorf("exit: tier sell fractions sum to %v, exceeding the whole position", totalFraction)
	}
	if e.PollIntervalMS <= 0 || e.FastPollIntervalMS <= 0 {
		return fmt.Errorf("exit: poll intervals must be positive")
	}
	if e.SellMaxAttempts <= 0 {
		return fmt.Errorf("exit: sell_max_attempts must be positive")
	}
	return nil
}

// PollIntervals returns the calm and volatile polling intervals as durations.
func (e *ExitConfig) PollIntervals() (calm, fast time.Duration) {
	return time.Duration(e.PollIntervalMS) * time.Millisecond,
		time.Duration(e.FastPollIntervalMS) * time.Millisecond
}

// ZombieMaxHold returns the maximum hold time for losing positions.
func (e *ExitConfig) ZombieMaxHold() time.Duration {
	return time.Duration(e.ZombieMaxHoldMins) * time.Minute
}

// SellCooldown returns the minimum gap between completed sells per address.
func (e *ExitConfig) SellCooldown() time.Duration {
	return time.Duration(e.SellCooldownSec) * time.Second
}

// ConfirmPollInterval returns the gap between post-submission balance checks.
func (e *ExitConfig) ConfirmPollInterval() time.Duration {
	return time.Duration(e.ConfirmPollIntervalSec) * time.Second
}

// ArchiveInterval returns how often the archiver sweeps.
func (a *ArchiveConfig) ArchiveInterval() time.Duration {
	return time.Duration(a.IntervalHours) * time.Hour
}

// ArchiveCutoffAge returns how long closed positions are retained in the
// primary store before being archived.
func (a *ArchiveConfig) ArchiveCutoffAge() time.Duration {
	return time.Duration(a.RetainDays) * 24 * time.Hour
}

// SortedTiers returns the ladder in ascending order of multiple, which is the
// order the state machine evaluates them in.
func (e *ExitConfig) SortedTiers() []Tier {
	tiers := make([]Tier, len(e.Tiers))
	copy(tiers, e.Tiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Multiple < tiers[j].Multiple })
	return tiers
}
