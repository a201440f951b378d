package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SNIPER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SNIPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "SNIPER_DATABASE_DSN")
	setStr(&cfg.Database.Host, "SNIPER_DATABASE_HOST")
	setInt(&cfg.Database.Port, "SNIPER_DATABASE_PORT")
	setStr(&cfg.Database.Database, "SNIPER_DATABASE_NAME")
	setStr(&cfg.Database.User, "SNIPER_DATABASE_USER")
	setStr(&cfg.Database.Password, "SNIPER_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "SNIPER_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "SNIPER_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "SNIPER_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "SNIPER_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SNIPER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SNIPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SNIPER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SNIPER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SNIPER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SNIPER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SNIPER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SNIPER_S3_REGION")
	setStr(&cfg.S3.Bucket, "SNIPER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SNIPER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SNIPER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SNIPER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SNIPER_S3_FORCE_PATH_STYLE")

	// ── Market data ──
	setStr(&cfg.Market.DexScreenerURL, "SNIPER_MARKET_DEXSCREENER_URL")
	setStr(&cfg.Market.JupiterPriceURL, "SNIPER_MARKET_JUPITER_PRICE_URL")
	setStr(&cfg.Market.JupiterQuoteURL, "SNIPER_MARKET_JUPITER_QUOTE_URL")
	setStr(&cfg.Market.JupiterSwapURL, "SNIPER_MARKET_JUPITER_SWAP_URL")
	setStr(&cfg.Market.PumpPortalURL, "SNIPER_MARKET_PUMPPORTAL_URL")
	setInt(&cfg.Market.RateLimitPerSec, "SNIPER_MARKET_RATE_LIMIT_PER_SEC")

	// ── Trading ──
	setStr(&cfg.Trading.RPCURL, "SNIPER_TRADING_RPC_URL")
	setStr(&cfg.Trading.WalletAddress, "SNIPER_TRADING_WALLET_ADDRESS")
	setStr(&cfg.Trading.WalletSecretKey, "SNIPER_TRADING_WALLET_SECRET_KEY")
	setFloat64(&cfg.Trading.BuyAmountSOL, "SNIPER_TRADING_BUY_AMOUNT_SOL")
	setFloat64(&cfg.Trading.ReserveSOL, "SNIPER_TRADING_RESERVE_SOL")
	setInt(&cfg.Trading.SlippageBps, "SNIPER_TRADING_SLIPPAGE_BPS")
	setFloat64(&cfg.Trading.PriorityFeeSOL, "SNIPER_TRADING_PRIORITY_FEE_SOL")
	setFloat64(&cfg.Trading.MaxEntryMC, "SNIPER_TRADING_MAX_ENTRY_MC")
	setFloat64(&cfg.Trading.MinEntryMC, "SNIPER_TRADING_MIN_ENTRY_MC")
	setFloat64(&cfg.Trading.MaxTokenAgeMins, "SNIPER_TRADING_MAX_TOKEN_AGE_MINS")
	setFloat64(&cfg.Trading.MinLiquidityUSD, "SNIPER_TRADING_MIN_LIQUIDITY_USD")

	// ── Exit strategy ──
	setFloat64(&cfg.Exit.HardStopLossFactor, "SNIPER_EXIT_HARD_STOP_LOSS_FACTOR")
	setFloat64(&cfg.Exit.TrailingStopFraction, "SNIPER_EXIT_TRAILING_STOP_FRACTION")
	setFloat64(&cfg.Exit.BreakEvenAtPnL, "SNIPER_EXIT_BREAK_EVEN_AT_PNL")
	setInt(&cfg.Exit.ZombieMaxHoldMins, "SNIPER_EXIT_ZOMBIE_MAX_HOLD_MINS")
	setInt(&cfg.Exit.PollIntervalMS, "SNIPER_EXIT_POLL_INTERVAL_MS")
	setInt(&cfg.Exit.FastPollIntervalMS, "SNIPER_EXIT_FAST_POLL_INTERVAL_MS")
	setInt(&cfg.Exit.SellCooldownSec, "SNIPER_EXIT_SELL_COOLDOWN_SEC")
	setInt(&cfg.Exit.SellMaxAttempts, "SNIPER_EXIT_SELL_MAX_ATTEMPTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SNIPER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SNIPER_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SNIPER_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SNIPER_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SNIPER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SNIPER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SNIPER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SNIPER_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SNIPER_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.IntervalHours, "SNIPER_ARCHIVE_INTERVAL_HOURS")
	setInt(&cfg.Archive.RetainDays, "SNIPER_ARCHIVE_RETAIN_DAYS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SNIPER_MODE")
	setStr(&cfg.LogLevel, "SNIPER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
