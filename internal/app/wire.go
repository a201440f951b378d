package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/cachelabs/solsniper/internal/blob/s3"
	"github.com/cachelabs/solsniper/internal/cache/redis"
	"github.com/cachelabs/solsniper/internal/config"
	"github.com/cachelabs/solsniper/internal/crypto"
	"github.com/cachelabs/solsniper/internal/domain"
	"github.com/cachelabs/solsniper/internal/executor"
	"github.com/cachelabs/solsniper/internal/market"
	"github.com/cachelabs/solsniper/internal/notify"
	"github.com/cachelabs/solsniper/internal/platform/dexscreener"
	"github.com/cachelabs/solsniper/internal/platform/jupiter"
	"github.com/cachelabs/solsniper/internal/platform/pumpportal"
	"github.com/cachelabs/solsniper/internal/platform/solana"
	"github.com/cachelabs/solsniper/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	PositionStore *postgres.PositionStore

	// Caches
	PriceCache  domain.PriceCache
	TokenCache  domain.MarketDataCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Chain and market access
	Wallet    *crypto.Wallet
	Chain     *solana.Client
	Jupiter   *jupiter.Client
	Launchpad *pumpportal.Client
	Markets   *market.Provider

	// Execution
	Executor *executor.SellExecutor

	// Blob storage (nil unless archival is enabled)
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.PositionStore = postgres.NewPositionStore(pgClient.Pool())

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.TokenCache = redis.NewTokenCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)

	// --- Wallet and chain ---
	wallet, err := crypto.NewWallet(cfg.Trading.WalletSecretKey)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: wallet: %w", err)
	}
	deps.Wallet = wallet

	walletAddr := cfg.Trading.WalletAddress
	if walletAddr == "" {
		walletAddr = wallet.Address()
	}
	deps.Chain = solana.NewClient(cfg.Trading.RPCURL, walletAddr)

	// --- Market data and swap venues ---
	deps.Jupiter = jupiter.NewClient(jupiter.ClientConfig{
		PriceURL:    cfg.Market.JupiterPriceURL,
		QuoteURL:    cfg.Market.JupiterQuoteURL,
		SwapURL:     cfg.Market.JupiterSwapURL,
		SlippageBps: cfg.Trading.SlippageBps,
		FastTimeout: time.Duration(cfg.Market.FastPriceTimeoutMS) * time.Millisecond,
	}, wallet, deps.Chain)

	deps.Launchpad = pumpportal.NewClient(
		cfg.Market.PumpPortalURL,
		cfg.Trading.SlippageBps,
		wallet,
		deps.Chain,
	)

	screener := dexscreener.NewClient(
		cfg.Market.DexScreenerURL,
		time.Duration(cfg.Market.DataTimeoutMS)*time.Millisecond,
	)
	deps.Markets = market.NewProvider(
		deps.Jupiter,
		screener,
		deps.PriceCache,
		deps.TokenCache,
		deps.RateLimiter,
		cfg.Market.RateLimitPerSec,
		logger,
	)

	// --- S3 blob storage (archival only) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.PositionStore)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Sell executor ---
	deps.Executor = executor.NewSellExecutor(
		deps.PositionStore,
		deps.Chain,
		deps.Jupiter,
		deps.Launchpad,
		deps.Notifier,
		executor.Config{
			Cooldown:            cfg.Exit.SellCooldown(),
			MaxAttempts:         cfg.Exit.SellMaxAttempts,
			BasePriorityFee:     cfg.Exit.SellBasePriorityFee,
			FeeStep:             cfg.Exit.SellFeeStep,
			ConfirmPolls:        cfg.Exit.ConfirmPolls,
			ConfirmPollInterval: cfg.Exit.ConfirmPollInterval(),
		},
		logger,
	)

	return deps, cleanup, nil
}
