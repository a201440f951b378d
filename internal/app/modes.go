package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cachelabs/solsniper/internal/domain"
	"github.com/cachelabs/solsniper/internal/monitor"
	"github.com/cachelabs/solsniper/internal/pipeline"
	"github.com/cachelabs/solsniper/internal/server"
	"github.com/cachelabs/solsniper/internal/server/handler"
	"github.com/cachelabs/solsniper/internal/server/ws"
	"github.com/cachelabs/solsniper/internal/service"
)

// TradeMode runs the full bot: position monitors are resumed, the buy
// endpoint accepts new entries, and the HTTP/WS API serves the dashboard.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runBot(ctx, deps, true)
}

// MonitorMode runs exit-only: existing positions are monitored and sold per
// the exit strategy, but no new buys are accepted.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runBot(ctx, deps, false)
}

func (a *App) runBot(ctx context.Context, deps *Dependencies, buysEnabled bool) error {
	g, ctx := errgroup.WithContext(ctx)

	// WebSocket hub: every persisted monitor cycle is pushed to subscribers.
	hub := ws.NewHub(a.cfg.Mode, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	sup := monitor.NewSupervisor(monitor.Deps{
		Store:    deps.PositionStore,
		Markets:  deps.Markets,
		Balances: deps.Chain,
		Seller:   deps.Executor,
		Notifier: deps.Notifier,
		Exit:     a.cfg.Exit,
		Logger:   a.logger,
		OnUpdate: func(pos domain.Position) {
			hub.Broadcast(ws.ChannelPositions, pos)
		},
		OnSell: func(rec domain.SellRecord) {
			hub.Broadcast(ws.ChannelSells, rec)
		},
	})

	resumed, err := sup.ResumeAll(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "resume active positions failed",
			slog.String("error", err.Error()),
		)
	}
	a.logger.InfoContext(ctx, "position monitors resumed", slog.Int("count", resumed))

	// Wait out the monitors on shutdown so in-flight sells finish cleanly.
	g.Go(func() error {
		<-ctx.Done()
		sup.Stop()
		return ctx.Err()
	})

	tradeSvc := service.NewTradeService(
		deps.PositionStore,
		deps.Markets,
		deps.Chain,
		deps.Jupiter,
		deps.Launchpad,
		deps.LockManager,
		sup,
		deps.Notifier,
		a.cfg.Trading,
		a.cfg.Exit,
		a.logger,
	)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, hub, sup, tradeSvc, buysEnabled)
	}

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		arch := pipeline.NewArchiver(
			deps.Archiver,
			a.cfg.Archive.ArchiveInterval(),
			a.cfg.Archive.ArchiveCutoffAge(),
			a.logger,
		)
		g.Go(func() error {
			return arch.Run(ctx)
		})
	}

	return g.Wait()
}

func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	hub *ws.Hub,
	sup *monitor.Supervisor,
	tradeSvc *service.TradeService,
	buysEnabled bool,
) {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Positions: handler.NewPositionHandler(deps.PositionStore, sup, tradeSvc, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, sup),
	}
	if buysEnabled {
		handlers.Trades = handler.NewTradeHandler(tradeSvc, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimiter:     deps.RateLimiter,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
