package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deedmarket/deedmarket/internal/server"
	"github.com/deedmarket/deedmarket/internal/server/handler"
	"github.com/deedmarket/deedmarket/internal/server/ws"
)

// ServeMode runs the HTTP + WebSocket API until the context is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": deps.Postgres,
			"redis":    deps.Redis,
		}, a.logger),
		Asset:  handler.NewAssetHandler(deps.Ledger, a.logger),
		Market: handler.NewMarketHandler(deps.Market, a.logger),
		Events: handler.NewEventHandler(deps.Market, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		Limiter:     deps.RateLimiter,
		RateLimit:   a.cfg.Market.RateLimitPerMinute,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Background archival alongside serving, when enabled.
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	}

	return g.Wait()
}

// ArchiveMode runs one archival pass and exits. It is intended for cron-style
// scheduling outside the service.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode requires object storage configuration")
	}
	return a.archiveOnce(ctx, deps)
}

// runArchiveLoop periodically exports aged events until the context is
// cancelled.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := time.Duration(a.cfg.Archive.IntervalHours) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.archiveOnce(ctx, deps); err != nil {
				// One failed pass is retried on the next tick.
				a.logger.ErrorContext(ctx, "archive pass failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// archiveOnce exports every event older than the retention window.
func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	n, err := deps.Archiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "archive pass complete",
		slog.Int("events", n),
		slog.Time("cutoff", cutoff),
	)
	return nil
}
