package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyoracle/internal/metrics"
	"github.com/alanyoungcy/polyoracle/internal/pipeline"
	"github.com/alanyoungcy/polyoracle/internal/server"
	"github.com/alanyoungcy/polyoracle/internal/server/handler"
	"github.com/alanyoungcy/polyoracle/internal/server/ws"
)

// APIMode serves the HTTP API, the websocket event feed and metrics.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startAPI(ctx, g, deps)
	a.startSync(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode exports aged audit events to S3 on the configured schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startArchive(ctx, g, deps); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	return g.Wait()
}

// AllMode runs the API and the archiver in one process.
func (a *App) AllMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting all mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startArchive(ctx, g, deps); err != nil {
		return fmt.Errorf("all mode: %w", err)
	}
	a.startAPI(ctx, g, deps)
	a.startSync(ctx, g, deps)
	return g.Wait()
}

// startSync adds the market importer loop to g when it is configured.
func (a *App) startSync(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.MarketSync == nil {
		return
	}
	g.Go(func() error {
		return deps.MarketSync.RunLoop(ctx, a.cfg.Sync.Interval.Duration)
	})
	a.logger.InfoContext(ctx, "market sync scheduled",
		slog.Duration("interval", a.cfg.Sync.Interval.Duration),
	)
}

// startAPI adds the HTTP server, websocket hub and metrics listener to g.
// Everything shuts down gracefully when ctx is cancelled.
func (a *App) startAPI(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	startedAt := time.Now().UTC()

	if n, err := deps.Engine.OracleCount(ctx); err == nil {
		deps.Metrics.RegisteredOracles.Set(float64(n))
	} else {
		a.logger.WarnContext(ctx, "could not seed oracle gauge", slog.String("error", err.Error()))
	}

	// The hub follows the redis bus when there is one so every replica sees
	// every event; otherwise it is fed in-process by the engine.
	hubCfg := ws.Config{AllowedOrigins: a.cfg.Server.WSOrigins, StartedAt: startedAt}
	if deps.Bus != nil {
		hubCfg.Bus = deps.Bus
		hubCfg.Pattern = deps.Bus.EventPattern()
	}
	hub := ws.NewHub(hubCfg, a.logger)
	if deps.Bus == nil {
		deps.Engine.AddSink(hub)
	}
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var (
		stream     handler.StreamReader
		streamName string
		verifier   handler.OverrideVerifier
	)
	if deps.Bus != nil {
		stream, streamName = deps.Bus, deps.Bus.EventStream()
	}
	if deps.OverrideArchive != nil {
		verifier = deps.OverrideArchive
	}

	h := server.Handlers{
		Health:       handler.NewHealthHandler(deps.Checks, a.logger),
		Status:       handler.NewStatusHandler(deps.Engine, a.version, deps.StoreName, startedAt, a.logger),
		Admin:        handler.NewAdminHandler(deps.Engine, a.logger),
		Oracles:      handler.NewOracleHandler(deps.Engine, a.logger),
		Markets:      handler.NewMarketHandler(deps.Engine, a.logger),
		Attestations: handler.NewAttestationHandler(deps.Engine, a.logger),
		Overrides:    handler.NewOverrideHandler(deps.Engine, verifier, a.logger),
		Events:       handler.NewEventHandler(deps.Engine, stream, streamName, a.logger),
		Metrics:      metrics.Handler(deps.Registry),
	}
	srv := server.NewServer(server.Config{
		Addr:        a.cfg.Server.Addr,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKeys:     a.cfg.Server.APIKeys,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, h, hub, deps.RateLimiter, a.logger)

	metricsSrv := metrics.NewServer(a.cfg.Metrics.Addr, deps.Registry)

	g.Go(srv.Start)
	g.Go(func() error {
		if err := metricsSrv.Start(); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout.Duration
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := metricsSrv.Stop(shutCtx); err != nil {
			a.logger.WarnContext(shutCtx, "metrics server shutdown", slog.String("error", err.Error()))
		}
		return srv.Shutdown(shutCtx)
	})

	a.logger.InfoContext(ctx, "api started",
		slog.String("addr", a.cfg.Server.Addr),
		slog.String("metrics_addr", a.cfg.Metrics.Addr),
		slog.Bool("ws_via_bus", deps.Bus != nil),
	)
}

// startArchive adds the scheduled audit-log exporter to g.
func (a *App) startArchive(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.EventArchiver == nil {
		return fmt.Errorf("archiving requires s3 blob storage")
	}
	archiver := pipeline.NewArchiver(deps.EventArchiver, a.cfg.Archive.Retention.Duration, nil, a.logger)
	g.Go(func() error {
		return archiver.RunCron(ctx, a.cfg.Archive.Cron)
	})

	a.logger.InfoContext(ctx, "archiver scheduled",
		slog.String("cron", a.cfg.Archive.Cron),
		slog.Duration("retention", a.cfg.Archive.Retention.Duration),
	)
	return nil
}
