package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/rangebet/internal/domain"
	"github.com/alanyoungcy/rangebet/internal/feed"
	"github.com/alanyoungcy/rangebet/internal/matching"
	"github.com/alanyoungcy/rangebet/internal/monitor"
	"github.com/alanyoungcy/rangebet/internal/scheduler"
	"github.com/alanyoungcy/rangebet/internal/server"
	"github.com/alanyoungcy/rangebet/internal/server/handler"
)

// MatchMode runs the matching loop.
func (a *App) MatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting match mode")
	return a.runLoops(ctx, deps, false, a.matchingLoop(deps))
}

// MonitorMode runs the settlement monitor loop.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runLoops(ctx, deps, true, a.monitorLoop(deps))
}

// FullMode runs matching and monitoring side by side, plus the archive job
// when it is enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Bool("archive", deps.Archiver != nil),
	)
	loops := []*scheduler.Loop{a.matchingLoop(deps), a.monitorLoop(deps)}
	if deps.Archiver != nil {
		loops = append(loops, a.archiveLoop(deps))
	}
	return a.runLoops(ctx, deps, true, loops...)
}

// InitPoolMode creates the trading pool once and exits. An existing pool is
// not an error.
func (a *App) InitPoolMode(ctx context.Context, deps *Dependencies) error {
	if deps.Vault == nil {
		return errors.New("app: init-pool requires a signer")
	}
	sig, sent, err := deps.Vault.InitTradingPool(ctx)
	if err != nil {
		deps.Emitter.Notify(ctx, domain.EventError, "Trading pool initialisation failed", err.Error())
		return fmt.Errorf("app: init pool: %w", err)
	}
	if !sent {
		a.logger.InfoContext(ctx, "trading pool already initialised")
		return nil
	}
	deps.Emitter.Emit(ctx, domain.EventPoolInitialized, map[string]any{
		"signature": sig,
		"authority": deps.Vault.Authority().String(),
	})
	deps.Emitter.Notify(ctx, domain.EventPoolInitialized, "Trading pool initialised", sig)
	return nil
}

// ArchiveMode runs a single archive pass and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive mode requires s3 configuration")
	}
	return a.archiveCycle(deps)(ctx)
}

func (a *App) matchingLoop(deps *Dependencies) *scheduler.Loop {
	committer := matching.NewCommitter(
		deps.UserStore, deps.PositionStore, deps.Vault, deps.Emitter, deps.Metrics, a.logger,
	)
	svc := matching.NewService(
		deps.OrderStore,
		deps.TradeStore,
		deps.Oracle,
		committer,
		domain.Lamports(a.cfg.Matching.MinTradeLamports),
		deps.Emitter,
		deps.Metrics,
		a.logger,
	)
	return scheduler.New("matching", a.cfg.Matching.Interval.Duration,
		a.alerting("matching", deps, svc.RunCycle),
		scheduler.WithLock(deps.LockManager, a.cfg.Matching.LockTTL.Duration),
		scheduler.WithMetrics(deps.Metrics),
		scheduler.WithLogger(a.logger),
	)
}

func (a *App) monitorLoop(deps *Dependencies) *scheduler.Loop {
	mon := monitor.New(
		deps.PositionStore,
		deps.Quotes,
		deps.Oracle,
		deps.Vault,
		monitor.Config{
			Horizon:     a.cfg.Monitor.Horizon.Duration,
			Concurrency: a.cfg.Monitor.Concurrency,
		},
		deps.Emitter,
		deps.Metrics,
		a.logger,
	)
	return scheduler.New("monitor", a.cfg.Monitor.Interval.Duration,
		a.alerting("monitor", deps, mon.RunCycle),
		scheduler.WithLock(deps.LockManager, a.cfg.Monitor.LockTTL.Duration),
		scheduler.WithMetrics(deps.Metrics),
		scheduler.WithLogger(a.logger),
	)
}

func (a *App) archiveLoop(deps *Dependencies) *scheduler.Loop {
	return scheduler.New("archive", a.cfg.Archive.Interval.Duration,
		a.alerting("archive", deps, a.archiveCycle(deps)),
		scheduler.WithLock(deps.LockManager, time.Hour),
		scheduler.WithMetrics(deps.Metrics),
		scheduler.WithLogger(a.logger),
	)
}

// archiveCycle copies records older than the retention window to S3.
func (a *App) archiveCycle(deps *Dependencies) scheduler.CycleFunc {
	return func(ctx context.Context) error {
		cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
		trades, err := deps.Archiver.ArchiveTrades(ctx, cutoff)
		if err != nil {
			return err
		}
		positions, err := deps.Archiver.ArchivePositions(ctx, cutoff)
		if err != nil {
			return err
		}
		a.logger.InfoContext(ctx, "archive pass complete",
			slog.Time("cutoff", cutoff),
			slog.Int64("trades", trades),
			slog.Int64("positions", positions),
		)
		return nil
	}
}

// alerting forwards cycle failures to the error channel.
func (a *App) alerting(name string, deps *Dependencies, cycle scheduler.CycleFunc) scheduler.CycleFunc {
	return func(ctx context.Context) error {
		err := cycle(ctx)
		if err != nil && ctx.Err() == nil {
			deps.Emitter.Emit(ctx, domain.EventError, map[string]any{
				"loop":  name,
				"error": err.Error(),
			})
			deps.Emitter.Notify(ctx, domain.EventError, name+" cycle failed", err.Error())
		}
		return err
	}
}

// runLoops starts every loop and the operations server, and blocks until ctx
// is cancelled or one of them fails. stream adds the Hermes price stream
// that keeps the monitor's cached quote fresh.
func (a *App) runLoops(ctx context.Context, deps *Dependencies, stream bool, loops ...*scheduler.Loop) error {
	g, ctx := errgroup.WithContext(ctx)

	if stream && a.cfg.Pyth.Stream {
		hermes := feed.NewHermesFeed(a.cfg.Pyth.StreamURL, a.cfg.Pyth.FeedID, deps.PriceCache, a.logger)
		g.Go(func() error {
			return hermes.Run(ctx)
		})
	}

	status := make([]handler.Loop, 0, len(loops))
	for _, l := range loops {
		status = append(status, l)
		g.Go(func() error {
			return l.Start(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		srv := server.New(a.cfg.Server,
			handler.NewHealthHandler(deps.Checks, status, a.logger),
			deps.Metrics.Handler(),
			a.logger,
		)
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	return g.Wait()
}
