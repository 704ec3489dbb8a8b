package bootstrap

import (
	"context"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/api"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/scheduler"
)

// Serve runs the operator API and, when enabled, the scheduler until ctx is cancelled. In-flight
// background scans are awaited before returning.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config

	var sched *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		sched = scheduler.New(a.Scans, a.Scoring, cfg.Schedule, cfg.Scan, a.Logger)
		if err := sched.Start(ctx); err != nil {
			return err
		}
	} else {
		a.Logger.Info("Scheduler disabled")
	}

	handler := api.NewHandler(api.HandlerDeps{
		Scans:   a.Scans,
		Sources: a.Catalog,
		Rules:   a.Settings,
		Scoring: a.Scoring,
		Metrics: a.Metrics,
		Checks:  a.healthChecks(),
		Service: cfg.Service.Name,
		Version: cfg.Service.Version,
	}, a.Logger)
	server := api.NewServer(cfg.Server, cfg.Service.Debug, handler, a.Logger)

	err := server.Run(ctx)

	if sched != nil {
		sched.Stop()
	}
	a.Logger.Info("Waiting for background scans")
	a.Scans.Wait()
	if err != nil {
		a.Logger.Error("Server error", infralogger.Error(err))
	}
	return err
}

func (a *App) healthChecks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{
		"database": func(ctx context.Context) error { return a.DB.PingContext(ctx) },
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	return checks
}
