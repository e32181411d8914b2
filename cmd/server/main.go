package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/facolos/etl/internal/bootstrap"
	"github.com/facolos/etl/internal/infrastructure/config"
	"github.com/facolos/etl/internal/infrastructure/logger"
	"github.com/facolos/etl/internal/infrastructure/scheduler"
	"github.com/facolos/etl/internal/interfaces/http/handler"
	"github.com/facolos/etl/internal/interfaces/http/router"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting ETL server",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
		zap.Int("sources", len(cfg.Sources)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := bootstrap.Build(ctx, cfg, log, version)
	if err != nil {
		log.Fatal("Failed to wire pipeline", zap.Error(err))
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Error("Error closing pipeline", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	if err := p.RegisterSources(ctx); err != nil {
		log.Fatal("Failed to register sources", zap.Error(err))
	}

	// Scheduler: worker pool plus cron entries per source
	var (
		sched   *scheduler.Scheduler
		trigger *scheduler.CronTrigger
		jobs    handler.JobQueue
	)
	if cfg.Scheduler.Enabled {
		executor := scheduler.NewPipelineExecutor(p.Orchestrator, p.Monitor, p.Cleanup, log)
		sched, err = scheduler.New(scheduler.Config{
			Workers:     cfg.Scheduler.Workers,
			QueueSize:   cfg.Scheduler.QueueSize,
			JobTimeout:  cfg.Pipeline.JobTimeout,
			HistorySize: scheduler.DefaultConfig().HistorySize,
		}, executor, log)
		if err != nil {
			log.Fatal("Failed to create scheduler", zap.Error(err))
		}
		trigger = scheduler.NewCronTrigger(scheduler.CronTriggerConfig{
			MonitorSchedule: cfg.Scheduler.MonitorSchedule,
			CleanupSchedule: cfg.Scheduler.CleanupSchedule,
		}, sched, p.Sources, log)

		// Background jobs outlive request contexts; shutdown stops them explicitly
		if err := sched.Start(context.Background()); err != nil {
			log.Fatal("Failed to start scheduler", zap.Error(err))
		}
		if err := trigger.Start(ctx); err != nil {
			log.Fatal("Failed to start cron trigger", zap.Error(err))
		}
		for _, e := range trigger.Entries() {
			log.Info("Scheduled entry", zap.String("entry", e.Name), zap.Time("next", e.Next))
		}
		jobs = sched
	} else {
		log.Info("Scheduler disabled, runs are triggered through the API only")
	}

	systemHandler := handler.NewSystemHandler(cfg.App.Name, version,
		handler.HealthCheck{Name: "database", Check: p.DB.Ping},
	)
	etlHandler := handler.NewETLHandler(
		p.Orchestrator,
		p.Orchestrator.Tracker(),
		p.Sources,
		p.Monitor,
		jobs,
		log,
	)

	engineCfg := router.EngineConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		TracingEnabled: cfg.Telemetry.Enabled,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		AuthSecret:     cfg.HTTP.AuthSecret,
		RunRateLimit:   cfg.HTTP.RunRateLimit,
		RunRateBurst:   cfg.HTTP.RunRateBurst,
		Logger:         log,
	}
	if cfg.Metrics.Enabled {
		engineCfg.Metrics = p.Metrics.Registry()
		engineCfg.MetricsNamespace = cfg.Metrics.Namespace
		engineCfg.MetricsHandler = p.Metrics.Handler()
	}
	engine, err := router.NewEngine(engineCfg, router.Handlers{ETL: etlHandler, System: systemHandler})
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serveErr:
		if err != nil {
			log.Error("HTTP server failed", zap.Error(err))
		}
	}

	grace := cfg.Scheduler.ShutdownGracePeriod
	if grace <= 0 {
		grace = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	// The cron trigger stops first so nothing new is queued while draining
	if trigger != nil {
		if err := trigger.Stop(shutdownCtx); err != nil {
			log.Warn("Cron trigger stop timed out", zap.Error(err))
		}
	}

	var g errgroup.Group
	g.Go(func() error { return srv.Shutdown(shutdownCtx) })
	if sched != nil {
		g.Go(func() error { return sched.Stop(shutdownCtx) })
	}
	if err := g.Wait(); err != nil {
		log.Error("Forced shutdown", zap.Error(err))
		return
	}

	log.Info("Server exited gracefully")
}
