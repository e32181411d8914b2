// Package bootstrap wires the pipeline components from configuration. It is
// shared by the server and the one-shot CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/facolos/etl/internal/application/etl"
	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/facolos/etl/internal/infrastructure/cache"
	"github.com/facolos/etl/internal/infrastructure/config"
	"github.com/facolos/etl/internal/infrastructure/connector"
	"github.com/facolos/etl/internal/infrastructure/notify"
	"github.com/facolos/etl/internal/infrastructure/persistence"
	"github.com/facolos/etl/internal/infrastructure/storage"
	"github.com/facolos/etl/internal/infrastructure/telemetry"
	"github.com/facolos/etl/internal/infrastructure/transform"
)

// Pipeline holds the wired components
type Pipeline struct {
	Config       *config.Config
	DB           *persistence.Database
	Sources      *persistence.GormDataSourceRepository
	Batches      *persistence.GormBatchRunRepository
	Loader       *persistence.StagingLoader
	Clients      *connector.Registry
	Orchestrator *etl.Orchestrator
	Monitor      *etl.Monitor
	Cleanup      *etl.CleanupService
	Metrics      *telemetry.ETLMetrics
	Tracer       *telemetry.TracerProvider

	logger *zap.Logger
}

// Build opens the database and wires every pipeline component. The caller
// owns the returned Pipeline and must Close it.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, version string) (*Pipeline, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{Config: cfg, logger: log}

	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	p.Tracer = tp

	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.DBTraceEnabled,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        "postgresql",
	}, log)

	db, err := persistence.NewDatabase(&cfg.Database, log, cfg.Log.Level)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	p.DB = db
	if err := dbTracing.Register(db.DB); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to register database tracing: %w", err)
	}

	lock, err := cache.NewRunLockFactory(cfg.Redis, cache.WithLogger(log)).CreateLock()
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to create run lock: %w", err)
	}

	var archiver pipeline.PageArchiver = storage.NopArchiver{}
	if cfg.Storage.Enabled {
		s3, err := storage.NewS3Archiver(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("failed to create page archiver: %w", err)
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			_ = p.Close()
			return nil, err
		}
		archiver = s3
	}

	opts := []telemetry.MetricsOption{}
	if cfg.Metrics.Enabled {
		opts = append(opts, telemetry.WithProcessMetrics())
	}
	p.Metrics = telemetry.NewETLMetrics(cfg.Metrics.Namespace, opts...)

	p.Sources = persistence.NewGormDataSourceRepository(db.DB)
	p.Batches = persistence.NewGormBatchRunRepository(db.DB)
	p.Loader = persistence.NewStagingLoader(db.DB, persistence.WithLoaderLogger(log))
	p.Clients = connector.NewRegistry(cfg.Sources, log)

	p.Orchestrator = etl.NewOrchestrator(
		p.Sources,
		p.Batches,
		p.Clients,
		transform.NewRegistry(cfg.Sources),
		p.Loader,
		lock,
		Settings(cfg),
		etl.WithArchiver(archiver),
		etl.WithMetrics(p.Metrics),
		etl.WithLogger(log),
	)

	notifiers := []pipeline.Notifier{notify.NewLogNotifier(log)}
	if cfg.Pipeline.AlertWebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.Pipeline.AlertWebhookURL))
	}
	p.Monitor = etl.NewMonitor(p.Orchestrator.Tracker(), p.Sources, MonitorSettings(cfg), p.Metrics,
		pipeline.SystemClock{}, log, notifiers...).
		WithVendorCheck(p.Clients.Ping).
		WithRowCounter(p.Loader)

	retention := time.Duration(cfg.Pipeline.RetentionDays) * 24 * time.Hour
	p.Cleanup = etl.NewCleanupService(p.Sources, p.Loader, retention, pipeline.SystemClock{}, log)

	return p, nil
}

// Settings derives the orchestrator settings, including per-source retry
// policies
func Settings(cfg *config.Config) etl.Settings {
	s := etl.Settings{
		ChunkSize:  cfg.Pipeline.ChunkSize,
		Lookback:   cfg.Pipeline.Lookback(),
		LockTTL:    cfg.Pipeline.LockTTL,
		MaxBackoff: cfg.Pipeline.MaxBackoff,
		Retry:      make(map[string]etl.RetryPolicy, len(cfg.Sources)),
	}
	for id, src := range cfg.Sources {
		policy := etl.DefaultRetryPolicy()
		if src.RetryAttempts > 0 {
			policy.MaxRetries = src.RetryAttempts
		}
		if src.RetryBackoffBase > 0 {
			policy.BaseDelay = src.RetryBackoffBase
		}
		s.Retry[id] = policy
	}
	return s
}

// MonitorSettings derives alert thresholds, keeping defaults for unset values
func MonitorSettings(cfg *config.Config) etl.MonitorSettings {
	s := etl.DefaultMonitorSettings()
	p := cfg.Pipeline
	if p.MonitorWindow > 0 {
		s.Window = p.MonitorWindow
	}
	if p.MaxConsecutiveFail > 0 {
		s.MaxConsecutiveFail = p.MaxConsecutiveFail
	}
	if p.MaxNoDataRuns > 0 {
		s.MaxNoDataRuns = p.MaxNoDataRuns
	}
	if p.MinSuccessRate > 0 {
		s.MinSuccessRate = p.MinSuccessRate
	}
	if p.MaxRunDuration > 0 {
		s.MaxRunDuration = p.MaxRunDuration
	}
	return s
}

// RegisterSources upserts every configured source into the registry table.
// Stored watermarks are kept.
func (p *Pipeline) RegisterSources(ctx context.Context) error {
	for _, id := range p.Config.SourceIDs() {
		src := p.Config.Sources[id].DataSource()
		if err := p.Sources.Save(ctx, &src); err != nil {
			return fmt.Errorf("register source %s: %w", id, err)
		}
	}
	p.logger.Info("Sources registered", zap.Int("count", len(p.Config.Sources)))
	return nil
}

// Close releases the database and flushes traces
func (p *Pipeline) Close() error {
	var errs []error
	if p.DB != nil {
		errs = append(errs, p.DB.Close())
	}
	if p.Tracer != nil {
		errs = append(errs, p.Tracer.Shutdown(context.Background()))
	}
	return errors.Join(errs...)
}
