package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/facolos/etl/internal/application/etl"
	"github.com/facolos/etl/internal/domain/pipeline"
)

// Runner runs one extraction
type Runner interface {
	Run(ctx context.Context, req etl.RunRequest) (*etl.RunResult, error)
}

// HealthChecker evaluates pipeline health and raises alerts
type HealthChecker interface {
	Check(ctx context.Context) ([]pipeline.Alert, error)
}

// Purger removes expired staging rows
type Purger interface {
	Purge(ctx context.Context) (map[string]int64, error)
}

// PipelineExecutor dispatches scheduled jobs to the ETL services
type PipelineExecutor struct {
	runner  Runner
	monitor HealthChecker
	cleanup Purger
	logger  *zap.Logger
}

// NewPipelineExecutor creates an executor. monitor and cleanup may be nil,
// in which case jobs of that kind fail.
func NewPipelineExecutor(runner Runner, monitor HealthChecker, cleanup Purger, logger *zap.Logger) *PipelineExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipelineExecutor{runner: runner, monitor: monitor, cleanup: cleanup, logger: logger}
}

// Execute runs the job
func (e *PipelineExecutor) Execute(ctx context.Context, job *Job) error {
	switch job.Kind {
	case JobKindExtract:
		return e.extract(ctx, job)
	case JobKindMonitor:
		if e.monitor == nil {
			return fmt.Errorf("%w: %s not configured", ErrUnknownJobKind, job.Kind)
		}
		alerts, err := e.monitor.Check(ctx)
		if err != nil {
			return err
		}
		e.logger.Info("Health check finished", zap.Int("alerts", len(alerts)))
		return nil
	case JobKindCleanup:
		if e.cleanup == nil {
			return fmt.Errorf("%w: %s not configured", ErrUnknownJobKind, job.Kind)
		}
		purged, err := e.cleanup.Purge(ctx)
		if err != nil {
			return err
		}
		var total int64
		for _, n := range purged {
			total += n
		}
		job.Rows = int(total)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownJobKind, job.Kind)
	}
}

func (e *PipelineExecutor) extract(ctx context.Context, job *Job) error {
	result, err := e.runner.Run(ctx, etl.RunRequest{SourceID: job.SourceID, Window: job.Window, Mode: job.Mode})
	if result != nil {
		job.BatchID = result.BatchID
		job.Rows = result.RecordsLoaded
	}
	if errors.Is(err, pipeline.ErrConcurrentRunRejected) || errors.Is(err, pipeline.ErrSourceInactive) {
		return fmt.Errorf("%w: %v", ErrJobSkipped, err)
	}
	return err
}

var _ JobExecutor = (*PipelineExecutor)(nil)
