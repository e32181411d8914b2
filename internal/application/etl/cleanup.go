package etl

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/facolos/etl/internal/domain/pipeline"
)

// Purger deletes staging rows created before a cutoff.
type Purger interface {
	PurgeOlderThan(ctx context.Context, table string, cutoff time.Time) (int64, error)
}

// CleanupService applies the staging retention period.
type CleanupService struct {
	sources   pipeline.DataSourceRepository
	purger    Purger
	retention time.Duration
	clock     pipeline.Clock
	logger    *zap.Logger
}

// NewCleanupService creates a cleanup service. A non-positive retention
// disables purging.
func NewCleanupService(sources pipeline.DataSourceRepository, purger Purger, retention time.Duration, clock pipeline.Clock, logger *zap.Logger) *CleanupService {
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CleanupService{
		sources:   sources,
		purger:    purger,
		retention: retention,
		clock:     clock,
		logger:    logger,
	}
}

// Purge deletes expired rows from every registered target table and returns
// the deleted count per table. Each table is purged once even when several
// sources share it.
func (s *CleanupService) Purge(ctx context.Context) (map[string]int64, error) {
	deleted := make(map[string]int64)
	if s.retention <= 0 {
		return deleted, nil
	}

	sources, err := s.sources.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := s.clock.Now().Add(-s.retention)

	for _, src := range sources {
		table := src.Target.Name
		if table == "" {
			continue
		}
		if _, done := deleted[table]; done {
			continue
		}
		n, err := s.purger.PurgeOlderThan(ctx, table, cutoff)
		if err != nil {
			return deleted, err
		}
		deleted[table] = n
		s.logger.Info("Staging rows purged",
			zap.String("target_table", table),
			zap.Time("cutoff", cutoff),
			zap.Int64("deleted", n),
		)
	}
	return deleted, nil
}
