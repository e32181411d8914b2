package storage

import (
	"context"
	"encoding/json"

	"github.com/facolos/etl/internal/domain/pipeline"
)

// NopArchiver discards pages. It is used when archiving is disabled.
type NopArchiver struct{}

// ArchivePage does nothing
func (NopArchiver) ArchivePage(ctx context.Context, sourceID, batchID string, pageNo int, records []json.RawMessage) error {
	return nil
}

// Ensure NopArchiver implements PageArchiver
var _ pipeline.PageArchiver = NopArchiver{}
