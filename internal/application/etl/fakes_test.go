package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/facolos/etl/internal/domain/pipeline"
)

// fakeClock advances by exactly the requested delay whenever a waiter asks
// for one, and records every wait.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// memSources is an in-memory DataSourceRepository.
type memSources struct {
	mu         sync.Mutex
	sources    map[string]pipeline.DataSource
	updateErr  error
	watermarks int
}

func newMemSources(sources ...pipeline.DataSource) *memSources {
	m := &memSources{sources: make(map[string]pipeline.DataSource)}
	for _, s := range sources {
		m.sources[s.ID] = s
	}
	return m
}

func (m *memSources) FindByID(_ context.Context, id string) (*pipeline.DataSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return nil, pipeline.NewOperatorError("source.get", "UNKNOWN_SOURCE",
			fmt.Errorf("%w: %s", pipeline.ErrUnknownSource, id))
	}
	if s.LastExtractTime != nil {
		wm := *s.LastExtractTime
		s.LastExtractTime = &wm
	}
	return &s, nil
}

func (m *memSources) FindAll(_ context.Context) ([]pipeline.DataSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pipeline.DataSource, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memSources) Save(_ context.Context, source *pipeline.DataSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[source.ID] = *source
	return nil
}

func (m *memSources) UpdateWatermark(_ context.Context, id string, watermark time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	s := m.sources[id]
	wm := watermark
	s.LastExtractTime = &wm
	m.sources[id] = s
	m.watermarks++
	return nil
}

func (m *memSources) Watermark(id string) *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sources[id].LastExtractTime
}

// memBatches is an in-memory BatchRunRepository.
type memBatches struct {
	mu   sync.Mutex
	runs []pipeline.BatchRun
}

func (m *memBatches) CreateExclusive(_ context.Context, run *pipeline.BatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.SourceID == run.SourceID && r.TargetTable == run.TargetTable && r.Status == pipeline.BatchStatusRunning {
			return pipeline.NewOperatorError("batch.create", "CONCURRENT_RUN", pipeline.ErrConcurrentRunRejected)
		}
	}
	m.runs = append(m.runs, *run)
	return nil
}

func (m *memBatches) SaveCompletion(_ context.Context, run *pipeline.BatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.runs {
		if r.ID == run.ID {
			if r.Status != pipeline.BatchStatusRunning {
				return pipeline.NewFatalError("batch.complete", "INVALID_TRANSITION", pipeline.ErrInvalidTransition)
			}
			m.runs[i] = *run
			return nil
		}
	}
	return pipeline.NewOperatorError("batch.get", "BATCH_NOT_FOUND", pipeline.ErrBatchNotFound)
}

func (m *memBatches) FindByID(_ context.Context, id string) (*pipeline.BatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.ID == id {
			run := r
			return &run, nil
		}
	}
	return nil, pipeline.NewOperatorError("batch.get", "BATCH_NOT_FOUND", pipeline.ErrBatchNotFound)
}

func (m *memBatches) FindAll(_ context.Context, filter pipeline.BatchFilter) ([]pipeline.BatchRun, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []pipeline.BatchRun
	for i := len(m.runs) - 1; i >= 0; i-- {
		r := m.runs[i]
		if filter.SourceID != "" && r.SourceID != filter.SourceID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r)
	}
	return out, int64(len(out)), nil
}

func (m *memBatches) FindRecentBySource(ctx context.Context, sourceID string, limit int) ([]pipeline.BatchRun, error) {
	out, _, err := m.FindAll(ctx, pipeline.BatchFilter{SourceID: sourceID})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memBatches) All() []pipeline.BatchRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pipeline.BatchRun(nil), m.runs...)
}

// step is one scripted Fetch outcome.
type step struct {
	page pipeline.Page
	err  error
}

// scriptedClient replays steps in order and records the cursors it saw.
type scriptedClient struct {
	mu      sync.Mutex
	steps   []step
	calls   int
	cursors []string
	windows []pipeline.Window
	// gate, when set, blocks the first call until closed
	gate    chan struct{}
	started chan struct{}
}

func (c *scriptedClient) Fetch(ctx context.Context, window pipeline.Window, cursor string) (pipeline.Page, error) {
	c.mu.Lock()
	first := c.calls == 0
	c.mu.Unlock()
	if first && c.gate != nil {
		if c.started != nil {
			close(c.started)
		}
		select {
		case <-c.gate:
		case <-ctx.Done():
			return pipeline.Page{}, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors = append(c.cursors, cursor)
	c.windows = append(c.windows, window)
	if c.calls >= len(c.steps) {
		c.calls++
		return pipeline.Page{}, nil
	}
	s := c.steps[c.calls]
	c.calls++
	return s.page, s.err
}

func (c *scriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type clientMap map[string]pipeline.VendorClient

func (m clientMap) VendorClient(id string) (pipeline.VendorClient, error) {
	c, ok := m[id]
	if !ok {
		return nil, pipeline.NewOperatorError("client.get", "UNKNOWN_SOURCE", pipeline.ErrUnknownSource)
	}
	return c, nil
}

type flattenerMap map[string]pipeline.Flattener

func (m flattenerMap) Flattener(id string) (pipeline.Flattener, error) {
	f, ok := m[id]
	if !ok {
		return nil, pipeline.NewOperatorError("flattener.get", "UNKNOWN_SOURCE", pipeline.ErrUnknownSource)
	}
	return f, nil
}

// idFlattener emits one row per record keyed by its "id" field.
type idFlattener struct{}

func (idFlattener) Flatten(raw json.RawMessage) ([]pipeline.FlatRow, error) {
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, pipeline.NewFatalError("flatten", "SCHEMA_MISMATCH", pipeline.ErrSchemaMismatch)
	}
	id := fmt.Sprint(rec["id"])
	return []pipeline.FlatRow{{Key: pipeline.RowKey{Parent: id}, Columns: rec}}, nil
}

// recordingLoader keeps every chunk it was asked to load.
type recordingLoader struct {
	mu     sync.Mutex
	chunks [][]pipeline.FlatRow
	errs   []error
	// onLoad runs after a successful load
	onLoad func(batchID string, chunk int)
}

func (l *recordingLoader) Load(_ context.Context, _ pipeline.TargetTable, rows []pipeline.FlatRow, batchID, _ string) (int, error) {
	l.mu.Lock()
	if len(l.errs) > 0 {
		err := l.errs[0]
		l.errs = l.errs[1:]
		if err != nil {
			l.mu.Unlock()
			return 0, err
		}
	}
	l.chunks = append(l.chunks, rows)
	n := len(l.chunks)
	hook := l.onLoad
	l.mu.Unlock()

	if hook != nil {
		hook(batchID, n)
	}
	return len(rows), nil
}

func (l *recordingLoader) Chunks() [][]pipeline.FlatRow {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]pipeline.FlatRow(nil), l.chunks...)
}

func (l *recordingLoader) Rows() int {
	n := 0
	for _, c := range l.Chunks() {
		n += len(c)
	}
	return n
}

func records(ids ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(ids))
	for i, id := range ids {
		out[i] = json.RawMessage(fmt.Sprintf(`{"id":%q}`, id))
	}
	return out
}
