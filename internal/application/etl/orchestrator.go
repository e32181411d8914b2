package etl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/facolos/etl/internal/infrastructure/logger"
	"github.com/facolos/etl/internal/infrastructure/telemetry"
)

// Default orchestrator settings
const (
	DefaultChunkSize = 500
	DefaultLookback  = 7 * 24 * time.Hour
	DefaultLockTTL   = 2 * time.Hour
)

// VendorClients resolves the vendor client of a source.
type VendorClients interface {
	VendorClient(sourceID string) (pipeline.VendorClient, error)
}

// Flatteners resolves the flattener of a source.
type Flatteners interface {
	Flattener(sourceID string) (pipeline.Flattener, error)
}

// Settings holds the orchestrator tuning shared by every run.
type Settings struct {
	// ChunkSize is the maximum number of rows per loader call
	ChunkSize int
	// Lookback is the first-run window length
	Lookback time.Duration
	// LockTTL bounds how long a crashed run can hold its pair
	LockTTL time.Duration
	// LoadTimeout bounds one loader call; zero means no timeout
	LoadTimeout time.Duration
	// MaxBackoff caps a single retry delay
	MaxBackoff time.Duration
	// Retry holds per-source retry policies; sources not listed use DefaultRetryPolicy
	Retry map[string]RetryPolicy
}

// RunRequest triggers one run.
type RunRequest struct {
	SourceID string
	// Window overrides the incremental window when set
	Window *pipeline.Window
	// Mode overrides the target's load mode when set; it must match what the target supports
	Mode pipeline.LoadMode
}

// RunResult is the outcome of a run that opened a batch.
type RunResult struct {
	BatchID           string
	SourceID          string
	TargetTable       string
	Mode              pipeline.LoadMode
	Window            pipeline.Window
	Status            pipeline.BatchStatus
	RecordsFetched    int
	RecordsExtracted  int
	RecordsLoaded     int
	Pages             int
	Chunks            int
	ErrorMessage      string
	WatermarkAdvanced bool
	StartedAt         time.Time
	EndedAt           time.Time
}

// Orchestrator sequences client, flattener and loader for one (source,
// target) pair at a time and finalizes the batch record.
type Orchestrator struct {
	sources    pipeline.DataSourceRepository
	tracker    *Tracker
	clients    VendorClients
	flatteners Flatteners
	loader     pipeline.StagingLoader
	lock       pipeline.RunLock
	archiver   pipeline.PageArchiver
	clock      pipeline.Clock
	metrics    *telemetry.ETLMetrics
	logger     *zap.Logger
	settings   Settings

	mu     sync.Mutex
	active map[string]*activeRun
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithClock injects the clock used for windows, timestamps and retry waits
func WithClock(clock pipeline.Clock) OrchestratorOption {
	return func(o *Orchestrator) {
		o.clock = clock
	}
}

// WithArchiver archives every raw page before it is flattened
func WithArchiver(archiver pipeline.PageArchiver) OrchestratorOption {
	return func(o *Orchestrator) {
		o.archiver = archiver
	}
}

// WithMetrics records run metrics
func WithMetrics(metrics *telemetry.ETLMetrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithLogger sets the orchestrator logger
func WithLogger(l *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// NewOrchestrator wires an orchestrator. The tracker shares its clock.
func NewOrchestrator(
	sources pipeline.DataSourceRepository,
	batches pipeline.BatchRunRepository,
	clients VendorClients,
	flatteners Flatteners,
	loader pipeline.StagingLoader,
	lock pipeline.RunLock,
	settings Settings,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		sources:    sources,
		clients:    clients,
		flatteners: flatteners,
		loader:     loader,
		lock:       lock,
		clock:      pipeline.SystemClock{},
		logger:     zap.NewNop(),
		active:     make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(o)
	}
	if settings.ChunkSize <= 0 {
		settings.ChunkSize = DefaultChunkSize
	}
	if settings.Lookback <= 0 {
		settings.Lookback = DefaultLookback
	}
	if settings.LockTTL <= 0 {
		settings.LockTTL = DefaultLockTTL
	}
	o.settings = settings
	o.tracker = NewTracker(batches, o.clock, o.logger)
	return o
}

// Tracker returns the batch tracker
func (o *Orchestrator) Tracker() *Tracker {
	return o.tracker
}

// activeRun is the cancellation handle of an in-flight batch.
type activeRun struct {
	cancelOnce sync.Once
	cancelled  chan struct{}
}

func (r *activeRun) cancel() {
	r.cancelOnce.Do(func() { close(r.cancelled) })
}

// plan is a validated run request.
type plan struct {
	source    *pipeline.DataSource
	target    pipeline.TargetTable
	mode      pipeline.LoadMode
	client    pipeline.VendorClient
	flattener pipeline.Flattener
	retry     RetryPolicy
}

// Run executes one batch for req.SourceID. Operator errors and concurrency
// rejections return before any batch exists, with a nil result. Once a batch
// is opened the result is always returned; the error is non-nil unless the
// batch succeeded.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	ctx, _ = logger.WithSourceID(ctx, o.logger, req.SourceID)
	ctx, span := telemetry.StartSpan(ctx, "etl.run", telemetry.WithAttribute(telemetry.SpanAttrSourceID, req.SourceID))
	defer span.End()

	p, err := o.prepare(ctx, req)
	if err != nil {
		telemetry.RecordError(span, err)
		logger.WithLogger(ctx, o.logger).Warn("Run rejected", zap.Error(err))
		return nil, err
	}

	lockKey := p.source.ID + "|" + p.target.Name
	acquired, err := o.lock.TryAcquire(ctx, lockKey, o.settings.LockTTL)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if !acquired {
		err := pipeline.NewOperatorError("etl.run", "CONCURRENT_RUN",
			fmt.Errorf("%w: %s", pipeline.ErrConcurrentRunRejected, lockKey))
		telemetry.RecordError(span, err)
		logger.WithLogger(ctx, o.logger).Warn("Run rejected", zap.Error(err))
		return nil, err
	}
	defer func() {
		if err := o.lock.Release(context.WithoutCancel(ctx), lockKey); err != nil {
			logger.WithLogger(ctx, o.logger).Warn("Failed to release run lock", zap.String("lock", lockKey), zap.Error(err))
		}
	}()

	window := p.source.NextWindow(o.clock.Now(), o.settings.Lookback)
	if req.Window != nil {
		window = *req.Window
	}

	batch, err := o.tracker.Begin(ctx, p.source.ID, p.target, p.mode, window)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	ctx, _ = logger.WithBatchID(ctx, o.logger, batch.ID)
	telemetry.SetAttributes(span,
		telemetry.SpanAttrBatchID, batch.ID,
		telemetry.SpanAttrTargetTable, p.target.Name,
		telemetry.SpanAttrLoadMode, string(p.mode),
		telemetry.SpanAttrWindowStart, window.Start,
		telemetry.SpanAttrWindowEnd, window.End,
	)

	handle := o.register(batch.ID)
	defer o.unregister(batch.ID)
	o.metrics.RunStarted(p.source.ID)

	result := &RunResult{
		BatchID:     batch.ID,
		SourceID:    p.source.ID,
		TargetTable: p.target.Name,
		Mode:        p.mode,
		Window:      window,
		StartedAt:   batch.StartedAt,
	}
	runErr := o.execute(ctx, p, batch.ID, window, handle, result)

	status := pipeline.BatchStatusSuccess
	switch {
	case runErr == nil:
	case errors.Is(runErr, pipeline.ErrRunCancelled):
		status = pipeline.BatchStatusCancelled
		result.ErrorMessage = runErr.Error()
	default:
		status = pipeline.BatchStatusFailed
		result.ErrorMessage = runErr.Error()
	}

	// The ledger and watermark must be written even when ctx is cancelled.
	finalCtx := context.WithoutCancel(ctx)
	completed, err := o.tracker.Complete(finalCtx, batch.ID, status, result.RecordsExtracted, result.RecordsLoaded, result.ErrorMessage)
	if err != nil {
		logger.WithLogger(ctx, o.logger).Error("Failed to complete batch", zap.Error(err))
		telemetry.RecordError(span, err)
		o.metrics.RunAbandoned(p.source.ID)
		result.Status = pipeline.BatchStatusRunning
		return result, errors.Join(runErr, err)
	}
	result.Status = completed.Status
	if completed.EndedAt != nil {
		result.EndedAt = *completed.EndedAt
	}
	o.metrics.RunFinished(p.source.ID, p.target.Name, string(result.Status), completed.Duration(), result.EndedAt)
	telemetry.SetAttributes(span, telemetry.SpanAttrStatus, string(result.Status))

	if status != pipeline.BatchStatusSuccess {
		telemetry.RecordError(span, runErr)
		telemetry.SetAttributes(span, telemetry.SpanAttrErrorKind, pipeline.KindOf(runErr).String())
		return result, runErr
	}

	if o.shouldAdvance(p.source, req.Window) && p.source.AdvanceWatermark(window.End, o.clock.Now()) {
		if err := o.sources.UpdateWatermark(finalCtx, p.source.ID, window.End); err != nil {
			// The batch stands; the next run reprocesses this window.
			logger.WithLogger(ctx, o.logger).Error("Failed to advance watermark", zap.Time("watermark", window.End), zap.Error(err))
			telemetry.RecordError(span, err)
			return result, err
		}
		result.WatermarkAdvanced = true
	}
	telemetry.SetOK(span)
	return result, nil
}

// shouldAdvance reports whether a successful run over window may move the
// watermark. An override only advances it when it starts at or before the
// current watermark, so no gap is skipped.
func (o *Orchestrator) shouldAdvance(source *pipeline.DataSource, override *pipeline.Window) bool {
	if override == nil {
		return true
	}
	if source.LastExtractTime == nil {
		return false
	}
	return !override.Start.After(*source.LastExtractTime)
}

// prepare performs every operator check. Nothing is written.
func (o *Orchestrator) prepare(ctx context.Context, req RunRequest) (*plan, error) {
	if req.SourceID == "" {
		return nil, pipeline.NewOperatorError("etl.run", "UNKNOWN_SOURCE",
			fmt.Errorf("%w: source id is required", pipeline.ErrUnknownSource))
	}
	source, err := o.sources.FindByID(ctx, req.SourceID)
	if err != nil {
		return nil, err
	}
	if !source.Active {
		return nil, pipeline.NewOperatorError("etl.run", "SOURCE_INACTIVE",
			fmt.Errorf("%w: %s", pipeline.ErrSourceInactive, source.ID))
	}

	target := source.Target
	if err := target.Validate(); err != nil {
		return nil, err
	}
	mode := target.Mode
	if req.Mode != "" {
		if !req.Mode.IsValid() {
			return nil, pipeline.NewOperatorError("etl.run", "INVALID_MODE",
				fmt.Errorf("%w: %q", pipeline.ErrModeNotSupported, req.Mode))
		}
		if !target.Supports(req.Mode) {
			return nil, pipeline.NewOperatorError("etl.run", "MODE_NOT_SUPPORTED",
				fmt.Errorf("%w: %s is configured for %s, not %s", pipeline.ErrModeNotSupported, target.Name, target.Mode, req.Mode))
		}
		mode = req.Mode
	}
	if req.Window != nil {
		if err := req.Window.Validate(); err != nil {
			return nil, err
		}
	}

	client, err := o.clients.VendorClient(source.ID)
	if err != nil {
		return nil, err
	}
	flattener, err := o.flatteners.Flattener(source.ID)
	if err != nil {
		return nil, err
	}

	return &plan{
		source:    source,
		target:    target,
		mode:      mode,
		client:    client,
		flattener: flattener,
		retry:     o.retryPolicy(source.ID),
	}, nil
}

func (o *Orchestrator) retryPolicy(sourceID string) RetryPolicy {
	policy, ok := o.settings.Retry[sourceID]
	if !ok {
		policy = DefaultRetryPolicy()
	}
	if o.settings.MaxBackoff > 0 {
		policy.MaxDelay = o.settings.MaxBackoff
	}
	return policy
}

// execute streams pages through the flattener into chunked loads. Counts in
// result reflect progress even when an error is returned.
func (o *Orchestrator) execute(ctx context.Context, p *plan, batchID string, window pipeline.Window, handle *activeRun, result *RunResult) error {
	log := logger.WithLogger(ctx, o.logger)
	target := pipeline.TargetTable{Name: p.target.Name, KeyColumns: p.target.KeyColumns, Mode: p.mode}
	buffer := make([]pipeline.FlatRow, 0, o.settings.ChunkSize)

	flush := func(rows []pipeline.FlatRow) error {
		if err := o.checkCancelled(ctx, handle); err != nil {
			return err
		}
		var loaded int
		err := o.withRetry(ctx, handle, p, "load", func(ctx context.Context) error {
			// A started chunk always finishes; cancellation is honoured between chunks.
			loadCtx := context.WithoutCancel(ctx)
			if o.settings.LoadTimeout > 0 {
				var cancel context.CancelFunc
				loadCtx, cancel = context.WithTimeout(loadCtx, o.settings.LoadTimeout)
				defer cancel()
			}
			n, err := o.loader.Load(loadCtx, target, rows, batchID, p.source.ID)
			if err != nil && errors.Is(err, context.DeadlineExceeded) {
				return pipeline.NewTransientError("load", "SINK_TIMEOUT", err)
			}
			loaded = n
			return err
		})
		if err != nil {
			return err
		}
		result.RecordsLoaded += loaded
		result.Chunks++
		o.metrics.RowsLoaded(p.source.ID, target.Name, loaded)
		log.Debug("Chunk loaded", zap.Int("chunk", result.Chunks), zap.Int("rows", loaded))
		return nil
	}

	cursor := ""
	for pageNo := 0; ; pageNo++ {
		if err := o.checkCancelled(ctx, handle); err != nil {
			return err
		}

		var page pipeline.Page
		err := o.withRetry(ctx, handle, p, "fetch", func(ctx context.Context) error {
			var err error
			page, err = p.client.Fetch(ctx, window, cursor)
			return err
		})
		if err != nil {
			return err
		}
		result.Pages++
		result.RecordsFetched += len(page.Records)
		o.metrics.RecordsExtracted(p.source.ID, len(page.Records))

		if o.archiver != nil && len(page.Records) > 0 {
			records := page.Records
			err := o.withRetry(ctx, handle, p, "archive", func(ctx context.Context) error {
				return o.archiver.ArchivePage(ctx, p.source.ID, batchID, pageNo, records)
			})
			if err != nil {
				return err
			}
		}

		for _, raw := range page.Records {
			rows, err := p.flattener.Flatten(raw)
			if err != nil {
				return fmt.Errorf("page %d: %w", pageNo, err)
			}
			result.RecordsExtracted += len(rows)
			buffer = append(buffer, rows...)

			for len(buffer) >= o.settings.ChunkSize {
				chunk := make([]pipeline.FlatRow, o.settings.ChunkSize)
				copy(chunk, buffer[:o.settings.ChunkSize])
				buffer = append(buffer[:0], buffer[o.settings.ChunkSize:]...)
				if err := flush(chunk); err != nil {
					return err
				}
			}
		}

		log.Debug("Page processed",
			zap.Int("page", pageNo),
			zap.Int("records", len(page.Records)),
			zap.Int("buffered_rows", len(buffer)),
		)

		if page.Done() {
			break
		}
		if page.NextCursor == cursor {
			return pipeline.NewFatalError("fetch", "CURSOR_STUCK",
				fmt.Errorf("vendor returned the same cursor %q twice", cursor))
		}
		cursor = page.NextCursor
	}

	if len(buffer) > 0 {
		return flush(buffer)
	}
	return nil
}

// withRetry runs fn until it succeeds, fails non-transiently or exhausts the
// retry policy. Waits go through the injected clock and stop on cancellation.
func (o *Orchestrator) withRetry(ctx context.Context, handle *activeRun, p *plan, op string, fn func(context.Context) error) error {
	state := NewRetryState(p.retry)
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if cerr := o.checkCancelled(ctx, handle); cerr != nil {
			return cerr
		}
		if !pipeline.IsTransient(err) {
			return err
		}
		if !state.Record(err, o.clock.Now()) {
			return state.Exhausted(op)
		}

		delay := state.Delay(o.clock.Now())
		o.metrics.Retried(p.source.ID, op)
		telemetry.AddEvent(telemetry.SpanFromContext(ctx), "retry_scheduled",
			"operation", op, telemetry.SpanAttrAttempt, state.Attempts, "delay", delay)
		logger.WithLogger(ctx, o.logger).Warn("Transient failure, retrying",
			zap.String("operation", op),
			zap.Int("attempt", state.Attempts),
			zap.Int("max_retries", state.Policy.MaxRetries),
			zap.Duration("delay", delay),
			zap.Time("next_eligible_at", state.NextEligibleAt),
			zap.Error(err),
		)

		select {
		case <-o.clock.After(delay):
		case <-handle.cancelled:
			return o.cancelledError(ctx)
		case <-ctx.Done():
			return o.cancelledError(ctx)
		}
	}
}

// checkCancelled returns ErrRunCancelled once the run was cancelled.
func (o *Orchestrator) checkCancelled(ctx context.Context, handle *activeRun) error {
	select {
	case <-handle.cancelled:
		return o.cancelledError(ctx)
	default:
	}
	if ctx.Err() != nil {
		return o.cancelledError(ctx)
	}
	return nil
}

func (o *Orchestrator) cancelledError(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return pipeline.NewFatalError("etl.run", "CANCELLED", fmt.Errorf("%w: %v", pipeline.ErrRunCancelled, cause))
	}
	return pipeline.NewFatalError("etl.run", "CANCELLED", pipeline.ErrRunCancelled)
}

func (o *Orchestrator) register(batchID string) *activeRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	run := &activeRun{cancelled: make(chan struct{})}
	o.active[batchID] = run
	return run
}

func (o *Orchestrator) unregister(batchID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, batchID)
}

// Cancel asks an in-flight batch to stop at its next chunk or page boundary.
// It returns ErrBatchNotFound when this process is not running batchID.
func (o *Orchestrator) Cancel(batchID string) error {
	o.mu.Lock()
	run, ok := o.active[batchID]
	o.mu.Unlock()
	if !ok {
		return pipeline.NewOperatorError("etl.cancel", "BATCH_NOT_RUNNING",
			fmt.Errorf("%w: %s is not running here", pipeline.ErrBatchNotFound, batchID))
	}
	run.cancel()
	logger.WithLogger(context.Background(), o.logger).Info("Batch cancellation requested", zap.String("batch_id", batchID))
	return nil
}

// ActiveBatches lists the batch ids running in this process
func (o *Orchestrator) ActiveBatches() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	return ids
}

// SourceOutcome is one source's part of RunAll
type SourceOutcome struct {
	SourceID string
	Result   *RunResult
	Err      error
}

// RunAll runs every active source concurrently, at most limit at a time
// (zero means unbounded). Failures of one source do not stop the others.
func (o *Orchestrator) RunAll(ctx context.Context, limit int) ([]SourceOutcome, error) {
	sources, err := o.sources.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]pipeline.DataSource, 0, len(sources))
	for _, s := range sources {
		if s.Active {
			active = append(active, s)
		}
	}

	outcomes := make([]SourceOutcome, len(active))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, s := range active {
		g.Go(func() error {
			res, err := o.Run(gctx, RunRequest{SourceID: s.ID})
			outcomes[i] = SourceOutcome{SourceID: s.ID, Result: res, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}
