package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/facolos/etl/internal/application/etl"
	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/facolos/etl/internal/infrastructure/scheduler"
	"github.com/facolos/etl/internal/interfaces/http/dto"
)

// RunService runs and cancels extractions
type RunService interface {
	Run(ctx context.Context, req etl.RunRequest) (*etl.RunResult, error)
	Cancel(batchID string) error
}

// BatchQuery reads batch runs
type BatchQuery interface {
	Get(ctx context.Context, batchID string) (*pipeline.BatchRun, error)
	List(ctx context.Context, filter pipeline.BatchFilter) ([]pipeline.BatchRun, int64, error)
}

// SourceQuery reads data sources
type SourceQuery interface {
	FindAll(ctx context.Context) ([]pipeline.DataSource, error)
}

// HealthService evaluates one source
type HealthService interface {
	Health(ctx context.Context, sourceID string) (*etl.SourceHealth, error)
}

// JobQueue accepts async runs
type JobQueue interface {
	SubmitJob(job *scheduler.Job) error
	History(limit int) []*scheduler.Job
}

// ETLHandler serves the run trigger and batch inspection API
type ETLHandler struct {
	BaseHandler
	runs    RunService
	batches BatchQuery
	sources SourceQuery
	health  HealthService
	jobs    JobQueue
	logger  *zap.Logger
}

// NewETLHandler creates an ETLHandler. jobs may be nil, in which case
// async runs are rejected.
func NewETLHandler(runs RunService, batches BatchQuery, sources SourceQuery, health HealthService, jobs JobQueue, logger *zap.Logger) *ETLHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ETLHandler{
		runs:    runs,
		batches: batches,
		sources: sources,
		health:  health,
		jobs:    jobs,
		logger:  logger,
	}
}

// TriggerRun runs one source synchronously, or queues it when async is set.
// A run that reached a batch reports the batch even when it failed.
// POST /runs
func (h *ETLHandler) TriggerRun(c *gin.Context) {
	var body TriggerRunRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.HandleBindError(c, err)
		return
	}
	req, err := body.toRunRequest()
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if body.Async {
		h.enqueue(c, req)
		return
	}

	// A client disconnect must not cancel the batch; POST /batches/:id/cancel does.
	result, err := h.runs.Run(context.WithoutCancel(c.Request.Context()), req)
	if result == nil || result.BatchID == "" {
		if err == nil {
			err = errors.New("run finished without a batch")
		}
		h.HandleError(c, err)
		return
	}

	resp := toRunResponse(result)
	switch result.Status {
	case pipeline.BatchStatusSuccess:
		h.Success(c, resp)
	case pipeline.BatchStatusCancelled:
		h.errorWithData(c, dto.ErrCodeRunCancelled, result.ErrorMessage, resp)
	default:
		h.logger.Warn("Triggered run failed",
			zap.String("source_id", result.SourceID),
			zap.String("batch_id", result.BatchID),
			zap.Error(err),
		)
		h.errorWithData(c, dto.ErrCodeRunFailed, result.ErrorMessage, resp)
	}
}

func (h *ETLHandler) enqueue(c *gin.Context, req etl.RunRequest) {
	if h.jobs == nil {
		h.ErrorWithCode(c, dto.ErrCodeSchedulerBusy, "async runs are disabled")
		return
	}
	job := scheduler.NewJob(scheduler.JobKindExtract, req.SourceID, "api", nowUTC())
	job.Window = req.Window
	job.Mode = req.Mode

	err := h.jobs.SubmitJob(job)
	switch {
	case err == nil:
		h.Accepted(c, AcceptedRunResponse{JobID: job.ID.String(), SourceID: job.SourceID, Status: string(scheduler.JobStatusPending)})
	case errors.Is(err, scheduler.ErrJobAlreadyQueued):
		h.ErrorWithCode(c, dto.ErrCodeConcurrentRun, err.Error())
	default:
		h.ErrorWithCode(c, dto.ErrCodeSchedulerBusy, err.Error())
	}
}

func (h *ETLHandler) errorWithData(c *gin.Context, code, message string, data any) {
	resp := dto.NewErrorResponseWithRequestID(code, message, getRequestID(c))
	resp.Data = data
	c.JSON(dto.GetHTTPStatus(code), resp)
}

// CancelBatch requests cancellation of a batch running in this process
// POST /batches/:id/cancel
func (h *ETLHandler) CancelBatch(c *gin.Context) {
	id := c.Param("id")
	if err := h.runs.Cancel(id); err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(gin.H{"batch_id": id, "cancel_requested": true}))
}

// GetBatch returns one batch run
// GET /batches/:id
func (h *ETLHandler) GetBatch(c *gin.Context) {
	run, err := h.batches.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toBatchResponse(run))
}

// ListBatches lists batch runs, newest first by default
// GET /batches
func (h *ETLHandler) ListBatches(c *gin.Context) {
	req := ListBatchesRequest{ListRequest: dto.DefaultListRequest()}
	if err := c.ShouldBindQuery(&req); err != nil {
		h.HandleBindError(c, err)
		return
	}

	runs, total, err := h.batches.List(c.Request.Context(), req.toFilter())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]BatchResponse, 0, len(runs))
	for i := range runs {
		out = append(out, toBatchResponse(&runs[i]))
	}
	h.SuccessWithMeta(c, out, total, req.Page, req.PageSize)
}

// ListSources lists registered data sources
// GET /sources
func (h *ETLHandler) ListSources(c *gin.Context) {
	sources, err := h.sources.FindAll(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]SourceResponse, 0, len(sources))
	for i := range sources {
		out = append(out, toSourceResponse(&sources[i]))
	}
	h.Success(c, out)
}

// GetSourceHealth returns the monitor evaluation for a source
// GET /sources/:id/health
func (h *ETLHandler) GetSourceHealth(c *gin.Context) {
	health, err := h.health.Health(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toHealthResponse(health))
}

// JobResponse is one scheduler job
type JobResponse struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	SourceID    string  `json:"source_id,omitempty"`
	Trigger     string  `json:"trigger"`
	Status      string  `json:"status"`
	BatchID     string  `json:"batch_id,omitempty"`
	Rows        int     `json:"rows"`
	Error       string  `json:"error,omitempty"`
	DurationSec float64 `json:"duration_seconds"`
}

// ListJobs returns recently finished scheduler jobs
// GET /jobs
func (h *ETLHandler) ListJobs(c *gin.Context) {
	if h.jobs == nil {
		h.Success(c, []JobResponse{})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		h.BadRequest(c, "limit must be a positive integer")
		return
	}
	history := h.jobs.History(limit)
	out := make([]JobResponse, 0, len(history))
	for _, j := range history {
		out = append(out, JobResponse{
			ID:          j.ID.String(),
			Kind:        string(j.Kind),
			SourceID:    j.SourceID,
			Trigger:     j.Trigger,
			Status:      string(j.Status),
			BatchID:     j.BatchID,
			Rows:        j.Rows,
			Error:       j.Error,
			DurationSec: j.Duration().Seconds(),
		})
	}
	h.Success(c, out)
}
