package handler

import (
	"time"

	"github.com/facolos/etl/internal/application/etl"
	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/facolos/etl/internal/interfaces/http/dto"
)

// TriggerRunRequest is the body of POST /runs
type TriggerRunRequest struct {
	SourceID    string     `json:"source_id" binding:"required,max=100"`
	WindowStart *time.Time `json:"window_start"`
	WindowEnd   *time.Time `json:"window_end" binding:"required_with=WindowStart"`
	Mode        string     `json:"mode" binding:"omitempty,oneof=append upsert"`
	Async       bool       `json:"async"`
}

// toRunRequest converts the body, rejecting half-open or inverted windows
func (r TriggerRunRequest) toRunRequest() (etl.RunRequest, error) {
	req := etl.RunRequest{SourceID: r.SourceID, Mode: pipeline.LoadMode(r.Mode)}
	if r.WindowStart == nil && r.WindowEnd == nil {
		return req, nil
	}
	if r.WindowStart == nil || r.WindowEnd == nil {
		return req, pipeline.NewOperatorError("http.run", "INVALID_WINDOW", pipeline.ErrInvalidWindow)
	}
	w := pipeline.Window{Start: r.WindowStart.UTC(), End: r.WindowEnd.UTC()}
	if err := w.Validate(); err != nil {
		return req, err
	}
	req.Window = &w
	return req, nil
}

// RunResponse reports a finished run
type RunResponse struct {
	BatchID           string    `json:"batch_id"`
	SourceID          string    `json:"source_id"`
	TargetTable       string    `json:"target_table"`
	Mode              string    `json:"mode"`
	WindowStart       time.Time `json:"window_start"`
	WindowEnd         time.Time `json:"window_end"`
	Status            string    `json:"status"`
	RecordsFetched    int       `json:"records_fetched"`
	RecordsExtracted  int       `json:"records_extracted"`
	RecordsLoaded     int       `json:"records_loaded"`
	Pages             int       `json:"pages"`
	Chunks            int       `json:"chunks"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	WatermarkAdvanced bool      `json:"watermark_advanced"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
	DurationSeconds   float64   `json:"duration_seconds"`
}

func toRunResponse(r *etl.RunResult) RunResponse {
	return RunResponse{
		BatchID:           r.BatchID,
		SourceID:          r.SourceID,
		TargetTable:       r.TargetTable,
		Mode:              string(r.Mode),
		WindowStart:       r.Window.Start,
		WindowEnd:         r.Window.End,
		Status:            string(r.Status),
		RecordsFetched:    r.RecordsFetched,
		RecordsExtracted:  r.RecordsExtracted,
		RecordsLoaded:     r.RecordsLoaded,
		Pages:             r.Pages,
		Chunks:            r.Chunks,
		ErrorMessage:      r.ErrorMessage,
		WatermarkAdvanced: r.WatermarkAdvanced,
		StartedAt:         r.StartedAt,
		EndedAt:           r.EndedAt,
		DurationSeconds:   r.EndedAt.Sub(r.StartedAt).Seconds(),
	}
}

// AcceptedRunResponse is returned for async runs
type AcceptedRunResponse struct {
	JobID    string `json:"job_id"`
	SourceID string `json:"source_id"`
	Status   string `json:"status"`
}

// BatchResponse is one batch run row
type BatchResponse struct {
	ID               string     `json:"id"`
	SourceID         string     `json:"source_id"`
	TargetTable      string     `json:"target_table"`
	Mode             string     `json:"mode"`
	WindowStart      time.Time  `json:"window_start"`
	WindowEnd        time.Time  `json:"window_end"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	Status           string     `json:"status"`
	RecordsExtracted int        `json:"records_extracted"`
	RecordsLoaded    int        `json:"records_loaded"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

func toBatchResponse(b *pipeline.BatchRun) BatchResponse {
	return BatchResponse{
		ID:               b.ID,
		SourceID:         b.SourceID,
		TargetTable:      b.TargetTable,
		Mode:             string(b.Mode),
		WindowStart:      b.WindowStart,
		WindowEnd:        b.WindowEnd,
		StartedAt:        b.StartedAt,
		EndedAt:          b.EndedAt,
		Status:           string(b.Status),
		RecordsExtracted: b.RecordsExtracted,
		RecordsLoaded:    b.RecordsLoaded,
		ErrorMessage:     b.ErrorMessage,
	}
}

// ListBatchesRequest holds the GET /batches query
type ListBatchesRequest struct {
	dto.ListRequest
	SourceID    string `form:"source_id"`
	TargetTable string `form:"target_table"`
	Status      string `form:"status" binding:"omitempty,oneof=running success failed cancelled"`
}

func (r ListBatchesRequest) toFilter() pipeline.BatchFilter {
	f := pipeline.BatchFilter{
		SourceID:    r.SourceID,
		TargetTable: r.TargetTable,
		Status:      pipeline.BatchStatus(r.Status),
	}
	f.Page = r.Page
	f.PageSize = r.PageSize
	f.OrderBy = r.OrderBy
	f.OrderDir = r.OrderDir
	return f
}

// SourceResponse describes a registered data source
type SourceResponse struct {
	ID                  string     `json:"id"`
	DisplayName         string     `json:"display_name"`
	Category            string     `json:"category"`
	Vendor              string     `json:"vendor"`
	Active              bool       `json:"active"`
	ExtractionFrequency string     `json:"extraction_frequency,omitempty"`
	TargetTable         string     `json:"target_table"`
	KeyColumns          []string   `json:"key_columns,omitempty"`
	Mode                string     `json:"mode"`
	LastExtractTime     *time.Time `json:"last_extract_time,omitempty"`
}

func toSourceResponse(s *pipeline.DataSource) SourceResponse {
	return SourceResponse{
		ID:                  s.ID,
		DisplayName:         s.DisplayName,
		Category:            string(s.Category),
		Vendor:              s.Vendor,
		Active:              s.Active,
		ExtractionFrequency: s.ExtractionFrequency,
		TargetTable:         s.Target.Name,
		KeyColumns:          s.Target.KeyColumns,
		Mode:                string(s.Target.Mode),
		LastExtractTime:     s.LastExtractTime,
	}
}

// AlertResponse is one monitor alert
type AlertResponse struct {
	Severity string    `json:"severity"`
	Rule     string    `json:"rule"`
	Message  string    `json:"message"`
	RaisedAt time.Time `json:"raised_at"`
}

// HealthResponse is the monitor evaluation of one source
type HealthResponse struct {
	SourceID            string          `json:"source_id"`
	Status              string          `json:"status"`
	Runs                int             `json:"runs"`
	SuccessRate         float64         `json:"success_rate"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	ConsecutiveNoData   int             `json:"consecutive_no_data"`
	LastRun             *BatchResponse  `json:"last_run,omitempty"`
	LastSuccessAt       *time.Time      `json:"last_success_at,omitempty"`
	Watermark           *time.Time      `json:"watermark,omitempty"`
	VendorReachable     *bool           `json:"vendor_reachable,omitempty"`
	VendorError         string          `json:"vendor_error,omitempty"`
	StagingTable        string          `json:"staging_table,omitempty"`
	StagingRows         *int64          `json:"staging_rows,omitempty"`
	Alerts              []AlertResponse `json:"alerts"`
}

func toHealthResponse(h *etl.SourceHealth) HealthResponse {
	resp := HealthResponse{
		SourceID:            h.SourceID,
		Status:              string(h.Status),
		Runs:                h.Runs,
		SuccessRate:         h.SuccessRate,
		ConsecutiveFailures: h.ConsecutiveFailures,
		ConsecutiveNoData:   h.ConsecutiveNoData,
		LastSuccessAt:       h.LastSuccessAt,
		Watermark:           h.Watermark,
		StagingTable:        h.StagingTable,
		StagingRows:         h.StagingRows,
		Alerts:              make([]AlertResponse, 0, len(h.Alerts)),
	}
	if h.Vendor != nil {
		reachable := h.Vendor.Reachable
		resp.VendorReachable = &reachable
		resp.VendorError = h.Vendor.Error
	}
	if h.LastRun != nil {
		last := toBatchResponse(h.LastRun)
		resp.LastRun = &last
	}
	for _, a := range h.Alerts {
		resp.Alerts = append(resp.Alerts, AlertResponse{
			Severity: string(a.Severity),
			Rule:     a.Rule,
			Message:  a.Message,
			RaisedAt: a.RaisedAt,
		})
	}
	return resp
}
