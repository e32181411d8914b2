package dto

import (
	"errors"
	"net/http"

	"github.com/facolos/etl/internal/domain/pipeline"
)

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	ErrCodeUnknown  = "ERR_UNKNOWN"
	ErrCodeInternal = "ERR_INTERNAL"
)

// Input error codes
const (
	ErrCodeValidation   = "ERR_VALIDATION"
	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	ErrCodeInvalidJSON  = "ERR_INVALID_JSON"
)

// Resource error codes
const (
	ErrCodeNotFound     = "ERR_NOT_FOUND"
	ErrCodeConflict     = "ERR_CONFLICT"
	ErrCodeInvalidState = "ERR_INVALID_STATE"
)

// Pipeline error codes
const (
	// ErrCodeConcurrentRun is used when a run for the same source and target is in progress
	ErrCodeConcurrentRun = "ERR_CONCURRENT_RUN"
	// ErrCodeRunFailed is used when a batch finished as failed
	ErrCodeRunFailed = "ERR_RUN_FAILED"
	// ErrCodeRunCancelled is used when a batch finished as cancelled
	ErrCodeRunCancelled = "ERR_RUN_CANCELLED"
	// ErrCodeSchedulerBusy is used when an async run cannot be queued
	ErrCodeSchedulerBusy = "ERR_SCHEDULER_BUSY"
	// ErrCodeUnavailable is used when a dependency such as the database is down
	ErrCodeUnavailable = "ERR_UNAVAILABLE"
)

// Rate limiting error codes
const (
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation:   http.StatusBadRequest,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeInvalidJSON:  http.StatusBadRequest,

	ErrCodeNotFound:     http.StatusNotFound,
	ErrCodeConflict:     http.StatusConflict,
	ErrCodeInvalidState: http.StatusConflict,

	ErrCodeConcurrentRun: http.StatusConflict,
	ErrCodeRunFailed:     http.StatusBadGateway,
	ErrCodeRunCancelled:  http.StatusConflict,
	ErrCodeSchedulerBusy: http.StatusServiceUnavailable,
	ErrCodeUnavailable:   http.StatusServiceUnavailable,

	ErrCodeRateLimited: http.StatusTooManyRequests,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorCodeFor classifies an error into an API error code and whether its
// message is safe to show. Operator errors are the caller's fault and are
// shown; fatal errors are hidden behind ERR_INTERNAL.
func ErrorCodeFor(err error) (code string, expose bool) {
	switch {
	case errors.Is(err, pipeline.ErrConcurrentRunRejected):
		return ErrCodeConcurrentRun, true
	case errors.Is(err, pipeline.ErrUnknownSource), errors.Is(err, pipeline.ErrBatchNotFound):
		return ErrCodeNotFound, true
	case errors.Is(err, pipeline.ErrInvalidTransition):
		return ErrCodeInvalidState, true
	case errors.Is(err, pipeline.ErrRunCancelled):
		return ErrCodeRunCancelled, true
	case pipeline.IsOperator(err):
		return ErrCodeInvalidInput, true
	default:
		return ErrCodeInternal, false
	}
}
