package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/facolos/etl/internal/domain/pipeline"
)

// Vendor call errors. They are always wrapped in a classified pipeline.Error.
var (
	ErrRateLimited       = errors.New("connector: rate limited by vendor")
	ErrVendorUnavailable = errors.New("connector: vendor unavailable")
	ErrUnauthorized      = errors.New("connector: unauthorized")
	ErrRequestRejected   = errors.New("connector: request rejected by vendor")
	ErrInvalidResponse   = errors.New("connector: invalid vendor response")
	ErrTokenRefresh      = errors.New("connector: token refresh failed")
	ErrPageLimit         = errors.New("connector: page limit reached")
)

// ClassifyStatus maps an HTTP status to a classified error, or nil for 2xx.
func ClassifyStatus(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return pipeline.NewTransientError(op, "RATE_LIMITED",
			fmt.Errorf("%w: HTTP %d", ErrRateLimited, status))
	case status >= 500:
		return pipeline.NewTransientError(op, "VENDOR_UNAVAILABLE",
			fmt.Errorf("%w: HTTP %d", ErrVendorUnavailable, status))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pipeline.NewFatalError(op, "UNAUTHORIZED",
			fmt.Errorf("%w: HTTP %d", ErrUnauthorized, status))
	default:
		return pipeline.NewFatalError(op, "REQUEST_REJECTED",
			fmt.Errorf("%w: HTTP %d", ErrRequestRejected, status))
	}
}

// ClassifyTransportError maps an error from http.Client.Do. Cancellation of
// the caller's context is returned unchanged so the orchestrator can tell it
// apart from vendor failures.
func ClassifyTransportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pipeline.NewTransientError(op, "TIMEOUT", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return pipeline.NewTransientError(op, "TIMEOUT", err)
	}
	// Connection refused, reset and DNS failures are worth another attempt.
	return pipeline.NewTransientError(op, "NETWORK",
		fmt.Errorf("%w: %v", ErrVendorUnavailable, err))
}

// decodeError wraps an undecodable vendor body.
func decodeError(op string, err error) error {
	return pipeline.NewFatalError(op, "INVALID_RESPONSE",
		fmt.Errorf("%w: %w: %v", pipeline.ErrSchemaMismatch, ErrInvalidResponse, err))
}

func isUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
