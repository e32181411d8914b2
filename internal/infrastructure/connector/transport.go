package connector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/facolos/etl/internal/domain/pipeline"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// maxResponseSize limits the response body size to prevent memory exhaustion
const maxResponseSize = 10 * 1024 * 1024 // 10MB max response

// Response is a fully read vendor response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport sends vendor requests through a client-side rate limiter.
type Transport struct {
	client  *http.Client
	limiter *rate.Limiter
}

// TransportOption configures a Transport
type TransportOption func(*Transport)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *Transport) {
		t.client = c
	}
}

// NewTransport creates a transport allowing requestsPerSecond with burst.
// A non-positive rate disables throttling.
func NewTransport(timeout time.Duration, requestsPerSecond float64, burst int, opts ...TransportOption) *Transport {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	t := &Transport{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(limit, burst),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Do waits for the limiter, sends req and reads the body. Non-2xx statuses
// are returned in the Response, not as errors; transport failures are
// classified.
func (t *Transport) Do(ctx context.Context, op string, req *http.Request) (*Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, pipeline.NewTransientError(op, "THROTTLED", fmt.Errorf("rate limiter: %w", err))
	}

	resp, err := t.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, ClassifyTransportError(ctx, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, ClassifyTransportError(ctx, op, err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// clientOptions holds settings shared by vendor clients
type clientOptions struct {
	httpClient *http.Client
	now        func() time.Time
}

// ClientOption configures a vendor client
type ClientOption func(*clientOptions)

// WithClientHTTP makes the client send requests through c.
func WithClientHTTP(c *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = c
	}
}

// WithClientClock replaces the wall clock used for timestamps and token expiry.
func WithClientClock(now func() time.Time) ClientOption {
	return func(o *clientOptions) {
		o.now = now
	}
}

func buildClientOptions(opts []ClientOption) clientOptions {
	o := clientOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o clientOptions) transportOptions() []TransportOption {
	if o.httpClient == nil {
		return nil
	}
	return []TransportOption{WithHTTPClient(o.httpClient)}
}
