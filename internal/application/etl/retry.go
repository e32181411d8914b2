package etl

import (
	"fmt"
	"time"

	"github.com/facolos/etl/internal/domain/pipeline"
)

// Default retry settings
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 5 * time.Second
	DefaultMaxDelay   = 5 * time.Minute
)

// RetryPolicy bounds how transient failures are retried.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// BaseDelay is the first backoff; each retry doubles it
	BaseDelay time.Duration
	// MaxDelay caps a single backoff
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns 3 retries starting at 5s, capped at 5m
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
	}
}

// Backoff returns the delay before retry number attempt (1-based):
// BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// RetryState is the retry bookkeeping of one operation. It never sleeps;
// the caller waits until NextEligibleAt on its own clock.
type RetryState struct {
	Policy         RetryPolicy
	Attempts       int
	NextEligibleAt time.Time
	LastErr        error
}

// NewRetryState creates an empty retry state
func NewRetryState(policy RetryPolicy) *RetryState {
	return &RetryState{Policy: policy}
}

// Record registers a transient failure observed at now. It reports whether
// another attempt is allowed and, if so, sets NextEligibleAt.
func (s *RetryState) Record(err error, now time.Time) bool {
	s.Attempts++
	s.LastErr = err
	if s.Attempts > s.Policy.MaxRetries {
		s.NextEligibleAt = time.Time{}
		return false
	}
	s.NextEligibleAt = now.Add(s.Policy.Backoff(s.Attempts))
	return true
}

// Delay returns how long to wait from now until the next attempt.
func (s *RetryState) Delay(now time.Time) time.Duration {
	if s.NextEligibleAt.IsZero() || !s.NextEligibleAt.After(now) {
		return 0
	}
	return s.NextEligibleAt.Sub(now)
}

// Reset clears the state after a successful attempt.
func (s *RetryState) Reset() {
	s.Attempts = 0
	s.NextEligibleAt = time.Time{}
	s.LastErr = nil
}

// Exhausted returns the fatal error that replaces the last transient one.
func (s *RetryState) Exhausted(op string) error {
	return pipeline.NewFatalError(op, "RETRIES_EXHAUSTED",
		fmt.Errorf("%w after %d retries: %w", pipeline.ErrRetriesExhausted, s.Policy.MaxRetries, s.LastErr))
}
