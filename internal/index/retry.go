package index

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/livingatlas/occsearch/internal/metrics"
)

// Compile-time check: Retrying implements Client.
var _ Client = (*Retrying)(nil)

// Retrying wraps a Client with bounded retries for transient failures.
// Permanent failures (query syntax, 4xx responses) propagate immediately.
type Retrying struct {
	next        Client
	maxAttempts int
	wait        time.Duration
	log         *zap.Logger
}

// NewRetrying creates the retry wrapper. maxAttempts counts the initial
// attempt; wait is the fixed delay between attempts.
func NewRetrying(next Client, maxAttempts int, wait time.Duration, log *zap.Logger) *Retrying {
	if maxAttempts <= 0 {
		maxAttempts = 6
	}
	if wait <= 0 {
		wait = 50 * time.Millisecond
	}
	return &Retrying{next: next, maxAttempts: maxAttempts, wait: wait, log: log}
}

// Execute runs the query, retrying transient failures up to the attempt
// bound.
func (r *Retrying) Execute(ctx context.Context, q *Query) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		resp, err := r.next.Execute(ctx, q)
		if err == nil {
			return resp, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
		metrics.IndexRetries.Inc()
		r.log.Warn("transient index failure, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.maxAttempts),
			zap.Error(err))

		if attempt == r.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.wait):
		}
	}
	return nil, lastErr
}

// Fields fetches the schema field list with the same retry policy.
func (r *Retrying) Fields(ctx context.Context) ([]FieldInfo, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		fields, err := r.next.Fields(ctx)
		if err == nil {
			return fields, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
		metrics.IndexRetries.Inc()

		if attempt == r.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.wait):
		}
	}
	return nil, lastErr
}
