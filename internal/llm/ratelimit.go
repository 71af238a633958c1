package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"golang.org/x/time/rate"

	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
)

const (
	// Sustained request rate shared by every caller of one Throttle
	defaultRequestsPerSecond = 5
	// Burst allows short bursts above the sustained rate
	defaultBurst = 5

	// Upper bound on concurrent inference requests
	// Lower value = gentler on a local model server, higher value = more throughput
	defaultMaxWorkers = 8

	defaultMaxRetries = 3
	baseRetryDelay    = 1 * time.Second
	maxRetryDelay     = 32 * time.Second
)

// Throttle bounds how fast and how many inference calls run at once. One
// Throttle is shared by every unit of every batch in the process.
type Throttle struct {
	limiter    *rate.Limiter
	workers    *WorkerPool
	maxRetries int
	baseDelay  time.Duration
	log        logger.Logger
}

// NewThrottle builds a Throttle. Non-positive arguments select the defaults;
// retries of zero disable retrying.
func NewThrottle(requestsPerSecond float64, maxInFlight, retries int, log logger.Logger) *Throttle {
	if requestsPerSecond <= 0 {
		requestsPerSecond = defaultRequestsPerSecond
	}
	if retries < 0 {
		retries = defaultMaxRetries
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	burst := max(int(math.Ceil(requestsPerSecond)), defaultBurst)
	return &Throttle{
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		workers:    NewWorkerPool(maxInFlight),
		maxRetries: retries,
		baseDelay:  baseRetryDelay,
		log:        log,
	}
}

// RateLimitedCall runs fn once a worker slot is free and the limiter allows
// it, retrying with exponential backoff while fn reports a 429.
func RateLimitedCall[T any](ctx context.Context, t *Throttle, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	if err := t.workers.Acquire(ctx); err != nil {
		return zero, err
	}
	defer t.workers.Release()

	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			delay := min(time.Duration(float64(t.baseDelay)*math.Pow(2, float64(attempt-1))), maxRetryDelay)
			t.log.Info("Retry attempt %d/%d after %v delay", attempt, t.maxRetries, delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		if err := t.limiter.Wait(ctx); err != nil {
			return zero, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				t.log.Info("Retry succeeded on attempt %d", attempt)
			}
			return result, nil
		}

		lastErr = err
		if !isRateLimitError(err) {
			return zero, err
		}
		t.log.Warn("Rate limit error (429) on attempt %d/%d: %v", attempt+1, t.maxRetries+1, err)
	}

	if t.maxRetries == 0 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("max retries (%d) exceeded, last error: %w", t.maxRetries, lastErr)
}

// StatusError carries the HTTP status of a failed inference request.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("status %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// isRateLimitError checks if an error is a 429 from either backend
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return containsAny(err.Error(), []string{"429", "rate limit", "rate_limit_exceeded", "Too Many Requests"})
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// WorkerPool is a counting semaphore for in-flight requests
type WorkerPool struct {
	maxWorkers int
	semaphore  chan struct{}
}

// NewWorkerPool creates a new worker pool with the specified maximum workers
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		semaphore:  make(chan struct{}, maxWorkers),
	}
}

// Acquire acquires a worker slot, blocking if all workers are busy
func (wp *WorkerPool) Acquire(ctx context.Context) error {
	select {
	case wp.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release releases a worker slot, allowing another worker to proceed
func (wp *WorkerPool) Release() {
	<-wp.semaphore
}

// Size returns the number of slots.
func (wp *WorkerPool) Size() int {
	return wp.maxWorkers
}
