package acquire

import (
	"context"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
)

const (
	defaultMaxRetries    = 3
	defaultBackoffFactor = 500 * time.Millisecond
	maxRetryAfter        = 30 * time.Second
	poolSize             = 100
)

// DefaultRetryStatuses are the responses treated as transient.
var DefaultRetryStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// RetryTransport decorates an http.RoundTripper with retries and
// exponential backoff. Only idempotent read methods are retried; every other
// request passes through untouched.
type RetryTransport struct {
	Base          http.RoundTripper
	MaxRetries    int
	BackoffFactor time.Duration
	Log           logger.Logger

	statuses map[int]bool
	methods  map[string]bool
}

// NewRetryTransport wraps base (a pooled transport when nil) with the
// default retry policy: 3 retries, 0.5s backoff factor, GET and HEAD only.
func NewRetryTransport(base http.RoundTripper, log logger.Logger) *RetryTransport {
	if base == nil {
		base = NewPooledTransport()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &RetryTransport{
		Base:          base,
		MaxRetries:    defaultMaxRetries,
		BackoffFactor: defaultBackoffFactor,
		Log:           log,
		statuses:      toSet(DefaultRetryStatuses),
		methods:       map[string]bool{http.MethodGet: true, http.MethodHead: true},
	}
}

// NewPooledTransport returns a transport whose idle pool can serve every
// worker without a fresh handshake per request.
func NewPooledTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = poolSize
	t.MaxIdleConnsPerHost = poolSize
	t.DialContext = (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext
	return t
}

func toSet(codes []int) map[int]bool {
	set := make(map[int]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return set
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.methods[req.Method] {
		return t.Base.RoundTrip(req)
	}

	for attempt := 0; ; attempt++ {
		resp, err := t.Base.RoundTrip(req)
		if !t.shouldRetry(req, resp, err) || attempt >= t.MaxRetries {
			return resp, err
		}

		delay := t.backoff(attempt+1, resp)
		if err != nil {
			t.Log.Warn("Retrying %s %s after error (attempt %d/%d, wait %v): %v",
				req.Method, req.URL.Redacted(), attempt+1, t.MaxRetries, delay, err)
		} else {
			t.Log.Warn("Retrying %s %s after status %d (attempt %d/%d, wait %v)",
				req.Method, req.URL.Redacted(), resp.StatusCode, attempt+1, t.MaxRetries, delay)
			drain(resp)
		}

		if err := sleep(req.Context(), delay); err != nil {
			return nil, err
		}
	}
}

func (t *RetryTransport) shouldRetry(req *http.Request, resp *http.Response, err error) bool {
	if err != nil {
		// A cancelled or expired request must not be retried.
		return req.Context().Err() == nil
	}
	return t.statuses[resp.StatusCode]
}

// backoff returns factor * 2^(retry-1), or the server's Retry-After when it
// asks for longer.
func (t *RetryTransport) backoff(retry int, resp *http.Response) time.Duration {
	delay := time.Duration(float64(t.BackoffFactor) * math.Pow(2, float64(retry-1)))
	if resp != nil {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			after := min(time.Duration(secs)*time.Second, maxRetryAfter)
			delay = max(delay, after)
		}
	}
	return delay
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
