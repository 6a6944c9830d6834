package azcore

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryOptions configures the retry policy.
type RetryOptions struct {
	// MaxRetries is the number of attempts after the first. Defaults to 3.
	// A negative value disables retries.
	MaxRetries int32

	// TryTimeout bounds a single attempt, body download included. Zero
	// means no per-try limit.
	TryTimeout time.Duration

	// RetryDelay is the base for exponential backoff. Defaults to 800ms.
	RetryDelay time.Duration

	// MaxRetryDelay caps the backoff. Defaults to 60s.
	MaxRetryDelay time.Duration

	// StatusCodes replaces the default retriable set: 408, 429, 500, 502,
	// 503, 504.
	StatusCodes []int

	// ShouldRetry overrides the decision entirely. It sees the attempt's
	// response (possibly nil) and error (possibly nil).
	ShouldRetry func(resp *http.Response, err error) bool
}

var defaultRetryStatusCodes = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

type retryPolicy struct {
	maxRetries    int32
	tryTimeout    time.Duration
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	statusCodes   []int
	shouldRetry   func(*http.Response, error) bool
}

func newRetryPolicy(o *RetryOptions) *retryPolicy {
	p := &retryPolicy{
		maxRetries:    3,
		tryTimeout:    o.TryTimeout,
		retryDelay:    800 * time.Millisecond,
		maxRetryDelay: 60 * time.Second,
		statusCodes:   defaultRetryStatusCodes,
		shouldRetry:   o.ShouldRetry,
	}
	if o.MaxRetries != 0 {
		p.maxRetries = max(o.MaxRetries, 0)
	}
	if o.RetryDelay != 0 {
		p.retryDelay = max(o.RetryDelay, 0)
	}
	if o.MaxRetryDelay != 0 {
		p.maxRetryDelay = o.MaxRetryDelay
	}
	if len(o.StatusCodes) > 0 {
		p.statusCodes = o.StatusCodes
	}
	return p
}

func (p *retryPolicy) Do(req *Request) (*http.Response, error) {
	parentCtx := req.Raw().Context()
	var resp *http.Response
	var err error
	for attempt := int32(0); ; attempt++ {
		if attempt > 0 {
			if rerr := req.RewindBody(); rerr != nil {
				return nil, rerr
			}
		}
		resp, err = p.attempt(parentCtx, req)

		if parentCtx.Err() != nil {
			// the caller gave up; whatever happened on this attempt is moot
			if err == nil {
				err = parentCtx.Err()
				Drain(resp)
				resp = nil
			}
			return resp, err
		}
		if !p.retriable(resp, err) || attempt >= p.maxRetries {
			return resp, err
		}

		delay := retryAfter(resp)
		if delay <= 0 {
			delay = p.backoff(attempt)
		}
		logrus.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay.String(),
			"status":  statusOf(resp),
		}).Debug("retrying request")
		Drain(resp)

		select {
		case <-time.After(delay):
		case <-parentCtx.Done():
			return nil, parentCtx.Err()
		}
	}
}

// attempt runs one try, applying the per-try timeout when configured. With a
// timeout in force the payload is buffered before the deadline is released
// so the body cannot be severed mid-read.
func (p *retryPolicy) attempt(parentCtx context.Context, req *Request) (*http.Response, error) {
	if p.tryTimeout <= 0 {
		return req.Clone(parentCtx).Next()
	}
	tryCtx, cancel := context.WithTimeout(parentCtx, p.tryTimeout)
	defer cancel()
	resp, err := req.Clone(tryCtx).Next()
	if err == nil {
		if _, perr := Payload(resp); perr != nil {
			Drain(resp)
			return nil, &TransportError{err: perr}
		}
	}
	return resp, err
}

func (p *retryPolicy) retriable(resp *http.Response, err error) bool {
	if p.shouldRetry != nil {
		return p.shouldRetry(resp, err)
	}
	if err != nil {
		var te *TransportError
		return errors.As(err, &te)
	}
	return HasStatusCode(resp, p.statusCodes...)
}

func (p *retryPolicy) backoff(attempt int32) time.Duration {
	delay := p.retryDelay << attempt
	// jitter in [0.8, 1.2) so synchronized clients fan out
	delay = time.Duration(float64(delay) * (0.8 + 0.4*rand.Float64()))
	if delay > p.maxRetryDelay {
		delay = p.maxRetryDelay
	}
	return delay
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

// retryAfter extracts the service's requested wait from a response. Supports
// retry-after-ms and the RFC 7231 Retry-After forms (delta seconds and HTTP
// date). Returns 0 when the response carries no preference.
func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	if ms := resp.Header.Get(headerRetryAfterMS); ms != "" {
		if v, err := strconv.ParseInt(ms, 10, 64); err == nil {
			return time.Duration(v) * time.Millisecond
		}
	}
	ra := resp.Header.Get(headerRetryAfter)
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(http.TimeFormat, ra); err == nil {
		return time.Until(t)
	}
	return 0
}
