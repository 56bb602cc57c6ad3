// Package retryengine classifies transient provider failures and retries
// unary calls and streaming calls with exponential backoff and jitter. It
// folds internal/backoff's generic retry loop together with
// internal/agent/providers' status/phrase classification into the single
// policy the runtime needs for both request shapes.
package retryengine

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Policy controls attempt count and backoff shape.
type Policy struct {
	MaxRetries int
	InitialMs  float64
	MaxMs      float64
	Multiplier float64
	Jitter     float64 // fraction, e.g. 0.1 for +/-10%
}

// DefaultPolicy matches the runtime's out-of-the-box retry behavior: 3
// retries, 1s initial backoff, 30s cap, doubling, +/-10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		InitialMs:  1000,
		MaxMs:      30000,
		Multiplier: 2,
		Jitter:     0.1,
	}
}

// retryableStatus is the exact HTTP status set the engine treats as
// transient.
var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true, // 408
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
	522:                            true, // Cloudflare: connection timed out
	524:                            true, // Cloudflare: a timeout occurred
}

var transientPhrases = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"econnreset",
	"econnrefused",
	"etimedout",
	"temporarily unavailable",
	"service unavailable",
	"try again",
	"overloaded",
}

// StatusCoder is implemented by errors that carry an HTTP status code,
// such as provider SDK response errors.
type StatusCoder interface {
	StatusCode() int
}

// IsRetryable classifies err as transient per the engine's policy: network
// errors, the fixed retryable HTTP status set, and transient phrase
// matches in the error text.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var statusErr StatusCoder
	if errors.As(err, &statusErr) && retryableStatus[statusErr.StatusCode()] {
		return true
	}
	if status, ok := extractStatus(err); ok && retryableStatus[status] {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// extractStatus looks for a bare "status=NNN" or "status NNN" or leading
// 3-digit code embedded in the error text, as a fallback for errors that
// don't implement StatusCoder.
func extractStatus(err error) (int, bool) {
	msg := err.Error()
	idx := strings.Index(strings.ToLower(msg), "status")
	if idx < 0 {
		return 0, false
	}
	rest := strings.TrimLeft(msg[idx+len("status"):], "=: ")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err2 := strconv.Atoi(rest[:end])
	if err2 != nil {
		return 0, false
	}
	return n, true
}

// ComputeBackoff returns the delay before the given attempt (1-indexed,
// the delay preceding attempt N+1), as min(initial*multiplier^(attempt-1),
// max) jittered by +/-Jitter fraction.
func ComputeBackoff(p Policy, attempt int) time.Duration {
	return computeBackoffWithRand(p, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

func computeBackoffWithRand(p Policy, attempt int, r float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := p.InitialMs * math.Pow(p.Multiplier, exp)
	base = math.Min(base, p.MaxMs)

	// r in [0,1) maps to a jitter offset in [-Jitter, +Jitter] of base.
	offset := base * p.Jitter * (2*r - 1)
	total := base + offset
	if total < 0 {
		total = 0
	}
	return time.Duration(math.Round(total)) * time.Millisecond
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs fn, retrying up to p.MaxRetries additional times when fn's
// error is retryable per IsRetryable and a pause/abort check (if provided)
// doesn't cancel first. Non-retryable errors return immediately.
func Retry[T any](ctx context.Context, p Policy, preCall func(context.Context) error, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= p.MaxRetries+1; attempt++ {
		if preCall != nil {
			if err := preCall(ctx); err != nil {
				return zero, err
			}
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn(ctx, attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if attempt > p.MaxRetries || !IsRetryable(err) {
			return zero, err
		}
		if err := sleep(ctx, ComputeBackoff(p, attempt)); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// StreamFactory opens a new stream attempt, yielding each item to emit and
// returning an error when the attempt ends (nil on clean completion).
// emit is invoked synchronously from within the attempt and its returned
// bool reports whether any item has been emitted yet this call to
// RetryStream; once true, a subsequent error from the factory is no
// longer eligible for retry, since an interrupted stream cannot be
// safely replayed from a provider that may re-emit a different response.
type StreamFactory[T any] func(ctx context.Context, attempt int, emit func(T) error) error

// RetryStream runs factory, retrying only if the failure happens before
// the first item has been emitted. Once an item has been yielded to emit
// inside any attempt, a subsequent error is returned to the caller as-is.
func RetryStream[T any](ctx context.Context, p Policy, preCall func(context.Context) error, factory StreamFactory[T]) func(emit func(T) error) error {
	return func(emit func(T) error) error {
		var lastErr error
		for attempt := 1; attempt <= p.MaxRetries+1; attempt++ {
			if preCall != nil {
				if err := preCall(ctx); err != nil {
					return err
				}
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			emittedAny := false
			wrappedEmit := func(v T) error {
				emittedAny = true
				return emit(v)
			}

			err := factory(ctx, attempt, wrappedEmit)
			if err == nil {
				return nil
			}
			lastErr = err

			if emittedAny || attempt > p.MaxRetries || !IsRetryable(err) {
				return err
			}
			if err := sleep(ctx, ComputeBackoff(p, attempt)); err != nil {
				return err
			}
		}
		return lastErr
	}
}
