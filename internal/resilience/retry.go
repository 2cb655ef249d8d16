// Package resilience guards calls to degraded upstreams: bounded retries with
// exponential backoff, per-resource circuit breakers and per-class rate
// budgets.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"docgate/internal/apperr"
	"docgate/internal/metrics"
)

// ErrAttemptTimeout marks an attempt that ran past RetryConfig.AttemptTimeout.
var ErrAttemptTimeout = errors.New("attempt timed out")

// RetryConfig holds retry configuration for upstream calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the wait after the first failure.
	InitialDelay time.Duration

	// Factor is applied to the delay after every further failure.
	Factor float64

	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay time.Duration

	// Jitter spreads each wait by +/-25%.
	Jitter bool

	// AttemptTimeout bounds each attempt independently of the caller's
	// deadline. Zero disables it.
	AttemptTimeout time.Duration
}

// DefaultRetryConfig returns the defaults used for document-store and
// generator calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		InitialDelay:   500 * time.Millisecond,
		Factor:         2.0,
		MaxDelay:       30 * time.Second,
		Jitter:         true,
		AttemptTimeout: 60 * time.Second,
	}
}

// Result is the outcome of a retried operation. A failed Result is returned
// rather than an error so callers can tell exhaustion (Aborted=false) from a
// caller-side cancellation (Aborted=true).
type Result[T any] struct {
	Success  bool
	Value    T
	Err      error
	Attempts int
	Aborted  bool
}

type Executor struct {
	cfg    RetryConfig
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

type RetryOption func(*Executor)

func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// withSleep replaces the backoff sleep; tests use it to observe delays.
func withSleep(fn func(context.Context, time.Duration) error) RetryOption {
	return func(e *Executor) {
		e.sleep = fn
	}
}

func NewExecutor(cfg RetryConfig, opts ...RetryOption) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Factor <= 0 {
		cfg.Factor = 1
	}
	e := &Executor{
		cfg:    cfg,
		logger: slog.Default(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Config() RetryConfig {
	return e.cfg
}

// Run retries an operation that only reports an error.
func (e *Executor) Run(ctx context.Context, label string, op func(context.Context) error) Result[struct{}] {
	return Retry(ctx, e, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
}

// Retry runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent.
func Retry[T any](ctx context.Context, e *Executor, label string, op func(context.Context) (T, error)) Result[T] {
	var result Result[T]
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Err = err
			result.Aborted = true
			metrics.RetryAttempts.WithLabelValues(label, "aborted").Inc()
			return result
		}

		result.Attempts = attempt + 1
		value, err := runAttempt(ctx, e.cfg.AttemptTimeout, op)
		if err == nil {
			metrics.RetryAttempts.WithLabelValues(label, "success").Inc()
			result.Success = true
			result.Value = value
			result.Err = nil
			return result
		}
		result.Err = err

		if ctx.Err() != nil {
			result.Err = ctx.Err()
			result.Aborted = true
			metrics.RetryAttempts.WithLabelValues(label, "aborted").Inc()
			return result
		}
		metrics.RetryAttempts.WithLabelValues(label, "failure").Inc()

		if !isRetryable(err) {
			e.logger.Debug("non-retryable failure", "label", label, "attempt", result.Attempts, "error", err)
			return result
		}
		if attempt == e.cfg.MaxAttempts-1 {
			break
		}

		delay := e.backoff(attempt)
		e.logger.Warn("attempt failed, retrying",
			"label", label,
			"attempt", result.Attempts,
			"max_attempts", e.cfg.MaxAttempts,
			"backoff", delay,
			"error", err)
		if err := e.sleep(ctx, delay); err != nil {
			result.Err = err
			result.Aborted = true
			return result
		}
	}

	e.logger.Error("retries exhausted", "label", label, "attempts", result.Attempts, "error", result.Err)
	return result
}

type outcome[T any] struct {
	value T
	err   error
}

// runAttempt runs one call under the per-attempt timeout. The call runs on
// its own goroutine so an operation that ignores its context still cannot
// hold the executor past the timeout.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		v, err := op(attemptCtx)
		done <- outcome[T]{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return out.value, fmt.Errorf("%w after %s: %v", ErrAttemptTimeout, timeout, out.err)
		}
		return out.value, out.err
	case <-attemptCtx.Done():
		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrAttemptTimeout, timeout)
	}
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return apperr.Retryable(err)
}

// backoff returns InitialDelay * Factor^n for the n-th retry (n from 0).
func (e *Executor) backoff(n int) time.Duration {
	delay := float64(e.cfg.InitialDelay) * math.Pow(e.cfg.Factor, float64(n))
	if e.cfg.MaxDelay > 0 && delay > float64(e.cfg.MaxDelay) {
		delay = float64(e.cfg.MaxDelay)
	}
	if e.cfg.Jitter {
		delay += delay * 0.25 * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// Output converts a failed Result into an error: exhaustion becomes a
// Transient error, cancellation and non-retryable kinds pass through.
func (r Result[T]) Output(label string) (T, error) {
	if r.Success {
		return r.Value, nil
	}
	if r.Aborted || !isRetryable(r.Err) {
		return r.Value, r.Err
	}
	return r.Value, apperr.Transient(label, fmt.Errorf("failed after %d attempts: %w", r.Attempts, r.Err))
}
