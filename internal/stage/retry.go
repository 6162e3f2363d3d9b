package stage

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/blogflow/internal/metrics"
)

// RetryConfig configures the retry policy wrapped around stage invocations.
type RetryConfig struct {
	MaxRetries int           // Retries after the first attempt (default 3)
	BaseDelay  time.Duration // Delay before the first retry (default 2s)
	MaxDelay   time.Duration // Cap on a single delay (default 30s)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// RetryPolicy retries transient stage failures with exponential backoff.
type RetryPolicy struct {
	cfg     RetryConfig
	metrics *metrics.Metrics
}

// NewRetryPolicy creates a policy. m may be nil.
func NewRetryPolicy(cfg RetryConfig, m *metrics.Metrics) *RetryPolicy {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRetryConfig().BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay << cfg.MaxRetries
	}
	return &RetryPolicy{cfg: cfg, metrics: m}
}

// newBackOff builds the schedule delay(n) = BaseDelay × 2^n without jitter.
func (p *RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.cfg.MaxDelay
	b.MaxElapsedTime = 0 // bounded by retry count, not time
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.cfg.MaxRetries)), ctx)
}

// Do calls fn until it succeeds, fails with a non-transient error, or the
// retry budget is spent. Attempts are numbered from 1. The last error is
// returned unchanged.
func Do[T any](ctx context.Context, p *RetryPolicy, id ID, fn func(attempt int) (T, error)) (T, error) {
	var (
		result  T
		attempt int
	)

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		out, err := fn(attempt)
		if err != nil {
			if !IsTransient(ctx, err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = out
		return nil
	}

	notify := func(err error, delay time.Duration) {
		log.Printf("WARNING: %s attempt %d failed, retrying in %s: %v", id, attempt, delay, err)
		p.metrics.IncStageRetry(id.String())
	}

	if err := backoff.RetryNotify(operation, p.newBackOff(ctx), notify); err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// CircuitBreakerRegistry holds one circuit breaker per stage.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[ID]*gobreaker.CircuitBreaker
}

// NewCircuitBreakerRegistry creates an empty registry.
func NewCircuitBreakerRegistry() *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers: make(map[ID]*gobreaker.CircuitBreaker),
	}
}

// Get returns the breaker for a stage, creating it on first use.
func (r *CircuitBreakerRegistry) Get(id ID) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[id]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        id.String(),
		MaxRequests: 1,                // One trial request while half-open
		Timeout:     60 * time.Second, // Stay open for a minute before probing
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is not a backend fault
			if err == nil {
				return true
			}
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	r.breakers[id] = cb
	return cb
}
