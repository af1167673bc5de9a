package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/voltmesh/dlm-go/pkg/fault"
)

// Defaults for breaker configuration.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultResetTimeout     = 30 * time.Second
	DefaultCallTimeout      = 10 * time.Second
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = 200 * time.Millisecond
)

// Config tunes a Breaker.
type Config struct {
	// Name identifies the breaker in logs and metrics.
	Name string

	// FailureThreshold is the consecutive failure count that opens the breaker.
	FailureThreshold uint32

	// SuccessThreshold is the consecutive half-open success count that closes it.
	SuccessThreshold uint32

	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration

	// CallTimeout bounds each individual attempt.
	CallTimeout time.Duration

	// MaxRetries bounds retry attempts per Execute call.
	MaxRetries int

	// RetryDelay is the base backoff; attempt n waits delay * 2^(n-1).
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// Breaker guards an unreliable dependency. Zero value is not usable; use New.
type Breaker struct {
	cfg    Config
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger

	// onStateChange receives breaker transitions, if set.
	onStateChange func(name string, from, to gobreaker.State)
}

// New creates a Breaker with the given configuration.
func New(cfg Config, logger *zap.Logger) *Breaker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Breaker{cfg: cfg, logger: logger.Named("breaker")}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Info("breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if b.onStateChange != nil {
				b.onStateChange(name, from, to)
			}
		},
	})
	return b
}

// OnStateChange sets a transition callback. Must be called before use.
func (b *Breaker) OnStateChange(fn func(name string, from, to gobreaker.State)) {
	b.onStateChange = fn
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Execute runs op through the breaker with retries and a per-attempt
// timeout. A timeout or a non-retryable error aborts the retry loop.
// When the breaker is open the call fails immediately with a
// CircuitOpenError kind.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= b.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := b.cfg.RetryDelay << (attempt - 2)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fault.Wrap(fault.KindTimeout, ctx.Err(), "%s: cancelled during backoff", b.cfg.Name)
			}
		}

		_, err := b.cb.Execute(func() (any, error) {
			callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- op(callCtx) }()

			select {
			case err := <-done:
				if err != nil && errors.Is(err, context.DeadlineExceeded) {
					return nil, fault.Wrap(fault.KindTimeout, err, "%s: call timed out", b.cfg.Name)
				}
				return nil, err
			case <-callCtx.Done():
				return nil, fault.Wrap(fault.KindTimeout, callCtx.Err(), "%s: call timed out", b.cfg.Name)
			}
		})
		if err == nil {
			return nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fault.Wrap(fault.KindCircuitOpen, err, "%s: circuit open", b.cfg.Name)
		}

		lastErr = err

		// Timeouts and explicitly non-retryable errors abort the loop.
		if fault.KindOf(err) == fault.KindTimeout || !fault.IsRetryable(err) {
			return lastErr
		}
	}
	return lastErr
}

// Reset forces the breaker back to closed by recreating the underlying
// state machine. Used by the operator-facing breaker reset endpoint.
func (b *Breaker) Reset() {
	settings := gobreaker.Settings{
		Name:        b.cfg.Name,
		MaxRequests: b.cfg.SuccessThreshold,
		Timeout:     b.cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.cfg.FailureThreshold
		},
	}
	b.cb = gobreaker.NewCircuitBreaker(settings)
	b.logger.Info("breaker reset", zap.String("name", b.cfg.Name))
}
