package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	apperrors "github.com/kbukum/meshprobe/errors"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts counts the first call.
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=0"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	BackoffFactor  float64       `mapstructure:"backoff_factor" yaml:"backoff_factor" validate:"gte=0"`
	// Jitter spreads each sleep by ±Jitter of its length.
	Jitter float64 `mapstructure:"jitter" yaml:"jitter" validate:"gte=0,lte=1"`
	// Timeout bounds the whole sequence; zero means no budget. A sleep that
	// would overrun it is not taken and the last error is returned.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	RetryIf func(error) bool                                    `mapstructure:"-" yaml:"-"`
	OnRetry func(attempt int, err error, backoff time.Duration) `mapstructure:"-" yaml:"-"`
}

// DefaultRetryConfig is a short general-purpose policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
		RetryIf:        DefaultRetryIf,
	}
}

// CatalogRetryConfig returns the policy used around catalog reads, key
// fetches and deregistration: 500ms doubling up to 3s, at most 10 attempts
// within 60s, retrying only errors tagged with the retry marker.
func CatalogRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    10,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     3 * time.Second,
		BackoffFactor:  2.0,
		Timeout:        60 * time.Second,
		RetryIf:        apperrors.IsRetryRequested,
	}
}

// DefaultRetryIf retries everything but context errors.
func DefaultRetryIf(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = def.BackoffFactor
	}
	if c.RetryIf == nil {
		c.RetryIf = def.RetryIf
	}
	return c
}

// backoff is the sleep after the given failed attempt (1-based):
// InitialBackoff·Factor^(attempt-1), jittered, capped at MaxBackoff.
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := float64(c.InitialBackoff) * math.Pow(c.BackoffFactor, float64(attempt-1))
	if c.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * c.Jitter
	}
	d = math.Min(d, float64(c.MaxBackoff))
	if d < 0 {
		return c.InitialBackoff
	}
	return time.Duration(d)
}

// Retry calls fn until it succeeds, returns an error RetryIf rejects, the
// attempts or the time budget run out, or ctx is done. Exhaustion returns
// fn's last error unwrapped; cancellation returns ctx.Err().
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	cfg = cfg.withDefaults()
	var deadline time.Time
	if cfg.Timeout > 0 {
		deadline = time.Now().Add(cfg.Timeout)
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !cfg.RetryIf(err) || attempt >= cfg.MaxAttempts {
			return zero, err
		}

		wait := cfg.backoff(attempt)
		if !deadline.IsZero() && time.Now().Add(wait).After(deadline) {
			return zero, err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
}

// RetryFunc is Retry for functions without a result.
func RetryFunc(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := Retry(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
