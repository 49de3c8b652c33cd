package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	apperrors "github.com/kbukum/meshprobe/errors"
)

// BreakerConfig configures one circuit breaker per guarded target.
type BreakerConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// ConsecutiveFailures trips the breaker open.
	ConsecutiveFailures uint32 `mapstructure:"consecutive_failures" yaml:"consecutive_failures" validate:"gte=0"`
	// OpenTimeout is how long an open breaker rejects calls before letting
	// MaxRequests probes through.
	OpenTimeout time.Duration `mapstructure:"open_timeout" yaml:"open_timeout"`
	MaxRequests uint32        `mapstructure:"max_requests" yaml:"max_requests"`
	// Interval clears closed-state counts; zero never clears them.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// DefaultBreakerConfig trips after 5 transient failures in a row and stays
// open for 10s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:             true,
		ConsecutiveFailures: 5,
		OpenTimeout:         10 * time.Second,
		MaxRequests:         1,
		Interval:            time.Minute,
	}
}

// ApplyDefaults fills zero thresholds. Enabled is left alone.
func (c *BreakerConfig) ApplyDefaults() {
	def := DefaultBreakerConfig()
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = def.OpenTimeout
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = def.MaxRequests
	}
}

// StateChangeFunc observes breaker transitions.
type StateChangeFunc func(name, from, to string)

// Breakers lazily keeps one breaker per key. Only failures carrying the
// retry marker count against a breaker; permanent errors say nothing about
// the target's health.
type Breakers[K comparable] struct {
	cfg      BreakerConfig
	onChange StateChangeFunc

	mu sync.Mutex
	m  map[K]*gobreaker.CircuitBreaker[any]
}

// NewBreakers returns an empty set. onChange may be nil.
func NewBreakers[K comparable](cfg BreakerConfig, onChange StateChangeFunc) *Breakers[K] {
	cfg.ApplyDefaults()
	return &Breakers[K]{cfg: cfg, onChange: onChange, m: make(map[K]*gobreaker.CircuitBreaker[any])}
}

func (b *Breakers[K]) get(key K, name string) *gobreaker.CircuitBreaker[any] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.m[key]; ok {
		return cb
	}
	threshold := b.cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: b.cfg.MaxRequests,
		Interval:    b.cfg.Interval,
		Timeout:     b.cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !apperrors.IsRetryRequested(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if b.onChange != nil {
				b.onChange(name, from.String(), to.String())
			}
		},
	})
	b.m[key] = cb
	return cb
}

// State reports "closed", "half-open" or "open". Unknown keys are closed.
func (b *Breakers[K]) State(key K) string {
	b.mu.Lock()
	cb, ok := b.m[key]
	b.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}

// Guard runs fn through key's breaker. A nil set runs fn directly. A
// rejected call returns an error carrying the retry marker so a retry loop
// moves on to another target.
func Guard[K comparable, T any](b *Breakers[K], key K, name string, fn func() (T, error)) (T, error) {
	if b == nil {
		return fn()
	}
	res, err := b.get(key, name).Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, apperrors.RetryRequested(err)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}
