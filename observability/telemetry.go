package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/kbukum/meshprobe/logger"
	"github.com/kbukum/meshprobe/validation"
)

// Config is the telemetry section. Both signals go to one OTLP/HTTP
// collector.
type Config struct {
	Endpoint   string        `yaml:"endpoint" mapstructure:"endpoint" validate:"omitempty,hostname_port"`
	TLS        bool          `yaml:"tls" mapstructure:"tls"`
	Tracing    bool          `yaml:"tracing" mapstructure:"tracing"`
	Metrics    bool          `yaml:"metrics" mapstructure:"metrics"`
	SampleRate float64       `yaml:"sample_rate" mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	Interval   time.Duration `yaml:"interval" mapstructure:"interval" validate:"gte=0"`
}

// ApplyDefaults points at a local collector, samples every trace and
// exports metrics every 15s.
func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4318"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1
	}
	if c.Interval == 0 {
		c.Interval = 15 * time.Second
	}
}

func (c *Config) Validate() error {
	return validation.Validate(c)
}

// Service identifies the process on exported telemetry.
type Service struct {
	Name        string
	Version     string
	Environment string
}

func (s Service) resource() (*resource.Resource, error) {
	return resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(s.Name),
		semconv.ServiceVersion(s.Version),
		attribute.String("environment", s.Environment),
	))
}

// Telemetry owns the providers installed by Setup.
type Telemetry struct {
	// Metrics is nil when metrics are disabled, which records nothing.
	Metrics *ProbeMetrics

	shutdowns []func(context.Context) error
}

// Setup installs the enabled providers as the otel globals. With both
// signals off it returns an inert Telemetry.
func Setup(ctx context.Context, cfg Config, svc Service) (*Telemetry, error) {
	t := &Telemetry{}
	if !cfg.Tracing && !cfg.Metrics {
		return t, nil
	}

	res, err := svc.resource()
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	if cfg.Tracing {
		tp, err := installTracer(ctx, cfg, res)
		if err != nil {
			return nil, err
		}
		t.shutdowns = append(t.shutdowns, tp.Shutdown)
	}
	if cfg.Metrics {
		mp, err := installMeter(ctx, cfg, res)
		if err != nil {
			_ = t.Shutdown(ctx)
			return nil, err
		}
		t.shutdowns = append(t.shutdowns, mp.Shutdown)
		if t.Metrics, err = NewProbeMetrics(mp.Meter(svc.Name)); err != nil {
			_ = t.Shutdown(ctx)
			return nil, err
		}
	}

	logger.Info("telemetry initialized", logger.Fields(
		"endpoint", cfg.Endpoint,
		"tracing", cfg.Tracing,
		"metrics", cfg.Metrics,
	))
	return t, nil
}

// Shutdown flushes and stops every provider, newest first.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	for i := len(t.shutdowns) - 1; i >= 0; i-- {
		if err := t.shutdowns[i](ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	t.shutdowns = nil
	return result.ErrorOrNil()
}
