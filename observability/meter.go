package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

func installMeter(ctx context.Context, cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if !cfg.TLS {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	return mp, nil
}

// Probe outcomes.
const (
	OutcomeAlive = "alive"
	OutcomeDead  = "dead"
)

// Deregistration results.
const (
	DeregOK     = "ok"
	DeregFailed = "failed"
)

// ProbeMetrics holds the instruments recorded while resolving instances.
// A nil *ProbeMetrics is valid and records nothing.
type ProbeMetrics struct {
	probeTotal    metric.Int64Counter
	probeDuration metric.Float64Histogram
	deregTotal    metric.Int64Counter
	reaperDropped metric.Int64Counter
}

// NewProbeMetrics creates metric instruments on the given meter.
func NewProbeMetrics(meter metric.Meter) (*ProbeMetrics, error) {
	probeTotal, err := meter.Int64Counter("meshprobe.probe.total",
		metric.WithDescription("Health probes by service name and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating meshprobe.probe.total counter: %w", err)
	}

	probeDuration, err := meter.Float64Histogram("meshprobe.probe.duration",
		metric.WithDescription("Duration of health probes in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating meshprobe.probe.duration histogram: %w", err)
	}

	deregTotal, err := meter.Int64Counter("meshprobe.deregister.total",
		metric.WithDescription("Deregistrations of unreachable instances by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating meshprobe.deregister.total counter: %w", err)
	}

	reaperDropped, err := meter.Int64Counter("meshprobe.reaper.dropped",
		metric.WithDescription("Deregistration jobs dropped because the queue was full or closed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating meshprobe.reaper.dropped counter: %w", err)
	}

	return &ProbeMetrics{
		probeTotal:    probeTotal,
		probeDuration: probeDuration,
		deregTotal:    deregTotal,
		reaperDropped: reaperDropped,
	}, nil
}

// RecordProbe records one probe of an instance of service.
func (m *ProbeMetrics) RecordProbe(ctx context.Context, service, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.probeTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("outcome", outcome),
	))
	m.probeDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("service", service),
	))
}

// RecordDeregistration records the result of one deregistration job.
func (m *ProbeMetrics) RecordDeregistration(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.deregTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordReaperDrop records a deregistration job that never ran.
func (m *ProbeMetrics) RecordReaperDrop(ctx context.Context) {
	if m == nil {
		return
	}
	m.reaperDropped.Add(ctx, 1)
}
