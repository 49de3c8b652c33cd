package health

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	meshgrpc "github.com/kbukum/meshprobe/grpc"
	"github.com/kbukum/meshprobe/grpc/client"
	"github.com/kbukum/meshprobe/logger"
	"github.com/kbukum/meshprobe/observability"
)

// Aggregator probes handles and partitions them into alive and dead.
type Aggregator struct {
	cfg     Config
	reaper  *Reaper
	metrics *observability.ProbeMetrics
	log     *logger.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithReaper hands dead instances to r for deregistration. Without a
// reaper dead instances are only closed.
func WithReaper(r *Reaper) Option {
	return func(a *Aggregator) { a.reaper = r }
}

// WithMetrics records probe outcomes on m.
func WithMetrics(m *observability.ProbeMetrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithLogger sets the aggregator logger.
func WithLogger(l *logger.Logger) Option {
	return func(a *Aggregator) { a.log = l }
}

// NewAggregator creates an Aggregator. Zero config fields take defaults.
func NewAggregator(cfg Config, opts ...Option) *Aggregator {
	cfg.ApplyDefaults()
	a := &Aggregator{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logger.GetGlobalLogger()
	}
	a.log = a.log.WithComponent("health")
	return a
}

// Outcomes probes every handle and returns one settled Outcome per handle,
// in input order.
func (a *Aggregator) Outcomes(ctx context.Context, handles []*client.Handle) []Outcome {
	outcomes := make([]Outcome, len(handles))

	var g errgroup.Group
	if a.cfg.MaxConcurrentProbes > 0 {
		g.SetLimit(a.cfg.MaxConcurrentProbes)
	}
	for i, h := range handles {
		g.Go(func() error {
			outcomes[i] = a.probe(ctx, h)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (a *Aggregator) probe(ctx context.Context, h *client.Handle) Outcome {
	pctx, cancel := context.WithTimeout(ctx, a.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	tag, err := h.Client.HealthCheck(pctx)
	o := Outcome{Handle: h, Tag: tag, Err: err, Duration: time.Since(start)}

	result := observability.OutcomeAlive
	if err != nil {
		result = observability.OutcomeDead
	}
	a.metrics.RecordProbe(ctx, h.Service, result, o.Duration)
	return o
}

// Probe checks every handle and returns the reachable ones keyed by the tag
// each reported. Unreachable handles are closed and, when dereg is set,
// queued for deregistration. Nothing is queued once ctx itself is done,
// since the failures are then the caller's.
func (a *Aggregator) Probe(ctx context.Context, handles []*client.Handle, dereg Deregisterer) AliveResult {
	ctx, span := observability.StartSpan(ctx, observability.SpanProbe,
		attribute.Int(observability.AttrInstances, len(handles)),
	)
	log := a.log.WithContext(ctx)

	outcomes := a.Outcomes(ctx, handles)
	callerDone := ctx.Err() != nil

	alive := make(AliveResult)
	for _, o := range outcomes {
		if o.Alive() {
			alive[o.Tag] = append(alive[o.Tag], o.Handle)
			continue
		}

		entry := o.Handle.Entry
		appErr := meshgrpc.FromGRPC(o.Err, entry.Target())
		log.Warn("instance unreachable", logger.Fields(
			logger.FieldServiceID, entry.ServiceID,
			logger.FieldTarget, entry.Target(),
			logger.FieldStatus, meshgrpc.Reason(o.Err),
			logger.FieldError, appErr.Error(),
			logger.FieldDuration, o.Duration.Milliseconds(),
		))
		_ = o.Handle.Close()

		if dereg != nil && a.reaper != nil && !callerDone {
			a.reaper.Submit(Job{
				ServiceID:    entry.ServiceID,
				Deregisterer: dereg,
				ResolutionID: logger.ResolutionIDFromContext(ctx),
			})
		}
	}

	span.SetAttributes(attribute.Int(observability.AttrAlive, alive.Len()))
	observability.EndSpan(span, nil)
	log.Debug("probe complete", logger.Fields(
		"instances", len(handles), "alive", alive.Len(), "tags", len(alive),
	))
	return alive
}
