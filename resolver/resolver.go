package resolver

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/meshprobe/discovery"
	"github.com/kbukum/meshprobe/grpc/client"
	"github.com/kbukum/meshprobe/health"
	"github.com/kbukum/meshprobe/logger"
	"github.com/kbukum/meshprobe/observability"
	"github.com/kbukum/meshprobe/validation"
)

// Resolver chains catalog lookup, client construction and health probing.
type Resolver struct {
	catalog    *discovery.Catalog
	factory    *client.Factory
	aggregator *health.Aggregator
	log        *logger.Logger
	newID      func() string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// WithIDGenerator replaces the resolution id generator.
func WithIDGenerator(f func() string) Option {
	return func(r *Resolver) { r.newID = f }
}

// New creates a Resolver. Missing collaborators are reported by
// ResolveAlive.
func New(catalog *discovery.Catalog, factory *client.Factory, aggregator *health.Aggregator, opts ...Option) *Resolver {
	r := &Resolver{
		catalog:    catalog,
		factory:    factory,
		aggregator: aggregator,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.GetGlobalLogger()
	}
	r.log = r.log.WithComponent("resolver")
	return r
}

// ResolveAlive returns the reachable instances of names keyed by reported
// tag. Instances that fail their probe are closed and deregistered in the
// background through the same agents. The caller owns the returned handles.
func (r *Resolver) ResolveAlive(ctx context.Context, agents []discovery.Agent, names []string) (health.AliveResult, error) {
	if err := validation.New().
		NotEmpty("agents", len(agents)).
		NotEmpty("names", len(names)).
		NoBlank("names", names).
		NotNil("catalog", r.catalog != nil).
		NotNil("factory", r.factory != nil).
		NotNil("aggregator", r.aggregator != nil).
		Validate(); err != nil {
		return nil, err
	}

	id := logger.ResolutionIDFromContext(ctx)
	if id == "" {
		id = r.newID()
		ctx = logger.ContextWithResolutionID(ctx, id)
	}
	ctx, span := observability.StartSpan(ctx, observability.SpanResolve,
		attribute.String(observability.AttrResolutionID, id),
		attribute.StringSlice(observability.AttrServiceNames, names),
	)
	log := r.log.WithContext(ctx)

	group, err := r.catalog.QueryByNames(ctx, agents, names)
	if err != nil {
		observability.EndSpan(span, err)
		return nil, err
	}

	handles, err := r.factory.Build(ctx, group)
	if err != nil {
		observability.EndSpan(span, err)
		log.Error("building clients failed", logger.Fields(logger.FieldError, err.Error()))
		return nil, err
	}

	dereg := health.DeregisterFunc(func(ctx context.Context, serviceID string) error {
		return r.catalog.Deregister(ctx, agents, serviceID)
	})
	alive := r.aggregator.Probe(ctx, handles, dereg)

	span.SetAttributes(
		attribute.Int(observability.AttrInstances, len(handles)),
		attribute.Int(observability.AttrAlive, alive.Len()),
	)
	observability.EndSpan(span, nil)
	log.Info("resolved alive instances", logger.Fields(
		"names", len(names), "instances", len(handles), "alive", alive.Len(), "tags", alive.Tags(),
	))
	return alive, nil
}
