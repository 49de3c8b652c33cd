package resolver

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"

	"github.com/kbukum/meshprobe/component"
	"github.com/kbukum/meshprobe/discovery"
	"github.com/kbukum/meshprobe/grpc/client"
	"github.com/kbukum/meshprobe/health"
	"github.com/kbukum/meshprobe/logger"
	"github.com/kbukum/meshprobe/observability"
	"github.com/kbukum/meshprobe/protocol"
)

// Component builds a Resolver from Config and owns the agents and the
// reaper behind it.
type Component struct {
	cfg      Config
	log      *logger.Logger
	metrics  *observability.ProbeMetrics
	dialOpts []grpc.DialOption
	registry protocol.Registry

	mu        sync.RWMutex
	children  *component.Registry
	discovery *discovery.Component
	reaper    *health.Reaper
	catalog   *discovery.Catalog
	resolver  *Resolver
}

var _ component.Component = (*Component)(nil)

// ComponentOption configures a Component.
type ComponentOption func(*Component)

// WithProbeMetrics records probe and deregistration metrics on m.
func WithProbeMetrics(m *observability.ProbeMetrics) ComponentOption {
	return func(c *Component) { c.metrics = m }
}

// WithDialOptions appends dial options to every instance connection.
func WithDialOptions(opts ...grpc.DialOption) ComponentOption {
	return func(c *Component) { c.dialOpts = append(c.dialOpts, opts...) }
}

// WithRegistry uses r instead of the registry described by the protocol
// configuration.
func WithRegistry(r protocol.Registry) ComponentOption {
	return func(c *Component) { c.registry = r }
}

// NewComponent creates a resolver Component.
func NewComponent(cfg Config, log *logger.Logger, opts ...ComponentOption) *Component {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	c := &Component{cfg: cfg, log: log}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the component name.
func (c *Component) Name() string { return "resolver" }

// Start opens the agents, starts the reaper and assembles the Resolver.
func (c *Component) Start(ctx context.Context) error {
	c.cfg.ApplyDefaults()
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("resolver config: %w", err)
	}

	registry := c.registry
	if registry == nil {
		r, err := protocol.NewRegistry(c.cfg.Protocol)
		if err != nil {
			return fmt.Errorf("protocol registry: %w", err)
		}
		registry = r
	}
	factory, err := client.NewFactory(c.cfg.GRPC, registry,
		client.WithLogger(c.log),
		client.WithDialOptions(c.dialOpts...),
	)
	if err != nil {
		return err
	}
	catalog, err := discovery.NewCatalogFromConfig(c.cfg.Discovery, discovery.WithLogger(c.log))
	if err != nil {
		return err
	}

	disc := discovery.NewComponent(c.cfg.Discovery, c.log)
	reaper := health.NewReaper(c.cfg.Health.Reaper,
		health.WithReaperLogger(c.log),
		health.WithReaperMetrics(c.metrics),
	)
	children := component.NewRegistry(c.log)
	if err := children.Register(disc); err != nil {
		return err
	}
	if err := children.Register(reaper); err != nil {
		return err
	}
	if err := children.StartAll(ctx); err != nil {
		return err
	}

	aggregator := health.NewAggregator(c.cfg.Health,
		health.WithReaper(reaper),
		health.WithMetrics(c.metrics),
		health.WithLogger(c.log),
	)

	c.mu.Lock()
	c.children = children
	c.discovery = disc
	c.reaper = reaper
	c.catalog = catalog
	c.resolver = New(catalog, factory, aggregator, WithLogger(c.log))
	c.mu.Unlock()

	c.log.Info("resolver ready", logger.Fields(
		"provider", c.cfg.Discovery.Provider,
		"mode", catalog.Mode().String(),
		"agents", len(disc.Agents()),
	))
	return nil
}

// Stop drains the reaper and closes the agents.
func (c *Component) Stop(ctx context.Context) error {
	c.mu.Lock()
	children := c.children
	c.children = nil
	c.mu.Unlock()
	if children == nil {
		return nil
	}
	return children.StopAll(ctx)
}

// Health folds the health of the agents and the reaper.
func (c *Component) Health(ctx context.Context) component.Health {
	c.mu.RLock()
	children := c.children
	c.mu.RUnlock()
	if children == nil {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: "not started"}
	}
	return component.Health{Name: c.Name(), Status: component.Overall(children.HealthAll(ctx))}
}

// HealthAll reports the agents and the reaper individually.
func (c *Component) HealthAll(ctx context.Context) []component.Health {
	c.mu.RLock()
	children := c.children
	c.mu.RUnlock()
	if children == nil {
		return []component.Health{c.Health(ctx)}
	}
	return children.HealthAll(ctx)
}

// Resolver returns the assembled Resolver, or nil before Start.
func (c *Component) Resolver() *Resolver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolver
}

// Catalog returns the catalog client, or nil before Start.
func (c *Component) Catalog() *discovery.Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.catalog
}

// Agents returns the open agents, or nil before Start.
func (c *Component) Agents() []discovery.Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.discovery == nil {
		return nil
	}
	return c.discovery.Agents()
}

// ReaperStats returns the reaper counters.
func (c *Component) ReaperStats() health.ReaperStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.reaper == nil {
		return health.ReaperStats{}
	}
	return c.reaper.Stats()
}

// ResolveAlive resolves names through the component's own agents.
func (c *Component) ResolveAlive(ctx context.Context, names []string) (health.AliveResult, error) {
	r := c.Resolver()
	if r == nil {
		return nil, fmt.Errorf("resolver: not started")
	}
	return r.ResolveAlive(ctx, c.Agents(), names)
}
