package discovery

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/kbukum/meshprobe/logger"
	"github.com/kbukum/meshprobe/observability"
	"github.com/kbukum/meshprobe/resilience"
	"github.com/kbukum/meshprobe/validation"
)

// Catalog runs queries against a set of interchangeable Agents. The agent
// set is passed per call and only read.
type Catalog struct {
	mode     DeploymentMode
	picker   Picker
	retry    resilience.RetryConfig
	breakers *resilience.Breakers[Agent]
	breaker  resilience.BreakerConfig
	log      *logger.Logger
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithMode sets the deployment mode used by prefix listing.
func WithMode(m DeploymentMode) Option {
	return func(c *Catalog) { c.mode = m }
}

// WithPicker sets the agent picker.
func WithPicker(p Picker) Option {
	return func(c *Catalog) { c.picker = p }
}

// WithRetry sets the retry policy wrapped around every agent call.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Catalog) { c.retry = cfg }
}

// WithBreaker guards each agent with its own circuit breaker. An open
// breaker fails the call with the retry marker, so the retry loop moves to
// another agent. Disabled configs are ignored.
func WithBreaker(cfg resilience.BreakerConfig) Option {
	return func(c *Catalog) { c.breaker = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Catalog) { c.log = l }
}

// NewCatalog creates a Catalog. Defaults: distributed mode, a clock-seeded
// random picker and resilience.CatalogRetryConfig.
func NewCatalog(opts ...Option) *Catalog {
	c := &Catalog{
		mode:  ModeDistributed,
		retry: resilience.CatalogRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.picker == nil {
		c.picker = NewRandomPicker(nil)
	}
	if c.log == nil {
		c.log = logger.GetGlobalLogger()
	}
	c.log = c.log.WithComponent("catalog")
	if c.breaker.Enabled {
		log := c.log
		c.breakers = resilience.NewBreakers[Agent](c.breaker, func(name, from, to string) {
			log.Warn("agent breaker changed state", logger.Fields(
				logger.FieldAgent, name, "from", from, "to", to,
			))
		})
	}
	return c
}

// Mode returns the deployment mode the Catalog was built with.
func (c *Catalog) Mode() DeploymentMode { return c.mode }

func (c *Catalog) pick(agents []Agent) Agent {
	return agents[c.picker.Pick(len(agents))]
}

// BreakerState reports the breaker state of agent, "closed" when breakers
// are off.
func (c *Catalog) BreakerState(agent Agent) string {
	if c.breakers == nil {
		return "closed"
	}
	return c.breakers.State(agent)
}

func guarded[T any](c *Catalog, agent Agent, fn func() (T, error)) (T, error) {
	return resilience.Guard(c.breakers, agent, agentName(agent), fn)
}

func agentName(a Agent) string {
	if s, ok := a.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T(%p)", a, a)
}

// QueryByNamePrefixes lists the whole catalog from one agent and buckets
// every composite name whose logical part starts with a prefix. Bucket
// values are host parts chosen by the deployment mode. A name matching
// several prefixes appears in each bucket. Prefixes without matches have
// no bucket.
func (c *Catalog) QueryByNamePrefixes(ctx context.Context, agents []Agent, prefixes []string) (map[string][]string, error) {
	if err := validation.New().
		NotEmpty("agents", len(agents)).
		NotEmpty("prefixes", len(prefixes)).
		Validate(); err != nil {
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, observability.SpanQueryPrefixes,
		attribute.StringSlice(observability.AttrServiceNames, prefixes),
		attribute.Int(observability.AttrAgents, len(agents)),
	)

	services, err := resilience.Retry(ctx, c.retry, func() (map[string][]string, error) {
		agent := c.pick(agents)
		return guarded(c, agent, func() (map[string][]string, error) {
			return agent.ListServices(ctx)
		})
	})
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	slices.Sort(names)

	result := make(map[string][]string)
	for _, name := range names {
		logical, _ := SplitCompositeName(name)
		for _, prefix := range prefixes {
			if strings.HasPrefix(logical, prefix) {
				result[prefix] = append(result[prefix], c.mode.pickHost(name))
			}
		}
	}

	c.log.WithContext(ctx).Debug("catalog listed by prefix", logger.Fields(
		"services", len(services), "prefixes", len(prefixes), "matched", len(result),
	))
	return result, nil
}

// QueryByNames resolves the nodes of every name concurrently, each against
// a randomly picked agent. The result holds an entry, possibly empty, for
// every requested name. Any catalog failure fails the whole query with the
// agent's error.
func (c *Catalog) QueryByNames(ctx context.Context, agents []Agent, names []string) (ServiceGroup, error) {
	if err := validation.New().
		NotEmpty("agents", len(agents)).
		NotEmpty("names", len(names)).
		NoBlank("names", names).
		Validate(); err != nil {
		return nil, err
	}

	names = dedupe(names)

	ctx, span := observability.StartSpan(ctx, observability.SpanQueryByNames,
		attribute.StringSlice(observability.AttrServiceNames, names),
		attribute.Int(observability.AttrAgents, len(agents)),
	)

	nodes := make([][]CatalogNode, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		first := c.pick(agents)
		g.Go(func() error {
			agent := first
			attempt := 0
			res, err := resilience.Retry(gctx, c.retry, func() ([]CatalogNode, error) {
				if attempt > 0 {
					agent = c.pick(agents)
				}
				attempt++
				return guarded(c, agent, func() ([]CatalogNode, error) {
					return agent.ServiceNodes(gctx, name)
				})
			})
			if err != nil {
				return err
			}
			nodes[i] = res
			return nil
		})
	}
	err := g.Wait()
	observability.EndSpan(span, err)
	if err != nil {
		c.log.WithContext(ctx).Warn("catalog query failed", logger.Fields(
			logger.FieldError, err.Error(), "names", names,
		))
		return nil, err
	}

	group := make(ServiceGroup, len(names))
	for _, name := range names {
		group[name] = []ServiceEntry{}
	}
	for _, list := range nodes {
		for _, n := range list {
			group[n.ServiceName] = append(group[n.ServiceName], entryFromNode(n))
		}
	}

	c.log.WithContext(ctx).Debug("catalog resolved", logger.Fields(
		"names", len(names), "instances", group.Len(),
	))
	return group, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
