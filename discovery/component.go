package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/meshprobe/component"
	"github.com/kbukum/meshprobe/logger"
)

const healthProbeTimeout = 2 * time.Second

// Component owns the agent set of a process.
type Component struct {
	cfg    Config
	log    *logger.Logger
	picker Picker

	mu     sync.RWMutex
	agents []Agent
}

var _ component.Component = (*Component)(nil)

// NewComponent creates a discovery Component.
func NewComponent(cfg Config, log *logger.Logger) *Component {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Component{
		cfg:    cfg,
		log:    log.WithComponent("discovery"),
		picker: NewRandomPicker(nil),
	}
}

// Name returns the component name.
func (c *Component) Name() string { return "discovery" }

// Agents returns the agent set, or nil before Start.
func (c *Component) Agents() []Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agents
}

// Start builds the agents.
func (c *Component) Start(ctx context.Context) error {
	c.cfg.ApplyDefaults()
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("discovery config: %w", err)
	}

	agents, err := NewAgents(c.cfg, c.log)
	if err != nil {
		return fmt.Errorf("discovery start: %w", err)
	}

	c.mu.Lock()
	c.agents = agents
	c.mu.Unlock()

	c.log.Info("discovery component started", logger.Fields(
		"provider", c.cfg.Provider, "agents", len(agents),
	))
	return nil
}

// Stop closes the agents.
func (c *Component) Stop(ctx context.Context) error {
	c.mu.Lock()
	agents := c.agents
	c.agents = nil
	c.mu.Unlock()
	return CloseAgents(agents)
}

// Health lists the catalog through one random agent.
func (c *Component) Health(ctx context.Context) component.Health {
	agents := c.Agents()
	if len(agents) == 0 {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: "no agents"}
	}

	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	agent := agents[c.picker.Pick(len(agents))]
	if _, err := agent.ListServices(ctx); err != nil {
		return component.Health{Name: c.Name(), Status: component.StatusDegraded, Message: err.Error()}
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}
