package resolver

import (
	"fmt"

	"github.com/kbukum/meshprobe/config"
	"github.com/kbukum/meshprobe/discovery"
	grpccfg "github.com/kbukum/meshprobe/grpc"
	"github.com/kbukum/meshprobe/health"
	"github.com/kbukum/meshprobe/observability"
	"github.com/kbukum/meshprobe/protocol"
	"github.com/kbukum/meshprobe/server"
)

// Config is the application configuration of a resolving process.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Discovery discovery.Config     `yaml:"discovery" mapstructure:"discovery"`
	GRPC      grpccfg.Config       `yaml:"grpc" mapstructure:"grpc"`
	Protocol  protocol.Config      `yaml:"protocol" mapstructure:"protocol"`
	Health    health.Config        `yaml:"health" mapstructure:"health"`
	Telemetry observability.Config `yaml:"telemetry" mapstructure:"telemetry"`
	Server    server.Config        `yaml:"server" mapstructure:"server"`
}

// ApplyDefaults fills zero-valued fields in every section.
func (c *Config) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.Discovery.ApplyDefaults()
	c.GRPC.ApplyDefaults()
	c.Protocol.ApplyDefaults()
	// a reaper job runs Catalog.Deregister, so it gets the whole retry budget
	if c.Health.Reaper.Timeout == 0 {
		c.Health.Reaper.Timeout = c.Discovery.Retry.Timeout
	}
	c.Health.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.Telemetry.ApplyDefaults()
}

// Validate validates every section.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	if err := c.GRPC.Validate(); err != nil {
		return err
	}
	if err := c.Protocol.Validate(); err != nil {
		return fmt.Errorf("protocol: %w", err)
	}
	if err := c.Health.Validate(); err != nil {
		return fmt.Errorf("health: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// TelemetryService names this process on exported spans and metrics.
func (c *Config) TelemetryService() observability.Service {
	return observability.Service{Name: c.Name, Version: c.Version, Environment: c.Environment}
}
