package consul

import (
	"fmt"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/kbukum/meshprobe/discovery"
)

// Config holds the connection settings of one Consul agent.
type Config struct {
	// Address is the agent address (host:port).
	Address string
	// Scheme is the URI scheme (http/https).
	Scheme string
	// Datacenter to query; empty means the agent's own.
	Datacenter string
	// Token is the ACL token.
	Token string
	// WaitTime bounds blocking queries.
	WaitTime time.Duration
}

// ConfigFrom derives an agent Config from the shared discovery settings.
func ConfigFrom(address string, cfg discovery.Config) Config {
	return Config{
		Address:    address,
		Scheme:     cfg.Consul.Scheme,
		Datacenter: cfg.Consul.Datacenter,
		Token:      cfg.Consul.Token,
		WaitTime:   cfg.Consul.WaitTime,
	}
}

// ApplyDefaults sets sensible defaults for Config.
func (c *Config) ApplyDefaults() {
	if c.Address == "" {
		c.Address = "127.0.0.1:8500"
	}
	if c.Scheme == "" {
		c.Scheme = "http"
	}
}

// Validate checks if the Consul configuration is valid.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("consul address is required")
	}
	if c.Scheme != "http" && c.Scheme != "https" {
		return fmt.Errorf("consul scheme must be 'http' or 'https', got '%s'", c.Scheme)
	}
	if c.WaitTime < 0 {
		return fmt.Errorf("wait_time must be non-negative")
	}
	return nil
}

func (c *Config) apiConfig() *api.Config {
	apiCfg := api.DefaultConfig()
	apiCfg.Address = c.Address
	apiCfg.Scheme = c.Scheme
	apiCfg.Token = c.Token
	if c.Datacenter != "" {
		apiCfg.Datacenter = c.Datacenter
	}
	if c.WaitTime > 0 {
		apiCfg.WaitTime = c.WaitTime
	}
	return apiCfg
}
