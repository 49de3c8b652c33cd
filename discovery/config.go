package discovery

import (
	"fmt"
	"time"

	"github.com/kbukum/meshprobe/errors"
	"github.com/kbukum/meshprobe/resilience"
	"github.com/kbukum/meshprobe/validation"
)

// Provider names.
const (
	ProviderConsul = "consul"
	ProviderEtcd   = "etcd"
	ProviderRedis  = "redis"
	ProviderStatic = "static"
)

// Config selects a catalog backend and the agents used to reach it.
type Config struct {
	// Provider selects the backend: "consul", "etcd", "redis" or "static".
	Provider string `yaml:"provider" mapstructure:"provider" validate:"required,oneof=consul etcd redis static"`

	// Addresses lists catalog nodes as host:port; one Agent is built per address.
	Addresses []string `yaml:"addresses" mapstructure:"addresses" validate:"dive,hostname_port"`

	// Mode is "distributed" or "local". When empty it is derived from TagSuffix.
	Mode string `yaml:"mode" mapstructure:"mode" validate:"omitempty,oneof=distributed local localhost"`

	// TagSuffix is the host tag suffix the fleet registers with.
	TagSuffix string `yaml:"tag_suffix" mapstructure:"tag_suffix"`

	// Retry is the policy wrapped around catalog calls.
	Retry resilience.RetryConfig `yaml:"retry" mapstructure:"retry"`
	// Breaker guards each agent; off unless enabled.
	Breaker resilience.BreakerConfig `yaml:"breaker" mapstructure:"breaker"`

	Consul ConsulOptions `yaml:"consul" mapstructure:"consul"`
	Etcd   EtcdOptions   `yaml:"etcd" mapstructure:"etcd"`
	Redis  RedisOptions  `yaml:"redis" mapstructure:"redis"`
	Static StaticOptions `yaml:"static" mapstructure:"static"`
}

// ConsulOptions holds settings shared by every Consul agent.
type ConsulOptions struct {
	Scheme     string        `yaml:"scheme" mapstructure:"scheme" validate:"omitempty,oneof=http https"`
	Token      string        `yaml:"token" mapstructure:"token"`
	Datacenter string        `yaml:"datacenter" mapstructure:"datacenter"`
	WaitTime   time.Duration `yaml:"wait_time" mapstructure:"wait_time"`
}

// EtcdOptions holds settings shared by every etcd agent.
type EtcdOptions struct {
	Prefix      string        `yaml:"prefix" mapstructure:"prefix"`
	KVPrefix    string        `yaml:"kv_prefix" mapstructure:"kv_prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	Username    string        `yaml:"username" mapstructure:"username"`
	Password    string        `yaml:"password" mapstructure:"password"`
}

// RedisOptions holds settings shared by every Redis agent.
type RedisOptions struct {
	Prefix      string        `yaml:"prefix" mapstructure:"prefix"`
	Password    string        `yaml:"password" mapstructure:"password"`
	DB          int           `yaml:"db" mapstructure:"db" validate:"gte=0"`
	PoolSize    int           `yaml:"pool_size" mapstructure:"pool_size" validate:"gte=0"`
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
}

// StaticOptions describes the in-memory catalog.
type StaticOptions struct {
	Services []StaticService   `yaml:"services" mapstructure:"services" validate:"dive"`
	KV       map[string]string `yaml:"kv" mapstructure:"kv"`
}

// StaticService is one statically registered instance.
type StaticService struct {
	ID      string   `yaml:"id" mapstructure:"id"`
	Name    string   `yaml:"name" mapstructure:"name" validate:"required"`
	Address string   `yaml:"address" mapstructure:"address" validate:"required"`
	Port    int      `yaml:"port" mapstructure:"port" validate:"gt=0,lte=65535"`
	Tags    []string `yaml:"tags" mapstructure:"tags"`
}

// ApplyDefaults fills zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderConsul
	}
	if len(c.Addresses) == 0 {
		switch c.Provider {
		case ProviderConsul:
			c.Addresses = []string{"127.0.0.1:8500"}
		case ProviderEtcd:
			c.Addresses = []string{"127.0.0.1:2379"}
		case ProviderRedis:
			c.Addresses = []string{"127.0.0.1:6379"}
		}
	}

	def := resilience.CatalogRetryConfig()
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = def.MaxAttempts
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = def.InitialBackoff
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = def.MaxBackoff
	}
	if c.Retry.BackoffFactor == 0 {
		c.Retry.BackoffFactor = def.BackoffFactor
	}
	if c.Retry.Timeout == 0 {
		c.Retry.Timeout = def.Timeout
	}
	if c.Retry.RetryIf == nil {
		c.Retry.RetryIf = def.RetryIf
	}

	c.Breaker.ApplyDefaults()

	if c.Consul.Scheme == "" {
		c.Consul.Scheme = "http"
	}
	if c.Etcd.Prefix == "" {
		c.Etcd.Prefix = "/services"
	}
	if c.Etcd.KVPrefix == "" {
		c.Etcd.KVPrefix = "/kv"
	}
	if c.Etcd.DialTimeout == 0 {
		c.Etcd.DialTimeout = 5 * time.Second
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "meshprobe"
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
}

// Validate checks that required fields are present and consistent.
func (c *Config) Validate() error {
	if err := validation.Validate(c); err != nil {
		return err
	}
	if c.Provider != ProviderStatic && len(c.Addresses) == 0 {
		return errors.MissingField("discovery.addresses")
	}
	if _, err := c.DeploymentMode(); err != nil {
		return errors.InvalidInput("discovery.mode", err.Error())
	}
	return nil
}

// DeploymentMode resolves the configured mode. An explicit Mode wins over
// the TagSuffix heuristic.
func (c *Config) DeploymentMode() (DeploymentMode, error) {
	if c.Mode != "" {
		m, err := ParseDeploymentMode(c.Mode)
		if err != nil {
			return ModeDistributed, fmt.Errorf("discovery: %w", err)
		}
		return m, nil
	}
	return ModeFromTagSuffix(c.TagSuffix), nil
}

// NewCatalogFromConfig builds a Catalog from c. c must have defaults applied.
func NewCatalogFromConfig(c Config, opts ...Option) (*Catalog, error) {
	mode, err := c.DeploymentMode()
	if err != nil {
		return nil, err
	}
	base := []Option{WithMode(mode), WithRetry(c.Retry), WithBreaker(c.Breaker)}
	return NewCatalog(append(base, opts...)...), nil
}
