package health

import (
	"time"

	"github.com/kbukum/meshprobe/resilience"
	"github.com/kbukum/meshprobe/validation"
)

// Config configures probing and background deregistration.
type Config struct {
	// ProbeTimeout bounds each health check.
	ProbeTimeout time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout" validate:"gte=0"`
	// MaxConcurrentProbes caps in-flight probes; 0 means one per handle.
	MaxConcurrentProbes int          `yaml:"max_concurrent_probes" mapstructure:"max_concurrent_probes" validate:"gte=0"`
	Reaper              ReaperConfig `yaml:"reaper" mapstructure:"reaper"`
}

// ReaperConfig configures the deregistration queue.
type ReaperConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers" validate:"gte=0"`
	// QueueSize is the backlog at which the reaper reports itself degraded.
	// Jobs past it are still kept and run.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size" validate:"gte=0"`
	// Timeout bounds one job, including every retry of the deregistration
	// it runs. It defaults to the catalog retry budget so a job is never cut
	// off before its retries are spent.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	// Rate caps deregistrations per second across workers; 0 is unlimited.
	Rate  float64 `yaml:"rate" mapstructure:"rate" validate:"gte=0"`
	Burst int     `yaml:"burst" mapstructure:"burst" validate:"gte=0"`
}

const (
	defaultProbeTimeout  = 3 * time.Second
	defaultReaperWorkers = 2
	defaultReaperQueue   = 256
)

var defaultReaperTimeout = resilience.CatalogRetryConfig().Timeout

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	c.Reaper.ApplyDefaults()
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	return validation.Validate(c)
}

// ApplyDefaults fills zero-valued fields.
func (c *ReaperConfig) ApplyDefaults() {
	if c.Workers == 0 {
		c.Workers = defaultReaperWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultReaperQueue
	}
	if c.Timeout == 0 {
		c.Timeout = defaultReaperTimeout
	}
	if c.Rate > 0 && c.Burst == 0 {
		c.Burst = 1
	}
}
