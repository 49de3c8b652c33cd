package grpc

import (
	"time"

	"github.com/kbukum/meshprobe/validation"
)

const (
	defaultMaxMsgSize       = 4 << 20
	defaultKeepaliveTime    = 30 * time.Second
	defaultKeepaliveTimeout = 10 * time.Second
	defaultCallTimeout      = 30 * time.Second
)

// Keepalive mirrors grpc keepalive.ClientParameters.
type Keepalive struct {
	Time                time.Duration `yaml:"time" mapstructure:"time" validate:"gte=0"`
	Timeout             time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	PermitWithoutStream bool          `yaml:"permit_without_stream" mapstructure:"permit_without_stream"`
}

// Config holds the dial settings shared by every instance connection.
// Targets are not configured here; they come from catalog entries.
type Config struct {
	MaxRecvMsgSize int       `yaml:"max_recv_msg_size" mapstructure:"max_recv_msg_size" validate:"gt=0"`
	MaxSendMsgSize int       `yaml:"max_send_msg_size" mapstructure:"max_send_msg_size" validate:"gt=0"`
	Keepalive      Keepalive `yaml:"keepalive" mapstructure:"keepalive"`

	// CallTimeout caps every unary call. A caller deadline that expires
	// sooner still wins.
	CallTimeout time.Duration `yaml:"call_timeout" mapstructure:"call_timeout" validate:"gte=0"`

	// LogCalls logs every call at debug, and failures at warn.
	LogCalls bool `yaml:"log_calls" mapstructure:"log_calls"`
}

func (c *Config) ApplyDefaults() {
	if c.MaxRecvMsgSize == 0 {
		c.MaxRecvMsgSize = defaultMaxMsgSize
	}
	if c.MaxSendMsgSize == 0 {
		c.MaxSendMsgSize = defaultMaxMsgSize
	}
	if c.Keepalive.Time == 0 {
		c.Keepalive.Time = defaultKeepaliveTime
	}
	if c.Keepalive.Timeout == 0 {
		c.Keepalive.Timeout = defaultKeepaliveTimeout
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = defaultCallTimeout
	}
}

func (c *Config) Validate() error {
	return validation.Validate(c)
}
