package protocol

import (
	"github.com/kbukum/meshprobe/errors"
)

// Config selects and configures the descriptor registry.
type Config struct {
	// Namespace is the proto package root. Defaults to DefaultNamespace.
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	// ProtoRoot, when set, enables the ProtoRegistry rooted there.
	ProtoRoot string `yaml:"proto_root" mapstructure:"proto_root"`
	// Files maps package ids to .proto paths under ProtoRoot.
	Files map[string]string `yaml:"files" mapstructure:"files"`
	// Packages are registered with the default health stub when ProtoRoot
	// is empty.
	Packages []string `yaml:"packages" mapstructure:"packages"`
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
}

// Validate checks the registry configuration.
func (c *Config) Validate() error {
	if c.ProtoRoot != "" && len(c.Files) == 0 {
		return errors.MissingField("protocol.files")
	}
	return nil
}

// NewRegistry builds the Registry described by c. Proto files are parsed
// eagerly so misconfiguration surfaces at startup.
func NewRegistry(c Config) (Registry, error) {
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.ProtoRoot != "" {
		r := NewProtoRegistry(c.ProtoRoot, c.Files, c.Namespace)
		if err := r.Preload(); err != nil {
			return nil, err
		}
		return r, nil
	}
	r := NewStaticRegistry(c.Namespace)
	r.RegisterPackages(c.Packages...)
	return r, nil
}
