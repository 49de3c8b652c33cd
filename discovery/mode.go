package discovery

import (
	"fmt"
	"strings"
)

// DeploymentMode selects which half of a composite name identifies a host.
type DeploymentMode int

const (
	// ModeDistributed keeps the logical service name.
	ModeDistributed DeploymentMode = iota
	// ModeLocal keeps the host tag, for fleets co-located on one machine.
	ModeLocal
)

func (m DeploymentMode) String() string {
	switch m {
	case ModeLocal:
		return "local"
	default:
		return "distributed"
	}
}

// ParseDeploymentMode parses "local" or "distributed" (empty means distributed).
func ParseDeploymentMode(s string) (DeploymentMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "distributed":
		return ModeDistributed, nil
	case "local", "localhost":
		return ModeLocal, nil
	default:
		return ModeDistributed, fmt.Errorf("unknown deployment mode %q", s)
	}
}

// ModeFromTagSuffix derives the mode from the service tag suffix a fleet is
// deployed with: any suffix mentioning localhost means local.
func ModeFromTagSuffix(suffix string) DeploymentMode {
	if strings.Contains(suffix, "localhost") {
		return ModeLocal
	}
	return ModeDistributed
}

// pickHost returns the part of a composite name that names the host in mode m.
func (m DeploymentMode) pickHost(compositeName string) string {
	logical, hostTag := SplitCompositeName(compositeName)
	if m == ModeLocal {
		return hostTag
	}
	return logical
}
