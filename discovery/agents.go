package discovery

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/kbukum/meshprobe/logger"
)

// AgentFactory builds an Agent bound to address. Providers register one in
// an init function.
type AgentFactory func(address string, cfg Config, log *logger.Logger) (Agent, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]AgentFactory)
)

// RegisterAgentFactory registers the factory for a provider name.
func RegisterAgentFactory(name string, f AgentFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Providers returns the registered provider names, sorted.
func Providers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewAgents builds one Agent per configured address, or a single Agent when
// the provider needs none. Agents built before a failure are closed.
func NewAgents(cfg Config, log *logger.Logger) ([]Agent, error) {
	factoriesMu.RLock()
	f, ok := factories[cfg.Provider]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported discovery provider %q (registered: %v)", cfg.Provider, Providers())
	}

	addrs := cfg.Addresses
	if len(addrs) == 0 {
		addrs = []string{""}
	}

	agents := make([]Agent, 0, len(addrs))
	for _, addr := range addrs {
		a, err := f(addr, cfg, log)
		if err != nil {
			_ = CloseAgents(agents)
			return nil, fmt.Errorf("%s agent %s: %w", cfg.Provider, addr, err)
		}
		agents = append(agents, a)
	}
	return agents, nil
}

// CloseAgents closes every agent that holds resources.
func CloseAgents(agents []Agent) error {
	var result *multierror.Error
	for _, a := range agents {
		if c, ok := a.(io.Closer); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}
