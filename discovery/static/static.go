// Package static implements discovery.Agent over a fixed, in-memory list of
// instances. Useful for local development and for hosts without a catalog.
package static

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/meshprobe/discovery"
	"github.com/kbukum/meshprobe/logger"
)

// Provider is an in-memory catalog seeded from configuration.
type Provider struct {
	mu        sync.RWMutex
	instances map[string][]discovery.StaticService // keyed by composite name
	tags      map[string][]string
	kv        map[string][]byte
}

var _ discovery.Agent = (*Provider)(nil)

func init() {
	discovery.RegisterAgentFactory(discovery.ProviderStatic, func(_ string, cfg discovery.Config, _ *logger.Logger) (discovery.Agent, error) {
		return NewProvider(cfg.Static), nil
	})
}

// NewProvider creates a Provider pre-populated from static config. Instances
// without an ID get "<name>-<address>-<port>".
func NewProvider(opts discovery.StaticOptions) *Provider {
	p := &Provider{
		instances: make(map[string][]discovery.StaticService),
		tags:      make(map[string][]string),
		kv:        make(map[string][]byte, len(opts.KV)),
	}
	for _, svc := range opts.Services {
		p.add(svc)
	}
	for k, v := range opts.KV {
		p.kv[k] = []byte(v)
	}
	return p
}

// Register adds an instance.
func (p *Provider) Register(svc discovery.StaticService) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.add(svc)
}

func (p *Provider) add(svc discovery.StaticService) {
	if svc.ID == "" {
		svc.ID = fmt.Sprintf("%s-%s-%d", svc.Name, svc.Address, svc.Port)
	}
	p.instances[svc.Name] = append(p.instances[svc.Name], svc)
	seen := make(map[string]bool, len(p.tags[svc.Name]))
	for _, t := range p.tags[svc.Name] {
		seen[t] = true
	}
	for _, t := range svc.Tags {
		if !seen[t] {
			seen[t] = true
			p.tags[svc.Name] = append(p.tags[svc.Name], t)
		}
	}
}

// ListServices returns every registered name with its tags.
func (p *Provider) ListServices(_ context.Context) (map[string][]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string][]string, len(p.instances))
	for name := range p.instances {
		out[name] = append([]string{}, p.tags[name]...)
	}
	return out, nil
}

// ServiceNodes returns the instances registered under name.
func (p *Provider) ServiceNodes(_ context.Context, name string) ([]discovery.CatalogNode, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	list := p.instances[name]
	nodes := make([]discovery.CatalogNode, 0, len(list))
	for _, svc := range list {
		nodes = append(nodes, discovery.CatalogNode{
			ServiceID:      svc.ID,
			ServiceName:    svc.Name,
			ServiceAddress: svc.Address,
			ServicePort:    svc.Port,
		})
	}
	return nodes, nil
}

// KVGet returns the configured value, or nil.
func (p *Provider) KVGet(_ context.Context, key string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.kv[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Deregister removes an instance by ID.
func (p *Provider) Deregister(_ context.Context, serviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, list := range p.instances {
		for i, svc := range list {
			if svc.ID == serviceID {
				p.instances[name] = append(list[:i], list[i+1:]...)
				if len(p.instances[name]) == 0 {
					delete(p.instances, name)
					delete(p.tags, name)
				}
				return nil
			}
		}
	}
	return nil
}
