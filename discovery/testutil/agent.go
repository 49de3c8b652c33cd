// Package testutil provides an in-memory discovery.Agent with call counting
// and failure injection.
package testutil

import (
	"context"
	"sync"

	"github.com/kbukum/meshprobe/discovery"
)

// Agent is an in-memory catalog node for tests.
type Agent struct {
	mu       sync.Mutex
	services map[string][]string
	nodes    map[string][]discovery.CatalogNode
	kv       map[string][]byte

	failures map[string][]error
	calls    map[string]int
	deregs   []string
}

var _ discovery.Agent = (*Agent)(nil)

// Operation names used by Fail and Calls.
const (
	OpListServices = "ListServices"
	OpServiceNodes = "ServiceNodes"
	OpKVGet        = "KVGet"
	OpDeregister   = "Deregister"
)

// NewAgent creates an empty Agent.
func NewAgent() *Agent {
	return &Agent{
		services: make(map[string][]string),
		nodes:    make(map[string][]discovery.CatalogNode),
		kv:       make(map[string][]byte),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// AddService registers a composite name in the catalog listing.
func (a *Agent) AddService(name string, tags ...string) *Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.services[name] = tags
	return a
}

// AddNode registers a node under name. The name is also listed.
func (a *Agent) AddNode(name string, node discovery.CatalogNode) *Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	if node.ServiceName == "" {
		node.ServiceName = name
	}
	a.nodes[name] = append(a.nodes[name], node)
	if _, ok := a.services[name]; !ok {
		a.services[name] = nil
	}
	return a
}

// SetKey stores a KV value.
func (a *Agent) SetKey(key string, value []byte) *Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kv[key] = value
	return a
}

// Fail queues errors returned by the next calls of op, in order. A nil
// entry lets that call through.
func (a *Agent) Fail(op string, errs ...error) *Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[op] = append(a.failures[op], errs...)
	return a
}

// Calls returns how many times op was invoked.
func (a *Agent) Calls(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

// Deregistered returns the ids passed to Deregister, in call order.
func (a *Agent) Deregistered() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.deregs...)
}

// enter counts a call and pops the next injected failure. Callers hold a.mu.
func (a *Agent) enter(op string) error {
	a.calls[op]++
	queue := a.failures[op]
	if len(queue) == 0 {
		return nil
	}
	a.failures[op] = queue[1:]
	return queue[0]
}

func (a *Agent) ListServices(ctx context.Context) (map[string][]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter(OpListServices); err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(a.services))
	for k, v := range a.services {
		out[k] = append([]string(nil), v...)
	}
	return out, ctx.Err()
}

func (a *Agent) ServiceNodes(ctx context.Context, name string) ([]discovery.CatalogNode, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter(OpServiceNodes); err != nil {
		return nil, err
	}
	return append([]discovery.CatalogNode(nil), a.nodes[name]...), ctx.Err()
}

func (a *Agent) KVGet(ctx context.Context, key string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter(OpKVGet); err != nil {
		return nil, err
	}
	v, ok := a.kv[key]
	if !ok {
		return nil, ctx.Err()
	}
	return append([]byte(nil), v...), ctx.Err()
}

func (a *Agent) Deregister(ctx context.Context, serviceID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter(OpDeregister); err != nil {
		return err
	}
	a.deregs = append(a.deregs, serviceID)
	for name, list := range a.nodes {
		kept := list[:0]
		for _, n := range list {
			if n.ServiceID != serviceID {
				kept = append(kept, n)
			}
		}
		a.nodes[name] = kept
	}
	return ctx.Err()
}
