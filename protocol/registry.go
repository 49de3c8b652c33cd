package protocol

import (
	"context"
	"sort"
	"sync"

	"google.golang.org/grpc"

	"github.com/kbukum/meshprobe/errors"
)

// HealthChecker asks one instance for its identity tag.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (tag string, err error)
}

// HealthFunc adapts a function to HealthChecker.
type HealthFunc func(ctx context.Context) (string, error)

// HealthCheck calls f.
func (f HealthFunc) HealthCheck(ctx context.Context) (string, error) { return f(ctx) }

// Descriptor binds a package id to its gRPC service and a health client
// constructor.
type Descriptor struct {
	Package   string
	Service   string
	NewClient func(grpc.ClientConnInterface) HealthChecker
}

// Registry resolves package ids to descriptors. A miss is a configuration
// error and is never retried.
type Registry interface {
	Lookup(pkg string) (Descriptor, error)
}

// StaticRegistry is a Registry populated at startup.
type StaticRegistry struct {
	mu        sync.RWMutex
	namespace string
	descs     map[string]Descriptor
}

var _ Registry = (*StaticRegistry)(nil)

// NewStaticRegistry creates an empty registry. An empty namespace means
// DefaultNamespace.
func NewStaticRegistry(namespace string) *StaticRegistry {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &StaticRegistry{namespace: namespace, descs: make(map[string]Descriptor)}
}

// Register adds or replaces d. Missing Service and NewClient are derived
// from the package id.
func (r *StaticRegistry) Register(d Descriptor) {
	if d.Service == "" {
		d.Service = FullServiceName(r.namespace, d.Package)
	}
	if d.NewClient == nil {
		d.NewClient = NewHealthStub(d.Service)
	}
	r.mu.Lock()
	r.descs[d.Package] = d
	r.mu.Unlock()
}

// RegisterPackages registers the default health stub for each package id.
func (r *StaticRegistry) RegisterPackages(pkgs ...string) {
	for _, p := range pkgs {
		r.Register(Descriptor{Package: p})
	}
}

// Lookup returns the descriptor for pkg.
func (r *StaticRegistry) Lookup(pkg string) (Descriptor, error) {
	r.mu.RLock()
	d, ok := r.descs[pkg]
	r.mu.RUnlock()
	if !ok {
		return Descriptor{}, errors.Configuration("no protocol descriptor registered for package "+pkg).
			WithDetail("package", pkg)
	}
	return d, nil
}

// Packages lists the registered package ids, sorted.
func (r *StaticRegistry) Packages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.descs))
	for p := range r.descs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
