package client

import (
	"context"
	"fmt"
	"sort"

	"google.golang.org/grpc"

	"github.com/kbukum/meshprobe/discovery"
	grpccfg "github.com/kbukum/meshprobe/grpc"
	"github.com/kbukum/meshprobe/logger"
	"github.com/kbukum/meshprobe/protocol"
)

// Factory turns catalog results into client handles.
type Factory struct {
	cfg      grpccfg.Config
	registry protocol.Registry
	log      *logger.Logger
	extra    []grpc.DialOption
}

// Option configures a Factory.
type Option func(*Factory)

// WithDialOptions appends dial options to every connection.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(f *Factory) { f.extra = append(f.extra, opts...) }
}

// WithLogger sets the factory logger.
func WithLogger(l *logger.Logger) Option {
	return func(f *Factory) { f.log = l }
}

// NewFactory validates cfg and returns a Factory resolving descriptors
// through registry.
func NewFactory(cfg grpccfg.Config, registry protocol.Registry, opts ...Option) (*Factory, error) {
	if registry == nil {
		return nil, fmt.Errorf("grpc client factory: registry is required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("grpc client config: %w", err)
	}
	f := &Factory{cfg: cfg, registry: registry}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = logger.GetGlobalLogger()
	}
	f.log = f.log.WithComponent("grpc-client")
	return f, nil
}

// Build creates one handle per entry. Names are processed in sorted order
// and names without entries are skipped. A descriptor lookup failure aborts
// the build and closes the handles made so far. An entry whose target
// cannot be dialed still gets a handle, without a connection, whose health
// check returns the dial error, so probing reports it dead.
func (f *Factory) Build(ctx context.Context, group discovery.ServiceGroup) ([]*Handle, error) {
	names := make([]string, 0, len(group))
	for name, entries := range group {
		if len(entries) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	log := f.log.WithContext(ctx)
	handles := make([]*Handle, 0, group.Len())
	for _, name := range names {
		logical, _ := discovery.SplitCompositeName(name)
		desc, err := f.registry.Lookup(protocol.PackageID(logical))
		if err != nil {
			_ = CloseAll(handles)
			return nil, err
		}

		for _, entry := range group[name] {
			conn, err := NewConn(entry.Target(), f.cfg, f.log, f.extra...)
			if err != nil {
				log.Warn("instance target cannot be dialed", logger.Fields(
					logger.FieldServiceID, entry.ServiceID,
					logger.FieldTarget, entry.Target(),
					logger.FieldError, err.Error(),
				))
				handles = append(handles, &Handle{
					Entry:   entry,
					Service: desc.Service,
					Client:  undialable(err),
				})
				continue
			}
			handles = append(handles, &Handle{
				Entry:   entry,
				Service: desc.Service,
				Client:  desc.NewClient(conn),
				conn:    conn,
			})
		}
	}

	log.Debug("client handles built", logger.Fields("handles", len(handles), "services", len(names)))
	return handles, nil
}

func undialable(err error) protocol.HealthChecker {
	return protocol.HealthFunc(func(context.Context) (string, error) {
		return "", err
	})
}
