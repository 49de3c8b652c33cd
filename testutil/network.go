package testutil

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/kbukum/meshprobe/component"
	"github.com/kbukum/meshprobe/protocol"
)

const bufSize = 1 << 20

// FirstPort is the port handed to the first served instance.
const FirstPort = 40000

type instance struct {
	lis *bufconn.Listener
	srv *grpc.Server
}

// Network is a set of in-memory gRPC servers addressed by host:port.
type Network struct {
	mu        sync.Mutex
	instances map[string]*instance
	nextPort  int
	started   bool
}

var _ Fixture = (*Network)(nil)

// NewNetwork creates an empty Network.
func NewNetwork() *Network {
	return &Network{instances: make(map[string]*instance), nextPort: FirstPort}
}

// Name implements component.Component.
func (n *Network) Name() string { return "bufconn-network" }

// Start implements component.Component.
func (n *Network) Start(context.Context) error {
	n.mu.Lock()
	n.started = true
	n.mu.Unlock()
	return nil
}

// Stop shuts every server down.
func (n *Network) Stop(ctx context.Context) error {
	n.mu.Lock()
	n.started = false
	n.mu.Unlock()
	return n.Reset(ctx)
}

// Reset stops and forgets every server. Port numbering continues.
func (n *Network) Reset(context.Context) error {
	n.mu.Lock()
	instances := n.instances
	n.instances = make(map[string]*instance)
	n.mu.Unlock()

	for _, inst := range instances {
		inst.srv.Stop()
	}
	return nil
}

// Health implements component.Component.
func (n *Network) Health(context.Context) component.Health {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started {
		return component.Health{Name: n.Name(), Status: component.StatusUnhealthy, Message: "not started"}
	}
	return component.Health{Name: n.Name(), Status: component.StatusHealthy, Message: fmt.Sprintf("%d servers", len(n.instances))}
}

// Serve starts a server on a fresh loopback port exposing the health
// contract of fullService backed by impl, and returns the port.
func (n *Network) Serve(fullService string, impl protocol.HealthChecker) int {
	port := n.Reserve()
	n.ServeAt(n.Target(port), fullService, impl)
	return port
}

// ServeAt starts a server answering dials to addr exactly.
func (n *Network) ServeAt(addr, fullService string, impl protocol.HealthChecker) {
	lis := bufconn.Listen(bufSize)
	srv := grpc.NewServer()
	protocol.RegisterHealthServer(srv, fullService, impl)
	go func() { _ = srv.Serve(lis) }()

	n.mu.Lock()
	old := n.instances[addr]
	n.instances[addr] = &instance{lis: lis, srv: srv}
	n.mu.Unlock()
	if old != nil {
		old.srv.Stop()
	}
}

// Reserve returns a loopback port nothing listens on.
func (n *Network) Reserve() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	port := n.nextPort
	n.nextPort++
	return port
}

// Kill stops the loopback server on port; later dials are refused.
func (n *Network) Kill(port int) {
	n.KillAddr(n.Target(port))
}

// KillAddr stops the server at addr.
func (n *Network) KillAddr(addr string) {
	n.mu.Lock()
	inst, ok := n.instances[addr]
	delete(n.instances, addr)
	n.mu.Unlock()
	if ok {
		inst.srv.Stop()
	}
}

// Target returns the loopback dial target for port.
func (n *Network) Target(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// Dial connects to the server at addr. Loopback names are interchangeable,
// so "localhost:p" and "[::1]:p" reach the server at "127.0.0.1:p".
func (n *Network) Dial(ctx context.Context, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	inst, ok := n.instances[addr]
	if !ok && isLoopback(host) {
		inst, ok = n.instances[net.JoinHostPort("127.0.0.1", port)]
	}
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("dial %s: connection refused", addr)
	}
	return inst.lis.DialContext(ctx)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// DialOptions routes connections through the Network.
func (n *Network) DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithContextDialer(n.Dial),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
}

// Tagged is a HealthChecker reporting tag.
func Tagged(tag string) protocol.HealthChecker { return protocol.StaticTag(tag) }

// Slow reports tag after d, or fails when the caller gives up first.
func Slow(tag string, d time.Duration) protocol.HealthChecker {
	return protocol.HealthFunc(func(ctx context.Context) (string, error) {
		select {
		case <-time.After(d):
			return tag, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
}

// Hanging never answers before the caller's deadline.
func Hanging() protocol.HealthChecker {
	return protocol.HealthFunc(func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
}

// Failing always returns err.
func Failing(err error) protocol.HealthChecker {
	return protocol.HealthFunc(func(context.Context) (string, error) { return "", err })
}
