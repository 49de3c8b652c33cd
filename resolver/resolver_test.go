package resolver_test

import (
	"bytes"
	"context"
	stderrors "errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/meshprobe/discovery"
	disctest "github.com/kbukum/meshprobe/discovery/testutil"
	"github.com/kbukum/meshprobe/errors"
	grpccfg "github.com/kbukum/meshprobe/grpc"
	"github.com/kbukum/meshprobe/grpc/client"
	"github.com/kbukum/meshprobe/health"
	"github.com/kbukum/meshprobe/logger"
	"github.com/kbukum/meshprobe/protocol"
	"github.com/kbukum/meshprobe/resilience"
	"github.com/kbukum/meshprobe/resolver"
	"github.com/kbukum/meshprobe/testutil"
)

var fooSvc = protocol.FullServiceName(protocol.DefaultNamespace, "foo")

type harness struct {
	net      *testutil.Network
	reaper   *health.Reaper
	resolver *resolver.Resolver

	catalog *discovery.Catalog
	factory *client.Factory
	agg     *health.Aggregator
}

func newHarness(t *testing.T, pkgs ...string) *harness {
	t.Helper()
	n := testutil.NewNetwork()
	testutil.T(t).Setup(n)

	reg := protocol.NewStaticRegistry("")
	reg.RegisterPackages(pkgs...)
	factory, err := client.NewFactory(grpccfg.Config{}, reg,
		client.WithDialOptions(n.DialOptions()...),
		client.WithLogger(logger.NewNop()),
	)
	require.NoError(t, err)

	catalog := discovery.NewCatalog(
		discovery.WithRetry(resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			BackoffFactor:  1,
			RetryIf:        errors.IsRetryRequested,
		}),
		discovery.WithPicker(discovery.NewRandomPicker(rand.NewSource(7))),
		discovery.WithLogger(logger.NewNop()),
	)

	reaper := health.NewReaper(health.ReaperConfig{}, health.WithReaperLogger(logger.NewNop()))
	require.NoError(t, reaper.Start(context.Background()))
	t.Cleanup(func() { _ = reaper.Stop(context.Background()) })

	agg := health.NewAggregator(health.Config{ProbeTimeout: 300 * time.Millisecond},
		health.WithReaper(reaper), health.WithLogger(logger.NewNop()))

	return &harness{
		net:      n,
		reaper:   reaper,
		resolver: resolver.New(catalog, factory, agg, resolver.WithLogger(logger.NewNop())),
		catalog:  catalog,
		factory:  factory,
		agg:      agg,
	}
}

func node(id, name, addr string, port int) discovery.CatalogNode {
	return discovery.CatalogNode{ServiceID: id, ServiceName: name, ServiceAddress: addr, ServicePort: port}
}

func agents(as ...*disctest.Agent) []discovery.Agent {
	out := make([]discovery.Agent, len(as))
	for i, a := range as {
		out[i] = a
	}
	return out
}

func TestResolveAlive_OneAliveOneDead(t *testing.T) {
	h := newHarness(t, "foo")
	h.net.ServeAt("10.0.0.1:9000", fooSvc, testutil.Tagged("v1"))
	h.net.ServeAt("10.0.0.2:9000", fooSvc, testutil.Failing(stderrors.New("down")))

	a := disctest.NewAgent().
		AddNode("foo-svc", node("foo-1", "foo-svc", "10.0.0.1", 9000)).
		AddNode("foo-svc", node("foo-2", "foo-svc", "10.0.0.2", 9000))

	alive, err := h.resolver.ResolveAlive(context.Background(), agents(a), []string{"foo-svc"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = alive.Close() })

	assert.Equal(t, map[string][]string{"v1": {"foo-1"}}, alive.Membership())
	assert.Equal(t, "10.0.0.1:9000", alive["v1"][0].Entry.Target())

	require.NoError(t, h.reaper.Stop(context.Background()))
	assert.Equal(t, []string{"foo-2"}, a.Deregistered())
}

func TestResolveAlive_ResolutionID(t *testing.T) {
	h := newHarness(t, "foo")
	port := h.net.Serve(fooSvc, testutil.Tagged("v1"))
	a := disctest.NewAgent().AddNode("foo-svc", node("foo-1", "foo-svc", "127.0.0.1", port))

	var buf bytes.Buffer
	r := resolver.New(h.catalog, h.factory, h.agg,
		resolver.WithLogger(logger.NewWithWriter(&buf, "info", "meshprobe")),
		resolver.WithIDGenerator(func() string { return "generated-1" }),
	)

	alive, err := r.ResolveAlive(context.Background(), agents(a), []string{"foo-svc"})
	require.NoError(t, err)
	require.NoError(t, alive.Close())
	assert.Contains(t, buf.String(), `"resolution_id":"generated-1"`)

	buf.Reset()
	ctx := logger.ContextWithResolutionID(context.Background(), "req-42")
	alive, err = r.ResolveAlive(ctx, agents(a), []string{"foo-svc"})
	require.NoError(t, err)
	require.NoError(t, alive.Close())
	assert.Contains(t, buf.String(), `"resolution_id":"req-42"`)
	assert.NotContains(t, buf.String(), "generated-1")
}

func TestResolveAlive_MembershipIsStable(t *testing.T) {
	h := newHarness(t, "foo", "bar")
	barSvc := protocol.FullServiceName(protocol.DefaultNamespace, "bar")
	a := disctest.NewAgent()
	for i, tag := range []string{"h1", "h1", "h2"} {
		port := h.net.Serve(fooSvc, testutil.Tagged(tag))
		a.AddNode("foo-svc@"+tag, node("foo-"+string(rune('a'+i)), "foo-svc@"+tag, "127.0.0.1", port))
	}
	port := h.net.Serve(barSvc, testutil.Tagged("h2"))
	a.AddNode("bar-svc@h2", node("bar-a", "bar-svc@h2", "127.0.0.1", port))
	a.AddNode("bar-svc@h2", node("bar-dead", "bar-svc@h2", "127.0.0.1", h.net.Reserve()))

	names := []string{"foo-svc@h1", "foo-svc@h2", "bar-svc@h2"}
	first, err := h.resolver.ResolveAlive(context.Background(), agents(a), names)
	require.NoError(t, err)
	defer first.Close()
	second, err := h.resolver.ResolveAlive(context.Background(), agents(a), names)
	require.NoError(t, err)
	defer second.Close()

	want := map[string][]string{"h1": {"foo-a", "foo-b"}, "h2": {"bar-a", "foo-c"}}
	assert.Equal(t, want, first.Membership())
	assert.Equal(t, first.Membership(), second.Membership())
	assert.NotSame(t, first["h1"][0], second["h1"][0])
}

func TestResolveAlive_GroupsBySelfReportedTag(t *testing.T) {
	h := newHarness(t, "foo")
	port := h.net.Serve(fooSvc, testutil.Tagged("redeploy-7"))
	a := disctest.NewAgent().AddNode("foo-svc@h1", node("foo-1", "foo-svc@h1", "127.0.0.1", port))

	alive, err := h.resolver.ResolveAlive(context.Background(), agents(a), []string{"foo-svc@h1"})
	require.NoError(t, err)
	defer alive.Close()
	assert.Equal(t, []string{"redeploy-7"}, alive.Tags())
}

func TestResolveAlive_LocalhostNodesDialLocalhost(t *testing.T) {
	h := newHarness(t, "foo")
	port := h.net.Serve(fooSvc, testutil.Tagged("dev"))
	// advertised address is unreachable; the localhost name routes the dial locally
	a := disctest.NewAgent().AddNode("foo-svc@localhost", node("foo-1", "foo-svc@localhost", "192.0.2.10", port))

	alive, err := h.resolver.ResolveAlive(context.Background(), agents(a), []string{"foo-svc@localhost"})
	require.NoError(t, err)
	defer alive.Close()
	require.Len(t, alive["dev"], 1)
	assert.Equal(t, "localhost", alive["dev"][0].Entry.Address)
}

func TestResolveAlive_NoInstances(t *testing.T) {
	h := newHarness(t, "foo")
	a := disctest.NewAgent()

	alive, err := h.resolver.ResolveAlive(context.Background(), agents(a), []string{"foo-svc"})
	require.NoError(t, err)
	assert.NotNil(t, alive)
	assert.Equal(t, 0, alive.Len())
}

func TestResolveAlive_FailingDeregistrationsDoNotSurface(t *testing.T) {
	h := newHarness(t, "foo")
	a := disctest.NewAgent().
		AddNode("foo-svc", node("d1", "foo-svc", "127.0.0.1", h.net.Reserve())).
		AddNode("foo-svc", node("d2", "foo-svc", "127.0.0.1", h.net.Reserve())).
		Fail(disctest.OpDeregister, stderrors.New("acl"), stderrors.New("acl"))

	alive, err := h.resolver.ResolveAlive(context.Background(), agents(a), []string{"foo-svc"})
	require.NoError(t, err)
	assert.Empty(t, alive)

	require.NoError(t, h.reaper.Stop(context.Background()))
	assert.Equal(t, int64(2), h.reaper.Stats().Failed)
	assert.Equal(t, 2, a.Calls(disctest.OpDeregister))
}

func TestResolveAlive_ArgumentErrors(t *testing.T) {
	h := newHarness(t, "foo")
	a := disctest.NewAgent()
	ctx := context.Background()

	_, err := h.resolver.ResolveAlive(ctx, nil, []string{"foo-svc"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))

	_, err = h.resolver.ResolveAlive(ctx, agents(a), nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))

	_, err = h.resolver.ResolveAlive(ctx, agents(a), []string{"foo-svc", " "})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))

	assert.Zero(t, a.Calls(disctest.OpServiceNodes))

	_, err = resolver.New(nil, nil, nil).ResolveAlive(ctx, agents(a), []string{"foo-svc"})
	assert.Error(t, err)
}

func TestResolveAlive_CatalogFailure(t *testing.T) {
	h := newHarness(t, "foo")
	boom := stderrors.New("permission denied")
	a := disctest.NewAgent().Fail(disctest.OpServiceNodes, boom)

	_, err := h.resolver.ResolveAlive(context.Background(), agents(a), []string{"foo-svc"})
	assert.Same(t, boom, err)
}

func TestResolveAlive_UnknownProtocol(t *testing.T) {
	h := newHarness(t, "foo")
	a := disctest.NewAgent().AddNode("qux-svc", node("q1", "qux-svc", "127.0.0.1", h.net.Reserve()))

	_, err := h.resolver.ResolveAlive(context.Background(), agents(a), []string{"qux-svc"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfiguration))
}
