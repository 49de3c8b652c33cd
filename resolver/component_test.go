package resolver_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/meshprobe/component"
	"github.com/kbukum/meshprobe/discovery"
	_ "github.com/kbukum/meshprobe/discovery/static"
	"github.com/kbukum/meshprobe/logger"
	"github.com/kbukum/meshprobe/protocol"
	"github.com/kbukum/meshprobe/resilience"
	"github.com/kbukum/meshprobe/resolver"
	"github.com/kbukum/meshprobe/testutil"
)

func staticConfig(services ...discovery.StaticService) resolver.Config {
	var cfg resolver.Config
	cfg.Discovery.Provider = discovery.ProviderStatic
	cfg.Discovery.Static.Services = services
	cfg.Protocol.Packages = []string{"foo"}
	return cfg
}

func TestComponent_Lifecycle(t *testing.T) {
	n := testutil.NewNetwork()
	testutil.T(t).Setup(n)
	alivePort := n.Serve(fooSvc, testutil.Tagged("h1"))
	deadPort := n.Reserve()

	cfg := staticConfig(
		discovery.StaticService{ID: "foo-1", Name: "foo-svc@h1", Address: "127.0.0.1", Port: alivePort},
		discovery.StaticService{ID: "foo-2", Name: "foo-svc@h1", Address: "127.0.0.1", Port: deadPort},
	)
	c := resolver.NewComponent(cfg, logger.NewNop(), resolver.WithDialOptions(n.DialOptions()...))
	ctx := context.Background()

	assert.Equal(t, component.StatusUnhealthy, c.Health(ctx).Status)
	_, err := c.ResolveAlive(ctx, []string{"foo-svc@h1"})
	require.Error(t, err)

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, component.StatusHealthy, c.Health(ctx).Status)
	require.Len(t, c.Agents(), 1)
	agent := c.Agents()[0]
	assert.Equal(t, discovery.ModeDistributed, c.Catalog().Mode())

	alive, err := c.ResolveAlive(ctx, []string{"foo-svc@h1"})
	require.NoError(t, err)
	defer alive.Close()
	assert.Equal(t, map[string][]string{"h1": {"foo-1"}}, alive.Membership())

	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, int64(1), c.ReaperStats().Succeeded)

	// the static catalog dropped the dead instance
	assert.Nil(t, c.Agents())
	nodes, err := agent.ServiceNodes(ctx, "foo-svc@h1")
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
	assert.Equal(t, component.StatusUnhealthy, c.Health(ctx).Status)
}

func TestComponent_StartFailsOnBadConfig(t *testing.T) {
	cfg := staticConfig()
	cfg.Discovery.Mode = "sideways"
	c := resolver.NewComponent(cfg, logger.NewNop())
	assert.Error(t, c.Start(context.Background()))

	cfg = staticConfig()
	cfg.Discovery.Provider = "zookeeper"
	cfg.Discovery.Addresses = []string{"zk:2181"}
	c = resolver.NewComponent(cfg, logger.NewNop())
	assert.Error(t, c.Start(context.Background()))
}

func TestComponent_WithRegistry(t *testing.T) {
	reg := protocol.NewStaticRegistry("")
	cfg := staticConfig()
	cfg.Protocol = protocol.Config{ProtoRoot: "/does/not/exist", Files: map[string]string{"x": "x.proto"}}

	c := resolver.NewComponent(cfg, logger.NewNop(), resolver.WithRegistry(reg))
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop(context.Background()))
}

func TestConfig_Defaults(t *testing.T) {
	cfg := staticConfig()
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "meshprobe", cfg.Name)
	assert.Equal(t, "meshprobe", cfg.TelemetryService().Name)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRate)
	assert.Equal(t, protocol.DefaultNamespace, cfg.Protocol.Namespace)
	assert.NotZero(t, cfg.Health.ProbeTimeout)
	assert.NotZero(t, cfg.GRPC.CallTimeout)

	cfg.Telemetry.Endpoint = "collector-without-port"
	assert.Error(t, cfg.Validate())
}

func TestConfig_ReaperTimeoutFollowsCatalogRetryBudget(t *testing.T) {
	cfg := staticConfig()
	cfg.ApplyDefaults()
	assert.Equal(t, resilience.CatalogRetryConfig().Timeout, cfg.Health.Reaper.Timeout)

	cfg = staticConfig()
	cfg.Discovery.Retry.Timeout = 90 * time.Second
	cfg.ApplyDefaults()
	assert.Equal(t, 90*time.Second, cfg.Health.Reaper.Timeout)

	cfg = staticConfig()
	cfg.Health.Reaper.Timeout = 5 * time.Second
	cfg.ApplyDefaults()
	assert.Equal(t, 5*time.Second, cfg.Health.Reaper.Timeout)
}
