package health_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/kbukum/meshprobe/discovery"
	grpccfg "github.com/kbukum/meshprobe/grpc"
	"github.com/kbukum/meshprobe/grpc/client"
	"github.com/kbukum/meshprobe/health"
	"github.com/kbukum/meshprobe/logger"
	"github.com/kbukum/meshprobe/observability"
	"github.com/kbukum/meshprobe/protocol"
	"github.com/kbukum/meshprobe/testutil"
)

var ordersSvc = protocol.FullServiceName(protocol.DefaultNamespace, "orders")

// recorder is a Deregisterer that remembers what it was asked to remove.
type recorder struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (r *recorder) Deregister(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return r.err
}

func (r *recorder) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.ids...)
	sort.Strings(out)
	return out
}

type fixture struct {
	net   *testutil.Network
	group discovery.ServiceGroup
}

func newFixture(t *testing.T) *fixture {
	n := testutil.NewNetwork()
	testutil.T(t).Setup(n)
	return &fixture{net: n, group: discovery.ServiceGroup{}}
}

func (f *fixture) add(id string, port int) {
	name := "orders-svc@h"
	f.group[name] = append(f.group[name], discovery.ServiceEntry{
		ServiceID: id, ServiceName: name, Address: "127.0.0.1", Port: port,
	})
}

func (f *fixture) handles(t *testing.T) []*client.Handle {
	t.Helper()
	reg := protocol.NewStaticRegistry("")
	reg.RegisterPackages("orders")
	factory, err := client.NewFactory(grpccfg.Config{}, reg,
		client.WithDialOptions(f.net.DialOptions()...),
		client.WithLogger(logger.NewNop()),
	)
	require.NoError(t, err)
	hs, err := factory.Build(context.Background(), f.group)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.CloseAll(hs) })
	return hs
}

func startedReaper(t *testing.T, cfg health.ReaperConfig, opts ...health.ReaperOption) *health.Reaper {
	t.Helper()
	r := health.NewReaper(cfg, append([]health.ReaperOption{health.WithReaperLogger(logger.NewNop())}, opts...)...)
	require.NoError(t, r.Start(context.Background()))
	return r
}

func TestAggregator_Probe_Partitions(t *testing.T) {
	f := newFixture(t)
	f.add("a", f.net.Serve(ordersSvc, testutil.Tagged("h1")))
	f.add("b", f.net.Serve(ordersSvc, testutil.Tagged("h1")))
	f.add("c", f.net.Serve(ordersSvc, testutil.Tagged("h2")))
	f.add("dead", f.net.Reserve())
	f.add("hung", f.net.Serve(ordersSvc, testutil.Hanging()))
	handles := f.handles(t)

	reaper := startedReaper(t, health.ReaperConfig{})
	agg := health.NewAggregator(health.Config{ProbeTimeout: 200 * time.Millisecond},
		health.WithReaper(reaper), health.WithLogger(logger.NewNop()))

	dereg := &recorder{}
	alive := agg.Probe(context.Background(), handles, dereg)
	require.NoError(t, reaper.Stop(context.Background()))

	assert.Equal(t, map[string][]string{"h1": {"a", "b"}, "h2": {"c"}}, alive.Membership())
	assert.Equal(t, []string{"h1", "h2"}, alive.Tags())
	assert.Equal(t, 3, alive.Len())
	assert.Equal(t, []string{"dead", "hung"}, dereg.IDs())
	assert.Equal(t, int64(2), reaper.Stats().Succeeded)
}

func TestAggregator_Probe_UndialableInstanceIsReaped(t *testing.T) {
	f := newFixture(t)
	f.add("ok", f.net.Serve(ordersSvc, testutil.Tagged("h1")))
	f.group["orders-svc@h"] = append(f.group["orders-svc@h"], discovery.ServiceEntry{
		ServiceID: "malformed", ServiceName: "orders-svc@h", Address: "10.0.0.1%zz", Port: 9000,
	})
	handles := f.handles(t)
	require.Len(t, handles, 2)

	reaper := startedReaper(t, health.ReaperConfig{})
	agg := health.NewAggregator(health.Config{ProbeTimeout: 200 * time.Millisecond},
		health.WithReaper(reaper), health.WithLogger(logger.NewNop()))

	dereg := &recorder{}
	alive := agg.Probe(context.Background(), handles, dereg)
	require.NoError(t, reaper.Stop(context.Background()))

	assert.Equal(t, map[string][]string{"h1": {"ok"}}, alive.Membership())
	assert.Equal(t, []string{"malformed"}, dereg.IDs())
}

func TestAggregator_Probe_SchedulesEveryDeadInstance(t *testing.T) {
	const dead = 12
	f := newFixture(t)
	f.add("live", f.net.Serve(ordersSvc, testutil.Tagged("h1")))
	want := make([]string, 0, dead)
	for i := 0; i < dead; i++ {
		id := fmt.Sprintf("dead-%02d", i)
		f.add(id, f.net.Reserve())
		want = append(want, id)
	}
	handles := f.handles(t)

	reaper := startedReaper(t, health.ReaperConfig{Workers: 1, QueueSize: 3})
	agg := health.NewAggregator(health.Config{ProbeTimeout: 200 * time.Millisecond},
		health.WithReaper(reaper), health.WithLogger(logger.NewNop()))

	rec := &recorder{}
	slow := health.DeregisterFunc(func(ctx context.Context, id string) error {
		time.Sleep(10 * time.Millisecond)
		return rec.Deregister(ctx, id)
	})
	alive := agg.Probe(context.Background(), handles, slow)
	assert.Equal(t, map[string][]string{"h1": {"live"}}, alive.Membership())
	assert.Zero(t, reaper.Stats().Dropped)

	require.NoError(t, reaper.Stop(context.Background()))
	assert.Equal(t, want, rec.IDs())
	assert.Equal(t, int64(dead), reaper.Stats().Succeeded)
}

func TestAggregator_Probe_SlowInstanceIsBounded(t *testing.T) {
	f := newFixture(t)
	f.add("fast", f.net.Serve(ordersSvc, testutil.Tagged("h1")))
	f.add("slow", f.net.Serve(ordersSvc, testutil.Slow("h1", 5*time.Second)))
	handles := f.handles(t)

	agg := health.NewAggregator(health.Config{ProbeTimeout: 100 * time.Millisecond}, health.WithLogger(logger.NewNop()))

	start := time.Now()
	alive := agg.Probe(context.Background(), handles, nil)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, map[string][]string{"h1": {"fast"}}, alive.Membership())
}

func TestAggregator_Probe_Empty(t *testing.T) {
	agg := health.NewAggregator(health.Config{}, health.WithLogger(logger.NewNop()))

	alive := agg.Probe(context.Background(), nil, &recorder{})
	assert.NotNil(t, alive)
	assert.Equal(t, 0, alive.Len())
}

func TestAggregator_Probe_AllDead(t *testing.T) {
	f := newFixture(t)
	f.add("x", f.net.Reserve())
	f.add("y", f.net.Serve(ordersSvc, testutil.Failing(stderrors.New("boom"))))
	handles := f.handles(t)

	agg := health.NewAggregator(health.Config{ProbeTimeout: time.Second}, health.WithLogger(logger.NewNop()))
	alive := agg.Probe(context.Background(), handles, nil)
	assert.Empty(t, alive)
}

func TestAggregator_Probe_CallerCancelledSkipsDeregistration(t *testing.T) {
	f := newFixture(t)
	f.add("a", f.net.Serve(ordersSvc, testutil.Hanging()))
	handles := f.handles(t)

	reaper := startedReaper(t, health.ReaperConfig{})
	agg := health.NewAggregator(health.Config{ProbeTimeout: time.Second},
		health.WithReaper(reaper), health.WithLogger(logger.NewNop()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	dereg := &recorder{}
	alive := agg.Probe(ctx, handles, dereg)
	require.NoError(t, reaper.Stop(context.Background()))

	assert.Empty(t, alive)
	assert.Empty(t, dereg.IDs())
}

func TestAggregator_Outcomes_ConcurrencyCap(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		f.add(id, f.net.Serve(ordersSvc, testutil.Tagged(id)))
	}
	handles := f.handles(t)

	agg := health.NewAggregator(health.Config{MaxConcurrentProbes: 1}, health.WithLogger(logger.NewNop()))
	outcomes := agg.Outcomes(context.Background(), handles)
	require.Len(t, outcomes, 4)
	for i, o := range outcomes {
		assert.True(t, o.Alive())
		assert.Same(t, handles[i], o.Handle)
		assert.Equal(t, handles[i].Entry.ServiceID, o.Tag)
	}
}

func TestAggregator_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := observability.NewProbeMetrics(provider.Meter("test"))
	require.NoError(t, err)

	f := newFixture(t)
	f.add("a", f.net.Serve(ordersSvc, testutil.Tagged("h1")))
	f.add("b", f.net.Reserve())
	handles := f.handles(t)

	agg := health.NewAggregator(health.Config{}, health.WithMetrics(metrics), health.WithLogger(logger.NewNop()))
	agg.Probe(context.Background(), handles, nil)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "meshprobe.probe.total" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), total)
}
