package discovery_test

import (
	"context"
	stderrors "errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/meshprobe/discovery"
	"github.com/kbukum/meshprobe/discovery/testutil"
	"github.com/kbukum/meshprobe/errors"
	"github.com/kbukum/meshprobe/logger"
	"github.com/kbukum/meshprobe/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		BackoffFactor:  2,
		RetryIf:        errors.IsRetryRequested,
	}
}

func newCatalog(opts ...discovery.Option) *discovery.Catalog {
	base := []discovery.Option{
		discovery.WithRetry(fastRetry()),
		discovery.WithLogger(logger.NewNop()),
		discovery.WithPicker(discovery.NewRandomPicker(rand.NewSource(1))),
	}
	return discovery.NewCatalog(append(base, opts...)...)
}

func agentsOf(as ...*testutil.Agent) []discovery.Agent {
	out := make([]discovery.Agent, len(as))
	for i, a := range as {
		out[i] = a
	}
	return out
}

func TestQueryByNamePrefixes_DistributedKeepsLogicalName(t *testing.T) {
	a := testutil.NewAgent().
		AddService("foo-svc@hostA").
		AddService("bar-svc@hostA")

	got, err := newCatalog().QueryByNamePrefixes(context.Background(), agentsOf(a), []string{"foo-svc"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"foo-svc": {"foo-svc"}}, got)
}

func TestQueryByNamePrefixes_LocalKeepsHostTag(t *testing.T) {
	a := testutil.NewAgent().
		AddService("foo-svc@localhost-1").
		AddService("foo-svc@localhost-2").
		AddService("bar-svc@localhost-1")

	got, err := newCatalog(discovery.WithMode(discovery.ModeLocal)).
		QueryByNamePrefixes(context.Background(), agentsOf(a), []string{"foo"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"foo": {"localhost-1", "localhost-2"}}, got)
}

func TestQueryByNamePrefixes_OverlappingPrefixesKeepDuplicates(t *testing.T) {
	a := testutil.NewAgent().
		AddService("user-svc@h1").
		AddService("user_account-svc@h1").
		AddService("plain")

	got, err := newCatalog().QueryByNamePrefixes(context.Background(), agentsOf(a), []string{"user", "user-", "pla", "zzz"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"user":  {"user-svc", "user_account-svc"},
		"user-": {"user-svc"},
		"pla":   {"plain"},
	}, got)
}

func TestQueryByNamePrefixes_RetriesMarkedFailures(t *testing.T) {
	a := testutil.NewAgent().AddService("foo-svc@h").
		Fail(testutil.OpListServices, errors.RetryRequested(stderrors.New("503")))

	got, err := newCatalog().QueryByNamePrefixes(context.Background(), agentsOf(a), []string{"foo"})
	require.NoError(t, err)
	assert.Len(t, got["foo"], 1)
	assert.Equal(t, 2, a.Calls(testutil.OpListServices))
}

func TestQueryByNamePrefixes_ArgumentErrors(t *testing.T) {
	a := testutil.NewAgent()
	c := newCatalog()

	_, err := c.QueryByNamePrefixes(context.Background(), nil, []string{"foo"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))

	_, err = c.QueryByNamePrefixes(context.Background(), agentsOf(a), nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
	assert.Zero(t, a.Calls(testutil.OpListServices))
}

func TestQueryByNames_GroupsEntries(t *testing.T) {
	a := testutil.NewAgent().
		AddNode("foo-svc", discovery.CatalogNode{ServiceID: "foo-1", ServiceAddress: "10.0.0.1", ServicePort: 9000}).
		AddNode("foo-svc", discovery.CatalogNode{ServiceID: "foo-2", ServiceAddress: "10.0.0.2", ServicePort: 9000})

	group, err := newCatalog().QueryByNames(context.Background(), agentsOf(a), []string{"foo-svc", "empty-svc"})
	require.NoError(t, err)

	assert.Equal(t, discovery.ServiceGroup{
		"foo-svc": {
			{ServiceID: "foo-1", ServiceName: "foo-svc", Address: "10.0.0.1", Port: 9000},
			{ServiceID: "foo-2", ServiceName: "foo-svc", Address: "10.0.0.2", Port: 9000},
		},
		"empty-svc": {},
	}, group)
	assert.Equal(t, 2, group.Len())
	assert.Equal(t, "10.0.0.1:9000", group["foo-svc"][0].Target())
}

func TestQueryByNames_LocalhostServiceName(t *testing.T) {
	a := testutil.NewAgent().
		AddNode("foo-svc@localhost", discovery.CatalogNode{ServiceID: "f", ServiceAddress: "192.168.1.7", ServicePort: 50051})

	group, err := newCatalog().QueryByNames(context.Background(), agentsOf(a), []string{"foo-svc@localhost"})
	require.NoError(t, err)
	assert.Equal(t, "localhost:50051", group["foo-svc@localhost"][0].Target())
}

func TestQueryByNames_DuplicateNamesCollapse(t *testing.T) {
	a := testutil.NewAgent().
		AddNode("foo-svc", discovery.CatalogNode{ServiceID: "foo-1", ServiceAddress: "10.0.0.1", ServicePort: 1})

	group, err := newCatalog().QueryByNames(context.Background(), agentsOf(a), []string{"foo-svc", "foo-svc"})
	require.NoError(t, err)
	assert.Len(t, group["foo-svc"], 1)
	assert.Equal(t, 1, a.Calls(testutil.OpServiceNodes))
}

func TestQueryByNames_ArgumentErrorsBeforeIO(t *testing.T) {
	a := testutil.NewAgent()
	c := newCatalog()

	tests := []struct {
		name   string
		agents []discovery.Agent
		names  []string
	}{
		{"no agents", nil, []string{"foo"}},
		{"no names", agentsOf(a), nil},
		{"blank name", agentsOf(a), []string{"foo", " "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.QueryByNames(context.Background(), tt.agents, tt.names)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
		})
	}
	assert.Zero(t, a.Calls(testutil.OpServiceNodes))
}

func TestQueryByNames_HardErrorIsReturnedUnwrapped(t *testing.T) {
	boom := stderrors.New("permission denied")
	a := testutil.NewAgent().
		AddNode("ok-svc", discovery.CatalogNode{ServiceID: "ok", ServiceAddress: "10.0.0.1", ServicePort: 1}).
		Fail(testutil.OpServiceNodes, boom)

	group, err := newCatalog().QueryByNames(context.Background(), agentsOf(a), []string{"ok-svc", "bad-svc"})
	assert.Nil(t, group)
	assert.Same(t, boom, err)
}

func TestQueryByNames_RetryExhaustionSurfacesOriginal(t *testing.T) {
	last := errors.RetryRequested(stderrors.New("third"))
	a := testutil.NewAgent().Fail(testutil.OpServiceNodes,
		errors.RetryRequested(stderrors.New("first")),
		errors.RetryRequested(stderrors.New("second")),
		last,
	)

	_, err := newCatalog().QueryByNames(context.Background(), agentsOf(a), []string{"foo"})
	assert.Same(t, last, err)
	assert.Equal(t, 3, a.Calls(testutil.OpServiceNodes))
}

func TestQueryByNames_SpreadsAcrossAgents(t *testing.T) {
	agents := []*testutil.Agent{testutil.NewAgent(), testutil.NewAgent(), testutil.NewAgent()}
	c := newCatalog(discovery.WithPicker(discovery.NewRandomPicker(rand.NewSource(42))))

	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for range 20 {
		_, err := c.QueryByNames(context.Background(), agentsOf(agents...), names)
		require.NoError(t, err)
	}

	total := 0
	for i, a := range agents {
		calls := a.Calls(testutil.OpServiceNodes)
		assert.Positive(t, calls, "agent %d never selected", i)
		total += calls
	}
	assert.Equal(t, 20*len(names), total)
}

type seqPicker struct{ seq []int }

func (p *seqPicker) Pick(int) int {
	i := p.seq[0]
	if len(p.seq) > 1 {
		p.seq = p.seq[1:]
	}
	return i
}

func TestQueryByNamePrefixes_OpenBreakerSkipsAgent(t *testing.T) {
	bad := testutil.NewAgent().AddService("foo-svc@h").
		Fail(testutil.OpListServices, errors.RetryRequested(stderrors.New("refused")))
	good := testutil.NewAgent().AddService("foo-svc@h")

	c := newCatalog(
		discovery.WithPicker(&seqPicker{seq: []int{0, 0, 1}}),
		discovery.WithBreaker(resilience.BreakerConfig{
			Enabled:             true,
			ConsecutiveFailures: 1,
			OpenTimeout:         time.Hour,
		}),
	)

	got, err := c.QueryByNamePrefixes(context.Background(), agentsOf(bad, good), []string{"foo"})
	require.NoError(t, err)
	assert.Equal(t, []string{"foo-svc"}, got["foo"])
	assert.Equal(t, 1, bad.Calls(testutil.OpListServices))
	assert.Equal(t, 1, good.Calls(testutil.OpListServices))
	assert.Equal(t, "open", c.BreakerState(bad))
	assert.Equal(t, "closed", c.BreakerState(good))
}

func TestCatalog_BreakersOffByDefault(t *testing.T) {
	a := testutil.NewAgent()
	assert.Equal(t, "closed", newCatalog().BreakerState(a))
}

func TestDeregister_AllAgents(t *testing.T) {
	a, b := testutil.NewAgent(), testutil.NewAgent()

	require.NoError(t, newCatalog().Deregister(context.Background(), agentsOf(a, b), "foo-2"))
	assert.Equal(t, []string{"foo-2"}, a.Deregistered())
	assert.Equal(t, []string{"foo-2"}, b.Deregistered())
}

func TestDeregister_CombinesAgentFailures(t *testing.T) {
	denied := stderrors.New("acl denied")
	a := testutil.NewAgent()
	b := testutil.NewAgent().Fail(testutil.OpDeregister, denied)

	err := newCatalog().Deregister(context.Background(), agentsOf(a, b), "foo-2")
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 1)
	assert.ErrorIs(t, err, denied)
	assert.Equal(t, []string{"foo-2"}, a.Deregistered())
}

func TestDeregister_SingleAgentRetried(t *testing.T) {
	a := testutil.NewAgent().Fail(testutil.OpDeregister, errors.RetryRequested(nil))

	require.NoError(t, newCatalog().Deregister(context.Background(), agentsOf(a), "x"))
	assert.Equal(t, 2, a.Calls(testutil.OpDeregister))
}

func TestWriteKeyToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "certs")
	a := testutil.NewAgent().SetKey("config/tls/key", []byte("secret")).
		Fail(testutil.OpKVGet, errors.RetryRequested(nil))

	path, err := newCatalog().WriteKeyToFile(context.Background(), agentsOf(a), "config/tls/key", dir, "tls.key")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tls.key"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.Equal(t, 2, a.Calls(testutil.OpKVGet))
}

func TestWriteKeyToFile_MissingKey(t *testing.T) {
	a := testutil.NewAgent().SetKey("empty", []byte{})

	for _, key := range []string{"absent", "empty"} {
		_, err := newCatalog().WriteKeyToFile(context.Background(), agentsOf(a), key, t.TempDir(), "out")
		assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound), "key %s", key)
	}
	assert.Equal(t, 2, a.Calls(testutil.OpKVGet))
}
