package etcd

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kbukum/meshprobe/errors"
	"github.com/kbukum/meshprobe/logger"
)

// memKV is an in-memory clientv3.KV covering Get, Put and Delete.
type memKV struct {
	clientv3.KV
	mu      sync.Mutex
	data    map[string][]byte
	failGet error
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = []byte(val)
	return &clientv3.PutResponse{}, nil
}

func (m *memKV) Get(_ context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	op := clientv3.OpGet(key, opts...)
	end := op.RangeBytes()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if k == key || (len(end) > 0 && k >= key && bytes.Compare([]byte(k), end) < 0) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	resp := &clientv3.GetResponse{}
	for _, k := range keys {
		kv := &mvccpb.KeyValue{Key: []byte(k)}
		if !op.IsKeysOnly() {
			kv.Value = m.data[k]
		}
		resp.Kvs = append(resp.Kvs, kv)
	}
	resp.Count = int64(len(resp.Kvs))
	return resp, nil
}

func (m *memKV) Delete(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	if _, ok := m.data[key]; ok {
		delete(m.data, key)
		n = 1
	}
	return &clientv3.DeleteResponse{Deleted: n}, nil
}

func putInstance(t *testing.T, kv *memKV, inst Instance) {
	t.Helper()
	raw, err := json.Marshal(inst)
	require.NoError(t, err)
	_, err = kv.Put(context.Background(), ServiceKey("/services", inst.Name, inst.ID), string(raw))
	require.NoError(t, err)
}

func seeded(t *testing.T) (*Agent, *memKV) {
	kv := newMemKV()
	putInstance(t, kv, Instance{ID: "orders-1", Name: "orders@h1", Address: "10.0.0.1", Port: 50051, Tags: []string{"grpc", "v1"}})
	putInstance(t, kv, Instance{ID: "orders-2", Name: "orders@h1", Address: "10.0.0.2", Port: 50051, Tags: []string{"grpc"}})
	putInstance(t, kv, Instance{ID: "billing-1", Name: "billing@h2", Address: "10.0.0.3", Port: 50052})
	return NewAgent(kv, "/services/", "/kv", logger.NewNop()), kv
}

func TestAgent_ListServices(t *testing.T) {
	a, _ := seeded(t)

	services, err := a.ListServices(context.Background())
	require.NoError(t, err)
	assert.Len(t, services, 2)
	assert.ElementsMatch(t, []string{"grpc", "v1"}, services["orders@h1"])
	assert.Empty(t, services["billing@h2"])
}

func TestAgent_ServiceNodes(t *testing.T) {
	a, kv := seeded(t)
	kv.data["/services/orders@h1/broken"] = []byte("{not json")

	nodes, err := a.ServiceNodes(context.Background(), "orders@h1")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "orders-1", nodes[0].ServiceID)
	assert.Equal(t, "orders@h1", nodes[0].ServiceName)
	assert.Equal(t, "10.0.0.1", nodes[0].ServiceAddress)
	assert.Equal(t, 50051, nodes[0].ServicePort)

	none, err := a.ServiceNodes(context.Background(), "orders")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAgent_KVGet(t *testing.T) {
	a, kv := seeded(t)
	kv.data["/kv/certs/ca.pem"] = []byte("PEM")

	v, err := a.KVGet(context.Background(), "certs/ca.pem")
	require.NoError(t, err)
	assert.Equal(t, []byte("PEM"), v)

	v, err = a.KVGet(context.Background(), "certs/missing")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestAgent_Deregister(t *testing.T) {
	a, kv := seeded(t)

	require.NoError(t, a.Deregister(context.Background(), "orders-2"))
	_, gone := kv.data["/services/orders@h1/orders-2"]
	assert.False(t, gone)
	assert.Len(t, kv.data, 2)

	// unknown ids are a no-op
	require.NoError(t, a.Deregister(context.Background(), "nope"))
	assert.Len(t, kv.data, 2)
}

func TestAgent_TransientErrorsAreMarked(t *testing.T) {
	a, kv := seeded(t)
	kv.failGet = status.Error(codes.Unavailable, "no leader")

	_, err := a.ListServices(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsRetryRequested(err))

	kv.failGet = status.Error(codes.PermissionDenied, "denied")
	_, err = a.ServiceNodes(context.Background(), "orders@h1")
	require.Error(t, err)
	assert.False(t, errors.IsRetryRequested(err))
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"unavailable", status.Error(codes.Unavailable, "x"), true},
		{"deadline", status.Error(codes.DeadlineExceeded, "x"), true},
		{"exhausted", status.Error(codes.ResourceExhausted, "x"), true},
		{"etcd no leader", rpctypes.ErrNoLeader, true},
		{"not found", status.Error(codes.NotFound, "x"), false},
		{"plain", stderrors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, errors.IsRetryRequested(classify(ctx, tt.err)))
		})
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := classify(cancelled, status.Error(codes.Unavailable, "x"))
	assert.False(t, errors.IsRetryRequested(err))
}

func TestSplitKey(t *testing.T) {
	a := NewAgent(newMemKV(), "/services", "/kv", logger.NewNop())

	svc, id, ok := a.splitKey("/services/orders@h1/orders-1")
	assert.True(t, ok)
	assert.Equal(t, "orders@h1", svc)
	assert.Equal(t, "orders-1", id)

	for _, bad := range []string{"/other/a/b", "/services/onlyname", "/services/a/b/c", "/services//x"} {
		_, _, ok := a.splitKey(bad)
		assert.False(t, ok, bad)
	}
}

func TestClose_WithoutOwnedClient(t *testing.T) {
	a := NewAgent(newMemKV(), "/services", "/kv", nil)
	assert.NoError(t, a.Close())
}
