// Package etcd implements discovery.Agent on an etcd v3 cluster.
//
// Instances are stored as JSON under <prefix>/<service>/<id>; KV lookups read
// <kv_prefix>/<key>.
package etcd

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc/status"

	"github.com/kbukum/meshprobe/discovery"
	"github.com/kbukum/meshprobe/errors"
	meshgrpc "github.com/kbukum/meshprobe/grpc"
	"github.com/kbukum/meshprobe/logger"
)

// Instance is the JSON record stored per registered instance.
type Instance struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Address string   `json:"address"`
	Port    int      `json:"port"`
	Tags    []string `json:"tags,omitempty"`
}

// Agent reads the catalog from one etcd endpoint.
type Agent struct {
	kv       clientv3.KV
	closer   io.Closer
	prefix   string
	kvPrefix string
	log      *logger.Logger
}

var _ discovery.Agent = (*Agent)(nil)

func init() {
	discovery.RegisterAgentFactory(discovery.ProviderEtcd, func(address string, cfg discovery.Config, log *logger.Logger) (discovery.Agent, error) {
		return Dial(address, cfg.Etcd, log)
	})
}

// Dial connects to the etcd endpoint at address.
func Dial(address string, opts discovery.EtcdOptions, log *logger.Logger) (*Agent, error) {
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{address},
		DialTimeout: dialTimeout,
		Username:    opts.Username,
		Password:    opts.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd client: %w", err)
	}
	a := NewAgent(cli.KV, opts.Prefix, opts.KVPrefix, log)
	a.closer = cli
	return a, nil
}

// NewAgent wraps an existing KV.
func NewAgent(kv clientv3.KV, prefix, kvPrefix string, log *logger.Logger) *Agent {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Agent{
		kv:       kv,
		prefix:   strings.TrimRight(prefix, "/"),
		kvPrefix: strings.TrimRight(kvPrefix, "/"),
		log:      log.WithComponent("etcd"),
	}
}

// Close releases the client connection, if the agent owns one.
func (a *Agent) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// ServiceKey returns the key an instance of service is stored under.
func ServiceKey(prefix, service, id string) string {
	return strings.TrimRight(prefix, "/") + "/" + service + "/" + id
}

// ListServices returns every service name with the union of its instances' tags.
func (a *Agent) ListServices(ctx context.Context) (map[string][]string, error) {
	resp, err := a.kv.Get(ctx, a.prefix+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, classify(ctx, err)
	}

	services := make(map[string][]string)
	seenTag := make(map[string]map[string]bool)
	for _, kv := range resp.Kvs {
		name, _, ok := a.splitKey(string(kv.Key))
		if !ok {
			continue
		}
		if _, ok := services[name]; !ok {
			services[name] = []string{}
			seenTag[name] = map[string]bool{}
		}
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			continue
		}
		for _, tag := range inst.Tags {
			if !seenTag[name][tag] {
				seenTag[name][tag] = true
				services[name] = append(services[name], tag)
			}
		}
	}
	return services, nil
}

// ServiceNodes returns the instances stored under name. Undecodable records
// are skipped and logged.
func (a *Agent) ServiceNodes(ctx context.Context, name string) ([]discovery.CatalogNode, error) {
	resp, err := a.kv.Get(ctx, a.prefix+"/"+name+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, classify(ctx, err)
	}

	nodes := make([]discovery.CatalogNode, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			a.log.Warn("skipping malformed instance record", logger.Fields("key", string(kv.Key), logger.FieldError, err.Error()))
			continue
		}
		id := inst.ID
		if id == "" {
			id = path.Base(string(kv.Key))
		}
		nodes = append(nodes, discovery.CatalogNode{
			ServiceID:      id,
			ServiceName:    name,
			ServiceAddress: inst.Address,
			ServicePort:    inst.Port,
		})
	}
	return nodes, nil
}

// KVGet returns the value of <kv_prefix>/key, or nil when absent.
func (a *Agent) KVGet(ctx context.Context, key string) ([]byte, error) {
	resp, err := a.kv.Get(ctx, a.kvPrefix+"/"+strings.TrimLeft(key, "/"))
	if err != nil {
		return nil, classify(ctx, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return resp.Kvs[0].Value, nil
}

// Deregister deletes every record whose key ends in serviceID.
func (a *Agent) Deregister(ctx context.Context, serviceID string) error {
	resp, err := a.kv.Get(ctx, a.prefix+"/", clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return classify(ctx, err)
	}
	for _, kv := range resp.Kvs {
		_, id, ok := a.splitKey(string(kv.Key))
		if !ok || id != serviceID {
			continue
		}
		if _, err := a.kv.Delete(ctx, string(kv.Key)); err != nil {
			return classify(ctx, err)
		}
		a.log.Debug("service deregistered", logger.Fields(logger.FieldServiceID, serviceID, "key", string(kv.Key)))
	}
	return nil
}

// splitKey parses <prefix>/<service>/<id>.
func (a *Agent) splitKey(key string) (service, id string, ok bool) {
	rest, found := strings.CutPrefix(key, a.prefix+"/")
	if !found {
		return "", "", false
	}
	service, id, ok = strings.Cut(rest, "/")
	if !ok || service == "" || id == "" || strings.Contains(id, "/") {
		return "", "", false
	}
	return service, id, true
}

// classify tags transient cluster errors with the retry marker. Errors
// caused by the caller's own context pass through unchanged.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil || stderrors.Is(err, context.Canceled) {
		return err
	}
	code := status.Code(err)
	var etcdErr rpctypes.EtcdError
	if stderrors.As(err, &etcdErr) {
		code = etcdErr.Code()
	}
	if meshgrpc.IsRetryableCode(code) {
		return errors.RetryRequested(err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.RetryRequested(err)
	}
	return err
}
