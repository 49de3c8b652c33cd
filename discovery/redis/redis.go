// Package redis implements discovery.Agent on a Redis server.
//
// The catalog lives under a key prefix:
//
//	<prefix>:services          SET of service names
//	<prefix>:service:<name>    HASH of service id to JSON instance record
//	<prefix>:kv:<key>          STRING value read by KVGet
package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"sort"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"

	"github.com/kbukum/meshprobe/discovery"
	"github.com/kbukum/meshprobe/errors"
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

// Agent reads the catalog from one Redis server.
type Agent struct {
	rdb    goredis.UniversalClient
	owned  bool
	prefix string
	log    *logger.Logger
}

var _ discovery.Agent = (*Agent)(nil)

func init() {
	discovery.RegisterAgentFactory(discovery.ProviderRedis, func(address string, cfg discovery.Config, log *logger.Logger) (discovery.Agent, error) {
		return Dial(address, cfg.Redis, log)
	})
}

// Dial returns an agent with its own connection pool to address. No
// connection is made until the first call.
func Dial(address string, opts discovery.RedisOptions, log *logger.Logger) (*Agent, error) {
	if address == "" {
		return nil, errors.MissingField("discovery.addresses")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        address,
		Password:    opts.Password,
		DB:          opts.DB,
		PoolSize:    opts.PoolSize,
		DialTimeout: opts.DialTimeout,
		ReadTimeout: opts.ReadTimeout,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})
	a := NewAgent(rdb, opts.Prefix, log)
	a.owned = true
	return a, nil
}

// NewAgent wraps an existing client. The caller keeps ownership of rdb.
func NewAgent(rdb goredis.UniversalClient, prefix string, log *logger.Logger) *Agent {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if prefix == "" {
		prefix = "meshprobe"
	}
	return &Agent{rdb: rdb, prefix: prefix, log: log.WithComponent("redis")}
}

// Close closes the connection pool when Dial created it.
func (a *Agent) Close() error {
	if !a.owned {
		return nil
	}
	return a.rdb.Close()
}

func (a *Agent) servicesKey() string           { return a.prefix + ":services" }
func (a *Agent) serviceKey(name string) string { return a.prefix + ":service:" + name }
func (a *Agent) kvKey(key string) string       { return a.prefix + ":kv:" + key }

// ListServices returns every service in the services set with the union of
// its instances' tags. Names in the set without instances are kept, tagless.
func (a *Agent) ListServices(ctx context.Context) (map[string][]string, error) {
	names, err := a.rdb.SMembers(ctx, a.servicesKey()).Result()
	if err != nil {
		return nil, classify(ctx, err)
	}

	pipe := a.rdb.Pipeline()
	cmds := make(map[string]*goredis.StringSliceCmd, len(names))
	for _, name := range names {
		cmds[name] = pipe.HVals(ctx, a.serviceKey(name))
	}
	if _, err := pipe.Exec(ctx); err != nil && !stderrors.Is(err, goredis.Nil) {
		return nil, classify(ctx, err)
	}

	services := make(map[string][]string, len(names))
	for name, cmd := range cmds {
		tags := []string{}
		seen := map[string]bool{}
		for _, raw := range cmd.Val() {
			var inst Instance
			if json.Unmarshal([]byte(raw), &inst) != nil {
				continue
			}
			for _, t := range inst.Tags {
				if !seen[t] {
					seen[t] = true
					tags = append(tags, t)
				}
			}
		}
		services[name] = tags
	}
	return services, nil
}

// ServiceNodes returns the instances registered under name. Undecodable
// records are skipped and logged.
func (a *Agent) ServiceNodes(ctx context.Context, name string) ([]discovery.CatalogNode, error) {
	records, err := a.rdb.HGetAll(ctx, a.serviceKey(name)).Result()
	if err != nil {
		return nil, classify(ctx, err)
	}

	nodes := make([]discovery.CatalogNode, 0, len(records))
	for id, raw := range records {
		var inst Instance
		if err := json.Unmarshal([]byte(raw), &inst); err != nil {
			a.log.Warn("skipping malformed instance record", logger.Fields(
				logger.FieldServiceID, id, logger.FieldError, err.Error(),
			))
			continue
		}
		nodes = append(nodes, discovery.CatalogNode{
			ServiceID:      id,
			ServiceName:    name,
			ServiceAddress: inst.Address,
			ServicePort:    inst.Port,
		})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ServiceID < nodes[j].ServiceID })
	return nodes, nil
}

// KVGet returns the value stored under key, or nil when absent.
func (a *Agent) KVGet(ctx context.Context, key string) ([]byte, error) {
	val, err := a.rdb.Get(ctx, a.kvKey(key)).Bytes()
	if stderrors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(ctx, err)
	}
	return val, nil
}

// Deregister removes serviceID from every service hash in one pipeline.
func (a *Agent) Deregister(ctx context.Context, serviceID string) error {
	names, err := a.rdb.SMembers(ctx, a.servicesKey()).Result()
	if err != nil {
		return classify(ctx, err)
	}
	if len(names) == 0 {
		return nil
	}

	pipe := a.rdb.Pipeline()
	for _, name := range names {
		pipe.HDel(ctx, a.serviceKey(name), serviceID)
	}
	cmds, err := pipe.Exec(ctx)
	if err != nil {
		return classify(ctx, err)
	}
	var removed int64
	for _, c := range cmds {
		if ic, ok := c.(*goredis.IntCmd); ok {
			removed += ic.Val()
		}
	}
	a.log.Debug("service deregistered", logger.Fields(logger.FieldServiceID, serviceID, "removed", removed))
	return nil
}

// retryablePrefixes are server replies that clear up on their own.
var retryablePrefixes = []string{"LOADING", "BUSY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN"}

// classify tags network failures and transient server states with the retry
// marker. Errors caused by the caller's own context pass through unchanged.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) || stderrors.Is(err, goredis.ErrPoolTimeout) {
		return errors.RetryRequested(err)
	}
	var replyErr goredis.Error
	if stderrors.As(err, &replyErr) {
		for _, p := range retryablePrefixes {
			if strings.HasPrefix(replyErr.Error(), p) {
				return errors.RetryRequested(err)
			}
		}
	}
	return fmt.Errorf("redis: %w", err)
}
