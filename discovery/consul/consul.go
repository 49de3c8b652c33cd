// Package consul implements discovery.Agent on a HashiCorp Consul agent.
package consul

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/hashicorp/consul/api"

	"github.com/kbukum/meshprobe/discovery"
	"github.com/kbukum/meshprobe/errors"
	"github.com/kbukum/meshprobe/logger"
)

// Agent talks to one Consul agent over its HTTP API.
type Agent struct {
	client *api.Client
	cfg    Config
	log    *logger.Logger
}

var _ discovery.Agent = (*Agent)(nil)

func init() {
	discovery.RegisterAgentFactory(discovery.ProviderConsul, func(address string, cfg discovery.Config, log *logger.Logger) (discovery.Agent, error) {
		return NewAgent(ConfigFrom(address, cfg), log)
	})
}

// NewAgent creates an Agent from cfg.
func NewAgent(cfg Config, log *logger.Logger) (*Agent, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := api.NewClient(cfg.apiConfig())
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Agent{
		client: client,
		cfg:    cfg,
		log:    log.WithComponent("consul").WithFields(logger.Fields(logger.FieldAgent, cfg.Address)),
	}, nil
}

// Address returns the agent address.
func (a *Agent) Address() string { return a.cfg.Address }

func (a *Agent) query(ctx context.Context) *api.QueryOptions {
	return (&api.QueryOptions{}).WithContext(ctx)
}

// ListServices returns the catalog's service names and tags.
func (a *Agent) ListServices(ctx context.Context) (map[string][]string, error) {
	services, _, err := a.client.Catalog().Services(a.query(ctx))
	if err != nil {
		return nil, classify(err)
	}
	return services, nil
}

// ServiceNodes returns the catalog records of name. Records without a
// service address fall back to the node address, as Consul does for DNS.
func (a *Agent) ServiceNodes(ctx context.Context, name string) ([]discovery.CatalogNode, error) {
	entries, _, err := a.client.Catalog().Service(name, "", a.query(ctx))
	if err != nil {
		return nil, classify(err)
	}
	nodes := make([]discovery.CatalogNode, 0, len(entries))
	for _, e := range entries {
		addr := e.ServiceAddress
		if addr == "" {
			addr = e.Address
		}
		nodes = append(nodes, discovery.CatalogNode{
			ServiceID:      e.ServiceID,
			ServiceName:    e.ServiceName,
			ServiceAddress: addr,
			ServicePort:    e.ServicePort,
		})
	}
	return nodes, nil
}

// KVGet returns the raw value of key, or nil when it does not exist.
func (a *Agent) KVGet(ctx context.Context, key string) ([]byte, error) {
	pair, _, err := a.client.KV().Get(key, a.query(ctx))
	if err != nil {
		return nil, classify(err)
	}
	if pair == nil {
		return nil, nil
	}
	return pair.Value, nil
}

// Deregister removes serviceID from this agent. Services registered on
// another agent answer 404 here, which counts as success.
func (a *Agent) Deregister(ctx context.Context, serviceID string) error {
	err := a.client.Agent().ServiceDeregisterOpts(serviceID, a.query(ctx))
	if err == nil {
		a.log.Debug("service deregistered", logger.Fields(logger.FieldServiceID, serviceID))
		return nil
	}
	if statusCode(err) == http.StatusNotFound {
		return nil
	}
	return classify(err)
}

func statusCode(err error) int {
	var se api.StatusError
	if stderrors.As(err, &se) {
		return se.Code
	}
	var sep *api.StatusError
	if stderrors.As(err, &sep) {
		return sep.Code
	}
	return 0
}

// classify tags transient failures with the retry marker: transport errors,
// throttling and server-side errors. Context errors and client errors pass
// through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if code := statusCode(err); code != 0 {
		if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
			return errors.RetryRequested(err)
		}
		return err
	}
	var urlErr *url.Error
	var netErr net.Error
	if stderrors.As(err, &urlErr) || stderrors.As(err, &netErr) {
		return errors.RetryRequested(err)
	}
	return err
}
