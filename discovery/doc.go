// Package discovery queries a distributed service catalog for instances of
// named services.
//
// A catalog is reached through one or more Agents, each bound to one catalog
// node. Agents are interchangeable: every query picks one at random, so a
// subset of degraded nodes only slows callers down through retries.
//
// Catalog names are composite, <logical>@<host-tag>. Prefix listing keeps the
// logical part in distributed deployments and the host tag in local ones; the
// DeploymentMode is fixed when the Catalog is built.
//
// WithBreaker puts a circuit breaker in front of each agent so a node that
// keeps failing is skipped until its breaker half-opens.
//
// # Backends
//
//   - discovery/consul: HashiCorp Consul agents
//   - discovery/etcd: etcd v3 clusters with a JSON key layout
//   - discovery/redis: a Redis server holding sets and hashes of JSON records
//   - discovery/static: in-memory catalog for development
package discovery
