// Package server provides the debug HTTP surface of meshprobe, a Gin engine
// behind a net/http middleware chain.
//
// Endpoints (server/endpoint):
//
//   - /alive?names=a,b: resolve names and list the reachable instances per tag
//   - /health: folded component health
//   - /readiness: 503 while any component is unhealthy
//   - /liveness: process liveness
//
// Middleware (server/middleware): recovery, request id, CORS and request
// logging. With H2C set the handler also accepts cleartext HTTP/2.
package server
