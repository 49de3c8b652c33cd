package component

import "context"

// HealthStatus is the coarse state reported by a probe endpoint.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// Health is one component's entry in a health report.
type Health struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Component is anything the process starts on boot and stops on shutdown:
// catalog agents, the reaper, the HTTP server.
//
// Stop must be safe to call on a component whose Start failed.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) Health
}

// Overall reduces a report to a single status. Unhealthy dominates degraded.
func Overall(healths []Health) HealthStatus {
	out := StatusHealthy
	for _, h := range healths {
		if h.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
		if h.Status == StatusDegraded {
			out = StatusDegraded
		}
	}
	return out
}
