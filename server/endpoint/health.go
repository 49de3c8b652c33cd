package endpoint

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/meshprobe/component"
)

// HealthChecker returns health status for registered components.
type HealthChecker func(ctx context.Context) []component.Health

func probeBody(serviceName string, status any) gin.H {
	return gin.H{
		"status":    status,
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}

func overall(c *gin.Context, checker HealthChecker) ([]component.Health, component.HealthStatus) {
	if checker == nil {
		return nil, component.StatusHealthy
	}
	healths := checker(c.Request.Context())
	return healths, component.Overall(healths)
}

// Health reports the folded status and every component. Unhealthy is 503.
func Health(serviceName string, checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		healths, status := overall(c, checker)
		code := http.StatusOK
		if status == component.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		body := probeBody(serviceName, status)
		body["components"] = healths
		c.JSON(code, body)
	}
}

// Readiness answers 503 "not_ready" while any component is unhealthy. A
// degraded reaper still takes traffic.
func Readiness(serviceName string, checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, status := overall(c, checker); status == component.StatusUnhealthy {
			c.JSON(http.StatusServiceUnavailable, probeBody(serviceName, "not_ready"))
			return
		}
		c.JSON(http.StatusOK, probeBody(serviceName, "ready"))
	}
}

// Liveness only confirms the process serves HTTP.
func Liveness(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, probeBody(serviceName, "alive"))
	}
}
