package endpoint

import (
	"context"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/meshprobe/discovery"
	apperrors "github.com/kbukum/meshprobe/errors"
	"github.com/kbukum/meshprobe/health"
	"github.com/kbukum/meshprobe/logger"
	"github.com/kbukum/meshprobe/server/middleware"
)

// AliveResolver resolves names to the currently reachable instances.
type AliveResolver interface {
	ResolveAlive(ctx context.Context, names []string) (health.AliveResult, error)
}

// AliveResponse is the body of a successful /alive query.
type AliveResponse struct {
	Alive int                                 `json:"alive"`
	Tags  map[string][]discovery.ServiceEntry `json:"tags"`
}

// Alive resolves the names given in the "names" query parameter (repeated
// or comma separated) and reports the reachable instances per tag. The
// request id becomes the resolution id in logs and spans. The
// handles are closed once the response is built; this endpoint is a view,
// not a connection pool.
func Alive(resolver AliveResolver, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		names := parseNames(c.QueryArray("names"))
		if len(names) == 0 {
			RespondWithError(c, apperrors.MissingField("names"))
			return
		}

		ctx := c.Request.Context()
		if id := c.GetHeader(middleware.HeaderRequestID); id != "" {
			ctx = logger.ContextWithResolutionID(ctx, id)
		}
		result, err := resolver.ResolveAlive(ctx, names)
		if err != nil {
			RespondWithError(c, err)
			return
		}
		defer func() {
			if err := result.Close(); err != nil {
				log.Warn("closing alive handles failed", logger.ErrorFields("alive", err))
			}
		}()

		resp := AliveResponse{Alive: result.Len(), Tags: make(map[string][]discovery.ServiceEntry, len(result))}
		for tag, handles := range result {
			entries := make([]discovery.ServiceEntry, 0, len(handles))
			for _, h := range handles {
				entries = append(entries, h.Entry)
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i].ServiceID < entries[j].ServiceID })
			resp.Tags[tag] = entries
		}
		RespondOK(c, resp)
	}
}

func parseNames(raw []string) []string {
	var names []string
	for _, r := range raw {
		for _, n := range strings.Split(r, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}
	return names
}
