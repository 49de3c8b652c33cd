package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/meshprobe/errors"
	"github.com/kbukum/meshprobe/logger"
	"github.com/kbukum/meshprobe/observability"
	"github.com/kbukum/meshprobe/resilience"
	"github.com/kbukum/meshprobe/validation"
)

// Deregister removes serviceID through every agent concurrently, each call
// under its own retry policy. With one agent its error is returned as is;
// with several, failures are combined into a *multierror.Error.
func (c *Catalog) Deregister(ctx context.Context, agents []Agent, serviceID string) error {
	if err := validation.New().
		NotEmpty("agents", len(agents)).
		Required("service_id", serviceID).
		Validate(); err != nil {
		return err
	}

	ctx, span := observability.StartSpan(ctx, observability.SpanDeregister,
		attribute.String(observability.AttrServiceID, serviceID),
		attribute.Int(observability.AttrAgents, len(agents)),
	)

	if len(agents) == 1 {
		err := resilience.RetryFunc(ctx, c.retry, func() error {
			return c.deregisterOn(ctx, agents[0], serviceID)
		})
		observability.EndSpan(span, err)
		return err
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	for i, agent := range agents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := resilience.RetryFunc(ctx, c.retry, func() error {
				return c.deregisterOn(ctx, agent, serviceID)
			})
			if err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("agent %d: %w", i, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	err := result.ErrorOrNil()
	observability.EndSpan(span, err)
	if err == nil {
		c.log.WithContext(ctx).Info("service deregistered", logger.Fields(
			logger.FieldServiceID, serviceID, "agents", len(agents),
		))
	}
	return err
}

func (c *Catalog) deregisterOn(ctx context.Context, agent Agent, serviceID string) error {
	_, err := guarded(c, agent, func() (struct{}, error) {
		return struct{}{}, agent.Deregister(ctx, serviceID)
	})
	return err
}

// WriteKeyToFile fetches key from a random agent and writes its value to
// dir/filename with mode 0600, creating dir as needed. A missing or empty
// value is a NOT_FOUND error. The whole operation is retried.
func (c *Catalog) WriteKeyToFile(ctx context.Context, agents []Agent, key, dir, filename string) (string, error) {
	if err := validation.New().
		NotEmpty("agents", len(agents)).
		Required("key", key).
		Required("dir", dir).
		Required("filename", filename).
		Validate(); err != nil {
		return "", err
	}

	ctx, span := observability.StartSpan(ctx, observability.SpanFetchKey, attribute.String("meshprobe.key", key))
	path := filepath.Join(dir, filename)

	err := resilience.RetryFunc(ctx, c.retry, func() error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		agent := c.pick(agents)
		value, err := guarded(c, agent, func() ([]byte, error) {
			return agent.KVGet(ctx, key)
		})
		if err != nil {
			return err
		}
		if len(value) == 0 {
			return errors.NotFound("key", key)
		}
		if err := os.WriteFile(path, value, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		return nil
	})
	observability.EndSpan(span, err)
	if err != nil {
		return "", err
	}

	c.log.WithContext(ctx).Info("catalog key written", logger.Fields("key", key, "path", path))
	return path, nil
}
