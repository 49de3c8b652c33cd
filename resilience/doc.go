// Package resilience provides bounded, predicate-gated retry and per-target
// circuit breakers.
//
// Catalog operations are wrapped in Retry with CatalogRetryConfig: only
// failures carrying the retry marker (errors.IsRetryRequested) are repeated,
// and the last original error surfaces once the attempt count or the
// wall-clock budget is exhausted.
//
//	nodes, err := resilience.Retry(ctx, resilience.CatalogRetryConfig(), func() ([]discovery.CatalogNode, error) {
//	    return agent.ServiceNodes(ctx, name)
//	})
//
// Breakers count only retry-marked failures, and an open breaker answers
// with the retry marker itself, so Guard composes with Retry.
package resilience
