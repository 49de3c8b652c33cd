// Package resolver answers "which instances of these services are alive
// right now", grouped by the identity tag each instance reports.
//
//	alive, err := r.ResolveAlive(ctx, agents, []string{"orders-svc@h1", "billing-svc@h1"})
//	for tag, handles := range alive { ... }
//
// Only argument, catalog and configuration problems are errors. Instances
// that are slow, dead or misbehaving simply do not appear in the result.
package resolver
