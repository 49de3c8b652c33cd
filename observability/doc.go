// Package observability exports traces and probe metrics over OTLP/HTTP.
//
//	tel, err := observability.Setup(ctx, cfg.Telemetry, svc)
//	defer tel.Shutdown(ctx)
//
//	tel.Metrics.RecordProbe(ctx, "user-svc@host-a", observability.OutcomeAlive, elapsed)
//
// Spans started before Setup, or with tracing off, go to the otel no-op
// provider.
package observability
