// Package telemetry provides OpenTelemetry tracing and metrics for vidqa.
//
// Spans cover ingestion (transcript fetch, chunking, embedding, store swap)
// and each conversation turn (retrieve, generate). Metrics are exported over
// OTLP to a collector; the HTTP server additionally exposes Prometheus
// metrics at /metrics.
//
//	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	ctx, span := tel.Tracer("vidqa.pipeline").Start(ctx, "pipeline.retrieve")
//	defer span.End()
//
// Telemetry failures never stop the service. When an exporter cannot be
// created the instance is marked degraded and the global no-op providers are
// used instead.
//
// Tests use NewTestTelemetry, which records spans in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "store.replace")
//	span.End()
//	tt.AssertSpanExists(t, "store.replace")
package telemetry
