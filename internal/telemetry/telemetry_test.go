package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.False(t, tel.IsEnabled())
	assert.Nil(t, tel.LoggerProvider())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	assert.NoError(t, tel.ForceFlush(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	tel, err := New(context.Background(), &Config{Enabled: true})
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_WithInjectedExporters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	spans := tracetest.NewInMemoryExporter()
	logs := &LogRecorder{}
	tel, err := New(context.Background(), cfg,
		WithTraceExporter(spans),
		WithMetricExporter(noopMetricExporter{}),
		WithLogExporter(logs),
	)
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())
	assert.False(t, tel.Health().Degraded)
	require.NotNil(t, tel.LoggerProvider())

	var rec otellog.Record
	rec.SetBody(otellog.StringValue("ingest finished"))
	tel.LoggerProvider().Logger("vidqa.test").Emit(context.Background(), rec)

	_, span := tel.Tracer("vidqa.test").Start(context.Background(), "ingest.fetch")
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))

	got := spans.GetSpans()
	require.Len(t, got, 1)
	assert.Equal(t, "ingest.fetch", got[0].Name)
	assert.Equal(t, []string{"ingest finished"}, logs.Bodies())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tel.Shutdown(ctx))
	assert.False(t, tel.Health().Healthy)
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.Nil(t, tel.LoggerProvider())
	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Degraded)
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
}

func TestTelemetry_SetDegraded(t *testing.T) {
	tel := &Telemetry{config: NewDefaultConfig()}
	tel.healthy.Store(true)
	tel.setDegraded("meter provider: %v", "dial failed")

	h := tel.Health()
	assert.True(t, h.Degraded)
	assert.Equal(t, []string{"meter provider: dial failed"}, h.Problems)
}

func TestTestTelemetry_Spans(t *testing.T) {
	tt := NewTestTelemetry()
	tracer := tt.Tracer("vidqa.test")

	_, span := tracer.Start(context.Background(), "store.replace")
	span.SetAttributes(
		attribute.String("collection", "youtube_transcripts"),
		attribute.Int("chunks", 12),
		attribute.Bool("persistent", false),
	)
	span.End()
	_, span = tracer.Start(context.Background(), "store.query")
	span.End()

	tt.AssertSpanExists(t, "store.replace")
	tt.AssertSpanAttribute(t, "store.replace", "collection", "youtube_transcripts")
	tt.AssertSpanAttribute(t, "store.replace", "chunks", int64(12))
	tt.AssertSpanAttribute(t, "store.replace", "persistent", false)
	assert.Equal(t, []string{"store.replace", "store.query"}, tt.SpanNames())
	assert.Nil(t, tt.SpanByName("missing"))
}

func TestTestTelemetry_Metrics(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	counter, err := tt.Meter("vidqa.test").Int64Counter("vidqa.turns")
	require.NoError(t, err)
	counter.Add(ctx, 2)

	assert.Contains(t, tt.MetricNames(ctx), "vidqa.turns")
}

type noopMetricExporter struct{}

func (noopMetricExporter) Temporality(sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopMetricExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(k)
}

func (noopMetricExporter) Export(context.Context, *metricdata.ResourceMetrics) error { return nil }
func (noopMetricExporter) ForceFlush(context.Context) error { return nil }
func (noopMetricExporter) Shutdown(context.Context) error { return nil }
