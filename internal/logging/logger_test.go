package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/vidqa/internal/config"
	"github.com/fyrsmithlabs/vidqa/internal/telemetry"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger.Underlying())
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format must be")

	cfg = NewDefaultConfig()
	cfg.Output.Stdout = false
	_, err = NewLogger(cfg, nil)
	require.Error(t, err)
}

func TestNewLogger_OTELBridge(t *testing.T) {
	tel := telemetry.NewTestTelemetry()

	cfg := NewDefaultConfig()
	cfg.Output.Stdout = false
	cfg.Output.OTEL = true
	logger, err := NewLogger(cfg, tel.LoggerProvider())
	require.NoError(t, err)

	logger.Info(WithThreadID(context.Background(), "alice"), "turn committed", zap.Int("messages", 2))
	assert.Equal(t, []string{"turn committed"}, tel.LogRecorder.Bodies())

	// OTEL output off: the provider is ignored.
	cfg = NewDefaultConfig()
	off, err := NewLogger(cfg, tel.LoggerProvider())
	require.NoError(t, err)
	off.Info(context.Background(), "stdout only")
	assert.Len(t, tel.LogRecorder.Records(), 1)
}

func TestLevelFromString(t *testing.T) {
	tests := map[string]zapcore.Level{
		"trace": TraceLevel,
		"debug": zapcore.DebugLevel,
		"info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := LevelFromString(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := LevelFromString("loud")
	assert.Error(t, err)
}

func TestFromObservability(t *testing.T) {
	cfg, err := FromObservability(config.ObservabilityConfig{
		LogLevel:        "debug",
		LogFormat:       "console",
		ServiceName:     "vidqa-test",
		EnableTelemetry: true,
	})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "vidqa-test", cfg.Fields["service"])
	assert.True(t, cfg.Output.OTEL)

	_, err = FromObservability(config.ObservabilityConfig{LogLevel: "shouty"})
	assert.Error(t, err)
}

func TestContextFields(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithThreadID(ctx, "default_user")
	ctx = WithVideoID(ctx, "dQw4w9WgXcQ")

	tp := trace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(ctx, "turn")
	defer span.End()

	got := map[string]bool{}
	for _, f := range ContextFields(ctx) {
		got[f.Key] = true
	}
	for _, key := range []string{"trace_id", "span_id", "request.id", "thread.id", "video.id"} {
		assert.True(t, got[key], "missing %s", key)
	}
}

func TestWithThreadID_TruncatesLongIDs(t *testing.T) {
	long := string(bytes.Repeat([]byte("a"), maxIDLen+50))
	ctx := WithThreadID(context.Background(), long)
	assert.Len(t, ThreadIDFromContext(ctx), maxIDLen)

	assert.Equal(t, context.Background(), WithThreadID(context.Background(), ""))
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "via context")
	tl.AssertLogged(t, zapcore.InfoLevel, "via context")
}

func TestTestLogger_Assertions(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithThreadID(context.Background(), "t-1")

	tl.Trace(ctx, "prompt built", zap.Int("messages", 3))
	tl.Warn(ctx, "full context unavailable")

	tl.AssertLogged(t, TraceLevel, "prompt built")
	tl.AssertField(t, "prompt built", "messages", int64(3))
	tl.AssertField(t, "prompt built", "thread.id", "t-1")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "full context")

	tl.Reset()
	assert.Empty(t, tl.All())
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "provider ready"}, []zapcore.Field{
		zap.String("api_key", "sk-abcdefghijklmnopqrstuvwxyz"),
		zap.String("header", "Bearer abc.def"),
		zap.String("model", "gpt-4o-mini"),
		Secret("hf", config.Secret("hf_abcdefghijklmnopqrst")),
	})
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "[REDACTED]", out["api_key"])
	assert.Equal(t, "[REDACTED:pattern]", out["header"])
	assert.Equal(t, "gpt-4o-mini", out["model"])
	assert.Equal(t, "[REDACTED:23]", out["hf"])
}

func TestNewRedactingEncoder_BadPattern(t *testing.T) {
	_, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), RedactionConfig{
		Enabled:  true,
		Patterns: []string{"("},
	})
	assert.Error(t, err)
}

func TestSampledCore_NeverSamplesErrors(t *testing.T) {
	tl := NewTestLogger()
	cfg := NewDefaultConfig().Sampling
	cfg.Initial = 1
	cfg.Thereafter = 0

	logger := zap.New(newSampledCore(tl.Underlying().Core(), cfg))
	for i := 0; i < 5; i++ {
		logger.Info("repeated")
		logger.Error("failure")
	}

	assert.Equal(t, 1, tl.FilterMessage("repeated").Len())
	assert.Equal(t, 5, tl.FilterMessage("failure").Len())
}
