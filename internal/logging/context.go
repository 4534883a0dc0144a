package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type requestCtxKey struct{}
type threadCtxKey struct{}
type videoCtxKey struct{}
type loggerCtxKey struct{}

// maxIDLen caps correlation ids copied into log fields.
const maxIDLen = 128

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}
	if threadID := ThreadIDFromContext(ctx); threadID != "" {
		fields = append(fields, zap.String("thread.id", threadID))
	}
	if videoID := VideoIDFromContext(ctx); videoID != "" {
		fields = append(fields, zap.String("video.id", videoID))
	}

	return fields
}

// WithRequestID adds a request id to ctx. Empty ids leave ctx unchanged.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, truncateID(requestID))
}

// RequestIDFromContext extracts the request id from ctx.
func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestCtxKey{}).(string)
	return s
}

// WithThreadID adds a conversation thread id to ctx.
// Thread ids are caller supplied, so they are truncated rather than rejected.
func WithThreadID(ctx context.Context, threadID string) context.Context {
	if threadID == "" {
		return ctx
	}
	return context.WithValue(ctx, threadCtxKey{}, truncateID(threadID))
}

// ThreadIDFromContext extracts the thread id from ctx.
func ThreadIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(threadCtxKey{}).(string)
	return s
}

// WithVideoID adds the video being ingested to ctx.
func WithVideoID(ctx context.Context, videoID string) context.Context {
	if videoID == "" {
		return ctx
	}
	return context.WithValue(ctx, videoCtxKey{}, truncateID(videoID))
}

// VideoIDFromContext extracts the video id from ctx.
func VideoIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(videoCtxKey{}).(string)
	return s
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}

func truncateID(id string) string {
	if len(id) <= maxIDLen {
		return id
	}
	return id[:maxIDLen]
}
