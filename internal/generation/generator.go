// Package generation produces answers constrained to the retrieved
// transcript context.
//
// The generator sends one system instruction holding the full and top-k
// contexts followed by the whole conversation, and expects exactly one
// assistant message back. Confinement to the context is enforced by the
// prompt; an optional grounding check replaces answers that share no
// content words with the context by the refusal text.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidqa/internal/conversation"
	"github.com/fyrsmithlabs/vidqa/internal/errs"
)

const instrumentationName = "github.com/fyrsmithlabs/vidqa/internal/generation"

var tracer = otel.Tracer(instrumentationName)

// ErrEmptyResponse is returned when the model produces no usable text.
var ErrEmptyResponse = errors.New("empty model response")

// Config configures a Generator.
type Config struct {
	// Refusal is the answer for unrelated questions. Defaults to
	// DefaultRefusal.
	Refusal string
	// GroundingCheck enables the post-hoc content word check.
	GroundingCheck bool
	// MaxContextTokens trims the full context to this many tokens when
	// positive.
	MaxContextTokens int
	// Temperature is passed to the model when positive.
	Temperature float64
}

// Option configures a Generator.
type Option func(*Generator)

// WithTokenCounter overrides the tokenizer used for context trimming.
func WithTokenCounter(tc TokenCounter) Option {
	return func(g *Generator) { g.counter = tc }
}

// WithMeter overrides the meter used for generation metrics.
func WithMeter(m metric.Meter) Option {
	return func(g *Generator) { g.meter = m }
}

// Generator answers the newest user message of a conversation.
type Generator struct {
	model   llms.Model
	cfg     Config
	counter TokenCounter
	logger  *zap.Logger
	meter   metric.Meter

	answers metric.Int64Counter
	latency metric.Float64Histogram
}

// New creates a Generator.
func New(model llms.Model, cfg Config, logger *zap.Logger, opts ...Option) (*Generator, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: model is required", errs.ErrInvalidInput)
	}
	if strings.TrimSpace(cfg.Refusal) == "" {
		cfg.Refusal = DefaultRefusal
	}
	if cfg.MaxContextTokens < 0 {
		return nil, fmt.Errorf("%w: max context tokens cannot be negative", errs.ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Generator{
		model:  model,
		cfg:    cfg,
		logger: logger,
		meter:  otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.counter == nil && cfg.MaxContextTokens > 0 {
		g.counter = NewTiktokenCounter(logger)
	}
	g.initMetrics()
	return g, nil
}

func (g *Generator) initMetrics() {
	var err error
	g.answers, err = g.meter.Int64Counter(
		"vidqa.generation.answers_total",
		metric.WithDescription("Answers produced, labeled by outcome (answered, refused, ungrounded, error)"),
		metric.WithUnit("{answer}"),
	)
	if err != nil {
		g.logger.Warn("failed to create answers counter", zap.Error(err))
	}
	g.latency, err = g.meter.Float64Histogram(
		"vidqa.generation.duration_seconds",
		metric.WithDescription("Duration of model calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		g.logger.Warn("failed to create latency histogram", zap.Error(err))
	}
}

// Refusal returns the configured refusal text.
func (g *Generator) Refusal() string { return g.cfg.Refusal }

// Generate produces exactly one assistant message for history, whose last
// element must be the newest user message.
//
// Empty context is answered with the refusal without calling the model.
// Model failures and empty responses are wrapped in errs.ErrGeneration.
func (g *Generator) Generate(ctx context.Context, topK, full string, history []conversation.Message) (_ conversation.Message, err error) {
	ctx, span := tracer.Start(ctx, "generation.Generate")
	outcome := "answered"
	defer func() {
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("generation.outcome", outcome))
		if g.answers != nil {
			g.answers.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		}
		span.End()
	}()

	if len(history) == 0 || history[len(history)-1].Role != conversation.RoleUser {
		return conversation.Message{}, fmt.Errorf("%w: history must end with a user message", errs.ErrInvalidInput)
	}

	if strings.TrimSpace(topK) == "" && strings.TrimSpace(full) == "" {
		outcome = "refused"
		g.logger.Debug("empty context, refusing without model call")
		return conversation.Assistant(g.cfg.Refusal), nil
	}

	if g.cfg.MaxContextTokens > 0 && g.counter != nil {
		if n := g.counter.Count(full); n > g.cfg.MaxContextTokens {
			g.logger.Debug("trimming full context",
				zap.Int("tokens", n),
				zap.Int("max_tokens", g.cfg.MaxContextTokens),
			)
			full = g.counter.Truncate(full, g.cfg.MaxContextTokens)
			span.SetAttributes(attribute.Bool("generation.context_trimmed", true))
		}
	}

	system, err := SystemPrompt(topK, full, g.cfg.Refusal)
	if err != nil {
		return conversation.Message{}, fmt.Errorf("%w: rendering prompt: %w", errs.ErrGeneration, err)
	}

	messages := make([]llms.MessageContent, 0, len(history)+1)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	messages = append(messages, conversation.ToLLM(history)...)

	var callOpts []llms.CallOption
	if g.cfg.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(g.cfg.Temperature))
	}

	start := time.Now()
	resp, err := g.model.GenerateContent(ctx, messages, callOpts...)
	if g.latency != nil {
		g.latency.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return conversation.Message{}, fmt.Errorf("%w: %w", errs.ErrGeneration, err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return conversation.Message{}, fmt.Errorf("%w: %w: no choices", errs.ErrGeneration, ErrEmptyResponse)
	}

	answer := strings.TrimSpace(resp.Choices[0].Content)
	if answer == "" {
		return conversation.Message{}, fmt.Errorf("%w: %w", errs.ErrGeneration, ErrEmptyResponse)
	}

	if answer == g.cfg.Refusal {
		outcome = "refused"
	} else if g.cfg.GroundingCheck && !grounded(answer, topK, full) {
		outcome = "ungrounded"
		g.logger.Info("answer shares no content with the context, replacing with refusal",
			zap.Int("answer_len", len(answer)),
		)
		answer = g.cfg.Refusal
	}

	return conversation.Assistant(answer), nil
}
