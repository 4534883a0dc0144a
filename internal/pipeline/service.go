package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidqa/internal/checkpoint"
	"github.com/fyrsmithlabs/vidqa/internal/conversation"
	"github.com/fyrsmithlabs/vidqa/internal/errs"
	"github.com/fyrsmithlabs/vidqa/internal/logging"
)

// DefaultThreadID is used when a caller sends no thread id.
const DefaultThreadID = "default_user"

// TurnResult is the answer to one message.
type TurnResult struct {
	ThreadID string `json:"thread_id"`
	Answer   string `json:"answer"`
}

// Service runs turns against session memory.
type Service struct {
	graph    *Graph
	sessions *checkpoint.Sessions
	logger   *zap.Logger

	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewService creates a Service.
func NewService(graph *Graph, sessions *checkpoint.Sessions, logger *zap.Logger) (*Service, error) {
	if graph == nil || sessions == nil {
		return nil, fmt.Errorf("%w: graph and sessions are required", errs.ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{graph: graph, sessions: sessions, logger: logger}

	meter := otel.Meter(instrumentationName)
	var err error
	s.duration, err = meter.Float64Histogram(
		"vidqa.turn.duration_seconds",
		metric.WithDescription("Duration of a full turn including retrieval and generation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create turn duration histogram", zap.Error(err))
	}
	s.errors, err = meter.Int64Counter(
		"vidqa.turn.errors_total",
		metric.WithDescription("Failed turns by error code"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn("failed to create turn errors counter", zap.Error(err))
	}
	return s, nil
}

// SendTurn appends message to the thread, runs the graph and returns the
// assistant's answer. The user and assistant messages are committed
// together, and only when the whole turn succeeds.
func (s *Service) SendTurn(ctx context.Context, message, threadID string) (_ TurnResult, err error) {
	if strings.TrimSpace(message) == "" {
		return TurnResult{}, fmt.Errorf("%w: message cannot be empty", errs.ErrInvalidInput)
	}
	if strings.TrimSpace(threadID) == "" {
		threadID = DefaultThreadID
	}
	ctx = logging.WithThreadID(ctx, threadID)

	ctx, span := tracer.Start(ctx, "pipeline.SendTurn")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", threadID))

	start := time.Now()
	defer func() {
		if s.duration != nil {
			s.duration.Record(ctx, time.Since(start).Seconds())
		}
		if err != nil && s.errors != nil {
			s.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", errs.Code(err))))
		}
	}()

	var answer string
	err = s.sessions.Turn(ctx, threadID, func(ctx context.Context, history []conversation.Message) ([]conversation.Message, error) {
		user := conversation.User(message)
		out, err := s.graph.Run(ctx, State{Messages: append(history, user)})
		if err != nil {
			return nil, err
		}
		reply := out.Messages[len(out.Messages)-1]
		answer = out.Answer()
		return []conversation.Message{user, reply}, nil
	})
	if err != nil {
		return TurnResult{}, err
	}

	s.logger.Info("turn answered",
		append(logging.ContextFields(ctx),
			zap.Int("answer_chars", len(answer)),
			zap.Duration("duration", time.Since(start)),
		)...,
	)
	return TurnResult{ThreadID: threadID, Answer: answer}, nil
}

// History returns the committed messages of a thread.
func (s *Service) History(ctx context.Context, threadID string) ([]conversation.Message, error) {
	if strings.TrimSpace(threadID) == "" {
		threadID = DefaultThreadID
	}
	return s.sessions.History(ctx, threadID)
}
