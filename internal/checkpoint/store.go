package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidqa/internal/config"
	"github.com/fyrsmithlabs/vidqa/internal/conversation"
	"github.com/fyrsmithlabs/vidqa/internal/errs"
)

const instrumentationName = "github.com/fyrsmithlabs/vidqa/internal/checkpoint"

// ErrClosed is returned by stores after Close.
var ErrClosed = errors.New("checkpoint store is closed")

// Store persists conversation history per thread.
type Store interface {
	// Load returns the thread's messages in order. Unseen threads yield an
	// empty, non-nil slice.
	Load(ctx context.Context, threadID string) ([]conversation.Message, error)

	// Commit appends msgs to the thread's history.
	Commit(ctx context.Context, threadID string, msgs []conversation.Message) error

	// Close releases resources held by the store.
	Close() error
}

// New builds the Store selected by cfg.Backend.
func New(cfg config.SessionConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case config.SessionBackendMemory, "":
		s, err := NewMemoryStore(MemoryConfig{MaxThreads: cfg.MaxThreads, TTL: cfg.TTL.Duration()}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.SessionBackendSQLite:
		s, err := NewSQLiteStore(context.Background(), SQLiteConfig{Path: cfg.SQLitePath, TTL: cfg.TTL.Duration()}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown session backend %q", errs.ErrInvalidInput, cfg.Backend)
	}
}

func validateThreadID(threadID string) error {
	if strings.TrimSpace(threadID) == "" {
		return fmt.Errorf("%w: thread id is required", errs.ErrInvalidInput)
	}
	return nil
}

func validateMessages(msgs []conversation.Message) error {
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("%w: message %d: %w", errs.ErrInvalidInput, i, err)
		}
	}
	return nil
}

// Sessions serializes turns per thread on top of a Store.
type Sessions struct {
	store  Store
	locks  *KeyedLock
	logger *zap.Logger

	turns metric.Int64Counter
}

// NewSessions wraps store with a per-thread lock.
func NewSessions(store Store, logger *zap.Logger) *Sessions {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sessions{store: store, locks: NewKeyedLock(), logger: logger}

	var err error
	s.turns, err = otel.Meter(instrumentationName).Int64Counter(
		"vidqa.checkpoint.turns_total",
		metric.WithDescription("Turns run against session memory, by outcome"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		logger.Warn("failed to create turns counter", zap.Error(err))
	}
	return s
}

// TurnFunc receives a thread's history and returns the messages to append.
// Returning an error discards the turn.
type TurnFunc func(ctx context.Context, history []conversation.Message) ([]conversation.Message, error)

// Turn loads threadID's history, runs fn and commits what fn returns. The
// thread stays locked for the whole sequence; nothing is committed when fn
// fails.
func (s *Sessions) Turn(ctx context.Context, threadID string, fn TurnFunc) (err error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "checkpoint.turn")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", threadID))

	defer func() {
		outcome := "committed"
		if err != nil {
			outcome = "aborted"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if s.turns != nil {
			s.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		}
	}()

	unlock, err := s.locks.Lock(ctx, threadID)
	if err != nil {
		return err
	}
	defer unlock()

	history, err := s.store.Load(ctx, threadID)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	appended, err := fn(ctx, history)
	if err != nil {
		return err
	}
	if len(appended) == 0 {
		return nil
	}
	if err := s.store.Commit(ctx, threadID, appended); err != nil {
		return fmt.Errorf("committing turn: %w", err)
	}
	s.logger.Debug("turn committed",
		zap.String("thread_id", threadID),
		zap.Int("history", len(history)),
		zap.Int("appended", len(appended)),
	)
	return nil
}

// History returns a thread's messages without taking the thread lock.
func (s *Sessions) History(ctx context.Context, threadID string) ([]conversation.Message, error) {
	return s.store.Load(ctx, threadID)
}

// Close closes the underlying store.
func (s *Sessions) Close() error {
	return s.store.Close()
}
