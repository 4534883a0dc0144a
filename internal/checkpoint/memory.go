package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidqa/internal/conversation"
)

// MemoryConfig bounds a MemoryStore.
type MemoryConfig struct {
	// MaxThreads caps how many threads are retained; the least recently
	// used thread is evicted first. Zero means unbounded.
	MaxThreads int

	// TTL drops a thread this long after its last commit. Zero disables
	// expiry.
	TTL time.Duration
}

// MemoryStore keeps histories in process memory.
type MemoryStore struct {
	// mu makes Commit's read-modify-write atomic; the LRU itself is
	// already safe for concurrent use.
	mu     sync.Mutex
	cache  *expirable.LRU[string, []conversation.Message]
	logger *zap.Logger
	closed bool
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(cfg MemoryConfig, logger *zap.Logger) (*MemoryStore, error) {
	if cfg.MaxThreads < 0 {
		return nil, fmt.Errorf("max threads must not be negative, got %d", cfg.MaxThreads)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryStore{logger: logger}
	s.cache = expirable.NewLRU(cfg.MaxThreads, func(threadID string, msgs []conversation.Message) {
		logger.Debug("thread evicted", zap.String("thread_id", threadID), zap.Int("messages", len(msgs)))
	}, cfg.TTL)

	logger.Info("session memory ready",
		zap.String("backend", "memory"),
		zap.Int("max_threads", cfg.MaxThreads),
		zap.Duration("ttl", cfg.TTL),
	)
	return s, nil
}

// Load returns a copy of the thread's history.
func (s *MemoryStore) Load(ctx context.Context, threadID string) ([]conversation.Message, error) {
	_, span := otel.Tracer(instrumentationName).Start(ctx, "checkpoint.memory.load")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", threadID))

	if err := validateThreadID(threadID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	msgs, _ := s.cache.Get(threadID)
	span.SetAttributes(attribute.Int("messages", len(msgs)))
	return conversation.Clone(msgs), nil
}

// Commit appends copies of msgs to the thread's history.
func (s *MemoryStore) Commit(ctx context.Context, threadID string, msgs []conversation.Message) error {
	_, span := otel.Tracer(instrumentationName).Start(ctx, "checkpoint.memory.commit")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", threadID), attribute.Int("appended", len(msgs)))

	if err := validateThreadID(threadID); err != nil {
		return err
	}
	if err := validateMessages(msgs); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev, _ := s.cache.Peek(threadID)
	next := make([]conversation.Message, 0, len(prev)+len(msgs))
	next = append(next, prev...)
	next = append(next, msgs...)
	s.cache.Add(threadID, next)
	return nil
}

// Len reports how many threads are retained.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Close drops every history.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cache.Purge()
	return nil
}
