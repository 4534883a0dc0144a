// Package ingest builds the knowledge base from a video transcript.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tmc/langchaingo/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidqa/internal/errs"
	"github.com/fyrsmithlabs/vidqa/internal/logging"
	"github.com/fyrsmithlabs/vidqa/internal/transcript"
	"github.com/fyrsmithlabs/vidqa/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/vidqa/internal/ingest"

var tracer = otel.Tracer(instrumentationName)

// StatusReady is reported once the knowledge base holds the new video.
const StatusReady = "ready"

// Splitter turns documents into chunks.
type Splitter interface {
	Split(docs []schema.Document) ([]vectorstore.Chunk, error)
}

// Indexer writes chunks to a collection.
type Indexer interface {
	Replace(ctx context.Context, collection string, chunks []vectorstore.Chunk) error
	Append(ctx context.Context, collection string, chunks []vectorstore.Chunk) error
}

// InitResult reports a finished ingestion.
type InitResult struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	ChunkCount int    `json:"chunk_count"`
}

// Service ingests videos into one collection.
type Service struct {
	fetcher    transcript.Fetcher
	splitter   Splitter
	store      Indexer
	collection string
	logger     *zap.Logger

	// mu keeps ingestions from interleaving; the last one started wins.
	mu sync.Mutex

	videos metric.Int64Counter
	chunks metric.Int64Histogram
}

// NewService creates an ingest Service writing to collection.
func NewService(fetcher transcript.Fetcher, splitter Splitter, store Indexer, collection string, logger *zap.Logger) (*Service, error) {
	if fetcher == nil || splitter == nil || store == nil {
		return nil, fmt.Errorf("%w: fetcher, splitter and store are required", errs.ErrInvalidInput)
	}
	if collection == "" {
		collection = vectorstore.DefaultCollection
	}
	if err := vectorstore.ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		fetcher:    fetcher,
		splitter:   splitter,
		store:      store,
		collection: collection,
		logger:     logger,
	}

	meter := otel.Meter(instrumentationName)
	var err error
	s.videos, err = meter.Int64Counter(
		"vidqa.ingest.videos_total",
		metric.WithDescription("Ingestion attempts by mode and outcome"),
		metric.WithUnit("{video}"),
	)
	if err != nil {
		logger.Warn("failed to create videos counter", zap.Error(err))
	}
	s.chunks, err = meter.Int64Histogram(
		"vidqa.ingest.chunks",
		metric.WithDescription("Chunks produced per ingested video"),
		metric.WithUnit("{chunk}"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000),
	)
	if err != nil {
		logger.Warn("failed to create chunks histogram", zap.Error(err))
	}
	return s, nil
}

// Initialize replaces the knowledge base with the transcript of videoURL.
// On any failure the previous knowledge base stays in place.
func (s *Service) Initialize(ctx context.Context, videoURL string) (InitResult, error) {
	n, err := s.ingest(ctx, "replace", videoURL, s.store.Replace)
	if err != nil {
		return InitResult{}, err
	}
	return InitResult{
		Status:     StatusReady,
		Message:    fmt.Sprintf("Knowledge base cleared and updated with new video. Total chunks: %d", n),
		ChunkCount: n,
	}, nil
}

// AddVideo appends the transcript of videoURL to the existing knowledge
// base. It fails with errs.ErrStoreNotFound before any Initialize.
func (s *Service) AddVideo(ctx context.Context, videoURL string) (InitResult, error) {
	n, err := s.ingest(ctx, "append", videoURL, s.store.Append)
	if err != nil {
		return InitResult{}, err
	}
	return InitResult{
		Status:     StatusReady,
		Message:    fmt.Sprintf("Knowledge base extended with new video. Added chunks: %d", n),
		ChunkCount: n,
	}, nil
}

type writeFunc func(ctx context.Context, collection string, chunks []vectorstore.Chunk) error

func (s *Service) ingest(ctx context.Context, mode, videoURL string, write writeFunc) (n int, err error) {
	if id, idErr := transcript.VideoID(videoURL); idErr == nil {
		ctx = logging.WithVideoID(ctx, id)
	}
	ctx, span := tracer.Start(ctx, "ingest."+mode)
	span.SetAttributes(attribute.String("collection", s.collection), attribute.String("url", videoURL))
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = errs.Code(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if s.videos != nil {
			s.videos.Add(ctx, 1, metric.WithAttributes(
				attribute.String("mode", mode),
				attribute.String("outcome", outcome),
			))
		}
		span.End()
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.fetcher.Fetch(ctx, videoURL)
	if err != nil {
		return 0, err
	}
	chunks, err := s.splitter.Split(docs)
	if err != nil {
		return 0, err
	}
	if err := write(ctx, s.collection, chunks); err != nil {
		return 0, err
	}

	n = len(chunks)
	span.SetAttributes(attribute.Int("chunks", n))
	if s.chunks != nil {
		s.chunks.Record(ctx, int64(n))
	}
	s.logger.Info("video ingested",
		append(logging.ContextFields(ctx),
			zap.String("mode", mode),
			zap.String("collection", s.collection),
			zap.Int("chunks", n),
			zap.Duration("duration", time.Since(start)),
		)...,
	)
	return n, nil
}

// Collection returns the collection written by the service.
func (s *Service) Collection() string { return s.collection }
