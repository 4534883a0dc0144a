package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidqa/internal/errs"
)

const instrumentationName = "github.com/fyrsmithlabs/vidqa/internal/vectorstore"

var tracer = otel.Tracer(instrumentationName)

// DefaultCollection is the logical collection used for transcripts.
const DefaultCollection = "youtube_transcripts"

// Logical names leave room for the "_g" + 8 hex generation suffix within
// the 64 character limit.
var (
	collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,53}$`)
	generationPattern     = regexp.MustCompile(`^([a-z0-9_]{1,53})_g([0-9a-f]{8})$`)
)

// ValidateCollectionName validates a logical collection name.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %w: must match %s, got %q",
			errs.ErrInvalidInput, ErrInvalidCollectionName, collectionNamePattern, name)
	}
	return nil
}

// generationName returns a fresh physical name for logical.
func generationName(logical string) string {
	return logical + "_g" + uuid.NewString()[:8]
}

// logicalOf returns the logical name a physical generation belongs to.
func logicalOf(physical string) (string, bool) {
	m := generationPattern.FindStringSubmatch(physical)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Store manages logical collections on top of a Backend.
//
// Writers (Replace, Append) are serialized. Readers hold a read lock for the
// whole backend call, and the binding swap takes the write lock, so a reader
// never observes a generation that is being torn down.
type Store struct {
	backend  Backend
	embedder Embedder
	logger   *zap.Logger

	writeMu sync.Mutex

	mu       sync.RWMutex
	bindings map[string]string
}

// NewStore restores bindings from the backend and deletes orphaned
// generations left behind by an interrupted Replace.
func NewStore(ctx context.Context, backend Backend, embedder Embedder, logger *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		backend:  backend,
		embedder: embedder,
		logger:   logger,
		bindings: make(map[string]string),
	}
	if err := s.restore(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) restore(ctx context.Context) error {
	bindings, err := s.backend.Bindings(ctx)
	if err != nil {
		return fmt.Errorf("loading collection bindings: %w", err)
	}
	for logical, physical := range bindings {
		s.bindings[logical] = physical
	}

	names, err := s.backend.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("listing collections: %w", err)
	}

	live := make(map[string]bool, len(bindings))
	for _, physical := range bindings {
		live[physical] = true
	}
	for _, name := range names {
		if _, ok := logicalOf(name); !ok || live[name] {
			continue
		}
		if err := s.backend.DeleteCollection(ctx, name); err != nil {
			s.logger.Warn("failed to delete orphaned generation", zap.String("collection", name), zap.Error(err))
			continue
		}
		s.logger.Info("deleted orphaned generation", zap.String("collection", name))
	}

	s.logger.Debug("vector store bindings restored", zap.Int("bindings", len(bindings)))
	return nil
}

// Replace discards any previous version of collection and indexes chunks
// as its new content. On failure the previous version stays active.
func (s *Store) Replace(ctx context.Context, collection string, chunks []Chunk) (err error) {
	ctx, span := tracer.Start(ctx, "vectorstore.Replace", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("chunks", len(chunks)),
	))
	defer func() { endSpan(span, err) }()
	defer observe("replace", time.Now(), &err)

	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return fmt.Errorf("%w: %w", errs.ErrInvalidInput, ErrEmptyDocuments)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	vectors, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrStoreWrite, err)
	}

	physical := generationName(collection)
	span.SetAttributes(attribute.String("generation", physical))

	if err := s.backend.CreateCollection(ctx, physical, len(vectors[0])); err != nil {
		return fmt.Errorf("%w: creating %s: %w", errs.ErrStoreWrite, physical, err)
	}
	if err := s.backend.Insert(ctx, physical, toRecords(0, chunks, vectors)); err != nil {
		s.discard(ctx, physical)
		return fmt.Errorf("%w: writing %s: %w", errs.ErrStoreWrite, physical, err)
	}

	s.mu.Lock()
	previous, hadPrevious := s.bindings[collection]
	if err := s.backend.Bind(ctx, collection, physical); err != nil {
		s.mu.Unlock()
		s.discard(ctx, physical)
		return fmt.Errorf("%w: binding %s: %w", errs.ErrStoreWrite, collection, err)
	}
	s.bindings[collection] = physical
	s.mu.Unlock()

	if !hadPrevious {
		s.logger.Info("no previous collection to discard", zap.String("collection", collection))
	} else {
		s.discard(ctx, previous)
	}

	chunksStored.WithLabelValues(collection).Set(float64(len(chunks)))
	s.logger.Info("collection replaced",
		zap.String("collection", collection),
		zap.String("generation", physical),
		zap.Int("chunks", len(chunks)),
	)
	return nil
}

// Append adds chunks to an existing collection.
func (s *Store) Append(ctx context.Context, collection string, chunks []Chunk) (err error) {
	ctx, span := tracer.Start(ctx, "vectorstore.Append", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("chunks", len(chunks)),
	))
	defer func() { endSpan(span, err) }()
	defer observe("append", time.Now(), &err)

	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return fmt.Errorf("%w: %w", errs.ErrInvalidInput, ErrEmptyDocuments)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	physical, ok := s.binding(collection)
	if !ok {
		return fmt.Errorf("%w: %s", errs.ErrStoreNotFound, collection)
	}

	next, err := s.backend.Count(ctx, physical)
	if err != nil {
		return fmt.Errorf("%w: counting %s: %w", errs.ErrStoreWrite, physical, err)
	}

	vectors, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrStoreWrite, err)
	}

	// Readers are held off so they never see a partial append.
	s.mu.Lock()
	err = s.backend.Insert(ctx, physical, toRecords(next, chunks, vectors))
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: writing %s: %w", errs.ErrStoreWrite, physical, err)
	}

	chunksStored.WithLabelValues(collection).Set(float64(next + len(chunks)))
	return nil
}

// Query returns the k chunks most similar to text, by descending score with
// ties in insertion order. Fewer than k chunks are returned when the
// collection is smaller.
func (s *Store) Query(ctx context.Context, collection, text string, k int) (_ []ScoredChunk, err error) {
	ctx, span := tracer.Start(ctx, "vectorstore.Query", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("k", k),
	))
	defer func() { endSpan(span, err) }()
	defer observe("query", time.Now(), &err)

	if k <= 0 {
		return nil, fmt.Errorf("%w: %w: got %d", errs.ErrInvalidInput, ErrInvalidK, k)
	}
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if zeroVector(vector) {
		return nil, fmt.Errorf("%w: query embedding has zero magnitude", ErrEmbeddingFailed)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	physical, ok := s.bindings[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrStoreNotFound, collection)
	}

	total, err := s.backend.Count(ctx, physical)
	if err != nil {
		return nil, fmt.Errorf("counting %s: %w", physical, err)
	}
	if total == 0 {
		return []ScoredChunk{}, nil
	}

	// Every hit is ranked here so ties across the k boundary resolve by
	// insertion order rather than backend order.
	hits, err := s.backend.Search(ctx, physical, vector, total)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", physical, err)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		si, sj := rankScore(hits[i].Score), rankScore(hits[j].Score)
		if si != sj {
			return si > sj
		}
		return hits[i].Seq < hits[j].Seq
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]ScoredChunk, len(hits))
	for i, h := range hits {
		out[i] = ScoredChunk{Chunk: h.Chunk, Score: h.Score}
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

// rankScore orders NaN below every real score so the sort stays a strict
// weak ordering when a backend cannot score a hit.
func rankScore(score float32) float64 {
	if math.IsNaN(float64(score)) {
		return math.Inf(-1)
	}
	return float64(score)
}

func zeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// DumpAll returns every chunk of collection in insertion order.
func (s *Store) DumpAll(ctx context.Context, collection string) (_ []Chunk, err error) {
	ctx, span := tracer.Start(ctx, "vectorstore.DumpAll", trace.WithAttributes(
		attribute.String("collection", collection),
	))
	defer func() { endSpan(span, err) }()
	defer observe("dump", time.Now(), &err)

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	physical, ok := s.bindings[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrStoreNotFound, collection)
	}

	records, err := s.backend.Scan(ctx, physical)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", physical, err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	out := make([]Chunk, len(records))
	for i, r := range records {
		out[i] = r.Chunk
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

// Exists reports whether collection has an active generation.
func (s *Store) Exists(collection string) bool {
	_, ok := s.binding(collection)
	return ok
}

// Count returns the number of chunks in collection's active generation.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	physical, ok := s.bindings[collection]
	if !ok {
		return 0, fmt.Errorf("%w: %s", errs.ErrStoreNotFound, collection)
	}
	n, err := s.backend.Count(ctx, physical)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", physical, err)
	}
	return n, nil
}

// Health checks the backend.
func (s *Store) Health(ctx context.Context) error {
	return s.backend.Health(ctx)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) binding(collection string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	physical, ok := s.bindings[collection]
	return physical, ok
}

// discard deletes a generation even if ctx has been canceled.
func (s *Store) discard(ctx context.Context, physical string) {
	if err := s.backend.DeleteCollection(context.WithoutCancel(ctx), physical); err != nil {
		s.logger.Warn("failed to delete generation", zap.String("collection", physical), zap.Error(err))
	}
}

func (s *Store) embedChunks(ctx context.Context, chunks []Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d vectors for %d chunks", ErrEmbeddingFailed, len(vectors), len(chunks))
	}
	if len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrEmbeddingFailed)
	}
	return vectors, nil
}

func toRecords(start int, chunks []Chunk, vectors [][]float32) []Record {
	records := make([]Record, len(chunks))
	for i, c := range chunks {
		records[i] = Record{Seq: start + i, Chunk: c, Vector: vectors[i]}
	}
	return records
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// IsNotFound reports whether err means the collection has no active generation.
func IsNotFound(err error) bool {
	return errors.Is(err, errs.ErrStoreNotFound)
}
