// Package retrieval builds the transcript context for a question.
//
// Each call yields two views of the collection: the top-k passages most
// similar to the question, and every stored passage. Both are joined with
// the same separator.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidqa/internal/errs"
	"github.com/fyrsmithlabs/vidqa/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/vidqa/internal/retrieval"

var tracer = otel.Tracer(instrumentationName)

// Defaults.
const (
	DefaultK         = 5
	DefaultSeparator = "\n---\n"
)

// Store is the read side of the document store.
type Store interface {
	Query(ctx context.Context, collection, text string, k int) ([]vectorstore.ScoredChunk, error)
	DumpAll(ctx context.Context, collection string) ([]vectorstore.Chunk, error)
}

// Result holds the contexts handed to the generator.
type Result struct {
	// TopKContext joins the k best matching chunk texts, best first.
	TopKContext string
	// FullContext joins every chunk text in insertion order, or equals
	// TopKContext when the full dump could not be read.
	FullContext string
}

// Config configures a Retriever.
type Config struct {
	Collection string
	K          int
	Separator  string
}

// Retriever runs the retrieval step of a turn.
type Retriever struct {
	store      Store
	collection string
	k          int
	separator  string
	logger     *zap.Logger
}

// New creates a Retriever. Zero K and empty Separator take the defaults.
func New(store Store, cfg Config, logger *zap.Logger) (*Retriever, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", errs.ErrInvalidInput)
	}
	if cfg.Collection == "" {
		cfg.Collection = vectorstore.DefaultCollection
	}
	if cfg.K == 0 {
		cfg.K = DefaultK
	}
	if cfg.K < 0 {
		return nil, fmt.Errorf("%w: %w: got %d", errs.ErrInvalidInput, vectorstore.ErrInvalidK, cfg.K)
	}
	if cfg.Separator == "" {
		cfg.Separator = DefaultSeparator
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		store:      store,
		collection: cfg.Collection,
		k:          cfg.K,
		separator:  cfg.Separator,
		logger:     logger,
	}, nil
}

// Retrieve queries the store for the top-k chunks and reads the full dump.
//
// A failed query is returned wrapped in errs.ErrRetrieval. A failed dump is
// logged and degrades FullContext to the top-k context.
func (r *Retriever) Retrieve(ctx context.Context, query string) (_ Result, err error) {
	ctx, span := tracer.Start(ctx, "retrieval.Retrieve")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	hits, err := r.store.Query(ctx, r.collection, query, r.k)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", errs.ErrRetrieval, err)
	}

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}
	res := Result{TopKContext: strings.Join(texts, r.separator)}

	all, err := r.store.DumpAll(ctx, r.collection)
	if err != nil {
		r.logger.Warn("could not retrieve full context, using top-k context",
			zap.String("collection", r.collection),
			zap.Error(err),
		)
		span.SetAttributes(attribute.Bool("retrieval.degraded", true))
		res.FullContext = res.TopKContext
		err = nil
	} else {
		full := make([]string, len(all))
		for i, c := range all {
			full[i] = c.Text
		}
		res.FullContext = strings.Join(full, r.separator)
	}

	span.SetAttributes(
		attribute.Int("retrieval.hits", len(hits)),
		attribute.Int("retrieval.total", len(all)),
	)
	r.logger.Debug("retrieved context",
		zap.String("collection", r.collection),
		zap.Int("hits", len(hits)),
		zap.Int("total", len(all)),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// K returns the number of chunks requested per query.
func (r *Retriever) K() int { return r.k }
