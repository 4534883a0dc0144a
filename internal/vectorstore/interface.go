package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations. Store methods additionally
// wrap them into the errs taxonomy.
var (
	// ErrEmptyDocuments indicates an ingest or append with no chunks.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrInvalidK indicates a non-positive result count.
	ErrInvalidK = errors.New("k must be positive")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrInvalidConfig indicates invalid backend configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the Qdrant server could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to Qdrant")

	// ErrCollectionNotFound is returned by backends for an unknown physical collection.
	ErrCollectionNotFound = errors.New("collection not found")
)

// Chunk is one piece of a transcript. Metadata values are scalars
// (string, bool, int64, float64).
type Chunk struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ScoredChunk is a query hit.
type ScoredChunk struct {
	Chunk
	Score float32 `json:"score"`
}

// Embedder generates vector embeddings from text. The same embedder must be
// used for indexing and querying a collection.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Record is a chunk with its embedding and insertion position.
type Record struct {
	Seq    int
	Chunk  Chunk
	Vector []float32
}

// ScoredRecord is a search hit from a backend. Vector may be nil.
type ScoredRecord struct {
	Record
	Score float32
}

// Backend stores physical collections and the logical name bindings that
// point at them. Implementations must make Bind atomic: after it returns,
// Bindings reports the new target, and on error the old one.
type Backend interface {
	// CreateCollection creates an empty physical collection.
	CreateCollection(ctx context.Context, name string, dimension int) error
	// DeleteCollection removes a physical collection. Missing collections are not an error.
	DeleteCollection(ctx context.Context, name string) error
	// ListCollections returns all physical collection names.
	ListCollections(ctx context.Context) ([]string, error)

	Insert(ctx context.Context, name string, records []Record) error
	// Search returns up to limit hits; ordering is not guaranteed.
	Search(ctx context.Context, name string, vector []float32, limit int) ([]ScoredRecord, error)
	// Scan returns every record; ordering is not guaranteed.
	Scan(ctx context.Context, name string) ([]Record, error)
	Count(ctx context.Context, name string) (int, error)

	// Bind points logical at physical.
	Bind(ctx context.Context, logical, physical string) error
	// Bindings returns all logical to physical bindings.
	Bindings(ctx context.Context) (map[string]string, error)

	Health(ctx context.Context) error
	Close() error
}
