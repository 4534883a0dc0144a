// Package chunking splits transcript documents into overlapping chunks for
// indexing.
package chunking

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/fyrsmithlabs/vidqa/internal/errs"
	"github.com/fyrsmithlabs/vidqa/internal/vectorstore"
)

// Defaults match the indexing parameters the retriever was tuned for.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

// MetadataChunkIndex is the position of a chunk across the whole split.
const MetadataChunkIndex = "chunk_index"

// ErrInvalidConfig is returned for unusable size/overlap combinations.
var ErrInvalidConfig = errors.New("invalid chunking configuration")

// Splitter splits documents with a recursive character splitter. Output is
// a pure function of the input.
type Splitter struct {
	splitter textsplitter.TextSplitter
	size     int
	overlap  int
}

// NewSplitter creates a splitter producing chunks of at most size runes,
// with overlap runes shared between neighbours where the text allows.
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidConfig, size, overlap)
	}
	return &Splitter{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
		size:    size,
		overlap: overlap,
	}, nil
}

// Split returns the chunks of docs in document order. Each chunk carries a
// copy of its document's metadata plus MetadataChunkIndex.
//
// A split that yields no non-blank chunk fails with
// errs.ErrTranscriptUnavailable.
func (s *Splitter) Split(docs []schema.Document) ([]vectorstore.Chunk, error) {
	parts, err := textsplitter.SplitDocuments(s.splitter, docs)
	if err != nil {
		return nil, fmt.Errorf("splitting documents: %w", err)
	}

	chunks := make([]vectorstore.Chunk, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p.PageContent) == "" {
			continue
		}
		md := make(map[string]any, len(p.Metadata)+1)
		for k, v := range p.Metadata {
			md[k] = v
		}
		md[MetadataChunkIndex] = int64(len(chunks))
		chunks = append(chunks, vectorstore.Chunk{Text: p.PageContent, Metadata: md})
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: transcript is empty", errs.ErrTranscriptUnavailable)
	}
	return chunks, nil
}

// Size returns the configured maximum chunk length in runes.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap in runes.
func (s *Splitter) Overlap() int { return s.overlap }
