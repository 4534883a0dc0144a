// Package vectortest provides deterministic embedders for tests.
package vectortest

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"unicode"
)

// Dimension is the vector size produced by BagOfWords.
const Dimension = 512

// BagOfWords embeds text as a normalized term-count vector over a vocabulary
// that grows as words are seen. Index 0 is a constant bias so no vector is
// ever zero. Words beyond the first Dimension-1 share slots.
type BagOfWords struct {
	mu    sync.Mutex
	vocab map[string]int

	calls int
}

// NewBagOfWords creates an empty vocabulary embedder.
func NewBagOfWords() *BagOfWords {
	return &BagOfWords{vocab: make(map[string]int)}
}

// EmbedDocuments embeds each text.
func (b *BagOfWords) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = b.embed(t)
	}
	return out, nil
}

// EmbedQuery embeds one text.
func (b *BagOfWords) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.embed(text), nil
}

// Calls returns the number of texts embedded so far.
func (b *BagOfWords) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *BagOfWords) embed(text string) []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++

	v := make([]float32, Dimension)
	v[0] = 0.1
	for _, word := range Tokenize(text) {
		idx, ok := b.vocab[word]
		if !ok {
			idx = 1 + len(b.vocab)%(Dimension-1)
			b.vocab[word] = idx
		}
		v[idx]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// Tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ErrEmbedding is returned by Failing.
var ErrEmbedding = errors.New("embedding backend unavailable")

// Failing wraps an embedder and fails selected calls.
type Failing struct {
	Inner interface {
		EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
		EmbedQuery(ctx context.Context, text string) ([]float32, error)
	}

	mu            sync.Mutex
	failDocuments bool
	failQuery     bool
}

// SetFailDocuments toggles EmbedDocuments failures.
func (f *Failing) SetFailDocuments(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failDocuments = fail
}

// SetFailQuery toggles EmbedQuery failures.
func (f *Failing) SetFailQuery(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failQuery = fail
}

func (f *Failing) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	fail := f.failDocuments
	f.mu.Unlock()
	if fail {
		return nil, ErrEmbedding
	}
	return f.Inner.EmbedDocuments(ctx, texts)
}

func (f *Failing) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	fail := f.failQuery
	f.mu.Unlock()
	if fail {
		return nil, ErrEmbedding
	}
	return f.Inner.EmbedQuery(ctx, text)
}
