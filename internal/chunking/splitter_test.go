package chunking

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"

	"github.com/fyrsmithlabs/vidqa/internal/errs"
)

func longTranscript(words int) string {
	var b strings.Builder
	for i := 0; i < words; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "word%d", i)
	}
	return b.String()
}

func TestNewSplitter(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
		wantErr       bool
	}{
		{"defaults", DefaultChunkSize, DefaultChunkOverlap, false},
		{"no overlap", 10, 0, false},
		{"zero size", 0, 0, true},
		{"negative overlap", 10, -1, true},
		{"overlap equals size", 10, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSplitter(tt.size, tt.overlap)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.size, s.Size())
			assert.Equal(t, tt.overlap, s.Overlap())
		})
	}
}

func TestSplitter_Split(t *testing.T) {
	s, err := NewSplitter(200, 40)
	require.NoError(t, err)

	docs := []schema.Document{{
		PageContent: longTranscript(300),
		Metadata:    map[string]any{"source": "dQw4w9WgXcQ", "language": "en"},
	}}

	chunks, err := s.Split(docs)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 200)
		assert.Equal(t, "dQw4w9WgXcQ", c.Metadata["source"])
		assert.Equal(t, "en", c.Metadata["language"])
		assert.Equal(t, int64(i), c.Metadata[MetadataChunkIndex])
	}

	// Neighbouring chunks share text.
	first := strings.Fields(chunks[0].Text)
	assert.Contains(t, strings.Fields(chunks[1].Text), first[len(first)-1])

	// Input metadata is not mutated.
	_, ok := docs[0].Metadata[MetadataChunkIndex]
	assert.False(t, ok)
}

func TestSplitter_Deterministic(t *testing.T) {
	s, err := NewSplitter(DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)
	docs := []schema.Document{{PageContent: longTranscript(2000), Metadata: map[string]any{"source": "x"}}}

	a, err := s.Split(docs)
	require.NoError(t, err)
	b, err := s.Split(docs)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSplitter_IndexSpansDocuments(t *testing.T) {
	s, err := NewSplitter(DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)

	chunks, err := s.Split([]schema.Document{
		{PageContent: "Cats sleep 16 hours a day."},
		{PageContent: "Dogs love to play fetch."},
	})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Cats sleep 16 hours a day.", chunks[0].Text)
	assert.Equal(t, int64(1), chunks[1].Metadata[MetadataChunkIndex])
}

func TestSplitter_EmptyTranscript(t *testing.T) {
	s, err := NewSplitter(DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)

	for _, docs := range [][]schema.Document{
		nil,
		{{PageContent: ""}},
		{{PageContent: "   \n\n  "}},
	} {
		_, err := s.Split(docs)
		assert.ErrorIs(t, err, errs.ErrTranscriptUnavailable)
	}
}
