package embeddings

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidqa/internal/config"
	"github.com/fyrsmithlabs/vidqa/internal/errs"
	"github.com/fyrsmithlabs/vidqa/internal/vectorstore/vectortest"
)

func TestNewProvider(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantErr error
	}{
		{"openai", ProviderConfig{Provider: ProviderOpenAI, Model: "text-embedding-3-small", APIKey: "sk-test"}, nil},
		{"openai without key", ProviderConfig{Provider: ProviderOpenAI}, ErrInvalidConfig},
		{"huggingface", ProviderConfig{Provider: ProviderHuggingFace, Model: "BAAI/bge-m3", APIKey: "hf_test"}, nil},
		{"huggingface without key", ProviderConfig{Provider: ProviderHuggingFace}, ErrInvalidConfig},
		{"google without key", ProviderConfig{Provider: ProviderGoogle}, ErrInvalidConfig},
		{"tei", ProviderConfig{Provider: ProviderTEI, BaseURL: "http://localhost:8080"}, nil},
		{"tei without url", ProviderConfig{Provider: ProviderTEI}, ErrInvalidConfig},
		{"unknown", ProviderConfig{Provider: "fastembed"}, errs.ErrUnsupportedProvider},
		{"empty", ProviderConfig{}, errs.ErrUnsupportedProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(ctx, tt.cfg, zap.NewNop())
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 0, p.Dimension())
			assert.NoError(t, p.Close())
		})
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := config.Default()
	cfg.Embedding.Provider = " OpenAI "
	cfg.Providers.OpenAIAPIKey = "sk-openai"
	cfg.Providers.HFToken = "hf_token"

	pc := ConfigFrom(cfg)
	assert.Equal(t, ProviderOpenAI, pc.Provider)
	assert.Equal(t, "sk-openai", pc.APIKey)

	cfg.Embedding.Provider = "huggingface"
	assert.Equal(t, "hf_token", ConfigFrom(cfg).APIKey)

	cfg.Embedding.Provider = "tei"
	assert.Empty(t, ConfigFrom(cfg).APIKey)
}

func TestProvider_TEIEndToEnd(t *testing.T) {
	srv := newTEIServer(t, http.StatusOK)
	p, err := NewProvider(context.Background(), ProviderConfig{Provider: ProviderTEI, BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = p.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 3, p.Dimension())
}

// ragged returns vectors whose size depends on the text length.
type ragged struct{}

func (ragged) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, s := range texts {
		out[i] = make([]float32, len(s))
	}
	return out, nil
}

func (ragged) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return make([]float32, len(text)), nil
}

func TestInstrumented_DimensionDetection(t *testing.T) {
	p := newInstrumented(ProviderConfig{Provider: "test"}, vectortest.NewBagOfWords(), nil, NewMetrics(nil))
	assert.Equal(t, 0, p.Dimension())

	_, err := p.EmbedQuery(context.Background(), "cats")
	require.NoError(t, err)
	assert.Equal(t, vectortest.Dimension, p.Dimension())

	mismatched := newInstrumented(ProviderConfig{Provider: "test"}, ragged{}, nil, NewMetrics(nil))
	_, err = mismatched.EmbedQuery(context.Background(), "abcd")
	require.NoError(t, err)
	_, err = mismatched.EmbedDocuments(context.Background(), []string{"abc"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Equal(t, 4, mismatched.Dimension())
}

func TestInstrumented_Errors(t *testing.T) {
	failing := &vectortest.Failing{Inner: vectortest.NewBagOfWords()}
	failing.SetFailDocuments(true)
	p := newInstrumented(ProviderConfig{Provider: "test"}, failing, nil, NewMetrics(nil))

	_, err := p.EmbedDocuments(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.ErrorIs(t, err, vectortest.ErrEmbedding)

	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = p.EmbedQuery(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestInstrumented_RateLimit(t *testing.T) {
	p := newInstrumented(ProviderConfig{Provider: "test", RateLimit: 0.001}, vectortest.NewBagOfWords(), nil, NewMetrics(nil))
	require.NotNil(t, p.limiter)

	// The burst admits the first call; the second has to wait far longer
	// than the deadline allows.
	_, err := p.EmbedQuery(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.EmbedQuery(ctx, "second")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrEmbeddingFailed))
}

func TestMetrics_RecordGeneration(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newMetrics(mp.Meter(instrumentationName), zap.NewNop())

	ctx := context.Background()
	m.RecordGeneration(ctx, "tei", "bge-m3", "embed_documents", 100*time.Millisecond, 10, nil)
	m.RecordGeneration(ctx, "tei", "bge-m3", "embed_query", 50*time.Millisecond, 1, nil)
	m.RecordGeneration(ctx, "tei", "bge-m3", "embed_documents", 25*time.Millisecond, 5, errors.New("generation failed"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			found[metric.Name] = true
			switch data := metric.Data.(type) {
			case metricdata.Histogram[float64]:
				var total uint64
				for _, dp := range data.DataPoints {
					total += dp.Count
				}
				assert.Equal(t, uint64(3), total)
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				assert.Equal(t, int64(1), total)
			}
		}
	}
	assert.True(t, found["vidqa.embedding.duration_seconds"])
	assert.True(t, found["vidqa.embedding.batch_size"])
	assert.True(t, found["vidqa.embedding.errors_total"])
}
