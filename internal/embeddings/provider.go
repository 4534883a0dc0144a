package embeddings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	hfembed "github.com/tmc/langchaingo/embeddings/huggingface"
	"github.com/tmc/langchaingo/llms/googleai"
	hfllm "github.com/tmc/langchaingo/llms/huggingface"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/vidqa/internal/config"
	"github.com/fyrsmithlabs/vidqa/internal/errs"
	"github.com/fyrsmithlabs/vidqa/internal/vectorstore"
)

// Provider names accepted by NewProvider.
const (
	ProviderOpenAI      = "openai"
	ProviderGoogle      = "google"
	ProviderHuggingFace = "huggingface"
	ProviderTEI         = "tei"
)

// Provider is the interface for embedding providers.
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the vector size, or 0 until the first successful
	// embedding has been observed.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is one of openai, google, huggingface or tei.
	Provider string
	// Model is the embedding model name. Ignored by tei.
	Model string
	// BaseURL is the TEI server root.
	BaseURL string
	// APIKey authenticates against hosted providers.
	APIKey string
	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64
	// Timeout bounds each TEI request.
	Timeout time.Duration
}

// ConfigFrom builds a ProviderConfig from the service configuration,
// picking the credential that matches the selected provider.
func ConfigFrom(cfg *config.Config) ProviderConfig {
	pc := ProviderConfig{
		Provider:  strings.ToLower(strings.TrimSpace(cfg.Embedding.Provider)),
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		RateLimit: cfg.Embedding.RateLimit,
	}
	switch pc.Provider {
	case ProviderOpenAI:
		pc.APIKey = cfg.Providers.OpenAIAPIKey.Value()
	case ProviderGoogle:
		pc.APIKey = cfg.Providers.GoogleAPIKey.Value()
	case ProviderHuggingFace:
		pc.APIKey = cfg.Providers.HFToken.Value()
	}
	return pc
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		inner  vectorstore.Embedder
		closer io.Closer
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: openai embeddings require OPENAI_API_KEY", ErrInvalidConfig)
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithEmbeddingModel(cfg.Model))
		}
		client, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating openai client: %w", err)
		}
		e, err := embeddings.NewEmbedder(client)
		if err != nil {
			return nil, fmt.Errorf("creating openai embedder: %w", err)
		}
		inner = e

	case ProviderGoogle:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: google embeddings require GOOGLE_API_KEY", ErrInvalidConfig)
		}
		opts := []googleai.Option{googleai.WithAPIKey(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, googleai.WithDefaultEmbeddingModel(cfg.Model))
		}
		client, err := googleai.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating googleai client: %w", err)
		}
		e, err := embeddings.NewEmbedder(client)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("creating google embedder: %w", err)
		}
		inner, closer = e, client

	case ProviderHuggingFace:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: huggingface embeddings require HF_TOKEN", ErrInvalidConfig)
		}
		client, err := hfllm.New(hfllm.WithToken(cfg.APIKey))
		if err != nil {
			return nil, fmt.Errorf("creating huggingface client: %w", err)
		}
		embedOpts := []hfembed.Option{hfembed.WithClient(*client)}
		if cfg.Model != "" {
			embedOpts = append(embedOpts, hfembed.WithModel(cfg.Model))
		}
		e, err := hfembed.NewHuggingface(embedOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating huggingface embedder: %w", err)
		}
		inner = e

	case ProviderTEI:
		client, err := NewTEIClient(TEIConfig{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout})
		if err != nil {
			return nil, fmt.Errorf("creating tei client: %w", err)
		}
		inner = client

	default:
		return nil, fmt.Errorf("embedding provider %q: %w", cfg.Provider, errs.ErrUnsupportedProvider)
	}

	logger.Info("embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Float64("rate_limit", cfg.RateLimit),
	)
	return newInstrumented(cfg, inner, closer, NewMetrics(logger)), nil
}

// instrumented decorates a provider client with metrics, rate limiting and
// dimension tracking.
type instrumented struct {
	inner    vectorstore.Embedder
	closer   io.Closer
	provider string
	model    string
	metrics  *Metrics
	limiter  *rate.Limiter
	dim      atomic.Int64
}

func newInstrumented(cfg ProviderConfig, inner vectorstore.Embedder, closer io.Closer, metrics *Metrics) *instrumented {
	p := &instrumented{
		inner:    inner,
		closer:   closer,
		provider: cfg.Provider,
		model:    cfg.Model,
		metrics:  metrics,
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return p
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *instrumented) EmbedDocuments(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordGeneration(ctx, p.provider, p.model, "embed_documents", time.Since(start), len(texts), err)
	}()

	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	vectors, err = p.inner.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, wrapFailure(err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	for _, v := range vectors {
		if err := p.observeDimension(len(v)); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *instrumented) EmbedQuery(ctx context.Context, text string) (vector []float32, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordGeneration(ctx, p.provider, p.model, "embed_query", time.Since(start), 1, err)
	}()

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	vector, err = p.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, wrapFailure(err)
	}
	if err := p.observeDimension(len(vector)); err != nil {
		return nil, err
	}
	return vector, nil
}

// Dimension returns the observed vector size.
func (p *instrumented) Dimension() int {
	return int(p.dim.Load())
}

// Close releases the underlying client, if it holds resources.
func (p *instrumented) Close() error {
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}

func (p *instrumented) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for embedding rate limit: %w", err)
	}
	return nil
}

// observeDimension records the first vector size seen and rejects vectors
// of any other size afterwards.
func (p *instrumented) observeDimension(n int) error {
	if n == 0 {
		return fmt.Errorf("%w: empty vector", ErrEmbeddingFailed)
	}
	if p.dim.CompareAndSwap(0, int64(n)) {
		return nil
	}
	if want := p.dim.Load(); int64(n) != want {
		return fmt.Errorf("%w: vector size %d, expected %d", ErrEmbeddingFailed, n, want)
	}
	return nil
}

func wrapFailure(err error) error {
	if errors.Is(err, ErrEmbeddingFailed) || errors.Is(err, ErrEmptyInput) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
}
