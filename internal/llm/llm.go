// Package llm builds the chat model used for answer generation.
//
// Provider selection is a closed switch evaluated once at startup. The
// returned model is a langchaingo llms.Model, optionally wrapped in a
// client-side rate limiter.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidqa/internal/config"
	"github.com/fyrsmithlabs/vidqa/internal/errs"
)

// Provider names accepted by NewModel.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// ErrMissingAPIKey is returned when the selected provider has no credential.
var ErrMissingAPIKey = errors.New("missing API key")

// Config selects and configures the chat model.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64
	RateBurst int
}

// ConfigFrom builds a Config from the service configuration.
func ConfigFrom(cfg *config.Config) Config {
	c := Config{
		Provider:  strings.ToLower(strings.TrimSpace(cfg.LLM.Provider)),
		Model:     cfg.LLM.Model,
		RateLimit: cfg.LLM.RateLimit,
		RateBurst: cfg.LLM.RateBurst,
	}
	switch c.Provider {
	case ProviderOpenAI:
		c.APIKey = cfg.Providers.OpenAIAPIKey.Value()
	case ProviderAnthropic:
		c.APIKey = cfg.Providers.AnthropicAPIKey.Value()
	case ProviderGoogle:
		c.APIKey = cfg.Providers.GoogleAPIKey.Value()
	}
	return c
}

// NewModel creates the chat model for cfg.Provider.
func NewModel(ctx context.Context, cfg Config, logger *zap.Logger) (llms.Model, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai: %w (set OPENAI_API_KEY)", ErrMissingAPIKey)
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		model, err = openai.New(opts...)

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic: %w (set ANTHROPIC_API_KEY)", ErrMissingAPIKey)
		}
		opts := []anthropic.Option{anthropic.WithToken(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, anthropic.WithModel(cfg.Model))
		}
		model, err = anthropic.New(opts...)

	case ProviderGoogle:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("google: %w (set GOOGLE_API_KEY)", ErrMissingAPIKey)
		}
		opts := []googleai.Option{googleai.WithAPIKey(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, googleai.WithDefaultModel(cfg.Model))
		}
		model, err = googleai.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("llm provider %q: %w", cfg.Provider, errs.ErrUnsupportedProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s model: %w", cfg.Provider, err)
	}

	logger.Info("chat model ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Float64("rate_limit", cfg.RateLimit),
	)

	if cfg.RateLimit > 0 {
		return NewRateLimited(model, cfg.RateLimit, cfg.RateBurst), nil
	}
	return model, nil
}

// Close releases model resources when the model holds any.
func Close(model llms.Model) error {
	if c, ok := model.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
