package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"
)

// RateLimited waits on a token bucket before each model call.
type RateLimited struct {
	inner   llms.Model
	limiter *rate.Limiter
}

var _ llms.Model = (*RateLimited)(nil)

// NewRateLimited wraps model with a limiter allowing perSecond requests.
// A burst below 1 is raised to 1.
func NewRateLimited(model llms.Model, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		inner:   model,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// GenerateContent waits for a token, then delegates.
func (r *RateLimited) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}
	return r.inner.GenerateContent(ctx, messages, options...)
}

// Call implements llms.Model on top of GenerateContent.
func (r *RateLimited) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, r, prompt, options...)
}

// Close closes the wrapped model when it holds resources.
func (r *RateLimited) Close() error {
	return Close(r.inner)
}
