// Package embeddings provides embedding generation via multiple providers.
//
// Supported providers are openai, google and huggingface (through
// langchaingo) and tei, a text-embeddings-inference server reached over
// HTTP. NewProvider selects one at startup; unknown names fail with
// errs.ErrUnsupportedProvider. Every provider is wrapped with latency and
// error metrics, optional rate limiting and lazy dimension detection.
package embeddings
