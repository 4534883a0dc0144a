// Package config provides configuration loading for vidqa.
//
// Configuration is layered: built-in defaults, an optional YAML file, an
// optional .env file and finally process environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Supported backend names.
const (
	StoreBackendChromem = "chromem"
	StoreBackendQdrant  = "qdrant"

	SessionBackendMemory = "memory"
	SessionBackendSQLite = "sqlite"
)

// Config holds the complete vidqa configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	LLM           LLMConfig           `koanf:"llm"`
	Embedding     EmbeddingConfig     `koanf:"embedding"`
	Store         StoreConfig         `koanf:"store"`
	Qdrant        QdrantConfig        `koanf:"qdrant"`
	Retrieval     RetrievalConfig     `koanf:"retrieval"`
	Generation    GenerationConfig    `koanf:"generation"`
	Session       SessionConfig       `koanf:"session"`
	Transcript    TranscriptConfig    `koanf:"transcript"`
	Chunking      ChunkingConfig      `koanf:"chunking"`
	Observability ObservabilityConfig `koanf:"observability"`
	Providers     ProviderSecrets     `koanf:"providers"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string `koanf:"cors_origins"`
	// StaticDir, when set, is served at / for the browser frontend.
	StaticDir string `koanf:"static_dir"`
}

// LLMConfig selects the chat model provider.
type LLMConfig struct {
	Provider    string  `koanf:"provider"`
	Model       string  `koanf:"model"`
	Temperature float64 `koanf:"temperature"`
	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	// BaseURL is used by the tei provider.
	BaseURL   string  `koanf:"base_url"`
	RateLimit float64 `koanf:"rate_limit"`
}

// StoreConfig configures the document store.
type StoreConfig struct {
	Backend    string `koanf:"backend"`
	Collection string `koanf:"collection"`
	Persistent bool   `koanf:"persistent"`
	PersistDir string `koanf:"persist_dir"`
	Compress   bool   `koanf:"compress"`
}

// QdrantConfig configures the qdrant backend.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	UseTLS     bool   `koanf:"use_tls"`
	APIKey     Secret `koanf:"api_key"`
	VectorSize uint64 `koanf:"vector_size"`
}

// RetrievalConfig configures the retriever.
type RetrievalConfig struct {
	K         int    `koanf:"k"`
	Separator string `koanf:"separator"`
}

// GenerationConfig configures the answer generator.
type GenerationConfig struct {
	Refusal          string `koanf:"refusal"`
	GroundingCheck   bool   `koanf:"grounding_check"`
	MaxContextTokens int    `koanf:"max_context_tokens"`
}

// SessionConfig configures conversation memory.
type SessionConfig struct {
	Backend    string   `koanf:"backend"`
	MaxThreads int      `koanf:"max_threads"`
	TTL        Duration `koanf:"ttl"`
	SQLitePath string   `koanf:"sqlite_path"`

	// PruneInterval is how often the sqlite backend deletes threads idle
	// for longer than TTL.
	PruneInterval Duration `koanf:"prune_interval"`
}

// TranscriptConfig configures transcript fetching.
type TranscriptConfig struct {
	Languages []string `koanf:"languages"`
}

// ChunkingConfig configures the text splitter.
type ChunkingConfig struct {
	Size    int `koanf:"size"`
	Overlap int `koanf:"overlap"`
}

// ObservabilityConfig holds logging and OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
	OTLPProtocol    string `koanf:"otlp_protocol"`
	OTLPInsecure    bool   `koanf:"otlp_insecure"`
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
}

// ProviderSecrets holds API credentials for the model providers.
type ProviderSecrets struct {
	OpenAIAPIKey    Secret `koanf:"openai_api_key"`
	AnthropicAPIKey Secret `koanf:"anthropic_api_key"`
	GoogleAPIKey    Secret `koanf:"google_api_key"`
	HFToken         Secret `koanf:"hf_token"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: Duration(10 * time.Second),
			CORSOrigins:     []string{"*"},
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Embedding: EmbeddingConfig{
			Provider: "huggingface",
			Model:    "BAAI/bge-m3",
			BaseURL:  "http://localhost:8080",
		},
		Store: StoreConfig{
			Backend:    StoreBackendChromem,
			Collection: "youtube_transcripts",
			PersistDir: "./chroma_db",
		},
		Qdrant: QdrantConfig{
			Host: "localhost",
			Port: 6334,
		},
		Retrieval: RetrievalConfig{
			K:         5,
			Separator: "\n---\n",
		},
		Generation: GenerationConfig{
			Refusal: "I don't know",
		},
		Session: SessionConfig{
			Backend:       SessionBackendMemory,
			MaxThreads:    1024,
			SQLitePath:    "./vidqa_sessions.db",
			PruneInterval: Duration(10 * time.Minute),
		},
		Transcript: TranscriptConfig{
			Languages: []string{"en", "en-US"},
		},
		Chunking: ChunkingConfig{
			Size:    1000,
			Overlap: 100,
		},
		Observability: ObservabilityConfig{
			ServiceName:  "vidqa",
			OTLPEndpoint: "localhost:4317",
			OTLPProtocol: "grpc",
			OTLPInsecure: true,
			LogLevel:     "info",
			LogFormat:    "json",
		},
	}
}

// Validate validates the configuration.
//
// Provider names are not checked here; the provider factories reject
// unknown names with errs.ErrUnsupportedProvider at startup.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Store.Backend {
	case StoreBackendChromem:
		if c.Store.Persistent && c.Store.PersistDir == "" {
			return errors.New("store.persist_dir is required when store.persistent is set")
		}
	case StoreBackendQdrant:
		if c.Qdrant.Host == "" {
			return errors.New("qdrant.host is required for the qdrant backend")
		}
		if c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
			return fmt.Errorf("invalid qdrant port: %d", c.Qdrant.Port)
		}
	default:
		return fmt.Errorf("unknown store backend %q (want %s or %s)", c.Store.Backend, StoreBackendChromem, StoreBackendQdrant)
	}
	if strings.TrimSpace(c.Store.Collection) == "" {
		return errors.New("store.collection cannot be empty")
	}

	if c.Retrieval.K <= 0 {
		return fmt.Errorf("retrieval.k must be positive, got %d", c.Retrieval.K)
	}

	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap must be in [0, %d), got %d", c.Chunking.Size, c.Chunking.Overlap)
	}

	if strings.TrimSpace(c.Generation.Refusal) == "" {
		return errors.New("generation.refusal cannot be empty")
	}
	if c.Generation.MaxContextTokens < 0 {
		return errors.New("generation.max_context_tokens cannot be negative")
	}

	switch c.Session.Backend {
	case SessionBackendMemory:
		if c.Session.MaxThreads <= 0 {
			return fmt.Errorf("session.max_threads must be positive, got %d", c.Session.MaxThreads)
		}
	case SessionBackendSQLite:
		if c.Session.SQLitePath == "" {
			return errors.New("session.sqlite_path is required for the sqlite backend")
		}
		if c.Session.TTL.Duration() > 0 && c.Session.PruneInterval.Duration() <= 0 {
			return errors.New("session.prune_interval must be positive when session.ttl is set")
		}
	default:
		return fmt.Errorf("unknown session backend %q (want %s or %s)", c.Session.Backend, SessionBackendMemory, SessionBackendSQLite)
	}

	if len(c.Transcript.Languages) == 0 {
		return errors.New("transcript.languages cannot be empty")
	}

	if c.LLM.RateLimit < 0 || c.Embedding.RateLimit < 0 {
		return errors.New("rate limits cannot be negative")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}
