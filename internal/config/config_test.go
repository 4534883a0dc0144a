package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "huggingface", cfg.Embedding.Provider)
	assert.Equal(t, "BAAI/bge-m3", cfg.Embedding.Model)
	assert.Equal(t, "youtube_transcripts", cfg.Store.Collection)
	assert.False(t, cfg.Store.Persistent)
	assert.Equal(t, "./chroma_db", cfg.Store.PersistDir)
	assert.Equal(t, 5, cfg.Retrieval.K)
	assert.Equal(t, "\n---\n", cfg.Retrieval.Separator)
	assert.Equal(t, "I don't know", cfg.Generation.Refusal)
	assert.Equal(t, []string{"en", "en-US"}, cfg.Transcript.Languages)
	assert.Equal(t, 1000, cfg.Chunking.Size)
	assert.Equal(t, 100, cfg.Chunking.Overlap)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"zero shutdown", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "shutdown timeout"},
		{"unknown store", func(c *Config) { c.Store.Backend = "pinecone" }, "unknown store backend"},
		{"persistent without dir", func(c *Config) { c.Store.Persistent = true; c.Store.PersistDir = "" }, "persist_dir"},
		{"qdrant without host", func(c *Config) { c.Store.Backend = StoreBackendQdrant; c.Qdrant.Host = "" }, "qdrant.host"},
		{"empty collection", func(c *Config) { c.Store.Collection = " " }, "store.collection"},
		{"zero k", func(c *Config) { c.Retrieval.K = 0 }, "retrieval.k"},
		{"overlap too big", func(c *Config) { c.Chunking.Overlap = 1000 }, "chunking.overlap"},
		{"empty refusal", func(c *Config) { c.Generation.Refusal = "" }, "refusal"},
		{"unknown session", func(c *Config) { c.Session.Backend = "redis" }, "unknown session backend"},
		{"zero threads", func(c *Config) { c.Session.MaxThreads = 0 }, "max_threads"},
		{"sqlite without path", func(c *Config) { c.Session.Backend = SessionBackendSQLite; c.Session.SQLitePath = "" }, "sqlite_path"},
		{"sqlite ttl without prune interval", func(c *Config) {
			c.Session.Backend = SessionBackendSQLite
			c.Session.TTL = Duration(time.Hour)
			c.Session.PruneInterval = 0
		}, "prune_interval"},
		{"no languages", func(c *Config) { c.Transcript.Languages = nil }, "languages"},
		{"negative rate", func(c *Config) { c.LLM.RateLimit = -1 }, "rate limits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_NeverPrinted(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())

	b, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(b))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
