package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/vidqa/internal/checkpoint"
	"github.com/fyrsmithlabs/vidqa/internal/config"
	"github.com/fyrsmithlabs/vidqa/internal/conversation"
	"github.com/fyrsmithlabs/vidqa/internal/errs"
	"github.com/fyrsmithlabs/vidqa/internal/logging"
	"github.com/fyrsmithlabs/vidqa/internal/telemetry"
)

// testConfig selects providers that need no network at construction.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.LLM.Provider = "openai"
	cfg.Providers.OpenAIAPIKey = "sk-test-key-not-real"
	cfg.Embedding.Provider = "tei"
	cfg.Embedding.BaseURL = "http://127.0.0.1:1"
	cfg.Store.Backend = config.StoreBackendChromem
	cfg.Store.Persistent = false
	return cfg
}

func TestNewApp(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx, testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	srv, err := a.httpServer()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"initialized":false`)

	m, err := a.mcpServer()
	require.NoError(t, err)
	assert.Equal(t, 6, m.Registry().Count())

	// The scrubber knows the configured credentials.
	assert.NotContains(t, a.scrubber.String("key sk-test-key-not-real rejected"), "sk-test-key-not-real")
}

func TestNewApp_SQLiteSessions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.Backend = config.SessionBackendSQLite
	cfg.Session.SQLitePath = filepath.Join(t.TempDir(), "sessions.db")

	a, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, a.stopPrune, "no ttl, no pruning")
	require.NoError(t, a.Close())
	assert.FileExists(t, cfg.Session.SQLitePath)
}

func TestNewApp_SQLitePruning(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Session.Backend = config.SessionBackendSQLite
	cfg.Session.SQLitePath = filepath.Join(t.TempDir(), "sessions.db")
	cfg.Session.TTL = config.Duration(time.Millisecond)
	cfg.Session.PruneInterval = config.Duration(time.Hour)

	seed, err := checkpoint.NewSQLiteStore(ctx, checkpoint.SQLiteConfig{Path: cfg.Session.SQLitePath}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, seed.Commit(ctx, "abandoned", []conversation.Message{conversation.User("q"), conversation.Assistant("a")}))
	require.NoError(t, seed.Close())
	time.Sleep(10 * time.Millisecond)

	logger := logging.NewTestLogger()
	a, err := newApp(ctx, cfg, logger.Underlying())
	require.NoError(t, err)
	logger.AssertLogged(t, zapcore.InfoLevel, "session pruning scheduled")

	// The startup prune removes the thread without anyone loading it.
	require.Eventually(t, func() bool {
		return logger.FilterMessage("expired sessions pruned").Len() > 0
	}, time.Second, 5*time.Millisecond)
	logger.AssertField(t, "expired sessions pruned", "messages", int64(2))

	done := a.pruneDone
	require.NoError(t, a.Close())
	select {
	case <-done:
	default:
		t.Fatal("pruner still running after Close")
	}
}

func TestNewApp_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr error
	}{
		{"unknown llm provider", func(c *config.Config) { c.LLM.Provider = "cohere" }, errs.ErrUnsupportedProvider},
		{"unknown embedding provider", func(c *config.Config) { c.Embedding.Provider = "fastembed" }, errs.ErrUnsupportedProvider},
		{"unknown session backend", func(c *config.Config) { c.Session.Backend = "redis" }, errs.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := newApp(context.Background(), cfg, zap.NewNop())
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	for _, mcpMode := range []bool{false, true} {
		logger, err := newLogger(cfg, mcpMode, nil)
		require.NoError(t, err)
		assert.NotNil(t, logger.Underlying())
	}

	cfg.Observability.EnableTelemetry = true
	tel := telemetry.NewTestTelemetry()
	logger, err := newLogger(cfg, true, tel.LoggerProvider())
	require.NoError(t, err)
	logger.Info(context.Background(), "starting vidqad")
	assert.Equal(t, []string{"starting vidqad"}, tel.LogRecorder.Bodies())

	cfg.Observability.LogLevel = "loud"
	_, err = newLogger(cfg, false, nil)
	assert.Error(t, err)
}

func TestWaitShutdown(t *testing.T) {
	t.Run("serve error returns immediately", func(t *testing.T) {
		serveErr := make(chan error, 1)
		serveErr <- errors.New("address in use")
		err := waitShutdown(context.Background(), serveErr, time.Second, func(context.Context) error {
			t.Fatal("shutdown must not run")
			return nil
		})
		assert.EqualError(t, err, "address in use")
	})

	t.Run("cancel triggers shutdown", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		serveErr := make(chan error, 1)
		var shutdownCalled bool
		cancel()
		err := waitShutdown(ctx, serveErr, time.Second, func(context.Context) error {
			shutdownCalled = true
			serveErr <- nil
			return nil
		})
		assert.NoError(t, err)
		assert.True(t, shutdownCalled)
	})
}
