package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidqa/internal/checkpoint"
	"github.com/fyrsmithlabs/vidqa/internal/chunking"
	"github.com/fyrsmithlabs/vidqa/internal/config"
	"github.com/fyrsmithlabs/vidqa/internal/embeddings"
	"github.com/fyrsmithlabs/vidqa/internal/generation"
	httpserver "github.com/fyrsmithlabs/vidqa/internal/http"
	"github.com/fyrsmithlabs/vidqa/internal/ingest"
	"github.com/fyrsmithlabs/vidqa/internal/llm"
	"github.com/fyrsmithlabs/vidqa/internal/mcp"
	"github.com/fyrsmithlabs/vidqa/internal/pipeline"
	"github.com/fyrsmithlabs/vidqa/internal/retrieval"
	"github.com/fyrsmithlabs/vidqa/internal/secrets"
	"github.com/fyrsmithlabs/vidqa/internal/transcript"
	"github.com/fyrsmithlabs/vidqa/internal/vectorstore"
)

// app holds the wired services and the resources they own.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	embedder embeddings.Provider
	model    llms.Model
	store    *vectorstore.Store
	sessions *checkpoint.Sessions
	ingest   *ingest.Service
	chat     *pipeline.Service
	scrubber *secrets.Scrubber

	stopPrune context.CancelFunc
	pruneDone chan struct{}
}

// newApp builds every service from cfg. Resources acquired before a
// failure are released.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.scrubber, err = secrets.New(nil, secrets.WithKnown(
		cfg.Providers.OpenAIAPIKey.Value(),
		cfg.Providers.AnthropicAPIKey.Value(),
		cfg.Providers.GoogleAPIKey.Value(),
		cfg.Providers.HFToken.Value(),
		cfg.Qdrant.APIKey.Value(),
	))
	if err != nil {
		return nil, fmt.Errorf("creating scrubber: %w", err)
	}

	a.embedder, err = embeddings.NewProvider(ctx, embeddings.ConfigFrom(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	a.model, err = llm.NewModel(ctx, llm.ConfigFrom(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	backend, err := vectorstore.NewBackend(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create store backend: %w", err)
	}
	a.store, err = vectorstore.NewStore(ctx, backend, a.embedder, logger)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	sessionStore, err := checkpoint.New(cfg.Session, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	a.sessions = checkpoint.NewSessions(sessionStore, logger)
	if p, ok := sessionStore.(checkpoint.Pruner); ok && cfg.Session.TTL.Duration() > 0 {
		a.startPruner(p, cfg.Session.PruneInterval.Duration())
	}

	splitter, err := chunking.NewSplitter(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}
	fetcher := transcript.NewYouTubeFetcher(&youtube.Client{}, cfg.Transcript.Languages, logger)
	a.ingest, err = ingest.NewService(fetcher, splitter, a.store, cfg.Store.Collection, logger)
	if err != nil {
		return nil, err
	}

	retriever, err := retrieval.New(a.store, retrieval.Config{
		Collection: cfg.Store.Collection,
		K:          cfg.Retrieval.K,
		Separator:  cfg.Retrieval.Separator,
	}, logger)
	if err != nil {
		return nil, err
	}
	generator, err := generation.New(a.model, generation.Config{
		Refusal:          cfg.Generation.Refusal,
		GroundingCheck:   cfg.Generation.GroundingCheck,
		MaxContextTokens: cfg.Generation.MaxContextTokens,
		Temperature:      cfg.LLM.Temperature,
	}, logger)
	if err != nil {
		return nil, err
	}
	graph, err := pipeline.NewGraph(retriever, generator, logger)
	if err != nil {
		return nil, err
	}
	a.chat, err = pipeline.NewService(graph, a.sessions, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("services initialized",
		zap.String("collection", a.ingest.Collection()),
		zap.Int("k", retriever.K()),
		zap.String("refusal", generator.Refusal()),
	)
	return a, nil
}

func (a *app) httpServer() (*httpserver.Server, error) {
	return httpserver.NewServer(httpserver.Services{
		Ingest:     a.ingest,
		Chat:       a.chat,
		Store:      a.store,
		Collection: a.ingest.Collection(),
		Scrubber:   a.scrubber,
	}, a.logger, &httpserver.Config{
		Host:        a.cfg.Server.Host,
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		StaticDir:   a.cfg.Server.StaticDir,
		Version:     version,
	})
}

func (a *app) mcpServer() (*mcp.Server, error) {
	return mcp.NewServer(&mcp.Config{
		Name:    "vidqa",
		Version: version,
		Logger:  a.logger,
	}, mcp.Services{
		Ingest:     a.ingest,
		Chat:       a.chat,
		Store:      a.store,
		Collection: a.ingest.Collection(),
		Scrubber:   a.scrubber,
	})
}

// serveHTTP serves the REST API until ctx is canceled.
func (a *app) serveHTTP(ctx context.Context) error {
	srv, err := a.httpServer()
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	return waitShutdown(ctx, serveErr, a.cfg.Server.ShutdownTimeout.Duration(), srv.Shutdown)
}

// serveMCP serves the MCP tools on stdio until ctx is canceled or the
// client disconnects.
func (a *app) serveMCP(ctx context.Context) error {
	srv, err := a.mcpServer()
	if err != nil {
		return fmt.Errorf("failed to create mcp server: %w", err)
	}
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startPruner deletes expired sessions in the background until Close.
func (a *app) startPruner(p checkpoint.Pruner, interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopPrune = cancel
	a.pruneDone = make(chan struct{})
	go func() {
		defer close(a.pruneDone)
		checkpoint.RunPruner(ctx, p, interval, a.logger)
	}()
	a.logger.Info("session pruning scheduled", zap.Duration("interval", interval))
}

// Close stops background work and releases the session store, document
// store and model clients.
func (a *app) Close() error {
	if a.stopPrune != nil {
		a.stopPrune()
		<-a.pruneDone
		a.stopPrune = nil
	}

	var errs []error
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session store close: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("document store close: %w", err))
		}
	}
	if a.model != nil {
		if err := llm.Close(a.model); err != nil {
			errs = append(errs, fmt.Errorf("chat model close: %w", err))
		}
	}
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("embedding provider close: %w", err))
		}
	}
	return errors.Join(errs...)
}
