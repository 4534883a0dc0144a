package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidqa/internal/conversation"
	"github.com/fyrsmithlabs/vidqa/internal/ingest"
	"github.com/fyrsmithlabs/vidqa/internal/pipeline"
	"github.com/fyrsmithlabs/vidqa/internal/secrets"
)

// Ingester builds the knowledge base.
type Ingester interface {
	Initialize(ctx context.Context, videoURL string) (ingest.InitResult, error)
	AddVideo(ctx context.Context, videoURL string) (ingest.InitResult, error)
}

// Chat answers messages within a thread.
type Chat interface {
	SendTurn(ctx context.Context, message, threadID string) (pipeline.TurnResult, error)
	History(ctx context.Context, threadID string) ([]conversation.Message, error)
}

// KnowledgeBase reports on the vector store.
type KnowledgeBase interface {
	Health(ctx context.Context) error
	Count(ctx context.Context, collection string) (int, error)
}

// Services are the operations exposed as tools.
type Services struct {
	Ingest     Ingester
	Chat       Chat
	Store      KnowledgeBase
	Collection string
	// Scrubber redacts credentials from tool errors. Optional.
	Scrubber *secrets.Scrubber
}

// Server serves the vidqa tools over MCP.
type Server struct {
	mcp      *mcp.Server
	svc      Services
	scrubber *secrets.Scrubber
	registry *ToolRegistry
	metrics  *Metrics
	logger   *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "vidqa")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "vidqa",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a new MCP server with the given services.
func NewServer(cfg *Config, svc Services) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if svc.Ingest == nil {
		return nil, fmt.Errorf("ingest service is required")
	}
	if svc.Chat == nil {
		return nil, fmt.Errorf("chat service is required")
	}
	if svc.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		svc:      svc,
		scrubber: svc.Scrubber,
		registry: NewToolRegistry(),
		metrics:  NewMetrics(cfg.Logger),
		logger:   cfg.Logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return s, nil
}

// Registry returns the metadata of the registered tools.
func (s *Server) Registry() *ToolRegistry {
	return s.registry
}

// Run serves on the stdio transport until ctx is canceled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport",
		zap.Int("tools", s.registry.Count()),
	)
	return s.Serve(ctx, &mcp.StdioTransport{})
}

// Serve serves a single session on t.
func (s *Server) Serve(ctx context.Context, t mcp.Transport) error {
	if err := s.mcp.Run(ctx, t); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
