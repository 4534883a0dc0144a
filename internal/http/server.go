// Package http serves the vidqa REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidqa/internal/conversation"
	"github.com/fyrsmithlabs/vidqa/internal/errs"
	"github.com/fyrsmithlabs/vidqa/internal/ingest"
	"github.com/fyrsmithlabs/vidqa/internal/logging"
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

// Services are the operations exposed over HTTP.
type Services struct {
	Ingest     Ingester
	Chat       Chat
	Store      KnowledgeBase
	Collection string
	// Scrubber redacts credentials from error messages. Optional.
	Scrubber *secrets.Scrubber
}

// Config holds HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigins []string
	// StaticDir, when set, is served at / for a browser frontend.
	StaticDir string
	Version   string
}

// Server provides the vidqa HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	svc      Services
	scrubber *secrets.Scrubber
	logger   *zap.Logger
	config   *Config
	metrics  *HTTPMetrics
}

// NewServer creates a new HTTP server.
func NewServer(svc Services, logger *zap.Logger, cfg *Config) (*Server, error) {
	if svc.Ingest == nil || svc.Chat == nil || svc.Store == nil {
		return nil, fmt.Errorf("ingest, chat and store services are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "0.0.0.0", Port: 8000}
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		svc:      svc,
		scrubber: svc.Scrubber,
		logger:   logger,
		config:   cfg,
		metrics:  NewHTTPMetrics(logger),
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, echo.HeaderXRequestID},
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Render now so the logged status is the one sent.
				c.Error(err)
			}
			duration := time.Since(start)

			logger.Info("http request",
				append(logging.ContextFields(c.Request().Context()),
					zap.String("method", c.Request().Method),
					zap.String("uri", c.Request().RequestURI),
					zap.Int("status", c.Response().Status),
					zap.Duration("duration", duration),
				)...,
			)
			return nil
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/init", s.handleInit)
	v1.POST("/videos", s.handleAddVideo)
	v1.POST("/message", s.handleMessage)
	v1.GET("/threads/:thread_id/messages", s.handleHistory)

	if s.config.StaticDir != "" {
		s.echo.Static("/", s.config.StaticDir)
	}
}

// handleHealth reports liveness.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStatus reports backend health and the knowledge base size.
func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	resp := StatusResponse{
		Status:   "ok",
		Version:  s.config.Version,
		Services: map[string]string{"store": "ok"},
		KnowledgeBase: KnowledgeBaseStatus{
			Collection: s.svc.Collection,
		},
	}
	if err := s.svc.Store.Health(ctx); err != nil {
		resp.Status = "degraded"
		resp.Services["store"] = s.scrubber.String(err.Error())
	}

	n, err := s.svc.Store.Count(ctx, s.svc.Collection)
	switch {
	case err == nil:
		resp.KnowledgeBase.Initialized = true
		resp.KnowledgeBase.Chunks = n
	case errors.Is(err, errs.ErrStoreNotFound):
	default:
		s.logger.Warn("failed to count knowledge base", zap.Error(err))
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}

// handleInit replaces the knowledge base with a new video.
func (s *Server) handleInit(c echo.Context) error {
	var req InitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.URL) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url field is required")
	}

	res, err := s.svc.Ingest.Initialize(c.Request().Context(), req.URL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

// handleAddVideo appends another video to the knowledge base.
func (s *Server) handleAddVideo(c echo.Context) error {
	var req InitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.URL) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url field is required")
	}

	res, err := s.svc.Ingest.AddVideo(c.Request().Context(), req.URL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

// handleMessage runs one conversational turn.
func (s *Server) handleMessage(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := s.svc.Chat.SendTurn(c.Request().Context(), req.Message, req.ThreadID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// handleHistory returns the committed messages of a thread.
func (s *Server) handleHistory(c echo.Context) error {
	threadID, err := url.PathUnescape(c.Param("thread_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid thread id")
	}
	msgs, err := s.svc.Chat.History(c.Request().Context(), threadID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, HistoryResponse{ThreadID: threadID, Messages: msgs})
}

// Echo exposes the underlying router for additional routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	addr := s.Addr()
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
