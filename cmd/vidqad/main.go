// Vidqad answers questions about YouTube videos from their transcripts.
//
// The daemon serves the REST API by default and the MCP tools over stdio
// with -mcp. Configuration is loaded from defaults, an optional YAML file,
// a .env file and the environment. See internal/config for details.
//
// Usage:
//
//	# Start the HTTP server on 0.0.0.0:8000
//	vidqad
//
//	# Serve MCP over stdio
//	vidqad -mcp
//
//	# Configure via environment
//	SERVER_HTTP_PORT=9000 OPENAI_API_KEY=sk-... vidqad
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidqa/internal/config"
	"github.com/fyrsmithlabs/vidqa/internal/logging"
	"github.com/fyrsmithlabs/vidqa/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

type options struct {
	configPath string
	mcp        bool
}

func main() {
	var (
		opts        options
		showVersion bool
	)
	flag.StringVar(&opts.configPath, "config", "", "path to config file (default ~/.config/vidqa/config.yaml)")
	flag.BoolVar(&opts.mcp, "mcp", false, "serve MCP over stdio instead of HTTP")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		printVersion()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "vidqad: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("vidqad by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run loads configuration, wires the services and serves until ctx is
// canceled:
//  1. Loads and validates configuration
//  2. Initializes telemetry, then the logger bridged to its log provider
//  3. Builds providers, the document store and session memory
//  4. Serves HTTP or MCP
//  5. Shuts down within the configured timeout
func run(ctx context.Context, opts options) error {
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "vidqad: telemetry shutdown failed: %v\n", err)
		}
	}()

	logger, err := newLogger(cfg, opts.mcp, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	if health := tel.Health(); health.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Strings("problems", health.Problems))
	}

	logger.Info(ctx, "starting vidqad",
		zap.String("version", version),
		zap.Bool("mcp", opts.mcp),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("session_backend", cfg.Session.Backend),
	)

	a, err := newApp(ctx, cfg, logger.Underlying())
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.mcp {
		return a.serveMCP(ctx)
	}
	return a.serveHTTP(ctx)
}

// newLogger builds the process logger, teed into otelProvider when
// telemetry exports logs. In MCP mode stdout carries the protocol, so logs
// go to stderr.
func newLogger(cfg *config.Config, mcpMode bool, otelProvider otellog.LoggerProvider) (*logging.Logger, error) {
	logCfg, err := logging.FromObservability(cfg.Observability)
	if err != nil {
		return nil, err
	}
	if mcpMode {
		logCfg.Output.Stderr = true
	}
	return logging.NewLogger(logCfg, otelProvider)
}

// waitShutdown stops srv once ctx is done and reports the serve error, if
// any.
func waitShutdown(ctx context.Context, serveErr <-chan error, timeout time.Duration, shutdown func(context.Context) error) error {
	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-serveErr
}
