// Command mcp-base64 serves base64 encoding and decoding tools over the Model
// Context Protocol, speaking JSON-RPC 2.0 over stdio, plain HTTP, or SSE.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hexvalve/mcp-base64/internal/b64"
	"github.com/hexvalve/mcp-base64/internal/config"
	"github.com/hexvalve/mcp-base64/internal/mcp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// A .env file is optional, absence is not an error.
	_ = godotenv.Load()

	var configPath string
	var transportType string
	var httpAddr string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "mcp-base64",
		Short: "MCP server providing base64 encoding and decoding tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			if transportType != "" {
				cfg.Transport.Type = transportType
			}
			if httpAddr != "" {
				cfg.Transport.HTTPAddr = httpAddr
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
		SilenceUsage: true,
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.Flags().StringVarP(&transportType, "transport", "t", "", "transport to serve on (stdio, http, sse)")
	rootCmd.Flags().StringVar(&httpAddr, "http-addr", "", "listen address for the http and sse transports")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfigPath picks the config file: the flag wins, then the
// MCP_BASE64_CONFIG variable, then ./config.yaml if present, else defaults only.
func resolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if env := os.Getenv("MCP_BASE64_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

func run(ctx context.Context, cfg *config.Config) error {
	// Logs go to stderr: on the stdio transport, stdout carries the protocol.
	logger := newLogger(cfg.Logging)

	registry := mcp.NewRegistry(logger)
	svc := b64.NewService(cfg.Tools.MaxTextBytes)
	if err := b64.Register(registry, svc); err != nil {
		return err
	}

	opts := []mcp.ServerOption{
		mcp.WithServerLogger(logger),
		mcp.WithCallTimeout(cfg.Limits.CallTimeout),
		mcp.WithMaxInflight(cfg.Limits.MaxInflight),
	}
	if cfg.Middleware.Logging {
		opts = append(opts, mcp.WithMiddleware(mcp.NewLoggingMiddleware(logger)))
	}
	if cfg.Middleware.RateLimit.Enabled {
		opts = append(opts, mcp.WithMiddleware(
			mcp.NewRateLimitMiddleware(cfg.Middleware.RateLimit.RPS, cfg.Middleware.RateLimit.Burst)))
	}
	if cfg.Middleware.Cache.Enabled {
		cacheMw, err := mcp.NewCacheMiddleware(cfg.Middleware.Cache.Size)
		if err != nil {
			return err
		}
		opts = append(opts, mcp.WithMiddleware(cacheMw))
	}

	server := mcp.NewServer(mcp.Info{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
	}, registry, opts...)

	logger.Info("starting server",
		slog.String("name", cfg.Server.Name),
		slog.String("version", cfg.Server.Version),
		slog.String("transport", cfg.Transport.Type))

	switch cfg.Transport.Type {
	case "stdio":
		return runStdIO(ctx, logger, server)
	case "http":
		return runHTTP(ctx, logger, server, cfg.Transport.HTTPAddr)
	case "sse":
		return runSSE(ctx, logger, server, cfg.Transport.HTTPAddr)
	}
	return fmt.Errorf("unknown transport %q", cfg.Transport.Type)
}

func runStdIO(ctx context.Context, logger *slog.Logger, server *mcp.Server) error {
	transport := mcp.NewStdIO(os.Stdin, os.Stdout, logger)

	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		server.Serve(transport)
	}()

	select {
	case <-ctx.Done():
	case <-serveDone:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx, transport)
}

func runHTTP(ctx context.Context, logger *slog.Logger, server *mcp.Server, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http transport listening", slog.String("addr", addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func runSSE(ctx context.Context, logger *slog.Logger, server *mcp.Server, addr string) error {
	messageURL := fmt.Sprintf("http://%s/message", addr)
	transport := mcp.NewSSEServer(messageURL, logger)

	mux := http.NewServeMux()
	mux.Handle("/sse", transport.HandleSSE())
	mux.Handle("/message", transport.HandleMessage())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go server.Serve(transport)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sse transport listening", slog.String("addr", addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx, transport); err != nil {
		logger.Error("failed to shut down engine", slog.String("err", err.Error()))
	}
	return httpServer.Shutdown(shutdownCtx)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
}
