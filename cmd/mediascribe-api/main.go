package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mediascribe/internal/config"
	"mediascribe/internal/httpapi"
	"mediascribe/internal/jobs"
	"mediascribe/internal/observability"
	"mediascribe/internal/pipeline"
	"mediascribe/internal/registry"
	"mediascribe/internal/retry"
	"mediascribe/internal/upstream/gemini"
	"mediascribe/internal/youtube"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	metrics := observability.NewMetrics()

	if err := os.MkdirAll(cfg.TempDir, 0o700); err != nil {
		logger.Error("create temp dir", "path", cfg.TempDir, "error", err)
		os.Exit(1)
	}
	reg := registry.New(cfg.TempDir, cfg.FileTTL,
		registry.WithLogger(logger),
		registry.WithSweepObserver(metrics.AddExpiredFiles),
	)
	metrics.RegisterStagedFiles(reg.Len)

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	remoteHTTPClient := &http.Client{Timeout: cfg.RequestTimeout, Transport: transport}

	genaiClient, err := gemini.NewGenAIClient(context.Background(), cfg.GeminiAPIKey, cfg.GeminiBaseURL, remoteHTTPClient)
	if err != nil {
		logger.Error("create gemini client", "error", err)
		os.Exit(1)
	}
	remote := gemini.New(genaiClient, cfg.GeminiModel, gemini.WithObserver(metrics.ObserveRemote))

	processor := pipeline.New(remote, logger,
		pipeline.WithUploadPolicy(policyFromConfig(retry.Upload(), cfg.UploadMaxAttempts, cfg)),
		pipeline.WithGeneratePolicy(policyFromConfig(retry.Generate(), cfg.GenerateMaxAttempts, cfg)),
		pipeline.WithObserver(metrics),
	)
	coordinator := jobs.New(reg, processor, youtube.NewDownloader(cfg.YTDLPPath, logger), logger)

	handler := httpapi.NewServer(cfg, logger, httpapi.Dependencies{
		Jobs:           coordinator,
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
	})

	// Routes that call the remote lift these deadlines once the request body is
	// read; their duration is bounded by the retry policies.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.ListenAddr, "model", cfg.GeminiModel, "temp_dir", cfg.TempDir, "file_ttl", cfg.FileTTL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func policyFromConfig(p retry.Policy, attempts int, cfg config.Config) retry.Policy {
	p.MaxAttempts = attempts
	p.MinBackoff = cfg.RetryMinBackoff
	p.MaxBackoff = cfg.RetryMaxBackoff
	return p
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
