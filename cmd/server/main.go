// Command server wires the Webhook Endpoint, durable Queue, and Review
// Orchestrator into one process, grounded on the teacher's cmd/server/main.go
// (lumberjack-backed slog setup, graceful shutdown draining in-flight work,
// health and metrics endpoints).
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/forgehook/reviewbot/internal/config"
	"github.com/forgehook/reviewbot/internal/forge"
	"github.com/forgehook/reviewbot/internal/llmclient"
	"github.com/forgehook/reviewbot/internal/orchestrator"
	"github.com/forgehook/reviewbot/internal/queue"
	"github.com/forgehook/reviewbot/internal/storage"
	"github.com/forgehook/reviewbot/internal/verifier"
	"github.com/forgehook/reviewbot/internal/webhook"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	queueWorkers           = 4
	queuePollInterval      = 2 * time.Second
	stalledReclaimInterval = 15 * time.Second
)

func main() {
	cfg := config.LoadConfig()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, logCleanup := setupLogger(cfg)
	defer logCleanup()
	slog.SetDefault(logger)

	store, err := storage.NewSQLiteRepository(cfg.DatabaseURL)
	if err != nil {
		slog.Error("init storage failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	q := queue.New(store.DB())

	forgeClient, err := forge.New(cfg.Forge.Host, cfg.Forge.AccessToken)
	if err != nil {
		slog.Error("init forge client failed", "error", err)
		os.Exit(1)
	}

	llmClient := llmclient.New(cfg)
	if !llmClient.IsEnabled() {
		slog.Warn("LLM credentials not configured; reviews will be marked SKIPPED")
	}

	issueVerifier := verifier.New(forgeClient)
	review := orchestrator.New(forgeClient, llmClient, issueVerifier, store)

	webhookHandler := webhook.New(store, q, cfg)

	mux := http.NewServeMux()
	mux.Handle("/webhooks/forge", webhookHandler)
	mux.HandleFunc("/webhooks/forge/health", webhookHandler.Health)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	runnerCtx, cancelRunner := context.WithCancel(context.Background())
	runner := queue.NewRunner(q, queue.ReviewTopic, queueWorkers, queuePollInterval, func(ctx context.Context, claimed queue.ClaimedJob) error {
		return review.Process(ctx, claimed.Job)
	})
	runner.Start(runnerCtx)
	queue.StartStalledReclaimer(runnerCtx, q, stalledReclaimInterval)
	queue.StartDepthGauge(runnerCtx, q, queue.ReviewTopic, stalledReclaimInterval)

	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server start failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("server stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown forced", "error", err)
	}

	slog.Info("waiting for in-flight review jobs")
	done := make(chan struct{})
	go func() {
		runner.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("queue runner drained")
	case <-time.After(30 * time.Second):
		slog.Warn("queue runner drain timeout, exiting")
	}
	cancelRunner()

	slog.Info("server stopped")
}

// setupLogger creates a logger based on configuration, fanning out to
// multiple comma-separated destinations and rotating file outputs through
// lumberjack.
func setupLogger(cfg *config.Config) (*slog.Logger, func()) {
	var writers []io.Writer
	var closers []io.Closer
	outputs := strings.Split(cfg.Log.Output, ",")

	for _, output := range outputs {
		output = strings.TrimSpace(output)
		if output == "" {
			continue
		}

		var w io.Writer
		switch output {
		case "stderr":
			w = os.Stderr
		case "stdout":
			w = os.Stdout
		default:
			l := &lumberjack.Logger{
				Filename:   output,
				MaxSize:    cfg.Log.Rotation.MaxSize,
				MaxBackups: cfg.Log.Rotation.MaxBackups,
				MaxAge:     cfg.Log.Rotation.MaxAge,
				Compress:   cfg.Log.Rotation.Compress,
			}
			w = l
			closers = append(closers, l)
		}
		writers = append(writers, w)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	multiWriter := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{Level: cfg.GetLogLevel()}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(multiWriter, opts)
	} else {
		handler = slog.NewTextHandler(multiWriter, opts)
	}

	cleanup := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	return slog.New(handler), cleanup
}
