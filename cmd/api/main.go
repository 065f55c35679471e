// Package main is the entry point for the intake engine server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/intake-engine/internal/config"
	"github.com/capitalize-ai/intake-engine/internal/engine"
	"github.com/capitalize-ai/intake-engine/internal/extract"
	"github.com/capitalize-ai/intake-engine/internal/handler"
	"github.com/capitalize-ai/intake-engine/internal/llm"
	"github.com/capitalize-ai/intake-engine/internal/middleware"
	"github.com/capitalize-ai/intake-engine/internal/store"
	"github.com/capitalize-ai/intake-engine/internal/transport"
	"github.com/capitalize-ai/intake-engine/pkg/logger"
	"github.com/capitalize-ai/intake-engine/pkg/tracing"
)

func main() {
	// Load .env in development; the file is optional.
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting intake engine", zap.String("instance_id", cfg.InstanceID))

	// Initialize tracing if enabled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "intake-engine", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := transport.Connect(transport.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	// Ensure JetStream stream exists
	streamManager := transport.NewStreamManager(natsClient)
	if err := streamManager.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}

	// Open the conversation store
	st, err := store.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		log.Error("failed to open store", zap.Error(err), zap.String("path", cfg.SQLitePath))
		os.Exit(1)
	}
	defer st.Close()

	// Initialize LLM client
	var llmClient llm.Client
	switch {
	case cfg.DefaultLLM == "openai" && cfg.OpenAIAPIKey != "":
		llmClient, err = llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
	case cfg.AnthropicAPIKey != "":
		llmClient, err = llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey)
	case cfg.OpenAIAPIKey != "":
		llmClient, err = llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
	default:
		log.Error("no LLM API key configured")
		os.Exit(1)
	}
	if err != nil {
		log.Error("failed to create LLM client", zap.Error(err))
		os.Exit(1)
	}

	extractor := extract.NewLLMService(llmClient, cfg.LLMModel, cfg.ExtractionTimeout, log)
	collaborators := transport.NewCollaborators(natsClient, log)
	eng := engine.New(st, extractor, collaborators, cfg.TimeoutWindow, log)

	// Outbound publishing and the inbound consumer
	publisher := transport.NewOutboundPublisher(natsClient, log)
	consumer := transport.NewConsumer(natsClient, eng, publisher, log)
	if err := consumer.Start(ctx); err != nil {
		log.Error("failed to start inbound consumer", zap.Error(err))
		os.Exit(1)
	}

	// Timeout reaper, gated by the soft leadership marker. Leadership is
	// advisory; a duplicate sweep on split brain is harmless.
	leadership := transport.NewLeadership(ctx, natsClient, cfg.InstanceID, log)
	reaper := engine.NewReaper(eng, publisher, cfg.ReaperInterval, log)
	go reaper.Run(ctx, leadership.IsLeader)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient, st)
	intakeHandler := handler.NewIntakeHandler(eng, log)
	conversationHandler := handler.NewConversationHandler(st, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// The write path gets a tighter per-caller limit on top of the
		// shared channel limit.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope("intake:write"))
			r.Use(middleware.CallerRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
			r.Post("/messages", intakeHandler.Receive)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope("intake:read"))
			r.Route("/conversations", func(r chi.Router) {
				r.Get("/{id}", conversationHandler.Get)
			})
			r.Get("/threads/{channel}/{thread_id}", conversationHandler.GetByThread)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
