// Package main is the entry point for the gateway server.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/guardrail-ai/llm-gateway/internal/config"
	"github.com/guardrail-ai/llm-gateway/internal/cost"
	"github.com/guardrail-ai/llm-gateway/internal/event"
	"github.com/guardrail-ai/llm-gateway/internal/handler"
	"github.com/guardrail-ai/llm-gateway/internal/llm"
	"github.com/guardrail-ai/llm-gateway/internal/middleware"
	natsclient "github.com/guardrail-ai/llm-gateway/internal/nats"
	"github.com/guardrail-ai/llm-gateway/internal/ratelimit"
	"github.com/guardrail-ai/llm-gateway/internal/service"
	"github.com/guardrail-ai/llm-gateway/internal/tokencount"
	"github.com/guardrail-ai/llm-gateway/pkg/logger"
	"github.com/guardrail-ai/llm-gateway/pkg/tracing"
)

func main() {
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

	log.Info("starting gateway server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "llm-gateway", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// The shared event bus: every component that emits or consumes
	// governance events gets this one instance.
	bus := event.NewBus(log)

	// Optional durable event journal
	var natsConn *natsclient.Client
	if cfg.NATSURL != "" {
		natsConn, err = natsclient.Connect(ctx, natsclient.Config{
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
		defer natsConn.Close()

		journal := natsclient.NewJournal(natsConn, log)
		if err := journal.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure journal stream", zap.Error(err))
			os.Exit(1)
		}
		bus.SubscribeAll(journal)
	}

	// Budget enforcement on the shared bus
	costTracker := cost.NewTracker(bus, cost.DefaultPricing(), cost.Options{
		BudgetLimit:      cfg.BudgetLimit,
		ThresholdRatio:   cfg.BudgetThresholdRatio,
		EstimateInterval: cfg.CostEstimateInterval,
	})

	// Initialize LLM client
	var llmClient llm.Client
	switch {
	case cfg.AnthropicAPIKey != "":
		llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	case cfg.OpenAIAPIKey != "":
		llmClient, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	default:
		log.Error("no LLM API key configured")
		os.Exit(1)
	}
	if err != nil {
		log.Error("failed to create LLM client", zap.Error(err))
		os.Exit(1)
	}

	// Initialize services
	counter := tokencount.NewCounter(tokencount.NewTiktokenTokenizer())
	conversationSvc := service.NewConversationService(log)
	chatSvc := service.NewChatService(conversationSvc, llmClient, bus, counter, service.ChatConfig{
		FailureThreshold: cfg.CircuitFailureThreshold,
		RecoveryTimeout:  cfg.CircuitRecoveryTimeout,
		RateLimit: ratelimit.Config{
			RequestsPerMinute: cfg.RequestsPerMinute,
			BurstSize:         cfg.BurstSize,
		},
		MaxContextTokens: cfg.MaxContextTokens,
		ReserveTokens:    cfg.ReserveTokens,
		DefaultModel:     cfg.DefaultModel,
	}, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsConn)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	messageHandler := handler.NewMessageHandler(chatSvc, conversationSvc, costTracker, log)
	streamHandler := handler.NewStreamHandler(chatSvc, conversationSvc, bus, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
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
		r.Use(middleware.RateLimit(cfg.HTTPRateLimitRequests, cfg.HTTPRateLimitWindow))

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Put("/", conversationHandler.Update)
				r.Delete("/", conversationHandler.Delete)

				// Messages
				r.Get("/messages", messageHandler.List)

				// Governance state
				r.Get("/status", messageHandler.Status)

				// Streaming
				r.Get("/stream", streamHandler.Stream)
				r.Post("/stream", streamHandler.StreamWithMessage)
			})
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

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
