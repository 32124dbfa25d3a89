// Package main is the entry point for the API server.
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
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/inquire-x/reflective-chat/internal/config"
	"github.com/inquire-x/reflective-chat/internal/gateway"
	"github.com/inquire-x/reflective-chat/internal/handler"
	"github.com/inquire-x/reflective-chat/internal/llm"
	"github.com/inquire-x/reflective-chat/internal/middleware"
	"github.com/inquire-x/reflective-chat/internal/persist"
	"github.com/inquire-x/reflective-chat/internal/pipeline"
	"github.com/inquire-x/reflective-chat/internal/store"
	"github.com/inquire-x/reflective-chat/pkg/logger"
	"github.com/inquire-x/reflective-chat/pkg/tracing"
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

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "reflective-chat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Select the persistence backend
	var (
		persister store.Persister
		snapshot  *store.Snapshot
		checker   handler.ReadyChecker
	)
	switch cfg.PersistBackend {
	case "nats":
		np, err := persist.ConnectNATS(ctx, persist.NATSConfig{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Bucket:   cfg.NATSBucket,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer np.Close()

		snapshot, err = np.Load()
		if err != nil {
			log.Error("failed to load snapshot", zap.Error(err))
			os.Exit(1)
		}
		persister = np
		checker = np

	default:
		fp, err := persist.NewFilePersister(cfg.DataFile)
		if err != nil {
			log.Error("failed to open data file", zap.Error(err))
			os.Exit(1)
		}

		snapshot, err = fp.Load()
		if err != nil {
			log.Error("failed to load snapshot", zap.Error(err))
			os.Exit(1)
		}
		persister = fp
	}

	// Initialize core components
	st := store.New(snapshot, persister, log)
	llmClient := llm.NewClient(cfg.GenerationServiceURL)
	orchestrator := pipeline.New(st, llmClient, log)
	gw := gateway.New(cfg.GatewayUpstreamURL, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(checker)
	conversationHandler := handler.NewConversationHandler(st, log)
	messageHandler := handler.NewMessageHandler(st, log)
	streamHandler := handler.NewStreamHandler(orchestrator, log)
	settingsHandler := handler.NewSettingsHandler(st, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Generation gateway
	r.Mount("/gateway", gw.Routes())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Delete("/", conversationHandler.Delete)
				r.Post("/select", conversationHandler.Select)

				// Messages
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", streamHandler.Send)
				r.Post("/messages/{messageID}/regenerate", streamHandler.Regenerate)
			})
		})

		// Settings
		r.Route("/settings", func(r chi.Router) {
			r.Get("/", settingsHandler.Get)
			r.Put("/", settingsHandler.Update)
			r.Post("/reset", settingsHandler.Reset)
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
