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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ManoDarpan/ManoDarpan/internal/config"
	"github.com/ManoDarpan/ManoDarpan/internal/crypto"
	"github.com/ManoDarpan/ManoDarpan/internal/handler"
	"github.com/ManoDarpan/ManoDarpan/internal/identity"
	"github.com/ManoDarpan/ManoDarpan/internal/middleware"
	"github.com/ManoDarpan/ManoDarpan/internal/model"
	natsclient "github.com/ManoDarpan/ManoDarpan/internal/nats"
	"github.com/ManoDarpan/ManoDarpan/internal/realtime"
	"github.com/ManoDarpan/ManoDarpan/internal/service"
	"github.com/ManoDarpan/ManoDarpan/internal/store"
	"github.com/ManoDarpan/ManoDarpan/pkg/logger"
	"github.com/ManoDarpan/ManoDarpan/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting API server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "manodarpan", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	vault, err := crypto.NewKeyVault(cfg.MasterKey)
	if err != nil {
		log.Error("invalid master key", zap.Error(err))
		os.Exit(1)
	}

	// Stores: Postgres when DATABASE_URL is set, in-memory otherwise.
	var (
		pg            *store.Postgres
		conversations store.ConversationStore
		requests      store.RequestStore
		messages      store.MessageStore
	)
	if cfg.DatabaseURL != "" {
		pg, err = store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to open database", zap.Error(err))
			os.Exit(1)
		}
		defer pg.Close()
		conversations = pg.Conversations
		requests = pg.Requests
		messages = pg.Messages
		log.Info("using postgres store")
	} else {
		conversations = store.NewMemoryConversationStore()
		requests = store.NewMemoryRequestStore()
		messages = store.NewMemoryMessageStore()
		log.Info("using in-memory store")
	}

	// Room bus: NATS when NATS_URL is set, in-process hub otherwise.
	var (
		bus      realtime.Bus
		natsConn *natsclient.Client
	)
	if cfg.NATSURL != "" {
		natsConn, err = natsclient.Connect(natsclient.Config{
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
		bus = realtime.NewNATSBus(natsConn, log)
		log.Info("using NATS room bus")
	} else {
		bus = realtime.NewHub(log)
		log.Info("using in-process room bus")
	}
	defer bus.Close()

	resolver := identity.NewJWTResolver(cfg.JWTSecret)
	directory := identity.StaticDirectory{}

	registry := service.NewRegistry(conversations, vault, cfg.ActiveWindow, log)
	broker := service.NewBroker(requests, registry, bus, directory, cfg.RequestTTL, log)
	presence := realtime.NewPresenceHub()
	router := realtime.NewRouter(registry, messages, bus, presence, directory, log)

	healthHandler := handler.NewHealthHandler(pg, natsConn)
	requestHandler := handler.NewRequestHandler(broker, directory, log)
	conversationHandler := handler.NewConversationHandler(registry, router, directory, log)
	streamHandler := handler.NewStreamHandler(router, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(resolver))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/requests", func(r chi.Router) {
			r.With(middleware.RequireRole(model.RoleUser)).Post("/", requestHandler.Create)
			r.With(middleware.RequireRole(model.RoleUser)).Get("/", requestHandler.ListOwn)
			r.With(middleware.RequireRole(model.RoleCounsellor)).Get("/pending", requestHandler.ListPending)
			r.With(middleware.RequireRole(model.RoleCounsellor)).Post("/{id}/accept", requestHandler.Accept)
			r.With(middleware.RequireRole(model.RoleCounsellor)).Post("/{id}/reject", requestHandler.Reject)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Get("/active", conversationHandler.Active)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Post("/end", conversationHandler.End)
				r.Get("/messages", conversationHandler.Messages)
				r.Post("/messages", conversationHandler.SendMessage)
			})
		})

		r.Get("/stream", streamHandler.Stream)
		r.Post("/stream/{connID}/join", streamHandler.Join)
		r.Get("/counsellors/online", streamHandler.Online)
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
