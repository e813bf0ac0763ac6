package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/nairabridge/server/internal/config"
	"github.com/nairabridge/server/internal/logger"
	"github.com/nairabridge/server/internal/quotes"
	"github.com/nairabridge/server/internal/storage"
	"github.com/nairabridge/server/internal/transaction"
)

// QuoteService is the quote surface the API exposes. Satisfied by
// *quotes.Service.
type QuoteService interface {
	Create(ctx context.Context, direction transaction.Direction, amountNGN decimal.Decimal) (*storage.Quote, error)
	Confirm(ctx context.Context, req quotes.ConfirmRequest) (*transaction.Transaction, error)
}

// DepositRecorder accepts a user's cNGN deposit report. Satisfied by
// *offramp.Processor.
type DepositRecorder interface {
	HandleCngnReceived(ctx context.Context, txID, hash string) error
}

// WebhookIngestor processes inbound provider webhooks. Satisfied by
// *webhooks.Ingestor.
type WebhookIngestor interface {
	Ingest(ctx context.Context, providerName string, header http.Header, body []byte) error
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	quotes   QuoteService
	store    storage.TransactionStore
	deposits DepositRecorder
	webhooks WebhookIngestor
	log      zerolog.Logger
}

// New builds the HTTP server with the configured router.
func New(cfg *config.Config, quoteSvc QuoteService, store storage.TransactionStore, deposits DepositRecorder, ingestor WebhookIngestor, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			quotes:   quoteSvc,
			store:    store,
			deposits: deposits,
			webhooks: ingestor,
			log:      appLogger.With().Str("component", "http").Logger(),
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr(),
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			Handler:      router,
		},
	}

	s.routes(router, cfg, appLogger)
	return s
}

func (s *Server) routes(router chi.Router, cfg *config.Config, appLogger zerolog.Logger) {
	if len(cfg.Server.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			MaxAge:         300,
		}).Handler)
	}

	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/healthz", s.health)
		r.Handle("/metrics", promhttp.Handler())
	})

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		if cfg.RateLimit.Enabled {
			r.Use(httprate.LimitByIP(cfg.RateLimit.RequestsPerMinute, time.Minute))
		}

		r.Post("/api/v1/quotes", s.createQuote)
		r.Post("/api/v1/transactions", s.confirmQuote)
		r.Get("/api/v1/transactions/{id}", s.getTransaction)
		r.Post("/api/v1/transactions/{id}/deposit", s.recordDeposit)

		// Webhook URLs are not versioned; providers need them stable.
		r.Post("/webhooks/{provider}", s.handleWebhook)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
