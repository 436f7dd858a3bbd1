package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/auth"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/bounty"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/events"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/payment"
)

// BountyReader is the read side of the bounty store.
type BountyReader interface {
	GetBounty(ctx context.Context, id string) (*bounty.Bounty, error)
	GetPayment(ctx context.Context, bountyID string) (*bounty.Payment, error)
	PaymentHistory(ctx context.Context, bountyID string) ([]bounty.HistoryEntry, error)
}

// Payments drives the manual completion and re-trigger paths.
type Payments interface {
	Resume(ctx context.Context, bountyID, submitter string) (payment.Result, error)
	Retrigger(ctx context.Context, bountyID, note string) (payment.Result, error)
}

// QueueDepther reports outstanding retry jobs.
type QueueDepther interface {
	Depth(ctx context.Context) (int, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	Tokens []auth.TokenConfig
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	bounties  BountyReader
	payments  Payments
	queue     QueueDepther
	events    *events.Hub
	clock     clockwork.Clock
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. A nil clock means the wall clock.
func New(config Config, bounties BountyReader, payments Payments, queue QueueDepther, hub *events.Hub, clock clockwork.Clock, logger *slog.Logger) *Server {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if hub == nil {
		hub = events.NewHub(0, clock)
	}
	return &Server{
		config:    config,
		bounties:  bounties,
		payments:  payments,
		queue:     queue,
		events:    hub,
		clock:     clock,
		logger:    logger.With("component", "api"),
		startedAt: clock.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "tokens", len(s.config.Tokens))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler. Exposed for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeBountiesRO)).Get("/bounties/{id}", s.handleGetBounty)
		r.With(s.requireScopes(auth.ScopePaymentsRO)).Get("/bounties/{id}/payment", s.handleGetPayment)
		r.With(s.requireScopes(auth.ScopePaymentsRW)).Post("/bounties/{id}/settle", s.handleSettle)
		r.With(s.requireScopes(auth.ScopePaymentsRW)).Post("/bounties/{id}/payment/retry", s.handleRetry)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleListEvents)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events/stream", s.handleEventStream)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", s.clock.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
