package webhook

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/zeebo/blake3"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/event"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/processor"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/resolver"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/store"
)

// Server represents the webhook HTTP server.
type Server struct {
	config     Config
	processor  Processor
	deliveries DeliveryLog
	logger     *slog.Logger
	server     *http.Server
}

// New creates a new webhook server instance. deliveries may be nil, which
// disables redelivery detection.
func New(config Config, proc Processor, deliveries DeliveryLog, logger *slog.Logger) *Server {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	if config.Path == "" {
		config.Path = DefaultPath
	}
	return &Server{
		config:     config,
		processor:  proc,
		deliveries: deliveries,
		logger:     logger.With("component", "webhook"),
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "path", s.config.Path, "allow_sha1", s.config.AllowSHA1)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the HTTP handler serving the webhook endpoint.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Allow", http.MethodPost)
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.Post(s.config.Path, s.handleWebhook)

	return r
}

// loggingMiddleware logs HTTP requests (excludes payloads and signatures).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"event", r.Header.Get(HeaderEvent),
			"delivery_id", r.Header.Get(HeaderDelivery),
		)
	})
}

// handleWebhook handles incoming webhook POST requests.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > s.config.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	err = verifySignatures(body, s.config.Secret,
		r.Header.Get(HeaderSignature), r.Header.Get(HeaderSignatureV1), s.config.AllowSHA1)
	if err != nil {
		s.logger.Warn("webhook signature verification failed", "path", r.URL.Path)
		s.respondError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	eventType := strings.TrimSpace(r.Header.Get(HeaderEvent))
	if eventType == "" {
		s.respondError(w, http.StatusBadRequest, "missing "+HeaderEvent+" header")
		return
	}
	if eventType == event.TypePing {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "Pong!")
		return
	}

	deliveryID := deliveryKey(r.Header.Get(HeaderDelivery), eventType, body)
	logger := s.logger.With("delivery_id", deliveryID, "event", eventType)

	if s.deliveries != nil {
		seen, err := s.deliveries.DeliverySeen(ctx, deliveryID)
		if err != nil {
			logger.Error("delivery lookup failed", "error", err)
			s.respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if seen {
			logger.Info("duplicate delivery acknowledged")
			s.respondJSON(w, http.StatusOK, AckResponse{Status: "duplicate", DeliveryID: deliveryID})
			return
		}
	}

	ev, err := event.Parse(eventType, body)
	switch {
	case errors.Is(err, event.ErrUnsupported):
		logger.Debug("unsupported event type")
		s.respondJSON(w, http.StatusOK, AckResponse{Status: "ignored", DeliveryID: deliveryID})
		return
	case err != nil:
		logger.Warn("malformed event payload", "error", err)
		s.respondError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	res, err := s.processor.Process(ctx, ev)
	switch {
	case errors.Is(err, resolver.ErrNotResolved):
		s.respondError(w, http.StatusBadRequest, "no bounty found for this event")
		return
	case err != nil:
		logger.Error("event processing failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Only processed deliveries are remembered; an ignored or rejected one may
	// resolve differently when GitHub redelivers it after the state changed.
	if s.deliveries != nil && res.Outcome == processor.OutcomeProcessed {
		if _, err := s.deliveries.RecordDelivery(ctx, deliveryID, eventType, store.DeliveryProcessed); err != nil {
			logger.Warn("failed to record delivery", "error", err)
		}
	}

	s.respondJSON(w, http.StatusOK, AckResponse{Status: string(res.Outcome), DeliveryID: deliveryID, Result: &res})
}

// deliveryKey returns the GitHub delivery id, or a BLAKE3 fingerprint of the
// event type and body when the header is absent.
func deliveryKey(header, eventType string, body []byte) string {
	if id := strings.TrimSpace(header); id != "" {
		return id
	}
	h := blake3.New()
	_, _ = h.Write([]byte(eventType))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(body)
	return "blake3:" + hex.EncodeToString(h.Sum(nil))
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
