package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/bounty"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/payment"
)

const maxRequestBody = 64 << 10

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	depth := 0
	if s.queue != nil {
		d, err := s.queue.Depth(r.Context())
		if err != nil {
			s.logger.Error("failed to read queue depth", "error", err)
			s.writeError(w, http.StatusServiceUnavailable, "queue unavailable")
			return
		}
		depth = d
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(s.clock.Since(s.startedAt).Seconds()),
		QueueDepth:    depth,
	})
}

// handleGetBounty handles GET /v1/bounties/{id}
func (s *Server) handleGetBounty(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := s.bounties.GetBounty(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "bounty", id, err)
		return
	}
	respondJSON(w, http.StatusOK, toBountyResponse(b))
}

// handleGetPayment handles GET /v1/bounties/{id}/payment
func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.bounties.GetPayment(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "payment", id, err)
		return
	}
	history, err := s.bounties.PaymentHistory(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "payment history", id, err)
		return
	}
	respondJSON(w, http.StatusOK, toPaymentResponse(p, history))
}

// handleSettle handles POST /v1/bounties/{id}/settle, the manual completion
// path. It runs through the same orchestrator as the merge webhook.
func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SettleRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Submitter = strings.TrimSpace(req.Submitter)
	if req.Submitter == "" {
		s.writeError(w, http.StatusBadRequest, "submitter is required")
		return
	}

	if _, err := s.bounties.GetBounty(r.Context(), id); err != nil {
		s.writeStoreError(w, "bounty", id, err)
		return
	}

	res, err := s.payments.Resume(r.Context(), id, req.Submitter)
	if err != nil {
		s.writePaymentError(w, id, res, err)
		return
	}
	s.logger.Info("manual settlement", "bounty_id", id, "submitter", req.Submitter, "status", res.Status)
	respondJSON(w, http.StatusOK, res)
}

// handleRetry handles POST /v1/bounties/{id}/payment/retry
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req RetryRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = "manual re-trigger"
	}

	res, err := s.payments.Retrigger(r.Context(), id, note)
	if err != nil {
		s.writePaymentError(w, id, res, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleListEvents handles GET /v1/events?since=N
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	since := int64(0)
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = n
	}
	respondJSON(w, http.StatusOK, EventsResponse{Events: s.events.SnapshotSince(since)})
}

// decodeBody reads an optional JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) writeStoreError(w http.ResponseWriter, what, id string, err error) {
	switch {
	case errors.Is(err, bounty.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "bounty not found")
	case errors.Is(err, bounty.ErrPaymentNotFound):
		s.writeError(w, http.StatusNotFound, "payment not found")
	default:
		s.logger.Error("failed to load "+what, "bounty_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load "+what)
	}
}

func (s *Server) writePaymentError(w http.ResponseWriter, id string, res payment.Result, err error) {
	switch {
	case errors.Is(err, bounty.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "bounty not found")
	case errors.Is(err, payment.ErrInFlight):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, payment.ErrAlreadyFailed):
		respondJSON(w, http.StatusConflict, res)
	case errors.Is(err, payment.ErrPrecondition):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("payment operation failed", "bounty_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "payment operation failed")
	}
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
