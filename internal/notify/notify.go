// Package notify delivers best-effort payment alerts. Every channel swallows
// its own errors; a failed notification never affects settlement state.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/bounty"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/events"
)

// Config configures the optional HTTP channel.
type Config struct {
	WebhookURL string
	Timeout    time.Duration
}

// Message is the JSON body posted to the HTTP channel.
type Message struct {
	Kind      string `json:"kind"`
	BountyID  string `json:"bounty_id"`
	UserID    string `json:"user_id,omitempty"`
	Signature string `json:"signature,omitempty"`
	Amount    string `json:"amount,omitempty"`
	TokenMint string `json:"token_mint,omitempty"`
	PRURL     string `json:"pr_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Marker records that an external channel delivered a payment alert.
type Marker interface {
	MarkNotified(ctx context.Context, bountyID string) error
}

// Sink fans notifications out to the log, the event hub and an optional
// HTTP webhook. Webhook posts run in the background.
type Sink struct {
	hub        *events.Hub
	marker     Marker
	webhookURL string
	timeout    time.Duration
	client     *http.Client
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// New creates a Sink. hub and marker may be nil.
func New(cfg Config, hub *events.Hub, marker Marker, logger *slog.Logger) *Sink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sink{
		hub:        hub,
		marker:     marker,
		webhookURL: cfg.WebhookURL,
		timeout:    timeout,
		client:     &http.Client{},
		logger:     logger.With("component", "notify"),
	}
}

// NotifySuccess announces a completed payout. It reports whether the alert
// was delivered before returning; a background webhook post that succeeds
// later sets the flag through the Marker instead.
func (s *Sink) NotifySuccess(ctx context.Context, b *bounty.Bounty, userID, signature string) bool {
	msg := Message{
		Kind:      events.TypePaymentCompleted,
		BountyID:  b.ID,
		UserID:    userID,
		Signature: signature,
		Amount:    b.Amount.String(),
		TokenMint: b.TokenMint,
		PRURL:     b.LinkedPR(),
	}
	s.logger.Info("payment completed", "bounty_id", b.ID, "user_id", userID, "signature", signature)
	return s.dispatch(ctx, msg)
}

// NotifyFailure raises the admin alert for a failed payment cycle.
func (s *Sink) NotifyFailure(ctx context.Context, bountyID, errMsg string) bool {
	msg := Message{Kind: events.TypePaymentFailed, BountyID: bountyID, Error: errMsg}
	s.logger.Error("payment failed", "bounty_id", bountyID, "error", errMsg)
	return s.dispatch(ctx, msg)
}

func (s *Sink) dispatch(ctx context.Context, msg Message) bool {
	if s.hub != nil {
		s.hub.Publish(msg.Kind, msg.BountyID, msg)
	}
	if s.webhookURL == "" {
		return s.hub != nil
	}
	s.wg.Add(1)
	go s.deliver(context.WithoutCancel(ctx), msg)
	return false
}

func (s *Sink) deliver(ctx context.Context, msg Message) {
	defer s.wg.Done()
	logger := s.logger.With("bounty_id", msg.BountyID, "kind", msg.Kind)

	postCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.post(postCtx, msg)
	cancel()
	if err != nil {
		logger.Warn("notification webhook failed", "error", err)
		return
	}
	if s.marker == nil {
		return
	}
	if err := s.marker.MarkNotified(ctx, msg.BountyID); err != nil {
		logger.Warn("failed to set notification flag", "error", err)
	}
}

// Wait blocks until in-flight webhook posts have finished.
func (s *Sink) Wait() {
	s.wg.Wait()
}

func (s *Sink) post(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
