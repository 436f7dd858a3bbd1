// Package payment settles completed bounties: it verifies the claimant,
// calls the ledger, and drives the payment record through retries with
// exponential backoff. Only the first attempt runs in the caller's request;
// later attempts are handed to the durable retry queue.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/bounty"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/events"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/ledger"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/queue"
)

var (
	// ErrPrecondition means settlement was refused before any ledger call.
	ErrPrecondition = errors.New("payment precondition failed")
	// ErrInFlight means another caller already claimed this attempt.
	ErrInFlight = errors.New("payment attempt already in flight")
	// ErrAlreadyFailed means the cycle is failed and needs an explicit re-trigger.
	ErrAlreadyFailed = errors.New("payment cycle failed; re-trigger required")
)

const submittedBy = "payment"

// Config bounds the retry cycle.
type Config struct {
	MaxRetries     int
	BackoffBase    time.Duration
	AttemptTimeout time.Duration
	StaleAfter     time.Duration
}

// Result is the outcome of one Settle call.
type Result struct {
	Success   bool                 `json:"success"`
	Status    bounty.PaymentStatus `json:"status,omitempty"`
	Signature string               `json:"signature,omitempty"`
	Attempt   int                  `json:"attempt"`
	Error     string               `json:"error,omitempty"`
	RetryAt   *time.Time           `json:"retry_at,omitempty"`
}

// RetryPayload is the settle job body.
type RetryPayload struct {
	Submitter string `json:"submitter"`
	Attempt   int    `json:"attempt"`
}

// Orchestrator runs settlement attempts.
type Orchestrator struct {
	cfg      Config
	store    Store
	ledger   Ledger
	notifier Notifier
	retries  RetryQueue
	hub      *events.Hub
	clock    clockwork.Clock
	logger   *slog.Logger
}

// New builds an Orchestrator. hub may be nil; a nil clock means the wall clock.
func New(cfg Config, store Store, l Ledger, n Notifier, retries RetryQueue, hub *events.Hub, clock clockwork.Clock, logger *slog.Logger) *Orchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		ledger:   l,
		notifier: n,
		retries:  retries,
		hub:      hub,
		clock:    clock,
		logger:   logger.With("component", "payment"),
	}
}

// Backoff returns the delay before the attempt following attempt (0-based).
func (o *Orchestrator) Backoff(attempt int) time.Duration {
	return o.cfg.BackoffBase << uint(attempt)
}

// Settle runs attempt number attempt (0-based) for bountyID. submitter is the
// GitHub login of the merged PR's author; it must match the claimant.
//
// A ledger failure is reported in the Result, not as an error: the record is
// either re-armed with a queued retry or marked failed. Errors are returned
// for refused preconditions, lost attempt races and persistence failures.
func (o *Orchestrator) Settle(ctx context.Context, bountyID, submitter string, attempt int) (Result, error) {
	logger := o.logger.With("bounty_id", bountyID, "attempt", attempt+1, "max_attempts", o.cfg.MaxRetries)

	b, err := o.store.GetBounty(ctx, bountyID)
	if errors.Is(err, bounty.ErrNotFound) {
		return Result{}, fmt.Errorf("%w: bounty %s not found", ErrPrecondition, bountyID)
	}
	if err != nil {
		return Result{}, err
	}

	if p := b.Payment; p != nil {
		switch p.Status {
		case bounty.PaymentCompleted:
			logger.Info("payment already completed", "signature", p.Signature)
			return Result{Success: true, Status: p.Status, Signature: p.Signature, Attempt: p.Attempt}, nil
		case bounty.PaymentFailed:
			return Result{Status: p.Status, Attempt: p.Attempt, Error: p.LastError}, ErrAlreadyFailed
		}
	}

	if !b.Status.Equal(bounty.StatusCompleted) {
		return Result{}, fmt.Errorf("%w: bounty status is %s", ErrPrecondition, b.Status)
	}
	if attempt < 0 || attempt >= o.cfg.MaxRetries {
		return Result{}, fmt.Errorf("%w: attempt %d exceeds max retries", ErrPrecondition, attempt)
	}

	claimant, reason := o.verifyClaimant(ctx, b, submitter)
	if reason != "" {
		logger.Warn("payment precondition failed", "reason", reason)
		return o.refuse(ctx, b.ID, reason)
	}

	if b.Payment == nil {
		if _, err := o.store.EnsurePayment(ctx, b.ID); err != nil {
			return Result{}, err
		}
	}
	p, err := o.store.BeginAttempt(ctx, b.ID, attempt)
	if errors.Is(err, bounty.ErrPaymentState) {
		cur, gerr := o.store.GetPayment(ctx, b.ID)
		if gerr == nil && cur.Status == bounty.PaymentCompleted {
			return Result{Success: true, Status: cur.Status, Signature: cur.Signature, Attempt: cur.Attempt}, nil
		}
		return Result{}, fmt.Errorf("%w: bounty %s attempt %d", ErrInFlight, b.ID, attempt+1)
	}
	if err != nil {
		return Result{}, err
	}
	o.publish(events.TypePaymentStarted, b.ID, map[string]any{"attempt": p.Attempt})

	prURL := b.LinkedPR()
	if prURL == "" {
		logger.Warn("no PR URL on bounty, using plain completion")
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.AttemptTimeout)
	signature, terr := o.ledger.Transfer(callCtx, ledger.TransferRequest{
		BountyID:  b.ID,
		Wallet:    claimant.WalletAddress,
		PRURL:     prURL,
		Amount:    b.Amount,
		TokenMint: b.TokenMint,
	})
	cancel()

	// The ledger call already happened; persist its outcome even if the
	// caller has gone away.
	ctx = context.WithoutCancel(ctx)
	if terr == nil {
		return o.succeed(ctx, logger, b, claimant, signature)
	}
	return o.handleTransferError(ctx, logger, b.ID, submitter, p.Attempt, terr)
}

func (o *Orchestrator) succeed(ctx context.Context, logger *slog.Logger, b *bounty.Bounty, claimant *bounty.User, signature string) (Result, error) {
	p, err := o.store.CompletePayment(ctx, b.ID, signature)
	if err != nil {
		logger.Error("transfer succeeded but completion was not recorded", "signature", signature, "error", err)
		return Result{}, fmt.Errorf("record completed payment: %w", err)
	}
	logger.Info("payment completed", "signature", signature)

	if o.notifier.NotifySuccess(ctx, b, claimant.ID, signature) {
		o.markNotified(ctx, b.ID)
	}
	return Result{Success: true, Status: p.Status, Signature: signature, Attempt: p.Attempt}, nil
}

// handleTransferError re-arms the record for another attempt or fails the
// cycle. made is the number of attempts started so far.
func (o *Orchestrator) handleTransferError(ctx context.Context, logger *slog.Logger, bountyID, submitter string, made int, terr error) (Result, error) {
	msg := terr.Error()
	permanent := errors.Is(terr, ledger.ErrPermanent)

	if !permanent && made < o.cfg.MaxRetries {
		p, err := o.store.RetryPayment(ctx, bountyID, msg)
		if err != nil {
			return Result{}, err
		}
		runAt := o.clock.Now().Add(o.Backoff(made - 1))
		if err := o.scheduleRetry(ctx, bountyID, submitter, made, runAt); err != nil {
			logger.Error("failed to schedule retry; stale recovery will pick it up", "error", err)
		}
		logger.Warn("transfer failed, retry scheduled", "error", msg, "retry_at", runAt)
		o.publish(events.TypePaymentRetry, bountyID, map[string]any{"attempt": made, "retry_at": runAt, "error": msg})
		return Result{Status: p.Status, Attempt: p.Attempt, Error: msg, RetryAt: &runAt}, nil
	}

	p, err := o.store.FailPayment(ctx, bountyID, msg)
	if err != nil {
		return Result{}, err
	}
	logger.Error("payment failed", "error", msg, "permanent", permanent)
	if o.notifier.NotifyFailure(ctx, bountyID, msg) {
		o.markNotified(ctx, bountyID)
	}
	return Result{Status: p.Status, Attempt: p.Attempt, Error: msg}, nil
}

// refuse records a precondition failure on the payment record and alerts once.
func (o *Orchestrator) refuse(ctx context.Context, bountyID, reason string) (Result, error) {
	p, err := o.store.FailPayment(ctx, bountyID, reason)
	switch {
	case errors.Is(err, bounty.ErrPaymentState):
		return Result{}, fmt.Errorf("%w: %s", ErrPrecondition, reason)
	case err != nil:
		return Result{}, err
	}
	if o.notifier.NotifyFailure(ctx, bountyID, reason) {
		o.markNotified(ctx, bountyID)
	}
	return Result{Status: p.Status, Attempt: p.Attempt, Error: reason}, fmt.Errorf("%w: %s", ErrPrecondition, reason)
}

// verifyClaimant checks preconditions 3 to 7 and returns the claimant, or a
// non-empty reason.
func (o *Orchestrator) verifyClaimant(ctx context.Context, b *bounty.Bounty, submitter string) (*bounty.User, string) {
	if b.ClaimedBy == "" {
		return nil, "bounty has no claimant"
	}
	u, err := o.store.GetUser(ctx, b.ClaimedBy)
	if err != nil {
		return nil, "claimant user not found"
	}

	username := ClaimantUsername(b, u)
	if username == "" {
		return nil, "claimant has no GitHub username"
	}
	if !strings.EqualFold(username, strings.TrimSpace(submitter)) {
		return nil, fmt.Sprintf("claimant %q does not match PR submitter %q", username, submitter)
	}
	if u.WalletAddress == "" {
		return nil, "claimant has no wallet address"
	}
	if !ledger.ValidWallet(u.WalletAddress) {
		return nil, "claimant wallet address is malformed"
	}
	return u, ""
}

// ClaimantUsername returns the claimant's GitHub login from the user record,
// the status metadata, or the submitter field, in that order.
func ClaimantUsername(b *bounty.Bounty, u *bounty.User) string {
	if u != nil && strings.TrimSpace(u.GitHubUsername) != "" {
		return strings.TrimSpace(u.GitHubUsername)
	}
	if v := b.MetadataString("github_username"); v != "" {
		return v
	}
	return strings.TrimSpace(b.SubmitterUsername)
}

func (o *Orchestrator) scheduleRetry(ctx context.Context, bountyID, submitter string, attempt int, runAt time.Time) error {
	payload, err := json.Marshal(RetryPayload{Submitter: submitter, Attempt: attempt})
	if err != nil {
		return err
	}
	key := queue.SettleKey(bountyID)
	_, err = o.retries.Enqueue(ctx, queue.EnqueueRequest{
		Kind:        queue.KindSettle,
		BountyID:    bountyID,
		Payload:     payload,
		MaxAttempts: o.cfg.MaxRetries,
		SubmittedBy: submittedBy,
		DedupeKey:   &key,
		RunAt:       &runAt,
	})
	var drop *queue.DedupeDropError
	if errors.As(err, &drop) {
		o.logger.Info("settle job already queued", "bounty_id", bountyID, "existing_job_id", drop.ExistingJobID)
		return nil
	}
	return err
}

func (o *Orchestrator) markNotified(ctx context.Context, bountyID string) {
	if err := o.store.MarkNotified(ctx, bountyID); err != nil {
		o.logger.Warn("failed to set notification flag", "bounty_id", bountyID, "error", err)
	}
}

func (o *Orchestrator) publish(typ, bountyID string, data any) {
	if o.hub != nil {
		o.hub.Publish(typ, bountyID, data)
	}
}
