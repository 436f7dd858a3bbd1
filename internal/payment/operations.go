package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/bounty"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/queue"
)

const abandonedAttempt = "attempt abandoned"

// HandleRetryJob runs the settlement attempt carried by a queued settle job.
func (o *Orchestrator) HandleRetryJob(ctx context.Context, job *queue.Job) (Result, error) {
	if job.Kind != queue.KindSettle {
		return Result{}, fmt.Errorf("unexpected job kind %q", job.Kind)
	}
	var p RetryPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return Result{}, fmt.Errorf("decode settle payload: %w", err)
	}
	return o.Settle(ctx, job.BountyID, p.Submitter, p.Attempt)
}

// Resume settles bountyID from wherever its payment record stands. It backs
// the manual completion path and is a no-op on completed payments.
func (o *Orchestrator) Resume(ctx context.Context, bountyID, submitter string) (Result, error) {
	attempt := 0
	p, err := o.store.GetPayment(ctx, bountyID)
	switch {
	case err == nil:
		attempt = p.Attempt
	case !errors.Is(err, bounty.ErrPaymentNotFound):
		return Result{}, err
	}
	return o.Settle(ctx, bountyID, submitter, attempt)
}

// Retrigger re-arms a failed payment cycle and runs its first attempt. The
// submitter is taken from the bounty's recorded claim.
func (o *Orchestrator) Retrigger(ctx context.Context, bountyID, note string) (Result, error) {
	b, err := o.store.GetBounty(ctx, bountyID)
	if err != nil {
		return Result{}, err
	}
	if b.Payment == nil || b.Payment.Status != bounty.PaymentFailed {
		return Result{}, fmt.Errorf("%w: payment is not failed", ErrPrecondition)
	}
	if _, err := o.store.ResetPayment(ctx, bountyID, note); err != nil {
		return Result{}, err
	}
	o.logger.Info("payment re-triggered", "bounty_id", bountyID, "note", note)
	return o.Settle(ctx, bountyID, o.submitterOf(ctx, b), 0)
}

// RecoverStale re-arms payments abandoned in processing (for example by a
// crash mid-attempt) and re-queues pending payments that have no retry in
// flight. It returns the number of payments touched.
func (o *Orchestrator) RecoverStale(ctx context.Context) (int, error) {
	if o.cfg.StaleAfter <= 0 {
		return 0, nil
	}
	touched := 0

	processing, err := o.store.ListStaleProcessing(ctx, o.cfg.StaleAfter)
	if err != nil {
		return 0, err
	}
	for _, p := range processing {
		logger := o.logger.With("bounty_id", p.BountyID, "attempt", p.Attempt)
		if p.Attempt >= o.cfg.MaxRetries {
			if _, err := o.store.FailPayment(ctx, p.BountyID, abandonedAttempt); err != nil {
				logger.Error("failed to fail abandoned payment", "error", err)
				continue
			}
			logger.Error("abandoned payment exhausted retries")
			if o.notifier.NotifyFailure(ctx, p.BountyID, abandonedAttempt) {
				o.markNotified(ctx, p.BountyID)
			}
			touched++
			continue
		}
		if _, err := o.store.RetryPayment(ctx, p.BountyID, abandonedAttempt); err != nil {
			logger.Error("failed to re-arm abandoned payment", "error", err)
			continue
		}
		if err := o.requeue(ctx, p.BountyID, p.Attempt); err != nil {
			logger.Error("failed to queue recovered payment", "error", err)
			continue
		}
		logger.Warn("abandoned payment re-queued")
		touched++
	}

	pending, err := o.store.ListStalePending(ctx, o.cfg.StaleAfter)
	if err != nil {
		return touched, err
	}
	for _, p := range pending {
		if err := o.requeue(ctx, p.BountyID, p.Attempt); err != nil {
			o.logger.Error("failed to queue stale pending payment", "bounty_id", p.BountyID, "error", err)
			continue
		}
		touched++
	}
	return touched, nil
}

func (o *Orchestrator) requeue(ctx context.Context, bountyID string, attempt int) error {
	b, err := o.store.GetBounty(ctx, bountyID)
	if err != nil {
		return err
	}
	return o.scheduleRetry(ctx, bountyID, o.submitterOf(ctx, b), attempt, o.clock.Now())
}

// submitterOf recovers the PR author recorded on the bounty.
func (o *Orchestrator) submitterOf(ctx context.Context, b *bounty.Bounty) string {
	if b.SubmitterUsername != "" {
		return b.SubmitterUsername
	}
	var u *bounty.User
	if b.ClaimedBy != "" {
		u, _ = o.store.GetUser(ctx, b.ClaimedBy)
	}
	return ClaimantUsername(b, u)
}
