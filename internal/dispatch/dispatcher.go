package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/log"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/payment"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/queue"
)

// JobQueue is the queue surface the dispatcher drives.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Complete(ctx context.Context, jobID string, status queue.Status, lastError *string) error
	UpdateJobForRecovery(ctx context.Context, jobID string, newStatus queue.Status, newAttempt int, nextRetryAt *time.Time, lastError string) error
}

// Settler executes one queued settlement attempt.
type Settler interface {
	HandleRetryJob(ctx context.Context, job *queue.Job) (payment.Result, error)
}

// Dispatcher dequeues settle jobs and runs them one at a time.
type Dispatcher struct {
	queue    JobQueue
	settler  Settler
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
}

// New creates a Dispatcher polling every interval. A nil clock means the wall clock.
func New(q JobQueue, s Settler, interval time.Duration, clock clockwork.Clock) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dispatcher{
		queue:    q,
		settler:  s,
		interval: interval,
		clock:    clock,
		logger:   log.WithComponent("dispatch"),
	}
}

// Start runs the dispatch loop until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatch loop started", "poll_interval", d.interval)
	defer d.logger.Info("dispatch loop stopped")

	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if _, err := d.ProcessNext(ctx); err != nil {
				d.logger.Error("failed to process job", "error", err)
			}
		}
	}
}

// ProcessNext runs the next due job, if any. It reports whether a job ran.
func (d *Dispatcher) ProcessNext(ctx context.Context) (bool, error) {
	job, err := d.queue.Dequeue(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if job == nil {
		return false, nil
	}
	d.executeJob(ctx, job)
	return true, nil
}

func (d *Dispatcher) executeJob(ctx context.Context, job *queue.Job) {
	jobLogger := log.WithJob(job.ID).With("kind", job.Kind, "bounty_id", job.BountyID)
	jobLogger.Info("executing job", "attempt", job.Attempt)

	res, err := d.settler.HandleRetryJob(ctx, job)
	switch {
	case err == nil:
		jobLogger.Info("job completed", "payment_status", res.Status, "payment_attempt", res.Attempt)
		d.completeJob(ctx, job.ID, queue.StatusSucceeded, nil)

	case errors.Is(err, payment.ErrPrecondition),
		errors.Is(err, payment.ErrInFlight),
		errors.Is(err, payment.ErrAlreadyFailed):
		errMsg := err.Error()
		jobLogger.Warn("settlement refused", "error", errMsg)
		d.completeJob(ctx, job.ID, queue.StatusFailed, &errMsg)

	default:
		d.retryJob(ctx, jobLogger, job, err)
	}
}

// retryJob re-queues a job whose attempt hit an infrastructure error.
func (d *Dispatcher) retryJob(ctx context.Context, logger *slog.Logger, job *queue.Job, cause error) {
	errMsg := cause.Error()
	next := job.Attempt + 1
	if next > job.MaxAttempts {
		logger.Error("job exhausted attempts", "error", errMsg, "max_attempts", job.MaxAttempts)
		d.completeJob(ctx, job.ID, queue.StatusDead, &errMsg)
		return
	}

	runAt := d.clock.Now().Add(d.interval << uint(job.Attempt))
	logger.Warn("job failed, re-queueing", "error", errMsg, "next_attempt", next, "retry_at", runAt)
	if err := d.queue.UpdateJobForRecovery(ctx, job.ID, queue.StatusQueued, next, &runAt, errMsg); err != nil {
		d.logger.Error("failed to re-queue job", "job_id", job.ID, "error", err)
	}
}

func (d *Dispatcher) completeJob(ctx context.Context, jobID string, status queue.Status, lastError *string) {
	if err := d.queue.Complete(ctx, jobID, status, lastError); err != nil {
		d.logger.Error("failed to complete job", "job_id", jobID, "error", err)
	}
}
