// Package scheduler runs periodic maintenance: crash recovery of orphaned
// queue jobs at startup, stale payment recovery, and log/delivery pruning.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/queue"
)

const (
	jobPaymentRecovery = "payment-recovery"
	jobMaintenance     = "maintenance"
)

// Config controls maintenance cadence and retention.
type Config struct {
	RecoveryInterval  time.Duration
	JobLogRetention   time.Duration
	DeliveryRetention time.Duration
}

// Scheduler manages recovery and pruning jobs.
type Scheduler struct {
	cfg        Config
	queue      QueueService
	payments   PaymentRecoverer
	deliveries DeliveryPruner
	clock      clockwork.Clock
	logger     *slog.Logger
	cron       gocron.Scheduler
}

// New creates a new Scheduler instance. payments and deliveries may be nil.
func New(cfg Config, q QueueService, payments PaymentRecoverer, deliveries DeliveryPruner, clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		cfg:        cfg,
		queue:      q,
		payments:   payments,
		deliveries: deliveries,
		clock:      clock,
		logger:     logger.With("component", "scheduler"),
	}
}

// Start recovers orphaned jobs, then registers the periodic jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler", "recovery_interval", s.cfg.RecoveryInterval)

	if err := s.recoverOrphanedJobs(ctx); err != nil {
		return fmt.Errorf("scheduler crash recovery failed: %w", err)
	}

	cron, err := gocron.NewScheduler(
		gocron.WithClock(s.clock),
		gocron.WithLogger(s.logger),
	)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	jobs := []struct {
		name string
		fn   func(context.Context)
	}{
		{jobPaymentRecovery, s.recoverPayments},
		{jobMaintenance, s.prune},
	}
	for _, j := range jobs {
		fn := j.fn
		_, err := cron.NewJob(
			gocron.DurationJob(s.cfg.RecoveryInterval),
			gocron.NewTask(func() { fn(ctx) }),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = cron.Shutdown()
			return fmt.Errorf("register %s job: %w", j.name, err)
		}
	}

	cron.Start()
	s.cron = cron
	return nil
}

// Stop gracefully stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	s.logger.Info("Stopping scheduler")
	if err := s.cron.Shutdown(); err != nil {
		s.logger.Error("Scheduler shutdown failed", "error", err)
		return
	}
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) recoverPayments(ctx context.Context) {
	if s.payments == nil {
		return
	}
	n, err := s.payments.RecoverStale(ctx)
	if err != nil {
		s.logger.Error("Stale payment recovery failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Warn("Recovered stale payments", "count", n)
	}
}

func (s *Scheduler) prune(ctx context.Context) {
	if s.cfg.JobLogRetention > 0 {
		if err := s.queue.PruneJobLogs(ctx, s.cfg.JobLogRetention); err != nil {
			s.logger.Error("Failed to prune job logs", "error", err)
		}
	}
	if s.deliveries != nil && s.cfg.DeliveryRetention > 0 {
		n, err := s.deliveries.PruneDeliveries(ctx, s.cfg.DeliveryRetention)
		if err != nil {
			s.logger.Error("Failed to prune webhook deliveries", "error", err)
			return
		}
		if n > 0 {
			s.logger.Debug("Pruned webhook deliveries", "count", n)
		}
	}
}

// recoverOrphanedJobs scans for and recovers jobs marked as "running" at startup.
func (s *Scheduler) recoverOrphanedJobs(ctx context.Context) error {
	s.logger.Info("Performing crash recovery for orphaned jobs")

	runningJobs, err := s.queue.FindJobsByStatus(ctx, queue.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to find running jobs for recovery: %w", err)
	}

	if len(runningJobs) == 0 {
		s.logger.Info("No orphaned jobs found.")
		return nil
	}

	s.logger.Warn("Found orphaned jobs, attempting recovery", "count", len(runningJobs))

	for _, job := range runningJobs {
		job.Attempt++

		var newStatus queue.Status
		var lastErrorMsg string

		if job.Attempt <= job.MaxAttempts {
			newStatus = queue.StatusQueued
			s.logger.Warn(
				"Re-queueing orphaned job",
				"job_id", job.ID,
				"kind", job.Kind,
				"bounty_id", job.BountyID,
				"new_attempt", job.Attempt,
			)
		} else {
			newStatus = queue.StatusDead
			lastErrorMsg = fmt.Sprintf("job marked dead during crash recovery: max attempts (%d) reached", job.MaxAttempts)
			s.logger.Error(
				"Marking orphaned job as dead (max attempts reached)",
				"job_id", job.ID,
				"kind", job.Kind,
				"bounty_id", job.BountyID,
				"final_attempt", job.Attempt,
			)
		}

		if err := s.queue.UpdateJobForRecovery(ctx, job.ID, newStatus, job.Attempt, nil, lastErrorMsg); err != nil {
			s.logger.Error(
				"Failed to update orphaned job during recovery",
				"job_id", job.ID,
				"error", err,
				"desired_status", newStatus,
			)
		}
	}

	return nil
}
