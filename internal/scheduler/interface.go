package scheduler

import (
	"context"
	"time"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_queue.go -package=mocks github.com/DishankChauhan1/solforge-test-sub000/internal/scheduler QueueService

// QueueService defines the queue operations used by the scheduler.
type QueueService interface {
	FindJobsByStatus(ctx context.Context, status queue.Status) ([]*queue.Job, error)
	UpdateJobForRecovery(ctx context.Context, jobID string, newStatus queue.Status, newAttempt int, nextRetryAt *time.Time, lastError string) error
	PruneJobLogs(ctx context.Context, retention time.Duration) error
}

// PaymentRecoverer re-arms payments abandoned mid-attempt.
type PaymentRecoverer interface {
	RecoverStale(ctx context.Context) (int, error)
}

// DeliveryPruner drops webhook delivery records past retention.
type DeliveryPruner interface {
	PruneDeliveries(ctx context.Context, retention time.Duration) (int64, error)
}
