package payment

import (
	"context"
	"time"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/bounty"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/ledger"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_payment.go -package=mocks github.com/DishankChauhan1/solforge-test-sub000/internal/payment Ledger,Notifier,RetryQueue

// Ledger executes on-chain transfers.
type Ledger interface {
	Transfer(ctx context.Context, req ledger.TransferRequest) (string, error)
}

// Notifier receives best-effort payment alerts. The returned bool reports
// whether the alert was delivered before returning; a Notifier that delivers
// in the background records the flag itself.
type Notifier interface {
	NotifySuccess(ctx context.Context, b *bounty.Bounty, userID, signature string) bool
	NotifyFailure(ctx context.Context, bountyID, errMsg string) bool
}

// RetryQueue holds delayed settlement attempts.
type RetryQueue interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
}

// Store is the persistence the orchestrator drives.
type Store interface {
	GetBounty(ctx context.Context, id string) (*bounty.Bounty, error)
	GetUser(ctx context.Context, id string) (*bounty.User, error)
	EnsurePayment(ctx context.Context, bountyID string) (*bounty.Payment, error)
	GetPayment(ctx context.Context, bountyID string) (*bounty.Payment, error)
	BeginAttempt(ctx context.Context, bountyID string, attempt int) (*bounty.Payment, error)
	CompletePayment(ctx context.Context, bountyID, signature string) (*bounty.Payment, error)
	RetryPayment(ctx context.Context, bountyID, errMsg string) (*bounty.Payment, error)
	FailPayment(ctx context.Context, bountyID, errMsg string) (*bounty.Payment, error)
	ResetPayment(ctx context.Context, bountyID, note string) (*bounty.Payment, error)
	MarkNotified(ctx context.Context, bountyID string) error
	ListStaleProcessing(ctx context.Context, olderThan time.Duration) ([]*bounty.Payment, error)
	ListStalePending(ctx context.Context, olderThan time.Duration) ([]*bounty.Payment, error)
}
