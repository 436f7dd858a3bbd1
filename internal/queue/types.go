package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusDead      Status = "dead"
)

// KindSettle is a delayed settlement attempt for one bounty.
const KindSettle = "settle"

type Job struct {
	ID          string
	Kind        string
	BountyID    string
	Payload     json.RawMessage
	Status      Status
	Attempt     int
	MaxAttempts int
	SubmittedBy string
	DedupeKey   *string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	NextRetryAt *time.Time
	LastError   *string
}

type EnqueueRequest struct {
	Kind        string
	BountyID    string
	Payload     json.RawMessage
	MaxAttempts int
	SubmittedBy string
	DedupeKey   *string
	// RunAt delays the job; nil means as soon as possible.
	RunAt *time.Time
}

var ErrJobNotFound = errors.New("job not found")

// DedupeDropError is returned by Enqueue when an outstanding job already
// holds the same dedupe key.
type DedupeDropError struct {
	DedupeKey     string
	ExistingJobID string
}

func (e *DedupeDropError) Error() string {
	return fmt.Sprintf("dedupe key %q held by job %s", e.DedupeKey, e.ExistingJobID)
}

// SettleKey is the dedupe key for a bounty's settlement retry.
func SettleKey(bountyID string) string {
	return "settle:" + bountyID
}
