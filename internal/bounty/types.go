package bounty

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a bounty.
type Status string

const (
	StatusOpen             Status = "open"
	StatusInProgress       Status = "in_progress"
	StatusApproved         Status = "approved"
	StatusChangesRequested Status = "changes_requested"
	StatusCompleted        Status = "completed"
	StatusCancelled        Status = "cancelled"

	// StatusClaimed is written by the legacy claim path and means in_progress.
	StatusClaimed Status = "claimed"
)

// Normalize folds legacy aliases onto their canonical status.
func (s Status) Normalize() Status {
	if s == StatusClaimed {
		return StatusInProgress
	}
	return s
}

// Equal compares statuses after normalization.
func (s Status) Equal(other Status) bool {
	return s.Normalize() == other.Normalize()
}

// Terminal reports whether no further business transitions are expected.
// Cancelled bounties may still be reopened.
func (s Status) Terminal() bool {
	switch s.Normalize() {
	case StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status (aliases included).
func (s Status) Valid() bool {
	_, ok := transitions[s.Normalize()]
	return ok
}

// PaymentStatus is the settlement state of a bounty's payment record.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
)

// Metadata is the per-transition audit payload. It replaces, never merges.
type Metadata map[string]any

// Bounty is an escrowed reward tied to a GitHub issue.
type Bounty struct {
	ID            string
	Title         string
	Description   string
	Amount        decimal.Decimal
	TokenMint     string // empty means native-currency payout
	IssueURL      string
	RepositoryURL string
	CreatedBy     string

	Status            Status
	ClaimedBy         string
	ClaimedAt         *time.Time
	ClaimPR           string
	PRURL             string
	SubmitterUsername string
	StatusMetadata    Metadata
	Payment           *Payment

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LinkedPR returns the PR URL, preferring the explicit field over the legacy claim field.
func (b *Bounty) LinkedPR() string {
	if b.PRURL != "" {
		return b.PRURL
	}
	return b.ClaimPR
}

// MetadataString reads a string value from the status metadata.
func (b *Bounty) MetadataString(key string) string {
	if b.StatusMetadata == nil {
		return ""
	}
	v, _ := b.StatusMetadata[key].(string)
	return strings.TrimSpace(v)
}

// Payment tracks one settlement cycle for a bounty.
type Payment struct {
	BountyID            string
	Status              PaymentStatus
	Attempt             int
	Signature           string
	LastError           string
	NotificationSent    bool
	CreatedAt           time.Time
	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time
	FailedAt            *time.Time
	UpdatedAt           time.Time
}

// HistoryEntry is one append-only audit row for a payment mutation.
type HistoryEntry struct {
	ID         string
	BountyID   string
	Status     PaymentStatus
	Attempt    int
	Signature  string
	Error      string
	Note       string
	RecordedAt time.Time
}

// User is a claimant identity.
type User struct {
	ID             string
	GitHubUsername string
	WalletAddress  string
	GitHubMetadata map[string]any
	CreatedAt      time.Time
}

// Claim links a PR and its author to a bounty.
type Claim struct {
	PRURL             string
	SubmitterUsername string
	ClaimedBy         string
}

var (
	ErrNotFound          = errors.New("bounty not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrConflict          = errors.New("bounty was modified concurrently")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrPaymentNotFound   = errors.New("payment record not found")
	ErrPaymentState      = errors.New("payment record not in expected state")
)
