package bounty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// transitions is the legal next-status table, keyed by normalized status.
var transitions = map[Status][]Status{
	StatusOpen:             {StatusInProgress, StatusCancelled},
	StatusInProgress:       {StatusApproved, StatusChangesRequested, StatusCompleted, StatusCancelled},
	StatusApproved:         {StatusCompleted, StatusChangesRequested},
	StatusChangesRequested: {StatusInProgress, StatusCompleted, StatusApproved},
	StatusCancelled:        {StatusOpen},
	StatusCompleted:        {},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from.Normalize()] {
		if s == to.Normalize() {
			return true
		}
	}
	return false
}

// TriggerKind names the GitHub occurrence driving a transition.
type TriggerKind string

const (
	TriggerPROpened               TriggerKind = "pr_opened"
	TriggerPRMerged               TriggerKind = "pr_merged"
	TriggerPRClosed               TriggerKind = "pr_closed"
	TriggerPRReopened             TriggerKind = "pr_reopened"
	TriggerReviewApproved         TriggerKind = "review_approved"
	TriggerReviewChangesRequested TriggerKind = "review_changes_requested"
	TriggerReviewCommented        TriggerKind = "review_commented"
	TriggerIssueClosed            TriggerKind = "issue_closed"
	TriggerIssueReopened          TriggerKind = "issue_reopened"
)

// Trigger carries the event fields the state machine records as metadata.
type Trigger struct {
	Kind     TriggerKind
	At       time.Time
	Actor    string // merger, reviewer, closer or reopener login
	PRNumber int
	PRTitle  string
	PRURL    string
	ReviewID int64
}

// Decision is the outcome of evaluating a trigger against a bounty.
type Decision struct {
	Next     Status
	Metadata Metadata
	NoOp     bool
	Reason   string
}

// IssueClosedReason is recorded when an issue closes before any PR was linked.
const IssueClosedReason = "Issue closed without a pull request"

// Decide computes the next status and metadata for b under trig. It never
// mutates b. claim is non-nil only when the resolver linked a PR heuristically.
func Decide(b *Bounty, trig Trigger, claim *Claim) (Decision, error) {
	cur := b.Status.Normalize()
	at := trig.At.UTC().Format(time.RFC3339)

	// The resolver saw an older snapshot; the claim must still hold on this one.
	if claim != nil {
		if linked := b.LinkedPR(); linked != "" && linked != claim.PRURL {
			return Decision{Next: cur, NoOp: true, Reason: "bounty already claimed by " + linked}, nil
		} else if linked == "" && cur != StatusOpen {
			return Decision{Next: cur, NoOp: true, Reason: "bounty is not open for claims"}, nil
		}
	}

	var (
		next Status
		meta Metadata
	)
	switch trig.Kind {
	case TriggerPROpened:
		next = StatusInProgress
		meta = Metadata{"pr_number": trig.PRNumber, "pr_title": trig.PRTitle, "pr_url": trig.PRURL, "pr_submitted_at": at}
		if claim != nil {
			meta["github_username"] = claim.SubmitterUsername
		}
	case TriggerPRMerged:
		next = StatusCompleted
		meta = Metadata{"merged_at": at, "merged_by": trig.Actor, "pr_url": trig.PRURL}
	case TriggerPRClosed:
		next = StatusChangesRequested
		meta = Metadata{"closed_at": at, "pr_url": trig.PRURL}
	case TriggerPRReopened:
		next = StatusInProgress
		meta = Metadata{"reopened_at": at, "pr_url": trig.PRURL}
	case TriggerReviewApproved:
		next = StatusApproved
		meta = Metadata{"review_id": trig.ReviewID, "reviewer": trig.Actor, "submitted_at": at}
	case TriggerReviewChangesRequested:
		next = StatusChangesRequested
		meta = Metadata{"review_id": trig.ReviewID, "reviewer": trig.Actor, "submitted_at": at}
	case TriggerReviewCommented:
		return Decision{Next: cur, NoOp: true, Reason: "comment reviews do not change status"}, nil
	case TriggerIssueClosed:
		if b.LinkedPR() != "" {
			return Decision{Next: cur, NoOp: true, Reason: "bounty has a linked pull request"}, nil
		}
		next = StatusCancelled
		meta = Metadata{"closed_at": at, "closed_by": trig.Actor, "reason": IssueClosedReason}
	case TriggerIssueReopened:
		if cur != StatusCancelled {
			return Decision{Next: cur, NoOp: true, Reason: "bounty is not cancelled"}, nil
		}
		next = StatusOpen
		meta = Metadata{"reopened_at": at, "reopened_by": trig.Actor}
	default:
		return Decision{}, fmt.Errorf("unknown trigger %q", trig.Kind)
	}
	meta["trigger"] = string(trig.Kind)

	if next == cur {
		if claim == nil || claimed(b, claim) {
			return Decision{Next: cur, NoOp: true, Reason: "already " + string(cur)}, nil
		}
		return Decision{Next: next, Metadata: meta}, nil
	}
	if !CanTransition(cur, next) {
		return Decision{Next: cur, NoOp: true, Reason: "illegal transition"},
			fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, cur, next)
	}
	return Decision{Next: next, Metadata: meta}, nil
}

func claimed(b *Bounty, c *Claim) bool {
	return b.LinkedPR() == c.PRURL && b.SubmitterUsername == c.SubmitterUsername
}

// TransitionRequest is a conditional status write. The write applies only if
// the stored status (and version, when non-zero) still match.
type TransitionRequest struct {
	BountyID        string
	ExpectedStatus  Status
	ExpectedVersion int64
	Next            Status
	Metadata        Metadata
	Claim           *Claim
	At              time.Time
}

// Store is the persistence the state machine needs.
type Store interface {
	GetBounty(ctx context.Context, id string) (*Bounty, error)
	CompareAndTransition(ctx context.Context, req TransitionRequest) (*Bounty, error)
}

// Result describes what Apply did.
type Result struct {
	Bounty  *Bounty
	From    Status
	To      Status
	Changed bool
	Reason  string
}

const maxCASAttempts = 5

// Machine applies triggers to stored bounties with single-writer semantics.
type Machine struct {
	store  Store
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewMachine builds a Machine. A nil clock means the wall clock.
func NewMachine(store Store, clock clockwork.Clock, logger *slog.Logger) *Machine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Machine{store: store, clock: clock, logger: logger.With("component", "state_machine")}
}

// CompareAndTransition moves bountyID from expected to next, replacing its
// status metadata. It fails with ErrConflict if the stored status differs and
// with ErrIllegalTransition if the move is not in the table.
func (m *Machine) CompareAndTransition(ctx context.Context, bountyID string, expected, next Status, meta Metadata) (*Bounty, error) {
	if !expected.Valid() || !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q -> %q", ErrIllegalTransition, expected, next)
	}
	if !expected.Equal(next) && !CanTransition(expected, next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, expected.Normalize(), next.Normalize())
	}
	return m.store.CompareAndTransition(ctx, TransitionRequest{
		BountyID:       bountyID,
		ExpectedStatus: expected,
		Next:           next.Normalize(),
		Metadata:       meta,
		At:             m.clock.Now(),
	})
}

// Apply reads the bounty, decides the transition for trig and writes it
// conditionally, re-reading on conflict.
func (m *Machine) Apply(ctx context.Context, bountyID string, trig Trigger, claim *Claim) (Result, error) {
	logger := m.logger.With("bounty_id", bountyID, "trigger", trig.Kind)

	for attempt := 1; ; attempt++ {
		b, err := m.store.GetBounty(ctx, bountyID)
		if err != nil {
			return Result{}, err
		}

		d, err := Decide(b, trig, claim)
		if err != nil {
			logger.Warn("transition rejected", "status", b.Status, "error", err)
			return Result{Bounty: b, From: b.Status, To: b.Status, Reason: d.Reason}, err
		}
		if d.NoOp {
			logger.Debug("transition skipped", "status", b.Status, "reason", d.Reason)
			return Result{Bounty: b, From: b.Status, To: b.Status, Reason: d.Reason}, nil
		}

		updated, err := m.store.CompareAndTransition(ctx, TransitionRequest{
			BountyID:        b.ID,
			ExpectedStatus:  b.Status,
			ExpectedVersion: b.Version,
			Next:            d.Next,
			Metadata:        d.Metadata,
			Claim:           claim,
			At:              m.clock.Now(),
		})
		if errors.Is(err, ErrConflict) && attempt < maxCASAttempts {
			logger.Debug("transition conflict, retrying", "attempt", attempt)
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("transition %s: %w", bountyID, err)
		}

		logger.Info("bounty transitioned", "from", b.Status, "to", updated.Status)
		return Result{Bounty: updated, From: b.Status, To: updated.Status, Changed: true}, nil
	}
}
