// Package inspect renders the settlement trail of one bounty: its status,
// payment record, audited payment history and queued retry jobs.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/bounty"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/queue"
)

// Source is the read side the report draws from.
type Source interface {
	GetBounty(ctx context.Context, id string) (*bounty.Bounty, error)
	PaymentHistory(ctx context.Context, bountyID string) ([]bounty.HistoryEntry, error)
}

// JobFinder lists retry jobs recorded for a bounty.
type JobFinder interface {
	FindJobsByBounty(ctx context.Context, bountyID string) ([]*queue.Job, error)
}

// Report is the structured JSON representation of a settlement trail.
type Report struct {
	BountyID   string        `json:"bounty_id"`
	Title      string        `json:"title"`
	Status     bounty.Status `json:"status"`
	Amount     string        `json:"amount"`
	TokenMint  string        `json:"token_mint,omitempty"`
	PRURL      string        `json:"pr_url,omitempty"`
	Submitter  string        `json:"submitter,omitempty"`
	Payment    *Payment      `json:"payment,omitempty"`
	History    []HistoryStep `json:"history"`
	RetryJobs  []RetryJob    `json:"retry_jobs"`
	RenderedAt time.Time     `json:"rendered_at"`
}

// Payment summarises the current payment record.
type Payment struct {
	Status           bounty.PaymentStatus `json:"status"`
	Attempt          int                  `json:"attempt"`
	Signature        string               `json:"signature,omitempty"`
	LastError        string               `json:"last_error,omitempty"`
	NotificationSent bool                 `json:"notification_sent"`
}

// HistoryStep is one audited payment status change.
type HistoryStep struct {
	Step      int                  `json:"step"`
	Status    bounty.PaymentStatus `json:"status"`
	Attempt   int                  `json:"attempt"`
	Signature string               `json:"signature,omitempty"`
	Error     string               `json:"error,omitempty"`
	Note      string               `json:"note,omitempty"`
	At        time.Time            `json:"at"`
}

// RetryJob is a queued or finished settlement attempt.
type RetryJob struct {
	JobID       string       `json:"job_id"`
	Status      queue.Status `json:"status"`
	Attempt     int          `json:"attempt"`
	MaxAttempts int          `json:"max_attempts"`
	SubmittedBy string       `json:"submitted_by"`
	NextRetryAt *time.Time   `json:"next_retry_at,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
}

// BuildReport renders a terminal-friendly settlement report for a bounty.
func BuildReport(ctx context.Context, src Source, jobs JobFinder, bountyID string, now time.Time) (string, error) {
	report, err := gatherReportData(ctx, src, jobs, bountyID, now)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Settlement Report\n")
	fmt.Fprintf(&out, "Bounty ID   : %s\n", report.BountyID)
	fmt.Fprintf(&out, "Title       : %s\n", renderUnset(report.Title, "<untitled>"))
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Amount      : %s %s\n", report.Amount, renderUnset(report.TokenMint, "(native)"))
	fmt.Fprintf(&out, "PR          : %s\n", renderUnset(report.PRURL, "<none>"))
	fmt.Fprintf(&out, "Submitter   : %s\n", renderUnset(report.Submitter, "<unknown>"))

	if report.Payment == nil {
		fmt.Fprintf(&out, "Payment     : <none>\n")
	} else {
		p := report.Payment
		fmt.Fprintf(&out, "Payment     : %s (attempt %d, notified %t)\n", p.Status, p.Attempt, p.NotificationSent)
		if p.Signature != "" {
			fmt.Fprintf(&out, "Signature   : %s\n", p.Signature)
		}
		if p.LastError != "" {
			fmt.Fprintf(&out, "Last error  : %s\n", p.LastError)
		}
	}
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "History\n")
	if len(report.History) == 0 {
		fmt.Fprintf(&out, "  <none>\n")
	}
	for _, h := range report.History {
		fmt.Fprintf(&out, "  [%d] %s  %-10s attempt=%d", h.Step, h.At.Format(time.RFC3339), h.Status, h.Attempt)
		if h.Note != "" {
			fmt.Fprintf(&out, "  %s", h.Note)
		}
		if h.Error != "" {
			fmt.Fprintf(&out, "  error=%q", h.Error)
		}
		if h.Signature != "" {
			fmt.Fprintf(&out, "  sig=%s", h.Signature)
		}
		fmt.Fprintf(&out, "\n")
	}
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Retry jobs\n")
	if len(report.RetryJobs) == 0 {
		fmt.Fprintf(&out, "  <none>\n")
	}
	for _, j := range report.RetryJobs {
		fmt.Fprintf(&out, "  %s  %-9s attempt %d/%d by %s", j.JobID, j.Status, j.Attempt, j.MaxAttempts, j.SubmittedBy)
		if j.NextRetryAt != nil && j.Status == queue.StatusQueued {
			fmt.Fprintf(&out, "  due in %s", j.NextRetryAt.Sub(now).Round(time.Second))
		}
		if j.LastError != "" {
			fmt.Fprintf(&out, "  error=%q", j.LastError)
		}
		fmt.Fprintf(&out, "\n")
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable settlement report.
func BuildJSONReport(ctx context.Context, src Source, jobs JobFinder, bountyID string, now time.Time) (string, error) {
	report, err := gatherReportData(ctx, src, jobs, bountyID, now)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, src Source, jobs JobFinder, bountyID string, now time.Time) (*Report, error) {
	if strings.TrimSpace(bountyID) == "" {
		return nil, fmt.Errorf("bounty id is required")
	}

	b, err := src.GetBounty(ctx, bountyID)
	if err != nil {
		if errors.Is(err, bounty.ErrNotFound) {
			return nil, fmt.Errorf("bounty %q not found", bountyID)
		}
		return nil, fmt.Errorf("load bounty %q: %w", bountyID, err)
	}

	report := &Report{
		BountyID:   b.ID,
		Title:      b.Title,
		Status:     b.Status.Normalize(),
		Amount:     b.Amount.String(),
		TokenMint:  b.TokenMint,
		PRURL:      b.PRURL,
		Submitter:  b.SubmitterUsername,
		History:    make([]HistoryStep, 0),
		RetryJobs:  make([]RetryJob, 0),
		RenderedAt: now.UTC(),
	}
	if b.Payment != nil {
		report.Payment = &Payment{
			Status:           b.Payment.Status,
			Attempt:          b.Payment.Attempt,
			Signature:        b.Payment.Signature,
			LastError:        b.Payment.LastError,
			NotificationSent: b.Payment.NotificationSent,
		}
	}

	history, err := src.PaymentHistory(ctx, bountyID)
	if err != nil {
		return nil, fmt.Errorf("load payment history: %w", err)
	}
	for i, h := range history {
		report.History = append(report.History, HistoryStep{
			Step:      i + 1,
			Status:    h.Status,
			Attempt:   h.Attempt,
			Signature: h.Signature,
			Error:     h.Error,
			Note:      h.Note,
			At:        h.RecordedAt,
		})
	}

	queued, err := jobs.FindJobsByBounty(ctx, bountyID)
	if err != nil {
		return nil, fmt.Errorf("load retry jobs: %w", err)
	}
	for _, j := range queued {
		rj := RetryJob{
			JobID:       j.ID,
			Status:      j.Status,
			Attempt:     j.Attempt,
			MaxAttempts: j.MaxAttempts,
			SubmittedBy: j.SubmittedBy,
			NextRetryAt: j.NextRetryAt,
		}
		if j.LastError != nil {
			rj.LastError = *j.LastError
		}
		report.RetryJobs = append(report.RetryJobs, rj)
	}

	return report, nil
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
