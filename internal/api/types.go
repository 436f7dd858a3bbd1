package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/bounty"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/events"
)

// SettleRequest is the JSON body for POST /v1/bounties/{id}/settle.
type SettleRequest struct {
	Submitter string `json:"submitter"`
}

// RetryRequest is the optional JSON body for POST /v1/bounties/{id}/payment/retry.
type RetryRequest struct {
	Note string `json:"note,omitempty"`
}

// BountyResponse is returned by GET /v1/bounties/{id}
type BountyResponse struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	Amount            decimal.Decimal  `json:"amount"`
	TokenMint         string           `json:"token_mint,omitempty"`
	IssueURL          string           `json:"issue_url"`
	RepositoryURL     string           `json:"repository_url"`
	Status            bounty.Status    `json:"status"`
	ClaimedBy         string           `json:"claimed_by,omitempty"`
	ClaimedAt         *time.Time       `json:"claimed_at,omitempty"`
	PRURL             string           `json:"pr_url,omitempty"`
	SubmitterUsername string           `json:"submitter_username,omitempty"`
	StatusMetadata    bounty.Metadata  `json:"status_metadata,omitempty"`
	Payment           *PaymentResponse `json:"payment,omitempty"`
	Version           int64            `json:"version"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// PaymentResponse is returned by GET /v1/bounties/{id}/payment
type PaymentResponse struct {
	BountyID            string               `json:"bounty_id"`
	Status              bounty.PaymentStatus `json:"status"`
	Attempt             int                  `json:"attempt"`
	Signature           string               `json:"signature,omitempty"`
	LastError           string               `json:"last_error,omitempty"`
	NotificationSent    bool                 `json:"notification_sent"`
	ProcessingStartedAt *time.Time           `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time           `json:"completed_at,omitempty"`
	FailedAt            *time.Time           `json:"failed_at,omitempty"`
	UpdatedAt           time.Time            `json:"updated_at"`
	History             []HistoryResponse    `json:"history,omitempty"`
}

// HistoryResponse is one audited payment status change.
type HistoryResponse struct {
	Status     bounty.PaymentStatus `json:"status"`
	Attempt    int                  `json:"attempt"`
	Signature  string               `json:"signature,omitempty"`
	Error      string               `json:"error,omitempty"`
	Note       string               `json:"note,omitempty"`
	RecordedAt time.Time            `json:"recorded_at"`
}

// EventsResponse is returned by GET /v1/events.
type EventsResponse struct {
	Events []events.Event `json:"events"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
}

func toBountyResponse(b *bounty.Bounty) BountyResponse {
	resp := BountyResponse{
		ID:                b.ID,
		Title:             b.Title,
		Amount:            b.Amount,
		TokenMint:         b.TokenMint,
		IssueURL:          b.IssueURL,
		RepositoryURL:     b.RepositoryURL,
		Status:            b.Status,
		ClaimedBy:         b.ClaimedBy,
		ClaimedAt:         b.ClaimedAt,
		PRURL:             b.PRURL,
		SubmitterUsername: b.SubmitterUsername,
		StatusMetadata:    b.StatusMetadata,
		Version:           b.Version,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
	if b.Payment != nil {
		p := toPaymentResponse(b.Payment, nil)
		resp.Payment = &p
	}
	return resp
}

func toPaymentResponse(p *bounty.Payment, history []bounty.HistoryEntry) PaymentResponse {
	resp := PaymentResponse{
		BountyID:            p.BountyID,
		Status:              p.Status,
		Attempt:             p.Attempt,
		Signature:           p.Signature,
		LastError:           p.LastError,
		NotificationSent:    p.NotificationSent,
		ProcessingStartedAt: p.ProcessingStartedAt,
		CompletedAt:         p.CompletedAt,
		FailedAt:            p.FailedAt,
		UpdatedAt:           p.UpdatedAt,
	}
	for _, h := range history {
		resp.History = append(resp.History, HistoryResponse{
			Status:     h.Status,
			Attempt:    h.Attempt,
			Signature:  h.Signature,
			Error:      h.Error,
			Note:       h.Note,
			RecordedAt: h.RecordedAt,
		})
	}
	return resp
}
