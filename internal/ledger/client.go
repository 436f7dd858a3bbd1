// Package ledger is the HTTP client for the transfer signer that executes
// bounty payouts on chain.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrPermanent wraps ledger rejections that will not succeed on retry.
var ErrPermanent = errors.New("permanent ledger error")

var walletPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// ValidWallet reports whether addr looks like a base58 Solana public key.
func ValidWallet(addr string) bool {
	return walletPattern.MatchString(addr)
}

// Instruction is the on-chain completion variant.
type Instruction string

const (
	InstructionVerified Instruction = "complete_bounty_verified"
	InstructionPlain    Instruction = "complete_bounty"
)

// InstructionFor selects the verified variant when a PR URL is known.
func InstructionFor(prURL string) Instruction {
	if strings.TrimSpace(prURL) != "" {
		return InstructionVerified
	}
	return InstructionPlain
}

// TransferRequest describes one payout.
type TransferRequest struct {
	BountyID  string
	Wallet    string
	PRURL     string
	Amount    decimal.Decimal
	TokenMint string // empty means native currency
}

type transferBody struct {
	BountyID    string      `json:"bounty_id"`
	Wallet      string      `json:"wallet"`
	PRURL       string      `json:"pr_url,omitempty"`
	Amount      string      `json:"amount"`
	TokenMint   string      `json:"token_mint,omitempty"`
	Instruction Instruction `json:"instruction"`
}

type transferResponse struct {
	Signature string `json:"signature"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Config configures a Client.
type Config struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
}

// Client calls the signer's transfer endpoint.
type Client struct {
	endpoint string
	token    string
	client   *http.Client
	logger   *slog.Logger
}

// NewClient creates a Client. A zero timeout leaves deadlines to the caller's context.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		token:    cfg.Token,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger.With("component", "ledger"),
	}
}

// Transfer submits a payout and returns the transaction signature. Errors
// wrapping ErrPermanent must not be retried; all others may be.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	if !ValidWallet(req.Wallet) {
		return "", fmt.Errorf("%w: invalid wallet address", ErrPermanent)
	}
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("%w: amount must be positive", ErrPermanent)
	}

	body, err := json.Marshal(transferBody{
		BountyID:    req.BountyID,
		Wallet:      req.Wallet,
		PRURL:       req.PRURL,
		Amount:      req.Amount.String(),
		TokenMint:   req.TokenMint,
		Instruction: InstructionFor(req.PRURL),
	})
	if err != nil {
		return "", fmt.Errorf("marshal transfer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", "bounty-"+req.BountyID)
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("transfer request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read transfer response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg := string(bytes.TrimSpace(respBody))
		var er errorResponse
		if json.Unmarshal(respBody, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", fmt.Errorf("ledger error (%d): %s", resp.StatusCode, msg)
		}
		return "", fmt.Errorf("%w: ledger rejected transfer (%d): %s", ErrPermanent, resp.StatusCode, msg)
	}

	var out transferResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decode transfer response: %w", err)
	}
	if out.Signature == "" {
		return "", errors.New("ledger response missing signature")
	}

	c.logger.Debug("transfer submitted", "bounty_id", req.BountyID, "instruction", InstructionFor(req.PRURL), "signature", out.Signature)
	return out.Signature, nil
}
