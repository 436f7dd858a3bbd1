package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wallet = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

func newTestClient(url string) *Client {
	return NewClient(Config{Endpoint: url, Token: "tok", Timeout: 2 * time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestValidWallet(t *testing.T) {
	t.Parallel()
	assert.True(t, ValidWallet(wallet))
	assert.False(t, ValidWallet(""))
	assert.False(t, ValidWallet("0xdeadbeef"))
	assert.False(t, ValidWallet("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFiO")) // O is not base58
}

func TestInstructionFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, InstructionVerified, InstructionFor("https://github.com/o/r/pull/1"))
	assert.Equal(t, InstructionPlain, InstructionFor("  "))
}

func TestTransferSuccess(t *testing.T) {
	t.Parallel()
	var got transferBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "bounty-b1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(transferResponse{Signature: "sig-1"})
	}))
	defer srv.Close()

	sig, err := newTestClient(srv.URL+"/").Transfer(context.Background(), TransferRequest{
		BountyID: "b1", Wallet: wallet, PRURL: "https://github.com/o/r/pull/1", Amount: decimal.RequireFromString("2.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, "sig-1", sig)
	assert.Equal(t, "2.5", got.Amount)
	assert.Equal(t, InstructionVerified, got.Instruction)
	assert.Empty(t, got.TokenMint)
}

func TestTransferErrorClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{"server error is transient", http.StatusBadGateway, `{"error":"rpc down"}`, false},
		{"rate limit is transient", http.StatusTooManyRequests, ``, false},
		{"bad request is permanent", http.StatusBadRequest, `{"error":"insufficient escrow"}`, true},
		{"conflict is permanent", http.StatusConflict, `already paid`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).Transfer(context.Background(), TransferRequest{
				BountyID: "b1", Wallet: wallet, Amount: decimal.NewFromInt(1),
			})
			require.Error(t, err)
			assert.Equal(t, tt.permanent, errors.Is(err, ErrPermanent), err.Error())
		})
	}
}

func TestTransferRejectsBadInputWithoutCalling(t *testing.T) {
	t.Parallel()
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()
	c := newTestClient(srv.URL)

	_, err := c.Transfer(context.Background(), TransferRequest{BountyID: "b1", Wallet: "nope", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrPermanent)
	_, err = c.Transfer(context.Background(), TransferRequest{BountyID: "b1", Wallet: wallet})
	assert.ErrorIs(t, err, ErrPermanent)
	assert.False(t, called)
}

func TestTransferTransportErrorIsTransient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).Transfer(context.Background(), TransferRequest{BountyID: "b1", Wallet: wallet, Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPermanent))
}
