package e2e

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/bounty"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/dispatch"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/event"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/events"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/ledger"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/log"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/notify"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/payment"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/processor"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/queue"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/resolver"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/storage"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/store"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/webhook"
)

const (
	secret      = "e2e-webhook-secret"
	repoURL     = "https://github.com/org/repo"
	aliceWallet = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
)

type stack struct {
	store    *store.Store
	queue    *queue.Queue
	hub      *events.Hub
	clock    *clockwork.FakeClock
	notify   *notify.Sink
	hooks    http.Handler
	dispatch *dispatch.Dispatcher
}

func newStack(t *testing.T, ledgerURL, notifyURL string) *stack {
	t.Helper()
	log.Setup("ERROR")
	logger := log.Get()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "solforge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC))
	st := store.New(db, clock)
	q := queue.New(db, clock)
	hub := events.NewHub(64, clock)

	sink := notify.New(notify.Config{WebhookURL: notifyURL, Timeout: 5 * time.Second}, hub, st, logger)
	t.Cleanup(sink.Wait)
	orch := payment.New(payment.Config{MaxRetries: 3, BackoffBase: time.Second, AttemptTimeout: 5 * time.Second, StaleAfter: time.Minute},
		st,
		ledger.NewClient(ledger.Config{Endpoint: ledgerURL, Token: "ledger-token", Timeout: 5 * time.Second}, logger),
		sink, q, hub, clock, logger)
	proc := processor.New(
		resolver.New(st, resolver.Options{RepositoryFallback: true}, logger),
		bounty.NewMachine(st, clock, logger),
		orch, hub, clock, logger)
	hooks := webhook.New(webhook.Config{Path: "/webhook/github", Secret: secret}, proc, st, logger)

	return &stack{
		store:    st,
		queue:    q,
		hub:      hub,
		clock:    clock,
		notify:   sink,
		hooks:    hooks.Handler(),
		dispatch: dispatch.New(q, orch, time.Second, clock),
	}
}

func (s *stack) deliver(t *testing.T, eventType, deliveryID string, payload any) (int, webhook.AckResponse) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.HeaderEvent, eventType)
	req.Header.Set(webhook.HeaderDelivery, deliveryID)
	req.Header.Set(webhook.HeaderSignature, "sha256="+hex.EncodeToString(mac.Sum(nil)))
	rr := httptest.NewRecorder()
	s.hooks.ServeHTTP(rr, req)

	var ack webhook.AckResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &ack)
	return rr.Code, ack
}

func pullRequestEvent(action string, merged bool) event.PullRequestEvent {
	pr := event.PullRequest{
		Number:  12,
		Title:   "Fix the parser",
		Body:    "Fixes #7",
		HTMLURL: repoURL + "/pull/12",
		State:   "open",
		User:    event.User{Login: "alice"},
	}
	if merged {
		pr.State = "closed"
		pr.Merged = true
		pr.MergedBy = &event.User{Login: "maint"}
	}
	return event.PullRequestEvent{
		Action:      action,
		Number:      pr.Number,
		PullRequest: pr,
		Repository:  event.Repository{FullName: "org/repo", HTMLURL: repoURL},
		Sender:      pr.User,
	}
}

// TestEndToEndSettlement drives a bounty from PR opened to paid through the
// webhook listener, with the first transfer failing transiently and the
// durable retry completing it.
func TestEndToEndSettlement(t *testing.T) {
	var ledgerCalls atomic.Int32
	ledgerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ledgerCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":"signer warming up"}`)
			return
		}
		_, _ = io.WriteString(w, `{"signature":"5igNaTuRe"}`)
	}))
	defer ledgerSrv.Close()

	var (
		notifyMu sync.Mutex
		notified []notify.Message
	)
	notifySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg notify.Message
		_ = json.NewDecoder(r.Body).Decode(&msg)
		notifyMu.Lock()
		notified = append(notified, msg)
		notifyMu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer notifySrv.Close()

	s := newStack(t, ledgerSrv.URL, notifySrv.URL)
	ctx := context.Background()

	alice := &bounty.User{GitHubUsername: "alice", WalletAddress: aliceWallet}
	require.NoError(t, s.store.CreateUser(ctx, alice))
	b := &bounty.Bounty{
		Title:         "Parser crashes on empty input",
		Amount:        decimal.RequireFromString("12.5"),
		IssueURL:      repoURL + "/issues/7",
		RepositoryURL: repoURL,
		CreatedBy:     "maint",
	}
	require.NoError(t, s.store.CreateBounty(ctx, b))

	code, ack := s.deliver(t, "ping", "d-0", map[string]any{"zen": "Design for failure."})
	require.Equal(t, http.StatusOK, code)

	code, ack = s.deliver(t, "pull_request", "d-1", pullRequestEvent("opened", false))
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, ack.Result)
	assert.Equal(t, bounty.StatusInProgress, ack.Result.To)

	code, ack = s.deliver(t, "pull_request_review", "d-2", event.PullRequestReviewEvent{
		Action:      "submitted",
		Review:      event.Review{ID: 1, State: "approved", User: event.User{Login: "maint"}},
		PullRequest: pullRequestEvent("opened", false).PullRequest,
		Repository:  event.Repository{FullName: "org/repo", HTMLURL: repoURL},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, bounty.StatusApproved, ack.Result.To)

	code, ack = s.deliver(t, "pull_request", "d-3", pullRequestEvent("closed", true))
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, ack.Result)
	assert.Equal(t, bounty.StatusCompleted, ack.Result.To)
	require.NotNil(t, ack.Result.Payment)
	assert.False(t, ack.Result.Payment.Success)
	assert.Equal(t, bounty.PaymentPending, ack.Result.Payment.Status)

	p, err := s.store.GetPayment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, bounty.PaymentPending, p.Status)
	assert.Equal(t, 1, p.Attempt)

	// The retry is not due yet.
	ran, err := s.dispatch.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, ran)

	s.clock.Advance(10 * time.Second)
	ran, err = s.dispatch.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	s.notify.Wait()

	p, err = s.store.GetPayment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, bounty.PaymentCompleted, p.Status)
	assert.Equal(t, "5igNaTuRe", p.Signature)
	assert.Equal(t, 2, p.Attempt)
	assert.True(t, p.NotificationSent)
	assert.EqualValues(t, 2, ledgerCalls.Load())

	notifyMu.Lock()
	require.Len(t, notified, 1)
	assert.Equal(t, b.ID, notified[0].BountyID)
	assert.Equal(t, "5igNaTuRe", notified[0].Signature)
	notifyMu.Unlock()

	// GitHub redelivers the merge; nothing is paid twice.
	code, ack = s.deliver(t, "pull_request", "d-3", pullRequestEvent("closed", true))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "duplicate", ack.Status)

	code, ack = s.deliver(t, "pull_request", "d-4", pullRequestEvent("closed", true))
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, ledgerCalls.Load())

	jobs, err := s.queue.FindJobsByBounty(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.StatusSucceeded, jobs[0].Status)

	var completed int
	for _, ev := range s.hub.SnapshotSince(0) {
		if ev.Type == events.TypePaymentCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}

func TestEndToEndRejectsForgedDelivery(t *testing.T) {
	s := newStack(t, "http://127.0.0.1:1", "")

	body := []byte(`{"action":"closed"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	req.Header.Set(webhook.HeaderEvent, "pull_request")
	req.Header.Set(webhook.HeaderSignature, "sha256="+hex.EncodeToString(make([]byte, 32)))
	rr := httptest.NewRecorder()
	s.hooks.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, s.hub.SnapshotSince(0))
}
