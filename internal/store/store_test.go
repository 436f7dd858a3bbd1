package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/bounty"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/storage"
)

var epoch = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "solforge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	clock := clockwork.NewFakeClockAt(epoch)
	return New(db, clock), clock
}

func seedBounty(t *testing.T, s *Store, mutate func(*bounty.Bounty)) *bounty.Bounty {
	t.Helper()
	b := &bounty.Bounty{
		Title:         "Fix flaky login",
		Amount:        decimal.RequireFromString("1.5"),
		IssueURL:      "https://github.com/org/repo/issues/42",
		RepositoryURL: "https://github.com/org/repo",
		CreatedBy:     "maintainer-1",
	}
	if mutate != nil {
		mutate(b)
	}
	require.NoError(t, s.CreateBounty(context.Background(), b))
	return b
}

func TestCreateAndGetBounty(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	b := seedBounty(t, s, func(b *bounty.Bounty) { b.TokenMint = "So11111111111111111111111111111111111111112" })

	got, err := s.GetBounty(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, bounty.StatusOpen, got.Status)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, b.TokenMint, got.TokenMint)
	assert.Equal(t, int64(1), got.Version)
	assert.Nil(t, got.Payment)
	assert.True(t, epoch.Equal(got.CreatedAt))

	_, err = s.GetBounty(ctx, "missing")
	assert.ErrorIs(t, err, bounty.ErrNotFound)
}

func TestCreateBountyValidates(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	err := s.CreateBounty(context.Background(), &bounty.Bounty{Title: "x", IssueURL: "i", RepositoryURL: "r", CreatedBy: "c"})
	assert.Error(t, err)
}

func TestFindBountyByPRMatchesLegacyClaimField(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	legacy := seedBounty(t, s, func(b *bounty.Bounty) { b.ClaimPR = "https://github.com/org/repo/pull/7" })
	modern := seedBounty(t, s, func(b *bounty.Bounty) { b.PRURL = "https://github.com/org/repo/pull/8" })

	got, err := s.FindBountyByPR(ctx, "https://github.com/org/repo/pull/7")
	require.NoError(t, err)
	assert.Equal(t, legacy.ID, got.ID)

	got, err = s.FindBountyByPR(ctx, "https://github.com/org/repo/pull/8")
	require.NoError(t, err)
	assert.Equal(t, modern.ID, got.ID)

	_, err = s.FindBountyByPR(ctx, "https://github.com/org/repo/pull/9")
	assert.ErrorIs(t, err, bounty.ErrNotFound)
}

func TestListBountiesByRepositoryOrdersByCreation(t *testing.T) {
	t.Parallel()
	s, clock := newTestStore(t)

	first := seedBounty(t, s, nil)
	clock.Advance(time.Minute)
	second := seedBounty(t, s, func(b *bounty.Bounty) { b.IssueURL = "https://github.com/org/repo/issues/43" })
	seedBounty(t, s, func(b *bounty.Bounty) { b.RepositoryURL = "https://github.com/org/other" })

	got, err := s.ListBountiesByRepository(context.Background(), "https://github.com/org/repo/")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
}

func TestCompareAndTransition(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()
	b := seedBounty(t, s, nil)

	updated, err := s.CompareAndTransition(ctx, bounty.TransitionRequest{
		BountyID:        b.ID,
		ExpectedStatus:  bounty.StatusOpen,
		ExpectedVersion: 1,
		Next:            bounty.StatusInProgress,
		Metadata:        bounty.Metadata{"pr_number": 3},
		Claim:           &bounty.Claim{PRURL: "https://github.com/org/repo/pull/3", SubmitterUsername: "alice"},
	})
	require.NoError(t, err)
	assert.Equal(t, bounty.StatusInProgress, updated.Status)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "https://github.com/org/repo/pull/3", updated.PRURL)
	assert.Equal(t, "https://github.com/org/repo/pull/3", updated.ClaimPR)
	assert.Equal(t, "alice", updated.SubmitterUsername)
	assert.EqualValues(t, 3, updated.StatusMetadata["pr_number"])

	t.Run("stale version conflicts", func(t *testing.T) {
		_, err := s.CompareAndTransition(ctx, bounty.TransitionRequest{
			BountyID: b.ID, ExpectedStatus: bounty.StatusInProgress, ExpectedVersion: 1, Next: bounty.StatusApproved,
		})
		assert.ErrorIs(t, err, bounty.ErrConflict)
	})

	t.Run("status mismatch conflicts", func(t *testing.T) {
		_, err := s.CompareAndTransition(ctx, bounty.TransitionRequest{
			BountyID: b.ID, ExpectedStatus: bounty.StatusOpen, Next: bounty.StatusCancelled,
		})
		assert.ErrorIs(t, err, bounty.ErrConflict)
	})

	t.Run("metadata is replaced", func(t *testing.T) {
		got, err := s.CompareAndTransition(ctx, bounty.TransitionRequest{
			BountyID: b.ID, ExpectedStatus: bounty.StatusInProgress, Next: bounty.StatusApproved,
			Metadata: bounty.Metadata{"reviewer": "bob"},
		})
		require.NoError(t, err)
		assert.Equal(t, bounty.Metadata{"reviewer": "bob"}, got.StatusMetadata)
	})
}

func TestCompareAndTransitionTreatsClaimedAsInProgress(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	b := seedBounty(t, s, func(b *bounty.Bounty) { b.Status = bounty.StatusClaimed })

	got, err := s.CompareAndTransition(context.Background(), bounty.TransitionRequest{
		BountyID: b.ID, ExpectedStatus: bounty.StatusInProgress, Next: bounty.StatusApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, bounty.StatusApproved, got.Status)
}

func TestCompareAndTransitionIntoCompletedCreatesPayment(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()
	b := seedBounty(t, s, func(b *bounty.Bounty) { b.Status = bounty.StatusApproved })

	got, err := s.CompareAndTransition(ctx, bounty.TransitionRequest{
		BountyID: b.ID, ExpectedStatus: bounty.StatusApproved, Next: bounty.StatusCompleted,
	})
	require.NoError(t, err)
	require.NotNil(t, got.Payment)
	assert.Equal(t, bounty.PaymentPending, got.Payment.Status)
	assert.Equal(t, 0, got.Payment.Attempt)

	history, err := s.PaymentHistory(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "created", history[0].Note)
}

func TestCompareAndTransitionSingleWriter(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	b := seedBounty(t, s, func(b *bounty.Bounty) { b.Status = bounty.StatusInProgress })

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CompareAndTransition(context.Background(), bounty.TransitionRequest{
				BountyID: b.ID, ExpectedStatus: bounty.StatusInProgress, ExpectedVersion: 1, Next: bounty.StatusCompleted,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, bounty.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, writers-1, conflicts)

	history, err := s.PaymentHistory(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPaymentLifecycle(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()
	b := seedBounty(t, s, func(b *bounty.Bounty) { b.Status = bounty.StatusInProgress })
	_, err := s.CompareAndTransition(ctx, bounty.TransitionRequest{
		BountyID: b.ID, ExpectedStatus: bounty.StatusInProgress, Next: bounty.StatusCompleted,
	})
	require.NoError(t, err)

	p, err := s.BeginAttempt(ctx, b.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, bounty.PaymentProcessing, p.Status)
	assert.Equal(t, 1, p.Attempt)
	assert.NotNil(t, p.ProcessingStartedAt)

	_, err = s.BeginAttempt(ctx, b.ID, 0)
	assert.ErrorIs(t, err, bounty.ErrPaymentState, "the same attempt cannot be claimed twice")

	p, err = s.RetryPayment(ctx, b.ID, "rpc timeout")
	require.NoError(t, err)
	assert.Equal(t, bounty.PaymentPending, p.Status)
	assert.Equal(t, "rpc timeout", p.LastError)

	_, err = s.BeginAttempt(ctx, b.ID, 1)
	require.NoError(t, err)
	p, err = s.CompletePayment(ctx, b.ID, "5igSig")
	require.NoError(t, err)
	assert.Equal(t, bounty.PaymentCompleted, p.Status)
	assert.Equal(t, 2, p.Attempt)
	assert.Equal(t, "5igSig", p.Signature)
	assert.Empty(t, p.LastError)

	_, err = s.FailPayment(ctx, b.ID, "late failure")
	assert.ErrorIs(t, err, bounty.ErrPaymentState, "completed records are immutable")
	_, err = s.ResetPayment(ctx, b.ID, "manual")
	assert.ErrorIs(t, err, bounty.ErrPaymentState)

	require.NoError(t, s.MarkNotified(ctx, b.ID))
	require.NoError(t, s.MarkNotified(ctx, b.ID), "marking twice is a no-op")
	p, err = s.GetPayment(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, p.NotificationSent)
	assert.Equal(t, bounty.PaymentCompleted, p.Status)
	assert.Equal(t, "5igSig", p.Signature)

	history, err := s.PaymentHistory(ctx, b.ID)
	require.NoError(t, err)
	statuses := make([]bounty.PaymentStatus, 0, len(history))
	for _, h := range history {
		statuses = append(statuses, h.Status)
	}
	assert.Equal(t, []bounty.PaymentStatus{
		bounty.PaymentPending, bounty.PaymentProcessing, bounty.PaymentPending, bounty.PaymentProcessing,
		bounty.PaymentCompleted, bounty.PaymentCompleted,
	}, statuses)
	assert.Equal(t, "notification sent", history[len(history)-1].Note)

	assert.ErrorIs(t, s.MarkNotified(ctx, "missing"), bounty.ErrPaymentNotFound)
}

func TestFailAndResetPayment(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()
	b := seedBounty(t, s, func(b *bounty.Bounty) { b.Status = bounty.StatusCompleted })

	p, err := s.FailPayment(ctx, b.ID, "no wallet")
	require.NoError(t, err, "a missing record is created failed")
	assert.Equal(t, bounty.PaymentFailed, p.Status)
	assert.NotNil(t, p.FailedAt)

	p, err = s.ResetPayment(ctx, b.ID, "manual retrigger")
	require.NoError(t, err)
	assert.Equal(t, bounty.PaymentPending, p.Status)
	assert.Equal(t, 0, p.Attempt)
	assert.Nil(t, p.FailedAt)
	assert.Empty(t, p.LastError)
}

func TestListStaleProcessing(t *testing.T) {
	t.Parallel()
	s, clock := newTestStore(t)
	ctx := context.Background()
	b := seedBounty(t, s, func(b *bounty.Bounty) { b.Status = bounty.StatusApproved })
	_, err := s.CompareAndTransition(ctx, bounty.TransitionRequest{BountyID: b.ID, ExpectedStatus: bounty.StatusApproved, Next: bounty.StatusCompleted})
	require.NoError(t, err)
	_, err = s.BeginAttempt(ctx, b.ID, 0)
	require.NoError(t, err)

	stale, err := s.ListStaleProcessing(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, stale)

	clock.Advance(11 * time.Minute)
	stale, err = s.ListStaleProcessing(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, b.ID, stale[0].BountyID)
}

func TestUsers(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	u := &bounty.User{GitHubUsername: "Alice", WalletAddress: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"}
	require.NoError(t, s.CreateUser(ctx, u))

	got, err := s.FindUserByGitHubUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, u.WalletAddress, got.WalletAddress)

	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.GitHubUsername)

	_, err = s.FindUserByGitHubUsername(ctx, "mallory")
	assert.ErrorIs(t, err, bounty.ErrUserNotFound)
	_, err = s.GetUser(ctx, "nope")
	assert.ErrorIs(t, err, bounty.ErrUserNotFound)
}

func TestDeliveries(t *testing.T) {
	t.Parallel()
	s, clock := newTestStore(t)
	ctx := context.Background()

	seen, err := s.DeliverySeen(ctx, "d-1")
	require.NoError(t, err)
	assert.False(t, seen)

	inserted, err := s.RecordDelivery(ctx, "d-1", "pull_request", DeliveryProcessed)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.RecordDelivery(ctx, "d-1", "pull_request", DeliveryProcessed)
	require.NoError(t, err)
	assert.False(t, inserted)

	seen, err = s.DeliverySeen(ctx, "d-1")
	require.NoError(t, err)
	assert.True(t, seen)

	clock.Advance(73 * time.Hour)
	n, err := s.PruneDeliveries(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEnsurePaymentAndStalePending(t *testing.T) {
	t.Parallel()
	s, clock := newTestStore(t)
	ctx := context.Background()
	b := seedBounty(t, s, func(b *bounty.Bounty) { b.Status = bounty.StatusCompleted })

	p, err := s.EnsurePayment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, bounty.PaymentPending, p.Status)

	again, err := s.EnsurePayment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, p.CreatedAt, again.CreatedAt)

	stale, err := s.ListStalePending(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, stale)

	clock.Advance(time.Hour)
	stale, err = s.ListStalePending(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, b.ID, stale[0].BountyID)
}
