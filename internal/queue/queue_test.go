package queue

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/storage"
)

func openTestQueue(t *testing.T) (*Queue, *sql.DB, *clockwork.FakeClock) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	clock := clockwork.NewFakeClockAt(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	return New(db, clock), db, clock
}

func TestQueueEnqueueDequeueFIFO(t *testing.T) {
	t.Parallel()
	q, _, clock := openTestQueue(t)
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, EnqueueRequest{Kind: KindSettle, BountyID: "b1", SubmittedBy: "payment"})
	if err != nil {
		t.Fatalf("Enqueue 1: %v", err)
	}
	clock.Advance(time.Millisecond)
	id2, err := q.Enqueue(ctx, EnqueueRequest{Kind: KindSettle, BountyID: "b2", SubmittedBy: "payment"})
	if err != nil {
		t.Fatalf("Enqueue 2: %v", err)
	}

	j1, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue 1: %v", err)
	}
	if j1 == nil || j1.ID != id1 || j1.Status != StatusRunning || j1.StartedAt == nil || j1.BountyID != "b1" {
		t.Fatalf("unexpected job1: %#v", j1)
	}

	j2, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue 2: %v", err)
	}
	if j2 == nil || j2.ID != id2 {
		t.Fatalf("unexpected job2: %#v", j2)
	}

	j3, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue 3: %v", err)
	}
	if j3 != nil {
		t.Fatalf("expected empty queue, got %#v", j3)
	}
}

func TestQueueDelayedJobWaitsForRunAt(t *testing.T) {
	t.Parallel()
	q, _, clock := openTestQueue(t)
	ctx := context.Background()

	runAt := clock.Now().Add(2 * time.Second)
	id, err := q.Enqueue(ctx, EnqueueRequest{Kind: KindSettle, BountyID: "b1", SubmittedBy: "payment", RunAt: &runAt})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if j, err := q.Dequeue(ctx); err != nil || j != nil {
		t.Fatalf("expected nothing due, got %#v, %v", j, err)
	}
	if n, err := q.Depth(ctx); err != nil || n != 1 {
		t.Fatalf("Depth = %d, %v; want 1", n, err)
	}

	clock.Advance(2 * time.Second)
	j, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if j == nil || j.ID != id || j.NextRetryAt == nil || !j.NextRetryAt.Equal(runAt) {
		t.Fatalf("unexpected job: %#v", j)
	}
}

func TestQueueDedupe(t *testing.T) {
	t.Parallel()
	q, _, _ := openTestQueue(t)
	ctx := context.Background()
	key := SettleKey("b1")

	id, err := q.Enqueue(ctx, EnqueueRequest{Kind: KindSettle, BountyID: "b1", SubmittedBy: "payment", DedupeKey: &key})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	_, err = q.Enqueue(ctx, EnqueueRequest{Kind: KindSettle, BountyID: "b1", SubmittedBy: "payment", DedupeKey: &key})
	var drop *DedupeDropError
	if !errors.As(err, &drop) {
		t.Fatalf("expected DedupeDropError, got %v", err)
	}
	if drop.ExistingJobID != id || drop.DedupeKey != "settle:b1" {
		t.Fatalf("unexpected drop: %#v", drop)
	}

	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if err := q.Complete(ctx, id, StatusSucceeded, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := q.Enqueue(ctx, EnqueueRequest{Kind: KindSettle, BountyID: "b1", SubmittedBy: "payment", DedupeKey: &key}); err != nil {
		t.Fatalf("Enqueue after completion: %v", err)
	}
}

func TestQueueCompleteWritesJobLog(t *testing.T) {
	t.Parallel()
	q, db, _ := openTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, EnqueueRequest{Kind: KindSettle, BountyID: "b1", SubmittedBy: "payment"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	lastErr := "boom"
	if err := q.Complete(ctx, id, StatusFailed, &lastErr); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := q.Complete(ctx, id, StatusRunning, nil); err == nil {
		t.Fatalf("expected error for non-terminal status")
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM job_log WHERE kind='settle' AND bounty_id='b1';").Scan(&count); err != nil {
		t.Fatalf("count job_log: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 job_log row, got %d", count)
	}

	j, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.Status != StatusFailed || j.LastError == nil || *j.LastError != "boom" || j.CompletedAt == nil {
		t.Fatalf("unexpected job: %#v", j)
	}
}

func TestQueueRecoveryAndPrune(t *testing.T) {
	t.Parallel()
	q, db, clock := openTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, EnqueueRequest{Kind: KindSettle, BountyID: "b1", SubmittedBy: "payment", MaxAttempts: 2})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	running, err := q.FindJobsByStatus(ctx, StatusRunning)
	if err != nil || len(running) != 1 || running[0].ID != id {
		t.Fatalf("FindJobsByStatus = %#v, %v", running, err)
	}

	if err := q.UpdateJobForRecovery(ctx, id, StatusQueued, 2, nil, ""); err != nil {
		t.Fatalf("UpdateJobForRecovery: %v", err)
	}
	j, err := q.Get(ctx, id)
	if err != nil || j.Status != StatusQueued || j.Attempt != 2 || j.StartedAt != nil {
		t.Fatalf("unexpected recovered job: %#v, %v", j, err)
	}
	if err := q.UpdateJobForRecovery(ctx, "missing", StatusQueued, 1, nil, ""); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if err := q.Complete(ctx, id, StatusSucceeded, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	clock.Advance(48 * time.Hour)
	if err := q.PruneJobLogs(ctx, 24*time.Hour); err != nil {
		t.Fatalf("PruneJobLogs: %v", err)
	}
	var logs, jobs int
	_ = db.QueryRow("SELECT COUNT(*) FROM job_log;").Scan(&logs)
	_ = db.QueryRow("SELECT COUNT(*) FROM job_queue;").Scan(&jobs)
	if logs != 0 || jobs != 0 {
		t.Fatalf("expected pruned tables, got job_log=%d job_queue=%d", logs, jobs)
	}
}

func TestQueueFindJobsByBounty(t *testing.T) {
	t.Parallel()
	q, _, clock := openTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, EnqueueRequest{Kind: KindSettle, BountyID: "b1", SubmittedBy: "payment"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	clock.Advance(time.Millisecond)
	if _, err := q.Enqueue(ctx, EnqueueRequest{Kind: KindSettle, BountyID: "b2", SubmittedBy: "payment"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	clock.Advance(time.Millisecond)
	second, err := q.Enqueue(ctx, EnqueueRequest{Kind: KindSettle, BountyID: "b1", SubmittedBy: "recovery"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	jobs, err := q.FindJobsByBounty(ctx, "b1")
	if err != nil {
		t.Fatalf("FindJobsByBounty: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != first || jobs[1].ID != second {
		t.Fatalf("unexpected jobs: %#v", jobs)
	}

	none, err := q.FindJobsByBounty(ctx, "missing")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no jobs, got %v (err %v)", none, err)
	}
}
