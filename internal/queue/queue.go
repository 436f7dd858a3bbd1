// Package queue is the durable sqlite job queue that carries delayed
// settlement attempts across restarts.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/storage"
)

const jobColumns = `id, kind, bounty_id, payload, status, attempt, max_attempts, submitted_by, dedupe_key,
  created_at, started_at, completed_at, next_retry_at, last_error`

type Queue struct {
	db    *sql.DB
	clock clockwork.Clock
}

// New creates a Queue. A nil clock means the wall clock.
func New(db *sql.DB, clock clockwork.Clock) *Queue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Queue{db: db, clock: clock}
}

// Enqueue adds a job. If req.DedupeKey is held by a job still waiting in the
// queue, nothing is inserted and a *DedupeDropError is returned. A running
// job does not hold its key, so it can schedule its own successor.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.Kind == "" {
		return "", fmt.Errorf("kind is empty")
	}
	if req.SubmittedBy == "" {
		return "", fmt.Errorf("submitted_by is empty")
	}

	id := uuid.NewString()
	now := storage.FormatTime(q.clock.Now())

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 4
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = string(req.Payload)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if req.DedupeKey != nil {
		var existing string
		err := tx.QueryRowContext(ctx, `
SELECT id FROM job_queue
WHERE dedupe_key = ? AND status = ?
ORDER BY created_at ASC
LIMIT 1;
`, *req.DedupeKey, StatusQueued).Scan(&existing)
		switch {
		case err == nil:
			return "", &DedupeDropError{DedupeKey: *req.DedupeKey, ExistingJobID: existing}
		case !errors.Is(err, sql.ErrNoRows):
			return "", fmt.Errorf("dedupe lookup: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO job_queue(
  id, kind, bounty_id, payload, status, attempt, max_attempts, submitted_by, dedupe_key,
  created_at, next_retry_at
)
VALUES(?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?);
`, id, req.Kind, storage.NullString(req.BountyID), payload, StatusQueued, maxAttempts, req.SubmittedBy, req.DedupeKey,
		now, storage.NullTime(req.RunAt))
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}
	return id, nil
}

// Dequeue claims the oldest due queued job and marks it running. Returns
// (nil, nil) if nothing is due.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	now := storage.FormatTime(q.clock.Now())

	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM job_queue
  WHERE status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
  ORDER BY COALESCE(next_retry_at, created_at) ASC, rowid ASC
  LIMIT 1
)
UPDATE job_queue
SET status = ?, started_at = ?
WHERE id IN (SELECT id FROM next)
RETURNING `+jobColumns+`;
`, StatusQueued, now, StatusRunning, now)

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}
	return j, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                                 Job
		bountyID, payload, dedupeKey      sql.NullString
		createdAt, status                 string
		startedAt, completedAt, nextRetry sql.NullString
		lastError                         sql.NullString
	)
	err := row.Scan(
		&j.ID, &j.Kind, &bountyID, &payload, &status, &j.Attempt, &j.MaxAttempts, &j.SubmittedBy, &dedupeKey,
		&createdAt, &startedAt, &completedAt, &nextRetry, &lastError,
	)
	if err != nil {
		return nil, err
	}

	j.Status = Status(status)
	j.BountyID = bountyID.String
	if payload.Valid {
		j.Payload = []byte(payload.String)
	}
	if dedupeKey.Valid {
		j.DedupeKey = &dedupeKey.String
	}
	j.CreatedAt = storage.ParseTime(createdAt)
	j.StartedAt = storage.ParseNullTime(startedAt)
	j.CompletedAt = storage.ParseNullTime(completedAt)
	j.NextRetryAt = storage.ParseNullTime(nextRetry)
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	return &j, nil
}

// Get loads a job by id.
func (q *Queue) Get(ctx context.Context, jobID string) (*Job, error) {
	j, err := scanJob(q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM job_queue WHERE id = ?;`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// FindJobsByStatus lists jobs in status, oldest first.
func (q *Queue) FindJobsByStatus(ctx context.Context, status Status) ([]*Job, error) {
	return q.findJobs(ctx, `status = ?`, status)
}

// FindJobsByBounty lists every job recorded for a bounty, oldest first.
func (q *Queue) FindJobsByBounty(ctx context.Context, bountyID string) ([]*Job, error) {
	return q.findJobs(ctx, `bounty_id = ?`, bountyID)
}

func (q *Queue) findJobs(ctx context.Context, where string, args ...any) ([]*Job, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM job_queue WHERE `+where+` ORDER BY created_at ASC, rowid ASC;`, args...)
	if err != nil {
		return nil, fmt.Errorf("find jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateJobForRecovery rewrites an orphaned job's status and attempt.
func (q *Queue) UpdateJobForRecovery(ctx context.Context, jobID string, newStatus Status, newAttempt int, nextRetryAt *time.Time, lastError string) error {
	var completedAt any
	if newStatus == StatusDead {
		completedAt = storage.FormatTime(q.clock.Now())
	}
	res, err := q.db.ExecContext(ctx, `
UPDATE job_queue
SET status = ?, attempt = ?, next_retry_at = ?, last_error = ?, started_at = NULL, completed_at = ?
WHERE id = ?;
`, newStatus, newAttempt, storage.NullTime(nextRetryAt), storage.NullString(lastError), completedAt, jobID)
	if err != nil {
		return fmt.Errorf("update job for recovery: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Complete marks a job terminal and appends a row to job_log.
func (q *Queue) Complete(ctx context.Context, jobID string, status Status, lastError *string) error {
	if jobID == "" {
		return fmt.Errorf("jobID is empty")
	}
	if status != StatusSucceeded && status != StatusFailed && status != StatusDead {
		return fmt.Errorf("invalid terminal status: %q", status)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		kind        string
		bountyID    sql.NullString
		attempt     int
		submittedBy string
		createdAt   string
	)
	err = tx.QueryRowContext(ctx, `
SELECT kind, bounty_id, attempt, submitted_by, created_at
FROM job_queue
WHERE id = ?;
`, jobID).Scan(&kind, &bountyID, &attempt, &submittedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("load job for completion: %w", err)
	}

	completedAt := storage.FormatTime(q.clock.Now())
	_, err = tx.ExecContext(ctx, `
UPDATE job_queue
SET status = ?, completed_at = ?, last_error = ?
WHERE id = ?;
`, status, completedAt, lastError, jobID)
	if err != nil {
		return fmt.Errorf("update job completion: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO job_log(id, job_id, kind, bounty_id, status, attempt, submitted_by, created_at, completed_at, last_error)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, fmt.Sprintf("%s-%d", jobID, attempt), jobID, kind, bountyID, status, attempt, submittedBy, createdAt, completedAt, lastError)
	if err != nil {
		return fmt.Errorf("insert job_log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// PruneJobLogs deletes job_log rows and terminal job_queue rows older than retention.
func (q *Queue) PruneJobLogs(ctx context.Context, retention time.Duration) error {
	cutoff := storage.FormatTime(q.clock.Now().Add(-retention))
	if _, err := q.db.ExecContext(ctx, `DELETE FROM job_log WHERE completed_at < ?;`, cutoff); err != nil {
		return fmt.Errorf("prune job_log: %w", err)
	}
	_, err := q.db.ExecContext(ctx, `
DELETE FROM job_queue
WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?;
`, StatusSucceeded, StatusFailed, StatusDead, cutoff)
	if err != nil {
		return fmt.Errorf("prune job_queue: %w", err)
	}
	return nil
}

// Depth counts queued jobs, due or not.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_queue WHERE status = ?;`, StatusQueued).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}
