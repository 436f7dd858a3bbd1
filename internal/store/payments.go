package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/bounty"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/storage"
)

const paymentColumns = `bounty_id, status, attempt, signature, last_error, notification_sent,
  created_at, processing_started_at, completed_at, failed_at, updated_at`

func scanPayment(row rowScanner) (*bounty.Payment, error) {
	var (
		p                            bounty.Payment
		status, createdAt, updatedAt string
		signature, lastError         sql.NullString
		started, completed, failed   sql.NullString
		notified                     int
	)
	if err := row.Scan(&p.BountyID, &status, &p.Attempt, &signature, &lastError, &notified,
		&createdAt, &started, &completed, &failed, &updatedAt); err != nil {
		return nil, err
	}
	p.Status = bounty.PaymentStatus(status)
	p.Signature = signature.String
	p.LastError = lastError.String
	p.NotificationSent = notified != 0
	p.CreatedAt = storage.ParseTime(createdAt)
	p.ProcessingStartedAt = storage.ParseNullTime(started)
	p.CompletedAt = storage.ParseNullTime(completed)
	p.FailedAt = storage.ParseNullTime(failed)
	p.UpdatedAt = storage.ParseTime(updatedAt)
	return &p, nil
}

func getPayment(ctx context.Context, q queryer, bountyID string) (*bounty.Payment, error) {
	p, err := scanPayment(q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE bounty_id = ?;`, bountyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bounty.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read payment: %w", err)
	}
	return p, nil
}

// GetPayment returns the payment record for a bounty.
func (s *Store) GetPayment(ctx context.Context, bountyID string) (*bounty.Payment, error) {
	return getPayment(ctx, s.db, bountyID)
}

func appendHistory(ctx context.Context, tx *sql.Tx, bountyID string, status bounty.PaymentStatus, attempt int, signature, errMsg, note, at string) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO payment_history(id, bounty_id, status, attempt, signature, error, note, recorded_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, uuid.NewString(), bountyID, string(status), attempt, storage.NullString(signature), storage.NullString(errMsg), storage.NullString(note), at)
	if err != nil {
		return fmt.Errorf("append payment history: %w", err)
	}
	return nil
}

func createPendingPayment(ctx context.Context, tx *sql.Tx, bountyID, at string) error {
	res, err := tx.ExecContext(ctx, `
INSERT INTO payments(bounty_id, status, attempt, created_at, updated_at)
VALUES(?, ?, 0, ?, ?)
ON CONFLICT(bounty_id) DO NOTHING;
`, bountyID, string(bounty.PaymentPending), at, at)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	return appendHistory(ctx, tx, bountyID, bounty.PaymentPending, 0, "", "", "created", at)
}

// mutatePayment runs a conditional UPDATE and appends a history row in the
// same transaction. ErrPaymentState is returned if no row matched.
func (s *Store) mutatePayment(ctx context.Context, bountyID, note, update string, args []any, where string, whereArgs []any) (*bounty.Payment, error) {
	var out *bounty.Payment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		all := append(append([]any{}, args...), bountyID)
		all = append(all, whereArgs...)
		res, err := tx.ExecContext(ctx, `UPDATE payments SET `+update+` WHERE bounty_id = ? AND `+where+`;`, all...)
		if err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			if _, err := getPayment(ctx, tx, bountyID); err != nil {
				return err
			}
			return bounty.ErrPaymentState
		}
		p, err := getPayment(ctx, tx, bountyID)
		if err != nil {
			return err
		}
		if err := appendHistory(ctx, tx, bountyID, p.Status, p.Attempt, p.Signature, p.LastError, note, storage.FormatTime(p.UpdatedAt)); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// BeginAttempt claims attempt number attempt+1 by moving a pending record
// whose counter equals attempt into processing. Concurrent callers racing
// for the same attempt get ErrPaymentState.
func (s *Store) BeginAttempt(ctx context.Context, bountyID string, attempt int) (*bounty.Payment, error) {
	now := s.now()
	return s.mutatePayment(ctx, bountyID, "attempt started",
		`status = ?, attempt = attempt + 1, processing_started_at = ?, updated_at = ?`,
		[]any{string(bounty.PaymentProcessing), now, now},
		`status = ? AND attempt = ?`, []any{string(bounty.PaymentPending), attempt})
}

// CompletePayment records a successful transfer. Completed records are immutable.
func (s *Store) CompletePayment(ctx context.Context, bountyID, signature string) (*bounty.Payment, error) {
	now := s.now()
	return s.mutatePayment(ctx, bountyID, "transfer confirmed",
		`status = ?, signature = ?, last_error = NULL, completed_at = ?, updated_at = ?`,
		[]any{string(bounty.PaymentCompleted), signature, now, now},
		`status = ?`, []any{string(bounty.PaymentProcessing)})
}

// RetryPayment returns a processing record to pending with errMsg recorded.
func (s *Store) RetryPayment(ctx context.Context, bountyID, errMsg string) (*bounty.Payment, error) {
	return s.mutatePayment(ctx, bountyID, "retry scheduled",
		`status = ?, last_error = ?, updated_at = ?`,
		[]any{string(bounty.PaymentPending), errMsg, s.now()},
		`status = ?`, []any{string(bounty.PaymentProcessing)})
}

// FailPayment marks the cycle failed. A missing record is created failed so
// precondition failures are always visible on the bounty.
func (s *Store) FailPayment(ctx context.Context, bountyID, errMsg string) (*bounty.Payment, error) {
	now := s.now()
	var out *bounty.Payment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO payments(bounty_id, status, attempt, last_error, created_at, failed_at, updated_at)
VALUES(?, ?, 0, ?, ?, ?, ?)
ON CONFLICT(bounty_id) DO UPDATE SET
  status = excluded.status,
  last_error = excluded.last_error,
  failed_at = excluded.failed_at,
  updated_at = excluded.updated_at
WHERE payments.status IN (?, ?);
`, bountyID, string(bounty.PaymentFailed), errMsg, now, now, now,
			string(bounty.PaymentPending), string(bounty.PaymentProcessing))
		if err != nil {
			return fmt.Errorf("fail payment: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return bounty.ErrPaymentState
		}
		p, err := getPayment(ctx, tx, bountyID)
		if err != nil {
			return err
		}
		if err := appendHistory(ctx, tx, bountyID, p.Status, p.Attempt, "", errMsg, "payment failed", now); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// ResetPayment re-arms a failed record for a fresh cycle starting at attempt 0.
func (s *Store) ResetPayment(ctx context.Context, bountyID, note string) (*bounty.Payment, error) {
	return s.mutatePayment(ctx, bountyID, note,
		`status = ?, attempt = 0, last_error = NULL, failed_at = NULL, processing_started_at = NULL, updated_at = ?`,
		[]any{string(bounty.PaymentPending), s.now()},
		`status = ?`, []any{string(bounty.PaymentFailed)})
}

// MarkNotified sets the notification flag on a payment record and records
// it in the history. Setting it again is a no-op.
func (s *Store) MarkNotified(ctx context.Context, bountyID string) error {
	_, err := s.mutatePayment(ctx, bountyID, "notification sent",
		`notification_sent = 1, updated_at = ?`, []any{s.now()},
		`notification_sent = 0`, nil)
	if errors.Is(err, bounty.ErrPaymentState) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

// EnsurePayment returns the bounty's payment record, creating it pending if
// it does not exist yet.
func (s *Store) EnsurePayment(ctx context.Context, bountyID string) (*bounty.Payment, error) {
	var out *bounty.Payment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := createPendingPayment(ctx, tx, bountyID, s.now()); err != nil {
			return err
		}
		p, err := getPayment(ctx, tx, bountyID)
		out = p
		return err
	})
	return out, err
}

// ListStaleProcessing returns records stuck in processing since before olderThan ago.
func (s *Store) ListStaleProcessing(ctx context.Context, olderThan time.Duration) ([]*bounty.Payment, error) {
	return s.listStale(ctx, bounty.PaymentProcessing, "processing_started_at", olderThan)
}

// ListStalePending returns pending records untouched for longer than olderThan.
func (s *Store) ListStalePending(ctx context.Context, olderThan time.Duration) ([]*bounty.Payment, error) {
	return s.listStale(ctx, bounty.PaymentPending, "updated_at", olderThan)
}

func (s *Store) listStale(ctx context.Context, status bounty.PaymentStatus, column string, olderThan time.Duration) ([]*bounty.Payment, error) {
	cutoff := storage.FormatTime(s.clock.Now().Add(-olderThan))
	rows, err := s.db.QueryContext(ctx, `
SELECT `+paymentColumns+`
FROM payments
WHERE status = ? AND `+column+` < ?
ORDER BY `+column+` ASC;
`, string(status), cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale payments: %w", err)
	}
	defer rows.Close()

	var out []*bounty.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PaymentHistory returns the audit trail for a bounty, oldest first.
func (s *Store) PaymentHistory(ctx context.Context, bountyID string) ([]bounty.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, bounty_id, status, attempt, signature, error, note, recorded_at
FROM payment_history
WHERE bounty_id = ?
ORDER BY recorded_at ASC, rowid ASC;
`, bountyID)
	if err != nil {
		return nil, fmt.Errorf("list payment history: %w", err)
	}
	defer rows.Close()

	var out []bounty.HistoryEntry
	for rows.Next() {
		var (
			e                       bounty.HistoryEntry
			status, recordedAt      string
			signature, errMsg, note sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.BountyID, &status, &e.Attempt, &signature, &errMsg, &note, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan payment history: %w", err)
		}
		e.Status = bounty.PaymentStatus(status)
		e.Signature = signature.String
		e.Error = errMsg.String
		e.Note = note.String
		e.RecordedAt = storage.ParseTime(recordedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
