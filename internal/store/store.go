// Package store is the sqlite-backed document store for bounties, users,
// payment records, payment history and processed webhook deliveries.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/storage"
)

// Store wraps the shared sqlite handle.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock
}

// New creates a Store. A nil clock means the wall clock.
func New(db *sql.DB, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{db: db, clock: clock}
}

func (s *Store) now() string {
	return storage.FormatTime(s.clock.Now())
}

func stamp(t time.Time, fallback string) string {
	if t.IsZero() {
		return fallback
	}
	return storage.FormatTime(t)
}

// withTx runs fn in a write transaction, committing only if fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func encodeJSONObject(v map[string]any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSONObject(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// DeliveryOutcome classifies how a webhook delivery was handled.
type DeliveryOutcome string

const DeliveryProcessed DeliveryOutcome = "processed"

// DeliverySeen reports whether a delivery id was already handled.
func (s *Store) DeliverySeen(ctx context.Context, deliveryID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM webhook_deliveries WHERE delivery_id = ?;`, deliveryID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup delivery: %w", err)
	}
	return n > 0, nil
}

// RecordDelivery marks a delivery handled. It returns false if it was
// already recorded.
func (s *Store) RecordDelivery(ctx context.Context, deliveryID, eventType string, outcome DeliveryOutcome) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO webhook_deliveries(delivery_id, event_type, outcome, received_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(delivery_id) DO NOTHING;
`, deliveryID, eventType, string(outcome), s.now())
	if err != nil {
		return false, fmt.Errorf("record delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record delivery rows: %w", err)
	}
	return n == 1, nil
}

// PruneDeliveries deletes delivery records older than retention.
func (s *Store) PruneDeliveries(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := storage.FormatTime(s.clock.Now().Add(-retention))
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE received_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	return res.RowsAffected()
}
