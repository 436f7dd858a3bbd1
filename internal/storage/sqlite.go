package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures the settlement tables exist.
//
// Pragmas are passed through the DSN so every pooled connection gets them,
// and write transactions take the lock up front (BEGIN IMMEDIATE) so a
// read-modify-write never upgrades mid-transaction.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := checkLocalFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
  id              TEXT PRIMARY KEY,
  github_username TEXT NOT NULL,
  wallet_address  TEXT,
  github_metadata JSON NOT NULL DEFAULT '{}',
  created_at      TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS bounties (
  id                 TEXT PRIMARY KEY,
  title              TEXT NOT NULL,
  description        TEXT NOT NULL DEFAULT '',
  amount             TEXT NOT NULL,
  token_mint         TEXT,
  issue_url          TEXT NOT NULL,
  repository_url     TEXT NOT NULL,
  created_by         TEXT NOT NULL,
  status             TEXT NOT NULL,
  claimed_by         TEXT REFERENCES users(id),
  claimed_at         TEXT,
  claim_pr           TEXT,
  pr_url             TEXT,
  submitter_username TEXT,
  status_metadata    JSON NOT NULL DEFAULT '{}',
  version            INTEGER NOT NULL DEFAULT 1,
  created_at         TEXT NOT NULL,
  updated_at         TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS payments (
  bounty_id             TEXT PRIMARY KEY REFERENCES bounties(id),
  status                TEXT NOT NULL,
  attempt               INTEGER NOT NULL DEFAULT 0,
  signature             TEXT,
  last_error            TEXT,
  notification_sent     INTEGER NOT NULL DEFAULT 0,
  created_at            TEXT NOT NULL,
  processing_started_at TEXT,
  completed_at          TEXT,
  failed_at             TEXT,
  updated_at            TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS payment_history (
  id          TEXT PRIMARY KEY,
  bounty_id   TEXT NOT NULL,
  status      TEXT NOT NULL,
  attempt     INTEGER NOT NULL,
  signature   TEXT,
  error       TEXT,
  note        TEXT,
  recorded_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
  delivery_id TEXT PRIMARY KEY,
  event_type  TEXT NOT NULL,
  outcome     TEXT NOT NULL,
  received_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS job_queue (
  id            TEXT PRIMARY KEY,
  kind          TEXT NOT NULL,
  bounty_id     TEXT,
  payload       JSON,
  status        TEXT NOT NULL,
  attempt       INTEGER NOT NULL DEFAULT 1,
  max_attempts  INTEGER NOT NULL DEFAULT 4,
  submitted_by  TEXT NOT NULL,
  dedupe_key    TEXT,
  created_at    TEXT NOT NULL,
  started_at    TEXT,
  completed_at  TEXT,
  next_retry_at TEXT,
  last_error    TEXT
);`,
		`CREATE TABLE IF NOT EXISTS job_log (
  id           TEXT PRIMARY KEY,
  job_id       TEXT NOT NULL,
  kind         TEXT NOT NULL,
  bounty_id    TEXT,
  status       TEXT NOT NULL,
  attempt      INTEGER NOT NULL,
  submitted_by TEXT NOT NULL,
  created_at   TEXT NOT NULL,
  completed_at TEXT NOT NULL,
  last_error   TEXT
);`,
		`CREATE INDEX IF NOT EXISTS users_github_username_idx ON users(github_username COLLATE NOCASE);`,
		`CREATE INDEX IF NOT EXISTS bounties_claim_pr_idx ON bounties(claim_pr);`,
		`CREATE INDEX IF NOT EXISTS bounties_pr_url_idx ON bounties(pr_url);`,
		`CREATE INDEX IF NOT EXISTS bounties_issue_url_idx ON bounties(issue_url);`,
		`CREATE INDEX IF NOT EXISTS bounties_repository_idx ON bounties(repository_url, status, created_at);`,
		`CREATE INDEX IF NOT EXISTS payments_status_idx ON payments(status, processing_started_at);`,
		`CREATE INDEX IF NOT EXISTS payment_history_bounty_idx ON payment_history(bounty_id, recorded_at);`,
		`CREATE INDEX IF NOT EXISTS job_queue_status_created_at_idx ON job_queue(status, created_at);`,
		`CREATE INDEX IF NOT EXISTS job_queue_dedupe_idx ON job_queue(dedupe_key, status);`,
		`CREATE INDEX IF NOT EXISTS job_log_completed_at_idx ON job_log(completed_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
