package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/bounty"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/storage"
)

const userColumns = `id, github_username, wallet_address, github_metadata, created_at`

func scanUser(row rowScanner) (*bounty.User, error) {
	var (
		u         bounty.User
		wallet    sql.NullString
		meta      string
		createdAt string
	)
	if err := row.Scan(&u.ID, &u.GitHubUsername, &wallet, &meta, &createdAt); err != nil {
		return nil, err
	}
	u.WalletAddress = wallet.String
	u.GitHubMetadata = decodeJSONObject(meta)
	u.CreatedAt = storage.ParseTime(createdAt)
	return &u, nil
}

// CreateUser inserts a claimant record.
func (s *Store) CreateUser(ctx context.Context, u *bounty.User) error {
	if strings.TrimSpace(u.GitHubUsername) == "" {
		return fmt.Errorf("user requires a github username")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	meta, err := encodeJSONObject(u.GitHubMetadata)
	if err != nil {
		return fmt.Errorf("encode github metadata: %w", err)
	}
	created := stamp(u.CreatedAt, s.now())
	_, err = s.db.ExecContext(ctx, `
INSERT INTO users(id, github_username, wallet_address, github_metadata, created_at)
VALUES(?, ?, ?, ?, ?);
`, u.ID, u.GitHubUsername, storage.NullString(u.WalletAddress), meta, created)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	u.CreatedAt = storage.ParseTime(created)
	return nil
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*bounty.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bounty.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read user: %w", err)
	}
	return u, nil
}

// FindUserByGitHubUsername matches logins case-insensitively.
func (s *Store) FindUserByGitHubUsername(ctx context.Context, login string) (*bounty.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `
SELECT `+userColumns+`
FROM users
WHERE github_username = ? COLLATE NOCASE
ORDER BY created_at ASC
LIMIT 1;
`, login))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bounty.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}
