package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/DishankChauhan1/solforge-test-sub000/internal/bounty"
	"github.com/DishankChauhan1/solforge-test-sub000/internal/storage"
)

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const bountyColumns = `id, title, description, amount, token_mint, issue_url, repository_url, created_by,
  status, claimed_by, claimed_at, claim_pr, pr_url, submitter_username, status_metadata,
  version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBounty(row rowScanner) (*bounty.Bounty, error) {
	var (
		b                        bounty.Bounty
		amount, status, metadata string
		createdAt, updatedAt     string
		tokenMint, claimedBy     sql.NullString
		claimedAt, claimPR       sql.NullString
		prURL, submitter         sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.Title, &b.Description, &amount, &tokenMint, &b.IssueURL, &b.RepositoryURL, &b.CreatedBy,
		&status, &claimedBy, &claimedAt, &claimPR, &prURL, &submitter, &metadata,
		&b.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("bounty %s has invalid amount %q: %w", b.ID, amount, err)
	}
	b.Amount = d
	b.Status = bounty.Status(status)
	b.TokenMint = tokenMint.String
	b.ClaimedBy = claimedBy.String
	b.ClaimedAt = storage.ParseNullTime(claimedAt)
	b.ClaimPR = claimPR.String
	b.PRURL = prURL.String
	b.SubmitterUsername = submitter.String
	b.StatusMetadata = bounty.Metadata(decodeJSONObject(metadata))
	b.CreatedAt = storage.ParseTime(createdAt)
	b.UpdatedAt = storage.ParseTime(updatedAt)
	return &b, nil
}

// CreateBounty inserts a new bounty. Missing ids are generated; missing
// status defaults to open.
func (s *Store) CreateBounty(ctx context.Context, b *bounty.Bounty) error {
	if b.Title == "" || b.IssueURL == "" || b.RepositoryURL == "" || b.CreatedBy == "" {
		return fmt.Errorf("bounty requires title, issue url, repository url and creator")
	}
	if !b.Amount.IsPositive() {
		return fmt.Errorf("bounty amount must be positive")
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = bounty.StatusOpen
	}
	meta, err := encodeJSONObject(b.StatusMetadata)
	if err != nil {
		return fmt.Errorf("encode status metadata: %w", err)
	}

	now := s.now()
	created := stamp(b.CreatedAt, now)
	_, err = s.db.ExecContext(ctx, `
INSERT INTO bounties(
  id, title, description, amount, token_mint, issue_url, repository_url, created_by,
  status, claimed_by, claimed_at, claim_pr, pr_url, submitter_username, status_metadata,
  version, created_at, updated_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?);
`, b.ID, b.Title, b.Description, b.Amount.String(), storage.NullString(b.TokenMint), b.IssueURL, b.RepositoryURL, b.CreatedBy,
		string(b.Status), storage.NullString(b.ClaimedBy), storage.NullTime(b.ClaimedAt), storage.NullString(b.ClaimPR),
		storage.NullString(b.PRURL), storage.NullString(b.SubmitterUsername), meta, created, now)
	if err != nil {
		return fmt.Errorf("insert bounty: %w", err)
	}
	b.Version = 1
	b.CreatedAt = storage.ParseTime(created)
	b.UpdatedAt = storage.ParseTime(now)
	return nil
}

// GetBounty loads a bounty and its payment record.
func (s *Store) GetBounty(ctx context.Context, id string) (*bounty.Bounty, error) {
	return getBounty(ctx, s.db, id)
}

func getBounty(ctx context.Context, q queryer, id string) (*bounty.Bounty, error) {
	b, err := scanBounty(q.QueryRowContext(ctx, `SELECT `+bountyColumns+` FROM bounties WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bounty.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read bounty: %w", err)
	}
	p, err := getPayment(ctx, q, id)
	if err != nil && !errors.Is(err, bounty.ErrPaymentNotFound) {
		return nil, err
	}
	b.Payment = p
	return b, nil
}

// FindBountyByPR returns the bounty linked to prURL through either the PR
// field or the legacy claim field.
func (s *Store) FindBountyByPR(ctx context.Context, prURL string) (*bounty.Bounty, error) {
	return s.findOne(ctx, `pr_url = ? OR claim_pr = ?`, prURL, prURL)
}

// FindBountyByIssueURL returns the earliest bounty posted against issueURL.
func (s *Store) FindBountyByIssueURL(ctx context.Context, issueURL string) (*bounty.Bounty, error) {
	return s.findOne(ctx, `issue_url = ?`, issueURL)
}

func (s *Store) findOne(ctx context.Context, where string, args ...any) (*bounty.Bounty, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM bounties WHERE `+where+` ORDER BY created_at ASC, rowid ASC LIMIT 1;`, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bounty.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find bounty: %w", err)
	}
	return s.GetBounty(ctx, id)
}

// ListBountiesByRepository returns bounties for repoURL, oldest first.
func (s *Store) ListBountiesByRepository(ctx context.Context, repoURL string) ([]*bounty.Bounty, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bountyColumns+` FROM bounties WHERE repository_url = ? ORDER BY created_at ASC, rowid ASC;`,
		strings.TrimSuffix(repoURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("list bounties: %w", err)
	}
	defer rows.Close()

	var out []*bounty.Bounty
	for rows.Next() {
		b, err := scanBounty(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bounty: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func statusMatches(stored string, expected bounty.Status) bool {
	return bounty.Status(stored).Equal(expected)
}

// CompareAndTransition writes req.Next only if the stored status (and
// version, when set) still match. Entering completed creates the pending
// payment record in the same transaction.
func (s *Store) CompareAndTransition(ctx context.Context, req bounty.TransitionRequest) (*bounty.Bounty, error) {
	meta, err := encodeJSONObject(req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode status metadata: %w", err)
	}
	at := stamp(req.At, s.now())

	var out *bounty.Bounty
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			status  string
			version int64
		)
		err := tx.QueryRowContext(ctx, `SELECT status, version FROM bounties WHERE id = ?;`, req.BountyID).Scan(&status, &version)
		if errors.Is(err, sql.ErrNoRows) {
			return bounty.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read bounty status: %w", err)
		}
		if !statusMatches(status, req.ExpectedStatus) {
			return fmt.Errorf("%w: status is %s, expected %s", bounty.ErrConflict, status, req.ExpectedStatus)
		}
		if req.ExpectedVersion != 0 && version != req.ExpectedVersion {
			return fmt.Errorf("%w: version is %d, expected %d", bounty.ErrConflict, version, req.ExpectedVersion)
		}

		set := `status = ?, status_metadata = ?, version = version + 1, updated_at = ?`
		args := []any{string(req.Next.Normalize()), meta, at}
		if c := req.Claim; c != nil {
			set += `, claim_pr = ?, pr_url = ?, submitter_username = ?,
  claimed_by = COALESCE(claimed_by, ?), claimed_at = COALESCE(claimed_at, ?)`
			args = append(args, c.PRURL, c.PRURL, storage.NullString(c.SubmitterUsername), storage.NullString(c.ClaimedBy), at)
		}
		args = append(args, req.BountyID, version)

		res, err := tx.ExecContext(ctx, `UPDATE bounties SET `+set+` WHERE id = ? AND version = ?;`, args...)
		if err != nil {
			return fmt.Errorf("update bounty status: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return bounty.ErrConflict
		}

		if req.Next.Normalize() == bounty.StatusCompleted {
			if err := createPendingPayment(ctx, tx, req.BountyID, at); err != nil {
				return err
			}
		}

		out, err = getBounty(ctx, tx, req.BountyID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
