package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/chatgate/internal/database"
	"github.com/dukerupert/chatgate/internal/model"
)

type PairingStore struct {
	db database.Querier
}

func NewPairingStore(db database.Querier) *PairingStore {
	return &PairingStore{db: db}
}

func scanChallenge(scanner interface{ Scan(...any) error }) (*model.PairingChallenge, error) {
	var c model.PairingChallenge
	var status string
	var approvedAt sql.NullTime
	err := scanner.Scan(
		&c.ID, &c.UserID, &c.NewDeviceID,
		&c.CodeSalt, &c.CodeHash, &c.CodeCiphertext, &c.CodeIV, &c.CodeTag,
		&c.AttemptsLeft, &status, &c.CreatedAt, &c.ExpiresAt, &approvedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = model.PairingStatus(status)
	if approvedAt.Valid {
		c.ApprovedAt = &approvedAt.Time
	}
	return &c, nil
}

const challengeCols = `id, user_id, new_device_id, code_salt, code_hash, code_ciphertext, code_iv, code_tag, attempts_left, status, created_at, expires_at, approved_at`

func (s *PairingStore) Insert(ctx context.Context, c *model.PairingChallenge) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pairing_challenges (`+challengeCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		c.ID, c.UserID, c.NewDeviceID,
		c.CodeSalt, c.CodeHash, c.CodeCiphertext, c.CodeIV, c.CodeTag,
		c.AttemptsLeft, string(c.Status), c.CreatedAt.UTC(), c.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert pairing challenge: %w", err)
	}
	return nil
}

func (s *PairingStore) Get(ctx context.Context, id string) (*model.PairingChallenge, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+challengeCols+` FROM pairing_challenges WHERE id = ?`, id)
	c, err := scanChallenge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pairing challenge: %w", err)
	}
	return c, nil
}

// LatestPending returns the newest PENDING challenge that is still usable at now.
func (s *PairingStore) LatestPending(ctx context.Context, userID int64, now time.Time) (*model.PairingChallenge, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+challengeCols+` FROM pairing_challenges
		WHERE user_id = ? AND status = 'PENDING' AND expires_at > ? AND attempts_left > 0
		ORDER BY created_at DESC LIMIT 1`,
		userID, now.UTC(),
	)
	c, err := scanChallenge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending pairing challenge: %w", err)
	}
	return c, nil
}

// ExpirePendingForUser supersedes every PENDING challenge the user has.
func (s *PairingStore) ExpirePendingForUser(ctx context.Context, userID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE pairing_challenges SET status = 'EXPIRED' WHERE user_id = ? AND status = 'PENDING'`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("supersede pairing challenges: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}

func (s *PairingStore) MarkExpired(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pairing_challenges SET status = 'EXPIRED' WHERE id = ? AND status = 'PENDING'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("expire pairing challenge: %w", err)
	}
	return nil
}

// SpendAttempt atomically decrements attempts_left on a PENDING challenge and
// expires it when the count reaches zero. ok is false when no attempt was
// available to spend.
func (s *PairingStore) SpendAttempt(ctx context.Context, id string) (left int, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`UPDATE pairing_challenges
		SET attempts_left = attempts_left - 1,
			status = CASE WHEN attempts_left - 1 <= 0 THEN 'EXPIRED' ELSE status END
		WHERE id = ? AND status = 'PENDING' AND attempts_left > 0
		RETURNING attempts_left`,
		id,
	).Scan(&left)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("spend pairing attempt: %w", err)
	}
	return left, true, nil
}

// Approve moves a PENDING challenge to APPROVED. It reports false when the
// challenge was no longer pending.
func (s *PairingStore) Approve(ctx context.Context, id string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE pairing_challenges SET status = 'APPROVED', approved_at = ? WHERE id = ? AND status = 'PENDING'`,
		now.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("approve pairing challenge: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
