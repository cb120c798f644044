package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/chatgate/internal/database"
	"github.com/dukerupert/chatgate/internal/model"
)

type OTPStore struct {
	db database.Querier
}

func NewOTPStore(db database.Querier) *OTPStore {
	return &OTPStore{db: db}
}

func scanOTP(scanner interface{ Scan(...any) error }) (*model.OTPCode, error) {
	var c model.OTPCode
	var consumedAt sql.NullTime
	err := scanner.Scan(
		&c.ID, &c.Phone, &c.CodeSalt, &c.CodeHash, &c.AttemptsLeft,
		&c.CreatedAt, &c.ExpiresAt, &consumedAt,
	)
	if err != nil {
		return nil, err
	}
	if consumedAt.Valid {
		c.ConsumedAt = &consumedAt.Time
	}
	return &c, nil
}

const otpCols = `id, phone, code_salt, code_hash, attempts_left, created_at, expires_at, consumed_at`

// Replace consumes any outstanding codes for the phone and inserts a new one.
func (s *OTPStore) Replace(ctx context.Context, c *model.OTPCode) (int64, error) {
	created := c.CreatedAt.UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE otp_codes SET consumed_at = ? WHERE phone = ? AND consumed_at IS NULL`,
		created, c.Phone,
	)
	if err != nil {
		return 0, fmt.Errorf("invalidate previous codes: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO otp_codes (phone, code_salt, code_hash, attempts_left, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.Phone, c.CodeSalt, c.CodeHash, c.AttemptsLeft, created, c.ExpiresAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert otp code: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// CountSince counts codes issued to phone at or after since.
func (s *OTPStore) CountSince(ctx context.Context, phone string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM otp_codes WHERE phone = ? AND created_at >= ?`,
		phone, since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count otp codes: %w", err)
	}
	return n, nil
}

// Latest returns the newest unconsumed code for phone, expired or not.
func (s *OTPStore) Latest(ctx context.Context, phone string) (*model.OTPCode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+otpCols+` FROM otp_codes WHERE phone = ? AND consumed_at IS NULL ORDER BY created_at DESC, id DESC LIMIT 1`,
		phone,
	)
	c, err := scanOTP(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest otp code: %w", err)
	}
	return c, nil
}

// SpendAttempt atomically decrements attempts_left. ok is false when none were left.
func (s *OTPStore) SpendAttempt(ctx context.Context, id int64) (left int, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`UPDATE otp_codes SET attempts_left = attempts_left - 1
		WHERE id = ? AND consumed_at IS NULL AND attempts_left > 0
		RETURNING attempts_left`,
		id,
	).Scan(&left)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("spend otp attempt: %w", err)
	}
	return left, true, nil
}

// Consume marks the code used. It reports false if another request got there first.
func (s *OTPStore) Consume(ctx context.Context, id int64, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE otp_codes SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`,
		now.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("consume otp code: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// DeleteCreatedBefore removes codes issued before cutoff.
func (s *OTPStore) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old otp codes: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
