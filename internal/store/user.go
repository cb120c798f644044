package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/chatgate/internal/database"
	"github.com/dukerupert/chatgate/internal/model"
)

type UserStore struct {
	db database.Querier
}

func NewUserStore(db database.Querier) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var consentAt sql.NullTime
	err := scanner.Scan(&u.ID, &u.Phone, &consentAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if consentAt.Valid {
		u.ConsentAt = &consentAt.Time
	}
	return &u, nil
}

const userCols = `id, phone, consent_at, created_at, updated_at`

// GetOrCreate returns the user for phone, inserting it first if needed.
// created reports whether this call inserted the row.
func (s *UserStore) GetOrCreate(ctx context.Context, phone string, now time.Time) (u *model.User, created bool, err error) {
	now = now.UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (phone, created_at, updated_at) VALUES (?, ?, ?) ON CONFLICT(phone) DO NOTHING`,
		phone, now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	u, err = s.GetByPhone(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	if u == nil {
		return nil, false, fmt.Errorf("user %s vanished after insert", phone)
	}
	return u, n == 1, nil
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByPhone(ctx context.Context, phone string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE phone = ?`, phone)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by phone: %w", err)
	}
	return u, nil
}

// SetConsent stamps consent_at once; later calls keep the first timestamp.
func (s *UserStore) SetConsent(ctx context.Context, id int64, now time.Time) error {
	now = now.UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET consent_at = COALESCE(consent_at, ?), updated_at = ? WHERE id = ?`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("set consent: %w", err)
	}
	return nil
}
