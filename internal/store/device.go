package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/chatgate/internal/database"
	"github.com/dukerupert/chatgate/internal/model"
)

type DeviceStore struct {
	db database.Querier
}

func NewDeviceStore(db database.Querier) *DeviceStore {
	return &DeviceStore{db: db}
}

func scanDevice(scanner interface{ Scan(...any) error }) (*model.Device, error) {
	var d model.Device
	var authorized, founder int
	var authorizedAt, revokedAt, lastSeenAt sql.NullTime
	err := scanner.Scan(
		&d.ID, &d.UserID, &d.DeviceID, &authorized, &founder,
		&d.CreatedAt, &authorizedAt, &revokedAt, &lastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	d.Authorized = authorized == 1
	d.Founder = founder == 1
	if authorizedAt.Valid {
		d.AuthorizedAt = &authorizedAt.Time
	}
	if revokedAt.Valid {
		d.RevokedAt = &revokedAt.Time
	}
	if lastSeenAt.Valid {
		d.LastSeenAt = &lastSeenAt.Time
	}
	return &d, nil
}

const deviceCols = `id, user_id, device_id, authorized, founder, created_at, authorized_at, revoked_at, last_seen_at`

const activeDevice = `authorized = 1 AND revoked_at IS NULL`

func (s *DeviceStore) Get(ctx context.Context, userID int64, deviceID string) (*model.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceCols+` FROM devices WHERE user_id = ? AND device_id = ?`,
		userID, deviceID,
	)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

// OwnedByOther reports whether deviceID is registered to any user other than userID.
func (s *DeviceStore) OwnedByOther(ctx context.Context, userID int64, deviceID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM devices WHERE device_id = ? AND user_id != ?)`,
		deviceID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check device owner: %w", err)
	}
	return exists == 1, nil
}

// UpsertAuthorized marks the device authorized, creating it if needed. A
// device that is already active keeps its authorized_at. The founder flag is
// only ever set, never cleared.
func (s *DeviceStore) UpsertAuthorized(ctx context.Context, userID int64, deviceID string, founder bool, now time.Time) error {
	now = now.UTC()
	f := 0
	if founder {
		f = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (user_id, device_id, authorized, founder, created_at, authorized_at, last_seen_at)
		VALUES (?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(user_id, device_id) DO UPDATE SET
			authorized_at = CASE WHEN devices.authorized = 1 AND devices.revoked_at IS NULL
				THEN devices.authorized_at ELSE excluded.authorized_at END,
			authorized = 1,
			revoked_at = NULL,
			founder = MAX(devices.founder, excluded.founder),
			last_seen_at = excluded.last_seen_at`,
		userID, deviceID, f, now, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

func (s *DeviceStore) CountActive(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM devices WHERE user_id = ? AND `+activeDevice,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active devices: %w", err)
	}
	return n, nil
}

// Oldest returns the active device with the earliest creation time, or nil.
func (s *DeviceStore) Oldest(ctx context.Context, userID int64) (*model.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceCols+` FROM devices WHERE user_id = ? AND `+activeDevice+`
		ORDER BY created_at ASC, authorized_at ASC, id ASC LIMIT 1`,
		userID,
	)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get oldest device: %w", err)
	}
	return d, nil
}

// Revoke deactivates an active device. It reports false when the device was
// missing or already inactive.
func (s *DeviceStore) Revoke(ctx context.Context, userID int64, deviceID string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE devices SET authorized = 0, revoked_at = ? WHERE user_id = ? AND device_id = ? AND `+activeDevice,
		now.UTC(), userID, deviceID,
	)
	if err != nil {
		return false, fmt.Errorf("revoke device: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *DeviceStore) RevokeAllForUser(ctx context.Context, userID int64, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE devices SET authorized = 0, revoked_at = ? WHERE user_id = ? AND `+activeDevice,
		now.UTC(), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("revoke user devices: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}

func (s *DeviceStore) Touch(ctx context.Context, userID int64, deviceID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE devices SET last_seen_at = ? WHERE user_id = ? AND device_id = ?`,
		now.UTC(), userID, deviceID,
	)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	return nil
}

func (s *DeviceStore) ListForUser(ctx context.Context, userID int64) ([]model.Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deviceCols+` FROM devices WHERE user_id = ? ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}
