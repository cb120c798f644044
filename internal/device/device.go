// Package device keeps each user's authorized devices within the slot limit.
package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/chatgate/internal/database"
	"github.com/dukerupert/chatgate/internal/metrics"
	"github.com/dukerupert/chatgate/internal/model"
	"github.com/dukerupert/chatgate/internal/store"
)

const (
	DefaultMaxDevices = 3
	maxIDLen          = 128
)

type Outcome string

const (
	OK                    Outcome = "OK"
	BadDeviceID           Outcome = "BAD_DEVICE_ID"
	DeviceNotFoundForUser Outcome = "DEVICE_NOT_FOUND_FOR_USER"
	DeviceAlreadyRevoked  Outcome = "DEVICE_ALREADY_REVOKED"
	SlotsFull             Outcome = "SLOTS_FULL"
	RevokeNotFound        Outcome = "REVOKE_NOT_FOUND"
	RevokeForbidden       Outcome = "REVOKE_FORBIDDEN"
	ServerError           Outcome = "SERVER_ERROR"
)

// ValidID reports whether id is an acceptable client-generated device id.
func ValidID(id string) bool {
	if id == "" || len(id) > maxIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}

type AuthorizeResult struct {
	Outcome     Outcome
	Authorized  bool
	DeviceCount int
	OverLimit   bool
}

type AttachOptions struct {
	// EvictOldest revokes the oldest active devices to make room.
	EvictOldest bool
	// Founder marks the first device of a brand-new user.
	Founder bool
	// RevokeDeviceID names a device of the same user to revoke as part of the attach.
	RevokeDeviceID string
}

type AttachResult struct {
	Outcome         Outcome
	DeviceCount     int
	RevokedDeviceID string
}

type RevokeResult struct {
	Outcome     Outcome
	DeviceCount int
}

// errNoChange rolls back a transaction whose outcome was a refusal.
var errNoChange = errors.New("no change")

type Registry struct {
	db         *sql.DB
	maxDevices int
	now        func() time.Time
	metrics    metrics.Metrics
	logger     *slog.Logger
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithMetrics(m metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func NewRegistry(db *sql.DB, maxDevices int, opts ...Option) *Registry {
	if maxDevices <= 0 {
		maxDevices = DefaultMaxDevices
	}
	r := &Registry{
		db:         db,
		maxDevices: maxDevices,
		now:        func() time.Time { return time.Now().UTC() },
		metrics:    metrics.Nop(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) MaxDevices() int { return r.maxDevices }

// Authorize marks deviceID as authorized for userID. It never evicts: when
// the user is at the limit and the device is not already active, nothing is
// written and OverLimit is set.
func (r *Registry) Authorize(ctx context.Context, userID int64, deviceID string) (AuthorizeResult, error) {
	res, err := r.Attach(ctx, userID, deviceID, AttachOptions{})
	if err != nil {
		return AuthorizeResult{Outcome: ServerError}, err
	}
	return AuthorizeResult{
		Outcome:     res.Outcome,
		Authorized:  res.Outcome == OK,
		DeviceCount: res.DeviceCount,
		OverLimit:   res.Outcome == SlotsFull,
	}, nil
}

// Attach authorizes deviceID under the slot policy in one transaction.
func (r *Registry) Attach(ctx context.Context, userID int64, deviceID string, opts AttachOptions) (AttachResult, error) {
	if !ValidID(deviceID) {
		r.metrics.ObserveDevice("attach", string(BadDeviceID))
		return AttachResult{Outcome: BadDeviceID}, nil
	}
	var res AttachResult
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		res, err = r.AttachTx(ctx, tx, userID, deviceID, opts)
		if err == nil && res.Outcome != OK {
			return errNoChange
		}
		return err
	})
	if errors.Is(err, errNoChange) {
		err = nil
	}
	if err != nil {
		r.metrics.ObserveDevice("attach", string(ServerError))
		return AttachResult{Outcome: ServerError}, err
	}
	r.metrics.ObserveDevice("attach", string(res.Outcome))
	return res, nil
}

// AttachTx runs the attach inside a caller-owned transaction. The caller must
// have validated deviceID, and must roll back when the outcome is not OK.
func (r *Registry) AttachTx(ctx context.Context, tx *sql.Tx, userID int64, deviceID string, opts AttachOptions) (AttachResult, error) {
	ds := store.NewDeviceStore(tx)
	now := r.now()
	var res AttachResult

	existing, err := ds.Get(ctx, userID, deviceID)
	if err != nil {
		return res, err
	}
	alreadyActive := existing != nil && existing.Active()

	if opts.RevokeDeviceID != "" {
		outcome, err := r.revokeNamed(ctx, ds, userID, deviceID, opts.RevokeDeviceID, now)
		if err != nil || outcome != OK {
			res.Outcome = outcome
			return res, err
		}
		res.RevokedDeviceID = opts.RevokeDeviceID
	}

	count, err := ds.CountActive(ctx, userID)
	if err != nil {
		return res, err
	}
	if !alreadyActive && count >= r.maxDevices {
		if !opts.EvictOldest {
			res.Outcome = SlotsFull
			res.DeviceCount = count
			return res, nil
		}
		for count >= r.maxDevices {
			oldest, err := ds.Oldest(ctx, userID)
			if err != nil {
				return res, err
			}
			if oldest == nil {
				break
			}
			if _, err := ds.Revoke(ctx, userID, oldest.DeviceID, now); err != nil {
				return res, err
			}
			r.logger.Info("evicted oldest device", "user_id", userID, "device_id", oldest.DeviceID)
			res.RevokedDeviceID = oldest.DeviceID
			count--
		}
	}

	if err := ds.UpsertAuthorized(ctx, userID, deviceID, opts.Founder, now); err != nil {
		return res, err
	}
	count, err = ds.CountActive(ctx, userID)
	if err != nil {
		return res, err
	}
	res.Outcome = OK
	res.DeviceCount = count
	return res, nil
}

func (r *Registry) revokeNamed(ctx context.Context, ds *store.DeviceStore, userID int64, adding, revokeID string, now time.Time) (Outcome, error) {
	if !ValidID(revokeID) {
		return RevokeNotFound, nil
	}
	if revokeID == adding {
		return RevokeForbidden, nil
	}
	d, err := ds.Get(ctx, userID, revokeID)
	if err != nil {
		return ServerError, err
	}
	if d == nil {
		other, err := ds.OwnedByOther(ctx, userID, revokeID)
		if err != nil {
			return ServerError, err
		}
		if other {
			return RevokeForbidden, nil
		}
		return RevokeNotFound, nil
	}
	if !d.Active() {
		return RevokeNotFound, nil
	}
	if _, err := ds.Revoke(ctx, userID, revokeID, now); err != nil {
		return ServerError, err
	}
	return OK, nil
}

// Revoke deactivates one of the user's devices.
func (r *Registry) Revoke(ctx context.Context, userID int64, deviceID string) (RevokeResult, error) {
	if !ValidID(deviceID) {
		r.metrics.ObserveDevice("revoke", string(BadDeviceID))
		return RevokeResult{Outcome: BadDeviceID}, nil
	}
	var res RevokeResult
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		ds := store.NewDeviceStore(tx)
		d, err := ds.Get(ctx, userID, deviceID)
		if err != nil {
			return err
		}
		switch {
		case d == nil:
			res.Outcome = DeviceNotFoundForUser
		case !d.Active():
			res.Outcome = DeviceAlreadyRevoked
		default:
			if _, err := ds.Revoke(ctx, userID, deviceID, r.now()); err != nil {
				return err
			}
			res.Outcome = OK
		}
		res.DeviceCount, err = ds.CountActive(ctx, userID)
		return err
	})
	if err != nil {
		r.metrics.ObserveDevice("revoke", string(ServerError))
		return RevokeResult{Outcome: ServerError}, fmt.Errorf("revoke device: %w", err)
	}
	r.metrics.ObserveDevice("revoke", string(res.Outcome))
	return res, nil
}

// RevokeOldest revokes the user's oldest active device. deviceID is empty
// when the user has none.
func (r *Registry) RevokeOldest(ctx context.Context, userID int64) (deviceID string, count int, err error) {
	err = database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		ds := store.NewDeviceStore(tx)
		oldest, err := ds.Oldest(ctx, userID)
		if err != nil {
			return err
		}
		if oldest != nil {
			if _, err := ds.Revoke(ctx, userID, oldest.DeviceID, r.now()); err != nil {
				return err
			}
			deviceID = oldest.DeviceID
		}
		count, err = ds.CountActive(ctx, userID)
		return err
	})
	if err != nil {
		r.metrics.ObserveDevice("revoke_oldest", string(ServerError))
		return "", 0, fmt.Errorf("revoke oldest device: %w", err)
	}
	r.metrics.ObserveDevice("revoke_oldest", string(OK))
	return deviceID, count, nil
}

func (r *Registry) RevokeAll(ctx context.Context, userID int64) (int64, error) {
	n, err := store.NewDeviceStore(r.db).RevokeAllForUser(ctx, userID, r.now())
	if err != nil {
		return 0, fmt.Errorf("revoke all devices: %w", err)
	}
	return n, nil
}

func (r *Registry) CountActive(ctx context.Context, userID int64) (int, error) {
	return store.NewDeviceStore(r.db).CountActive(ctx, userID)
}

// Get returns the user's record for deviceID, or nil.
func (r *Registry) Get(ctx context.Context, userID int64, deviceID string) (*model.Device, error) {
	if !ValidID(deviceID) {
		return nil, nil
	}
	return store.NewDeviceStore(r.db).Get(ctx, userID, deviceID)
}

func (r *Registry) IsAuthorized(ctx context.Context, userID int64, deviceID string) (bool, error) {
	d, err := r.Get(ctx, userID, deviceID)
	if err != nil {
		return false, err
	}
	return d != nil && d.Active(), nil
}

// Touch records that the device was just seen. Unknown devices are ignored.
func (r *Registry) Touch(ctx context.Context, userID int64, deviceID string) error {
	if !ValidID(deviceID) {
		return nil
	}
	return store.NewDeviceStore(r.db).Touch(ctx, userID, deviceID, r.now())
}

func (r *Registry) List(ctx context.Context, userID int64) ([]model.Device, error) {
	return store.NewDeviceStore(r.db).ListForUser(ctx, userID)
}
