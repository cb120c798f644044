package model

import "time"

type Device struct {
	ID           int64      `json:"-"`
	UserID       int64      `json:"-"`
	DeviceID     string     `json:"device_id"`
	Authorized   bool       `json:"authorized"`
	Founder      bool       `json:"founder"`
	CreatedAt    time.Time  `json:"created_at"`
	AuthorizedAt *time.Time `json:"authorized_at"`
	RevokedAt    *time.Time `json:"revoked_at"`
	LastSeenAt   *time.Time `json:"last_seen_at"`
}

// Active reports whether the device occupies a slot.
func (d *Device) Active() bool {
	return d.Authorized && d.RevokedAt == nil
}
