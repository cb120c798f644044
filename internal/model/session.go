package model

import "time"

// Session is one authenticated client. It is usable iff RevokedAt is nil
// and now is before ExpiresAt.
type Session struct {
	ID        string     `json:"-"`
	UserID    int64      `json:"user_id"`
	DeviceID  string     `json:"device_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

func (s *Session) Usable(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
