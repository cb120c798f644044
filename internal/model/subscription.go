package model

import (
	"strings"
	"time"
)

// SubscriptionStatus is the raw lifecycle value reported by the payment
// provider. Unknown values are stored verbatim.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionTrialing  SubscriptionStatus = "trialing"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionRefunded  SubscriptionStatus = "refunded"
	SubscriptionDenied    SubscriptionStatus = "denied"
)

// NormalizeStatus is the single canonical form for provider statuses:
// trimmed, lowercased, with the US "canceled" spelling folded into
// SubscriptionCancelled. Rows are stored in this form.
func NormalizeStatus(s string) SubscriptionStatus {
	v := SubscriptionStatus(strings.ToLower(strings.TrimSpace(s)))
	if v == "canceled" {
		return SubscriptionCancelled
	}
	return v
}

// Active reports whether the status grants access while the period lasts.
func (s SubscriptionStatus) Active() bool {
	return s == SubscriptionActive || s == SubscriptionTrialing
}

// Shortens reports whether the status may move current_period_end backwards.
func (s SubscriptionStatus) Shortens() bool {
	switch s {
	case SubscriptionCancelled, SubscriptionRefunded, SubscriptionDenied:
		return true
	}
	return false
}

type Subscription struct {
	ID                int64              `json:"id"`
	UserID            int64              `json:"user_id"`
	ExternalRef       string             `json:"external_ref"`
	Plan              string             `json:"plan"`
	Status            SubscriptionStatus `json:"status"`
	CurrentPeriodEnd  *time.Time         `json:"current_period_end"`
	CancelledAt       *time.Time         `json:"cancelled_at"`
	CancelAtPeriodEnd bool               `json:"cancel_at_period_end"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}
