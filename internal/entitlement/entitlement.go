// Package entitlement turns the latest subscription row into an access
// decision. Every caller that needs to know whether a user has paid goes
// through here.
package entitlement

import (
	"context"
	"time"

	"github.com/dukerupert/chatgate/internal/model"
)

type Status string

const (
	StatusNone      Status = "NONE"
	StatusActive    Status = "ACTIVE"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
	StatusRefunded  Status = "REFUNDED"
	StatusDenied    Status = "DENIED"
	StatusUnknown   Status = "UNKNOWN"
)

type Decision struct {
	HasPaidAccess bool   `json:"hasPaidAccess"`
	Status        Status `json:"effectiveStatus"`
}

// Evaluate derives the decision for sub at now. A nil sub means the user has
// never paid.
func Evaluate(sub *model.Subscription, now time.Time) Decision {
	if sub == nil {
		return Decision{Status: StatusNone}
	}
	status := model.NormalizeStatus(string(sub.Status))
	end := sub.CurrentPeriodEnd
	inPeriod := end != nil && end.After(now)

	if status.Active() && inPeriod {
		return Decision{HasPaidAccess: true, Status: StatusActive}
	}

	switch status {
	case model.SubscriptionRefunded:
		return Decision{Status: StatusRefunded}
	case model.SubscriptionDenied:
		return Decision{Status: StatusDenied}
	}

	// paid-for time survives a cancellation
	if status == model.SubscriptionCancelled || sub.CancelledAt != nil {
		return Decision{HasPaidAccess: inPeriod, Status: StatusCancelled}
	}

	if status == model.SubscriptionExpired || (end != nil && !inPeriod) || (status.Active() && end == nil) {
		return Decision{Status: StatusExpired}
	}

	return Decision{Status: StatusUnknown}
}

func HasPaidAccess(sub *model.Subscription, now time.Time) bool {
	return Evaluate(sub, now).HasPaidAccess
}

func EffectiveStatus(sub *model.Subscription, now time.Time) Status {
	return Evaluate(sub, now).Status
}

// Ledger is the read side of the subscription ledger.
type Ledger interface {
	LatestFor(ctx context.Context, userID int64) (*model.Subscription, error)
}

// Evaluator reads the ledger and evaluates it against the current time.
type Evaluator struct {
	ledger Ledger
	now    func() time.Time
}

func NewEvaluator(ledger Ledger, now func() time.Time) *Evaluator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Evaluator{ledger: ledger, now: now}
}

// ForUser returns the decision and the row it was derived from. On a ledger
// error the decision is UNKNOWN without access.
func (e *Evaluator) ForUser(ctx context.Context, userID int64) (Decision, *model.Subscription, error) {
	sub, err := e.ledger.LatestFor(ctx, userID)
	if err != nil {
		return Decision{Status: StatusUnknown}, nil, err
	}
	return Evaluate(sub, e.now()), sub, nil
}
