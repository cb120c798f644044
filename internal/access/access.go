// Package access composes the core components into the flows the outer
// surface needs: login, payment attach, status and deactivation.
package access

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/chatgate/internal/device"
	"github.com/dukerupert/chatgate/internal/entitlement"
	"github.com/dukerupert/chatgate/internal/model"
	"github.com/dukerupert/chatgate/internal/phone"
	"github.com/dukerupert/chatgate/internal/session"
	"github.com/dukerupert/chatgate/internal/store"
)

type Outcome string

const (
	OK          Outcome = "OK"
	BadPhone    Outcome = "BAD_PHONE"
	BadDeviceID Outcome = "BAD_DEVICE_ID"
	BadRequest  Outcome = "BAD_REQUEST"
	ServerError Outcome = "SERVER_ERROR"
)

// Disconnector drops a user's realtime connections.
type Disconnector interface {
	Disconnect(userID int64)
}

type Service struct {
	users     *store.UserStore
	ledger    *store.SubscriptionStore
	evaluator *entitlement.Evaluator
	devices   *device.Registry
	sessions  *session.Manager
	realtime  Disconnector
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithDisconnector(d Disconnector) Option {
	return func(s *Service) { s.realtime = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(db *sql.DB, devices *device.Registry, sessions *session.Manager, opts ...Option) *Service {
	s := &Service{
		users:    store.NewUserStore(db),
		ledger:   store.NewSubscriptionStore(db),
		devices:  devices,
		sessions: sessions,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.evaluator = entitlement.NewEvaluator(s.ledger, s.now)
	return s
}

type LoginResult struct {
	Outcome          Outcome
	User             *model.User
	Session          *model.Session
	DeviceAuthorized bool
}

// LoginWithVerifiedPhone mints a session for a phone the OTP flow has already
// verified. Logging in never takes a device slot.
func (s *Service) LoginWithVerifiedPhone(ctx context.Context, rawPhone, deviceID string) (LoginResult, error) {
	p, err := phone.Normalize(rawPhone)
	if err != nil {
		return LoginResult{Outcome: BadPhone}, nil
	}
	if deviceID != "" && !device.ValidID(deviceID) {
		return LoginResult{Outcome: BadDeviceID}, nil
	}

	u, created, err := s.users.GetOrCreate(ctx, p, s.now())
	if err != nil {
		return LoginResult{Outcome: ServerError}, fmt.Errorf("login: %w", err)
	}
	sess, err := s.sessions.Create(ctx, u.ID, deviceID)
	if err != nil {
		return LoginResult{Outcome: ServerError}, fmt.Errorf("login: %w", err)
	}
	authorized := false
	if deviceID != "" {
		authorized, err = s.devices.IsAuthorized(ctx, u.ID, deviceID)
		if err != nil {
			return LoginResult{Outcome: ServerError}, fmt.Errorf("login: %w", err)
		}
	}

	s.logger.Info("user logged in", "user_id", u.ID, "phone", phone.Mask(p), "new_user", created)
	return LoginResult{Outcome: OK, User: u, Session: sess, DeviceAuthorized: authorized}, nil
}

// PaymentReturn is what the payment collaborator hands over once it has
// verified a capture with the provider.
type PaymentReturn struct {
	Phone             string
	ExternalRef       string
	Plan              string
	Status            string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	DeviceID          string
}

type PaymentResult struct {
	Outcome         Outcome
	User            *model.User
	NewUser         bool
	Subscription    *model.Subscription
	Session         *model.Session
	DeviceCount     int
	RevokedDeviceID string
}

// AttachAfterPayment records the purchase and gives the paying device a slot.
// A brand-new user's device becomes the founder; an existing user at the limit
// loses their oldest device. Retries with the same ExternalRef are harmless.
func (s *Service) AttachAfterPayment(ctx context.Context, in PaymentReturn) (PaymentResult, error) {
	p, err := phone.Normalize(in.Phone)
	if err != nil {
		return PaymentResult{Outcome: BadPhone}, nil
	}
	if strings.TrimSpace(in.ExternalRef) == "" || strings.TrimSpace(in.Status) == "" {
		return PaymentResult{Outcome: BadRequest}, nil
	}
	if !device.ValidID(in.DeviceID) {
		return PaymentResult{Outcome: BadDeviceID}, nil
	}

	now := s.now()
	u, created, err := s.users.GetOrCreate(ctx, p, now)
	if err != nil {
		return PaymentResult{Outcome: ServerError}, fmt.Errorf("attach after payment: %w", err)
	}
	sub, err := s.ledger.Upsert(ctx, store.SubscriptionUpsert{
		UserID:            u.ID,
		ExternalRef:       strings.TrimSpace(in.ExternalRef),
		Plan:              in.Plan,
		Status:            model.NormalizeStatus(in.Status),
		CurrentPeriodEnd:  in.CurrentPeriodEnd,
		CancelAtPeriodEnd: in.CancelAtPeriodEnd,
	}, now)
	if err != nil {
		return PaymentResult{Outcome: ServerError}, fmt.Errorf("attach after payment: %w", err)
	}

	attached, err := s.devices.Attach(ctx, u.ID, in.DeviceID, device.AttachOptions{
		EvictOldest: true,
		Founder:     created,
	})
	if err != nil {
		return PaymentResult{Outcome: ServerError}, fmt.Errorf("attach after payment: %w", err)
	}
	if attached.Outcome != device.OK {
		return PaymentResult{Outcome: Outcome(attached.Outcome)}, nil
	}

	sess, err := s.sessions.Create(ctx, u.ID, in.DeviceID)
	if err != nil {
		return PaymentResult{Outcome: ServerError}, fmt.Errorf("attach after payment: %w", err)
	}

	s.logger.Info("payment attached",
		"user_id", u.ID,
		"new_user", created,
		"plan", sub.Plan,
		"status", sub.Status,
		"device_count", attached.DeviceCount,
		"evicted", attached.RevokedDeviceID,
	)
	return PaymentResult{
		Outcome:         OK,
		User:            u,
		NewUser:         created,
		Subscription:    sub,
		Session:         sess,
		DeviceCount:     attached.DeviceCount,
		RevokedDeviceID: attached.RevokedDeviceID,
	}, nil
}

// Status is the canonical access shape clients poll.
type Status struct {
	LoggedIn           bool                     `json:"loggedIn"`
	HasAnyDevice       bool                     `json:"hasAnyDevice"`
	DeviceKnown        bool                     `json:"deviceKnown"`
	PlanActive         bool                     `json:"planActive"`
	SpaceActive        bool                     `json:"spaceActive"`
	DeviceCount        int                      `json:"deviceCount"`
	MaxDevices         int                      `json:"maxDevices"`
	Plan               string                   `json:"plan"`
	SubscriptionStatus model.SubscriptionStatus `json:"subscriptionStatus"`
	EffectiveStatus    entitlement.Status       `json:"effectiveStatus"`
	CurrentPeriodEnd   *time.Time               `json:"currentPeriodEnd"`
	Device             *model.Device            `json:"device"`
}

// Status reads only local state. userID 0 means the caller has no session.
// The device in question is the request's own id, falling back to the one
// the session is bound to.
func (s *Service) Status(ctx context.Context, userID int64, sessionDeviceID, requestDeviceID string) (Status, error) {
	st := Status{
		MaxDevices:      s.devices.MaxDevices(),
		EffectiveStatus: entitlement.StatusNone,
	}
	if userID == 0 {
		return st, nil
	}
	st.LoggedIn = true

	decision, sub, err := s.evaluator.ForUser(ctx, userID)
	if err != nil {
		st.EffectiveStatus = decision.Status
		return st, fmt.Errorf("access status: %w", err)
	}
	st.PlanActive = decision.HasPaidAccess
	st.EffectiveStatus = decision.Status
	if sub != nil {
		st.Plan = sub.Plan
		st.SubscriptionStatus = sub.Status
		st.CurrentPeriodEnd = sub.CurrentPeriodEnd
	}

	st.DeviceCount, err = s.devices.CountActive(ctx, userID)
	if err != nil {
		return st, fmt.Errorf("access status: %w", err)
	}
	st.HasAnyDevice = st.DeviceCount > 0

	deviceID := requestDeviceID
	if deviceID == "" {
		deviceID = sessionDeviceID
	}
	if deviceID != "" {
		d, err := s.devices.Get(ctx, userID, deviceID)
		if err != nil {
			return st, fmt.Errorf("access status: %w", err)
		}
		st.Device = d
		st.DeviceKnown = d != nil && d.Active()
	}
	st.SpaceActive = st.PlanActive && st.DeviceKnown
	return st, nil
}

type DeactivateResult struct {
	SubscriptionCancelled bool
	DevicesRevoked        int64
	SessionsRevoked       int64
}

// Deactivate cuts all access for the user. Each step narrows access further,
// so stopping on an error never leaves more access than before.
func (s *Service) Deactivate(ctx context.Context, userID int64) (DeactivateResult, error) {
	var res DeactivateResult
	var err error

	res.SubscriptionCancelled, err = s.ledger.MarkCancelled(ctx, userID, s.now())
	if err != nil {
		return res, fmt.Errorf("deactivate: %w", err)
	}
	res.DevicesRevoked, err = s.devices.RevokeAll(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("deactivate: %w", err)
	}
	res.SessionsRevoked, err = s.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("deactivate: %w", err)
	}
	if s.realtime != nil {
		s.realtime.Disconnect(userID)
	}

	s.logger.Info("account deactivated",
		"user_id", userID,
		"devices_revoked", res.DevicesRevoked,
		"sessions_revoked", res.SessionsRevoked,
	)
	return res, nil
}

func (s *Service) RecordConsent(ctx context.Context, userID int64) (*model.User, error) {
	if err := s.users.SetConsent(ctx, userID, s.now()); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, userID)
}
