// Package session issues, validates and revokes the opaque session handles
// every protected request presents.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/chatgate/internal/metrics"
	"github.com/dukerupert/chatgate/internal/model"
	"github.com/dukerupert/chatgate/internal/store"
)

const DefaultTTL = 30 * 24 * time.Hour

type Outcome string

const (
	OK              Outcome = "OK"
	NoSession       Outcome = "NO_SESSION"
	SessionNotFound Outcome = "SESSION_NOT_FOUND"
	SessionExpired  Outcome = "SESSION_EXPIRED"
	SessionInvalid  Outcome = "SESSION_INVALID"
	ServerError     Outcome = "SERVER_ERROR"
)

// Result is the outcome of Validate. Session is set only when Outcome is OK.
type Result struct {
	Outcome Outcome
	Session *model.Session
}

func (r Result) OK() bool { return r.Outcome == OK }

type Manager struct {
	store   *store.SessionStore
	ttl     time.Duration
	now     func() time.Time
	metrics metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Manager)

func WithTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithMetrics(mt metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func NewManager(ss *store.SessionStore, opts ...Option) *Manager {
	m := &Manager{
		store:   ss,
		ttl:     DefaultTTL,
		now:     func() time.Time { return time.Now().UTC() },
		metrics: metrics.Nop(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Create mints a session for userID, optionally bound to deviceID.
func (m *Manager) Create(ctx context.Context, userID int64, deviceID string) (*model.Session, error) {
	sess, err := m.store.Create(ctx, userID, deviceID, m.now(), m.ttl)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func wellFormed(id string) bool {
	if len(id) != 64 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (m *Manager) Validate(ctx context.Context, id string) Result {
	res := m.validate(ctx, id)
	m.metrics.ObserveSession(string(res.Outcome))
	return res
}

func (m *Manager) validate(ctx context.Context, id string) Result {
	if id == "" {
		return Result{Outcome: NoSession}
	}
	if !wellFormed(id) {
		return Result{Outcome: SessionInvalid}
	}
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		m.logger.Error("validate session", "error", err)
		return Result{Outcome: ServerError}
	}
	if sess == nil {
		return Result{Outcome: SessionNotFound}
	}
	// a revoked session is expired for good, whatever its expires_at says
	if !sess.Usable(m.now()) {
		return Result{Outcome: SessionExpired}
	}
	return Result{Outcome: OK, Session: sess}
}

// Revoke is a no-op for unknown or already-revoked ids.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := m.store.Revoke(ctx, id, m.now()); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (m *Manager) RevokeAll(ctx context.Context, userID int64) (int64, error) {
	n, err := m.store.RevokeAllForUser(ctx, userID, m.now())
	if err != nil {
		return 0, fmt.Errorf("revoke all sessions: %w", err)
	}
	return n, nil
}
