// Package pairing lets an already-authorized device vouch for a new one with
// a short code relayed by the user.
//
// A challenge moves PENDING -> APPROVED on a correct code, or PENDING ->
// EXPIRED on timeout, attempt exhaustion, or supersession by a newer
// challenge. The plaintext code is never stored: only a peppered salted hash
// and an AES-GCM copy that authorized devices may decrypt.
package pairing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/chatgate/internal/database"
	"github.com/dukerupert/chatgate/internal/device"
	"github.com/dukerupert/chatgate/internal/metrics"
	"github.com/dukerupert/chatgate/internal/model"
	"github.com/dukerupert/chatgate/internal/secret"
	"github.com/dukerupert/chatgate/internal/store"
	"github.com/dukerupert/chatgate/internal/websocket"
)

const (
	DefaultTTL      = 10 * time.Minute
	DefaultAttempts = 3
	CodeLength      = 6

	// KeyInfo is the HKDF info string for the code-encryption key.
	KeyInfo = "chatgate pairing code v1"
)

type Outcome string

const (
	OK              Outcome = "OK"
	BadDeviceID     Outcome = "BAD_DEVICE_ID"
	NoChallenge     Outcome = "NO_CHALLENGE"
	Expired         Outcome = "EXPIRED"
	InvalidCode     Outcome = "INVALID_CODE"
	SlotsFull       Outcome = "SLOTS_FULL"
	RevokeNotFound  Outcome = "REVOKE_NOT_FOUND"
	RevokeForbidden Outcome = "REVOKE_FORBIDDEN"
	ServerError     Outcome = "SERVER_ERROR"
)

// Publisher delivers realtime events to a user's connected clients.
type Publisher interface {
	Publish(userID int64, msg websocket.Message)
}

type StartResult struct {
	Outcome      Outcome
	ChallengeID  string
	ExpiresAt    time.Time
	AttemptsLeft int
}

// PendingResult carries the decrypted code. It must only be returned to a
// device already proven authorized.
type PendingResult struct {
	Outcome      Outcome
	ChallengeID  string
	Code         string
	NewDeviceID  string
	ExpiresAt    time.Time
	AttemptsLeft int
}

type ConfirmInput struct {
	// UserID, when set, must own the challenge.
	UserID         int64
	ChallengeID    string
	Code           string
	RevokeDeviceID string
}

type ConfirmResult struct {
	Outcome         Outcome
	UserID          int64
	AttemptsLeft    int
	NewDeviceID     string
	RevokedDeviceID string
	DeviceCount     int
}

type Engine struct {
	db        *sql.DB
	registry  *device.Registry
	hasher    *secret.Hasher
	sealer    *secret.Sealer
	ttl       time.Duration
	attempts  int
	now       func() time.Time
	newCode   func() (string, error)
	publisher Publisher
	metrics   metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Engine)

func WithTTL(d time.Duration) Option {
	return func(e *Engine) { e.ttl = d }
}

func WithAttempts(n int) Option {
	return func(e *Engine) { e.attempts = n }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCodeSource replaces the random code generator.
func WithCodeSource(fn func() (string, error)) Option {
	return func(e *Engine) { e.newCode = fn }
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithMetrics(m metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

type nopPublisher struct{}

func (nopPublisher) Publish(int64, websocket.Message) {}

func NewEngine(db *sql.DB, registry *device.Registry, hasher *secret.Hasher, sealer *secret.Sealer, opts ...Option) *Engine {
	e := &Engine{
		db:        db,
		registry:  registry,
		hasher:    hasher,
		sealer:    sealer,
		ttl:       DefaultTTL,
		attempts:  DefaultAttempts,
		now:       func() time.Time { return time.Now().UTC() },
		newCode:   func() (string, error) { return secret.NumericCode(CodeLength) },
		publisher: nopPublisher{},
		metrics:   metrics.Nop(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.attempts <= 0 {
		e.attempts = DefaultAttempts
	}
	return e
}

// Start opens a challenge for newDeviceID, superseding any pending one. The
// code is never returned to the caller.
func (e *Engine) Start(ctx context.Context, userID int64, newDeviceID string) (StartResult, error) {
	if !device.ValidID(newDeviceID) {
		e.metrics.ObservePairing("start", string(BadDeviceID))
		return StartResult{Outcome: BadDeviceID}, nil
	}
	res, err := e.start(ctx, userID, newDeviceID)
	if err != nil {
		e.metrics.ObservePairing("start", string(ServerError))
		return StartResult{Outcome: ServerError}, err
	}
	e.metrics.ObservePairing("start", string(res.Outcome))
	e.publisher.Publish(userID, websocket.NewMessage("pairing", "started", res.ChallengeID, map[string]any{
		"new_device_id": newDeviceID,
		"expires_at":    res.ExpiresAt,
	}))
	return res, nil
}

func (e *Engine) start(ctx context.Context, userID int64, newDeviceID string) (StartResult, error) {
	code, err := e.newCode()
	if err != nil {
		return StartResult{}, err
	}
	salt, err := secret.GenerateSalt()
	if err != nil {
		return StartResult{}, err
	}
	id := uuid.NewString()
	ct, iv, tag, err := e.sealer.Seal([]byte(code), []byte(id))
	if err != nil {
		return StartResult{}, fmt.Errorf("seal pairing code: %w", err)
	}

	now := e.now()
	c := &model.PairingChallenge{
		ID:             id,
		UserID:         userID,
		NewDeviceID:    newDeviceID,
		CodeSalt:       salt,
		CodeHash:       e.hasher.Hash(salt, code),
		CodeCiphertext: ct,
		CodeIV:         iv,
		CodeTag:        tag,
		AttemptsLeft:   e.attempts,
		Status:         model.PairingPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(e.ttl),
	}

	err = database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		ps := store.NewPairingStore(tx)
		if _, err := ps.ExpirePendingForUser(ctx, userID); err != nil {
			return err
		}
		return ps.Insert(ctx, c)
	})
	if err != nil {
		return StartResult{}, fmt.Errorf("start pairing: %w", err)
	}

	return StartResult{
		Outcome:      OK,
		ChallengeID:  id,
		ExpiresAt:    c.ExpiresAt,
		AttemptsLeft: c.AttemptsLeft,
	}, nil
}

// FetchPending decrypts the user's live challenge code. Callers must have
// verified that the request comes from an authorized device.
func (e *Engine) FetchPending(ctx context.Context, userID int64) (PendingResult, error) {
	c, err := store.NewPairingStore(e.db).LatestPending(ctx, userID, e.now())
	if err != nil {
		e.metrics.ObservePairing("fetch", string(ServerError))
		return PendingResult{Outcome: ServerError}, fmt.Errorf("fetch pending pairing: %w", err)
	}
	if c == nil {
		e.metrics.ObservePairing("fetch", string(NoChallenge))
		return PendingResult{Outcome: NoChallenge}, nil
	}
	code, err := e.sealer.Open(c.CodeCiphertext, c.CodeIV, c.CodeTag, []byte(c.ID))
	if err != nil {
		e.metrics.ObservePairing("fetch", string(ServerError))
		return PendingResult{Outcome: ServerError}, fmt.Errorf("open pairing code %s: %w", c.ID, err)
	}
	e.metrics.ObservePairing("fetch", string(OK))
	return PendingResult{
		Outcome:      OK,
		ChallengeID:  c.ID,
		Code:         string(code),
		NewDeviceID:  c.NewDeviceID,
		ExpiresAt:    c.ExpiresAt,
		AttemptsLeft: c.AttemptsLeft,
	}, nil
}

// Confirm checks a submitted code. Wrong codes spend one attempt atomically;
// a correct code authorizes the new device under the slot limit and approves
// the challenge in one transaction.
func (e *Engine) Confirm(ctx context.Context, in ConfirmInput) (ConfirmResult, error) {
	res, err := e.confirm(ctx, in)
	if err != nil {
		e.metrics.ObservePairing("confirm", string(ServerError))
		return ConfirmResult{Outcome: ServerError}, fmt.Errorf("confirm pairing: %w", err)
	}
	e.metrics.ObservePairing("confirm", string(res.Outcome))
	if res.Outcome == OK {
		e.publisher.Publish(res.UserID, websocket.NewMessage("pairing", "approved", in.ChallengeID, map[string]any{
			"new_device_id":     res.NewDeviceID,
			"revoked_device_id": res.RevokedDeviceID,
			"device_count":      res.DeviceCount,
		}))
	}
	return res, nil
}

// errNoChange rolls back a transaction whose outcome was a refusal.
var errNoChange = errors.New("no change")

func (e *Engine) confirm(ctx context.Context, in ConfirmInput) (ConfirmResult, error) {
	ps := store.NewPairingStore(e.db)
	c, err := ps.Get(ctx, in.ChallengeID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if c == nil || (in.UserID != 0 && c.UserID != in.UserID) {
		return ConfirmResult{Outcome: NoChallenge}, nil
	}
	out, done, err := e.terminal(ctx, ps, c)
	if err != nil {
		return ConfirmResult{}, err
	}
	if done {
		return ConfirmResult{Outcome: out}, nil
	}

	// a blank code is a wrong code and spends an attempt like any other
	if !e.hasher.Verify(c.CodeSalt, c.CodeHash, strings.TrimSpace(in.Code)) {
		left, ok, err := ps.SpendAttempt(ctx, c.ID)
		if err != nil {
			return ConfirmResult{}, err
		}
		if !ok {
			// another request finished the challenge first
			return ConfirmResult{Outcome: Expired}, nil
		}
		if left == 0 {
			e.logger.Info("pairing challenge exhausted", "challenge_id", c.ID, "user_id", c.UserID)
		}
		return ConfirmResult{Outcome: InvalidCode, AttemptsLeft: left}, nil
	}

	var res ConfirmResult
	err = database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		ps := store.NewPairingStore(tx)
		cur, err := ps.Get(ctx, c.ID)
		if err != nil {
			return err
		}
		out, done, err := e.terminal(ctx, ps, cur)
		if err != nil {
			return err
		}
		if done {
			res.Outcome = out
			return nil
		}

		att, err := e.registry.AttachTx(ctx, tx, cur.UserID, cur.NewDeviceID, device.AttachOptions{
			RevokeDeviceID: in.RevokeDeviceID,
		})
		if err != nil {
			return err
		}
		if att.Outcome != device.OK {
			res.Outcome = fromDevice(att.Outcome)
			res.AttemptsLeft = cur.AttemptsLeft
			res.DeviceCount = att.DeviceCount
			return errNoChange
		}

		approved, err := ps.Approve(ctx, cur.ID, e.now())
		if err != nil {
			return err
		}
		if !approved {
			res.Outcome = NoChallenge
			return errNoChange
		}
		res = ConfirmResult{
			Outcome:         OK,
			UserID:          cur.UserID,
			AttemptsLeft:    cur.AttemptsLeft,
			NewDeviceID:     cur.NewDeviceID,
			RevokedDeviceID: att.RevokedDeviceID,
			DeviceCount:     att.DeviceCount,
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		err = nil
	}
	if err != nil {
		return ConfirmResult{}, err
	}
	return res, nil
}

// terminal reports the outcome for a challenge that can no longer be
// confirmed, expiring it first when its time or attempts ran out.
func (e *Engine) terminal(ctx context.Context, ps *store.PairingStore, c *model.PairingChallenge) (Outcome, bool, error) {
	switch c.Status {
	case model.PairingApproved:
		return NoChallenge, true, nil
	case model.PairingExpired:
		return Expired, true, nil
	}
	if !e.now().Before(c.ExpiresAt) || c.AttemptsLeft <= 0 {
		if err := ps.MarkExpired(ctx, c.ID); err != nil {
			return "", false, fmt.Errorf("expire pairing challenge: %w", err)
		}
		return Expired, true, nil
	}
	return "", false, nil
}

func fromDevice(o device.Outcome) Outcome {
	switch o {
	case device.SlotsFull:
		return SlotsFull
	case device.RevokeNotFound:
		return RevokeNotFound
	case device.RevokeForbidden:
		return RevokeForbidden
	case device.BadDeviceID:
		return BadDeviceID
	}
	return ServerError
}
