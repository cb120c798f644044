// Package otp issues and verifies one-time login codes. Codes live in the
// database so any instance can verify a code another instance issued.
package otp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/chatgate/internal/database"
	"github.com/dukerupert/chatgate/internal/metrics"
	"github.com/dukerupert/chatgate/internal/model"
	"github.com/dukerupert/chatgate/internal/phone"
	"github.com/dukerupert/chatgate/internal/secret"
	"github.com/dukerupert/chatgate/internal/store"
)

const (
	DefaultTTL      = 5 * time.Minute
	DefaultAttempts = 5
	CodeLength      = 6
	// at most RequestLimit codes per phone per RequestWindow
	RequestLimit  = 3
	RequestWindow = 10 * time.Minute
)

type Outcome string

const (
	OK          Outcome = "OK"
	BadPhone    Outcome = "BAD_PHONE"
	NoCode      Outcome = "NO_CODE"
	Expired     Outcome = "EXPIRED"
	InvalidCode Outcome = "INVALID_CODE"
	RateLimited Outcome = "RATE_LIMITED"
	ServerError Outcome = "SERVER_ERROR"
)

type RequestResult struct {
	Outcome   Outcome
	ExpiresAt time.Time
}

type VerifyResult struct {
	Outcome      Outcome
	Phone        string
	AttemptsLeft int
}

type Service struct {
	db      *sql.DB
	hasher  *secret.Hasher
	sender  Sender
	now     func() time.Time
	newCode func() (string, error)
	metrics metrics.Metrics
	logger  *slog.Logger
}

type ServiceOption func(*Service)

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func WithCodeSource(fn func() (string, error)) ServiceOption {
	return func(s *Service) { s.newCode = fn }
}

func WithMetrics(m metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

func NewService(db *sql.DB, hasher *secret.Hasher, sender Sender, opts ...ServiceOption) *Service {
	s := &Service{
		db:      db,
		hasher:  hasher,
		sender:  sender,
		now:     func() time.Time { return time.Now().UTC() },
		newCode: func() (string, error) { return secret.NumericCode(CodeLength) },
		metrics: metrics.Nop(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request issues a fresh code for the phone, replacing any outstanding one.
func (s *Service) Request(ctx context.Context, rawPhone string) (RequestResult, error) {
	res, err := s.request(ctx, rawPhone)
	if err != nil {
		res.Outcome = ServerError
	}
	s.metrics.ObserveOTP("request", string(res.Outcome))
	return res, err
}

func (s *Service) request(ctx context.Context, rawPhone string) (RequestResult, error) {
	p, err := phone.Normalize(rawPhone)
	if err != nil {
		return RequestResult{Outcome: BadPhone}, nil
	}

	code, err := s.newCode()
	if err != nil {
		return RequestResult{}, err
	}
	salt, err := secret.GenerateSalt()
	if err != nil {
		return RequestResult{}, err
	}
	now := s.now()
	c := &model.OTPCode{
		Phone:        p,
		CodeSalt:     salt,
		CodeHash:     s.hasher.Hash(salt, code),
		AttemptsLeft: DefaultAttempts,
		CreatedAt:    now,
		ExpiresAt:    now.Add(DefaultTTL),
	}

	limited := false
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		codes := store.NewOTPStore(tx)
		n, err := codes.CountSince(ctx, p, now.Add(-RequestWindow))
		if err != nil {
			return err
		}
		if n >= RequestLimit {
			limited = true
			return nil
		}
		_, err = codes.Replace(ctx, c)
		return err
	})
	if err != nil {
		return RequestResult{}, fmt.Errorf("store otp code: %w", err)
	}
	if limited {
		s.logger.Warn("otp request rate limited", "phone", phone.Mask(p))
		return RequestResult{Outcome: RateLimited}, nil
	}

	if err := s.sender.SendCode(ctx, p, code); err != nil {
		return RequestResult{}, fmt.Errorf("deliver otp code: %w", err)
	}
	return RequestResult{Outcome: OK, ExpiresAt: c.ExpiresAt}, nil
}

// Verify checks code against the phone's newest outstanding code. A wrong
// code spends one attempt atomically; a correct one consumes the code.
func (s *Service) Verify(ctx context.Context, rawPhone, code string) (VerifyResult, error) {
	res, err := s.verify(ctx, rawPhone, strings.TrimSpace(code))
	if err != nil {
		res = VerifyResult{Outcome: ServerError}
	}
	s.metrics.ObserveOTP("verify", string(res.Outcome))
	return res, err
}

func (s *Service) verify(ctx context.Context, rawPhone, code string) (VerifyResult, error) {
	p, err := phone.Normalize(rawPhone)
	if err != nil {
		return VerifyResult{Outcome: BadPhone}, nil
	}
	codes := store.NewOTPStore(s.db)
	c, err := codes.Latest(ctx, p)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify otp: %w", err)
	}
	if c == nil {
		return VerifyResult{Outcome: NoCode}, nil
	}
	if !s.now().Before(c.ExpiresAt) {
		return VerifyResult{Outcome: Expired}, nil
	}
	if c.AttemptsLeft <= 0 {
		return VerifyResult{Outcome: RateLimited}, nil
	}

	if code == "" || !s.hasher.Verify(c.CodeSalt, c.CodeHash, code) {
		left, ok, err := codes.SpendAttempt(ctx, c.ID)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("verify otp: %w", err)
		}
		if !ok {
			return VerifyResult{Outcome: RateLimited}, nil
		}
		return VerifyResult{Outcome: InvalidCode, AttemptsLeft: left}, nil
	}

	consumed, err := codes.Consume(ctx, c.ID, s.now())
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify otp: %w", err)
	}
	if !consumed {
		return VerifyResult{Outcome: NoCode}, nil
	}
	return VerifyResult{Outcome: OK, Phone: p, AttemptsLeft: c.AttemptsLeft}, nil
}

// Purge deletes codes older than the rate-limit window, which are past use
// and no longer count towards the limit.
func (s *Service) Purge(ctx context.Context, now time.Time) (int64, error) {
	n, err := store.NewOTPStore(s.db).DeleteCreatedBefore(ctx, now.Add(-RequestWindow))
	if err != nil {
		return 0, fmt.Errorf("purge otp codes: %w", err)
	}
	return n, nil
}
