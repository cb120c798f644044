package otp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dukerupert/chatgate/internal/phone"
)

// Sender delivers a one-time code to a phone number.
type Sender interface {
	SendCode(ctx context.Context, to, code string) error
}

// LogSender writes codes to the log. It is meant for local development only.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendCode(_ context.Context, to, code string) error {
	s.logger.Info("otp code issued", "phone", phone.Mask(to), "code", code)
	return nil
}

// WebhookSender posts codes to an SMS/WhatsApp gateway as JSON.
// Network errors and 5xx responses are retried; 4xx responses are not.
type WebhookSender struct {
	url        string
	token      string
	httpClient *http.Client
	newBackOff func() backoff.BackOff
}

type Option func(*WebhookSender)

func WithHTTPClient(c *http.Client) Option {
	return func(s *WebhookSender) {
		s.httpClient = c
	}
}

// WithBackOff replaces the retry policy. backoff.StopBackOff disables retries.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(s *WebhookSender) {
		s.newBackOff = fn
	}
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 5 * time.Second
	return backoff.WithMaxRetries(bo, 2)
}

func NewWebhookSender(url, token string, opts ...Option) *WebhookSender {
	s := &WebhookSender{
		url:        url,
		token:      token,
		httpClient: http.DefaultClient,
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configured returns true if the gateway URL is set.
func (s *WebhookSender) Configured() bool {
	return s.url != ""
}

type gatewayMessage struct {
	To      string `json:"to"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *WebhookSender) SendCode(ctx context.Context, to, code string) error {
	if !s.Configured() {
		return fmt.Errorf("otp gateway not configured: missing url")
	}

	body, err := json.Marshal(gatewayMessage{
		To:      to,
		Code:    code,
		Message: fmt.Sprintf("Your verification code is %s. It expires in 5 minutes.", code),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	post := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("send code: %w", err)
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("otp gateway error: status %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("otp gateway rejected code: status %d", resp.StatusCode))
		}
		return nil
	}

	return backoff.Retry(post, backoff.WithContext(s.newBackOff(), ctx))
}
