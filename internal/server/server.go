package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/chatgate/internal/access"
	"github.com/dukerupert/chatgate/internal/config"
	"github.com/dukerupert/chatgate/internal/device"
	"github.com/dukerupert/chatgate/internal/entitlement"
	"github.com/dukerupert/chatgate/internal/handler"
	"github.com/dukerupert/chatgate/internal/maintenance"
	"github.com/dukerupert/chatgate/internal/metrics"
	"github.com/dukerupert/chatgate/internal/middleware"
	"github.com/dukerupert/chatgate/internal/otp"
	"github.com/dukerupert/chatgate/internal/pairing"
	"github.com/dukerupert/chatgate/internal/secret"
	"github.com/dukerupert/chatgate/internal/session"
	"github.com/dukerupert/chatgate/internal/store"
	ws "github.com/dukerupert/chatgate/internal/websocket"
)

// Per-IP limits on the endpoints that accept guessable secrets.
const (
	otpRequestLimit  = 10
	otpVerifyLimit   = 20
	pairConfirmLimit = 20
	rateLimitWindow  = time.Minute
)

type Server struct {
	db          *sql.DB
	registry    *prometheus.Registry
	hub         *ws.Hub
	sessionAuth *middleware.SessionAuth
	authH       *handler.AuthHandler
	paymentH    *handler.PaymentHandler
	accessH     *handler.AccessHandler
	deviceH     *handler.DeviceHandler
	pairingH    *handler.PairingHandler
	otpService  *otp.Service
	ledger      *store.SubscriptionStore
	rateLimiter *middleware.RateLimiter
	metrics     metrics.Metrics
	wsOrigins   []string
	logger      *slog.Logger
}

// New wires every component from cfg. A nil registry disables metrics.
func New(cfg *config.Config, db *sql.DB, sender otp.Sender, registry *prometheus.Registry, logger *slog.Logger) (*Server, error) {
	m := metrics.Nop()
	if registry != nil {
		m = metrics.New(registry)
	}

	pairingHasher, err := secret.NewHasher(cfg.PairingPepper)
	if err != nil {
		return nil, fmt.Errorf("pairing hasher: %w", err)
	}
	sealer, err := secret.NewSealer(cfg.PairingEncKey, pairing.KeyInfo)
	if err != nil {
		return nil, fmt.Errorf("pairing sealer: %w", err)
	}
	otpHasher, err := secret.NewHasher(cfg.OTPPepper)
	if err != nil {
		return nil, fmt.Errorf("otp hasher: %w", err)
	}

	hub := ws.NewHub(logger.With("component", "websocket"))
	cred := session.NewCredential(cfg.CookieSecure, cfg.SessionTTL)

	sessions := session.NewManager(store.NewSessionStore(db),
		session.WithTTL(cfg.SessionTTL),
		session.WithMetrics(m),
		session.WithLogger(logger.With("component", "session")),
	)
	devices := device.NewRegistry(db, cfg.MaxDevices,
		device.WithMetrics(m),
		device.WithLogger(logger.With("component", "device")),
	)
	engine := pairing.NewEngine(db, devices, pairingHasher, sealer,
		pairing.WithTTL(cfg.PairingTTL),
		pairing.WithAttempts(cfg.PairingAttempts),
		pairing.WithPublisher(hub),
		pairing.WithMetrics(m),
		pairing.WithLogger(logger.With("component", "pairing")),
	)
	otpService := otp.NewService(db, otpHasher, sender,
		otp.WithMetrics(m),
		otp.WithLogger(logger.With("component", "otp")),
	)
	accessService := access.NewService(db, devices, sessions,
		access.WithDisconnector(hub),
		access.WithLogger(logger.With("component", "access")),
	)
	ledger := store.NewSubscriptionStore(db)
	evaluator := entitlement.NewEvaluator(ledger, nil)

	return &Server{
		db:          db,
		registry:    registry,
		hub:         hub,
		sessionAuth: middleware.NewSessionAuth(sessions, cred, devices, logger.With("component", "auth")),
		authH:       handler.NewAuthHandler(otpService, accessService, sessions, cred, logger.With("component", "auth_handler")),
		paymentH:    handler.NewPaymentHandler(accessService, cred, cfg.CollaboratorToken, logger.With("component", "payment")),
		accessH:     handler.NewAccessHandler(accessService, cred, logger.With("component", "access_handler")),
		deviceH:     handler.NewDeviceHandler(devices, evaluator, logger.With("component", "device_handler")),
		pairingH:    handler.NewPairingHandler(engine, logger.With("component", "pairing_handler")),
		otpService:  otpService,
		ledger:      ledger,
		rateLimiter: middleware.NewRateLimiter(),
		metrics:     m,
		wsOrigins:   cfg.WSOrigins,
		logger:      logger,
	}, nil
}

// Hub returns the realtime hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// MaintenanceTasks returns the housekeeping steps for the sweeper.
func (s *Server) MaintenanceTasks() []maintenance.Task {
	return []maintenance.Task{
		{Name: "expire_stale_subscriptions", Run: s.ledger.ExpireStalePeriods},
		{Name: "purge_otp_codes", Run: s.otpService.Purge},
		{Name: "rate_limiter_cleanup", Run: func(_ context.Context, _ time.Time) (int64, error) {
			return int64(s.rateLimiter.Cleanup()), nil
		}},
	}
}

func (s *Server) rateLimited(limit int) func(http.Handler) http.Handler {
	return middleware.RateLimit(s.rateLimiter, middleware.RealIP, limit, rateLimitWindow)
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger(s.logger.With("component", "http"), s.metrics))
	r.Use(chimw.Recoverer)

	r.Get("/health", s.healthHandler)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.With(s.rateLimited(otpRequestLimit)).Post("/auth/otp/request", s.authH.RequestOTP)
	r.With(s.rateLimited(otpVerifyLimit)).Post("/auth/otp/verify", s.authH.VerifyOTP)
	r.Post("/payments/return", s.paymentH.Return)

	// Routes that work with or without a session.
	r.Group(func(r chi.Router) {
		r.Use(s.sessionAuth.Load)
		r.Post("/auth/logout", s.authH.Logout)
		r.Get("/access/status", s.accessH.Status)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.sessionAuth.Require)

		r.Get("/devices", s.deviceH.List)
		r.Post("/devices/authorize", s.deviceH.Authorize)
		r.Post("/devices/revoke", s.deviceH.Revoke)
		r.Post("/devices/revoke-oldest", s.deviceH.RevokeOldest)

		r.Post("/pairing/start", s.pairingH.Start)
		r.With(s.rateLimited(pairConfirmLimit)).Post("/pairing/confirm", s.pairingH.Confirm)
		r.With(middleware.RequireAuthorizedDevice).Get("/pairing/pending", s.pairingH.Pending)

		r.Post("/account/deactivate", s.accessH.Deactivate)
		r.Post("/account/consent", s.accessH.Consent)

		r.Get("/ws", ws.HandleWebSocket(s.hub, s.wsOrigins, s.logger.With("component", "websocket")))
	})

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
