package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/chatgate/internal/access"
	"github.com/dukerupert/chatgate/internal/auth"
	"github.com/dukerupert/chatgate/internal/session"
)

type AccessHandler struct {
	access *access.Service
	cred   session.Credential
	logger *slog.Logger
}

func NewAccessHandler(as *access.Service, cred session.Credential, logger *slog.Logger) *AccessHandler {
	return &AccessHandler{access: as, cred: cred, logger: logger}
}

// Status answers for signed-out callers too, with loggedIn false.
func (h *AccessHandler) Status(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	st, err := h.access.Status(r.Context(), ac.UserID, ac.SessionDeviceID, ac.DeviceID)
	if err != nil {
		h.logger.Error("access status", "user_id", ac.UserID, "error", err)
		writeError(w, codeServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *AccessHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	res, err := h.access.Deactivate(r.Context(), ac.UserID)
	if err != nil {
		h.logger.Error("deactivate", "user_id", ac.UserID, "error", err)
		writeError(w, codeServerError, nil)
		return
	}
	h.cred.Clear(w)
	writeOK(w, map[string]any{
		"subscriptionCancelled": res.SubscriptionCancelled,
		"devicesRevoked":        res.DevicesRevoked,
		"sessionsRevoked":       res.SessionsRevoked,
	})
}

func (h *AccessHandler) Consent(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	u, err := h.access.RecordConsent(r.Context(), ac.UserID)
	if err != nil || u == nil {
		h.logger.Error("record consent", "user_id", ac.UserID, "error", err)
		writeError(w, codeServerError, nil)
		return
	}
	writeOK(w, map[string]any{"consentAt": u.ConsentAt})
}
