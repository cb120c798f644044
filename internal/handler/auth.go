package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/chatgate/internal/access"
	"github.com/dukerupert/chatgate/internal/auth"
	"github.com/dukerupert/chatgate/internal/otp"
	"github.com/dukerupert/chatgate/internal/session"
)

type AuthHandler struct {
	otp      *otp.Service
	access   *access.Service
	sessions *session.Manager
	cred     session.Credential
	logger   *slog.Logger
}

func NewAuthHandler(otps *otp.Service, as *access.Service, sm *session.Manager, cred session.Credential, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{otp: otps, access: as, sessions: sm, cred: cred, logger: logger}
}

type otpRequest struct {
	Phone    string `json:"phone"`
	Code     string `json:"code"`
	DeviceID string `json:"deviceId"`
}

func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, codeInvalidJSON, nil)
		return
	}

	res, err := h.otp.Request(r.Context(), req.Phone)
	if err != nil {
		h.logger.Error("request otp", "error", err)
	}
	if res.Outcome != otp.OK {
		writeError(w, string(res.Outcome), nil)
		return
	}
	writeOK(w, map[string]any{"expiresAt": res.ExpiresAt})
}

// VerifyOTP checks the code and, on success, signs the phone in.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, codeInvalidJSON, nil)
		return
	}

	res, err := h.otp.Verify(r.Context(), req.Phone, req.Code)
	if err != nil {
		h.logger.Error("verify otp", "error", err)
	}
	if res.Outcome != otp.OK {
		var fields map[string]any
		if res.Outcome == otp.InvalidCode {
			fields = map[string]any{"attemptsLeft": res.AttemptsLeft}
		}
		writeError(w, string(res.Outcome), fields)
		return
	}

	login, err := h.access.LoginWithVerifiedPhone(r.Context(), res.Phone, deviceIDFrom(r, req.DeviceID))
	if err != nil {
		h.logger.Error("login after otp", "error", err)
	}
	if login.Outcome != access.OK {
		writeError(w, string(login.Outcome), nil)
		return
	}

	h.cred.Set(w, login.Session)
	writeOK(w, map[string]any{
		"userId":           login.User.ID,
		"deviceAuthorized": login.DeviceAuthorized,
	})
}

// Logout revokes the presented session, if any, and always clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if ac, ok := auth.FromContext(r.Context()); ok {
		if err := h.sessions.Revoke(r.Context(), ac.SessionID); err != nil {
			h.logger.Error("logout", "user_id", ac.UserID, "error", err)
			writeError(w, codeServerError, nil)
			return
		}
	}
	h.cred.Clear(w)
	writeOK(w, nil)
}
