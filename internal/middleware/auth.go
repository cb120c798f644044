package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/chatgate/internal/auth"
	"github.com/dukerupert/chatgate/internal/device"
	"github.com/dukerupert/chatgate/internal/session"
)

// DeviceHeader carries the client-generated device id.
const DeviceHeader = "X-Device-Id"

// SessionAuth resolves the session credential into an AuthContext.
type SessionAuth struct {
	sessions *session.Manager
	cred     session.Credential
	devices  *device.Registry
	logger   *slog.Logger
}

func NewSessionAuth(sessions *session.Manager, cred session.Credential, devices *device.Registry, logger *slog.Logger) *SessionAuth {
	return &SessionAuth{sessions: sessions, cred: cred, devices: devices, logger: logger}
}

// authenticate trusts only the device bound to the session. A session with no
// bound device may name one in the header for display, but it is never
// treated as authorized.
func (a *SessionAuth) authenticate(r *http.Request) (auth.AuthContext, session.Outcome) {
	res := a.sessions.Validate(r.Context(), a.cred.FromRequest(r))
	if !res.OK() {
		return auth.AuthContext{}, res.Outcome
	}
	sess := res.Session
	ac := auth.AuthContext{
		UserID:          sess.UserID,
		SessionID:       sess.ID,
		DeviceID:        sess.DeviceID,
		SessionDeviceID: sess.DeviceID,
	}
	if sess.DeviceID == "" {
		ac.DeviceID = r.Header.Get(DeviceHeader)
		return ac, session.OK
	}
	if claimed := r.Header.Get(DeviceHeader); claimed != "" && claimed != sess.DeviceID {
		a.logger.Warn("device header does not match session", "user_id", ac.UserID)
	}

	ok, err := a.devices.IsAuthorized(r.Context(), ac.UserID, sess.DeviceID)
	if err != nil {
		a.logger.Error("check device authorization", "user_id", ac.UserID, "error", err)
	}
	ac.DeviceAuthorized = ok
	if ok {
		if err := a.devices.Touch(r.Context(), ac.UserID, sess.DeviceID); err != nil {
			a.logger.Warn("touch device", "user_id", ac.UserID, "error", err)
		}
	}
	return ac, session.OK
}

// Require rejects requests without a usable session with 401 and the
// validation outcome as the error code.
func (a *SessionAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, outcome := a.authenticate(r)
		if outcome != session.OK {
			status := http.StatusUnauthorized
			if outcome == session.ServerError {
				status = http.StatusInternalServerError
			}
			writeError(w, status, string(outcome))
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), ac)))
	})
}

// Load attaches the AuthContext when a usable session is present and passes
// every request through.
func (a *SessionAuth) Load(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, outcome := a.authenticate(r)
		if outcome == session.OK {
			r = r.WithContext(auth.WithAuth(r.Context(), ac))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuthorizedDevice must run after Require. It only admits requests from
// a device that currently holds one of the user's slots.
func RequireAuthorizedDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, string(session.NoSession))
			return
		}
		if !ac.DeviceAuthorized {
			writeError(w, http.StatusForbidden, "DEVICE_NOT_AUTHORIZED")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": code})
}
