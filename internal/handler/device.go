package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/chatgate/internal/auth"
	"github.com/dukerupert/chatgate/internal/device"
	"github.com/dukerupert/chatgate/internal/entitlement"
)

type DeviceHandler struct {
	registry  *device.Registry
	evaluator *entitlement.Evaluator
	logger    *slog.Logger
}

func NewDeviceHandler(reg *device.Registry, ev *entitlement.Evaluator, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{registry: reg, evaluator: ev, logger: logger}
}

type deviceRequest struct {
	DeviceID string `json:"deviceId"`
}

// Authorize takes a free slot for the calling device. It needs paid access
// and never evicts; a full account must revoke first or pair instead.
func (h *DeviceHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	var req deviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, codeInvalidJSON, nil)
		return
	}

	decision, _, err := h.evaluator.ForUser(r.Context(), ac.UserID)
	if err != nil {
		h.logger.Error("authorize device entitlement", "user_id", ac.UserID, "error", err)
		writeError(w, codeServerError, nil)
		return
	}
	if !decision.HasPaidAccess {
		writeError(w, codeNoPaidAccess, map[string]any{"effectiveStatus": decision.Status})
		return
	}

	res, err := h.registry.Authorize(r.Context(), ac.UserID, deviceIDFrom(r, req.DeviceID))
	if err != nil {
		h.logger.Error("authorize device", "user_id", ac.UserID, "error", err)
	}
	fields := map[string]any{
		"authorized":  res.Authorized,
		"deviceCount": res.DeviceCount,
		"overLimit":   res.OverLimit,
		"maxDevices":  h.registry.MaxDevices(),
	}
	if res.Outcome != device.OK {
		writeError(w, string(res.Outcome), fields)
		return
	}
	writeOK(w, fields)
}

// Revoke deactivates the named device of the signed-in user.
func (h *DeviceHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	var req deviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, codeInvalidJSON, nil)
		return
	}

	res, err := h.registry.Revoke(r.Context(), ac.UserID, req.DeviceID)
	if err != nil {
		h.logger.Error("revoke device", "user_id", ac.UserID, "error", err)
	}
	if res.Outcome != device.OK {
		writeError(w, string(res.Outcome), nil)
		return
	}
	writeOK(w, map[string]any{"deviceCount": res.DeviceCount})
}

func (h *DeviceHandler) RevokeOldest(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	id, count, err := h.registry.RevokeOldest(r.Context(), ac.UserID)
	if err != nil {
		h.logger.Error("revoke oldest device", "user_id", ac.UserID, "error", err)
		writeError(w, codeServerError, nil)
		return
	}
	var revoked any
	if id != "" {
		revoked = id
	}
	writeOK(w, map[string]any{"revokedDeviceId": revoked, "deviceCount": count})
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	devices, err := h.registry.List(r.Context(), ac.UserID)
	if err != nil {
		h.logger.Error("list devices", "user_id", ac.UserID, "error", err)
		writeError(w, codeServerError, nil)
		return
	}
	writeOK(w, map[string]any{
		"devices":    devices,
		"current":    ac.DeviceID,
		"maxDevices": h.registry.MaxDevices(),
	})
}
