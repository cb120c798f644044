package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/chatgate/internal/auth"
	"github.com/dukerupert/chatgate/internal/pairing"
)

type PairingHandler struct {
	engine *pairing.Engine
	logger *slog.Logger
}

func NewPairingHandler(engine *pairing.Engine, logger *slog.Logger) *PairingHandler {
	return &PairingHandler{engine: engine, logger: logger}
}

type pairingRequest struct {
	DeviceID       string `json:"deviceId"`
	ChallengeID    string `json:"challengeId"`
	Code           string `json:"code"`
	RevokeDeviceID string `json:"revokeDeviceId"`
}

// Start opens a challenge for the calling (new) device. The code is never
// part of the response.
func (h *PairingHandler) Start(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	var req pairingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, codeInvalidJSON, nil)
		return
	}

	newDevice := ac.SessionDeviceID
	if newDevice == "" {
		newDevice = deviceIDFrom(r, req.DeviceID)
	}
	res, err := h.engine.Start(r.Context(), ac.UserID, newDevice)
	if err != nil {
		h.logger.Error("start pairing", "user_id", ac.UserID, "error", err)
	}
	if res.Outcome != pairing.OK {
		writeError(w, string(res.Outcome), nil)
		return
	}
	writeOK(w, map[string]any{
		"challengeId":  res.ChallengeID,
		"expiresAt":    res.ExpiresAt,
		"attemptsLeft": res.AttemptsLeft,
	})
}

// Pending shows the current code. Routed behind RequireAuthorizedDevice.
func (h *PairingHandler) Pending(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	res, err := h.engine.FetchPending(r.Context(), ac.UserID)
	if err != nil {
		h.logger.Error("fetch pending pairing", "user_id", ac.UserID, "error", err)
	}
	if res.Outcome != pairing.OK {
		writeError(w, string(res.Outcome), nil)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeOK(w, map[string]any{
		"challengeId":  res.ChallengeID,
		"code":         res.Code,
		"newDeviceId":  res.NewDeviceID,
		"expiresAt":    res.ExpiresAt,
		"attemptsLeft": res.AttemptsLeft,
	})
}

func (h *PairingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	var req pairingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, codeInvalidJSON, nil)
		return
	}

	res, err := h.engine.Confirm(r.Context(), pairing.ConfirmInput{
		UserID:         ac.UserID,
		ChallengeID:    req.ChallengeID,
		Code:           req.Code,
		RevokeDeviceID: req.RevokeDeviceID,
	})
	if err != nil {
		h.logger.Error("confirm pairing", "user_id", ac.UserID, "error", err)
	}
	switch res.Outcome {
	case pairing.OK:
		writeOK(w, map[string]any{
			"newDeviceId":     res.NewDeviceID,
			"revokedDeviceId": res.RevokedDeviceID,
			"deviceCount":     res.DeviceCount,
		})
	case pairing.InvalidCode:
		writeError(w, string(res.Outcome), map[string]any{"attemptsLeft": res.AttemptsLeft})
	case pairing.SlotsFull:
		writeError(w, string(res.Outcome), map[string]any{"deviceCount": res.DeviceCount})
	default:
		writeError(w, string(res.Outcome), nil)
	}
}
