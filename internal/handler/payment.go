package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/chatgate/internal/access"
	"github.com/dukerupert/chatgate/internal/session"
)

// CollaboratorHeader carries the payment collaborator's shared secret.
const CollaboratorHeader = "X-Collaborator-Token"

type PaymentHandler struct {
	access *access.Service
	cred   session.Credential
	token  []byte
	logger *slog.Logger
}

func NewPaymentHandler(as *access.Service, cred session.Credential, token string, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{access: as, cred: cred, token: []byte(token), logger: logger}
}

type paymentReturnRequest struct {
	Phone             string     `json:"phone"`
	ExternalRef       string     `json:"externalRef"`
	Plan              string     `json:"plan"`
	Status            string     `json:"status"`
	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
	DeviceID          string     `json:"deviceId"`
}

func (h *PaymentHandler) authorized(r *http.Request) bool {
	got := []byte(r.Header.Get(CollaboratorHeader))
	return len(h.token) > 0 && subtle.ConstantTimeCompare(got, h.token) == 1
}

// Return is called by the payment collaborator once a capture is verified.
// The session cookie is set on the response so the collaborator can relay it
// to the paying browser.
func (h *PaymentHandler) Return(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.logger.Warn("payment return rejected", "remote", r.RemoteAddr)
		writeError(w, codeUnauthorized, nil)
		return
	}

	var req paymentReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, codeInvalidJSON, nil)
		return
	}

	res, err := h.access.AttachAfterPayment(r.Context(), access.PaymentReturn{
		Phone:             req.Phone,
		ExternalRef:       req.ExternalRef,
		Plan:              req.Plan,
		Status:            req.Status,
		CurrentPeriodEnd:  req.CurrentPeriodEnd,
		CancelAtPeriodEnd: req.CancelAtPeriodEnd,
		DeviceID:          deviceIDFrom(r, req.DeviceID),
	})
	if err != nil {
		h.logger.Error("payment return", "error", err)
	}
	if res.Outcome != access.OK {
		writeError(w, string(res.Outcome), nil)
		return
	}

	h.cred.Set(w, res.Session)
	writeOK(w, map[string]any{
		"userId":             res.User.ID,
		"newUser":            res.NewUser,
		"subscriptionStatus": res.Subscription.Status,
		"deviceCount":        res.DeviceCount,
		"revokedDeviceId":    res.RevokedDeviceID,
	})
}
