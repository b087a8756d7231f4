package handlers

import (
	"net/http"
)

// Setup2FAHandler generates a new TOTP secret and QR code for the caller.
// Nothing is stored until Enable2FAHandler confirms a code.
func (h *Handler) Setup2FAHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	setup, err := h.Auth.Setup2FA(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

// Enable2FAHandler verifies the TOTP code and enables 2FA.
func (h *Handler) Enable2FAHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		Secret string `json:"secret"`
		Code   string `json:"code"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Auth.Enable2FA(r.Context(), p.UserID, req.Secret, req.Code); err != nil {
		h.fail(w, r, err)
		return
	}
	h.Records.Audit(r.Context(), p.Actor(), "enable_2fa", "user", p.Actor().ID, nil)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) Disable2FAHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	if err := h.Auth.Disable2FA(r.Context(), p.UserID, false); err != nil {
		h.fail(w, r, err)
		return
	}
	h.Records.Audit(r.Context(), p.Actor(), "disable_2fa", "user", p.Actor().ID, nil)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
