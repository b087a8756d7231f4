package handlers

import (
	"net/http"
	"time"

	"sre-platform/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginHandler checks credentials and starts a session. Users with 2FA get
// a pending login that /auth/2fa/verify completes.
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if !h.authConfigured(w) {
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		h.fail(w, r, badRequest("username and password are required"))
		return
	}

	res, err := h.Auth.Login(w, r, req.Username, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.Requires2FA {
		writeJSON(w, http.StatusOK, map[string]any{
			"requires_2fa": true,
			"totp_enabled": true,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": res.User})
}

func (h *Handler) Verify2FAHandler(w http.ResponseWriter, r *http.Request) {
	if !h.authConfigured(w) {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.Auth.Verify2FA(w, r, req.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": u})
}

func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if !h.authConfigured(w) {
		return
	}
	if err := h.Auth.Logout(w, r); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// MeHandler returns the logged-in user.
func (h *Handler) MeHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	u, err := h.Store.GetUser(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u, "via": p.Via})
}

// IssueTokenHandler hands the caller a bearer token for scripts and CI.
func (h *Handler) IssueTokenHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	token, expires, err := h.Auth.IssueToken(*p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      token,
		"token_type": "Bearer",
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) authConfigured(w http.ResponseWriter) bool {
	if h.Auth == nil || h.Store == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "authentication is not configured", nil)
		return false
	}
	return true
}

// principal returns the caller, writing a 401 when there is none.
func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	if !h.authConfigured(w) {
		return nil, false
	}
	p := auth.FromContext(r.Context())
	if p == nil {
		h.fail(w, r, auth.ErrUnauthenticated)
		return nil, false
	}
	return p, true
}
