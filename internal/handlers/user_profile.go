package handlers

import (
	"net/http"
	"net/mail"
)

func (h *Handler) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	u, err := h.Store.GetUser(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

// UpdateProfileHandler updates the caller's display name and email.
func (h *Handler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			h.fail(w, r, badRequest("invalid email address"))
			return
		}
	}
	if err := h.Store.UpdateUserProfile(r.Context(), p.UserID, req.DisplayName, req.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.Store.GetUser(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": u})
}

// ChangePasswordHandler lets users change their own password.
func (h *Handler) ChangePasswordHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Auth.ChangePassword(r.Context(), p.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	h.Records.Audit(r.Context(), p.Actor(), "change_password", "user", p.Actor().ID, nil)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
