package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"sre-platform/internal/auth"
	"sre-platform/internal/models"
)

// === User Management ===

func userID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id < 1 {
		return 0, badRequest("invalid user id")
	}
	return id, nil
}

func (h *Handler) audit(r *http.Request, action string, id int, meta map[string]any) {
	h.Records.Audit(r.Context(), actor(r), action, "user", "user-"+strconv.Itoa(id), meta)
}

func (h *Handler) GetUsersHandler(w http.ResponseWriter, r *http.Request) {
	if !h.authConfigured(w) {
		return
	}
	users, err := h.Store.GetUsers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	if !h.authConfigured(w) {
		return
	}
	id, err := userID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.Store.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (h *Handler) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	if !h.authConfigured(w) {
		return
	}
	var req struct {
		Username string      `json:"username"`
		Password string      `json:"password"`
		Role     models.Role `json:"role"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Username == "" {
		h.fail(w, r, badRequest("username is required"))
		return
	}
	if !req.Role.Valid() {
		h.fail(w, r, badRequest("invalid role %q", req.Role))
		return
	}
	if len(req.Password) < 8 {
		h.fail(w, r, auth.ErrWeakPassword)
		return
	}

	u, err := h.Store.CreateUser(r.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "create_user", u.ID, map[string]any{"username": u.Username, "role": u.Role})
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "user": u})
}

func (h *Handler) UpdateUserHandler(w http.ResponseWriter, r *http.Request) {
	if !h.authConfigured(w) {
		return
	}
	id, err := userID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		Username string      `json:"username"`
		Role     models.Role `json:"role"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	cur, err := h.Store.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Username == "" {
		req.Username = cur.Username
	}
	if req.Role == "" {
		req.Role = cur.Role
	}
	if !req.Role.Valid() {
		h.fail(w, r, badRequest("invalid role %q", req.Role))
		return
	}
	if p := auth.FromContext(r.Context()); p != nil && p.UserID == id && req.Role != models.RoleAdmin {
		h.fail(w, r, badRequest("admins cannot remove their own admin role"))
		return
	}

	if err := h.Store.UpdateUser(r.Context(), id, req.Username, req.Role); err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "update_user", id, map[string]any{"username": req.Username, "role": req.Role})
	u, err := h.Store.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": u})
}

func (h *Handler) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	if !h.authConfigured(w) {
		return
	}
	id, err := userID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if p := auth.FromContext(r.Context()); p != nil && p.UserID == id {
		h.fail(w, r, badRequest("cannot delete your own account"))
		return
	}
	if err := h.Store.DeleteUser(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "delete_user", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// ResetPasswordHandler sets a user's password without the old one.
func (h *Handler) ResetPasswordHandler(w http.ResponseWriter, r *http.Request) {
	if !h.authConfigured(w) {
		return
	}
	id, err := userID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.Store.GetUser(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Auth.SetPassword(r.Context(), id, req.Password); err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "reset_password", id, nil)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// AdminDisable2FAHandler turns off 2FA for a user who lost their device.
func (h *Handler) AdminDisable2FAHandler(w http.ResponseWriter, r *http.Request) {
	if !h.authConfigured(w) {
		return
	}
	id, err := userID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Auth.Disable2FA(r.Context(), id, true); err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "admin_disable_2fa", id, nil)
	h.logger().Info("2FA disabled by admin", zap.Int("user", id))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
