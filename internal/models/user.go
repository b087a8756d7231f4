package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleSRE    Role = "sre"
	RoleViewer Role = "viewer"
)

// Valid reports whether r is a known console role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSRE, RoleViewer:
		return true
	}
	return false
}

// CanWrite reports whether the role may modify records.
func (r Role) CanWrite() bool {
	return r == RoleAdmin || r == RoleSRE
}

// User is a console account.
type User struct {
	ID                 int       `json:"id"`
	Username           string    `json:"username"`
	DisplayName        string    `json:"display_name,omitempty"`
	Email              string    `json:"email,omitempty"`
	PasswordHash       string    `json:"-"`
	Role               Role      `json:"role"`
	TOTPSecret         string    `json:"-"`
	TOTPEnabled        bool      `json:"totp_enabled"`
	LastPasswordChange time.Time `json:"last_password_change,omitempty"`
	LastLoginAt        time.Time `json:"last_login_at,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Actor returns the reference stamped on timeline entries and audit records.
func (u *User) Actor() *Actor {
	if u == nil {
		return nil
	}
	return &Actor{
		ID:          "user-" + itoa(u.ID),
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Email:       u.Email,
	}
}

// HashPassword generates bcrypt hash of the password
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares password with hash
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}
