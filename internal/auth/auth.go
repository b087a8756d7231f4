// Package auth handles console logins: password and TOTP checks, cookie
// sessions and bearer tokens for automation clients.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"sre-platform/internal/config"
	"sre-platform/internal/models"
	"sre-platform/internal/store"
)

const sessionName = "sre-session"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrNoPendingLogin     = errors.New("no login waiting for a verification code")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrAdminTOTP          = errors.New("admins cannot disable their own 2FA")
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID   int         `json:"id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
	// Via is "session" or "token".
	Via string `json:"via"`
}

// Actor returns the reference stamped on records the principal writes.
func (p *Principal) Actor() *models.Actor {
	if p == nil {
		return nil
	}
	return &models.Actor{ID: "user-" + strconv.Itoa(p.UserID), Username: p.Username}
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal, or nil.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(ctxKey{}).(*Principal)
	return p
}

// LoginResult is the outcome of a password check. When Requires2FA is set
// the session only holds a pending login until Verify2FA succeeds.
type LoginResult struct {
	User        models.User
	Requires2FA bool
}

type Manager struct {
	users    store.UserStore
	sessions *sessions.CookieStore
	jwtKey   []byte
	tokenTTL time.Duration
	issuer   string
	enabled  bool
	logger   *zap.Logger
	now      func() time.Time
}

// NewManager builds a manager. Missing secrets are generated, which means
// sessions and tokens do not survive a restart.
func NewManager(cfg config.AuthConfig, users store.UserStore, logger *zap.Logger) (*Manager, error) {
	logger = logger.Named("auth")
	sessionKey, err := secretOrRandom(cfg.SessionSecret)
	if err != nil {
		return nil, err
	}
	jwtKey, err := secretOrRandom(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	if cfg.Enabled && (cfg.SessionSecret == "" || cfg.JWTSecret == "") {
		logger.Warn("auth secrets not configured, generated ephemeral ones")
	}

	cs := sessions.NewCookieStore(sessionKey)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 3600,
		HttpOnly: true,
		Secure:   cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
	issuer := cfg.TOTPIssuer
	if issuer == "" {
		issuer = "SRE Platform"
	}
	return &Manager{
		users:    users,
		sessions: cs,
		jwtKey:   jwtKey,
		tokenTTL: cfg.TokenTTL,
		issuer:   issuer,
		enabled:  cfg.Enabled,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func secretOrRandom(s string) ([]byte, error) {
	if s != "" {
		return []byte(s), nil
	}
	generated, err := models.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	return []byte(generated), nil
}

// Enabled reports whether requests must authenticate.
func (m *Manager) Enabled() bool { return m.enabled }

// Bootstrap creates the default admin when there are no users yet.
func (m *Manager) Bootstrap(ctx context.Context, username, password string) error {
	users, err := m.users.GetUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(users) > 0 {
		return nil
	}
	u, err := m.users.CreateUser(ctx, username, password, models.RoleAdmin)
	if err != nil {
		return fmt.Errorf("create default admin: %w", err)
	}
	m.logger.Warn("created default admin user, change its password", zap.String("username", u.Username))
	return nil
}

// Login checks the password and starts a session, or a pending login when
// the user has TOTP enabled.
func (m *Manager) Login(w http.ResponseWriter, r *http.Request, username, password string) (LoginResult, error) {
	u, err := m.users.GetUserByUsername(r.Context(), username)
	if errors.Is(err, store.ErrNotFound) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}
	if !u.CheckPassword(password) {
		m.logger.Info("login rejected", zap.String("username", username))
		return LoginResult{}, ErrInvalidCredentials
	}

	session, _ := m.sessions.Get(r, sessionName)
	if u.TOTPEnabled {
		clearSession(session)
		session.Values["pending_user_id"] = u.ID
		if err := session.Save(r, w); err != nil {
			return LoginResult{}, fmt.Errorf("save session: %w", err)
		}
		return LoginResult{User: u, Requires2FA: true}, nil
	}
	if err := m.startSession(w, r, session, u); err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: u}, nil
}

// Verify2FA completes a pending login.
func (m *Manager) Verify2FA(w http.ResponseWriter, r *http.Request, code string) (models.User, error) {
	session, _ := m.sessions.Get(r, sessionName)
	id, ok := session.Values["pending_user_id"].(int)
	if !ok || id == 0 {
		return models.User{}, ErrNoPendingLogin
	}
	u, err := m.users.GetUser(r.Context(), id)
	if err != nil {
		return models.User{}, err
	}
	if !m.validCode(u.TOTPSecret, code) {
		return models.User{}, ErrInvalidCode
	}
	if err := m.startSession(w, r, session, u); err != nil {
		return models.User{}, err
	}
	return u, nil
}

func (m *Manager) startSession(w http.ResponseWriter, r *http.Request, session *sessions.Session, u models.User) error {
	clearSession(session)
	session.Values["user_id"] = u.ID
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if err := m.users.TouchLogin(r.Context(), u.ID, m.now().UTC()); err != nil {
		m.logger.Warn("record login time failed", zap.Int("user", u.ID), zap.Error(err))
	}
	m.logger.Info("login", zap.String("username", u.Username), zap.String("role", string(u.Role)))
	return nil
}

func clearSession(s *sessions.Session) {
	for k := range s.Values {
		delete(s.Values, k)
	}
}

// Logout ends the session.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) error {
	session, _ := m.sessions.Get(r, sessionName)
	clearSession(session)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// Authenticate resolves the caller from a bearer token or the session
// cookie. The account is reloaded on every request, so role changes and
// deletions apply to logins issued before them.
func (m *Manager) Authenticate(r *http.Request) (*Principal, error) {
	id, via := 0, "session"
	if tok, ok := bearer(r); ok {
		p, err := m.ParseToken(tok)
		if err != nil {
			return nil, err
		}
		id, via = p.UserID, p.Via
	} else {
		session, err := m.sessions.Get(r, sessionName)
		if err != nil {
			return nil, ErrUnauthenticated
		}
		id, _ = session.Values["user_id"].(int)
		if id == 0 {
			return nil, ErrUnauthenticated
		}
	}

	u, err := m.users.GetUser(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: account no longer exists", ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	return &Principal{UserID: u.ID, Username: u.Username, Role: u.Role, Via: via}, nil
}

// ChangePassword replaces the password after checking the old one.
func (m *Manager) ChangePassword(ctx context.Context, userID int, oldPassword, newPassword string) error {
	u, err := m.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !u.CheckPassword(oldPassword) {
		return ErrInvalidCredentials
	}
	return m.SetPassword(ctx, userID, newPassword)
}

// SetPassword replaces the password without checking the old one.
func (m *Manager) SetPassword(ctx context.Context, userID int, password string) error {
	if len(password) < 8 {
		return ErrWeakPassword
	}
	hash, err := models.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return m.users.UpdateUserPassword(ctx, userID, hash)
}
