package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sre-platform/internal/models"
)

type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a bearer token for p.
func (m *Manager) IssueToken(p Principal) (string, time.Time, error) {
	now := m.now()
	expires := now.Add(m.tokenTTL)
	claims := Claims{
		Username: p.Username,
		Role:     string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(p.UserID),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.jwtKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// ParseToken verifies a bearer token.
func (m *Manager) ParseToken(s string) (*Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(s, claims, func(*jwt.Token) (interface{}, error) {
		return m.jwtKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	id, err := strconv.Atoi(claims.Subject)
	if err != nil || id == 0 {
		return nil, fmt.Errorf("%w: invalid token subject", ErrUnauthenticated)
	}
	return &Principal{UserID: id, Username: claims.Username, Role: models.Role(claims.Role), Via: "token"}, nil
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	tok := strings.TrimPrefix(h, "Bearer ")
	if h == "" || tok == h {
		return "", false
	}
	return strings.TrimSpace(tok), true
}
