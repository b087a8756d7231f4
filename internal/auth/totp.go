package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"sre-platform/internal/models"
)

const qrSize = 256

// Authenticator apps assume these; changing them orphans enrolled devices.
var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TOTPSetup is a freshly generated secret the user confirms with Enable2FA.
type TOTPSetup struct {
	Secret  string `json:"secret"`
	QRCode  string `json:"qr_code"`
	Issuer  string `json:"issuer"`
	Account string `json:"account"`
}

// totpAccount labels the entry in the user's authenticator app.
func totpAccount(u models.User) string {
	if u.Email != "" {
		return u.Email
	}
	return u.Username
}

func (m *Manager) Setup2FA(ctx context.Context, userID int) (TOTPSetup, error) {
	u, err := m.users.GetUser(ctx, userID)
	if err != nil {
		return TOTPSetup{}, err
	}
	account := totpAccount(u)
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: account,
		Period:      totpOpts.Period,
		Digits:      totpOpts.Digits,
		Algorithm:   totpOpts.Algorithm,
	})
	if err != nil {
		return TOTPSetup{}, fmt.Errorf("generate totp secret: %w", err)
	}
	qr, err := qrDataURL(key)
	if err != nil {
		return TOTPSetup{}, fmt.Errorf("render qr code: %w", err)
	}
	return TOTPSetup{Secret: key.Secret(), QRCode: qr, Issuer: m.issuer, Account: account}, nil
}

func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// validCode checks code against secret at the manager's clock, allowing one
// period of drift. Apps often show codes as "123 456".
func (m *Manager) validCode(secret, code string) bool {
	if secret == "" {
		return false
	}
	code = strings.ReplaceAll(strings.TrimSpace(code), " ", "")
	ok, err := totp.ValidateCustom(code, secret, m.now().UTC(), totpOpts)
	return err == nil && ok
}

// Enable2FA stores secret once code proves the user's authenticator has it.
func (m *Manager) Enable2FA(ctx context.Context, userID int, secret, code string) error {
	if !m.validCode(secret, code) {
		return ErrInvalidCode
	}
	return m.users.UpdateUser2FA(ctx, userID, secret, true)
}

// Disable2FA turns TOTP off for the user. byAdmin is set when an admin
// acts on another account for recovery.
func (m *Manager) Disable2FA(ctx context.Context, userID int, byAdmin bool) error {
	u, err := m.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !byAdmin && u.Role == models.RoleAdmin {
		return ErrAdminTOTP
	}
	return m.users.Disable2FA(ctx, userID)
}
