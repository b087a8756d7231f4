package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sre-platform/internal/models"
)

const userColumns = `id, username, display_name, email, password_hash, role, totp_secret, totp_enabled, last_password_change, last_login_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (models.User, error) {
	var (
		user                         models.User
		role                         string
		totpSecret                   sql.NullString
		lastPasswordChange, lastSeen sql.NullString
		createdAt                    string
	)
	err := row.Scan(&user.ID, &user.Username, &user.DisplayName, &user.Email, &user.PasswordHash,
		&role, &totpSecret, &user.TOTPEnabled, &lastPasswordChange, &lastSeen, &createdAt)
	if err != nil {
		return models.User{}, err
	}
	user.Role = models.Role(role)
	user.TOTPSecret = totpSecret.String
	user.LastPasswordChange = parseStamp(lastPasswordChange.String)
	user.LastLoginAt = parseStamp(lastSeen.String)
	user.CreatedAt = parseStamp(createdAt)
	return user, nil
}

func parseStamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *SQLStore) stamp() string {
	return models.FormatTime(s.now())
}

func (s *SQLStore) CreateUser(ctx context.Context, username, password string, role models.Role) (models.User, error) {
	passwordHash, err := models.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}
	now := s.stamp()
	row := s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO users (username, password_hash, role, totp_enabled, last_password_change, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING `+userColumns),
		username, passwordHash, string(role), false, now, now,
	)
	user, err := scanUser(row)
	if s.d.unique(err) {
		return models.User{}, fmt.Errorf("user %q: %w", username, ErrConflict)
	}
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (s *SQLStore) GetUser(ctx context.Context, id int) (models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return user, err
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+userColumns+` FROM users WHERE username = ?`), username))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return user, err
}

func (s *SQLStore) GetUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// execOne runs a single-row update and maps zero affected rows to ErrNotFound.
func (s *SQLStore) execOne(ctx context.Context, id int, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if s.d.unique(err) {
		return fmt.Errorf("user %d: %w", id, ErrConflict)
	}
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) UpdateUser(ctx context.Context, id int, username string, role models.Role) error {
	return s.execOne(ctx, id, `UPDATE users SET username = ?, role = ? WHERE id = ?`, username, string(role), id)
}

func (s *SQLStore) UpdateUserProfile(ctx context.Context, id int, displayName, email string) error {
	return s.execOne(ctx, id, `UPDATE users SET display_name = ?, email = ? WHERE id = ?`, displayName, email, id)
}

func (s *SQLStore) UpdateUserPassword(ctx context.Context, id int, passwordHash string) error {
	return s.execOne(ctx, id, `UPDATE users SET password_hash = ?, last_password_change = ? WHERE id = ?`,
		passwordHash, s.stamp(), id)
}

func (s *SQLStore) UpdateUser2FA(ctx context.Context, id int, totpSecret string, enabled bool) error {
	return s.execOne(ctx, id, `UPDATE users SET totp_secret = ?, totp_enabled = ? WHERE id = ?`, totpSecret, enabled, id)
}

func (s *SQLStore) Disable2FA(ctx context.Context, id int) error {
	return s.execOne(ctx, id, `UPDATE users SET totp_secret = NULL, totp_enabled = ? WHERE id = ?`, false, id)
}

func (s *SQLStore) TouchLogin(ctx context.Context, id int, at time.Time) error {
	return s.execOne(ctx, id, `UPDATE users SET last_login_at = ? WHERE id = ?`, models.FormatTime(at), id)
}

func (s *SQLStore) DeleteUser(ctx context.Context, id int) error {
	return s.execOne(ctx, id, `DELETE FROM users WHERE id = ?`, id)
}
