package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func scanSQLiteUser(row rowScanner) (*User, error) {
	var (
		user              User
		created           string
		lastLogin, locked sql.NullString
	)
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role,
		&created, &lastLogin, &user.FailedLoginAttempts, &locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if user.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	if user.LastLoginAt, err = parseSQLiteNullTime(lastLogin); err != nil {
		return nil, err
	}
	if user.LockedUntil, err = parseSQLiteNullTime(locked); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *SQLiteClient) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	user, err := scanSQLiteUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, err
}

func (s *SQLiteClient) GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error) {
	user, err := scanSQLiteUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID.String()))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, err
}

func (s *SQLiteClient) CreateUser(ctx context.Context, username, passwordHash, role string) (*User, error) {
	user, err := scanSQLiteUser(s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING `+userColumns,
		uuid.New().String(), username, passwordHash, role, sqliteNow()))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", mapSQLiteError(err))
	}
	return user, nil
}

func (s *SQLiteClient) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *SQLiteClient) UpdateUserPassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	return s.execUser(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, userID.String())
}

func (s *SQLiteClient) UpdateUserRole(ctx context.Context, userID uuid.UUID, role string) error {
	return s.execUser(ctx, `UPDATE users SET role = ? WHERE id = ?`, role, userID.String())
}

func (s *SQLiteClient) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	return s.execUser(ctx, `DELETE FROM users WHERE id = ?`, userID.String())
}

func (s *SQLiteClient) UpdateLastLogin(ctx context.Context, userID uuid.UUID) error {
	return s.execUser(ctx, `UPDATE users SET last_login_at = ? WHERE id = ?`, sqliteNow(), userID.String())
}

func (s *SQLiteClient) IncrementFailedLoginAttempts(ctx context.Context, userID uuid.UUID, maxAttempts int, lockFor time.Duration) error {
	return s.execUser(ctx, `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
		    locked_until = CASE
		        WHEN failed_login_attempts + 1 >= ? THEN ?
		        ELSE locked_until
		    END
		WHERE id = ?
	`, maxAttempts, formatSQLiteTime(time.Now().Add(lockFor)), userID.String())
}

func (s *SQLiteClient) ResetFailedLoginAttempts(ctx context.Context, userID uuid.UUID) error {
	return s.execUser(ctx, `
		UPDATE users SET failed_login_attempts = 0, locked_until = NULL WHERE id = ?
	`, userID.String())
}

func (s *SQLiteClient) execUser(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteClient) StoreRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?)
	`, userID.String(), tokenHash, formatSQLiteTime(expiresAt), sqliteNow())
	if err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

func (s *SQLiteClient) GetRefreshToken(ctx context.Context, tokenHash string) (uuid.UUID, error) {
	var (
		userID    uuid.UUID
		expiresAt string
		revokedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, expires_at, revoked_at FROM refresh_tokens WHERE token_hash = ?
	`, tokenHash).Scan(&userID, &expiresAt, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	expires, err := parseSQLiteTime(expiresAt)
	if err != nil {
		return uuid.Nil, err
	}
	revoked, err := parseSQLiteNullTime(revokedAt)
	if err != nil {
		return uuid.Nil, err
	}
	return checkRefreshToken(userID, expires, revoked)
}

func (s *SQLiteClient) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = ? WHERE token_hash = ? AND revoked_at IS NULL
	`, sqliteNow(), tokenHash)
	return err
}

func (s *SQLiteClient) RevokeAllUserRefreshTokens(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL
	`, sqliteNow(), userID.String())
	return err
}

func (s *SQLiteClient) LogAuthEvent(ctx context.Context, eventType string, userID *uuid.UUID, ipAddress, userAgent string, success bool, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_events (event_type, user_id, ip_address, user_agent, success, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, eventType, sqliteUUID(userID), ipAddress, userAgent, success, reason, sqliteNow())
	return err
}
