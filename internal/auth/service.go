package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/config"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Permission string

const (
	PermOperator   Permission = "operator"
	PermTechnician Permission = "technician"
	PermAdmin      Permission = "admin"
)

// Role is what a user is stored with. Operators read the dashboard,
// technicians schedule and complete, admins manage machines and users.
type Role string

const (
	RoleOperator   Role = "operator"
	RoleTechnician Role = "technician"
	RoleAdmin      Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOperator, RoleTechnician, RoleAdmin:
		return true
	}
	return false
}

// Permissions expands a role into everything it grants.
func (r Role) Permissions() []Permission {
	switch r {
	case RoleAdmin:
		return []Permission{PermOperator, PermTechnician, PermAdmin}
	case RoleTechnician:
		return []Permission{PermOperator, PermTechnician}
	default:
		return []Permission{PermOperator}
	}
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrInvalidRole        = errors.New("role must be operator, technician or admin")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrUserExists         = errors.New("username already taken")
	ErrUserNotFound       = errors.New("user not found")
)

const minPasswordLength = 8

type AuthService struct {
	storage        storage.UserStore
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	logger         *zap.Logger

	maxFailedAttempts int
	lockDuration      time.Duration
}

func NewAuthService(store storage.UserStore, cfg config.AuthConfig, hasher *PasswordHasher, logger *zap.Logger) *AuthService {
	if hasher == nil {
		hasher = NewPasswordHasher(DefaultPasswordParams())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := cfg.MaxFailedLoginAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	lock := cfg.AccountLockDuration
	if lock <= 0 {
		lock = 15 * time.Minute
	}

	return &AuthService{
		storage:           store,
		jwtHandler:        NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL, cfg.RefreshTokenTTL),
		passwordHasher:    hasher,
		logger:            logger,
		maxFailedAttempts: maxAttempts,
		lockDuration:      lock,
	}
}

// LoginUser authenticates a user and returns tokens
func (a *AuthService) LoginUser(ctx context.Context, username, password, ipAddress, userAgent string) (accessToken, refreshToken string, err error) {
	user, err := a.storage.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.logAuthEvent(ctx, "user_login_failed", nil, ipAddress, userAgent, false, "user not found")
			return "", "", ErrInvalidCredentials
		}
		return "", "", err
	}

	if user.IsLocked(time.Now()) {
		a.logAuthEvent(ctx, "user_login_failed", &user.ID, ipAddress, userAgent, false, "account locked")
		return "", "", fmt.Errorf("%w until %s", ErrAccountLocked, user.LockedUntil.Format(time.RFC3339))
	}

	valid, err := a.passwordHasher.VerifyPassword(password, user.PasswordHash)
	if err != nil || !valid {
		if incErr := a.storage.IncrementFailedLoginAttempts(ctx, user.ID, a.maxFailedAttempts, a.lockDuration); incErr != nil {
			a.logger.Warn("Failed to record failed login", zap.Error(incErr))
		}
		a.logAuthEvent(ctx, "user_login_failed", &user.ID, ipAddress, userAgent, false, "invalid password")
		return "", "", ErrInvalidCredentials
	}

	if err := a.storage.ResetFailedLoginAttempts(ctx, user.ID); err != nil {
		a.logger.Warn("Failed to reset login attempts", zap.Error(err))
	}

	accessToken, refreshToken, err = a.issueTokens(ctx, user)
	if err != nil {
		return "", "", err
	}

	if err := a.storage.UpdateLastLogin(ctx, user.ID); err != nil {
		a.logger.Warn("Failed to update last login", zap.Error(err))
	}
	a.logAuthEvent(ctx, "user_login_success", &user.ID, ipAddress, userAgent, true, "")
	a.logger.Info("User logged in", zap.String("username", user.Username), zap.String("ip", ipAddress))

	return accessToken, refreshToken, nil
}

func (a *AuthService) issueTokens(ctx context.Context, user *storage.User) (string, string, error) {
	accessToken, err := a.jwtHandler.GenerateAccessToken(user.ID, user.Username, Role(user.Role))
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := a.jwtHandler.GenerateRefreshToken()
	if err != nil {
		return "", "", err
	}

	expiresAt := time.Now().Add(a.jwtHandler.RefreshTokenTTL())
	if err := a.storage.StoreRefreshToken(ctx, user.ID, hashRefreshToken(refreshToken), expiresAt); err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

// ValidateToken checks a bearer token and returns its claims.
func (a *AuthService) ValidateToken(token string) (*JWTClaims, error) {
	return a.jwtHandler.ValidateAccessToken(token)
}

// RefreshAccessToken rotates a refresh token: the old one is revoked and a
// new pair is issued.
func (a *AuthService) RefreshAccessToken(ctx context.Context, refreshToken string) (string, string, error) {
	tokenHash := hashRefreshToken(refreshToken)

	userID, err := a.storage.GetRefreshToken(ctx, tokenHash)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	user, err := a.storage.GetUserByID(ctx, userID)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if err := a.storage.RevokeRefreshToken(ctx, tokenHash); err != nil {
		return "", "", fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	return a.issueTokens(ctx, user)
}

// RevokeRefreshToken revokes a refresh token
func (a *AuthService) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	return a.storage.RevokeRefreshToken(ctx, hashRefreshToken(refreshToken))
}

// CreateUser creates a new user
func (a *AuthService) CreateUser(ctx context.Context, username, password string, role Role) (*storage.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidCredentials)
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	passwordHash, err := a.passwordHasher.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := a.storage.CreateUser(ctx, username, passwordHash, string(role))
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	a.logger.Info("User created", zap.String("username", user.Username), zap.String("role", user.Role))
	return user, nil
}

// GetUserByID retrieves a user by ID
func (a *AuthService) GetUserByID(ctx context.Context, userID uuid.UUID) (*storage.User, error) {
	return a.userResult(a.storage.GetUserByID(ctx, userID))
}

// ListUsers returns all users
func (a *AuthService) ListUsers(ctx context.Context) ([]*storage.User, error) {
	return a.storage.ListUsers(ctx)
}

// UpdateUser changes password, role or both. A password change revokes
// every session of the user.
func (a *AuthService) UpdateUser(ctx context.Context, userID uuid.UUID, password *string, role *Role) error {
	if role != nil && !role.Valid() {
		return ErrInvalidRole
	}
	if password != nil && len(*password) < minPasswordLength {
		return ErrWeakPassword
	}

	if password != nil {
		passwordHash, err := a.passwordHasher.HashPassword(*password)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		if err := a.storage.UpdateUserPassword(ctx, userID, passwordHash); err != nil {
			return a.userError(err)
		}
		if err := a.storage.RevokeAllUserRefreshTokens(ctx, userID); err != nil {
			return err
		}
	}

	if role != nil {
		if err := a.storage.UpdateUserRole(ctx, userID, string(*role)); err != nil {
			return a.userError(err)
		}
	}
	return nil
}

// DeleteUser deletes a user
func (a *AuthService) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	return a.userError(a.storage.DeleteUser(ctx, userID))
}

func (a *AuthService) userResult(user *storage.User, err error) (*storage.User, error) {
	if err != nil {
		return nil, a.userError(err)
	}
	return user, nil
}

func (a *AuthService) userError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

func hashRefreshToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func (a *AuthService) logAuthEvent(ctx context.Context, eventType string, userID *uuid.UUID, ip, userAgent string, success bool, reason string) {
	if err := a.storage.LogAuthEvent(ctx, eventType, userID, ip, userAgent, success, reason); err != nil {
		a.logger.Debug("Failed to log auth event", zap.String("event", eventType), zap.Error(err))
	}
}
