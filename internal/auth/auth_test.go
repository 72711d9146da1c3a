package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/config"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// Cheap parameters keep the suite fast.
var testParams = PasswordParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func newTestService(t *testing.T) *AuthService {
	t.Helper()
	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(context.Background()))

	cfg := config.AuthConfig{
		JWTSecretEnv:           "OMC_AUTH_TEST_SECRET",
		AccessTokenTTL:         time.Minute,
		RefreshTokenTTL:        time.Hour,
		MaxFailedLoginAttempts: 3,
		AccountLockDuration:    time.Hour,
	}
	return NewAuthService(store, cfg, NewPasswordHasher(testParams), zaptest.NewLogger(t))
}

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(testParams)

	hash, err := h.HashPassword("correct horse")
	require.NoError(t, err)

	ok, err := h.VerifyPassword("correct horse", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyPassword("wrong horse", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.VerifyPassword("x", "$bcrypt$whatever")
	assert.ErrorIs(t, err, ErrMalformedHash)

	// Hashes carry their own parameters.
	ok, err = NewPasswordHasher(DefaultPasswordParams()).VerifyPassword("correct horse", hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJWTRoundTrip(t *testing.T) {
	j := NewJWTHandler("0123456789abcdef0123456789abcdef", time.Minute, time.Hour)
	id := uuid.New()

	token, err := j.GenerateAccessToken(id, "alice", RoleTechnician)
	require.NoError(t, err)

	claims, err := j.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, RoleTechnician, claims.Role)

	other := NewJWTHandler("another-secret-another-secret-xx", time.Minute, time.Hour)
	_, err = other.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	j.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = j.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")
}

func TestRolePermissions(t *testing.T) {
	assert.Equal(t, []Permission{PermOperator}, RoleOperator.Permissions())
	assert.Contains(t, RoleTechnician.Permissions(), PermTechnician)
	assert.NotContains(t, RoleTechnician.Permissions(), PermAdmin)
	assert.Contains(t, RoleAdmin.Permissions(), PermAdmin)
	assert.False(t, Role("root").Valid())
}

func TestLoginFlow(t *testing.T) {
	a := newTestService(t)
	ctx := context.Background()

	_, err := a.CreateUser(ctx, "alice", "short", RoleTechnician)
	assert.ErrorIs(t, err, ErrWeakPassword)
	_, err = a.CreateUser(ctx, "alice", "long enough", "root")
	assert.ErrorIs(t, err, ErrInvalidRole)

	user, err := a.CreateUser(ctx, "alice", "long enough", RoleTechnician)
	require.NoError(t, err)
	_, err = a.CreateUser(ctx, "alice", "long enough", RoleTechnician)
	assert.ErrorIs(t, err, ErrUserExists)

	access, refresh, err := a.LoginUser(ctx, "alice", "long enough", "127.0.0.1", "test")
	require.NoError(t, err)

	claims, err := a.ValidateToken(access)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	_, newRefresh, err := a.RefreshAccessToken(ctx, refresh)
	require.NoError(t, err)
	assert.NotEqual(t, refresh, newRefresh)

	_, _, err = a.RefreshAccessToken(ctx, refresh)
	assert.ErrorIs(t, err, ErrInvalidToken, "rotated tokens are single use")

	require.NoError(t, a.RevokeRefreshToken(ctx, newRefresh))
	_, _, err = a.RefreshAccessToken(ctx, newRefresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = a.LoginUser(ctx, "nobody", "long enough", "127.0.0.1", "test")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginLocksAfterRepeatedFailures(t *testing.T) {
	a := newTestService(t)
	ctx := context.Background()

	_, err := a.CreateUser(ctx, "bob", "long enough", RoleOperator)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err := a.LoginUser(ctx, "bob", "wrong password", "127.0.0.1", "test")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, _, err = a.LoginUser(ctx, "bob", "long enough", "127.0.0.1", "test")
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestUpdateAndDeleteUser(t *testing.T) {
	a := newTestService(t)
	ctx := context.Background()

	user, err := a.CreateUser(ctx, "carol", "long enough", RoleOperator)
	require.NoError(t, err)

	admin := RoleAdmin
	require.NoError(t, a.UpdateUser(ctx, user.ID, nil, &admin))
	got, err := a.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin", got.Role)

	bad := Role("root")
	assert.ErrorIs(t, a.UpdateUser(ctx, user.ID, nil, &bad), ErrInvalidRole)

	require.NoError(t, a.DeleteUser(ctx, user.ID))
	assert.ErrorIs(t, a.DeleteUser(ctx, user.ID), ErrUserNotFound)
	_, err = a.GetUserByID(ctx, user.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newTestService(t)

	router := gin.New()
	router.GET("/read", a.AuthMiddleware(), RequirePermission(PermOperator), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/admin", a.AuthMiddleware(), RequirePermission(PermAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	token, err := a.jwtHandler.GenerateAccessToken(uuid.New(), "dave", RoleTechnician)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no header", "/read", "", http.StatusUnauthorized},
		{"bad scheme", "/read", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "/read", "Bearer abc", http.StatusUnauthorized},
		{"allowed", "/read", "Bearer " + token, http.StatusNoContent},
		{"forbidden", "/admin", "Bearer " + token, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
