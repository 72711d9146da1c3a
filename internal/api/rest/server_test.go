package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/auth"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/clock"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/config"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/events"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/maintenance"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/metrics"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/seed"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/service"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testAPI struct {
	handler http.Handler
	tokens  map[auth.Role]string
}

func newTestAPI(t *testing.T, today string) *testAPI {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(ctx))

	d, err := civil.ParseDate(today)
	require.NoError(t, err)

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecretEnv:    "OMC_REST_TEST_SECRET",
			AccessTokenTTL:  time.Minute,
			RefreshTokenTTL: time.Hour,
		},
		Metrics: config.MetricsConfig{Enabled: true},
	}

	collector := metrics.NewCollector()
	svc := service.New(store, maintenance.NewEngine(0, 0), clock.Fixed(d), events.NewBus(), collector, logger, service.Options{})
	hasher := auth.NewPasswordHasher(auth.PasswordParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	authService := auth.NewAuthService(store, cfg.Auth, hasher, logger)
	seeds, err := seed.NewValidator()
	require.NoError(t, err)

	server := NewServer(cfg, Deps{
		Service: svc,
		Auth:    authService,
		Metrics: collector,
		Seeds:   seeds,
		Health:  store,
	}, logger)

	api := &testAPI{handler: server.Handler(), tokens: map[auth.Role]string{}}
	for _, role := range []auth.Role{auth.RoleOperator, auth.RoleTechnician, auth.RoleAdmin} {
		_, err := authService.CreateUser(ctx, string(role)+"-user", "long enough", role)
		require.NoError(t, err)

		rec := api.do(t, "", http.MethodPost, "/api/v1/auth/login", gin.H{"username": string(role) + "-user", "password": "long enough"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var login LoginResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
		assert.Equal(t, 60, login.ExpiresIn)
		api.tokens[role] = login.AccessToken
	}
	return api
}

func (a *testAPI) do(t *testing.T, role auth.Role, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+a.tokens[role])
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (a *testAPI) createMachine(t *testing.T, name, due string) maintenance.Record {
	t.Helper()
	body := gin.H{"sector": "TI", "machine_name": name, "asset_tag": "MA-" + name}
	if due != "" {
		body["next_maintenance_date"] = due
	}
	rec := a.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/machines", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[maintenance.Record](t, rec)
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	api := newTestAPI(t, "2025-01-06")

	assert.Equal(t, http.StatusOK, api.do(t, "", http.MethodGet, "/health", nil).Code)

	rec := api.do(t, "", http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMachineRoutesRequireRoles(t *testing.T) {
	api := newTestAPI(t, "2025-01-06")
	r := api.createMachine(t, "info-pc", "")

	tests := []struct {
		name   string
		role   auth.Role
		method string
		path   string
		body   any
		want   int
	}{
		{"anonymous read", "", http.MethodGet, "/api/v1/machines", nil, http.StatusUnauthorized},
		{"operator read", auth.RoleOperator, http.MethodGet, "/api/v1/machines", nil, http.StatusOK},
		{"operator schedule", auth.RoleOperator, http.MethodPost, "/api/v1/machines/" + r.ID.String() + "/schedule", gin.H{"date": "2025-01-20"}, http.StatusForbidden},
		{"technician create", auth.RoleTechnician, http.MethodPost, "/api/v1/machines", gin.H{"sector": "TI", "machine_name": "x"}, http.StatusForbidden},
		{"technician users", auth.RoleTechnician, http.MethodGet, "/api/v1/users", nil, http.StatusForbidden},
		{"admin users", auth.RoleAdmin, http.MethodGet, "/api/v1/users", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, tt.role, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestMaintenanceCycleOverHTTP(t *testing.T) {
	api := newTestAPI(t, "2025-03-03")
	source := api.createMachine(t, "bal1-pc", "")
	holder := api.createMachine(t, "ts-server", "2025-03-10")
	base := "/api/v1/machines/" + source.ID.String()

	rec := api.do(t, auth.RoleTechnician, http.MethodPost, base+"/schedule", gin.H{"date": "2025-03-10"})
	require.Equal(t, http.StatusConflict, rec.Code)
	conflict := decode[errorEnvelope](t, rec)
	assert.Equal(t, "DATE_CONFLICT", conflict.Error.Code)
	assert.Equal(t, holder.ID.String(), conflict.Error.Details["held_by"])

	rec = api.do(t, auth.RoleTechnician, http.MethodPost, base+"/schedule", gin.H{"date": "2025-03-11"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, maintenance.StatusScheduled, decode[maintenance.Record](t, rec).Status)

	rec = api.do(t, auth.RoleTechnician, http.MethodPost, base+"/complete", gin.H{"completion_date": "2025-03-01", "ticket_reference": " "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	invalid := decode[errorEnvelope](t, rec)
	assert.Equal(t, "VALIDATION_ERROR", invalid.Error.Code)
	assert.Equal(t, "ticket_reference", invalid.Error.Details["field"])

	rec = api.do(t, auth.RoleTechnician, http.MethodPost, base+"/complete", gin.H{"completion_date": "2025-03-01", "ticket_reference": "CH123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	completion := decode[maintenance.Completion](t, rec)
	assert.Equal(t, maintenance.StatusCompleted, completion.Updated.Status)
	assert.Equal(t, "2025-05-30", completion.Next.NextMaintenanceDate.String())

	rec = api.do(t, auth.RoleOperator, http.MethodGet, base+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[struct {
		Records []maintenance.Record `json:"records"`
	}](t, rec)
	require.Len(t, history.Records, 2)
	assert.Equal(t, completion.Next.ID, history.Records[0].ID)

	rec = api.do(t, auth.RoleOperator, http.MethodGet, "/api/v1/machines?status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decode[service.Listing](t, rec)
	require.Len(t, listing.Records, 1)
	assert.Equal(t, source.ID, listing.Records[0].ID)
	assert.Equal(t, 2, listing.Tabs[maintenance.StatusScheduled])
}

func TestEditDeleteAndLookups(t *testing.T) {
	api := newTestAPI(t, "2025-01-06")
	r := api.createMachine(t, "info-pc", "")
	path := "/api/v1/machines/" + r.ID.String()

	rec := api.do(t, auth.RoleTechnician, http.MethodPatch, path, gin.H{"sector": "LOG", "machine_name": "log-pc"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "LOG", decode[maintenance.Record](t, rec).Sector)

	rec = api.do(t, auth.RoleOperator, http.MethodGet, "/api/v1/sectors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sectors":["LOG"]}`, rec.Body.String())

	rec = api.do(t, auth.RoleOperator, http.MethodGet, "/api/v1/equipment", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "log-pc")

	assert.Equal(t, http.StatusNoContent, api.do(t, auth.RoleAdmin, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, auth.RoleOperator, http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, auth.RoleOperator, http.MethodGet, "/api/v1/machines/not-a-uuid", nil).Code)
}

func TestImportMachines(t *testing.T) {
	api := newTestAPI(t, "2025-01-06")
	api.createMachine(t, "info-pc", "")

	doc := strings.Join([]string{
		"version: 1",
		"machines:",
		"  - sector: TI",
		"    machine_name: info-pc",
		"  - sector: BAL",
		"    machine_name: bal1-pc",
		"    asset_tag: MA-3R4S5T6-P",
	}, "\n")

	rec := api.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/machines/import", doc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[service.ImportResult](t, rec)
	require.Len(t, result.Created, 1)
	assert.Equal(t, "bal1-pc", result.Created[0].MachineName)
	assert.Equal(t, []string{"info-pc"}, result.Skipped)

	rec = api.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/machines/import", "version: 2\nmachines: []\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	invalid := decode[errorEnvelope](t, rec)
	assert.Equal(t, "SEED_INVALID", invalid.Error.Code)
	assert.NotEmpty(t, invalid.Error.Details["reason"])

	t.Run("stopped import reports what it created", func(t *testing.T) {
		api.createMachine(t, "ts-server", "2025-01-20")
		partial := strings.Join([]string{
			"version: 1",
			"machines:",
			"  - sector: LOG",
			"    machine_name: log-pc",
			"  - sector: LOG",
			"    machine_name: log2-pc",
			"    next_maintenance_date: 2025-01-20",
		}, "\n")

		rec := api.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/machines/import", partial)
		require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
		stopped := decode[errorEnvelope](t, rec)
		assert.Equal(t, "DATE_CONFLICT", stopped.Error.Code)
		assert.Equal(t, "2025-01-20", stopped.Error.Details["date"])

		created, ok := stopped.Error.Details["created"].([]any)
		require.True(t, ok, rec.Body.String())
		require.Len(t, created, 1)

		rec = api.do(t, auth.RoleOperator, http.MethodGet, "/api/v1/machines/"+created[0].(string), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "log-pc", decode[maintenance.Record](t, rec).MachineName)
	})
}

func TestUserManagement(t *testing.T) {
	api := newTestAPI(t, "2025-01-06")

	rec := api.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/users", gin.H{"username": "erin", "password": "long enough", "role": "technician"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "argon2")
	id := decode[struct {
		ID uuid.UUID `json:"id"`
	}](t, rec).ID

	rec = api.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/users", gin.H{"username": "erin", "password": "long enough", "role": "technician"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/users", gin.H{"username": "frank", "password": "long enough", "role": "root"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, auth.RoleAdmin, http.MethodPatch, "/api/v1/users/"+id.String(), gin.H{"role": "admin"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusOK, api.do(t, auth.RoleAdmin, http.MethodDelete, "/api/v1/users/"+id.String(), nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, auth.RoleAdmin, http.MethodDelete, "/api/v1/users/"+id.String(), nil).Code)

	rec = api.do(t, auth.RoleOperator, http.MethodGet, "/api/v1/auth/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "operator-user")
}

func TestLoginFailures(t *testing.T) {
	api := newTestAPI(t, "2025-01-06")

	rec := api.do(t, "", http.MethodPost, "/api/v1/auth/login", gin.H{"username": "admin-user", "password": "wrong password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, "", http.MethodPost, "/api/v1/auth/login", gin.H{"username": "admin-user"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRespondErrorStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := &Server{logger: zaptest.NewLogger(t)}

	tests := []struct {
		err  error
		want int
		code string
	}{
		{&maintenance.ValidationError{Field: "date", Message: "weekend"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{&maintenance.ConflictError{Date: civil.Date{Year: 2025, Month: 1, Day: 20}}, http.StatusConflict, "DATE_CONFLICT"},
		{fmt.Errorf("commit: %w", maintenance.ErrDateConflict), http.StatusConflict, "DATE_CONFLICT"},
		{maintenance.ErrSchedulingExhausted, http.StatusUnprocessableEntity, "SCHEDULING_EXHAUSTED"},
		{maintenance.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("list: %w", maintenance.ErrStoreUnavailable), http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			s.respondError(c, tt.err)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.code, decode[errorEnvelope](t, rec).Error.Code)
		})
	}
}
