package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/maintenance"
	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *SQLiteClient {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "maintenance.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func date(t *testing.T, s string) *civil.Date {
	t.Helper()
	d, err := civil.ParseDate(s)
	require.NoError(t, err)
	return &d
}

func openRecord(t *testing.T, due string) maintenance.Record {
	r := maintenance.Record{
		Sector:      "TI",
		MachineName: "info-pc",
		AssetTag:    "MA-5L6M7N8-L",
		Status:      maintenance.StatusPending,
	}
	if due != "" {
		r.NextMaintenanceDate = date(t, due)
		r.Status = maintenance.StatusScheduled
	}
	return r
}

func TestSQLiteInsertAndGet(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	stored, err := s.Insert(ctx, openRecord(t, "2025-05-30"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, stored.ID)
	assert.False(t, stored.CreatedAt.IsZero())

	got, err := s.Get(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, got.ID)
	assert.Equal(t, "info-pc", got.MachineName)
	assert.Equal(t, *date(t, "2025-05-30"), *got.NextMaintenanceDate)
	assert.Nil(t, got.CompletionDate)
	assert.Nil(t, got.PreviousRecordID)

	_, err = s.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteListOrdersByCreation(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	first, err := s.Insert(ctx, openRecord(t, ""))
	require.NoError(t, err)
	second, err := s.Insert(ctx, openRecord(t, "2025-06-02"))
	require.NoError(t, err)

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first.ID, records[0].ID)
	assert.Equal(t, second.ID, records[1].ID)
}

func TestSQLiteOpenDateIsUnique(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, openRecord(t, "2025-05-30"))
	require.NoError(t, err)

	_, err = s.Insert(ctx, openRecord(t, "2025-05-30"))
	assert.ErrorIs(t, err, ErrBookingConflict)

	// Closed cycles do not hold their date.
	closed := openRecord(t, "2025-06-02")
	closed.CompletionDate = date(t, "2025-06-02")
	closed.Status = maintenance.StatusCompleted
	_, err = s.Insert(ctx, closed)
	require.NoError(t, err)
	_, err = s.Insert(ctx, openRecord(t, "2025-06-02"))
	assert.NoError(t, err)

	// Undated records never collide.
	_, err = s.Insert(ctx, openRecord(t, ""))
	require.NoError(t, err)
	_, err = s.Insert(ctx, openRecord(t, ""))
	assert.NoError(t, err)
}

func TestSQLiteUpdate(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	stored, err := s.Insert(ctx, openRecord(t, ""))
	require.NoError(t, err)

	stored.NextMaintenanceDate = date(t, "2025-01-21")
	stored.Status = maintenance.StatusScheduled
	updated, err := s.Update(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, *date(t, "2025-01-21"), *updated.NextMaintenanceDate)
	assert.Equal(t, maintenance.StatusScheduled, updated.Status)

	_, err = s.Update(ctx, maintenance.Record{ID: uuid.New(), Sector: "TI", MachineName: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteDelete(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	stored, err := s.Insert(ctx, openRecord(t, ""))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, stored.ID))
	assert.ErrorIs(t, s.Delete(ctx, stored.ID), ErrNotFound)
}

func TestSQLiteCommitCompletion(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	source, err := s.Insert(ctx, openRecord(t, "2025-03-03"))
	require.NoError(t, err)

	updated := source
	updated.CompletionDate = date(t, "2025-03-01")
	updated.TicketReference = "CH123"
	updated.Status = maintenance.StatusCompleted

	previous := source.ID
	next := openRecord(t, "2025-05-30")
	next.PreviousRecordID = &previous

	stored, err := s.CommitCompletion(ctx, updated, next)
	require.NoError(t, err)
	assert.Equal(t, &previous, stored.PreviousRecordID)
	assert.Equal(t, *date(t, "2025-05-30"), *stored.NextMaintenanceDate)

	closed, err := s.Get(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, "CH123", closed.TicketReference)
	assert.Equal(t, *date(t, "2025-03-01"), *closed.CompletionDate)

	t.Run("retry returns the stored successor", func(t *testing.T) {
		again, err := s.CommitCompletion(ctx, updated, next)
		require.NoError(t, err)
		assert.Equal(t, stored.ID, again.ID)

		records, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("find by previous", func(t *testing.T) {
		got, err := s.FindByPrevious(ctx, source.ID)
		require.NoError(t, err)
		assert.Equal(t, stored.ID, got.ID)

		_, err = s.FindByPrevious(ctx, stored.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSQLiteCommitCompletionRollsBackOnConflict(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	source, err := s.Insert(ctx, openRecord(t, "2025-03-03"))
	require.NoError(t, err)
	_, err = s.Insert(ctx, openRecord(t, "2025-05-30"))
	require.NoError(t, err)

	updated := source
	updated.CompletionDate = date(t, "2025-03-01")
	updated.TicketReference = "CH123"
	updated.Status = maintenance.StatusCompleted

	previous := source.ID
	next := openRecord(t, "2025-05-30")
	next.PreviousRecordID = &previous

	_, err = s.CommitCompletion(ctx, updated, next)
	require.ErrorIs(t, err, ErrBookingConflict)

	got, err := s.Get(ctx, source.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CompletionDate, "update must roll back with the failed insert")
	assert.Empty(t, got.TicketReference)
}

func TestSQLiteUsers(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, "alice", "hash", "technician")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	_, err = s.CreateUser(ctx, "alice", "hash", "admin")
	assert.ErrorIs(t, err, ErrDuplicate)

	byName, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)
	assert.Equal(t, "hash", byName.PasswordHash)

	_, err = s.GetUserByUsername(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpdateUserRole(ctx, user.ID, "admin"))
	require.NoError(t, s.UpdateLastLogin(ctx, user.ID))
	byID, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin", byID.Role)
	assert.NotNil(t, byID.LastLoginAt)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.IncrementFailedLoginAttempts(ctx, user.ID, 3, time.Hour))
	}
	locked, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, locked.IsLocked(time.Now()))

	require.NoError(t, s.ResetFailedLoginAttempts(ctx, user.ID))
	unlocked, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, unlocked.IsLocked(time.Now()))
	assert.Zero(t, unlocked.FailedLoginAttempts)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	require.NoError(t, s.DeleteUser(ctx, user.ID))
	assert.ErrorIs(t, s.DeleteUser(ctx, user.ID), ErrNotFound)
}

func TestSQLiteRefreshTokens(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, "alice", "hash", "operator")
	require.NoError(t, err)

	require.NoError(t, s.StoreRefreshToken(ctx, user.ID, "live", time.Now().Add(time.Hour)))
	require.NoError(t, s.StoreRefreshToken(ctx, user.ID, "stale", time.Now().Add(-time.Hour)))

	id, err := s.GetRefreshToken(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)

	_, err = s.GetRefreshToken(ctx, "stale")
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = s.GetRefreshToken(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.RevokeAllUserRefreshTokens(ctx, user.ID))
	_, err = s.GetRefreshToken(ctx, "live")
	assert.ErrorIs(t, err, ErrTokenRevoked)

	assert.NoError(t, s.LogAuthEvent(ctx, "login", &user.ID, "127.0.0.1", "test", true, ""))
	assert.NoError(t, s.LogAuthEvent(ctx, "login", nil, "127.0.0.1", "test", false, "unknown user"))
}
