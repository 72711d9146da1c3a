// Package storage persists maintenance records, users and refresh tokens.
// Two drivers share one contract: PostgreSQL via pgx for deployments and
// SQLite via modernc.org/sqlite for single-site installs and tests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/config"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/maintenance"
	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrBookingConflict means another open record already holds the date.
	ErrBookingConflict = errors.New("date already held by an open record")
	// ErrDuplicate is returned for unique keys other than the booking date.
	ErrDuplicate = errors.New("duplicate key")
	// ErrStale means the row changed between read and write.
	ErrStale = errors.New("record changed concurrently")

	ErrTokenRevoked = errors.New("refresh token revoked")
	ErrTokenExpired = errors.New("refresh token expired")
)

// RecordStore holds maintenance cycles. Status is written as given and is
// never read back as truth.
type RecordStore interface {
	List(ctx context.Context) ([]maintenance.Record, error)
	Get(ctx context.Context, id uuid.UUID) (maintenance.Record, error)
	// Insert assigns ID and timestamps and returns the stored record.
	Insert(ctx context.Context, r maintenance.Record) (maintenance.Record, error)
	// Update rewrites an open record. Closed records yield ErrStale.
	Update(ctx context.Context, r maintenance.Record) (maintenance.Record, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// CommitCompletion closes updated and inserts next in one transaction.
	// When next's predecessor already has a successor, that successor is
	// returned and nothing is written.
	CommitCompletion(ctx context.Context, updated, next maintenance.Record) (maintenance.Record, error)
	FindByPrevious(ctx context.Context, previousID uuid.UUID) (maintenance.Record, error)
}

type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error)
	CreateUser(ctx context.Context, username, passwordHash, role string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	UpdateUserPassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
	UpdateUserRole(ctx context.Context, userID uuid.UUID, role string) error
	DeleteUser(ctx context.Context, userID uuid.UUID) error
	UpdateLastLogin(ctx context.Context, userID uuid.UUID) error
	IncrementFailedLoginAttempts(ctx context.Context, userID uuid.UUID, maxAttempts int, lockFor time.Duration) error
	ResetFailedLoginAttempts(ctx context.Context, userID uuid.UUID) error

	StoreRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, tokenHash string) (uuid.UUID, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RevokeAllUserRefreshTokens(ctx context.Context, userID uuid.UUID) error

	LogAuthEvent(ctx context.Context, eventType string, userID *uuid.UUID, ipAddress, userAgent string, success bool, reason string) error
}

// Store is everything a running server needs from the database.
type Store interface {
	RecordStore
	UserStore
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

// Open connects to the configured driver. The schema is not migrated;
// call Migrate or run `omc migrate`.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres", "":
		client, err := NewPostgresClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "sqlite":
		client, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

var (
	_ Store = (*PostgresClient)(nil)
	_ Store = (*SQLiteClient)(nil)
)
