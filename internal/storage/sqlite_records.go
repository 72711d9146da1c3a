package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/maintenance"
	"github.com/golang-sql/civil"
	"github.com/google/uuid"
)

// sqliteQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanSQLiteRecord(row rowScanner) (maintenance.Record, error) {
	var (
		r                  maintenance.Record
		status             string
		next, done         sql.NullString
		previous           uuid.NullUUID
		created, updatedAt string
	)
	err := row.Scan(&r.ID, &r.Sector, &r.MachineName, &r.AssetTag, &r.TicketReference,
		&next, &done, &status, &previous, &created, &updatedAt)
	if err != nil {
		return maintenance.Record{}, err
	}

	if r.NextMaintenanceDate, err = parseSQLiteDate(next); err != nil {
		return maintenance.Record{}, err
	}
	if r.CompletionDate, err = parseSQLiteDate(done); err != nil {
		return maintenance.Record{}, err
	}
	if previous.Valid {
		id := previous.UUID
		r.PreviousRecordID = &id
	}
	if r.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return maintenance.Record{}, err
	}
	if r.UpdatedAt, err = parseSQLiteTime(updatedAt); err != nil {
		return maintenance.Record{}, err
	}
	r.Status = maintenance.Status(status)
	return r, nil
}

func parseSQLiteDate(s sql.NullString) (*civil.Date, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := civil.ParseDate(s.String)
	if err != nil {
		return nil, fmt.Errorf("bad stored date %q: %w", s.String, err)
	}
	return &d, nil
}

func sqliteDate(d *civil.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func sqliteUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func (s *SQLiteClient) List(ctx context.Context) ([]maintenance.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM maintenance_records ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []maintenance.Record
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return records, nil
}

func (s *SQLiteClient) Get(ctx context.Context, id uuid.UUID) (maintenance.Record, error) {
	return getSQLiteRecord(ctx, s.db, `WHERE id = ?`, id.String())
}

func (s *SQLiteClient) FindByPrevious(ctx context.Context, previousID uuid.UUID) (maintenance.Record, error) {
	return getSQLiteRecord(ctx, s.db, `WHERE previous_record_id = ?`, previousID.String())
}

func getSQLiteRecord(ctx context.Context, q sqliteQuerier, where string, arg any) (maintenance.Record, error) {
	r, err := scanSQLiteRecord(q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM maintenance_records `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return maintenance.Record{}, ErrNotFound
		}
		return maintenance.Record{}, fmt.Errorf("failed to get record: %w", err)
	}
	return r, nil
}

func (s *SQLiteClient) Insert(ctx context.Context, r maintenance.Record) (maintenance.Record, error) {
	return insertSQLiteRecord(ctx, s.db, r, false)
}

func insertSQLiteRecord(ctx context.Context, q sqliteQuerier, r maintenance.Record, skipDuplicate bool) (maintenance.Record, error) {
	onConflict := ""
	if skipDuplicate {
		onConflict = `ON CONFLICT (previous_record_id) DO NOTHING`
	}

	now := sqliteNow()
	stored, err := scanSQLiteRecord(q.QueryRowContext(ctx, `
		INSERT INTO maintenance_records (id, sector, machine_name, asset_tag, ticket_reference,
			next_maintenance_date, completion_date, status, previous_record_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`+onConflict+`
		RETURNING `+recordColumns,
		uuid.New().String(), r.Sector, r.MachineName, r.AssetTag, r.TicketReference,
		sqliteDate(r.NextMaintenanceDate), sqliteDate(r.CompletionDate), string(r.Status),
		sqliteUUID(r.PreviousRecordID), now, now,
	))
	if err != nil {
		if skipDuplicate && errors.Is(err, sql.ErrNoRows) {
			return maintenance.Record{}, err
		}
		return maintenance.Record{}, fmt.Errorf("failed to insert record: %w", mapSQLiteError(err))
	}
	return stored, nil
}

func (s *SQLiteClient) Update(ctx context.Context, r maintenance.Record) (maintenance.Record, error) {
	return updateSQLiteRecord(ctx, s.db, r)
}

func updateSQLiteRecord(ctx context.Context, q sqliteQuerier, r maintenance.Record) (maintenance.Record, error) {
	stored, err := scanSQLiteRecord(q.QueryRowContext(ctx, `
		UPDATE maintenance_records
		SET sector = ?, machine_name = ?, asset_tag = ?, ticket_reference = ?,
		    next_maintenance_date = ?, completion_date = ?, status = ?, updated_at = ?
		WHERE id = ? AND completion_date IS NULL
		RETURNING `+recordColumns,
		r.Sector, r.MachineName, r.AssetTag, r.TicketReference,
		sqliteDate(r.NextMaintenanceDate), sqliteDate(r.CompletionDate), string(r.Status), sqliteNow(),
		r.ID.String(),
	))
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return maintenance.Record{}, fmt.Errorf("failed to update record: %w", mapSQLiteError(err))
	}
	if _, getErr := getSQLiteRecord(ctx, q, `WHERE id = ?`, r.ID.String()); getErr != nil {
		return maintenance.Record{}, getErr
	}
	return maintenance.Record{}, ErrStale
}

func (s *SQLiteClient) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM maintenance_records WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteClient) CommitCompletion(ctx context.Context, updated, next maintenance.Record) (maintenance.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return maintenance.Record{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	successor := func() (maintenance.Record, error) {
		return getSQLiteRecord(ctx, tx, `WHERE previous_record_id = ?`, updated.ID.String())
	}

	if existing, err := successor(); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return maintenance.Record{}, err
	}

	if _, err := updateSQLiteRecord(ctx, tx, updated); err != nil {
		return maintenance.Record{}, err
	}

	stored, err := insertSQLiteRecord(ctx, tx, next, true)
	if errors.Is(err, sql.ErrNoRows) {
		stored, err = successor()
	}
	if err != nil {
		return maintenance.Record{}, err
	}

	if err := tx.Commit(); err != nil {
		return maintenance.Record{}, fmt.Errorf("failed to commit completion: %w", err)
	}
	return stored, nil
}
