package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/maintenance"
	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const recordColumns = `id, sector, machine_name, asset_tag, ticket_reference,
	next_maintenance_date, completion_date, status, previous_record_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanPgRecord(row rowScanner) (maintenance.Record, error) {
	var (
		r          maintenance.Record
		status     string
		next, done pgtype.Date
	)
	err := row.Scan(&r.ID, &r.Sector, &r.MachineName, &r.AssetTag, &r.TicketReference,
		&next, &done, &status, &r.PreviousRecordID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return maintenance.Record{}, err
	}
	r.NextMaintenanceDate = fromPgDate(next)
	r.CompletionDate = fromPgDate(done)
	r.Status = maintenance.Status(status)
	return r, nil
}

func toPgDate(d *civil.Date) pgtype.Date {
	if d == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: d.In(time.UTC), Valid: true}
}

func fromPgDate(d pgtype.Date) *civil.Date {
	if !d.Valid {
		return nil
	}
	return maintenance.Date(civil.DateOf(d.Time))
}

func (p *PostgresClient) List(ctx context.Context) ([]maintenance.Record, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+recordColumns+` FROM maintenance_records ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []maintenance.Record
	for rows.Next() {
		r, err := scanPgRecord(rows)
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

func (p *PostgresClient) Get(ctx context.Context, id uuid.UUID) (maintenance.Record, error) {
	return getPgRecord(ctx, p.pool, `WHERE id = $1`, id)
}

func (p *PostgresClient) FindByPrevious(ctx context.Context, previousID uuid.UUID) (maintenance.Record, error) {
	return getPgRecord(ctx, p.pool, `WHERE previous_record_id = $1`, previousID)
}

func getPgRecord(ctx context.Context, q querier, where string, arg any) (maintenance.Record, error) {
	r, err := scanPgRecord(q.QueryRow(ctx, `SELECT `+recordColumns+` FROM maintenance_records `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return maintenance.Record{}, ErrNotFound
		}
		return maintenance.Record{}, fmt.Errorf("failed to get record: %w", err)
	}
	return r, nil
}

func (p *PostgresClient) Insert(ctx context.Context, r maintenance.Record) (maintenance.Record, error) {
	return insertPgRecord(ctx, p.pool, r, false)
}

// insertPgRecord writes r with a fresh ID. With skipDuplicate set, an
// existing successor of r.PreviousRecordID wins and pgx.ErrNoRows is
// returned unwrapped.
func insertPgRecord(ctx context.Context, q querier, r maintenance.Record, skipDuplicate bool) (maintenance.Record, error) {
	onConflict := ""
	if skipDuplicate {
		onConflict = `ON CONFLICT (previous_record_id) DO NOTHING`
	}

	stored, err := scanPgRecord(q.QueryRow(ctx, `
		INSERT INTO maintenance_records (id, sector, machine_name, asset_tag, ticket_reference,
			next_maintenance_date, completion_date, status, previous_record_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`+onConflict+`
		RETURNING `+recordColumns,
		uuid.New(), r.Sector, r.MachineName, r.AssetTag, r.TicketReference,
		toPgDate(r.NextMaintenanceDate), toPgDate(r.CompletionDate), string(r.Status), r.PreviousRecordID,
	))
	if err != nil {
		if skipDuplicate && errors.Is(err, pgx.ErrNoRows) {
			return maintenance.Record{}, err
		}
		return maintenance.Record{}, fmt.Errorf("failed to insert record: %w", mapPgError(err))
	}
	return stored, nil
}

func (p *PostgresClient) Update(ctx context.Context, r maintenance.Record) (maintenance.Record, error) {
	return updatePgRecord(ctx, p.pool, r)
}

// updatePgRecord only touches open rows, so a concurrent completion shows
// up as ErrStale rather than a silent overwrite.
func updatePgRecord(ctx context.Context, q querier, r maintenance.Record) (maintenance.Record, error) {
	stored, err := scanPgRecord(q.QueryRow(ctx, `
		UPDATE maintenance_records
		SET sector = $2, machine_name = $3, asset_tag = $4, ticket_reference = $5,
		    next_maintenance_date = $6, completion_date = $7, status = $8, updated_at = NOW()
		WHERE id = $1 AND completion_date IS NULL
		RETURNING `+recordColumns,
		r.ID, r.Sector, r.MachineName, r.AssetTag, r.TicketReference,
		toPgDate(r.NextMaintenanceDate), toPgDate(r.CompletionDate), string(r.Status),
	))
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return maintenance.Record{}, fmt.Errorf("failed to update record: %w", mapPgError(err))
	}
	if _, getErr := getPgRecord(ctx, q, `WHERE id = $1`, r.ID); getErr != nil {
		return maintenance.Record{}, getErr
	}
	return maintenance.Record{}, ErrStale
}

func (p *PostgresClient) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := p.pool.Exec(ctx, `DELETE FROM maintenance_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresClient) CommitCompletion(ctx context.Context, updated, next maintenance.Record) (maintenance.Record, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return maintenance.Record{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if existing, err := getPgRecord(ctx, tx, `WHERE previous_record_id = $1`, updated.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return maintenance.Record{}, err
	}

	if _, err := updatePgRecord(ctx, tx, updated); err != nil {
		if errors.Is(err, ErrStale) {
			// A concurrent completion may have committed in the meantime.
			if existing, findErr := getPgRecord(ctx, tx, `WHERE previous_record_id = $1`, updated.ID); findErr == nil {
				return existing, nil
			}
		}
		return maintenance.Record{}, err
	}

	stored, err := insertPgRecord(ctx, tx, next, true)
	if errors.Is(err, pgx.ErrNoRows) {
		stored, err = getPgRecord(ctx, tx, `WHERE previous_record_id = $1`, updated.ID)
	}
	if err != nil {
		return maintenance.Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return maintenance.Record{}, fmt.Errorf("failed to commit completion: %w", mapPgError(err))
	}
	return stored, nil
}
