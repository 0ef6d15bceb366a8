package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenWardCore/internal/turnover"
	"github.com/KevinKickass/OpenWardCore/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const turnoverCols = `id, bed_id, patient_id, turnover_type, status, started_at, expected_duration_ms,
	completed_at, inspection_passed, inspector_id, inspector_notes, auto_completed`

func (p *PostgresClient) InsertTurnover(ctx context.Context, rec turnover.Record) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO turnovers (`+turnoverCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, rec.ID, rec.BedID, nullString(rec.PatientID), string(rec.Type), string(rec.Status),
		rec.StartedAt, rec.ExpectedDuration.Milliseconds(),
		rec.CompletedAt, rec.InspectionPassed, nullString(rec.InspectorID), nullString(rec.InspectorNotes),
		rec.AutoCompleted)
	if err != nil {
		return fmt.Errorf("failed to insert turnover %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateTurnover writes the terminal fields of a turnover. The WHERE clause
// makes the in_progress -> terminal step a compare-and-set: a record that is
// already terminal is never rewritten.
func (p *PostgresClient) UpdateTurnover(ctx context.Context, rec turnover.Record) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE turnovers SET
			status = $2,
			completed_at = $3,
			inspection_passed = $4,
			inspector_id = $5,
			inspector_notes = $6,
			auto_completed = $7
		WHERE id = $1 AND status = 'in_progress'
	`, rec.ID, string(rec.Status), rec.CompletedAt, rec.InspectionPassed,
		nullString(rec.InspectorID), nullString(rec.InspectorNotes), rec.AutoCompleted)
	if err != nil {
		return fmt.Errorf("failed to update turnover %s: %w", rec.ID, err)
	}

	if tag.RowsAffected() == 0 {
		if _, err := p.GetTurnover(ctx, rec.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: turnover %s is no longer in progress", types.ErrInvalidState, rec.ID)
	}
	return nil
}

func (p *PostgresClient) GetTurnover(ctx context.Context, id uuid.UUID) (turnover.Record, error) {
	rec, err := scanTurnover(p.pool.QueryRow(ctx, `SELECT `+turnoverCols+` FROM turnovers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return turnover.Record{}, fmt.Errorf("turnover %s: %w", id, types.ErrNotFound)
	}
	return rec, err
}

func (p *PostgresClient) ListTurnoversByBed(ctx context.Context, bedID uuid.UUID) ([]turnover.Record, error) {
	return p.queryTurnovers(ctx, `SELECT `+turnoverCols+` FROM turnovers WHERE bed_id = $1 ORDER BY started_at`, bedID)
}

func (p *PostgresClient) ListTurnoversByStatus(ctx context.Context, status turnover.Status) ([]turnover.Record, error) {
	return p.queryTurnovers(ctx, `SELECT `+turnoverCols+` FROM turnovers WHERE status = $1 ORDER BY started_at`, string(status))
}

func (p *PostgresClient) queryTurnovers(ctx context.Context, sql string, args ...any) ([]turnover.Record, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query turnovers: %w", err)
	}
	defer rows.Close()

	var recs []turnover.Record
	for rows.Next() {
		rec, err := scanTurnover(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanTurnover(row pgx.Row) (turnover.Record, error) {
	var (
		rec        turnover.Record
		patient    *string
		typ        string
		status     string
		expectedMS int64
		inspector  *string
		notes      *string
	)
	err := row.Scan(&rec.ID, &rec.BedID, &patient, &typ, &status, &rec.StartedAt, &expectedMS,
		&rec.CompletedAt, &rec.InspectionPassed, &inspector, &notes, &rec.AutoCompleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return turnover.Record{}, err
		}
		return turnover.Record{}, fmt.Errorf("failed to scan turnover: %w", err)
	}

	rec.PatientID = derefString(patient)
	rec.Type = turnover.Type(typ)
	rec.Status = turnover.Status(status)
	rec.ExpectedDuration = time.Duration(expectedMS) * time.Millisecond
	rec.InspectorID = derefString(inspector)
	rec.InspectorNotes = derefString(notes)
	return rec, nil
}
