package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenWardCore/internal/bed"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const bedCols = `id, bed_number, room_id, category, lifecycle_state, current_patient_id, active_turnover_id, updated_at`

// ListBeds loads every provisioned bed.
func (p *PostgresClient) ListBeds(ctx context.Context) ([]bed.Bed, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+bedCols+` FROM beds ORDER BY bed_number`)
	if err != nil {
		return nil, fmt.Errorf("failed to query beds: %w", err)
	}
	defer rows.Close()

	var beds []bed.Bed
	for rows.Next() {
		b, err := scanBed(rows)
		if err != nil {
			return nil, err
		}
		beds = append(beds, b)
	}
	return beds, rows.Err()
}

// SaveBed upserts a bed snapshot.
func (p *PostgresClient) SaveBed(ctx context.Context, b bed.Bed) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO beds (`+bedCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			bed_number = EXCLUDED.bed_number,
			room_id = EXCLUDED.room_id,
			category = EXCLUDED.category,
			lifecycle_state = EXCLUDED.lifecycle_state,
			current_patient_id = EXCLUDED.current_patient_id,
			active_turnover_id = EXCLUDED.active_turnover_id,
			updated_at = EXCLUDED.updated_at
	`, b.ID, b.Number, b.RoomID, b.Category, string(b.State),
		nullString(b.CurrentPatientID), b.ActiveTurnoverID, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save bed %s: %w", b.Number, err)
	}
	return nil
}

func scanBed(row pgx.Row) (bed.Bed, error) {
	var (
		b        bed.Bed
		state    string
		patient  *string
		turnover *uuid.UUID
	)
	if err := row.Scan(&b.ID, &b.Number, &b.RoomID, &b.Category, &state, &patient, &turnover, &b.UpdatedAt); err != nil {
		return bed.Bed{}, fmt.Errorf("failed to scan bed: %w", err)
	}
	b.State = bed.State(state)
	if patient != nil {
		b.CurrentPatientID = *patient
	}
	b.ActiveTurnoverID = turnover
	return b, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
