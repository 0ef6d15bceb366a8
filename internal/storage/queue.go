package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenWardCore/internal/queue"
	"github.com/KevinKickass/OpenWardCore/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

func (p *PostgresClient) InsertQueueEntry(ctx context.Context, e queue.Entry) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO queue_entries (id, patient_id, queue_type, priority, enqueued_at, seq)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.PatientID, e.QueueType, e.Priority, e.EnqueuedAt, e.Seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: patient %s already queued for %s", types.ErrDuplicateEntry, e.PatientID, e.QueueType)
		}
		return fmt.Errorf("failed to insert queue entry: %w", err)
	}
	return nil
}

// DeleteQueueEntry removes an entry and reports whether it existed.
func (p *PostgresClient) DeleteQueueEntry(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM queue_entries WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete queue entry %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PostgresClient) ListQueueEntries(ctx context.Context) ([]queue.Entry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, patient_id, queue_type, priority, enqueued_at, seq
		FROM queue_entries
		ORDER BY queue_type, priority DESC, seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue entries: %w", err)
	}
	defer rows.Close()

	var entries []queue.Entry
	for rows.Next() {
		var e queue.Entry
		if err := rows.Scan(&e.ID, &e.PatientID, &e.QueueType, &e.Priority, &e.EnqueuedAt, &e.Seq); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
