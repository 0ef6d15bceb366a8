package turnover

import (
	"context"
	"fmt"
	"sort"

	"github.com/KevinKickass/OpenWardCore/internal/types"
	"github.com/google/uuid"
)

// Ledger is the append-only turnover history. A record is appended once when
// the turnover starts and finalized once when it completes or is cancelled.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) Append(ctx context.Context, rec Record) error {
	if rec.Status != StatusInProgress {
		return fmt.Errorf("%w: new turnover must be in progress, got %s", types.ErrInvalidState, rec.Status)
	}
	if rec.CompletedAt != nil {
		return fmt.Errorf("%w: new turnover must not be completed", types.ErrInvalidState)
	}
	if err := l.store.InsertTurnover(ctx, rec); err != nil {
		return fmt.Errorf("failed to append turnover %s: %w", rec.ID, err)
	}
	return nil
}

// Finalize writes the terminal version of an in-progress record.
func (l *Ledger) Finalize(ctx context.Context, rec Record) error {
	if !rec.Terminal() || rec.CompletedAt == nil {
		return fmt.Errorf("%w: turnover %s is not terminal", types.ErrInvalidState, rec.ID)
	}
	if err := l.store.UpdateTurnover(ctx, rec); err != nil {
		return fmt.Errorf("failed to finalize turnover %s: %w", rec.ID, err)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	return l.store.GetTurnover(ctx, id)
}

// History returns every turnover of a bed, oldest first.
func (l *Ledger) History(ctx context.Context, bedID uuid.UUID) ([]Record, error) {
	recs, err := l.store.ListTurnoversByBed(ctx, bedID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].StartedAt.Before(recs[j].StartedAt) })
	return recs, nil
}

// HistoryForPatient returns the turnovers that vacated the given patient
// from the bed, used by discharge documentation.
func (l *Ledger) HistoryForPatient(ctx context.Context, bedID uuid.UUID, patientID string) ([]Record, error) {
	recs, err := l.History(ctx, bedID)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if r.PatientID == patientID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *Ledger) InProgress(ctx context.Context) ([]Record, error) {
	return l.store.ListTurnoversByStatus(ctx, StatusInProgress)
}
