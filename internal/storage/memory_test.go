package storage

import (
	"context"
	"testing"
	"time"

	"github.com/KevinKickass/OpenWardCore/internal/bed"
	"github.com/KevinKickass/OpenWardCore/internal/queue"
	"github.com/KevinKickass/OpenWardCore/internal/turnover"
	"github.com/KevinKickass/OpenWardCore/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SaveBedUpserts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	b := bed.Bed{ID: uuid.New(), Number: "B-101", State: bed.StateAvailable}
	require.NoError(t, s.SaveBed(ctx, b))

	b.State = bed.StateOccupied
	b.CurrentPatientID = "P-1"
	require.NoError(t, s.SaveBed(ctx, b))

	beds, err := s.ListBeds(ctx)
	require.NoError(t, err)
	require.Len(t, beds, 1)
	assert.Equal(t, bed.StateOccupied, beds[0].State)
	assert.Equal(t, "P-1", beds[0].CurrentPatientID)
}

func TestMemoryStore_SaveBedRejectsDuplicateNumber(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SaveBed(ctx, bed.Bed{ID: uuid.New(), Number: "B-101", State: bed.StateAvailable}))
	err := s.SaveBed(ctx, bed.Bed{ID: uuid.New(), Number: "B-101", State: bed.StateAvailable})
	assert.ErrorIs(t, err, types.ErrDuplicateEntry)
}

func TestMemoryStore_UpdateTurnoverOnlyFromInProgress(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec := turnover.Record{
		ID:               uuid.New(),
		BedID:            uuid.New(),
		Type:             turnover.TypeStandard,
		Status:           turnover.StatusInProgress,
		StartedAt:        time.Now(),
		ExpectedDuration: 30 * time.Minute,
	}
	require.NoError(t, s.InsertTurnover(ctx, rec))

	done := rec.StartedAt.Add(10 * time.Minute)
	passed := true
	completed := rec
	completed.Status = turnover.StatusCompleted
	completed.CompletedAt = &done
	completed.InspectionPassed = &passed
	require.NoError(t, s.UpdateTurnover(ctx, completed))

	cancelled := rec
	cancelled.Status = turnover.StatusCancelled
	cancelled.CompletedAt = &done
	err := s.UpdateTurnover(ctx, cancelled)
	assert.ErrorIs(t, err, types.ErrInvalidState)

	stored, err := s.GetTurnover(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, turnover.StatusCompleted, stored.Status)
	require.NotNil(t, stored.InspectionPassed)
	assert.True(t, *stored.InspectionPassed)
}

func TestMemoryStore_GetTurnoverNotFound(t *testing.T) {
	_, err := NewMemoryStore().GetTurnover(context.Background(), uuid.New())
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestMemoryStore_ReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	done := time.Now()
	rec := turnover.Record{ID: uuid.New(), BedID: uuid.New(), Status: turnover.StatusInProgress, StartedAt: done}
	require.NoError(t, s.InsertTurnover(ctx, rec))

	got, err := s.GetTurnover(ctx, rec.ID)
	require.NoError(t, err)
	got.CompletedAt = &done

	again, err := s.GetTurnover(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, again.CompletedAt)
}

func TestMemoryStore_ListTurnovers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	bedID := uuid.New()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	second := turnover.Record{ID: uuid.New(), BedID: bedID, Status: turnover.StatusInProgress, StartedAt: base.Add(time.Hour)}
	first := turnover.Record{ID: uuid.New(), BedID: bedID, Status: turnover.StatusInProgress, StartedAt: base}
	other := turnover.Record{ID: uuid.New(), BedID: uuid.New(), Status: turnover.StatusInProgress, StartedAt: base}
	for _, r := range []turnover.Record{second, first, other} {
		require.NoError(t, s.InsertTurnover(ctx, r))
	}

	byBed, err := s.ListTurnoversByBed(ctx, bedID)
	require.NoError(t, err)
	require.Len(t, byBed, 2)
	assert.Equal(t, first.ID, byBed[0].ID)
	assert.Equal(t, second.ID, byBed[1].ID)

	active, err := s.ListTurnoversByStatus(ctx, turnover.StatusInProgress)
	require.NoError(t, err)
	assert.Len(t, active, 3)
}

func TestMemoryStore_QueueEntries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	e := queue.Entry{ID: uuid.New(), PatientID: "P-1", QueueType: queue.TypeAdmission, Seq: 1}
	require.NoError(t, s.InsertQueueEntry(ctx, e))

	dup := queue.Entry{ID: uuid.New(), PatientID: "P-1", QueueType: queue.TypeAdmission, Seq: 2}
	assert.ErrorIs(t, s.InsertQueueEntry(ctx, dup), types.ErrDuplicateEntry)

	otherQueue := queue.Entry{ID: uuid.New(), PatientID: "P-1", QueueType: queue.TypeTransfer, Seq: 3}
	require.NoError(t, s.InsertQueueEntry(ctx, otherQueue))

	removed, err := s.DeleteQueueEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.DeleteQueueEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	entries, err := s.ListQueueEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, otherQueue.ID, entries[0].ID)
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := LoadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "001_ward.sql", migrations[0].Name)
	assert.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS beds")
	assert.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS turnovers")
	assert.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS queue_entries")

	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].Version, migrations[i].Version)
	}
}
