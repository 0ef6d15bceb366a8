package ward_test

import (
	"context"
	"testing"
	"time"

	"github.com/KevinKickass/OpenWardCore/internal/bed"
	"github.com/KevinKickass/OpenWardCore/internal/config"
	"github.com/KevinKickass/OpenWardCore/internal/queue"
	"github.com/KevinKickass/OpenWardCore/internal/storage"
	"github.com/KevinKickass/OpenWardCore/internal/turnover"
	"github.com/KevinKickass/OpenWardCore/internal/ward"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Turnover: config.TurnoverConfig{Durations: map[string]time.Duration{
			"standard": 30 * time.Minute,
			"priority": 15 * time.Minute,
		}},
		Queue: config.QueueConfig{DefaultQueueType: queue.TypeAdmission},
	}
}

// A restart in the middle of a turnover resumes the original clock instead
// of starting the cleaning over.
func TestEngine_RestartResumesTurnover(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))

	first := ward.NewEngine(store, testConfig(), clock, zap.NewNop())
	require.NoError(t, first.Start(ctx))

	b, _, err := first.Beds.Provision(ctx, "B-101", "R-1", "general")
	require.NoError(t, err)
	_, err = first.Beds.Assign(ctx, b.ID, "P-1")
	require.NoError(t, err)
	_, err = first.Queues.Enqueue(ctx, "P-2", queue.TypeAdmission, 0)
	require.NoError(t, err)
	rec, err := first.Coordinator.Discharge(ctx, b.ID, "P-1", turnover.TypeStandard)
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	first.Stop()

	second := ward.NewEngine(store, testConfig(), clock, zap.NewNop())
	require.NoError(t, second.Start(ctx))

	p, err := second.Turnovers.Progress(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, p.Remaining)

	census := second.Census()
	assert.Equal(t, 1, census.Beds[bed.StateCleaning])
	assert.Equal(t, 1, census.ActiveTurnovers)
	assert.Equal(t, 1, census.Queued[queue.TypeAdmission])

	clock.Advance(10 * time.Minute)
	require.Eventually(t, func() bool {
		got, err := second.Beds.Get(b.ID)
		return err == nil && got.State == bed.StateOccupied && got.CurrentPatientID == "P-2"
	}, time.Second, 5*time.Millisecond)
	second.Stop()
}

// Turnovers that ran out while the engine was down complete during Start.
func TestEngine_RestartCompletesOverdueTurnover(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))

	first := ward.NewEngine(store, testConfig(), clock, zap.NewNop())
	require.NoError(t, first.Start(ctx))
	b, _, err := first.Beds.Provision(ctx, "B-101", "R-1", "general")
	require.NoError(t, err)
	_, err = first.Beds.Assign(ctx, b.ID, "P-1")
	require.NoError(t, err)
	_, err = first.Coordinator.Discharge(ctx, b.ID, "P-1", turnover.TypePriority)
	require.NoError(t, err)
	first.Stop()

	clock.Advance(2 * time.Hour)

	second := ward.NewEngine(store, testConfig(), clock, zap.NewNop())
	require.NoError(t, second.Start(ctx))

	got, err := second.Beds.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, bed.StateAvailable, got.State)
	second.Stop()
}

// A crash between the bed going cleaning and the turnover's first ledger
// write leaves the bed pointing at an unknown turnover. Start restarts it.
func TestEngine_RestartRecoversTurnoverMissingFromLedger(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))

	lostID := uuid.New()
	stranded := bed.Bed{
		ID:               uuid.New(),
		Number:           "302A",
		RoomID:           "R-302",
		Category:         "general",
		State:            bed.StateCleaning,
		ActiveTurnoverID: &lostID,
		UpdatedAt:        clock.Now(),
	}
	require.NoError(t, store.SaveBed(ctx, stranded))
	require.NoError(t, store.InsertQueueEntry(ctx, queue.Entry{
		ID:         uuid.New(),
		PatientID:  "P-2",
		QueueType:  queue.TypeAdmission,
		EnqueuedAt: clock.Now(),
		Seq:        1,
	}))

	e := ward.NewEngine(store, testConfig(), clock, zap.NewNop())
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	status, err := e.Coordinator.Status(ctx, stranded.ID)
	require.NoError(t, err)
	require.NotNil(t, status.Turnover)
	assert.Equal(t, 30*time.Minute, status.Turnover.Remaining)

	clock.Advance(30 * time.Minute)
	require.Eventually(t, func() bool {
		got, err := e.Beds.Get(stranded.ID)
		return err == nil && got.State == bed.StateOccupied && got.CurrentPatientID == "P-2"
	}, time.Second, 5*time.Millisecond)
}
