package discharge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenWardCore/internal/bed"
	"github.com/KevinKickass/OpenWardCore/internal/queue"
	"github.com/KevinKickass/OpenWardCore/internal/turnover"
	"github.com/KevinKickass/OpenWardCore/internal/types"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// completionRetryDelay is how long a completed turnover waits before its bed
// release is retried after the registry failed to persist it.
const completionRetryDelay = 10 * time.Second

// BedRegistry is the subset of bed.Registry the coordinator drives.
type BedRegistry interface {
	Get(id uuid.UUID) (bed.Bed, error)
	List() []bed.Bed
	Assign(ctx context.Context, id uuid.UUID, patientID string) (bed.Bed, error)
	BeginCleaning(ctx context.Context, id, turnoverID uuid.UUID, vacatingPatient string) (bed.Bed, error)
	FinishCleaning(ctx context.Context, id, turnoverID uuid.UUID) (bed.Bed, error)
	RestoreOccupancy(ctx context.Context, id, turnoverID uuid.UUID, patientID string) (bed.Bed, error)
	EnterMaintenance(ctx context.Context, id uuid.UUID) (bed.Bed, error)
	ExitMaintenance(ctx context.Context, id uuid.UUID) (bed.Bed, error)
	InterruptCleaning(ctx context.Context, id, turnoverID uuid.UUID) (bed.Bed, error)
	BeginPostMaintenanceCleaning(ctx context.Context, id, turnoverID uuid.UUID) (bed.Bed, error)
}

// TurnoverScheduler is the subset of turnover.Scheduler the coordinator drives.
type TurnoverScheduler interface {
	Start(ctx context.Context, req turnover.StartRequest) (turnover.Record, error)
	Complete(ctx context.Context, id uuid.UUID, c turnover.Completion) (turnover.Record, error)
	Cancel(ctx context.Context, id uuid.UUID) (turnover.Record, error)
	Progress(ctx context.Context, id uuid.UUID) (turnover.Progress, error)
	Get(ctx context.Context, id uuid.UUID) (turnover.Record, error)
	OnCompleted(fn func(context.Context, turnover.Record))
}

// PatientQueue is the subset of queue.Manager the coordinator drives.
type PatientQueue interface {
	DequeueNext(ctx context.Context, queueType string) (queue.Entry, bool, error)
	Requeue(ctx context.Context, e queue.Entry) (queue.Entry, error)
}

// QueueRouter picks the queue that feeds beds of a category.
type QueueRouter interface {
	QueueTypeFor(category string) string
}

// DurationSource validates turnover types before any bed is touched.
type DurationSource interface {
	Duration(turnoverType string) (time.Duration, error)
}

// Coordinator is the discharge saga: it is the only component that chains
// bed transitions, turnovers and queue matching.
type Coordinator struct {
	beds      BedRegistry
	turnovers TurnoverScheduler
	queues    PatientQueue
	router    QueueRouter
	durations DurationSource
	clock     clockwork.Clock
	logger    *zap.Logger

	mu      sync.Mutex
	retries map[uuid.UUID]clockwork.Timer
	stopped bool
}

// BedStatus is the bed snapshot plus cleaning progress when the bed is cleaning.
type BedStatus struct {
	Bed      bed.Bed            `json:"bed"`
	Turnover *turnover.Progress `json:"turnover,omitempty"`
}

// NewCoordinator wires the coordinator to the scheduler's completion signal,
// so it must be created before the scheduler recovers persisted turnovers.
func NewCoordinator(
	beds BedRegistry,
	turnovers TurnoverScheduler,
	queues PatientQueue,
	router QueueRouter,
	durations DurationSource,
	clock clockwork.Clock,
	logger *zap.Logger,
) *Coordinator {
	c := &Coordinator{
		beds:      beds,
		turnovers: turnovers,
		queues:    queues,
		router:    router,
		durations: durations,
		clock:     clock,
		logger:    logger,
		retries:   make(map[uuid.UUID]clockwork.Timer),
	}
	turnovers.OnCompleted(c.handleCompletion)
	return c
}

// Discharge vacates an occupied bed and starts its turnover. It returns as
// soon as the turnover is running; the bed frees up asynchronously.
func (c *Coordinator) Discharge(ctx context.Context, bedID uuid.UUID, patientID string, typ turnover.Type) (turnover.Record, error) {
	if patientID == "" {
		return turnover.Record{}, fmt.Errorf("patient id is required")
	}
	if _, err := c.durations.Duration(string(typ)); err != nil {
		return turnover.Record{}, fmt.Errorf("%w: %v", turnover.ErrUnknownType, err)
	}

	turnoverID := uuid.New()
	if _, err := c.beds.BeginCleaning(ctx, bedID, turnoverID, patientID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return turnover.Record{}, err
		}
		return turnover.Record{}, fmt.Errorf("%w: %w", types.ErrInvalidState, err)
	}

	rec, err := c.turnovers.Start(ctx, turnover.StartRequest{
		ID:        turnoverID,
		BedID:     bedID,
		PatientID: patientID,
		Type:      typ,
	})
	if err != nil {
		if _, restoreErr := c.beds.RestoreOccupancy(ctx, bedID, turnoverID, patientID); restoreErr != nil {
			c.logger.Error("Failed to restore bed after turnover start failure",
				zap.String("bed_id", bedID.String()),
				zap.String("turnover_id", turnoverID.String()),
				zap.Error(restoreErr))
		}
		return turnover.Record{}, fmt.Errorf("failed to start turnover: %w", err)
	}

	c.logger.Info("Patient discharged",
		zap.String("bed_id", bedID.String()),
		zap.String("patient_id", patientID),
		zap.String("turnover_id", rec.ID.String()),
		zap.String("turnover_type", string(typ)))

	return rec, nil
}

// CompleteTurnover records a manual inspection sign-off. Queue matching runs
// before it returns.
func (c *Coordinator) CompleteTurnover(ctx context.Context, turnoverID uuid.UUID, completion turnover.Completion) (turnover.Record, error) {
	return c.turnovers.Complete(ctx, turnoverID, completion)
}

// CancelTurnover cancels a turnover and pulls its bed into maintenance.
func (c *Coordinator) CancelTurnover(ctx context.Context, turnoverID uuid.UUID) (turnover.Record, error) {
	rec, err := c.turnovers.Get(ctx, turnoverID)
	if err != nil {
		return turnover.Record{}, err
	}
	if _, err := c.PullForMaintenance(ctx, rec.BedID); err != nil {
		return turnover.Record{}, err
	}
	return c.turnovers.Get(ctx, turnoverID)
}

// Admit assigns a patient directly to a bed. A bed that cannot take the
// patient is reported as types.ErrBedUnavailable so the caller can queue
// the patient instead.
func (c *Coordinator) Admit(ctx context.Context, bedID uuid.UUID, patientID string) (bed.Bed, error) {
	b, err := c.beds.Assign(ctx, bedID, patientID)
	if err != nil {
		if errors.Is(err, types.ErrInvalidTransition) {
			return bed.Bed{}, fmt.Errorf("%w: %w", types.ErrBedUnavailable, err)
		}
		return bed.Bed{}, err
	}

	c.logger.Info("Patient admitted",
		zap.String("bed_id", bedID.String()),
		zap.String("patient_id", patientID))
	return b, nil
}

// PullForMaintenance takes a bed out of service. A running turnover is
// cancelled first; cancellation never triggers queue matching.
func (c *Coordinator) PullForMaintenance(ctx context.Context, bedID uuid.UUID) (bed.Bed, error) {
	b, err := c.beds.Get(bedID)
	if err != nil {
		return bed.Bed{}, err
	}

	switch b.State {
	case bed.StateMaintenance:
		return b, nil

	case bed.StateAvailable:
		return c.beds.EnterMaintenance(ctx, bedID)

	case bed.StateCleaning:
		if b.ActiveTurnoverID == nil {
			return bed.Bed{}, fmt.Errorf("%w: bed %s is cleaning without a turnover", types.ErrInvalidState, b.Number)
		}
		turnoverID := *b.ActiveTurnoverID
		if _, err := c.turnovers.Cancel(ctx, turnoverID); err != nil {
			return bed.Bed{}, fmt.Errorf("failed to cancel turnover %s: %w", turnoverID, err)
		}
		b, err = c.beds.InterruptCleaning(ctx, bedID, turnoverID)
		if err != nil {
			return bed.Bed{}, err
		}
		c.logger.Warn("Turnover interrupted for maintenance",
			zap.String("bed_id", bedID.String()),
			zap.String("turnover_id", turnoverID.String()))
		return b, nil

	default:
		return bed.Bed{}, fmt.Errorf("%w: bed %s is %s", types.ErrInvalidState, b.Number, b.State)
	}
}

// ReturnToService brings a bed back from maintenance. With a turnover type
// the bed is cleaned first; without one it becomes available and is matched
// against its queue.
func (c *Coordinator) ReturnToService(ctx context.Context, bedID uuid.UUID, typ turnover.Type) (BedStatus, error) {
	if typ == "" {
		if _, err := c.beds.ExitMaintenance(ctx, bedID); err != nil {
			return BedStatus{}, err
		}
		c.matchQueue(ctx, bedID)
		return c.Status(ctx, bedID)
	}

	if _, err := c.durations.Duration(string(typ)); err != nil {
		return BedStatus{}, fmt.Errorf("%w: %v", turnover.ErrUnknownType, err)
	}

	turnoverID := uuid.New()
	if _, err := c.beds.BeginPostMaintenanceCleaning(ctx, bedID, turnoverID); err != nil {
		return BedStatus{}, err
	}

	if _, err := c.turnovers.Start(ctx, turnover.StartRequest{ID: turnoverID, BedID: bedID, Type: typ}); err != nil {
		if _, revertErr := c.beds.InterruptCleaning(ctx, bedID, turnoverID); revertErr != nil {
			c.logger.Error("Failed to revert post-maintenance cleaning",
				zap.String("bed_id", bedID.String()),
				zap.Error(revertErr))
		}
		return BedStatus{}, fmt.Errorf("failed to start turnover: %w", err)
	}

	return c.Status(ctx, bedID)
}

// Status reports a bed's state with remaining time and percentage while it
// is cleaning.
func (c *Coordinator) Status(ctx context.Context, bedID uuid.UUID) (BedStatus, error) {
	b, err := c.beds.Get(bedID)
	if err != nil {
		return BedStatus{}, err
	}

	status := BedStatus{Bed: b}
	if b.State == bed.StateCleaning && b.ActiveTurnoverID != nil {
		p, err := c.turnovers.Progress(ctx, *b.ActiveTurnoverID)
		if err != nil {
			return BedStatus{}, fmt.Errorf("failed to read turnover progress: %w", err)
		}
		status.Turnover = &p
	}
	return status, nil
}

// Reconcile repairs beds left cleaning by a crash between a turnover's
// terminal write and the bed transition, or between the bed transition and
// the turnover's first ledger write. Call it after the scheduler has
// recovered its timers.
func (c *Coordinator) Reconcile(ctx context.Context) int {
	repaired := 0
	for _, b := range c.beds.List() {
		if b.State != bed.StateCleaning || b.ActiveTurnoverID == nil {
			continue
		}

		rec, err := c.turnovers.Get(ctx, *b.ActiveTurnoverID)
		if errors.Is(err, types.ErrNotFound) {
			if c.restartLostTurnover(ctx, b) {
				repaired++
			}
			continue
		}
		if err != nil {
			c.logger.Error("Failed to read turnover of cleaning bed",
				zap.String("bed_id", b.ID.String()),
				zap.String("turnover_id", b.ActiveTurnoverID.String()),
				zap.Error(err))
			continue
		}

		switch rec.Status {
		case turnover.StatusCompleted:
			c.handleCompletion(ctx, rec)
			repaired++
		case turnover.StatusCancelled:
			if _, err := c.beds.InterruptCleaning(ctx, b.ID, rec.ID); err != nil {
				c.logger.Error("Failed to move bed of cancelled turnover to maintenance",
					zap.String("bed_id", b.ID.String()),
					zap.Error(err))
				continue
			}
			repaired++
		}
	}

	if repaired > 0 {
		c.logger.Info("Reconciled beds after restart", zap.Int("count", repaired))
	}
	return repaired
}

// restartLostTurnover handles a bed that went cleaning under a turnover the
// ledger never recorded. The turnover is started now as a standard clean
// under the bed's turnover id; if that fails the bed goes to maintenance.
func (c *Coordinator) restartLostTurnover(ctx context.Context, b bed.Bed) bool {
	turnoverID := *b.ActiveTurnoverID
	c.logger.Warn("Cleaning bed references a turnover missing from the ledger, restarting it",
		zap.String("bed_id", b.ID.String()),
		zap.String("turnover_id", turnoverID.String()))

	_, err := c.turnovers.Start(ctx, turnover.StartRequest{ID: turnoverID, BedID: b.ID, Type: turnover.TypeStandard})
	if err == nil {
		return true
	}
	c.logger.Error("Failed to restart lost turnover, pulling bed for maintenance",
		zap.String("bed_id", b.ID.String()),
		zap.Error(err))

	if _, err := c.beds.InterruptCleaning(ctx, b.ID, turnoverID); err != nil {
		c.logger.Error("Failed to move bed with lost turnover to maintenance",
			zap.String("bed_id", b.ID.String()),
			zap.Error(err))
		return false
	}
	return true
}

// handleCompletion runs once per completed turnover: the bed leaves cleaning
// and is offered to the head of its queue. A failed bed write is retried
// until it lands or the bed has moved on.
func (c *Coordinator) handleCompletion(ctx context.Context, rec turnover.Record) {
	if _, err := c.beds.FinishCleaning(ctx, rec.BedID, rec.ID); err != nil {
		if errors.Is(err, types.ErrInvalidTransition) || errors.Is(err, types.ErrNotFound) {
			c.logger.Error("Failed to finish cleaning after turnover completion",
				zap.String("bed_id", rec.BedID.String()),
				zap.String("turnover_id", rec.ID.String()),
				zap.Error(err))
			return
		}
		c.logger.Error("Failed to finish cleaning after turnover completion, will retry",
			zap.String("bed_id", rec.BedID.String()),
			zap.String("turnover_id", rec.ID.String()),
			zap.Duration("retry_in", completionRetryDelay),
			zap.Error(err))
		c.retryCompletion(rec)
		return
	}

	c.matchQueue(ctx, rec.BedID)
}

func (c *Coordinator) retryCompletion(rec turnover.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if _, scheduled := c.retries[rec.ID]; scheduled {
		return
	}
	c.retries[rec.ID] = c.clock.AfterFunc(completionRetryDelay, func() {
		c.mu.Lock()
		delete(c.retries, rec.ID)
		stopped := c.stopped
		c.mu.Unlock()
		if stopped {
			return
		}
		c.handleCompletion(context.Background(), rec)
	})
}

// Stop cancels pending completion retries. Beds they would have released are
// picked up by Reconcile on the next start.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for id, t := range c.retries {
		t.Stop()
		delete(c.retries, id)
	}
}

// matchQueue dequeues the next patient for an available bed and assigns
// them. If the assignment is refused the entry goes back to the front of its
// priority tier and the bed stays available.
func (c *Coordinator) matchQueue(ctx context.Context, bedID uuid.UUID) {
	b, err := c.beds.Get(bedID)
	if err != nil {
		c.logger.Error("Failed to read bed for queue matching", zap.String("bed_id", bedID.String()), zap.Error(err))
		return
	}
	queueType := c.router.QueueTypeFor(b.Category)

	entry, ok, err := c.queues.DequeueNext(ctx, queueType)
	if err != nil {
		c.logger.Error("Failed to dequeue next patient",
			zap.String("bed_id", bedID.String()),
			zap.String("queue_type", queueType),
			zap.Error(err))
		return
	}
	if !ok {
		c.logger.Info("Bed available, queue empty",
			zap.String("bed_id", bedID.String()),
			zap.String("queue_type", queueType))
		return
	}

	if _, err := c.beds.Assign(ctx, bedID, entry.PatientID); err != nil {
		c.logger.Warn("Assignment after turnover failed, re-queueing patient",
			zap.String("bed_id", bedID.String()),
			zap.String("patient_id", entry.PatientID),
			zap.String("entry_id", entry.ID.String()),
			zap.Error(err))

		if _, requeueErr := c.queues.Requeue(ctx, entry); requeueErr != nil {
			c.logger.Error("Failed to re-queue patient",
				zap.String("patient_id", entry.PatientID),
				zap.String("entry_id", entry.ID.String()),
				zap.Error(requeueErr))
		}
		return
	}

	c.logger.Info("Queued patient assigned to bed",
		zap.String("bed_id", bedID.String()),
		zap.String("patient_id", entry.PatientID),
		zap.String("queue_type", queueType))
}
