package turnover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenWardCore/internal/types"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// retryDelay is how long an automatic completion waits before retrying after
// the ledger rejected the write.
const retryDelay = 10 * time.Second

// Scheduler owns the timer of every in-progress turnover and guarantees a
// single completion per turnover.
type Scheduler struct {
	ledger    *Ledger
	durations DurationSource
	clock     clockwork.Clock
	logger    *zap.Logger

	mu     sync.Mutex
	active map[uuid.UUID]*pending
	byBed  map[uuid.UUID]uuid.UUID

	hooksMu     sync.RWMutex
	onCompleted []func(context.Context, Record)
	onChange    []func(Record)
}

// pending is the scheduler's handle on one in-progress turnover. startedAt
// and expected never change after creation and are read without the lock.
type pending struct {
	bedID     uuid.UUID
	startedAt time.Time
	expected  time.Duration

	mu    sync.Mutex
	rec   Record
	timer clockwork.Timer
	done  bool
}

type StartRequest struct {
	ID        uuid.UUID // generated when Nil
	BedID     uuid.UUID
	PatientID string
	Type      Type
}

type Completion struct {
	InspectionPassed bool
	InspectorID      string
	Notes            string
}

func NewScheduler(ledger *Ledger, durations DurationSource, clock clockwork.Clock, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		ledger:    ledger,
		durations: durations,
		clock:     clock,
		logger:    logger,
		active:    make(map[uuid.UUID]*pending),
		byBed:     make(map[uuid.UUID]uuid.UUID),
	}
}

// OnCompleted registers fn to run after a turnover's first completion has been
// committed. Cancellation does not trigger it.
func (s *Scheduler) OnCompleted(fn func(context.Context, Record)) {
	s.hooksMu.Lock()
	s.onCompleted = append(s.onCompleted, fn)
	s.hooksMu.Unlock()
}

// OnChange registers fn to run after a turnover is started, completed or cancelled.
func (s *Scheduler) OnChange(fn func(Record)) {
	s.hooksMu.Lock()
	s.onChange = append(s.onChange, fn)
	s.hooksMu.Unlock()
}

// Start records a new turnover in the ledger and arms its completion timer.
func (s *Scheduler) Start(ctx context.Context, req StartRequest) (Record, error) {
	expected, err := s.durations.Duration(string(req.Type))
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnknownType, err)
	}

	id := req.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	rec := Record{
		ID:               id,
		BedID:            req.BedID,
		PatientID:        req.PatientID,
		Type:             req.Type,
		Status:           StatusInProgress,
		StartedAt:        s.clock.Now(),
		ExpectedDuration: expected,
	}

	p := &pending{bedID: rec.BedID, startedAt: rec.StartedAt, expected: expected, rec: rec}
	p.mu.Lock()
	defer p.mu.Unlock()

	s.mu.Lock()
	if current, busy := s.byBed[req.BedID]; busy {
		s.mu.Unlock()
		return Record{}, fmt.Errorf("%w: bed %s already has turnover %s in progress", types.ErrInvalidState, req.BedID, current)
	}
	if _, dup := s.active[id]; dup {
		s.mu.Unlock()
		return Record{}, fmt.Errorf("%w: turnover %s already exists", types.ErrInvalidState, id)
	}
	s.active[id] = p
	s.byBed[req.BedID] = id
	s.mu.Unlock()

	if err := s.ledger.Append(ctx, rec); err != nil {
		s.forget(rec)
		return Record{}, err
	}

	s.arm(p, expected)

	s.logger.Info("Turnover started",
		zap.String("turnover_id", id.String()),
		zap.String("bed_id", req.BedID.String()),
		zap.String("turnover_type", string(req.Type)),
		zap.Duration("expected_duration", expected))

	s.changed(rec)
	return rec, nil
}

// Complete finishes a turnover. It is idempotent: once a turnover is
// completed or cancelled every further call returns the stored record.
func (s *Scheduler) Complete(ctx context.Context, id uuid.UUID, c Completion) (Record, error) {
	return s.complete(ctx, id, c, false)
}

// Cancel stops a turnover without triggering completion handling. Cancelling
// an already cancelled turnover returns it unchanged; cancelling a completed
// one fails with types.ErrInvalidState.
func (s *Scheduler) Cancel(ctx context.Context, id uuid.UUID) (Record, error) {
	p, rec, err := s.acquire(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if p == nil {
		return terminalForCancel(rec)
	}

	p.mu.Lock()
	if p.done {
		rec := p.rec
		p.mu.Unlock()
		return terminalForCancel(rec)
	}

	now := s.clock.Now()
	updated := p.rec
	updated.Status = StatusCancelled
	updated.CompletedAt = &now

	if err := s.ledger.Finalize(ctx, updated); err != nil {
		p.mu.Unlock()
		return s.resolveConflict(ctx, id, err)
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.rec = updated
	p.done = true
	p.mu.Unlock()

	s.forget(updated)

	s.logger.Info("Turnover cancelled",
		zap.String("turnover_id", id.String()),
		zap.String("bed_id", updated.BedID.String()))

	s.changed(updated)
	return updated, nil
}

// Progress reports elapsed and remaining time of a turnover. It never
// mutates state and is safe for any number of concurrent readers.
func (s *Scheduler) Progress(ctx context.Context, id uuid.UUID) (Progress, error) {
	s.mu.Lock()
	p := s.active[id]
	s.mu.Unlock()

	if p != nil {
		elapsed, remaining, pct := ComputeProgress(p.startedAt, p.expected, s.clock.Now())
		return Progress{
			TurnoverID:       id,
			BedID:            p.bedID,
			Status:           StatusInProgress,
			StartedAt:        p.startedAt,
			ExpectedDuration: p.expected,
			Elapsed:          elapsed,
			Remaining:        remaining,
			Percentage:       pct,
		}, nil
	}

	rec, err := s.ledger.Get(ctx, id)
	if err != nil {
		return Progress{}, err
	}
	return progressOf(rec, s.clock.Now()), nil
}

// ActiveForBed returns the in-progress turnover id of a bed.
func (s *Scheduler) ActiveForBed(bedID uuid.UUID) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byBed[bedID]
	return id, ok
}

func (s *Scheduler) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	return s.ledger.Get(ctx, id)
}

// Recover re-arms the timers of turnovers left in progress by a previous
// process, keeping their original start time. Turnovers whose duration has
// already elapsed are completed before Recover returns.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	recs, err := s.ledger.InProgress(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load in-progress turnovers: %w", err)
	}

	var overdue []uuid.UUID
	for _, rec := range recs {
		p, fresh := s.track(rec)
		if !fresh {
			continue
		}

		remaining := rec.ExpectedDuration - s.clock.Since(rec.StartedAt)
		if remaining <= 0 {
			overdue = append(overdue, rec.ID)
			continue
		}

		p.mu.Lock()
		s.arm(p, remaining)
		p.mu.Unlock()

		s.logger.Info("Turnover timer restored",
			zap.String("turnover_id", rec.ID.String()),
			zap.String("bed_id", rec.BedID.String()),
			zap.Duration("remaining", remaining))
	}

	for _, id := range overdue {
		if _, err := s.complete(ctx, id, Completion{InspectionPassed: true}, true); err != nil {
			s.logger.Error("Failed to complete overdue turnover",
				zap.String("turnover_id", id.String()),
				zap.Error(err))
		}
	}

	return len(recs), nil
}

// Stop disarms all timers without touching persisted state; Recover picks
// the turnovers up again on the next start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	handles := make([]*pending, 0, len(s.active))
	for _, p := range s.active {
		handles = append(handles, p)
	}
	s.mu.Unlock()

	for _, p := range handles {
		p.mu.Lock()
		if p.timer != nil {
			p.timer.Stop()
		}
		p.mu.Unlock()
	}
}

// complete is the single completion path for manual sign-off and timer expiry.
func (s *Scheduler) complete(ctx context.Context, id uuid.UUID, c Completion, auto bool) (Record, error) {
	p, rec, err := s.acquire(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if p == nil {
		return rec, nil
	}

	p.mu.Lock()
	if p.done {
		rec := p.rec
		p.mu.Unlock()
		return rec, nil
	}

	if !auto && p.timer != nil {
		p.timer.Stop()
	}

	now := s.clock.Now()
	passed := c.InspectionPassed
	updated := p.rec
	updated.Status = StatusCompleted
	updated.CompletedAt = &now
	updated.InspectionPassed = &passed
	updated.AutoCompleted = auto
	if !auto {
		updated.InspectorID = c.InspectorID
		updated.InspectorNotes = c.Notes
	}

	if err := s.ledger.Finalize(ctx, updated); err != nil {
		if !errors.Is(err, types.ErrInvalidState) {
			// Nothing was committed; keep the turnover alive.
			delay := retryDelay
			if !auto {
				delay = p.expected - s.clock.Since(p.startedAt)
				if delay < retryDelay {
					delay = retryDelay
				}
			}
			s.arm(p, delay)
		}
		p.mu.Unlock()
		if errors.Is(err, types.ErrInvalidState) {
			return s.resolveConflict(ctx, id, err)
		}
		return Record{}, err
	}

	p.rec = updated
	p.done = true
	p.mu.Unlock()

	s.forget(updated)

	s.logger.Info("Turnover completed",
		zap.String("turnover_id", id.String()),
		zap.String("bed_id", updated.BedID.String()),
		zap.Bool("automatic", auto),
		zap.Bool("inspection_passed", passed))

	s.changed(updated)

	s.hooksMu.RLock()
	hooks := s.onCompleted
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, updated)
	}

	return updated, nil
}

// acquire returns the pending handle of an in-progress turnover, or the
// stored terminal record when the scheduler no longer tracks it.
func (s *Scheduler) acquire(ctx context.Context, id uuid.UUID) (*pending, Record, error) {
	s.mu.Lock()
	p := s.active[id]
	s.mu.Unlock()
	if p != nil {
		return p, Record{}, nil
	}

	rec, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, Record{}, err
	}
	if rec.Terminal() {
		return nil, rec, nil
	}

	// In progress in the ledger but not yet recovered by this process.
	p, _ = s.track(rec)
	return p, Record{}, nil
}

// track registers an in-progress record loaded from the ledger. fresh is
// false when the turnover was already tracked.
func (s *Scheduler) track(rec Record) (*pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.active[rec.ID]; ok {
		return p, false
	}
	p := &pending{bedID: rec.BedID, startedAt: rec.StartedAt, expected: rec.ExpectedDuration, rec: rec}
	s.active[rec.ID] = p
	s.byBed[rec.BedID] = rec.ID
	return p, true
}

func (s *Scheduler) forget(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, rec.ID)
	if s.byBed[rec.BedID] == rec.ID {
		delete(s.byBed, rec.BedID)
	}
}

// arm schedules the automatic completion. Caller holds p.mu.
func (s *Scheduler) arm(p *pending, after time.Duration) {
	if p.timer != nil {
		p.timer.Stop()
	}
	id := p.rec.ID
	p.timer = s.clock.AfterFunc(after, func() {
		s.expire(id)
	})
}

func (s *Scheduler) expire(id uuid.UUID) {
	if _, err := s.complete(context.Background(), id, Completion{InspectionPassed: true}, true); err != nil {
		s.logger.Error("Automatic turnover completion failed",
			zap.String("turnover_id", id.String()),
			zap.Error(err))
	}
}

// resolveConflict handles a ledger refusing a finalize because another
// writer already made the record terminal.
func (s *Scheduler) resolveConflict(ctx context.Context, id uuid.UUID, cause error) (Record, error) {
	rec, err := s.ledger.Get(ctx, id)
	if err != nil || !rec.Terminal() {
		return Record{}, cause
	}

	s.mu.Lock()
	p := s.active[id]
	s.mu.Unlock()
	if p != nil {
		p.mu.Lock()
		if p.timer != nil {
			p.timer.Stop()
		}
		p.rec = rec
		p.done = true
		p.mu.Unlock()
		s.forget(rec)
	}
	return rec, nil
}

func (s *Scheduler) changed(rec Record) {
	s.hooksMu.RLock()
	hooks := s.onChange
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(rec)
	}
}

func terminalForCancel(rec Record) (Record, error) {
	if rec.Status == StatusCompleted {
		return rec, fmt.Errorf("%w: turnover %s already completed", types.ErrInvalidState, rec.ID)
	}
	return rec, nil
}
