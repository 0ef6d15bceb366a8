package bed

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenWardCore/internal/types"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Registry is the single source of truth for bed state. Every mutation runs
// under the lock of the bed it touches; beds never share a lock.
type Registry struct {
	store  Store
	clock  clockwork.Clock
	logger *zap.Logger

	mu       sync.RWMutex
	beds     map[uuid.UUID]*entry
	byNumber map[string]uuid.UUID

	observerMu sync.RWMutex
	observers  []func(Transition)
}

type entry struct {
	mu  sync.Mutex
	bed Bed
}

func NewRegistry(store Store, clock clockwork.Clock, logger *zap.Logger) *Registry {
	return &Registry{
		store:    store,
		clock:    clock,
		logger:   logger,
		beds:     make(map[uuid.UUID]*entry),
		byNumber: make(map[string]uuid.UUID),
	}
}

// OnTransition registers fn to be called after every committed transition.
// fn runs on the caller's goroutine after the bed lock is released.
func (r *Registry) OnTransition(fn func(Transition)) {
	r.observerMu.Lock()
	r.observers = append(r.observers, fn)
	r.observerMu.Unlock()
}

// Load replaces the in-memory view with the persisted beds.
func (r *Registry) Load(ctx context.Context) error {
	beds, err := r.store.ListBeds(ctx)
	if err != nil {
		return fmt.Errorf("failed to load beds: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.beds = make(map[uuid.UUID]*entry, len(beds))
	r.byNumber = make(map[string]uuid.UUID, len(beds))
	for _, b := range beds {
		if err := b.CheckInvariants(); err != nil {
			r.logger.Warn("Persisted bed violates invariants", zap.Error(err))
		}
		r.beds[b.ID] = &entry{bed: b.clone()}
		r.byNumber[normalizeNumber(b.Number)] = b.ID
	}

	r.logger.Info("Beds loaded", zap.Int("count", len(beds)))
	return nil
}

// Provision adds a new bed in the available state. Beds whose number is
// already registered are left untouched and reported as not created.
func (r *Registry) Provision(ctx context.Context, number, roomID, category string) (Bed, bool, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return Bed{}, false, fmt.Errorf("bed number is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byNumber[normalizeNumber(number)]; ok {
		return r.beds[id].snapshot(), false, nil
	}

	b := Bed{
		ID:        uuid.New(),
		Number:    number,
		RoomID:    roomID,
		Category:  category,
		State:     StateAvailable,
		UpdatedAt: r.clock.Now(),
	}
	if err := r.store.SaveBed(ctx, b); err != nil {
		return Bed{}, false, fmt.Errorf("failed to save bed %s: %w", number, err)
	}

	r.beds[b.ID] = &entry{bed: b}
	r.byNumber[normalizeNumber(number)] = b.ID
	return b.clone(), true, nil
}

// Get returns the current snapshot of a bed.
func (r *Registry) Get(id uuid.UUID) (Bed, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Bed{}, err
	}
	return e.snapshot(), nil
}

// Resolve maps a canonical id or a human-facing bed number to the bed id.
func (r *Registry) Resolve(ref string) (uuid.UUID, error) {
	ref = strings.TrimSpace(ref)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if id, err := uuid.Parse(ref); err == nil {
		if _, ok := r.beds[id]; ok {
			return id, nil
		}
	}
	if id, ok := r.byNumber[normalizeNumber(ref)]; ok {
		return id, nil
	}
	return uuid.Nil, fmt.Errorf("bed %q: %w", ref, types.ErrNotFound)
}

// List returns all beds ordered by bed number.
func (r *Registry) List() []Bed {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.beds))
	for _, e := range r.beds {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	beds := make([]Bed, 0, len(entries))
	for _, e := range entries {
		beds = append(beds, e.snapshot())
	}
	sort.Slice(beds, func(i, j int) bool { return beds[i].Number < beds[j].Number })
	return beds
}

// Assign puts a patient into an available bed.
func (r *Registry) Assign(ctx context.Context, id uuid.UUID, patientID string) (Bed, error) {
	if patientID == "" {
		return Bed{}, fmt.Errorf("patient id is required")
	}
	return r.transition(ctx, id, StateOccupied, func(b *Bed) error {
		if b.State != StateAvailable {
			return fmt.Errorf("%w: cannot assign bed %s in state %s", types.ErrInvalidTransition, b.Number, b.State)
		}
		b.CurrentPatientID = patientID
		return nil
	})
}

// BeginCleaning moves an occupied bed into cleaning under the given turnover.
// When vacatingPatient is set the bed must be occupied by that patient.
func (r *Registry) BeginCleaning(ctx context.Context, id, turnoverID uuid.UUID, vacatingPatient string) (Bed, error) {
	return r.transition(ctx, id, StateCleaning, func(b *Bed) error {
		if b.State != StateOccupied {
			return fmt.Errorf("%w: cannot begin cleaning bed %s in state %s", types.ErrInvalidTransition, b.Number, b.State)
		}
		if vacatingPatient != "" && b.CurrentPatientID != vacatingPatient {
			return fmt.Errorf("%w: bed %s is not occupied by patient %s", types.ErrInvalidTransition, b.Number, vacatingPatient)
		}
		b.CurrentPatientID = ""
		b.ActiveTurnoverID = &turnoverID
		return nil
	})
}

// FinishCleaning makes a cleaning bed available. A non-nil turnoverID must
// match the bed's active turnover, so a stale completion cannot finish a
// newer turnover.
func (r *Registry) FinishCleaning(ctx context.Context, id, turnoverID uuid.UUID) (Bed, error) {
	return r.transition(ctx, id, StateAvailable, func(b *Bed) error {
		if b.State != StateCleaning {
			return fmt.Errorf("%w: cannot finish cleaning bed %s in state %s", types.ErrInvalidTransition, b.Number, b.State)
		}
		if err := matchTurnover(b, turnoverID); err != nil {
			return err
		}
		b.ActiveTurnoverID = nil
		return nil
	})
}

// RestoreOccupancy undoes BeginCleaning when the turnover could not be started.
func (r *Registry) RestoreOccupancy(ctx context.Context, id, turnoverID uuid.UUID, patientID string) (Bed, error) {
	return r.transition(ctx, id, StateOccupied, func(b *Bed) error {
		if b.State != StateCleaning {
			return fmt.Errorf("%w: cannot restore bed %s in state %s", types.ErrInvalidTransition, b.Number, b.State)
		}
		if err := matchTurnover(b, turnoverID); err != nil {
			return err
		}
		b.ActiveTurnoverID = nil
		b.CurrentPatientID = patientID
		return nil
	})
}

// EnterMaintenance takes an available bed out of service.
func (r *Registry) EnterMaintenance(ctx context.Context, id uuid.UUID) (Bed, error) {
	return r.transition(ctx, id, StateMaintenance, func(b *Bed) error {
		if b.State != StateAvailable {
			return fmt.Errorf("%w: cannot enter maintenance from state %s", types.ErrInvalidTransition, b.State)
		}
		return nil
	})
}

// ExitMaintenance returns a bed under maintenance to available.
func (r *Registry) ExitMaintenance(ctx context.Context, id uuid.UUID) (Bed, error) {
	return r.transition(ctx, id, StateAvailable, func(b *Bed) error {
		if b.State != StateMaintenance {
			return fmt.Errorf("%w: bed %s is not under maintenance (state %s)", types.ErrInvalidTransition, b.Number, b.State)
		}
		return nil
	})
}

// InterruptCleaning pulls a cleaning bed into maintenance. The turnover must
// already be cancelled by the caller.
func (r *Registry) InterruptCleaning(ctx context.Context, id, turnoverID uuid.UUID) (Bed, error) {
	return r.transition(ctx, id, StateMaintenance, func(b *Bed) error {
		if b.State != StateCleaning {
			return fmt.Errorf("%w: cannot interrupt cleaning of bed %s in state %s", types.ErrInvalidTransition, b.Number, b.State)
		}
		if err := matchTurnover(b, turnoverID); err != nil {
			return err
		}
		b.ActiveTurnoverID = nil
		return nil
	})
}

// BeginPostMaintenanceCleaning starts a turnover with no vacated patient on a
// bed coming back from maintenance.
func (r *Registry) BeginPostMaintenanceCleaning(ctx context.Context, id, turnoverID uuid.UUID) (Bed, error) {
	return r.transition(ctx, id, StateCleaning, func(b *Bed) error {
		if b.State != StateMaintenance {
			return fmt.Errorf("%w: bed %s is not under maintenance (state %s)", types.ErrInvalidTransition, b.Number, b.State)
		}
		b.ActiveTurnoverID = &turnoverID
		return nil
	})
}

// transition applies mutate to a copy of the bed under its lock, validates
// the result and persists it before publishing. A failed mutation, invariant
// check or save leaves the bed untouched.
func (r *Registry) transition(ctx context.Context, id uuid.UUID, to State, mutate func(b *Bed) error) (Bed, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Bed{}, err
	}

	e.mu.Lock()
	from := e.bed.State
	next := e.bed.clone()

	if err := mutate(&next); err != nil {
		e.mu.Unlock()
		return Bed{}, err
	}
	if err := ValidateTransition(from, to); err != nil {
		e.mu.Unlock()
		return Bed{}, err
	}
	next.State = to
	next.UpdatedAt = r.clock.Now()
	if err := next.CheckInvariants(); err != nil {
		e.mu.Unlock()
		return Bed{}, fmt.Errorf("%w: %v", types.ErrInvalidTransition, err)
	}

	if err := r.store.SaveBed(ctx, next); err != nil {
		e.mu.Unlock()
		return Bed{}, fmt.Errorf("failed to persist bed %s: %w", next.Number, err)
	}
	e.bed = next
	e.mu.Unlock()

	r.logger.Debug("Bed state changed",
		zap.String("bed_id", id.String()),
		zap.String("bed_number", next.Number),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	r.publish(Transition{Bed: next.clone(), From: from})
	return next.clone(), nil
}

func (r *Registry) publish(t Transition) {
	r.observerMu.RLock()
	observers := r.observers
	r.observerMu.RUnlock()

	for _, fn := range observers {
		fn(t)
	}
}

func (r *Registry) lookup(id uuid.UUID) (*entry, error) {
	r.mu.RLock()
	e, ok := r.beds[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("bed %s: %w", id, types.ErrNotFound)
	}
	return e, nil
}

func (e *entry) snapshot() Bed {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bed.clone()
}

func matchTurnover(b *Bed, turnoverID uuid.UUID) error {
	if turnoverID == uuid.Nil {
		return nil
	}
	if b.ActiveTurnoverID == nil || *b.ActiveTurnoverID != turnoverID {
		return fmt.Errorf("%w: turnover %s is not active on bed %s", types.ErrInvalidTransition, turnoverID, b.Number)
	}
	return nil
}

func normalizeNumber(n string) string {
	return strings.ToUpper(strings.TrimSpace(n))
}
