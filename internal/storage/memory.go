package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/KevinKickass/OpenWardCore/internal/bed"
	"github.com/KevinKickass/OpenWardCore/internal/queue"
	"github.com/KevinKickass/OpenWardCore/internal/turnover"
	"github.com/KevinKickass/OpenWardCore/internal/types"
	"github.com/google/uuid"
)

// MemoryStore keeps beds, turnovers and queue entries in process memory with
// the same semantics as PostgresClient. It backs tests and the "memory"
// database driver.
type MemoryStore struct {
	mu        sync.RWMutex
	beds      map[uuid.UUID]bed.Bed
	turnovers map[uuid.UUID]turnover.Record
	entries   map[uuid.UUID]queue.Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		beds:      make(map[uuid.UUID]bed.Bed),
		turnovers: make(map[uuid.UUID]turnover.Record),
		entries:   make(map[uuid.UUID]queue.Entry),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() {}

func (m *MemoryStore) ListBeds(ctx context.Context) ([]bed.Bed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	beds := make([]bed.Bed, 0, len(m.beds))
	for _, b := range m.beds {
		beds = append(beds, copyBed(b))
	}
	sort.Slice(beds, func(i, j int) bool { return beds[i].Number < beds[j].Number })
	return beds, nil
}

func (m *MemoryStore) SaveBed(ctx context.Context, b bed.Bed) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, existing := range m.beds {
		if id != b.ID && existing.Number == b.Number {
			return fmt.Errorf("%w: bed number %s", types.ErrDuplicateEntry, b.Number)
		}
	}
	m.beds[b.ID] = copyBed(b)
	return nil
}

func (m *MemoryStore) InsertTurnover(ctx context.Context, rec turnover.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.turnovers[rec.ID]; ok {
		return fmt.Errorf("%w: turnover %s", types.ErrDuplicateEntry, rec.ID)
	}
	m.turnovers[rec.ID] = copyRecord(rec)
	return nil
}

func (m *MemoryStore) UpdateTurnover(ctx context.Context, rec turnover.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.turnovers[rec.ID]
	if !ok {
		return fmt.Errorf("turnover %s: %w", rec.ID, types.ErrNotFound)
	}
	if stored.Status != turnover.StatusInProgress {
		return fmt.Errorf("%w: turnover %s is no longer in progress", types.ErrInvalidState, rec.ID)
	}

	// Identity and start fields are immutable once appended.
	stored.Status = rec.Status
	stored.CompletedAt = rec.CompletedAt
	stored.InspectionPassed = rec.InspectionPassed
	stored.InspectorID = rec.InspectorID
	stored.InspectorNotes = rec.InspectorNotes
	stored.AutoCompleted = rec.AutoCompleted
	m.turnovers[rec.ID] = copyRecord(stored)
	return nil
}

func (m *MemoryStore) GetTurnover(ctx context.Context, id uuid.UUID) (turnover.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.turnovers[id]
	if !ok {
		return turnover.Record{}, fmt.Errorf("turnover %s: %w", id, types.ErrNotFound)
	}
	return copyRecord(rec), nil
}

func (m *MemoryStore) ListTurnoversByBed(ctx context.Context, bedID uuid.UUID) ([]turnover.Record, error) {
	return m.filterTurnovers(func(r turnover.Record) bool { return r.BedID == bedID }), nil
}

func (m *MemoryStore) ListTurnoversByStatus(ctx context.Context, status turnover.Status) ([]turnover.Record, error) {
	return m.filterTurnovers(func(r turnover.Record) bool { return r.Status == status }), nil
}

func (m *MemoryStore) filterTurnovers(keep func(turnover.Record) bool) []turnover.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []turnover.Record
	for _, r := range m.turnovers {
		if keep(r) {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (m *MemoryStore) InsertQueueEntry(ctx context.Context, e queue.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.entries {
		if existing.QueueType == e.QueueType && existing.PatientID == e.PatientID {
			return fmt.Errorf("%w: patient %s already queued for %s", types.ErrDuplicateEntry, e.PatientID, e.QueueType)
		}
	}
	m.entries[e.ID] = e
	return nil
}

func (m *MemoryStore) DeleteQueueEntry(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[id]; !ok {
		return false, nil
	}
	delete(m.entries, id)
	return true, nil
}

func (m *MemoryStore) ListQueueEntries(ctx context.Context) ([]queue.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]queue.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}

func copyBed(b bed.Bed) bed.Bed {
	if b.ActiveTurnoverID != nil {
		id := *b.ActiveTurnoverID
		b.ActiveTurnoverID = &id
	}
	return b
}

func copyRecord(r turnover.Record) turnover.Record {
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		r.CompletedAt = &t
	}
	if r.InspectionPassed != nil {
		v := *r.InspectionPassed
		r.InspectionPassed = &v
	}
	return r
}
