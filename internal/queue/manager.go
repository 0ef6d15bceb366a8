package queue

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

type EventKind string

const (
	EventEnqueued  EventKind = "enqueued"
	EventDequeued  EventKind = "dequeued"
	EventCancelled EventKind = "cancelled"
	EventRequeued  EventKind = "requeued"
)

type Event struct {
	Kind  EventKind
	Entry Entry
}

// Manager keeps one ordered waiting line per queue type. Each line has its
// own lock; selecting and removing the head of a line is one critical section.
type Manager struct {
	store  Store
	clock  clockwork.Clock
	logger *zap.Logger

	mu    sync.RWMutex
	lines map[string]*line
	index map[uuid.UUID]string // entry id -> queue type

	seqMu sync.Mutex
	next  int64 // last regular sequence handed out
	front int64 // last front-of-tier sequence handed out (<= 0)

	observerMu sync.RWMutex
	observers  []func(Event)
}

type line struct {
	mu      sync.Mutex
	entries []Entry
}

func NewManager(store Store, clock clockwork.Clock, logger *zap.Logger) *Manager {
	return &Manager{
		store:  store,
		clock:  clock,
		logger: logger,
		lines:  make(map[string]*line),
		index:  make(map[uuid.UUID]string),
	}
}

func (m *Manager) OnEvent(fn func(Event)) {
	m.observerMu.Lock()
	m.observers = append(m.observers, fn)
	m.observerMu.Unlock()
}

// Load rebuilds all lines from the store.
func (m *Manager) Load(ctx context.Context) error {
	entries, err := m.store.ListQueueEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to load queue entries: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lines = make(map[string]*line)
	m.index = make(map[uuid.UUID]string)

	m.seqMu.Lock()
	m.next, m.front = 0, 0
	for _, e := range entries {
		if e.Seq > m.next {
			m.next = e.Seq
		}
		if e.Seq < m.front {
			m.front = e.Seq
		}
	}
	m.seqMu.Unlock()

	for _, e := range entries {
		l, ok := m.lines[e.QueueType]
		if !ok {
			l = &line{}
			m.lines[e.QueueType] = l
		}
		l.insert(e)
		m.index[e.ID] = e.QueueType
	}

	m.logger.Info("Queues loaded", zap.Int("entries", len(entries)), zap.Int("queues", len(m.lines)))
	return nil
}

// Enqueue appends a patient to a queue. A patient may hold at most one
// active entry per queue type.
func (m *Manager) Enqueue(ctx context.Context, patientID, queueType string, priority int) (Entry, error) {
	patientID = strings.TrimSpace(patientID)
	queueType = strings.TrimSpace(queueType)
	if patientID == "" || queueType == "" {
		return Entry{}, fmt.Errorf("patient id and queue type are required")
	}

	e := Entry{
		ID:        uuid.New(),
		PatientID: patientID,
		QueueType: queueType,
		Priority:  priority,
	}
	if err := m.add(ctx, e, false); err != nil {
		return Entry{}, err
	}
	return m.Get(e.ID)
}

// Requeue puts a previously dequeued entry back at the front of its priority
// tier, keeping its id and original enqueue time.
func (m *Manager) Requeue(ctx context.Context, e Entry) (Entry, error) {
	if err := m.add(ctx, e, true); err != nil {
		return Entry{}, err
	}
	return m.Get(e.ID)
}

func (m *Manager) add(ctx context.Context, e Entry, front bool) error {
	l := m.lineFor(e.QueueType)

	l.mu.Lock()
	for _, existing := range l.entries {
		if existing.PatientID == e.PatientID {
			l.mu.Unlock()
			return fmt.Errorf("%w: patient %s already queued for %s", types.ErrDuplicateEntry, e.PatientID, e.QueueType)
		}
	}

	if front {
		e.Seq = m.nextFront()
	} else {
		e.Seq = m.nextSeq()
		e.EnqueuedAt = m.clock.Now()
	}

	if err := m.store.InsertQueueEntry(ctx, e); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("failed to persist queue entry: %w", err)
	}
	l.insert(e)
	l.mu.Unlock()

	m.mu.Lock()
	m.index[e.ID] = e.QueueType
	m.mu.Unlock()

	kind := EventEnqueued
	if front {
		kind = EventRequeued
	}
	m.emit(Event{Kind: kind, Entry: e})
	return nil
}

// DequeueNext removes and returns the head of a queue: highest priority
// first, then earliest arrival. ok is false when the queue is empty.
func (m *Manager) DequeueNext(ctx context.Context, queueType string) (Entry, bool, error) {
	m.mu.RLock()
	l, exists := m.lines[queueType]
	m.mu.RUnlock()
	if !exists {
		return Entry{}, false, nil
	}

	l.mu.Lock()
	if len(l.entries) == 0 {
		l.mu.Unlock()
		return Entry{}, false, nil
	}

	head := l.entries[0]
	if _, err := m.store.DeleteQueueEntry(ctx, head.ID); err != nil {
		l.mu.Unlock()
		return Entry{}, false, fmt.Errorf("failed to remove queue entry %s: %w", head.ID, err)
	}
	l.entries = l.entries[1:]
	l.mu.Unlock()

	m.mu.Lock()
	delete(m.index, head.ID)
	m.mu.Unlock()

	m.emit(Event{Kind: EventDequeued, Entry: head})
	return head, true, nil
}

// Cancel removes an entry wherever it is. Cancelling an unknown or already
// removed entry is a no-op and reports false.
func (m *Manager) Cancel(ctx context.Context, entryID uuid.UUID) (bool, error) {
	m.mu.RLock()
	queueType, ok := m.index[entryID]
	l := m.lines[queueType]
	m.mu.RUnlock()
	if !ok || l == nil {
		return false, nil
	}

	l.mu.Lock()
	pos := -1
	for i, e := range l.entries {
		if e.ID == entryID {
			pos = i
			break
		}
	}
	if pos < 0 {
		l.mu.Unlock()
		return false, nil
	}

	removed := l.entries[pos]
	if _, err := m.store.DeleteQueueEntry(ctx, entryID); err != nil {
		l.mu.Unlock()
		return false, fmt.Errorf("failed to remove queue entry %s: %w", entryID, err)
	}
	l.entries = append(l.entries[:pos], l.entries[pos+1:]...)
	l.mu.Unlock()

	m.mu.Lock()
	delete(m.index, entryID)
	m.mu.Unlock()

	m.emit(Event{Kind: EventCancelled, Entry: removed})
	return true, nil
}

// List returns the entries of a queue in service order.
func (m *Manager) List(queueType string) []Entry {
	m.mu.RLock()
	l, ok := m.lines[queueType]
	m.mu.RUnlock()
	if !ok {
		return []Entry{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// QueueTypes returns the names of all queues that have ever held an entry.
func (m *Manager) QueueTypes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.lines))
	for name := range m.lines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) Get(entryID uuid.UUID) (Entry, error) {
	e, _, err := m.Position(entryID)
	return e, err
}

// Position returns an entry and its zero-based place in its queue.
func (m *Manager) Position(entryID uuid.UUID) (Entry, int, error) {
	m.mu.RLock()
	queueType, ok := m.index[entryID]
	l := m.lines[queueType]
	m.mu.RUnlock()
	if !ok || l == nil {
		return Entry{}, -1, fmt.Errorf("queue entry %s: %w", entryID, types.ErrNotFound)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.ID == entryID {
			return e, i, nil
		}
	}
	return Entry{}, -1, fmt.Errorf("queue entry %s: %w", entryID, types.ErrNotFound)
}

func (m *Manager) lineFor(queueType string) *line {
	m.mu.RLock()
	l, ok := m.lines[queueType]
	m.mu.RUnlock()
	if ok {
		return l
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.lines[queueType]; ok {
		return l
	}
	l = &line{}
	m.lines[queueType] = l
	return l
}

func (m *Manager) nextSeq() int64 {
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	m.next++
	return m.next
}

func (m *Manager) nextFront() int64 {
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	m.front--
	return m.front
}

func (m *Manager) emit(ev Event) {
	m.observerMu.RLock()
	observers := m.observers
	m.observerMu.RUnlock()

	for _, fn := range observers {
		fn(ev)
	}
}

// insert places e at its service position. Caller holds l.mu.
func (l *line) insert(e Entry) {
	i := sort.Search(len(l.entries), func(i int) bool { return e.before(l.entries[i]) })
	l.entries = append(l.entries, Entry{})
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = e
}
