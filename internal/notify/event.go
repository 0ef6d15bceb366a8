package notify

import (
	"time"

	"github.com/KevinKickass/OpenWardCore/internal/bed"
	"github.com/KevinKickass/OpenWardCore/internal/queue"
	"github.com/KevinKickass/OpenWardCore/internal/turnover"
	"github.com/google/uuid"
)

type Kind string

const (
	KindBedStateChanged   Kind = "bed.state_changed"
	KindTurnoverStarted   Kind = "turnover.started"
	KindTurnoverCompleted Kind = "turnover.completed"
	KindTurnoverCancelled Kind = "turnover.cancelled"
	KindQueueEnqueued     Kind = "queue.enqueued"
	KindQueueDequeued     Kind = "queue.dequeued"
	KindQueueCancelled    Kind = "queue.cancelled"
	KindQueueRequeued     Kind = "queue.requeued"
)

// Event is one committed state change, published after the fact. BedID is
// empty for queue events.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	BedID     string    `json:"bed_id,omitempty"`
	Data      any       `json:"data"`
}

type BedStateData struct {
	Bed           bed.Bed   `json:"bed"`
	PreviousState bed.State `json:"previous_state"`
}

func FromTransition(t bed.Transition) Event {
	return Event{
		ID:        uuid.New(),
		Kind:      KindBedStateChanged,
		Timestamp: t.Bed.UpdatedAt,
		BedID:     t.Bed.ID.String(),
		Data:      BedStateData{Bed: t.Bed, PreviousState: t.From},
	}
}

func FromTurnover(rec turnover.Record) Event {
	ev := Event{
		ID:        uuid.New(),
		Kind:      KindTurnoverStarted,
		Timestamp: rec.StartedAt,
		BedID:     rec.BedID.String(),
		Data:      rec,
	}
	switch rec.Status {
	case turnover.StatusCompleted:
		ev.Kind = KindTurnoverCompleted
	case turnover.StatusCancelled:
		ev.Kind = KindTurnoverCancelled
	}
	if rec.CompletedAt != nil {
		ev.Timestamp = *rec.CompletedAt
	}
	return ev
}

func FromQueue(qe queue.Event, at time.Time) Event {
	kind := KindQueueEnqueued
	switch qe.Kind {
	case queue.EventDequeued:
		kind = KindQueueDequeued
	case queue.EventCancelled:
		kind = KindQueueCancelled
	case queue.EventRequeued:
		kind = KindQueueRequeued
	}
	return Event{
		ID:        uuid.New(),
		Kind:      kind,
		Timestamp: at,
		Data:      qe.Entry,
	}
}
