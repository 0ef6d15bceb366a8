package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TypeAdmission = "admission"
	TypeTransfer  = "transfer"
)

// Entry is a patient waiting for a bed. Higher Priority is served first;
// within a tier Seq gives the order. Regular enqueues get increasing positive
// sequence numbers, re-enqueues after a failed assignment get decreasing
// negative ones so they sit at the front of their tier.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	PatientID  string    `json:"patient_id"`
	QueueType  string    `json:"queue_type"`
	Priority   int       `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Seq        int64     `json:"-"`
}

// before reports whether a is served ahead of b.
func (a Entry) before(b Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Seq < b.Seq
}

// Store persists the active entries. Removal from the store is the commit
// point of a dequeue or cancellation.
type Store interface {
	InsertQueueEntry(ctx context.Context, e Entry) error
	DeleteQueueEntry(ctx context.Context, id uuid.UUID) (bool, error)
	ListQueueEntries(ctx context.Context) ([]Entry, error)
}
