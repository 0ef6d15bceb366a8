package streaming

import (
	"context"
	"sync"

	"github.com/KevinKickass/OpenWardCore/internal/notify"
)

// EventStreamer fans ward events out to gRPC subscribers. It is registered
// with the notify dispatcher as a sink.
type EventStreamer struct {
	mu          sync.RWMutex
	subscribers map[chan notify.Event]struct{}
}

func NewEventStreamer() *EventStreamer {
	return &EventStreamer{
		subscribers: make(map[chan notify.Event]struct{}),
	}
}

func (s *EventStreamer) Subscribe() <-chan notify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan notify.Event, 100)
	s.subscribers[ch] = struct{}{}
	return ch
}

func (s *EventStreamer) Unsubscribe(ch <-chan notify.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subscribers {
		if sub == ch {
			delete(s.subscribers, sub)
			close(sub)
			return
		}
	}
}

// Broadcast never blocks; a subscriber with a full buffer misses the event.
func (s *EventStreamer) Broadcast(ev notify.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *EventStreamer) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

func (s *EventStreamer) Name() string { return "grpc-stream" }

func (s *EventStreamer) Publish(ctx context.Context, ev notify.Event) error {
	s.Broadcast(ev)
	return nil
}
