package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sink delivers events to one external system.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

// publishTimeout bounds a single sink delivery.
const publishTimeout = 5 * time.Second

// Dispatcher fans events out to its sinks on a background goroutine.
// Publish never blocks the caller: when the buffer is full the event is
// dropped and logged.
type Dispatcher struct {
	logger *zap.Logger
	events chan Event

	mu     sync.RWMutex
	sinks  []Sink
	closed bool

	dropped   atomic.Int64
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewDispatcher(bufferSize int, logger *zap.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Dispatcher{
		logger: logger,
		events: make(chan Event, bufferSize),
	}
}

// AddSink registers a sink. Sinks added after Start receive only later events.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()

	d.logger.Info("Notification sink registered", zap.String("sink", s.Name()))
}

func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go d.run()
	})
}

func (d *Dispatcher) Publish(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}

	select {
	case d.events <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Warn("Notification buffer full, event dropped",
			zap.String("event_type", string(ev.Kind)),
			zap.String("bed_id", ev.BedID))
	}
}

// Dropped returns the number of events lost to a full buffer.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Stop delivers the buffered events, then closes every sink that has a
// Close method.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.events)
		d.mu.Unlock()

		d.Start()
		d.wg.Wait()

		d.mu.RLock()
		sinks := d.sinks
		d.mu.RUnlock()
		for _, s := range sinks {
			if c, ok := s.(interface{ Close() error }); ok {
				if err := c.Close(); err != nil {
					d.logger.Warn("Failed to close notification sink", zap.String("sink", s.Name()), zap.Error(err))
				}
			}
		}
	})
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for ev := range d.events {
		d.mu.RLock()
		sinks := d.sinks
		d.mu.RUnlock()

		for _, s := range sinks {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			if err := s.Publish(ctx, ev); err != nil {
				d.logger.Error("Failed to deliver notification",
					zap.String("sink", s.Name()),
					zap.String("event_type", string(ev.Kind)),
					zap.Error(err))
			}
			cancel()
		}
	}
}
