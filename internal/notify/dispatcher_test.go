package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenWardCore/internal/bed"
	"github.com/KevinKickass/OpenWardCore/internal/config"
	"github.com/KevinKickass/OpenWardCore/internal/queue"
	"github.com/KevinKickass/OpenWardCore/internal/turnover"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	fail   bool
	block  chan struct{}
	closed bool
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Publish(ctx context.Context, ev Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.fail {
		return errors.New("sink down")
	}
	return nil
}

func (r *recordingSink) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func TestDispatcher_DeliversInOrderToAllSinks(t *testing.T) {
	d := NewDispatcher(16, zap.NewNop())
	a, b := &recordingSink{}, &recordingSink{fail: true}
	d.AddSink(a)
	d.AddSink(b)
	d.Start()

	d.Publish(Event{Kind: KindTurnoverStarted})
	d.Publish(Event{Kind: KindBedStateChanged})
	d.Publish(Event{Kind: KindTurnoverCompleted})
	d.Stop()

	want := []Kind{KindTurnoverStarted, KindBedStateChanged, KindTurnoverCompleted}
	assert.Equal(t, want, a.kinds())
	assert.Equal(t, want, b.kinds(), "a failing sink does not stop delivery")
	assert.True(t, a.closed)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := NewDispatcher(1, zap.NewNop())
	sink := &recordingSink{block: make(chan struct{})}
	d.AddSink(sink)
	d.Start()

	// First event is picked up by the worker and blocks in the sink, the
	// second fills the buffer, the rest are dropped.
	d.Publish(Event{Kind: KindQueueEnqueued})
	require.Eventually(t, func() bool { return len(d.events) == 0 }, time.Second, time.Millisecond)
	d.Publish(Event{Kind: KindQueueDequeued})
	d.Publish(Event{Kind: KindQueueCancelled})
	d.Publish(Event{Kind: KindQueueRequeued})

	assert.Equal(t, int64(2), d.Dropped())

	close(sink.block)
	d.Stop()
	assert.Equal(t, []Kind{KindQueueEnqueued, KindQueueDequeued}, sink.kinds())
}

func TestDispatcher_PublishAfterStopIsIgnored(t *testing.T) {
	d := NewDispatcher(4, zap.NewNop())
	d.Stop()
	assert.NotPanics(t, func() { d.Publish(Event{Kind: KindQueueEnqueued}) })
}

func TestFromTurnover(t *testing.T) {
	started := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	rec := turnover.Record{ID: uuid.New(), BedID: uuid.New(), Status: turnover.StatusInProgress, StartedAt: started}

	ev := FromTurnover(rec)
	assert.Equal(t, KindTurnoverStarted, ev.Kind)
	assert.Equal(t, started, ev.Timestamp)
	assert.Equal(t, rec.BedID.String(), ev.BedID)

	done := started.Add(30 * time.Minute)
	rec.Status = turnover.StatusCompleted
	rec.CompletedAt = &done
	ev = FromTurnover(rec)
	assert.Equal(t, KindTurnoverCompleted, ev.Kind)
	assert.Equal(t, done, ev.Timestamp)

	rec.Status = turnover.StatusCancelled
	assert.Equal(t, KindTurnoverCancelled, FromTurnover(rec).Kind)
}

func TestFromTransitionAndQueue(t *testing.T) {
	b := bed.Bed{ID: uuid.New(), Number: "B-1", State: bed.StateCleaning, UpdatedAt: time.Now()}
	ev := FromTransition(bed.Transition{Bed: b, From: bed.StateOccupied})
	assert.Equal(t, KindBedStateChanged, ev.Kind)
	data, ok := ev.Data.(BedStateData)
	require.True(t, ok)
	assert.Equal(t, bed.StateOccupied, data.PreviousState)

	at := time.Now()
	qev := FromQueue(queue.Event{Kind: queue.EventRequeued, Entry: queue.Entry{PatientID: "P-1"}}, at)
	assert.Equal(t, KindQueueRequeued, qev.Kind)
	assert.Empty(t, qev.BedID)
	assert.Equal(t, at, qev.Timestamp)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "ward/bed/state_changed", Topic("ward", KindBedStateChanged))
	assert.Equal(t, "hospital/icu/queue/requeued", Topic("hospital/icu", KindQueueRequeued))
}

func TestWebhookSink_PostsEvent(t *testing.T) {
	var (
		mu       sync.Mutex
		received map[string]any
		header   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		header = r.Header.Get("X-Event-Type")
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(config.WebhookConfig{URL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	ev := Event{ID: uuid.New(), Kind: KindTurnoverCompleted, BedID: "b-1", Timestamp: time.Now()}
	require.NoError(t, sink.Publish(context.Background(), ev))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, string(KindTurnoverCompleted), header)
	assert.Equal(t, "b-1", received["bed_id"])
	assert.Equal(t, string(KindTurnoverCompleted), received["type"])
}

func TestWebhookSink_ReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(config.WebhookConfig{URL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	err = sink.Publish(context.Background(), Event{Kind: KindQueueEnqueued})
	assert.Error(t, err)

	_, err = NewWebhookSink(config.WebhookConfig{})
	assert.Error(t, err)
}
