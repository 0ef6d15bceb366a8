package streaming

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/KevinKickass/OpenWardCore/internal/auth"
	"github.com/KevinKickass/OpenWardCore/internal/config"
	"github.com/KevinKickass/OpenWardCore/internal/notify"
	"github.com/KevinKickass/OpenWardCore/internal/queue"
	"github.com/KevinKickass/OpenWardCore/internal/storage"
	"github.com/KevinKickass/OpenWardCore/internal/turnover"
	"github.com/KevinKickass/OpenWardCore/internal/ward"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const secretEnv = "OWC_GRPC_TEST_JWT_SECRET"

type grpcFixture struct {
	engine   *ward.Engine
	streamer *EventStreamer
	client   *WardServiceClient
	auth     *auth.AuthService
	clock    *clockwork.FakeClock
}

func newGRPCFixture(t *testing.T) *grpcFixture {
	t.Helper()
	t.Setenv(secretEnv, "grpc-test-secret-with-at-least-32-chars")

	cfg := &config.Config{
		Auth: config.AuthConfig{JWTSecretEnv: secretEnv, Issuer: "openwardcore", AccessTokenTTL: time.Hour},
		Turnover: config.TurnoverConfig{Durations: map[string]time.Duration{
			"standard": 30 * time.Minute,
		}},
		Queue: config.QueueConfig{DefaultQueueType: queue.TypeAdmission},
	}

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	engine := ward.NewEngine(storage.NewMemoryStore(), cfg, clock, zap.NewNop())

	dispatcher := notify.NewDispatcher(64, zap.NewNop())
	streamer := NewEventStreamer()
	dispatcher.AddSink(streamer)
	notify.Watch(dispatcher, engine.Beds, engine.Turnovers, engine.Queues, clock)
	dispatcher.Start()
	t.Cleanup(dispatcher.Stop)

	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(engine.Stop)

	authService := auth.NewAuthService(cfg.Auth, zap.NewNop())

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(UnaryAuthInterceptor(authService)),
		grpc.StreamInterceptor(StreamAuthInterceptor(authService)),
	)
	RegisterWardServiceServer(srv, NewWardService(engine, streamer, zap.NewNop()))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &grpcFixture{
		engine:   engine,
		streamer: streamer,
		client:   NewWardServiceClient(conn),
		auth:     authService,
		clock:    clock,
	}
}

func (f *grpcFixture) authed(t *testing.T) context.Context {
	t.Helper()
	token, err := f.auth.IssueToken("board-1", "viewer")
	require.NoError(t, err)
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func request(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}

func TestWardService_GetBedStatus(t *testing.T) {
	f := newGRPCFixture(t)
	ctx := f.authed(t)

	b, _, err := f.engine.Beds.Provision(context.Background(), "B-101", "R-1", "general")
	require.NoError(t, err)
	_, err = f.engine.Beds.Assign(context.Background(), b.ID, "P-1")
	require.NoError(t, err)
	_, err = f.engine.Coordinator.Discharge(context.Background(), b.ID, "P-1", turnover.TypeStandard)
	require.NoError(t, err)
	f.clock.Advance(6 * time.Minute)

	resp, err := f.client.GetBedStatus(ctx, request(t, map[string]any{"bed": "B-101"}))
	require.NoError(t, err)

	m := resp.AsMap()
	assert.Equal(t, "cleaning", m["bed"].(map[string]any)["lifecycle_state"])
	progress := m["turnover"].(map[string]any)
	assert.EqualValues(t, 1440, progress["remaining"])
	assert.EqualValues(t, 20, progress["percentage"])

	_, err = f.client.GetBedStatus(ctx, request(t, map[string]any{"bed": "B-999"}))
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = f.client.GetBedStatus(ctx, request(t, map[string]any{}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestWardService_GetQueueAndHistory(t *testing.T) {
	f := newGRPCFixture(t)
	ctx := f.authed(t)
	bg := context.Background()

	_, err := f.engine.Queues.Enqueue(bg, "P-9", queue.TypeAdmission, 0)
	require.NoError(t, err)

	resp, err := f.client.GetQueue(ctx, request(t, map[string]any{}))
	require.NoError(t, err)
	assert.Equal(t, "admission", resp.AsMap()["queue_type"])
	assert.EqualValues(t, 1, resp.AsMap()["count"])

	b, _, err := f.engine.Beds.Provision(bg, "B-101", "R-1", "general")
	require.NoError(t, err)
	_, err = f.engine.Beds.Assign(bg, b.ID, "P-1")
	require.NoError(t, err)
	_, err = f.engine.Coordinator.Discharge(bg, b.ID, "P-1", turnover.TypeStandard)
	require.NoError(t, err)

	resp, err = f.client.GetTurnoverHistory(ctx, request(t, map[string]any{"bed": b.ID.String(), "patient_id": "P-1"}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, resp.AsMap()["count"])

	resp, err = f.client.GetTurnoverHistory(ctx, request(t, map[string]any{"bed": "B-101", "patient_id": "P-2"}))
	require.NoError(t, err)
	assert.EqualValues(t, 0, resp.AsMap()["count"])
}

func TestWardService_RequiresToken(t *testing.T) {
	f := newGRPCFixture(t)

	_, err := f.client.GetQueue(context.Background(), request(t, map[string]any{}))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	bad := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer forged")
	_, err = f.client.GetQueue(bad, request(t, map[string]any{}))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestWardService_StreamWardEvents(t *testing.T) {
	f := newGRPCFixture(t)
	ctx, cancel := context.WithTimeout(f.authed(t), 5*time.Second)
	defer cancel()

	b, _, err := f.engine.Beds.Provision(context.Background(), "B-101", "R-1", "general")
	require.NoError(t, err)

	stream, err := f.client.StreamWardEvents(ctx, request(t, map[string]any{
		"kinds": []any{string(notify.KindBedStateChanged)},
	}))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.streamer.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	_, err = f.engine.Queues.Enqueue(context.Background(), "P-5", queue.TypeAdmission, 0)
	require.NoError(t, err)
	_, err = f.engine.Beds.Assign(context.Background(), b.ID, "P-1")
	require.NoError(t, err)

	// Provisioning may still be in flight, so skip ahead to the assignment.
	for {
		msg := new(structpb.Struct)
		require.NoError(t, stream.RecvMsg(msg))
		m := msg.AsMap()
		require.Equal(t, string(notify.KindBedStateChanged), m["type"], "queue events are filtered out")
		assert.Equal(t, b.ID.String(), m["bed_id"])
		if m["data"].(map[string]any)["bed"].(map[string]any)["lifecycle_state"] == "occupied" {
			return
		}
	}
}

func TestEventStreamer_UnsubscribeClosesChannel(t *testing.T) {
	s := NewEventStreamer()
	ch := s.Subscribe()
	s.Broadcast(notify.Event{Kind: notify.KindQueueEnqueued})

	ev := <-ch
	assert.Equal(t, notify.KindQueueEnqueued, ev.Kind)

	s.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, s.SubscriberCount())
}
