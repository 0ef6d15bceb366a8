package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenWardCore/internal/api/websocket"
	"github.com/KevinKickass/OpenWardCore/internal/auth"
	"github.com/KevinKickass/OpenWardCore/internal/bed"
	"github.com/KevinKickass/OpenWardCore/internal/config"
	"github.com/KevinKickass/OpenWardCore/internal/interfaces"
	"github.com/KevinKickass/OpenWardCore/internal/provision"
	"github.com/KevinKickass/OpenWardCore/internal/queue"
	"github.com/KevinKickass/OpenWardCore/internal/storage"
	"github.com/KevinKickass/OpenWardCore/internal/ward"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecretEnv = "OWC_REST_TEST_JWT_SECRET"

type testLifecycle struct {
	cfg    *config.Config
	engine *ward.Engine
	loader *provision.Loader
}

func (l *testLifecycle) Config() *config.Config { return l.cfg }
func (l *testLifecycle) Engine() *ward.Engine { return l.engine }
func (l *testLifecycle) Ping(context.Context) error { return nil }
func (l *testLifecycle) Shutdown(context.Context) error { return nil }

func (l *testLifecycle) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{State: "RUNNING", Census: l.engine.Census()}
}

func (l *testLifecycle) ApplyLayout(ctx context.Context, layout *provision.Layout) (provision.Result, error) {
	return l.loader.Apply(ctx, layout, l.engine.Beds)
}

type fixture struct {
	t      *testing.T
	server *Server
	engine *ward.Engine
	clock  *clockwork.FakeClock
	tokens map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv(testSecretEnv, "rest-test-secret-with-at-least-32-chars")

	cfg := &config.Config{
		Auth: config.AuthConfig{JWTSecretEnv: testSecretEnv, Issuer: "openwardcore", AccessTokenTTL: time.Hour},
		Turnover: config.TurnoverConfig{Durations: map[string]time.Duration{
			"standard": 30 * time.Minute,
			"priority": 15 * time.Minute,
		}},
		Queue: config.QueueConfig{DefaultQueueType: queue.TypeAdmission},
	}

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	engine := ward.NewEngine(storage.NewMemoryStore(), cfg, clock, zap.NewNop())
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(engine.Stop)

	loader, err := provision.NewLoader(zap.NewNop())
	require.NoError(t, err)

	authService := auth.NewAuthService(cfg.Auth, zap.NewNop())
	lm := &testLifecycle{cfg: cfg, engine: engine, loader: loader}
	server := NewServer(cfg, lm, zap.NewNop(), websocket.NewHub(zap.NewNop(), authService), authService, loader)

	tokens := map[string]string{}
	for _, role := range []string{"viewer", "nurse", "admin"} {
		token, err := authService.IssueToken(role+"-1", role)
		require.NoError(t, err)
		tokens[role] = token
	}

	return &fixture{t: t, server: server, engine: engine, clock: clock, tokens: tokens}
}

func (f *fixture) do(role, method, path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(f.t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+f.tokens[role])
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode(t, w)["error"].(map[string]any)["code"].(string)
}

func (f *fixture) occupiedBed(number, patient string) bed.Bed {
	f.t.Helper()
	ctx := context.Background()
	b, _, err := f.engine.Beds.Provision(ctx, number, "R-1", "general")
	require.NoError(f.t, err)
	b, err = f.engine.Beds.Assign(ctx, b.ID, patient)
	require.NoError(f.t, err)
	return b
}

func TestServer_DischargeToAdmission(t *testing.T) {
	f := newFixture(t)
	f.occupiedBed("B-101", "P-1")

	w := f.do("nurse", http.MethodPost, "/api/v1/queues/admission/entries", map[string]any{"patient_id": "P-2"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do("nurse", http.MethodPost, "/api/v1/beds/B-101/discharge", map[string]any{"patient_id": "P-1"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	turnoverID := decode(t, w)["turnover_id"].(string)
	assert.EqualValues(t, 1800, decode(t, w)["expected_duration"])

	f.clock.Advance(15 * time.Minute)

	w = f.do("viewer", http.MethodGet, "/api/v1/turnovers/"+turnoverID+"/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	progress := decode(t, w)
	assert.EqualValues(t, 900, progress["remaining"])
	assert.EqualValues(t, 50, progress["percentage"])

	w = f.do("viewer", http.MethodGet, "/api/v1/beds/b-101", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode(t, w)
	assert.Equal(t, "cleaning", status["bed"].(map[string]any)["lifecycle_state"])
	assert.NotNil(t, status["turnover"])

	w = f.do("nurse", http.MethodPost, "/api/v1/turnovers/"+turnoverID+"/complete", map[string]any{"inspection_passed": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec := decode(t, w)
	assert.Equal(t, "completed", rec["status"])
	assert.Equal(t, "nurse-1", rec["inspector_id"])

	w = f.do("viewer", http.MethodGet, "/api/v1/beds/B-101", nil)
	bedView := decode(t, w)["bed"].(map[string]any)
	assert.Equal(t, "occupied", bedView["lifecycle_state"])
	assert.Equal(t, "P-2", bedView["current_patient_id"])

	w = f.do("viewer", http.MethodGet, "/api/v1/beds/B-101/turnovers?patient_id=P-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])
}

func TestServer_ErrorMapping(t *testing.T) {
	f := newFixture(t)
	f.occupiedBed("B-101", "P-1")
	_, _, err := f.engine.Beds.Provision(context.Background(), "B-102", "R-1", "general")
	require.NoError(t, err)

	tests := []struct {
		name   string
		role   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown bed", "nurse", http.MethodPost, "/api/v1/beds/B-999/discharge", map[string]any{"patient_id": "P-1"}, http.StatusNotFound, "BED_404"},
		{"discharge available bed", "nurse", http.MethodPost, "/api/v1/beds/B-102/discharge", map[string]any{"patient_id": "P-1"}, http.StatusConflict, "BED_409"},
		{"wrong patient", "nurse", http.MethodPost, "/api/v1/beds/B-101/discharge", map[string]any{"patient_id": "P-7"}, http.StatusConflict, "BED_409"},
		{"unknown turnover type", "nurse", http.MethodPost, "/api/v1/beds/B-101/discharge", map[string]any{"patient_id": "P-1", "turnover_type": "sterile"}, http.StatusBadRequest, "BED_400"},
		{"missing patient", "nurse", http.MethodPost, "/api/v1/beds/B-101/discharge", map[string]any{}, http.StatusBadRequest, "BED_400"},
		{"admit occupied bed", "nurse", http.MethodPost, "/api/v1/beds/B-101/admit", map[string]any{"patient_id": "P-3"}, http.StatusConflict, "BED_409"},
		{"maintenance on occupied bed", "nurse", http.MethodPost, "/api/v1/beds/B-101/maintenance", nil, http.StatusConflict, "BED_409"},
		{"bad turnover id", "viewer", http.MethodGet, "/api/v1/turnovers/nope", nil, http.StatusBadRequest, "TURNOVER_400"},
		{"unknown turnover", "viewer", http.MethodGet, "/api/v1/turnovers/7f9c24e8-3b12-4fef-91e5-6a1d3c9e0b11", nil, http.StatusNotFound, "TURNOVER_404"},
		{"missing inspection outcome", "nurse", http.MethodPost, "/api/v1/turnovers/7f9c24e8-3b12-4fef-91e5-6a1d3c9e0b11/complete", map[string]any{}, http.StatusBadRequest, "TURNOVER_400"},
		{"bad state filter", "viewer", http.MethodGet, "/api/v1/beds?state=dirty", nil, http.StatusBadRequest, "BED_400"},
		{"unknown queue entry", "viewer", http.MethodGet, "/api/v1/queues/entries/7f9c24e8-3b12-4fef-91e5-6a1d3c9e0b11", nil, http.StatusNotFound, "QUEUE_404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(tt.role, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}
}

func TestServer_Permissions(t *testing.T) {
	f := newFixture(t)
	f.occupiedBed("B-101", "P-1")

	tests := []struct {
		name   string
		role   string
		method string
		path   string
		body   any
		status int
	}{
		{"anonymous read", "", http.MethodGet, "/api/v1/beds", nil, http.StatusUnauthorized},
		{"viewer read", "viewer", http.MethodGet, "/api/v1/beds", nil, http.StatusOK},
		{"viewer discharge", "viewer", http.MethodPost, "/api/v1/beds/B-101/discharge", map[string]any{"patient_id": "P-1"}, http.StatusForbidden},
		{"nurse cancel", "nurse", http.MethodPost, "/api/v1/turnovers/7f9c24e8-3b12-4fef-91e5-6a1d3c9e0b11/cancel", nil, http.StatusForbidden},
		{"nurse layout", "nurse", http.MethodPost, "/api/v1/system/layout", "ward: W", http.StatusForbidden},
		{"public health", "", http.MethodGet, "/health", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(tt.role, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestServer_Queues(t *testing.T) {
	f := newFixture(t)

	w := f.do("nurse", http.MethodPost, "/api/v1/queues/admission/entries", map[string]any{"patient_id": "P-1"})
	require.Equal(t, http.StatusCreated, w.Code)
	first := decode(t, w)["entry_id"].(string)

	w = f.do("nurse", http.MethodPost, "/api/v1/queues/admission/entries", map[string]any{"patient_id": "P-2", "priority": 5})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do("nurse", http.MethodPost, "/api/v1/queues/admission/entries", map[string]any{"patient_id": "P-1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "QUEUE_409", errorCode(t, w))

	w = f.do("viewer", http.MethodGet, "/api/v1/queues/entries/"+first, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["position"], "higher priority goes first")

	w = f.do("viewer", http.MethodGet, "/api/v1/queues/admission", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode(t, w)["entries"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, "P-2", entries[0].(map[string]any)["patient_id"])

	w = f.do("nurse", http.MethodDelete, "/api/v1/queues/entries/"+first, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["cancelled"])

	w = f.do("viewer", http.MethodGet, "/api/v1/queues", nil)
	assert.EqualValues(t, 1, decode(t, w)["queues"].(map[string]any)["admission"])
}

func TestServer_MaintenanceCycle(t *testing.T) {
	f := newFixture(t)
	f.occupiedBed("B-101", "P-1")

	w := f.do("nurse", http.MethodPost, "/api/v1/beds/B-101/discharge", map[string]any{"patient_id": "P-1", "turnover_type": "priority"})
	require.Equal(t, http.StatusAccepted, w.Code)
	turnoverID := decode(t, w)["turnover_id"].(string)

	w = f.do("admin", http.MethodPost, "/api/v1/turnovers/"+turnoverID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "cancelled", decode(t, w)["status"])

	w = f.do("viewer", http.MethodGet, "/api/v1/beds?state=maintenance", nil)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = f.do("nurse", http.MethodPost, "/api/v1/beds/B-101/return", map[string]any{"turnover_type": "standard"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	status := decode(t, w)
	assert.Equal(t, "cleaning", status["bed"].(map[string]any)["lifecycle_state"])
	assert.EqualValues(t, 1800, status["turnover"].(map[string]any)["remaining"])
}

func TestServer_ApplyLayoutAndStatus(t *testing.T) {
	f := newFixture(t)

	layout := strings.Join([]string{
		"ward: 3 North",
		"rooms:",
		"  - id: R-301",
		"    beds: [\"301-A\", \"301-B\"]",
	}, "\n")

	w := f.do("admin", http.MethodPost, "/api/v1/system/layout", layout)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 2, decode(t, w)["created"])

	w = f.do("admin", http.MethodPost, "/api/v1/system/layout", "ward: [")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "SYSTEM_400", errorCode(t, w))

	w = f.do("viewer", http.MethodGet, "/api/v1/system/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	census := decode(t, w)["census"].(map[string]any)
	assert.EqualValues(t, 2, census["total_beds"])
	assert.EqualValues(t, 2, census["beds"].(map[string]any)["available"])
}
