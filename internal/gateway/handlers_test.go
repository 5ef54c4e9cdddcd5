package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banool/pictionaryd/internal/canvas"
	"github.com/banool/pictionaryd/internal/events"
	"github.com/banool/pictionaryd/internal/game"
)

type stubNames struct {
	names map[game.Address]string
}

func (s stubNames) DisplayAll(ctx context.Context, addresses []game.Address) map[game.Address]string {
	out := make(map[game.Address]string, len(addresses))
	for _, addr := range addresses {
		if name, ok := s.names[addr]; ok {
			out[addr] = name
		} else {
			out[addr] = string(addr)
		}
	}
	return out
}

func TestHandlers_GameEndpointServesFullView(t *testing.T) {
	snaps := &stubSnapshots{}
	snaps.set(liveUpdate())
	names := stubNames{names: map[game.Address]string{"0xa0": "alice.apt"}}
	svc := NewService(ServiceConfig{Creator: testCreator}, snaps, events.NewBus(), nil, newStubChainWriter("0xa1"), names, NewMetrics(), clockwork.NewFakeClockAt(testNow))

	rec := httptest.NewRecorder()
	svc.handleGame(rec, httptest.NewRequest(http.MethodGet, "/api/game", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp apiGameResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Game)
	assert.Equal(t, testCreator, resp.Game.Creator)
	require.NotNil(t, resp.Round)
	assert.Equal(t, uint64(4), resp.Round.Number)
	assert.Equal(t, game.Address("0xa1"), resp.Team0Artist)
	assert.Equal(t, game.Address("0xb1"), resp.Team1Artist)
	assert.True(t, resp.Display.RoundLive)
	assert.Equal(t, "alice.apt", resp.Names["0xa0"])
	assert.Equal(t, "0xb0", resp.Names["0xb0"])
	assert.True(t, resp.FetchedAt.Equal(testNow))
}

func TestHandlers_GameEndpointWithoutSnapshot(t *testing.T) {
	svc, _, _ := newTestService(t, newStubChainWriter("0xa1"))

	rec := httptest.NewRecorder()
	svc.handleGame(rec, httptest.NewRequest(http.MethodGet, "/api/game", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlers_GameEndpointRejectsPost(t *testing.T) {
	svc, snaps, _ := newTestService(t, newStubChainWriter("0xa1"))
	snaps.set(liveUpdate())

	rec := httptest.NewRecorder()
	svc.handleGame(rec, httptest.NewRequest(http.MethodPost, "/api/game", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandlers_CanvasCompositesPendingDeltas(t *testing.T) {
	svc, snaps, _ := newTestService(t, newStubChainWriter("0xa1"))
	u := liveUpdate()
	confirmed := canvas.NewBitmap()
	confirmed.Apply([]canvas.Delta{{Position: 100, Color: canvas.ColorRed}})
	u.Canvas[game.Team0] = confirmed
	snaps.set(u)

	b := svc.batcherFor(game.Team0)
	require.NoError(t, b.Record(200, canvas.ColorBlue))

	rec := httptest.NewRecorder()
	svc.handleCanvas(rec, httptest.NewRequest(http.MethodGet, "/api/canvas?team=0", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp apiCanvasResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, game.Team0, resp.Team)
	assert.Equal(t, 500, resp.Width)
	assert.Equal(t, 500, resp.Height)
	assert.Equal(t, 1, resp.Pending)
	require.Len(t, resp.Deltas, 2)
	assert.Equal(t, uint16(100), resp.Deltas[0].Position)
	assert.Equal(t, canvas.ColorRed, resp.Deltas[0].Color)
	assert.Equal(t, uint16(200), resp.Deltas[1].Position)
	assert.Equal(t, canvas.ColorBlue, resp.Deltas[1].Color)
}

func TestHandlers_CanvasOtherTeamExcludesLocalPending(t *testing.T) {
	svc, snaps, _ := newTestService(t, newStubChainWriter("0xa1"))
	snaps.set(liveUpdate())

	b := svc.batcherFor(game.Team0)
	require.NoError(t, b.Record(200, canvas.ColorBlue))

	rec := httptest.NewRecorder()
	svc.handleCanvas(rec, httptest.NewRequest(http.MethodGet, "/api/canvas?team=1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp apiCanvasResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, game.Team1, resp.Team)
	assert.Zero(t, resp.Pending)
	assert.Empty(t, resp.Deltas)
}

func TestHandlers_CanvasDefaultsAndValidatesTeam(t *testing.T) {
	svc, snaps, _ := newTestService(t, newStubChainWriter("0xa1"))
	snaps.set(liveUpdate())

	rec := httptest.NewRecorder()
	svc.handleCanvas(rec, httptest.NewRequest(http.MethodGet, "/api/canvas", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp apiCanvasResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, game.Team0, resp.Team)

	rec = httptest.NewRecorder()
	svc.handleCanvas(rec, httptest.NewRequest(http.MethodGet, "/api/canvas?team=2", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_HealthzLifecycle(t *testing.T) {
	snaps := &stubSnapshots{}
	clk := clockwork.NewFakeClockAt(testNow)
	svc := NewService(ServiceConfig{Creator: testCreator}, snaps, events.NewBus(), nil, newStubChainWriter("0xa1"), nil, NewMetrics(), clk)

	get := func() (int, healthResponse) {
		rec := httptest.NewRecorder()
		svc.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		var resp healthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return rec.Code, resp
	}

	code, resp := get()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, resp.Healthy)
	assert.False(t, resp.HasSnapshot)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "no chain snapshot")

	snaps.set(liveUpdate())
	code, resp = get()
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Healthy)
	assert.True(t, resp.HasSnapshot)
	assert.False(t, resp.Spectator)
	assert.Empty(t, resp.Errors)

	clk.Advance(staleSnapshotThreshold + time.Second)
	code, resp = get()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, resp.Healthy)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "stale")
}

func TestHandlers_HealthzReportsSpectatorMode(t *testing.T) {
	svc, snaps, _ := newTestService(t, newStubChainWriter(""))
	snaps.set(liveUpdate())

	rec := httptest.NewRecorder()
	svc.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Spectator)
}

func TestHandlers_MetricsExposition(t *testing.T) {
	svc, _, _ := newTestService(t, newStubChainWriter("0xa1"))
	conn := newTestConn()
	svc.handleCommand(conn, []byte("{broken"))

	rec := httptest.NewRecorder()
	svc.handleMetrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "pictionaryd_commands_received_total 1")
	assert.Contains(t, body, "pictionaryd_commands_rejected_total 1")
	assert.Contains(t, body, "pictionaryd_connections_active 0")
}

// TestGateway_WebSocketEndToEnd runs the real upgrade path: connect-time
// snapshot push, live broadcast from the bus, and an error frame for a
// refused command, all over an actual socket.
func TestGateway_WebSocketEndToEnd(t *testing.T) {
	writer := newStubChainWriter("")
	snaps := &stubSnapshots{}
	snaps.set(liveUpdate())
	bus := events.NewBus()
	svc := NewService(ServiceConfig{Creator: testCreator}, snaps, bus, writer, writer, nil, NewMetrics(), clockwork.NewFakeClockAt(testNow))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	readEnvelope := func() events.Envelope {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		var env events.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	}

	env := readEnvelope()
	assert.Equal(t, events.EventTypeDisplayState, env.Type)
	env = readEnvelope()
	assert.Equal(t, events.EventTypeRoundStarted, env.Type, "live round pushes an anchor on connect")

	published, err := events.New(events.EventTypeScoreChanged, testCreator, events.ScoreChangedPayload{Team0Score: 4, Team1Score: 2})
	require.NoError(t, err)
	bus.Publish(published)

	env = readEnvelope()
	assert.Equal(t, events.EventTypeScoreChanged, env.Type)
	assert.Equal(t, published.ID, env.ID)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, commandFrame(t, CommandGuess, GuessCommand{Word: "walrus"})))
	env = readEnvelope()
	require.Equal(t, events.EventTypeError, env.Type)
	var refusal events.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &refusal))
	assert.Equal(t, "guess", refusal.Command)
	assert.Contains(t, refusal.Message, "spectator")

	assert.Equal(t, uint64(1), svc.metrics.ConnectionsOpened.Load())
}
