package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banool/pictionaryd/internal/canvas"
	"github.com/banool/pictionaryd/internal/draw"
	"github.com/banool/pictionaryd/internal/events"
	"github.com/banool/pictionaryd/internal/game"
	"github.com/banool/pictionaryd/internal/watch"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const testCreator = game.Address("0xcafe")

type stubSnapshots struct {
	mu sync.Mutex
	u  watch.Update
	ok bool
}

func (s *stubSnapshots) Latest() (watch.Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.u, s.ok
}

func (s *stubSnapshots) set(u watch.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.u = u
	s.ok = true
}

// stubChainWriter doubles as the delta submitter and the guess submitter,
// the way one chain.Submitter serves both in production.
type stubChainWriter struct {
	mu        sync.Mutex
	sender    game.Address
	hasSender bool
	guessErr  error
	deltaErr  error
	words     []string
	batches   [][]uint16
	submitted chan struct{}
}

func newStubChainWriter(sender game.Address) *stubChainWriter {
	return &stubChainWriter{
		sender:    sender,
		hasSender: sender != "",
		submitted: make(chan struct{}, 16),
	}
}

func (s *stubChainWriter) CanSubmit() bool {
	return s.hasSender
}

func (s *stubChainWriter) Sender() (game.Address, bool) {
	return s.sender, s.hasSender
}

func (s *stubChainWriter) SubmitGuess(ctx context.Context, word string) error {
	s.mu.Lock()
	s.words = append(s.words, word)
	err := s.guessErr
	s.mu.Unlock()
	s.submitted <- struct{}{}
	return err
}

func (s *stubChainWriter) SubmitDeltas(ctx context.Context, team game.TeamIndex, positions []uint16, colors []canvas.Color) error {
	s.mu.Lock()
	s.batches = append(s.batches, positions)
	err := s.deltaErr
	s.mu.Unlock()
	s.submitted <- struct{}{}
	return err
}

func (s *stubChainWriter) submittedWords() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.words...)
}

func (s *stubChainWriter) submittedBatches() [][]uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]uint16(nil), s.batches...)
}

func serviceTestGame() *game.GameSnapshot {
	return &game.GameSnapshot{
		Creator:       testCreator,
		Team0Players:  []game.Address{"0xa0", "0xa1"},
		Team1Players:  []game.Address{"0xb0", "0xb1"},
		Team0Name:     "Walruses",
		Team1Name:     "Penguins",
		Team0Score:    3,
		Team1Score:    2,
		TargetScore:   11,
		CurrentRound:  4,
		Started:       true,
		CanvasWidth:   500,
		CanvasHeight:  500,
		RoundDuration: 90 * time.Second,
	}
}

// liveUpdate is round 4 in progress: artists are the second roster slot on
// each team, 0xa1 and 0xb1.
func liveUpdate() watch.Update {
	g := serviceTestGame()
	r := &game.RoundSnapshot{
		Number:    4,
		StartTime: testNow.Add(-30 * time.Second),
		Duration:  90 * time.Second,
	}
	return watch.Update{
		Game:      g,
		Round:     r,
		Display:   game.Derive(g, r, testNow),
		Canvas:    map[game.TeamIndex]*canvas.Bitmap{},
		FetchedAt: testNow,
	}
}

func newTestService(t *testing.T, writer *stubChainWriter) (*Service, *stubSnapshots, *events.Bus) {
	t.Helper()
	snaps := &stubSnapshots{}
	bus := events.NewBus()
	clk := clockwork.NewFakeClockAt(testNow)
	svc := NewService(ServiceConfig{Creator: testCreator}, snaps, bus, writer, writer, nil, NewMetrics(), clk)
	return svc, snaps, bus
}

func newTestConn() *Connection {
	return &Connection{
		ID:   "test-conn",
		Game: testCreator,
		Send: make(chan []byte, 8),
	}
}

func recvFrame(t *testing.T, conn *Connection) events.Envelope {
	t.Helper()
	select {
	case data := <-conn.Send:
		var env events.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame on connection")
	}
	return events.Envelope{}
}

func recvBusEvent(t *testing.T, ch <-chan events.Envelope) events.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus event")
	}
	return events.Envelope{}
}

func errorFrame(t *testing.T, conn *Connection) events.ErrorPayload {
	t.Helper()
	env := recvFrame(t, conn)
	require.Equal(t, events.EventTypeError, env.Type)
	var payload events.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	return payload
}

func commandFrame(t *testing.T, cmdType CommandType, payload any) []byte {
	t.Helper()
	cmd := Command{Type: cmdType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		cmd.Data = raw
	}
	frame, err := json.Marshal(cmd)
	require.NoError(t, err)
	return frame
}

func TestService_MalformedFrameGetsErrorFrame(t *testing.T) {
	svc, _, _ := newTestService(t, newStubChainWriter("0xa1"))
	conn := newTestConn()

	svc.handleCommand(conn, []byte("{not json"))

	payload := errorFrame(t, conn)
	assert.Contains(t, payload.Message, "malformed")
	assert.Equal(t, uint64(1), svc.metrics.CommandsRejected.Load())
}

func TestService_UnknownCommandRefused(t *testing.T) {
	svc, _, _ := newTestService(t, newStubChainWriter("0xa1"))
	conn := newTestConn()

	svc.handleCommand(conn, commandFrame(t, CommandType("dance"), nil))

	payload := errorFrame(t, conn)
	assert.Equal(t, "dance", payload.Command)
	assert.Contains(t, payload.Message, "unknown command")
}

func TestService_SpectatorDrawRefused(t *testing.T) {
	svc, snaps, _ := newTestService(t, newStubChainWriter(""))
	snaps.set(liveUpdate())
	conn := newTestConn()

	svc.handleCommand(conn, commandFrame(t, CommandDraw, DrawCommand{
		Points: []Point{{X: 10, Y: 10}},
		Color:  uint8(canvas.ColorBlack),
	}))

	payload := errorFrame(t, conn)
	assert.Equal(t, "draw", payload.Command)
	assert.Contains(t, payload.Message, "spectator")
	assert.Nil(t, svc.currentBatcher())
}

func TestService_ArtistDrawRecordsDeltas(t *testing.T) {
	svc, snaps, _ := newTestService(t, newStubChainWriter("0xa1"))
	snaps.set(liveUpdate())
	conn := newTestConn()

	svc.handleCommand(conn, commandFrame(t, CommandDraw, DrawCommand{
		Points: []Point{{X: 250, Y: 250}, {X: 0, Y: 0}},
		Color:  uint8(canvas.ColorBlue),
	}))

	assert.Empty(t, conn.Send, "valid draw must not produce an error frame")
	b := svc.currentBatcher()
	require.NotNil(t, b)
	assert.Equal(t, game.Team0, b.Team())
	assert.Equal(t, 2, b.PendingCount())

	deltas := b.UnconfirmedDeltas()
	require.Len(t, deltas, 2)
	assert.Equal(t, uint16(32639), deltas[0].Position)
	assert.Equal(t, canvas.ColorBlue, deltas[0].Color)
	assert.Equal(t, uint16(0), deltas[1].Position)
}

func TestService_NonArtistDrawRefused(t *testing.T) {
	svc, snaps, _ := newTestService(t, newStubChainWriter("0xa0"))
	snaps.set(liveUpdate())
	conn := newTestConn()

	svc.handleCommand(conn, commandFrame(t, CommandDraw, DrawCommand{
		Points: []Point{{X: 10, Y: 10}},
		Color:  uint8(canvas.ColorBlack),
	}))

	payload := errorFrame(t, conn)
	assert.Equal(t, "draw", payload.Command)
	assert.Contains(t, payload.Message, "artist")
}

func TestService_DrawOutOfBoundsPointRefused(t *testing.T) {
	svc, snaps, _ := newTestService(t, newStubChainWriter("0xa1"))
	snaps.set(liveUpdate())
	conn := newTestConn()

	svc.handleCommand(conn, commandFrame(t, CommandDraw, DrawCommand{
		Points: []Point{{X: 500, Y: 500}},
		Color:  uint8(canvas.ColorBlack),
	}))

	payload := errorFrame(t, conn)
	assert.Equal(t, "draw", payload.Command)
	b := svc.currentBatcher()
	require.NotNil(t, b)
	assert.Zero(t, b.PendingCount())
}

func TestService_DrawInvalidColorRefused(t *testing.T) {
	svc, snaps, _ := newTestService(t, newStubChainWriter("0xa1"))
	snaps.set(liveUpdate())
	conn := newTestConn()

	svc.handleCommand(conn, commandFrame(t, CommandDraw, DrawCommand{
		Points: []Point{{X: 10, Y: 10}},
		Color:  99,
	}))

	payload := errorFrame(t, conn)
	assert.Contains(t, payload.Message, "color")
	assert.Nil(t, svc.currentBatcher())
}

func TestService_GuessSubmitsAndBroadcastsResult(t *testing.T) {
	writer := newStubChainWriter("0xa0")
	svc, snaps, bus := newTestService(t, writer)
	snaps.set(liveUpdate())
	busCh := bus.Subscribe()
	t.Cleanup(func() { bus.Unsubscribe(busCh) })
	conn := newTestConn()

	svc.handleCommand(conn, commandFrame(t, CommandGuess, GuessCommand{Word: "  walrus  "}))

	select {
	case <-writer.submitted:
	case <-time.After(2 * time.Second):
		t.Fatal("guess never reached the submitter")
	}
	require.Equal(t, []string{"walrus"}, writer.submittedWords())

	env := recvBusEvent(t, busCh)
	require.Equal(t, events.EventTypeGuessResult, env.Type)
	var payload events.GuessResultPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, game.Address("0xa0"), payload.Player)
	assert.True(t, payload.Accepted)
	assert.Empty(t, payload.Error)
	assert.Equal(t, uint64(1), svc.metrics.GuessesSubmitted.Load())
}

func TestService_GuessFailureReportsError(t *testing.T) {
	writer := newStubChainWriter("0xa0")
	writer.guessErr = errors.New("transaction simulation failed")
	svc, snaps, bus := newTestService(t, writer)
	snaps.set(liveUpdate())
	busCh := bus.Subscribe()
	t.Cleanup(func() { bus.Unsubscribe(busCh) })
	conn := newTestConn()

	svc.handleCommand(conn, commandFrame(t, CommandGuess, GuessCommand{Word: "penguin"}))

	env := recvBusEvent(t, busCh)
	require.Equal(t, events.EventTypeGuessResult, env.Type)
	var payload events.GuessResultPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.False(t, payload.Accepted)
	assert.Contains(t, payload.Error, "simulation failed")
}

func TestService_ArtistGuessRefused(t *testing.T) {
	svc, snaps, _ := newTestService(t, newStubChainWriter("0xa1"))
	snaps.set(liveUpdate())
	conn := newTestConn()

	svc.handleCommand(conn, commandFrame(t, CommandGuess, GuessCommand{Word: "walrus"}))

	payload := errorFrame(t, conn)
	assert.Equal(t, "guess", payload.Command)
}

func TestService_EmptyGuessRefused(t *testing.T) {
	svc, snaps, _ := newTestService(t, newStubChainWriter("0xa0"))
	snaps.set(liveUpdate())
	conn := newTestConn()

	svc.handleCommand(conn, commandFrame(t, CommandGuess, GuessCommand{Word: "   "}))

	payload := errorFrame(t, conn)
	assert.Contains(t, payload.Message, "empty")
}

func TestService_RoundTransitionsSteerBatcher(t *testing.T) {
	svc, snaps, _ := newTestService(t, newStubChainWriter("0xa1"))
	snaps.set(liveUpdate())
	conn := newTestConn()

	drawFrame := commandFrame(t, CommandDraw, DrawCommand{
		Points: []Point{{X: 10, Y: 10}},
		Color:  uint8(canvas.ColorRed),
	})
	svc.handleCommand(conn, drawFrame)
	b := svc.currentBatcher()
	require.NotNil(t, b)
	require.Equal(t, 1, b.PendingCount())

	finished, err := events.New(events.EventTypeRoundFinished, testCreator, events.RoundFinishedPayload{Round: 4, Word: "walrus"})
	require.NoError(t, err)
	svc.dispatch(finished)

	// Pending deltas survive the round ending, but new input is gated out.
	assert.Equal(t, 1, b.PendingCount())
	assert.ErrorIs(t, b.Record(7, canvas.ColorRed), draw.ErrRoundNotLive)

	started, err := events.New(events.EventTypeRoundStarted, testCreator, events.RoundStartedPayload{Round: 5})
	require.NoError(t, err)
	svc.dispatch(started)

	// A new round wipes the stale pixels and reopens drawing.
	assert.Zero(t, b.PendingCount())
	svc.handleCommand(conn, drawFrame)
	assert.Empty(t, conn.Send)
	assert.Equal(t, 1, b.PendingCount())
}

func TestService_FlushWithNothingPendingRefused(t *testing.T) {
	svc, snaps, _ := newTestService(t, newStubChainWriter("0xa1"))
	snaps.set(liveUpdate())
	conn := newTestConn()

	svc.handleCommand(conn, commandFrame(t, CommandFlush, nil))

	payload := errorFrame(t, conn)
	assert.Equal(t, "flush", payload.Command)
	assert.Contains(t, payload.Message, "nothing to flush")
}

func TestService_ManualFlushSubmitsBatch(t *testing.T) {
	writer := newStubChainWriter("0xa1")
	svc, snaps, bus := newTestService(t, writer)
	snaps.set(liveUpdate())
	busCh := bus.Subscribe()
	t.Cleanup(func() { bus.Unsubscribe(busCh) })
	conn := newTestConn()

	svc.handleCommand(conn, commandFrame(t, CommandDraw, DrawCommand{
		Points: []Point{{X: 250, Y: 250}, {X: 0, Y: 0}},
		Color:  uint8(canvas.ColorGreen),
	}))
	svc.handleCommand(conn, commandFrame(t, CommandFlush, nil))

	select {
	case <-writer.submitted:
	case <-time.After(2 * time.Second):
		t.Fatal("flush never reached the submitter")
	}
	batches := writer.submittedBatches()
	require.Len(t, batches, 1)
	assert.Equal(t, []uint16{32639, 0}, batches[0])

	env := recvBusEvent(t, busCh)
	require.Equal(t, events.EventTypeFlushResult, env.Type)
	var payload events.FlushResultPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, game.Team0, payload.Team)
	assert.Equal(t, 2, payload.Deltas)
	assert.False(t, payload.Auto)
	assert.True(t, payload.Success)
	assert.Equal(t, uint64(1), svc.metrics.FlushesSucceeded.Load())
	assert.Empty(t, conn.Send, "successful flush reports via the bus, not an error frame")
}

func TestService_FailedFlushReportsAndRetains(t *testing.T) {
	writer := newStubChainWriter("0xa1")
	writer.deltaErr = errors.New("sequence number too old")
	svc, snaps, bus := newTestService(t, writer)
	snaps.set(liveUpdate())
	busCh := bus.Subscribe()
	t.Cleanup(func() { bus.Unsubscribe(busCh) })
	conn := newTestConn()

	svc.handleCommand(conn, commandFrame(t, CommandDraw, DrawCommand{
		Points: []Point{{X: 1, Y: 1}},
		Color:  uint8(canvas.ColorRed),
	}))
	svc.handleCommand(conn, commandFrame(t, CommandFlush, nil))

	env := recvBusEvent(t, busCh)
	require.Equal(t, events.EventTypeFlushResult, env.Type)
	var payload events.FlushResultPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.False(t, payload.Success)
	assert.Contains(t, payload.Error, "sequence number")
	assert.Equal(t, uint64(1), svc.metrics.FlushesFailed.Load())

	// The failed batch went back to pending for the retry.
	assert.Equal(t, 1, svc.currentBatcher().PendingCount())
}

func TestService_ClearDropsPendingSilently(t *testing.T) {
	svc, snaps, _ := newTestService(t, newStubChainWriter("0xa1"))
	snaps.set(liveUpdate())
	conn := newTestConn()

	svc.handleCommand(conn, commandFrame(t, CommandDraw, DrawCommand{
		Points: []Point{{X: 1, Y: 1}},
		Color:  uint8(canvas.ColorRed),
	}))
	require.Equal(t, 1, svc.currentBatcher().PendingCount())

	svc.handleCommand(conn, commandFrame(t, CommandClear, nil))

	assert.Zero(t, svc.currentBatcher().PendingCount())
	assert.Empty(t, conn.Send)
}

func TestService_PushSnapshotSendsDisplayAndCanvases(t *testing.T) {
	svc, snaps, _ := newTestService(t, newStubChainWriter("0xa1"))
	u := liveUpdate()
	bmp := canvas.NewBitmap()
	bmp.Apply([]canvas.Delta{
		{Position: 200, Color: canvas.ColorRed},
		{Position: 100, Color: canvas.ColorBlue},
	})
	u.Canvas[game.Team0] = bmp
	snaps.set(u)
	conn := newTestConn()

	svc.pushSnapshot(conn)

	display := recvFrame(t, conn)
	require.Equal(t, events.EventTypeDisplayState, display.Type)
	var ds game.DisplayState
	require.NoError(t, json.Unmarshal(display.Data, &ds))
	assert.True(t, ds.RoundLive)
	assert.Equal(t, uint64(3), ds.Team0Score)

	anchor := recvFrame(t, conn)
	require.Equal(t, events.EventTypeRoundStarted, anchor.Type)
	var rs events.RoundStartedPayload
	require.NoError(t, json.Unmarshal(anchor.Data, &rs))
	assert.Equal(t, uint64(4), rs.Round)
	assert.Equal(t, game.Address("0xa1"), rs.Team0Artist)
	assert.Equal(t, game.Address("0xb1"), rs.Team1Artist)
	assert.Equal(t, int64(90), rs.Duration)

	canvasEnv := recvFrame(t, conn)
	require.Equal(t, events.EventTypeCanvasState, canvasEnv.Type)
	var cs events.CanvasStatePayload
	require.NoError(t, json.Unmarshal(canvasEnv.Data, &cs))
	assert.Equal(t, game.Team0, cs.Team)
	require.Len(t, cs.Deltas, 2)
	assert.Equal(t, uint16(100), cs.Deltas[0].Position)
	assert.Equal(t, uint16(200), cs.Deltas[1].Position)
}

func TestService_RunFansOutBusEvents(t *testing.T) {
	svc, _, bus := newTestService(t, newStubChainWriter("0xa1"))
	conn := newTestConn()
	svc.manager.registerConnection(conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	env, err := events.New(events.EventTypeScoreChanged, testCreator, events.ScoreChangedPayload{Team0Score: 4, Team1Score: 2})
	require.NoError(t, err)
	bus.Publish(env)

	got := recvFrame(t, conn)
	assert.Equal(t, events.EventTypeScoreChanged, got.Type)
	assert.Equal(t, env.ID, got.ID)
}
