// Package gateway is the browser-facing surface of the daemon: a WebSocket
// hub fanning out game events, inbound draw/guess/flush/clear commands
// gated by the player's role, and a small REST API for initial page loads.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/banool/pictionaryd/internal/canvas"
	"github.com/banool/pictionaryd/internal/draw"
	"github.com/banool/pictionaryd/internal/events"
	"github.com/banool/pictionaryd/internal/game"
	"github.com/banool/pictionaryd/internal/watch"
)

// Snapshots supplies the latest confirmed view for connect-time pushes and
// REST reads. *watch.Watcher satisfies it.
type Snapshots interface {
	Latest() (watch.Update, bool)
}

// GuessSubmitter executes guess transactions for the local player.
// *chain.Submitter satisfies it.
type GuessSubmitter interface {
	CanSubmit() bool
	Sender() (game.Address, bool)
	SubmitGuess(ctx context.Context, word string) error
}

// NameResolver decorates rosters with display names. *chain.Names
// satisfies it; nil disables decoration.
type NameResolver interface {
	DisplayAll(ctx context.Context, addresses []game.Address) map[game.Address]string
}

type ServiceConfig struct {
	Creator       game.Address
	WS            ConnectionConfig
	BatcherConfig draw.Config
	GuessTimeout  time.Duration
	// MirrorEnabled is reported on /healthz; the mirror itself lives with
	// the bus.
	MirrorEnabled bool
}

// Service wires the hub to the rest of the daemon: bus events broadcast to
// every tab, commands route through the role gates into the batcher and
// submitter, and round transitions reset the batcher.
type Service struct {
	cfg       ServiceConfig
	manager   *ConnectionManager
	snapshots Snapshots
	bus       *events.Bus
	deltas    draw.Submitter
	guesses   GuessSubmitter
	names     NameResolver
	metrics   *Metrics
	clock     clockwork.Clock
	startedAt time.Time

	mu      sync.Mutex
	batcher *draw.Batcher
}

func NewService(cfg ServiceConfig, snapshots Snapshots, bus *events.Bus, deltas draw.Submitter, guesses GuessSubmitter, names NameResolver, metrics *Metrics, clock clockwork.Clock) *Service {
	if cfg.WS.PingInterval == 0 {
		cfg.WS = DefaultConnectionConfig()
	}
	if cfg.GuessTimeout <= 0 {
		cfg.GuessTimeout = 60 * time.Second
	}
	s := &Service{
		cfg:       cfg,
		snapshots: snapshots,
		bus:       bus,
		deltas:    deltas,
		guesses:   guesses,
		names:     names,
		metrics:   metrics,
		clock:     clock,
		startedAt: clock.Now(),
	}
	s.manager = NewConnectionManager(cfg.WS, s.handleCommand)
	return s
}

// Run consumes the bus until ctx is done: every envelope is broadcast to
// the game's connections, and round transitions steer the batcher.
func (s *Service) Run(ctx context.Context) {
	go s.manager.Start(ctx)

	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			s.dispatch(env)
		}
	}
}

func (s *Service) dispatch(env events.Envelope) {
	switch env.Type {
	case events.EventTypeRoundStarted:
		s.onRoundStarted()
	case events.EventTypeRoundFinished, events.EventTypeGameFinished:
		s.onRoundEnded()
	}

	s.metrics.EventsBroadcast.Add(1)
	s.manager.BroadcastToGame(env.Game, env)
}

// onRoundStarted resets the batcher for the fresh canvas: stale pixels from
// the previous round must never submit into the new one.
func (s *Service) onRoundStarted() {
	s.mu.Lock()
	b := s.batcher
	s.mu.Unlock()
	if b == nil {
		return
	}
	b.Clear()
	b.SetRoundLive(true)
}

// onRoundEnded stops the countdown but keeps pending deltas; the player may
// still flush manually while the next round has not started.
func (s *Service) onRoundEnded() {
	s.mu.Lock()
	b := s.batcher
	s.mu.Unlock()
	if b == nil {
		return
	}
	b.SetRoundLive(false)
}

// batcherFor lazily creates the local player's batcher the first time a
// draw command arrives. The team never changes within a game.
func (s *Service) batcherFor(team game.TeamIndex) *draw.Batcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batcher == nil {
		s.batcher = draw.NewBatcher(team, s.deltas, s.cfg.BatcherConfig, s.clock, s.onFlushResult)
		if u, ok := s.snapshots.Latest(); ok && u.Display.RoundLive {
			s.batcher.SetRoundLive(true)
		}
	}
	return s.batcher
}

func (s *Service) currentBatcher() *draw.Batcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batcher
}

func (s *Service) onFlushResult(res draw.FlushResult) {
	if res.Err != nil {
		s.metrics.FlushesFailed.Add(1)
	} else {
		s.metrics.FlushesSucceeded.Add(1)
	}

	payload := events.FlushResultPayload{
		Team:    res.Team,
		Deltas:  res.Deltas,
		Auto:    res.Auto,
		Success: res.Err == nil,
	}
	if res.Err != nil {
		payload.Error = res.Err.Error()
	}
	s.publish(events.EventTypeFlushResult, payload)
}

// HandleWS upgrades a browser tab and pushes the current snapshot so it
// renders without waiting for the next diff event.
func (s *Service) HandleWS(w http.ResponseWriter, r *http.Request) {
	var player game.Address
	if addr, ok := s.guesses.Sender(); ok {
		player = addr
	}

	conn, err := s.manager.UpgradeConnection(w, r, player, s.cfg.Creator)
	if err != nil {
		return
	}
	s.metrics.ConnectionsOpened.Add(1)
	s.pushSnapshot(conn)
}

func (s *Service) pushSnapshot(conn *Connection) {
	u, ok := s.snapshots.Latest()
	if !ok {
		return
	}
	s.sendEnvelope(conn, events.EventTypeDisplayState, u.Display)
	if u.Round != nil && u.Display.RoundLive {
		// Anchor the tab on the round in progress so it can show the
		// artists and countdown without waiting for the next transition.
		payload := events.RoundStartedPayload{
			Round:    u.Round.Number,
			Duration: int64(u.Round.Duration / time.Second),
			EndsAt:   u.Round.EndsAt(),
		}
		payload.Team0Artist, _ = game.CurrentArtist(u.Game, game.Team0, u.Round.Number)
		payload.Team1Artist, _ = game.CurrentArtist(u.Game, game.Team1, u.Round.Number)
		s.sendEnvelope(conn, events.EventTypeRoundStarted, payload)
	}
	for _, team := range []game.TeamIndex{game.Team0, game.Team1} {
		if bmp := u.Canvas[team]; bmp != nil {
			s.sendEnvelope(conn, events.EventTypeCanvasState, events.CanvasStatePayload{
				Team:   team,
				Deltas: bmp.Deltas(),
			})
		}
	}
}

func (s *Service) handleCommand(conn *Connection, message []byte) {
	s.metrics.CommandsReceived.Add(1)

	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		s.refuse(conn, "", "malformed command frame")
		return
	}

	switch cmd.Type {
	case CommandDraw:
		s.handleDraw(conn, cmd.Data)
	case CommandGuess:
		s.handleGuess(conn, cmd.Data)
	case CommandFlush:
		s.handleFlush(conn)
	case CommandClear:
		s.handleClear()
	default:
		s.refuse(conn, string(cmd.Type), "unknown command")
	}
}

func (s *Service) handleDraw(conn *Connection, data []byte) {
	var cmd DrawCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.refuse(conn, "draw", "malformed draw command")
		return
	}
	if len(cmd.Points) == 0 {
		s.refuse(conn, "draw", "draw command carries no points")
		return
	}

	player, ok := s.guesses.Sender()
	if !ok {
		s.refuse(conn, "draw", "no session: drawing is unavailable in spectator mode")
		return
	}
	u, ok := s.snapshots.Latest()
	if !ok {
		s.refuse(conn, "draw", "no game state yet")
		return
	}
	if !game.CanDraw(u.Game, u.Round, player, s.clock.Now()) {
		s.refuse(conn, "draw", "drawing not allowed: round not live or you are not the artist")
		return
	}

	color := canvas.Color(cmd.Color)
	if !color.Valid() {
		s.refuse(conn, "draw", fmt.Sprintf("unknown color %d", cmd.Color))
		return
	}

	team, _ := u.Game.TeamOf(player)
	b := s.batcherFor(team)
	for _, p := range cmd.Points {
		pos, err := canvas.EncodePoint(p.X, p.Y, u.Game.CanvasWidth, u.Game.CanvasHeight)
		if err != nil {
			s.refuse(conn, "draw", err.Error())
			return
		}
		if err := b.Record(pos, color); err != nil {
			s.refuse(conn, "draw", err.Error())
			return
		}
	}
}

func (s *Service) handleGuess(conn *Connection, data []byte) {
	var cmd GuessCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.refuse(conn, "guess", "malformed guess command")
		return
	}
	word := strings.TrimSpace(cmd.Word)
	if word == "" {
		s.refuse(conn, "guess", "empty guess")
		return
	}

	player, ok := s.guesses.Sender()
	if !ok {
		s.refuse(conn, "guess", "no session: guessing is unavailable in spectator mode")
		return
	}
	u, ok := s.snapshots.Latest()
	if !ok {
		s.refuse(conn, "guess", "no game state yet")
		return
	}
	if !game.CanGuess(u.Game, u.Round, player, s.clock.Now()) {
		s.refuse(conn, "guess", "guessing not allowed: round over, already guessed, or you are the artist")
		return
	}

	s.metrics.GuessesSubmitted.Add(1)
	go s.submitGuess(player, word)
}

// submitGuess runs the transaction off the read pump; the verdict comes
// back to every tab as a guess_result event. The word itself is never
// echoed.
func (s *Service) submitGuess(player game.Address, word string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GuessTimeout)
	defer cancel()

	payload := events.GuessResultPayload{Player: player, Accepted: true}
	if err := s.guesses.SubmitGuess(ctx, word); err != nil {
		log.Warn().Err(err).Str("player", string(player)).Msg("guess transaction failed")
		payload.Accepted = false
		payload.Error = err.Error()
	}
	s.publish(events.EventTypeGuessResult, payload)
}

func (s *Service) handleFlush(conn *Connection) {
	b := s.currentBatcher()
	if b == nil || b.PendingCount() == 0 {
		s.refuse(conn, "flush", "nothing to flush")
		return
	}
	if err := b.Flush(); err != nil {
		s.refuse(conn, "flush", err.Error())
	}
}

func (s *Service) handleClear() {
	if b := s.currentBatcher(); b != nil {
		b.Clear()
	}
}

func (s *Service) refuse(conn *Connection, command, message string) {
	s.metrics.CommandsRejected.Add(1)
	log.Debug().
		Str("connection_id", conn.ID).
		Str("command", command).
		Str("reason", message).
		Msg("command refused")
	s.sendEnvelope(conn, events.EventTypeError, events.ErrorPayload{
		Command: command,
		Message: message,
	})
}

func (s *Service) sendEnvelope(conn *Connection, eventType events.EventType, payload any) {
	env, err := events.New(eventType, s.cfg.Creator, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(eventType)).Msg("failed to build envelope")
		return
	}
	s.manager.SendTo(conn, env)
}

func (s *Service) publish(eventType events.EventType, payload any) {
	env, err := events.New(eventType, s.cfg.Creator, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(eventType)).Msg("failed to build envelope")
		return
	}
	s.bus.Publish(env)
}
