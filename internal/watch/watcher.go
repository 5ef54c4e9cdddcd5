// Package watch owns the confirmed chain snapshots: it polls the fullnode
// on timers, recomputes the derived display state on every tick, and
// publishes diff events to the bus. Everything downstream (gateway, mirror)
// reacts to these events instead of polling on its own.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/banool/pictionaryd/internal/canvas"
	"github.com/banool/pictionaryd/internal/events"
	"github.com/banool/pictionaryd/internal/game"
)

// Source supplies confirmed chain state for one game.
type Source interface {
	FetchSnapshot(ctx context.Context) (*game.GameSnapshot, *game.RoundSnapshot, error)
	FetchCanvas(ctx context.Context, team game.TeamIndex) (*canvas.Bitmap, error)
}

type Config struct {
	GamePollInterval   time.Duration
	CanvasPollInterval time.Duration
	FetchTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		GamePollInterval:   3 * time.Second,
		CanvasPollInterval: 2 * time.Second,
		FetchTimeout:       10 * time.Second,
	}
}

// Update is the latest consistent view of the watched game. Game and Round
// are confirmed snapshots; Display is derived and may be ahead of the chain.
type Update struct {
	Game      *game.GameSnapshot
	Round     *game.RoundSnapshot
	Display   game.DisplayState
	Canvas    map[game.TeamIndex]*canvas.Bitmap
	FetchedAt time.Time
}

// Watcher polls one game and fans out changes. Fetch failures keep the
// last-known snapshot and retry on the next tick; the watcher never clears
// state on a transient chain error.
type Watcher struct {
	cfg    Config
	source Source
	bus    *events.Bus
	clock  clockwork.Clock

	mu        sync.RWMutex
	latest    Update
	hasUpdate bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewWatcher(source Source, bus *events.Bus, cfg Config, clock clockwork.Clock) *Watcher {
	if cfg.GamePollInterval <= 0 {
		cfg.GamePollInterval = DefaultConfig().GamePollInterval
	}
	if cfg.CanvasPollInterval <= 0 {
		cfg.CanvasPollInterval = DefaultConfig().CanvasPollInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultConfig().FetchTimeout
	}
	return &Watcher{
		cfg:    cfg,
		source: source,
		bus:    bus,
		clock:  clock,
		stopCh: make(chan struct{}),
	}
}

// Start launches the poll loops. The first game poll runs immediately so
// Latest fills without waiting a full interval.
func (w *Watcher) Start() {
	w.wg.Add(2)
	go w.gameLoop()
	go w.canvasLoop()
}

// Stop halts the poll loops and waits for them to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.wg.Wait()
}

// Latest returns the most recent update, false before the first successful
// poll. The canvas map is copied so callers can hold it across ticks.
func (w *Watcher) Latest() (Update, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	u := w.latest
	if w.latest.Canvas != nil {
		u.Canvas = make(map[game.TeamIndex]*canvas.Bitmap, len(w.latest.Canvas))
		for team, bmp := range w.latest.Canvas {
			u.Canvas[team] = bmp
		}
	}
	return u, w.hasUpdate
}

func (w *Watcher) gameLoop() {
	defer w.wg.Done()
	w.pollGame()

	ticker := w.clock.NewTicker(w.cfg.GamePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.Chan():
			w.pollGame()
		}
	}
}

func (w *Watcher) canvasLoop() {
	defer w.wg.Done()
	ticker := w.clock.NewTicker(w.cfg.CanvasPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.Chan():
			w.pollCanvas()
		}
	}
}

func (w *Watcher) pollGame() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.FetchTimeout)
	defer cancel()

	g, r, err := w.source.FetchSnapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("game poll failed, keeping last snapshot")
		return
	}

	now := w.clock.Now()
	display := game.Derive(g, r, now)

	w.mu.Lock()
	prev := w.latest
	had := w.hasUpdate
	w.latest.Game = g
	w.latest.Round = r
	w.latest.Display = display
	w.latest.FetchedAt = now
	w.hasUpdate = true
	w.mu.Unlock()

	w.publishGameDiffs(prev, had, g, r, display, now)
}

// publishGameDiffs compares the new snapshot against the previous one and
// emits edge events. Order matters for consumers: the old round finishes
// before the new one starts, and the display summary always comes last.
func (w *Watcher) publishGameDiffs(prev Update, had bool, g *game.GameSnapshot, r *game.RoundSnapshot, display game.DisplayState, now time.Time) {
	if g == nil {
		return
	}
	creator := g.Creator

	if had && prev.Round != nil {
		prevDone := prev.Round.FinishedEffectively(prev.FetchedAt)
		if r != nil && r.Number == prev.Round.Number {
			if !prevDone && r.FinishedEffectively(now) {
				w.publishRoundFinished(creator, r)
			}
		} else if !prevDone {
			// The round we were tracking was replaced or removed; close it
			// out with whatever state we last saw.
			w.publishRoundFinished(creator, prev.Round)
		}
	}

	if r != nil {
		started := false
		if !had || prev.Round == nil {
			// First sight of a round, including after a daemon restart.
			// Announce it only while it is still in progress.
			started = !r.FinishedEffectively(now)
		} else if r.Number > prev.Round.Number {
			started = true
		}
		if started {
			team0Artist, _ := game.CurrentArtist(g, game.Team0, r.Number)
			team1Artist, _ := game.CurrentArtist(g, game.Team1, r.Number)
			w.publish(events.EventTypeRoundStarted, creator, events.RoundStartedPayload{
				Round:       r.Number,
				Team0Artist: team0Artist,
				Team1Artist: team1Artist,
				Duration:    int64(r.Duration / time.Second),
				EndsAt:      r.EndsAt(),
			})
		}
	}

	if had && (prev.Display.Team0Score != display.Team0Score || prev.Display.Team1Score != display.Team1Score) {
		w.publish(events.EventTypeScoreChanged, creator, events.ScoreChangedPayload{
			Team0Score: display.Team0Score,
			Team1Score: display.Team1Score,
		})
	}

	if display.GameOver && (!had || !prev.Display.GameOver) {
		w.publish(events.EventTypeGameFinished, creator, events.GameFinishedPayload{
			Winner:     display.Winner,
			Team0Score: display.Team0Score,
			Team1Score: display.Team1Score,
		})
	}

	if !had || !prev.Display.Equal(display) {
		w.publish(events.EventTypeDisplayState, creator, display)
	}
}

func (w *Watcher) publishRoundFinished(creator game.Address, r *game.RoundSnapshot) {
	w.publish(events.EventTypeRoundFinished, creator, events.RoundFinishedPayload{
		Round:        r.Number,
		Word:         r.Word,
		Team0Guessed: r.Team0Guess.Guessed,
		Team1Guessed: r.Team1Guess.Guessed,
	})
}

func (w *Watcher) pollCanvas() {
	w.mu.RLock()
	g := w.latest.Game
	r := w.latest.Round
	w.mu.RUnlock()

	// Canvases only change while a round is live.
	if g == nil || r == nil || r.FinishedEffectively(w.clock.Now()) {
		return
	}

	for _, team := range []game.TeamIndex{game.Team0, game.Team1} {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.FetchTimeout)
		bmp, err := w.source.FetchCanvas(ctx, team)
		cancel()
		if err != nil {
			log.Warn().Err(err).Uint8("team", uint8(team)).Msg("canvas poll failed, keeping last canvas")
			continue
		}

		w.mu.Lock()
		prevBmp := w.latest.Canvas[team]
		changed := (prevBmp == nil && bmp.Len() > 0) || (prevBmp != nil && !prevBmp.Equal(bmp))
		if changed {
			if w.latest.Canvas == nil {
				w.latest.Canvas = make(map[game.TeamIndex]*canvas.Bitmap, 2)
			}
			w.latest.Canvas[team] = bmp
		}
		w.mu.Unlock()

		if changed {
			w.publish(events.EventTypeCanvasState, g.Creator, events.CanvasStatePayload{
				Team:   team,
				Deltas: bmp.Deltas(),
			})
		}
	}
}

func (w *Watcher) publish(eventType events.EventType, creator game.Address, payload any) {
	env, err := events.New(eventType, creator, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(eventType)).Msg("failed to build event envelope")
		return
	}
	w.bus.Publish(env)
}
