// Package chain adapts the raw fullnode clients to the daemon's domain
// types: snapshot fetching, transaction submission, and name resolution.
package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/banool/pictionaryd/clients/aptos_client"
	"github.com/banool/pictionaryd/internal/canvas"
	"github.com/banool/pictionaryd/internal/game"
)

// Source fetches confirmed snapshots for one game and maps them to domain
// types. It enforces the monotonic-round contract the watcher relies on: a
// fetch that decodes to an older round than one already seen is dropped.
type Source struct {
	client  *aptos_client.AptosClient
	creator game.Address

	mu        sync.Mutex
	lastRound uint64
}

func NewSource(client *aptos_client.AptosClient, creator game.Address) *Source {
	return &Source{
		client:  client,
		creator: creator,
	}
}

// Creator returns the game creator address this source watches.
func (s *Source) Creator() game.Address {
	return s.creator
}

// FetchSnapshot fetches the game and, once started, its current round.
// The round is nil before the first round starts.
func (s *Source) FetchSnapshot(ctx context.Context) (*game.GameSnapshot, *game.RoundSnapshot, error) {
	gameView, err := s.client.GetGameState(ctx, string(s.creator))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch game: %w", err)
	}

	g := mapGame(s.creator, gameView)

	s.mu.Lock()
	if g.CurrentRound < s.lastRound {
		last := s.lastRound
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("stale snapshot: round %d after round %d", g.CurrentRound, last)
	}
	s.lastRound = g.CurrentRound
	s.mu.Unlock()

	if !g.Started || g.CurrentRound == 0 {
		return g, nil, nil
	}

	roundView, err := s.client.GetRoundState(ctx, string(s.creator))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch round: %w", err)
	}

	return g, mapRound(roundView), nil
}

// FetchCanvas fetches one team's confirmed canvas for the current round.
func (s *Source) FetchCanvas(ctx context.Context, team game.TeamIndex) (*canvas.Bitmap, error) {
	view, err := s.client.GetCanvas(ctx, string(s.creator), uint8(team))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch canvas: %w", err)
	}

	colors := make([]canvas.Color, len(view.Colors))
	for i, c := range view.Colors {
		colors[i] = canvas.Color(c)
		if !colors[i].Valid() {
			log.Warn().
				Uint8("color", c).
				Uint8("team", uint8(team)).
				Msg("chain canvas carries unknown palette index")
		}
	}

	deltas, err := canvas.JoinDeltas(view.Positions, colors)
	if err != nil {
		return nil, fmt.Errorf("malformed canvas view: %w", err)
	}

	return canvas.BitmapFromDeltas(deltas), nil
}

func mapGame(creator game.Address, v *aptos_client.GameView) *game.GameSnapshot {
	g := &game.GameSnapshot{
		Creator:       creator,
		Team0Players:  mapAddresses(v.Team0Players),
		Team1Players:  mapAddresses(v.Team1Players),
		Team0Name:     v.Team0Name,
		Team1Name:     v.Team1Name,
		Team0Score:    uint64(v.Team0Score),
		Team1Score:    uint64(v.Team1Score),
		TargetScore:   uint64(v.TargetScore),
		CurrentRound:  uint64(v.CurrentRound),
		Started:       v.Started,
		Finished:      v.Finished,
		CanvasWidth:   int(v.CanvasWidth),
		CanvasHeight:  int(v.CanvasHeight),
		RoundDuration: time.Duration(v.RoundDurationS) * time.Second,
	}
	if w, ok := v.Winner.Value(); ok && w <= uint8(game.Team1) {
		winner := game.TeamIndex(w)
		g.Winner = &winner
	}
	return g
}

func mapRound(v *aptos_client.RoundView) *game.RoundSnapshot {
	r := &game.RoundSnapshot{
		Number:    uint64(v.RoundNumber),
		Word:      v.Word,
		StartTime: time.Unix(int64(v.StartTimeS), 0).UTC(),
		Duration:  time.Duration(v.DurationS) * time.Second,
		Team0Guess: game.GuessState{
			Guessed:   v.Team0Guessed,
			GuessTime: mapGuessTime(v.Team0GuessTimeS),
		},
		Team1Guess: game.GuessState{
			Guessed:   v.Team1Guessed,
			GuessTime: mapGuessTime(v.Team1GuessTimeS),
		},
		Finished: v.Finished,
	}
	return r
}

func mapGuessTime(o aptos_client.OptionU64) *time.Time {
	epoch, ok := o.Value()
	if !ok {
		return nil
	}
	t := time.Unix(int64(epoch), 0).UTC()
	return &t
}

func mapAddresses(in []string) []game.Address {
	out := make([]game.Address, len(in))
	for i, a := range in {
		out[i] = game.Address(a)
	}
	return out
}
