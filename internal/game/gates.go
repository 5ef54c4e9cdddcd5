package game

import (
	"time"
)

// CurrentArtist returns the player holding a team's artist slot for a round.
// The slot rotates through the roster in order, starting at index 0 for
// round 1. False when the roster is empty or the round number is zero.
func CurrentArtist(g *GameSnapshot, t TeamIndex, roundNumber uint64) (Address, bool) {
	roster := g.Roster(t)
	if len(roster) == 0 || roundNumber == 0 {
		return "", false
	}
	return roster[(roundNumber-1)%uint64(len(roster))], true
}

// CanDraw reports whether a player may record drawing input right now: the
// game is underway, the round is live, and the player holds their team's
// artist slot for it.
func CanDraw(g *GameSnapshot, r *RoundSnapshot, player Address, now time.Time) bool {
	if g == nil || r == nil || !g.Started || g.Finished {
		return false
	}
	if r.FinishedEffectively(now) {
		return false
	}
	team, ok := g.TeamOf(player)
	if !ok {
		return false
	}
	artist, ok := CurrentArtist(g, team, r.Number)
	return ok && artist == player
}

// CanGuess reports whether a player may submit a guess right now: the game
// is underway, the round is live, the player is on a team but not its
// artist, and that team has not already guessed.
func CanGuess(g *GameSnapshot, r *RoundSnapshot, player Address, now time.Time) bool {
	if g == nil || r == nil || !g.Started || g.Finished {
		return false
	}
	if r.FinishedEffectively(now) {
		return false
	}
	team, ok := g.TeamOf(player)
	if !ok {
		return false
	}
	if artist, ok := CurrentArtist(g, team, r.Number); ok && artist == player {
		return false
	}
	return !r.Guess(team).Guessed
}
