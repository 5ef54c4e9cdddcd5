package game

import (
	"time"
)

// Derive reconciles the last confirmed game and round snapshots into the
// state to display. Pure: safe to call on every poll tick with no side
// effects, and identical inputs always produce identical output.
//
// Confirmed cumulative scores are the floor. If the game is underway and the
// current round is effectively finished but not yet confirmed, the round's
// points are predicted from the guess timestamps: earlier guess 2 points,
// later guess 1 point, a lone guess 2 points, no guesses nothing. Equal
// timestamps credit team0 as the earlier guesser. A tie at or above the
// target score also resolves to team0.
func Derive(g *GameSnapshot, r *RoundSnapshot, now time.Time) DisplayState {
	if g == nil {
		return DisplayState{}
	}

	d := DisplayState{
		Team0Score: g.Team0Score,
		Team1Score: g.Team1Score,
	}

	if g.Started && !g.Finished && r != nil {
		if r.FinishedEffectively(now) {
			award0, award1 := predictAwards(r)
			d.Team0Score += award0
			d.Team1Score += award1
		} else {
			d.RoundLive = true
			endsAt := r.EndsAt()
			d.RoundEndsAt = &endsAt
		}
	}

	d.GameOver = g.Finished || d.Team0Score >= g.TargetScore || d.Team1Score >= g.TargetScore
	if d.GameOver {
		d.RoundLive = false
		d.RoundEndsAt = nil
		winner := Team1
		if d.Team0Score >= d.Team1Score {
			winner = Team0
		}
		d.Winner = &winner
	}

	return d
}

// predictAwards computes the points an effectively finished round will grant
// once the chain confirms it. A guessed flag without a timestamp violates the
// snapshot invariant; it is treated as not guessed rather than trusted.
func predictAwards(r *RoundSnapshot) (uint64, uint64) {
	guessed0 := r.Team0Guess.timed()
	guessed1 := r.Team1Guess.timed()

	switch {
	case guessed0 && guessed1:
		if r.Team1Guess.GuessTime.Before(*r.Team0Guess.GuessTime) {
			return 1, 2
		}
		// Equal timestamps land here: team0 counts as earlier.
		return 2, 1
	case guessed0:
		return 2, 0
	case guessed1:
		return 0, 2
	default:
		return 0, 0
	}
}
