package game

import (
	"time"
)

// Address is a hex-encoded on-chain account address ("0x...").
type Address string

// Short returns the truncated display form used when no name resolves.
func (a Address) Short() string {
	if len(a) <= 11 {
		return string(a)
	}
	return string(a[:6]) + "..." + string(a[len(a)-4:])
}

// TeamIndex identifies one of the two teams in a game.
type TeamIndex uint8

const (
	Team0 TeamIndex = 0
	Team1 TeamIndex = 1
)

// Other returns the opposing team index.
func (t TeamIndex) Other() TeamIndex {
	if t == Team0 {
		return Team1
	}
	return Team0
}

// GuessState holds one team's guess outcome for a round.
// GuessTime is set iff Guessed is true.
type GuessState struct {
	Guessed   bool       `json:"guessed"`
	GuessTime *time.Time `json:"guess_time,omitempty"`
}

func (g GuessState) timed() bool {
	return g.Guessed && g.GuessTime != nil
}

// GameSnapshot is the confirmed on-chain game state. It is immutable and
// replaced wholesale on each poll.
type GameSnapshot struct {
	Creator       Address       `json:"creator"`
	Team0Players  []Address     `json:"team0_players"`
	Team1Players  []Address     `json:"team1_players"`
	Team0Name     string        `json:"team0_name"`
	Team1Name     string        `json:"team1_name"`
	Team0Score    uint64        `json:"team0_score"`
	Team1Score    uint64        `json:"team1_score"`
	TargetScore   uint64        `json:"target_score"`
	CurrentRound  uint64        `json:"current_round"`
	Started       bool          `json:"started"`
	Finished      bool          `json:"finished"`
	Winner        *TeamIndex    `json:"winner,omitempty"`
	CanvasWidth   int           `json:"canvas_width"`
	CanvasHeight  int           `json:"canvas_height"`
	RoundDuration time.Duration `json:"round_duration"`
}

// Roster returns the ordered player list for a team. Index order is stable;
// the artist slot rotates through it round by round.
func (g *GameSnapshot) Roster(t TeamIndex) []Address {
	if t == Team0 {
		return g.Team0Players
	}
	return g.Team1Players
}

// TeamName returns the display name for a team.
func (g *GameSnapshot) TeamName(t TeamIndex) string {
	if t == Team0 {
		return g.Team0Name
	}
	return g.Team1Name
}

// Score returns the confirmed cumulative score for a team.
func (g *GameSnapshot) Score(t TeamIndex) uint64 {
	if t == Team0 {
		return g.Team0Score
	}
	return g.Team1Score
}

// TeamOf reports which team a player belongs to.
func (g *GameSnapshot) TeamOf(player Address) (TeamIndex, bool) {
	for _, p := range g.Team0Players {
		if p == player {
			return Team0, true
		}
	}
	for _, p := range g.Team1Players {
		if p == player {
			return Team1, true
		}
	}
	return 0, false
}

// RoundSnapshot is the confirmed state of one round. Nil before the first
// round starts. Word is empty while the round is live and revealed by the
// chain once the round finishes.
type RoundSnapshot struct {
	Number     uint64        `json:"number"`
	Word       string        `json:"word,omitempty"`
	StartTime  time.Time     `json:"start_time"`
	Duration   time.Duration `json:"duration"`
	Team0Guess GuessState    `json:"team0_guess"`
	Team1Guess GuessState    `json:"team1_guess"`
	Finished   bool          `json:"finished"`
}

// Guess returns the guess state for a team.
func (r *RoundSnapshot) Guess(t TeamIndex) GuessState {
	if t == Team0 {
		return r.Team0Guess
	}
	return r.Team1Guess
}

// EndsAt returns the wall-clock deadline of the round.
func (r *RoundSnapshot) EndsAt() time.Time {
	return r.StartTime.Add(r.Duration)
}

// FinishedEffectively reports whether the round should be treated as over
// for display purposes: the deadline passed, both teams guessed, or the
// chain already marked it finished. This can become true locally before the
// chain confirms it.
func (r *RoundSnapshot) FinishedEffectively(now time.Time) bool {
	if r == nil {
		return false
	}
	if r.Finished {
		return true
	}
	if r.Team0Guess.Guessed && r.Team1Guess.Guessed {
		return true
	}
	return now.After(r.EndsAt())
}

// DisplayState is the derived view of a game: confirmed scores adjusted with
// the in-flight round's predicted awards, plus the countdown anchor browsers
// tick down from locally.
type DisplayState struct {
	Team0Score  uint64     `json:"team0_score"`
	Team1Score  uint64     `json:"team1_score"`
	GameOver    bool       `json:"game_over"`
	Winner      *TeamIndex `json:"winner,omitempty"`
	RoundLive   bool       `json:"round_live"`
	RoundEndsAt *time.Time `json:"round_ends_at,omitempty"`
}

// Score returns the displayed score for a team.
func (d DisplayState) Score(t TeamIndex) uint64 {
	if t == Team0 {
		return d.Team0Score
	}
	return d.Team1Score
}

// Equal reports whether two display states would render identically.
func (d DisplayState) Equal(o DisplayState) bool {
	if d.Team0Score != o.Team0Score || d.Team1Score != o.Team1Score ||
		d.GameOver != o.GameOver || d.RoundLive != o.RoundLive {
		return false
	}
	if (d.Winner == nil) != (o.Winner == nil) {
		return false
	}
	if d.Winner != nil && *d.Winner != *o.Winner {
		return false
	}
	if (d.RoundEndsAt == nil) != (o.RoundEndsAt == nil) {
		return false
	}
	return d.RoundEndsAt == nil || d.RoundEndsAt.Equal(*o.RoundEndsAt)
}
