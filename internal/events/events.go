package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banool/pictionaryd/internal/canvas"
	"github.com/banool/pictionaryd/internal/game"
)

// Envelope is the base structure for every event fanned out to browsers
// and mirrored to JetStream.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`        // Event UUID
	Type      EventType       `json:"type"`      // Event type
	Game      game.Address    `json:"game"`      // Game creator address
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType discriminates envelope payloads.
type EventType string

const (
	EventTypeDisplayState  EventType = "display_state"
	EventTypeCanvasState   EventType = "canvas_state"
	EventTypeRoundStarted  EventType = "round_started"
	EventTypeRoundFinished EventType = "round_finished"
	EventTypeGameFinished  EventType = "game_finished"
	EventTypeScoreChanged  EventType = "score_changed"
	EventTypeFlushResult   EventType = "flush_result"
	EventTypeGuessResult   EventType = "guess_result"
	EventTypeError         EventType = "error"
)

// CanvasStatePayload carries one team's full board as deltas.
type CanvasStatePayload struct {
	Team   game.TeamIndex `json:"team"`
	Deltas []canvas.Delta `json:"deltas"`
}

// RoundStartedPayload announces a new round and each team's artist for it.
type RoundStartedPayload struct {
	Round       uint64       `json:"round"`
	Team0Artist game.Address `json:"team0_artist"`
	Team1Artist game.Address `json:"team1_artist"`
	Duration    int64        `json:"duration_s"`
	EndsAt      time.Time    `json:"ends_at"`
}

// RoundFinishedPayload reveals the word once a round is over.
type RoundFinishedPayload struct {
	Round        uint64 `json:"round"`
	Word         string `json:"word"`
	Team0Guessed bool   `json:"team0_guessed"`
	Team1Guessed bool   `json:"team1_guessed"`
}

// GameFinishedPayload announces the final result.
type GameFinishedPayload struct {
	Winner     *game.TeamIndex `json:"winner"`
	Team0Score uint64          `json:"team0_score"`
	Team1Score uint64          `json:"team1_score"`
}

// ScoreChangedPayload carries the display scores, which may include
// locally predicted points the chain has not confirmed yet.
type ScoreChangedPayload struct {
	Team0Score uint64 `json:"team0_score"`
	Team1Score uint64 `json:"team1_score"`
}

// FlushResultPayload reports the outcome of a canvas batch submission.
type FlushResultPayload struct {
	Team    game.TeamIndex `json:"team"`
	Deltas  int            `json:"deltas"`
	Auto    bool           `json:"auto"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
}

// GuessResultPayload reports whether a guess transaction landed.
type GuessResultPayload struct {
	Player   game.Address `json:"player"`
	Accepted bool         `json:"accepted"`
	Error    string       `json:"error,omitempty"`
}

// ErrorPayload is sent to a single connection when its command is refused.
type ErrorPayload struct {
	Command string `json:"command,omitempty"`
	Message string `json:"message"`
}

// New builds an envelope around the given payload, stamping identity and time.
func New(eventType EventType, gameAddr game.Address, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		ID:        uuid.New(),
		Type:      eventType,
		Game:      gameAddr,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// ParsePayload decodes an envelope's data into the payload struct for its type.
// Unknown types return (nil, nil) so consumers can skip them.
func ParsePayload(env Envelope) (any, error) {
	switch env.Type {
	case EventTypeDisplayState:
		var payload game.DisplayState
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeCanvasState:
		var payload CanvasStatePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRoundStarted:
		var payload RoundStartedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRoundFinished:
		var payload RoundFinishedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeGameFinished:
		var payload GameFinishedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeScoreChanged:
		var payload ScoreChangedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeFlushResult:
		var payload FlushResultPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeGuessResult:
		var payload GuessResultPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeError:
		var payload ErrorPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil
	}
}
