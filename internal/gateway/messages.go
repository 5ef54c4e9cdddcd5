package gateway

import "encoding/json"

// Command is the inbound frame schema. Outbound frames are event
// envelopes; a refused command earns an "error" envelope on the same
// connection without closing the socket.
type Command struct {
	Type CommandType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandType discriminates command payloads.
type CommandType string

const (
	CommandDraw  CommandType = "draw"
	CommandGuess CommandType = "guess"
	CommandFlush CommandType = "flush"
	CommandClear CommandType = "clear"
)

// Point is a browser-space coordinate inside the canvas element.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// DrawCommand carries a stroke segment: points to paint in one color.
type DrawCommand struct {
	Points []Point `json:"points"`
	Color  uint8   `json:"color"`
}

// GuessCommand carries one word guess.
type GuessCommand struct {
	Word string `json:"word"`
}
