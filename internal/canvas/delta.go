package canvas

import (
	"fmt"
)

// Delta is one drawn pixel: a position index and the palette color written
// there. Deltas are immutable once created; ordered sequences of them keep
// duplicate positions, last-write-wins is the renderer's concern.
type Delta struct {
	Position uint16 `json:"position"`
	Color    Color  `json:"color"`
}

// SplitDeltas flattens an ordered delta sequence into the parallel
// position/color arrays the chain's draw entry function takes. The arrays
// index-correspond, one delta each.
func SplitDeltas(deltas []Delta) ([]uint16, []Color) {
	positions := make([]uint16, len(deltas))
	colors := make([]Color, len(deltas))
	for i, d := range deltas {
		positions[i] = d.Position
		colors[i] = d.Color
	}
	return positions, colors
}

// JoinDeltas rebuilds a delta sequence from the chain's parallel arrays.
func JoinDeltas(positions []uint16, colors []Color) ([]Delta, error) {
	if len(positions) != len(colors) {
		return nil, fmt.Errorf("positions/colors length mismatch: %d vs %d", len(positions), len(colors))
	}
	deltas := make([]Delta, len(positions))
	for i := range positions {
		deltas[i] = Delta{Position: positions[i], Color: colors[i]}
	}
	return deltas, nil
}
