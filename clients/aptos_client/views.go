package aptos_client

import (
	"context"
	"fmt"
)

// GetGameState fetches the game created by creator.
func (c *AptosClient) GetGameState(ctx context.Context, creator string) (*GameView, error) {
	var view GameView
	if err := c.viewOne(ctx, fnGameState, []any{creator}, &view); err != nil {
		return nil, fmt.Errorf("failed to get game state: %w", err)
	}
	return &view, nil
}

// GetRoundState fetches the current round of creator's game. Callers check
// game_state first; the view aborts when no round has started.
func (c *AptosClient) GetRoundState(ctx context.Context, creator string) (*RoundView, error) {
	var view RoundView
	if err := c.viewOne(ctx, fnRoundState, []any{creator}, &view); err != nil {
		return nil, fmt.Errorf("failed to get round state: %w", err)
	}
	return &view, nil
}

// GetCanvas fetches one team's confirmed pixels for the current round.
func (c *AptosClient) GetCanvas(ctx context.Context, creator string, team uint8) (*CanvasView, error) {
	var view CanvasView
	if err := c.viewOne(ctx, fnCanvas, []any{creator, team}, &view); err != nil {
		return nil, fmt.Errorf("failed to get canvas: %w", err)
	}
	return &view, nil
}

// DrawPayload builds the entry function payload for a batch of canvas
// deltas. Positions and colors index-correspond, one drawn pixel each.
func (c *AptosClient) DrawPayload(creator string, team uint8, positions []uint16, colors []uint8) EntryFunction {
	ps := make([]any, len(positions))
	for i, p := range positions {
		ps[i] = p
	}
	cs := make([]any, len(colors))
	for i, col := range colors {
		cs[i] = col
	}
	return EntryFunction{
		Type:          entryFunctionPayloadType,
		Function:      c.FunctionID(FnDraw),
		TypeArguments: []string{},
		Arguments:     []any{creator, team, ps, cs},
	}
}

// GuessPayload builds the entry function payload for a word guess.
func (c *AptosClient) GuessPayload(creator, word string) EntryFunction {
	return EntryFunction{
		Type:          entryFunctionPayloadType,
		Function:      c.FunctionID(FnGuess),
		TypeArguments: []string{},
		Arguments:     []any{creator, word},
	}
}
