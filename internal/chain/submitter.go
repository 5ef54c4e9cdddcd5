package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/banool/pictionaryd/clients/aptos_client"
	"github.com/banool/pictionaryd/internal/canvas"
	"github.com/banool/pictionaryd/internal/game"
)

// ErrNoSigner means the daemon has no session and is spectating; drawing
// and guessing are unavailable.
var ErrNoSigner = errors.New("no signer configured")

// Signer produces a signed BCS transaction for an entry function payload.
// The daemon never holds key material; implementations delegate to the
// external wallet/keyless signing collaborator.
type Signer interface {
	Address() game.Address
	SignTransaction(ctx context.Context, payload []byte) ([]byte, error)
}

// Submitter turns game actions into executed transactions: build the entry
// function payload, have the Signer sign it, submit, and wait for the VM
// verdict. A nil signer puts it in spectator mode.
type Submitter struct {
	client  *aptos_client.AptosClient
	creator game.Address
	signer  Signer
}

func NewSubmitter(client *aptos_client.AptosClient, creator game.Address, signer Signer) *Submitter {
	return &Submitter{
		client:  client,
		creator: creator,
		signer:  signer,
	}
}

// CanSubmit reports whether a signer is configured.
func (s *Submitter) CanSubmit() bool {
	return s.signer != nil
}

// Sender returns the signing player's address.
func (s *Submitter) Sender() (game.Address, bool) {
	if s.signer == nil {
		return "", false
	}
	return s.signer.Address(), true
}

// SubmitDeltas sends one batch of canvas deltas as a draw transaction.
// Blocks until the transaction executes or ctx expires.
func (s *Submitter) SubmitDeltas(ctx context.Context, team game.TeamIndex, positions []uint16, colors []canvas.Color) error {
	if s.signer == nil {
		return ErrNoSigner
	}
	if len(positions) == 0 {
		return errors.New("empty delta batch")
	}

	rawColors := make([]uint8, len(colors))
	for i, c := range colors {
		rawColors[i] = uint8(c)
	}

	payload := s.client.DrawPayload(string(s.creator), uint8(team), positions, rawColors)
	hash, err := s.execute(ctx, payload)
	if err != nil {
		return fmt.Errorf("draw transaction failed: %w", err)
	}

	log.Info().
		Str("hash", hash).
		Uint8("team", uint8(team)).
		Int("deltas", len(positions)).
		Msg("draw transaction executed")
	return nil
}

// SubmitGuess sends a word guess transaction for the signing player's team.
func (s *Submitter) SubmitGuess(ctx context.Context, word string) error {
	if s.signer == nil {
		return ErrNoSigner
	}
	if word == "" {
		return errors.New("empty guess")
	}

	payload := s.client.GuessPayload(string(s.creator), word)
	hash, err := s.execute(ctx, payload)
	if err != nil {
		return fmt.Errorf("guess transaction failed: %w", err)
	}

	log.Info().
		Str("hash", hash).
		Msg("guess transaction executed")
	return nil
}

func (s *Submitter) execute(ctx context.Context, payload aptos_client.EntryFunction) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	signed, err := s.signer.SignTransaction(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}

	pending, err := s.client.SubmitSignedTransaction(ctx, signed)
	if err != nil {
		return "", err
	}

	result, err := s.client.WaitForTransaction(ctx, pending.Hash)
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", fmt.Errorf("transaction %s aborted: %s", result.Hash, result.VMStatus)
	}

	return result.Hash, nil
}
