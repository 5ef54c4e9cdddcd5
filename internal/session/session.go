// Package session persists the local player identity across daemon
// restarts: which network and account the daemon acts as, where its
// external signer lives, and the pairing token that signer issued. The
// stored blob is untrusted input; anything that fails to decode or
// validate is discarded and the daemon falls back to spectator mode.
package session

import (
	"errors"
	"time"

	"github.com/banool/pictionaryd/internal/game"
)

// Session is the locally persisted identity. PairingToken is opaque
// material for the external signer; the daemon never holds keys.
type Session struct {
	Network      string
	Address      game.Address
	DisplayName  string
	SignerURL    string
	PairingToken []byte
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the session's lifetime has passed. A zero
// ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

func (s *Session) validate() error {
	if s.Network == "" {
		return errors.New("missing network")
	}
	if s.Address == "" {
		return errors.New("missing address")
	}
	return nil
}

func (s *Session) clone() *Session {
	out := *s
	if s.PairingToken != nil {
		out.PairingToken = append([]byte(nil), s.PairingToken...)
	}
	return &out
}
