package session

import (
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/quasilyte/gdata"
	"github.com/rs/zerolog/log"
)

// itemName is the app-data item the session blob lives under.
const itemName = "session.bin"

// Store is the persistence surface the manager needs. *gdata.Manager
// satisfies it; LoadItem returns nil data when the item is absent.
type Store interface {
	LoadItem(name string) ([]byte, error)
	SaveItem(name string, data []byte) error
}

// OpenStore opens the platform app-data store for the daemon.
func OpenStore() (*gdata.Manager, error) {
	m, err := gdata.Open(gdata.Config{
		AppName: "pictionaryd",
	})
	if err != nil {
		return nil, fmt.Errorf("open app data store: %w", err)
	}
	return m, nil
}

// Manager owns the hydrate/save/clear lifecycle of the persisted session.
// Hydrate never fails the daemon: a session that cannot be trusted is
// discarded and the daemon runs spectator-only.
type Manager struct {
	store Store
	clock clockwork.Clock

	mu      sync.RWMutex
	current *Session
}

func NewManager(store Store, clock clockwork.Clock) *Manager {
	return &Manager{
		store: store,
		clock: clock,
	}
}

// Hydrate loads the stored session. Missing is not an error; a blob that
// fails to decode, validate, or is already expired is wiped with a warning.
func (m *Manager) Hydrate() (*Session, bool) {
	data, err := m.store.LoadItem(itemName)
	if err != nil {
		log.Warn().Err(err).Msg("could not read stored session, running as spectator")
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	s, err := decodeSession(data)
	if err != nil {
		log.Warn().Err(err).Msg("discarding stored session that failed validation")
		m.wipe()
		return nil, false
	}
	if s.Expired(m.clock.Now()) {
		log.Warn().
			Str("address", string(s.Address)).
			Time("expired_at", s.ExpiresAt).
			Msg("discarding expired session")
		m.wipe()
		return nil, false
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	log.Info().
		Str("network", s.Network).
		Str("address", string(s.Address)).
		Msg("session hydrated")
	return s.clone(), true
}

// Current returns the active session, rechecking expiry so a session
// cannot outlive its lifetime within a long-running daemon.
func (m *Manager) Current() (*Session, bool) {
	m.mu.RLock()
	s := m.current
	m.mu.RUnlock()

	if s == nil {
		return nil, false
	}
	if s.Expired(m.clock.Now()) {
		return nil, false
	}
	return s.clone(), true
}

// Save validates, persists, and activates a session.
func (m *Manager) Save(s *Session) error {
	if err := s.validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}
	if err := m.store.SaveItem(itemName, encodeSession(s)); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	m.mu.Lock()
	m.current = s.clone()
	m.mu.Unlock()
	return nil
}

// Clear wipes the persisted session and drops the active one.
func (m *Manager) Clear() error {
	if err := m.store.SaveItem(itemName, nil); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
	return nil
}

func (m *Manager) wipe() {
	if err := m.store.SaveItem(itemName, nil); err != nil {
		log.Warn().Err(err).Msg("could not wipe rejected session blob")
	}
}
