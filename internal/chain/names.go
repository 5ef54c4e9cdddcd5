package chain

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/banool/pictionaryd/internal/game"
)

// nameLookup is the slice of the ANS client the resolver needs.
type nameLookup interface {
	GetPrimaryName(ctx context.Context, address string) (string, error)
}

type nameRecord struct {
	name      string
	expiresAt time.Time
}

// Names resolves addresses to display names with a TTL cache. Lookups that
// fail fall back to the short address form and are not cached; addresses
// with no name are cached as empty so the service is not hammered.
type Names struct {
	lookup nameLookup
	clock  clockwork.Clock
	ttl    time.Duration

	mu      sync.RWMutex
	records map[game.Address]nameRecord
	stopCh  chan struct{}
}

func NewNames(lookup nameLookup, clock clockwork.Clock, ttl time.Duration) *Names {
	n := &Names{
		lookup:  lookup,
		clock:   clock,
		ttl:     ttl,
		records: make(map[game.Address]nameRecord),
		stopCh:  make(chan struct{}),
	}
	go n.cleanupLoop()
	return n
}

func (n *Names) Stop() {
	close(n.stopCh)
}

// Display returns the best display form for an address: its primary name
// when one resolves, the short address otherwise.
func (n *Names) Display(ctx context.Context, address game.Address) string {
	if name, ok := n.cached(address); ok {
		if name == "" {
			return address.Short()
		}
		return name
	}

	name, err := n.lookup.GetPrimaryName(ctx, string(address))
	if err != nil {
		log.Warn().Err(err).Str("address", address.Short()).Msg("name lookup failed")
		return address.Short()
	}

	n.mu.Lock()
	n.records[address] = nameRecord{
		name:      name,
		expiresAt: n.clock.Now().Add(n.ttl),
	}
	n.mu.Unlock()

	if name == "" {
		return address.Short()
	}
	return name
}

// DisplayAll resolves a roster in one pass.
func (n *Names) DisplayAll(ctx context.Context, addresses []game.Address) map[game.Address]string {
	out := make(map[game.Address]string, len(addresses))
	for _, a := range addresses {
		out[a] = n.Display(ctx, a)
	}
	return out
}

func (n *Names) cached(address game.Address) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	rec, ok := n.records[address]
	if !ok || n.clock.Now().After(rec.expiresAt) {
		return "", false
	}
	return rec.name, true
}

func (n *Names) cleanupLoop() {
	ticker := n.clock.NewTicker(n.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.Chan():
			now := n.clock.Now()
			n.mu.Lock()
			for addr, rec := range n.records {
				if now.After(rec.expiresAt) {
					delete(n.records, addr)
				}
			}
			n.mu.Unlock()
		}
	}
}
