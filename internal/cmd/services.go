package main

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/banool/pictionaryd/clients/ans_client"
	"github.com/banool/pictionaryd/clients/aptos_client"
	"github.com/banool/pictionaryd/clients/signer_client"
	"github.com/banool/pictionaryd/internal/chain"
	"github.com/banool/pictionaryd/internal/draw"
	"github.com/banool/pictionaryd/internal/events"
	"github.com/banool/pictionaryd/internal/game"
	"github.com/banool/pictionaryd/internal/gateway"
	"github.com/banool/pictionaryd/internal/session"
	"github.com/banool/pictionaryd/internal/watch"
)

const nameCacheTTL = 10 * time.Minute

type Services struct {
	Bus      *events.Bus
	Mirror   *events.Mirror
	Sessions *session.Manager
	Watcher  *watch.Watcher
	Names    *chain.Names
	Gateway  *gateway.Service

	stopMirror func()
}

func setupServices(cfg Config) (*Services, error) {
	// Wire up dependency injection chain
	// REST clients → chain adapters → event bus → watcher → gateway

	clock := clockwork.NewRealClock()
	creator := game.Address(cfg.GameAddress)

	// Chain reads and writes.
	aptos := aptos_client.NewAptosClient(cfg.FullnodeURL, cfg.ContractAddress, clock)
	source := chain.NewSource(aptos, creator)

	// Session: restore the paired signer across restarts. Without one the
	// daemon runs read-only and every tab is a spectator.
	store, err := session.OpenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	sessions := session.NewManager(store, clock)

	var signer chain.Signer
	if s, ok := sessions.Hydrate(); ok {
		signer = chain.NewServiceSigner(signer_client.NewSignerClient(s.SignerURL, s.PairingToken), s.Address)
	}
	submitter := chain.NewSubmitter(aptos, creator, signer)

	// Events: in-process bus, optionally mirrored to JetStream.
	bus := events.NewBus()
	var mirror *events.Mirror
	var stopMirror func()
	if cfg.NATS.Enabled {
		mirrorCfg := events.DefaultMirrorConfig()
		if cfg.NATS.URL != "" {
			mirrorCfg.URL = cfg.NATS.URL
		}
		mirror, err = events.NewMirror(mirrorCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect event mirror: %w", err)
		}
		stopMirror = mirror.Forward(bus)
	}

	// Watcher: polls the chain and turns snapshots into bus events.
	watcher := watch.NewWatcher(source, bus, watch.Config{
		GamePollInterval:   cfg.GamePollInterval,
		CanvasPollInterval: cfg.CanvasPollInterval,
	}, clock)

	// Names: decoration only, absent on networks without ANS. The typed
	// nil must not reach the gateway's interface field.
	var names *chain.Names
	var resolver gateway.NameResolver
	if cfg.AnsURL != "" {
		names = chain.NewNames(ans_client.NewAnsClient(cfg.AnsURL), clock, nameCacheTTL)
		resolver = names
	}

	gw := gateway.NewService(gateway.ServiceConfig{
		Creator:       creator,
		BatcherConfig: draw.Config{FlushInterval: cfg.FlushInterval},
		MirrorEnabled: cfg.NATS.Enabled,
	}, watcher, bus, submitter, submitter, resolver, gateway.NewMetrics(), clock)

	return &Services{
		Bus:        bus,
		Mirror:     mirror,
		Sessions:   sessions,
		Watcher:    watcher,
		Names:      names,
		Gateway:    gw,
		stopMirror: stopMirror,
	}, nil
}

// Shutdown stops background work in dependency order: no new events, then
// no more consumers.
func (s *Services) Shutdown() {
	s.Watcher.Stop()
	if s.Names != nil {
		s.Names.Stop()
	}
	if s.stopMirror != nil {
		s.stopMirror()
	}
	if s.Mirror != nil {
		s.Mirror.Close()
	}
}
