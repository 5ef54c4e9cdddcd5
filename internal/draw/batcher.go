// Package draw accumulates freehand drawing input into an ordered batch of
// canvas deltas and hands it to the chain on a countdown or on demand,
// retrying on failure without ever dropping a drawn pixel.
package draw

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/banool/pictionaryd/internal/canvas"
	"github.com/banool/pictionaryd/internal/game"
)

// State is the batcher's lifecycle position.
type State string

const (
	// StateIdle means no pending deltas and no countdown.
	StateIdle State = "IDLE"
	// StateAccumulating means at least one pending delta; the auto-flush
	// countdown is armed unless the round already ended.
	StateAccumulating State = "ACCUMULATING"
	// StateFlushing means a submission is in flight.
	StateFlushing State = "FLUSHING"
)

var (
	// ErrRoundNotLive rejects drawing input outside a live round.
	ErrRoundNotLive = errors.New("round is not live")
	// ErrFlushInFlight rejects a manual flush while one is already running.
	ErrFlushInFlight = errors.New("flush already in flight")
)

// Submitter sends one batch of deltas to the chain. Implementations block
// until the transaction is executed or ctx expires; the batcher calls it
// from its own goroutine.
type Submitter interface {
	SubmitDeltas(ctx context.Context, team game.TeamIndex, positions []uint16, colors []canvas.Color) error
}

// Config holds batcher tuning.
type Config struct {
	// FlushInterval is the countdown armed by the first delta recorded
	// while idle; at zero remaining the batch auto-flushes.
	FlushInterval time.Duration
	// SubmitTimeout bounds one submission attempt.
	SubmitTimeout time.Duration
}

// DefaultConfig returns the tuning observed in play: a five second
// countdown and a generous submission timeout.
func DefaultConfig() Config {
	return Config{
		FlushInterval: 5 * time.Second,
		SubmitTimeout: 30 * time.Second,
	}
}

// FlushResult reports one resolved submission attempt.
type FlushResult struct {
	Team    game.TeamIndex
	Deltas  int
	Auto    bool
	Elapsed time.Duration
	Err     error
}

// Batcher is the canvas delta batcher: it owns the pending delta sequence,
// the auto-flush countdown, and the retry relationship with the Submitter.
// Safe for concurrent use.
type Batcher struct {
	cfg       Config
	clock     clockwork.Clock
	submitter Submitter
	team      game.TeamIndex
	onResult  func(FlushResult)

	mu         sync.Mutex
	state      State
	roundLive  bool
	pending    []canvas.Delta
	inFlight   []canvas.Delta
	remaining  int
	countdown  chan struct{}
	generation uint64
}

// NewBatcher builds a batcher for one team's canvas. onResult, when not nil,
// receives every resolved flush attempt and is called outside the batcher's
// lock. The round starts out not-live; SetRoundLive gates input.
func NewBatcher(team game.TeamIndex, submitter Submitter, cfg Config, clock clockwork.Clock, onResult func(FlushResult)) *Batcher {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultConfig().SubmitTimeout
	}
	return &Batcher{
		cfg:       cfg,
		clock:     clock,
		submitter: submitter,
		team:      team,
		onResult:  onResult,
		state:     StateIdle,
	}
}

// Team returns the team this batcher draws for.
func (b *Batcher) Team() game.TeamIndex {
	return b.team
}

// State returns the current lifecycle state.
func (b *Batcher) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Remaining returns the seconds left on the auto-flush countdown, zero when
// none is armed.
func (b *Batcher) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.countdown == nil {
		return 0
	}
	return b.remaining
}

// PendingCount returns how many deltas are waiting, excluding any in-flight
// submission.
func (b *Batcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// UnconfirmedDeltas returns every delta not yet confirmed on chain, the
// in-flight batch first, in insertion order. Renderers overlay these on the
// confirmed bitmap.
func (b *Batcher) UnconfirmedDeltas() []canvas.Delta {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]canvas.Delta, 0, len(b.inFlight)+len(b.pending))
	out = append(out, b.inFlight...)
	out = append(out, b.pending...)
	return out
}

// Record appends one drawn pixel. The first delta recorded while idle arms
// the auto-flush countdown. Deltas recorded while a flush is in flight join
// a fresh pending sequence that is not part of the running submission.
func (b *Batcher) Record(position uint16, color canvas.Color) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.roundLive {
		return ErrRoundNotLive
	}
	if !color.Valid() {
		return fmt.Errorf("invalid color index %d", uint8(color))
	}

	b.pending = append(b.pending, canvas.Delta{Position: position, Color: color})
	if b.state == StateIdle {
		b.state = StateAccumulating
		b.armCountdownLocked()
	}
	return nil
}

// Flush submits the pending sequence now. A no-op when nothing is pending;
// refused while another flush is in flight. The submission itself runs on a
// background goroutine and resolves through the result callback.
func (b *Batcher) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateFlushing {
		return ErrFlushInFlight
	}
	if len(b.pending) == 0 {
		return nil
	}
	b.startFlushLocked(false)
	return nil
}

// Clear discards all pending and in-flight deltas and returns to idle. Any
// submission still running becomes stale: its eventual result is dropped so
// a late success cannot resurrect cleared pixels.
func (b *Batcher) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.generation++
	b.pending = nil
	b.inFlight = nil
	b.cancelCountdownLocked()
	b.state = StateIdle
	log.Debug().Uint8("team", uint8(b.team)).Msg("batcher cleared")
}

// SetRoundLive flips the round gate. Going not-live cancels the countdown
// so a stale round never auto-flushes; pending deltas survive and the
// manual Flush path stays open. Going live re-arms the countdown when
// deltas are waiting.
func (b *Batcher) SetRoundLive(live bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.roundLive == live {
		return
	}
	b.roundLive = live
	if !live {
		b.cancelCountdownLocked()
		return
	}
	if b.state == StateAccumulating && len(b.pending) > 0 && b.countdown == nil {
		b.armCountdownLocked()
	}
}

// Close cancels the countdown. In-flight submissions finish on their own
// timeout.
func (b *Batcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelCountdownLocked()
}

// armCountdownLocked starts a fresh countdown at the full interval,
// replacing any running one. Callers hold b.mu.
func (b *Batcher) armCountdownLocked() {
	b.cancelCountdownLocked()
	b.remaining = int(b.cfg.FlushInterval / time.Second)
	if b.remaining < 1 {
		b.remaining = 1
	}
	cancel := make(chan struct{})
	b.countdown = cancel
	go b.runCountdown(cancel)
}

// cancelCountdownLocked stops the running countdown, if any. Every
// transition out of Accumulating goes through here; a leaked timer means a
// duplicate flush. Callers hold b.mu.
func (b *Batcher) cancelCountdownLocked() {
	if b.countdown != nil {
		close(b.countdown)
		b.countdown = nil
	}
}

// runCountdown ticks once per second until cancelled or the countdown hits
// zero, then triggers the automatic flush.
func (b *Batcher) runCountdown(cancel chan struct{}) {
	timer := b.clock.NewTimer(time.Second)
	defer stopAndDrainTimer(timer)

	for {
		select {
		case <-cancel:
			return
		case <-timer.Chan():
			b.mu.Lock()
			if b.countdown != cancel {
				// A newer countdown replaced this one between the tick
				// and the lock.
				b.mu.Unlock()
				return
			}
			b.remaining--
			if b.remaining > 0 {
				timer.Reset(time.Second)
				b.mu.Unlock()
				continue
			}
			b.countdown = nil
			if len(b.pending) > 0 && b.state == StateAccumulating {
				b.startFlushLocked(true)
			}
			b.mu.Unlock()
			return
		}
	}
}

// startFlushLocked captures the pending sequence and launches the
// submission goroutine. Callers hold b.mu and have checked preconditions.
func (b *Batcher) startFlushLocked(auto bool) {
	b.cancelCountdownLocked()
	b.inFlight = b.pending
	b.pending = nil
	b.state = StateFlushing

	batch := b.inFlight
	gen := b.generation
	started := b.clock.Now()
	log.Debug().
		Uint8("team", uint8(b.team)).
		Int("deltas", len(batch)).
		Bool("auto", auto).
		Msg("flushing canvas deltas")
	go b.submit(gen, batch, auto, started)
}

// submit runs one submission attempt and folds its outcome back into the
// batcher state.
func (b *Batcher) submit(gen uint64, batch []canvas.Delta, auto bool, started time.Time) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), b.cfg.SubmitTimeout)
	defer cancelCtx()

	positions, colors := canvas.SplitDeltas(batch)
	err := b.submitter.SubmitDeltas(ctx, b.team, positions, colors)

	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		log.Debug().
			Uint8("team", uint8(b.team)).
			Int("deltas", len(batch)).
			Msg("dropping stale flush result after clear")
		return
	}

	b.inFlight = nil
	if err != nil {
		// Never lose drawn pixels: the captured batch goes back in front
		// of anything recorded while it was in flight, and the countdown
		// restarts at its full value so the retry is time-driven.
		b.pending = append(batch, b.pending...)
		b.state = StateAccumulating
		if b.roundLive {
			b.armCountdownLocked()
		}
		log.Warn().
			Err(err).
			Uint8("team", uint8(b.team)).
			Int("deltas", len(b.pending)).
			Msg("canvas flush failed, retaining deltas for retry")
	} else if len(b.pending) > 0 {
		// Deltas arrived mid-flight; only the captured subset cleared.
		b.state = StateAccumulating
		if b.roundLive {
			b.armCountdownLocked()
		}
	} else {
		b.state = StateIdle
	}
	cb := b.onResult
	elapsed := b.clock.Now().Sub(started)
	b.mu.Unlock()

	if cb != nil {
		cb(FlushResult{
			Team:    b.team,
			Deltas:  len(batch),
			Auto:    auto,
			Elapsed: elapsed,
			Err:     err,
		})
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel so a fired
// tick cannot leak to a later reader.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
