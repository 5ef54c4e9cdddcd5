package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"github.com/banool/pictionaryd/internal/game"
)

type stubLookup struct {
	names map[string]string
	err   error
	calls int
}

func (s *stubLookup) GetPrimaryName(_ context.Context, address string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.names[address], nil
}

func TestNames_ResolvesAndCaches(t *testing.T) {
	lookup := &stubLookup{names: map[string]string{"0xa0": "banool"}}
	clk := clockwork.NewFakeClock()
	names := NewNames(lookup, clk, 10*time.Minute)
	defer names.Stop()

	assert.Equal(t, "banool", names.Display(context.Background(), "0xa0"))
	assert.Equal(t, "banool", names.Display(context.Background(), "0xa0"))
	assert.Equal(t, 1, lookup.calls, "second hit must come from cache")
}

func TestNames_CacheExpires(t *testing.T) {
	lookup := &stubLookup{names: map[string]string{"0xa0": "banool"}}
	clk := clockwork.NewFakeClock()
	names := NewNames(lookup, clk, 10*time.Minute)
	defer names.Stop()

	names.Display(context.Background(), "0xa0")
	clk.Advance(11 * time.Minute)
	names.Display(context.Background(), "0xa0")

	assert.Equal(t, 2, lookup.calls)
}

func TestNames_NoNameFallsBackToShortAddress(t *testing.T) {
	lookup := &stubLookup{names: map[string]string{}}
	clk := clockwork.NewFakeClock()
	names := NewNames(lookup, clk, 10*time.Minute)
	defer names.Stop()

	addr := game.Address("0x1234567890abcdef1234567890abcdef")
	got := names.Display(context.Background(), addr)
	assert.Equal(t, "0x1234...cdef", got)

	// The miss is cached too.
	names.Display(context.Background(), addr)
	assert.Equal(t, 1, lookup.calls)
}

func TestNames_LookupErrorNotCached(t *testing.T) {
	lookup := &stubLookup{err: errors.New("ans down")}
	clk := clockwork.NewFakeClock()
	names := NewNames(lookup, clk, 10*time.Minute)
	defer names.Stop()

	addr := game.Address("0x1234567890abcdef1234567890abcdef")
	assert.Equal(t, "0x1234...cdef", names.Display(context.Background(), addr))

	lookup.err = nil
	lookup.names = map[string]string{string(addr): "banool"}
	assert.Equal(t, "banool", names.Display(context.Background(), addr))
	assert.Equal(t, 2, lookup.calls)
}

func TestNames_DisplayAll(t *testing.T) {
	lookup := &stubLookup{names: map[string]string{"0xa0": "banool"}}
	clk := clockwork.NewFakeClock()
	names := NewNames(lookup, clk, 10*time.Minute)
	defer names.Stop()

	out := names.DisplayAll(context.Background(), []game.Address{"0xa0", "0xb0"})
	assert.Equal(t, "banool", out["0xa0"])
	assert.Equal(t, "0xb0", out["0xb0"], "short addresses stay as-is")
}
