package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/banool/pictionaryd/internal/game"
)

// Binary layout, all integers big-endian:
//
//	magic | version | Network | Address | DisplayName | SignerURL | PairingToken? | IssuedAt | ExpiresAt
//
// Strings and byte slices are u16 length-prefixed; PairingToken carries a
// presence flag so nil and empty stay distinct; times are unix seconds.
// Bump codecVersion to evolve the layout; old blobs are discarded, never
// migrated in place.
const (
	codecMagic   uint16 = 0x7073
	codecVersion byte   = 1
)

func encodeSession(s *Session) []byte {
	out := make([]byte, 0, 64+len(s.Network)+len(s.Address)+len(s.DisplayName)+len(s.SignerURL)+len(s.PairingToken))

	w8 := func(x byte) { out = append(out, x) }
	w16 := func(x uint16) {
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], x)
		out = append(out, tmp[:]...)
	}
	w64 := func(x uint64) {
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], x)
		out = append(out, tmp[:]...)
	}
	writeStr := func(str string) {
		w16(uint16(len(str)))
		out = append(out, str...)
	}

	w16(codecMagic)
	w8(codecVersion)
	writeStr(s.Network)
	writeStr(string(s.Address))
	writeStr(s.DisplayName)
	writeStr(s.SignerURL)

	if s.PairingToken != nil {
		w8(1)
		w16(uint16(len(s.PairingToken)))
		out = append(out, s.PairingToken...)
	} else {
		w8(0)
	}

	w64(unixOrZero(s.IssuedAt))
	w64(unixOrZero(s.ExpiresAt))
	return out
}

// Zero times are stored as literal 0 so IsZero survives a round trip.
func unixOrZero(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.Unix())
}

func timeOrZero(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(int64(v), 0).UTC()
}

func decodeSession(b []byte) (*Session, error) {
	r := &reader{b: b}

	if magic := r.u16(); r.err != nil || magic != codecMagic {
		if r.err != nil {
			return nil, r.err
		}
		return nil, errors.New("bad magic")
	}
	if v := r.u8(); r.err != nil || v != codecVersion {
		if r.err != nil {
			return nil, r.err
		}
		return nil, fmt.Errorf("unsupported version %d", v)
	}

	s := &Session{}
	s.Network = r.str()
	s.Address = game.Address(r.str())
	s.DisplayName = r.str()
	s.SignerURL = r.str()

	if r.u8() == 1 {
		n := int(r.u16())
		s.PairingToken = append([]byte(nil), r.bytes(n)...)
	}

	s.IssuedAt = timeOrZero(r.u64())
	s.ExpiresAt = timeOrZero(r.u64())

	r.mustEnd()
	if r.err != nil {
		return nil, r.err
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// reader walks a byte slice with big-endian reads and a sticky error,
// so decode code stays linear and checks once at the end.
type reader struct {
	b   []byte
	i   int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.i+n > len(r.b) {
		r.err = errors.New("truncated input")
		return false
	}
	return true
}

func (r *reader) u8() byte {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.i]
	r.i++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.b[r.i : r.i+2])
	r.i += 2
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.b[r.i : r.i+8])
	r.i += 8
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.b[r.i : r.i+n]
	r.i += n
	return v
}

func (r *reader) str() string {
	n := int(r.u16())
	return string(r.bytes(n))
}

func (r *reader) mustEnd() {
	if r.err == nil && r.i != len(r.b) {
		r.err = errors.New("trailing bytes")
	}
}
