package canvas

import "sort"

// Bitmap is a derived position→color view of one team's canvas: the last
// confirmed on-chain pixels, optionally composited with pending local
// deltas. Positions never written stay absent and render as background.
// Not safe for concurrent use; owners copy before sharing.
type Bitmap struct {
	cells map[uint16]Color
}

// NewBitmap returns an empty bitmap.
func NewBitmap() *Bitmap {
	return &Bitmap{cells: make(map[uint16]Color)}
}

// BitmapFromDeltas builds a bitmap by applying deltas in order.
func BitmapFromDeltas(deltas []Delta) *Bitmap {
	b := NewBitmap()
	b.Apply(deltas)
	return b
}

// Apply writes deltas in order; later writes to a position win.
func (b *Bitmap) Apply(deltas []Delta) {
	for _, d := range deltas {
		b.cells[d.Position] = d.Color
	}
}

// Get returns the color at a position and whether it was ever written.
func (b *Bitmap) Get(position uint16) (Color, bool) {
	c, ok := b.cells[position]
	return c, ok
}

// Len is the number of written positions.
func (b *Bitmap) Len() int {
	return len(b.cells)
}

// Clone returns an independent copy.
func (b *Bitmap) Clone() *Bitmap {
	out := &Bitmap{cells: make(map[uint16]Color, len(b.cells))}
	for p, c := range b.cells {
		out.cells[p] = c
	}
	return out
}

// Overlay composites pending deltas over the confirmed base without
// mutating it, returning the view to render while a flush is outstanding.
func (b *Bitmap) Overlay(pending []Delta) *Bitmap {
	out := b.Clone()
	out.Apply(pending)
	return out
}

// Equal reports whether two bitmaps hold identical pixels.
func (b *Bitmap) Equal(other *Bitmap) bool {
	if other == nil || len(b.cells) != len(other.cells) {
		return false
	}
	for p, c := range b.cells {
		oc, ok := other.cells[p]
		if !ok || oc != c {
			return false
		}
	}
	return true
}

// Cells returns a copy of the written pixels for serialization.
func (b *Bitmap) Cells() map[uint16]Color {
	out := make(map[uint16]Color, len(b.cells))
	for p, c := range b.cells {
		out[p] = c
	}
	return out
}

// Deltas returns the written pixels as a delta list sorted by position,
// giving wire payloads a stable order.
func (b *Bitmap) Deltas() []Delta {
	out := make([]Delta, 0, len(b.cells))
	for p, c := range b.cells {
		out = append(out, Delta{Position: p, Color: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}
