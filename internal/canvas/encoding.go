// Package canvas maps the 2-D drawing surface onto the chain's 1-D indexed
// pixel space: a 16-bit row-major grid index with both axes scaled to
// [0,255] regardless of the actual canvas pixel dimensions.
package canvas

import (
	"fmt"
)

// scaleMax is the top of the scaled coordinate range. The on-chain schema
// stores positions as scaledY*rowStride + scaledX; changing either constant
// breaks compatibility with every canvas already on chain.
const (
	scaleMax  = 255
	rowStride = 256
)

// EncodePoint converts a canvas pixel coordinate to its on-chain position
// index. x must be in [0,width) and y in [0,height).
func EncodePoint(x, y, width, height int) (uint16, error) {
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("invalid canvas dimensions %dx%d", width, height)
	}
	if x < 0 || x >= width {
		return 0, fmt.Errorf("x %d outside [0,%d)", x, width)
	}
	if y < 0 || y >= height {
		return 0, fmt.Errorf("y %d outside [0,%d)", y, height)
	}
	scaledX := x * scaleMax / width
	scaledY := y * scaleMax / height
	return uint16(scaledY*rowStride + scaledX), nil
}

// DecodePoint converts an on-chain position index back to a canvas pixel
// coordinate. The scaling is lossy; the result is within one scaled unit
// (width/255 or height/255 pixels) of the encoded point.
func DecodePoint(index uint16, width, height int) (int, int, error) {
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid canvas dimensions %dx%d", width, height)
	}
	scaledX := int(index) % rowStride
	scaledY := int(index) / rowStride
	x := scaledX * width / scaleMax
	y := scaledY * height / scaleMax
	if x >= width {
		x = width - 1
	}
	if y >= height {
		y = height - 1
	}
	return x, y, nil
}
