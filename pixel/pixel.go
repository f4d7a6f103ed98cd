package pixel

import (
	"fmt"
	"image/color"
	"strconv"
)

// Color is a 24-bit RGB color. There is no alpha channel.
type Color struct {
	R, G, B uint8
}

// RGBA implements color.Color.
func (c Color) RGBA() (r, g, b, a uint32) {
	// 0xFF * 0x101 = 0xFFFF
	r = uint32(c.R) * 0x101
	g = uint32(c.G) * 0x101
	b = uint32(c.B) * 0x101
	return r, g, b, 0xFFFF
}

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func toColor(c color.Color) color.Color {
	if p, ok := c.(Color); ok {
		return p
	}
	r, g, b, _ := c.RGBA()
	return Color{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8)}
}

// Model converts colors to Color.
var Model = color.ModelFunc(toColor)

// Luminance weights used by Gray.
const (
	grayR = 0.2989
	grayG = 0.4870
	grayB = 0.2140
)

// Gray returns the luminance of c on all three channels.
//
// The weighted sum is truncated and clamped to 255.
func Gray(c Color) Color {
	y := grayR*float64(c.R) + grayG*float64(c.G) + grayB*float64(c.B)
	if y > 255 {
		y = 255
	}
	v := uint8(y)
	return Color{R: v, G: v, B: v}
}

// Depth is the color depth used on the wire for pixel writes.
type Depth uint8

const (
	// Depth16 sends each pixel as 2 bytes in 5-6-5 layout.
	Depth16 Depth = 16
	// Depth18 sends each pixel as 3 bytes, one per channel. The controller
	// keeps the 6 upper bits of each byte.
	Depth18 Depth = 18
)

// Valid reports whether d is a supported depth.
func (d Depth) Valid() bool {
	return d == Depth16 || d == Depth18
}

func (d Depth) String() string {
	return strconv.Itoa(int(d)) + "-bit"
}

// Size returns the number of bytes a pixel takes on the wire.
func (d Depth) Size() int {
	if d == Depth16 {
		return 2
	}
	return 3
}

// Bits returns the number of bits a pixel takes on the wire.
func (d Depth) Bits() int {
	return d.Size() * 8
}

// PixelFormat returns the argument of the COLMOD (0x3A) command selecting d.
func (d Depth) PixelFormat() byte {
	if d == Depth16 {
		return 0x55
	}
	return 0x66
}

// Mask returns, per channel, the bits that survive a write then read round
// trip at depth d.
func (d Depth) Mask() Color {
	if d == Depth16 {
		return Color{R: 0xF8, G: 0xFC, B: 0xF8}
	}
	return Color{R: 0xFC, G: 0xFC, B: 0xFC}
}

// Truncate drops the bits of c that the controller does not store at depth d.
func (d Depth) Truncate(c Color) Color {
	m := d.Mask()
	return Color{R: c.R & m.R, G: c.G & m.G, B: c.B & m.B}
}

// Put encodes c into dst and returns the number of bytes written. dst must
// hold at least d.Size() bytes.
func (d Depth) Put(dst []byte, c Color) int {
	if d == Depth16 {
		_ = dst[1]
		dst[0] = c.R&0xF8 | c.G>>5
		dst[1] = (c.G&0x1C)<<3 | c.B>>3
		return 2
	}
	_ = dst[2]
	dst[0] = c.R
	dst[1] = c.G
	dst[2] = c.B
	return 3
}

// Append appends the wire form of c to dst.
func (d Depth) Append(dst []byte, c Color) []byte {
	var b [3]byte
	n := d.Put(b[:], c)
	return append(dst, b[:n]...)
}

// Unpack decodes one pixel in the wire form of d and returns it at read
// resolution. src must hold at least d.Size() bytes.
func (d Depth) Unpack(src []byte) Color {
	if d == Depth16 {
		_ = src[1]
		return Color{
			R: src[0] & 0xF8,
			G: (src[0]&0x07)<<5 | (src[1]&0xE0)>>3,
			B: (src[1] & 0x1F) << 3,
		}
	}
	return d.Truncate(Color{R: src[0], G: src[1], B: src[2]})
}

// Decode converts the 3 bytes per pixel returned by a memory read into
// colors. src must hold 3*len(dst) bytes and must not include the dummy byte.
func Decode(dst []Color, src []byte) {
	for i := range dst {
		o := i * 3
		dst[i] = Color{R: src[o], G: src[o+1], B: src[o+2]}
	}
}
