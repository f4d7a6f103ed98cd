package bus

import (
	"encoding/binary"
)

// Packer splits a byte stream into bursts of fixed-width words.
//
// It never allocates after NewPacker, so it can be used on the pixel hot path.
type Packer struct {
	order binary.ByteOrder
	words []uint32
}

// NewPacker returns a Packer filling 32-bit words in the given byte order,
// with at most maxBits bits per burst. maxBits is rounded down to a multiple
// of 32 and is at least 32.
func NewPacker(order binary.ByteOrder, maxBits int) *Packer {
	n := maxBits / 32
	if n < 1 {
		n = 1
	}
	return &Packer{order: order, words: make([]uint32, n)}
}

// Cap returns the number of bytes a single burst holds.
func (p *Packer) Cap() int {
	return len(p.words) * 4
}

// Next packs the first burst of data. It returns the words to load, the
// number of bits to send and the remaining input.
//
// The returned words alias an internal buffer that is overwritten by the
// next call.
func (p *Packer) Next(data []byte) (words []uint32, bits int, rest []byte) {
	n := len(data)
	if c := p.Cap(); n > c {
		n = c
	}
	chunk := data[:n]
	nw := (n + 3) / 4
	for i := 0; i < nw; i++ {
		var b [4]byte
		copy(b[:], chunk[i*4:])
		p.words[i] = p.order.Uint32(b[:])
	}
	return p.words[:nw], n * 8, data[n:]
}

// Word packs up to 4 bytes into a single word, for one-shot bursts such as a
// command byte or an address window bound pair.
func (p *Packer) Word(b ...byte) uint32 {
	var w [4]byte
	copy(w[:], b)
	return p.order.Uint32(w[:])
}

// AppendBurst appends the bits/8 bytes held by words, least significant byte
// first, to dst. It is the inverse of a little-endian Packer.
func AppendBurst(dst []byte, words []uint32, bits int) []byte {
	n := bits / 8
	for _, w := range words {
		for j := 0; j < 4 && n > 0; j++ {
			dst = append(dst, byte(w>>(8*j)))
			n--
		}
	}
	return dst
}
