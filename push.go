package ili9xxx

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"periph.io/x/devices/v3/ili9xxx/bus"
	"periph.io/x/devices/v3/ili9xxx/pixel"
)

// PushRepeated sends c n times to the current address window and waits until
// the pixels are on the bus. The display must be selected.
func (d *Dev) PushRepeated(c pixel.Color, n int) error {
	if err := d.PushRepeatedAsync(c, n); err != nil {
		return err
	}
	return d.Wait()
}

// PushRepeatedAsync is like PushRepeated but may return while the last DMA
// transfer is still in flight. The next bus operation, or Wait, waits for it.
//
// Fills larger than a burst go through a scratch buffer of at most two
// display lines, queued as many times as needed.
func (d *Dev) PushRepeatedAsync(c pixel.Color, n int) error {
	if n <= 0 {
		return nil
	}
	if err := d.drain(); err != nil {
		return err
	}
	if d.gray {
		c = pixel.Gray(c)
	}
	size := d.depth.Size()
	if d.fitsBurst(n) {
		buf := d.direct[:0]
		for i := 0; i < n; i++ {
			buf = d.depth.Append(buf, c)
		}
		d.stats.Direct++
		return d.SendCommandWithData(cmdRAMWR, buf)
	}

	chunk := n
	if w := 2 * d.rect.Dx(); chunk > w {
		chunk = w
	}
	buf, err := d.alloc(chunk * size)
	if err != nil {
		return err
	}
	for i := 0; i < chunk; i++ {
		d.depth.Put(buf[i*size:], c)
	}
	if err := d.writeCommand(cmdRAMWR); err != nil {
		d.free(buf)
		return err
	}
	d.scratch = buf
	d.stats.DMA++
	for n > 0 {
		m := min(n, chunk)
		if err := d.waitDMA(); err != nil {
			d.release()
			return err
		}
		if err := d.queue(buf[:m*size]); err != nil {
			d.release()
			return err
		}
		n -= m
	}
	return nil
}

// PushBuffer sends colors to the current address window and waits until the
// pixels are on the bus. The display must be selected.
func (d *Dev) PushBuffer(colors []pixel.Color) error {
	if err := d.PushBufferAsync(colors); err != nil {
		return err
	}
	return d.Wait()
}

// PushBufferAsync is like PushBuffer but may return while the DMA transfer is
// still in flight. colors is converted before PushBufferAsync returns and can
// be reused right away.
func (d *Dev) PushBufferAsync(colors []pixel.Color) error {
	n := len(colors)
	if n == 0 {
		return nil
	}
	if err := d.drain(); err != nil {
		return err
	}
	if d.fitsBurst(n) {
		d.stats.Direct++
		return d.SendCommandWithData(cmdRAMWR, d.encode(d.direct[:n*d.depth.Size()], colors))
	}

	buf, err := d.alloc(n * d.depth.Size())
	if err != nil {
		return err
	}
	d.encode(buf, colors)
	if err := d.writeCommand(cmdRAMWR); err != nil {
		d.free(buf)
		return err
	}
	d.scratch = buf
	d.stats.DMA++
	if err := d.queue(buf); err != nil {
		d.release()
		return err
	}
	return nil
}

// fitsBurst reports whether n pixels fit in a single burst.
func (d *Dev) fitsBurst(n int) bool {
	return n*d.depth.Bits() <= d.burst
}

// encode writes the wire form of colors to dst and returns it.
func (d *Dev) encode(dst []byte, colors []pixel.Color) []byte {
	size := d.depth.Size()
	for i, c := range colors {
		if d.gray {
			c = pixel.Gray(c)
		}
		d.depth.Put(dst[i*size:], c)
	}
	return dst
}

// alloc returns a buffer of n bytes the bus can stream by DMA.
func (d *Dev) alloc(n int) ([]byte, error) {
	if a, ok := d.b.(bus.Allocator); ok {
		b, err := a.AllocDMA(n)
		if err != nil {
			log.Warn().Err(err).Int("bytes", n).Msg("ili9xxx: DMA buffer allocation failed, push aborted")
			return nil, fmt.Errorf("%w: %w", ErrNoDMAMemory, err)
		}
		return b, nil
	}
	if cap(d.spare) < n {
		d.spare = make([]byte, n)
	}
	return d.spare[:n], nil
}

// free returns b to the bus allocator.
func (d *Dev) free(b []byte) {
	if a, ok := d.b.(bus.Allocator); ok {
		a.FreeDMA(b)
	}
}

// release frees the scratch buffer. No transfer may be in flight.
func (d *Dev) release() {
	if d.scratch == nil {
		return
	}
	d.free(d.scratch)
	d.scratch = nil
}
