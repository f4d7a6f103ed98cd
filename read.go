package ili9xxx

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"periph.io/x/devices/v3/ili9xxx/pixel"
)

// ReadPixels reads the pixels of w from display memory into buf.
//
// The controller answers with one dummy byte then 3 bytes per pixel, so buf
// must hold at least 3*w.Len()+1 bytes. The colors hold 6 significant bits
// per channel.
//
// The display is released first, so that the bus clock can be lowered to
// MaxReadSpeed for the read. The display is released again and the clock
// restored before returning, even on failure. A failed release is retried
// once; when it still fails the error wraps ErrRelease and any failure to
// restore the clock.
func (d *Dev) ReadPixels(w Window, buf []byte) (err error) {
	n := 3*w.Len() + 1
	buf = buf[:n]
	clear(buf)

	if err := d.Deselect(); err != nil {
		return fmt.Errorf("%w: %w", ErrDeselect, err)
	}
	cur := d.b.Speed()
	lowered := d.maxRead < cur
	if lowered {
		if err := d.b.SetSpeed(d.maxRead); err != nil {
			return fmt.Errorf("ili9xxx: failed to lower bus speed: %w", err)
		}
	}
	selected := false
	defer func() {
		var errs []error
		if selected {
			if e := d.releaseRead(); e != nil {
				errs = append(errs, fmt.Errorf("%w: %w", ErrRelease, e))
			}
		}
		if lowered {
			if e := d.b.SetSpeed(cur); e != nil {
				errs = append(errs, fmt.Errorf("ili9xxx: failed to restore bus speed: %w", e))
			}
		}
		if len(errs) != 0 {
			err = errors.Join(append([]error{err}, errs...)...)
		}
	}()
	if err := d.Select(); err != nil {
		return fmt.Errorf("%w: %w", ErrSelect, err)
	}
	selected = true
	if err := d.SetAddressWindow(w); err != nil {
		return err
	}
	if err := d.SendCommand(cmdRAMRD); err != nil {
		return err
	}
	return d.b.Receive(buf)
}

// releaseRead deselects the display after a read, retrying once.
func (d *Dev) releaseRead() error {
	err := d.Deselect()
	if err == nil {
		return nil
	}
	log.Warn().Err(err).Msg("ili9xxx: release after read failed, retrying")
	if e := d.Deselect(); e != nil {
		return errors.Join(err, e)
	}
	return nil
}

// ReadPixel returns the color of the pixel at x, y.
func (d *Dev) ReadPixel(x, y int) (pixel.Color, error) {
	var buf [4]byte
	w := Window{X0: uint16(x), X1: uint16(x), Y0: uint16(y), Y1: uint16(y)}
	if err := d.ReadPixels(w, buf[:]); err != nil {
		return pixel.Color{}, err
	}
	return pixel.Color{R: buf[1], G: buf[2], B: buf[3]}, nil
}

// ReadRect returns the colors of w, row by row.
func (d *Dev) ReadRect(w Window) ([]pixel.Color, error) {
	buf := make([]byte, 3*w.Len()+1)
	if err := d.ReadPixels(w, buf); err != nil {
		return nil, err
	}
	colors := make([]pixel.Color, w.Len())
	pixel.Decode(colors, buf[1:])
	return colors, nil
}
