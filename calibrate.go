package ili9xxx

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ili9xxx/pixel"
)

// Read clock candidates tried by FindMaxReadSpeed.
const (
	minReadSpeed  = 8 * physic.MegaHertz
	maxReadSpeed  = 40 * physic.MegaHertz
	readSpeedStep = 2 * physic.MegaHertz
)

var calibrationColor = pixel.Color{R: 0xEC, G: 0xA8, B: 0x74}

// FindMaxReadSpeed returns the fastest bus clock at which a line written to
// display memory reads back unchanged.
//
// Clocks from 8MHz up to the lower of 40MHz and the current clock are tried
// in 2MHz steps. A failed or mismatching read fails the candidate and stops
// the scan; the clock before it is returned, or 8MHz when none passed. The
// middle line of the screen is overwritten.
//
// Failing to write the line, for example ErrSelect or ErrDMATimeout, aborts
// the scan and is returned.
//
// The bus clock, the grayscale setting and MaxReadSpeed are left unchanged.
// The result is not applied, pass it to SetMaxReadSpeed.
func (d *Dev) FindMaxReadSpeed() (physic.Frequency, error) {
	if d.halted {
		return 0, ErrHalted
	}
	cur := d.b.Speed()
	gray, maxRead := d.gray, d.maxRead
	d.gray = false
	defer func() {
		d.gray = gray
		d.maxRead = maxRead
	}()

	width := d.rect.Dx()
	y := uint16(d.rect.Dy() / 2)
	w := Window{X0: 0, X1: uint16(width - 1), Y0: y, Y1: y}
	line := make([]pixel.Color, width)
	for i := range line {
		line[i] = calibrationColor
	}
	buf := make([]byte, 3*width+1)

	limit := min(maxReadSpeed, cur)
	best := minReadSpeed
	for f := minReadSpeed; f <= limit; f += readSpeedStep {
		if err := d.writeLine(f, w, line); err != nil {
			log.Debug().Stringer("speed", f).Err(err).Msg("ili9xxx: read speed calibration aborted")
			err = fmt.Errorf("ili9xxx: failed to write calibration line at %s: %w", f, err)
			return 0, errors.Join(err, d.restoreSpeed(cur))
		}
		err := d.checkLine(f, w, line, buf)
		log.Debug().Stringer("speed", f).Err(err).Msg("ili9xxx: read speed candidate")
		if err != nil {
			break
		}
		best = f
	}

	if err := d.restoreSpeed(cur); err != nil {
		return best, err
	}
	log.Debug().Stringer("speed", best).Msg("ili9xxx: max read speed")
	return best, nil
}

// restoreSpeed releases the display and sets the bus clock back to f.
func (d *Dev) restoreSpeed(f physic.Frequency) error {
	if err := d.Deselect(); err != nil {
		return fmt.Errorf("%w: %w", ErrDeselect, err)
	}
	if err := d.b.SetSpeed(f); err != nil {
		return fmt.Errorf("ili9xxx: failed to restore bus speed: %w", err)
	}
	return nil
}

// errMismatch is returned by checkLine when the line read back differs.
type errMismatch struct {
	x         int
	got, want pixel.Color
}

func (e *errMismatch) Error() string {
	return fmt.Sprintf("ili9xxx: pixel %d read back as %v, want %v", e.x, e.got, e.want)
}

// writeLine writes line to w at clock f.
func (d *Dev) writeLine(f physic.Frequency, w Window, line []pixel.Color) error {
	if err := d.Deselect(); err != nil {
		return fmt.Errorf("%w: %w", ErrDeselect, err)
	}
	if err := d.b.SetSpeed(f); err != nil {
		return err
	}
	return d.inSelection(func() error {
		if err := d.SetAddressWindow(w); err != nil {
			return err
		}
		return d.PushBuffer(line)
	})
}

// checkLine reads w back with the read clock capped at f and compares it
// with line.
func (d *Dev) checkLine(f physic.Frequency, w Window, line []pixel.Color, buf []byte) error {
	d.maxRead = f
	if err := d.ReadPixels(w, buf); err != nil {
		return err
	}
	mask := d.depth.Mask()
	for i, want := range line {
		got := pixel.Color{R: buf[1+3*i], G: buf[2+3*i], B: buf[3+3*i]}
		if got.G&0xFC != want.G&0xFC ||
			got.R&mask.R != want.R&mask.R ||
			got.B&mask.B != want.B&mask.B {
			return &errMismatch{x: i, got: got, want: want}
		}
	}
	return nil
}
