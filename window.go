package ili9xxx

import (
	"fmt"
	"image"

	"periph.io/x/devices/v3/ili9xxx/bus"
)

// Window is a rectangle of display memory, bounds included.
//
// X0 <= X1 and Y0 <= Y1 is the caller's responsibility.
type Window struct {
	X0, X1 uint16
	Y0, Y1 uint16
}

// WindowOf returns the window covering r. r must not be empty.
func WindowOf(r image.Rectangle) Window {
	return Window{
		X0: uint16(r.Min.X),
		X1: uint16(r.Max.X - 1),
		Y0: uint16(r.Min.Y),
		Y1: uint16(r.Max.Y - 1),
	}
}

// Len returns the number of pixels in w.
func (w Window) Len() int {
	return (int(w.X1) - int(w.X0) + 1) * (int(w.Y1) - int(w.Y0) + 1)
}

// Rect returns w as an image.Rectangle.
func (w Window) Rect() image.Rectangle {
	return image.Rect(int(w.X0), int(w.Y0), int(w.X1)+1, int(w.Y1)+1)
}

func (w Window) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", w.X0, w.Y0, w.X1, w.Y1)
}

// SetAddressWindow sets the memory area the next RAMWR or RAMRD accesses. The
// display must be selected.
//
// When the bus implements bus.Preempter, interrupts stay masked during the
// sequence.
func (d *Dev) SetAddressWindow(w Window) error {
	if p, ok := d.b.(bus.Preempter); ok {
		p.DisableInterrupts()
		defer p.EnableInterrupts()
	}
	if err := d.SendCommandWithData(cmdCASET, bounds(w.X0, w.X1)); err != nil {
		return err
	}
	return d.SendCommandWithData(cmdPASET, bounds(w.Y0, w.Y1))
}

func bounds(start, end uint16) []byte {
	return []byte{byte(start >> 8), byte(start), byte(end >> 8), byte(end)}
}
