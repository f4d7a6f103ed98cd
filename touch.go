package ili9xxx

import (
	"fmt"

	"periph.io/x/devices/v3/ili9xxx/bus"
)

// TouchData sends cmd to the touch controller sharing the bus and returns the
// 12-bit sample it answers with.
//
// The display must not be selected. Use TouchX, TouchY, TouchZ1 and TouchZ2
// for cmd.
func (d *Dev) TouchData(cmd byte) (int, error) {
	if err := d.drain(); err != nil {
		return 0, err
	}
	if err := d.b.Select(bus.Touch); err != nil {
		return 0, fmt.Errorf("ili9xxx: failed to select touch controller: %w", err)
	}
	defer func() {
		_ = d.b.Deselect(bus.Touch)
	}()
	d.cmd[0] = d.packer.Word(cmd)
	if err := d.startBurst(d.cmd[:], 8); err != nil {
		return 0, err
	}
	var r [2]byte
	if err := d.b.Receive(r[:]); err != nil {
		return 0, err
	}
	return (int(r[0])<<8 | int(r[1])) >> 4, nil
}
