package ili9xxx

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/devices/v3/ili9xxx/bus"
)

// SendCommand sends a command byte with no argument. The display must be
// selected.
func (d *Dev) SendCommand(cmd byte) error {
	return d.writeCommand(cmd)
}

// SendCommandWithData sends a command byte followed by its arguments. The
// display must be selected.
func (d *Dev) SendCommandWithData(cmd byte, data []byte) error {
	if err := d.writeCommand(cmd); err != nil {
		return err
	}
	return d.writeData(data)
}

// ready waits until the bus is idle: no DMA transfer in flight and no burst
// in progress.
func (d *Dev) ready() error {
	if err := d.drain(); err != nil {
		return err
	}
	return d.b.AwaitBurst()
}

// writeCommand sends cmd as a single 8-bit burst with D/C low.
func (d *Dev) writeCommand(cmd byte) error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.dc.Out(gpio.Low); err != nil {
		return err
	}
	d.cmd[0] = d.packer.Word(cmd)
	return d.startBurst(d.cmd[:], 8)
}

// writeData sends data with D/C high, in as many bursts as needed.
func (d *Dev) writeData(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.dc.Out(gpio.High); err != nil {
		return err
	}
	for len(data) > 0 {
		var words []uint32
		var bits int
		words, bits, data = d.packer.Next(data)
		if err := d.startBurst(words, bits); err != nil {
			return err
		}
	}
	return nil
}

// startBurst sends one burst and waits for its completion.
func (d *Dev) startBurst(words []uint32, bits int) error {
	if err := d.b.StartBurst(words, bits); err != nil {
		return err
	}
	return d.b.AwaitBurst()
}

// queue starts a DMA transfer of buf with D/C high. The previous transfer
// must have been waited for.
func (d *Dev) queue(buf []byte) error {
	if err := d.dc.Out(gpio.High); err != nil {
		return err
	}
	if err := d.b.Queue(buf); err != nil {
		return err
	}
	d.inflight = true
	d.stats.DMAChunks++
	return nil
}

// waitDMA waits for the in-flight transfer, if any. The scratch buffer stays
// owned by the device.
func (d *Dev) waitDMA() error {
	if !d.inflight {
		return nil
	}
	d.inflight = false
	if err := d.b.Wait(d.dmaTimeout); err != nil {
		if errors.Is(err, bus.ErrTimeout) {
			return fmt.Errorf("%w: %w", ErrDMATimeout, err)
		}
		return err
	}
	return nil
}

// drain waits for the in-flight transfer, then releases its buffer.
func (d *Dev) drain() error {
	err := d.waitDMA()
	d.release()
	return err
}

// Wait blocks until the last asynchronous push completed.
func (d *Dev) Wait() error {
	return d.drain()
}
