// Package bus defines the synchronous serial bus driven by the ili9xxx
// transfer engine, a word packer for burst registers, and an implementation
// on top of a periph.io SPI port.
//
// A Bus exposes two kinds of transfer:
//
// - bursts: up to MaxBurstBits bits loaded into hardware registers and
// shifted out synchronously (StartBurst then AwaitBurst);
//
// - DMA transfers: a byte buffer streamed asynchronously (Queue then Wait).
// The caller owns nothing of the buffer until Wait returned.
//
// Two endpoints share the bus, the display and the touch controller. At most
// one of them is selected at any time.
package bus

import (
	"errors"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Endpoint is one of the devices sharing the bus.
type Endpoint uint8

const (
	// Display is the TFT controller.
	Display Endpoint = iota
	// Touch is the resistive touch controller.
	Touch
)

func (e Endpoint) String() string {
	switch e {
	case Display:
		return "display"
	case Touch:
		return "touch"
	default:
		return "unknown"
	}
}

var (
	// ErrBusy is returned when an operation needs the bus while another
	// endpoint is selected or a DMA transfer is in flight.
	ErrBusy = errors.New("bus: busy")
	// ErrTimeout is returned by Wait when the transfer did not complete in time.
	ErrTimeout = errors.New("bus: transfer timeout")
	// ErrNotSelected is returned when a transfer is started with no endpoint
	// selected.
	ErrNotSelected = errors.New("bus: no endpoint selected")
)

// Bus is a selectable synchronous serial bus with burst registers and a DMA
// engine.
type Bus interface {
	// Select asserts the chip select of e.
	Select(e Endpoint) error
	// Deselect releases the chip select of e. It is a no-op when e is not
	// selected.
	Deselect(e Endpoint) error

	// Speed returns the current bus clock.
	Speed() physic.Frequency
	// SetSpeed changes the bus clock. It must be called with no endpoint
	// selected.
	SetSpeed(f physic.Frequency) error

	// MaxBurstBits returns the capacity of the burst registers.
	MaxBurstBits() int
	// StartBurst loads words and starts shifting out bits bits. Bytes are
	// taken from each word least significant byte first.
	StartBurst(words []uint32, bits int) error
	// AwaitBurst blocks until the last started burst completed.
	AwaitBurst() error
	// Receive clocks in len(r) bytes from the selected endpoint.
	Receive(r []byte) error

	// Queue starts streaming w by DMA. w must not be modified until Wait
	// returned.
	Queue(w []byte) error
	// Wait blocks until the queued transfer completed, or timeout elapsed.
	// It returns immediately when nothing is queued.
	Wait(timeout time.Duration) error
}

// Preempter is implemented by buses on which an interrupt firing between two
// bursts corrupts the D/C line timing.
type Preempter interface {
	DisableInterrupts()
	EnableInterrupts()
}

// Allocator is implemented by buses whose DMA engine can only read from a
// dedicated memory region.
type Allocator interface {
	// AllocDMA returns a DMA capable buffer of n bytes.
	AllocDMA(n int) ([]byte, error)
	// FreeDMA releases a buffer returned by AllocDMA.
	FreeDMA(b []byte)
}
