package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/devices/v3/ili9xxx/internal/syncutil"
)

// SPIOpts is optional configuration for NewSPI.
type SPIOpts struct {
	// Speed is the initial bus clock. Defaults to 40MHz.
	Speed physic.Frequency
	// Mode defaults to spi.Mode0.
	Mode spi.Mode
	// DisplayCS and TouchCS are active low chip select lines driven by SPI.
	// Leave DisplayCS nil when the port asserts its own CS line.
	DisplayCS gpio.PinOut
	TouchCS   gpio.PinOut
	// MaxBurstBits is the number of bits sent per Tx call on the burst path.
	// Defaults to 512.
	MaxBurstBits int
	// Clock drives the DMA timeout. Defaults to the wall clock.
	Clock clockwork.Clock
}

// DefaultSPIOpts is the recommended default options.
var DefaultSPIOpts = SPIOpts{
	Speed:        40 * physic.MegaHertz,
	Mode:         spi.Mode0,
	MaxBurstBits: 512,
}

// SPI implements Bus on top of a periph.io SPI port.
//
// Bursts are sent with a synchronous Tx call. Queued transfers run Tx on a
// separate goroutine, so the caller can keep preparing the next buffer while
// the kernel driver clocks the previous one out.
type SPI struct {
	port      spi.PortCloser
	c         spi.Conn
	displayCS gpio.PinOut
	touchCS   gpio.PinOut
	maxBits   int
	clock     clockwork.Clock

	mu       syncutil.Mutex
	speed    physic.Frequency
	selected Endpoint
	active   bool
	done     chan error
	burst    []byte
}

// NewSPI connects to p and returns a Bus.
//
// p must not be connected already.
func NewSPI(p spi.PortCloser, opts *SPIOpts) (*SPI, error) {
	if opts == nil {
		opts = &DefaultSPIOpts
	}
	speed := opts.Speed
	if speed == 0 {
		speed = DefaultSPIOpts.Speed
	}
	maxBits := opts.MaxBurstBits
	if maxBits == 0 {
		maxBits = DefaultSPIOpts.MaxBurstBits
	}
	if maxBits < 32 || maxBits%32 != 0 {
		return nil, fmt.Errorf("bus: MaxBurstBits must be a positive multiple of 32, got %d", maxBits)
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if err := p.LimitSpeed(speed); err != nil {
		return nil, fmt.Errorf("bus: failed to limit speed: %w", err)
	}
	c, err := p.Connect(speed, opts.Mode, 8)
	if err != nil {
		return nil, fmt.Errorf("bus: failed to connect: %w", err)
	}
	s := &SPI{
		port:      p,
		c:         c,
		displayCS: opts.DisplayCS,
		touchCS:   opts.TouchCS,
		maxBits:   maxBits,
		clock:     clock,
		speed:     speed,
		burst:     make([]byte, 0, maxBits/8),
	}
	for _, cs := range []gpio.PinOut{s.displayCS, s.touchCS} {
		if cs == nil {
			continue
		}
		if err := cs.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("bus: failed to release %s: %w", cs, err)
		}
	}
	return s, nil
}

func (s *SPI) String() string {
	return fmt.Sprintf("bus.SPI{%s}", s.c)
}

func (s *SPI) cs(e Endpoint) gpio.PinOut {
	if e == Touch {
		return s.touchCS
	}
	return s.displayCS
}

// pending reports whether a queued transfer has not been waited for.
//
// s.mu must be held.
func (s *SPI) pending() bool {
	return s.done != nil
}

// Select implements Bus.
func (s *SPI) Select(e Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending() {
		return ErrBusy
	}
	if s.active {
		if s.selected == e {
			return nil
		}
		return ErrBusy
	}
	if e == Touch && s.touchCS == nil {
		return fmt.Errorf("bus: no chip select for %s", e)
	}
	if cs := s.cs(e); cs != nil {
		if err := cs.Out(gpio.Low); err != nil {
			return err
		}
	}
	s.selected = e
	s.active = true
	return nil
}

// Deselect implements Bus.
func (s *SPI) Deselect(e Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending() {
		return ErrBusy
	}
	if !s.active || s.selected != e {
		return nil
	}
	if cs := s.cs(e); cs != nil {
		if err := cs.Out(gpio.High); err != nil {
			return err
		}
	}
	s.active = false
	return nil
}

// Speed implements Bus.
func (s *SPI) Speed() physic.Frequency {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// SetSpeed implements Bus.
func (s *SPI) SetSpeed(f physic.Frequency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending() || s.active {
		return ErrBusy
	}
	if err := s.port.LimitSpeed(f); err != nil {
		return err
	}
	s.speed = f
	return nil
}

// MaxBurstBits implements Bus.
func (s *SPI) MaxBurstBits() int {
	return s.maxBits
}

// StartBurst implements Bus.
//
// The transfer completes before StartBurst returns.
func (s *SPI) StartBurst(words []uint32, bits int) error {
	if bits > s.maxBits {
		return fmt.Errorf("bus: burst of %d bits exceeds %d", bits, s.maxBits)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending() {
		return ErrBusy
	}
	if !s.active {
		return ErrNotSelected
	}
	s.burst = AppendBurst(s.burst[:0], words, bits)
	return s.c.Tx(s.burst, nil)
}

// AwaitBurst implements Bus.
func (s *SPI) AwaitBurst() error {
	return nil
}

// Receive implements Bus.
func (s *SPI) Receive(r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending() {
		return ErrBusy
	}
	if !s.active {
		return ErrNotSelected
	}
	return s.c.Tx(nil, r)
}

// Queue implements Bus.
func (s *SPI) Queue(w []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending() {
		return ErrBusy
	}
	if !s.active {
		return ErrNotSelected
	}
	done := make(chan error, 1)
	s.done = done
	go func() {
		done <- s.c.Tx(w, nil)
	}()
	return nil
}

// Wait implements Bus.
//
// On timeout the transfer is forgotten. The goroutine running it exits when
// the underlying Tx call returns.
func (s *SPI) Wait(timeout time.Duration) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	var err error
	select {
	case err = <-done:
	case <-s.clock.After(timeout):
		err = ErrTimeout
	}
	s.mu.Lock()
	s.done = nil
	s.mu.Unlock()
	return err
}

// Close waits for a queued transfer, releases the chip selects and closes the
// port.
func (s *SPI) Close() error {
	err := s.Wait(time.Second)
	for _, cs := range []gpio.PinOut{s.displayCS, s.touchCS} {
		if cs != nil {
			err = errors.Join(err, cs.Out(gpio.High))
		}
	}
	return errors.Join(err, s.port.Close())
}

var _ Bus = &SPI{}
