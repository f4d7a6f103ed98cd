// Package bustest implements a simulated ILI9341/ILI9488 controller behind a
// bus.Bus, to test drivers without hardware.
package bustest

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ili9xxx/bus"
	"periph.io/x/devices/v3/ili9xxx/internal/syncutil"
	"periph.io/x/devices/v3/ili9xxx/pixel"
)

// Controller commands understood by Sim.
const (
	cmdSWRESET = 0x01
	cmdCASET   = 0x2A
	cmdPASET   = 0x2B
	cmdRAMWR   = 0x2C
	cmdRAMRD   = 0x2E
	cmdCOLMOD  = 0x3A
)

// DummyByte is the value of the byte a memory read returns before the first
// pixel.
const DummyByte = 0xA5

// ErrAlloc is returned by AllocDMA when the request exceeds AllocLimit.
var ErrAlloc = errors.New("bustest: out of DMA memory")

// Stats counts the traffic seen by a Sim.
type Stats struct {
	Selects   int
	Deselects int
	Bursts    int
	Commands  int
	DMA       int
	Receives  int
	// Bytes is the number of bytes written, both paths included.
	Bytes     int
	IRQOff    int
	IRQOn     int
	Allocs    int
	Frees     int
	Transfers int
}

// Sim is a bus.Bus connected to a simulated display controller with its own
// graphic memory, and a touch controller returning a fixed value.
//
// The D/C line of the controller is DC. The driver under test must drive it.
//
// Exported fields must be set before the first transfer.
type Sim struct {
	// DC is the data/command line. Low selects command mode.
	DC *gpiotest.Pin
	// Clock drives DMA latency and Wait timeouts.
	Clock clockwork.Clock
	// Latency is how long a queued transfer takes to complete.
	Latency time.Duration
	// ReadLimit is the fastest clock at which memory reads are correct. Reads
	// above it return corrupted pixels. 0 means no limit.
	ReadLimit physic.Frequency
	// TouchValue is the 12-bit sample returned to every touch query.
	TouchValue uint16
	// AllocLimit is the largest buffer AllocDMA hands out. 0 means no limit.
	AllocLimit int
	// SelectHook and DeselectHook run before each Select and Deselect. A
	// non-nil error is returned as is and the selection is left unchanged.
	SelectHook   func(e bus.Endpoint) error
	DeselectHook func(e bus.Endpoint) error

	w, h    int
	maxBits int

	mu       syncutil.Mutex
	speed    physic.Frequency
	selected bus.Endpoint
	active   bool
	done     chan struct{}
	stats    Stats
	irq      int
	live     int
	depth    pixel.Depth
	gram     []pixel.Color
	log      []byte
	argLog   map[byte][]byte
	cmd      byte
	args     []byte
	x0, x1   int
	y0, y1   int
	cx, cy   int
	reading  bool
	pending  []byte
}

// NewSim returns a Sim with a w×h graphic memory, a 512 bits burst capacity
// and a bus running at 40MHz.
func NewSim(w, h int) *Sim {
	return &Sim{
		DC:      &gpiotest.Pin{N: "DC", Num: 26},
		Clock:   clockwork.NewRealClock(),
		w:       w,
		h:       h,
		maxBits: 512,
		speed:   40 * physic.MegaHertz,
		depth:   pixel.Depth18,
		gram:    make([]pixel.Color, w*h),
		argLog:  map[byte][]byte{},
		x1:      w - 1,
		y1:      h - 1,
	}
}

func (s *Sim) String() string {
	return fmt.Sprintf("bustest.Sim{%dx%d}", s.w, s.h)
}

// SetMaxBurstBits changes the burst capacity.
func (s *Sim) SetMaxBurstBits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxBits = n
}

// Stats returns a snapshot of the traffic counters.
func (s *Sim) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Commands returns every command byte received, in order.
func (s *Sim) Commands() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.log...)
}

// Args returns the arguments sent with the last occurrence of cmd. Pixel
// data is not recorded.
func (s *Sim) Args(cmd byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.argLog[cmd]...)
}

// Window returns the current address window.
func (s *Sim) Window() (x0, x1, y0, y1 int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.x0, s.x1, s.y0, s.y1
}

// Depth returns the pixel format last selected with COLMOD.
func (s *Sim) Depth() pixel.Depth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

// ColorAt returns the pixel stored at x, y, at the resolution the controller
// keeps it.
func (s *Sim) ColorAt(x, y int) pixel.Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	if x < 0 || y < 0 || x >= s.w || y >= s.h {
		return pixel.Color{}
	}
	return s.gram[y*s.w+x]
}

// Selected returns the selected endpoint, if any.
func (s *Sim) Selected() (bus.Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.active
}

// InFlight reports whether a queued transfer has not completed yet.
func (s *Sim) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight()
}

// IRQDisabled reports whether interrupts are currently masked.
func (s *Sim) IRQDisabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.irq > 0
}

// LiveDMA returns the number of DMA buffers allocated and not yet freed.
func (s *Sim) LiveDMA() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// s.mu must be held.
func (s *Sim) inFlight() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Select implements bus.Bus.
func (s *Sim) Select(e bus.Endpoint) error {
	if s.SelectHook != nil {
		if err := s.SelectHook(e); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight() {
		return bus.ErrBusy
	}
	if s.active && s.selected != e {
		return bus.ErrBusy
	}
	s.selected = e
	s.active = true
	s.stats.Selects++
	return nil
}

// Deselect implements bus.Bus.
func (s *Sim) Deselect(e bus.Endpoint) error {
	if s.DeselectHook != nil {
		if err := s.DeselectHook(e); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight() {
		return bus.ErrBusy
	}
	if s.active && s.selected == e {
		s.active = false
		s.stats.Deselects++
	}
	return nil
}

// Speed implements bus.Bus.
func (s *Sim) Speed() physic.Frequency {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// SetSpeed implements bus.Bus.
func (s *Sim) SetSpeed(f physic.Frequency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active || s.inFlight() {
		return bus.ErrBusy
	}
	s.speed = f
	return nil
}

// MaxBurstBits implements bus.Bus.
func (s *Sim) MaxBurstBits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxBits
}

// StartBurst implements bus.Bus.
func (s *Sim) StartBurst(words []uint32, bits int) error {
	dc := s.DC.Read()
	s.mu.Lock()
	defer s.mu.Unlock()
	if bits > s.maxBits {
		return fmt.Errorf("bustest: burst of %d bits exceeds %d", bits, s.maxBits)
	}
	if s.inFlight() {
		return bus.ErrBusy
	}
	if !s.active {
		return bus.ErrNotSelected
	}
	s.stats.Bursts++
	if s.selected != bus.Display {
		return nil
	}
	var b [64]byte
	s.feed(dc, bus.AppendBurst(b[:0], words, bits))
	return nil
}

// AwaitBurst implements bus.Bus.
func (s *Sim) AwaitBurst() error {
	return nil
}

// Receive implements bus.Bus.
func (s *Sim) Receive(r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight() {
		return bus.ErrBusy
	}
	if !s.active {
		return bus.ErrNotSelected
	}
	s.stats.Receives++
	if s.selected == bus.Touch {
		v := s.TouchValue << 4
		for i := range r {
			r[i] = 0
		}
		if len(r) > 0 {
			r[0] = byte(v >> 8)
		}
		if len(r) > 1 {
			r[1] = byte(v)
		}
		return nil
	}
	if s.cmd != cmdRAMRD {
		for i := range r {
			r[i] = 0
		}
		return nil
	}
	corrupt := s.ReadLimit != 0 && s.speed > s.ReadLimit
	for i := range r {
		if !s.reading {
			r[i] = DummyByte
			s.reading = true
			continue
		}
		if len(s.pending) == 0 {
			s.pending = s.readPixel(s.pending[:0], corrupt)
		}
		r[i] = s.pending[0]
		s.pending = s.pending[1:]
	}
	return nil
}

// readPixel appends the 3 bytes the controller returns for the pixel under
// the cursor and advances it.
func (s *Sim) readPixel(dst []byte, corrupt bool) []byte {
	var c pixel.Color
	if s.cx < s.w && s.cy < s.h {
		c = s.gram[s.cy*s.w+s.cx]
	}
	s.advance()
	if corrupt {
		c.G ^= 0x80
		c.R ^= 0x40
	}
	return append(dst, c.R, c.G, c.B)
}

// Queue implements bus.Bus.
func (s *Sim) Queue(w []byte) error {
	dc := s.DC.Read()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight() {
		return bus.ErrBusy
	}
	if !s.active {
		return bus.ErrNotSelected
	}
	s.stats.DMA++
	done := make(chan struct{})
	s.done = done
	var timer <-chan time.Time
	if s.Latency > 0 {
		timer = s.Clock.After(s.Latency)
	}
	go func() {
		if timer != nil {
			<-timer
		}
		s.mu.Lock()
		s.feed(dc, w)
		s.stats.Transfers++
		s.mu.Unlock()
		close(done)
	}()
	return nil
}

// Wait implements bus.Bus.
func (s *Sim) Wait(timeout time.Duration) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
	default:
		select {
		case <-done:
		case <-s.Clock.After(timeout):
			return bus.ErrTimeout
		}
	}
	s.mu.Lock()
	if s.done == done {
		s.done = nil
	}
	s.mu.Unlock()
	return nil
}

// DisableInterrupts implements bus.Preempter.
func (s *Sim) DisableInterrupts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irq++
	s.stats.IRQOff++
}

// EnableInterrupts implements bus.Preempter.
func (s *Sim) EnableInterrupts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irq--
	s.stats.IRQOn++
}

// AllocDMA implements bus.Allocator.
func (s *Sim) AllocDMA(n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AllocLimit > 0 && n > s.AllocLimit {
		return nil, ErrAlloc
	}
	s.stats.Allocs++
	s.live++
	return make([]byte, n), nil
}

// FreeDMA implements bus.Allocator.
func (s *Sim) FreeDMA(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Frees++
	s.live--
}

// feed runs bytes received with D/C at level dc through the controller.
//
// s.mu must be held.
func (s *Sim) feed(dc gpio.Level, data []byte) {
	s.stats.Bytes += len(data)
	if dc == gpio.Low {
		for _, b := range data {
			s.command(b)
		}
		return
	}
	for _, b := range data {
		s.data(b)
	}
}

func (s *Sim) command(b byte) {
	s.stats.Commands++
	s.log = append(s.log, b)
	s.cmd = b
	s.args = s.args[:0]
	s.argLog[b] = nil
	switch b {
	case cmdRAMWR, cmdRAMRD:
		s.cx, s.cy = s.x0, s.y0
		s.reading = false
		s.pending = s.pending[:0]
	case cmdSWRESET:
		s.depth = pixel.Depth18
		s.x0, s.x1, s.y0, s.y1 = 0, s.w-1, 0, s.h-1
	}
}

func (s *Sim) data(b byte) {
	s.args = append(s.args, b)
	if s.cmd != cmdRAMWR {
		s.argLog[s.cmd] = append(s.argLog[s.cmd], b)
	}
	switch s.cmd {
	case cmdCASET:
		if len(s.args) == 4 {
			s.x0 = int(s.args[0])<<8 | int(s.args[1])
			s.x1 = int(s.args[2])<<8 | int(s.args[3])
		}
	case cmdPASET:
		if len(s.args) == 4 {
			s.y0 = int(s.args[0])<<8 | int(s.args[1])
			s.y1 = int(s.args[2])<<8 | int(s.args[3])
		}
	case cmdCOLMOD:
		switch b {
		case pixel.Depth16.PixelFormat():
			s.depth = pixel.Depth16
		case pixel.Depth18.PixelFormat():
			s.depth = pixel.Depth18
		}
	case cmdRAMWR:
		if len(s.args) < s.depth.Size() {
			return
		}
		c := s.depth.Unpack(s.args)
		s.args = s.args[:0]
		if s.cx < s.w && s.cy < s.h {
			s.gram[s.cy*s.w+s.cx] = c
		}
		s.advance()
	}
}

// advance moves the memory cursor to the next pixel of the window, wrapping
// at its end.
func (s *Sim) advance() {
	s.cx++
	if s.cx > s.x1 {
		s.cx = s.x0
		s.cy++
		if s.cy > s.y1 {
			s.cy = s.y0
		}
	}
}

var _ bus.Bus = &Sim{}
var _ bus.Preempter = &Sim{}
var _ bus.Allocator = &Sim{}
