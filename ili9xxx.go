package ili9xxx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/devices/v3/ili9xxx/bus"
	"periph.io/x/devices/v3/ili9xxx/pixel"
)

// Variant is the display controller model.
type Variant uint8

const (
	// ILI9341 is a 240x320 controller supporting 16 and 18-bit pixel writes.
	ILI9341 Variant = iota
	// ILI9488 is a 320x480 controller. Over SPI it only accepts 18-bit pixel
	// writes.
	ILI9488
)

func (v Variant) String() string {
	switch v {
	case ILI9341:
		return "ILI9341"
	case ILI9488:
		return "ILI9488"
	default:
		return fmt.Sprintf("Variant(%d)", v)
	}
}

// size returns the panel dimensions in portrait orientation.
func (v Variant) size() (w, h int) {
	if v == ILI9488 {
		return 320, 480
	}
	return 240, 320
}

var (
	// ErrSelect is returned when the display could not be selected.
	ErrSelect = errors.New("ili9xxx: failed to select display")
	// ErrDeselect is returned when the display could not be released.
	ErrDeselect = errors.New("ili9xxx: failed to deselect display")
	// ErrRelease is returned by reads when the display could not be released
	// at the end of the read.
	ErrRelease = errors.New("ili9xxx: failed to release display after read")
	// ErrDMATimeout is returned when a DMA transfer did not complete in time.
	// The transfer is dropped.
	ErrDMATimeout = errors.New("ili9xxx: DMA transfer timeout")
	// ErrNoDMAMemory is returned when the bus could not provide a DMA buffer.
	// Nothing of the push was sent.
	ErrNoDMAMemory = errors.New("ili9xxx: no DMA memory")
	// ErrHalted is returned by operations on a halted display.
	ErrHalted = errors.New("ili9xxx: halted")
)

// Opts is the configuration for the display.
type Opts struct {
	// Controller model
	Variant Variant

	// Panel dimensions in portrait orientation (default: the variant's native
	// size)
	W int
	H int
	// Orientation (default: Landscape, as left by the init table)
	Rotation Rotation

	// Color depth on the wire (default: Depth16; ILI9488 always uses Depth18)
	Depth pixel.Depth
	// Convert every pushed color to gray
	Grayscale bool
	// Fastest bus clock for memory reads (default: 16MHz)
	MaxReadSpeed physic.Frequency
	// Upper bound on a DMA completion wait (default: 1s)
	DMATimeout time.Duration

	// Optional reset and backlight pins
	RST gpio.PinOut
	BL  gpio.PinOut
	// Level turning the backlight on (default: gpio.High)
	BLActiveLow bool

	// Bus options used by NewSPI
	SPI *bus.SPIOpts

	// Clock used for reset and init delays (default: wall clock)
	Clock clockwork.Clock
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Variant:      ILI9341,
	Rotation:     Landscape,
	Depth:        pixel.Depth16,
	MaxReadSpeed: 16 * physic.MegaHertz,
	DMATimeout:   time.Second,
}

// Stats counts pixel pushes per transfer strategy.
type Stats struct {
	// Direct is the number of pushes sent through the burst registers.
	Direct int
	// DMA is the number of pushes sent by DMA.
	DMA int
	// DMAChunks is the number of DMA transfers queued. A repeated fill larger
	// than its scratch buffer takes more than one.
	DMAChunks int
}

// Dev is the device handle for an ILI9341 or ILI9488 display.
//
// A Dev must be driven from a single goroutine.
type Dev struct {
	// Communication
	b      bus.Bus
	dc     gpio.PinOut
	rst    gpio.PinOut
	bl     gpio.PinOut
	blOn   gpio.Level
	packer *bus.Packer
	burst  int // burst capacity in bits, read once from the bus
	cmd    [1]uint32
	direct []byte // burst sized conversion buffer
	sleep  func(time.Duration)

	// Configuration
	variant    Variant
	native     image.Point
	rotation   Rotation
	rect       image.Rectangle
	depth      pixel.Depth
	gray       bool
	maxRead    physic.Frequency
	dmaTimeout time.Duration

	// DMA
	inflight bool
	scratch  []byte // buffer owned by the in-flight transfer
	spare    []byte // reused when the bus has no allocator

	// Differential Draw
	next  *pixel.Image
	last  *pixel.Image
	stale bool
	rows  []pixel.Color

	stats  Stats
	halted bool
}

// New returns a Dev driving a display on b.
//
// dc is the data/command line. The display is not initialized, call Init.
//
// opts can be nil to use DefaultOpts.
func New(b bus.Bus, dc gpio.PinOut, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	if dc == nil {
		return nil, errors.New("ili9xxx: dc pin is required")
	}
	if opts.Variant != ILI9341 && opts.Variant != ILI9488 {
		return nil, fmt.Errorf("ili9xxx: unknown variant %d", opts.Variant)
	}
	if opts.Rotation >= rotations {
		return nil, fmt.Errorf("ili9xxx: unknown rotation %d", opts.Rotation)
	}
	w, h := opts.Variant.size()
	if opts.W != 0 || opts.H != 0 {
		w, h = opts.W, opts.H
	}
	if w <= 0 || h <= 0 || w > 0xFFFF || h > 0xFFFF {
		return nil, fmt.Errorf("ili9xxx: invalid dimensions %dx%d", w, h)
	}
	depth := opts.Depth
	if depth == 0 {
		depth = DefaultOpts.Depth
	}
	if !depth.Valid() {
		return nil, fmt.Errorf("ili9xxx: invalid color depth %d", depth)
	}
	if opts.Variant == ILI9488 {
		depth = pixel.Depth18
	}
	maxRead := opts.MaxReadSpeed
	if maxRead == 0 {
		maxRead = DefaultOpts.MaxReadSpeed
	}
	dmaTimeout := opts.DMATimeout
	if dmaTimeout == 0 {
		dmaTimeout = DefaultOpts.DMATimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	blOn := gpio.High
	if opts.BLActiveLow {
		blOn = gpio.Low
	}
	maxBits := b.MaxBurstBits()
	if maxBits < 32 {
		return nil, fmt.Errorf("ili9xxx: bus burst capacity of %d bits is too small", maxBits)
	}
	d := &Dev{
		b:          b,
		dc:         dc,
		rst:        opts.RST,
		bl:         opts.BL,
		blOn:       blOn,
		packer:     bus.NewPacker(binary.LittleEndian, maxBits),
		burst:      maxBits,
		direct:     make([]byte, maxBits/8),
		sleep:      clock.Sleep,
		variant:    opts.Variant,
		native:     image.Pt(w, h),
		depth:      depth,
		gray:       opts.Grayscale,
		maxRead:    maxRead,
		dmaTimeout: dmaTimeout,
	}
	d.setRect(opts.Rotation)
	return d, nil
}

// NewSPI connects to p, then initializes the display.
//
// The bus options come from opts.SPI. opts can be nil to use DefaultOpts.
func NewSPI(p spi.PortCloser, dc gpio.PinOut, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	b, err := bus.NewSPI(p, opts.SPI)
	if err != nil {
		return nil, err
	}
	d, err := New(b, dc, opts)
	if err != nil {
		return nil, err
	}
	if err := d.Init(); err != nil {
		return nil, err
	}
	return d, nil
}

// setRect updates the logical dimensions for rotation r.
func (d *Dev) setRect(r Rotation) {
	d.rotation = r
	w, h := d.native.X, d.native.Y
	if r.landscape() {
		w, h = h, w
	}
	d.rect = image.Rect(0, 0, w, h)
	d.next = nil
	d.last = nil
}

// Init resets the display, runs the controller init table, then applies the
// configured depth and rotation and clears the screen.
//
// The backlight, if any, is off during the sequence.
func (d *Dev) Init() error {
	d.halted = false
	if err := d.backlight(false); err != nil {
		return err
	}
	if d.rst != nil {
		if err := d.rst.Out(gpio.Low); err != nil {
			return fmt.Errorf("ili9xxx: failed to pull RST low: %w", err)
		}
		d.sleep(100 * time.Millisecond)
		if err := d.rst.Out(gpio.High); err != nil {
			return fmt.Errorf("ili9xxx: failed to pull RST high: %w", err)
		}
		d.sleep(100 * time.Millisecond)
	}
	log.Debug().Stringer("variant", d.variant).Msg("ili9xxx: running init table")
	if err := d.Select(); err != nil {
		return fmt.Errorf("%w: %w", ErrSelect, err)
	}
	if err := d.runScript(initScripts[d.variant]); err != nil {
		_ = d.Deselect()
		return err
	}
	if err := d.Deselect(); err != nil {
		return fmt.Errorf("%w: %w", ErrDeselect, err)
	}
	// The init table leaves the controller at 16 bits on ILI9341.
	if err := d.setDepth(d.depth, true); err != nil {
		return err
	}
	if err := d.SetRotation(d.rotation); err != nil {
		return err
	}
	if err := d.Clear(); err != nil {
		return err
	}
	log.Debug().
		Stringer("variant", d.variant).
		Int("depth", int(d.depth)).
		Stringer("rotation", d.rotation).
		Msg("ili9xxx: display ready")
	return d.backlight(true)
}

func (d *Dev) backlight(on bool) error {
	if d.bl == nil {
		return nil
	}
	l := d.blOn
	if !on {
		l = !l
	}
	if err := d.bl.Out(l); err != nil {
		return fmt.Errorf("ili9xxx: failed to drive backlight: %w", err)
	}
	return nil
}

// Select selects the display on the bus. It first waits for an in-flight
// DMA transfer.
func (d *Dev) Select() error {
	if d.halted {
		return ErrHalted
	}
	if err := d.drain(); err != nil {
		return err
	}
	return d.b.Select(bus.Display)
}

// Deselect releases the display. It first waits for an in-flight DMA
// transfer.
func (d *Dev) Deselect() error {
	if err := d.drain(); err != nil {
		return err
	}
	return d.b.Deselect(bus.Display)
}

// SetDepth selects the color depth of pixel writes.
//
// ILI9488 only supports Depth18; the request is ignored.
func (d *Dev) SetDepth(depth pixel.Depth) error {
	return d.setDepth(depth, false)
}

func (d *Dev) setDepth(depth pixel.Depth, force bool) error {
	if !depth.Valid() {
		return fmt.Errorf("ili9xxx: invalid color depth %d", depth)
	}
	if d.variant == ILI9488 {
		return nil
	}
	if depth == d.depth && !force {
		return nil
	}
	if err := d.inSelection(func() error {
		return d.SendCommandWithData(cmdPIXFMT, []byte{depth.PixelFormat()})
	}); err != nil {
		return err
	}
	d.depth = depth
	return nil
}

// Depth returns the color depth of pixel writes.
func (d *Dev) Depth() pixel.Depth {
	return d.depth
}

// SetGrayscale enables or disables conversion of pushed colors to gray.
func (d *Dev) SetGrayscale(on bool) {
	d.gray = on
}

// Grayscale reports whether pushed colors are converted to gray.
func (d *Dev) Grayscale() bool {
	return d.gray
}

// SetMaxReadSpeed sets the fastest bus clock used for memory reads.
func (d *Dev) SetMaxReadSpeed(f physic.Frequency) {
	d.maxRead = f
}

// MaxReadSpeed returns the fastest bus clock used for memory reads.
func (d *Dev) MaxReadSpeed() physic.Frequency {
	return d.maxRead
}

// Stats returns the push counters.
func (d *Dev) Stats() Stats {
	return d.stats
}

// SetRotation changes the orientation. Landscape orientations swap the width
// and height of Bounds.
func (d *Dev) SetRotation(r Rotation) error {
	if r >= rotations {
		return fmt.Errorf("ili9xxx: unknown rotation %d", r)
	}
	if err := d.inSelection(func() error {
		return d.SendCommandWithData(cmdMADCTL, []byte{madctl[d.variant][r]})
	}); err != nil {
		return err
	}
	if r != d.rotation {
		d.setRect(r)
	}
	return nil
}

// Rotation returns the current orientation.
func (d *Dev) Rotation() Rotation {
	return d.rotation
}

// Invert inverts the display colors.
func (d *Dev) Invert(invert bool) error {
	cmd := byte(cmdINVOFF)
	if invert {
		cmd = cmdINVON
	}
	return d.inSelection(func() error {
		return d.SendCommand(cmd)
	})
}

// FillRect fills w with c.
func (d *Dev) FillRect(w Window, c pixel.Color) error {
	d.stale = true
	return d.inSelection(func() error {
		if err := d.SetAddressWindow(w); err != nil {
			return err
		}
		return d.PushRepeated(c, w.Len())
	})
}

// WriteRect writes colors to w, row by row. len(colors) must be w.Len().
func (d *Dev) WriteRect(w Window, colors []pixel.Color) error {
	if len(colors) != w.Len() {
		return fmt.Errorf("ili9xxx: %d pixels for a window of %d", len(colors), w.Len())
	}
	d.stale = true
	return d.inSelection(func() error {
		if err := d.SetAddressWindow(w); err != nil {
			return err
		}
		return d.PushBuffer(colors)
	})
}

// DrawPixel sets the pixel at x, y to c.
func (d *Dev) DrawPixel(x, y int, c pixel.Color) error {
	if !image.Pt(x, y).In(d.rect) {
		return nil
	}
	return d.FillRect(Window{X0: uint16(x), X1: uint16(x), Y0: uint16(y), Y1: uint16(y)}, c)
}

// Clear fills the screen with black.
func (d *Dev) Clear() error {
	return d.FillRect(WindowOf(d.rect), pixel.Color{})
}

// inSelection runs f with the display selected.
func (d *Dev) inSelection(f func() error) error {
	if err := d.Select(); err != nil {
		if errors.Is(err, ErrHalted) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrSelect, err)
	}
	if err := f(); err != nil {
		_ = d.Deselect()
		return err
	}
	if err := d.Deselect(); err != nil {
		return fmt.Errorf("%w: %w", ErrDeselect, err)
	}
	return nil
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return pixel.Model
}

// Bounds implements display.Drawer.
func (d *Dev) Bounds() image.Rectangle {
	return d.rect
}

// Draw implements display.Drawer.
//
// Only the pixels that changed since the previous Draw are sent. Writes done
// through the other methods are not tracked, so the first Draw after them
// sends the whole destination rectangle.
func (d *Dev) Draw(dst image.Rectangle, src image.Image, sp image.Point) error {
	if d.halted {
		return ErrHalted
	}
	dst = dst.Intersect(d.rect)
	if dst.Empty() {
		return nil
	}
	if d.next == nil {
		d.next = pixel.NewImage(d.rect)
		d.last = pixel.NewImage(d.rect)
		d.stale = true
	}
	draw.Draw(d.next, dst, src, sp, draw.Src)

	r := d.diff()
	if d.stale {
		r = r.Union(dst)
	}
	if r.Empty() {
		return nil
	}
	d.rows = d.rows[:0]
	for y := r.Min.Y; y < r.Max.Y; y++ {
		d.rows = append(d.rows, d.next.Row(y, r.Min.X, r.Max.X)...)
	}
	if err := d.WriteRect(WindowOf(r), d.rows); err != nil {
		return err
	}
	copy(d.last.Pix, d.next.Pix)
	d.stale = false
	return nil
}

// diff returns the smallest rectangle holding every pixel that differs
// between d.next and d.last.
func (d *Dev) diff() image.Rectangle {
	minX, maxX := d.rect.Max.X, -1
	minY, maxY := d.rect.Max.Y, -1
	for y := d.rect.Min.Y; y < d.rect.Max.Y; y++ {
		next := d.next.Row(y, d.rect.Min.X, d.rect.Max.X)
		last := d.last.Row(y, d.rect.Min.X, d.rect.Max.X)
		for x := range next {
			if next[x] == last[x] {
				continue
			}
			if y < minY {
				minY = y
			}
			maxY = y
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
		}
	}
	if maxX < 0 {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// Halt turns the display off. It must be initialized again with Init.
func (d *Dev) Halt() error {
	if d.halted {
		return nil
	}
	err := d.inSelection(func() error {
		return d.SendCommand(cmdDISPOFF)
	})
	d.halted = true
	return errors.Join(err, d.backlight(false))
}

func (d *Dev) String() string {
	return fmt.Sprintf("ili9xxx.Dev{%s, %dx%d}", d.variant, d.rect.Dx(), d.rect.Dy())
}

var _ display.Drawer = &Dev{}
