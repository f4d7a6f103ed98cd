package ili9xxx

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/devices/v3/ili9xxx/bus"
	"periph.io/x/devices/v3/ili9xxx/pixel"
	"pgregory.net/rapid"
)

var sample = pixel.Color{R: 0xEC, G: 0xA8, B: 0x74}

func TestSendCommandWithData(t *testing.T) {
	d, s := newTestDev(t, nil)
	require.NoError(t, d.Select())

	require.NoError(t, d.SendCommand(0x13))
	assert.Equal(t, gpio.Low, s.DC.Read())
	require.NoError(t, d.SendCommandWithData(0xC5, []byte{0x3E, 0x28}))
	assert.Equal(t, gpio.High, s.DC.Read())
	assert.Equal(t, []byte{0x13, 0xC5}, s.Commands())
	assert.Equal(t, []byte{0x3E, 0x28}, s.Args(0xC5))

	// 100 bytes take two 512 bits bursts.
	before := s.Stats().Bursts
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, d.SendCommandWithData(0xE0, data))
	assert.Equal(t, before+3, s.Stats().Bursts)
	assert.Equal(t, data, s.Args(0xE0))
}

func TestSendCommandNotSelected(t *testing.T) {
	d, _ := newTestDev(t, nil)
	assert.ErrorIs(t, d.SendCommand(0x00), bus.ErrNotSelected)
}

func TestSetAddressWindow(t *testing.T) {
	d, s := newTestDev(t, nil)
	require.NoError(t, d.Select())

	require.NoError(t, d.SetAddressWindow(Window{X0: 0x012, X1: 0x13F, Y0: 5, Y1: 0xEF}))
	assert.Equal(t, []byte{cmdCASET, cmdPASET}, s.Commands())
	assert.Equal(t, []byte{0x00, 0x12, 0x01, 0x3F}, s.Args(cmdCASET))
	assert.Equal(t, []byte{0x00, 0x05, 0x00, 0xEF}, s.Args(cmdPASET))
	assert.Equal(t, 1, s.Stats().IRQOff)
	assert.Equal(t, 1, s.Stats().IRQOn)

	// Interrupts are enabled again on failure.
	require.NoError(t, d.Deselect())
	assert.Error(t, d.SetAddressWindow(Window{}))
	assert.False(t, s.IRQDisabled())
}

func TestWindow(t *testing.T) {
	w := Window{X0: 2, X1: 5, Y0: 10, Y1: 10}
	assert.Equal(t, 4, w.Len())
	assert.Equal(t, image.Rect(2, 10, 6, 11), w.Rect())
	assert.Equal(t, w, WindowOf(w.Rect()))
	assert.Equal(t, "(2,10)-(5,10)", w.String())
	assert.Equal(t, 1, Window{}.Len())
}

func TestPushStrategy(t *testing.T) {
	tests := []struct {
		name      string
		depth     pixel.Depth
		n         int
		wantDMA   bool
		wantBurst int
	}{
		{"16-bit at limit", pixel.Depth16, 32, false, 2},
		{"16-bit above limit", pixel.Depth16, 33, true, 1},
		{"18-bit at limit", pixel.Depth18, 21, false, 2},
		{"18-bit above limit", pixel.Depth18, 22, true, 1},
		{"single pixel", pixel.Depth18, 1, false, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, repeated := range []bool{true, false} {
				d, s := newTestDev(t, &Opts{W: 24, H: 32, Depth: tt.depth})
				require.NoError(t, d.Select())
				before := s.Stats()
				if repeated {
					require.NoError(t, d.PushRepeated(sample, tt.n))
				} else {
					colors := make([]pixel.Color, tt.n)
					for i := range colors {
						colors[i] = sample
					}
					require.NoError(t, d.PushBuffer(colors))
				}
				after := s.Stats()
				assert.Equal(t, tt.wantBurst, after.Bursts-before.Bursts, "repeated=%t", repeated)
				if tt.wantDMA {
					assert.Equal(t, Stats{DMA: 1, DMAChunks: 1}, d.Stats(), "repeated=%t", repeated)
					assert.Equal(t, 1, after.DMA)
				} else {
					assert.Equal(t, Stats{Direct: 1}, d.Stats(), "repeated=%t", repeated)
					assert.Zero(t, after.DMA)
				}
				assert.Equal(t, tt.n*tt.depth.Size(), after.Bytes-before.Bytes-1, "repeated=%t", repeated)
				assert.Zero(t, s.LiveDMA())
			}
		})
	}
}

func TestPushEmpty(t *testing.T) {
	d, s := newTestDev(t, nil)
	require.NoError(t, d.Select())
	before := s.Stats()
	require.NoError(t, d.PushRepeated(sample, 0))
	require.NoError(t, d.PushBuffer(nil))
	require.NoError(t, d.PushRepeatedAsync(sample, 0))
	require.NoError(t, d.PushBufferAsync([]pixel.Color{}))
	assert.Equal(t, before, s.Stats())
	assert.Equal(t, Stats{}, d.Stats())
}

func TestFillReadBack(t *testing.T) {
	tests := []struct {
		depth pixel.Depth
		want  pixel.Color
	}{
		{pixel.Depth18, pixel.Color{R: 0xEC, G: 0xA8, B: 0x74}},
		{pixel.Depth16, pixel.Color{R: 0xE8, G: 0xA8, B: 0x70}},
	}

	for _, tt := range tests {
		t.Run(tt.depth.String(), func(t *testing.T) {
			d, _ := newTestDev(t, &Opts{W: 24, H: 32, Depth: tt.depth})
			require.NoError(t, d.setDepth(tt.depth, true))
			w := Window{X0: 0, X1: 3, Y0: 0, Y1: 3}
			require.NoError(t, d.FillRect(w, sample))

			got, err := d.ReadRect(w)
			require.NoError(t, err)
			require.Len(t, got, 16)
			for i, c := range got {
				assert.Equal(t, tt.want, c, "pixel %d", i)
			}
		})
	}
}

func TestPushRepeatedChunks(t *testing.T) {
	d, s := newTestDev(t, &Opts{W: 24, H: 32, Depth: pixel.Depth18})
	w := WindowOf(d.Bounds())
	require.NoError(t, d.FillRect(w, sample))

	// 32x24 pixels through a scratch buffer of two 32 pixel lines.
	assert.Equal(t, Stats{DMA: 1, DMAChunks: 12}, d.Stats())
	assert.Equal(t, 1, s.Stats().Allocs)
	assert.Zero(t, s.LiveDMA())
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			require.Equal(t, sample, s.ColorAt(x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestGrayscale(t *testing.T) {
	d, s := newTestDev(t, &Opts{W: 24, H: 32, Depth: pixel.Depth18, Grayscale: true})
	in := pixel.Color{R: 100, G: 150, B: 200}

	buf := make([]byte, 3)
	d.encode(buf, []pixel.Color{in})
	assert.Equal(t, []byte{145, 145, 145}, buf)

	require.NoError(t, d.DrawPixel(0, 0, in))
	assert.Equal(t, pixel.Color{R: 144, G: 144, B: 144}, s.ColorAt(0, 0))
	require.NoError(t, d.WriteRect(Window{X0: 1, X1: 1}, []pixel.Color{in}))
	assert.Equal(t, pixel.Color{R: 144, G: 144, B: 144}, s.ColorAt(1, 0))

	d.SetGrayscale(false)
	require.NoError(t, d.DrawPixel(2, 0, in))
	assert.Equal(t, pixel.Color{R: 100, G: 148, B: 200}, s.ColorAt(2, 0))
}

func TestPushAsyncThenSelect(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d, s := newTestDev(t, &Opts{W: 24, H: 32, Depth: pixel.Depth18})
	s.Clock = clock
	s.Latency = time.Millisecond

	require.NoError(t, d.Select())
	require.NoError(t, d.SetAddressWindow(Window{X0: 0, X1: 31, Y0: 0, Y1: 0}))
	colors := make([]pixel.Color, 32)
	for i := range colors {
		colors[i] = sample
	}
	require.NoError(t, d.PushBufferAsync(colors))
	assert.True(t, s.InFlight())
	// The caller's buffer was converted already.
	colors[0] = pixel.Color{}

	errc := make(chan error, 1)
	go func() {
		errc <- d.Deselect()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// The transfer latency and the DMA timeout.
	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	select {
	case err := <-errc:
		t.Fatalf("Deselect() returned %v before the transfer completed", err)
	default:
	}
	assert.True(t, s.InFlight())

	clock.Advance(time.Millisecond)
	require.NoError(t, <-errc)
	assert.False(t, s.InFlight())
	assert.Zero(t, s.LiveDMA())
	assert.Equal(t, sample, s.ColorAt(0, 0))
	_, selected := s.Selected()
	assert.False(t, selected)
}

func TestPushDMATimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d, s := newTestDev(t, &Opts{W: 24, H: 32, DMATimeout: 10 * time.Millisecond})
	s.Clock = clock
	s.Latency = time.Hour

	require.NoError(t, d.Select())
	require.NoError(t, d.PushRepeatedAsync(sample, 40))

	errc := make(chan error, 1)
	go func() {
		errc <- d.Wait()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	clock.Advance(10 * time.Millisecond)
	err := <-errc
	assert.ErrorIs(t, err, ErrDMATimeout)
	assert.ErrorIs(t, err, bus.ErrTimeout)
	assert.Zero(t, s.LiveDMA())

	// The transfer was dropped; a second wait returns right away.
	require.NoError(t, d.Wait())
	clock.Advance(time.Hour)
}

func TestPushNoDMAMemory(t *testing.T) {
	d, s := newTestDev(t, &Opts{W: 24, H: 32})
	s.AllocLimit = 16
	require.NoError(t, d.Select())

	assert.ErrorIs(t, d.PushRepeated(sample, 100), ErrNoDMAMemory)
	assert.ErrorIs(t, d.PushBuffer(make([]pixel.Color, 100)), ErrNoDMAMemory)
	assert.Empty(t, s.Commands())
	assert.Zero(t, s.Stats().Bytes)
	assert.Equal(t, Stats{}, d.Stats())
}

func TestPushBurstCapacityFixedAtNew(t *testing.T) {
	d, s := newTestDev(t, nil)
	s.SetMaxBurstBits(1024)
	require.NoError(t, d.Select())

	// 40 pixels at 16 bits fit the new capacity but not the one seen by New.
	require.NoError(t, d.PushRepeated(sample, 40))
	require.NoError(t, d.PushBuffer(make([]pixel.Color, 40)))
	assert.Equal(t, Stats{DMA: 2, DMAChunks: 2}, d.Stats())
	assert.Equal(t, 2, s.Stats().DMA)
}

// TestPropertyFillReadBack verifies that a repeated fill reads back as the
// fill color at the resolution of the depth.
func TestPropertyFillReadBack(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		depth := rapid.SampledFrom([]pixel.Depth{pixel.Depth16, pixel.Depth18}).Draw(rt, "depth")
		n := rapid.IntRange(1, 96).Draw(rt, "n")
		c := pixel.Color{
			R: rapid.Uint8().Draw(rt, "r"),
			G: rapid.Uint8().Draw(rt, "g"),
			B: rapid.Uint8().Draw(rt, "b"),
		}
		d, _ := newTestDev(t, &Opts{W: 64, H: 96, Depth: depth})
		if err := d.setDepth(depth, true); err != nil {
			rt.Fatalf("setDepth() = %v", err)
		}

		w := Window{X0: 0, X1: uint16(n - 1), Y0: 3, Y1: 3}
		if err := d.FillRect(w, c); err != nil {
			rt.Fatalf("FillRect() = %v", err)
		}
		got, err := d.ReadRect(w)
		if err != nil {
			rt.Fatalf("ReadRect() = %v", err)
		}
		want := depth.Truncate(c)
		for i, g := range got {
			if g != want {
				rt.Fatalf("pixel %d = %v, want %v", i, g, want)
			}
		}
	})
}
