package bus

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spitest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestSPI(t *testing.T, port spi.PortCloser) (*SPI, *gpiotest.Pin, *gpiotest.Pin) {
	t.Helper()
	dcs := &gpiotest.Pin{N: "CS0", Num: 5}
	tcs := &gpiotest.Pin{N: "CS1", Num: 6}
	s, err := NewSPI(port, &SPIOpts{DisplayCS: dcs, TouchCS: tcs})
	require.NoError(t, err)
	return s, dcs, tcs
}

func TestNewSPIDefaults(t *testing.T) {
	s, dcs, tcs := newTestSPI(t, &spitest.Record{})
	assert.Equal(t, 40*physic.MegaHertz, s.Speed())
	assert.Equal(t, 512, s.MaxBurstBits())
	assert.Equal(t, gpio.High, dcs.Read())
	assert.Equal(t, gpio.High, tcs.Read())
	assert.Equal(t, "bus.SPI{record}", s.String())
}

func TestNewSPIBadBurst(t *testing.T) {
	_, err := NewSPI(&spitest.Record{}, &SPIOpts{MaxBurstBits: 40})
	assert.Error(t, err)
}

func TestSPISelect(t *testing.T) {
	s, dcs, tcs := newTestSPI(t, &spitest.Record{})

	require.NoError(t, s.Select(Display))
	assert.Equal(t, gpio.Low, dcs.Read())
	assert.ErrorIs(t, s.Select(Touch), ErrBusy)
	assert.Equal(t, gpio.High, tcs.Read())

	// Releasing an endpoint that is not selected is a no-op.
	require.NoError(t, s.Deselect(Touch))
	assert.Equal(t, gpio.Low, dcs.Read())

	require.NoError(t, s.Deselect(Display))
	assert.Equal(t, gpio.High, dcs.Read())

	require.NoError(t, s.Select(Touch))
	assert.Equal(t, gpio.Low, tcs.Read())
	assert.ErrorIs(t, s.SetSpeed(physic.MegaHertz), ErrBusy)
	require.NoError(t, s.Deselect(Touch))
	require.NoError(t, s.SetSpeed(physic.MegaHertz))
	assert.Equal(t, physic.MegaHertz, s.Speed())
}

func TestSPIStartBurst(t *testing.T) {
	r := &spitest.Record{}
	s, _, _ := newTestSPI(t, r)

	assert.ErrorIs(t, s.StartBurst([]uint32{0x2C}, 8), ErrNotSelected)

	require.NoError(t, s.Select(Display))
	p := NewPacker(binary.LittleEndian, s.MaxBurstBits())
	words, bits, _ := p.Next([]byte{0x00, 0x00, 0x00, 0xEF, 0x55})
	require.NoError(t, s.StartBurst(words, bits))
	require.NoError(t, s.AwaitBurst())
	assert.Error(t, s.StartBurst(make([]uint32, 17), 544))

	want := []conntest.IO{{W: []byte{0x00, 0x00, 0x00, 0xEF, 0x55}}}
	assert.Equal(t, want, r.Ops)
}

func TestSPIReceive(t *testing.T) {
	pb := &spitest.Playback{
		Playback: conntest.Playback{
			Ops: []conntest.IO{{R: []byte{0x12, 0x34}}},
			D:   conn.Full,
		},
	}
	s, _, _ := newTestSPI(t, pb)
	require.NoError(t, s.Select(Touch))

	r := make([]byte, 2)
	require.NoError(t, s.Receive(r))
	assert.Equal(t, []byte{0x12, 0x34}, r)
	require.NoError(t, s.Deselect(Touch))
	require.NoError(t, s.Close())
}

func TestSPIQueue(t *testing.T) {
	r := &spitest.Record{}
	s, _, _ := newTestSPI(t, r)
	require.NoError(t, s.Select(Display))

	buf := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, s.Queue(buf))
	assert.ErrorIs(t, s.Queue(buf), ErrBusy)
	assert.ErrorIs(t, s.Deselect(Display), ErrBusy)
	require.NoError(t, s.Wait(time.Second))

	// Nothing queued.
	require.NoError(t, s.Wait(time.Second))
	require.NoError(t, s.Deselect(Display))

	r.Lock()
	defer r.Unlock()
	assert.Equal(t, []conntest.IO{{W: buf}}, r.Ops)
}

// stallPort is an spi.PortCloser whose transfers block until release is
// closed.
type stallPort struct {
	release chan struct{}
}

func (p *stallPort) String() string { return "stall" }
func (p *stallPort) Close() error { return nil }
func (p *stallPort) LimitSpeed(f physic.Frequency) error { return nil }
func (p *stallPort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	return &stallConn{p}, nil
}

type stallConn struct {
	p *stallPort
}

func (c *stallConn) String() string { return "stall" }
func (c *stallConn) Duplex() conn.Duplex { return conn.Full }
func (c *stallConn) TxPackets([]spi.Packet) error { return nil }
func (c *stallConn) Tx(w, r []byte) error {
	<-c.p.release
	return nil
}

func TestSPIWaitTimeout(t *testing.T) {
	port := &stallPort{release: make(chan struct{})}
	clock := clockwork.NewFakeClock()
	s, err := NewSPI(port, &SPIOpts{Clock: clock})
	require.NoError(t, err)
	require.NoError(t, s.Select(Display))
	require.NoError(t, s.Queue([]byte{1, 2, 3}))

	errc := make(chan error, 1)
	go func() {
		errc <- s.Wait(100 * time.Millisecond)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(100 * time.Millisecond)
	assert.ErrorIs(t, <-errc, ErrTimeout)

	// The transfer was dropped, the bus is usable again.
	require.NoError(t, s.Deselect(Display))
	close(port.release)
}
