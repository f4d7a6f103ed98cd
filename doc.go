// Package ili9xxx controls ILI9341 and ILI9488 TFT displays via SPI.
//
// The driver sits on a bus.Bus, a half-duplex bus carrying short CPU driven
// bursts and longer DMA transfers. bus.SPI implements it on top of a
// periph.io SPI port; bustest.Sim simulates a controller for tests.
//
// # Display Characteristics
//
// - ILI9341: 240×320 pixels, 16 or 18 bits per pixel on the wire
// - ILI9488: 320×480 pixels, 18 bits per pixel only
// - Four rotations, set through the memory access control register
// - Graphic memory readable back, 6 significant bits per channel
// - Optional XPT2046 touch controller on the same bus
//
// # Hardware Connection
//
//	Display Pin → System Pin
//	GND         → GND
//	VCC         → 3.3V
//	SCK         → SPI Clock (SCLK)
//	SDI/MOSI    → SPI Data (MOSI)
//	SDO/MISO    → SPI Data (MISO), needed for reads and calibration
//	DC          → GPIO (any available pin)
//	CS          → GPIO (driven by bus.SPI)
//	RESET       → Optional: GPIO for hardware reset
//	LED         → Optional: GPIO for the backlight
//	T_CS        → Optional: GPIO for the touch controller
//
// # Basic Usage
//
//	if _, err := host.Init(); err != nil {
//		log.Fatal(err)
//	}
//	p, err := spireg.Open("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer p.Close()
//
//	dev, err := ili9xxx.NewSPI(p, gpioreg.ByName("GPIO25"), &ili9xxx.Opts{
//		Variant: ili9xxx.ILI9341,
//		RST:     gpioreg.ByName("GPIO24"),
//		SPI:     &bus.SPIOpts{DisplayCS: gpioreg.ByName("GPIO8")},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Halt()
//
//	// Fill a 40×40 square with red.
//	dev.FillRect(ili9xxx.Window{X0: 10, X1: 49, Y0: 10, Y1: 49}, pixel.Color{R: 0xFF})
//
// # Pushing Pixels
//
// Pixel writes go to the address window set by SetAddressWindow. Writes that
// fit in one burst are sent directly; larger writes are copied to a DMA
// buffer and queued. PushRepeatedAsync and PushBufferAsync return while the
// last transfer is in flight; every other bus operation waits for it first.
//
// # Differential Updates
//
// Draw keeps a copy of the last frame and only sends the bounding rectangle
// of the changed pixels:
//
//	dev.Draw(dev.Bounds(), img, image.Point{})
//
// # Reading Back
//
// Memory reads fail above a clock that depends on wiring. FindMaxReadSpeed
// measures it:
//
//	f, err := dev.FindMaxReadSpeed()
//	if err == nil {
//		dev.SetMaxReadSpeed(f)
//	}
//
// # Datasheets
//
// https://cdn-shop.adafruit.com/datasheets/ILI9341.pdf
//
// https://www.hpinfotech.ro/ILI9488.pdf
package ili9xxx
