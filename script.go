package ili9xxx

import (
	"errors"
	"fmt"
	"time"
)

// Script is a controller initialization table.
//
// The first byte is the number of commands. Each command follows as its
// command byte, its argument count, then the arguments. When bit 7 of the
// argument count is set, one more byte gives a delay in milliseconds to wait
// after the command. A delay of 255 means 500ms.
type Script []byte

const (
	scriptDelay     = 0x80
	scriptLongDelay = 500 * time.Millisecond
)

var errScript = errors.New("ili9xxx: truncated init script")

var ili9341Init = Script{
	24,
	cmdSWRESET, scriptDelay, 200,
	cmdPOWERA, 5, 0x39, 0x2C, 0x00, 0x34, 0x02,
	cmdPOWERB, 3, 0x00, 0xC1, 0x30,
	0xEF, 3, 0x03, 0x80, 0x02,
	cmdDTCA, 3, 0x85, 0x00, 0x78,
	cmdDTCB, 2, 0x00, 0x00,
	cmdPWRSEQ, 4, 0x64, 0x03, 0x12, 0x81,
	cmdPRC, 1, 0x20,
	cmdPWCTR1, 1, 0x23,
	cmdPWCTR2, 1, 0x10,
	cmdVMCTR1, 2, 0x3E, 0x28,
	cmdVMCTR2, 1, 0x86,
	cmdMADCTL, 1, madctlMV | madctlBGR,
	cmdPIXFMT, 1, 0x55,
	cmdINVOFF, 0,
	cmdFRMCTR1, 2, 0x00, 0x18,
	cmdDFUNCTR, 3, 0x08, 0x82, 0x27,
	cmdPTLAR, 4, 0x00, 0x00, 0x01, 0x3F,
	cmdGAMMA3, 1, 0x00,
	cmdGAMMA, 1, 0x01,
	cmdGMCTRP1, 15,
	0x0F, 0x31, 0x2B, 0x0C, 0x0E, 0x08, 0x4E, 0xF1, 0x37, 0x07, 0x10, 0x03, 0x0E, 0x09, 0x00,
	cmdGMCTRN1, 15,
	0x00, 0x0E, 0x14, 0x03, 0x11, 0x07, 0x31, 0xC1, 0x48, 0x08, 0x0F, 0x0C, 0x31, 0x36, 0x0F,
	cmdSLPOUT, scriptDelay, 120,
	cmdDISPON, 0,
}

var ili9488Init = Script{
	18,
	cmdSWRESET, scriptDelay, 200,
	cmdGMCTRP1, 15,
	0x00, 0x03, 0x09, 0x08, 0x16, 0x0A, 0x3F, 0x78, 0x4C, 0x09, 0x0A, 0x08, 0x16, 0x1A, 0x0F,
	cmdGMCTRN1, 15,
	0x00, 0x16, 0x19, 0x03, 0x0F, 0x05, 0x32, 0x45, 0x46, 0x04, 0x0E, 0x0D, 0x35, 0x37, 0x0F,
	cmdPWCTR1, 2, 0x17, 0x15,
	cmdPWCTR2, 1, 0x41,
	cmdVMCTR1, 3, 0x00, 0x12, 0x80,
	cmdMADCTL, 1, madctlMV | madctlBGR,
	cmdPIXFMT, 1, 0x66,
	0xB0, 1, 0x00, // interface mode, SDO in use
	cmdFRMCTR1, 1, 0xA0,
	0xB4, 1, 0x02, // 2-dot inversion
	cmdDFUNCTR, 2, 0x02, 0x02,
	0xE9, 1, 0x00, // 24-bit data off
	0x53, 1, 0x28, // BCTRL and DD on
	0x51, 1, 0x7F, // brightness
	cmdPRC, 4, 0xA9, 0x51, 0x2C, 0x02,
	cmdSLPOUT, scriptDelay, 120,
	cmdDISPON, 0,
}

// runScript sends every command of s. The display must be selected.
func (d *Dev) runScript(s Script) error {
	if len(s) == 0 {
		return nil
	}
	n := int(s[0])
	s = s[1:]
	for i := 0; i < n; i++ {
		if len(s) < 2 {
			return errScript
		}
		cmd, nargs := s[0], int(s[1])
		s = s[2:]
		delay := nargs&scriptDelay != 0
		nargs &^= scriptDelay
		if len(s) < nargs {
			return errScript
		}
		if err := d.SendCommandWithData(cmd, s[:nargs]); err != nil {
			return fmt.Errorf("ili9xxx: command 0x%02X: %w", cmd, err)
		}
		s = s[nargs:]
		if delay {
			if len(s) == 0 {
				return errScript
			}
			ms := time.Duration(s[0]) * time.Millisecond
			if s[0] == 255 {
				ms = scriptLongDelay
			}
			s = s[1:]
			d.sleep(ms)
		}
	}
	return nil
}

// Rotation is the orientation of the panel.
type Rotation uint8

const (
	// Landscape is the orientation the init tables leave the controller in.
	Landscape Rotation = iota
	Portrait
	LandscapeFlipped
	PortraitFlipped

	rotations
)

func (r Rotation) String() string {
	switch r {
	case Portrait:
		return "portrait"
	case Landscape:
		return "landscape"
	case PortraitFlipped:
		return "portrait flipped"
	case LandscapeFlipped:
		return "landscape flipped"
	default:
		return fmt.Sprintf("Rotation(%d)", r)
	}
}

func (r Rotation) landscape() bool {
	return r == Landscape || r == LandscapeFlipped
}

// madctl is the MADCTL argument for each rotation, per variant.
var madctl = map[Variant][4]byte{
	ILI9341: {
		Portrait:         madctlMX | madctlBGR,
		Landscape:        madctlMV | madctlBGR,
		PortraitFlipped:  madctlMY | madctlBGR,
		LandscapeFlipped: madctlMX | madctlMY | madctlMV | madctlBGR,
	},
	ILI9488: {
		Portrait:         madctlMX | madctlBGR,
		Landscape:        madctlMV | madctlBGR,
		PortraitFlipped:  madctlMY | madctlBGR,
		LandscapeFlipped: madctlMX | madctlMY | madctlMV | madctlBGR,
	},
}

var initScripts = map[Variant]Script{
	ILI9341: ili9341Init,
	ILI9488: ili9488Init,
}
