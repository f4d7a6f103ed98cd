package ili9xxx

// Controller commands.
const (
	cmdSWRESET = 0x01
	cmdSLPOUT  = 0x11
	cmdGAMMA   = 0x26
	cmdINVOFF  = 0x20
	cmdINVON   = 0x21
	cmdDISPOFF = 0x28
	cmdDISPON  = 0x29
	cmdCASET   = 0x2A
	cmdPASET   = 0x2B
	cmdRAMWR   = 0x2C
	cmdRAMRD   = 0x2E
	cmdPTLAR   = 0x30
	cmdMADCTL  = 0x36
	cmdPIXFMT  = 0x3A
	cmdFRMCTR1 = 0xB1
	cmdDFUNCTR = 0xB6
	cmdPWCTR1  = 0xC0
	cmdPWCTR2  = 0xC1
	cmdVMCTR1  = 0xC5
	cmdVMCTR2  = 0xC7
	cmdPOWERA  = 0xCB
	cmdPOWERB  = 0xCF
	cmdGMCTRP1 = 0xE0
	cmdGMCTRN1 = 0xE1
	cmdDTCA    = 0xE8
	cmdDTCB    = 0xEA
	cmdPWRSEQ  = 0xED
	cmdGAMMA3  = 0xF2
	cmdPRC     = 0xF7
)

// MADCTL bits.
const (
	madctlMY  = 0x80
	madctlMX  = 0x40
	madctlMV  = 0x20
	madctlBGR = 0x08
)

// Touch controller commands, for TouchData.
const (
	// TouchX samples the X plate.
	TouchX = 0xD0
	// TouchY samples the Y plate.
	TouchY = 0x90
	// TouchZ1 and TouchZ2 sample the pressure.
	TouchZ1 = 0xB0
	TouchZ2 = 0xC0
)
