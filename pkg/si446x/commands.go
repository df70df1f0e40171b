// Package si446x drives a Silicon Labs Si446x transceiver over SPI using the
// chip's command/response API, with the SDN (shutdown) and nIRQ lines on GPIO.
package si446x

import "time"

// API commands
const (
	CmdPartInfo     = 0x01 // Read part number and revision
	CmdPowerUp      = 0x02 // Boot the chip and select the crystal
	CmdFuncInfo     = 0x10 // Read firmware revision
	CmdSetProperty  = 0x11 // Write one or more properties
	CmdGetProperty  = 0x12 // Read one or more properties
	CmdFIFOInfo     = 0x15 // Read FIFO levels, optionally resetting them
	CmdGetIntStatus = 0x20 // Read and clear pending interrupts
	CmdStartTX      = 0x31 // Start transmitting from the TX FIFO
	CmdStartRX      = 0x32 // Enter receive
	CmdRequestState = 0x33 // Read the current operating state
	CmdChangeState  = 0x34 // Force an operating state
	CmdReadCmdBuff  = 0x44 // Poll CTS and read the response buffer
	CmdWriteTxFIFO  = 0x66 // Append bytes to the TX FIFO
	CmdReadRxFIFO   = 0x77 // Pop bytes from the RX FIFO
)

// CTSReady is the byte returned by READ_CMD_BUFF once a command has completed
const CTSReady = 0xFF

// FIFO_INFO reset bits
const (
	FIFOResetTX = 0x01
	FIFOResetRX = 0x02
)

// PH_PEND bits of GET_INT_STATUS
const (
	PHPendRXFIFOAlmostFull  = 0x01
	PHPendTXFIFOAlmostEmpty = 0x02
	PHPendCRCError          = 0x08
	PHPendPacketRX          = 0x10
	PHPendPacketSent        = 0x20
	PHPendFilterMiss        = 0x40
	PHPendFilterMatch       = 0x80

	// PHPendStreamMask covers the bits the link engine consumes
	PHPendStreamMask = PHPendRXFIFOAlmostFull | PHPendTXFIFOAlmostEmpty |
		PHPendCRCError | PHPendPacketRX | PHPendPacketSent
)

// CHIP_PEND bits of GET_INT_STATUS
const (
	ChipPendCmdError      = 0x08
	ChipPendStateChange   = 0x10
	ChipPendFIFOUnderOver = 0x20
)

// Property groups
const (
	PropGroupGlobal = 0x00
	PropGroupIntCtl = 0x01
	PropGroupPkt    = 0x12
	PropGroupModem  = 0x20
	PropGroupPA     = 0x22
	PropGroupFreq   = 0x40
)

// Property indices
const (
	PropIntCtlEnable    = 0x00 // ENABLE, PH_ENABLE, MODEM_ENABLE, CHIP_ENABLE
	PropPktCRCConfig    = 0x00
	PropPktTXThreshold  = 0x0B
	PropPktRXThreshold  = 0x0C
	PropPktField1Length = 0x0D // 2 bytes, big endian
	PropPktField1CRC    = 0x10
	PropModemModType    = 0x00
	PropModemDataRate   = 0x03 // 3 bytes
	PropModemFreqDev    = 0x0A // 3 bytes
	PropModemClkgenBand = 0x51
	PropPAPowerLevel    = 0x01
	PropFreqControlInte = 0x00 // INTE, FRAC2, FRAC1, FRAC0, CHANNEL_STEP_SIZE1, CHANNEL_STEP_SIZE0
)

// INT_CTL_ENABLE bits
const (
	IntCtlPHEnable    = 0x01
	IntCtlModemEnable = 0x02
	IntCtlChipEnable  = 0x04
)

// Hardware limits
const (
	FIFOSize         = 64
	MaxCommandLength = 16 // Command buffer size
	MaxPropertyBatch = 12 // Properties per SET_PROPERTY
)

// Timing
const (
	DefaultCTSAttempts = 2500
	ShutdownPulse      = time.Millisecond
	DefaultSPIClockHz  = 1000000
)
