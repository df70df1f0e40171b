package usbbridge

import "time"

// USB Device Identifiers
const (
	VendorID  = 0x1D50
	ProductID = 0x6122 // Si446x USB bridge

	ProductIDBootloader = 0x6123
)

// USB Endpoint Configuration
const (
	EP5InAddr        = 0x85 // EP5 IN (device to host)
	EP5OutAddr       = 0x05 // EP5 OUT (host to device)
	EP5MaxPacketSize = 64
	EP5OutBufferSize = 516
	ResponseMarker   = 0x40 // '@' character marks start of response

	headerSize         = 4 // app + cmd + length(2)
	responseHeaderSize = 5 // marker + app + cmd + length(2)
	maxPayload         = EP5OutBufferSize - headerSize
)

// USB Timeouts
const (
	USBDefaultTimeout = 1000 * time.Millisecond
	USBResetTimeout   = 3000 * time.Millisecond
	readPollInterval  = 100 * time.Millisecond
)

// Application IDs for EP5 protocol
const (
	AppRadio  = 0x44 // Transceiver primitives
	AppDebug  = 0xFE // Debug output
	AppSystem = 0xFF // System/administrative commands
)

// System Commands (APP_SYSTEM = 0xFF)
const (
	SysCmdPing      = 0x82 // Echo test
	SysCmdBuildType = 0x86 // Get firmware build info
	SysCmdPartNum   = 0x8E // Get radio part number
	SysCmdReset     = 0x8F // Reset device
)

// Radio Commands (APP_RADIO = 0x44). Each maps to one transceiver primitive.
const (
	RadioCmdReset       = 0x01 // Pulse SDN
	RadioCmdLoadConfig  = 0x02 // Apply a terminated configuration table fragment
	RadioCmdIntStatus   = 0x03 // Read and clear PH_PEND
	RadioCmdWriteTxFIFO = 0x04
	RadioCmdReadRxFIFO  = 0x05 // Payload: count(1)
	RadioCmdResetFIFO   = 0x06 // Payload: FIFO_INFO reset bits
	RadioCmdStartRX     = 0x07 // Payload: START_RX arguments
	RadioCmdStartTX     = 0x08 // Payload: START_TX arguments
	RadioCmdChangeState = 0x09
)

// Radio command status codes, the first byte of every APP_RADIO response
const (
	StatusOK         = 0x00
	StatusCTSTimeout = 0x01
	StatusCmdError   = 0x02
	StatusBadLength  = 0x03
)
