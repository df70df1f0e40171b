package link

import (
	"strings"
	"time"
)

// Interrupt is the set of packet handler interrupts latched by the transceiver
type Interrupt uint8

const (
	IntRXAlmostFull   Interrupt = 1 << 0 // RX FIFO level reached the almost-full threshold
	IntTXAlmostEmpty  Interrupt = 1 << 1 // TX FIFO free space reached the almost-empty threshold
	IntCRCError       Interrupt = 1 << 3 // Received packet failed CRC
	IntPacketReceived Interrupt = 1 << 4 // Valid packet fully received
	IntPacketSent     Interrupt = 1 << 5 // Packet fully transmitted
)

// Has reports whether all bits of flag are set
func (i Interrupt) Has(flag Interrupt) bool {
	return i&flag == flag && flag != 0
}

// String returns the set flags joined by '|'
func (i Interrupt) String() string {
	if i == 0 {
		return "NONE"
	}
	names := []struct {
		flag Interrupt
		name string
	}{
		{IntPacketSent, "PACKET_SENT"},
		{IntPacketReceived, "PACKET_RX"},
		{IntCRCError, "CRC_ERROR"},
		{IntTXAlmostEmpty, "TX_ALMOST_EMPTY"},
		{IntRXAlmostFull, "RX_ALMOST_FULL"},
	}
	var parts []string
	for _, n := range names {
		if i.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "UNKNOWN"
	}
	return strings.Join(parts, "|")
}

// FIFO selects the transmit or receive FIFO
type FIFO uint8

const (
	FIFOTX FIFO = iota
	FIFORX
)

func (f FIFO) String() string {
	if f == FIFORX {
		return "RX"
	}
	return "TX"
}

// State is a transceiver operating state
type State uint8

const (
	StateNoChange  State = 0x00
	StateSleep     State = 0x01
	StateSPIActive State = 0x02
	StateReady     State = 0x03
	StateReady2    State = 0x04
	StateTXTune    State = 0x05
	StateRXTune    State = 0x06
	StateTX        State = 0x07
	StateRX        State = 0x08
)

// String returns a human-readable name for the state
func (s State) String() string {
	names := map[State]string{
		StateNoChange:  "NOCHANGE",
		StateSleep:     "SLEEP",
		StateSPIActive: "SPI_ACTIVE",
		StateReady:     "READY",
		StateReady2:    "READY2",
		StateTXTune:    "TX_TUNE",
		StateRXTune:    "RX_TUNE",
		StateTX:        "TX",
		StateRX:        "RX",
	}
	if name, ok := names[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// RxPolicy selects the states the transceiver enters when a reception ends
type RxPolicy struct {
	OnTimeout State
	OnValid   State
	OnInvalid State
}

// DefaultRxPolicy stays put on timeout, goes ready after a valid packet
// and keeps listening after an invalid one
var DefaultRxPolicy = RxPolicy{
	OnTimeout: StateNoChange,
	OnValid:   StateReady,
	OnInvalid: StateRX,
}

// Transceiver is the set of primitives the link engine drives
type Transceiver interface {
	// Reset power-cycles the chip
	Reset() error
	// LoadConfiguration applies a length-prefixed command table
	LoadConfiguration(table []byte) error
	// InterruptStatus reads and clears the latched packet handler interrupts
	InterruptStatus() (Interrupt, error)
	// WriteTxFIFO appends bytes to the TX FIFO
	WriteTxFIFO(data []byte) error
	// ReadRxFIFO fills buf from the RX FIFO
	ReadRxFIFO(buf []byte) error
	// ResetFIFO flushes one FIFO
	ResetFIFO(fifo FIFO) error
	// StartRX enters receive on channel for a packet of length bytes
	StartRX(channel uint8, length int, policy RxPolicy) error
	// StartTX transmits length bytes from the TX FIFO on channel
	StartTX(channel uint8, length int) error
	// ChangeState forces an operating state
	ChangeState(state State) error
}

// InterruptWaiter is implemented by transceivers that can block on their IRQ line
type InterruptWaiter interface {
	WaitForInterrupt(timeout time.Duration) bool
}
