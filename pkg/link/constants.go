package link

import "time"

// Reference transceiver dimensions (Si446x packet handler)
const (
	DefaultFIFOSize    = 64 // Hardware TX/RX FIFO capacity in bytes
	DefaultTXThreshold = 30 // TX almost-empty threshold
	DefaultRXThreshold = 30 // RX almost-full threshold

	// LongPacketFactor is the ratio between the packet buffer and the FIFO
	LongPacketFactor = 3

	DefaultLongPacketSize = DefaultFIFOSize * LongPacketFactor // 192
)

// Init timing
const (
	DefaultResetDelay   = 10 * time.Millisecond
	DefaultInitBackoff  = 50 * time.Millisecond
	DefaultInitAttempts = 16
)
