package link

import "errors"

// Link errors
var (
	// ErrInvalidConfig indicates an invalid link configuration
	ErrInvalidConfig = errors.New("invalid link configuration")

	// ErrInvalidThreshold indicates a FIFO threshold outside 1..FIFOSize-1
	ErrInvalidThreshold = errors.New("FIFO threshold must be between 1 and FIFO size - 1")

	// ErrInvalidPacketLength indicates a packet that does not fit the long packet buffer
	ErrInvalidPacketLength = errors.New("packet length must be between 1 and 3x FIFO size")

	// ErrBufferOverflow indicates an append past the packet buffer capacity
	ErrBufferOverflow = errors.New("packet buffer overflow")

	// ErrShortPacket indicates a reception that completed with fewer bytes than expected
	ErrShortPacket = errors.New("packet completed short")

	// ErrBusy indicates a transfer is already active in either direction
	ErrBusy = errors.New("link is busy")

	// ErrNotInitialized indicates the transceiver has not been initialized
	ErrNotInitialized = errors.New("link is not initialized")

	// ErrInitFailed indicates the transceiver could not be configured within the retry budget
	ErrInitFailed = errors.New("transceiver initialization failed")
)
