package link

import (
	"fmt"
	"time"
)

// Config is the link configuration record. It is fixed once a Controller is built.
type Config struct {
	Channel      uint8 // Default RF channel
	PacketLength int   // Nominal packet length in bytes

	// FIFO geometry
	FIFOSize    int
	TXThreshold int // Bytes pushed per almost-empty event
	RXThreshold int // Bytes drained per almost-full event

	// Init retry
	ResetDelay   time.Duration // Wait after power-cycle before loading the table
	InitBackoff  time.Duration // Wait between failed attempts
	InitAttempts int           // Maximum power-cycle/load cycles

	ConfigTable   []byte // Length-prefixed command table
	CustomPayload []byte // Optional long payload sent by TransmitCustomPayload

	// RestartOnCRCError re-arms reception after a CRC error
	RestartOnCRCError bool
}

// DefaultConfig returns a Config with the reference FIFO geometry.
// ConfigTable is left empty; callers supply the table for their radio.
func DefaultConfig() Config {
	return Config{
		PacketLength: DefaultLongPacketSize,
		FIFOSize:     DefaultFIFOSize,
		TXThreshold:  DefaultTXThreshold,
		RXThreshold:  DefaultRXThreshold,
		ResetDelay:   DefaultResetDelay,
		InitBackoff:  DefaultInitBackoff,
		InitAttempts: DefaultInitAttempts,
	}
}

// LongPacketSize returns the packet buffer capacity
func (c Config) LongPacketSize() int {
	return c.FIFOSize * LongPacketFactor
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.FIFOSize <= 0 {
		return fmt.Errorf("%w: FIFO size %d", ErrInvalidConfig, c.FIFOSize)
	}
	if c.TXThreshold <= 0 || c.TXThreshold >= c.FIFOSize {
		return fmt.Errorf("%w: TX threshold %d with FIFO size %d", ErrInvalidThreshold, c.TXThreshold, c.FIFOSize)
	}
	if c.RXThreshold <= 0 || c.RXThreshold >= c.FIFOSize {
		return fmt.Errorf("%w: RX threshold %d with FIFO size %d", ErrInvalidThreshold, c.RXThreshold, c.FIFOSize)
	}
	if err := c.checkLength(c.PacketLength); err != nil {
		return err
	}
	if c.InitAttempts < 1 {
		return fmt.Errorf("%w: init attempts %d", ErrInvalidConfig, c.InitAttempts)
	}
	if c.ResetDelay < 0 || c.InitBackoff < 0 {
		return fmt.Errorf("%w: negative init delay", ErrInvalidConfig)
	}
	if len(c.ConfigTable) == 0 {
		return fmt.Errorf("%w: empty configuration table", ErrInvalidConfig)
	}
	if c.CustomPayload != nil && len(c.CustomPayload) < c.PacketLength {
		return fmt.Errorf("%w: custom payload has %d bytes, packet length is %d",
			ErrInvalidConfig, len(c.CustomPayload), c.PacketLength)
	}
	return nil
}

func (c Config) checkLength(n int) error {
	if n < 1 || n > c.LongPacketSize() {
		return fmt.Errorf("%w: %d (max %d)", ErrInvalidPacketLength, n, c.LongPacketSize())
	}
	return nil
}
