package link

import "fmt"

// rxReassembler drains the RX FIFO into the packet buffer across almost-full events
type rxReassembler struct {
	tr        Transceiver
	buf       *PacketBuffer
	fifoSize  int
	threshold int
	length    int // expected packet length
	policy    RxPolicy

	channel   uint8
	active    bool
	truncated bool // an almost-full drain was cut short by the buffer
}

// start clears latched interrupts, rewinds the buffer, flushes the RX FIFO
// and enters receive
func (r *rxReassembler) start(channel uint8) error {
	r.buf.Reset()
	r.truncated = false
	r.active = false

	if _, err := r.tr.InterruptStatus(); err != nil {
		return fmt.Errorf("failed to clear interrupts: %w", err)
	}
	if err := r.tr.ResetFIFO(FIFORX); err != nil {
		return fmt.Errorf("failed to reset RX FIFO: %w", err)
	}
	if err := r.tr.StartRX(channel, r.length, r.policy); err != nil {
		return fmt.Errorf("failed to start RX: %w", err)
	}

	r.channel = channel
	r.active = true
	return nil
}

// onAlmostFull drains min(free, threshold) bytes
func (r *rxReassembler) onAlmostFull() (int, error) {
	if !r.active {
		return 0, nil
	}
	n := min(r.buf.Free(), r.threshold)
	if n < r.threshold {
		r.truncated = true
	}
	if n == 0 {
		return 0, nil
	}
	if err := r.tr.ReadRxFIFO(r.buf.tail(n)); err != nil {
		return 0, fmt.Errorf("failed to read RX FIFO at offset %d: %w", r.buf.Len(), err)
	}
	r.buf.commit(n)
	return n, nil
}

// onPacketReceived drains the bytes still held by the FIFO and returns a copy
// of the packet. The buffer is rewound either way; re-arming is up to the caller.
func (r *rxReassembler) onPacketReceived() ([]byte, int, error) {
	n := min(r.length-r.buf.Len(), r.fifoSize, r.buf.Free())
	if n > 0 {
		if err := r.tr.ReadRxFIFO(r.buf.tail(n)); err != nil {
			r.finish()
			return nil, 0, fmt.Errorf("failed to read RX FIFO at offset %d: %w", r.buf.Len(), err)
		}
		r.buf.commit(n)
	}

	got := r.buf.Len()
	var err error
	switch {
	case r.truncated:
		err = fmt.Errorf("%w: %d of %d bytes stored", ErrBufferOverflow, got, r.length)
	case got < r.length:
		err = fmt.Errorf("%w: %d of %d bytes", ErrShortPacket, got, r.length)
	}

	var packet []byte
	if err == nil {
		packet = make([]byte, got)
		copy(packet, r.buf.Bytes())
	}
	r.finish()
	return packet, got, err
}

// onCRCError flushes the RX FIFO only. The buffer cursor is left as is.
func (r *rxReassembler) onCRCError() error {
	r.active = false
	if err := r.tr.ResetFIFO(FIFORX); err != nil {
		return fmt.Errorf("failed to reset RX FIFO: %w", err)
	}
	return nil
}

func (r *rxReassembler) finish() {
	r.buf.Reset()
	r.truncated = false
	r.active = false
}
