package link

import "fmt"

// txStreamer feeds one packet into the TX FIFO across almost-empty events
type txStreamer struct {
	tr        Transceiver
	fifoSize  int
	threshold int

	src    []byte
	sent   int // bytes pushed to the FIFO so far
	active bool
}

// begin leaves any receive state, primes the FIFO with up to one FIFO load
// and starts the transmission. It returns the number of bytes pushed.
func (s *txStreamer) begin(channel uint8, packet []byte) (int, error) {
	s.reset()

	if err := s.tr.ChangeState(StateReady); err != nil {
		return 0, fmt.Errorf("failed to enter READY: %w", err)
	}
	if err := s.tr.ResetFIFO(FIFOTX); err != nil {
		return 0, fmt.Errorf("failed to reset TX FIFO: %w", err)
	}
	if _, err := s.tr.InterruptStatus(); err != nil {
		return 0, fmt.Errorf("failed to clear interrupts: %w", err)
	}

	n := min(len(packet), s.fifoSize)
	if err := s.tr.WriteTxFIFO(packet[:n]); err != nil {
		return 0, fmt.Errorf("failed to prime TX FIFO: %w", err)
	}
	if err := s.tr.StartTX(channel, len(packet)); err != nil {
		return n, fmt.Errorf("failed to start TX: %w", err)
	}

	s.src = packet
	s.sent = n
	s.active = true
	return n, nil
}

// onAlmostEmpty tops up the FIFO with at most one threshold's worth of bytes.
// It is a no-op once the whole packet has been pushed.
func (s *txStreamer) onAlmostEmpty() (int, error) {
	if !s.active {
		return 0, nil
	}
	n := min(s.remaining(), s.threshold)
	if n == 0 {
		return 0, nil
	}
	if err := s.tr.WriteTxFIFO(s.src[s.sent : s.sent+n]); err != nil {
		return 0, fmt.Errorf("failed to write TX FIFO at offset %d: %w", s.sent, err)
	}
	s.sent += n
	return n, nil
}

// onSent finishes the packet and returns its length
func (s *txStreamer) onSent() int {
	n := len(s.src)
	s.reset()
	return n
}

func (s *txStreamer) remaining() int {
	return len(s.src) - s.sent
}

func (s *txStreamer) reset() {
	s.src = nil
	s.sent = 0
	s.active = false
}
