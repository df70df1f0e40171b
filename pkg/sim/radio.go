// Package sim models the packet handler of an Si446x-class transceiver on the
// host: byte-accurate TX/RX FIFOs, threshold interrupts and a shift register
// that moves a fixed number of bytes per status read.
package sim

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/herlein/radiolink/pkg/link"
	"github.com/sirupsen/logrus"
)

// Simulator errors
var (
	// ErrNotConfigured indicates TX/RX was started before a configuration load
	ErrNotConfigured = errors.New("radio is not configured")

	// ErrConfigLoad indicates an injected configuration load failure
	ErrConfigLoad = errors.New("configuration load failed")

	// ErrTXOverflow indicates a write past the TX FIFO capacity
	ErrTXOverflow = errors.New("TX FIFO overflow")

	// ErrTXUnderflow indicates the shift register ran dry mid-packet
	ErrTXUnderflow = errors.New("TX FIFO underflow")

	// ErrRXOverflow indicates received bytes were dropped because the RX FIFO was full
	ErrRXOverflow = errors.New("RX FIFO overflow")

	// ErrRXUnderflow indicates a read of more bytes than the RX FIFO holds
	ErrRXUnderflow = errors.New("RX FIFO underflow")
)

// Config describes the simulated chip
type Config struct {
	FIFOSize     int
	TXThreshold  int
	RXThreshold  int
	BytesPerTick int // Bytes moved on air per InterruptStatus call

	Logger logrus.FieldLogger
}

// DefaultConfig returns the reference FIFO geometry with 16 bytes per tick
func DefaultConfig() Config {
	return Config{
		FIFOSize:     link.DefaultFIFOSize,
		TXThreshold:  link.DefaultTXThreshold,
		RXThreshold:  link.DefaultRXThreshold,
		BytesPerTick: 16,
	}
}

type airPacket struct {
	data    []byte
	corrupt bool
}

// Radio is a simulated transceiver implementing link.Transceiver
type Radio struct {
	mu  sync.Mutex
	cfg Config
	log logrus.FieldLogger

	state      link.State
	configured bool
	pending    link.Interrupt
	channel    uint8

	txFIFO   []byte
	txActive bool
	txLen    int
	air      []byte

	rxFIFO   []byte
	rxActive bool
	rxLen    int
	policy   link.RxPolicy
	incoming *airPacket
	received int
	queue    []airPacket

	failLoads int
	resets    int
	loads     int
	faults    []error
	notify    chan struct{}

	// OnAir is called with every completed transmission
	OnAir func(channel uint8, packet []byte)
}

// New creates a powered-down simulated radio
func New(cfg Config) *Radio {
	if cfg.FIFOSize <= 0 {
		cfg.FIFOSize = link.DefaultFIFOSize
	}
	if cfg.BytesPerTick <= 0 {
		cfg.BytesPerTick = 1
	}
	l := cfg.Logger
	if l == nil {
		quiet := logrus.New()
		quiet.SetOutput(io.Discard)
		l = quiet
	}
	return &Radio{
		cfg:    cfg,
		log:    l,
		state:  link.StateSleep,
		notify: make(chan struct{}, 1),
	}
}

// Connect routes every packet transmitted by tx into rx
func Connect(tx, rx *Radio) {
	tx.OnAir = func(_ uint8, packet []byte) {
		rx.InjectPacket(packet, false)
	}
}

// FailLoads makes the next n configuration loads fail
func (r *Radio) FailLoads(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failLoads = n
}

// InjectPacket queues a packet arriving over the air. Queued packets are
// delivered in order while the receiver is on, truncated to the RX length.
// A corrupt packet ends with a CRC error instead of a packet-received interrupt.
func (r *Radio) InjectPacket(data []byte, corrupt bool) {
	p := airPacket{data: make([]byte, len(data)), corrupt: corrupt}
	copy(p.data, data)

	r.mu.Lock()
	r.queue = append(r.queue, p)
	r.mu.Unlock()

	r.signal()
}

// Faults returns the FIFO protocol violations recorded so far
func (r *Radio) Faults() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.faults))
	copy(out, r.faults)
	return out
}

// Resets returns the number of power cycles
func (r *Radio) Resets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets
}

// Loads returns the number of configuration load attempts
func (r *Radio) Loads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}

// State returns the current operating state
func (r *Radio) State() link.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// TXLevel returns the number of bytes waiting in the TX FIFO
func (r *Radio) TXLevel() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txFIFO)
}

// RXLevel returns the number of bytes waiting in the RX FIFO
func (r *Radio) RXLevel() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rxFIFO)
}

// Reset power-cycles the radio
func (r *Radio) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	r.configured = false
	r.state = link.StateSleep
	r.pending = 0
	r.stopTX()
	r.stopRX()
	r.txFIFO = r.txFIFO[:0]
	r.rxFIFO = r.rxFIFO[:0]
	return nil
}

// LoadConfiguration accepts any non-empty table unless a failure is injected
func (r *Radio) LoadConfiguration(table []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	if r.failLoads > 0 {
		r.failLoads--
		return ErrConfigLoad
	}
	if len(table) == 0 {
		return fmt.Errorf("%w: empty table", ErrConfigLoad)
	}
	r.configured = true
	r.state = link.StateReady
	return nil
}

// InterruptStatus advances the air interface by one tick, then reads and
// clears the latched interrupts
func (r *Radio) InterruptStatus() (link.Interrupt, error) {
	r.mu.Lock()
	aired := r.tick()
	status := r.pending | r.levels()
	r.pending = 0
	channel := r.channel
	onAir := r.OnAir
	r.mu.Unlock()

	if aired != nil && onAir != nil {
		onAir(channel, aired)
	}
	return status, nil
}

// WriteTxFIFO appends data to the TX FIFO
func (r *Radio) WriteTxFIFO(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.txFIFO)+len(data) > r.cfg.FIFOSize {
		err := fmt.Errorf("%w: %d bytes into %d free", ErrTXOverflow, len(data), r.cfg.FIFOSize-len(r.txFIFO))
		r.fault(err)
		return err
	}
	r.txFIFO = append(r.txFIFO, data...)
	return nil
}

// ReadRxFIFO fills buf from the RX FIFO
func (r *Radio) ReadRxFIFO(buf []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(buf) > len(r.rxFIFO) {
		err := fmt.Errorf("%w: read %d bytes with %d available", ErrRXUnderflow, len(buf), len(r.rxFIFO))
		r.fault(err)
		return err
	}
	n := copy(buf, r.rxFIFO)
	r.rxFIFO = append(r.rxFIFO[:0], r.rxFIFO[n:]...)
	return nil
}

// ResetFIFO flushes one FIFO
func (r *Radio) ResetFIFO(fifo link.FIFO) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fifo == link.FIFORX {
		r.rxFIFO = r.rxFIFO[:0]
	} else {
		r.txFIFO = r.txFIFO[:0]
	}
	return nil
}

// StartRX enters receive
func (r *Radio) StartRX(channel uint8, length int, policy link.RxPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.configured {
		return ErrNotConfigured
	}
	r.stopTX()
	r.channel = channel
	r.rxActive = true
	r.rxLen = length
	r.policy = policy
	r.state = link.StateRX
	r.signal()
	return nil
}

// StartTX begins shifting length bytes out of the TX FIFO
func (r *Radio) StartTX(channel uint8, length int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.configured {
		return ErrNotConfigured
	}
	if length <= 0 {
		return fmt.Errorf("invalid TX length %d", length)
	}
	r.stopRX()
	r.channel = channel
	r.txActive = true
	r.txLen = length
	r.air = r.air[:0]
	r.state = link.StateTX
	r.signal()
	return nil
}

// ChangeState forces an operating state, abandoning any transfer in progress
func (r *Radio) ChangeState(state link.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state == link.StateNoChange {
		return nil
	}
	if state != link.StateTX {
		r.stopTX()
	}
	if state != link.StateRX {
		r.stopRX()
	}
	r.state = state
	return nil
}

// WaitForInterrupt returns immediately while a transfer is in flight and
// otherwise waits up to timeout for a packet to be injected
func (r *Radio) WaitForInterrupt(timeout time.Duration) bool {
	r.mu.Lock()
	busy := r.txActive || r.incoming != nil || (r.rxActive && len(r.queue) > 0) || r.pending != 0
	r.mu.Unlock()
	if busy {
		return true
	}
	select {
	case <-r.notify:
		return true
	case <-time.After(timeout):
		return false
	}
}

// tick moves BytesPerTick bytes in each active direction. It returns the
// completed packet when a transmission finishes.
func (r *Radio) tick() []byte {
	var aired []byte
	if r.txActive {
		aired = r.tickTX()
	}
	if r.rxActive {
		r.tickRX()
	}
	return aired
}

func (r *Radio) tickTX() []byte {
	want := min(r.cfg.BytesPerTick, r.txLen-len(r.air))
	n := min(want, len(r.txFIFO))
	if n < want {
		r.fault(fmt.Errorf("%w: %d of %d bytes on air", ErrTXUnderflow, len(r.air), r.txLen))
	}
	r.air = append(r.air, r.txFIFO[:n]...)
	r.txFIFO = append(r.txFIFO[:0], r.txFIFO[n:]...)

	if len(r.air) < r.txLen {
		return nil
	}
	packet := make([]byte, len(r.air))
	copy(packet, r.air)
	r.stopTX()
	r.state = link.StateReady
	r.pending |= link.IntPacketSent
	r.log.WithField("length", len(packet)).Debug("sim: packet on air")
	return packet
}

func (r *Radio) tickRX() {
	if r.incoming == nil {
		if len(r.queue) == 0 {
			return
		}
		p := r.queue[0]
		r.queue = r.queue[1:]
		if r.rxLen > 0 && len(p.data) > r.rxLen {
			p.data = p.data[:r.rxLen]
		}
		r.incoming = &p
		r.received = 0
	}

	p := r.incoming
	n := min(r.cfg.BytesPerTick, len(p.data)-r.received)
	chunk := p.data[r.received : r.received+n]
	r.received += n

	free := r.cfg.FIFOSize - len(r.rxFIFO)
	if len(chunk) > free {
		r.fault(fmt.Errorf("%w: dropped %d bytes", ErrRXOverflow, len(chunk)-free))
		chunk = chunk[:free]
	}
	r.rxFIFO = append(r.rxFIFO, chunk...)

	if r.received < len(p.data) {
		return
	}

	r.incoming = nil
	next := r.policy.OnValid
	if p.corrupt {
		r.pending |= link.IntCRCError
		next = r.policy.OnInvalid
	} else {
		r.pending |= link.IntPacketReceived
	}
	if next != link.StateNoChange && next != link.StateRX {
		r.rxActive = false
		r.state = next
	}
}

// levels reports the threshold interrupts, which follow the FIFO level
func (r *Radio) levels() link.Interrupt {
	var status link.Interrupt
	if r.txActive && r.cfg.FIFOSize-len(r.txFIFO) >= r.cfg.TXThreshold {
		status |= link.IntTXAlmostEmpty
	}
	if r.rxActive && r.cfg.RXThreshold > 0 && len(r.rxFIFO) >= r.cfg.RXThreshold {
		status |= link.IntRXAlmostFull
	}
	return status
}

func (r *Radio) stopTX() {
	r.txActive = false
	r.txLen = 0
}

func (r *Radio) stopRX() {
	r.rxActive = false
	r.incoming = nil
	r.received = 0
}

func (r *Radio) fault(err error) {
	r.faults = append(r.faults, err)
	r.log.WithError(err).Warn("sim: FIFO fault")
}

func (r *Radio) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}
