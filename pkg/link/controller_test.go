package link

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

// mockTransceiver records every primitive and returns scripted interrupts
type mockTransceiver struct {
	next     Interrupt // returned (and cleared) by the next InterruptStatus
	loadErrs []error   // consumed by successive LoadConfiguration calls

	rxData []byte // source for ReadRxFIFO
	rxPos  int

	written    []byte
	writeSizes []int
	readSizes  []int
	resets     int
	fifoResets []FIFO
	states     []State
	startTX    []int
	startRX    []int
}

func (m *mockTransceiver) Reset() error {
	m.resets++
	return nil
}

func (m *mockTransceiver) LoadConfiguration(table []byte) error {
	if len(m.loadErrs) == 0 {
		return nil
	}
	err := m.loadErrs[0]
	m.loadErrs = m.loadErrs[1:]
	return err
}

func (m *mockTransceiver) InterruptStatus() (Interrupt, error) {
	s := m.next
	m.next = 0
	return s, nil
}

func (m *mockTransceiver) WriteTxFIFO(data []byte) error {
	m.written = append(m.written, data...)
	m.writeSizes = append(m.writeSizes, len(data))
	return nil
}

func (m *mockTransceiver) ReadRxFIFO(buf []byte) error {
	n := copy(buf, m.rxData[m.rxPos:])
	m.rxPos += n
	m.readSizes = append(m.readSizes, len(buf))
	return nil
}

func (m *mockTransceiver) ResetFIFO(fifo FIFO) error {
	m.fifoResets = append(m.fifoResets, fifo)
	return nil
}

func (m *mockTransceiver) StartRX(channel uint8, length int, policy RxPolicy) error {
	m.startRX = append(m.startRX, length)
	return nil
}

func (m *mockTransceiver) StartTX(channel uint8, length int) error {
	m.startTX = append(m.startTX, length)
	return nil
}

func (m *mockTransceiver) ChangeState(state State) error {
	m.states = append(m.states, state)
	return nil
}

func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*7 + 3)
	}
	return p
}

func newTestController(t *testing.T, m *mockTransceiver, modify func(*Config)) *Controller {
	t.Helper()
	cfg := validConfig()
	cfg.ResetDelay = 0
	cfg.InitBackoff = 0
	if modify != nil {
		modify(&cfg)
	}
	c, err := NewController(m, cfg)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return c
}

func TestTransmitChunking(t *testing.T) {
	tests := []struct {
		name      string
		length    int
		wantSizes []int
	}{
		{name: "single byte", length: 1, wantSizes: []int{1}},
		{name: "one FIFO load", length: 64, wantSizes: []int{64}},
		{name: "one over FIFO", length: 65, wantSizes: []int{64, 1}},
		{name: "two FIFO loads", length: 128, wantSizes: []int{64, 30, 30, 4}},
		{name: "long packet", length: 192, wantSizes: []int{64, 30, 30, 30, 30, 8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockTransceiver{}
			c := newTestController(t, m, nil)
			packet := pattern(tt.length)

			if err := c.StartTransmit(packet); err != nil {
				t.Fatalf("StartTransmit() error = %v", err)
			}
			if c.Mode() != ModeTransmitting {
				t.Fatalf("Mode() = %v, want transmitting", c.Mode())
			}

			for i := 0; len(m.written) < tt.length; i++ {
				if i > 2*tt.length {
					t.Fatal("streamer stopped making progress")
				}
				m.next = IntTXAlmostEmpty
				ev, err := c.Poll()
				if err != nil {
					t.Fatalf("Poll() error = %v", err)
				}
				if ev.Kind != EventNone {
					t.Fatalf("Poll() kind = %v before packet sent", ev.Kind)
				}
			}

			// Almost-empty with nothing left is a no-op
			writes := len(m.writeSizes)
			m.next = IntTXAlmostEmpty
			if _, err := c.Poll(); err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			if len(m.writeSizes) != writes {
				t.Errorf("almost-empty after last chunk wrote %v", m.writeSizes[writes:])
			}

			m.next = IntPacketSent | IntTXAlmostEmpty
			ev, err := c.Poll()
			if err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			if ev.Kind != EventPacketTransmitted || ev.Length != tt.length {
				t.Errorf("Poll() = %v/%d, want packet-transmitted/%d", ev.Kind, ev.Length, tt.length)
			}
			if c.Mode() != ModeIdle {
				t.Errorf("Mode() = %v after sent, want idle", c.Mode())
			}

			if !bytes.Equal(m.written, packet) {
				t.Errorf("written bytes differ from packet")
			}
			if len(m.writeSizes) != len(tt.wantSizes) {
				t.Fatalf("write sizes = %v, want %v", m.writeSizes, tt.wantSizes)
			}
			for i, n := range tt.wantSizes {
				if m.writeSizes[i] != n {
					t.Errorf("write sizes = %v, want %v", m.writeSizes, tt.wantSizes)
					break
				}
			}
			if len(m.startTX) != 1 || m.startTX[0] != tt.length {
				t.Errorf("StartTX calls = %v, want [%d]", m.startTX, tt.length)
			}
		})
	}
}

func TestTransmitEveryLength(t *testing.T) {
	for length := 1; length <= DefaultLongPacketSize; length++ {
		m := &mockTransceiver{}
		c := newTestController(t, m, nil)
		packet := pattern(length)
		if err := c.StartTransmit(packet); err != nil {
			t.Fatalf("length %d: StartTransmit() error = %v", length, err)
		}

		sent := 0
		for i := 0; i < 20 && sent == 0; i++ {
			m.next = IntTXAlmostEmpty
			if len(m.written) == length {
				m.next = IntPacketSent
			}
			ev, err := c.Poll()
			if err != nil {
				t.Fatalf("length %d: Poll() error = %v", length, err)
			}
			if ev.Kind == EventPacketTransmitted {
				sent++
			}
		}

		if sent != 1 {
			t.Fatalf("length %d: packet-transmitted events = %d, want 1", length, sent)
		}
		for _, n := range m.writeSizes {
			if n > DefaultFIFOSize {
				t.Fatalf("length %d: FIFO write of %d bytes", length, n)
			}
		}
		if !bytes.Equal(m.written, packet) {
			t.Fatalf("length %d: written bytes differ from packet", length)
		}
	}
}

func TestTransmitPreamble(t *testing.T) {
	m := &mockTransceiver{}
	c := newTestController(t, m, nil)
	if err := c.StartTransmit(pattern(10)); err != nil {
		t.Fatalf("StartTransmit() error = %v", err)
	}
	if len(m.states) != 1 || m.states[0] != StateReady {
		t.Errorf("ChangeState calls = %v, want [READY]", m.states)
	}
	if len(m.fifoResets) != 1 || m.fifoResets[0] != FIFOTX {
		t.Errorf("ResetFIFO calls = %v, want [TX]", m.fifoResets)
	}
}

func TestTransmitCopiesPacket(t *testing.T) {
	m := &mockTransceiver{}
	c := newTestController(t, m, nil)
	packet := pattern(100)
	want := pattern(100)
	if err := c.StartTransmit(packet); err != nil {
		t.Fatalf("StartTransmit() error = %v", err)
	}
	for i := range packet {
		packet[i] = 0
	}
	m.next = IntTXAlmostEmpty
	if _, err := c.Poll(); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	m.next = IntTXAlmostEmpty
	if _, err := c.Poll(); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if !bytes.Equal(m.written, want) {
		t.Errorf("caller mutation leaked into the transmitted packet")
	}
}

func TestReceiveReassembly(t *testing.T) {
	lengths := []int{1, 29, 30, 31, 64, 100, 150, 191, 192}

	for _, length := range lengths {
		m := &mockTransceiver{rxData: pattern(length)}
		c := newTestController(t, m, func(cfg *Config) { cfg.PacketLength = length })

		if err := c.StartReceive(); err != nil {
			t.Fatalf("length %d: StartReceive() error = %v", length, err)
		}

		for length-c.rx.buf.Len() > DefaultRXThreshold {
			m.next = IntRXAlmostFull
			ev, err := c.Poll()
			if err != nil {
				t.Fatalf("length %d: Poll() error = %v", length, err)
			}
			if ev.Kind != EventNone {
				t.Fatalf("length %d: Poll() kind = %v mid-packet", length, ev.Kind)
			}
		}

		m.next = IntPacketReceived | IntRXAlmostFull
		ev, err := c.Poll()
		if err != nil {
			t.Fatalf("length %d: Poll() error = %v", length, err)
		}
		if ev.Kind != EventPacketReceived {
			t.Fatalf("length %d: Poll() kind = %v (%v), want packet-received", length, ev.Kind, ev.Err)
		}
		if !bytes.Equal(ev.Packet, pattern(length)) {
			t.Errorf("length %d: received packet differs", length)
		}
		if c.rx.buf.Len() != 0 {
			t.Errorf("length %d: write cursor = %d after delivery, want 0", length, c.rx.buf.Len())
		}
		if c.Mode() != ModeReceiving || len(m.startRX) != 2 {
			t.Errorf("length %d: mode %v with %d StartRX calls, want re-armed", length, c.Mode(), len(m.startRX))
		}
		for _, n := range m.readSizes {
			if n > DefaultFIFOSize {
				t.Errorf("length %d: FIFO read of %d bytes", length, n)
			}
		}
	}
}

func TestReceivedPacketIsCopy(t *testing.T) {
	m := &mockTransceiver{rxData: append(pattern(20), make([]byte, 20)...)}
	c := newTestController(t, m, func(cfg *Config) { cfg.PacketLength = 20 })
	if err := c.StartReceive(); err != nil {
		t.Fatalf("StartReceive() error = %v", err)
	}

	m.next = IntPacketReceived
	first, err := c.Poll()
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	m.next = IntPacketReceived
	if _, err := c.Poll(); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if !bytes.Equal(first.Packet, pattern(20)) {
		t.Errorf("first packet changed after second reception")
	}
}

func TestCRCErrorKeepsCursor(t *testing.T) {
	m := &mockTransceiver{rxData: pattern(192)}
	c := newTestController(t, m, func(cfg *Config) { cfg.RXThreshold = 20 })
	if err := c.StartReceive(); err != nil {
		t.Fatalf("StartReceive() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		m.next = IntRXAlmostFull
		if _, err := c.Poll(); err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
	}
	if c.rx.buf.Len() != 40 {
		t.Fatalf("write cursor = %d, want 40", c.rx.buf.Len())
	}

	resets := len(m.fifoResets)
	m.next = IntCRCError
	ev, err := c.Poll()
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if ev.Kind != EventCRCError {
		t.Errorf("Poll() kind = %v, want crc-error", ev.Kind)
	}
	if c.rx.buf.Len() != 40 {
		t.Errorf("write cursor = %d after CRC error, want 40", c.rx.buf.Len())
	}
	if got := m.fifoResets[resets:]; len(got) != 1 || got[0] != FIFORX {
		t.Errorf("ResetFIFO calls after CRC error = %v, want [RX]", got)
	}
	if len(m.startRX) != 1 {
		t.Errorf("StartRX calls = %d, want no restart", len(m.startRX))
	}
	if c.Mode() != ModeIdle {
		t.Errorf("Mode() = %v, want idle", c.Mode())
	}
}

func TestCRCErrorRestart(t *testing.T) {
	m := &mockTransceiver{rxData: pattern(192)}
	c := newTestController(t, m, func(cfg *Config) { cfg.RestartOnCRCError = true })
	if err := c.StartReceive(); err != nil {
		t.Fatalf("StartReceive() error = %v", err)
	}
	m.next = IntRXAlmostFull | IntCRCError
	ev, err := c.Poll()
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if ev.Kind != EventCRCError {
		t.Errorf("Poll() kind = %v, want crc-error", ev.Kind)
	}
	if c.Mode() != ModeReceiving || len(m.startRX) != 2 {
		t.Errorf("mode %v with %d StartRX calls, want restarted", c.Mode(), len(m.startRX))
	}
	if c.rx.buf.Len() != 0 {
		t.Errorf("write cursor = %d after restart, want 0", c.rx.buf.Len())
	}
}

func TestReceiveOverflow(t *testing.T) {
	tests := []struct {
		name        string
		length      int
		almostFulls int
		wantErr     error
	}{
		{name: "buffer exhausted", length: 192, almostFulls: 7, wantErr: ErrBufferOverflow},
		{name: "packet ends short", length: 100, almostFulls: 1, wantErr: ErrShortPacket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockTransceiver{rxData: pattern(256)}
			c := newTestController(t, m, func(cfg *Config) { cfg.PacketLength = tt.length })
			if err := c.StartReceive(); err != nil {
				t.Fatalf("StartReceive() error = %v", err)
			}
			for i := 0; i < tt.almostFulls; i++ {
				m.next = IntRXAlmostFull
				if _, err := c.Poll(); err != nil {
					t.Fatalf("Poll() error = %v", err)
				}
			}
			if c.rx.buf.Len() > c.rx.buf.Cap() {
				t.Fatalf("write cursor %d past capacity", c.rx.buf.Len())
			}

			m.next = IntPacketReceived
			ev, err := c.Poll()
			if err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			if ev.Kind != EventOverflow || !errors.Is(ev.Err, tt.wantErr) {
				t.Errorf("Poll() = %v (%v), want overflow (%v)", ev.Kind, ev.Err, tt.wantErr)
			}
			if ev.Packet != nil {
				t.Errorf("dropped packet was delivered")
			}
			if c.Mode() != ModeReceiving || len(m.startRX) != 2 {
				t.Errorf("mode %v with %d StartRX calls, want re-armed", c.Mode(), len(m.startRX))
			}
		})
	}
}

func TestHalfDuplex(t *testing.T) {
	m := &mockTransceiver{}
	c := newTestController(t, m, nil)

	if err := c.StartTransmit(pattern(100)); err != nil {
		t.Fatalf("StartTransmit() error = %v", err)
	}
	if err := c.StartReceive(); !errors.Is(err, ErrBusy) {
		t.Errorf("StartReceive() while transmitting error = %v, want ErrBusy", err)
	}
	if err := c.StartTransmit(pattern(10)); !errors.Is(err, ErrBusy) {
		t.Errorf("StartTransmit() while transmitting error = %v, want ErrBusy", err)
	}

	if err := c.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	if c.Mode() != ModeIdle {
		t.Fatalf("Mode() = %v after abort, want idle", c.Mode())
	}

	if err := c.StartReceive(); err != nil {
		t.Fatalf("StartReceive() error = %v", err)
	}
	if err := c.StartTransmit(pattern(10)); !errors.Is(err, ErrBusy) {
		t.Errorf("StartTransmit() while receiving error = %v, want ErrBusy", err)
	}
}

func TestStartRequiresInit(t *testing.T) {
	m := &mockTransceiver{}
	c, err := NewController(m, validConfig())
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	if err := c.StartTransmit(pattern(10)); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("StartTransmit() error = %v, want ErrNotInitialized", err)
	}
	if err := c.StartReceive(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("StartReceive() error = %v, want ErrNotInitialized", err)
	}
	if _, err := c.Poll(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Poll() error = %v, want ErrNotInitialized", err)
	}
}

func TestTransmitLengthBounds(t *testing.T) {
	m := &mockTransceiver{}
	c := newTestController(t, m, nil)
	for _, n := range []int{0, DefaultLongPacketSize + 1} {
		if err := c.StartTransmit(make([]byte, n)); !errors.Is(err, ErrInvalidPacketLength) {
			t.Errorf("StartTransmit(%d bytes) error = %v, want ErrInvalidPacketLength", n, err)
		}
	}
	if c.Mode() != ModeIdle {
		t.Errorf("Mode() = %v after rejected transmit, want idle", c.Mode())
	}
}

func TestTransmitCustomPayload(t *testing.T) {
	m := &mockTransceiver{}
	payload := pattern(200)
	c := newTestController(t, m, func(cfg *Config) {
		cfg.PacketLength = 150
		cfg.CustomPayload = payload
	})
	if err := c.TransmitCustomPayload(); err != nil {
		t.Fatalf("TransmitCustomPayload() error = %v", err)
	}
	if len(m.startTX) != 1 || m.startTX[0] != 150 {
		t.Errorf("StartTX calls = %v, want [150]", m.startTX)
	}

	plain := newTestController(t, &mockTransceiver{}, nil)
	if err := plain.TransmitCustomPayload(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("TransmitCustomPayload() without payload error = %v, want ErrInvalidConfig", err)
	}
}

func TestInitRetry(t *testing.T) {
	loadErr := errors.New("CMD_ERROR")

	tests := []struct {
		name       string
		loadErrs   []error
		attempts   int
		wantErr    bool
		wantResets int
	}{
		{name: "first attempt", attempts: 3, wantResets: 1},
		{name: "recovers", loadErrs: []error{loadErr, loadErr}, attempts: 3, wantResets: 3},
		{name: "gives up", loadErrs: []error{loadErr, loadErr, loadErr}, attempts: 3, wantErr: true, wantResets: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockTransceiver{loadErrs: tt.loadErrs}
			cfg := validConfig()
			cfg.ResetDelay = 0
			cfg.InitBackoff = time.Millisecond
			cfg.InitAttempts = tt.attempts
			c, err := NewController(m, cfg)
			if err != nil {
				t.Fatalf("NewController() error = %v", err)
			}

			err = c.Init(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Init() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInitFailed) || !errors.Is(err, loadErr) {
					t.Errorf("Init() error = %v, want ErrInitFailed wrapping the load error", err)
				}
				if c.Initialized() {
					t.Errorf("Initialized() = true after failure")
				}
			}
			if m.resets != tt.wantResets {
				t.Errorf("resets = %d, want %d", m.resets, tt.wantResets)
			}
		})
	}
}

func TestInitCancelled(t *testing.T) {
	m := &mockTransceiver{loadErrs: []error{errors.New("busy")}}
	cfg := validConfig()
	cfg.InitBackoff = time.Hour
	c, err := NewController(m, cfg)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Init(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Init() error = %v, want context.Canceled", err)
	}
}

func TestPollIdle(t *testing.T) {
	m := &mockTransceiver{}
	c := newTestController(t, m, nil)
	m.next = IntPacketReceived
	ev, err := c.Poll()
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if ev.Kind != EventNone {
		t.Errorf("Poll() kind = %v while idle, want none", ev.Kind)
	}
}

type countingObserver struct {
	NopObserver
	written, read, sent, received, crc int
}

func (o *countingObserver) ChunkWritten(n int)      { o.written += n }
func (o *countingObserver) ChunkRead(n int)         { o.read += n }
func (o *countingObserver) PacketTransmitted(n int) { o.sent++ }
func (o *countingObserver) PacketReceived(n int)    { o.received++ }
func (o *countingObserver) CRCError()               { o.crc++ }

func TestObserver(t *testing.T) {
	m := &mockTransceiver{rxData: pattern(64)}
	obs := &countingObserver{}
	cfg := validConfig()
	cfg.ResetDelay = 0
	cfg.PacketLength = 64
	c, err := NewController(m, cfg, WithObserver(obs))
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if err := c.StartTransmit(pattern(64)); err != nil {
		t.Fatalf("StartTransmit() error = %v", err)
	}
	m.next = IntPacketSent
	if _, err := c.Poll(); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if err := c.StartReceive(); err != nil {
		t.Fatalf("StartReceive() error = %v", err)
	}
	m.next = IntRXAlmostFull
	if _, err := c.Poll(); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	m.next = IntPacketReceived
	if _, err := c.Poll(); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if obs.written != 64 || obs.sent != 1 {
		t.Errorf("tx observed %d bytes / %d packets, want 64 / 1", obs.written, obs.sent)
	}
	if obs.read != 64 || obs.received != 1 {
		t.Errorf("rx observed %d bytes / %d packets, want 64 / 1", obs.read, obs.received)
	}
}
