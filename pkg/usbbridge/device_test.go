package usbbridge

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/herlein/radiolink/pkg/link"
	"github.com/herlein/radiolink/pkg/si446x"
)

type sentFrame struct {
	app, cmd uint8
	payload  []byte
}

// fakeBridge answers EP5 frames like the bridge firmware. reply returns the
// response payload for a command, or nil to stay silent.
type fakeBridge struct {
	sent    []sentFrame
	pending []byte
	chunk   int // max bytes per read, 0 for unlimited
	reply   func(app, cmd uint8, payload []byte) []byte
}

func response(app, cmd uint8, payload []byte) []byte {
	out := []byte{ResponseMarker, app, cmd, 0, 0}
	binary.LittleEndian.PutUint16(out[3:5], uint16(len(payload)))
	return append(out, payload...)
}

func (f *fakeBridge) WriteContext(_ context.Context, buf []byte) (int, error) {
	n := int(binary.LittleEndian.Uint16(buf[2:4]))
	frame := sentFrame{app: buf[0], cmd: buf[1], payload: append([]byte(nil), buf[4:4+n]...)}
	f.sent = append(f.sent, frame)
	if f.reply != nil {
		if p := f.reply(frame.app, frame.cmd, frame.payload); p != nil {
			f.pending = append(f.pending, response(frame.app, frame.cmd, p)...)
		}
	}
	return len(buf), nil
}

func (f *fakeBridge) ReadContext(ctx context.Context, buf []byte) (int, error) {
	if len(f.pending) == 0 {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	n := len(f.pending)
	if f.chunk > 0 && n > f.chunk {
		n = f.chunk
	}
	n = copy(buf, f.pending[:n])
	f.pending = f.pending[n:]
	return n, nil
}

// okBridge acknowledges every radio command and echoes system pings
func okBridge() *fakeBridge {
	return &fakeBridge{
		chunk: 7,
		reply: func(app, cmd uint8, payload []byte) []byte {
			if app == AppSystem {
				return payload
			}
			if cmd == RadioCmdReadRxFIFO {
				out := []byte{StatusOK}
				for i := 0; i < int(payload[0]); i++ {
					out = append(out, byte(i))
				}
				return out
			}
			if cmd == RadioCmdIntStatus {
				return []byte{StatusOK, 0xFF}
			}
			return []byte{StatusOK}
		},
	}
}

func newTestDevice(f *fakeBridge) *Device {
	d := newDevice(f, f)
	d.Timeout = 50 * time.Millisecond
	return d
}

func TestEncodeFrame(t *testing.T) {
	got, err := encodeFrame(AppRadio, RadioCmdStartTX, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("encodeFrame() error = %v", err)
	}
	want := []byte{AppRadio, RadioCmdStartTX, 3, 0, 1, 2, 3}
	if !bytes.Equal(got, want) {
		t.Errorf("encodeFrame() = % X, want % X", got, want)
	}

	if _, err := encodeFrame(AppRadio, RadioCmdWriteTxFIFO, make([]byte, maxPayload+1)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversized payload error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestParseResponse(t *testing.T) {
	full := response(AppRadio, RadioCmdIntStatus, []byte{0x00, 0x10})

	tests := []struct {
		name        string
		buf         []byte
		wantPayload []byte
		wantRest    []byte
		wantErr     error
	}{
		{"complete", full, []byte{0x00, 0x10}, []byte{}, nil},
		{"leading garbage", append([]byte{0x01, 0x02}, full...), []byte{0x00, 0x10}, []byte{}, nil},
		{"trailing data", append(append([]byte{}, full...), 0xAA), []byte{0x00, 0x10}, []byte{0xAA}, nil},
		{"no marker", []byte{0x01, 0x02}, nil, []byte{}, errNoMarker},
		{"short header", full[:3], nil, full[:3], errIncomplete},
		{"short payload", full[:6], nil, full[:6], errIncomplete},
		{"other command", response(AppRadio, RadioCmdStartRX, []byte{0}), nil, response(AppRadio, RadioCmdStartRX, []byte{0})[1:], errMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, rest, err := parseResponse(tt.buf, AppRadio, RadioCmdIntStatus)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if !bytes.Equal(payload, tt.wantPayload) {
				t.Errorf("payload = % X, want % X", payload, tt.wantPayload)
			}
			if !bytes.Equal(rest, tt.wantRest) {
				t.Errorf("remaining = % X, want % X", rest, tt.wantRest)
			}
		})
	}
}

func TestPackTable(t *testing.T) {
	commands := [][]byte{{0xA1, 0xA2, 0xA3}, {0xB1, 0xB2, 0xB3}, {0xC1, 0xC2, 0xC3, 0xC4, 0xC5}}
	got := packTable(commands, 10)
	want := [][]byte{
		{3, 0xA1, 0xA2, 0xA3, 3, 0xB1, 0xB2, 0xB3, 0},
		{5, 0xC1, 0xC2, 0xC3, 0xC4, 0xC5, 0},
	}
	if len(got) != len(want) {
		t.Fatalf("packTable() = %d fragments, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("fragment %d = % X, want % X", i, got[i], want[i])
		}
	}

	if got := packTable(nil, 10); len(got) != 0 {
		t.Errorf("packTable(nil) = %v, want no fragments", got)
	}
}

func TestLoadConfigurationFragments(t *testing.T) {
	var table []byte
	var commands [][]byte
	for i := 0; i < 60; i++ {
		cmd := append([]byte{si446x.CmdSetProperty, 0x20, 12, byte(i)}, make([]byte, 12)...)
		commands = append(commands, cmd)
		table = si446x.AppendCommand(table, cmd...)
	}
	table = si446x.Terminate(table)

	f := okBridge()
	d := newTestDevice(f)
	if err := d.LoadConfiguration(table); err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}
	if len(f.sent) < 2 {
		t.Fatalf("sent %d fragments, want the table split across several", len(f.sent))
	}

	var replayed [][]byte
	for _, frame := range f.sent {
		if frame.cmd != RadioCmdLoadConfig {
			t.Fatalf("unexpected command 0x%02X", frame.cmd)
		}
		if len(frame.payload) > maxPayload {
			t.Errorf("fragment of %d bytes exceeds %d", len(frame.payload), maxPayload)
		}
		cmds, err := si446x.SplitTable(frame.payload)
		if err != nil {
			t.Fatalf("fragment does not parse: %v", err)
		}
		replayed = append(replayed, cmds...)
	}
	if len(replayed) != len(commands) {
		t.Fatalf("replayed %d commands, want %d", len(replayed), len(commands))
	}
	for i := range commands {
		if !bytes.Equal(replayed[i], commands[i]) {
			t.Errorf("command %d = % X, want % X", i, replayed[i], commands[i])
		}
	}

	if err := d.LoadConfiguration([]byte{0x20, 0x01}); !errors.Is(err, si446x.ErrTableFormat) {
		t.Errorf("malformed table error = %v, want ErrTableFormat", err)
	}
}

func TestTransceiverEncoding(t *testing.T) {
	f := okBridge()
	d := newTestDevice(f)

	steps := []struct {
		name    string
		call    func() error
		cmd     uint8
		payload []byte
	}{
		{"reset", d.Reset, RadioCmdReset, nil},
		{"write", func() error { return d.WriteTxFIFO([]byte{9, 8, 7}) }, RadioCmdWriteTxFIFO, []byte{9, 8, 7}},
		{"reset rx fifo", func() error { return d.ResetFIFO(link.FIFORX) }, RadioCmdResetFIFO, []byte{si446x.FIFOResetRX}},
		{"reset tx fifo", func() error { return d.ResetFIFO(link.FIFOTX) }, RadioCmdResetFIFO, []byte{si446x.FIFOResetTX}},
		{"start rx", func() error { return d.StartRX(2, 192, link.DefaultRxPolicy) }, RadioCmdStartRX,
			[]byte{2, 0x00, 0xC0, byte(link.StateNoChange), byte(link.StateReady), byte(link.StateRX)}},
		{"start tx", func() error { return d.StartTX(1, 300) }, RadioCmdStartTX,
			[]byte{1, byte(link.StateReady) << 4, 0x01, 0x2C}},
		{"change state", func() error { return d.ChangeState(link.StateSleep) }, RadioCmdChangeState, []byte{byte(link.StateSleep)}},
	}

	for i, s := range steps {
		if err := s.call(); err != nil {
			t.Fatalf("%s: error = %v", s.name, err)
		}
		got := f.sent[i]
		if got.app != AppRadio || got.cmd != s.cmd {
			t.Errorf("%s: sent app 0x%02X cmd 0x%02X, want 0x%02X", s.name, got.app, got.cmd, s.cmd)
		}
		if !bytes.Equal(got.payload, s.payload) {
			t.Errorf("%s: payload = % X, want % X", s.name, got.payload, s.payload)
		}
	}
}

func TestInterruptStatusMasksStreamBits(t *testing.T) {
	d := newTestDevice(okBridge())
	got, err := d.InterruptStatus()
	if err != nil {
		t.Fatalf("InterruptStatus() error = %v", err)
	}
	if got != link.Interrupt(si446x.PHPendStreamMask) {
		t.Errorf("InterruptStatus() = 0x%02X, want 0x%02X", got, si446x.PHPendStreamMask)
	}
}

func TestReadRxFIFO(t *testing.T) {
	d := newTestDevice(okBridge())
	buf := make([]byte, 30)
	if err := d.ReadRxFIFO(buf); err != nil {
		t.Fatalf("ReadRxFIFO() error = %v", err)
	}
	for i, b := range buf {
		if b != byte(i) {
			t.Fatalf("buf[%d] = %d, want %d", i, b, i)
		}
	}

	short := &fakeBridge{reply: func(_, _ uint8, _ []byte) []byte { return []byte{StatusOK, 1, 2} }}
	if err := newTestDevice(short).ReadRxFIFO(make([]byte, 5)); !errors.Is(err, ErrBridgeStatus) {
		t.Errorf("short read error = %v, want ErrBridgeStatus", err)
	}
}

func TestFIFOLimits(t *testing.T) {
	f := okBridge()
	d := newTestDevice(f)
	if err := d.WriteTxFIFO(make([]byte, si446x.FIFOSize+1)); !errors.Is(err, si446x.ErrFIFOAccess) {
		t.Errorf("WriteTxFIFO() error = %v, want ErrFIFOAccess", err)
	}
	if err := d.ReadRxFIFO(make([]byte, si446x.FIFOSize+1)); !errors.Is(err, si446x.ErrFIFOAccess) {
		t.Errorf("ReadRxFIFO() error = %v, want ErrFIFOAccess", err)
	}
	if len(f.sent) != 0 {
		t.Errorf("oversized transfers reached the bridge: %d frames", len(f.sent))
	}
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		status byte
		want   error
	}{
		{StatusCTSTimeout, si446x.ErrCTSTimeout},
		{StatusCmdError, si446x.ErrCommandError},
		{StatusBadLength, ErrBridgeStatus},
		{0x7F, ErrBridgeStatus},
	}
	for _, tt := range tests {
		f := &fakeBridge{reply: func(_, _ uint8, _ []byte) []byte { return []byte{tt.status} }}
		if err := newTestDevice(f).ChangeState(link.StateReady); !errors.Is(err, tt.want) {
			t.Errorf("status 0x%02X: error = %v, want %v", tt.status, err, tt.want)
		}
	}

	empty := &fakeBridge{reply: func(_, _ uint8, _ []byte) []byte { return []byte{} }}
	if err := newTestDevice(empty).Reset(); !errors.Is(err, ErrBridgeStatus) {
		t.Errorf("empty reply error = %v, want ErrBridgeStatus", err)
	}
}

func TestSendSkipsStaleResponses(t *testing.T) {
	f := okBridge()
	f.pending = append(f.pending, 0x00, 0x13)
	f.pending = append(f.pending, response(AppRadio, RadioCmdStartTX, []byte{StatusOK})...)
	d := newTestDevice(f)

	if err := d.Ping([]byte{0x55, 0xAA}); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if len(d.recvBuf) != 0 {
		t.Errorf("receive buffer holds % X after the reply", d.recvBuf)
	}
}

func TestSendTimeout(t *testing.T) {
	silent := &fakeBridge{}
	d := newTestDevice(silent)
	start := time.Now()
	if err := d.Ping([]byte{1}); err == nil {
		t.Fatal("Ping() to a silent bridge should fail")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestPingMismatch(t *testing.T) {
	f := &fakeBridge{reply: func(_, _ uint8, _ []byte) []byte { return []byte{0x00} }}
	if err := newTestDevice(f).Ping([]byte{0x55, 0xAA}); err == nil {
		t.Error("Ping() should fail on a short echo")
	}
}

func TestSystemQueries(t *testing.T) {
	f := &fakeBridge{reply: func(_, cmd uint8, _ []byte) []byte {
		switch cmd {
		case SysCmdBuildType:
			return []byte("SI446X-BRIDGE r12\x00junk")
		case SysCmdPartNum:
			return []byte{0x44, 0x63}
		}
		return nil
	}}
	d := newTestDevice(f)

	build, err := d.GetBuildType()
	if err != nil || build != "SI446X-BRIDGE r12" {
		t.Errorf("GetBuildType() = %q, %v", build, err)
	}
	part, err := d.GetPartNum()
	if err != nil || part != 0x4463 {
		t.Errorf("GetPartNum() = 0x%04X, %v", part, err)
	}
}
