package si446x

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/herlein/radiolink/pkg/link"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Driver errors
var (
	// ErrCTSTimeout indicates the chip never signalled clear-to-send
	ErrCTSTimeout = errors.New("timeout waiting for CTS")

	// ErrCommandError indicates the chip rejected a command (CHIP_PEND CMD_ERROR)
	ErrCommandError = errors.New("command rejected by chip")

	// ErrFIFOAccess indicates a FIFO transfer larger than the hardware FIFO
	ErrFIFOAccess = errors.New("FIFO transfer exceeds FIFO size")
)

// Config selects the SPI port and GPIO lines for Open
type Config struct {
	SPIPort    string // e.g. "/dev/spidev0.0"; empty selects the first port
	SPIClockHz int
	SDNPin     string // Shutdown line, e.g. "GPIO25"
	IRQPin     string // nIRQ line, e.g. "GPIO17"; empty disables IRQ waits

	// TXCompleteState is entered when a transmission ends
	TXCompleteState link.State
	CTSAttempts     int

	Logger logrus.FieldLogger
}

// PartInfo is the PART_INFO reply
type PartInfo struct {
	ChipRev  uint8
	Part     uint16
	PBuild   uint8
	ID       uint16
	Customer uint8
	ROMID    uint8
}

func (p PartInfo) String() string {
	return fmt.Sprintf("Si%04X rev %d (ROM %d, id 0x%04X)", p.Part, p.ChipRev, p.ROMID, p.ID)
}

// IntStatus is the GET_INT_STATUS reply
type IntStatus struct {
	IntPend     uint8
	IntStatus   uint8
	PHPend      uint8
	PHStatus    uint8
	ModemPend   uint8
	ModemStatus uint8
	ChipPend    uint8
	ChipStatus  uint8
}

// Device is an Si446x on an SPI bus. It implements link.Transceiver.
type Device struct {
	conn spi.Conn
	port spi.PortCloser
	sdn  gpio.PinOut
	irq  gpio.PinIn
	cfg  Config
	log  logrus.FieldLogger
}

// Open initializes the periph.io host and opens the SPI port and pins named in cfg
func Open(cfg Config) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io host: %w", err)
	}

	if cfg.SPIClockHz == 0 {
		cfg.SPIClockHz = DefaultSPIClockHz
	}

	p, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port: %w", err)
	}

	conn, err := p.Connect(physic.Frequency(cfg.SPIClockHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to create SPI connection: %w", err)
	}

	var sdn gpio.PinOut
	if cfg.SDNPin != "" {
		pin := gpioreg.ByName(cfg.SDNPin)
		if pin == nil {
			p.Close()
			return nil, fmt.Errorf("failed to open SDN pin %s", cfg.SDNPin)
		}
		sdn = pin
	}

	var irq gpio.PinIn
	if cfg.IRQPin != "" {
		pin := gpioreg.ByName(cfg.IRQPin)
		if pin == nil {
			p.Close()
			return nil, fmt.Errorf("failed to open IRQ pin %s", cfg.IRQPin)
		}
		irq = pin
	}

	d, err := New(conn, sdn, irq, cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	d.port = p
	return d, nil
}

// New wraps an existing SPI connection. sdn and irq may be nil.
func New(conn spi.Conn, sdn gpio.PinOut, irq gpio.PinIn, cfg Config) (*Device, error) {
	if cfg.CTSAttempts <= 0 {
		cfg.CTSAttempts = DefaultCTSAttempts
	}
	if cfg.TXCompleteState == link.StateNoChange {
		cfg.TXCompleteState = link.StateReady
	}
	l := cfg.Logger
	if l == nil {
		quiet := logrus.New()
		quiet.SetOutput(io.Discard)
		l = quiet
	}

	d := &Device{
		conn: conn,
		sdn:  sdn,
		irq:  irq,
		cfg:  cfg,
		log:  l,
	}

	if d.irq != nil {
		if err := d.irq.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			return nil, fmt.Errorf("failed to configure IRQ pin: %w", err)
		}
	}
	return d, nil
}

// Close releases the SPI port
func (d *Device) Close() error {
	if d.sdn != nil {
		d.sdn.Out(gpio.High)
	}
	if d.port != nil {
		return d.port.Close()
	}
	return nil
}

// String returns a human-readable description of the device
func (d *Device) String() string {
	return fmt.Sprintf("Si446x on %s", d.conn)
}

// transfer performs one full-duplex SPI transaction
func (d *Device) transfer(w []byte) ([]byte, error) {
	r := make([]byte, len(w))
	if err := d.conn.Tx(w, r); err != nil {
		return nil, fmt.Errorf("SPI transfer failed: %w", err)
	}
	return r, nil
}

// waitCTS polls READ_CMD_BUFF until the chip reports CTS and returns n
// response bytes
func (d *Device) waitCTS(n int) ([]byte, error) {
	w := make([]byte, 2+n)
	w[0] = CmdReadCmdBuff
	for i := 1; i < len(w); i++ {
		w[i] = 0xFF
	}
	for attempt := 0; attempt < d.cfg.CTSAttempts; attempt++ {
		r, err := d.transfer(w)
		if err != nil {
			return nil, err
		}
		if r[1] == CTSReady {
			return r[2:], nil
		}
	}
	return nil, ErrCTSTimeout
}

// Command sends cmd and returns respLen response bytes once CTS is asserted
func (d *Device) Command(cmd []byte, respLen int) ([]byte, error) {
	if len(cmd) == 0 || len(cmd) > MaxCommandLength {
		return nil, fmt.Errorf("invalid command length %d", len(cmd))
	}
	if _, err := d.transfer(cmd); err != nil {
		return nil, err
	}
	resp, err := d.waitCTS(respLen)
	if err != nil {
		return nil, fmt.Errorf("command 0x%02X: %w", cmd[0], err)
	}
	return resp, nil
}

// PartInfo reads the part number
func (d *Device) PartInfo() (PartInfo, error) {
	r, err := d.Command([]byte{CmdPartInfo}, 8)
	if err != nil {
		return PartInfo{}, err
	}
	return PartInfo{
		ChipRev:  r[0],
		Part:     binary.BigEndian.Uint16(r[1:3]),
		PBuild:   r[3],
		ID:       binary.BigEndian.Uint16(r[4:6]),
		Customer: r[6],
		ROMID:    r[7],
	}, nil
}

// IntStatus reads and clears all pending interrupts
func (d *Device) IntStatus() (IntStatus, error) {
	r, err := d.Command([]byte{CmdGetIntStatus, 0, 0, 0}, 8)
	if err != nil {
		return IntStatus{}, err
	}
	return IntStatus{
		IntPend:     r[0],
		IntStatus:   r[1],
		PHPend:      r[2],
		PHStatus:    r[3],
		ModemPend:   r[4],
		ModemStatus: r[5],
		ChipPend:    r[6],
		ChipStatus:  r[7],
	}, nil
}

// FIFOInfo returns the RX FIFO count and TX FIFO free space, resetting the
// FIFOs selected by reset
func (d *Device) FIFOInfo(reset byte) (rxCount, txSpace int, err error) {
	r, err := d.Command([]byte{CmdFIFOInfo, reset}, 2)
	if err != nil {
		return 0, 0, err
	}
	return int(r[0]), int(r[1]), nil
}

// Reset pulses SDN to power-cycle the chip
func (d *Device) Reset() error {
	if d.sdn == nil {
		return nil
	}
	if err := d.sdn.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to assert SDN: %w", err)
	}
	time.Sleep(ShutdownPulse)
	if err := d.sdn.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to release SDN: %w", err)
	}
	return nil
}

// LoadConfiguration sends every command of table. When nIRQ is asserted
// after a command the chip status is checked for a command error.
func (d *Device) LoadConfiguration(table []byte) error {
	commands, err := SplitTable(table)
	if err != nil {
		return err
	}
	for i, cmd := range commands {
		if _, err := d.Command(cmd, 0); err != nil {
			return fmt.Errorf("table entry %d: %w", i, err)
		}
		if d.irq == nil || d.irq.Read() != gpio.Low {
			continue
		}
		status, err := d.IntStatus()
		if err != nil {
			return fmt.Errorf("table entry %d: %w", i, err)
		}
		if status.ChipPend&ChipPendCmdError != 0 {
			return fmt.Errorf("%w: table entry %d (0x%02X)", ErrCommandError, i, cmd[0])
		}
	}
	d.log.WithField("commands", len(commands)).Debug("si446x: configuration loaded")
	return nil
}

// InterruptStatus reads and clears pending interrupts and returns the
// packet handler bits
func (d *Device) InterruptStatus() (link.Interrupt, error) {
	status, err := d.IntStatus()
	if err != nil {
		return 0, err
	}
	return link.Interrupt(status.PHPend & PHPendStreamMask), nil
}

// WriteTxFIFO appends data to the TX FIFO
func (d *Device) WriteTxFIFO(data []byte) error {
	if len(data) > FIFOSize {
		return fmt.Errorf("%w: write of %d bytes", ErrFIFOAccess, len(data))
	}
	w := make([]byte, 1+len(data))
	w[0] = CmdWriteTxFIFO
	copy(w[1:], data)
	_, err := d.transfer(w)
	return err
}

// ReadRxFIFO fills buf from the RX FIFO
func (d *Device) ReadRxFIFO(buf []byte) error {
	if len(buf) > FIFOSize {
		return fmt.Errorf("%w: read of %d bytes", ErrFIFOAccess, len(buf))
	}
	w := make([]byte, 1+len(buf))
	w[0] = CmdReadRxFIFO
	r, err := d.transfer(w)
	if err != nil {
		return err
	}
	copy(buf, r[1:])
	return nil
}

// ResetFIFO flushes one FIFO
func (d *Device) ResetFIFO(fifo link.FIFO) error {
	bit := byte(FIFOResetTX)
	if fifo == link.FIFORX {
		bit = FIFOResetRX
	}
	_, _, err := d.FIFOInfo(bit)
	return err
}

// StartRX enters receive for a packet of length bytes
func (d *Device) StartRX(channel uint8, length int, policy link.RxPolicy) error {
	_, err := d.Command([]byte{
		CmdStartRX,
		channel,
		0x00, // start immediately
		byte(length >> 8),
		byte(length),
		byte(policy.OnTimeout),
		byte(policy.OnValid),
		byte(policy.OnInvalid),
	}, 0)
	return err
}

// StartTX transmits length bytes from the TX FIFO
func (d *Device) StartTX(channel uint8, length int) error {
	_, err := d.Command([]byte{
		CmdStartTX,
		channel,
		byte(d.cfg.TXCompleteState) << 4,
		byte(length >> 8),
		byte(length),
	}, 0)
	return err
}

// ChangeState forces an operating state
func (d *Device) ChangeState(state link.State) error {
	_, err := d.Command([]byte{CmdChangeState, byte(state)}, 0)
	return err
}

// WaitForInterrupt blocks until nIRQ is asserted or timeout elapses
func (d *Device) WaitForInterrupt(timeout time.Duration) bool {
	if d.irq == nil {
		time.Sleep(timeout)
		return false
	}
	if d.irq.Read() == gpio.Low {
		return true
	}
	return d.irq.WaitForEdge(timeout)
}
