package usbbridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/herlein/radiolink/pkg/link"
	"github.com/herlein/radiolink/pkg/si446x"
)

// ErrBridgeStatus indicates a radio command the bridge failed to carry out
var ErrBridgeStatus = errors.New("bridge reported failure")

var _ link.Transceiver = (*Device)(nil)

// radioCall sends an APP_RADIO command and strips the status byte from the reply
func (d *Device) radioCall(cmd uint8, payload []byte, timeout time.Duration) ([]byte, error) {
	response, err := d.Send(AppRadio, cmd, payload, timeout)
	if err != nil {
		return nil, err
	}
	if len(response) < 1 {
		return nil, fmt.Errorf("%w: empty reply to radio command 0x%02X", ErrBridgeStatus, cmd)
	}
	switch response[0] {
	case StatusOK:
		return response[1:], nil
	case StatusCTSTimeout:
		return nil, si446x.ErrCTSTimeout
	case StatusCmdError:
		return nil, si446x.ErrCommandError
	case StatusBadLength:
		return nil, fmt.Errorf("%w: bad length for radio command 0x%02X", ErrBridgeStatus, cmd)
	default:
		return nil, fmt.Errorf("%w: status 0x%02X for radio command 0x%02X", ErrBridgeStatus, response[0], cmd)
	}
}

// Reset pulses SDN on the bridge and waits for the chip to come back
func (d *Device) Reset() error {
	_, err := d.radioCall(RadioCmdReset, nil, USBResetTimeout)
	return err
}

// LoadConfiguration validates table and streams it to the bridge in
// terminated fragments that each fit one EP5 transfer. Fragments split on
// command boundaries.
func (d *Device) LoadConfiguration(table []byte) error {
	commands, err := si446x.SplitTable(table)
	if err != nil {
		return err
	}
	for _, fragment := range packTable(commands, maxPayload) {
		if _, err := d.radioCall(RadioCmdLoadConfig, fragment, USBResetTimeout); err != nil {
			return err
		}
	}
	return nil
}

// packTable groups commands into length-prefixed fragments of at most limit
// bytes including the terminator
func packTable(commands [][]byte, limit int) [][]byte {
	var fragments [][]byte
	var current []byte
	for _, cmd := range commands {
		if len(current) > 0 && len(current)+1+len(cmd)+1 > limit {
			fragments = append(fragments, si446x.Terminate(current))
			current = nil
		}
		current = si446x.AppendCommand(current, cmd...)
	}
	if len(current) > 0 {
		fragments = append(fragments, si446x.Terminate(current))
	}
	return fragments
}

// InterruptStatus reads and clears the latched packet handler interrupts
func (d *Device) InterruptStatus() (link.Interrupt, error) {
	response, err := d.radioCall(RadioCmdIntStatus, nil, 0)
	if err != nil {
		return 0, err
	}
	if len(response) < 1 {
		return 0, fmt.Errorf("%w: empty interrupt status", ErrBridgeStatus)
	}
	return link.Interrupt(response[0] & si446x.PHPendStreamMask), nil
}

// WriteTxFIFO appends at most one FIFO's worth of bytes to the TX FIFO
func (d *Device) WriteTxFIFO(data []byte) error {
	if len(data) > si446x.FIFOSize {
		return fmt.Errorf("%w: write of %d bytes", si446x.ErrFIFOAccess, len(data))
	}
	_, err := d.radioCall(RadioCmdWriteTxFIFO, data, 0)
	return err
}

// ReadRxFIFO fills buf from the RX FIFO
func (d *Device) ReadRxFIFO(buf []byte) error {
	if len(buf) > si446x.FIFOSize {
		return fmt.Errorf("%w: read of %d bytes", si446x.ErrFIFOAccess, len(buf))
	}
	response, err := d.radioCall(RadioCmdReadRxFIFO, []byte{byte(len(buf))}, 0)
	if err != nil {
		return err
	}
	if len(response) != len(buf) {
		return fmt.Errorf("%w: read %d of %d FIFO bytes", ErrBridgeStatus, len(response), len(buf))
	}
	copy(buf, response)
	return nil
}

// ResetFIFO flushes one FIFO
func (d *Device) ResetFIFO(fifo link.FIFO) error {
	bit := byte(si446x.FIFOResetTX)
	if fifo == link.FIFORX {
		bit = si446x.FIFOResetRX
	}
	_, err := d.radioCall(RadioCmdResetFIFO, []byte{bit}, 0)
	return err
}

// StartRX enters receive for a packet of length bytes
func (d *Device) StartRX(channel uint8, length int, policy link.RxPolicy) error {
	_, err := d.radioCall(RadioCmdStartRX, []byte{
		channel,
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
	_, err := d.radioCall(RadioCmdStartTX, []byte{
		channel,
		byte(d.TXCompleteState) << 4,
		byte(length >> 8),
		byte(length),
	}, 0)
	return err
}

// ChangeState forces an operating state
func (d *Device) ChangeState(state link.State) error {
	_, err := d.radioCall(RadioCmdChangeState, []byte{byte(state)}, 0)
	return err
}
