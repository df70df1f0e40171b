// Package usbbridge drives an Si446x that sits behind a USB bridge
// microcontroller. Transceiver primitives travel as EP5 bulk commands and
// the bridge performs the SPI transactions on the host's behalf.
package usbbridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/herlein/radiolink/pkg/link"
)

type inEndpoint interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
}

type outEndpoint interface {
	WriteContext(ctx context.Context, buf []byte) (int, error)
}

// Device represents one USB radio bridge
type Device struct {
	usbDevice    *gousb.Device
	usbConfig    *gousb.Config
	usbInterface *gousb.Interface
	epIn         inEndpoint
	epOut        outEndpoint
	Serial       string
	Manufacturer string
	Product      string
	Bus          int
	Address      int

	// TXCompleteState is entered when a transmission ends
	TXCompleteState link.State
	// Timeout bounds each command round trip
	Timeout time.Duration

	mu      sync.Mutex
	recvBuf []byte
}

// FindAllDevices finds all connected radio bridges
func FindAllDevices(ctx *gousb.Context) ([]*Device, error) {
	usbDevices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(VendorID) && desc.Product == gousb.ID(ProductID)
	})
	if err != nil && len(usbDevices) == 0 {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	devices := []*Device{}
	for _, usbDev := range usbDevices {
		device, err := wrapDevice(usbDev)
		if err != nil {
			usbDev.Close()
			continue
		}
		devices = append(devices, device)
	}
	return devices, nil
}

// CountBootloaders reports how many bridges are waiting in bootloader mode
func CountBootloaders(ctx *gousb.Context) (int, error) {
	count := 0
	_, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor == gousb.ID(VendorID) && desc.Product == gousb.ID(ProductIDBootloader) {
			count++
		}
		return false
	})
	return count, err
}

func wrapDevice(usbDev *gousb.Device) (*Device, error) {
	manufacturer, _ := usbDev.Manufacturer()
	product, _ := usbDev.Product()
	serial, _ := usbDev.SerialNumber()

	usbDev.SetAutoDetach(true)

	config, err := usbDev.Config(1)
	if err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}

	iface, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		return nil, fmt.Errorf("failed to claim interface: %w", err)
	}

	epIn, err := iface.InEndpoint(EP5InAddr & 0x0F)
	if err != nil {
		iface.Close()
		config.Close()
		return nil, fmt.Errorf("failed to get IN endpoint: %w", err)
	}

	epOut, err := iface.OutEndpoint(EP5OutAddr)
	if err != nil {
		iface.Close()
		config.Close()
		return nil, fmt.Errorf("failed to get OUT endpoint: %w", err)
	}

	d := newDevice(epIn, epOut)
	d.usbDevice = usbDev
	d.usbConfig = config
	d.usbInterface = iface
	d.Serial = serial
	d.Manufacturer = manufacturer
	d.Product = product
	d.Bus = usbDev.Desc.Bus
	d.Address = usbDev.Desc.Address

	// Stale responses from a previous session would be mistaken for ours
	d.drainReceiveBuffer()

	return d, nil
}

func newDevice(in inEndpoint, out outEndpoint) *Device {
	return &Device{
		epIn:            in,
		epOut:           out,
		TXCompleteState: link.StateReady,
		Timeout:         USBDefaultTimeout,
		recvBuf:         make([]byte, 0, EP5OutBufferSize),
	}
}

// Close idles the radio and releases the USB interface
func (d *Device) Close() error {
	if d.epOut != nil {
		d.idleRadio()
	}
	if d.usbInterface != nil {
		d.usbInterface.Close()
	}
	if d.usbConfig != nil {
		d.usbConfig.Close()
	}
	if d.usbDevice != nil {
		return d.usbDevice.Close()
	}
	return nil
}

// idleRadio sends CHANGE_STATE(READY) without waiting for the reply
func (d *Device) idleRadio() {
	packet, _ := encodeFrame(AppRadio, RadioCmdChangeState, []byte{byte(link.StateReady)})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d.epOut.WriteContext(ctx, packet)
}

func (d *Device) drainReceiveBuffer() {
	buf := make([]byte, 512)
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		n, err := d.epIn.ReadContext(ctx, buf)
		cancel()
		if err != nil || n == 0 {
			break
		}
	}
	d.recvBuf = d.recvBuf[:0]
}

func (d *Device) String() string {
	return fmt.Sprintf("%s %s (Serial: %s, bus %d addr %d)", d.Manufacturer, d.Product, d.Serial, d.Bus, d.Address)
}

// Send writes one command via EP5 and waits for its response
func (d *Device) Send(app, cmd uint8, payload []byte, timeout time.Duration) ([]byte, error) {
	if timeout == 0 {
		timeout = d.Timeout
	}
	if timeout == 0 {
		timeout = USBDefaultTimeout
	}

	packet, err := encodeFrame(app, cmd, payload)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(context.Background(), timeout)
	n, err := d.epOut.WriteContext(writeCtx, packet)
	cancel()
	if err != nil {
		if writeCtx.Err() != nil || isTransientUSBError(err) {
			return nil, fmt.Errorf("write timeout: %w", err)
		}
		return nil, fmt.Errorf("failed to write to EP5: %w", err)
	}
	if n != len(packet) {
		return nil, fmt.Errorf("short write: wrote %d of %d bytes", n, len(packet))
	}

	return d.recv(app, cmd, timeout)
}

// recv reads until a response for app/cmd is buffered. Caller holds d.mu.
func (d *Device) recv(app, cmd uint8, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 512)

	for {
		payload, rest, err := parseResponse(d.recvBuf, app, cmd)
		if err == nil {
			d.recvBuf = append(d.recvBuf[:0], rest...)
			return payload, nil
		}
		d.recvBuf = append(d.recvBuf[:0], rest...)
		if errors.Is(err, errMismatch) {
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("timeout waiting for response to app 0x%02X cmd 0x%02X", app, cmd)
		}
		readTimeout := min(readPollInterval, remaining)

		ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
		n, err := d.epIn.ReadContext(ctx, buf)
		cancel()
		if err != nil {
			if ctx.Err() != nil || isTransientUSBError(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read from EP5: %w", err)
		}
		d.recvBuf = append(d.recvBuf, buf[:n]...)
	}
}

func isTransientUSBError(err error) bool {
	s := strings.ToLower(err.Error())
	for _, frag := range []string{"timeout", "timed out", "cancel", "context"} {
		if strings.Contains(s, frag) {
			return true
		}
	}
	return false
}

// Ping sends an echo request and verifies the reply
func (d *Device) Ping(data []byte) error {
	response, err := d.Send(AppSystem, SysCmdPing, data, 0)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	if len(response) != len(data) {
		return fmt.Errorf("ping response length mismatch: sent %d bytes, got %d", len(data), len(response))
	}
	for i := range data {
		if response[i] != data[i] {
			return fmt.Errorf("ping response data mismatch at byte %d: sent 0x%02X, got 0x%02X", i, data[i], response[i])
		}
	}
	return nil
}

// GetBuildType returns the bridge firmware build string
func (d *Device) GetBuildType() (string, error) {
	response, err := d.Send(AppSystem, SysCmdBuildType, nil, 0)
	if err != nil {
		return "", fmt.Errorf("failed to get build type: %w", err)
	}
	if i := strings.IndexByte(string(response), 0); i >= 0 {
		response = response[:i]
	}
	return string(response), nil
}

// GetPartNum returns the radio part number reported by PART_INFO, e.g. 0x4463
func (d *Device) GetPartNum() (uint16, error) {
	response, err := d.Send(AppSystem, SysCmdPartNum, nil, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to get part number: %w", err)
	}
	if len(response) < 2 {
		return 0, fmt.Errorf("short part number response: %d bytes", len(response))
	}
	return uint16(response[0])<<8 | uint16(response[1]), nil
}
