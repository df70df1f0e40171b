package usbbridge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gousb"
)

// DeviceSelector specifies how to identify a radio bridge
// Supported formats:
//   - ""           : Use first available device
//   - "serial"     : Match by serial number (e.g., "009a")
//   - "bus:addr"   : Match by USB bus and address (e.g., "1:10")
//   - "#N"         : Use Nth device, 0-indexed (e.g., "#0", "#1")
type DeviceSelector string

type selection struct {
	index  int // -1 when unused
	bus    int
	addr   int
	serial string
}

func parseSelector(selector DeviceSelector) (selection, error) {
	sel := string(selector)
	s := selection{index: -1, bus: -1, addr: -1}

	switch {
	case sel == "":
		s.index = 0
	case strings.HasPrefix(sel, "#"):
		index, err := strconv.Atoi(sel[1:])
		if err != nil || index < 0 {
			return s, fmt.Errorf("invalid device index: %s", sel)
		}
		s.index = index
	case strings.Contains(sel, ":"):
		parts := strings.SplitN(sel, ":", 2)
		bus, err := strconv.Atoi(parts[0])
		if err != nil {
			return s, fmt.Errorf("invalid bus number: %s", parts[0])
		}
		addr, err := strconv.Atoi(parts[1])
		if err != nil {
			return s, fmt.Errorf("invalid address number: %s", parts[1])
		}
		s.bus, s.addr = bus, addr
	default:
		s.serial = sel
	}
	return s, nil
}

// pick returns the position of the selected device in devices
func (s selection) pick(devices []*Device) (int, error) {
	if len(devices) == 0 {
		return -1, fmt.Errorf("no radio bridges found")
	}

	if s.index >= 0 {
		if s.index >= len(devices) {
			return -1, fmt.Errorf("device index %d out of range (found %d devices)", s.index, len(devices))
		}
		return s.index, nil
	}

	matched := -1
	for i, d := range devices {
		var ok bool
		if s.serial != "" {
			ok = d.Serial == s.serial
		} else {
			ok = d.Bus == s.bus && d.Address == s.addr
		}
		if !ok {
			continue
		}
		if matched >= 0 {
			return -1, fmt.Errorf("multiple devices found with serial %s; use bus:addr format (e.g., 1:10) or index format (e.g., #0)", s.serial)
		}
		matched = i
	}

	if matched < 0 {
		if s.serial != "" {
			return -1, fmt.Errorf("no radio bridge found with serial %s", s.serial)
		}
		return -1, fmt.Errorf("no radio bridge found at bus %d address %d", s.bus, s.addr)
	}
	return matched, nil
}

// SelectDevice opens the radio bridge matching the selector and closes the rest
func SelectDevice(ctx *gousb.Context, selector DeviceSelector) (*Device, error) {
	s, err := parseSelector(selector)
	if err != nil {
		return nil, err
	}

	devices, err := FindAllDevices(ctx)
	if err != nil {
		return nil, err
	}

	chosen, err := s.pick(devices)
	for i, d := range devices {
		if i != chosen {
			d.Close()
		}
	}
	if err != nil {
		return nil, err
	}
	return devices[chosen], nil
}

// DeviceFlagUsage returns the usage string for the -d flag
func DeviceFlagUsage() string {
	return `Device selector. Formats:
    ""        - Use first available device
    "serial"  - Match by serial number (e.g., "009a")
    "bus:addr"- Match by USB location (e.g., "1:10")
    "#N"      - Use Nth device, 0-indexed (e.g., "#0", "#1")`
}
