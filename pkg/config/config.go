// Package config holds the radiolink configuration file: the link record,
// the backend the controller drives, packet sinks and the metrics endpoint.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/herlein/radiolink/pkg/link"
	"github.com/herlein/radiolink/pkg/profiles"
)

// Backend types
const (
	BackendSim = "sim"
	BackendSPI = "spi"
	BackendUSB = "usb"
)

// ErrInvalid indicates a configuration file that cannot be used
var ErrInvalid = errors.New("invalid configuration")

// Config is the on-disk configuration
type Config struct {
	Link    LinkConfig    `toml:"link" yaml:"link"`
	Backend BackendConfig `toml:"backend" yaml:"backend"`
	Sink    SinkConfig    `toml:"sink" yaml:"sink"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
}

// LinkConfig mirrors link.Config with file-friendly types
type LinkConfig struct {
	Channel           uint8  `toml:"channel" yaml:"channel"`
	PacketLength      int    `toml:"packet_length" yaml:"packet_length"`
	FIFOSize          int    `toml:"fifo_size" yaml:"fifo_size"`
	TXThreshold       int    `toml:"tx_threshold" yaml:"tx_threshold"`
	RXThreshold       int    `toml:"rx_threshold" yaml:"rx_threshold"`
	ResetDelay        string `toml:"reset_delay" yaml:"reset_delay"`
	InitBackoff       string `toml:"init_backoff" yaml:"init_backoff"`
	InitAttempts      int    `toml:"init_attempts" yaml:"init_attempts"`
	RestartOnCRCError bool   `toml:"restart_on_crc_error" yaml:"restart_on_crc_error"`

	// Profile names a built-in profile used to generate the configuration
	// table when ConfigTable is empty. Both byte fields are hex strings.
	Profile       string `toml:"profile" yaml:"profile"`
	ConfigTable   string `toml:"config_table,omitempty" yaml:"config_table,omitempty"`
	CustomPayload string `toml:"custom_payload,omitempty" yaml:"custom_payload,omitempty"`
}

// BackendConfig selects the transceiver
type BackendConfig struct {
	Type       string `toml:"type" yaml:"type"`
	SPIPort    string `toml:"spi_port,omitempty" yaml:"spi_port,omitempty"`
	SPIClockHz int    `toml:"spi_clock_hz,omitempty" yaml:"spi_clock_hz,omitempty"`
	SDNPin     string `toml:"sdn_pin,omitempty" yaml:"sdn_pin,omitempty"`
	IRQPin     string `toml:"irq_pin,omitempty" yaml:"irq_pin,omitempty"`
	USBDevice  string `toml:"usb_device,omitempty" yaml:"usb_device,omitempty"` // "", serial, bus:addr or #N
}

// SinkConfig lists where received packets go
type SinkConfig struct {
	Log   bool        `toml:"log" yaml:"log"`
	UART  UARTConfig  `toml:"uart" yaml:"uart"`
	Redis RedisConfig `toml:"redis" yaml:"redis"`
}

// UARTConfig enables the serial diagnostic sink when Port is set
type UARTConfig struct {
	Port     string `toml:"port,omitempty" yaml:"port,omitempty"`
	BaudRate int    `toml:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
}

// RedisConfig enables the publish sink when Addr is set
type RedisConfig struct {
	Addr     string `toml:"addr,omitempty" yaml:"addr,omitempty"`
	Password string `toml:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `toml:"db,omitempty" yaml:"db,omitempty"`
	Channel  string `toml:"channel,omitempty" yaml:"channel,omitempty"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set
type MetricsConfig struct {
	Listen string `toml:"listen,omitempty" yaml:"listen,omitempty"`
	Path   string `toml:"path,omitempty" yaml:"path,omitempty"`
}

// Default returns a configuration with the reference link parameters on
// the simulated backend
func Default() *Config {
	lc := link.DefaultConfig()
	return &Config{
		Link: LinkConfig{
			Channel:      lc.Channel,
			PacketLength: lc.PacketLength,
			FIFOSize:     lc.FIFOSize,
			TXThreshold:  lc.TXThreshold,
			RXThreshold:  lc.RXThreshold,
			ResetDelay:   lc.ResetDelay.String(),
			InitBackoff:  lc.InitBackoff.String(),
			InitAttempts: lc.InitAttempts,
			Profile:      "433-gfsk-9.6k",
		},
		Backend: BackendConfig{Type: BackendSim},
		Sink: SinkConfig{
			Log:   true,
			UART:  UARTConfig{BaudRate: 115200},
			Redis: RedisConfig{Channel: "radiolink:packets"},
		},
		Metrics: MetricsConfig{Path: "/metrics"},
	}
}

func parseDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %v", ErrInvalid, name, err)
	}
	return d, nil
}

func parseHex(name, value string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalid, name, err)
	}
	return b, nil
}

// ToLink converts the link section to a validated link.Config. The
// configuration table is decoded from ConfigTable, or generated from the
// named profile when ConfigTable is empty.
func (c *Config) ToLink() (link.Config, error) {
	l := c.Link
	out := link.Config{
		Channel:           l.Channel,
		PacketLength:      l.PacketLength,
		FIFOSize:          l.FIFOSize,
		TXThreshold:       l.TXThreshold,
		RXThreshold:       l.RXThreshold,
		InitAttempts:      l.InitAttempts,
		RestartOnCRCError: l.RestartOnCRCError,
	}

	var err error
	if out.ResetDelay, err = parseDuration("reset_delay", l.ResetDelay); err != nil {
		return link.Config{}, err
	}
	if out.InitBackoff, err = parseDuration("init_backoff", l.InitBackoff); err != nil {
		return link.Config{}, err
	}
	if l.CustomPayload != "" {
		if out.CustomPayload, err = parseHex("custom_payload", l.CustomPayload); err != nil {
			return link.Config{}, err
		}
	}

	switch {
	case l.ConfigTable != "":
		if out.ConfigTable, err = parseHex("config_table", l.ConfigTable); err != nil {
			return link.Config{}, err
		}
	case l.Profile != "":
		p, err := profiles.ByName(l.Profile)
		if err != nil {
			return link.Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		out.ConfigTable, err = p.Table(profiles.PacketSettings{
			Length:      l.PacketLength,
			TXThreshold: l.TXThreshold,
			RXThreshold: l.RXThreshold,
		})
		if err != nil {
			return link.Config{}, fmt.Errorf("%w: profile %s: %v", ErrInvalid, l.Profile, err)
		}
	}

	if err := out.Validate(); err != nil {
		return link.Config{}, err
	}
	return out, nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if _, err := c.ToLink(); err != nil {
		return err
	}

	switch c.Backend.Type {
	case BackendSim, BackendUSB:
	case BackendSPI:
		if c.Backend.SDNPin == "" {
			return fmt.Errorf("%w: spi backend needs sdn_pin", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend.Type)
	}

	if c.Sink.UART.Port != "" && c.Sink.UART.BaudRate <= 0 {
		return fmt.Errorf("%w: uart baud_rate must be positive", ErrInvalid)
	}
	if c.Sink.Redis.Addr != "" && c.Sink.Redis.Channel == "" {
		return fmt.Errorf("%w: redis sink needs a channel", ErrInvalid)
	}
	if c.Metrics.Listen != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("%w: metrics path must start with /", ErrInvalid)
	}
	return nil
}
