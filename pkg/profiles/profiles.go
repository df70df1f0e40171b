// Package profiles provides pre-defined radio configuration profiles for Si446x
// transceivers. Each profile represents a specific combination of frequency,
// modulation, data rate and output power, and generates the configuration
// command table the link controller loads at start-up.
package profiles

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/herlein/radiolink/pkg/si446x"
)

// DefaultXOFrequencyHz is the crystal fitted to most Si4463 modules
const DefaultXOFrequencyHz = 30000000

// Modulation types (MODEM_MOD_TYPE)
const (
	ModCW    = 0x00 // Unmodulated carrier
	ModOOK   = 0x01 // On-off keying
	Mod2FSK  = 0x02 // 2-level FSK
	Mod2GFSK = 0x03 // Gaussian 2-FSK
	Mod4FSK  = 0x04 // 4-level FSK
	Mod4GFSK = 0x05 // Gaussian 4-FSK
)

// CRC polynomials (PKT_CRC_CONFIG)
const (
	CRCNone     = 0x00
	CRCITU8     = 0x01
	CRCIBM16    = 0x04
	CRCCCITT16  = 0x05
	CRCIEEE32   = 0x08
	crcSeedOnes = 0x80
)

// TX oversampling assumed by MODEM_DATA_RATE
const txOversampling = 10

// Profile errors
var (
	ErrFrequencyRange = errors.New("frequency outside the synthesizer range")
	ErrInvalidProfile = errors.New("invalid profile")
	ErrUnknownProfile = errors.New("unknown profile")
)

// Profile represents a complete radio configuration profile
type Profile struct {
	Name        string  `toml:"name"`
	Description string  `toml:"description"`
	FrequencyHz float64 `toml:"frequency_hz"`

	// Channel N is FrequencyHz + N*ChannelStepHz
	ChannelStepHz float64 `toml:"channel_step_hz"`

	// XOFrequencyHz defaults to DefaultXOFrequencyHz when zero
	XOFrequencyHz float64 `toml:"xo_frequency_hz,omitempty"`

	// Modulation settings
	Modulation   uint8   `toml:"modulation"`
	DataRateBaud float64 `toml:"data_rate_baud"`
	DeviationHz  float64 `toml:"deviation_hz,omitempty"` // For FSK modes

	// Packet settings
	CRC uint8 `toml:"crc"`

	// Power settings
	PowerLevel uint8 `toml:"power_level"` // PA_PWR_LVL, 0..127
}

// ProfileConfig is the on-disk format for a profile and its generated table
type ProfileConfig struct {
	Profile   Profile   `toml:"profile"`
	Table     string    `toml:"table"` // hex
	Timestamp time.Time `toml:"timestamp"`
}

// PacketSettings are the link parameters baked into the configuration table
type PacketSettings struct {
	Length      int
	TXThreshold int
	RXThreshold int
}

// FreqSettings are the synthesizer values for a carrier frequency
type FreqSettings struct {
	OutDiv int
	Band   uint8 // MODEM_CLKGEN_BAND
	Inte   uint8
	Frac   uint32
	Step   uint16
}

// band edges and output dividers
var outDividers = []struct {
	minHz  float64
	outDiv int
	code   uint8
}{
	{760e6, 4, 0},
	{546e6, 6, 1},
	{385e6, 8, 2},
	{273e6, 12, 3},
	{194e6, 16, 4},
	{142e6, 24, 5},
}

const maxFrequencyHz = 1050e6

func (p *Profile) xo() float64 {
	if p.XOFrequencyHz == 0 {
		return DefaultXOFrequencyHz
	}
	return p.XOFrequencyHz
}

// CalcFreqControl calculates FREQ_CONTROL and band select for a frequency
func CalcFreqControl(freqHz, stepHz, xoHz float64) (FreqSettings, error) {
	if freqHz > maxFrequencyHz {
		return FreqSettings{}, fmt.Errorf("%w: %.0f Hz", ErrFrequencyRange, freqHz)
	}
	for _, b := range outDividers {
		if freqHz < b.minHz {
			continue
		}
		pfd := 2 * xoHz / float64(b.outDiv)
		n := freqHz / pfd
		inte := math.Floor(n) - 1
		frac := math.Round((n - inte) * (1 << 19))
		return FreqSettings{
			OutDiv: b.outDiv,
			Band:   0x08 | b.code, // SY_SEL high performance
			Inte:   uint8(inte),
			Frac:   uint32(frac),
			Step:   uint16(math.Round(stepHz / pfd * (1 << 19))),
		}, nil
	}
	return FreqSettings{}, fmt.Errorf("%w: %.0f Hz", ErrFrequencyRange, freqHz)
}

// CalcDataRate returns MODEM_DATA_RATE for a symbol rate
func CalcDataRate(baud float64) uint32 {
	return uint32(math.Round(baud * txOversampling))
}

// CalcDeviation returns MODEM_FREQ_DEV for an FSK deviation
func CalcDeviation(devHz, xoHz float64, outDiv int) uint32 {
	return uint32(math.Round(devHz * (1 << 19) * float64(outDiv) / (2 * xoHz)))
}

// Validate checks the profile can be expressed in a configuration table
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidProfile)
	}
	if p.Modulation > Mod4GFSK {
		return fmt.Errorf("%w: modulation 0x%02X", ErrInvalidProfile, p.Modulation)
	}
	if p.Modulation != ModCW && p.DataRateBaud <= 0 {
		return fmt.Errorf("%w: data rate %.0f", ErrInvalidProfile, p.DataRateBaud)
	}
	if p.PowerLevel > 0x7F {
		return fmt.Errorf("%w: power level %d", ErrInvalidProfile, p.PowerLevel)
	}
	if _, err := CalcFreqControl(p.FrequencyHz, p.ChannelStepHz, p.xo()); err != nil {
		return err
	}
	return nil
}

// Table builds the Si446x configuration command table for the profile
// with the link packet settings applied
func (p *Profile) Table(pkt PacketSettings) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if pkt.Length <= 0 || pkt.Length > 0xFFFF {
		return nil, fmt.Errorf("%w: packet length %d", ErrInvalidProfile, pkt.Length)
	}
	if pkt.TXThreshold <= 0 || pkt.TXThreshold >= si446x.FIFOSize ||
		pkt.RXThreshold <= 0 || pkt.RXThreshold >= si446x.FIFOSize {
		return nil, fmt.Errorf("%w: thresholds %d/%d", ErrInvalidProfile, pkt.TXThreshold, pkt.RXThreshold)
	}

	xo := p.xo()
	freq, _ := CalcFreqControl(p.FrequencyHz, p.ChannelStepHz, xo)
	xoInt := uint32(xo)

	var t []byte
	t = si446x.AppendCommand(t, si446x.CmdPowerUp, 0x01, 0x00,
		byte(xoInt>>24), byte(xoInt>>16), byte(xoInt>>8), byte(xoInt))

	// Packet handler and chip interrupts on nIRQ
	t = si446x.AppendProperties(t, si446x.PropGroupIntCtl, si446x.PropIntCtlEnable,
		si446x.IntCtlPHEnable|si446x.IntCtlChipEnable,
		si446x.PHPendStreamMask,
		0x00,
		si446x.ChipPendCmdError)

	// FIFO thresholds and fixed field length
	t = si446x.AppendProperties(t, si446x.PropGroupPkt, si446x.PropPktTXThreshold,
		byte(pkt.TXThreshold),
		byte(pkt.RXThreshold),
		byte(pkt.Length>>8),
		byte(pkt.Length))

	if p.CRC != CRCNone {
		t = si446x.AppendProperties(t, si446x.PropGroupPkt, si446x.PropPktCRCConfig, crcSeedOnes|p.CRC)
		t = si446x.AppendProperties(t, si446x.PropGroupPkt, si446x.PropPktField1CRC, 0xA2) // CRC start, send, check, enable
	}

	rate := CalcDataRate(p.DataRateBaud)
	t = si446x.AppendProperties(t, si446x.PropGroupModem, si446x.PropModemModType, p.Modulation)
	t = si446x.AppendProperties(t, si446x.PropGroupModem, si446x.PropModemDataRate,
		byte(rate>>16), byte(rate>>8), byte(rate))
	if p.Modulation >= Mod2FSK {
		dev := p.DeviationHz
		if dev == 0 {
			dev = p.DataRateBaud / 2
		}
		d := CalcDeviation(dev, xo, freq.OutDiv)
		t = si446x.AppendProperties(t, si446x.PropGroupModem, si446x.PropModemFreqDev,
			byte(d>>16), byte(d>>8), byte(d))
	}
	t = si446x.AppendProperties(t, si446x.PropGroupModem, si446x.PropModemClkgenBand, freq.Band)

	t = si446x.AppendProperties(t, si446x.PropGroupPA, si446x.PropPAPowerLevel, p.PowerLevel)

	t = si446x.AppendProperties(t, si446x.PropGroupFreq, si446x.PropFreqControlInte,
		freq.Inte,
		byte(freq.Frac>>16), byte(freq.Frac>>8), byte(freq.Frac),
		byte(freq.Step>>8), byte(freq.Step))

	return si446x.Terminate(t), nil
}

// SaveToFile saves a profile and its generated table as TOML
func (p *Profile) SaveToFile(path string, pkt PacketSettings) error {
	table, err := p.Table(pkt)
	if err != nil {
		return err
	}
	config := ProfileConfig{
		Profile:   *p,
		Table:     hex.EncodeToString(table),
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}

	if err := EnsureDir(path); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create profile file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	return nil
}

// LoadProfileFromFile loads a profile configuration from a TOML file
func LoadProfileFromFile(path string) (*ProfileConfig, error) {
	var config ProfileConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	if _, err := config.TableBytes(); err != nil {
		return nil, err
	}
	return &config, nil
}

// TableBytes decodes the stored configuration table
func (c *ProfileConfig) TableBytes() ([]byte, error) {
	table, err := hex.DecodeString(c.Table)
	if err != nil {
		return nil, fmt.Errorf("invalid table in profile %q: %w", c.Profile.Name, err)
	}
	if _, err := si446x.SplitTable(table); err != nil {
		return nil, fmt.Errorf("invalid table in profile %q: %w", c.Profile.Name, err)
	}
	return table, nil
}

// EnsureDir ensures the directory for a file path exists
func EnsureDir(filePath string) error {
	dir := filepath.Dir(filePath)
	return os.MkdirAll(dir, 0755)
}
