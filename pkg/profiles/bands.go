package profiles

import (
	"fmt"
	"path/filepath"
	"sort"
)

// Band center frequencies
var bandFrequencies = map[string]float64{
	"315": 315000000,
	"433": 433920000,
	"868": 868300000,
	"915": 915000000,
}

func bandFrequency(band string) float64 {
	if f, ok := bandFrequencies[band]; ok {
		return f
	}
	return bandFrequencies["433"]
}

// NewGFSKStandard creates a GFSK profile with CRC for general long-packet links
// band: "315", "433", "868", or "915"
func NewGFSKStandard(band string, dataRate float64) *Profile {
	return &Profile{
		Name:          fmt.Sprintf("%s-gfsk-%s", band, formatDataRate(dataRate)),
		Description:   fmt.Sprintf("%s MHz GFSK at %.0f baud with CRC-16", band, dataRate),
		FrequencyHz:   bandFrequency(band),
		ChannelStepHz: 250000,
		Modulation:    Mod2GFSK,
		DataRateBaud:  dataRate,
		DeviationHz:   dataRate / 2,
		CRC:           CRCCCITT16,
		PowerLevel:    0x20,
	}
}

// New2FSKSensor creates a plain 2-FSK profile for wireless sensors
func New2FSKSensor(band string, dataRate float64) *Profile {
	return &Profile{
		Name:          fmt.Sprintf("%s-2fsk-sensor-%s", band, formatDataRate(dataRate)),
		Description:   fmt.Sprintf("%s MHz 2-FSK at %.0f baud for sensors", band, dataRate),
		FrequencyHz:   bandFrequency(band),
		ChannelStepHz: 200000,
		Modulation:    Mod2FSK,
		DataRateBaud:  dataRate,
		DeviationHz:   20000,
		CRC:           CRCIBM16,
		PowerLevel:    0x18,
	}
}

// NewOOK creates an on-off keyed profile without CRC
func NewOOK(band string, dataRate float64) *Profile {
	return &Profile{
		Name:         fmt.Sprintf("%s-ook-%s", band, formatDataRate(dataRate)),
		Description:  fmt.Sprintf("%s MHz OOK at %.0f baud", band, dataRate),
		FrequencyHz:  bandFrequency(band),
		Modulation:   ModOOK,
		DataRateBaud: dataRate,
		CRC:          CRCNone,
		PowerLevel:   0x20,
	}
}

// NewLongRange creates a long-range profile for maximum distance
// Uses low data rate and narrow deviation for best sensitivity
func NewLongRange(band string) *Profile {
	return &Profile{
		Name:          fmt.Sprintf("%s-longrange", band),
		Description:   fmt.Sprintf("%s MHz long-range GFSK at 1.2k baud", band),
		FrequencyHz:   bandFrequency(band),
		ChannelStepHz: 100000,
		Modulation:    Mod2GFSK,
		DataRateBaud:  1200, // Very low rate for best range
		DeviationHz:   5000,
		CRC:           CRCIEEE32,
		PowerLevel:    0x7F,
	}
}

// NewHighSpeed creates a high-speed profile for maximum throughput
func NewHighSpeed(band string) *Profile {
	return &Profile{
		Name:          fmt.Sprintf("%s-highspeed", band),
		Description:   fmt.Sprintf("%s MHz 4-GFSK at 100k baud", band),
		FrequencyHz:   bandFrequency(band),
		ChannelStepHz: 500000,
		Modulation:    Mod4GFSK,
		DataRateBaud:  100000,
		DeviationHz:   50000,
		CRC:           CRCCCITT16,
		PowerLevel:    0x40,
	}
}

// formatDataRate formats a data rate for use in profile names
func formatDataRate(rate float64) string {
	if rate >= 1000000 {
		return fmt.Sprintf("%.0fM", rate/1000000)
	} else if rate >= 1000 {
		k := rate / 1000
		if k == float64(int(k)) {
			return fmt.Sprintf("%.0fk", k)
		}
		return fmt.Sprintf("%.1fk", k)
	}
	return fmt.Sprintf("%.0f", rate)
}

// All returns every built-in profile
func All() []*Profile {
	var all []*Profile
	for _, band := range []string{"315", "433", "868", "915"} {
		all = append(all,
			NewGFSKStandard(band, 9600),
			NewGFSKStandard(band, 38400),
			New2FSKSensor(band, 4800),
			NewOOK(band, 2400),
			NewLongRange(band),
			NewHighSpeed(band),
		)
	}
	return all
}

// Names returns the sorted names of the built-in profiles
func Names() []string {
	var names []string
	for _, p := range All() {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// ByName returns the built-in profile with the given name
func ByName(name string) (*Profile, error) {
	for _, p := range All() {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
}

// GenerateProfiles writes every built-in profile to basePath as TOML
func GenerateProfiles(basePath string, pkt PacketSettings) error {
	if err := EnsureDir(filepath.Join(basePath, "dummy")); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	for _, p := range All() {
		filename := filepath.Join(basePath, p.Name+".toml")
		if err := p.SaveToFile(filename, pkt); err != nil {
			return fmt.Errorf("failed to save profile %s: %w", p.Name, err)
		}
	}

	return nil
}
