package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Marshal encodes the configuration as TOML, or YAML when asYAML is set
func Marshal(configuration *Config, asYAML bool) ([]byte, error) {
	if asYAML {
		data, err := yaml.Marshal(configuration)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal configuration: %w", err)
		}
		return data, nil
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(configuration); err != nil {
		return nil, fmt.Errorf("failed to marshal configuration: %w", err)
	}
	return buf.Bytes(), nil
}

// SaveToFile writes TOML, or YAML for .yaml/.yml paths
func SaveToFile(configuration *Config, path string) error {
	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := Marshal(configuration, isYAML(path))
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// LoadFromFile decodes path over the defaults, so keys missing from the
// file keep their default values. Unknown keys are rejected.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	configuration := Default()
	if isYAML(path) {
		if err := yaml.UnmarshalStrict(data, configuration); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
		}
	} else {
		meta, err := toml.Decode(string(data), configuration)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: unknown key %s in %s", ErrInvalid, undecoded[0], path)
		}
	}

	if err := configuration.Validate(); err != nil {
		return nil, err
	}
	return configuration, nil
}

func GetConfigPath(name string) string {
	return filepath.Join("etc", "radiolink", fmt.Sprintf("%s.toml", name))
}
