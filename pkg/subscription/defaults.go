package subscription

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults is the host-supplied configuration surface: system-wide default
// ability values returned when no plan overrides a feature code, and default
// consumable quantities for subscribers without a ledger entry.
type Defaults struct {
	Features    map[string]any   `yaml:"features"`
	Consumables map[string]int64 `yaml:"consumables"`
}

// ErrInvalidDefaults wraps parse failures of the defaults file.
var ErrInvalidDefaults = errors.New("invalid subscription defaults")

// ParseDefaults decodes a YAML document of the form:
//
//	features:
//	  listings_enabled: true
//	  max_projects: 10
//	consumables:
//	  contacts: 5
func ParseDefaults(data []byte) (Defaults, error) {
	var defaults Defaults
	if err := yaml.Unmarshal(data, &defaults); err != nil {
		return Defaults{}, errors.Join(ErrInvalidDefaults, err)
	}
	if defaults.Features == nil {
		defaults.Features = make(map[string]any)
	}
	if defaults.Consumables == nil {
		defaults.Consumables = make(map[string]int64)
	}
	return defaults, nil
}

// LoadDefaults reads and parses a YAML defaults file.
func LoadDefaults(path string) (Defaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Defaults{}, fmt.Errorf("failed to read defaults file: %w", err)
	}
	return ParseDefaults(data)
}

// Config locates the defaults file through the environment; the host loads
// it with the config package and hands the result to LoadDefaults.
type Config struct {
	DefaultsFile string `env:"SUBSCRIPTION_DEFAULTS_FILE" envDefault:"subscription_defaults.yaml"`
}
