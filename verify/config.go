package verify

import (
	"fmt"
	"os"

	"github.com/gnoswap-labs/tverify/internal/backend"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFile = ".tverify.yaml"

// Config represents the overall configuration with a name and the backends
// programs can be verified with. The first backend is the default one.
type Config struct {
	Name     string           `yaml:"name"`
	Backends []backend.Config `yaml:"backends"`
	CacheDir string           `yaml:"cache_dir,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Name: "tverify",
		Backends: []backend.Config{
			{Name: "silicon", Command: "silicon-json", Args: []string{"--timeout", "60"}},
		},
		CacheDir: ".tverify-cache",
	}
}

func (c Config) validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("configuration %q has no backends", c.Name)
	}
	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("configuration %q: backend without a name", c.Name)
		}
		if seen[b.Name] {
			return fmt.Errorf("configuration %q: duplicate backend %q", c.Name, b.Name)
		}
		seen[b.Name] = true
	}
	return nil
}

func ParseConfigurationFile(configurationPath string) (Config, error) {
	var config Config

	f, err := os.Open(configurationPath)
	if err != nil {
		return config, err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&config); err != nil {
		return config, fmt.Errorf("failed to parse %s: %w", configurationPath, err)
	}
	if err := config.validate(); err != nil {
		return config, err
	}
	return config, nil
}

// WriteConfigurationFile writes config to path, refusing to overwrite.
func WriteConfigurationFile(path string, config Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}
