package tramite

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration, loaded from a YAML file at startup.
type Config struct {
	// ProcessDir holds the versioned process definition files.
	ProcessDir string `yaml:"process_dir"`

	// QueueName is the command queue this node consumes.
	QueueName string `yaml:"queue_name"`

	// StoreDSN is the document store connection string. Empty selects the
	// in-memory store.
	StoreDSN string `yaml:"store_dsn"`

	// Providers configures hierarchy and auth backends by name.
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig is one named provider configuration block.
type ProviderConfig struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}

// LoadConfig reads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadConfigBytes(data)
}

// LoadConfigBytes parses configuration from YAML bytes.
func LoadConfigBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.ProcessDir == "" {
		return nil, fmt.Errorf("config requires process_dir")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "tramite"
	}
	return &cfg, nil
}
