package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SyncConfig is the YAML file form of the sync options. Flags override any
// value set here.
type SyncConfig struct {
	URL        string `yaml:"url"`
	Passphrase string `yaml:"passphrase"`
	Batched    *bool  `yaml:"batched"`
	BatchCap   int64  `yaml:"batch_cap"`
}

// loadSyncConfig reads a YAML config file. An empty path returns an empty
// config; a path to a file that does not exist is an error.
func loadSyncConfig(path string) (SyncConfig, error) {
	var cfg SyncConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
