// Package config loads the host's own ambient configuration: the
// lattice prefix to join, the bus URL and credentials, the local data
// directory, and bind labels. This is distinct from the in-lattice
// config bundle (pkg/bundle), which is named configuration data that
// travels over the bus and is scoped to components, not the host
// process itself.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// HostConfig is the host daemon's own configuration, loaded from a
// YAML file and overridable by CLI flags.
type HostConfig struct {
	HostID       string            `yaml:"host_id"`
	Lattice      string            `yaml:"lattice"`
	BusURL       string            `yaml:"bus_url"`
	BusSeedFile  string            `yaml:"bus_seed_file"`
	DataDir      string            `yaml:"data_dir"`
	Labels       map[string]string `yaml:"labels"`
	LogLevel     string            `yaml:"log_level"`
	LogJSON      bool              `yaml:"log_json"`
	MetricsAddr  string            `yaml:"metrics_addr"`

	// SecretsPassphrase seeds the SECRETS_<lattice> bucket's sealing
	// key. Left empty, every host in the lattice derives the same key
	// from Lattice instead (pkg/security.DeriveSealKey), which is
	// sufficient isolation between lattices without a separate
	// key-exchange step; set this to pin a key that survives a lattice
	// prefix rename.
	SecretsPassphrase string `yaml:"secrets_passphrase"`

	// ComponentMaxConcurrent and ComponentMaxExecutionTime are applied
	// to every component instance this host loads; spec.md §4.5 scopes
	// these per component spec, but no control-protocol verb or KV
	// field carries per-component overrides yet, so one host-wide
	// default governs every instance until that's added.
	ComponentMaxConcurrent   int           `yaml:"component_max_concurrent"`
	ComponentMaxExecutionTime time.Duration `yaml:"component_max_execution_time"`

	// ProviderHandshakeTimeout bounds how long Start waits for a
	// spawned provider process's startup handshake (spec.md §4.6).
	ProviderHandshakeTimeout time.Duration `yaml:"provider_handshake_timeout"`
}

// Default returns a HostConfig with the same out-of-the-box values the
// teacher's cluster-init command ships: loopback bus, local data dir,
// info-level console logging.
func Default() *HostConfig {
	return &HostConfig{
		HostID:                    "",
		Lattice:                   "default",
		BusURL:                    "nats://127.0.0.1:4222",
		DataDir:                   "./lattice-data",
		Labels:                    map[string]string{},
		LogLevel:                  "info",
		LogJSON:                   false,
		MetricsAddr:               "127.0.0.1:9090",
		ComponentMaxConcurrent:    10,
		ComponentMaxExecutionTime: 10 * time.Second,
		ProviderHandshakeTimeout:  5 * time.Second,
	}
}

// Load reads a HostConfig from path, overlaying it onto Default() so
// that a partial file only needs to specify what it overrides.
func Load(path string) (*HostConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading host config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing host config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields required before a host can start.
func (c *HostConfig) Validate() error {
	if c.Lattice == "" {
		return fmt.Errorf("lattice prefix must not be empty")
	}
	if c.BusURL == "" {
		return fmt.Errorf("bus_url must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	return nil
}
