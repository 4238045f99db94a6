// Package config loads the dispersy process's configuration from a YAML
// file, via gopkg.in/yaml.v2, layered over Default(). It has no flag
// layer: no CLI flag overrides a Config field.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the full set of process-wide settings for dispersyd.
type Config struct {
	DataDir   string   `yaml:"datadir"`
	ListenOn  string   `yaml:"listen"`
	LogLevel  string   `yaml:"log_level"`
	Metrics   bool     `yaml:"metrics"`
	Bootstrap []string `yaml:"bootstrap"` // host:port entries seeded into community 0's routing template
	Bloom     BloomConfig    `yaml:"bloom"`
	Sync      SyncConfig     `yaml:"sync"`
	Trigger   TriggerConfig  `yaml:"trigger"`
	Keystore  KeystoreConfig `yaml:"keystore"`
}

// BloomConfig holds Bloom window settings. The community package sizes
// its windows from its own constants and does not read these values.
type BloomConfig struct {
	Stepping          uint64  `yaml:"stepping"`
	Capacity          uint64  `yaml:"capacity"`
	FalsePositiveRate float64 `yaml:"false_positive_rate"`
}

// SyncConfig holds the anti-entropy loop's pacing. dispersyd uses
// CycleIntervalSeconds as the sync-tick interval; SendsPerSecond and
// Burst are not read (the dispersy package's per-peer limiter uses its
// own constants).
type SyncConfig struct {
	CycleIntervalSeconds int     `yaml:"cycle_interval_seconds"`
	SendsPerSecond       float64 `yaml:"sends_per_second"`
	Burst                int     `yaml:"burst"`
}

// TriggerConfig holds a Trigger Table wait deadline. It is not read:
// the dispersy package registers delay triggers with a fixed 30-second
// deadline.
type TriggerConfig struct {
	DefaultDeadlineSeconds int `yaml:"default_deadline_seconds"`
}

// KeystoreConfig controls whether local-identity private keys are
// encrypted at rest, per crypto.Seal/Unseal.
type KeystoreConfig struct {
	Encrypt bool `yaml:"encrypt"`
	ScryptN int  `yaml:"scrypt_n"`
}

// Default returns a Config with the same conservative defaults the
// teacher's node.DefaultConfig used: a local data directory, info-level
// logging, and metrics off until explicitly enabled.
func Default() Config {
	return Config{
		DataDir:  "./datadir",
		ListenOn: "0.0.0.0:7760",
		LogLevel: "info",
		Metrics:  false,
		Bloom: BloomConfig{
			Stepping:          100,
			Capacity:          100,
			FalsePositiveRate: 0.01,
		},
		Sync: SyncConfig{
			CycleIntervalSeconds: 5,
			SendsPerSecond:       20,
			Burst:                50,
		},
		Trigger: TriggerConfig{
			DefaultDeadlineSeconds: 30,
		},
		Keystore: KeystoreConfig{
			Encrypt: false,
			ScryptN: 1 << 14,
		},
	}
}

// Load reads and parses a YAML config file, starting from Default() so
// unset fields keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields a CLI flag or YAML typo could most easily
// leave in a nonsensical state.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: datadir must not be empty")
	}
	if c.ListenOn == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.Bloom.FalsePositiveRate <= 0 || c.Bloom.FalsePositiveRate >= 1 {
		return fmt.Errorf("config: bloom false_positive_rate must be in (0,1), got %v", c.Bloom.FalsePositiveRate)
	}
	if c.Sync.CycleIntervalSeconds <= 0 {
		return fmt.Errorf("config: sync cycle_interval_seconds must be positive")
	}
	return nil
}
