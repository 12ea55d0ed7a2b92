package runtime

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config tunes the runtime. Zero values fall back to defaults.
type Config struct {
	// MaxEvents caps how many readiness events one reactor wait drains.
	MaxEvents int `yaml:"max_events"`

	// PollTimeoutMs bounds a single reactor wait; zero or negative
	// blocks indefinitely.
	PollTimeoutMs int `yaml:"poll_timeout_ms"`
}

func DefaultConfig() Config {
	return Config{
		MaxEvents:     1024,
		PollTimeoutMs: -1,
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultConfig().MaxEvents
	}
	return cfg, nil
}

func (c Config) pollTimeout() time.Duration {
	// a 0ms wait would turn the reactor loop into a busy-poll, the one
	// thing this runtime exists to avoid
	if c.PollTimeoutMs <= 0 {
		return -1
	}
	return time.Duration(c.PollTimeoutMs) * time.Millisecond
}
