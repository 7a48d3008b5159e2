package disclosegate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML fields written as "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// StoreConfig selects a storage backend.
type StoreConfig struct {
	// Kind is "sqlite", "file", or "memory".
	Kind string `yaml:"kind"`
	// Path is the SQLite DSN or the file store directory.
	Path string `yaml:"path"`
}

// PlatformConfig holds per-platform settings.
type PlatformConfig struct {
	// CallbackSecret verifies HMAC signatures on status callbacks.
	CallbackSecret string `yaml:"callback_secret"`
}

// Config is the gate's deployment configuration. Loaded from a single
// explicit file; unknown keys are rejected so a typo cannot silently relax
// a bound.
type Config struct {
	LogID           string                    `yaml:"log_id"`
	TokenTTL        Duration                  `yaml:"token_ttl"`
	MaxRetries      int                       `yaml:"max_retries"`
	BackoffBase     Duration                  `yaml:"backoff_base"`
	BackoffCap      Duration                  `yaml:"backoff_cap"`
	Jitter          float64                   `yaml:"jitter"`
	Workers         int                       `yaml:"workers"`
	CheckpointEvery uint64                    `yaml:"checkpoint_every"`
	Store           StoreConfig               `yaml:"store"`
	Platforms       map[string]PlatformConfig `yaml:"platforms"`
}

// DefaultConfig returns the defaults a missing or partial file falls back
// to.
func DefaultConfig() Config {
	return Config{
		LogID:           "disclosegate",
		TokenTTL:        Duration(24 * time.Hour),
		MaxRetries:      3,
		BackoffBase:     Duration(2 * time.Second),
		BackoffCap:      Duration(5 * time.Minute),
		Workers:         4,
		CheckpointEvery: 100,
		Store:           StoreConfig{Kind: "sqlite", Path: "disclosegate.db"},
	}
}

// LoadConfig reads and validates a YAML config file, applying defaults for
// zero-valued fields.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would weaken the gate's bounds.
func (c Config) Validate() error {
	if c.LogID == "" {
		return fmt.Errorf("%w: log_id is required", ErrValidation)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("%w: token_ttl must be positive", ErrValidation)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", ErrValidation)
	}
	if c.BackoffBase <= 0 || c.BackoffCap < c.BackoffBase {
		return fmt.Errorf("%w: backoff bounds must satisfy 0 < base <= cap", ErrValidation)
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return fmt.Errorf("%w: jitter must be within [0, 1]", ErrValidation)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrValidation)
	}
	switch c.Store.Kind {
	case "sqlite", "file", "memory":
	default:
		return fmt.Errorf("%w: unknown store kind %q", ErrValidation, c.Store.Kind)
	}
	return nil
}

// ExecutorConfig maps the file settings onto the executor.
func (c Config) ExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxRetries:  c.MaxRetries,
		BackoffBase: time.Duration(c.BackoffBase),
		BackoffCap:  time.Duration(c.BackoffCap),
		Jitter:      c.Jitter,
		Workers:     c.Workers,
	}
}

// CallbackSecrets extracts the platform -> secret map for the tracker.
func (c Config) CallbackSecrets() map[string]string {
	out := make(map[string]string, len(c.Platforms))
	for name, p := range c.Platforms {
		if p.CallbackSecret != "" {
			out[name] = p.CallbackSecret
		}
	}
	return out
}
