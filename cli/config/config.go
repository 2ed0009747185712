package config

import (
	"fmt"
	"time"
)

// Config represents a taskstream.yaml configuration file.
// All values are optional and act as defaults for taskstream chat flags.
// CLI flags always override config values.
type Config struct {
	BaseURL     string            `yaml:"base_url"`
	IdleTimeout Duration          `yaml:"idle_timeout"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	Record      string            `yaml:"record"`
	LogLevel    string            `yaml:"log_level"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Adapter     AdapterConfig     `yaml:"adapter"`
}

// ArchiveConfig holds archive defaults from the config file.
type ArchiveConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// Enabled reports whether an archive destination is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.Path != ""
}

// AdapterConfig holds notification adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Validate checks the values that cannot be validated by the consumers.
func (c *Config) Validate() error {
	switch c.Archive.Backend {
	case "", "fs", "s3":
	default:
		return fmt.Errorf("archive.backend must be fs or s3, got %q", c.Archive.Backend)
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		return fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type)
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		return fmt.Errorf("adapter.url is required for adapter type %q", c.Adapter.Type)
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		return fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries)
	}
	if c.IdleTimeout.Duration < 0 {
		return fmt.Errorf("idle_timeout must be >= 0, got %s", c.IdleTimeout.Duration)
	}
	return nil
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
