// Package config loads annotsv configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/FocuswithJustin/annotsv/core/tsv"
	"github.com/FocuswithJustin/annotsv/core/typesystem"
	"github.com/FocuswithJustin/annotsv/internal/logging"
)

// Config holds defaults for every command. Command-line flags override them.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Types   TypesConfig   `yaml:"types"`
	Decode  DecodeConfig  `yaml:"decode"`
	Encode  EncodeConfig  `yaml:"encode"`
	Tagger  TaggerConfig  `yaml:"tagger"`
	Batch   BatchConfig   `yaml:"batch"`
	Store   StoreConfig   `yaml:"store"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TypesConfig lists type-system descriptors added to the built-in layers.
type TypesConfig struct {
	Descriptors []string `yaml:"descriptors"`
}

// DecodeConfig configures the TSV decoder.
type DecodeConfig struct {
	// Layout is "auto", "header" or "fixed".
	Layout string `yaml:"layout"`
}

// EncodeConfig configures the TSV encoder.
type EncodeConfig struct {
	Metadata bool `yaml:"metadata"`
}

// TaggerConfig selects the annotations added to plain text.
type TaggerConfig struct {
	Tagging  bool `yaml:"tagging"`
	Entities bool `yaml:"entities"`
}

// BatchConfig configures directory conversions.
type BatchConfig struct {
	Workers int `yaml:"workers"`
	// Pattern is the glob matched against file names in the input directory.
	Pattern string `yaml:"pattern"`
}

// StoreConfig points at the SQLite snapshot database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig names the Prometheus textfile written after a run.
type MetricsConfig struct {
	File string `yaml:"file"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Log:    LogConfig{Level: "info", Format: "text"},
		Decode: DecodeConfig{Layout: "auto"},
		Tagger: TaggerConfig{Tagging: true, Entities: true},
		Batch:  BatchConfig{Workers: 4, Pattern: "*.tsv*"},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return fmt.Errorf("log.format: %w", err)
	}
	if _, err := tsv.ParseLayout(c.Decode.Layout); err != nil {
		return fmt.Errorf("decode.layout: %w", err)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers must be positive, got %d", c.Batch.Workers)
	}
	if _, err := filepath.Match(c.Batch.Pattern, ""); err != nil {
		return fmt.Errorf("batch.pattern: %w", err)
	}
	for _, d := range c.Types.Descriptors {
		if d == "" {
			return fmt.Errorf("types.descriptors must not contain empty paths")
		}
	}
	return nil
}

// Load returns the defaults merged with the file at path. An empty path yields the
// validated defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		c := DefaultConfig()
		return c, c.Validate()
	}
	c, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// TypeSystem builds the built-in type system extended with the configured descriptors.
func (c *Config) TypeSystem() (*typesystem.TypeSystem, error) {
	ts := typesystem.Default()
	for _, d := range c.Types.Descriptors {
		if err := ts.LoadDescriptorFile(d); err != nil {
			return nil, fmt.Errorf("loading type system %s: %w", d, err)
		}
	}
	return ts, nil
}

// Layout returns the parsed decode layout. Validate has already checked it.
func (c *Config) Layout() tsv.Layout {
	l, _ := tsv.ParseLayout(c.Decode.Layout)
	return l
}
