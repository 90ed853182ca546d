// Package config provides configuration management for the grantflow pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Configuration validation errors.
var (
	ErrNoSources           = errors.New("at least one source is required")
	ErrSourceMissingName   = errors.New("source name is required")
	ErrSourceNameSeparator = errors.New("source name must not contain '::'")
	ErrDuplicateSource     = errors.New("duplicate source name")
	ErrNoEnabledSources    = errors.New("at least one source must be enabled")
	ErrInvalidWorkers      = errors.New("pipeline.workers must be at least 1")
	ErrInvalidFetchLimit   = errors.New("pipeline.fetch_concurrency must be at least 1")
	ErrInvalidRatesFormat  = errors.New("fx.format must be 'ecb_csv' or 'yaml'")
	ErrInvalidLookback     = errors.New("fx.max_lookback_days must be non-negative")
	ErrInvalidMinYear      = errors.New("validation.min_year must be between 1000 and 9999")
	ErrMissingOutputPath   = errors.New("output.path is required")
	ErrMissingDedupPath    = errors.New("dedup.path is required unless dedup.in_memory is set")
	ErrInvalidLogLevel     = errors.New("logging.level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat    = errors.New("logging.format must be 'text' or 'json'")
	ErrEmptyRequiredName   = errors.New("validation.additional_required contains an empty name")
)

// Rate table formats.
const (
	RatesFormatECB  = "ecb_csv"
	RatesFormatYAML = "yaml"
)

// Config represents the complete pipeline configuration.
type Config struct {
	Sources    []SourceConfig   `yaml:"sources"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	FX         FXConfig         `yaml:"fx"`
	Validation ValidationConfig `yaml:"validation"`
	Output     OutputConfig     `yaml:"output"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// SourceConfig describes one origin site. Funder fields fill raw records
// that do not carry them, the way each site's extractor used to hardcode them.
type SourceConfig struct {
	Name           string `yaml:"name"`
	FunderOrgName  string `yaml:"funder_org_name"`
	FunderOrgRorID string `yaml:"funder_org_ror_id"`
	Enabled        bool   `yaml:"enabled"`
}

// PipelineConfig sizes the worker pools.
type PipelineConfig struct {
	Workers          int `yaml:"workers"`
	FetchConcurrency int `yaml:"fetch_concurrency"`
}

// FXConfig locates the preloaded exchange-rate table.
type FXConfig struct {
	RatesFile       string `yaml:"rates_file"`
	Format          string `yaml:"format"`
	MaxLookbackDays int    `yaml:"max_lookback_days"`
}

// ValidationConfig tunes the batch validator.
type ValidationConfig struct {
	AdditionalRequired []string `yaml:"additional_required"`
	MinYear            int      `yaml:"min_year"`
	FailOnViolation    bool     `yaml:"fail_on_violation"`
}

// OutputConfig defines where records are emitted.
type OutputConfig struct {
	Path     string `yaml:"path"`
	Manifest bool   `yaml:"manifest"`
}

// DedupConfig controls idempotent re-ingestion.
type DedupConfig struct {
	Path     string `yaml:"path"`
	Enabled  bool   `yaml:"enabled"`
	InMemory bool   `yaml:"in_memory"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Default returns a configuration that validates once a source is added.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Workers:          4,
			FetchConcurrency: 4,
		},
		FX: FXConfig{
			Format:          RatesFormatECB,
			MaxLookbackDays: 7,
		},
		Validation: ValidationConfig{
			MinYear:         1900,
			FailOnViolation: true,
		},
		Output: OutputConfig{
			Path:     "out/awards.jsonl",
			Manifest: true,
		},
		Dedup: DedupConfig{
			Enabled:  true,
			InMemory: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from YAML file. Keys absent from the file
// keep the values from Default.
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves configuration to YAML file.
func (c *Config) SaveConfig(filepath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return ErrNoSources
	}

	seen := make(map[string]bool, len(c.Sources))
	enabledCount := 0

	for i, src := range c.Sources {
		name := strings.TrimSpace(src.Name)
		if name == "" {
			return fmt.Errorf("%w: sources[%d]", ErrSourceMissingName, i)
		}

		// "::" separates the source from the native id in grant ids
		if strings.Contains(name, "::") {
			return fmt.Errorf("%w: sources[%d]", ErrSourceNameSeparator, i)
		}

		if seen[name] {
			return fmt.Errorf("%w: %s", ErrDuplicateSource, name)
		}

		seen[name] = true

		if src.Enabled {
			enabledCount++
		}
	}

	if enabledCount == 0 {
		return ErrNoEnabledSources
	}

	if c.Pipeline.Workers < 1 {
		return ErrInvalidWorkers
	}

	if c.Pipeline.FetchConcurrency < 1 {
		return ErrInvalidFetchLimit
	}

	if c.FX.Format != RatesFormatECB && c.FX.Format != RatesFormatYAML {
		return ErrInvalidRatesFormat
	}

	if c.FX.MaxLookbackDays < 0 {
		return ErrInvalidLookback
	}

	if c.Validation.MinYear < 1000 || c.Validation.MinYear > 9999 {
		return ErrInvalidMinYear
	}

	for i, name := range c.Validation.AdditionalRequired {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: additional_required[%d]", ErrEmptyRequiredName, i)
		}
	}

	if c.Output.Path == "" {
		return ErrMissingOutputPath
	}

	if c.Dedup.Enabled && !c.Dedup.InMemory && c.Dedup.Path == "" {
		return ErrMissingDedupPath
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return ErrInvalidLogLevel
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return ErrInvalidLogFormat
	}

	return nil
}

// GetEnabledSources returns only enabled sources.
func (c *Config) GetEnabledSources() []SourceConfig {
	var enabled []SourceConfig

	for _, src := range c.Sources {
		if src.Enabled {
			enabled = append(enabled, src)
		}
	}

	return enabled
}

// GetSource returns the enabled source with the given name.
func (c *Config) GetSource(name string) (SourceConfig, bool) {
	for _, src := range c.Sources {
		if src.Enabled && src.Name == name {
			return src, true
		}
	}

	return SourceConfig{}, false
}

// ManifestPath returns the sidecar manifest path for the output file.
func (c *Config) ManifestPath() string {
	return c.Output.Path + ".manifest.yaml"
}

// String returns a string representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Sources: %d, Workers: %d, Rates: %s, Output: %s}",
		len(c.Sources),
		c.Pipeline.Workers,
		c.FX.RatesFile,
		c.Output.Path,
	)
}
