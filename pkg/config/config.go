// Package config provides configuration loading and management for slidecat.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"slidecat/pkg/catalog"
	"slidecat/pkg/overlay"
	"slidecat/pkg/slide"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Dataset describes where slides are discovered
	Dataset struct {
		// Dir is the labeled dataset root holding images/
		Dir string `yaml:"dir"`

		// CustomDir is an optional flat folder of unlabeled images
		CustomDir string `yaml:"customDir"`

		NegativeFolder    string `yaml:"negativeFolder"`
		TumorFolder       string `yaml:"tumorFolder"`
		AnnotationsFolder string `yaml:"annotationsFolder"`

		// Patterns select image files by base name
		Patterns []string `yaml:"patterns"`

		// StagesFile is an optional "name,stage" CSV
		StagesFile string `yaml:"stagesFile"`
	} `yaml:"dataset"`

	// Rendering parameters for exported images
	Rendering struct {
		// Level is the pyramid level annotation images are read at
		Level int `yaml:"level"`

		// Padding around annotations in level-0 pixels
		Padding int `yaml:"padding"`

		// Fill is the annotation fill color, e.g. "#32323250"
		Fill string `yaml:"fill"`

		// OutputDir receives exported images and manifests
		OutputDir string `yaml:"outputDir"`

		// ThresholdLevels are the levels Otsu thresholds are computed for
		ThresholdLevels []int `yaml:"thresholdLevels"`
	} `yaml:"rendering"`

	// Store parameters
	Store struct {
		// Path of the SQLite database
		Path string `yaml:"path"`
	} `yaml:"store"`

	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level"`

		// Format is console or json
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Dataset.NegativeFolder = catalog.DefaultNegativeFolder
	cfg.Dataset.TumorFolder = catalog.DefaultTumorFolder
	cfg.Dataset.AnnotationsFolder = catalog.DefaultAnnotationsFolder
	cfg.Dataset.Patterns = []string{catalog.DefaultPattern}

	cfg.Rendering.Level = slide.DefaultImageLevel
	cfg.Rendering.Padding = slide.DefaultImagePadding
	cfg.Rendering.Fill = "#32323250"
	cfg.Rendering.OutputDir = "export"
	cfg.Rendering.ThresholdLevels = []int{0, 1, 2, 3, 4, 5}

	cfg.Store.Path = filepath.Join(".slidecat", "slidecat.db")

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks the values that cannot be caught by the YAML decoder.
func (c *Config) Validate() error {
	if c.Dataset.Dir == "" && c.Dataset.CustomDir == "" {
		return fmt.Errorf("%w: dataset.dir or dataset.customDir is required", ErrInvalidConfig)
	}
	for _, pattern := range c.Dataset.Patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("%w: dataset.patterns: %q: %v", ErrInvalidConfig, pattern, err)
		}
	}
	if c.Rendering.Level < 0 {
		return fmt.Errorf("%w: rendering.level must not be negative", ErrInvalidConfig)
	}
	if c.Rendering.Padding < 0 {
		return fmt.Errorf("%w: rendering.padding must not be negative", ErrInvalidConfig)
	}
	if _, err := c.FillColor(); err != nil {
		return fmt.Errorf("%w: rendering.fill: %v", ErrInvalidConfig, err)
	}
	for _, level := range c.Rendering.ThresholdLevels {
		if level < 0 {
			return fmt.Errorf("%w: rendering.thresholdLevels: %d", ErrInvalidConfig, level)
		}
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("%w: logging.format %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// FillColor parses Rendering.Fill. An empty fill means no fill.
func (c *Config) FillColor() (color.Color, error) {
	if c.Rendering.Fill == "" {
		return nil, nil
	}
	col, err := overlay.ParseColor(c.Rendering.Fill)
	if err != nil {
		return nil, err
	}
	return col, nil
}

// CatalogOptions maps the dataset section onto catalog options.
func (c *Config) CatalogOptions() catalog.Options {
	return catalog.Options{
		DatasetDir:        c.Dataset.Dir,
		CustomDir:         c.Dataset.CustomDir,
		NegativeFolder:    c.Dataset.NegativeFolder,
		TumorFolder:       c.Dataset.TumorFolder,
		AnnotationsFolder: c.Dataset.AnnotationsFolder,
		Patterns:          c.Dataset.Patterns,
		StagesFile:        c.Dataset.StagesFile,
	}
}
