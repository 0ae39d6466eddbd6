package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	ispconfig "github.com/menta2k/isp-configurator"
	"github.com/menta2k/isp-configurator/pkg/fragment"
	"github.com/menta2k/isp-configurator/pkg/framing"
	"github.com/menta2k/isp-configurator/pkg/propagator"
)

// Config holds the application configuration
type Config struct {
	Catalog  CatalogConfig  `json:"catalog" yaml:"catalog"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Framing  FramingConfig  `json:"framing" yaml:"framing"`
	Output   OutputConfig   `json:"output" yaml:"output"`
}

// CatalogConfig names the pipeline catalog and the instance to select
type CatalogConfig struct {
	Path string `json:"path" yaml:"path"`
	Key  string `json:"key" yaml:"key"`
	// BaseKey names a pipeline whose sink purposes the selected one keeps.
	BaseKey string `json:"base_key" yaml:"base_key"`
}

// PipelineConfig holds the geometry engine settings
type PipelineConfig struct {
	Variant       string            `json:"variant" yaml:"variant"`
	FragmentCount int               `json:"fragment_count" yaml:"fragment_count"`
	Propagator    propagator.Config `json:"propagator" yaml:"propagator"`
	Fragments     fragment.Config   `json:"fragments" yaml:"fragments"`
}

// FramingConfig holds configuration for vision-model auto-framing
type FramingConfig struct {
	Backend  string         `json:"backend" yaml:"backend"`
	URL      string         `json:"url" yaml:"url"`
	Model    string         `json:"model" yaml:"model"`
	MaxDim   int            `json:"max_dim" yaml:"max_dim"`
	Quality  int            `json:"quality" yaml:"quality"`
	Settings framing.Config `json:"settings" yaml:"settings"`
}

// OutputConfig holds configuration for preview images
type OutputConfig struct {
	DefaultFormat string `json:"default_format" yaml:"default_format"`
	OutputDir     string `json:"output_dir" yaml:"output_dir"`
	Prefix        string `json:"prefix" yaml:"prefix"`
	Suffix        string `json:"suffix" yaml:"suffix"`
	Quality       int    `json:"quality" yaml:"quality"`
	Lossless      bool   `json:"lossless" yaml:"lossless"`
	Boundaries    bool   `json:"boundaries" yaml:"boundaries"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Catalog: CatalogConfig{
			Path: "pipelines.yaml",
			Key:  "4000x3000",
		},
		Pipeline: PipelineConfig{
			FragmentCount: ispconfig.DefaultFragmentCount,
			Fragments:     fragment.DefaultConfig(),
		},
		Framing: FramingConfig{
			Backend:  "ollama",
			URL:      "http://localhost:11434",
			Model:    "minicpm-v4",
			MaxDim:   1024,
			Quality:  85,
			Settings: framing.DefaultConfig(),
		},
		Output: OutputConfig{
			DefaultFormat: "jpg",
			OutputDir:     "./output",
			Suffix:        "_preview",
			Quality:       90,
		},
	}
}

// Options converts the pipeline section into configurator options.
func (c *Config) Options() ispconfig.Options {
	return ispconfig.Options{
		Variant:       c.Pipeline.Variant,
		Propagator:    c.Pipeline.Propagator,
		Fragments:     c.Pipeline.Fragments,
		FragmentCount: c.Pipeline.FragmentCount,
	}
}

func isYAML(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFromFile loads configuration from a JSON or YAML file. Missing fields
// keep their defaults.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile saves configuration to a JSON or YAML file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}

	if c.Pipeline.FragmentCount < 1 {
		return fmt.Errorf("pipeline.fragment_count must be positive")
	}
	if c.Pipeline.Variant != "" {
		if _, err := propagator.VariantFor(c.Pipeline.Variant); err != nil {
			return fmt.Errorf("pipeline.variant: %w", err)
		}
	}
	if c.Pipeline.Fragments.MinStripeBeforeReference < 0 || c.Pipeline.Fragments.MinStripeAfterReference < 0 {
		return fmt.Errorf("pipeline.fragments minimum widths must not be negative")
	}

	switch c.Framing.Backend {
	case "ollama", "llamacpp", "saliency":
	default:
		return fmt.Errorf("framing.backend must be ollama, llamacpp or saliency")
	}
	if c.Framing.Quality < 1 || c.Framing.Quality > 100 {
		return fmt.Errorf("framing.quality must be between 1 and 100")
	}
	if err := c.Framing.Settings.Validate(); err != nil {
		return err
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}
	switch strings.ToLower(c.Output.DefaultFormat) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("output.default_format must be jpg, png or webp")
	}
	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "isp-configurator", "config.yaml")
}
