package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/menta2k/photo-crop/pkg/decoder"
	"github.com/menta2k/photo-crop/pkg/sampling"
	"github.com/menta2k/photo-crop/pkg/types"
)

// Config holds the application configuration
type Config struct {
	Crop   CropConfig   `toml:"crop"`
	Output OutputConfig `toml:"output"`
	Limits LimitsConfig `toml:"limits"`
	Log    LogConfig    `toml:"log"`
}

// CropConfig holds configuration for the crop selection
type CropConfig struct {
	// Aspect is "free" or "X:Y".
	Aspect       string `toml:"aspect"`
	MaxWidth     int    `toml:"max_width"`
	MaxHeight    int    `toml:"max_height"`
	TextureLimit int    `toml:"texture_limit"`
	// Smart starts from a content-aware selection instead of the centred one.
	Smart bool `toml:"smart"`
	// FaceModel is an optional pigo cascade file used by smart selection.
	FaceModel string `toml:"face_model"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Format   string `toml:"format"`
	Quality  int    `toml:"quality"`
	Lossless bool   `toml:"lossless"`
	Dir      string `toml:"dir"`
	Prefix   string `toml:"prefix"`
	Suffix   string `toml:"suffix"`
}

// LimitsConfig holds resource limits
type LimitsConfig struct {
	MaxDecodeBytes int64  `toml:"max_decode_bytes"`
	Workers        int    `toml:"workers"`
	FetchTimeout   string `toml:"fetch_timeout"`
	// FetchRate caps URL downloads per second. Zero is unlimited.
	FetchRate float64 `toml:"fetch_rate"`
	// InputFormats lists the accepted source encodings by decoder name.
	InputFormats []string `toml:"input_formats"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	File       string `toml:"file"`
	Debug      bool   `toml:"debug"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Crop: CropConfig{
			Aspect:       "free",
			TextureLimit: sampling.DefaultMaxSize,
		},
		Output: OutputConfig{
			Format:  string(types.JPEG),
			Quality: types.DefaultQuality,
			Dir:     "./output",
			Suffix:  "_cropped",
		},
		Limits: LimitsConfig{
			MaxDecodeBytes: int64(decoder.DefaultBudget),
			Workers:        4,
			FetchTimeout:   "30s",
			InputFormats:   []string{"jpeg", "png", "webp", "bmp", "tiff", "gif"},
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// LoadFromFile loads configuration from a TOML file. Keys missing from the
// file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	config := Default()
	if _, err := toml.DecodeFile(filename, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile saves configuration to a TOML file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := c.AspectRatio(); err != nil {
		return fmt.Errorf("crop.aspect: %w", err)
	}

	if c.Crop.MaxWidth < 0 || c.Crop.MaxHeight < 0 {
		return fmt.Errorf("crop.max_width and crop.max_height cannot be negative")
	}

	if c.Crop.TextureLimit < 0 {
		return fmt.Errorf("crop.texture_limit cannot be negative")
	}

	if _, err := types.ParseFormat(c.Output.Format); err != nil {
		return fmt.Errorf("output.format: %w", err)
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	if c.Limits.MaxDecodeBytes < 0 {
		return fmt.Errorf("limits.max_decode_bytes cannot be negative")
	}

	if c.Limits.FetchRate < 0 {
		return fmt.Errorf("limits.fetch_rate cannot be negative")
	}

	if len(c.Limits.InputFormats) == 0 {
		return fmt.Errorf("limits.input_formats cannot be empty")
	}

	if c.Limits.Workers < 1 {
		return fmt.Errorf("limits.workers must be positive")
	}

	if _, err := c.FetchTimeout(); err != nil {
		return fmt.Errorf("limits.fetch_timeout: %w", err)
	}

	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 {
		return fmt.Errorf("log.max_size_mb and log.max_backups cannot be negative")
	}

	return nil
}

// AspectRatio parses crop.aspect.
func (c *Config) AspectRatio() (types.AspectRatio, error) {
	return types.ParseAspectRatio(c.Crop.Aspect)
}

// FetchTimeout parses limits.fetch_timeout. An empty value means the
// default.
func (c *Config) FetchTimeout() (time.Duration, error) {
	if c.Limits.FetchTimeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Limits.FetchTimeout)
}

// OutputSpec builds the output spec from the crop and output sections.
func (c *Config) OutputSpec() (types.OutputSpec, error) {
	format, err := types.ParseFormat(c.Output.Format)
	if err != nil {
		return types.OutputSpec{}, err
	}
	return types.OutputSpec{
		MaxWidth:  c.Crop.MaxWidth,
		MaxHeight: c.Crop.MaxHeight,
		Format:    format,
		Quality:   c.Output.Quality,
		Lossless:  c.Output.Lossless,
	}, nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.toml"
	}
	return filepath.Join(home, ".config", "photo-crop", "config.toml")
}
