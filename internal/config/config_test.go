package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/menta2k/photo-crop/pkg/types"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	spec, err := cfg.OutputSpec()
	require.NoError(t, err)
	require.Equal(t, types.JPEG, spec.Format)
	require.Equal(t, 90, spec.Quality)

	timeout, err := cfg.FetchTimeout()
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, timeout)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Crop.Aspect = "16:9"
	cfg.Crop.MaxWidth = 1280
	cfg.Crop.MaxHeight = 720
	cfg.Output.Format = "png"
	cfg.Log.Debug = true
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)

	aspect, err := loaded.AspectRatio()
	require.NoError(t, err)
	require.Equal(t, types.AspectRatio{X: 16, Y: 9}, aspect)
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[crop]\naspect = \"1:1\"\n\n[limits]\nworkers = 2\n"), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "1:1", cfg.Crop.Aspect)
	require.Equal(t, 2, cfg.Limits.Workers)
	require.Equal(t, 90, cfg.Output.Quality)
	require.Equal(t, "_cropped", cfg.Output.Suffix)
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[crop\n"), 0644))
	_, err = LoadFromFile(path)
	require.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"bad aspect", func(c *Config) { c.Crop.Aspect = "wide" }, "crop.aspect"},
		{"negative max", func(c *Config) { c.Crop.MaxWidth = -1 }, "crop.max_width"},
		{"negative texture limit", func(c *Config) { c.Crop.TextureLimit = -5 }, "crop.texture_limit"},
		{"bad format", func(c *Config) { c.Output.Format = "gif" }, "output.format"},
		{"quality too high", func(c *Config) { c.Output.Quality = 101 }, "output.quality"},
		{"no workers", func(c *Config) { c.Limits.Workers = 0 }, "limits.workers"},
		{"bad timeout", func(c *Config) { c.Limits.FetchTimeout = "soon" }, "limits.fetch_timeout"},
		{"negative budget", func(c *Config) { c.Limits.MaxDecodeBytes = -1 }, "limits.max_decode_bytes"},
		{"negative fetch rate", func(c *Config) { c.Limits.FetchRate = -1 }, "limits.fetch_rate"},
		{"no input formats", func(c *Config) { c.Limits.InputFormats = nil }, "limits.input_formats"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)
			require.ErrorContains(t, cfg.Validate(), tc.errMsg)
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	require.Equal(t, "config.toml", filepath.Base(GetConfigPath()))
}
