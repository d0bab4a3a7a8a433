package config

import (
	"fmt"

	"github.com/dooshek/loopmic/internal/fileops"
	"github.com/dooshek/loopmic/internal/types"
	"gopkg.in/yaml.v3"
)

const (
	configFilename = "loopmic.yaml"

	defaultSampleRate = 48000
	defaultRefreshHz  = 60
)

// Default returns the configuration used when no file exists. Gain starts at
// unity, capture on the system default device.
func Default() *types.Config {
	return &types.Config{
		Gain: types.DefaultGain,
		Audio: types.AudioConfig{
			SampleRate: defaultSampleRate,
		},
		Meter: types.MeterConfig{
			RefreshHz: defaultRefreshHz,
		},
		Notifications: types.NotificationsConfig{
			Enabled: true,
		},
	}
}

// Load reads the config file, falling back to defaults when it is absent.
// Out-of-range values are normalized rather than rejected.
func Load() (*types.Config, error) {
	fileOps, err := fileops.NewDefaultFileOps()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file operations: %w", err)
	}

	if err := fileOps.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	data, err := fileOps.LoadConfig(configFilename)
	if err != nil {
		if err == fileops.ErrConfigNotFound {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	Normalize(cfg)
	return cfg, nil
}

// Save writes the config to the config directory.
func Save(cfg *types.Config) error {
	fileOps, err := fileops.NewDefaultFileOps()
	if err != nil {
		return fmt.Errorf("failed to initialize file operations: %w", err)
	}

	if err := fileOps.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := fileOps.SaveConfig(configFilename, data); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Normalize clamps and fills in values a hand-edited config may have broken.
func Normalize(cfg *types.Config) {
	cfg.Gain = types.ClampGain(cfg.Gain)
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = defaultSampleRate
	}
	if cfg.Meter.RefreshHz <= 0 {
		cfg.Meter.RefreshHz = defaultRefreshHz
	}
}
