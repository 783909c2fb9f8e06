// Package appconfig loads and saves sshferry's process-wide tunables: the
// scheduler's default worker count, the parallel-engine size threshold, the
// per-direction preset overrides, and the SSH connect timeout. INI format
// and load/save shape (section-by-section Key().MustX() reads, NewSection
// writes, create-directory-then-full-rewrite save) are grounded on
// internal/config/apiconfig.go.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"

	"github.com/sshferry/sshferry/internal/constants"
	"github.com/sshferry/sshferry/internal/metrics"
)

// Config is sshferry's ambient, user-editable configuration.
//
// INI format:
//
//	[scheduler]
//	max_workers = 3
//	parallel_threshold_bytes = 52428800
//
//	[presets]
//	upload = medium
//	download = high
//
//	[ssh]
//	connect_timeout_seconds = 10
type Config struct {
	MaxWorkers             int
	ParallelThresholdBytes int64

	ParallelUploadPreset   metrics.Preset
	ParallelDownloadPreset metrics.Preset

	ConnectTimeoutSeconds int
}

// Default returns the built-in defaults, matching internal/constants.
func Default() *Config {
	return &Config{
		MaxWorkers:             constants.DefaultMaxWorkers,
		ParallelThresholdBytes: constants.DefaultParallelThresholdBytes,
		ParallelUploadPreset:   metrics.PresetMedium,
		ParallelDownloadPreset: metrics.PresetHigh,
		ConnectTimeoutSeconds:  int(constants.SSHHandshakeTimeout.Seconds()),
	}
}

// DefaultConfigPath returns config.ini under the OS user-config directory's
// sshferry subfolder.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user config directory: %w", err)
	}
	return filepath.Join(dir, "sshferry", "config.ini"), nil
}

// Load reads path, falling back to Default() for any field whose key is
// absent. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	scheduler := iniFile.Section("scheduler")
	cfg.MaxWorkers = scheduler.Key("max_workers").MustInt(cfg.MaxWorkers)
	cfg.ParallelThresholdBytes = scheduler.Key("parallel_threshold_bytes").MustInt64(cfg.ParallelThresholdBytes)

	presets := iniFile.Section("presets")
	cfg.ParallelUploadPreset = metrics.Preset(presets.Key("upload").MustString(string(cfg.ParallelUploadPreset)))
	cfg.ParallelDownloadPreset = metrics.Preset(presets.Key("download").MustString(string(cfg.ParallelDownloadPreset)))

	ssh := iniFile.Section("ssh")
	cfg.ConnectTimeoutSeconds = ssh.Key("connect_timeout_seconds").MustInt(cfg.ConnectTimeoutSeconds)

	return cfg, nil
}

// Save writes cfg to path as INI, creating parent directories as needed.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	scheduler, err := iniFile.NewSection("scheduler")
	if err != nil {
		return fmt.Errorf("failed to create scheduler section: %w", err)
	}
	scheduler.Key("max_workers").SetValue(fmt.Sprintf("%d", cfg.MaxWorkers))
	scheduler.Key("parallel_threshold_bytes").SetValue(fmt.Sprintf("%d", cfg.ParallelThresholdBytes))

	presets, err := iniFile.NewSection("presets")
	if err != nil {
		return fmt.Errorf("failed to create presets section: %w", err)
	}
	presets.Key("upload").SetValue(string(cfg.ParallelUploadPreset))
	presets.Key("download").SetValue(string(cfg.ParallelDownloadPreset))

	ssh, err := iniFile.NewSection("ssh")
	if err != nil {
		return fmt.Errorf("failed to create ssh section: %w", err)
	}
	ssh.Key("connect_timeout_seconds").SetValue(fmt.Sprintf("%d", cfg.ConnectTimeoutSeconds))

	if err := iniFile.SaveTo(path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}
