package appconfig

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sshferry/sshferry/internal/constants"
	"github.com/sshferry/sshferry/internal/metrics"
)

func TestDefaultMatchesConstants(t *testing.T) {
	cfg := Default()
	if cfg.MaxWorkers != constants.DefaultMaxWorkers {
		t.Errorf("MaxWorkers = %d, want %d", cfg.MaxWorkers, constants.DefaultMaxWorkers)
	}
	if cfg.ParallelThresholdBytes != int64(constants.DefaultParallelThresholdBytes) {
		t.Errorf("ParallelThresholdBytes = %d, want %d", cfg.ParallelThresholdBytes, int64(constants.DefaultParallelThresholdBytes))
	}
	if cfg.ParallelUploadPreset != metrics.PresetMedium {
		t.Errorf("ParallelUploadPreset = %v, want %v", cfg.ParallelUploadPreset, metrics.PresetMedium)
	}
	if cfg.ParallelDownloadPreset != metrics.PresetHigh {
		t.Errorf("ParallelDownloadPreset = %v, want %v", cfg.ParallelDownloadPreset, metrics.PresetHigh)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "absent.ini"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Load() = %+v, want %+v", cfg, Default())
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.ini")

	cfg := &Config{
		MaxWorkers:             7,
		ParallelThresholdBytes: 1 << 20,
		ParallelUploadPreset:   metrics.PresetHigh,
		ParallelDownloadPreset: metrics.PresetLow,
		ConnectTimeoutSeconds:  30,
	}
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(cfg, loaded) {
		t.Errorf("Load() = %+v, want %+v", loaded, cfg)
	}
}

func TestSaveCreatesParentDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "subdir", "config.ini")

	if err := Save(Default(), path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(loaded, Default()) {
		t.Errorf("Load() = %+v, want %+v", loaded, Default())
	}
}

func TestLoadPartialFilePreservesDefaultsForMissingKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.ini")

	content := "[scheduler]\nmax_workers = 9\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxWorkers != 9 {
		t.Errorf("MaxWorkers = %d, want 9", cfg.MaxWorkers)
	}
	if cfg.ParallelThresholdBytes != int64(constants.DefaultParallelThresholdBytes) {
		t.Errorf("ParallelThresholdBytes = %d, want %d", cfg.ParallelThresholdBytes, int64(constants.DefaultParallelThresholdBytes))
	}
	if cfg.ParallelUploadPreset != metrics.PresetMedium {
		t.Errorf("ParallelUploadPreset = %v, want %v", cfg.ParallelUploadPreset, metrics.PresetMedium)
	}
}
