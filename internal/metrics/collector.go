// Package metrics implements the Metrics Collector: a persisted history of
// transfer outcomes per preset, feeding a cooldown-gated recommendation
// algorithm. The sample-window + threshold-comparison shape is grounded on
// internal/resources/manager.go's ThroughputMonitor (rolling sample
// history, recent-vs-older average comparisons); persistence is grounded
// on internal/config/jobs_json.go's JSON marshal style plus apiconfig.go's
// atomic rename-over write.
package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sshferry/sshferry/internal/constants"
)

// Preset names form a fixed three-rung ladder per spec.md §4.5/§9.
type Preset string

const (
	PresetLow    Preset = "low"
	PresetMedium Preset = "medium"
	PresetHigh   Preset = "high"
)

var ladder = []Preset{PresetLow, PresetMedium, PresetHigh}

func rungIndex(p Preset) int {
	for i, rung := range ladder {
		if rung == p {
			return i
		}
	}
	return -1
}

// WorkersAndChunkBytes returns the (workers, chunkBytes) tuple for a preset.
func WorkersAndChunkBytes(p Preset) (workers int, chunkBytes int64) {
	switch p {
	case PresetLow:
		return constants.PresetLowWorkers, constants.PresetLowChunkBytes
	case PresetMedium:
		return constants.PresetMediumWorkers, constants.PresetMediumChunkBytes
	case PresetHigh:
		return constants.PresetHighWorkers, constants.PresetHighChunkBytes
	default:
		return constants.PresetLowWorkers, constants.PresetLowChunkBytes
	}
}

// TransferRecord is one metric sample: spec.md §3.
type TransferRecord struct {
	Preset           Preset    `json:"preset"`
	BytesTransferred int64     `json:"bytes_transferred"`
	DurationSeconds  float64   `json:"duration_seconds"`
	Success          bool      `json:"success"`
	Timestamp        time.Time `json:"timestamp"`
}

// SpeedMBps is the derived field spec.md §3 names.
func (r TransferRecord) SpeedMBps() float64 {
	if r.DurationSeconds <= 0 {
		return 0
	}
	return (float64(r.BytesTransferred) / (1024 * 1024)) / r.DurationSeconds
}

// PresetStats is the aggregation spec.md §3 names.
type PresetStats struct {
	Total         int
	Successful    int
	TotalBytes    int64
	TotalDuration float64
}

// SuccessRate and AvgSpeedMBps are PresetStats's derived fields.
func (s PresetStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.Total)
}

func (s PresetStats) AvgSpeedMBps() float64 {
	if s.TotalDuration <= 0 {
		return 0
	}
	return (float64(s.TotalBytes) / (1024 * 1024)) / s.TotalDuration
}

// persisted is the on-disk shape of metrics.json, per spec.md §6.
type persisted struct {
	Records          []TransferRecord `json:"records"`
	CurrentPreset    Preset           `json:"current_preset"`
	LastPresetChange time.Time        `json:"last_preset_change"`
}

// Collector owns the in-memory history and persists it as a full rewrite
// (the file is small, bounded at MaxRecords) via the same
// single-writer/rename-over discipline the teacher uses for apiconfig.
type Collector struct {
	mu   sync.Mutex
	path string

	records          []TransferRecord
	currentPreset    Preset
	lastPresetChange time.Time
}

// DefaultMetricsPath returns metrics.json under the OS user-config
// directory's sshferry subfolder.
func DefaultMetricsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user config directory: %w", err)
	}
	return filepath.Join(dir, "sshferry", "metrics.json"), nil
}

// Open loads the collector's state from path. On read failure (other than
// not-exist), it starts with empty history rather than propagating the
// error, per spec.md §9's "Metrics persistence as full rewrite" note.
func Open(path string) (*Collector, error) {
	if path == "" {
		var err error
		path, err = DefaultMetricsPath()
		if err != nil {
			return nil, err
		}
	}

	c := &Collector{path: path, currentPreset: PresetLow}

	data, err := os.ReadFile(path)
	if err != nil {
		return c, nil
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return c, nil
	}
	c.records = p.Records
	if rungIndex(p.CurrentPreset) >= 0 {
		c.currentPreset = p.CurrentPreset
	}
	c.lastPresetChange = p.LastPresetChange
	return c, nil
}

// save performs the atomic full-rewrite. Caller must hold c.mu.
func (c *Collector) save() error {
	p := persisted{
		Records:          c.records,
		CurrentPreset:    c.currentPreset,
		LastPresetChange: c.lastPresetChange,
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save metrics: %w", err)
	}
	return nil
}

// RecordOutcome appends a TransferRecord and evicts the oldest past
// MaxRecords, then persists.
func (c *Collector) RecordOutcome(rec TransferRecord) error {
	c.mu.Lock()
	c.records = append(c.records, rec)
	if len(c.records) > constants.MaxRecords {
		c.records = c.records[len(c.records)-constants.MaxRecords:]
	}
	c.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.save()
}

// CurrentPreset returns the collector's currently recommended preset.
func (c *Collector) CurrentPreset() Preset {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPreset
}

// Stats aggregates PresetStats for the given preset across all history.
func (c *Collector) Stats(preset Preset) PresetStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s PresetStats
	for _, r := range c.records {
		if r.Preset != preset {
			continue
		}
		s.Total++
		if r.Success {
			s.Successful++
		}
		s.TotalBytes += r.BytesTransferred
		s.TotalDuration += r.DurationSeconds
	}
	return s
}

// RecommendedPreset runs the algorithm from spec.md §4.8. State is mutated
// only when a preset change is actually chosen; a cooldown check never
// mutates state.
func (c *Collector) RecommendedPreset(now time.Time) Preset {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.records) == 0 {
		return PresetLow
	}
	if !c.lastPresetChange.IsZero() && now.Sub(c.lastPresetChange) < constants.Cooldown {
		return c.currentPreset
	}

	// Consider the last SampleWindow records whose preset == currentPreset.
	var considered []TransferRecord
	for i := len(c.records) - 1; i >= 0 && len(considered) < constants.SampleWindow; i-- {
		if c.records[i].Preset == c.currentPreset {
			considered = append(considered, c.records[i])
		}
	}
	if len(considered) < constants.MinSamplesToConsider {
		return c.currentPreset
	}

	successful := 0
	for _, r := range considered {
		if r.Success {
			successful++
		}
	}
	successRate := float64(successful) / float64(len(considered))

	idx := rungIndex(c.currentPreset)

	if successRate < 1-constants.FailureThreshold && idx > 0 {
		c.currentPreset = ladder[idx-1]
		c.lastPresetChange = now
		_ = c.save()
		return c.currentPreset
	}
	if successRate >= constants.SuccessThreshold && idx < len(ladder)-1 {
		c.currentPreset = ladder[idx+1]
		c.lastPresetChange = now
		_ = c.save()
		return c.currentPreset
	}
	return c.currentPreset
}
