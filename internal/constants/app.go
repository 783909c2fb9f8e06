// Package constants collects the tunable defaults shared across sshferry's
// engines so a single file documents every magic number in the system.
package constants

import "time"

// Event System
const (
	// EventBusDefaultBuffer is the default per-subscriber channel buffer size.
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer caps the buffer size requestable by callers.
	EventBusMaxBuffer = 5000
)

// Scheduler
const (
	// DefaultMaxWorkers is the scheduler's default bounded worker-pool size.
	DefaultMaxWorkers = 3

	// DefaultParallelThresholdBytes is the file size above which a transfer
	// task is auto-assigned the parallel engine instead of the sftp engine.
	DefaultParallelThresholdBytes = 50 * 1024 * 1024
)

// Parallel Engine presets: (workers, chunk size).
const (
	PresetLowWorkers    = 4
	PresetLowChunkBytes = 2 * 1024 * 1024

	PresetMediumWorkers    = 10
	PresetMediumChunkBytes = 4 * 1024 * 1024

	PresetHighWorkers    = 16
	PresetHighChunkBytes = 8 * 1024 * 1024
)

// Parallel Engine runtime behavior
const (
	// DefaultWarmupBatchSize is how many workers are launched per warm-up batch.
	DefaultWarmupBatchSize = 4

	// DefaultWarmupDelay is the pause between warm-up batch launches.
	DefaultWarmupDelay = 200 * time.Millisecond

	// DefaultMaxChunkRetries is the per-chunk retry ceiling before the
	// transfer aborts.
	DefaultMaxChunkRetries = 4

	// ConnectRetries is the number of connect attempts a worker makes
	// before giving up and counting against connectFailures.
	ConnectRetries = 3

	// ConnectBackoffBase is the base delay for the exponential connect
	// backoff (doubles per attempt).
	ConnectBackoffBase = 500 * time.Millisecond

	// SSHHandshakeTimeout bounds how long a single SSH dial may take.
	SSHHandshakeTimeout = 10 * time.Second

	// QueuePollTimeout bounds how long a worker blocks waiting for the
	// next chunk before re-checking the abort/interrupt signal.
	QueuePollTimeout = 200 * time.Millisecond
)

// Adaptive host worker cap
const (
	// DegradeAfterFailures is the number of warm-up connect failures on a
	// host that triggers halving its worker cap.
	DegradeAfterFailures = 2

	// MinWorkers is the floor the adaptive cap never drops below.
	MinWorkers = 2
)

// Metrics Collector
const (
	// MaxRecords is the number of TransferRecords retained (oldest evicted).
	MaxRecords = 100

	// Cooldown is the minimum interval between preset changes.
	Cooldown = 300 * time.Second

	// SampleWindow is how many of the most recent same-preset records are
	// considered by the recommendation algorithm.
	SampleWindow = 10

	// MinSamplesToConsider is the minimum number of same-preset samples
	// required before the recommendation algorithm will act.
	MinSamplesToConsider = 3

	// FailureThreshold: a success rate below (1 - FailureThreshold) triggers
	// a downgrade.
	FailureThreshold = 0.20

	// SuccessThreshold: a success rate at or above this triggers an upgrade.
	SuccessThreshold = 0.95
)
