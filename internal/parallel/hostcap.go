// Package parallel implements the chunk-parallel transfer engine: fixed-size
// chunks written/read concurrently over N persistent SFTP sessions, with
// per-chunk retry, warm-up batching, and a process-wide adaptive host
// worker cap. The worker-pool shape is grounded on
// internal/cloud/upload/s3_concurrent.go's job/result/error channel
// pattern; the adaptive cap is grounded on internal/resources/manager.go's
// single-mutex allocations map.
package parallel

import (
	"sync"

	"github.com/sshferry/sshferry/internal/constants"
)

// hostCaps is the process-wide, per-host adaptive worker cap described in
// spec.md §4.5/§9. It is intentionally a package-level singleton, not
// per-Engine-instance state, because the design requires it to be shared
// across every engine instance in the process; the cap only ever
// decreases within a process lifetime, and a restart resets it.
var hostCaps = struct {
	mu   sync.Mutex
	caps map[string]int
}{caps: make(map[string]int)}

// capFor returns the effective worker cap for hostKey given the
// configured (preset) worker count, defaulting to that count if no
// degradation has happened yet.
func capFor(hostKey string, configuredWorkers int) int {
	hostCaps.mu.Lock()
	defer hostCaps.mu.Unlock()
	if cap, ok := hostCaps.caps[hostKey]; ok && cap < configuredWorkers {
		return cap
	}
	return configuredWorkers
}

// degrade halves hostKey's cap (floor MinWorkers) if targetWorkers is still
// above MinWorkers. Subsequent transfers to the same host start capped.
func degrade(hostKey string, targetWorkers int) {
	hostCaps.mu.Lock()
	defer hostCaps.mu.Unlock()
	if targetWorkers <= constants.MinWorkers {
		return
	}
	newCap := targetWorkers / 2
	if newCap < constants.MinWorkers {
		newCap = constants.MinWorkers
	}
	if existing, ok := hostCaps.caps[hostKey]; !ok || newCap < existing {
		hostCaps.caps[hostKey] = newCap
	}
}

// resetHostCaps clears every recorded degradation; exposed for tests only
// (a real process reset happens via process restart, per spec.md §4.5).
func resetHostCaps() {
	hostCaps.mu.Lock()
	defer hostCaps.mu.Unlock()
	hostCaps.caps = make(map[string]int)
}
