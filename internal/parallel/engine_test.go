package parallel

import (
	"errors"
	"testing"

	"github.com/sshferry/sshferry/internal/constants"
	"github.com/sshferry/sshferry/internal/taxonomy"
)

// TestBuildChunkQueueFiveMiBOneMiBChunks mirrors spec.md's concrete
// scenario: a 5 MiB file split into 1 MiB chunks must yield exactly 5
// chunks, none of them overlapping or short except possibly the last.
func TestBuildChunkQueueFiveMiBOneMiBChunks(t *testing.T) {
	const mib = 1024 * 1024
	chunks := buildChunkQueue(5*mib, mib)
	if len(chunks) != 5 {
		t.Fatalf("len(chunks) = %d, want 5", len(chunks))
	}

	var total int64
	for i, c := range chunks {
		if c.offset != int64(i)*mib {
			t.Errorf("chunks[%d].offset = %d, want %d", i, c.offset, int64(i)*mib)
		}
		if c.length != int64(mib) {
			t.Errorf("chunks[%d].length = %d, want %d", i, c.length, int64(mib))
		}
		total += c.length
	}
	if total != int64(5*mib) {
		t.Errorf("total = %d, want %d", total, int64(5*mib))
	}
}

func TestBuildChunkQueueUnevenRemainder(t *testing.T) {
	chunks := buildChunkQueue(2500, 1000)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	if chunks[2].length != 500 {
		t.Errorf("chunks[2].length = %d, want 500", chunks[2].length)
	}
}

func TestFinalizeSuccess(t *testing.T) {
	state := &sharedState{bytesTransferred: 100, completedChunks: 5}
	if err := finalize(state, 100, 5); err != nil {
		t.Errorf("finalize() error = %v, want nil", err)
	}
}

func TestFinalizeIncomplete(t *testing.T) {
	state := &sharedState{bytesTransferred: 80, completedChunks: 4}
	err := finalize(state, 100, 5)
	if err == nil {
		t.Fatal("expected an error for an incomplete transfer")
	}
	var taxErr *taxonomy.Error
	if !errors.As(err, &taxErr) {
		t.Fatalf("expected a *taxonomy.Error, got %T", err)
	}
	if taxErr.Kind != taxonomy.TransferFailed {
		t.Errorf("Kind = %v, want %v", taxErr.Kind, taxonomy.TransferFailed)
	}
}

func TestFinalizeInterrupted(t *testing.T) {
	state := &sharedState{interrupted: true}
	err := finalize(state, 100, 5)
	if !taxonomy.IsInterrupted(err) {
		t.Errorf("expected IsInterrupted(err) to be true, got err=%v", err)
	}
}

func TestFinalizeAbortedWithError(t *testing.T) {
	state := &sharedState{abort: true, abortErr: taxonomy.New(taxonomy.TransferFailed, "boom")}
	err := finalize(state, 100, 5)
	if err == nil {
		t.Fatal("expected an error when the transfer aborted")
	}
	var taxErr *taxonomy.Error
	if !errors.As(err, &taxErr) {
		t.Fatalf("expected a *taxonomy.Error, got %T", err)
	}
	if taxErr.Kind != taxonomy.TransferFailed {
		t.Errorf("Kind = %v, want %v", taxErr.Kind, taxonomy.TransferFailed)
	}
}

// TestProcessChunkWithRetrySuccessReportsAtTotal exercises the reporting
// rule from spec.md §4.5 step 7: onProgress must fire when
// bytesTransferred reaches total.
func TestProcessChunkWithRetrySuccessReportsAtTotal(t *testing.T) {
	state := &sharedState{}
	var reported []int64
	processChunkWithRetry(chunk{offset: 0, length: 10}, 2, func() error { return nil }, state, 10, 10, 4, func(done, total int64) {
		reported = append(reported, done)
	})
	if len(reported) != 1 {
		t.Fatalf("len(reported) = %d, want 1", len(reported))
	}
	if reported[0] != 10 {
		t.Errorf("reported[0] = %d, want 10", reported[0])
	}
	if state.completedChunks != 1 {
		t.Errorf("completedChunks = %d, want 1", state.completedChunks)
	}
	if state.bytesTransferred != 10 {
		t.Errorf("bytesTransferred = %d, want 10", state.bytesTransferred)
	}
}

// TestProcessChunkWithRetrySuppressesReportBelowChunkSize asserts that a
// completed chunk that hasn't advanced by a full chunkBytes since the last
// report, and isn't the final chunk, does not call onProgress — only the
// lock-guarded counters advance.
func TestProcessChunkWithRetrySuppressesReportBelowChunkSize(t *testing.T) {
	state := &sharedState{lastReported: 0}
	called := false
	processChunkWithRetry(chunk{offset: 0, length: 2}, 2, func() error { return nil }, state, 2, 100, 10, func(done, total int64) {
		called = true
	})
	if called {
		t.Error("expected onProgress not to be called")
	}
	if state.bytesTransferred != 2 {
		t.Errorf("bytesTransferred = %d, want 2", state.bytesTransferred)
	}
}

func TestProcessChunkWithRetryExhaustsAndAborts(t *testing.T) {
	state := &sharedState{}
	attempts := 0
	processChunkWithRetry(chunk{offset: 0, length: 5}, 2, func() error {
		attempts++
		return taxonomy.New(taxonomy.TransferFailed, "simulated")
	}, state, 5, 100, 10, nil)

	if attempts != 3 { // maxRetries=2 means 3 total attempts
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if !isAborted(state) {
		t.Error("expected isAborted(state) to be true")
	}
}

func TestLaunchWorkersWarmupBatches(t *testing.T) {
	opts := Options{WarmupBatchSize: 2, WarmupDelay: 0}
	var launched []int
	launchWorkersWarmup(5, opts, func(idx int) {
		launched = append(launched, idx)
	})
	if len(launched) != 5 {
		t.Errorf("len(launched) = %d, want 5", len(launched))
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	if opts.Workers != constants.PresetMediumWorkers {
		t.Errorf("Workers = %d, want %d", opts.Workers, constants.PresetMediumWorkers)
	}
	if opts.ChunkBytes != int64(constants.PresetMediumChunkBytes) {
		t.Errorf("ChunkBytes = %d, want %d", opts.ChunkBytes, int64(constants.PresetMediumChunkBytes))
	}
	if opts.MaxChunkRetries != constants.DefaultMaxChunkRetries {
		t.Errorf("MaxChunkRetries = %d, want %d", opts.MaxChunkRetries, constants.DefaultMaxChunkRetries)
	}
}

func TestHostCapDegradeHalvesAndFloors(t *testing.T) {
	resetHostCaps()
	degrade("host-a", 10)
	if got := capFor("host-a", 10); got != 5 {
		t.Errorf("capFor() = %d, want 5", got)
	}

	degrade("host-a", 5)
	if got := capFor("host-a", 10); got != 2 { // floored at MinWorkers
		t.Errorf("capFor() = %d, want 2", got)
	}

	degrade("host-a", 2) // at MinWorkers already, no-op
	if got := capFor("host-a", 10); got != 2 {
		t.Errorf("capFor() = %d, want 2", got)
	}
}

func TestHostCapIndependentPerHost(t *testing.T) {
	resetHostCaps()
	degrade("host-a", 10)
	if got := capFor("host-b", constants.PresetMediumWorkers); got != constants.PresetMediumWorkers {
		t.Errorf("capFor(host-b) = %d, want %d", got, constants.PresetMediumWorkers)
	}
}
