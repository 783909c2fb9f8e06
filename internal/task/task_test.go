package task

import (
	"testing"

	"github.com/sshferry/sshferry/internal/taxonomy"
)

func TestLegalTransitions(t *testing.T) {
	tsk := New(KindUpload, EngineSFTP, "/local", "/remote", 100)
	if tsk.Status() != StatusPending {
		t.Fatalf("Status() = %v, want %v", tsk.Status(), StatusPending)
	}

	if !tsk.Transition(StatusRunning) {
		t.Fatal("pending -> running should be legal")
	}
	if !tsk.Transition(StatusPaused) {
		t.Fatal("running -> paused should be legal")
	}
	if !tsk.Transition(StatusRunning) {
		t.Fatal("paused -> running should be legal")
	}
	if !tsk.Transition(StatusDone) {
		t.Fatal("running -> done should be legal")
	}

	// Terminal: direct transitions are illegal, only Restart applies.
	if tsk.Transition(StatusRunning) {
		t.Error("done -> running should be illegal")
	}
}

func TestIllegalTransitionIsNoOp(t *testing.T) {
	tsk := New(KindUpload, EngineSFTP, "/local", "/remote", 100)
	if tsk.Transition(StatusDone) {
		t.Error("pending -> done should be illegal")
	}
	if tsk.Status() != StatusPending {
		t.Errorf("Status() = %v, want %v", tsk.Status(), StatusPending)
	}
}

func TestRestartFromEveryTerminalState(t *testing.T) {
	for _, terminal := range []Status{StatusDone, StatusFailed, StatusCanceled, StatusSkipped} {
		tsk := New(KindUpload, EngineSFTP, "/local", "/remote", 100)
		if !tsk.Transition(StatusRunning) {
			t.Fatalf("pending -> running should be legal (terminal=%v)", terminal)
		}
		if !tsk.Transition(terminal) {
			t.Fatalf("running -> %v should be legal", terminal)
		}
		tsk.UpdateProgress(42)
		tsk.SetError(taxonomy.TransferFailed, "boom")

		if !tsk.Restart() {
			t.Fatalf("Restart() from %v should succeed", terminal)
		}
		if tsk.Status() != StatusPending {
			t.Errorf("Status() after restart = %v, want %v", tsk.Status(), StatusPending)
		}
		if tsk.BytesDone() != 0 {
			t.Errorf("BytesDone() after restart = %d, want 0", tsk.BytesDone())
		}
		code, msg := tsk.Error()
		if code != "" {
			t.Errorf("error code after restart = %q, want empty", code)
		}
		if msg != "" {
			t.Errorf("error message after restart = %q, want empty", msg)
		}
	}
}

func TestRestartNonTerminalFails(t *testing.T) {
	tsk := New(KindUpload, EngineSFTP, "/local", "/remote", 100)
	if !tsk.Transition(StatusRunning) {
		t.Fatal("pending -> running should be legal")
	}
	if tsk.Restart() {
		t.Error("Restart() on a running task should fail")
	}
}

func TestBytesDoneNeverExceedsTotal(t *testing.T) {
	tsk := New(KindUpload, EngineSFTP, "/local", "/remote", 100)
	if !tsk.Transition(StatusRunning) {
		t.Fatal("pending -> running should be legal")
	}
	tsk.UpdateProgress(500)
	if tsk.BytesDone() != 100 {
		t.Errorf("BytesDone() = %d, want 100 (clamped to total)", tsk.BytesDone())
	}
}

func TestPauseResumeCycle(t *testing.T) {
	tsk := New(KindUpload, EngineSFTP, "/local", "/remote", 100)
	if !tsk.Transition(StatusRunning) {
		t.Fatal("pending -> running should be legal")
	}
	tsk.RequestPause()
	if !tsk.Paused() {
		t.Error("expected Paused() to be true after RequestPause")
	}
	if !tsk.Transition(StatusPaused) {
		t.Fatal("running -> paused should be legal")
	}

	// Resume re-queues as pending per the state machine's resume mechanism.
	if !tsk.Transition(StatusPending) {
		t.Fatal("paused -> pending should be legal")
	}
	tsk.ClearControlFlags()
	if tsk.Paused() {
		t.Error("expected Paused() to be false after ClearControlFlags")
	}
	if !tsk.Transition(StatusRunning) {
		t.Fatal("pending -> running should be legal")
	}
}
