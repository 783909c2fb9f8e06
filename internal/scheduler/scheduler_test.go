package scheduler

import (
	"errors"
	"testing"

	"github.com/sshferry/sshferry/internal/constants"
	"github.com/sshferry/sshferry/internal/events"
	"github.com/sshferry/sshferry/internal/sftpengine"
	"github.com/sshferry/sshferry/internal/sites"
	"github.com/sshferry/sshferry/internal/task"
)

var assertErr = errors.New("not found")

func newTestScheduler() *Scheduler {
	bus := events.NewEventBus(0)
	return New(2, bus, nil, nil, nil)
}

func TestChooseEngineThreshold(t *testing.T) {
	if got := ChooseEngine(constants.DefaultParallelThresholdBytes - 1); got != task.EngineSFTP {
		t.Errorf("ChooseEngine(threshold-1) = %v, want %v", got, task.EngineSFTP)
	}
	if got := ChooseEngine(constants.DefaultParallelThresholdBytes); got != task.EngineParallel {
		t.Errorf("ChooseEngine(threshold) = %v, want %v", got, task.EngineParallel)
	}
}

func TestAddTaskEnqueuesOnce(t *testing.T) {
	s := newTestScheduler()
	tk := task.New(task.KindMkdir, task.EngineSFTP, "", "/a", 0)

	site := sites.SiteConfig{Name: "site1", Host: "h", Port: 22, Username: "u", AuthMethod: sites.AuthPassword, RemoteRoot: "/"}
	if !s.AddTask(tk, site, sftpengine.Auth{}) {
		t.Fatal("expected the first AddTask to succeed")
	}
	if s.AddTask(tk, site, sftpengine.Auth{}) { // duplicate id rejected
		t.Error("expected a duplicate AddTask to be rejected")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) != 1 {
		t.Errorf("len(queue) = %d, want 1", len(s.queue))
	}
	if !s.queued[tk.ID] {
		t.Error("expected queued[tk.ID] to be true")
	}
}

func TestPauseResumeCancelRestartFlow(t *testing.T) {
	s := newTestScheduler()
	tk := task.New(task.KindUpload, task.EngineSFTP, "/local", "/remote", 100)
	site := sites.SiteConfig{Name: "site1"}
	s.AddTask(tk, site, sftpengine.Auth{})

	// Pause only applies to running tasks.
	if s.PauseTask(tk.ID) {
		t.Error("expected PauseTask to fail on a pending task")
	}

	tk.Transition(task.StatusRunning)
	if !s.PauseTask(tk.ID) {
		t.Error("expected PauseTask to succeed on a running task")
	}
	if !tk.Paused() {
		t.Error("expected Paused() to be true")
	}

	tk.Transition(task.StatusPaused)
	if !s.ResumeTask(tk.ID) {
		t.Error("expected ResumeTask to succeed on a paused task")
	}
	if tk.Status() != task.StatusPending {
		t.Errorf("Status() = %v, want %v", tk.Status(), task.StatusPending)
	}
	if tk.Paused() {
		t.Error("expected Paused() to be false after resume")
	}

	tk.Transition(task.StatusRunning)
	if !tk.Transition(task.StatusFailed) {
		t.Fatal("running -> failed should be legal")
	}
	if !s.RestartTask(tk.ID) {
		t.Error("expected RestartTask to succeed on a failed task")
	}
	if tk.Status() != task.StatusPending {
		t.Errorf("Status() = %v, want %v", tk.Status(), task.StatusPending)
	}
}

func TestCancelTaskFromPendingAndRunning(t *testing.T) {
	s := newTestScheduler()

	t1 := task.New(task.KindUpload, task.EngineSFTP, "/a", "/b", 10)
	s.AddTask(t1, sites.SiteConfig{}, sftpengine.Auth{})
	if !s.CancelTask(t1.ID) {
		t.Error("expected CancelTask to succeed on a pending task")
	}
	if t1.Status() != task.StatusCanceled {
		t.Errorf("Status() = %v, want %v", t1.Status(), task.StatusCanceled)
	}

	t2 := task.New(task.KindUpload, task.EngineSFTP, "/a", "/b", 10)
	s.AddTask(t2, sites.SiteConfig{}, sftpengine.Auth{})
	t2.Transition(task.StatusRunning)
	if !s.CancelTask(t2.ID) {
		t.Error("expected CancelTask to succeed on a running task")
	}
	if !t2.Interrupted() {
		t.Error("expected Interrupted() to be true")
	}
	if t2.Status() != task.StatusRunning { // worker reconciles on next poll
		t.Errorf("Status() = %v, want %v", t2.Status(), task.StatusRunning)
	}
}

type fakeStatter struct {
	entry sftpengine.RemoteEntry
	err   error
}

func (f fakeStatter) Stat(path string) (sftpengine.RemoteEntry, error) {
	return f.entry, f.err
}

func TestPrecheckUploadAbsentRemoteOverwritesFromZero(t *testing.T) {
	skipped, offset, err := precheckUpload(fakeStatter{err: assertErr}, "/remote/path", 123)
	if err != nil {
		t.Fatalf("precheckUpload() error = %v", err)
	}
	if skipped {
		t.Error("expected skipped = false")
	}
	if offset != 0 {
		t.Errorf("offset = %d, want 0", offset)
	}
}

func TestPrecheckUploadMatchingSizeSkips(t *testing.T) {
	skipped, _, err := precheckUpload(fakeStatter{entry: sftpengine.RemoteEntry{Size: 100}}, "/remote/path", 100)
	if err != nil {
		t.Fatalf("precheckUpload() error = %v", err)
	}
	if !skipped {
		t.Error("expected skipped = true when sizes match")
	}
}

func TestPrecheckUploadSmallerRemoteResumes(t *testing.T) {
	skipped, offset, err := precheckUpload(fakeStatter{entry: sftpengine.RemoteEntry{Size: 40}}, "/remote/path", 100)
	if err != nil {
		t.Fatalf("precheckUpload() error = %v", err)
	}
	if skipped {
		t.Error("expected skipped = false")
	}
	if offset != 40 {
		t.Errorf("offset = %d, want 40", offset)
	}
}

func TestPrecheckUploadLargerRemoteOverwritesFromZero(t *testing.T) {
	skipped, offset, err := precheckUpload(fakeStatter{entry: sftpengine.RemoteEntry{Size: 200}}, "/remote/path", 100)
	if err != nil {
		t.Fatalf("precheckUpload() error = %v", err)
	}
	if skipped {
		t.Error("expected skipped = false")
	}
	if offset != 0 {
		t.Errorf("offset = %d, want 0", offset)
	}
}

func TestPrecheckDownloadAbsentLocalOverwritesFromZero(t *testing.T) {
	skipped, offset, err := precheckDownload("/definitely/not/here/sshferry-test", 500)
	if err != nil {
		t.Fatalf("precheckDownload() error = %v", err)
	}
	if skipped {
		t.Error("expected skipped = false")
	}
	if offset != 0 {
		t.Errorf("offset = %d, want 0", offset)
	}
}
