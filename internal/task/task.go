// Package task implements the Task State Machine: the legal transitions
// over {pending, running, paused, done, failed, canceled, skipped} and the
// thread-safe Task type the Scheduler owns, generalized from
// internal/transfer/task.go's RWMutex-guarded field pattern. Speed is a
// cumulative average (see UpdateProgress), not EMA-smoothed.
package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sshferry/sshferry/internal/taxonomy"
	"github.com/sshferry/sshferry/internal/util/filter"
)

// Kind is the operation a Task performs.
type Kind string

const (
	KindUpload         Kind = "upload"
	KindDownload       Kind = "download"
	KindFolderUpload   Kind = "folderUpload"
	KindFolderDownload Kind = "folderDownload"
	KindDelete         Kind = "delete"
	KindMkdir          Kind = "mkdir"
	KindRename         Kind = "rename"
)

// Engine is which transfer engine a Task uses, relevant to upload/download kinds.
type Engine string

const (
	EngineSFTP     Engine = "sftp"
	EngineParallel Engine = "parallel"
	EngineMscp     Engine = "mscp"
)

// Status is a Task's position in the state machine.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
	StatusSkipped  Status = "skipped"
)

// legalTransitions is the exact transition table from spec.md §4.6.
// Restart is handled separately since it applies uniformly from every
// terminal state back to pending.
var legalTransitions = map[Status]map[Status]bool{
	StatusPending: {StatusRunning: true, StatusCanceled: true},
	StatusRunning: {
		StatusDone:     true,
		StatusFailed:   true,
		StatusPaused:   true,
		StatusCanceled: true,
		StatusSkipped:  true,
	},
	// paused -> running is the state machine's abstract transition; the
	// Scheduler's concrete resumeTask control operation (spec.md §4.7)
	// takes the task through paused -> pending and lets the dispatcher
	// re-promote it to running, so pending is legal from paused too.
	StatusPaused: {StatusRunning: true, StatusCanceled: true, StatusPending: true},
}

// terminalStatuses is the set from which only restart may leave.
var terminalStatuses = map[Status]bool{
	StatusDone:     true,
	StatusFailed:   true,
	StatusCanceled: true,
	StatusSkipped:  true,
}

// IsTerminal reports whether s is a terminal status.
func IsTerminal(s Status) bool { return terminalStatuses[s] }

// CanTransition reports whether s -> t is a legal transition per §4.6,
// excluding the restart special case (terminal -> pending), which callers
// should gate on IsTerminal instead.
func CanTransition(s, t Status) bool {
	if next, ok := legalTransitions[s]; ok {
		return next[t]
	}
	return false
}

// Task is the unit of work tracked by the Scheduler. All mutable fields
// are guarded by mu; callers must use the accessor methods rather than
// touching fields directly from outside the owning package.
type Task struct {
	ID     string
	Kind   Kind
	Engine Engine

	Src string
	Dst string

	// SiteName identifies which configured site this task targets; it is
	// copied into Snapshot and not otherwise read by the Scheduler.
	SiteName string

	// Filter restricts which paths a folderUpload/folderDownload walk
	// transfers. Zero value transfers everything.
	Filter filter.Config

	mu sync.RWMutex

	bytesTotal int64
	bytesDone  int64
	speed      float64
	startTime  time.Time
	endTime    time.Time

	subtaskCount int
	subtaskDone  int
	currentFile  string

	interrupted bool
	paused      bool
	skipped     bool

	status       Status
	errorCode    taxonomy.Kind
	errorMessage string

	lastSpeedBytes int64
	lastSpeedTime  time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Task in the pending state with a freshly generated UUID.
func New(kind Kind, engine Engine, src, dst string, bytesTotal int64) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	return &Task{
		ID:         uuid.NewString(),
		Kind:       kind,
		Engine:     engine,
		Src:        src,
		Dst:        dst,
		bytesTotal: bytesTotal,
		status:     StatusPending,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Status returns the current status.
func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// BytesTotal / BytesDone / Speed return progress fields.
func (t *Task) BytesTotal() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bytesTotal
}

func (t *Task) BytesDone() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bytesDone
}

func (t *Task) Speed() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.speed
}

// SetBytesTotal updates the expected total (e.g. once stat resolves it).
func (t *Task) SetBytesTotal(total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bytesTotal = total
}

// Transition moves the task to status s if legal, setting start/end
// timestamps as appropriate. Returns false (no-op) on an illegal
// transition — callers treat that as a programming error, not a retryable
// condition, per spec.md §4.6.
func (t *Task) Transition(s Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !legalTransitions[t.status][s] {
		return false
	}
	t.status = s
	switch s {
	case StatusRunning:
		if t.startTime.IsZero() {
			t.startTime = time.Now()
		}
	case StatusDone, StatusFailed, StatusCanceled, StatusSkipped:
		t.endTime = time.Now()
	}
	return true
}

// Restart resets a terminal task back to pending, clearing bytesDone,
// speed, errorCode, errorMessage, startTime, interrupted, paused, and
// skipped, per spec.md §4.6. Returns false if the task is not terminal.
func (t *Task) Restart() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !terminalStatuses[t.status] {
		return false
	}
	t.status = StatusPending
	t.bytesDone = 0
	t.speed = 0
	t.errorCode = ""
	t.errorMessage = ""
	t.startTime = time.Time{}
	t.endTime = time.Time{}
	t.interrupted = false
	t.paused = false
	t.skipped = false
	t.subtaskDone = 0
	t.lastSpeedBytes = 0
	t.lastSpeedTime = time.Time{}

	ctx, cancel := context.WithCancel(context.Background())
	t.ctx = ctx
	t.cancel = cancel
	return true
}

// UpdateProgress records bytesDone and recomputes speed as the cumulative
// average bytesDone / elapsed-since-start, per spec.md §4.7's "Speed
// calculation" note (preserved deliberately, not instantaneous throughput;
// see DESIGN.md Open Questions).
func (t *Task) UpdateProgress(bytesDone int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if bytesDone > t.bytesTotal {
		bytesDone = t.bytesTotal
	}
	t.bytesDone = bytesDone
	if !t.startTime.IsZero() {
		elapsed := time.Since(t.startTime).Seconds()
		if elapsed > 0 {
			t.speed = float64(bytesDone) / elapsed
		}
	}
}

// SetFolderProgress updates folder-aggregation fields for folderUpload/folderDownload tasks.
func (t *Task) SetFolderProgress(subtaskCount, subtaskDone int, currentFile string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subtaskCount = subtaskCount
	t.subtaskDone = subtaskDone
	t.currentFile = currentFile
}

// FolderProgress returns the folder-aggregation fields.
func (t *Task) FolderProgress() (subtaskCount, subtaskDone int, currentFile string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.subtaskCount, t.subtaskDone, t.currentFile
}

// SetError records errorCode/errorMessage; the caller is still responsible
// for calling Transition(StatusFailed).
func (t *Task) SetError(kind taxonomy.Kind, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorCode = kind
	t.errorMessage = message
}

// Error returns the recorded error kind and message.
func (t *Task) Error() (taxonomy.Kind, string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.errorCode, t.errorMessage
}

// RequestPause sets the paused flag, observed cooperatively by engines
// between chunks/files (spec.md §5).
func (t *Task) RequestPause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
}

// RequestCancel sets the interrupted flag and cancels the task's context.
func (t *Task) RequestCancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interrupted = true
	if t.cancel != nil {
		t.cancel()
	}
}

// ClearControlFlags resets paused/interrupted, used on resume/restart.
func (t *Task) ClearControlFlags() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
	t.interrupted = false
}

// Paused / Interrupted report the cooperative control flags an engine
// must poll between I/O units.
func (t *Task) Paused() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.paused
}

func (t *Task) Interrupted() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.interrupted
}

// MarkSkipped records that the smart pre-check decided to skip this task.
func (t *Task) MarkSkipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skipped = true
}

// Context returns the task's cancellation context for engines to select on.
func (t *Task) Context() context.Context {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ctx
}

// Snapshot is an immutable copy of a Task's externally-visible fields, safe
// to hand to event publishers and CLI renderers without holding the lock.
type Snapshot struct {
	ID           string
	Kind         Kind
	Engine       Engine
	Src, Dst     string
	SiteName     string
	Status       Status
	BytesTotal   int64
	BytesDone    int64
	Speed        float64
	StartTime    time.Time
	EndTime      time.Time
	SubtaskCount int
	SubtaskDone  int
	CurrentFile  string
	ErrorCode    taxonomy.Kind
	ErrorMessage string
}

// Snapshot copies out every field under a single read lock.
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		ID:           t.ID,
		Kind:         t.Kind,
		Engine:       t.Engine,
		Src:          t.Src,
		Dst:          t.Dst,
		SiteName:     t.SiteName,
		Status:       t.status,
		BytesTotal:   t.bytesTotal,
		BytesDone:    t.bytesDone,
		Speed:        t.speed,
		StartTime:    t.startTime,
		EndTime:      t.endTime,
		SubtaskCount: t.subtaskCount,
		SubtaskDone:  t.subtaskDone,
		CurrentFile:  t.currentFile,
		ErrorCode:    t.errorCode,
		ErrorMessage: t.errorMessage,
	}
}
