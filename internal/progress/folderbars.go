package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

// Direction distinguishes a folder upload from a folder download so a
// FileBar can pick the right arrow and verb.
type Direction int

const (
	DirectionUpload Direction = iota
	DirectionDownload
)

// FolderBars manages one mpb.Progress with one bar per file in a folder
// transfer, so concurrently-transferring files each get their own line.
// Grounded on the teacher's internal/progress/uploadui.go and
// downloadui.go, which carried near-identical upload-only and
// download-only variants of this type; merged here into one
// direction-parameterized type since a folder transfer can run either
// way under the same Scheduler worker-execution path.
type FolderBars struct {
	progress   *mpb.Progress
	bars       sync.Map // local path -> *FileBar
	isTerminal bool
	totalFiles int
	completed  int32
}

// FileBar is a single file's line within a FolderBars.
type FileBar struct {
	bar        *mpb.Bar
	ui         *FolderBars
	index      int
	localPath  string
	remotePath string
	direction  Direction
	size       int64
	retries    int32
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
}

// NewFolderBars creates a multi-bar progress UI for a folder transfer of
// totalFiles files.
func NewFolderBars(totalFiles int) *FolderBars {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))

	var p *mpb.Progress
	if isTerminal {
		enableWindowsANSI(os.Stderr)
		p = mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(100),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &FolderBars{progress: p, isTerminal: isTerminal, totalFiles: totalFiles}
}

// AddFileBar starts tracking one file within the folder transfer.
func (u *FolderBars) AddFileBar(index int, localPath, remotePath string, size int64, direction Direction) *FileBar {
	fb := &FileBar{
		ui:         u,
		index:      index,
		localPath:  localPath,
		remotePath: remotePath,
		direction:  direction,
		size:       size,
		startTime:  time.Now(),
		lastUpdate: time.Now(),
	}

	arrow := "→"
	shown := truncatePath(localPath, 2)
	other := remotePath
	if direction == DirectionDownload {
		arrow = "←"
	}

	if u.isTerminal {
		fb.bar = u.progress.New(size,
			mpb.BarStyle().
				Lbound("[").
				Filler("█").
				Tip("█").
				Padding("░").
				Rbound("]"),
			mpb.PrependDecorators(
				decor.Any(func(s decor.Statistics) string {
					retries := atomic.LoadInt32(&fb.retries)
					base := fmt.Sprintf("[%d/%d] %s (%.1f MiB) %s %s",
						fb.index, u.totalFiles, shown, float64(size)/(1024*1024), arrow, other)
					if retries > 0 {
						return fmt.Sprintf("%s (retry %d)", base, retries)
					}
					return base
				}, decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
				decor.Name("  "),
				decor.Percentage(decor.WCSyncSpace),
				decor.Name("  "),
				decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 30, decor.WCSyncSpace),
				decor.Name("  "),
				decor.Name("ETA ", decor.WCSyncWidth),
				decor.EwmaETA(decor.ET_STYLE_GO, 30),
			),
			mpb.BarRemoveOnComplete(),
		)
	} else {
		verb := "Uploading"
		if direction == DirectionDownload {
			verb = "Downloading"
		}
		fmt.Printf("%s [%d/%d]: %s (%.1f MiB) %s %s\n", verb, index, u.totalFiles, shown, float64(size)/(1024*1024), arrow, other)
	}

	u.bars.Store(localPath, fb)
	return fb
}

// UpdateProgress updates the bar from a 0.0-1.0 completion fraction,
// throttled to a 300ms minimum so EWMA speed/ETA stay smooth.
func (f *FileBar) UpdateProgress(fraction float64) {
	if fraction < 0 {
		f.startTime = time.Now()
		return
	}
	if f.bar == nil {
		return
	}

	now := time.Now()
	elapsed := now.Sub(f.lastUpdate)
	currentBytes := int64(fraction * float64(f.size))
	bytesDelta := currentBytes - f.lastBytes

	const updateInterval = 300 * time.Millisecond
	if elapsed >= updateInterval {
		f.bar.EwmaIncrBy(int(bytesDelta), elapsed)
		f.lastBytes = currentBytes
		f.lastUpdate = now
	}
}

// SetRetry records a retry count against this file's bar.
func (f *FileBar) SetRetry(count int) {
	atomic.StoreInt32(&f.retries, int32(count))
	if f.bar != nil && count > 0 {
		f.bar.SetRefill(f.lastBytes)
	}
}

// Complete marks the file done or failed and prints a one-line summary.
func (f *FileBar) Complete(err error) {
	elapsed := time.Since(f.startTime)
	speed := float64(f.size) / elapsed.Seconds() / (1024 * 1024)
	arrow := "→"
	if f.direction == DirectionDownload {
		arrow = "←"
	}

	var msg string
	if err == nil {
		if f.bar != nil {
			f.bar.SetCurrent(f.size)
			f.bar.SetTotal(f.size, true)
		}
		msg = fmt.Sprintf("✓ %s %s %s (%.1f MiB, %s, %.1f MiB/s)\n",
			truncatePath(f.localPath, 2), arrow, f.remotePath, float64(f.size)/(1024*1024), elapsed.Round(time.Second), speed)
	} else {
		if f.bar != nil {
			f.bar.Abort(false)
		}
		retries := atomic.LoadInt32(&f.retries)
		msg = fmt.Sprintf("✗ %s %s %s: %v (after %d retries)\n",
			truncatePath(f.localPath, 2), arrow, f.remotePath, err, retries)
	}

	if f.ui.isTerminal && f.ui.progress != nil {
		f.ui.progress.Write([]byte(msg))
	} else {
		fmt.Print(msg)
	}

	atomic.AddInt32(&f.ui.completed, 1)
}

// Wait blocks until every bar has completed or aborted.
func (u *FolderBars) Wait() {
	if u.progress != nil {
		u.progress.Wait()
	}
}

// Completed returns the number of files that have finished (success or
// failure).
func (u *FolderBars) Completed() int {
	return int(atomic.LoadInt32(&u.completed))
}

// Writer returns an io.Writer safe to print through without corrupting the
// active bars.
func (u *FolderBars) Writer() io.Writer {
	if u.progress != nil && u.isTerminal {
		return u.progress
	}
	return os.Stderr
}

// IsTerminal reports whether bars are actually being drawn.
func (u *FolderBars) IsTerminal() bool {
	return u.isTerminal
}

func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return filepath.Base(path)
	}
	relevant := parts[len(parts)-maxComponents:]
	return "…/" + strings.Join(relevant, "/")
}
