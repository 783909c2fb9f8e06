package progress

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestProgressReaderTracksBytesRead(t *testing.T) {
	data := bytes.NewReader([]byte("hello world"))
	reporter := &recordingReporter{}
	pr := NewProgressReader(data, int64(data.Len()), reporter)

	buf := make([]byte, 5)
	n, err := pr.Read(buf)

	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if n != 5 {
		t.Errorf("Read() n = %d, want 5", n)
	}
	if !reflect.DeepEqual(reporter.updates, []int64{5}) {
		t.Errorf("updates = %v, want [5]", reporter.updates)
	}
}

func TestNoOpProgressNeverPanics(t *testing.T) {
	p := NewNoOpProgress()
	p.Start(100, "test")
	p.Update(50)
	p.Error(errors.New("boom"))
	p.SetDescription("changed")
	p.Finish()
}

func TestTruncatePathShortensLongPaths(t *testing.T) {
	if got := truncatePath("/a/b/c/d/file.txt", 2); got != "…/c/d/file.txt" {
		t.Errorf("truncatePath() = %q, want %q", got, "…/c/d/file.txt")
	}
	if got := truncatePath("/file.txt", 2); got != "file.txt" {
		t.Errorf("truncatePath() = %q, want %q", got, "file.txt")
	}
}

type recordingReporter struct {
	updates []int64
}

func (r *recordingReporter) Start(total int64, description string) {}
func (r *recordingReporter) Update(current int64)                  { r.updates = append(r.updates, current) }
func (r *recordingReporter) Finish()                                {}
func (r *recordingReporter) Error(err error)                        {}
func (r *recordingReporter) SetDescription(desc string)             {}
