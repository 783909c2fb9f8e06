package progress

import "io"

// FolderUI is the interface a folder-transfer command drives; FolderBars is
// its terminal implementation.
type FolderUI interface {
	AddFileBar(index int, localPath, remotePath string, size int64, direction Direction) *FileBar
	Wait()
	Completed() int
	Writer() io.Writer
	IsTerminal() bool
}
