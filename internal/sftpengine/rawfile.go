package sftpengine

import (
	"os"

	"github.com/pkg/sftp"

	"github.com/sshferry/sshferry/internal/sandbox"
)

// OpenRemoteForChunks opens path on this session's own sftp.File handle for
// concurrent offset-addressed reads/writes (pkg/sftp's File implements
// io.ReaderAt/io.WriterAt), used exclusively by the Parallel Engine: one
// session, one file handle, one worker goroutine per handle.
func (s *Session) OpenRemoteForChunks(path string, truncateTo int64) (*sftp.File, error) {
	if err := s.checkSandbox(path); err != nil {
		return nil, err
	}
	norm := sandbox.Normalize(path)
	f, err := s.sftpClient.OpenFile(norm, os.O_RDWR|os.O_CREATE)
	if err != nil {
		return nil, translateFileError(err)
	}
	if truncateTo >= 0 {
		if err := f.Truncate(truncateTo); err != nil {
			f.Close()
			return nil, translateFileError(err)
		}
	}
	return f, nil
}

// OpenLocalForChunks opens a local file for concurrent offset-addressed
// reads/writes, pre-sizing it to truncateTo when >= 0 (download side).
func OpenLocalForChunks(path string, truncateTo int64) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if truncateTo >= 0 {
		if err := f.Truncate(truncateTo); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}
