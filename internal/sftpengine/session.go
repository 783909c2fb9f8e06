// Package sftpengine implements one SSH/SFTP session per connection: stat,
// list, mkdir, remove, rename, recursive delete, and single-stream
// upload/download, every path gated by the sandbox package first.
// Connection setup is grounded on tphakala-birdnet-go's
// internal/backup/targets/sftp.go; Connect makes a single attempt with no
// retry, and UploadFile writes the destination in place, not through a
// temp file. The
// connect()/openSFTP() split and accept-any host-key logging are grounded
// on erik123457-fileripper-library's internal/network/session.go.
package sftpengine

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/sshferry/sshferry/internal/logging"
	"github.com/sshferry/sshferry/internal/sandbox"
	"github.com/sshferry/sshferry/internal/taxonomy"
)

// Auth carries the credentials a Session needs at connect time. Exactly
// one of Password or (KeyPath set, KeyPassphrase optional) is used,
// selected by AuthMethod.
type Auth struct {
	AuthMethod    string // "password" or "key"
	Password      string
	KeyPath       string
	KeyPassphrase string
}

// OnProgress is invoked during upload/download; must fire at least once at
// completion.
type OnProgress func(bytesDone, bytesTotal int64)

// CheckInterrupt is polled between I/O chunks; returning true raises
// taxonomy.ErrInterrupted.
type CheckInterrupt func() bool

// Session owns one SSH+SFTP connection. Thread-affinity: a Session must be
// used by at most one logical caller at a time — parallel transfers hold N
// sessions, never one session shared across goroutines.
type Session struct {
	Host string
	Port int
	User string

	RemoteRoot string

	sshClient  *ssh.Client
	sftpClient *sftp.Client
	log        *logging.Logger
}

// New creates an unconnected Session.
func New(host string, port int, user, remoteRoot string, log *logging.Logger) *Session {
	return &Session{Host: host, Port: port, User: user, RemoteRoot: remoteRoot, log: log}
}

// HostKey returns "user@host:port", the key the Scheduler passes to the
// parallel engine's adaptive host worker cap.
func (s *Session) HostKey() string {
	return fmt.Sprintf("%s@%s:%d", s.User, s.Host, s.Port)
}

// Connect opens the SSH transport and the SFTP subsystem, translating
// library errors into taxonomy kinds at this boundary.
func (s *Session) Connect(auth Auth) error {
	var authMethods []ssh.AuthMethod
	switch auth.AuthMethod {
	case "key":
		keyBytes, err := os.ReadFile(auth.KeyPath)
		if err != nil {
			return taxonomy.Wrap(taxonomy.PathNotFound, "read private key", err)
		}
		var signer ssh.Signer
		if auth.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(auth.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return taxonomy.Wrap(taxonomy.AuthFailed, "parse private key", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	default:
		authMethods = append(authMethods, ssh.Password(auth.Password))
	}

	config := &ssh.ClientConfig{
		User:            s.User,
		Auth:            authMethods,
		Timeout:         10 * time.Second,
		HostKeyCallback: s.acceptAnyHostKey,
	}

	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return translateDialError(err)
	}
	s.sshClient = client

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return taxonomy.Wrap(taxonomy.RemoteDisconnect, "open sftp subsystem", err)
	}
	s.sftpClient = sftpClient
	return nil
}

// acceptAnyHostKey implements the accept-on-first-use-equivalent policy
// spec.md §6 explicitly calls for: every host key is accepted, logged at
// Warn level with its SHA-256 fingerprint rather than silently trusted.
// A production deployment should tighten this to known_hosts verification
// or make the policy an explicit SiteConfig field (see DESIGN.md Open
// Questions).
func (s *Session) acceptAnyHostKey(hostname string, remote net.Addr, key ssh.PublicKey) error {
	fingerprint := ssh.FingerprintSHA256(key)
	if s.log != nil {
		s.log.Warn().
			Str("host", hostname).
			Str("fingerprint", fingerprint).
			Msg("accepting host key without verification")
	}
	return nil
}

func translateDialError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"):
		return taxonomy.Wrap(taxonomy.AuthFailed, "ssh authentication failed", err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "i/o timeout"):
		return taxonomy.Wrap(taxonomy.NetworkTimeout, "ssh connect timed out", err)
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no route to host"):
		return taxonomy.Wrap(taxonomy.RemoteDisconnect, "ssh connect failed", err)
	default:
		return taxonomy.Wrap(taxonomy.UnknownError, "ssh connect failed", err)
	}
}

// Disconnect idempotently releases the session.
func (s *Session) Disconnect() error {
	if s.sftpClient != nil {
		_ = s.sftpClient.Close()
		s.sftpClient = nil
	}
	if s.sshClient != nil {
		err := s.sshClient.Close()
		s.sshClient = nil
		return err
	}
	return nil
}

// RemoteEntry is one directory item, per spec.md §3.
type RemoteEntry struct {
	Name  string
	Path  string
	IsDir bool
	Size  int64
	Mtime int64
	Mode  uint32
}

const sModeDir = 0o040000
const sModeMask = 0o170000

func isDir(mode uint32) bool { return mode&sModeMask == sModeDir }

func (s *Session) checkSandbox(path string) error {
	return sandbox.EnsureInSandbox(path, s.RemoteRoot)
}

// ListDir returns the entries of path; ordering is unspecified.
func (s *Session) ListDir(path string) ([]RemoteEntry, error) {
	if err := s.checkSandbox(path); err != nil {
		return nil, err
	}
	norm := sandbox.Normalize(path)
	infos, err := s.sftpClient.ReadDir(norm)
	if err != nil {
		return nil, translateFileError(err)
	}
	out := make([]RemoteEntry, 0, len(infos))
	for _, info := range infos {
		mode := uint32(info.Sys().(*sftp.FileStat).Mode)
		out = append(out, RemoteEntry{
			Name:  info.Name(),
			Path:  sandbox.Join(norm, info.Name()),
			IsDir: isDir(mode),
			Size:  info.Size(),
			Mtime: info.ModTime().Unix(),
			Mode:  mode,
		})
	}
	return out, nil
}

// Stat returns the RemoteEntry for a single path.
func (s *Session) Stat(path string) (RemoteEntry, error) {
	if err := s.checkSandbox(path); err != nil {
		return RemoteEntry{}, err
	}
	norm := sandbox.Normalize(path)
	info, err := s.sftpClient.Stat(norm)
	if err != nil {
		return RemoteEntry{}, translateFileError(err)
	}
	mode := uint32(info.Sys().(*sftp.FileStat).Mode)
	return RemoteEntry{
		Name:  sandbox.Basename(norm),
		Path:  norm,
		IsDir: isDir(mode),
		Size:  info.Size(),
		Mtime: info.ModTime().Unix(),
		Mode:  mode,
	}, nil
}

// Mkdir fails if the directory already exists.
func (s *Session) Mkdir(path string) error {
	if err := s.checkSandbox(path); err != nil {
		return err
	}
	norm := sandbox.Normalize(path)
	if _, err := s.sftpClient.Stat(norm); err == nil {
		return taxonomy.New(taxonomy.ValidationFailed, "directory already exists: "+norm)
	}
	if err := s.sftpClient.Mkdir(norm); err != nil {
		return translateFileError(err)
	}
	return nil
}

// RemoveFile removes a single remote file.
func (s *Session) RemoveFile(path string) error {
	if err := s.checkSandbox(path); err != nil {
		return err
	}
	if err := s.sftpClient.Remove(sandbox.Normalize(path)); err != nil {
		return translateFileError(err)
	}
	return nil
}

// RemoveDir removes an empty remote directory.
func (s *Session) RemoveDir(path string) error {
	if err := s.checkSandbox(path); err != nil {
		return err
	}
	if err := s.sftpClient.RemoveDirectory(sandbox.Normalize(path)); err != nil {
		return translateFileError(err)
	}
	return nil
}

// RemoveDirRecursive deletes a subtree via the SSH exec channel running
// `rm -rf '<path>'`. Safety gate: rejects path == "/" or path ==
// remoteRoot even before the sandbox check, and must also pass the
// sandbox. The single-quoted shell argument is a known weakness preserved
// deliberately (see DESIGN.md Open Questions): a path containing a literal
// `'` corrupts the command.
func (s *Session) RemoveDirRecursive(path string) error {
	norm := sandbox.Normalize(path)
	if norm == "/" || norm == sandbox.Normalize(s.RemoteRoot) {
		return taxonomy.New(taxonomy.ValidationFailed, "refusing to recursively delete root or remoteRoot")
	}
	if err := s.checkSandbox(norm); err != nil {
		return err
	}

	session, err := s.sshClient.NewSession()
	if err != nil {
		return taxonomy.Wrap(taxonomy.RemoteDisconnect, "open exec session", err)
	}
	defer session.Close()

	cmd := fmt.Sprintf("rm -rf '%s'", norm)
	if err := session.Run(cmd); err != nil {
		return taxonomy.Wrap(taxonomy.TransferFailed, "recursive delete failed", err)
	}
	return nil
}

// Rename renames src to dst; both endpoints are sandboxed.
func (s *Session) Rename(src, dst string) error {
	if err := s.checkSandbox(src); err != nil {
		return err
	}
	if err := s.checkSandbox(dst); err != nil {
		return err
	}
	if err := s.sftpClient.Rename(sandbox.Normalize(src), sandbox.Normalize(dst)); err != nil {
		return translateFileError(err)
	}
	return nil
}

// CheckPathReadable is a non-throwing probe.
func (s *Session) CheckPathReadable(path string) bool {
	if err := s.checkSandbox(path); err != nil {
		return false
	}
	_, err := s.sftpClient.Stat(sandbox.Normalize(path))
	return err == nil
}

// CheckPathWritable probes writability with a create-and-delete test file.
func (s *Session) CheckPathWritable(path string) bool {
	if err := s.checkSandbox(path); err != nil {
		return false
	}
	probe := sandbox.Join(path, ".sshferry-write-probe")
	f, err := s.sftpClient.Create(sandbox.Normalize(probe))
	if err != nil {
		return false
	}
	f.Close()
	_ = s.sftpClient.Remove(sandbox.Normalize(probe))
	return true
}

// UploadFile copies local to remote, resuming at offset if > 0.
func (s *Session) UploadFile(local, remote string, onProgress OnProgress, checkInterrupt CheckInterrupt, offset int64) error {
	if err := s.checkSandbox(remote); err != nil {
		return err
	}
	norm := sandbox.Normalize(remote)

	localFile, err := os.Open(local)
	if err != nil {
		return taxonomy.Wrap(taxonomy.PathNotFound, "open local file", err)
	}
	defer localFile.Close()

	info, err := localFile.Stat()
	if err != nil {
		return taxonomy.Wrap(taxonomy.UnknownError, "stat local file", err)
	}
	total := info.Size()

	flags := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	remoteFile, err := s.sftpClient.OpenFile(norm, flags)
	if err != nil {
		return translateFileError(err)
	}
	defer remoteFile.Close()

	if offset > 0 {
		if _, err := localFile.Seek(offset, io.SeekStart); err != nil {
			return taxonomy.Wrap(taxonomy.UnknownError, "seek local file", err)
		}
		if _, err := remoteFile.Seek(offset, io.SeekStart); err != nil {
			return translateFileError(err)
		}
	}

	return copyWithProgress(remoteFile, localFile, offset, total, onProgress, checkInterrupt)
}

// DownloadFile copies remote to local, resuming at offset if > 0.
func (s *Session) DownloadFile(remote, local string, onProgress OnProgress, checkInterrupt CheckInterrupt, offset int64) error {
	if err := s.checkSandbox(remote); err != nil {
		return err
	}
	norm := sandbox.Normalize(remote)

	remoteFile, err := s.sftpClient.Open(norm)
	if err != nil {
		return translateFileError(err)
	}
	defer remoteFile.Close()

	info, err := remoteFile.Stat()
	if err != nil {
		return translateFileError(err)
	}
	total := info.Size()

	flags := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	localFile, err := os.OpenFile(local, flags, 0644)
	if err != nil {
		return taxonomy.Wrap(taxonomy.UnknownError, "open local file", err)
	}
	defer localFile.Close()

	if offset > 0 {
		if _, err := remoteFile.Seek(offset, io.SeekStart); err != nil {
			return translateFileError(err)
		}
		if _, err := localFile.Seek(offset, io.SeekStart); err != nil {
			return taxonomy.Wrap(taxonomy.UnknownError, "seek local file", err)
		}
	}

	return copyWithProgress(localFile, remoteFile, offset, total, onProgress, checkInterrupt)
}

const copyBufSize = 256 * 1024

func copyWithProgress(dst io.Writer, src io.Reader, startAt, total int64, onProgress OnProgress, checkInterrupt CheckInterrupt) error {
	buf := make([]byte, copyBufSize)
	done := startAt
	for {
		if checkInterrupt != nil && checkInterrupt() {
			return taxonomy.ErrInterrupted
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return taxonomy.Wrap(taxonomy.TransferFailed, "write failed", writeErr)
			}
			done += int64(n)
			if onProgress != nil {
				onProgress(done, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return taxonomy.Wrap(taxonomy.TransferFailed, "read failed", readErr)
		}
	}
	if onProgress != nil {
		onProgress(done, total)
	}
	return nil
}

func translateFileError(err error) error {
	if err == nil {
		return nil
	}
	if sftpErr, ok := err.(*sftp.StatusError); ok {
		switch sftpErr.Code {
		case 2: // SSH_FX_NO_SUCH_FILE
			return taxonomy.Wrap(taxonomy.PathNotFound, "remote path not found", err)
		case 3: // SSH_FX_PERMISSION_DENIED
			return taxonomy.Wrap(taxonomy.PermissionDenied, "permission denied", err)
		}
	}
	if os.IsNotExist(err) {
		return taxonomy.Wrap(taxonomy.PathNotFound, "remote path not found", err)
	}
	return taxonomy.Wrap(taxonomy.UnknownError, "sftp operation failed", err)
}

// fingerprintHex is exposed for tests that want to assert on a known key.
func fingerprintHex(key ssh.PublicKey) string {
	sum := sha256.Sum256(key.Marshal())
	return fmt.Sprintf("%x", sum)
}
