package parallel

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sshferry/sshferry/internal/constants"
	"github.com/sshferry/sshferry/internal/sandbox"
	"github.com/sshferry/sshferry/internal/sftpengine"
	"github.com/sshferry/sshferry/internal/taxonomy"
	"github.com/sshferry/sshferry/internal/util/buffers"
)

// OnProgress is invoked as chunks complete; fires at least once at
// completion.
type OnProgress func(bytesDone, bytesTotal int64)

// CheckInterrupt is polled between chunk dequeues.
type CheckInterrupt func() bool

// SessionFactory produces a new, unconnected session bound to the same
// site; the engine connects it and closes it when the worker exits.
type SessionFactory func() *sftpengine.Session

// Options configures one transfer; zero or negative values fall back to
// the constants package defaults. No SSHFERRY_PARALLEL_* environment
// variable is read, here or by any caller, so those defaults apply
// unless the caller sets a field.
type Options struct {
	Workers           int
	ChunkBytes        int64
	WarmupBatchSize   int
	WarmupDelay       time.Duration
	MaxChunkRetries   int
	HostKey           string
	SingleSessionFunc func(auth sftpengine.Auth) error // delegate for size < chunkBytes
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = constants.PresetMediumWorkers
	}
	if o.ChunkBytes <= 0 {
		o.ChunkBytes = constants.PresetMediumChunkBytes
	}
	if o.WarmupBatchSize <= 0 {
		o.WarmupBatchSize = constants.DefaultWarmupBatchSize
	}
	if o.WarmupDelay <= 0 {
		o.WarmupDelay = constants.DefaultWarmupDelay
	}
	if o.MaxChunkRetries <= 0 {
		o.MaxChunkRetries = constants.DefaultMaxChunkRetries
	}
	return o
}

type chunk struct {
	offset int64
	length int64
}

// sharedState is the lock-guarded counters every worker updates, per
// spec.md §4.5 step 7.
type sharedState struct {
	mu               sync.Mutex
	bytesTransferred int64
	completedChunks  int
	lastReported     int64

	abort       bool
	abortErr    error
	interrupted bool
}

// Upload splits local into fixed-size chunks and writes them concurrently
// over N sessions to remote, per spec.md §4.5's algorithm. Delegates to a
// single-session path when the file is smaller than the chunk size.
func Upload(newSession SessionFactory, auth sftpengine.Auth, remoteRoot, local, remote string, opts Options, onProgress OnProgress, checkInterrupt CheckInterrupt) error {
	opts = opts.withDefaults()

	if err := sandbox.EnsureInSandbox(remote, remoteRoot); err != nil {
		return err
	}
	normRemote := sandbox.Normalize(remote)

	info, err := os.Stat(local)
	if err != nil {
		return taxonomy.Wrap(taxonomy.PathNotFound, "stat local file", err)
	}
	size := info.Size()

	if size < opts.ChunkBytes {
		return delegateSingleSessionUpload(newSession, auth, local, normRemote, onProgress, checkInterrupt)
	}

	initial := newSession()
	if err := initial.Connect(auth); err != nil {
		return err
	}
	remoteFile, err := initial.OpenRemoteForChunks(normRemote, size)
	if err != nil {
		initial.Disconnect()
		return err
	}

	localFile, err := os.Open(local)
	if err != nil {
		remoteFile.Close()
		initial.Disconnect()
		return taxonomy.Wrap(taxonomy.PathNotFound, "open local file", err)
	}

	chunks := buildChunkQueue(size, opts.ChunkBytes)
	state := &sharedState{}
	var connectFailures atomic.Int32

	effectiveWorkers := opts.Workers
	if effectiveWorkers > capFor(opts.HostKey, opts.Workers) {
		effectiveWorkers = capFor(opts.HostKey, opts.Workers)
	}
	if effectiveWorkers > len(chunks) {
		effectiveWorkers = len(chunks)
	}
	if effectiveWorkers < 1 {
		effectiveWorkers = 1
	}

	queue := make(chan chunk, len(chunks))
	for _, c := range chunks {
		queue <- c
	}
	close(queue)

	var wg sync.WaitGroup
	launchWorkersWarmup(effectiveWorkers, opts, func(workerIdx int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runUploadWorker(newSession, auth, normRemote, localFile, queue, state, opts, checkInterrupt, &connectFailures, opts.HostKey, opts.Workers, size, onProgress)
		}()
	})

	wg.Wait()
	localFile.Close()
	remoteFile.Close()
	initial.Disconnect()

	return finalize(state, size, len(chunks))
}

// Download mirrors Upload on the local side.
func Download(newSession SessionFactory, auth sftpengine.Auth, remoteRoot, remote, local string, size int64, opts Options, onProgress OnProgress, checkInterrupt CheckInterrupt) error {
	opts = opts.withDefaults()

	if err := sandbox.EnsureInSandbox(remote, remoteRoot); err != nil {
		return err
	}
	normRemote := sandbox.Normalize(remote)

	if size < opts.ChunkBytes {
		return delegateSingleSessionDownload(newSession, auth, normRemote, local, onProgress, checkInterrupt)
	}

	localFile, err := sftpengine.OpenLocalForChunks(local, size)
	if err != nil {
		return taxonomy.Wrap(taxonomy.UnknownError, "open local file", err)
	}

	chunks := buildChunkQueue(size, opts.ChunkBytes)
	state := &sharedState{}
	var connectFailures atomic.Int32

	effectiveWorkers := opts.Workers
	if effectiveWorkers > capFor(opts.HostKey, opts.Workers) {
		effectiveWorkers = capFor(opts.HostKey, opts.Workers)
	}
	if effectiveWorkers > len(chunks) {
		effectiveWorkers = len(chunks)
	}
	if effectiveWorkers < 1 {
		effectiveWorkers = 1
	}

	queue := make(chan chunk, len(chunks))
	for _, c := range chunks {
		queue <- c
	}
	close(queue)

	var wg sync.WaitGroup
	launchWorkersWarmup(effectiveWorkers, opts, func(workerIdx int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runDownloadWorker(newSession, auth, normRemote, localFile, queue, state, opts, checkInterrupt, &connectFailures, opts.HostKey, opts.Workers, size, onProgress)
		}()
	})

	wg.Wait()
	localFile.Close()

	return finalize(state, size, len(chunks))
}

func buildChunkQueue(size, chunkBytes int64) []chunk {
	var chunks []chunk
	for offset := int64(0); offset < size; offset += chunkBytes {
		length := chunkBytes
		if offset+length > size {
			length = size - offset
		}
		chunks = append(chunks, chunk{offset: offset, length: length})
	}
	return chunks
}

// launchWorkersWarmup launches n workers in batches of opts.WarmupBatchSize
// separated by opts.WarmupDelay, smoothing connection surge per spec.md §4.5
// step 6.
func launchWorkersWarmup(n int, opts Options, launch func(idx int)) {
	launched := 0
	for launched < n {
		batchEnd := launched + opts.WarmupBatchSize
		if batchEnd > n {
			batchEnd = n
		}
		for i := launched; i < batchEnd; i++ {
			launch(i)
		}
		launched = batchEnd
		if launched < n {
			time.Sleep(opts.WarmupDelay)
		}
	}
}

// connectWithRetry dials a fresh session with exponential backoff, per
// spec.md §4.5 step 6(a). On final failure it increments connectFailures
// and may trigger a host-cap degradation.
func connectWithRetry(newSession SessionFactory, auth sftpengine.Auth, connectFailures *atomic.Int32, hostKey string, configuredWorkers int) (*sftpengine.Session, error) {
	backoff := constants.ConnectBackoffBase
	var lastErr error
	for attempt := 0; attempt < constants.ConnectRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		s := newSession()
		if err := s.Connect(auth); err != nil {
			lastErr = err
			continue
		}
		return s, nil
	}

	failures := connectFailures.Add(1)
	if int(failures) >= constants.DegradeAfterFailures {
		degrade(hostKey, configuredWorkers)
	}
	return nil, lastErr
}

func runUploadWorker(newSession SessionFactory, auth sftpengine.Auth, remotePath string, localFile *os.File, queue <-chan chunk, state *sharedState, opts Options, checkInterrupt CheckInterrupt, connectFailures *atomic.Int32, hostKey string, configuredWorkers int, total int64, onProgress OnProgress) {
	session, err := connectWithRetry(newSession, auth, connectFailures, hostKey, configuredWorkers)
	if err != nil {
		return
	}
	defer session.Disconnect()

	remoteFile, err := session.OpenRemoteForChunks(remotePath, -1)
	if err != nil {
		recordAbort(state, err)
		return
	}
	defer remoteFile.Close()

	buf := buffers.Get(int(opts.ChunkBytes))
	defer buffers.Put(buf)

	for {
		if isAborted(state) {
			return
		}
		if checkInterrupt != nil && checkInterrupt() {
			markInterrupted(state)
			return
		}

		select {
		case c, ok := <-queue:
			if !ok {
				return
			}
			processChunkWithRetry(c, opts.MaxChunkRetries, func() error {
				n, readErr := readAt(localFile, (*buf)[:c.length], c.offset)
				if readErr != nil && readErr != io.EOF {
					return taxonomy.Wrap(taxonomy.TransferFailed, "read local chunk", readErr)
				}
				if _, writeErr := remoteFile.WriteAt((*buf)[:n], c.offset); writeErr != nil {
					return taxonomy.Wrap(taxonomy.TransferFailed, "write remote chunk", writeErr)
				}
				return nil
			}, state, c.length, total, opts.ChunkBytes, onProgress)
		case <-time.After(constants.QueuePollTimeout):
			// re-poll abort/interrupt
		}
	}
}

func runDownloadWorker(newSession SessionFactory, auth sftpengine.Auth, remotePath string, localFile *os.File, queue <-chan chunk, state *sharedState, opts Options, checkInterrupt CheckInterrupt, connectFailures *atomic.Int32, hostKey string, configuredWorkers int, total int64, onProgress OnProgress) {
	session, err := connectWithRetry(newSession, auth, connectFailures, hostKey, configuredWorkers)
	if err != nil {
		return
	}
	defer session.Disconnect()

	remoteFile, err := session.OpenRemoteForChunks(remotePath, -1)
	if err != nil {
		recordAbort(state, err)
		return
	}
	defer remoteFile.Close()

	buf := buffers.Get(int(opts.ChunkBytes))
	defer buffers.Put(buf)

	for {
		if isAborted(state) {
			return
		}
		if checkInterrupt != nil && checkInterrupt() {
			markInterrupted(state)
			return
		}

		select {
		case c, ok := <-queue:
			if !ok {
				return
			}
			processChunkWithRetry(c, opts.MaxChunkRetries, func() error {
				n, readErr := remoteFile.ReadAt((*buf)[:c.length], c.offset)
				if readErr != nil && readErr != io.EOF {
					return taxonomy.Wrap(taxonomy.TransferFailed, "read remote chunk", readErr)
				}
				if _, writeErr := localFile.WriteAt((*buf)[:n], c.offset); writeErr != nil {
					return taxonomy.Wrap(taxonomy.TransferFailed, "write local chunk", writeErr)
				}
				return nil
			}, state, c.length, total, opts.ChunkBytes, onProgress)
		case <-time.After(constants.QueuePollTimeout):
		}
	}
}

func readAt(f *os.File, buf []byte, offset int64) (int, error) {
	return f.ReadAt(buf, offset)
}

// processChunkWithRetry retries a chunk op up to maxRetries times; on
// exhaustion it sets a shared abort. On success it updates the shared
// counters under the lock and invokes onProgress when bytesTransferred
// reaches total or has advanced by at least one chunkBytes since the last
// report, per spec.md §4.5 step 7.
func processChunkWithRetry(c chunk, maxRetries int, op func() error, state *sharedState, length, total, chunkBytes int64, onProgress OnProgress) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if isAborted(state) {
			return
		}
		lastErr = op()
		if lastErr == nil {
			state.mu.Lock()
			state.bytesTransferred += length
			state.completedChunks++
			done := state.bytesTransferred
			shouldReport := done == total || done-state.lastReported >= chunkBytes
			if shouldReport {
				state.lastReported = done
			}
			state.mu.Unlock()
			if shouldReport && onProgress != nil {
				onProgress(done, total)
			}
			return
		}
	}
	recordAbort(state, taxonomy.Wrap(taxonomy.TransferFailed, "chunk retries exhausted", lastErr))
}

func isAborted(state *sharedState) bool {
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.abort
}

func recordAbort(state *sharedState, err error) {
	state.mu.Lock()
	defer state.mu.Unlock()
	if !state.abort {
		state.abort = true
		state.abortErr = err
	}
}

func markInterrupted(state *sharedState) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.abort = true
	state.interrupted = true
}

func finalize(state *sharedState, total int64, numChunks int) error {
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.interrupted {
		return taxonomy.ErrInterrupted
	}
	if state.abort && state.abortErr != nil {
		return taxonomy.Wrap(taxonomy.TransferFailed, "parallel transfer aborted", state.abortErr)
	}
	if state.bytesTransferred < total || state.completedChunks < numChunks {
		return taxonomy.New(taxonomy.TransferFailed, "parallel transfer incomplete")
	}
	return nil
}

func delegateSingleSessionUpload(newSession SessionFactory, auth sftpengine.Auth, local, remote string, onProgress OnProgress, checkInterrupt CheckInterrupt) error {
	s := newSession()
	if err := s.Connect(auth); err != nil {
		return err
	}
	defer s.Disconnect()
	return s.UploadFile(local, remote, sftpengine.OnProgress(onProgress), sftpengine.CheckInterrupt(checkInterrupt), 0)
}

func delegateSingleSessionDownload(newSession SessionFactory, auth sftpengine.Auth, remote, local string, onProgress OnProgress, checkInterrupt CheckInterrupt) error {
	s := newSession()
	if err := s.Connect(auth); err != nil {
		return err
	}
	defer s.Disconnect()
	return s.DownloadFile(remote, local, sftpengine.OnProgress(onProgress), sftpengine.CheckInterrupt(checkInterrupt), 0)
}
