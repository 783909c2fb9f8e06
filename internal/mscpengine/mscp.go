// Package mscpengine wraps the external mscp binary as an alternate
// transfer engine, for sites where the operator has mscp installed and
// wants its multi-connection SFTP pipelining instead of this engine's own
// parallel chunk engine. Grounded on original_source/src/engines/
// mscp_engine.py: same preset table (connections/ahead/max-startups/
// interval), same checkpoint-save-and-resume flags (-W/-R), same
// subprocess-with-cancel shape, reimplemented with os/exec and
// context.Context instead of subprocess.Popen/terminate.
package mscpengine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/sshferry/sshferry/internal/logging"
	"github.com/sshferry/sshferry/internal/sites"
	"github.com/sshferry/sshferry/internal/taxonomy"
)

// Preset is a named parameter set for one mscp invocation.
type Preset struct {
	Name        string
	Connections int           // -n
	Ahead       int           // -a
	MaxStartups int           // -u
	Interval    time.Duration // -I
}

// Presets mirrors mscp_engine.py's PRESETS table.
var Presets = map[string]Preset{
	"low":    {Name: "low", Connections: 4, Ahead: 32, MaxStartups: 8},
	"medium": {Name: "medium", Connections: 8, Ahead: 32, MaxStartups: 8, Interval: 100 * time.Millisecond},
	"high":   {Name: "high", Connections: 16, Ahead: 64, MaxStartups: 8, Interval: 200 * time.Millisecond},
}

// DefaultThresholdBytes is the file size above which callers should prefer
// mscp over the sftp engine, mirroring mscp_engine.py's
// DEFAULT_THRESHOLD_BYTES.
const DefaultThresholdBytes = 50 * 1024 * 1024

// Engine wraps a resolved mscp binary.
type Engine struct {
	path string
	log  *logging.Logger
}

// Resolve locates the mscp binary: an explicit path on the site config
// first, then the PATH lookup mscp_engine.py's shutil.which("mscp") falls
// back to. There is no bundled-binary-under-tools/ fallback here — that
// step in the original is installer-specific and has no analogue in a
// single static CLI binary.
func Resolve(site sites.SiteConfig) (string, bool) {
	if site.MscpPath != "" {
		if info, err := os.Stat(site.MscpPath); err == nil && !info.IsDir() {
			return site.MscpPath, true
		}
	}
	if found, err := exec.LookPath("mscp"); err == nil {
		return found, true
	}
	return "", false
}

// New creates an Engine bound to a resolved mscp binary path.
func New(path string, log *logging.Logger) *Engine {
	return &Engine{path: path, log: log}
}

func remoteSpec(site sites.SiteConfig, path string) string {
	return fmt.Sprintf("%s@%s:%s", site.Username, site.Host, path)
}

func (e *Engine) buildArgs(site sites.SiteConfig, preset Preset, checkpointDir, src, dst string) []string {
	args := []string{
		"-n", fmt.Sprintf("%d", preset.Connections),
		"-a", fmt.Sprintf("%d", preset.Ahead),
		"-u", fmt.Sprintf("%d", preset.MaxStartups),
	}
	if preset.Interval > 0 {
		args = append(args, "-I", fmt.Sprintf("%.3f", preset.Interval.Seconds()))
	}
	args = append(args, "-P", fmt.Sprintf("%d", site.Port))
	if site.KeyPath != "" {
		args = append(args, "-i", site.KeyPath)
	}
	if site.ProxyJump != "" {
		args = append(args, "-J", site.ProxyJump)
	}
	if site.SSHConfigPath != "" {
		args = append(args, "-F", site.SSHConfigPath)
	}
	for _, opt := range site.SSHOptions {
		args = append(args, "-o", opt)
	}
	if checkpointDir != "" {
		args = append(args, "-W", checkpointDir)
	}
	return append(args, src, dst)
}

// Upload runs mscp local -> remote under preset, optionally saving a
// checkpoint to checkpointDir (-W) for later Resume.
func (e *Engine) Upload(ctx context.Context, site sites.SiteConfig, password string, local, remote string, preset Preset, checkpointDir string) error {
	if checkpointDir != "" {
		if err := os.MkdirAll(checkpointDir, 0700); err != nil {
			return taxonomy.Wrap(taxonomy.UnknownError, "create mscp checkpoint directory", err)
		}
	}
	args := e.buildArgs(site, preset, checkpointDir, local, remoteSpec(site, remote))
	return e.run(ctx, args, password, "")
}

// Download runs mscp remote -> local under preset.
func (e *Engine) Download(ctx context.Context, site sites.SiteConfig, password string, remote, local string, preset Preset, checkpointDir string) error {
	if checkpointDir != "" {
		if err := os.MkdirAll(checkpointDir, 0700); err != nil {
			return taxonomy.Wrap(taxonomy.UnknownError, "create mscp checkpoint directory", err)
		}
	}
	args := e.buildArgs(site, preset, checkpointDir, remoteSpec(site, remote), local)
	return e.run(ctx, args, password, "")
}

// Resume continues a previously checkpointed transfer (-R).
func (e *Engine) Resume(ctx context.Context, checkpointPath string) error {
	return e.run(ctx, []string{"-R", checkpointPath}, "", checkpointPath)
}

// run launches mscp and blocks until it exits or ctx is canceled, in which
// case the process is killed the same way mscp_engine.py's Cancel()
// terminates it.
func (e *Engine) run(ctx context.Context, args []string, password, cwd string) error {
	cmd := exec.CommandContext(ctx, e.path, args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = os.Environ()
	if password != "" {
		cmd.Env = append(cmd.Env, "MSCP_SSH_AUTH_PASSWORD="+password)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if e.log != nil {
		e.log.Debug().Str("engine", "mscp").Strs("args", args).Msg("mscp invocation")
	}

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return taxonomy.ErrInterrupted
	}
	if e.log != nil {
		e.log.Error().Str("engine", "mscp").Err(err).Str("output", truncate(out.String(), 500)).Msg("mscp exited non-zero")
	}
	return taxonomy.Wrap(taxonomy.TransferFailed, "mscp transfer failed", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
