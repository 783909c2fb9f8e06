package cliapp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sshferry/sshferry/internal/logging"
	"github.com/sshferry/sshferry/internal/scheduler"
	"github.com/sshferry/sshferry/internal/sftpengine"
	"github.com/sshferry/sshferry/internal/sites"
	"github.com/sshferry/sshferry/internal/task"
)

// queuedTransfer is the on-disk shape of a task dropped into the queue
// directory for the daemon to pick up, grounded on the teacher's
// daemon.Config/JobFilter JSON-driven daemon configuration, generalized
// from "poll the Rescale API for completed jobs" to "poll a directory for
// transfer requests."
type queuedTransfer struct {
	Site       string `json:"site"`
	Kind       string `json:"kind"`
	Src        string `json:"src"`
	Dst        string `json:"dst"`
	Password   string `json:"password,omitempty"`
	Passphrase string `json:"keyPassphrase,omitempty"`
}

// newDaemonCmd creates the 'daemon' command group.
func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduler continuously against a queue directory",
		Long: `Watches --queue-dir for *.json transfer request files, submits each to
a long-running Scheduler, and moves the file to queue-dir/done once it is
queued, or to queue-dir/failed if it cannot be submitted. The file is
moved before the transfer itself runs.

Press Ctrl+C to stop after in-flight transfers complete.`,
	}
	cmd.AddCommand(newDaemonRunCmd())
	return cmd
}

func newDaemonRunCmd() *cobra.Command {
	var (
		queueDir     string
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start polling the queue directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if queueDir == "" {
				return fmt.Errorf("--queue-dir is required")
			}
			for _, sub := range []string{"", "done", "failed"} {
				if err := os.MkdirAll(filepath.Join(queueDir, sub), 0755); err != nil {
					return fmt.Errorf("failed to prepare queue directory: %w", err)
				}
			}

			store, err := loadSiteStore()
			if err != nil {
				return fmt.Errorf("failed to open site store: %w", err)
			}

			s, err := newScheduler()
			if err != nil {
				return err
			}
			defer s.Stop()

			logger := GetLogger()
			logger.Info().Str("queue_dir", queueDir).Dur("poll_interval", pollInterval).Msg("daemon started")

			ctx := GetContext()
			ticker := time.NewTicker(pollInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					logger.Info().Msg("daemon shutting down")
					return nil
				case <-ticker.C:
					pollQueueDir(s, store, queueDir, logger)
				}
			}
		},
	}

	cmd.Flags().StringVar(&queueDir, "queue-dir", "", "Directory to watch for transfer request files (required)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 5*time.Second, "How often to scan the queue directory")
	cmd.MarkFlagRequired("queue-dir")

	return cmd
}

func pollQueueDir(s *scheduler.Scheduler, store *sites.Store, queueDir string, logger *logging.Logger) {
	entries, err := os.ReadDir(queueDir)
	if err != nil {
		logger.Warnf("failed to read queue directory: %v", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(queueDir, entry.Name())
		if err := submitQueuedTransfer(s, store, path); err != nil {
			logger.Warnf("failed to submit %s: %v", entry.Name(), err)
			moveQueueFile(path, filepath.Join(queueDir, "failed", entry.Name()))
			continue
		}
		logger.Infof("submitted %s", entry.Name())
		moveQueueFile(path, filepath.Join(queueDir, "done", entry.Name()))
	}
}

func submitQueuedTransfer(s *scheduler.Scheduler, store *sites.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var qt queuedTransfer
	if err := json.Unmarshal(data, &qt); err != nil {
		return fmt.Errorf("invalid transfer request: %w", err)
	}

	site, err := resolveSite(store, qt.Site)
	if err != nil {
		return err
	}

	kind := task.Kind(qt.Kind)
	engine := task.EngineSFTP
	if kind == task.KindUpload {
		if info, statErr := os.Stat(qt.Src); statErr == nil {
			engine = scheduler.ChooseEngine(info.Size())
		}
	}

	t := task.New(kind, engine, qt.Src, qt.Dst, 0)
	t.SiteName = site.Name

	auth := sftpengine.Auth{
		AuthMethod:    string(site.AuthMethod),
		Password:      qt.Password,
		KeyPath:       site.KeyPath,
		KeyPassphrase: qt.Passphrase,
	}

	if !s.AddTask(t, site, auth) {
		return fmt.Errorf("task could not be queued")
	}
	return nil
}

func moveQueueFile(src, dst string) {
	_ = os.Rename(src, dst)
}
