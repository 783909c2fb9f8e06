package cliapp

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sshferry/sshferry/internal/diskspace"
	"github.com/sshferry/sshferry/internal/events"
	"github.com/sshferry/sshferry/internal/metrics"
	"github.com/sshferry/sshferry/internal/pathutil"
	"github.com/sshferry/sshferry/internal/progress"
	"github.com/sshferry/sshferry/internal/scheduler"
	"github.com/sshferry/sshferry/internal/sftpengine"
	"github.com/sshferry/sshferry/internal/sites"
	"github.com/sshferry/sshferry/internal/task"
	"github.com/sshferry/sshferry/internal/util/filter"
	strutil "github.com/sshferry/sshferry/internal/util/strings"
)

// diskSafetyMargin inflates a download's expected size before checking
// free space, covering filesystem block rounding and concurrent writers.
const diskSafetyMargin = 1.05

// newScheduler builds a one-off Scheduler sized for a single CLI
// invocation: appconfig's max_workers bounds the dispatcher, and a
// metrics collector persists outcomes so later transfers benefit from
// the adaptive preset recommendation.
func newScheduler() (*scheduler.Scheduler, error) {
	cfg, err := loadAppConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	store, err := loadSiteStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open site store: %w", err)
	}
	mcol, err := metrics.Open("")
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics store: %w", err)
	}

	bus := events.NewEventBus(0)
	s := scheduler.New(cfg.MaxWorkers, bus, mcol, store, GetLogger())
	s.Start()
	return s, nil
}

// runAndWait submits t, waits for it to reach a terminal status (polling
// every 150ms, matching the teacher's progress-bar throttle interval), and
// drives bar with byte-level progress while it runs. A Ctrl+C cancels t
// rather than killing the process outright.
func runAndWait(s *scheduler.Scheduler, t *task.Task, site sites.SiteConfig, auth sftpengine.Auth, bar progress.Reporter) error {
	if !s.AddTask(t, site, auth) {
		return fmt.Errorf("task %s could not be queued", t.ID)
	}

	bar.Start(t.BytesTotal(), string(t.Kind))

	ctx := GetContext()
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.CancelTask(t.ID)
		case <-ticker.C:
		}

		snap, ok := s.GetTask(t.ID)
		if !ok {
			return fmt.Errorf("task %s vanished from the scheduler", t.ID)
		}
		sn := snap.Snapshot()
		bar.Update(sn.BytesDone)

		if task.IsTerminal(sn.Status) {
			bar.Finish()
			switch sn.Status {
			case task.StatusDone, task.StatusSkipped:
				if sn.SubtaskCount > 0 {
					fmt.Printf("Transferred %d %s.\n", sn.SubtaskCount, strutil.Pluralize("file", int64(sn.SubtaskCount)))
				}
				return nil
			case task.StatusCanceled:
				return fmt.Errorf("transfer canceled")
			default:
				return fmt.Errorf("transfer failed: %s", sn.ErrorMessage)
			}
		}
	}
}

func siteAndAuth(siteName string) (sites.SiteConfig, sftpengine.Auth, error) {
	store, err := loadSiteStore()
	if err != nil {
		return sites.SiteConfig{}, sftpengine.Auth{}, fmt.Errorf("failed to open site store: %w", err)
	}
	site, err := resolveSite(store, siteName)
	if err != nil {
		return sites.SiteConfig{}, sftpengine.Auth{}, err
	}

	creds, err := promptCredentials(site)
	if err != nil {
		return sites.SiteConfig{}, sftpengine.Auth{}, err
	}

	auth := sftpengine.Auth{
		AuthMethod:    string(site.AuthMethod),
		Password:      creds.Password,
		KeyPath:       site.KeyPath,
		KeyPassphrase: creds.KeyPassphrase,
	}
	return site, auth, nil
}

func newUploadCmd() *cobra.Command {
	var site string
	var recursive bool
	var include, exclude, pathInclude string
	var engineFlag string

	cmd := &cobra.Command{
		Use:   "upload <local-path> <remote-path>",
		Short: "Upload a file or, with --recursive, a folder to a site",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			local, remote := args[0], args[1]
			resolved, err := pathutil.ResolveAbsolutePath(local)
			if err != nil {
				return fmt.Errorf("failed to resolve local path: %w", err)
			}
			cfg := filter.Config{
				Include:     filter.ParsePatternList(include),
				Exclude:     filter.ParsePatternList(exclude),
				PathInclude: filter.ParsePatternList(pathInclude),
			}
			return doUpload(site, resolved, remote, recursive, cfg, engineFlag)
		},
	}
	cmd.Flags().StringVarP(&site, "site", "s", "", "Configured site name (required)")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Upload local as a folder")
	cmd.Flags().StringVar(&include, "include", "", "Comma-separated glob patterns; only matching files are uploaded (--recursive only)")
	cmd.Flags().StringVar(&exclude, "exclude", "", "Comma-separated glob patterns to skip (--recursive only)")
	cmd.Flags().StringVar(&pathInclude, "path-include", "", "Comma-separated path patterns (supports **) matched against the relative path")
	cmd.Flags().StringVar(&engineFlag, "engine", "auto", "Transfer engine: auto, sftp, parallel, or mscp (single file only)")
	cmd.MarkFlagRequired("site")

	return cmd
}

func doUpload(siteName, local, remote string, recursive bool, filterCfg filter.Config, engineFlag string) error {
	site, auth, err := siteAndAuth(siteName)
	if err != nil {
		return err
	}

	info, err := os.Stat(local)
	if err != nil {
		return fmt.Errorf("failed to stat local path: %w", err)
	}
	if info.IsDir() && !recursive {
		return fmt.Errorf("%s is a directory; pass --recursive to upload it", local)
	}

	s, err := newScheduler()
	if err != nil {
		return err
	}
	defer s.Stop()

	kind := task.KindUpload
	var engine task.Engine
	if recursive {
		kind = task.KindFolderUpload
		engine = task.EngineSFTP
	} else {
		engine, err = resolveEngine(engineFlag, info.Size())
		if err != nil {
			return err
		}
	}

	t := task.New(kind, engine, local, remote, info.Size())
	t.SiteName = site.Name
	t.Filter = filterCfg

	return runAndWait(s, t, site, auth, progress.NewCLIProgress())
}

// resolveEngine maps the CLI's --engine flag to a task.Engine: "auto"
// keeps the size-threshold auto-selection, "mscp" is only valid for
// single-file transfers (folder tasks always drive the sftp/parallel
// engines file by file).
func resolveEngine(flag string, size int64) (task.Engine, error) {
	switch flag {
	case "", "auto":
		return scheduler.ChooseEngine(size), nil
	case "sftp":
		return task.EngineSFTP, nil
	case "parallel":
		return task.EngineParallel, nil
	case "mscp":
		return task.EngineMscp, nil
	default:
		return "", fmt.Errorf("unknown --engine %q: expected auto, sftp, parallel, or mscp", flag)
	}
}

func newDownloadCmd() *cobra.Command {
	var site string
	var recursive bool
	var include, exclude, pathInclude string
	var engineFlag string

	cmd := &cobra.Command{
		Use:   "download <remote-path> <local-path>",
		Short: "Download a file or, with --recursive, a folder from a site",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, local := args[0], args[1]
			resolved, err := pathutil.ResolveAbsolutePath(local)
			if err != nil {
				return fmt.Errorf("failed to resolve local path: %w", err)
			}
			cfg := filter.Config{
				Include:     filter.ParsePatternList(include),
				Exclude:     filter.ParsePatternList(exclude),
				PathInclude: filter.ParsePatternList(pathInclude),
			}
			return doDownload(site, remote, resolved, recursive, cfg, engineFlag)
		},
	}
	cmd.Flags().StringVarP(&site, "site", "s", "", "Configured site name (required)")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Download remote as a folder")
	cmd.Flags().StringVar(&include, "include", "", "Comma-separated glob patterns; only matching files are downloaded (--recursive only)")
	cmd.Flags().StringVar(&exclude, "exclude", "", "Comma-separated glob patterns to skip (--recursive only)")
	cmd.Flags().StringVar(&pathInclude, "path-include", "", "Comma-separated path patterns (supports **) matched against the relative path")
	cmd.Flags().StringVar(&engineFlag, "engine", "auto", "Transfer engine: auto, sftp, parallel, or mscp (single file only)")
	cmd.MarkFlagRequired("site")

	return cmd
}

func doDownload(siteName, remote, local string, recursive bool, filterCfg filter.Config, engineFlag string) error {
	site, auth, err := siteAndAuth(siteName)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}

	kind := task.KindDownload
	engine := task.EngineSFTP
	if recursive {
		kind = task.KindFolderDownload
	} else {
		engine, err = resolveEngine(engineFlag, 0)
		if err != nil {
			return err
		}
	}

	// Folder downloads don't know their aggregate size until the remote
	// walk completes inside the scheduler, so the space pre-check only
	// runs for single-file transfers.
	if !recursive {
		session := sftpengine.New(site.Host, site.Port, site.Username, site.RemoteRoot, GetLogger())
		if err := session.Connect(auth); err == nil {
			if entry, statErr := session.Stat(remote); statErr == nil {
				if spaceErr := diskspace.CheckAvailableSpace(local, entry.Size, diskSafetyMargin); spaceErr != nil {
					session.Disconnect()
					return spaceErr
				}
			}
			session.Disconnect()
		}
	}

	s, err := newScheduler()
	if err != nil {
		return err
	}
	defer s.Stop()

	t := task.New(kind, engine, remote, local, 0)
	t.SiteName = site.Name
	t.Filter = filterCfg

	return runAndWait(s, t, site, auth, progress.NewCLIProgress())
}

func newRemoveCmd() *cobra.Command {
	var site string

	cmd := &cobra.Command{
		Use:   "rm <remote-path>",
		Short: "Delete a remote file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			site, auth, err := siteAndAuth(site)
			if err != nil {
				return err
			}
			s, err := newScheduler()
			if err != nil {
				return err
			}
			defer s.Stop()

			t := task.New(task.KindDelete, task.EngineSFTP, "", args[0], 0)
			t.SiteName = site.Name
			return runAndWait(s, t, site, auth, progress.NewNoOpProgress())
		},
	}
	cmd.Flags().StringVarP(&site, "site", "s", "", "Configured site name (required)")
	cmd.MarkFlagRequired("site")
	return cmd
}

func newMkdirCmd() *cobra.Command {
	var site string

	cmd := &cobra.Command{
		Use:   "mkdir <remote-path>",
		Short: "Create a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			site, auth, err := siteAndAuth(site)
			if err != nil {
				return err
			}
			s, err := newScheduler()
			if err != nil {
				return err
			}
			defer s.Stop()

			t := task.New(task.KindMkdir, task.EngineSFTP, "", args[0], 0)
			t.SiteName = site.Name
			return runAndWait(s, t, site, auth, progress.NewNoOpProgress())
		},
	}
	cmd.Flags().StringVarP(&site, "site", "s", "", "Configured site name (required)")
	cmd.MarkFlagRequired("site")
	return cmd
}

func newRenameCmd() *cobra.Command {
	var site string

	cmd := &cobra.Command{
		Use:   "mv <remote-src> <remote-dst>",
		Short: "Rename or move a remote path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			site, auth, err := siteAndAuth(site)
			if err != nil {
				return err
			}
			s, err := newScheduler()
			if err != nil {
				return err
			}
			defer s.Stop()

			t := task.New(task.KindRename, task.EngineSFTP, args[0], args[1], 0)
			t.SiteName = site.Name
			return runAndWait(s, t, site, auth, progress.NewNoOpProgress())
		},
	}
	cmd.Flags().StringVarP(&site, "site", "s", "", "Configured site name (required)")
	cmd.MarkFlagRequired("site")
	return cmd
}
