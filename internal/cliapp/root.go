// Package cliapp is sshferry's command-line interface: site management,
// single-shot transfer commands, and a daemon command that runs the
// Scheduler continuously against a queue directory. Command registration,
// the global persistent-flags shape, and Ctrl+C signal handling are
// grounded on the teacher's internal/cli/root.go.
package cliapp

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sshferry/sshferry/internal/appconfig"
	"github.com/sshferry/sshferry/internal/logging"
	"github.com/sshferry/sshferry/internal/sites"
)

var (
	cfgFile   string
	sitesFile string
	verbose   bool

	logger *logging.Logger

	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// Version and BuildTime are set by main at startup.
var (
	Version   = "v0.1.0-dev"
	BuildTime = "dev"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sshferry",
		Short: "Multi-site SSH/SFTP file transfer engine",
		Long: `sshferry ` + Version + ` - Built: ` + BuildTime + `
Transfers files to and from configured SSH/SFTP sites: single-file and
folder transfers, a bounded worker pool, and chunked parallel transfer
for large files over multiple sessions.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefaultCLILogger()
			if verbose {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path (default: OS config dir)")
	rootCmd.PersistentFlags().StringVar(&sitesFile, "sites-file", "", "Site store file path (default: OS config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")

	rootCmd.Version = Version + " (" + BuildTime + ")"

	return rootCmd
}

// Execute runs the CLI, installing Ctrl+C handling that cancels the root
// context every in-flight command derives from.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nreceived signal %v, cancelling...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands registers every subcommand group onto rootCmd.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newSiteCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newRemoveCmd())
	rootCmd.AddCommand(newMkdirCmd())
	rootCmd.AddCommand(newRenameCmd())
	rootCmd.AddCommand(newDaemonCmd())
}

// GetLogger returns the global CLI logger, creating a default one if
// called before PersistentPreRun has run (e.g. from a test).
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the signal-cancellable root context.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// loadSiteStore opens the site store at the --sites-file path, or the
// default location if unset.
func loadSiteStore() (*sites.Store, error) {
	return sites.Open(sitesFile)
}

// loadAppConfig loads sshferry's ambient configuration from the --config
// path, or the default location if unset.
func loadAppConfig() (*appconfig.Config, error) {
	return appconfig.Load(cfgFile)
}

// resolveSite looks up name in the store and returns it, or a helpful
// error naming the 'site add' command.
func resolveSite(store *sites.Store, name string) (sites.SiteConfig, error) {
	site, ok := store.Get(name)
	if !ok {
		return sites.SiteConfig{}, fmt.Errorf("unknown site %q; add it with 'sshferry site add'", name)
	}
	return site, nil
}
