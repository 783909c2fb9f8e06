package cliapp

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sshferry/sshferry/internal/connchecker"
	"github.com/sshferry/sshferry/internal/logging"
	"github.com/sshferry/sshferry/internal/sites"
)

// newSiteCmd creates the 'site' command group.
func newSiteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Manage configured SSH/SFTP sites",
		Long: `Commands:
  add     - Add or replace a site
  list    - List configured sites
  remove  - Remove a site
  import  - Add a site from a pasted "ssh user@host" command line
  check   - Run a composite connectivity health check against a site`,
	}

	cmd.AddCommand(newSiteAddCmd())
	cmd.AddCommand(newSiteListCmd())
	cmd.AddCommand(newSiteRemoveCmd())
	cmd.AddCommand(newSiteImportCmd())
	cmd.AddCommand(newSiteCheckCmd())

	return cmd
}

// newSiteCheckCmd runs the TCP -> SSH -> SFTP -> remote-root-readable ->
// remote-root-writable health check sequence and prints a pass/fail report.
func newSiteCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <name>",
		Short: "Test connectivity to a configured site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			site, auth, err := siteAndAuth(args[0])
			if err != nil {
				return err
			}

			results := connchecker.Run(site, auth, GetLogger())
			fmt.Println(connchecker.Summary(results))
			if !connchecker.AllPassed(results) {
				return fmt.Errorf("site %q failed one or more connectivity checks", site.Name)
			}
			fmt.Printf("Site %q is reachable.\n", site.Name)
			return nil
		},
	}
}

func newSiteAddCmd() *cobra.Command {
	var (
		host, username, authMethod, remoteRoot, keyPath, proxyJump, mscpPath string
		port                                                                 int
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add or replace a configured site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadSiteStore()
			if err != nil {
				return fmt.Errorf("failed to open site store: %w", err)
			}

			site := &sites.SiteConfig{
				Name:       args[0],
				Host:       host,
				Port:       port,
				Username:   username,
				AuthMethod: sites.AuthMethod(authMethod),
				RemoteRoot: remoteRoot,
				KeyPath:    keyPath,
				ProxyJump:  proxyJump,
				MscpPath:   mscpPath,
			}
			if err := store.Add(site); err != nil {
				return fmt.Errorf("failed to add site: %w", err)
			}

			GetLogger().Info().Str("site", site.Name).Str("user", logging.RedactUser(site.Username)).Msg("site added")
			fmt.Printf("Site %q added: %s@%s:%d\n", site.Name, site.Username, site.Host, site.Port)
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Remote hostname or IP (required)")
	cmd.Flags().IntVar(&port, "port", 22, "SSH port")
	cmd.Flags().StringVar(&username, "user", "", "SSH username (required)")
	cmd.Flags().StringVar(&authMethod, "auth", string(sites.AuthPassword), "Authentication method: password or key")
	cmd.Flags().StringVar(&remoteRoot, "remote-root", "/", "Sandbox root on the remote site")
	cmd.Flags().StringVar(&keyPath, "key-path", "", "Private key path (required when --auth=key)")
	cmd.Flags().StringVar(&proxyJump, "proxy-jump", "", "ProxyJump host (optional)")
	cmd.Flags().StringVar(&mscpPath, "mscp-path", "", "Path to the mscp binary (optional; overrides PATH lookup for --engine=mscp)")
	cmd.MarkFlagRequired("host")
	cmd.MarkFlagRequired("user")

	return cmd
}

func newSiteListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured sites",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadSiteStore()
			if err != nil {
				return fmt.Errorf("failed to open site store: %w", err)
			}

			siteList := store.List()
			if len(siteList) == 0 {
				fmt.Println("No sites configured. Add one with 'sshferry site add'.")
				return nil
			}

			for _, s := range siteList {
				fmt.Printf("%-20s %s@%s:%d  auth=%s  root=%s\n", s.Name, s.Username, s.Host, s.Port, s.AuthMethod, s.RemoteRoot)
			}
			return nil
		},
	}
}

func newSiteRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a configured site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadSiteStore()
			if err != nil {
				return fmt.Errorf("failed to open site store: %w", err)
			}
			if err := store.Remove(args[0]); err != nil {
				return err
			}
			fmt.Printf("Site %q removed.\n", args[0])
			return nil
		},
	}
}

func newSiteImportCmd() *cobra.Command {
	var (
		remoteRoot, authMethod, keyPath string
	)

	cmd := &cobra.Command{
		Use:   "import <name> <ssh-command>",
		Short: `Add a site from a pasted "ssh [-p port] user@host" command line`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadSiteStore()
			if err != nil {
				return fmt.Errorf("failed to open site store: %w", err)
			}

			host, port, user, err := sites.ParseSSHCommand(args[1])
			if err != nil {
				return fmt.Errorf("failed to parse ssh command: %w", err)
			}

			site := &sites.SiteConfig{
				Name:       args[0],
				Host:       host,
				Port:       port,
				Username:   user,
				AuthMethod: sites.AuthMethod(authMethod),
				RemoteRoot: remoteRoot,
				KeyPath:    keyPath,
			}
			if err := store.Add(site); err != nil {
				return fmt.Errorf("failed to add site: %w", err)
			}

			fmt.Printf("Site %q added from ssh command: %s@%s:%d\n", site.Name, user, host, port)
			return nil
		},
	}

	cmd.Flags().StringVar(&remoteRoot, "remote-root", "/", "Sandbox root on the remote site")
	cmd.Flags().StringVar(&authMethod, "auth", string(sites.AuthPassword), "Authentication method: password or key")
	cmd.Flags().StringVar(&keyPath, "key-path", "", "Private key path (required when --auth=key)")

	return cmd
}

// promptCredentials interactively collects the secret half of a site's
// auth (password, or a key passphrase) without echoing to the terminal.
func promptCredentials(site sites.SiteConfig) (sites.Credentials, error) {
	if site.AuthMethod == sites.AuthKey {
		fmt.Printf("Enter passphrase for key %s (leave blank if none): ", site.KeyPath)
		passBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return sites.Credentials{}, fmt.Errorf("failed to read passphrase: %w", err)
		}
		return sites.Credentials{KeyPassphrase: string(passBytes)}, nil
	}

	fmt.Printf("Password for %s@%s: ", site.Username, site.Host)
	passBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return sites.Credentials{}, fmt.Errorf("failed to read password: %w", err)
	}
	return sites.Credentials{Password: string(passBytes)}, nil
}
