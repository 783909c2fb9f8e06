// Package sites implements the Site Store: a file-backed name->SiteConfig
// mapping that never persists runtime secrets. Persistence style (atomic
// temp-file-then-rename, platform user-config directory) is grounded on
// internal/config/apiconfig.go; the JSON array shape is grounded on
// internal/config/jobs_json.go's marshal-indent + array convention.
package sites

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// AuthMethod is how a site authenticates.
type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthKey      AuthMethod = "key"
)

// SiteConfig is the persistent identity of a remote target. Password,
// KeyPassphrase are intentionally not part of this struct — they live on
// Credentials, a separate runtime-only type threaded through call sites,
// so they can never accidentally round-trip through json.Marshal here.
type SiteConfig struct {
	Name          string     `json:"name"`
	Host          string     `json:"host"`
	Port          int        `json:"port"`
	Username      string     `json:"username"`
	AuthMethod    AuthMethod `json:"authMethod"`
	RemoteRoot    string     `json:"remoteRoot"`
	KeyPath       string     `json:"keyPath,omitempty"`
	ProxyJump     string     `json:"proxyJump,omitempty"`
	SSHConfigPath string     `json:"sshConfigPath,omitempty"`
	SSHOptions    []string   `json:"sshOptions,omitempty"`

	// MscpPath overrides PATH lookup of the external mscp binary for this
	// site, used only when a transfer explicitly requests the mscp engine.
	MscpPath string `json:"mscpPath,omitempty"`
}

// Credentials holds the secrets a SiteConfig needs at connect time. Never
// serialized alongside SiteConfig; callers obtain these from a prompt,
// keychain, or environment and pass them in at use time only.
type Credentials struct {
	Password      string
	KeyPassphrase string
}

// Validate checks SiteConfig invariants from spec.md §3: name, host,
// username and authMethod are set, port is in 1-65535, and a key-auth site
// has a keyPath. An empty RemoteRoot is set to "/".
func (s *SiteConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("site name is required")
	}
	if s.Host == "" {
		return fmt.Errorf("host is required")
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if s.Username == "" {
		return fmt.Errorf("username is required")
	}
	if s.AuthMethod != AuthPassword && s.AuthMethod != AuthKey {
		return fmt.Errorf("authMethod must be %q or %q", AuthPassword, AuthKey)
	}
	if s.AuthMethod == AuthKey && s.KeyPath == "" {
		return fmt.Errorf("keyPath is required when authMethod is %q", AuthKey)
	}
	if s.RemoteRoot == "" {
		s.RemoteRoot = "/"
	}
	return nil
}

// Store is a file-backed, in-memory-cached mapping from site name to
// SiteConfig. All reads and writes of the map go through a single mutex.
type Store struct {
	mu    sync.RWMutex
	path  string
	sites map[string]*SiteConfig
}

// DefaultStorePath returns sites.json under the OS user-config directory,
// in an "sshferry" subfolder, mirroring apiconfig.go's
// os.UserConfigDir()-based convention.
func DefaultStorePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user config directory: %w", err)
	}
	return filepath.Join(dir, "sshferry", "sites.json"), nil
}

// Open loads the store from path, creating an empty store in memory if the
// file does not yet exist (it is created on first Save).
func Open(path string) (*Store, error) {
	if path == "" {
		var err error
		path, err = DefaultStorePath()
		if err != nil {
			return nil, err
		}
	}

	s := &Store{path: path, sites: make(map[string]*SiteConfig)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read site store: %w", err)
	}

	var records []*SiteConfig
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse site store: %w", err)
	}
	for _, rec := range records {
		if rec.RemoteRoot == "" {
			rec.RemoteRoot = "/"
		}
		s.sites[rec.Name] = rec
	}
	return s, nil
}

// Save persists the store as a JSON array, atomically (temp file + rename),
// including only the fields spec.md §4.3 names as persistable — Password
// and KeyPassphrase are never struct fields here, so there is nothing to
// strip at save time.
func (s *Store) Save() error {
	s.mu.RLock()
	records := make([]*SiteConfig, 0, len(s.sites))
	for _, site := range s.sites {
		records = append(records, site)
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal site store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create site store directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write site store: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save site store: %w", err)
	}
	return nil
}

// Add inserts or replaces a SiteConfig and persists the store.
func (s *Store) Add(site *SiteConfig) error {
	if err := site.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.sites[site.Name] = site
	s.mu.Unlock()
	return s.Save()
}

// Remove deletes a site by name and persists the store.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	_, ok := s.sites[name]
	delete(s.sites, name)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("site not found: %s", name)
	}
	return s.Save()
}

// Get returns a copy of the named site, or false if not found.
func (s *Store) Get(name string) (SiteConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[name]
	if !ok {
		return SiteConfig{}, false
	}
	return *site, true
}

// List returns every site in the store.
func (s *Store) List() []SiteConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SiteConfig, 0, len(s.sites))
	for _, site := range s.sites {
		out = append(out, *site)
	}
	return out
}
