package cliapp

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sshferry/sshferry/internal/events"
	"github.com/sshferry/sshferry/internal/logging"
	"github.com/sshferry/sshferry/internal/scheduler"
	"github.com/sshferry/sshferry/internal/sites"
)

func TestResolveSiteUnknownReturnsHelpfulError(t *testing.T) {
	dir := t.TempDir()
	store, err := sites.Open(filepath.Join(dir, "sites.json"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	_, err = resolveSite(store, "nope")
	if err == nil {
		t.Fatal("expected an error for an unknown site")
	}
	if !strings.Contains(err.Error(), "site add") {
		t.Errorf("error = %q, want it to mention %q", err.Error(), "site add")
	}
}

func TestResolveSiteFound(t *testing.T) {
	dir := t.TempDir()
	store, err := sites.Open(filepath.Join(dir, "sites.json"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := store.Add(&sites.SiteConfig{
		Name: "build", Host: "h", Port: 22, Username: "u", AuthMethod: sites.AuthPassword,
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	site, err := resolveSite(store, "build")
	if err != nil {
		t.Fatalf("resolveSite() error = %v", err)
	}
	if site.Host != "h" {
		t.Errorf("Host = %q, want %q", site.Host, "h")
	}
}

func TestSubmitQueuedTransferUnknownSiteFails(t *testing.T) {
	dir := t.TempDir()
	store, err := sites.Open(filepath.Join(dir, "sites.json"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	s := scheduler.New(1, events.NewEventBus(0), nil, store, nil)

	qtPath := filepath.Join(dir, "req.json")
	data, _ := json.Marshal(queuedTransfer{Site: "missing", Kind: "mkdir", Dst: "/x"})
	if err := os.WriteFile(qtPath, data, 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := submitQueuedTransfer(s, store, qtPath); err == nil {
		t.Error("expected an error for an unknown site")
	}
}

func TestSubmitQueuedTransferKnownSiteQueues(t *testing.T) {
	dir := t.TempDir()
	store, err := sites.Open(filepath.Join(dir, "sites.json"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := store.Add(&sites.SiteConfig{
		Name: "build", Host: "h", Port: 22, Username: "u", AuthMethod: sites.AuthPassword,
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	s := scheduler.New(1, events.NewEventBus(0), nil, store, nil)

	qtPath := filepath.Join(dir, "req.json")
	data, _ := json.Marshal(queuedTransfer{Site: "build", Kind: "mkdir", Dst: "/x"})
	if err := os.WriteFile(qtPath, data, 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := submitQueuedTransfer(s, store, qtPath); err != nil {
		t.Errorf("submitQueuedTransfer() error = %v", err)
	}
}

func TestPollQueueDirMovesFilesToDoneAndFailed(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "done"), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "failed"), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	store, err := sites.Open(filepath.Join(dir, "sites.json"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := store.Add(&sites.SiteConfig{
		Name: "build", Host: "h", Port: 22, Username: "u", AuthMethod: sites.AuthPassword,
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	s := scheduler.New(1, events.NewEventBus(0), nil, store, nil)

	goodData, _ := json.Marshal(queuedTransfer{Site: "build", Kind: "mkdir", Dst: "/x"})
	if err := os.WriteFile(filepath.Join(dir, "ok.json"), goodData, 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	badData, _ := json.Marshal(queuedTransfer{Site: "missing", Kind: "mkdir", Dst: "/x"})
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), badData, 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	pollQueueDir(s, store, dir, logging.NewDefaultCLILogger())

	if _, err := os.Stat(filepath.Join(dir, "done", "ok.json")); err != nil {
		t.Errorf("expected done/ok.json to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "failed", "bad.json")); err != nil {
		t.Errorf("expected failed/bad.json to exist: %v", err)
	}
}
