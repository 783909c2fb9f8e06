package mscpengine

import (
	"os"
	"testing"
	"time"

	"github.com/sshferry/sshferry/internal/sites"
)

func TestPresetsMatchOriginal(t *testing.T) {
	low, ok := Presets["low"]
	if !ok {
		t.Fatal("expected a low preset")
	}
	if low.Connections != 4 || low.Ahead != 32 || low.MaxStartups != 8 {
		t.Errorf("low preset = %+v, want connections=4 ahead=32 maxStartups=8", low)
	}

	high := Presets["high"]
	if high.Connections != 16 || high.Ahead != 64 || high.Interval != 200*time.Millisecond {
		t.Errorf("high preset = %+v, want connections=16 ahead=64 interval=200ms", high)
	}
}

func TestResolveExplicitPathWins(t *testing.T) {
	dir := t.TempDir()
	fakeBinary := dir + "/mscp"
	if err := os.WriteFile(fakeBinary, []byte("#!/bin/sh\nexit 0\n"), 0755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	site := sites.SiteConfig{MscpPath: fakeBinary}
	path, ok := Resolve(site)
	if !ok || path != fakeBinary {
		t.Errorf("Resolve() = (%q, %v), want (%q, true)", path, ok, fakeBinary)
	}
}

func TestResolveMissingBinary(t *testing.T) {
	site := sites.SiteConfig{MscpPath: "/nonexistent/mscp"}
	if _, ok := Resolve(site); ok {
		t.Error("expected Resolve to fail for a nonexistent explicit path when mscp is also not on PATH")
	}
}

func TestBuildArgsIncludesPresetAndPort(t *testing.T) {
	e := &Engine{path: "/usr/bin/mscp"}
	site := sites.SiteConfig{Port: 2222, KeyPath: "/home/user/.ssh/id_ed25519"}
	args := e.buildArgs(site, Presets["medium"], "", "local.bin", "user@host:remote.bin")

	want := []string{"-n", "8", "-a", "32", "-u", "8", "-I", "0.100", "-P", "2222", "-i", "/home/user/.ssh/id_ed25519", "local.bin", "user@host:remote.bin"}
	if len(args) != len(want) {
		t.Fatalf("buildArgs() = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("buildArgs()[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}
