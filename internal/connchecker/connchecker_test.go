package connchecker

import (
	"strings"
	"testing"

	"github.com/sshferry/sshferry/internal/sftpengine"
	"github.com/sshferry/sshferry/internal/sites"
)

func TestCheckTCPFailsOnClosedPort(t *testing.T) {
	site := sites.SiteConfig{Host: "127.0.0.1", Port: 1}
	result := checkTCP(site)
	if result.Passed {
		t.Error("expected TCP check against a closed port to fail")
	}
	if result.Name != "TCP Connection" {
		t.Errorf("Name = %q, want %q", result.Name, "TCP Connection")
	}
}

func TestAllPassed(t *testing.T) {
	allGood := []Result{{Name: "a", Passed: true}, {Name: "b", Passed: true}}
	if !AllPassed(allGood) {
		t.Error("expected AllPassed to be true when every result passed")
	}

	oneBad := []Result{{Name: "a", Passed: true}, {Name: "b", Passed: false}}
	if AllPassed(oneBad) {
		t.Error("expected AllPassed to be false when a result failed")
	}
}

func TestSummaryFormatsEachResult(t *testing.T) {
	results := []Result{
		{Name: "TCP Connection", Passed: true, Message: "ok"},
		{Name: "SSH Handshake", Passed: false, Message: "denied"},
	}
	summary := Summary(results)
	if !strings.Contains(summary, "[PASS] TCP Connection: ok") {
		t.Errorf("summary missing pass line: %q", summary)
	}
	if !strings.Contains(summary, "[FAIL] SSH Handshake: denied") {
		t.Errorf("summary missing fail line: %q", summary)
	}
}

func TestRunStopsAfterTCPFailure(t *testing.T) {
	site := sites.SiteConfig{Host: "127.0.0.1", Port: 1}
	results := Run(site, sftpengine.Auth{}, nil)
	if len(results) != 1 {
		t.Fatalf("expected Run to stop after the failing TCP check, got %d results", len(results))
	}
}
