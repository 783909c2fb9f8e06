package sftpengine

import (
	"errors"
	"testing"

	"github.com/sshferry/sshferry/internal/taxonomy"
)

func TestRemoveDirRecursiveRejectsRoot(t *testing.T) {
	s := New("example.com", 22, "deploy", "/home/deploy", nil)

	err := s.RemoveDirRecursive("/")
	if err == nil {
		t.Fatal("expected an error removing /")
	}
	var taxErr *taxonomy.Error
	if !errors.As(err, &taxErr) {
		t.Fatalf("expected a *taxonomy.Error, got %T", err)
	}
	if taxErr.Kind != taxonomy.ValidationFailed {
		t.Errorf("Kind = %v, want %v", taxErr.Kind, taxonomy.ValidationFailed)
	}
}

func TestRemoveDirRecursiveRejectsRemoteRoot(t *testing.T) {
	s := New("example.com", 22, "deploy", "/home/deploy", nil)

	if err := s.RemoveDirRecursive("/home/deploy"); err == nil {
		t.Error("expected an error removing remoteRoot itself")
	}
}

func TestRemoveDirRecursiveRejectsOutsideSandbox(t *testing.T) {
	s := New("example.com", 22, "deploy", "/home/deploy", nil)

	if err := s.RemoveDirRecursive("/etc"); err == nil {
		t.Error("expected an error removing a path outside the sandbox")
	}
}

func TestHostKey(t *testing.T) {
	s := New("example.com", 2222, "deploy", "/", nil)
	if got := s.HostKey(); got != "deploy@example.com:2222" {
		t.Errorf("HostKey() = %q, want %q", got, "deploy@example.com:2222")
	}
}
