package sandbox

import (
	"errors"
	"testing"

	"github.com/sshferry/sshferry/internal/taxonomy"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"//a/./b/../c//": "/a/c",
		"":                "/",
		"/":               "/",
		"/etc":            "/etc",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, p := range []string{"//a/./b/../c//", "/a/b", "/", "/a/../../b"} {
		once := Normalize(p)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("normalize must be idempotent for %q: got %q then %q", p, once, twice)
		}
		if len(once) == 0 || once[0] != '/' {
			t.Errorf("Normalize(%q) = %q, must be absolute", p, once)
		}
	}
}

func TestEnsureInSandbox(t *testing.T) {
	if err := EnsureInSandbox("/a/b/c", "/a/b"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := EnsureInSandbox("/a/b", "/a/b"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err := EnsureInSandbox("/a/b-other", "/a/b")
	if err == nil {
		t.Fatal("expected an error for a sibling path outside the sandbox")
	}
	var taxErr *taxonomy.Error
	if !errors.As(err, &taxErr) {
		t.Fatalf("expected a *taxonomy.Error, got %T", err)
	}
	if taxErr.Kind != taxonomy.ValidationFailed {
		t.Errorf("Kind = %v, want %v", taxErr.Kind, taxonomy.ValidationFailed)
	}

	if err := EnsureInSandbox("/a/b/../c", "/a/b"); err == nil {
		t.Error("expected an error for a path that escapes via ..")
	}
	if err := EnsureInSandbox("/root/autodl-tmp/data", "/root/autodl-tmp"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := EnsureInSandbox("/etc", "/root/autodl-tmp"); err == nil {
		t.Error("expected an error for a path outside the sandbox root")
	}
}

func TestJoin(t *testing.T) {
	if got := Join("/a", "b", "c"); got != "/a/b/c" {
		t.Errorf("Join(/a, b, c) = %q, want /a/b/c", got)
	}
	if got := Join("/a/b", "/c"); got != "/c" {
		t.Errorf("Join(/a/b, /c) = %q, want /c", got)
	}
}

func TestParentBasename(t *testing.T) {
	if got := Parent("/a/b/c"); got != "/a/b" {
		t.Errorf("Parent(/a/b/c) = %q, want /a/b", got)
	}
	if got := Parent("/"); got != "" {
		t.Errorf("Parent(/) = %q, want empty", got)
	}
	if got := Basename("/a/b/c"); got != "c" {
		t.Errorf("Basename(/a/b/c) = %q, want c", got)
	}
	if got := Basename("/"); got != "/" {
		t.Errorf("Basename(/) = %q, want /", got)
	}
}
