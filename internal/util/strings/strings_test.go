package strings

import "testing"

func TestPluralize(t *testing.T) {
	if got := Pluralize("file", 1); got != "file" {
		t.Errorf("Pluralize(file, 1) = %q, want file", got)
	}
	if got := Pluralize("file", 2); got != "files" {
		t.Errorf("Pluralize(file, 2) = %q, want files", got)
	}
	if got := Pluralize("file", 0); got != "files" {
		t.Errorf("Pluralize(file, 0) = %q, want files", got)
	}
}
