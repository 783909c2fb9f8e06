package filter

import "testing"

func TestMatchesIncludeExclude(t *testing.T) {
	cfg := Config{Include: []string{"*.dat"}, Exclude: []string{"debug*"}}

	if !Matches("results.dat", cfg) {
		t.Error("expected results.dat to match include pattern")
	}
	if Matches("debug_results.dat", cfg) {
		t.Error("expected exclude to take precedence over include")
	}
	if Matches("notes.txt", cfg) {
		t.Error("expected notes.txt to be rejected, no matching include pattern")
	}
}

func TestMatchesSearchRequiresAllTerms(t *testing.T) {
	cfg := Config{Search: []string{"results", "final"}}

	if !Matches("run1_results_final.dat", cfg) {
		t.Error("expected file matching both search terms to pass")
	}
	if Matches("run1_results.dat", cfg) {
		t.Error("expected file missing one search term to be rejected")
	}
}

func TestMatchesPathIncludeDoubleStar(t *testing.T) {
	cfg := Config{PathInclude: []string{"run_*/output/**"}}

	if !Matches("run_1/output/a/b/results.dat", cfg) {
		t.Error("expected nested path under run_*/output to match")
	}
	if Matches("run_1/logs/results.dat", cfg) {
		t.Error("expected path outside run_*/output to be rejected")
	}
}

func TestIsZero(t *testing.T) {
	if !(Config{}).IsZero() {
		t.Error("expected empty Config to be zero")
	}
	if (Config{Include: []string{"*.dat"}}).IsZero() {
		t.Error("expected Config with Include set to be non-zero")
	}
}

func TestParsePatternList(t *testing.T) {
	got := ParsePatternList("*.dat, *.txt ,")
	want := []string{"*.dat", "*.txt"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
