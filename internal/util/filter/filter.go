// Package filter provides glob and substring matching for folder transfers,
// letting a folder upload/download skip paths an operator doesn't want.
package filter

import (
	"path/filepath"
	"strings"
)

// Config holds filter configuration for a single folder transfer.
type Config struct {
	// Include patterns (glob-style). Empty means include all.
	// Example: []string{"*.dat", "*.txt"}
	Include []string

	// Exclude patterns (glob-style). Takes precedence over Include.
	// Example: []string{"debug*", "temp*"}
	Exclude []string

	// Search terms (case-insensitive substring match against the base
	// name). A file must match ALL search terms to be included.
	Search []string

	// PathInclude patterns match against the full path relative to the
	// folder root. Supports standard glob patterns plus ** for
	// multi-directory matching.
	// Example: []string{"run_1/*.dat", "run_*/output/*"}
	PathInclude []string
}

// IsZero reports whether cfg has no active filter, letting callers skip
// the walk entirely when nothing was configured.
func (cfg Config) IsZero() bool {
	return len(cfg.Include) == 0 && len(cfg.Exclude) == 0 && len(cfg.Search) == 0 && len(cfg.PathInclude) == 0
}

// Matches reports whether relPath (forward-slash, relative to the folder
// root being transferred) passes cfg.
func Matches(relPath string, cfg Config) bool {
	if cfg.IsZero() {
		return true
	}

	if len(cfg.PathInclude) > 0 && !matchesPathFilter(relPath, cfg.PathInclude) {
		return false
	}

	return matchesNameFilter(filepath.Base(relPath), cfg)
}

// matchesNameFilter checks if a filename matches the filter configuration.
func matchesNameFilter(filename string, cfg Config) bool {
	for _, pattern := range cfg.Exclude {
		if matched, _ := filepath.Match(pattern, filename); matched {
			return false
		}
	}

	if len(cfg.Include) > 0 {
		included := false
		for _, pattern := range cfg.Include {
			if matched, _ := filepath.Match(pattern, filename); matched {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}

	if len(cfg.Search) > 0 {
		lowerFilename := strings.ToLower(filename)
		for _, term := range cfg.Search {
			if !strings.Contains(lowerFilename, strings.ToLower(term)) {
				return false
			}
		}
	}

	return true
}

// matchesPathFilter checks if a file path matches any of the path patterns.
func matchesPathFilter(filePath string, patterns []string) bool {
	filePath = filepath.ToSlash(filePath)
	for _, pattern := range patterns {
		if matchPathPattern(filePath, filepath.ToSlash(pattern)) {
			return true
		}
	}
	return false
}

// matchPathPattern matches a single path against a pattern, supporting
// standard glob patterns plus ** for recursive directory matching.
func matchPathPattern(path, pattern string) bool {
	if strings.Contains(pattern, "**") {
		return matchDoubleStarPattern(path, pattern)
	}
	matched, err := filepath.Match(pattern, path)
	if err != nil {
		return false
	}
	return matched
}

// matchDoubleStarPattern handles ** glob patterns for multi-directory matching.
// Examples:
//   - "**/foo.txt" matches "foo.txt", "a/foo.txt", "a/b/c/foo.txt"
//   - "run_1/**" matches "run_1/anything", "run_1/a/b/c/file.txt"
//   - "run_*/*.dat" matches "run_1/file.dat", "run_5/other.dat"
func matchDoubleStarPattern(path, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") {
		suffix := pattern[3:]
		if matchPathPattern(path, suffix) {
			return true
		}
		parts := strings.Split(path, "/")
		for i := range parts {
			if matchPathPattern(strings.Join(parts[i:], "/"), suffix) {
				return true
			}
		}
		return false
	}

	if strings.HasSuffix(pattern, "/**") {
		prefix := pattern[:len(pattern)-3]
		if strings.HasPrefix(path, prefix+"/") || path == prefix {
			return true
		}
		parts := strings.Split(path, "/")
		for i := 1; i <= len(parts); i++ {
			if matched, _ := filepath.Match(prefix, strings.Join(parts[:i], "/")); matched {
				return true
			}
		}
		return false
	}

	if doubleStar := strings.Index(pattern, "/**/"); doubleStar != -1 {
		prefix := pattern[:doubleStar]
		suffix := pattern[doubleStar+4:]
		parts := strings.Split(path, "/")
		for i := 1; i < len(parts); i++ {
			if matched, _ := filepath.Match(prefix, strings.Join(parts[:i], "/")); matched {
				for j := i; j <= len(parts); j++ {
					if matchPathPattern(strings.Join(parts[j:], "/"), suffix) {
						return true
					}
				}
			}
		}
		return false
	}

	if pattern == "**" {
		return true
	}

	matched, _ := filepath.Match(strings.ReplaceAll(pattern, "**", "*"), path)
	return matched
}

// ParsePatternList parses a comma-separated list of patterns into a slice.
// Example: "*.dat,*.txt" -> []string{"*.dat", "*.txt"}
func ParsePatternList(patternStr string) []string {
	if patternStr == "" {
		return nil
	}
	parts := strings.Split(patternStr, ",")
	patterns := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			patterns = append(patterns, trimmed)
		}
	}
	return patterns
}
