// Package sandbox normalizes remote POSIX paths and enforces a per-site
// root outside of which no write, destroy, rename, upload, or download may
// occur. Remote paths are always POSIX regardless of the host OS running
// sshferry, so this package never touches "path/filepath" (which is
// platform-native) and instead hand-rolls POSIX join/clean semantics.
package sandbox

import (
	"strings"

	"github.com/sshferry/sshferry/internal/taxonomy"
)

// Normalize treats path as POSIX, resolves "." and "..", collapses
// duplicate separators, and ensures a leading "/". The result is always
// idempotent: Normalize(Normalize(p)) == Normalize(p).
func Normalize(path string) string {
	segments := strings.Split(path, "/")
	stack := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			// Every remote path sshferry deals with is treated as
			// absolute (rooted at "/" or a site's remoteRoot), so ".."
			// past the top is a no-op rather than an escaped segment.
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}
	return "/" + strings.Join(stack, "/")
}

// Join POSIX-joins parts into a single path. An absolute component
// discards everything accumulated before it.
func Join(parts ...string) string {
	var segments []string
	for _, p := range parts {
		if strings.HasPrefix(p, "/") {
			segments = nil
		}
		if p == "" {
			continue
		}
		segments = append(segments, strings.Trim(p, "/"))
	}
	joined := strings.Join(segments, "/")
	return Normalize("/" + joined)
}

// Parent returns the POSIX parent of path, or "" if path is the root.
func Parent(path string) string {
	norm := Normalize(path)
	if norm == "/" {
		return ""
	}
	idx := strings.LastIndex(norm, "/")
	if idx <= 0 {
		return "/"
	}
	return norm[:idx]
}

// Basename returns the final POSIX path component.
func Basename(path string) string {
	norm := Normalize(path)
	if norm == "/" {
		return "/"
	}
	idx := strings.LastIndex(norm, "/")
	return norm[idx+1:]
}

// EnsureInSandbox fails with ValidationFailed unless Normalize(path) equals
// Normalize(root), or Normalize(path) is a true descendant of
// Normalize(root) (a "/" boundary is required, so "/a/b-other" does not
// pass against root "/a/b").
func EnsureInSandbox(path, root string) error {
	normPath := Normalize(path)
	normRoot := Normalize(root)

	if normPath == normRoot {
		return nil
	}
	prefix := normRoot
	if prefix != "/" {
		prefix += "/"
	}
	if strings.HasPrefix(normPath, prefix) {
		return nil
	}
	return taxonomy.New(taxonomy.ValidationFailed, "path escapes sandbox root: "+path)
}
