package unpack

import (
	"strings"
)

// sanitizePath implements spec.md §4.2 "Path sanitisation". ok is
// false when the entry must be skipped (never entered into the
// manifest); warnMsg, when non-empty, is what the caller should emit
// through its warn sink.
func sanitizePath(name string, strip int) (cleaned string, warnMsg string, ok bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	segments := strings.Split(name, "/")

	if strip > 0 {
		if len(segments) < strip {
			return "", "insufficient path depth for strip", false
		}
		segments = segments[strip:]
	}

	for _, seg := range segments {
		if seg == ".." {
			return "", "path contains '..'", false
		}
	}

	cleaned = strings.Join(segments, "/")

	// Strip a leading POSIX or Windows root; still-absolute paths are
	// admitted with a warning (spec.md §4.2 point 4, and the Open
	// Question in spec.md §9 about whether that is intentional).
	if strings.HasPrefix(cleaned, "/") {
		cleaned = strings.TrimPrefix(cleaned, "/")
		warnMsg = "absolute path stripped of leading '/'"
	} else if isWindowsAbsolute(cleaned) {
		cleaned = stripWindowsRoot(cleaned)
		warnMsg = "absolute path stripped of drive/UNC root"
	}
	if strings.HasPrefix(cleaned, "/") || isWindowsAbsolute(cleaned) {
		if warnMsg == "" {
			warnMsg = "path remains absolute after root stripping"
		}
	}

	return cleaned, warnMsg, true
}

func isWindowsAbsolute(p string) bool {
	if strings.HasPrefix(p, `\\`) || strings.HasPrefix(p, "//") {
		return true
	}
	if len(p) >= 3 && isDriveLetter(p[0]) && p[1] == ':' && (p[2] == '/' || p[2] == '\\') {
		return true
	}
	return false
}

func stripWindowsRoot(p string) string {
	if strings.HasPrefix(p, `\\`) || strings.HasPrefix(p, "//") {
		return strings.TrimLeft(p[2:], `/\`)
	}
	if len(p) >= 3 && isDriveLetter(p[0]) && p[1] == ':' {
		return strings.TrimLeft(p[3:], `/\`)
	}
	return p
}

func isDriveLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
