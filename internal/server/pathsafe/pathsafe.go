// Package pathsafe validates and normalizes client-supplied relative paths
// and filenames before anything touches storage.
package pathsafe

import (
	"strings"
)

const (
	// MaxPathLength bounds a relative path such as "photos/2024/a.jpg".
	MaxPathLength = 500
	// MaxFilenameLength bounds a single path segment.
	MaxFilenameLength = 255
)

// Normalize converts backslashes to forward slashes, strips leading slashes
// and drops ".", "..", and empty segments. The result is never absolute and
// never climbs out of its root, even for input Validate would reject.
func Normalize(raw string) string {
	p := strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/")
	p = strings.TrimLeft(p, "/")

	segs := strings.Split(p, "/")
	out := segs[:0]
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			continue
		}
		out = append(out, s)
	}
	return strings.Join(out, "/")
}

// Validate reports whether p is an acceptable relative path as sent by the
// client: no backslashes, no absolute prefix, no ".." segment, no control
// bytes, and at most MaxPathLength bytes.
func Validate(p string) bool {
	if p == "" || len(p) > MaxPathLength {
		return false
	}
	if strings.Contains(p, "\\") {
		return false
	}
	if isAbsolute(p) {
		return false
	}
	if hasControl(p) {
		return false
	}
	for _, s := range strings.Split(p, "/") {
		if s == ".." {
			return false
		}
		if len(s) > MaxFilenameLength {
			return false
		}
	}
	return true
}

// ValidateFilename reports whether name is a usable bare filename.
func ValidateFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if len(name) > MaxFilenameLength {
		return false
	}
	if strings.ContainsAny(name, "/\\") {
		return false
	}
	return !hasControl(name)
}

func isAbsolute(p string) bool {
	if strings.HasPrefix(p, "/") {
		return true
	}
	// Windows drive prefix, e.g. "C:" or "c:/x".
	if len(p) >= 2 && p[1] == ':' {
		c := p[0]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			return true
		}
	}
	return false
}

func hasControl(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == 0x7F {
			return true
		}
	}
	return false
}
