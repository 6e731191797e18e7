// Package security validates untrusted strings before they are used to build
// filesystem paths. Frame timestamp tokens and annotation filenames both come
// from input data and end up as directory names.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// MaxPathElementLen bounds the length of a single path element.
const MaxPathElementLen = 255

// ValidatePathElement checks that s can be used verbatim as one path element:
// non-empty, not "." or "..", no separators, no NUL or control characters,
// and no leading dot (hidden files are reserved for temp files).
func ValidatePathElement(s string) error {
	if s == "" {
		return fmt.Errorf("empty path element")
	}
	if len(s) > MaxPathElementLen {
		return fmt.Errorf("path element too long: %d bytes (max %d)", len(s), MaxPathElementLen)
	}
	if s == "." || s == ".." {
		return fmt.Errorf("path element %q is a relative directory reference", s)
	}
	if strings.HasPrefix(s, ".") {
		return fmt.Errorf("path element %q must not start with a dot", s)
	}
	for _, r := range s {
		if r == '/' || r == '\\' || r == filepath.Separator {
			return fmt.Errorf("path element %q contains a separator", s)
		}
		if r == 0 || unicode.IsControl(r) {
			return fmt.Errorf("path element %q contains a control character", s)
		}
	}
	return nil
}

// ValidatePathWithinRoot checks, lexically, that path does not escape root
// once both are cleaned. It does not touch the filesystem.
func ValidatePathWithinRoot(path, root string) error {
	cleanRoot := filepath.Clean(root)
	rel, err := filepath.Rel(cleanRoot, filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("path is outside root: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", path, root)
	}
	return nil
}

// SanitizeFilename makes a safe filename from an arbitrary string. Characters
// other than ASCII letters, digits, dot, underscore or dash become a single
// underscore, and the result is capped at 128 bytes.
func SanitizeFilename(s string) string {
	if s == "" {
		return "unknown"
	}
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_':
			if !lastUnderscore {
				b.WriteRune(r)
			}
			lastUnderscore = true
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
