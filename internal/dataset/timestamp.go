package dataset

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/security"
)

// Timestamp is the immutable frame identifier. It is decimal nanoseconds for
// ROS bag and pcap captures, but any token that is a safe single path
// element is accepted.
type Timestamp string

// String implements fmt.Stringer.
func (t Timestamp) String() string { return string(t) }

// ValidateToken rejects empty tokens and tokens that cannot be used verbatim
// as a frame directory name.
func ValidateToken(token string) error {
	if err := security.ValidatePathElement(token); err != nil {
		return fmt.Errorf("%w: invalid timestamp token: %w", pipeline.ErrReference, err)
	}
	return nil
}

// ParseTimestampToken extracts the timestamp token from an extracted array
// filename such as "pointcloud_1693482000123456789.npy". The token is the
// underscore-delimited segment immediately preceding the extension. When
// prefix is non-empty the base name must start with it.
func ParseTimestampToken(filename, prefix string) (Timestamp, error) {
	base := filepath.Base(filename)
	if prefix != "" && !strings.HasPrefix(base, prefix) {
		return "", fmt.Errorf("%w: %q does not start with %q", pipeline.ErrReference, base, prefix)
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	idx := strings.LastIndex(stem, "_")
	if idx < 0 {
		return "", fmt.Errorf("%w: %q has no underscore-delimited timestamp", pipeline.ErrReference, base)
	}
	token := stem[idx+1:]
	if err := ValidateToken(token); err != nil {
		return "", fmt.Errorf("%q: %w", base, err)
	}
	return Timestamp(token), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Less orders timestamps numerically when both are non-negative integers of
// any length, and lexically otherwise. Integer tokens sort before the rest.
func Less(a, b Timestamp) bool {
	as, bs := string(a), string(b)
	ad, bd := isDigits(as), isDigits(bs)
	switch {
	case ad && bd:
		at, bt := strings.TrimLeft(as, "0"), strings.TrimLeft(bs, "0")
		if len(at) != len(bt) {
			return len(at) < len(bt)
		}
		if at != bt {
			return at < bt
		}
		return as < bs
	case ad != bd:
		return ad
	default:
		return as < bs
	}
}

// SortTimestamps sorts ts in place using Less.
func SortTimestamps(ts []Timestamp) {
	sort.SliceStable(ts, func(i, j int) bool { return Less(ts[i], ts[j]) })
}
