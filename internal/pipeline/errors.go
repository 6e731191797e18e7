// Package pipeline holds the error taxonomy and run results shared by the
// dataset stages.
package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every reported Issue wraps exactly one of these so callers can
// classify with errors.Is.
var (
	// ErrSourceFormat marks malformed or unrecognised input: bad
	// deserialisation, missing arrays, wrong shapes.
	ErrSourceFormat = errors.New("source format error")
	// ErrReference marks an index, key, or filename token that cannot be
	// resolved to the entity it names.
	ErrReference = errors.New("reference resolution error")
	// ErrIO marks a filesystem access failure.
	ErrIO = errors.New("io error")
	// ErrInvariant marks a violated dataset invariant such as unequal
	// coord/strength/segment lengths or NaN values.
	ErrInvariant = errors.New("invariant violation")
)

// Issue is one skipped unit of work (record, frame, or figure) together with
// enough context to locate the offending source data.
type Issue struct {
	Kind      error
	Stage     string
	Path      string
	Timestamp string
	Index     *int
	Err       error
}

// Error implements error.
func (i *Issue) Error() string {
	var b strings.Builder
	if i.Stage != "" {
		b.WriteString(i.Stage)
		b.WriteString(": ")
	}
	if i.Kind != nil {
		b.WriteString(i.Kind.Error())
	} else {
		b.WriteString("error")
	}
	if i.Timestamp != "" {
		fmt.Fprintf(&b, " timestamp=%s", i.Timestamp)
	}
	if i.Index != nil {
		fmt.Fprintf(&b, " index=%d", *i.Index)
	}
	if i.Path != "" {
		fmt.Fprintf(&b, " path=%s", i.Path)
	}
	if i.Err != nil {
		b.WriteString(": ")
		b.WriteString(i.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (i *Issue) Unwrap() []error {
	out := make([]error, 0, 2)
	if i.Kind != nil {
		out = append(out, i.Kind)
	}
	if i.Err != nil {
		out = append(out, i.Err)
	}
	return out
}

// KindName returns a short stable name for the issue kind, used in the
// catalog and in tables.
func (i *Issue) KindName() string {
	switch {
	case errors.Is(i.Kind, ErrSourceFormat):
		return "source_format"
	case errors.Is(i.Kind, ErrReference):
		return "reference"
	case errors.Is(i.Kind, ErrIO):
		return "io"
	case errors.Is(i.Kind, ErrInvariant):
		return "invariant"
	default:
		return "unknown"
	}
}

// IntPtr returns a pointer to v, for populating Issue.Index.
func IntPtr(v int) *int { return &v }

// KindOf returns the sentinel kind wrapped by err, or fallback when err
// carries none.
func KindOf(err error, fallback error) error {
	for _, kind := range []error{ErrSourceFormat, ErrReference, ErrIO, ErrInvariant} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return fallback
}
