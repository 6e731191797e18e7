package labels

import (
	"sort"
	"strings"
)

// ClassMapper maps annotation class titles to label codes. Titles compare
// case-insensitively; unknown titles map to the default code.
type ClassMapper struct {
	codes       map[string]int64
	defaultCode int64
}

// NewClassMapper maps humanTitle to humanCode and everything else to
// unlabeled.
func NewClassMapper(humanTitle string, humanCode, unlabeled int64) *ClassMapper {
	m := &ClassMapper{codes: make(map[string]int64), defaultCode: unlabeled}
	m.Add(humanTitle, humanCode)
	return m
}

// Add maps an additional class title to code.
func (m *ClassMapper) Add(title string, code int64) {
	m.codes[strings.ToLower(title)] = code
}

// Code returns the label code for a class title.
func (m *ClassMapper) Code(title string) int64 {
	if code, ok := m.codes[strings.ToLower(title)]; ok {
		return code
	}
	return m.defaultCode
}

// Default returns the code of unmapped classes.
func (m *ClassMapper) Default() int64 { return m.defaultCode }

// ManagedCodes is the set of label codes owned by the injector. Before a
// frame's figures are applied every managed code is reset to unlabeled, so
// stale labels from an earlier annotation round disappear while codes from
// other sources survive.
type ManagedCodes map[int64]struct{}

// NewManagedCodes builds a set from codes.
func NewManagedCodes(codes ...int64) ManagedCodes {
	m := make(ManagedCodes, len(codes))
	for _, c := range codes {
		m[c] = struct{}{}
	}
	return m
}

// Contains reports whether code is managed.
func (m ManagedCodes) Contains(code int64) bool {
	_, ok := m[code]
	return ok
}

// Codes returns the managed codes in ascending order.
func (m ManagedCodes) Codes() []int64 {
	out := make([]int64, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Reset replaces every managed code in seg with unlabeled and returns the
// number of labels changed.
func (m ManagedCodes) Reset(seg []int64, unlabeled int64) int {
	n := 0
	for i, v := range seg {
		if v != unlabeled && m.Contains(v) {
			seg[i] = unlabeled
			n++
		}
	}
	return n
}
