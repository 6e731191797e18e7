package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogWriters(t *testing.T) {
	defer SetLogWriters(LogWriters{})

	var ops, diag bytes.Buffer
	SetLogWriters(LogWriters{Ops: &ops, Diag: &diag})

	Opsf("skipped frame %s", "1700000000")
	Warnf("missing segment for %s", "1700000001")
	Diagf("frame %d has %d points", 3, 128)
	Tracef("this stream is muted")

	if !strings.Contains(ops.String(), "skipped frame 1700000000") {
		t.Errorf("ops output = %q, want skipped frame line", ops.String())
	}
	if !strings.Contains(ops.String(), "WARN") {
		t.Errorf("ops output = %q, want a WARN entry", ops.String())
	}
	if !strings.Contains(diag.String(), "frame 3 has 128 points") {
		t.Errorf("diag output = %q, want frame line", diag.String())
	}
}

func TestDisabledStreams(t *testing.T) {
	tests := []struct {
		name string
		log  func(string, ...interface{})
	}{
		{"ops", Opsf},
		{"warn", Warnf},
		{"diag", Diagf},
		{"trace", Tracef},
	}

	SetLogWriters(LogWriters{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// must not panic when muted
			tt.log("value %d", 1)
		})
	}
	Sync()
}
