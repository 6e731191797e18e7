// Package source defines the sensor message stream consumed by the frame
// extractor, and the decoded point-cloud record it produces.
package source

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
)

// Record is one timestamped message from a capture. Topic and MsgType come
// from the record's own connection, so filtering never depends on a global
// connection table.
type Record struct {
	Timestamp int64 // nanoseconds
	Topic     string
	MsgType   string
	Data      []byte
	// Err is set when the capture holds the record but its payload could
	// not be read. Consumers report it and skip the record.
	Err error
}

// Source yields records in capture order. Next returns io.EOF once the
// capture is exhausted.
type Source interface {
	Next(ctx context.Context) (Record, error)
	Close() error
}

// PointRecord is a decoded point cloud: one float64 slice per field, all of
// equal length.
type PointRecord struct {
	Fields   []string
	Channels map[string][]float64
}

// NewPointRecord creates an empty record with the given field order.
func NewPointRecord(fields ...string) *PointRecord {
	pr := &PointRecord{Fields: append([]string(nil), fields...), Channels: make(map[string][]float64, len(fields))}
	for _, f := range fields {
		pr.Channels[f] = nil
	}
	return pr
}

// Len returns the number of points.
func (p *PointRecord) Len() int {
	if p == nil || len(p.Fields) == 0 {
		return 0
	}
	return len(p.Channels[p.Fields[0]])
}

// Channel returns the values of one field and whether it exists.
func (p *PointRecord) Channel(name string) ([]float64, bool) {
	v, ok := p.Channels[name]
	return v, ok
}

// Validate checks that every field has a channel of the same length.
func (p *PointRecord) Validate() error {
	n := p.Len()
	for _, f := range p.Fields {
		ch, ok := p.Channels[f]
		if !ok {
			return fmt.Errorf("%w: field %q has no channel", pipeline.ErrSourceFormat, f)
		}
		if len(ch) != n {
			return fmt.Errorf("%w: field %q has %d values, expected %d", pipeline.ErrSourceFormat, f, len(ch), n)
		}
	}
	return nil
}

// DropNaN removes every point with a NaN in any channel, preserving order,
// and returns the number of points removed.
func (p *PointRecord) DropNaN() int {
	n := p.Len()
	keep := make([]bool, n)
	kept := 0
	for i := 0; i < n; i++ {
		keep[i] = true
		for _, f := range p.Fields {
			if math.IsNaN(p.Channels[f][i]) {
				keep[i] = false
				break
			}
		}
		if keep[i] {
			kept++
		}
	}
	if kept == n {
		return 0
	}
	for _, f := range p.Fields {
		src := p.Channels[f]
		dst := make([]float64, 0, kept)
		for i, v := range src {
			if keep[i] {
				dst = append(dst, v)
			}
		}
		p.Channels[f] = dst
	}
	return n - kept
}

// Decoder turns a message payload into a point cloud.
type Decoder interface {
	Decode(data []byte, msgType string) (*PointRecord, error)
}

// DecodeFunc adapts a function to the Decoder interface.
type DecodeFunc func(data []byte, msgType string) (*PointRecord, error)

// Decode calls f.
func (f DecodeFunc) Decode(data []byte, msgType string) (*PointRecord, error) {
	return f(data, msgType)
}

// Registry maps message types to decoders. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// Register adds or replaces the decoder for msgType.
func (r *Registry) Register(msgType string, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[msgType] = d
}

// Lookup returns the decoder for msgType.
func (r *Registry) Lookup(msgType string) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decoders[msgType]
	return d, ok
}

// Types returns the registered message types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.decoders))
	for k := range r.decoders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Decode dispatches to the decoder registered for msgType.
func (r *Registry) Decode(data []byte, msgType string) (*PointRecord, error) {
	d, ok := r.Lookup(msgType)
	if !ok {
		return nil, fmt.Errorf("%w: no decoder for message type %q", pipeline.ErrSourceFormat, msgType)
	}
	return d.Decode(data, msgType)
}

// SliceSource replays a fixed list of records.
type SliceSource struct {
	records []Record
	pos     int
	closed  bool
}

// NewSliceSource creates a source over records.
func NewSliceSource(records ...Record) *SliceSource {
	return &SliceSource{records: records}
}

// Next returns the next record or io.EOF.
func (s *SliceSource) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if s.closed {
		return Record{}, fmt.Errorf("source closed")
	}
	if s.pos >= len(s.records) {
		return Record{}, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

// Close marks the source closed.
func (s *SliceSource) Close() error {
	s.closed = true
	return nil
}
