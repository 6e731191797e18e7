package labels

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/dataset"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/logging"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
)

// FrameMap maps annotation frame indices to the point cloud file names
// they were exported from, such as "pointcloud_1693482000123456789.pcd".
type FrameMap struct {
	names map[int]string
}

// NewFrameMap builds a frame map from index/filename pairs.
func NewFrameMap(names map[int]string) *FrameMap {
	m := &FrameMap{names: make(map[int]string, len(names))}
	for k, v := range names {
		m.names[k] = v
	}
	return m
}

// DecodeFrameMap parses a {"<index>": "<filename>"} document. Keys that are
// not integers can never match a frame index and are dropped with a warning.
func DecodeFrameMap(r io.Reader) (*FrameMap, error) {
	var raw map[string]string
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode frame map: %w", pipeline.ErrSourceFormat, err)
	}
	m := &FrameMap{names: make(map[int]string, len(raw))}
	for k, v := range raw {
		idx, err := strconv.Atoi(k)
		if err != nil {
			logging.Warnf("labels: frame map key %q is not an integer index; ignored", k)
			continue
		}
		m.names[idx] = v
	}
	return m, nil
}

// LoadFrameMap reads and decodes a frame map file.
func LoadFrameMap(path string) (*FrameMap, error) {
	data, err := readBounded(path)
	if err != nil {
		return nil, err
	}
	m, err := DecodeFrameMap(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Len returns the number of mapped indices.
func (m *FrameMap) Len() int { return len(m.names) }

// Indices returns the mapped indices in ascending order.
func (m *FrameMap) Indices() []int {
	out := make([]int, 0, len(m.names))
	for k := range m.names {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// Resolve returns the timestamp of the frame exported at index. It fails
// with ErrReference when the index is unmapped or the file name carries no
// usable timestamp token.
func (m *FrameMap) Resolve(index int) (dataset.Timestamp, error) {
	name, ok := m.names[index]
	if !ok {
		return "", fmt.Errorf("%w: frame index %d not found in frame map", pipeline.ErrReference, index)
	}
	ts, err := dataset.ParseTimestampToken(name, "")
	if err != nil {
		return "", fmt.Errorf("frame index %d: %w", index, err)
	}
	return ts, nil
}
