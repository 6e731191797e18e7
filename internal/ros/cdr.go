package ros

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/source"
)

// PointCloud2CDRType is the ROS 2 name of PointCloud2, stored as CDR.
const PointCloud2CDRType = "sensor_msgs/msg/PointCloud2"

// CDR encapsulation identifiers (first two bytes of every message).
const (
	cdrBE = 0x00
	cdrLE = 0x01
)

// cdrReader walks a CDR payload. Alignment is relative to the byte after the
// 4-byte encapsulation header. The first failure sticks in err.
type cdrReader struct {
	buf   []byte
	pos   int
	order binary.ByteOrder
	err   error
}

func newCDRReader(data []byte) (*cdrReader, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: CDR message of %d bytes has no encapsulation header", pipeline.ErrSourceFormat, len(data))
	}
	if data[0] != 0 {
		return nil, fmt.Errorf("%w: unsupported CDR encapsulation 0x%02x%02x", pipeline.ErrSourceFormat, data[0], data[1])
	}
	r := &cdrReader{buf: data[4:]}
	switch data[1] {
	case cdrLE:
		r.order = binary.LittleEndian
	case cdrBE:
		r.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: unsupported CDR encapsulation 0x%02x%02x", pipeline.ErrSourceFormat, data[0], data[1])
	}
	return r, nil
}

func (r *cdrReader) align(n int) {
	if m := r.pos % n; m != 0 {
		r.pos += n - m
	}
}

func (r *cdrReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.err = fmt.Errorf("%w: CDR message truncated at byte %d (need %d more)", pipeline.ErrSourceFormat, r.pos, n)
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *cdrReader) uint8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *cdrReader) uint32() uint32 {
	r.align(4)
	if b := r.take(4); b != nil {
		return r.order.Uint32(b)
	}
	return 0
}

// length reads a sequence or string length and rejects lengths the
// remaining payload cannot hold.
func (r *cdrReader) length(elemSize int) int {
	n := int(r.uint32())
	if r.err == nil && n*elemSize > len(r.buf)-r.pos {
		r.err = fmt.Errorf("%w: CDR sequence of %d elements overruns message", pipeline.ErrSourceFormat, n)
		return 0
	}
	return n
}

func (r *cdrReader) string() string {
	n := r.length(1)
	b := r.take(n)
	return string(bytes.TrimRight(b, "\x00"))
}

// DecodePointCloud2CDR decodes a CDR-serialized sensor_msgs/msg/PointCloud2
// as stored in ROS 2 bags.
func DecodePointCloud2CDR(data []byte, msgType string) (*source.PointRecord, error) {
	if msgType != PointCloud2CDRType {
		return nil, fmt.Errorf("%w: expected %s, got %q", pipeline.ErrSourceFormat, PointCloud2CDRType, msgType)
	}
	pc, err := UnmarshalPointCloud2CDR(data)
	if err != nil {
		return nil, err
	}
	return pc.Points()
}

// UnmarshalPointCloud2CDR parses the CDR form of PointCloud2.
func UnmarshalPointCloud2CDR(data []byte) (*PointCloud2, error) {
	r, err := newCDRReader(data)
	if err != nil {
		return nil, err
	}
	pc := &PointCloud2{}
	pc.Header.Stamp.Secs = int64(int32(r.uint32()))
	pc.Header.Stamp.Nsecs = int64(r.uint32())
	pc.Header.FrameID = r.string()
	pc.Height = r.uint32()
	pc.Width = r.uint32()

	// Each PointField takes at least 13 bytes.
	nfields := r.length(13)
	for i := 0; i < nfields && r.err == nil; i++ {
		var f PointField
		f.Name = r.string()
		f.Offset = r.uint32()
		f.Datatype = r.uint8()
		f.Count = r.uint32()
		pc.Fields = append(pc.Fields, f)
	}
	pc.IsBigendian = Bool(r.uint8() != 0)
	pc.PointStep = r.uint32()
	pc.RowStep = r.uint32()
	n := r.length(1)
	if b := r.take(n); b != nil {
		pc.Data = append(Bytes(nil), b...)
	}
	pc.IsDense = Bool(r.uint8() != 0)
	if r.err != nil {
		return nil, fmt.Errorf("decode %s: %w", PointCloud2CDRType, r.err)
	}
	return pc, nil
}

// cdrWriter builds a little-endian CDR payload.
type cdrWriter struct {
	buf []byte
}

func (w *cdrWriter) align(n int) {
	for len(w.buf)%n != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *cdrWriter) uint8(v uint8) { w.buf = append(w.buf, v) }

func (w *cdrWriter) uint32(v uint32) {
	w.align(4)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *cdrWriter) string(s string) {
	w.uint32(uint32(len(s) + 1))
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

func boolByte(b Bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// MarshalCDR serializes pc as a little-endian CDR message with its
// encapsulation header.
func (pc *PointCloud2) MarshalCDR() []byte {
	w := &cdrWriter{}
	w.uint32(uint32(int32(pc.Header.Stamp.Secs)))
	w.uint32(uint32(pc.Header.Stamp.Nsecs))
	w.string(pc.Header.FrameID)
	w.uint32(pc.Height)
	w.uint32(pc.Width)
	w.uint32(uint32(len(pc.Fields)))
	for _, f := range pc.Fields {
		w.string(f.Name)
		w.uint32(f.Offset)
		w.uint8(f.Datatype)
		w.uint32(f.Count)
	}
	w.uint8(boolByte(pc.IsBigendian))
	w.uint32(pc.PointStep)
	w.uint32(pc.RowStep)
	w.uint32(uint32(len(pc.Data)))
	w.buf = append(w.buf, pc.Data...)
	w.uint8(boolByte(pc.IsDense))
	return append([]byte{0x00, cdrLE, 0x00, 0x00}, w.buf...)
}
