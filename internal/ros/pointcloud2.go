package ros

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/source"
)

// PointCloud2Type is the ROS message type handled by DecodePointCloud2.
const PointCloud2Type = "sensor_msgs/PointCloud2"

// sensor_msgs/PointField datatypes.
const (
	Int8    uint8 = 1
	Uint8   uint8 = 2
	Int16   uint8 = 3
	Uint16  uint8 = 4
	Int32   uint8 = 5
	Uint32  uint8 = 6
	Float32 uint8 = 7
	Float64 uint8 = 8
)

// DatatypeSize returns the byte width of a PointField datatype, or 0 when
// the datatype is unknown.
func DatatypeSize(dt uint8) uint32 {
	switch dt {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// Bytes is a uint8[] message field. gobag may emit it either as a base64
// string or as an array of numbers; both are accepted.
type Bytes []byte

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("uint8[] field is not base64: %w", err)
		}
		*b = raw
		return nil
	}
	var nums []uint8
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	*b = nums
	return nil
}

// Bool is a ROS bool, serialised as true/false or 0/1.
type Bool bool

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bool) UnmarshalJSON(data []byte) error {
	s := string(bytes.TrimSpace(data))
	switch s {
	case "true", "1":
		*b = true
	case "false", "0", "null":
		*b = false
	default:
		return fmt.Errorf("invalid bool %s", s)
	}
	return nil
}

// Header is std_msgs/Header.
type Header struct {
	Seq   uint32 `json:"seq"`
	Stamp struct {
		Secs  int64 `json:"secs"`
		Nsecs int64 `json:"nsecs"`
	} `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// PointField is sensor_msgs/PointField.
type PointField struct {
	Name     string `json:"name"`
	Offset   uint32 `json:"offset"`
	Datatype uint8  `json:"datatype"`
	Count    uint32 `json:"count"`
}

// PointCloud2 is sensor_msgs/PointCloud2.
type PointCloud2 struct {
	Header      Header       `json:"header"`
	Height      uint32       `json:"height"`
	Width       uint32       `json:"width"`
	Fields      []PointField `json:"fields"`
	IsBigendian Bool         `json:"is_bigendian"`
	PointStep   uint32       `json:"point_step"`
	RowStep     uint32       `json:"row_step"`
	Data        Bytes        `json:"data"`
	IsDense     Bool         `json:"is_dense"`
}

type fieldReader struct {
	name   string
	offset uint32
	dt     uint8
}

// readers expands fields with count > 1 into name_0, name_1, ...
func (pc *PointCloud2) readers() ([]fieldReader, error) {
	var out []fieldReader
	for _, f := range pc.Fields {
		size := DatatypeSize(f.Datatype)
		if size == 0 {
			return nil, fmt.Errorf("%w: field %q has unknown datatype %d", pipeline.ErrSourceFormat, f.Name, f.Datatype)
		}
		count := f.Count
		if count == 0 {
			count = 1
		}
		if uint64(f.Offset)+uint64(count)*uint64(size) > uint64(pc.PointStep) {
			return nil, fmt.Errorf("%w: field %q (offset %d, count %d) exceeds point_step %d",
				pipeline.ErrSourceFormat, f.Name, f.Offset, count, pc.PointStep)
		}
		for k := uint32(0); k < count; k++ {
			name := f.Name
			if count > 1 {
				name = f.Name + "_" + strconv.Itoa(int(k))
			}
			out = append(out, fieldReader{name: name, offset: f.Offset + k*size, dt: f.Datatype})
		}
	}
	return out, nil
}

func readValue(b []byte, dt uint8, order binary.ByteOrder) float64 {
	switch dt {
	case Int8:
		return float64(int8(b[0]))
	case Uint8:
		return float64(b[0])
	case Int16:
		return float64(int16(order.Uint16(b)))
	case Uint16:
		return float64(order.Uint16(b))
	case Int32:
		return float64(int32(order.Uint32(b)))
	case Uint32:
		return float64(order.Uint32(b))
	case Float32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case Float64:
		return math.Float64frombits(order.Uint64(b))
	}
	return math.NaN()
}

// Points unpacks the binary data into one channel per field.
func (pc *PointCloud2) Points() (*source.PointRecord, error) {
	readers, err := pc.readers()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(readers))
	for i, r := range readers {
		names[i] = r.name
	}
	pr := source.NewPointRecord(names...)

	n := uint64(pc.Height) * uint64(pc.Width)
	if n == 0 {
		for _, name := range names {
			pr.Channels[name] = []float64{}
		}
		return pr, nil
	}
	if pc.PointStep == 0 {
		return nil, fmt.Errorf("%w: point_step is zero for %d points", pipeline.ErrSourceFormat, n)
	}
	rowStep := uint64(pc.RowStep)
	if rowStep < uint64(pc.Width)*uint64(pc.PointStep) {
		return nil, fmt.Errorf("%w: row_step %d smaller than width %d * point_step %d",
			pipeline.ErrSourceFormat, pc.RowStep, pc.Width, pc.PointStep)
	}
	need := (uint64(pc.Height)-1)*rowStep + uint64(pc.Width)*uint64(pc.PointStep)
	if uint64(len(pc.Data)) < need {
		return nil, fmt.Errorf("%w: data has %d bytes, layout needs %d", pipeline.ErrSourceFormat, len(pc.Data), need)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if pc.IsBigendian {
		order = binary.BigEndian
	}

	channels := make([][]float64, len(readers))
	for i := range channels {
		channels[i] = make([]float64, 0, n)
	}
	for row := uint64(0); row < uint64(pc.Height); row++ {
		for col := uint64(0); col < uint64(pc.Width); col++ {
			base := row*rowStep + col*uint64(pc.PointStep)
			for i, r := range readers {
				off := base + uint64(r.offset)
				channels[i] = append(channels[i], readValue(pc.Data[off:off+uint64(DatatypeSize(r.dt))], r.dt, order))
			}
		}
	}
	for i, name := range names {
		pr.Channels[name] = channels[i]
	}
	return pr, nil
}

// DecodePointCloud2 decodes a PointCloud2 message payload in gobag's JSON
// form into a point record.
func DecodePointCloud2(data []byte, msgType string) (*source.PointRecord, error) {
	if msgType != PointCloud2Type {
		return nil, fmt.Errorf("%w: expected %s, got %q", pipeline.ErrSourceFormat, PointCloud2Type, msgType)
	}
	var pc PointCloud2
	if err := json.Unmarshal(data, &pc); err != nil {
		return nil, fmt.Errorf("%w: decode PointCloud2: %w", pipeline.ErrSourceFormat, err)
	}
	return pc.Points()
}

// Register adds the PointCloud2 decoders to reg: gobag JSON for ROS 1 bags
// and CDR for ROS 2 bags.
func Register(reg *source.Registry) {
	reg.Register(PointCloud2Type, source.DecodeFunc(DecodePointCloud2))
	reg.Register(PointCloud2CDRType, source.DecodeFunc(DecodePointCloud2CDR))
}

// NewPointCloud2 packs float32 channels into an unordered (height 1)
// little-endian PointCloud2. Missing channels are written as zero.
func NewPointCloud2(pr *source.PointRecord) *PointCloud2 {
	n := pr.Len()
	pc := &PointCloud2{Height: 1, Width: uint32(n), PointStep: uint32(4 * len(pr.Fields)), IsDense: true}
	pc.RowStep = pc.PointStep * pc.Width
	for i, f := range pr.Fields {
		pc.Fields = append(pc.Fields, PointField{Name: f, Offset: uint32(4 * i), Datatype: Float32, Count: 1})
	}
	pc.Data = make([]byte, int(pc.RowStep))
	for p := 0; p < n; p++ {
		for i, f := range pr.Fields {
			var v float64
			if ch := pr.Channels[f]; p < len(ch) {
				v = ch[p]
			}
			binary.LittleEndian.PutUint32(pc.Data[p*int(pc.PointStep)+4*i:], math.Float32bits(float32(v)))
		}
	}
	return pc
}
