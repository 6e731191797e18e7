// Package pcap replays Hesai Pandar40P captures (pcap or pcapng) as a
// source of rotation records.
package pcap

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/lidar/parse"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/logging"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/source"
)

// MessageType is the record type emitted for Pandar40P rotations.
const MessageType = "hesai/pandar40p"

// Topic returns the synthetic topic name used for a UDP port.
func Topic(port int) string { return fmt.Sprintf("udp:%d", port) }

// pcapng section header block magic.
var ngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Source groups the UDP payloads of a capture into one record per sensor
// rotation. A new rotation starts when the first-block azimuth of a packet
// is lower than that of the previous packet. The record timestamp is the
// capture time of its first packet in nanoseconds.
type Source struct {
	r      packetReader
	closer io.Closer
	port   int

	pending     [][]byte
	pendingTime int64
	lastAzimuth int
	done        bool

	packets  int
	skipped  int
	rotation int
}

// Open opens a pcap or pcapng file.
func Open(path string, udpPort int) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open capture: %w", pipeline.ErrIO, err)
	}
	src, err := NewSource(f, udpPort)
	if err != nil {
		f.Close()
		return nil, err
	}
	src.closer = f
	return src, nil
}

// NewSource reads a capture from r, detecting pcap or pcapng by magic.
func NewSource(r io.Reader, udpPort int) (*Source, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("%w: read capture magic: %w", pipeline.ErrSourceFormat, err)
	}

	var pr packetReader
	if bytes.Equal(magic, ngMagic) {
		pr, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		pr, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open capture: %w", pipeline.ErrSourceFormat, err)
	}
	return &Source{r: pr, port: udpPort, lastAzimuth: -1}, nil
}

func (s *Source) flush() source.Record {
	var buf bytes.Buffer
	for _, p := range s.pending {
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(p)))
		buf.Write(n[:])
		buf.Write(p)
	}
	rec := source.Record{
		Timestamp: s.pendingTime,
		Topic:     Topic(s.port),
		MsgType:   MessageType,
		Data:      buf.Bytes(),
	}
	s.rotation++
	logging.Diagf("pcap: rotation %d: %d packets at %d", s.rotation, len(s.pending), s.pendingTime)
	s.pending = nil
	return rec
}

// udpPayload returns the payload of a UDP datagram addressed to the port.
func (s *Source) udpPayload(data []byte) []byte {
	packet := gopacket.NewPacket(data, s.r.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok || int(udp.DstPort) != s.port || len(udp.Payload) == 0 {
		return nil
	}
	return append([]byte(nil), udp.Payload...)
}

// Next returns the next complete rotation, or io.EOF.
func (s *Source) Next(ctx context.Context) (source.Record, error) {
	for !s.done {
		if err := ctx.Err(); err != nil {
			return source.Record{}, err
		}
		data, ci, err := s.r.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.done = true
				break
			}
			return source.Record{}, fmt.Errorf("%w: read packet %d: %w", pipeline.ErrSourceFormat, s.packets+1, err)
		}
		s.packets++

		payload := s.udpPayload(data)
		if payload == nil {
			continue
		}
		az, err := parse.PacketAzimuth(payload)
		if err != nil {
			s.skipped++
			logging.Tracef("pcap: skipping packet %d: %v", s.packets, err)
			continue
		}

		var rec source.Record
		emit := len(s.pending) > 0 && int(az) < s.lastAzimuth
		if emit {
			rec = s.flush()
		}
		if len(s.pending) == 0 {
			s.pendingTime = ci.Timestamp.UnixNano()
		}
		s.pending = append(s.pending, payload)
		s.lastAzimuth = int(az)
		if emit {
			return rec, nil
		}
	}
	if len(s.pending) > 0 {
		return s.flush(), nil
	}
	if s.skipped > 0 {
		logging.Opsf("pcap: skipped %d non-Pandar40P packets on port %d", s.skipped, s.port)
		s.skipped = 0
	}
	return source.Record{}, io.EOF
}

// Close closes the underlying file, if any.
func (s *Source) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// SplitPayloads splits a rotation record into its UDP payloads.
func SplitPayloads(data []byte) ([][]byte, error) {
	var out [][]byte
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: truncated payload length", pipeline.ErrSourceFormat)
		}
		n := int(binary.LittleEndian.Uint32(data))
		data = data[4:]
		if n > len(data) {
			return nil, fmt.Errorf("%w: payload length %d exceeds remaining %d bytes", pipeline.ErrSourceFormat, n, len(data))
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out, nil
}

// Fields lists the channels produced by Decoder, in order.
var Fields = []string{"x", "y", "z", "intensity", "distance", "azimuth", "elevation", "ring"}

// Decoder turns rotation records into point records using a Pandar40P parser.
type Decoder struct {
	Parser *parse.Pandar40PParser
}

// Decode implements source.Decoder.
func (d *Decoder) Decode(data []byte, msgType string) (*source.PointRecord, error) {
	if msgType != MessageType {
		return nil, fmt.Errorf("%w: expected %s, got %q", pipeline.ErrSourceFormat, MessageType, msgType)
	}
	payloads, err := SplitPayloads(data)
	if err != nil {
		return nil, err
	}
	pr := source.NewPointRecord(Fields...)
	for i, p := range payloads {
		points, _, err := d.Parser.ParsePacket(p)
		if err != nil {
			return nil, fmt.Errorf("%w: packet %d: %w", pipeline.ErrSourceFormat, i, err)
		}
		for _, pt := range points {
			pr.Channels["x"] = append(pr.Channels["x"], pt.X)
			pr.Channels["y"] = append(pr.Channels["y"], pt.Y)
			pr.Channels["z"] = append(pr.Channels["z"], pt.Z)
			pr.Channels["intensity"] = append(pr.Channels["intensity"], float64(pt.Intensity))
			pr.Channels["distance"] = append(pr.Channels["distance"], pt.Distance)
			pr.Channels["azimuth"] = append(pr.Channels["azimuth"], pt.Azimuth)
			pr.Channels["elevation"] = append(pr.Channels["elevation"], pt.Elevation)
			pr.Channels["ring"] = append(pr.Channels["ring"], float64(pt.Channel))
		}
	}
	for _, f := range Fields {
		if pr.Channels[f] == nil {
			pr.Channels[f] = []float64{}
		}
	}
	return pr, nil
}

// Register adds a Pandar40P decoder using config to reg.
func Register(reg *source.Registry, config *parse.Pandar40PConfig) {
	reg.Register(MessageType, &Decoder{Parser: parse.NewPandar40PParser(*config)})
}
