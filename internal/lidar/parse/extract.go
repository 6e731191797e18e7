// Package parse decodes Hesai Pandar40P UDP packets into calibrated points.
//
// Packet layout (1262 bytes, 1266 with the optional UDP sequence):
//
//	10 data blocks x 124 bytes, starting at offset 0
//	  2-byte preamble (0xFFEE) + 2-byte azimuth + 40 channels x 3 bytes
//	22-byte tail at offset 1240
//	  Reserved(5) HighTemp(1) Reserved(2) MotorSpeed(2) Timestamp(4)
//	  ReturnMode(1) FactoryInfo(1) DateTime(6)
package parse

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Pandar40P LiDAR packet structure constants
const (
	PACKET_SIZE_STANDARD = 1262                                                                          // UDP payload size without sequence
	PACKET_SIZE_SEQUENCE = 1266                                                                          // UDP payload size with 4-byte sequence number
	BLOCKS_PER_PACKET    = 10                                                                            // Data blocks per packet
	CHANNELS_PER_BLOCK   = 40                                                                            // Laser channels per block
	BYTES_PER_CHANNEL    = 3                                                                             // 2 bytes distance + 1 byte reflectivity
	TAIL_START           = 1240                                                                          // Tail offset after 10 x 124-byte blocks
	TAIL_SIZE            = 22                                                                            // Tail size in bytes
	SEQUENCE_SIZE        = 4                                                                             // UDP sequence number size (when enabled)
	BLOCK_PREAMBLE_SIZE  = 2                                                                             // 0xFFEE marker
	AZIMUTH_SIZE         = 2                                                                             // Block azimuth, little-endian
	BLOCK_SIZE           = BLOCK_PREAMBLE_SIZE + AZIMUTH_SIZE + (CHANNELS_PER_BLOCK * BYTES_PER_CHANNEL) // 124 bytes

	DISTANCE_RESOLUTION = 0.004 // Meters per distance LSB
	AZIMUTH_RESOLUTION  = 0.01  // Degrees per azimuth LSB
	ROTATION_MAX_UNITS  = 36000 // Azimuth units in a full rotation
)

// Point is one calibrated laser return.
type Point struct {
	X, Y, Z   float64 // Meters; X right, Y forward, Z up
	Intensity uint8   // Raw reflectivity (0-255)
	Distance  float64 // Meters
	Azimuth   float64 // Corrected azimuth in degrees, [0, 360)
	Elevation float64 // Degrees
	Channel   int     // 1-based laser channel (ring)
	BlockID   int     // Block index within the packet
}

// DataBlock is one of the 10 blocks of a packet.
type DataBlock struct {
	Azimuth  uint16                          // Raw azimuth in 0.01-degree units
	Channels [CHANNELS_PER_BLOCK]ChannelData // Measurement data for all 40 channels
}

// ChannelData is the raw measurement of one laser channel.
type ChannelData struct {
	Distance     uint16 // Raw distance in 4mm units (0 = no return)
	Reflectivity uint8  // Return intensity (0-255)
}

// PacketTail is the 22-byte tail of a packet.
type PacketTail struct {
	HighTempFlag      uint8
	MotorSpeed        uint16   // RPM
	Timestamp         uint32   // Microsecond part of UTC
	ReturnMode        uint8    // 0x37 Strongest, 0x38 Last, 0x39 Last and Strongest
	FactoryInfo       uint8    // 0x42 (or 0x43)
	DateTime          [6]uint8 // [year-2000, month, day, hour, minute, second]
	CombinedTimestamp time.Time
	UDPSequence       uint32 // Present on 1266-byte packets only
}

// Pandar40PParser converts packets into calibrated points.
type Pandar40PParser struct {
	config      Pandar40PConfig
	packetCount int
}

// NewPandar40PParser creates a parser using the given calibration.
func NewPandar40PParser(config Pandar40PConfig) *Pandar40PParser {
	return &Pandar40PParser{config: config}
}

// PacketCount returns the number of packets parsed so far.
func (p *Pandar40PParser) PacketCount() int { return p.packetCount }

func splitPacket(data []byte) (packetData []byte, sequence uint32, err error) {
	switch len(data) {
	case PACKET_SIZE_STANDARD:
		return data, 0, nil
	case PACKET_SIZE_SEQUENCE:
		return data[:len(data)-SEQUENCE_SIZE], binary.LittleEndian.Uint32(data[len(data)-SEQUENCE_SIZE:]), nil
	default:
		return nil, 0, fmt.Errorf("invalid packet size: expected %d or %d, got %d",
			PACKET_SIZE_STANDARD, PACKET_SIZE_SEQUENCE, len(data))
	}
}

// PacketAzimuth returns the raw azimuth of the first block of a packet,
// validating size and preamble. It is used to detect rotation boundaries
// without decoding the whole packet.
func PacketAzimuth(data []byte) (uint16, error) {
	packetData, _, err := splitPacket(data)
	if err != nil {
		return 0, err
	}
	if packetData[0] != 0xFF || packetData[1] != 0xEE {
		return 0, fmt.Errorf("invalid block preamble: expected 0xFFEE, got 0x%02X%02X", packetData[0], packetData[1])
	}
	return binary.LittleEndian.Uint16(packetData[2:4]), nil
}

// ParsePacket parses one UDP payload into points. Channels with a zero
// distance are skipped.
func (p *Pandar40PParser) ParsePacket(data []byte) ([]Point, *PacketTail, error) {
	p.packetCount++

	packetData, sequence, err := splitPacket(data)
	if err != nil {
		return nil, nil, err
	}

	tail, err := parseTail(packetData[TAIL_START:TAIL_START+TAIL_SIZE], sequence)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse tail: %w", err)
	}

	points := make([]Point, 0, BLOCKS_PER_PACKET*CHANNELS_PER_BLOCK)
	for blockIdx := 0; blockIdx < BLOCKS_PER_PACKET; blockIdx++ {
		offset := blockIdx * BLOCK_SIZE
		block, err := parseDataBlock(packetData[offset : offset+BLOCK_SIZE])
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse block %d: %w", blockIdx, err)
		}
		points = p.appendBlockPoints(points, block, blockIdx, tail)
	}
	return points, tail, nil
}

func parseDataBlock(data []byte) (*DataBlock, error) {
	if len(data) < BLOCK_SIZE {
		return nil, fmt.Errorf("insufficient data for block: expected %d bytes, got %d", BLOCK_SIZE, len(data))
	}
	// 0xFFEE on the wire reads as 0xEEFF little-endian.
	if preamble := binary.LittleEndian.Uint16(data[0:2]); preamble != 0xEEFF {
		return nil, fmt.Errorf("invalid block preamble: expected 0xEEFF, got 0x%04X", preamble)
	}

	block := &DataBlock{Azimuth: binary.LittleEndian.Uint16(data[2:4])}
	channelOffset := BLOCK_PREAMBLE_SIZE + AZIMUTH_SIZE
	for i := 0; i < CHANNELS_PER_BLOCK; i++ {
		block.Channels[i] = ChannelData{
			Distance:     binary.LittleEndian.Uint16(data[channelOffset : channelOffset+2]),
			Reflectivity: data[channelOffset+2],
		}
		channelOffset += BYTES_PER_CHANNEL
	}
	return block, nil
}

func parseTail(data []byte, udpSequence uint32) (*PacketTail, error) {
	if len(data) != TAIL_SIZE {
		return nil, fmt.Errorf("invalid tail size: expected %d, got %d", TAIL_SIZE, len(data))
	}
	tail := &PacketTail{
		HighTempFlag: data[5],
		MotorSpeed:   binary.LittleEndian.Uint16(data[8:10]),
		Timestamp:    binary.LittleEndian.Uint32(data[10:14]),
		ReturnMode:   data[14],
		FactoryInfo:  data[15],
		UDPSequence:  udpSequence,
	}
	copy(tail.DateTime[:], data[16:22])

	tail.CombinedTimestamp = time.Date(int(tail.DateTime[0])+2000, time.Month(tail.DateTime[1]), int(tail.DateTime[2]),
		int(tail.DateTime[3]), int(tail.DateTime[4]), int(tail.DateTime[5]),
		int(tail.Timestamp)*1000, time.UTC)
	return tail, nil
}

func (p *Pandar40PParser) appendBlockPoints(points []Point, block *DataBlock, blockIdx int, tail *PacketTail) []Point {
	baseAzimuth := float64(block.Azimuth) * AZIMUTH_RESOLUTION
	// Degrees swept per microsecond at the reported motor speed.
	degPerMicrosecond := (360.0 * float64(tail.MotorSpeed) / 60.0) / 1e6

	for channelIdx := 0; channelIdx < CHANNELS_PER_BLOCK; channelIdx++ {
		ch := block.Channels[channelIdx]
		if ch.Distance == 0 {
			continue
		}

		angle := p.config.AngleCorrections[channelIdx]
		firetime := p.config.FiretimeCorrections[channelIdx]

		azimuth := baseAzimuth + angle.Azimuth + firetime.FireTime*degPerMicrosecond
		azimuth = math.Mod(azimuth, 360)
		if azimuth < 0 {
			azimuth += 360
		}

		distance := float64(ch.Distance) * DISTANCE_RESOLUTION
		azimuthRad := azimuth * math.Pi / 180.0
		elevationRad := angle.Elevation * math.Pi / 180.0
		cosElevation := math.Cos(elevationRad)

		points = append(points, Point{
			X:         distance * cosElevation * math.Sin(azimuthRad),
			Y:         distance * cosElevation * math.Cos(azimuthRad),
			Z:         distance * math.Sin(elevationRad),
			Intensity: ch.Reflectivity,
			Distance:  distance,
			Azimuth:   azimuth,
			Elevation: angle.Elevation,
			Channel:   channelIdx + 1,
			BlockID:   blockIdx,
		})
	}
	return points
}
