package parse

import (
	"encoding/binary"
	"time"
)

// EncodePacket builds a 1262-byte Pandar40P payload from raw blocks and tail
// fields. It is the inverse of ParsePacket for synthetic captures.
func EncodePacket(blocks [BLOCKS_PER_PACKET]DataBlock, motorSpeedRPM uint16, ts time.Time) []byte {
	packet := make([]byte, PACKET_SIZE_STANDARD)

	for blockIdx, block := range blocks {
		offset := blockIdx * BLOCK_SIZE
		packet[offset] = 0xFF
		packet[offset+1] = 0xEE
		binary.LittleEndian.PutUint16(packet[offset+2:], block.Azimuth)

		channelOffset := offset + BLOCK_PREAMBLE_SIZE + AZIMUTH_SIZE
		for ch, data := range block.Channels {
			idx := channelOffset + ch*BYTES_PER_CHANNEL
			binary.LittleEndian.PutUint16(packet[idx:], data.Distance)
			packet[idx+2] = data.Reflectivity
		}
	}

	tail := packet[TAIL_START:]
	binary.LittleEndian.PutUint16(tail[8:], motorSpeedRPM)
	ts = ts.UTC()
	binary.LittleEndian.PutUint32(tail[10:], uint32(ts.Nanosecond()/1000))
	tail[14] = 0x37
	tail[15] = 0x42
	tail[16] = uint8(ts.Year() - 2000)
	tail[17] = uint8(ts.Month())
	tail[18] = uint8(ts.Day())
	tail[19] = uint8(ts.Hour())
	tail[20] = uint8(ts.Minute())
	tail[21] = uint8(ts.Second())
	return packet
}

// UniformBlocks returns 10 blocks starting at startAzimuth (raw units) and
// stepping by step, each with every channel at the same raw distance and
// reflectivity.
func UniformBlocks(startAzimuth, step uint16, distance uint16, reflectivity uint8) [BLOCKS_PER_PACKET]DataBlock {
	var blocks [BLOCKS_PER_PACKET]DataBlock
	for i := range blocks {
		blocks[i].Azimuth = uint16((int(startAzimuth) + i*int(step)) % ROTATION_MAX_UNITS)
		for ch := range blocks[i].Channels {
			blocks[i].Channels[ch] = ChannelData{Distance: distance, Reflectivity: reflectivity}
		}
	}
	return blocks
}
