package pcap

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/lidar/parse"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/source"
)

var captureStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func udpFrame(t *testing.T, dstPort int, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(192, 168, 1, 201),
		DstIP:    net.IPv4(192, 168, 1, 100),
	}
	udp := &layers.UDP{SrcPort: 10000, DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

type capturedPacket struct {
	port    int
	payload []byte
}

func lidarPacket(azimuth uint16) []byte {
	return parse.EncodePacket(parse.UniformBlocks(azimuth, 20, 2500, 40), 600, captureStart)
}

func ci(i int, n int) gopacket.CaptureInfo {
	return gopacket.CaptureInfo{
		Timestamp:     captureStart.Add(time.Duration(i) * time.Millisecond),
		CaptureLength: n,
		Length:        n,
	}
}

func writePcap(t *testing.T, packets []capturedPacket) []byte {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i, p := range packets {
		data := udpFrame(t, p.port, p.payload)
		require.NoError(t, w.WritePacket(ci(i, len(data)), data))
	}
	return out.Bytes()
}

func writePcapNg(t *testing.T, packets []capturedPacket) []byte {
	t.Helper()
	var out bytes.Buffer
	w, err := pcapgo.NewNgWriter(&out, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for i, p := range packets {
		data := udpFrame(t, p.port, p.payload)
		require.NoError(t, w.WritePacket(ci(i, len(data)), data))
	}
	require.NoError(t, w.Flush())
	return out.Bytes()
}

// Two rotations: azimuth wraps between the fourth and fifth lidar packets.
func twoRotations() []capturedPacket {
	return []capturedPacket{
		{2368, lidarPacket(0)},
		{2368, lidarPacket(9000)},
		{5353, []byte("not lidar")},
		{2368, lidarPacket(18000)},
		{2368, lidarPacket(27000)},
		{2368, lidarPacket(100)},
		{2368, []byte{0x01, 0x02}},
		{2368, lidarPacket(9100)},
	}
}

func readAll(t *testing.T, src source.Source) []source.Record {
	t.Helper()
	var out []source.Record
	for {
		rec, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestSourceGroupsRotations(t *testing.T) {
	src, err := NewSource(bytes.NewReader(writePcap(t, twoRotations())), 2368)
	require.NoError(t, err)
	defer src.Close()

	recs := readAll(t, src)
	require.Len(t, recs, 2)

	assert.Equal(t, "udp:2368", recs[0].Topic)
	assert.Equal(t, MessageType, recs[0].MsgType)
	assert.Equal(t, captureStart.UnixNano(), recs[0].Timestamp)
	// Fifth written packet (index 5) opens the second rotation.
	assert.Equal(t, captureStart.Add(5*time.Millisecond).UnixNano(), recs[1].Timestamp)

	first, err := SplitPayloads(recs[0].Data)
	require.NoError(t, err)
	assert.Len(t, first, 4)
	second, err := SplitPayloads(recs[1].Data)
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

func TestSourceReadsPcapNg(t *testing.T) {
	src, err := NewSource(bytes.NewReader(writePcapNg(t, twoRotations())), 2368)
	require.NoError(t, err)
	assert.Len(t, readAll(t, src), 2)
}

func TestSourceOtherPort(t *testing.T) {
	src, err := NewSource(bytes.NewReader(writePcap(t, twoRotations())), 2369)
	require.NoError(t, err)
	assert.Empty(t, readAll(t, src))
}

func TestNewSourceRejectsGarbage(t *testing.T) {
	_, err := NewSource(bytes.NewReader([]byte("this is not a capture file")), 2368)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrSourceFormat)

	_, err = NewSource(bytes.NewReader(nil), 2368)
	assert.ErrorIs(t, err, pipeline.ErrSourceFormat)
}

func TestSourceHonoursContext(t *testing.T) {
	src, err := NewSource(bytes.NewReader(writePcap(t, twoRotations())), 2368)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSplitPayloadsTruncated(t *testing.T) {
	_, err := SplitPayloads([]byte{0x05, 0x00, 0x00, 0x00, 0x01})
	assert.ErrorIs(t, err, pipeline.ErrSourceFormat)
	_, err = SplitPayloads([]byte{0x05, 0x00})
	assert.ErrorIs(t, err, pipeline.ErrSourceFormat)

	out, err := SplitPayloads(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDecoderProducesPoints(t *testing.T) {
	src, err := NewSource(bytes.NewReader(writePcap(t, twoRotations())), 2368)
	require.NoError(t, err)
	recs := readAll(t, src)
	require.NotEmpty(t, recs)

	reg := source.NewRegistry()
	Register(reg, parse.SyntheticPandar40PConfig())

	pr, err := reg.Decode(recs[0].Data, recs[0].MsgType)
	require.NoError(t, err)
	require.NoError(t, pr.Validate())
	assert.Equal(t, Fields, pr.Fields)
	assert.Equal(t, 4*parse.BLOCKS_PER_PACKET*parse.CHANNELS_PER_BLOCK, pr.Len())

	dist, ok := pr.Channel("distance")
	require.True(t, ok)
	assert.InDelta(t, 10.0, dist[0], 1e-9)
	intensity, _ := pr.Channel("intensity")
	assert.Equal(t, 40.0, intensity[0])
	ring, _ := pr.Channel("ring")
	assert.Equal(t, 1.0, ring[0])
	assert.Equal(t, 40.0, ring[39])
}

func TestDecoderRejectsWrongType(t *testing.T) {
	d := &Decoder{Parser: parse.NewPandar40PParser(*parse.SyntheticPandar40PConfig())}
	_, err := d.Decode(nil, "sensor_msgs/PointCloud2")
	assert.ErrorIs(t, err, pipeline.ErrSourceFormat)

	pr, err := d.Decode(nil, MessageType)
	require.NoError(t, err)
	assert.Equal(t, 0, pr.Len())
}
