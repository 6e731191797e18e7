package ros

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/source"
)

func testCloud() *source.PointRecord {
	pr := source.NewPointRecord("x", "y", "z", "intensity")
	pr.Channels["x"] = []float64{1, 2, 3}
	pr.Channels["y"] = []float64{-1, 0.5, 0}
	pr.Channels["z"] = []float64{0, 3, -2}
	pr.Channels["intensity"] = []float64{10, 150, 0}
	return pr
}

func TestPointCloud2CDRRoundTrip(t *testing.T) {
	pc := NewPointCloud2(testCloud())
	pc.Header.Stamp.Secs = 12
	pc.Header.Stamp.Nsecs = 5
	pc.Header.FrameID = "os_sensor"

	data := pc.MarshalCDR()
	assert.Equal(t, []byte{0x00, 0x01, 0x00, 0x00}, data[:4])

	got, err := UnmarshalPointCloud2CDR(data)
	require.NoError(t, err)
	assert.Equal(t, pc, got)

	pr, err := DecodePointCloud2CDR(data, PointCloud2CDRType)
	require.NoError(t, err)
	assert.Equal(t, testCloud().Channels, pr.Channels)
}

func TestDecodePointCloud2CDRRejectsBadInput(t *testing.T) {
	data := NewPointCloud2(testCloud()).MarshalCDR()

	_, err := DecodePointCloud2CDR(data, PointCloud2Type)
	assert.ErrorIs(t, err, pipeline.ErrSourceFormat, "ROS 1 type name")

	_, err = DecodePointCloud2CDR(data[:len(data)-10], PointCloud2CDRType)
	assert.ErrorIs(t, err, pipeline.ErrSourceFormat, "truncated")

	_, err = DecodePointCloud2CDR([]byte{0x00, 0x01}, PointCloud2CDRType)
	assert.ErrorIs(t, err, pipeline.ErrSourceFormat, "no header")

	bad := append([]byte{0x00, 0x07, 0x00, 0x00}, data[4:]...)
	_, err = DecodePointCloud2CDR(bad, PointCloud2CDRType)
	assert.ErrorIs(t, err, pipeline.ErrSourceFormat, "unknown encapsulation")
}

func TestRegisterHandlesBothBagVersions(t *testing.T) {
	reg := source.NewRegistry()
	Register(reg)
	assert.ElementsMatch(t, []string{PointCloud2Type, PointCloud2CDRType}, reg.Types())

	pr, err := reg.Decode(NewPointCloud2(testCloud()).MarshalCDR(), PointCloud2CDRType)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 150, 0}, pr.Channels["intensity"])
}
