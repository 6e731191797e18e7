package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/dataset"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/fsutil"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pcd"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/ros"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/source"
)

const (
	topic = "/ouster_points"
	out   = "/out"
)

func cloudRecord(t *testing.T, ts int64, recTopic string, fields []string, rows ...[]float64) source.Record {
	t.Helper()
	pr := source.NewPointRecord(fields...)
	for _, row := range rows {
		for i, f := range fields {
			pr.Channels[f] = append(pr.Channels[f], row[i])
		}
	}
	data, err := json.Marshal(ros.NewPointCloud2(pr))
	require.NoError(t, err)
	return source.Record{Timestamp: ts, Topic: recTopic, MsgType: ros.PointCloud2Type, Data: data}
}

var xyzi = []string{"x", "y", "z", "intensity"}

func newExtractor(t *testing.T, mfs *fsutil.MemoryFileSystem, writePCD bool) *Extractor {
	t.Helper()
	reg := source.NewRegistry()
	ros.Register(reg)
	e, err := New(Options{
		OutputDir:      out,
		Topic:          topic,
		IntensityField: "intensity",
		WritePCD:       writePCD,
		PCDFormat:      pcd.Binary,
		Registry:       reg,
		FS:             mfs,
	})
	require.NoError(t, err)
	return e
}

func readCoord(t *testing.T, mfs *fsutil.MemoryFileSystem, ts string) []r3.Vector {
	t.Helper()
	data, err := mfs.ReadFile(filepath.Join(out, "npy", "coord", "pointcloud_"+ts+".npy"))
	require.NoError(t, err)
	coords, err := dataset.DecodeCoord(data)
	require.NoError(t, err)
	return coords
}

func readStrength(t *testing.T, mfs *fsutil.MemoryFileSystem, ts string) *dataset.StrengthArray {
	t.Helper()
	data, err := mfs.ReadFile(filepath.Join(out, "npy", "strength", "intensity_"+ts+".npy"))
	require.NoError(t, err)
	st, err := dataset.DecodeStrength(data)
	require.NoError(t, err)
	return st
}

func TestRunWritesFrames(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	e := newExtractor(t, mfs, true)
	nan := math.NaN()

	src := source.NewSliceSource(
		cloudRecord(t, 100, topic, xyzi, []float64{0, 0, 0, 10}, []float64{1, 2, 3, 20}),
		cloudRecord(t, 150, "/imu", xyzi, []float64{9, 9, 9, 9}),
		cloudRecord(t, 200, topic, xyzi,
			[]float64{1, 1, 1, 5},
			[]float64{nan, 0, 0, 6},
			[]float64{2, 2, 2, nan},
			[]float64{3, 3, 3, 7}),
	)

	res, err := e.Run(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, res.HasIssues())
	assert.Equal(t, 3, res.RecordsSeen)
	assert.Equal(t, 1, res.RecordsIgnored)
	assert.Equal(t, 2, res.FramesWritten)
	assert.Equal(t, 2, res.PointsDropped)
	assert.Equal(t, 4, res.PointsWritten)

	if diff := cmp.Diff([]r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 2, Z: 3}}, readCoord(t, mfs, "100")); diff != "" {
		t.Errorf("coords mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []r3.Vector{{X: 1, Y: 1, Z: 1}, {X: 3, Y: 3, Z: 3}}, readCoord(t, mfs, "200"))

	st := readStrength(t, mfs, "200")
	assert.True(t, st.Column)
	assert.Equal(t, []float64{5, 7}, st.Values)

	pcdData, err := mfs.ReadFile(filepath.Join(out, "pcd", "pointcloud_200.pcd"))
	require.NoError(t, err)
	pts, err := pcd.Read(bytes.NewReader(pcdData))
	require.NoError(t, err)
	assert.Len(t, pts, 2)

	assert.False(t, mfs.Exists(filepath.Join(out, "npy", "coord", "pointcloud_150.npy")))
}

func TestRunWithoutPCD(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	e := newExtractor(t, mfs, false)
	_, err := e.Run(context.Background(), source.NewSliceSource(cloudRecord(t, 1, topic, xyzi, []float64{1, 2, 3, 4})))
	require.NoError(t, err)
	assert.False(t, mfs.Exists(filepath.Join(out, "pcd")))
	assert.Equal(t, []float64{4}, readStrength(t, mfs, "1").Values)
}

func TestRunReportsBadRecords(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	e := newExtractor(t, mfs, true)
	nan := math.NaN()

	src := source.NewSliceSource(
		source.Record{Timestamp: 1, Topic: topic, MsgType: ros.PointCloud2Type, Data: []byte("{not json")},
		source.Record{Timestamp: 2, Topic: topic, MsgType: "sensor_msgs/Imu", Data: []byte("{}")},
		cloudRecord(t, 3, topic, []string{"x", "y", "z"}, []float64{1, 2, 3}),
		cloudRecord(t, 4, topic, xyzi, []float64{nan, 0, 0, 1}),
		cloudRecord(t, 5, topic, xyzi, []float64{1, 1, 1, 1}),
		cloudRecord(t, 5, topic, xyzi, []float64{2, 2, 2, 2}),
	)

	res, err := e.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FramesWritten)
	assert.Equal(t, 5, res.FramesSkipped)
	require.Len(t, res.Issues, 5)
	for i, issue := range res.Issues[:4] {
		assert.ErrorIs(t, issue, pipeline.ErrSourceFormat, "issue %d", i)
		assert.Equal(t, StageName, issue.Stage)
	}
	assert.ErrorIs(t, res.Issues[4], pipeline.ErrReference)
	assert.Equal(t, "5", res.Issues[4].Timestamp)
	assert.Equal(t, pipeline.ExitIssues, res.ExitCode())

	// First record for a duplicated timestamp wins.
	assert.Equal(t, []r3.Vector{{X: 1, Y: 1, Z: 1}}, readCoord(t, mfs, "5"))
	for _, ts := range []string{"1", "2", "3", "4"} {
		assert.False(t, mfs.Exists(filepath.Join(out, "npy", "coord", "pointcloud_"+ts+".npy")), ts)
		assert.False(t, mfs.Exists(filepath.Join(out, "npy", "strength", "intensity_"+ts+".npy")), ts)
	}
}

func TestRunReportsUnreadableRecords(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	e := newExtractor(t, mfs, false)
	readErr := fmt.Errorf("%w: decode bag message: unexpected '}'", pipeline.ErrSourceFormat)

	src := source.NewSliceSource(
		cloudRecord(t, 10, topic, xyzi, []float64{1, 1, 1, 1}),
		source.Record{Timestamp: 20, Topic: topic, MsgType: ros.PointCloud2Type, Err: readErr},
		source.Record{Timestamp: 25, Topic: "/imu", Err: readErr},
		source.Record{Err: readErr},
		cloudRecord(t, 30, topic, xyzi, []float64{2, 2, 2, 2}),
	)

	res, err := e.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, res.FramesWritten)
	assert.Equal(t, 2, res.FramesSkipped)
	assert.Equal(t, 1, res.RecordsIgnored)
	require.Len(t, res.Issues, 2)
	assert.ErrorIs(t, res.Issues[0], pipeline.ErrSourceFormat)
	assert.Equal(t, "20", res.Issues[0].Timestamp)
	assert.Equal(t, "0", res.Issues[1].Timestamp)

	assert.Equal(t, []r3.Vector{{X: 1, Y: 1, Z: 1}}, readCoord(t, mfs, "10"))
	assert.Equal(t, []r3.Vector{{X: 2, Y: 2, Z: 2}}, readCoord(t, mfs, "30"))
}

func TestRunTimestampFreeAfterFailedRecord(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	e := newExtractor(t, mfs, false)

	src := source.NewSliceSource(
		source.Record{Timestamp: 7, Topic: topic, MsgType: ros.PointCloud2Type, Data: []byte("{broken")},
		cloudRecord(t, 7, topic, xyzi, []float64{4, 5, 6, 9}),
		cloudRecord(t, 7, topic, xyzi, []float64{0, 0, 0, 0}),
	)

	res, err := e.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FramesWritten)
	require.Len(t, res.Issues, 2)
	assert.ErrorIs(t, res.Issues[0], pipeline.ErrSourceFormat)
	assert.ErrorIs(t, res.Issues[1], pipeline.ErrReference)
	assert.Equal(t, []r3.Vector{{X: 4, Y: 5, Z: 6}}, readCoord(t, mfs, "7"))
}

func TestRunRemovesPartialFrame(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	mfs.FailWrites = func(name string) bool { return strings.Contains(name, "intensity_7") }
	e := newExtractor(t, mfs, true)

	res, err := e.Run(context.Background(), source.NewSliceSource(
		cloudRecord(t, 7, topic, xyzi, []float64{1, 2, 3, 4}),
		cloudRecord(t, 8, topic, xyzi, []float64{1, 2, 3, 4}),
	))
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.ErrorIs(t, res.Issues[0], pipeline.ErrIO)
	assert.False(t, mfs.Exists(filepath.Join(out, "npy", "coord", "pointcloud_7.npy")))
	assert.False(t, mfs.Exists(filepath.Join(out, "pcd", "pointcloud_7.pcd")))
	assert.True(t, mfs.Exists(filepath.Join(out, "npy", "coord", "pointcloud_8.npy")))
}

type failingSource struct{ n int }

func (f *failingSource) Next(ctx context.Context) (source.Record, error) {
	f.n++
	if f.n > 1 {
		return source.Record{}, errors.New("corrupt capture")
	}
	return source.Record{Topic: "/other"}, nil
}

func (f *failingSource) Close() error { return nil }

func TestRunSourceErrorIsFatal(t *testing.T) {
	e := newExtractor(t, fsutil.NewMemoryFileSystem(), false)
	res, err := e.Run(context.Background(), &failingSource{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt capture")
	assert.Equal(t, 1, res.RecordsSeen)
}

func TestRunCancelled(t *testing.T) {
	e := newExtractor(t, fsutil.NewMemoryFileSystem(), false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx, source.NewSliceSource(cloudRecord(t, 1, topic, xyzi, []float64{1, 2, 3, 4})))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewValidatesOptions(t *testing.T) {
	reg := source.NewRegistry()
	valid := Options{OutputDir: out, Topic: topic, IntensityField: "intensity", Registry: reg}

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"no output", func(o *Options) { o.OutputDir = "" }},
		{"no topic", func(o *Options) { o.Topic = "" }},
		{"no intensity", func(o *Options) { o.IntensityField = "" }},
		{"no registry", func(o *Options) { o.Registry = nil }},
		{"bad pcd format", func(o *Options) { o.WritePCD = true; o.PCDFormat = "lzf" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid
			tt.mutate(&opts)
			_, err := New(opts)
			assert.Error(t, err)
		})
	}

	_, err := New(valid)
	assert.NoError(t, err)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("/x", "npy", "coord"), CoordDir("/x"))
	assert.Equal(t, filepath.Join("/x", "npy", "strength"), StrengthDir("/x"))
	assert.Equal(t, filepath.Join("/x", "pcd"), PCDDir("/x"))
}
