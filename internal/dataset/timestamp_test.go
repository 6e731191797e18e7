package dataset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
)

func TestParseTimestampToken(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		prefix   string
		want     Timestamp
		wantErr  bool
	}{
		{"pointcloud", "pointcloud_1693482000123456789.npy", "pointcloud_", "1693482000123456789", false},
		{"intensity with dir", "/data/npy/strength/intensity_42.npy", "intensity_", "42", false},
		{"no prefix required", "scene_a_17.pcd", "", "17", false},
		{"last underscore wins", "pointcloud_x_99.npy", "pointcloud_", "99", false},
		{"wrong prefix", "intensity_42.npy", "pointcloud_", "", true},
		{"no underscore", "frame42.npy", "", "", true},
		{"empty token", "pointcloud_.npy", "pointcloud_", "", true},
		{"hidden token", "pointcloud_.42.npy", "pointcloud_", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestampToken(tt.filename, tt.prefix)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, pipeline.ErrReference))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSortTimestamps(t *testing.T) {
	ts := []Timestamp{"100", "abc", "20", "0099", "1000000000000000000000", "9", "abd"}
	SortTimestamps(ts)
	assert.Equal(t, []Timestamp{"9", "20", "0099", "100", "1000000000000000000000", "abc", "abd"}, ts)
}

func TestLessEqualValuesDifferentPadding(t *testing.T) {
	assert.True(t, Less("007", "7"))
	assert.False(t, Less("7", "007"))
	assert.False(t, Less("7", "7"))
}
