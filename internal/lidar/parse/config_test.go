package parse

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func angleCSV(n int) string {
	var b strings.Builder
	b.WriteString("Channel,Elevation,Azimuth\n")
	for ch := 1; ch <= n; ch++ {
		fmt.Fprintf(&b, "%d,%.3f,%.3f\n", ch, 15-float64(ch-1), 0.5)
	}
	return b.String()
}

func firetimeCSV(n int) string {
	var b strings.Builder
	b.WriteString("Channel,fire time(us)\n")
	for ch := 1; ch <= n; ch++ {
		fmt.Fprintf(&b, "%d,%.2f\n", ch, -42.22+float64(ch))
	}
	return b.String()
}

func TestLoadPandar40PConfig(t *testing.T) {
	dir := t.TempDir()
	anglePath := filepath.Join(dir, "Pandar40P_Angle Correction File.csv")
	firePath := filepath.Join(dir, "Pandar40P_Firetime Correction File.csv")
	require.NoError(t, os.WriteFile(anglePath, []byte(angleCSV(40)), 0o644))
	require.NoError(t, os.WriteFile(firePath, []byte(firetimeCSV(40)), 0o644))

	cfg, err := LoadPandar40PConfig(anglePath, firePath)
	require.NoError(t, err)
	assert.Equal(t, AngleCorrection{Channel: 1, Elevation: 15, Azimuth: 0.5}, cfg.AngleCorrections[0])
	assert.Equal(t, 40, cfg.FiretimeCorrections[39].Channel)
	assert.InDelta(t, -2.22, cfg.FiretimeCorrections[39].FireTime, 1e-9)
}

func TestLoadPandar40PConfigIncomplete(t *testing.T) {
	dir := t.TempDir()
	anglePath := filepath.Join(dir, "angle.csv")
	firePath := filepath.Join(dir, "fire.csv")
	require.NoError(t, os.WriteFile(anglePath, []byte(angleCSV(39)), 0o644))
	require.NoError(t, os.WriteFile(firePath, []byte(firetimeCSV(40)), 0o644))

	_, err := LoadPandar40PConfig(anglePath, firePath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel 40")

	_, err = LoadPandar40PConfig(filepath.Join(dir, "missing.csv"), firePath)
	assert.Error(t, err)
}

func TestParseAngleCorrectionsErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"header only", "Channel,Elevation,Azimuth\n"},
		{"bad header", "Chan,Elev,Az\n1,2,3\n"},
		{"bad channel", "Channel,Elevation,Azimuth\nx,2,3\n"},
		{"bad elevation", "Channel,Elevation,Azimuth\n1,y,3\n"},
		{"channel out of range", "Channel,Elevation,Azimuth\n41,2,3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ParseAngleCorrections(strings.NewReader(tt.input), &Pandar40PConfig{}))
		})
	}
}

func TestParseFiretimeCorrectionsErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bad header", "Channel,delay\n1,2\n"},
		{"bad value", "Channel,fire time(us)\n1,abc\n"},
		{"channel zero", "Channel,fire time(us)\n0,1.0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ParseFiretimeCorrections(strings.NewReader(tt.input), &Pandar40PConfig{}))
		})
	}
}

func TestParseAngleCorrectionsBOM(t *testing.T) {
	cfg := &Pandar40PConfig{}
	require.NoError(t, ParseAngleCorrections(strings.NewReader("\ufeffChannel,Elevation,Azimuth\n1,2,3\n"), cfg))
	assert.Equal(t, 2.0, cfg.AngleCorrections[0].Elevation)
}

func TestSyntheticConfigValid(t *testing.T) {
	assert.NoError(t, SyntheticPandar40PConfig().Validate())
	assert.Error(t, (&Pandar40PConfig{}).Validate())
}
