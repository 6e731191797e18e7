package parse

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Pandar40PConfig holds the per-channel calibration of one sensor unit.
type Pandar40PConfig struct {
	AngleCorrections    [CHANNELS_PER_BLOCK]AngleCorrection    // Per-channel angle calibration data
	FiretimeCorrections [CHANNELS_PER_BLOCK]FiretimeCorrection // Per-channel timing calibration data
}

// AngleCorrection contains the angular calibration parameters for each laser channel
type AngleCorrection struct {
	Channel   int     // Laser channel number (1-40)
	Elevation float64 // Vertical angle in degrees
	Azimuth   float64 // Horizontal offset in degrees
}

// FiretimeCorrection contains timing calibration for each laser channel
type FiretimeCorrection struct {
	Channel  int     // Laser channel number (1-40)
	FireTime float64 // Microseconds relative to block start
}

// LoadPandar40PConfig loads calibration from the two Hesai CSV files shipped
// with each sensor ("Channel,Elevation,Azimuth" and "Channel,fire time(us)").
func LoadPandar40PConfig(anglePath, firetimePath string) (*Pandar40PConfig, error) {
	config := &Pandar40PConfig{}

	af, err := os.Open(anglePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open angle correction file: %w", err)
	}
	defer af.Close()
	if err := ParseAngleCorrections(af, config); err != nil {
		return nil, fmt.Errorf("%s: %w", anglePath, err)
	}

	ff, err := os.Open(firetimePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open firetime correction file: %w", err)
	}
	defer ff.Close()
	if err := ParseFiretimeCorrections(ff, config); err != nil {
		return nil, fmt.Errorf("%s: %w", firetimePath, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func readRecords(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	return records, nil
}

// ParseAngleCorrections reads "Channel,Elevation,Azimuth" rows into config.
func ParseAngleCorrections(r io.Reader, config *Pandar40PConfig) error {
	records, err := readRecords(r)
	if err != nil {
		return err
	}
	if len(records) < 2 {
		return fmt.Errorf("insufficient data in angle correction file")
	}

	header := records[0]
	if len(header) != 3 ||
		strings.ToLower(strings.TrimPrefix(header[0], "\ufeff")) != "channel" ||
		strings.ToLower(header[1]) != "elevation" ||
		strings.ToLower(header[2]) != "azimuth" {
		return fmt.Errorf("invalid header in angle correction file, expected: Channel,Elevation,Azimuth")
	}

	for i, record := range records[1:] {
		if len(record) != 3 {
			return fmt.Errorf("invalid record at line %d: expected 3 fields", i+2)
		}
		channel, err := strconv.Atoi(record[0])
		if err != nil {
			return fmt.Errorf("invalid channel number at line %d: %w", i+2, err)
		}
		elevation, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return fmt.Errorf("invalid elevation at line %d: %w", i+2, err)
		}
		azimuth, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return fmt.Errorf("invalid azimuth at line %d: %w", i+2, err)
		}
		if channel < 1 || channel > CHANNELS_PER_BLOCK {
			return fmt.Errorf("channel number %d out of range (1-%d) at line %d", channel, CHANNELS_PER_BLOCK, i+2)
		}
		config.AngleCorrections[channel-1] = AngleCorrection{Channel: channel, Elevation: elevation, Azimuth: azimuth}
	}
	return nil
}

// ParseFiretimeCorrections reads "Channel,fire time" rows into config.
func ParseFiretimeCorrections(r io.Reader, config *Pandar40PConfig) error {
	records, err := readRecords(r)
	if err != nil {
		return err
	}
	if len(records) < 2 {
		return fmt.Errorf("insufficient data in firetime correction file")
	}

	header := records[0]
	if len(header) != 2 ||
		strings.ToLower(strings.TrimPrefix(header[0], "\ufeff")) != "channel" ||
		!strings.Contains(strings.ToLower(header[1]), "fire time") {
		return fmt.Errorf("invalid header in firetime correction file, expected: Channel,fire time")
	}

	for i, record := range records[1:] {
		if len(record) != 2 {
			return fmt.Errorf("invalid record at line %d: expected 2 fields", i+2)
		}
		channel, err := strconv.Atoi(record[0])
		if err != nil {
			return fmt.Errorf("invalid channel number at line %d: %w", i+2, err)
		}
		fireTime, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return fmt.Errorf("invalid fire time at line %d: %w", i+2, err)
		}
		if channel < 1 || channel > CHANNELS_PER_BLOCK {
			return fmt.Errorf("channel number %d out of range (1-%d) at line %d", channel, CHANNELS_PER_BLOCK, i+2)
		}
		config.FiretimeCorrections[channel-1] = FiretimeCorrection{Channel: channel, FireTime: fireTime}
	}
	return nil
}

// Validate checks that every channel has both corrections.
func (config *Pandar40PConfig) Validate() error {
	for i := 0; i < CHANNELS_PER_BLOCK; i++ {
		if config.AngleCorrections[i].Channel == 0 {
			return fmt.Errorf("missing angle correction for channel %d", i+1)
		}
		if config.FiretimeCorrections[i].Channel == 0 {
			return fmt.Errorf("missing firetime correction for channel %d", i+1)
		}
	}
	return nil
}

// SyntheticPandar40PConfig returns a calibration with elevations spread
// evenly from +15 to -25 degrees, no azimuth offsets and no firetime
// offsets. It is used to generate and replay synthetic captures.
func SyntheticPandar40PConfig() *Pandar40PConfig {
	config := &Pandar40PConfig{}
	for i := 0; i < CHANNELS_PER_BLOCK; i++ {
		config.AngleCorrections[i] = AngleCorrection{Channel: i + 1, Elevation: 15 - float64(i)}
		config.FiretimeCorrections[i] = FiretimeCorrection{Channel: i + 1}
	}
	return config
}
